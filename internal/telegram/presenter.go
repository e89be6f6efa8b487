package telegram

import (
	"fmt"
	"strings"
	"unicode/utf16"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/PoluyanbIch/dailyquiz/internal/service"
)

const (
	greetingText = "📘 *Welcome to the Daily Quiz*\n\n" +
		"🔹 *Daily questions* on exam oriented topics\n\n" +
		"✅ Correct Answer: 2 Marks\n" +
		"❌ Negative Marking: \\-1/3 Marks\n" +
		"🚫 Skipped: 0 Marks\n\n" +
		"📝 Timed questions to build exam temperament\n" +
		"📊 Score and Rank for self\\-benchmarking\n" +
		"📖 Simple explanations for concept clarity\n\n" +
		"👇 *Tap below to start today’s quiz*"

	howItWorksText = "ℹ️ *How the Daily Quiz Works*\n\n" +
		"• Exam\\-oriented questions daily\n" +
		"• Timed per question\n" +
		"• Negative marking for wrong answers only\n" +
		"• Leaderboard based on first attempt\n" +
		"• Explanations after completion"

	offensiveReply  = "❌ Please maintain respectful language. Send Hi to start the QUIZ."
	unauthorized    = "❌ You are not authorized to use this command."
	noActiveQuiz    = "ℹ️ You don't have an active quiz right now."
	explainHeader   = "📖 *Simple Explanations*\n\n"
	leaderboardSize = 10
)

func greetingKeyboard() tgbotapi.InlineKeyboardMarkup {
	return tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("▶️ Start Today’s Quiz", "start_quiz"),
		),
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("ℹ️ How it works", "how_it_works"),
			tgbotapi.NewInlineKeyboardButtonData("🏆 Leaderboard", "leaderboard"),
		),
	)
}

func finishedKeyboard() tgbotapi.InlineKeyboardMarkup {
	return tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("🏆 Leaderboard", "leaderboard"),
		),
	)
}

func escape(text string) string {
	return tgbotapi.EscapeText(tgbotapi.ModeMarkdownV2, text)
}

// renderEvent formats an engine event. An empty text means nothing is sent.
func renderEvent(ev service.Event) (text, parseMode string, markup any) {
	switch ev.Kind {
	case service.EventQuizQueued:
		return "✅ Quiz queued. You will receive the first question shortly.", "", nil
	case service.EventQuizUnavailable:
		return "❌ Today’s quiz is not yet available.", "", nil
	case service.EventStartFailed:
		return "❌ An error occurred. Please try again later.", "", nil
	case service.EventInvalidSkipped:
		return fmt.Sprintf("⚠️ Question %d skipped due to invalid data in the source. It will not be counted.", ev.Question), "", nil
	case service.EventSkipped:
		return fmt.Sprintf("⏭ Question %d skipped. Moving to next question...", ev.Question), "", nil
	case service.EventTimedOut:
		return fmt.Sprintf("⏱ Time is up for Question %d. Moving to next question...", ev.Question), "", nil
	case service.EventLateAnswer:
		return "⏱ Your answer arrived after time expired and has been recorded as a timeout skip.", "", nil
	case service.EventStrayAnswer:
		return "ℹ️ Your answer arrived after the question was skipped or timed out and was not counted.", "", nil
	case service.EventHighLoad:
		return "⚠️ High load right now. Please try again in a few seconds.", "", nil
	case service.EventFinished:
		if ev.Summary == nil {
			return "", "", nil
		}
		return renderSummary(*ev.Summary, ev.Leaderboard, ev.Rank), tgbotapi.ModeMarkdownV2, finishedKeyboard()
	case service.EventExplanations:
		if len(ev.Explanations) == 0 {
			return "", "", nil
		}
		return renderExplanations(ev.Explanations), tgbotapi.ModeMarkdownV2, nil
	}
	return "", "", nil
}

func renderSummary(sum service.Summary, top []service.ScoreRecord, rank int) string {
	seconds := int64(sum.Elapsed.Seconds())
	var b strings.Builder
	b.WriteString("🏁 *Quiz Finished\\!*\n\n")
	fmt.Fprintf(&b, "📝 Attempted: %d/%d\n", sum.Attempted, sum.Total)
	fmt.Fprintf(&b, "✅ Correct: %d\n", sum.Correct)
	fmt.Fprintf(&b, "❌ Wrong: %d\n", sum.Wrong)
	b.WriteString(escape(fmt.Sprintf("⏭ Skipped: %d (You: %d; Timeout: %d; System: %d)\n",
		sum.Skipped(), sum.SkippedUser, sum.SkippedTimeout, sum.SkippedInvalid)))
	b.WriteString(escape(fmt.Sprintf("🎯 Marks: %s\n", formatScore(sum.Marks))))
	fmt.Fprintf(&b, "⏱ Time: %dm %ds\n", seconds/60, seconds%60)
	if sum.StaleDay {
		b.WriteString(escape(fmt.Sprintf("ℹ️ The quiz of %s closed before you finished, so this attempt is not on the leaderboard.\n", sum.DateKey)))
	} else if !sum.FirstAttempt {
		b.WriteString(escape("ℹ️ Only your first attempt of the day counts for the leaderboard.\n"))
	} else if rank > 0 {
		fmt.Fprintf(&b, "📊 Your rank: %d\n", rank)
	}
	b.WriteString("\n🏆 *Daily Leaderboard \\(Top 10\\)*\n")
	b.WriteString(renderLeaderboard(top))
	return b.String()
}

// renderLeaderboard lists one rank, name, score and time line per record,
// escaped for MarkdownV2.
func renderLeaderboard(top []service.ScoreRecord) string {
	if len(top) == 0 {
		return escape("No completed attempts recorded yet.\n")
	}
	var b strings.Builder
	for i, rec := range top {
		m, s := rec.ElapsedSeconds/60, rec.ElapsedSeconds%60
		b.WriteString(escape(fmt.Sprintf("%d. %s — %s | %dm %ds\n", i+1, rec.Name, formatScore(rec.Score), m, s)))
	}
	return b.String()
}

// maxMessageUnits is the Telegram message limit in UTF-16 code units.
const maxMessageUnits = 4096

func utf16Len(s string) int {
	return len(utf16.Encode([]rune(s)))
}

func renderExplanationEntry(exp service.Explanation) string {
	return fmt.Sprintf("*Q%d\\.* %s\n*📘Explanation:* %s\n\n", exp.Number, escape(exp.Question), escape(exp.Text))
}

// explanationSize measures an entry after escaping.
func explanationSize(exp service.Explanation) int {
	return utf16Len(renderExplanationEntry(exp))
}

func renderExplanations(exps []service.Explanation) string {
	budget := maxMessageUnits - utf16Len(explainHeader)
	var b strings.Builder
	b.WriteString(explainHeader)
	for _, exp := range exps {
		b.WriteString(renderExplanationEntry(fitExplanation(exp, budget)))
	}
	return b.String()
}

// fitExplanation shortens the explanation text, then the question, until the
// rendered entry fits budget.
func fitExplanation(exp service.Explanation, budget int) service.Explanation {
	for _, field := range []*string{&exp.Text, &exp.Question} {
		for {
			excess := explanationSize(exp) - budget
			if excess <= 0 {
				return exp
			}
			runes := []rune(strings.TrimSuffix(*field, "…"))
			if len(runes) == 0 {
				break
			}
			keep := len(runes) - excess - 1
			if keep < 0 {
				keep = 0
			}
			*field = string(runes[:keep]) + "…"
			if keep == 0 {
				*field = ""
			}
		}
	}
	return exp
}

func formatScore(score float64) string {
	return strings.TrimSuffix(strings.TrimRight(fmt.Sprintf("%.2f", score), "0"), ".")
}

func renderAdminLeaderboard(dateKey string, attempted int, top []service.ScoreRecord) string {
	if dateKey == "" {
		dateKey = "N/A"
	}
	var b strings.Builder
	b.WriteString("*Admin Daily Leaderboard*\n\n")
	fmt.Fprintf(&b, "*Quiz date key:* `%s`\n", escape(dateKey))
	fmt.Fprintf(&b, "*Total attempted:* %d\n\n", attempted)
	b.WriteString("*Top 10*\n")
	b.WriteString(renderLeaderboard(top))
	return b.String()
}

func renderMetrics(values map[string]int64, names []string, activeSessions, adminQueue, userQueue int) string {
	var b strings.Builder
	b.WriteString("*Metrics*\n\n")
	for _, name := range names {
		b.WriteString(escape(fmt.Sprintf("%s: %d\n", name, values[name])))
	}
	b.WriteString(escape(fmt.Sprintf("active_sessions: %d\nadmin_queue: %d\nuser_queue: %d\n", activeSessions, adminQueue, userQueue)))
	return b.String()
}
