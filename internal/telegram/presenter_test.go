package telegram

import (
	"strings"
	"testing"
	"time"

	"github.com/PoluyanbIch/dailyquiz/internal/service"
)

func TestRenderSummary(t *testing.T) {
	sum := service.Summary{
		Total:          10,
		Attempted:      7,
		Correct:        5,
		Wrong:          2,
		SkippedUser:    1,
		SkippedTimeout: 1,
		SkippedInvalid: 1,
		Marks:          9.33,
		Elapsed:        125 * time.Second,
		FirstAttempt:   true,
	}
	top := []service.ScoreRecord{{Name: "Asha", Score: 9.33, ElapsedSeconds: 125}}
	text, mode, markup := renderEvent(service.Event{Kind: service.EventFinished, Summary: &sum, Leaderboard: top, Rank: 1})

	if mode != "MarkdownV2" || markup == nil {
		t.Fatalf("summary should be MarkdownV2 with a keyboard")
	}
	for _, want := range []string{
		"Attempted: 7/10",
		"Skipped: 3 \\(You: 1; Timeout: 1; System: 1\\)",
		"Marks: 9\\.33",
		"Time: 2m 5s",
		"Your rank: 1",
		"1\\. Asha — 9\\.33 \\| 2m 5s",
	} {
		if !strings.Contains(text, want) {
			t.Fatalf("summary missing %q:\n%s", want, text)
		}
	}
}

func TestRenderSummaryRepeatAttempt(t *testing.T) {
	sum := service.Summary{Total: 1, Attempted: 1, Correct: 1, Marks: 2}
	text, _, _ := renderEvent(service.Event{Kind: service.EventFinished, Summary: &sum, Rank: 4})
	if strings.Contains(text, "Your rank") || !strings.Contains(text, "first attempt") {
		t.Fatalf("repeat attempts should not show a rank:\n%s", text)
	}
	if !strings.Contains(text, "No completed attempts recorded yet") {
		t.Fatalf("empty leaderboard placeholder missing:\n%s", text)
	}
}

func TestRenderSummaryEndedDay(t *testing.T) {
	sum := service.Summary{Total: 1, Attempted: 1, Correct: 1, Marks: 2, DateKey: "2025-03-04", StaleDay: true}
	text, _, _ := renderEvent(service.Event{Kind: service.EventFinished, Summary: &sum})
	if !strings.Contains(text, "2025\\-03\\-04 closed before you finished") {
		t.Fatalf("ended day notice missing:\n%s", text)
	}
	if strings.Contains(text, "first attempt") || strings.Contains(text, "Your rank") {
		t.Fatalf("ended day attempt should not mention first attempt or rank:\n%s", text)
	}
}

func TestRenderExplanationsEscapes(t *testing.T) {
	text, mode, _ := renderEvent(service.Event{Kind: service.EventExplanations, Explanations: []service.Explanation{
		{Number: 2, Question: "What is 2+2?", Text: "Skipped by user.\n\nIt is 4."},
	}})
	if mode != "MarkdownV2" {
		t.Fatalf("explanations should be MarkdownV2")
	}
	if !strings.Contains(text, "*Q2\\.* What is 2\\+2?") || !strings.Contains(text, "It is 4\\.") {
		t.Fatalf("unexpected explanations:\n%s", text)
	}
}

func TestRenderSimpleNotices(t *testing.T) {
	cases := map[service.EventKind]string{
		service.EventQuizQueued:      "Quiz queued",
		service.EventQuizUnavailable: "not yet available",
		service.EventInvalidSkipped:  "Question 4 skipped due to invalid data",
		service.EventSkipped:         "Question 4 skipped",
		service.EventTimedOut:        "Time is up for Question 4",
		service.EventHighLoad:        "High load",
	}
	for kind, want := range cases {
		text, mode, _ := renderEvent(service.Event{Kind: kind, Question: 4})
		if !strings.Contains(text, want) || mode != "" {
			t.Fatalf("%s: got %q (mode %q)", kind, text, mode)
		}
	}
	if text, _, _ := renderEvent(service.Event{Kind: service.EventExplanations}); text != "" {
		t.Fatalf("empty explanations should render nothing")
	}
}

func TestFormatScore(t *testing.T) {
	cases := map[float64]string{2: "2", 1.5: "1.5", 6.67: "6.67", -0.67: "-0.67", 0: "0"}
	for in, want := range cases {
		if got := formatScore(in); got != want {
			t.Fatalf("formatScore(%v) = %q, want %q", in, got, want)
		}
	}
}

func TestContainsOffensive(t *testing.T) {
	if !containsOffensive("You are STUPID!") {
		t.Fatalf("expected offensive match")
	}
	if containsOffensive("hi there, stupendous quiz") {
		t.Fatalf("partial words must not match")
	}
	if containsOffensive("") {
		t.Fatalf("empty text is fine")
	}
}

func TestExplanationChunksFitMessageLimit(t *testing.T) {
	text := strings.Repeat("a.b-c(d)e! ", 27)[:296]
	var exps []service.Explanation
	for i := 1; i <= 20; i++ {
		exps = append(exps, service.Explanation{Number: i, Question: "What is x.y (z)?", Text: text})
	}
	platform := NewPlatform(nil)

	chunks := service.ChunkExplanations(exps, 3800, platform.ExplanationSize)
	if len(chunks) < 2 {
		t.Fatalf("expected several chunks, got %d", len(chunks))
	}
	seen := 0
	for i, chunk := range chunks {
		seen += len(chunk)
		if n := utf16Len(renderExplanations(chunk)); n > maxMessageUnits {
			t.Fatalf("chunk %d renders to %d units", i, n)
		}
	}
	if seen != len(exps) {
		t.Fatalf("chunks hold %d explanations, want %d", seen, len(exps))
	}
}

func TestOversizedExplanationIsShortened(t *testing.T) {
	exp := service.Explanation{Number: 1, Question: "Why?", Text: strings.Repeat("(x). ", 2000)}
	rendered := renderExplanations([]service.Explanation{exp})
	if n := utf16Len(rendered); n > maxMessageUnits {
		t.Fatalf("rendered %d units", n)
	}
	if !strings.Contains(rendered, "…") || !strings.Contains(rendered, "Why?") {
		t.Fatalf("expected shortened text with the question kept, got %q", rendered[:80])
	}
	if strings.HasSuffix(strings.TrimRight(rendered, "\n…"), "\\") {
		t.Fatalf("shortened text ends in a dangling escape")
	}
}
