package telegram

import (
	"context"
	"errors"
	"log"
	"strconv"
	"strings"
	"sync"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/PoluyanbIch/dailyquiz/internal/dispatch"
	"github.com/PoluyanbIch/dailyquiz/internal/metrics"
	"github.com/PoluyanbIch/dailyquiz/internal/service"
)

// QuizEngine is the quiz flow the bot drives.
type QuizEngine interface {
	Start(ctx context.Context, userID int64, name string) error
	HandleAnswer(ctx context.Context, userID int64, pollID string, option int) error
	HandleSkip(ctx context.Context, userID int64, number int) error
	ForceRefresh(ctx context.Context, confirm bool) (string, error)
	AttemptedCount() int
	Sessions() *service.SessionStore
}

// BotDeps are the collaborators of a Bot.
type BotDeps struct {
	API        *tgbotapi.BotAPI
	Sender     Sender
	Platform   *Platform
	Engine     QuizEngine
	Gateway    *dispatch.Gateway
	Board      *service.ScoreBoard
	CurrentKey func() string
	Counters   *metrics.Counters
	AdminIDs   []int64
}

type Bot struct {
	api        *tgbotapi.BotAPI
	sender     Sender
	platform   *Platform
	engine     QuizEngine
	gateway    *dispatch.Gateway
	board      *service.ScoreBoard
	currentKey func() string
	counters   *metrics.Counters
	admins     map[int64]struct{}
}

func NewBot(deps BotDeps) *Bot {
	sender := deps.Sender
	if sender == nil && deps.API != nil {
		sender = deps.API
	}
	platform := deps.Platform
	if platform == nil {
		platform = NewPlatform(sender)
	}
	if deps.CurrentKey == nil {
		deps.CurrentKey = deps.Board.DateKey
	}
	if deps.Counters == nil {
		deps.Counters = metrics.New()
	}
	admins := make(map[int64]struct{}, len(deps.AdminIDs))
	for _, id := range deps.AdminIDs {
		admins[id] = struct{}{}
	}
	return &Bot{
		api:        deps.API,
		sender:     sender,
		platform:   platform,
		engine:     deps.Engine,
		gateway:    deps.Gateway,
		board:      deps.Board,
		currentKey: deps.CurrentKey,
		counters:   deps.Counters,
		admins:     admins,
	}
}

// Start receives updates until ctx is done. Every update is handled in its
// own goroutine so one user's quiz never blocks another's.
func (b *Bot) Start(ctx context.Context) error {
	log.Printf("Authorised on account: %s", b.api.Self.UserName)

	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60
	u.AllowedUpdates = []string{"message", "callback_query", "poll_answer"}

	updates := b.api.GetUpdatesChan(u)

	var wg sync.WaitGroup
	defer wg.Wait()
	for {
		select {
		case <-ctx.Done():
			b.api.StopReceivingUpdates()
			return nil
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			wg.Add(1)
			go func() {
				defer wg.Done()
				b.handleUpdate(ctx, update)
			}()
		}
	}
}

func (b *Bot) handleUpdate(ctx context.Context, update tgbotapi.Update) {
	switch {
	case update.PollAnswer != nil:
		b.handlePollAnswer(ctx, update.PollAnswer)
	case update.CallbackQuery != nil:
		b.handleCallback(ctx, update.CallbackQuery)
	case update.Message != nil:
		b.handleMessage(ctx, update.Message)
	}
}

func (b *Bot) handleMessage(ctx context.Context, msg *tgbotapi.Message) {
	if msg.From == nil {
		return
	}
	chatID := msg.Chat.ID
	switch msg.Command() {
	case "start":
		b.sendGreeting(ctx, chatID)
	case "leaderboard":
		b.adminOnly(ctx, msg, b.handleAdminLeaderboard)
	case "metrics":
		b.adminOnly(ctx, msg, b.handleAdminMetrics)
	case "force_preload":
		b.adminOnly(ctx, msg, b.handleForcePreload)
	default:
		if containsOffensive(msg.Text) {
			b.reply(ctx, chatID, offensiveReply, "", nil)
			return
		}
		b.sendGreeting(ctx, chatID)
	}
}

func (b *Bot) handleCallback(ctx context.Context, callback *tgbotapi.CallbackQuery) {
	if callback.From == nil {
		return
	}
	userID := callback.From.ID
	data := callback.Data

	callbackConfig := tgbotapi.NewCallback(callback.ID, "")
	if _, err := b.sender.Request(callbackConfig); err != nil {
		log.Printf("Error Answering Callback: %v", err)
	}

	switch {
	case data == "start_quiz":
		if err := b.engine.Start(ctx, userID, callback.From.FirstName); err != nil {
			log.Printf("Error starting quiz for %d: %v", userID, err)
		}
	case data == "how_it_works":
		b.reply(ctx, userID, howItWorksText, tgbotapi.ModeMarkdownV2, nil)
	case data == "leaderboard":
		b.handleLeaderboard(ctx, userID)
	case data == "skip_q" || strings.HasPrefix(data, skipPrefix):
		b.handleSkip(ctx, userID, data)
	default:
		log.Printf("Unknown callback %q from %d", data, userID)
	}
}

func (b *Bot) handleSkip(ctx context.Context, userID int64, data string) {
	number := 0
	if raw, ok := strings.CutPrefix(data, skipPrefix); ok {
		n, err := strconv.Atoi(raw)
		if err != nil {
			log.Printf("Malformed skip callback %q from %d", data, userID)
			return
		}
		number = n
	}
	err := b.engine.HandleSkip(ctx, userID, number)
	switch {
	case err == nil, errors.Is(err, service.ErrAlreadyResolved):
	case errors.Is(err, service.ErrNoSession):
		b.reply(ctx, userID, noActiveQuiz, "", nil)
	default:
		log.Printf("Error skipping for %d: %v", userID, err)
	}
}

func (b *Bot) handlePollAnswer(ctx context.Context, answer *tgbotapi.PollAnswer) {
	if len(answer.OptionIDs) == 0 {
		// retracted vote
		return
	}
	userID := answer.User.ID
	err := b.engine.HandleAnswer(ctx, userID, answer.PollID, answer.OptionIDs[0])
	if err != nil && !errors.Is(err, service.ErrNoSession) && !errors.Is(err, service.ErrAlreadyResolved) {
		log.Printf("Error handling answer from %d: %v", userID, err)
	}
}

func (b *Bot) sendGreeting(ctx context.Context, chatID int64) {
	b.reply(ctx, chatID, greetingText, tgbotapi.ModeMarkdownV2, greetingKeyboard())
}

func (b *Bot) handleLeaderboard(ctx context.Context, chatID int64) {
	text := "🏆 *Daily Leaderboard \\(Top 10\\)*\n\n" + renderLeaderboard(b.board.Top(leaderboardSize))
	b.reply(ctx, chatID, text, tgbotapi.ModeMarkdownV2, nil)
}

func (b *Bot) adminOnly(ctx context.Context, msg *tgbotapi.Message, fn func(context.Context, *tgbotapi.Message)) {
	if _, ok := b.admins[msg.From.ID]; !ok {
		b.reply(ctx, msg.Chat.ID, unauthorized, "", nil)
		return
	}
	fn(ctx, msg)
}

func (b *Bot) handleAdminLeaderboard(ctx context.Context, msg *tgbotapi.Message) {
	text := renderAdminLeaderboard(b.currentKey(), b.engine.AttemptedCount(), b.board.Top(leaderboardSize))
	b.replyAdmin(ctx, msg.Chat.ID, text, tgbotapi.ModeMarkdownV2)
}

func (b *Bot) handleAdminMetrics(ctx context.Context, msg *tgbotapi.Message) {
	adminDepth, userDepth := b.gateway.QueueDepth()
	text := renderMetrics(b.counters.Snapshot(), metrics.Names(), b.engine.Sessions().Len(), adminDepth, userDepth)
	b.replyAdmin(ctx, msg.Chat.ID, text, tgbotapi.ModeMarkdownV2)
}

func (b *Bot) handleForcePreload(ctx context.Context, msg *tgbotapi.Message) {
	confirm := false
	for _, arg := range strings.Fields(msg.CommandArguments()) {
		if strings.EqualFold(arg, "confirm") {
			confirm = true
		}
	}

	key, err := b.engine.ForceRefresh(ctx, confirm)
	var text string
	switch {
	case err == nil:
		text = "✅ Preloaded quiz for " + key + "."
	case errors.Is(err, service.ErrFinalQuestionWindow):
		text = "⚠️ Some users are in the final question window. Running /force_preload now may corrupt results.\n" +
			"If you really want to proceed, run: /force_preload confirm"
	case errors.Is(err, service.ErrActiveSessions):
		text = "⚠️ There are active quizzes in progress. Running force preload now may mix results across quiz dates.\n" +
			"If you really want to proceed, run: /force_preload confirm"
	case errors.Is(err, service.ErrQuizUnavailable):
		text = "⚠️ No valid quiz date found in the CSV for the effective date."
	default:
		log.Printf("Force preload failed: %v", err)
		text = "❌ Failed to fetch CSV. Check logs for details."
	}
	b.replyAdmin(ctx, msg.Chat.ID, text, "")
}

// reply sends a user-facing message with retries.
func (b *Bot) reply(ctx context.Context, chatID int64, text, parseMode string, markup any) {
	call := b.platform.TextCall(chatID, text, parseMode, markup)
	if _, err := b.gateway.SendWithRetry(ctx, chatID, call, b.gateway.MaxRetries()); err != nil {
		log.Printf("Error sending message to %d: %v", chatID, err)
	}
}

// replyAdmin queues an admin reply ahead of user traffic, sending it
// directly when the admin queue is full.
func (b *Bot) replyAdmin(ctx context.Context, chatID int64, text, parseMode string) {
	job := dispatch.Job{
		Kind:     "admin_reply",
		Target:   chatID,
		Call:     b.platform.TextCall(chatID, text, parseMode, nil),
		Priority: dispatch.PriorityAdmin,
		Done: func(_ dispatch.Result, err error) {
			if err != nil {
				log.Printf("Error sending admin reply to %d: %v", chatID, err)
			}
		},
	}
	if err := b.gateway.Enqueue(job); err != nil {
		log.Printf("SEND-FALLBACK: admin queue full, replying to %d directly", chatID)
		b.reply(ctx, chatID, text, parseMode, nil)
	}
}
