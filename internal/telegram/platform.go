package telegram

import (
	"context"
	"errors"
	"fmt"
	"time"
	"unicode/utf8"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/PoluyanbIch/dailyquiz/internal/dispatch"
	"github.com/PoluyanbIch/dailyquiz/internal/service"
)

const (
	// maxPollQuestion is the longest prompt that fits in the poll itself.
	maxPollQuestion = 255
	pollTitle       = "Choose the correct answer:"
	skipPrefix      = "skip_q:"
)

// Sender is the part of *tgbotapi.BotAPI the bot talks to.
type Sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
}

// Platform turns quiz operations into Telegram calls.
type Platform struct {
	api Sender
}

// NewPlatform wraps a Telegram sender.
func NewPlatform(api Sender) *Platform {
	return &Platform{api: api}
}

// QuestionCall sends a quiz poll with a skip button. Prompts too long for a
// poll are sent as a message first; a retried call does not repeat it.
func (p *Platform) QuestionCall(userID int64, q service.Question, number, total int) dispatch.Call {
	choices, correct := q.Choices()
	header := fmt.Sprintf("Q%d/%d", number, total)
	long := utf8.RuneCountInString(header+" "+q.Prompt) > maxPollQuestion
	textSent := false

	return func(ctx context.Context) (dispatch.Result, error) {
		if err := ctx.Err(); err != nil {
			return dispatch.Result{}, err
		}
		title := header + " " + q.Prompt
		if long {
			if !textSent {
				msg := tgbotapi.NewMessage(userID, fmt.Sprintf("❓ %s\n\n%s", header, q.Prompt))
				if _, err := p.api.Send(msg); err != nil {
					return dispatch.Result{}, classify(err)
				}
				textSent = true
			}
			title = pollTitle
		}

		poll := tgbotapi.NewPoll(userID, title, choices...)
		poll.Type = "quiz"
		poll.IsAnonymous = false
		poll.CorrectOptionID = int64(correct)
		poll.OpenPeriod = int(q.TimeLimit / time.Second)
		poll.ReplyMarkup = skipKeyboard(number)

		sent, err := p.api.Send(poll)
		if err != nil {
			return dispatch.Result{}, classify(err)
		}
		res := dispatch.Result{MessageID: sent.MessageID}
		if sent.Poll != nil {
			res.PollID = sent.Poll.ID
		}
		return res, nil
	}
}

// ClearControlsCall removes the skip button from a prompt.
func (p *Platform) ClearControlsCall(userID int64, promptID int) dispatch.Call {
	return func(context.Context) (dispatch.Result, error) {
		edit := tgbotapi.NewEditMessageReplyMarkup(userID, promptID, tgbotapi.InlineKeyboardMarkup{
			InlineKeyboard: [][]tgbotapi.InlineKeyboardButton{},
		})
		if _, err := p.api.Request(edit); err != nil {
			return dispatch.Result{}, classify(err)
		}
		return dispatch.Result{MessageID: promptID}, nil
	}
}

// ClosePromptCall stops a poll so it no longer accepts answers.
func (p *Platform) ClosePromptCall(userID int64, promptID int) dispatch.Call {
	return func(context.Context) (dispatch.Result, error) {
		if _, err := p.api.Request(tgbotapi.NewStopPoll(userID, promptID)); err != nil {
			return dispatch.Result{}, classify(err)
		}
		return dispatch.Result{MessageID: promptID}, nil
	}
}

// TextCall sends a message. markup may be nil.
func (p *Platform) TextCall(chatID int64, text, parseMode string, markup any) dispatch.Call {
	return func(context.Context) (dispatch.Result, error) {
		msg := tgbotapi.NewMessage(chatID, text)
		msg.ParseMode = parseMode
		if markup != nil {
			msg.ReplyMarkup = markup
		}
		sent, err := p.api.Send(msg)
		if err != nil {
			return dispatch.Result{}, classify(err)
		}
		return dispatch.Result{MessageID: sent.MessageID}, nil
	}
}

// EventCall renders an engine event as a message.
func (p *Platform) EventCall(ev service.Event) dispatch.Call {
	text, parseMode, markup := renderEvent(ev)
	if text == "" {
		return nil
	}
	return p.TextCall(ev.UserID, text, parseMode, markup)
}

// ExplanationSize reports the rendered size of one explanation entry.
func (p *Platform) ExplanationSize(exp service.Explanation) int {
	return explanationSize(exp)
}

func skipKeyboard(number int) tgbotapi.InlineKeyboardMarkup {
	return tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("⏭ Skip", fmt.Sprintf("%s%d", skipPrefix, number)),
		),
	)
}

// classify maps Bot API failures onto the dispatch error taxonomy.
func classify(err error) error {
	if err == nil {
		return nil
	}
	apiErr, ok := asAPIError(err)
	if ok {
		switch {
		case apiErr.RetryAfter > 0 || apiErr.Code == 429:
			return &dispatch.RateLimitedError{RetryAfter: time.Duration(apiErr.RetryAfter) * time.Second, Err: err}
		case apiErr.Code >= 500:
			return &dispatch.TransientError{Err: err}
		default:
			return &dispatch.PermanentError{Err: err}
		}
	}
	return &dispatch.TransientError{Err: err}
}

func asAPIError(err error) (*tgbotapi.Error, bool) {
	var ptr *tgbotapi.Error
	if errors.As(err, &ptr) {
		return ptr, true
	}
	var val tgbotapi.Error
	if errors.As(err, &val) {
		return &val, true
	}
	return nil, false
}
