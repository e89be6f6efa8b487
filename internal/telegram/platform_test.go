package telegram

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/PoluyanbIch/dailyquiz/internal/dispatch"
	"github.com/PoluyanbIch/dailyquiz/internal/service"
)

// fakeSender records outgoing requests and replays queued errors.
type fakeSender struct {
	mu       sync.Mutex
	sent     []tgbotapi.Chattable
	requests []tgbotapi.Chattable
	errs     []error
	nextID   int
}

func (f *fakeSender) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.errs) > 0 {
		err := f.errs[0]
		f.errs = f.errs[1:]
		if err != nil {
			return tgbotapi.Message{}, err
		}
	}
	f.sent = append(f.sent, c)
	f.nextID++
	msg := tgbotapi.Message{MessageID: f.nextID}
	if _, ok := c.(tgbotapi.SendPollConfig); ok {
		msg.Poll = &tgbotapi.Poll{ID: "poll-" + strings.Repeat("x", f.nextID)}
	}
	return msg, nil
}

func (f *fakeSender) Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, c)
	return &tgbotapi.APIResponse{Ok: true}, nil
}

func (f *fakeSender) messages() []tgbotapi.MessageConfig {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []tgbotapi.MessageConfig
	for _, c := range f.sent {
		if msg, ok := c.(tgbotapi.MessageConfig); ok {
			out = append(out, msg)
		}
	}
	return out
}

func (f *fakeSender) polls() []tgbotapi.SendPollConfig {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []tgbotapi.SendPollConfig
	for _, c := range f.sent {
		if poll, ok := c.(tgbotapi.SendPollConfig); ok {
			out = append(out, poll)
		}
	}
	return out
}

func sampleQuestion(prompt string) service.Question {
	return service.Question{
		Prompt:    prompt,
		Options:   [4]string{"Paris", "", "Rome", "Berlin"},
		Correct:   2,
		TimeLimit: 20 * time.Second,
		Marks:     2,
	}
}

func TestQuestionCallSendsQuizPoll(t *testing.T) {
	sender := &fakeSender{}
	p := NewPlatform(sender)

	res, err := p.QuestionCall(7, sampleQuestion("Capital of Italy?"), 3, 10)(context.Background())
	if err != nil {
		t.Fatalf("QuestionCall: %v", err)
	}
	polls := sender.polls()
	if len(polls) != 1 || len(sender.messages()) != 0 {
		t.Fatalf("expected a single poll, got %d polls and %d messages", len(polls), len(sender.messages()))
	}
	poll := polls[0]
	if poll.Question != "Q3/10 Capital of Italy?" {
		t.Fatalf("unexpected poll question %q", poll.Question)
	}
	if len(poll.Options) != 3 || poll.CorrectOptionID != 1 {
		t.Fatalf("empty options must be dropped: %v correct=%d", poll.Options, poll.CorrectOptionID)
	}
	if poll.Type != "quiz" || poll.IsAnonymous || poll.OpenPeriod != 20 {
		t.Fatalf("unexpected poll settings: %+v", poll)
	}
	markup, ok := poll.ReplyMarkup.(tgbotapi.InlineKeyboardMarkup)
	if !ok || *markup.InlineKeyboard[0][0].CallbackData != "skip_q:3" {
		t.Fatalf("expected skip button for question 3")
	}
	if res.MessageID != 1 || res.PollID == "" {
		t.Fatalf("unexpected result %+v", res)
	}
}

func TestLongPromptIsSentOnceBeforePoll(t *testing.T) {
	sender := &fakeSender{errs: []error{nil, errors.New("connection reset")}}
	p := NewPlatform(sender)
	call := p.QuestionCall(7, sampleQuestion(strings.Repeat("long ", 80)), 1, 10)

	if _, err := call(context.Background()); err == nil {
		t.Fatalf("expected the poll send to fail")
	}
	if _, err := call(context.Background()); err != nil {
		t.Fatalf("retry: %v", err)
	}
	if len(sender.messages()) != 1 {
		t.Fatalf("prompt text must be sent exactly once, got %d", len(sender.messages()))
	}
	if polls := sender.polls(); len(polls) != 1 || polls[0].Question != pollTitle {
		t.Fatalf("expected poll titled %q", pollTitle)
	}
}

func TestClassify(t *testing.T) {
	limited := classify(&tgbotapi.Error{Code: 429, Message: "Too Many Requests", ResponseParameters: tgbotapi.ResponseParameters{RetryAfter: 3}})
	var rl *dispatch.RateLimitedError
	if !errors.As(limited, &rl) || rl.RetryAfter != 3*time.Second {
		t.Fatalf("expected rate limit with 3s wait, got %v", limited)
	}

	var transient *dispatch.TransientError
	if err := classify(&tgbotapi.Error{Code: 502, Message: "Bad Gateway"}); !errors.As(err, &transient) {
		t.Fatalf("5xx should be transient, got %v", err)
	}
	if err := classify(errors.New("dial tcp: i/o timeout")); !errors.As(err, &transient) {
		t.Fatalf("network errors should be transient, got %v", err)
	}
	if err := classify(&tgbotapi.Error{Code: 403, Message: "Forbidden: bot was blocked by the user"}); !dispatch.IsPermanent(err) {
		t.Fatalf("403 should be permanent, got %v", err)
	}
	if classify(nil) != nil {
		t.Fatalf("nil should stay nil")
	}
}

func TestClearAndCloseCalls(t *testing.T) {
	sender := &fakeSender{}
	p := NewPlatform(sender)
	if _, err := p.ClearControlsCall(7, 11)(context.Background()); err != nil {
		t.Fatalf("clear: %v", err)
	}
	if _, err := p.ClosePromptCall(7, 11)(context.Background()); err != nil {
		t.Fatalf("close: %v", err)
	}
	if len(sender.requests) != 2 {
		t.Fatalf("expected two requests, got %d", len(sender.requests))
	}
	edit, ok := sender.requests[0].(tgbotapi.EditMessageReplyMarkupConfig)
	if !ok || edit.MessageID != 11 || len(edit.ReplyMarkup.InlineKeyboard) != 0 {
		t.Fatalf("unexpected edit: %+v", sender.requests[0])
	}
	if _, ok := sender.requests[1].(tgbotapi.StopPollConfig); !ok {
		t.Fatalf("expected stop poll, got %T", sender.requests[1])
	}
}
