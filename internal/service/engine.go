package service

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/PoluyanbIch/dailyquiz/internal/clock"
	"github.com/PoluyanbIch/dailyquiz/internal/dispatch"
	"github.com/PoluyanbIch/dailyquiz/internal/metrics"
)

var (
	// ErrNoSession is returned for events of users without a live quiz.
	ErrNoSession = errors.New("no active quiz")
	// ErrAlreadyResolved is returned for events on a question that is already resolved.
	ErrAlreadyResolved = errors.New("question already processed")
	// ErrActiveSessions blocks an unconfirmed refresh while quizzes run.
	ErrActiveSessions = errors.New("quizzes in progress")
	// ErrFinalQuestionWindow blocks an unconfirmed refresh while a user is on the final question.
	ErrFinalQuestionWindow = errors.New("users in final question window")
)

// Dispatcher delivers platform calls.
type Dispatcher interface {
	Send(ctx context.Context, target int64, call dispatch.Call) (dispatch.Result, error)
	SendWithRetry(ctx context.Context, target int64, call dispatch.Call, maxRetries int) (dispatch.Result, error)
	Enqueue(job dispatch.Job) error
	MaxRetries() int
}

// Prompter builds platform calls. Formatting lives behind it.
type Prompter interface {
	QuestionCall(userID int64, q Question, number, total int) dispatch.Call
	ClearControlsCall(userID int64, promptID int) dispatch.Call
	ClosePromptCall(userID int64, promptID int) dispatch.Call
	// EventCall returns nil when the event has nothing to show.
	EventCall(ev Event) dispatch.Call
	// ExplanationSize is how much of a message one explanation takes up
	// once rendered.
	ExplanationSize(exp Explanation) int
}

// QuestionProvider serves the active daily question set.
type QuestionProvider interface {
	Current(ctx context.Context) (string, []Question, error)
	Refresh(ctx context.Context) (string, error)
}

// EngineConfig tunes the quiz flow.
type EngineConfig struct {
	TransitionDelay      time.Duration
	Grace                time.Duration
	LateNoticeInterval   time.Duration
	ExplanationChunkSize int
	LeaderboardSize      int
	ShuffleQuestions     bool
	ForceRefreshWindow   time.Duration
}

// strayNoticeWindow is how soon after a skip or timeout a stray answer
// still earns the user a notice.
const strayNoticeWindow = 2 * time.Second

// EngineDeps are the collaborators of an Engine.
type EngineDeps struct {
	Store      *SessionStore
	Questions  QuestionProvider
	Board      *ScoreBoard
	Dispatcher Dispatcher
	Prompter   Prompter
	Clock      clock.Clock
	Counters   *metrics.Counters
}

// Engine runs the per-user question lifecycle.
type Engine struct {
	cfg        EngineConfig
	store      *SessionStore
	questions  QuestionProvider
	board      *ScoreBoard
	dispatcher Dispatcher
	prompter   Prompter
	clock      clock.Clock
	counters   *metrics.Counters
	newToken   func() string

	ctx    context.Context
	cancel context.CancelFunc
}

// NewEngine wires an Engine.
func NewEngine(deps EngineDeps, cfg EngineConfig) *Engine {
	if deps.Store == nil {
		deps.Store = NewSessionStore()
	}
	if deps.Board == nil {
		deps.Board = NewScoreBoard(nil)
	}
	if deps.Clock == nil {
		deps.Clock = clock.Real()
	}
	if deps.Counters == nil {
		deps.Counters = metrics.New()
	}
	if cfg.LeaderboardSize <= 0 {
		cfg.LeaderboardSize = 10
	}
	if cfg.LateNoticeInterval <= 0 {
		cfg.LateNoticeInterval = 5 * time.Second
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Engine{
		cfg:        cfg,
		store:      deps.Store,
		questions:  deps.Questions,
		board:      deps.Board,
		dispatcher: deps.Dispatcher,
		prompter:   deps.Prompter,
		clock:      deps.Clock,
		counters:   deps.Counters,
		newToken:   uuid.NewString,
		ctx:        ctx,
		cancel:     cancel,
	}
}

// Sessions exposes the session store.
func (e *Engine) Sessions() *SessionStore {
	return e.store
}

// Start begins a fresh quiz for the user and presents the first question.
func (e *Engine) Start(ctx context.Context, userID int64, name string) error {
	dateKey, questions, err := e.questions.Current(ctx)
	if err != nil {
		log.Printf("quiz: no quiz available for user %d: %v", userID, err)
		e.emit(ctx, Event{Kind: EventQuizUnavailable, UserID: userID})
		return err
	}
	if e.cfg.ShuffleQuestions {
		questions = ShuffleQuestions(questions)
	}

	s := newSession(userID, name, dateKey, questions, e.clock.Now())
	if prev := e.store.Put(s); prev != nil {
		e.discard(prev)
	}
	e.emit(ctx, Event{Kind: EventQuizQueued, UserID: userID, Total: len(questions)})
	return e.present(ctx, s)
}

// discard retires a session that was replaced or reaped.
func (e *Engine) discard(s *Session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.finished = true
	s.inQuestion = false
	s.stopTimer()
}

// Shutdown stops every pending timer and background continuation.
func (e *Engine) Shutdown() {
	e.cancel()
	for _, s := range e.store.Snapshot() {
		s.mu.Lock()
		s.stopTimer()
		s.mu.Unlock()
	}
}

// ForceRefresh reloads the question sheet. Without confirm it refuses while
// quizzes are running, and it refuses first for users on their final
// question with little time left.
func (e *Engine) ForceRefresh(ctx context.Context, confirm bool) (string, error) {
	now := e.clock.Now()
	active, risky := 0, 0
	for _, s := range e.store.Snapshot() {
		s.mu.Lock()
		if !s.finished {
			active++
			last := s.Index == len(s.Questions)-1
			if last && s.inQuestion && !s.Deadline.IsZero() && s.Deadline.Sub(now) <= e.cfg.ForceRefreshWindow {
				risky++
			}
		}
		s.mu.Unlock()
	}
	if !confirm {
		if risky > 0 {
			return "", ErrFinalQuestionWindow
		}
		if active > 0 {
			return "", ErrActiveSessions
		}
	}
	return e.questions.Refresh(ctx)
}

// AttemptedCount counts users who finished today plus users with at least
// one attempted answer in a running quiz.
func (e *Engine) AttemptedCount() int {
	seen := map[int64]struct{}{}
	for id := range e.board.Snapshot().Records {
		seen[id] = struct{}{}
	}
	for _, s := range e.store.Snapshot() {
		s.mu.Lock()
		if s.Attempted > 0 {
			seen[s.UserID] = struct{}{}
		}
		s.mu.Unlock()
	}
	return len(seen)
}

// emit delivers a notice; failures are logged and never affect the quiz.
func (e *Engine) emit(ctx context.Context, ev Event) {
	call := e.prompter.EventCall(ev)
	if call == nil {
		return
	}
	if _, err := e.dispatcher.SendWithRetry(ctx, ev.UserID, call, e.dispatcher.MaxRetries()); err != nil {
		log.Printf("quiz: failed to deliver %s notice to user %d: %v", ev.Kind, ev.UserID, err)
	}
}
