package service

import (
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/PoluyanbIch/dailyquiz/internal/clock"
)

// DateKeyLayout formats the date-key of a daily question set.
const DateKeyLayout = "2006-01-02"

// Question is one multiple-choice question of a daily set. It is never
// modified after it has been cached.
type Question struct {
	Index         int
	DateKey       string
	Prompt        string
	Options       [4]string
	Correct       int
	Explanation   string
	TimeLimit     time.Duration
	Marks         float64
	NegativeRatio float64
	// InvalidReason is set when the source row cannot be presented.
	InvalidReason string
}

// Choices returns the non-empty options in order and the position of the
// correct one among them.
func (q Question) Choices() ([]string, int) {
	choices := make([]string, 0, len(q.Options))
	correct := -1
	for i, opt := range q.Options {
		if strings.TrimSpace(opt) == "" {
			continue
		}
		if i == q.Correct {
			correct = len(choices)
		}
		choices = append(choices, opt)
	}
	return choices, correct
}

// Validate returns why the question cannot be presented, or "" when it can.
func (q Question) Validate() string {
	if q.InvalidReason != "" {
		return q.InvalidReason
	}
	choices, _ := q.Choices()
	if len(choices) < 2 {
		return "not_enough_options"
	}
	if q.Correct < 0 || q.Correct >= len(q.Options) || strings.TrimSpace(q.Options[q.Correct]) == "" {
		return "invalid_correct_option"
	}
	return ""
}

// Outcome is the terminal event that resolved a question.
type Outcome string

const (
	OutcomeAnswered    Outcome = "answered"
	OutcomeSkipped     Outcome = "skipped"
	OutcomeTimedOut    Outcome = "timed_out"
	OutcomeInvalid     Outcome = "invalid"
	OutcomeUndelivered Outcome = "undelivered"
)

// Resolution records how a question index was resolved.
type Resolution struct {
	Index   int
	Outcome Outcome
	At      time.Time
}

// Explanation is shown to the user after the quiz ends.
type Explanation struct {
	Number   int
	Question string
	Text     string
}

// Action is the last thing that happened to a session.
type Action struct {
	Kind string
	At   time.Time
}

// Session is the mutable state of one user's quiz run. Every field below mu
// is only touched while mu is held.
type Session struct {
	mu sync.Mutex

	UserID    int64
	Name      string
	DateKey   string
	Questions []Question

	Index          int
	Attempted      int
	Correct        int
	Wrong          int
	SkippedUser    int
	SkippedTimeout int
	SkippedInvalid int
	Marks          decimal.Decimal
	Explanations   []Explanation
	Resolutions    []Resolution

	PromptID int
	PollID   string
	Deadline time.Time

	Started      time.Time
	LastActivity time.Time
	LastAction   Action

	token        string
	timer        clock.Timer
	transitioned bool
	advancing    bool
	skipDisabled bool
	inQuestion   bool
	rescheduled  bool
	finished     bool
	presented    int
	lastNotice   time.Time
}

func newSession(userID int64, name, dateKey string, questions []Question, now time.Time) *Session {
	return &Session{
		UserID:       userID,
		Name:         name,
		DateKey:      dateKey,
		Questions:    questions,
		Marks:        decimal.Zero,
		Started:      now,
		LastActivity: now,
		LastAction:   Action{Kind: "started", At: now},
	}
}

// stopTimer cancels the pending timeout and invalidates its token.
func (s *Session) stopTimer() {
	if s.timer != nil {
		s.timer.Stop()
	}
	s.timer = nil
	s.token = ""
}

// resolve marks the current question as finished with the given outcome.
func (s *Session) resolve(outcome Outcome, now time.Time) {
	s.stopTimer()
	s.transitioned = true
	s.inQuestion = false
	s.Resolutions = append(s.Resolutions, Resolution{Index: s.Index, Outcome: outcome, At: now})
	s.LastAction = Action{Kind: string(outcome), At: now}
	s.LastActivity = now
}

// recordExplanation appends the explanation for a question once.
func (s *Session) recordExplanation(index int, q Question, reason string) {
	number := index + 1
	for _, e := range s.Explanations {
		if e.Number == number {
			return
		}
	}
	text := q.Explanation
	if reason != "" {
		if text == "" {
			text = reason
		} else {
			text = reason + "\n\n" + text
		}
	}
	s.Explanations = append(s.Explanations, Explanation{Number: number, Question: q.Prompt, Text: text})
}

// skipped returns the sum of all skip counters.
func (s *Session) skipped() int {
	return s.SkippedUser + s.SkippedTimeout + s.SkippedInvalid
}

// Summary is the final tally of a finished session.
type Summary struct {
	DateKey        string
	Total          int
	Attempted      int
	Correct        int
	Wrong          int
	SkippedUser    int
	SkippedTimeout int
	SkippedInvalid int
	Marks          float64
	Elapsed        time.Duration
	FirstAttempt   bool
	// StaleDay is set when the quiz day ended before the attempt finished.
	StaleDay bool
}

// Skipped returns the sum of all skip categories.
func (s Summary) Skipped() int {
	return s.SkippedUser + s.SkippedTimeout + s.SkippedInvalid
}

func (s *Session) summary(now time.Time) Summary {
	marks, _ := s.Marks.Round(2).Float64()
	return Summary{
		DateKey:        s.DateKey,
		Total:          len(s.Questions),
		Attempted:      s.Attempted,
		Correct:        s.Correct,
		Wrong:          s.Wrong,
		SkippedUser:    s.SkippedUser,
		SkippedTimeout: s.SkippedTimeout,
		SkippedInvalid: s.SkippedInvalid,
		Marks:          marks,
		Elapsed:        now.Sub(s.Started),
	}
}
