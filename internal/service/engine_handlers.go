package service

import (
	"context"
	"log"
	"time"

	"github.com/shopspring/decimal"
)

// HandleAnswer applies a poll answer to the user's active question. Answers
// on a resolved or unknown poll are rejected with ErrAlreadyResolved; answers
// past the deadline plus grace count as a timeout.
func (e *Engine) HandleAnswer(ctx context.Context, userID int64, pollID string, option int) error {
	s := e.store.Get(userID)
	if s == nil {
		return ErrNoSession
	}
	now := e.clock.Now()

	s.mu.Lock()
	if s.finished {
		s.mu.Unlock()
		return ErrNoSession
	}
	index := s.Index
	if s.transitioned || !s.inQuestion || (pollID != "" && pollID != s.PollID) {
		notify := e.strayNoticeDue(s, now)
		s.mu.Unlock()

		e.counters.LateAnswersRejected.Add(1)
		if notify {
			e.emit(ctx, Event{Kind: EventStrayAnswer, UserID: userID, Question: index + 1})
		}
		return ErrAlreadyResolved
	}

	q := s.Questions[index]
	if !s.Deadline.IsZero() && now.After(s.Deadline.Add(e.cfg.Grace)) {
		s.recordExplanation(index, q, "Skipped due to timeout (answer arrived late).")
		s.SkippedTimeout++
		s.resolve(OutcomeTimedOut, now)
		notify := now.Sub(s.lastNotice) >= e.cfg.LateNoticeInterval
		if notify {
			s.lastNotice = now
		}
		s.mu.Unlock()

		e.counters.LateAnswersTreatedAsTimeout.Add(1)
		e.counters.SkippedQuestions.Add(1)
		log.Printf("quiz: late answer from user %d on question %d treated as timeout", userID, index+1)
		if notify {
			e.emit(ctx, Event{Kind: EventLateAnswer, UserID: userID, Question: index + 1})
		}
		e.advance(ctx, s, index)
		return nil
	}

	_, correct := q.Choices()
	marks := decimal.NewFromFloat(q.Marks)
	s.Attempted++
	if option == correct {
		s.Correct++
		s.Marks = s.Marks.Add(marks)
	} else {
		s.Wrong++
		s.Marks = s.Marks.Sub(marks.Mul(decimal.NewFromFloat(q.NegativeRatio)))
	}
	s.recordExplanation(index, q, "")
	s.resolve(OutcomeAnswered, now)
	s.mu.Unlock()

	e.advance(ctx, s, index)
	return nil
}

// strayNoticeDue reports whether a stray answer should be acknowledged and
// marks the notice as sent. Callers hold s.mu.
func (e *Engine) strayNoticeDue(s *Session, now time.Time) bool {
	kind := Outcome(s.LastAction.Kind)
	if kind != OutcomeSkipped && kind != OutcomeTimedOut {
		return false
	}
	if now.Sub(s.LastAction.At) > strayNoticeWindow {
		return false
	}
	if now.Sub(s.lastNotice) < e.cfg.LateNoticeInterval {
		return false
	}
	s.lastNotice = now
	return true
}

// HandleSkip skips the active question on the user's request. number is the
// 1-based question the skip control belonged to, or 0 for whichever question
// is active. A second tap, or a tap on an earlier question's control, is
// rejected.
func (e *Engine) HandleSkip(ctx context.Context, userID int64, number int) error {
	s := e.store.Get(userID)
	if s == nil {
		return ErrNoSession
	}
	now := e.clock.Now()

	s.mu.Lock()
	if s.finished {
		s.mu.Unlock()
		return ErrNoSession
	}
	index := s.Index
	if s.transitioned || s.skipDisabled || !s.inQuestion || (number != 0 && number != index+1) {
		s.mu.Unlock()
		return ErrAlreadyResolved
	}
	q := s.Questions[index]
	promptID := s.PromptID
	s.recordExplanation(index, q, "Skipped by user.")
	s.SkippedUser++
	s.skipDisabled = true
	s.resolve(OutcomeSkipped, now)
	s.mu.Unlock()

	e.counters.UserSkips.Add(1)
	e.counters.SkippedQuestions.Add(1)

	if promptID != 0 {
		if _, err := e.dispatcher.Send(ctx, userID, e.prompter.ClearControlsCall(userID, promptID)); err != nil {
			log.Printf("quiz: failed to clear controls for user %d: %v", userID, err)
		}
		if _, err := e.dispatcher.Send(ctx, userID, e.prompter.ClosePromptCall(userID, promptID)); err != nil {
			log.Printf("quiz: failed to close poll for user %d: %v", userID, err)
		}
	}
	e.emit(ctx, Event{Kind: EventSkipped, UserID: userID, Question: index + 1})
	e.advance(ctx, s, index)
	return nil
}

// timeoutFired resolves the question at index as timed out unless the timer
// has gone stale.
func (e *Engine) timeoutFired(s *Session, index int, token string) {
	now := e.clock.Now()

	s.mu.Lock()
	if s.finished || s.transitioned || s.token != token || s.Index != index {
		s.mu.Unlock()
		e.counters.StaleTimeouts.Add(1)
		return
	}
	if now.Before(s.Deadline) && !s.rescheduled {
		s.rescheduled = true
		remaining := s.Deadline.Sub(now)
		s.timer = e.clock.AfterFunc(remaining, func() {
			e.timeoutFired(s, index, token)
		})
		s.mu.Unlock()
		log.Printf("quiz: timeout for user %d fired %s early, rescheduled", s.UserID, remaining)
		return
	}
	if now.Sub(s.Deadline) > time.Millisecond {
		e.counters.TimeoutLateness.Add(1)
	}
	q := s.Questions[index]
	s.SkippedTimeout++
	s.recordExplanation(index, q, "Skipped due to timeout.")
	s.resolve(OutcomeTimedOut, now)
	s.mu.Unlock()

	e.counters.SkippedQuestions.Add(1)
	e.emit(e.ctx, Event{Kind: EventTimedOut, UserID: s.UserID, Question: index + 1})
	e.advance(e.ctx, s, index)
}
