package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/PoluyanbIch/dailyquiz/internal/dispatch"
)

// errQueued means delivery was handed to the dispatch queue and will
// complete asynchronously.
var errQueued = errors.New("question queued for delivery")

// present shows the session's current question, auto-skipping invalid ones.
// It only returns an error when the quiz had to be aborted.
func (e *Engine) present(ctx context.Context, s *Session) error {
	now := e.clock.Now()
	s.mu.Lock()
	if s.finished {
		s.mu.Unlock()
		return nil
	}
	index := s.Index
	total := len(s.Questions)
	if index >= total {
		s.mu.Unlock()
		e.finish(ctx, s)
		return nil
	}
	q := s.Questions[index]
	s.transitioned = false
	s.skipDisabled = false
	s.rescheduled = false
	s.PromptID = 0
	s.PollID = ""
	s.Deadline = time.Time{}
	s.LastActivity = now

	if reason := q.Validate(); reason != "" {
		s.recordExplanation(index, q, "Skipped due to invalid question data (please contact content team).")
		s.SkippedInvalid++
		s.resolve(OutcomeInvalid, now)
		s.mu.Unlock()

		e.counters.SkippedQuestions.Add(1)
		log.Printf("quiz: skipping invalid question for user %d at index %d: reason=%s", s.UserID, index, reason)
		e.emit(ctx, Event{Kind: EventInvalidSkipped, UserID: s.UserID, Question: index + 1, Total: total, Reason: reason})
		e.advance(ctx, s, index)
		return nil
	}
	s.mu.Unlock()

	call := e.prompter.QuestionCall(s.UserID, q, index+1, total)
	res, err := e.deliver(ctx, s, index, call)
	if errors.Is(err, errQueued) {
		return nil
	}
	if err != nil {
		return e.presentFailed(ctx, s, index, err)
	}
	e.arm(s, index, res)
	return nil
}

// deliver tries a direct send, then a send with retries, and finally the
// dispatch queue.
func (e *Engine) deliver(ctx context.Context, s *Session, index int, call dispatch.Call) (dispatch.Result, error) {
	res, err := e.dispatcher.Send(ctx, s.UserID, call)
	if err == nil {
		return res, nil
	}
	if dispatch.IsPermanent(err) || ctx.Err() != nil {
		return res, err
	}
	log.Printf("quiz: direct send failed for user %d: %v; retrying", s.UserID, err)

	res, err = e.dispatcher.SendWithRetry(ctx, s.UserID, call, e.dispatcher.MaxRetries())
	if err == nil {
		return res, nil
	}
	if dispatch.IsPermanent(err) || ctx.Err() != nil {
		return res, err
	}
	log.Printf("quiz: send with retries failed for user %d: %v; queueing", s.UserID, err)

	job := dispatch.Job{
		Kind:     "question",
		Target:   s.UserID,
		Call:     call,
		Priority: dispatch.PriorityUser,
		Done: func(res dispatch.Result, err error) {
			if err != nil {
				_ = e.presentFailed(e.ctx, s, index, err)
				return
			}
			e.arm(s, index, res)
		},
	}
	if qerr := e.dispatcher.Enqueue(job); qerr != nil {
		return res, fmt.Errorf("%w; %w", err, qerr)
	}
	return res, errQueued
}

// arm records the delivered prompt and schedules the question timeout.
func (e *Engine) arm(s *Session, index int, res dispatch.Result) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.presented++
	if s.finished || s.transitioned || s.Index != index {
		return
	}
	q := s.Questions[index]
	now := e.clock.Now()
	token := e.newToken()

	s.PromptID = res.MessageID
	s.PollID = res.PollID
	s.Deadline = now.Add(q.TimeLimit)
	s.token = token
	s.timer = e.clock.AfterFunc(q.TimeLimit, func() {
		e.timeoutFired(s, index, token)
	})
	s.inQuestion = true
	s.LastActivity = now
	s.LastAction = Action{Kind: "presented", At: now}
}

// presentFailed handles a question that could not be delivered by any path.
// Before anything reached the user the quiz is aborted; later on the question
// is skipped and the quiz continues.
func (e *Engine) presentFailed(ctx context.Context, s *Session, index int, cause error) error {
	now := e.clock.Now()
	s.mu.Lock()
	if s.finished || s.transitioned || s.Index != index {
		s.mu.Unlock()
		return nil
	}
	if s.presented == 0 {
		s.finished = true
		s.stopTimer()
		s.mu.Unlock()

		e.store.Remove(s.UserID, s)
		log.Printf("quiz: aborting quiz for user %d, first question undeliverable: %v", s.UserID, cause)
		e.emit(ctx, Event{Kind: EventStartFailed, UserID: s.UserID, Reason: cause.Error()})
		return fmt.Errorf("present first question: %w", cause)
	}

	q := s.Questions[index]
	s.recordExplanation(index, q, "Could not be delivered due to high load.")
	s.SkippedInvalid++
	s.resolve(OutcomeUndelivered, now)
	s.mu.Unlock()

	e.counters.SkippedQuestions.Add(1)
	log.Printf("quiz: question %d undeliverable for user %d: %v", index+1, s.UserID, cause)
	e.emit(ctx, Event{Kind: EventHighLoad, UserID: s.UserID, Question: index + 1})
	e.advance(ctx, s, index)
	return nil
}

// advance moves past the question at index. It is the single continuation of
// every resolution path and runs at most once per index.
func (e *Engine) advance(ctx context.Context, s *Session, index int) {
	s.mu.Lock()
	if s.finished || s.advancing || s.Index != index {
		s.mu.Unlock()
		return
	}
	s.advancing = true
	s.Index++
	s.inQuestion = false
	s.skipDisabled = false
	s.rescheduled = false
	done := s.Index >= len(s.Questions)
	s.mu.Unlock()

	if done {
		e.finish(ctx, s)
		return
	}
	if err := sleepContext(ctx, e.cfg.TransitionDelay); err != nil {
		return
	}
	s.mu.Lock()
	s.advancing = false
	s.mu.Unlock()
	_ = e.present(ctx, s)
}

// finish records the result, emits the summary and drops the session.
func (e *Engine) finish(ctx context.Context, s *Session) {
	now := e.clock.Now()
	s.mu.Lock()
	if s.finished {
		s.mu.Unlock()
		return
	}
	s.finished = true
	s.inQuestion = false
	s.stopTimer()
	summary := s.summary(now)
	explanations := append([]Explanation(nil), s.Explanations...)
	s.mu.Unlock()

	if err := CheckCounts(summary.Attempted, summary.Skipped(), summary.Total, true); err != nil {
		e.counters.IntegrityViolations.Add(1)
		log.Printf("quiz: integrity issue for user %d: %v", s.UserID, err)
	}

	first, err := e.board.Record(ctx, ScoreRecord{
		UserID:         s.UserID,
		Name:           s.Name,
		Score:          summary.Marks,
		ElapsedSeconds: int64(summary.Elapsed / time.Second),
		DateKey:        summary.DateKey,
		SkippedUser:    summary.SkippedUser,
		SkippedTimeout: summary.SkippedTimeout,
		SkippedInvalid: summary.SkippedInvalid,
	})
	switch {
	case errors.Is(err, ErrStaleDateKey):
		summary.StaleDay = true
	case err != nil:
		log.Printf("quiz: failed to persist score for user %d: %v", s.UserID, err)
	}
	summary.FirstAttempt = first

	e.store.Remove(s.UserID, s)
	e.emit(ctx, Event{
		Kind:        EventFinished,
		UserID:      s.UserID,
		Total:       summary.Total,
		Summary:     &summary,
		Leaderboard: e.board.Top(e.cfg.LeaderboardSize),
		Rank:        e.board.Position(s.UserID),
	})
	for _, chunk := range ChunkExplanations(explanations, e.cfg.ExplanationChunkSize, e.prompter.ExplanationSize) {
		e.emit(ctx, Event{Kind: EventExplanations, UserID: s.UserID, Explanations: chunk})
	}
}
