package metrics

import "sync/atomic"

// Counters holds the process-wide operational counters.
type Counters struct {
	SkippedQuestions            atomic.Int64
	LateAnswersRejected         atomic.Int64
	LateAnswersTreatedAsTimeout atomic.Int64
	PreloadFailures             atomic.Int64
	TimeoutLateness             atomic.Int64
	StaleTimeouts               atomic.Int64
	UserSkips                   atomic.Int64
	SendRetries                 atomic.Int64
	SendFailures                atomic.Int64
	QueueRejectionsUser         atomic.Int64
	QueueRejectionsAdmin        atomic.Int64
	IntegrityViolations         atomic.Int64
	SessionsReaped              atomic.Int64
}

// New returns zeroed counters.
func New() *Counters {
	return &Counters{}
}

// Snapshot returns the current counter values keyed by name.
func (c *Counters) Snapshot() map[string]int64 {
	return map[string]int64{
		"skipped_questions":               c.SkippedQuestions.Load(),
		"late_answers_rejected":           c.LateAnswersRejected.Load(),
		"late_answers_treated_as_timeout": c.LateAnswersTreatedAsTimeout.Load(),
		"preload_failures":                c.PreloadFailures.Load(),
		"timeout_lateness_count":          c.TimeoutLateness.Load(),
		"stale_timeouts":                  c.StaleTimeouts.Load(),
		"user_skips":                      c.UserSkips.Load(),
		"send_retries":                    c.SendRetries.Load(),
		"send_failures":                   c.SendFailures.Load(),
		"queue_rejections_user":           c.QueueRejectionsUser.Load(),
		"queue_rejections_admin":          c.QueueRejectionsAdmin.Load(),
		"integrity_violations":            c.IntegrityViolations.Load(),
		"sessions_reaped":                 c.SessionsReaped.Load(),
	}
}

// Names returns counter names in display order.
func Names() []string {
	return []string{
		"skipped_questions",
		"late_answers_rejected",
		"late_answers_treated_as_timeout",
		"preload_failures",
		"timeout_lateness_count",
		"stale_timeouts",
		"user_skips",
		"send_retries",
		"send_failures",
		"queue_rejections_user",
		"queue_rejections_admin",
		"integrity_violations",
		"sessions_reaped",
	}
}
