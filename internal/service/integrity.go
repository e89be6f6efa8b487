package service

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/PoluyanbIch/dailyquiz/internal/clock"
	"github.com/PoluyanbIch/dailyquiz/internal/metrics"
)

// CheckCounts verifies the per-session tally. Attempted plus skipped never
// exceeds total, and equals it once the session is finished.
func CheckCounts(attempted, skipped, total int, finished bool) error {
	sum := attempted + skipped
	if sum > total {
		return fmt.Errorf("attempted %d + skipped %d exceeds total %d", attempted, skipped, total)
	}
	if finished && sum != total {
		return fmt.Errorf("attempted %d + skipped %d != total %d on finish", attempted, skipped, total)
	}
	return nil
}

// Violation describes a live session whose counters disagree.
type Violation struct {
	UserID int64
	Err    error
}

func (v Violation) String() string {
	return fmt.Sprintf("user %d: %v", v.UserID, v.Err)
}

// IntegrityMonitor periodically audits live sessions and reaps idle ones.
type IntegrityMonitor struct {
	store    *SessionStore
	clock    clock.Clock
	counters *metrics.Counters
	ttl      time.Duration
	interval time.Duration
}

// NewIntegrityMonitor creates a monitor. A zero ttl disables reaping.
func NewIntegrityMonitor(store *SessionStore, clk clock.Clock, counters *metrics.Counters, ttl, interval time.Duration) *IntegrityMonitor {
	if clk == nil {
		clk = clock.Real()
	}
	if counters == nil {
		counters = metrics.New()
	}
	if interval <= 0 {
		interval = time.Minute
	}
	return &IntegrityMonitor{store: store, clock: clk, counters: counters, ttl: ttl, interval: interval}
}

// Sweep checks every live session and returns the violations found.
func (m *IntegrityMonitor) Sweep() []Violation {
	var out []Violation
	for _, s := range m.store.Snapshot() {
		s.mu.Lock()
		if s.finished {
			s.mu.Unlock()
			continue
		}
		err := CheckCounts(s.Attempted, s.skipped(), len(s.Questions), false)
		if err == nil && s.Attempted+s.skipped() != len(s.Resolutions) {
			err = fmt.Errorf("tally %d does not match %d resolutions", s.Attempted+s.skipped(), len(s.Resolutions))
		}
		s.mu.Unlock()
		if err != nil {
			out = append(out, Violation{UserID: s.UserID, Err: err})
		}
	}
	for _, v := range out {
		m.counters.IntegrityViolations.Add(1)
		log.Printf("integrity: %s", v)
	}
	return out
}

// Reap drops sessions that have been idle between questions for longer than
// the ttl. It returns the number of sessions removed.
func (m *IntegrityMonitor) Reap(now time.Time) int {
	if m.ttl <= 0 {
		return 0
	}
	reaped := 0
	for _, s := range m.store.Snapshot() {
		s.mu.Lock()
		idle := !s.inQuestion && !s.advancing && now.Sub(s.LastActivity) > m.ttl
		if idle {
			s.finished = true
			s.stopTimer()
		}
		s.mu.Unlock()
		if idle && m.store.Remove(s.UserID, s) {
			reaped++
			m.counters.SessionsReaped.Add(1)
			log.Printf("integrity: reaped idle session of user %d", s.UserID)
		}
	}
	return reaped
}

// Run sweeps and reaps until ctx is done.
func (m *IntegrityMonitor) Run(ctx context.Context) error {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			m.Sweep()
			m.Reap(m.clock.Now())
		}
	}
}
