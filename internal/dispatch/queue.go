package dispatch

import (
	"context"
	"log"
	"sync"
	"time"
)

// Priority selects which queue a job waits in.
type Priority int

const (
	PriorityUser Priority = iota
	PriorityAdmin
)

func (p Priority) String() string {
	if p == PriorityAdmin {
		return "admin"
	}
	return "user"
}

// Job is a queued delivery.
type Job struct {
	Kind     string
	Target   int64
	Call     Call
	Priority Priority
	// Done, when set, receives the outcome once the worker has finished. It
	// runs on its own goroutine so a slow continuation never holds a worker.
	Done func(Result, error)
}

// Enqueue adds job to its queue without blocking.
func (g *Gateway) Enqueue(job Job) error {
	queue := g.user
	if job.Priority == PriorityAdmin {
		queue = g.admin
	}
	select {
	case queue <- job:
		return nil
	default:
	}
	if job.Priority == PriorityAdmin {
		g.counters.QueueRejectionsAdmin.Add(1)
	} else {
		g.counters.QueueRejectionsUser.Add(1)
	}
	log.Printf("dispatch: %s queue full; rejecting %s job for chat %d", job.Priority, job.Kind, job.Target)
	return ErrQueueFull
}

// QueueDepth returns the number of queued admin and user jobs.
func (g *Gateway) QueueDepth() (admin, user int) {
	return len(g.admin), len(g.user)
}

// Run drains both queues with the configured number of workers until ctx is done.
func (g *Gateway) Run(ctx context.Context) error {
	log.Printf("dispatch: starting %d send worker(s)", g.cfg.Workers)
	var wg sync.WaitGroup
	for i := 0; i < g.cfg.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			g.worker(ctx)
		}()
	}
	wg.Wait()
	return nil
}

// worker prefers the admin queue and polls the user queue so it can
// notice shutdown and newly queued admin jobs.
func (g *Gateway) worker(ctx context.Context) {
	poll := time.NewTimer(g.cfg.PollInterval)
	defer poll.Stop()
	for {
		if ctx.Err() != nil {
			return
		}
		select {
		case job := <-g.admin:
			g.execute(ctx, job)
			continue
		default:
		}

		resetTimer(poll, g.cfg.PollInterval)
		select {
		case <-ctx.Done():
			return
		case job := <-g.admin:
			g.execute(ctx, job)
		case job := <-g.user:
			g.execute(ctx, job)
		case <-poll.C:
		}
	}
}

// execute runs a job with retries and reports the outcome.
func (g *Gateway) execute(ctx context.Context, job Job) {
	res, err := g.SendWithRetry(ctx, job.Target, job.Call, g.cfg.MaxRetries)
	if err != nil {
		log.Printf("dispatch: failed to send %s job for chat %d: %v", job.Kind, job.Target, err)
	}
	if job.Done != nil {
		go job.Done(res, err)
	}
}

// resetTimer safely resets a timer, draining it if needed.
func resetTimer(timer *time.Timer, d time.Duration) {
	if !timer.Stop() {
		select {
		case <-timer.C:
		default:
		}
	}
	timer.Reset(d)
}
