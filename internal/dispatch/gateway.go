package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math/rand"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/PoluyanbIch/dailyquiz/internal/metrics"
)

const (
	defaultMaxConcurrent  = 8
	defaultMaxRetries     = 4
	defaultBaseBackoff    = 500 * time.Millisecond
	defaultJitterMax      = 500 * time.Millisecond
	defaultUserQueueSize  = 500
	defaultAdminQueueSize = 200
	defaultPollInterval   = time.Second
)

// Result is what a successful platform call returns.
type Result struct {
	MessageID int
	PollID    string
}

// Call performs one platform request. It is invoked once per attempt so the
// payload is rebuilt every time.
type Call func(ctx context.Context) (Result, error)

// Config tunes the gateway.
type Config struct {
	MaxConcurrent  int
	MaxRetries     int
	BaseBackoff    time.Duration
	JitterMax      time.Duration
	UserQueueSize  int
	AdminQueueSize int
	PollInterval   time.Duration
	Workers        int
}

// Gateway is the rate-limit aware outbound call layer.
type Gateway struct {
	cfg      Config
	sem      *semaphore.Weighted
	counters *metrics.Counters

	admin chan Job
	user  chan Job

	sleep  func(ctx context.Context, d time.Duration) error
	jitter func(max time.Duration) time.Duration
}

// gatewayHooks overrides timing behavior for tests.
type gatewayHooks struct {
	sleep  func(ctx context.Context, d time.Duration) error
	jitter func(max time.Duration) time.Duration
}

// New creates a Gateway with production timing.
func New(cfg Config, counters *metrics.Counters) *Gateway {
	src := newLockedRand(time.Now().UnixNano())
	return newGateway(cfg, counters, gatewayHooks{sleep: sleepContext, jitter: src.Jitter})
}

func newGateway(cfg Config, counters *metrics.Counters, hooks gatewayHooks) *Gateway {
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = defaultMaxConcurrent
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = defaultMaxRetries
	}
	if cfg.BaseBackoff <= 0 {
		cfg.BaseBackoff = defaultBaseBackoff
	}
	if cfg.JitterMax < 0 {
		cfg.JitterMax = defaultJitterMax
	}
	if cfg.UserQueueSize <= 0 {
		cfg.UserQueueSize = defaultUserQueueSize
	}
	if cfg.AdminQueueSize <= 0 {
		cfg.AdminQueueSize = defaultAdminQueueSize
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultPollInterval
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if counters == nil {
		counters = metrics.New()
	}
	if hooks.sleep == nil {
		hooks.sleep = sleepContext
	}
	if hooks.jitter == nil {
		hooks.jitter = func(time.Duration) time.Duration { return 0 }
	}
	return &Gateway{
		cfg:      cfg,
		sem:      semaphore.NewWeighted(int64(cfg.MaxConcurrent)),
		counters: counters,
		admin:    make(chan Job, cfg.AdminQueueSize),
		user:     make(chan Job, cfg.UserQueueSize),
		sleep:    hooks.sleep,
		jitter:   hooks.jitter,
	}
}

// MaxRetries returns the configured retry budget.
func (g *Gateway) MaxRetries() int {
	return g.cfg.MaxRetries
}

// Send performs a single gated attempt without retrying.
func (g *Gateway) Send(ctx context.Context, target int64, call Call) (Result, error) {
	return g.attempt(ctx, call)
}

// SendWithRetry performs call until it succeeds, fails permanently, or
// maxRetries retries have been spent.
func (g *Gateway) SendWithRetry(ctx context.Context, target int64, call Call, maxRetries int) (Result, error) {
	if maxRetries < 0 {
		maxRetries = 0
	}
	backoff := g.cfg.BaseBackoff
	var lastErr error
	for attempt := 1; attempt <= maxRetries+1; attempt++ {
		res, err := g.attempt(ctx, call)
		if err == nil {
			return res, nil
		}
		if ctx.Err() != nil {
			return Result{}, ctx.Err()
		}
		lastErr = err

		var wait time.Duration
		var limited *RateLimitedError
		switch {
		case errors.As(err, &limited):
			wait = limited.RetryAfter
			if wait <= 0 {
				wait = backoff * time.Duration(attempt)
			}
			log.Printf("dispatch: rate limited for chat %d, sleeping %s", target, wait)
		case IsPermanent(err):
			g.counters.SendFailures.Add(1)
			return Result{}, err
		default:
			wait = backoff * time.Duration(attempt)
			log.Printf("dispatch: transient error on attempt %d for chat %d: %v", attempt, target, err)
		}
		if attempt > maxRetries {
			break
		}
		g.counters.SendRetries.Add(1)
		if err := g.sleep(ctx, wait); err != nil {
			return Result{}, err
		}
		backoff *= 2
	}
	g.counters.SendFailures.Add(1)
	return Result{}, fmt.Errorf("%w: %w", ErrRetriesExhausted, lastErr)
}

// attempt runs call once behind the concurrency gate after a jitter delay.
func (g *Gateway) attempt(ctx context.Context, call Call) (Result, error) {
	if err := g.sem.Acquire(ctx, 1); err != nil {
		return Result{}, err
	}
	defer g.sem.Release(1)
	if d := g.jitter(g.cfg.JitterMax); d > 0 {
		if err := g.sleep(ctx, d); err != nil {
			return Result{}, err
		}
	}
	return call(ctx)
}

// sleepContext waits for d or until ctx is done.
func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// lockedRand provides a concurrency-safe jitter source.
type lockedRand struct {
	mu sync.Mutex
	r  *rand.Rand
}

func newLockedRand(seed int64) *lockedRand {
	return &lockedRand{r: rand.New(rand.NewSource(seed))}
}

// Jitter returns a random duration in [0, max].
func (l *lockedRand) Jitter(max time.Duration) time.Duration {
	if max <= 0 {
		return 0
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return time.Duration(l.r.Int63n(int64(max) + 1))
}
