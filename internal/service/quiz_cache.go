package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/PoluyanbIch/dailyquiz/internal/clock"
	"github.com/PoluyanbIch/dailyquiz/internal/metrics"
)

// ErrQuizUnavailable means no question set qualifies for the current time.
var ErrQuizUnavailable = errors.New("quiz not available")

// ScoreResetter is told when a new date-key becomes current.
type ScoreResetter interface {
	Reset(dateKey string)
}

// CacheConfig controls date-key resolution and fetching.
type CacheConfig struct {
	Location      *time.Location
	CutoffHour    int
	FetchAttempts int
	FetchBackoff  time.Duration
	RetryDelay    time.Duration
	Defaults      Defaults
}

// Cache resolves the active daily question set and keeps it per date-key.
type Cache struct {
	source   Source
	board    ScoreResetter
	clock    clock.Clock
	counters *metrics.Counters
	cfg      CacheConfig
	sleep    func(context.Context, time.Duration) error

	refreshMu sync.Mutex

	mu        sync.RWMutex
	sets      map[string][]Question
	available []string
	current   string
}

// NewCache creates a Cache reading from source.
func NewCache(source Source, board ScoreResetter, clk clock.Clock, counters *metrics.Counters, cfg CacheConfig) *Cache {
	if cfg.Location == nil {
		cfg.Location = time.FixedZone("IST", 5*3600+30*60)
	}
	if cfg.FetchAttempts <= 0 {
		cfg.FetchAttempts = 3
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = time.Minute
	}
	if counters == nil {
		counters = metrics.New()
	}
	return &Cache{
		source:   source,
		board:    board,
		clock:    clk,
		counters: counters,
		cfg:      cfg,
		sleep:    sleepContext,
		sets:     map[string][]Question{},
	}
}

// EffectiveDateKey picks the date-key to serve at now. Before the cutoff hour
// the newest date strictly before today is served, from the cutoff onwards
// the newest date up to and including today.
func EffectiveDateKey(now time.Time, loc *time.Location, cutoffHour int, available []string) (string, bool) {
	local := now.In(loc)
	effective := local
	if local.Hour() < cutoffHour {
		effective = local.AddDate(0, 0, -1)
	}
	limit := effective.Format(DateKeyLayout)
	best := ""
	for _, key := range available {
		if key <= limit && key > best {
			best = key
		}
	}
	return best, best != ""
}

// Resolve returns the date-key to serve at now among the loaded dates.
func (c *Cache) Resolve(now time.Time) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return EffectiveDateKey(now, c.cfg.Location, c.cfg.CutoffHour, c.available)
}

// Load caches the set that applies at now out of questions, replacing any
// earlier copy, and makes it current. The first time a new date-key becomes current the scoreboard is
// reset to it.
func (c *Cache) Load(questions []Question, now time.Time) (string, error) {
	byDate := map[string][]Question{}
	for _, q := range questions {
		byDate[q.DateKey] = append(byDate[q.DateKey], q)
	}
	available := make([]string, 0, len(byDate))
	for key := range byDate {
		available = append(available, key)
	}
	sort.Strings(available)

	key, ok := EffectiveDateKey(now, c.cfg.Location, c.cfg.CutoffHour, available)

	c.mu.Lock()
	c.available = available
	if !ok {
		c.mu.Unlock()
		return "", ErrQuizUnavailable
	}
	set := byDate[key]
	for i := range set {
		set[i].Index = i
	}
	// Running sessions keep the slice they started with.
	c.sets[key] = set
	log.Printf("content: cached quiz for %s with %d questions", key, len(set))
	previous := c.current
	changed := key != previous
	c.current = key
	if changed {
		for cached := range c.sets {
			if cached != key && cached != previous {
				delete(c.sets, cached)
			}
		}
	}
	c.mu.Unlock()

	if changed {
		log.Printf("content: current quiz date-key is now %s", key)
		if c.board != nil {
			c.board.Reset(key)
		}
	}
	return key, nil
}

// Refresh fetches the sheet and loads it.
func (c *Cache) Refresh(ctx context.Context) (string, error) {
	c.refreshMu.Lock()
	defer c.refreshMu.Unlock()
	return c.refreshLocked(ctx)
}

func (c *Cache) refreshLocked(ctx context.Context) (string, error) {
	rows, err := FetchWithRetries(ctx, c.source, c.cfg.FetchAttempts, c.cfg.FetchBackoff, c.sleep)
	if err != nil {
		c.counters.PreloadFailures.Add(1)
		return "", err
	}
	return c.Load(NormalizeRows(rows, c.cfg.Defaults), c.clock.Now())
}

// Current returns the active date-key and its questions, fetching the sheet
// when nothing has been loaded yet.
func (c *Cache) Current(ctx context.Context) (string, []Question, error) {
	if key, set, ok := c.lookupCurrent(); ok {
		return key, set, nil
	}
	c.refreshMu.Lock()
	defer c.refreshMu.Unlock()
	if key, set, ok := c.lookupCurrent(); ok {
		return key, set, nil
	}
	if _, err := c.refreshLocked(ctx); err != nil {
		if errors.Is(err, ErrQuizUnavailable) {
			return "", nil, err
		}
		return "", nil, fmt.Errorf("%w: %w", ErrQuizUnavailable, err)
	}
	if key, set, ok := c.lookupCurrent(); ok {
		return key, set, nil
	}
	return "", nil, ErrQuizUnavailable
}

// CurrentKey returns the active date-key, or "" when none is loaded.
func (c *Cache) CurrentKey() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.current
}

func (c *Cache) lookupCurrent() (string, []Question, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.current == "" {
		return "", nil, false
	}
	set, ok := c.sets[c.current]
	return c.current, set, ok
}

// untilNextCutoff returns how long to wait for the next cutoff after now.
func (c *Cache) untilNextCutoff(now time.Time) time.Duration {
	local := now.In(c.cfg.Location)
	cutoff := time.Date(local.Year(), local.Month(), local.Day(), c.cfg.CutoffHour, 0, 0, 0, c.cfg.Location)
	if !local.Before(cutoff) {
		cutoff = cutoff.AddDate(0, 0, 1)
	}
	return cutoff.Sub(local)
}

// RunDaily refreshes the cache at every cutoff until ctx is done.
func (c *Cache) RunDaily(ctx context.Context) error {
	log.Printf("content: daily preload task started")
	for {
		wait := c.untilNextCutoff(c.clock.Now())
		log.Printf("content: preload sleeping %s until next cutoff", wait.Round(time.Second))
		if err := c.wait(ctx, wait); err != nil {
			return nil
		}
		if _, err := c.Refresh(ctx); err != nil {
			log.Printf("content: preload at cutoff failed: %v", err)
			if err := c.wait(ctx, c.cfg.RetryDelay); err != nil {
				return nil
			}
		}
	}
}

// wait blocks for d on the cache clock or until ctx is done.
func (c *Cache) wait(ctx context.Context, d time.Duration) error {
	fired := make(chan struct{})
	timer := c.clock.AfterFunc(d, func() { close(fired) })
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-fired:
		return nil
	}
}
