package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"sync"
)

// ScoreRecord is a user's first completed attempt for a date-key.
type ScoreRecord struct {
	UserID         int64   `json:"user_id"`
	Name           string  `json:"name"`
	Score          float64 `json:"score"`
	ElapsedSeconds int64   `json:"time"`
	DateKey        string  `json:"quiz_date_key"`
	SkippedUser    int     `json:"skipped_user"`
	SkippedTimeout int     `json:"skipped_timeout"`
	SkippedInvalid int     `json:"skipped_invalid"`
}

// Snapshot is the full persisted scoreboard state.
type Snapshot struct {
	DateKey string                `json:"date_key"`
	Records map[int64]ScoreRecord `json:"records"`
}

// ScoreStore persists scoreboard snapshots.
type ScoreStore interface {
	Load(ctx context.Context) (Snapshot, error)
	Save(ctx context.Context, snap Snapshot) error
}

// StoreConfig selects and configures a ScoreStore.
type StoreConfig struct {
	Kind      string
	Path      string
	GistID    string
	GistToken string
}

// NewScoreStore builds the store named by cfg.Kind.
func NewScoreStore(cfg StoreConfig) (ScoreStore, error) {
	switch cfg.Kind {
	case "", "file":
		return NewFileScoreStore(cfg.Path), nil
	case "gist":
		if cfg.GistID == "" || cfg.GistToken == "" {
			return nil, fmt.Errorf("gist store requires a gist id and token")
		}
		return NewGistScoreStore(cfg.GistID, cfg.GistToken), nil
	case "sqlite":
		return NewSQLScoreStore(cfg.Path)
	case "memory":
		return NewMemoryScoreStore(), nil
	default:
		return nil, fmt.Errorf("unsupported score store %q", cfg.Kind)
	}
}

// ScoreBoard ranks finished attempts of the current date-key.
type ScoreBoard struct {
	store  ScoreStore
	saveMu sync.Mutex

	mu      sync.RWMutex
	dateKey string
	records map[int64]ScoreRecord
}

// NewScoreBoard creates an empty board backed by store.
func NewScoreBoard(store ScoreStore) *ScoreBoard {
	if store == nil {
		store = NewMemoryScoreStore()
	}
	return &ScoreBoard{store: store, records: map[int64]ScoreRecord{}}
}

// Load replaces the board state with the persisted snapshot.
func (b *ScoreBoard) Load(ctx context.Context) error {
	snap, err := b.store.Load(ctx)
	if err != nil {
		return fmt.Errorf("load scores: %w", err)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.dateKey = snap.DateKey
	b.records = make(map[int64]ScoreRecord, len(snap.Records))
	for id, rec := range snap.Records {
		b.records[id] = rec
	}
	log.Printf("scores: loaded %d entries for %q", len(b.records), b.dateKey)
	return nil
}

// Reset switches the board to dateKey, dropping records of any other key.
func (b *ScoreBoard) Reset(dateKey string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.dateKey == dateKey {
		return
	}
	log.Printf("scores: resetting board from %q to %q", b.dateKey, dateKey)
	b.dateKey = dateKey
	b.records = map[int64]ScoreRecord{}
}

// DateKey returns the date-key the board is collecting.
func (b *ScoreBoard) DateKey() string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.dateKey
}

// ErrStaleDateKey is returned by Record for a result of an earlier quiz day.
var ErrStaleDateKey = errors.New("quiz day already over")

// Record stores rec if it is the user's first for the board's date-key and
// persists the whole board. It reports whether rec was stored.
func (b *ScoreBoard) Record(ctx context.Context, rec ScoreRecord) (bool, error) {
	b.mu.Lock()
	if b.dateKey == "" {
		b.dateKey = rec.DateKey
	}
	if rec.DateKey != b.dateKey {
		current := b.dateKey
		b.mu.Unlock()
		log.Printf("scores: ignoring result of user %d for stale date-key %s", rec.UserID, rec.DateKey)
		return false, fmt.Errorf("%w: result for %s, board is on %s", ErrStaleDateKey, rec.DateKey, current)
	}
	if _, exists := b.records[rec.UserID]; exists {
		b.mu.Unlock()
		return false, nil
	}
	b.records[rec.UserID] = rec
	b.mu.Unlock()

	if err := b.persist(ctx); err != nil {
		return true, err
	}
	return true, nil
}

// persist writes a fresh snapshot; writes are serialized so the last one
// always reflects the latest state.
func (b *ScoreBoard) persist(ctx context.Context) error {
	b.saveMu.Lock()
	defer b.saveMu.Unlock()
	if err := b.store.Save(ctx, b.Snapshot()); err != nil {
		return fmt.Errorf("save scores: %w", err)
	}
	return nil
}

// Snapshot copies the current state.
func (b *ScoreBoard) Snapshot() Snapshot {
	b.mu.RLock()
	defer b.mu.RUnlock()
	snap := Snapshot{DateKey: b.dateKey, Records: make(map[int64]ScoreRecord, len(b.records))}
	for id, rec := range b.records {
		snap.Records[id] = rec
	}
	return snap
}

// Has reports whether the user already has a record.
func (b *ScoreBoard) Has(userID int64) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	_, ok := b.records[userID]
	return ok
}

// Len returns the number of records.
func (b *ScoreBoard) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.records)
}

// Ranked returns every record, highest score first, ties by faster time.
func (b *ScoreBoard) Ranked() []ScoreRecord {
	b.mu.RLock()
	sorted := make([]ScoreRecord, 0, len(b.records))
	for _, rec := range b.records {
		sorted = append(sorted, rec)
	}
	b.mu.RUnlock()

	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].Score != sorted[j].Score {
			return sorted[i].Score > sorted[j].Score
		}
		if sorted[i].ElapsedSeconds != sorted[j].ElapsedSeconds {
			return sorted[i].ElapsedSeconds < sorted[j].ElapsedSeconds
		}
		return sorted[i].UserID < sorted[j].UserID
	})
	return sorted
}

// Top returns at most limit ranked records.
func (b *ScoreBoard) Top(limit int) []ScoreRecord {
	sorted := b.Ranked()
	if limit < 0 || limit > len(sorted) {
		limit = len(sorted)
	}
	return sorted[:limit]
}

// Position returns the 1-based rank of a user, or -1.
func (b *ScoreBoard) Position(userID int64) int {
	for i, rec := range b.Ranked() {
		if rec.UserID == userID {
			return i + 1
		}
	}
	return -1
}

// MemoryScoreStore keeps the snapshot in memory; data is lost on restart.
type MemoryScoreStore struct {
	mu   sync.Mutex
	snap Snapshot
	// Saves counts successful writes.
	Saves int
}

// NewMemoryScoreStore creates an empty in-memory store.
func NewMemoryScoreStore() *MemoryScoreStore {
	return &MemoryScoreStore{snap: Snapshot{Records: map[int64]ScoreRecord{}}}
}

func (m *MemoryScoreStore) Load(context.Context) (Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return copySnapshot(m.snap), nil
}

func (m *MemoryScoreStore) Save(_ context.Context, snap Snapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snap = copySnapshot(snap)
	m.Saves++
	return nil
}

func copySnapshot(snap Snapshot) Snapshot {
	out := Snapshot{DateKey: snap.DateKey, Records: make(map[int64]ScoreRecord, len(snap.Records))}
	for id, rec := range snap.Records {
		out.Records[id] = rec
	}
	return out
}
