package service

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/PoluyanbIch/dailyquiz/internal/testutil"
)

func TestScoreBoardRanking(t *testing.T) {
	board := NewScoreBoard(nil)
	ctx := testutil.Context(t, 0)
	records := []ScoreRecord{
		{UserID: 1, Name: "A", Score: 10, ElapsedSeconds: 50, DateKey: "2025-03-04"},
		{UserID: 2, Name: "B", Score: 10, ElapsedSeconds: 40, DateKey: "2025-03-04"},
		{UserID: 3, Name: "C", Score: 8, ElapsedSeconds: 20, DateKey: "2025-03-04"},
	}
	for _, rec := range records {
		if _, err := board.Record(ctx, rec); err != nil {
			t.Fatalf("record %s: %v", rec.Name, err)
		}
	}

	var names []string
	for _, rec := range board.Top(10) {
		names = append(names, rec.Name)
	}
	if strings.Join(names, ",") != "B,A,C" {
		t.Fatalf("unexpected ranking: %v", names)
	}
	if got := board.Top(2); len(got) != 2 {
		t.Fatalf("Top(2) returned %d records", len(got))
	}
	if board.Position(3) != 3 || board.Position(99) != -1 {
		t.Fatalf("unexpected positions: %d %d", board.Position(3), board.Position(99))
	}
}

func TestScoreBoardWriteOnce(t *testing.T) {
	store := NewMemoryScoreStore()
	board := NewScoreBoard(store)
	ctx := testutil.Context(t, 0)

	first, err := board.Record(ctx, ScoreRecord{UserID: 1, Score: 5, DateKey: "2025-03-04"})
	if err != nil || !first {
		t.Fatalf("first record: %v %v", first, err)
	}
	again, err := board.Record(ctx, ScoreRecord{UserID: 1, Score: 9, DateKey: "2025-03-04"})
	if err != nil || again {
		t.Fatalf("second record must be ignored: %v %v", again, err)
	}
	stale, err := board.Record(ctx, ScoreRecord{UserID: 2, Score: 9, DateKey: "2025-03-03"})
	if stale || !errors.Is(err, ErrStaleDateKey) {
		t.Fatalf("records for another date-key must be refused, got %v %v", stale, err)
	}
	if board.Snapshot().Records[1].Score != 5 || store.Saves != 1 {
		t.Fatalf("unexpected state: %+v saves=%d", board.Snapshot(), store.Saves)
	}
}

func TestScoreBoardResetOnlyOnChange(t *testing.T) {
	store := NewMemoryScoreStore()
	ctx := testutil.Context(t, 0)
	_ = store.Save(ctx, Snapshot{DateKey: "2025-03-04", Records: map[int64]ScoreRecord{
		7: {UserID: 7, Score: 4, DateKey: "2025-03-04"},
	}})

	board := NewScoreBoard(store)
	if err := board.Load(ctx); err != nil {
		t.Fatalf("load: %v", err)
	}
	board.Reset("2025-03-04")
	if !board.Has(7) {
		t.Fatalf("reset to the same key must keep loaded scores")
	}
	board.Reset("2025-03-05")
	if board.Len() != 0 || board.DateKey() != "2025-03-05" {
		t.Fatalf("reset to a new key must clear scores")
	}
}

func TestScoreBoardConcurrentRecords(t *testing.T) {
	board := NewScoreBoard(NewMemoryScoreStore())
	ctx := testutil.Context(t, 0)
	board.Reset("2025-03-04")

	var wg sync.WaitGroup
	for i := int64(1); i <= 50; i++ {
		wg.Add(1)
		go func(id int64) {
			defer wg.Done()
			_, _ = board.Record(ctx, ScoreRecord{UserID: id, Score: float64(id), DateKey: "2025-03-04"})
		}(i)
	}
	wg.Wait()
	if board.Len() != 50 || board.Top(1)[0].UserID != 50 {
		t.Fatalf("unexpected board after concurrent writes: len=%d", board.Len())
	}
}

func TestFileScoreStoreRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scores.json")
	store := NewFileScoreStore(path)
	ctx := testutil.Context(t, 0)

	empty, err := store.Load(ctx)
	if err != nil || len(empty.Records) != 0 {
		t.Fatalf("missing file should load empty: %+v %v", empty, err)
	}

	board := NewScoreBoard(store)
	board.Reset("2025-03-04")
	if _, err := board.Record(ctx, ScoreRecord{UserID: 5, Name: "Ravi", Score: 6.67, ElapsedSeconds: 90, DateKey: "2025-03-04", SkippedTimeout: 1}); err != nil {
		t.Fatalf("record: %v", err)
	}

	reloaded := NewScoreBoard(NewFileScoreStore(path))
	if err := reloaded.Load(ctx); err != nil {
		t.Fatalf("reload: %v", err)
	}
	rec := reloaded.Snapshot().Records[5]
	if reloaded.DateKey() != "2025-03-04" || rec.Name != "Ravi" || rec.SkippedTimeout != 1 || rec.ElapsedSeconds != 90 {
		t.Fatalf("unexpected reloaded record: %+v", rec)
	}
}

// fakeGist serves a single gist the way the GitHub API does.
type fakeGist struct {
	mu      sync.Mutex
	content string
	token   string
}

func (g *fakeGist) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if r.URL.Path != "/gists/abc" {
		http.NotFound(w, r)
		return
	}
	g.token = r.Header.Get("Authorization")
	switch r.Method {
	case http.MethodGet:
		_ = json.NewEncoder(w).Encode(map[string]any{
			"files": map[string]any{"daily_scores.json": map[string]string{"content": g.content}},
		})
	case http.MethodPatch:
		body, _ := io.ReadAll(r.Body)
		var payload struct {
			Files map[string]struct {
				Content string `json:"content"`
			} `json:"files"`
		}
		if err := json.Unmarshal(body, &payload); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		g.content = payload.Files["daily_scores.json"].Content
		w.WriteHeader(http.StatusOK)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func TestGistScoreStoreRoundTrip(t *testing.T) {
	gist := &fakeGist{}
	srv := httptest.NewServer(gist)
	t.Cleanup(srv.Close)

	store := NewGistScoreStore("abc", "secret")
	store.baseURL = srv.URL
	ctx := testutil.Context(t, 0)

	snap, err := store.Load(ctx)
	if err != nil || len(snap.Records) != 0 {
		t.Fatalf("empty gist should load empty: %+v %v", snap, err)
	}
	want := Snapshot{DateKey: "2025-03-04", Records: map[int64]ScoreRecord{
		9: {UserID: 9, Name: "Meera", Score: 12, DateKey: "2025-03-04"},
	}}
	if err := store.Save(ctx, want); err != nil {
		t.Fatalf("save: %v", err)
	}
	if gist.token != "token secret" {
		t.Fatalf("missing auth header, got %q", gist.token)
	}
	got, err := store.Load(ctx)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got.DateKey != want.DateKey || got.Records[9].Name != "Meera" {
		t.Fatalf("unexpected snapshot: %+v", got)
	}
}

func TestGistScoreStoreHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	t.Cleanup(srv.Close)

	store := NewGistScoreStore("abc", "bad")
	store.baseURL = srv.URL
	if _, err := store.Load(context.Background()); err == nil || !strings.Contains(err.Error(), "401") {
		t.Fatalf("expected HTTP 401 error, got %v", err)
	}
}

func TestSQLScoreStoreRoundTrip(t *testing.T) {
	store, err := NewSQLScoreStore(filepath.Join(t.TempDir(), "scores.db"))
	if err != nil {
		if strings.Contains(err.Error(), "CGO_ENABLED=0") {
			t.Skip("sqlite driver requires cgo")
		}
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	ctx := testutil.Context(t, 0)

	first := Snapshot{DateKey: "2025-03-04", Records: map[int64]ScoreRecord{
		1: {UserID: 1, Name: "One", Score: 4, ElapsedSeconds: 30, DateKey: "2025-03-04"},
		2: {UserID: 2, Name: "Two", Score: 2, ElapsedSeconds: 10, DateKey: "2025-03-04", SkippedUser: 1},
	}}
	if err := store.Save(ctx, first); err != nil {
		t.Fatalf("save: %v", err)
	}
	second := Snapshot{DateKey: "2025-03-05", Records: map[int64]ScoreRecord{
		3: {UserID: 3, Name: "Three", Score: 1, DateKey: "2025-03-05"},
	}}
	if err := store.Save(ctx, second); err != nil {
		t.Fatalf("save: %v", err)
	}

	got, err := store.Load(ctx)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got.DateKey != "2025-03-05" || len(got.Records) != 1 || got.Records[3].Name != "Three" {
		t.Fatalf("snapshot should be replaced, got %+v", got)
	}
}

func TestNewScoreStoreKinds(t *testing.T) {
	if _, ok := mustStore(t, StoreConfig{}).(*FileScoreStore); !ok {
		t.Fatalf("default store should be a file store")
	}
	if _, ok := mustStore(t, StoreConfig{Kind: "memory"}).(*MemoryScoreStore); !ok {
		t.Fatalf("expected memory store")
	}
	if _, ok := mustStore(t, StoreConfig{Kind: "gist", GistID: "x", GistToken: "y"}).(*GistScoreStore); !ok {
		t.Fatalf("expected gist store")
	}
	if _, err := NewScoreStore(StoreConfig{Kind: "gist"}); err == nil {
		t.Fatalf("gist without credentials must fail")
	}
	if _, err := NewScoreStore(StoreConfig{Kind: "redis"}); err == nil {
		t.Fatalf("unknown kind must fail")
	}
}

func mustStore(t *testing.T, cfg StoreConfig) ScoreStore {
	t.Helper()
	store, err := NewScoreStore(cfg)
	if err != nil {
		t.Fatalf("NewScoreStore(%+v): %v", cfg, err)
	}
	return store
}
