package adminapi

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/PoluyanbIch/dailyquiz/internal/metrics"
	"github.com/PoluyanbIch/dailyquiz/internal/service"
	"github.com/PoluyanbIch/dailyquiz/internal/testutil"
)

type fakeRefresher struct {
	err       error
	confirmed []bool
	sessions  *service.SessionStore
}

func (f *fakeRefresher) ForceRefresh(_ context.Context, confirm bool) (string, error) {
	f.confirmed = append(f.confirmed, confirm)
	if f.err != nil && !confirm {
		return "", f.err
	}
	return "2026-10-17", nil
}

func (f *fakeRefresher) AttemptedCount() int { return 2 }

func (f *fakeRefresher) Sessions() *service.SessionStore { return f.sessions }

func newTestRouter(t *testing.T, refresher *fakeRefresher) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	board := service.NewScoreBoard(service.NewMemoryScoreStore())
	ctx := testutil.Context(t, time.Second)
	for i, rec := range []service.ScoreRecord{
		{UserID: 1, Name: "Asha", Score: 4, ElapsedSeconds: 30, DateKey: "2026-10-17"},
		{UserID: 2, Name: "Bo", Score: 6, ElapsedSeconds: 50, DateKey: "2026-10-17"},
	} {
		if _, err := board.Record(ctx, rec); err != nil {
			t.Fatalf("record %d: %v", i, err)
		}
	}
	counters := metrics.New()
	counters.SendRetries.Add(3)
	router := NewRouter(Deps{
		Engine:     refresher,
		Board:      board,
		Counters:   counters,
		CurrentKey: func() string { return "2026-10-17" },
	})
	return router
}

func do(router http.Handler, method, target string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(method, target, nil)
	router.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
	return body
}

func TestHealthz(t *testing.T) {
	router := newTestRouter(t, &fakeRefresher{sessions: service.NewSessionStore()})
	rec := do(router, http.MethodGet, "/healthz")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	body := decode(t, rec)
	if body["quiz_date_key"] != "2026-10-17" || body["status"] != "ok" {
		t.Fatalf("unexpected body %v", body)
	}
}

func TestMetrics(t *testing.T) {
	router := newTestRouter(t, &fakeRefresher{sessions: service.NewSessionStore()})
	body := decode(t, do(router, http.MethodGet, "/metrics"))
	counters, ok := body["counters"].(map[string]any)
	if !ok {
		t.Fatalf("missing counters in %v", body)
	}
	if counters["send_retries"] != float64(3) {
		t.Fatalf("send_retries = %v", counters["send_retries"])
	}
	if body["attempted_today"] != float64(2) || body["leaderboard_users"] != float64(2) {
		t.Fatalf("unexpected body %v", body)
	}
}

func TestLeaderboardOrderAndLimit(t *testing.T) {
	router := newTestRouter(t, &fakeRefresher{sessions: service.NewSessionStore()})

	body := decode(t, do(router, http.MethodGet, "/leaderboard"))
	entries, _ := body["entries"].([]any)
	if len(entries) != 2 {
		t.Fatalf("entries = %v", body["entries"])
	}
	first := entries[0].(map[string]any)
	if first["name"] != "Bo" {
		t.Fatalf("expected highest score first, got %v", first)
	}

	body = decode(t, do(router, http.MethodGet, "/leaderboard?limit=1"))
	entries, _ = body["entries"].([]any)
	if len(entries) != 1 {
		t.Fatalf("limit not applied: %v", body["entries"])
	}

	if rec := do(router, http.MethodGet, "/leaderboard?limit=zero"); rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestRefreshRequiresConfirmWhileBusy(t *testing.T) {
	refresher := &fakeRefresher{err: service.ErrActiveSessions, sessions: service.NewSessionStore()}
	router := newTestRouter(t, refresher)

	rec := do(router, http.MethodPost, "/refresh")
	if rec.Code != http.StatusConflict {
		t.Fatalf("status = %d", rec.Code)
	}
	rec = do(router, http.MethodPost, "/refresh?confirm=true")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if len(refresher.confirmed) != 2 || refresher.confirmed[0] || !refresher.confirmed[1] {
		t.Fatalf("confirm flags = %v", refresher.confirmed)
	}
}

func TestRefreshReportsFetchFailure(t *testing.T) {
	refresher := &fakeRefresher{
		err:      &service.ContentFetchError{Attempts: 3, Err: errors.New("boom")},
		sessions: service.NewSessionStore(),
	}
	router := newTestRouter(t, refresher)
	if rec := do(router, http.MethodPost, "/refresh"); rec.Code != http.StatusBadGateway {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestServeStopsOnCancel(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := ln.Addr().String()
	ln.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- Serve(ctx, addr, http.NotFoundHandler()) }()

	testutil.Eventually(t, time.Second, 10*time.Millisecond, func() bool {
		resp, err := http.Get("http://" + addr + "/")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusNotFound
	}, "admin server did not start")
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("serve: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("serve did not stop")
	}
}
