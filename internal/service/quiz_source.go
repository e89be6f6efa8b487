package service

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"time"
)

// Source fetches raw question rows.
type Source interface {
	Fetch(ctx context.Context) ([]Row, error)
}

// ContentFetchError is returned once every fetch attempt has failed.
type ContentFetchError struct {
	Attempts int
	Err      error
}

func (e *ContentFetchError) Error() string {
	return fmt.Sprintf("fetch questions failed after %d attempts: %v", e.Attempts, e.Err)
}

func (e *ContentFetchError) Unwrap() error { return e.Err }

// HTTPSource reads a published CSV sheet.
type HTTPSource struct {
	URL    string
	Client *http.Client
	now    func() time.Time
}

// NewHTTPSource creates an HTTPSource with a request timeout.
func NewHTTPSource(rawURL string, timeout time.Duration) *HTTPSource {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &HTTPSource{
		URL:    rawURL,
		Client: &http.Client{Timeout: timeout},
		now:    time.Now,
	}
}

// Fetch downloads and parses the sheet, bypassing intermediate caches.
func (s *HTTPSource) Fetch(ctx context.Context) ([]Row, error) {
	u, err := url.Parse(s.URL)
	if err != nil {
		return nil, fmt.Errorf("parse sheet url: %w", err)
	}
	query := u.Query()
	query.Set("_ts", strconv.FormatInt(s.now().Unix(), 10))
	u.RawQuery = query.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}
	resp, err := s.Client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("HTTP %d: %s", resp.StatusCode, resp.Status)
	}
	return ParseCSV(resp.Body)
}

// FileSource reads the sheet from a local CSV file.
type FileSource struct {
	Path string
}

// Fetch opens and parses the file.
func (s FileSource) Fetch(context.Context) ([]Row, error) {
	file, err := os.Open(s.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	defer file.Close()
	return ParseCSV(file)
}

// FetchWithRetries calls src up to attempts times, doubling the delay
// between attempts starting at backoff.
func FetchWithRetries(ctx context.Context, src Source, attempts int, backoff time.Duration, sleep func(context.Context, time.Duration) error) ([]Row, error) {
	if attempts <= 0 {
		attempts = 1
	}
	if sleep == nil {
		sleep = sleepContext
	}
	delay := backoff
	var lastErr error
	for i := 1; i <= attempts; i++ {
		rows, err := src.Fetch(ctx)
		if err == nil {
			return rows, nil
		}
		lastErr = err
		log.Printf("content: fetch failed (attempt %d/%d): %v", i, attempts, err)
		if i == attempts {
			break
		}
		if err := sleep(ctx, delay); err != nil {
			return nil, err
		}
		delay *= 2
	}
	return nil, &ContentFetchError{Attempts: attempts, Err: lastErr}
}

// sleepContext waits for d or until ctx is done.
func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
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
