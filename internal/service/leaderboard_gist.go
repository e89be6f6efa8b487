package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// GistScoreStore keeps the snapshot in a file of a GitHub Gist.
type GistScoreStore struct {
	gistID      string
	githubToken string
	filename    string
	baseURL     string
	client      *http.Client
}

// NewGistScoreStore creates a store for the given gist.
func NewGistScoreStore(gistID, githubToken string) *GistScoreStore {
	return &GistScoreStore{
		gistID:      gistID,
		githubToken: githubToken,
		filename:    "daily_scores.json",
		baseURL:     "https://api.github.com",
		client:      &http.Client{Timeout: 15 * time.Second},
	}
}

func (gs *GistScoreStore) url() string {
	return fmt.Sprintf("%s/gists/%s", gs.baseURL, gs.gistID)
}

// Load reads the snapshot file from the gist; a missing file is empty.
func (gs *GistScoreStore) Load(ctx context.Context) (Snapshot, error) {
	snap := Snapshot{Records: map[int64]ScoreRecord{}}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, gs.url(), nil)
	if err != nil {
		return snap, err
	}
	if gs.githubToken != "" {
		req.Header.Set("Authorization", "token "+gs.githubToken)
	}

	resp, err := gs.client.Do(req)
	if err != nil {
		return snap, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return snap, fmt.Errorf("HTTP %d: %s", resp.StatusCode, resp.Status)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return snap, err
	}

	var gist struct {
		Files map[string]struct {
			Content string `json:"content"`
		} `json:"files"`
	}
	if err := json.Unmarshal(body, &gist); err != nil {
		return snap, err
	}

	file, exists := gist.Files[gs.filename]
	if exists && file.Content != "" {
		if err := json.Unmarshal([]byte(file.Content), &snap); err != nil {
			return Snapshot{Records: map[int64]ScoreRecord{}}, err
		}
	}
	if snap.Records == nil {
		snap.Records = map[int64]ScoreRecord{}
	}
	return snap, nil
}

// Save replaces the snapshot file in the gist.
func (gs *GistScoreStore) Save(ctx context.Context, snap Snapshot) error {
	content, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return err
	}

	payload := map[string]any{
		"files": map[string]any{
			gs.filename: map[string]any{
				"content": string(content),
			},
		},
	}
	jsonPayload, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPatch, gs.url(), bytes.NewReader(jsonPayload))
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "token "+gs.githubToken)
	req.Header.Set("Content-Type", "application/json")

	resp, err := gs.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("HTTP %d: %s", resp.StatusCode, resp.Status)
	}
	return nil
}
