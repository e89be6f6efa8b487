package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// FileScoreStore keeps the snapshot as a JSON file.
type FileScoreStore struct {
	Path string
}

// NewFileScoreStore creates a store writing to path.
func NewFileScoreStore(path string) *FileScoreStore {
	if path == "" {
		path = "daily_scores.json"
	}
	return &FileScoreStore{Path: path}
}

// Load reads the file; a missing file is an empty snapshot.
func (f *FileScoreStore) Load(context.Context) (Snapshot, error) {
	snap := Snapshot{Records: map[int64]ScoreRecord{}}
	data, err := os.ReadFile(f.Path)
	if errors.Is(err, os.ErrNotExist) {
		return snap, nil
	}
	if err != nil {
		return snap, err
	}
	if err := json.Unmarshal(data, &snap); err != nil {
		return Snapshot{Records: map[int64]ScoreRecord{}}, fmt.Errorf("decode %s: %w", f.Path, err)
	}
	if snap.Records == nil {
		snap.Records = map[int64]ScoreRecord{}
	}
	return snap, nil
}

// Save writes the snapshot through a temp file and rename.
func (f *FileScoreStore) Save(_ context.Context, snap Snapshot) error {
	content, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(f.Path), ".scores-*.json")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(content); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), f.Path)
}
