package service

import (
	"context"
	"fmt"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// scoreRow is the table layout of a ScoreRecord.
type scoreRow struct {
	DateKey        string `gorm:"primaryKey;size:10"`
	UserID         int64  `gorm:"primaryKey"`
	Name           string
	Score          float64
	ElapsedSeconds int64
	SkippedUser    int
	SkippedTimeout int
	SkippedInvalid int
}

func (scoreRow) TableName() string { return "score_records" }

// SQLScoreStore keeps the snapshot in a SQLite table.
type SQLScoreStore struct {
	db *gorm.DB
}

// NewSQLScoreStore opens (and migrates) the database at path.
func NewSQLScoreStore(path string) (*SQLScoreStore, error) {
	if path == "" {
		path = "daily_scores.db"
	}
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open score database: %w", err)
	}
	if err := db.AutoMigrate(&scoreRow{}); err != nil {
		return nil, fmt.Errorf("migrate score database: %w", err)
	}
	return &SQLScoreStore{db: db}, nil
}

// Load reads every row. Rows always belong to a single date-key.
func (s *SQLScoreStore) Load(ctx context.Context) (Snapshot, error) {
	var rows []scoreRow
	snap := Snapshot{Records: map[int64]ScoreRecord{}}
	if err := s.db.WithContext(ctx).Find(&rows).Error; err != nil {
		return snap, err
	}
	for _, row := range rows {
		snap.DateKey = row.DateKey
		snap.Records[row.UserID] = ScoreRecord{
			UserID:         row.UserID,
			Name:           row.Name,
			Score:          row.Score,
			ElapsedSeconds: row.ElapsedSeconds,
			DateKey:        row.DateKey,
			SkippedUser:    row.SkippedUser,
			SkippedTimeout: row.SkippedTimeout,
			SkippedInvalid: row.SkippedInvalid,
		}
	}
	return snap, nil
}

// Save replaces the table contents with snap in one transaction.
func (s *SQLScoreStore) Save(ctx context.Context, snap Snapshot) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("1 = 1").Delete(&scoreRow{}).Error; err != nil {
			return err
		}
		if len(snap.Records) == 0 {
			return nil
		}
		rows := make([]scoreRow, 0, len(snap.Records))
		for _, rec := range snap.Records {
			rows = append(rows, scoreRow{
				DateKey:        snap.DateKey,
				UserID:         rec.UserID,
				Name:           rec.Name,
				Score:          rec.Score,
				ElapsedSeconds: rec.ElapsedSeconds,
				SkippedUser:    rec.SkippedUser,
				SkippedTimeout: rec.SkippedTimeout,
				SkippedInvalid: rec.SkippedInvalid,
			})
		}
		return tx.CreateInBatches(rows, 100).Error
	})
}

// Close releases the database handle.
func (s *SQLScoreStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
