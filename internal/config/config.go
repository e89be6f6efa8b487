package config

import (
	"time"
)

// Seconds is a duration written as a (possibly fractional) number of seconds.
type Seconds float64

// Duration converts s to a time.Duration.
func (s Seconds) Duration() time.Duration {
	return time.Duration(float64(s) * float64(time.Second))
}

// Config is the bot configuration.
type Config struct {
	BotToken        string          `yaml:"bot_token" validate:"required"`
	AdminIDs        []int64         `yaml:"admin_ids" validate:"dive,gt=0"`
	AdminListenAddr string          `yaml:"admin_listen_addr" validate:"omitempty,hostname_port"`
	Quiz            QuizConfig      `yaml:"quiz"`
	Dispatch        DispatchConfig  `yaml:"dispatch"`
	Scores          ScoresConfig    `yaml:"scores"`
	Integrity       IntegrityConfig `yaml:"integrity"`
}

// QuizConfig covers question content and the per-question flow.
type QuizConfig struct {
	CSVURL               string  `yaml:"csv_url" validate:"omitempty,url"`
	CSVFile              string  `yaml:"csv_file"`
	Timezone             string  `yaml:"timezone" validate:"required"`
	SwitchHour           int     `yaml:"switch_hour" validate:"gte=0,lte=23"`
	QuestionTime         Seconds `yaml:"question_time" validate:"gt=0"`
	TransitionDelay      Seconds `yaml:"transition_delay" validate:"gte=0"`
	Marks                float64 `yaml:"marks" validate:"gte=0"`
	NegativeRatio        float64 `yaml:"negative_ratio" validate:"gte=0,lte=1"`
	Grace                Seconds `yaml:"grace" validate:"gte=0"`
	FetchAttempts        int     `yaml:"fetch_attempts" validate:"gte=1"`
	FetchBackoff         Seconds `yaml:"fetch_backoff" validate:"gte=0"`
	FinalWindow          Seconds `yaml:"force_preload_final_window" validate:"gte=0"`
	LateNoticeInterval   Seconds `yaml:"late_notice_interval" validate:"gte=0"`
	ExplanationChunkSize int     `yaml:"explanation_chunk_size" validate:"gte=200,lte=4000"`
	Shuffle              bool    `yaml:"shuffle"`
}

// DispatchConfig tunes the outbound gateway.
type DispatchConfig struct {
	MaxConcurrent  int     `yaml:"max_concurrent_sends" validate:"gte=1"`
	JitterMax      Seconds `yaml:"jitter_max" validate:"gte=0"`
	RetryMax       int     `yaml:"retry_max" validate:"gte=0"`
	BaseBackoff    Seconds `yaml:"base_backoff" validate:"gt=0"`
	UserQueueSize  int     `yaml:"user_queue_size" validate:"gte=1"`
	AdminQueueSize int     `yaml:"admin_queue_size" validate:"gte=1"`
	Workers        int     `yaml:"workers" validate:"gte=1"`
}

// ScoresConfig selects where the daily leaderboard is kept.
type ScoresConfig struct {
	Store     string `yaml:"store" validate:"oneof=file gist sqlite memory"`
	Path      string `yaml:"path" validate:"required_if=Store file,required_if=Store sqlite"`
	GistID    string `yaml:"gist_id" validate:"required_if=Store gist"`
	GistToken string `yaml:"gist_token" validate:"required_if=Store gist"`
}

// IntegrityConfig tunes the consistency sweep.
type IntegrityConfig struct {
	SessionTTL    Seconds `yaml:"session_ttl" validate:"gte=0"`
	SweepInterval Seconds `yaml:"sweep_interval" validate:"gt=0"`
}

// Default returns a config populated with the stock values.
func Default() Config {
	return Config{
		Quiz: QuizConfig{
			Timezone:             "Asia/Kolkata",
			SwitchHour:           17,
			QuestionTime:         20,
			TransitionDelay:      1,
			Marks:                2,
			NegativeRatio:        1.0 / 3.0,
			Grace:                0.5,
			FetchAttempts:        3,
			FetchBackoff:         1,
			FinalWindow:          30,
			LateNoticeInterval:   5,
			ExplanationChunkSize: 3800,
		},
		Dispatch: DispatchConfig{
			MaxConcurrent:  8,
			JitterMax:      0.5,
			RetryMax:       4,
			BaseBackoff:    0.5,
			UserQueueSize:  500,
			AdminQueueSize: 200,
			Workers:        2,
		},
		Scores: ScoresConfig{
			Store: "file",
			Path:  "daily_scores.json",
		},
		Integrity: IntegrityConfig{
			SessionTTL:    30 * 60,
			SweepInterval: 60,
		},
	}
}

// Location resolves the quiz timezone. India Standard Time is used when
// the zone database is unavailable.
func (q QuizConfig) Location() *time.Location {
	loc, err := time.LoadLocation(q.Timezone)
	if err != nil {
		return time.FixedZone("IST", 5*3600+30*60)
	}
	return loc
}
