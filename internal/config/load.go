package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Load builds the configuration. Values come from the defaults, then the
// YAML file at path (optional when empty), then the environment. envFile
// names a dotenv file whose variables are added to the environment when it
// exists.
func Load(path, envFile string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if err := Parse(data, &cfg); err != nil {
			return Config{}, err
		}
	}
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return Config{}, fmt.Errorf("load env file: %w", err)
		}
	}
	if err := ApplyEnv(&cfg, os.LookupEnv); err != nil {
		return Config{}, err
	}
	Normalize(&cfg)
	if err := Validate(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Parse decodes a single YAML document onto cfg. Unknown keys are rejected.
func Parse(data []byte, cfg *Config) error {
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(cfg); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return fmt.Errorf("parse config: %w", err)
	}
	if err := decoder.Decode(&struct{}{}); err != io.EOF {
		if err == nil {
			return fmt.Errorf("parse config: multiple YAML documents are not supported")
		}
		return fmt.Errorf("parse config: %w", err)
	}
	return nil
}

// Normalize trims string fields.
func Normalize(cfg *Config) {
	cfg.BotToken = strings.TrimSpace(cfg.BotToken)
	cfg.AdminListenAddr = strings.TrimSpace(cfg.AdminListenAddr)
	cfg.Quiz.CSVURL = strings.TrimSpace(cfg.Quiz.CSVURL)
	cfg.Quiz.CSVFile = strings.TrimSpace(cfg.Quiz.CSVFile)
	cfg.Scores.Store = strings.ToLower(strings.TrimSpace(cfg.Scores.Store))
}

// ApplyEnv overrides cfg with the variables lookup finds.
func ApplyEnv(cfg *Config, lookup func(string) (string, bool)) error {
	e := envReader{lookup: lookup}

	e.str("BOT_TOKEN", &cfg.BotToken)
	e.ids("ADMIN_IDS", &cfg.AdminIDs)
	e.str("ADMIN_LISTEN_ADDR", &cfg.AdminListenAddr)

	e.str("QUIZ_CSV_URL", &cfg.Quiz.CSVURL)
	e.str("QUIZ_CSV_FILE", &cfg.Quiz.CSVFile)
	e.str("QUIZ_TIMEZONE", &cfg.Quiz.Timezone)
	e.integer("QUIZ_SWITCH_HOUR", &cfg.Quiz.SwitchHour)
	e.seconds("DEFAULT_QUESTION_TIME", &cfg.Quiz.QuestionTime)
	e.seconds("TRANSITION_DELAY", &cfg.Quiz.TransitionDelay)
	e.float("DEFAULT_MARKS_PER_QUESTION", &cfg.Quiz.Marks)
	e.float("DEFAULT_NEGATIVE_RATIO", &cfg.Quiz.NegativeRatio)
	e.seconds("GRACE_SECONDS", &cfg.Quiz.Grace)
	e.integer("CSV_FETCH_ATTEMPTS", &cfg.Quiz.FetchAttempts)
	e.seconds("CSV_FETCH_BACKOFF_BASE", &cfg.Quiz.FetchBackoff)
	e.seconds("FORCE_PRELOAD_FINAL_WINDOW_SECONDS", &cfg.Quiz.FinalWindow)
	e.seconds("RATE_LIMIT_LATE_MSG_SECONDS", &cfg.Quiz.LateNoticeInterval)
	e.integer("EXPLANATION_CHUNK_SIZE", &cfg.Quiz.ExplanationChunkSize)
	e.boolean("SHUFFLE_QUESTIONS", &cfg.Quiz.Shuffle)

	e.integer("MAX_CONCURRENT_SENDS", &cfg.Dispatch.MaxConcurrent)
	e.seconds("SEND_JITTER_MAX", &cfg.Dispatch.JitterMax)
	e.integer("SEND_RETRY_MAX", &cfg.Dispatch.RetryMax)
	e.seconds("SEND_BASE_BACKOFF", &cfg.Dispatch.BaseBackoff)
	e.integer("MAX_USER_QUEUE_SIZE", &cfg.Dispatch.UserQueueSize)
	e.integer("MAX_ADMIN_QUEUE_SIZE", &cfg.Dispatch.AdminQueueSize)
	e.integer("SEND_WORKERS", &cfg.Dispatch.Workers)

	e.str("SCORE_STORE", &cfg.Scores.Store)
	e.str("DAILY_SCORES_FILE", &cfg.Scores.Path)
	e.str("GITHUB_GIST_ID", &cfg.Scores.GistID)
	e.str("GITHUB_TOKEN", &cfg.Scores.GistToken)

	e.seconds("SESSION_TTL", &cfg.Integrity.SessionTTL)
	e.seconds("INTEGRITY_SWEEP_INTERVAL", &cfg.Integrity.SweepInterval)

	return e.err()
}

type envReader struct {
	lookup func(string) (string, bool)
	errs   []error
}

func (e *envReader) value(key string) (string, bool) {
	raw, ok := e.lookup(key)
	if !ok {
		return "", false
	}
	raw = strings.TrimSpace(raw)
	return raw, raw != ""
}

func (e *envReader) fail(key, raw string, err error) {
	e.errs = append(e.errs, fmt.Errorf("%s=%q: %w", key, raw, err))
}

func (e *envReader) str(key string, dst *string) {
	if raw, ok := e.value(key); ok {
		*dst = raw
	}
}

func (e *envReader) integer(key string, dst *int) {
	raw, ok := e.value(key)
	if !ok {
		return
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		e.fail(key, raw, err)
		return
	}
	*dst = v
}

func (e *envReader) float(key string, dst *float64) {
	raw, ok := e.value(key)
	if !ok {
		return
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		e.fail(key, raw, err)
		return
	}
	*dst = v
}

func (e *envReader) seconds(key string, dst *Seconds) {
	v := float64(*dst)
	e.float(key, &v)
	*dst = Seconds(v)
}

func (e *envReader) boolean(key string, dst *bool) {
	raw, ok := e.value(key)
	if !ok {
		return
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		e.fail(key, raw, err)
		return
	}
	*dst = v
}

// ids parses a comma separated list of user ids.
func (e *envReader) ids(key string, dst *[]int64) {
	raw, ok := e.value(key)
	if !ok {
		return
	}
	var out []int64
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, err := strconv.ParseInt(part, 10, 64)
		if err != nil {
			e.fail(key, raw, err)
			return
		}
		out = append(out, id)
	}
	*dst = out
}

func (e *envReader) err() error {
	if len(e.errs) == 0 {
		return nil
	}
	return fmt.Errorf("environment: %w", errors.Join(e.errs...))
}
