package service

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
	"time"
)

// rowDateLayout is the date format used by the question sheet.
const rowDateLayout = "02-01-2006"

// Row is one raw sheet row keyed by lowercased column name.
type Row map[string]string

// Defaults fill in values a row leaves blank or malformed.
type Defaults struct {
	TimeLimit     time.Duration
	Marks         float64
	NegativeRatio float64
}

// DefaultValues are the sheet defaults used when nothing is configured.
var DefaultValues = Defaults{
	TimeLimit:     20 * time.Second,
	Marks:         2,
	NegativeRatio: 1.0 / 3.0,
}

// ParseCSV reads a question sheet. The first record is the header.
func ParseCSV(r io.Reader) ([]Row, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read csv: %w", err)
	}
	data = bytes.TrimPrefix(data, []byte("\ufeff"))

	reader := csv.NewReader(bytes.NewReader(data))
	reader.FieldsPerRecord = -1
	records, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("parse csv: %w", err)
	}
	if len(records) == 0 {
		return nil, nil
	}

	header := make([]string, len(records[0]))
	for i, name := range records[0] {
		header[i] = strings.ToLower(strings.TrimSpace(name))
	}
	rows := make([]Row, 0, len(records)-1)
	for _, record := range records[1:] {
		row := make(Row, len(header))
		for i, name := range header {
			if i < len(record) {
				row[name] = record[i]
			}
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// NormalizeRows converts raw rows into questions. Rows without a parsable
// date are dropped; every other malformed field falls back to defaults or
// marks the question invalid.
func NormalizeRows(rows []Row, defaults Defaults) []Question {
	questions := make([]Question, 0, len(rows))
	for _, row := range rows {
		q, ok := normalizeRow(row, defaults)
		if !ok {
			continue
		}
		questions = append(questions, q)
	}
	return questions
}

func normalizeRow(row Row, defaults Defaults) (Question, bool) {
	raw := strings.TrimSpace(row["date"])
	if raw == "" {
		return Question{}, false
	}
	date, err := time.Parse(rowDateLayout, raw)
	if err != nil {
		return Question{}, false
	}

	q := Question{
		DateKey:     date.Format(DateKeyLayout),
		Prompt:      unescapeNewlines(row["question"]),
		Explanation: unescapeNewlines(row["explanation"]),
		Options: [4]string{
			row["option_a"],
			row["option_b"],
			row["option_c"],
			row["option_d"],
		},
		TimeLimit:     parseTimeLimit(row["time"], defaults.TimeLimit),
		Marks:         parseMarks(row["marks"], defaults.Marks),
		NegativeRatio: parseNegativeRatio(row["negative_ratio"], defaults.NegativeRatio),
	}

	correct, ok := ParseCorrectOption(row["correct_option"])
	if !ok {
		q.Correct = -1
		q.InvalidReason = "invalid_correct_option"
	} else {
		q.Correct = correct
	}
	return q, true
}

// ParseCorrectOption converts a single letter A-D into an option index.
func ParseCorrectOption(value string) (int, bool) {
	value = strings.ToUpper(strings.TrimSpace(value))
	if len(value) != 1 || value[0] < 'A' || value[0] > 'D' {
		return -1, false
	}
	return int(value[0] - 'A'), true
}

// parseTimeLimit reads whole seconds, clamped to at least one second.
func parseTimeLimit(value string, def time.Duration) time.Duration {
	seconds, err := parseNumber(value)
	if err != nil {
		return def
	}
	whole := int64(seconds)
	if whole < 1 {
		whole = 1
	}
	return time.Duration(whole) * time.Second
}

func parseMarks(value string, def float64) float64 {
	marks, err := parseNumber(value)
	if err != nil || marks < 0 {
		return def
	}
	return marks
}

func parseNegativeRatio(value string, def float64) float64 {
	ratio, err := parseNumber(value)
	if err != nil || ratio < 0 || ratio > 1 {
		return def
	}
	return ratio
}

// parseNumber parses a finite float.
func parseNumber(value string) (float64, error) {
	n, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil {
		return 0, err
	}
	if math.IsNaN(n) || math.IsInf(n, 0) {
		return 0, fmt.Errorf("not a finite number: %q", value)
	}
	return n, nil
}

// unescapeNewlines turns literal "\n" sequences from the sheet into newlines.
func unescapeNewlines(value string) string {
	return strings.ReplaceAll(value, `\n`, "\n")
}
