package service

// EventKind identifies a user-facing notice emitted by the engine.
type EventKind int

const (
	EventQuizQueued EventKind = iota
	EventQuizUnavailable
	EventStartFailed
	EventInvalidSkipped
	EventSkipped
	EventTimedOut
	EventLateAnswer
	EventStrayAnswer
	EventHighLoad
	EventFinished
	EventExplanations
)

var eventNames = map[EventKind]string{
	EventQuizQueued:      "quiz_queued",
	EventQuizUnavailable: "quiz_unavailable",
	EventStartFailed:     "start_failed",
	EventInvalidSkipped:  "invalid_skipped",
	EventSkipped:         "skipped",
	EventTimedOut:        "timed_out",
	EventLateAnswer:      "late_answer",
	EventStrayAnswer:     "stray_answer",
	EventHighLoad:        "high_load",
	EventFinished:        "finished",
	EventExplanations:    "explanations",
}

func (k EventKind) String() string {
	if name, ok := eventNames[k]; ok {
		return name
	}
	return "unknown"
}

// Event is structured output for the presentation layer.
type Event struct {
	Kind   EventKind
	UserID int64
	// Question is the 1-based number of the question concerned.
	Question int
	Total    int
	Reason   string

	Summary      *Summary
	Leaderboard  []ScoreRecord
	Rank         int
	Explanations []Explanation
}

// ChunkExplanations splits explanations into groups whose combined size
// stays within limit. size measures one explanation as it will be shown; nil
// counts characters. A single oversized explanation gets its own group.
func ChunkExplanations(explanations []Explanation, limit int, size func(Explanation) int) [][]Explanation {
	if len(explanations) == 0 {
		return nil
	}
	if limit <= 0 {
		return [][]Explanation{explanations}
	}
	if size == nil {
		size = plainSize
	}
	var chunks [][]Explanation
	var current []Explanation
	total := 0
	for _, e := range explanations {
		n := size(e)
		if len(current) > 0 && total+n > limit {
			chunks = append(chunks, current)
			current = nil
			total = 0
		}
		current = append(current, e)
		total += n
	}
	if len(current) > 0 {
		chunks = append(chunks, current)
	}
	return chunks
}

func plainSize(e Explanation) int {
	const overhead = 32
	return len([]rune(e.Question)) + len([]rune(e.Text)) + overhead
}
