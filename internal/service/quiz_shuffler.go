package service

import (
	"math/rand"
	"sync"
	"time"
)

var (
	shuffleMu  sync.Mutex
	shuffleRnd = rand.New(rand.NewSource(time.Now().UnixNano()))
)

// ShuffleQuestions returns a shuffled copy of questions; the input is left
// untouched so cached sets stay shared and immutable.
func ShuffleQuestions(questions []Question) []Question {
	shuffled := make([]Question, len(questions))
	copy(shuffled, questions)

	shuffleMu.Lock()
	defer shuffleMu.Unlock()
	// Fisher-Yates
	for i := len(shuffled) - 1; i > 0; i-- {
		j := shuffleRnd.Intn(i + 1)
		shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
	}
	return shuffled
}
