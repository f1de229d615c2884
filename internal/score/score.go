package score

import (
	"sync"

	"github.com/andresmejia3/proctor/internal/events"
)

const (
	// Initial is the score every session starts with.
	Initial = 100
	// Penalty is subtracted for each warning or suspicious event.
	Penalty = 5
)

// Scorer keeps a session's integrity score. It only ever decreases and is floored at 0.
type Scorer struct {
	mu    sync.Mutex
	score int
}

// New returns a scorer at the initial score.
func New() *Scorer {
	return &Scorer{score: Initial}
}

// OnEvent applies the penalty for warning and suspicious events.
func (s *Scorer) OnEvent(t events.Type) {
	if !t.Penalized() {
		return
	}
	s.mu.Lock()
	s.score = max(0, s.score-Penalty)
	s.mu.Unlock()
}

// Current returns the score.
func (s *Scorer) Current() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.score
}

// Replay computes the score a fresh session would have after the given events.
func Replay(evs []events.Event) int {
	s := New()
	for _, e := range evs {
		s.OnEvent(e.Type)
	}
	return s.Current()
}

// Band classifies a score as high, medium or low.
func Band(score int) string {
	switch {
	case score >= 80:
		return "high"
	case score >= 60:
		return "medium"
	default:
		return "low"
	}
}
