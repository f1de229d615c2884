package events

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

// Scorer receives the type of every recorded event.
type Scorer interface {
	OnEvent(Type)
}

// RecorderOptions configure a Recorder.
type RecorderOptions struct {
	Clock  clock.Clock
	Scorer Scorer
	Sinks  []Sink
	Logger *slog.Logger
}

// Recorder serializes event creation for one session: it stamps each event, appends it to the
// in-memory log and every sink in order, and feeds the scorer.
type Recorder struct {
	mu     sync.Mutex
	clock  clock.Clock
	scorer Scorer
	sinks  []Sink
	logger *slog.Logger
	log    *Log
	last   time.Time
}

// NewRecorder builds a recorder with an empty log.
func NewRecorder(opts RecorderOptions) *Recorder {
	c := opts.Clock
	if c == nil {
		c = clock.New()
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{
		clock:  c,
		scorer: opts.Scorer,
		sinks:  opts.Sinks,
		logger: logger,
		log:    &Log{},
	}
}

// Emit records one event. Sink failures are logged and do not stop the remaining sinks.
func (r *Recorder) Emit(t Type, msg string) Event {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.clock.Now()
	if now.Before(r.last) {
		now = r.last
	}
	r.last = now

	e := Event{Time: now, Type: t, Message: msg}
	r.log.Append(e)
	if r.scorer != nil {
		r.scorer.OnEvent(t)
	}
	for _, s := range r.sinks {
		if err := s.Append(e); err != nil {
			r.logger.Error("event sink append failed", "error", err, "type", t)
		}
	}

	r.logger.Log(context.Background(), levelOf(t), msg, "type", string(t))
	return e
}

// Emitf formats the message before recording it.
func (r *Recorder) Emitf(t Type, format string, args ...any) Event {
	return r.Emit(t, fmt.Sprintf(format, args...))
}

// Log exposes the in-memory copy of everything recorded.
func (r *Recorder) Log() *Log {
	return r.log
}

func levelOf(t Type) slog.Level {
	switch t {
	case Warning, Suspicious:
		return slog.LevelWarn
	case Error:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
