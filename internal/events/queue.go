package events

import (
	"context"
	"errors"
	"log/slog"
	"sync"
)

// ErrQueueClosed is returned by Append after Close.
var ErrQueueClosed = errors.New("event queue closed")

// Queue forwards events to a slow sink from its own goroutine, preserving order.
// Append never waits on the sink, so database or broker latency stays out of analysis cycles.
type Queue struct {
	sink   Sink
	logger *slog.Logger

	mu       sync.Mutex
	pending  []Event
	inflight int
	closed   bool
	failed   int

	wake chan struct{}
	done chan struct{}
}

// NewQueue starts draining into sink.
func NewQueue(sink Sink, logger *slog.Logger) *Queue {
	if logger == nil {
		logger = slog.Default()
	}
	q := &Queue{
		sink:   sink,
		logger: logger,
		wake:   make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
	go q.run()
	return q
}

// Append implements Sink. It only buffers the event.
func (q *Queue) Append(e Event) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return ErrQueueClosed
	}
	q.pending = append(q.pending, e)
	q.mu.Unlock()
	q.signal()
	return nil
}

func (q *Queue) signal() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

func (q *Queue) run() {
	defer close(q.done)
	for {
		q.mu.Lock()
		batch := q.pending
		q.pending = nil
		q.inflight = len(batch)
		closed := q.closed
		q.mu.Unlock()

		for _, e := range batch {
			err := q.sink.Append(e)
			q.mu.Lock()
			q.inflight--
			if err != nil {
				q.failed++
			}
			q.mu.Unlock()
			if err != nil {
				q.logger.Error("event sink append failed", "error", err, "type", e.Type)
			}
		}
		if len(batch) > 0 {
			continue
		}
		if closed {
			return
		}
		<-q.wake
	}
}

// Close stops accepting events and waits until everything buffered reached the sink,
// or ctx is done. It is safe to call more than once.
func (q *Queue) Close(ctx context.Context) error {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	q.signal()

	select {
	case <-q.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Pending returns the number of events not yet handed to the sink.
func (q *Queue) Pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending) + q.inflight
}

// Failed returns how many events the sink rejected.
func (q *Queue) Failed() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.failed
}
