package store

import (
	"context"
	"sync"

	"github.com/andresmejia3/proctor/internal/events"
)

// Sink appends a session's events to the database in the order they are produced.
type Sink struct {
	ctx       context.Context
	store     *Store
	sessionID string

	mu  sync.Mutex
	seq int
}

// NewSink returns an events.Sink bound to one stored session.
// ctx bounds each insert; pass a context that outlives the monitoring run.
func NewSink(ctx context.Context, s *Store, sessionID string) *Sink {
	return &Sink{ctx: ctx, store: s, sessionID: sessionID}
}

// Append implements events.Sink.
func (k *Sink) Append(e events.Event) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	if err := k.store.AppendEvent(k.ctx, k.sessionID, k.seq, e); err != nil {
		return err
	}
	k.seq++
	return nil
}
