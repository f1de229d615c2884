// Package events defines the append-only event stream a monitoring session produces.
package events

import (
	"fmt"
	"sync"
	"time"
)

// Type classifies an event.
type Type string

const (
	Info       Type = "info"
	Warning    Type = "warning"
	Suspicious Type = "suspicious"
	Error      Type = "error"
)

// ParseType validates a stored type string.
func ParseType(s string) (Type, error) {
	switch t := Type(s); t {
	case Info, Warning, Suspicious, Error:
		return t, nil
	}
	return "", fmt.Errorf("unknown event type %q", s)
}

// Penalized reports whether the type costs integrity points.
func (t Type) Penalized() bool {
	return t == Warning || t == Suspicious
}

// Event is one entry in a session's log.
type Event struct {
	Time    time.Time `json:"time" msgpack:"time"`
	Type    Type      `json:"type" msgpack:"type"`
	Message string    `json:"event" msgpack:"event"`
}

// Sink consumes events in creation order.
type Sink interface {
	Append(Event) error
}

// Log is an in-memory Sink safe for concurrent use.
type Log struct {
	mu     sync.RWMutex
	events []Event
}

// Append adds an event to the end of the log.
func (l *Log) Append(e Event) error {
	l.mu.Lock()
	l.events = append(l.events, e)
	l.mu.Unlock()
	return nil
}

// Events returns a copy of the log.
func (l *Log) Events() []Event {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]Event, len(l.events))
	copy(out, l.events)
	return out
}

// Len returns the number of events appended so far.
func (l *Log) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.events)
}

// Count returns how many events of the given type were logged.
func (l *Log) Count(t Type) int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	n := 0
	for _, e := range l.events {
		if e.Type == t {
			n++
		}
	}
	return n
}
