// Package tracker turns per-cycle face and object results into debounced, rate-limited events.
package tracker

import (
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/andresmejia3/proctor/internal/events"
	"github.com/andresmejia3/proctor/internal/face"
	"github.com/andresmejia3/proctor/internal/objects"
	"github.com/benbjohnson/clock"
)

// MultipleFaces is reported on every cycle with more than one face.
const MultipleFaces = "Multiple faces detected - Suspicious activity"

// Timer is a cancellable deferred call.
type Timer interface {
	Stop() bool
}

// Clock supplies monotonic reads and deferred alarms.
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) Timer
}

// FromClock adapts a clock.Clock.
func FromClock(c clock.Clock) Clock {
	return clockAdapter{c}
}

type clockAdapter struct{ c clock.Clock }

func (a clockAdapter) Now() time.Time { return a.c.Now() }

func (a clockAdapter) AfterFunc(d time.Duration, f func()) Timer { return a.c.AfterFunc(d, f) }

// Emitter records an event.
type Emitter interface {
	Emit(t events.Type, msg string) events.Event
}

// Config holds the debounce windows.
type Config struct {
	NoFaceAfter      time.Duration `yaml:"no_face_after"`
	NoFaceConfirm    time.Duration `yaml:"no_face_confirm"`
	LookingAwayAfter time.Duration `yaml:"looking_away_after"`
}

// DefaultConfig returns the standard windows: 10s absence, 1s confirmation, 5s gaze deviation.
func DefaultConfig() Config {
	return Config{
		NoFaceAfter:      10 * time.Second,
		NoFaceConfirm:    time.Second,
		LookingAwayAfter: 5 * time.Second,
	}
}

// Timers is a snapshot of the session-scoped timing state.
type Timers struct {
	LastFaceSeen         time.Time
	LastLookingAwayReset time.Time
	NoFacePending        bool
	LookingAwayPending   bool
}

// Tracker owns the temporal state of one session. Construct a new one per session.
type Tracker struct {
	mu     sync.Mutex
	cfg    Config
	clock  Clock
	emit   Emitter
	timers Timers

	alarm    Timer
	alarmGen uint64
	// noFaceReported stays set until a face is seen again, limiting the warning to once per absence.
	noFaceReported bool
	stopped        bool
}

// New starts a tracker with both reference instants set to now.
func New(cfg Config, c Clock, emit Emitter) *Tracker {
	now := c.Now()
	return &Tracker{
		cfg:   cfg,
		clock: c,
		emit:  emit,
		timers: Timers{
			LastFaceSeen:         now,
			LastLookingAwayReset: now,
		},
	}
}

// NoFaceMessage is the warning text for a prolonged absence.
func (t *Tracker) NoFaceMessage() string {
	return "No face detected for more than " + seconds(t.cfg.NoFaceAfter)
}

// LookingAwayMessage is the warning text for a prolonged gaze deviation.
func (t *Tracker) LookingAwayMessage() string {
	return "Candidate looking away from camera for more than " + seconds(t.cfg.LookingAwayAfter)
}

// ObserveFaces consumes one face-analysis cycle.
func (t *Tracker) ObserveFaces(res face.Result) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stopped {
		return
	}
	now := t.clock.Now()

	if len(res.Faces) > 0 {
		t.timers.LastFaceSeen = now
		t.noFaceReported = false
		t.cancelAlarm()

		if len(res.Faces) > 1 {
			t.emit.Emit(events.Suspicious, MultipleFaces)
		}
	} else if now.Sub(t.timers.LastFaceSeen) > t.cfg.NoFaceAfter && !t.timers.NoFacePending && !t.noFaceReported {
		t.armAlarm()
	}

	if res.LookingAway && len(res.Faces) == 1 {
		t.timers.LookingAwayPending = true
		if now.Sub(t.timers.LastLookingAwayReset) > t.cfg.LookingAwayAfter {
			t.emit.Emit(events.Warning, t.LookingAwayMessage())
			t.timers.LastLookingAwayReset = now
		}
	} else {
		t.timers.LastLookingAwayReset = now
		t.timers.LookingAwayPending = false
	}
}

// ObserveObjects reports every kept detection as a suspicious event.
func (t *Tracker) ObserveObjects(dets []objects.Detection) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stopped {
		return
	}
	for _, d := range dets {
		t.emit.Emit(events.Suspicious, fmt.Sprintf("Unauthorized object detected: %s (%.1f%%)", d.Class, d.Confidence*100))
	}
}

// Stop cancels any pending alarm. Later observations are ignored.
func (t *Tracker) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stopped = true
	t.cancelAlarm()
}

// Timers returns the current timing state.
func (t *Tracker) Timers() Timers {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.timers
}

func (t *Tracker) armAlarm() {
	t.alarmGen++
	gen := t.alarmGen
	t.timers.NoFacePending = true
	t.alarm = t.clock.AfterFunc(t.cfg.NoFaceConfirm, func() { t.fireAlarm(gen) })
}

func (t *Tracker) fireAlarm(gen uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	// A stale generation means the alarm was cancelled after it had already been scheduled to run.
	if t.stopped || gen != t.alarmGen || !t.timers.NoFacePending {
		return
	}
	t.timers.NoFacePending = false
	t.alarm = nil
	t.noFaceReported = true
	t.emit.Emit(events.Warning, t.NoFaceMessage())
}

func (t *Tracker) cancelAlarm() {
	if t.alarm != nil {
		t.alarm.Stop()
		t.alarm = nil
	}
	t.alarmGen++
	t.timers.NoFacePending = false
}

func seconds(d time.Duration) string {
	if d%time.Second == 0 {
		return strconv.Itoa(int(d/time.Second)) + " seconds"
	}
	return d.String()
}
