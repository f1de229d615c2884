package tracker

import (
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/andresmejia3/proctor/internal/events"
	"github.com/andresmejia3/proctor/internal/face"
	"github.com/andresmejia3/proctor/internal/objects"
)

// fakeClock runs due AfterFunc callbacks synchronously from advance.
type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	timers []*fakeTimer
}

type fakeTimer struct {
	at      time.Time
	fn      func()
	stopped bool
}

func (t *fakeTimer) Stop() bool {
	was := !t.stopped
	t.stopped = true
	return was
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{at: c.now.Add(d), fn: f}
	c.timers = append(c.timers, t)
	return t
}

func (c *fakeClock) advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	var due []*fakeTimer
	rest := c.timers[:0]
	for _, t := range c.timers {
		if !t.stopped && !t.at.After(c.now) {
			due = append(due, t)
		} else if !t.stopped {
			rest = append(rest, t)
		}
	}
	c.timers = rest
	c.mu.Unlock()

	sort.Slice(due, func(i, j int) bool { return due[i].at.Before(due[j].at) })
	for _, t := range due {
		t.stopped = true
		t.fn()
	}
}

type recordingEmitter struct {
	events []events.Event
}

func (r *recordingEmitter) Emit(t events.Type, msg string) events.Event {
	e := events.Event{Type: t, Message: msg}
	r.events = append(r.events, e)
	return e
}

func (r *recordingEmitter) count(msg string) int {
	n := 0
	for _, e := range r.events {
		if e.Message == msg {
			n++
		}
	}
	return n
}

var (
	oneFace     = face.Result{Faces: []face.Region{{}}}
	lookingAway = face.Result{Faces: []face.Region{{}}, LookingAway: true}
	twoFaces    = face.Result{Faces: []face.Region{{}, {Corner: "top-left"}}}
	noFace      = face.Result{}
)

func newTracker() (*Tracker, *fakeClock, *recordingEmitter) {
	c := newFakeClock()
	em := &recordingEmitter{}
	return New(DefaultConfig(), c, em), c, em
}

// tick advances one second and feeds a cycle, like the 1s face cadence.
func tick(tr *Tracker, c *fakeClock, res face.Result) {
	c.advance(time.Second)
	tr.ObserveFaces(res)
}

func TestNoFaceWarningAfterTenSeconds(t *testing.T) {
	tr, c, em := newTracker()
	msg := tr.NoFaceMessage()
	if msg != "No face detected for more than 10 seconds" {
		t.Fatalf("unexpected message %q", msg)
	}

	for i := 0; i < 10; i++ {
		tick(tr, c, noFace)
	}
	if em.count(msg) != 0 || tr.Timers().NoFacePending {
		t.Fatal("no alarm may be armed at exactly 10s of absence")
	}

	tick(tr, c, noFace) // 11s: arms the alarm
	if !tr.Timers().NoFacePending {
		t.Fatal("expected a pending no-face alarm after 11s")
	}
	c.advance(time.Second) // alarm fires
	if em.count(msg) != 1 {
		t.Fatalf("expected 1 warning, got %d", em.count(msg))
	}

	for i := 0; i < 30; i++ {
		tick(tr, c, noFace)
	}
	if em.count(msg) != 1 {
		t.Errorf("warning must fire once per absence episode, got %d", em.count(msg))
	}
}

func TestNoFaceRearmsAfterFaceSeen(t *testing.T) {
	tr, c, em := newTracker()
	msg := tr.NoFaceMessage()

	for i := 0; i < 13; i++ {
		tick(tr, c, noFace)
	}
	tick(tr, c, oneFace)
	for i := 0; i < 13; i++ {
		tick(tr, c, noFace)
	}
	if em.count(msg) != 2 {
		t.Errorf("expected one warning per episode (2), got %d", em.count(msg))
	}
}

func TestFaceCancelsPendingAlarm(t *testing.T) {
	tr, c, em := newTracker()

	for i := 0; i < 11; i++ {
		tick(tr, c, noFace)
	}
	if !tr.Timers().NoFacePending {
		t.Fatal("expected pending alarm")
	}
	c.advance(500 * time.Millisecond)
	tr.ObserveFaces(oneFace)
	c.advance(2 * time.Second)

	if em.count(tr.NoFaceMessage()) != 0 {
		t.Error("alarm fired even though a face returned")
	}
	if tr.Timers().NoFacePending {
		t.Error("pending flag should be cleared")
	}
}

func TestStopCancelsPendingAlarm(t *testing.T) {
	tr, c, em := newTracker()
	for i := 0; i < 11; i++ {
		tick(tr, c, noFace)
	}
	tr.Stop()
	c.advance(5 * time.Second)
	tr.ObserveFaces(twoFaces)

	if len(em.events) != 0 {
		t.Errorf("expected no events after Stop, got %+v", em.events)
	}
}

func TestLookingAwayRateLimited(t *testing.T) {
	tr, c, em := newTracker()
	msg := tr.LookingAwayMessage()

	tick(tr, c, oneFace) // t=1, reference reset
	for i := 0; i < 5; i++ {
		tick(tr, c, lookingAway) // t=2..6
	}
	if em.count(msg) != 0 {
		t.Fatalf("warning fired before the window elapsed")
	}
	tick(tr, c, lookingAway) // t=7: 6s since reset
	if em.count(msg) != 1 {
		t.Fatalf("expected 1 warning, got %d", em.count(msg))
	}
	for i := 0; i < 5; i++ {
		tick(tr, c, lookingAway) // t=8..12
	}
	if em.count(msg) != 1 {
		t.Fatalf("warning must be limited to once per window, got %d", em.count(msg))
	}
	tick(tr, c, lookingAway) // t=13
	if em.count(msg) != 2 {
		t.Errorf("expected a second warning after another full window, got %d", em.count(msg))
	}
}

func TestLookingAwayInterruptionResetsWindow(t *testing.T) {
	tr, c, em := newTracker()
	msg := tr.LookingAwayMessage()

	tick(tr, c, oneFace)
	for i := 0; i < 4; i++ {
		tick(tr, c, lookingAway)
	}
	tick(tr, c, oneFace) // single interrupting cycle
	if tr.Timers().LookingAwayPending {
		t.Error("interrupting cycle should clear the pending flag")
	}
	for i := 0; i < 5; i++ {
		tick(tr, c, lookingAway)
	}
	if em.count(msg) != 0 {
		t.Fatalf("window should have restarted, got %d warnings", em.count(msg))
	}
	tick(tr, c, lookingAway)
	if em.count(msg) != 1 {
		t.Errorf("expected 1 warning, got %d", em.count(msg))
	}
}

func TestMultipleFacesEveryCycle(t *testing.T) {
	tr, c, em := newTracker()
	for i := 0; i < 3; i++ {
		tick(tr, c, twoFaces)
	}
	if em.count(MultipleFaces) != 3 {
		t.Errorf("expected 3 suspicious events, got %d", em.count(MultipleFaces))
	}
	for _, e := range em.events {
		if e.Type != events.Suspicious {
			t.Errorf("unexpected event type %s", e.Type)
		}
	}
}

func TestObserveObjects(t *testing.T) {
	tr, _, em := newTracker()
	tr.ObserveObjects([]objects.Detection{
		{Class: objects.Phone, Confidence: 0.953},
		{Class: objects.Laptop, Confidence: 0.5},
	})
	if len(em.events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(em.events))
	}
	if em.events[0].Message != "Unauthorized object detected: phone (95.3%)" {
		t.Errorf("unexpected message %q", em.events[0].Message)
	}
	if em.events[1].Type != events.Suspicious {
		t.Errorf("expected suspicious, got %s", em.events[1].Type)
	}
}
