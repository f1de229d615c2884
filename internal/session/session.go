// Package session drives one monitoring session: it pulls frames on the face and object
// cadences, feeds the tracker, and owns the event log and integrity score.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/andresmejia3/proctor/internal/capture"
	"github.com/andresmejia3/proctor/internal/events"
	"github.com/andresmejia3/proctor/internal/face"
	"github.com/andresmejia3/proctor/internal/frame"
	"github.com/andresmejia3/proctor/internal/objects"
	"github.com/andresmejia3/proctor/internal/score"
	"github.com/andresmejia3/proctor/internal/tracker"
	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
)

var (
	// ErrStopped is returned by Run when Stop was accepted before the session started.
	ErrStopped = errors.New("session stopped")
	// ErrAlreadyRunning is returned when Run is called twice.
	ErrAlreadyRunning = errors.New("session already running")
)

// Lifecycle messages.
const (
	MsgStarted       = "Interview session started"
	MsgFaceStarted   = "Face detection monitoring started"
	MsgObjectStarted = "Advanced object detection system initialized"
	MsgFaceStopped   = "Face detection monitoring stopped"
	MsgObjectStopped = "Object detection monitoring stopped"
	MsgEnded         = "Interview session ended"
)

// Cycle summarises one analysis pass for progress displays.
type Cycle struct {
	Kind        string
	Faces       int
	LookingAway bool
	Objects     int
	Score       int
}

// Options configure a session.
type Options struct {
	ID        string
	Candidate string
	Source    capture.Source

	FaceInterval   time.Duration
	ObjectInterval time.Duration
	Tracker        tracker.Config
	Thresholds     objects.Thresholds

	Clock clock.Clock
	// Sinks receive every event through their own queue. Close drains them.
	Sinks  []events.Sink
	Logger *slog.Logger
	// OnCycle runs at the end of each analysis cycle. It must not call Stop.
	OnCycle func(Cycle)
}

// ValidateCandidate requires a name of at least two non-blank characters.
func ValidateCandidate(name string) error {
	if len([]rune(strings.TrimSpace(name))) < 2 {
		return fmt.Errorf("candidate name must be at least 2 characters, got %q", name)
	}
	return nil
}

// Session is a single monitoring run. Create a fresh one for every run.
type Session struct {
	id        string
	candidate string
	opts      Options
	clock     clock.Clock
	logger    *slog.Logger

	scorer   *score.Scorer
	recorder *events.Recorder
	tracker  *tracker.Tracker
	queues   []*events.Queue

	// gate is held for reading by a running cycle and for writing while stopping,
	// so no cycle can start once Stop has returned.
	gate sync.RWMutex
	mu            sync.Mutex
	started     bool
	stopping    bool
	cancel      context.CancelFunc
	startedAt   time.Time
	endedAt     time.Time
	captureDown bool
}

// New validates the options and prepares a session.
func New(opts Options) (*Session, error) {
	if err := ValidateCandidate(opts.Candidate); err != nil {
		return nil, err
	}
	if opts.Source == nil {
		return nil, errors.New("session requires a frame source")
	}
	if opts.FaceInterval <= 0 || opts.ObjectInterval <= 0 {
		return nil, fmt.Errorf("check intervals must be positive (face %s, objects %s)", opts.FaceInterval, opts.ObjectInterval)
	}
	if opts.ID == "" {
		opts.ID = uuid.NewString()
	}
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("session_id", opts.ID)

	queues := make([]*events.Queue, 0, len(opts.Sinks))
	sinks := make([]events.Sink, 0, len(opts.Sinks))
	for _, sink := range opts.Sinks {
		q := events.NewQueue(sink, logger)
		queues = append(queues, q)
		sinks = append(sinks, q)
	}

	scorer := score.New()
	rec := events.NewRecorder(events.RecorderOptions{
		Clock:  opts.Clock,
		Scorer: scorer,
		Sinks:  sinks,
		Logger: logger,
	})

	return &Session{
		id:        opts.ID,
		candidate: strings.TrimSpace(opts.Candidate),
		opts:      opts,
		clock:     opts.Clock,
		logger:    logger,
		scorer:    scorer,
		recorder:  rec,
		queues:    queues,
		tracker:   tracker.New(opts.Tracker, tracker.FromClock(opts.Clock), rec),
	}, nil
}

// Run starts both periodic checks and blocks until ctx is done or Stop is called.
func (s *Session) Run(ctx context.Context) error {
	s.mu.Lock()
	if s.stopping {
		s.mu.Unlock()
		return ErrStopped
	}
	if s.started {
		s.mu.Unlock()
		return ErrAlreadyRunning
	}
	s.started = true
	ctx, s.cancel = context.WithCancel(ctx)
	s.startedAt = s.clock.Now()
	s.mu.Unlock()
	defer s.cancel()

	s.recorder.Emit(events.Info, MsgStarted)
	s.recorder.Emit(events.Info, MsgFaceStarted)
	s.recorder.Emit(events.Info, MsgObjectStarted)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		s.loop(ctx, s.opts.FaceInterval, s.faceCycle)
	}()
	go func() {
		defer wg.Done()
		s.loop(ctx, s.opts.ObjectInterval, s.objectCycle)
	}()

	<-ctx.Done()
	s.gate.Lock()
	s.mu.Lock()
	s.stopping = true
	s.mu.Unlock()
	s.gate.Unlock()
	wg.Wait()

	s.finish()
	return nil
}

// Stop requests the session to end. No analysis cycle starts after Stop returns.
func (s *Session) Stop() {
	s.gate.Lock()
	defer s.gate.Unlock()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopping = true
	if s.cancel != nil {
		s.cancel()
	}
}

// Close waits until every sink has received the recorded events, or ctx is done.
// Call it after Run returns.
func (s *Session) Close(ctx context.Context) error {
	var errs []error
	for _, q := range s.queues {
		if err := q.Close(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Undelivered returns how many events are still queued for sinks or were rejected by them.
func (s *Session) Undelivered() int {
	n := 0
	for _, q := range s.queues {
		n += q.Pending() + q.Failed()
	}
	return n
}

func (s *Session) loop(ctx context.Context, every time.Duration, cycle func()) {
	ticker := s.clock.Ticker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !s.runCycle(cycle) {
				return
			}
		}
	}
}

// runCycle runs one cycle unless the session is stopping.
func (s *Session) runCycle(cycle func()) bool {
	s.gate.RLock()
	defer s.gate.RUnlock()
	s.mu.Lock()
	stopping := s.stopping
	s.mu.Unlock()
	if stopping {
		return false
	}
	cycle()
	return true
}

func (s *Session) finish() {
	s.tracker.Stop()

	s.mu.Lock()
	s.endedAt = s.clock.Now()
	s.mu.Unlock()

	s.recorder.Emit(events.Info, MsgFaceStopped)
	s.recorder.Emit(events.Info, MsgObjectStopped)
	s.recorder.Emit(events.Info, MsgEnded)
	s.recorder.Emitf(events.Info, "Final integrity score: %d%%", s.scorer.Current())
}

func (s *Session) faceCycle() {
	f := s.opts.Source.Frame()
	s.checkCapture(f)

	res, err := face.Detect(f)
	if err != nil {
		s.recorder.Emitf(events.Error, "Face detection error: %v", err)
		res = face.Result{}
	}
	s.tracker.ObserveFaces(res)

	if s.opts.OnCycle != nil {
		s.opts.OnCycle(Cycle{Kind: "face", Faces: len(res.Faces), LookingAway: res.LookingAway, Score: s.scorer.Current()})
	}
}

func (s *Session) objectCycle() {
	f := s.opts.Source.Frame()
	dets, err := objects.Detect(f)
	for _, se := range objects.ScanErrors(err) {
		s.recorder.Emitf(events.Error, "Object detection error (%s): %v", se.Scanner, se.Err)
	}
	if len(dets) > 0 {
		s.logger.Debug("objects detected", "count", len(dets))
	}

	kept := objects.Keep(dets, s.opts.Thresholds)
	s.tracker.ObserveObjects(kept)

	if s.opts.OnCycle != nil {
		s.opts.OnCycle(Cycle{Kind: "objects", Objects: len(kept), Score: s.scorer.Current()})
	}
}

// checkCapture reports a source failure once per outage.
func (s *Session) checkCapture(f frame.Frame) {
	if !f.Empty() {
		s.captureDown = false
		return
	}
	src, ok := s.opts.Source.(interface{ Err() error })
	if !ok {
		return
	}
	if err := src.Err(); err != nil && !s.captureDown {
		s.captureDown = true
		s.recorder.Emitf(events.Error, "Capture unavailable: %v", err)
	}
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// Candidate returns the trimmed candidate name.
func (s *Session) Candidate() string { return s.candidate }

// Score returns the current integrity score.
func (s *Session) Score() int { return s.scorer.Current() }

// Events returns a copy of everything recorded so far.
func (s *Session) Events() []events.Event { return s.recorder.Log().Events() }

// Timers exposes the tracker state.
func (s *Session) Timers() tracker.Timers { return s.tracker.Timers() }

// StartedAt returns when Run began.
func (s *Session) StartedAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.startedAt
}

// EndedAt returns when Run finished, or the zero time while running.
func (s *Session) EndedAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.endedAt
}
