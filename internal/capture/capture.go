// Package capture supplies the most recent decoded frame to a monitoring session.
package capture

import (
	"errors"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"sync"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/webp"

	"github.com/andresmejia3/proctor/internal/frame"
)

// ErrUnavailable marks a source that can no longer produce frames.
var ErrUnavailable = errors.New("capture unavailable")

// Source returns the latest fully decoded frame, or a zero-dimension frame when none is available.
type Source interface {
	Frame() frame.Frame
}

// Still serves the same frame forever.
type Still struct {
	f frame.Frame
}

// NewStill wraps a decoded frame.
func NewStill(f frame.Frame) *Still {
	return &Still{f: f}
}

// Frame implements Source.
func (s *Still) Frame() frame.Frame {
	return s.f
}

// LoadImage decodes a PNG, JPEG, BMP or WebP file into a frame.
func LoadImage(path string) (frame.Frame, error) {
	f, err := os.Open(path)
	if err != nil {
		return frame.Frame{}, err
	}
	defer f.Close()

	img, format, err := image.Decode(f)
	if err != nil {
		return frame.Frame{}, fmt.Errorf("failed to decode %s: %w", path, err)
	}
	fr := frame.FromImage(img)
	if fr.Empty() {
		return frame.Frame{}, fmt.Errorf("%s image %s has no pixels", format, path)
	}
	return fr, nil
}

// slot holds the newest frame. Publishing overwrites whatever was there; frames are never mutated
// after being published, so readers can keep the value they got.
type slot struct {
	mu     sync.Mutex
	latest frame.Frame
	unread bool
	frames uint64
	drops  uint64
	err    error
}

func (s *slot) publish(f frame.Frame) {
	s.mu.Lock()
	if s.unread {
		s.drops++
	}
	s.latest = f
	s.unread = true
	s.frames++
	s.mu.Unlock()
}

func (s *slot) get() frame.Frame {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return frame.Frame{}
	}
	s.unread = false
	return s.latest
}

func (s *slot) fail(err error) {
	s.mu.Lock()
	if s.err == nil {
		s.err = err
	}
	s.mu.Unlock()
}

func (s *slot) failure() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Stats counts decoded frames and frames overwritten before anyone read them.
type Stats struct {
	Frames uint64
	Drops  uint64
}

func (s *slot) stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Stats{Frames: s.frames, Drops: s.drops}
}
