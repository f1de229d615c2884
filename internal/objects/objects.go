// Package objects tiles a frame into fixed blocks and scores each block against
// phone, book and laptop pixel signatures.
package objects

import (
	"errors"
	"fmt"
	"sync"

	"github.com/andresmejia3/proctor/internal/frame"
)

// Class names an unauthorized object kind.
type Class string

const (
	Phone  Class = "phone"
	Book   Class = "book"
	Laptop Class = "laptop"
)

// Box is a bounding box in pixels.
type Box struct {
	X int `json:"x"`
	Y int `json:"y"`
	W int `json:"width"`
	H int `json:"height"`
}

// Detection is one qualifying block.
type Detection struct {
	Class      Class   `json:"class"`
	Confidence float64 `json:"confidence"`
	BBox       Box     `json:"bbox"`
}

// ScanError isolates a failure inside one scanner.
type ScanError struct {
	Scanner Class
	Err     error
}

func (e *ScanError) Error() string {
	return fmt.Sprintf("%s scanner failed: %v", e.Scanner, e.Err)
}

func (e *ScanError) Unwrap() error { return e.Err }

// Thresholds gate which detections the caller keeps.
type Thresholds struct {
	Phone  float64 `yaml:"phone"`
	Book   float64 `yaml:"book"`
	Laptop float64 `yaml:"laptop"`
	// Min applies to every class on top of the per-class value.
	Min float64 `yaml:"min_confidence"`
}

// DefaultThresholds mirrors the scanner cut-offs the heuristics were tuned with.
func DefaultThresholds() Thresholds {
	return Thresholds{Phone: 0.5, Book: 0.4, Laptop: 0.45, Min: 0.4}
}

func (t Thresholds) of(c Class) float64 {
	switch c {
	case Phone:
		return t.Phone
	case Book:
		return t.Book
	case Laptop:
		return t.Laptop
	}
	return 1
}

// Keep filters raw detections down to the ones that should be reported.
func Keep(dets []Detection, t Thresholds) []Detection {
	var kept []Detection
	for _, d := range dets {
		if d.Confidence > t.Min && d.Confidence > t.of(d.Class) {
			kept = append(kept, d)
		}
	}
	return kept
}

type scanFunc func(frame.Frame) []Detection

var scanners = []struct {
	class Class
	scan  scanFunc
}{
	{Phone, scanPhones},
	{Book, scanBooks},
	{Laptop, scanLaptops},
}

// Detect runs every scanner in parallel over the frame. A failing scanner does not stop the
// others: their detections are still returned alongside the joined *ScanError values.
func Detect(f frame.Frame) ([]Detection, error) {
	if f.Empty() {
		return nil, nil
	}
	if err := f.Validate(); err != nil {
		var errs []error
		for _, s := range scanners {
			errs = append(errs, &ScanError{Scanner: s.class, Err: err})
		}
		return nil, errors.Join(errs...)
	}

	results := make([][]Detection, len(scanners))
	errs := make([]error, len(scanners))

	var wg sync.WaitGroup
	for i, s := range scanners {
		wg.Add(1)
		go func(i int, class Class, scan scanFunc) {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					errs[i] = &ScanError{Scanner: class, Err: fmt.Errorf("panic: %v", r)}
				}
			}()
			results[i] = scan(f)
		}(i, s.class, s.scan)
	}
	wg.Wait()

	var out []Detection
	for _, r := range results {
		out = append(out, r...)
	}
	return out, errors.Join(errs...)
}

// ScanErrors unpacks the per-scanner failures from an error returned by Detect.
func ScanErrors(err error) []*ScanError {
	if err == nil {
		return nil
	}
	var list []error
	if joined, ok := err.(interface{ Unwrap() []error }); ok {
		list = joined.Unwrap()
	} else {
		list = []error{err}
	}
	var out []*ScanError
	for _, e := range list {
		var se *ScanError
		if errors.As(e, &se) {
			out = append(out, se)
		}
	}
	return out
}
