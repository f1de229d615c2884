// Package face finds face-like skin regions in a frame with a fixed color heuristic.
package face

import (
	"fmt"
	"math"

	"github.com/andresmejia3/proctor/internal/frame"
)

// Region is one face-like area. Corner is empty for the center face.
type Region struct {
	X             float64 `json:"x"`
	Y             float64 `json:"y"`
	Width         float64 `json:"width"`
	Height        float64 `json:"height"`
	SkinRatio     float64 `json:"skinRatio"`
	AvgBrightness float64 `json:"avgBrightness"`
	Corner        string  `json:"corner,omitempty"`
}

// Center returns the midpoint of the region.
func (r Region) Center() (float64, float64) {
	return r.X + r.Width/2, r.Y + r.Height/2
}

// Result is the outcome of one analysis cycle. LookingAway is only set when exactly one face was found.
type Result struct {
	Faces       []Region `json:"faces"`
	LookingAway bool     `json:"lookingAway"`
}

// AnalysisError wraps an unexpected failure while reading pixel data.
type AnalysisError struct {
	Err error
}

func (e *AnalysisError) Error() string {
	return fmt.Sprintf("face analysis failed: %v", e.Err)
}

func (e *AnalysisError) Unwrap() error { return e.Err }

const (
	regionScale     = 0.4
	centerStride    = 3
	cornerStride    = 4
	centerMinSkin   = 0.12
	cornerMinSkin   = 0.15
	minBrightness   = 60
	maxBrightness   = 200
	separationScale = 0.6
	offCenterScale  = 0.3
	lowConfidence   = 0.15
	gazeMinBright   = 70
	gazeMaxBright   = 180
)

var cornerOrder = []string{"top-left", "top-right", "bottom-left", "bottom-right"}

// IsSkin applies the fixed RGB skin-tone predicate.
func IsSkin(r, g, b int) bool {
	brightness := frame.Brightness(r, g, b)
	return r > 95 && g > 40 && b > 20 &&
		frame.Saturation(r, g, b) > 15 &&
		abs(r-g) > 15 && r > g && r > b &&
		r < 240 && brightness > 50 && brightness < 220
}

// Detect analyses a single frame. Zero-dimension frames yield an empty result and no error.
func Detect(f frame.Frame) (res Result, err error) {
	if f.Empty() {
		return Result{}, nil
	}
	if err := f.Validate(); err != nil {
		return Result{}, &AnalysisError{Err: err}
	}
	defer func() {
		if r := recover(); r != nil {
			res = Result{}
			err = &AnalysisError{Err: fmt.Errorf("panic: %v", r)}
		}
	}()

	w, h := float64(f.Width), float64(f.Height)
	cx, cy := w/2, h/2
	size := math.Min(w, h) * regionScale

	var faces []Region

	skin, bright := sampleRegion(f, cx-size/2, cy-size/2, size, centerStride)
	if skin > centerMinSkin && bright > minBrightness && bright < maxBrightness {
		faces = append(faces, Region{
			X:             cx - size/4,
			Y:             cy - size/4,
			Width:         size / 2,
			Height:        size / 2,
			SkinRatio:     skin,
			AvgBrightness: bright,
		})
	}

	corner := size / 2
	origins := map[string][2]float64{
		"top-left":     {0, 0},
		"top-right":    {w - corner, 0},
		"bottom-left":  {0, h - corner},
		"bottom-right": {w - corner, h - corner},
	}
	for _, name := range cornerOrder {
		if len(faces) == 0 {
			break
		}
		o := origins[name]
		skin, bright := sampleRegion(f, o[0], o[1], corner, cornerStride)
		if skin <= cornerMinSkin || bright <= minBrightness || bright >= maxBrightness {
			continue
		}
		fx, fy := faces[0].Center()
		if math.Hypot(o[0]+corner/2-fx, o[1]+corner/2-fy) <= size*separationScale {
			continue
		}
		faces = append(faces, Region{
			X:             o[0],
			Y:             o[1],
			Width:         corner,
			Height:        corner,
			SkinRatio:     skin,
			AvgBrightness: bright,
			Corner:        name,
		})
	}

	res.Faces = faces
	if len(faces) == 1 {
		fc := faces[0]
		fx, fy := fc.Center()
		res.LookingAway = math.Hypot(fx-cx, fy-cy) > size*offCenterScale ||
			fc.SkinRatio < lowConfidence ||
			fc.AvgBrightness < gazeMinBright || fc.AvgBrightness > gazeMaxBright
	}
	return res, nil
}

// sampleRegion walks a square of the given side on a stride and returns the skin ratio and mean brightness.
func sampleRegion(f frame.Frame, x0, y0, side float64, stride float64) (skinRatio, avgBrightness float64) {
	var skin, total int
	var sum float64
	for y := y0; y < y0+side; y += stride {
		for x := x0; x < x0+side; x += stride {
			if y < 0 || y >= float64(f.Height) || x < 0 || x >= float64(f.Width) {
				continue
			}
			r, g, b := f.RGB(int(x), int(y))
			sum += frame.Brightness(r, g, b)
			if IsSkin(r, g, b) {
				skin++
			}
			total++
		}
	}
	if total == 0 {
		return 0, 0
	}
	return float64(skin) / float64(total), sum / float64(total)
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
