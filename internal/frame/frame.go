package frame

import (
	"errors"
	"fmt"
	"image"
	"image/draw"
)

// ErrShortBuffer is returned when a frame's pixel slice does not cover width*height*4 bytes.
var ErrShortBuffer = errors.New("frame pixel buffer too short")

// Frame is a decoded RGBA pixel grid in interleaved R,G,B,A order.
// A Frame is treated as immutable once produced; analysis never retains it.
type Frame struct {
	Width  int
	Height int
	Pix    []byte
}

// New allocates a zeroed frame of the given size.
func New(width, height int) Frame {
	if width <= 0 || height <= 0 {
		return Frame{}
	}
	return Frame{Width: width, Height: height, Pix: make([]byte, width*height*4)}
}

// FromRGBA wraps an *image.RGBA. The pixels are shared when the stride is tight, copied otherwise.
func FromRGBA(img *image.RGBA) Frame {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if w <= 0 || h <= 0 {
		return Frame{}
	}
	if img.Stride == w*4 && b.Min == (image.Point{}) {
		return Frame{Width: w, Height: h, Pix: img.Pix[:w*h*4]}
	}
	f := New(w, h)
	for y := 0; y < h; y++ {
		src := img.PixOffset(b.Min.X, b.Min.Y+y)
		copy(f.Pix[y*w*4:(y+1)*w*4], img.Pix[src:src+w*4])
	}
	return f
}

// FromImage converts any decoded image into a Frame.
func FromImage(img image.Image) Frame {
	if rgba, ok := img.(*image.RGBA); ok {
		return FromRGBA(rgba)
	}
	b := img.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(dst, dst.Bounds(), img, b.Min, draw.Src)
	return FromRGBA(dst)
}

// Empty reports whether the frame has a zero dimension.
func (f Frame) Empty() bool {
	return f.Width <= 0 || f.Height <= 0
}

// Validate checks that the pixel slice covers the declared dimensions.
func (f Frame) Validate() error {
	if f.Empty() {
		return nil
	}
	if need := f.Width * f.Height * 4; len(f.Pix) < need {
		return fmt.Errorf("%w: have %d bytes, need %d for %dx%d", ErrShortBuffer, len(f.Pix), need, f.Width, f.Height)
	}
	return nil
}

// RGB returns the color channels at (x, y). Callers keep x and y in bounds.
func (f Frame) RGB(x, y int) (r, g, b int) {
	off := (y*f.Width + x) * 4
	return int(f.Pix[off]), int(f.Pix[off+1]), int(f.Pix[off+2])
}

// Image exposes the frame as an *image.RGBA without copying.
func (f Frame) Image() *image.RGBA {
	return &image.RGBA{
		Pix:    f.Pix,
		Stride: f.Width * 4,
		Rect:   image.Rect(0, 0, f.Width, f.Height),
	}
}

// Brightness is the plain channel mean used by all heuristics.
func Brightness(r, g, b int) float64 {
	return float64(r+g+b) / 3
}

// Saturation is the max-min channel spread.
func Saturation(r, g, b int) int {
	return max(r, g, b) - min(r, g, b)
}
