// Package annotate draws analysis results onto a copy of a frame and can redact the faces found,
// so snapshots can be kept as evidence without storing a candidate's likeness.
package annotate

import (
	"fmt"
	"image"
	"image/color"
	"image/png"
	"os"

	"github.com/andresmejia3/proctor/internal/face"
	"github.com/andresmejia3/proctor/internal/frame"
	"github.com/andresmejia3/proctor/internal/objects"
)

// Style selects how a face region is redacted.
type Style string

const (
	None  Style = ""
	Black Style = "black"
	Pixel Style = "pixel"
	Blur  Style = "blur"
)

// ParseStyle validates a redaction style name.
func ParseStyle(s string) (Style, error) {
	switch st := Style(s); st {
	case None, "none":
		return None, nil
	case Black, Pixel, Blur:
		return st, nil
	}
	return None, fmt.Errorf("unknown redaction style %q (want none, black, pixel or blur)", s)
}

// Options control Render.
type Options struct {
	Redact   Style
	Strength int // pixel block size or blur radius
	Boxes    bool
}

var (
	faceColor   = color.RGBA{R: 40, G: 220, B: 80, A: 255}
	cornerColor = color.RGBA{R: 250, G: 180, B: 20, A: 255}
	objectColor = color.RGBA{R: 230, G: 40, B: 40, A: 255}
)

// Render returns an annotated copy of f. The input frame is not modified.
func Render(f frame.Frame, res face.Result, dets []objects.Detection, opts Options) (*image.RGBA, error) {
	if err := f.Validate(); err != nil {
		return nil, err
	}
	pix := make([]byte, len(f.Pix))
	copy(pix, f.Pix)
	img := frame.Frame{Width: f.Width, Height: f.Height, Pix: pix}.Image()

	for _, r := range res.Faces {
		rect := faceRect(r)
		if opts.Redact != None {
			Redact(img, rect, opts.Redact, opts.Strength)
		}
		if opts.Boxes {
			c := faceColor
			if r.Corner != "" {
				c = cornerColor
			}
			Outline(img, rect, c, 2)
		}
	}
	if opts.Boxes {
		for _, d := range dets {
			Outline(img, image.Rect(d.BBox.X, d.BBox.Y, d.BBox.X+d.BBox.W, d.BBox.Y+d.BBox.H), objectColor, 2)
		}
	}
	return img, nil
}

func faceRect(r face.Region) image.Rectangle {
	return image.Rect(int(r.X), int(r.Y), int(r.X+r.Width), int(r.Y+r.Height))
}

// Outline draws a rectangle border of the given thickness, clipped to the image.
func Outline(img *image.RGBA, rect image.Rectangle, c color.RGBA, thickness int) {
	b := img.Bounds()
	for t := 0; t < thickness; t++ {
		r := image.Rect(rect.Min.X+t, rect.Min.Y+t, rect.Max.X-t, rect.Max.Y-t)
		if r.Empty() {
			return
		}
		for x := r.Min.X; x < r.Max.X; x++ {
			setIn(img, b, x, r.Min.Y, c)
			setIn(img, b, x, r.Max.Y-1, c)
		}
		for y := r.Min.Y; y < r.Max.Y; y++ {
			setIn(img, b, r.Min.X, y, c)
			setIn(img, b, r.Max.X-1, y, c)
		}
	}
}

func setIn(img *image.RGBA, b image.Rectangle, x, y int, c color.RGBA) {
	if image.Pt(x, y).In(b) {
		img.SetRGBA(x, y, c)
	}
}

// Redact obscures rect in place.
func Redact(img *image.RGBA, rect image.Rectangle, style Style, strength int) {
	// Clip rect to image bounds to prevent panics
	rect = rect.Intersect(img.Bounds())
	if rect.Empty() {
		return
	}
	strength = max(strength, 1)

	switch style {
	case Black:
		fill(img, rect, color.RGBA{A: 255})
	case Blur:
		boxBlur(img, rect, strength)
	case Pixel:
		for y := rect.Min.Y; y < rect.Max.Y; y += strength {
			for x := rect.Min.X; x < rect.Max.X; x += strength {
				block := image.Rect(x, y, x+strength, y+strength).Intersect(rect)
				fill(img, block, img.RGBAAt(x, y))
			}
		}
	}
}

func fill(img *image.RGBA, rect image.Rectangle, c color.RGBA) {
	for y := rect.Min.Y; y < rect.Max.Y; y++ {
		off := img.PixOffset(rect.Min.X, y)
		for x := rect.Min.X; x < rect.Max.X; x++ {
			img.Pix[off], img.Pix[off+1], img.Pix[off+2], img.Pix[off+3] = c.R, c.G, c.B, c.A
			off += 4
		}
	}
}

// boxBlur runs a horizontal then a vertical sliding-window average over rect, clamping at its edges.
func boxBlur(img *image.RGBA, rect image.Rectangle, radius int) {
	w, h := rect.Dx(), rect.Dy()
	radius = min(radius, max(w/2, 1), max(h/2, 1))
	tmp := make([]uint32, w*h*3)
	n := uint32(2*radius + 1)

	at := func(x, y int) []uint8 {
		off := img.PixOffset(rect.Min.X+x, rect.Min.Y+y)
		return img.Pix[off : off+3]
	}

	for y := 0; y < h; y++ {
		var sum [3]uint32
		for k := -radius; k <= radius; k++ {
			p := at(clamp(k, w), y)
			sum[0], sum[1], sum[2] = sum[0]+uint32(p[0]), sum[1]+uint32(p[1]), sum[2]+uint32(p[2])
		}
		for x := 0; x < w; x++ {
			i := (y*w + x) * 3
			tmp[i], tmp[i+1], tmp[i+2] = sum[0]/n, sum[1]/n, sum[2]/n
			out, in := at(clamp(x-radius, w), y), at(clamp(x+radius+1, w), y)
			for c := 0; c < 3; c++ {
				sum[c] = sum[c] - uint32(out[c]) + uint32(in[c])
			}
		}
	}

	for x := 0; x < w; x++ {
		var sum [3]uint32
		for k := -radius; k <= radius; k++ {
			i := (clamp(k, h)*w + x) * 3
			sum[0], sum[1], sum[2] = sum[0]+tmp[i], sum[1]+tmp[i+1], sum[2]+tmp[i+2]
		}
		for y := 0; y < h; y++ {
			p := at(x, y)
			p[0], p[1], p[2] = uint8(sum[0]/n), uint8(sum[1]/n), uint8(sum[2]/n)
			out, in := (clamp(y-radius, h)*w+x)*3, (clamp(y+radius+1, h)*w+x)*3
			for c := 0; c < 3; c++ {
				sum[c] = sum[c] - tmp[out+c] + tmp[in+c]
			}
		}
	}
}

func clamp(v, n int) int {
	return min(max(v, 0), n-1)
}

// WritePNG saves img to path.
func WritePNG(path string, img image.Image) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := png.Encode(f, img); err != nil {
		f.Close()
		return fmt.Errorf("failed to encode %s: %w", path, err)
	}
	return f.Close()
}
