package frame

import (
	"errors"
	"image"
	"image/color"
	"testing"
)

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		f       Frame
		wantErr bool
	}{
		{"zero frame", Frame{}, false},
		{"exact buffer", New(4, 3), false},
		{"short buffer", Frame{Width: 4, Height: 3, Pix: make([]byte, 10)}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.f.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrShortBuffer) {
				t.Errorf("expected ErrShortBuffer, got %v", err)
			}
		})
	}
}

func TestNewRejectsZeroDimensions(t *testing.T) {
	if f := New(0, 10); !f.Empty() || f.Pix != nil {
		t.Errorf("New(0, 10) = %+v, want empty frame", f)
	}
}

func TestFromImageCopiesSubImage(t *testing.T) {
	src := image.NewRGBA(image.Rect(0, 0, 8, 8))
	src.Set(5, 6, color.RGBA{R: 10, G: 20, B: 30, A: 255})

	sub := src.SubImage(image.Rect(4, 4, 8, 8)).(*image.RGBA)
	f := FromImage(sub)

	if f.Width != 4 || f.Height != 4 {
		t.Fatalf("got %dx%d, want 4x4", f.Width, f.Height)
	}
	r, g, b := f.RGB(1, 2)
	if r != 10 || g != 20 || b != 30 {
		t.Errorf("RGB(1,2) = (%d,%d,%d), want (10,20,30)", r, g, b)
	}
}

func TestFromImageConvertsGray(t *testing.T) {
	src := image.NewGray(image.Rect(0, 0, 2, 2))
	src.SetGray(1, 1, color.Gray{Y: 200})

	f := FromImage(src)
	r, g, b := f.RGB(1, 1)
	if r != 200 || g != 200 || b != 200 {
		t.Errorf("RGB(1,1) = (%d,%d,%d), want (200,200,200)", r, g, b)
	}
}

func TestImageIsZeroCopy(t *testing.T) {
	f := New(2, 2)
	f.Image().Set(1, 0, color.RGBA{R: 99, A: 255})
	if r, _, _ := f.RGB(1, 0); r != 99 {
		t.Errorf("expected write through Image() to reach frame pixels, got r=%d", r)
	}
}
