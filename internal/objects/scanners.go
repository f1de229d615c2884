package objects

import (
	"math"

	"github.com/andresmejia3/proctor/internal/frame"
)

const (
	phoneUnit  = 24
	bookUnit   = 32
	laptopUnit = 40
)

// scanPhones looks for a 2x3 unit block with a dark body, a few reflective spots and strong
// horizontal edges.
func scanPhones(f frame.Frame) []Detection {
	var out []Detection
	bw, bh := phoneUnit*2, phoneUnit*3
	for y := 0; y < f.Height-bh; y += phoneUnit {
		for x := 0; x < f.Width-bw; x += phoneUnit {
			var dark, reflective, total int
			var edge float64
			for by := y; by < y+bh; by += 2 {
				for bx := x; bx < x+bw; bx += 2 {
					r, g, b := f.RGB(bx, by)
					brightness := frame.Brightness(r, g, b)
					sat := frame.Saturation(r, g, b)
					if brightness < 80 && sat < 30 {
						dark++
					}
					if brightness > 180 && sat < 40 {
						reflective++
					}
					if bx < x+bw-2 {
						nr, ng, nb := f.RGB(bx+2, by)
						edge += math.Abs(brightness - frame.Brightness(nr, ng, nb))
					}
					total++
				}
			}

			darkRatio := float64(dark) / float64(total)
			reflRatio := float64(reflective) / float64(total)
			avgEdge := edge / float64(total)

			if darkRatio > 0.4 && darkRatio < 0.8 && reflRatio > 0.02 && reflRatio < 0.15 && avgEdge > 15 {
				conf := math.Min(0.95, 0.3+0.5*(darkRatio-0.4)+2*reflRatio+(avgEdge-15)/50)
				out = append(out, Detection{Class: Phone, Confidence: conf, BBox: Box{x, y, bw, bh}})
			}
		}
	}
	return out
}

// scanBooks looks for a 3x2 unit block of mostly white near-grayscale paper with black text strokes.
func scanBooks(f frame.Frame) []Detection {
	var out []Detection
	bw, bh := bookUnit*3, bookUnit*2
	for y := 0; y < f.Height-bh; y += bookUnit {
		for x := 0; x < f.Width-bw; x += bookUnit {
			var white, black, text, total int
			for by := y; by < y+bh; by += 2 {
				for bx := x; bx < x+bw; bx += 2 {
					r, g, b := f.RGB(bx, by)
					brightness := frame.Brightness(r, g, b)
					gray := abs(r-g) < 20 && abs(g-b) < 20
					if brightness > 200 && gray {
						white++
					}
					if brightness < 60 && gray {
						black++
					}
					if bx < x+bw-4 {
						nr, ng, nb := f.RGB(bx+4, by)
						if math.Abs(brightness-frame.Brightness(nr, ng, nb)) > 80 {
							text++
						}
					}
					total++
				}
			}

			whiteRatio := float64(white) / float64(total)
			blackRatio := float64(black) / float64(total)
			textRatio := float64(text) / float64(total)

			if whiteRatio > 0.3 && whiteRatio < 0.8 && blackRatio > 0.05 && blackRatio < 0.3 && textRatio > 0.1 {
				conf := math.Min(0.9, 0.2+0.4*whiteRatio+1.5*blackRatio+2*textRatio)
				out = append(out, Detection{Class: Book, Confidence: conf, BBox: Box{x, y, bw, bh}})
			}
		}
	}
	return out
}

// scanLaptops compares a bright, bluish top half (screen) against a dark bottom half (keyboard).
func scanLaptops(f frame.Frame) []Detection {
	var out []Detection
	bw, bh := laptopUnit*3, laptopUnit*2
	for y := 0; y < f.Height-bh; y += laptopUnit {
		for x := 0; x < f.Width-bw; x += laptopUnit {
			var screen, keyboard float64
			var screenN, keyboardN int
			glow := false

			for by := y; by < y+laptopUnit; by += 3 {
				for bx := x; bx < x+bw; bx += 3 {
					r, g, b := f.RGB(bx, by)
					brightness := frame.Brightness(r, g, b)
					screen += brightness
					screenN++
					if b > r && b > g && brightness > 100 {
						glow = true
					}
				}
			}
			for by := y + laptopUnit; by < y+bh; by += 3 {
				for bx := x; bx < x+bw; bx += 3 {
					r, g, b := f.RGB(bx, by)
					keyboard += frame.Brightness(r, g, b)
					keyboardN++
				}
			}

			screen /= float64(screenN)
			keyboard /= float64(keyboardN)
			diff := screen - keyboard

			if screen > 90 && keyboard < 100 && diff > 30 && glow {
				conf := math.Min(0.88, 0.25+(diff-30)/200+0.2)
				out = append(out, Detection{Class: Laptop, Confidence: conf, BBox: Box{x, y, bw, bh}})
			}
		}
	}
	return out
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
