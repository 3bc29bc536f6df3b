// Package focus maintains the focus-stack accumulator: a composite image
// plus a per-pixel sharpness map, fused under a sharpness-dominance rule.
package focus

import (
	"math"

	"microstack/internal/frame"
)

// SharpnessMap holds one 32-bit gradient-magnitude sample per frame pixel,
// row-major, with zero at the borders.
type SharpnessMap struct {
	Pix    []float32
	Width  int
	Height int
}

// Sharpness computes a full-resolution local-gradient sharpness score per
// pixel. The proxy samples the red channel's horizontal and vertical
// deltas between neighbors two pixels apart; it is not a true Sobel, and
// the exact formula is kept for output compatibility with existing
// composites.
func Sharpness(f *frame.Frame) SharpnessMap {
	w, h := f.Width, f.Height
	m := SharpnessMap{Pix: make([]float32, w*h), Width: w, Height: h}
	rowBytes := w * 4
	for y := 1; y < h-1; y++ {
		for x := 1; x < w-1; x++ {
			i := (y*w + x) * 4
			gh := float64(f.Pix[i+4]) - float64(f.Pix[i-4])
			gv := float64(f.Pix[i+rowBytes]) - float64(f.Pix[i-rowBytes])
			m.Pix[y*w+x] = float32(math.Sqrt(gh*gh + gv*gv))
		}
	}
	return m
}
