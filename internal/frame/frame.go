// Package frame holds the raw pixel types shared by the alignment and
// focus-stacking pipelines, plus the preprocessing transforms that operate
// on them.
package frame

import (
	"errors"
	"fmt"
	"image"
)

// ErrEmptyFrame signals a frame with non-positive dimensions.
var ErrEmptyFrame = errors.New("frame has non-positive dimensions")

// Frame is a rectangular grid of RGBA8 samples, 4 bytes per pixel,
// row-major. Frames produced by the capture boundary are never mutated in
// place; every transform returns a new buffer.
type Frame struct {
	Pix    []byte
	Width  int
	Height int
}

// New allocates a zeroed (fully transparent) frame.
func New(width, height int) (*Frame, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("%w: %dx%d", ErrEmptyFrame, width, height)
	}
	return &Frame{
		Pix:    make([]byte, width*height*4),
		Width:  width,
		Height: height,
	}, nil
}

// Clone returns a deep copy of the frame.
func (f *Frame) Clone() *Frame {
	pix := make([]byte, len(f.Pix))
	copy(pix, f.Pix)
	return &Frame{Pix: pix, Width: f.Width, Height: f.Height}
}

// RGBA returns the channel values at (x, y). Bounds are the caller's
// responsibility.
func (f *Frame) RGBA(x, y int) (r, g, b, a byte) {
	i := (y*f.Width + x) * 4
	return f.Pix[i], f.Pix[i+1], f.Pix[i+2], f.Pix[i+3]
}

// SetRGBA writes the channel values at (x, y).
func (f *Frame) SetRGBA(x, y int, r, g, b, a byte) {
	i := (y*f.Width + x) * 4
	f.Pix[i], f.Pix[i+1], f.Pix[i+2], f.Pix[i+3] = r, g, b, a
}

// ToImage wraps the frame as an image.RGBA sharing the same pixel buffer.
func (f *Frame) ToImage() *image.RGBA {
	return &image.RGBA{
		Pix:    f.Pix,
		Stride: f.Width * 4,
		Rect:   image.Rect(0, 0, f.Width, f.Height),
	}
}

// FromImage converts any image.Image into a Frame, copying pixels.
func FromImage(img image.Image) *Frame {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	out := &Frame{Pix: make([]byte, w*h*4), Width: w, Height: h}
	i := 0
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			r, g, bl, a := img.At(x, y).RGBA()
			out.Pix[i] = byte(r >> 8)
			out.Pix[i+1] = byte(g >> 8)
			out.Pix[i+2] = byte(bl >> 8)
			out.Pix[i+3] = byte(a >> 8)
			i += 4
		}
	}
	return out
}

// GrayscaleBuffer holds one 8-bit luma sample per frame pixel, row-major.
type GrayscaleBuffer struct {
	Pix    []uint8
	Width  int
	Height int
}

// EdgeMap holds per-pixel gradient magnitudes aligned 1:1 with a
// GrayscaleBuffer. Border entries (row/col 0 and the last row/col) are
// always zero; no gradient is computed there.
type EdgeMap struct {
	Pix    []float32
	Width  int
	Height int
}

// RGB is an integer color triple.
type RGB struct {
	R, G, B int
}

// averageColorStride samples every 10th pixel (40 bytes across the packed
// 4-byte layout).
const averageColorStride = 40

// AverageColor estimates the mean color of a frame by sampling every 10th
// pixel. It is a cosmetic hint (viewer backdrop matching), not a
// correctness-critical signal.
func AverageColor(f *Frame) RGB {
	var r, g, b, n int
	for i := 0; i+3 < len(f.Pix); i += averageColorStride {
		r += int(f.Pix[i])
		g += int(f.Pix[i+1])
		b += int(f.Pix[i+2])
		n++
	}
	if n == 0 {
		return RGB{}
	}
	return RGB{R: r / n, G: g / n, B: b / n}
}
