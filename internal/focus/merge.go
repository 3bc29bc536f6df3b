package focus

import (
	"fmt"
	"math"

	"microstack/internal/frame"
)

// Accumulator is the persistent focus-stack state: the composite pixels and
// the sharpness value each of them won with. It is value-owned by a single
// caller and replaced wholesale on every merge, never resized in place.
type Accumulator struct {
	Pixels    *frame.Frame
	Sharpness SharpnessMap
}

// NewAccumulator allocates a fully transparent, zero-sharpness accumulator.
func NewAccumulator(width, height int) (*Accumulator, error) {
	pixels, err := frame.New(width, height)
	if err != nil {
		return nil, fmt.Errorf("accumulator: %w", err)
	}
	return &Accumulator{
		Pixels:    pixels,
		Sharpness: SharpnessMap{Pix: make([]float32, width*height), Width: width, Height: height},
	}, nil
}

// Merge fuses newFrame into the accumulator, keeping at each output pixel
// whichever layer is sharper. The new frame is sampled at
// (round(x+offsetX), round(y+offsetY)); out-of-bounds positions pass the
// old pixel through unchanged. A pixel adopts the new layer when the new
// sharpness clears the threshold and either beats the old value by
// sensitivity or the old layer had nothing sharp there; a pixel where
// neither layer is sharp stays fully transparent with zero sharpness.
//
// A nil or size-mismatched accumulator is discarded and reinitialized to
// the new frame's dimensions, and the merge proceeds at offset (0,0), so
// the first captured layer goes through the same thresholding logic rather
// than being copied verbatim.
//
// Debug mode overrides color only, never the sharpness bookkeeping: pixels
// contributing in-focus data (newly adopted, or retained because the old
// value is sharp) render as a fixed magenta marker.
func Merge(acc *Accumulator, newFrame *frame.Frame, offsetX, offsetY, sensitivity, threshold float64, debug bool) (*Accumulator, error) {
	if newFrame == nil || newFrame.Width <= 0 || newFrame.Height <= 0 {
		return nil, fmt.Errorf("merge: %w", frame.ErrEmptyFrame)
	}
	if acc == nil || acc.Pixels == nil ||
		acc.Pixels.Width != newFrame.Width || acc.Pixels.Height != newFrame.Height {
		fresh, err := NewAccumulator(newFrame.Width, newFrame.Height)
		if err != nil {
			return nil, err
		}
		acc = fresh
		offsetX, offsetY = 0, 0
	}

	w, h := acc.Pixels.Width, acc.Pixels.Height
	out, err := NewAccumulator(w, h)
	if err != nil {
		return nil, err
	}
	newSharp := Sharpness(newFrame)

	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			idx := y*w + x
			sx := int(math.Round(float64(x) + offsetX))
			sy := int(math.Round(float64(y) + offsetY))
			if sx < 0 || sx >= w || sy < 0 || sy >= h {
				copyPixel(out.Pixels, acc.Pixels, idx, idx)
				out.Sharpness.Pix[idx] = acc.Sharpness.Pix[idx]
				continue
			}

			sidx := sy*w + sx
			newVal := float64(newSharp.Pix[sidx])
			oldVal := float64(acc.Sharpness.Pix[idx])
			isNewSharp := newVal > threshold
			isOldSharp := oldVal > threshold

			switch {
			case isNewSharp && (newVal > oldVal+sensitivity || !isOldSharp):
				// New layer wins: strictly sharper by a margin, or the old
				// layer had nothing sharp here yet.
				if debug {
					setMagenta(out.Pixels, idx)
				} else {
					p := idx * 4
					s := sidx * 4
					out.Pixels.Pix[p] = newFrame.Pix[s]
					out.Pixels.Pix[p+1] = newFrame.Pix[s+1]
					out.Pixels.Pix[p+2] = newFrame.Pix[s+2]
					out.Pixels.Pix[p+3] = 255
				}
				out.Sharpness.Pix[idx] = float32(newVal)
			case !isOldSharp:
				// Neither layer is in focus: unfilled background.
				// out is already transparent with zero sharpness.
			default:
				// Old is sharp and the new layer did not win.
				if debug {
					setMagenta(out.Pixels, idx)
				} else {
					copyPixel(out.Pixels, acc.Pixels, idx, idx)
				}
				out.Sharpness.Pix[idx] = acc.Sharpness.Pix[idx]
			}
		}
	}
	return out, nil
}

func copyPixel(dst, src *frame.Frame, dstIdx, srcIdx int) {
	d := dstIdx * 4
	s := srcIdx * 4
	copy(dst.Pix[d:d+4], src.Pix[s:s+4])
}

func setMagenta(f *frame.Frame, idx int) {
	p := idx * 4
	f.Pix[p] = 255
	f.Pix[p+1] = 0
	f.Pix[p+2] = 255
	f.Pix[p+3] = 255
}
