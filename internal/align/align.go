// Package align estimates frame-to-frame translational drift with an
// exhaustive block search over Sobel edge maps, refined to sub-pixel
// precision.
package align

import (
	"errors"
	"fmt"
	"math"

	"microstack/internal/config"
	"microstack/internal/frame"
)

// ErrSizeMismatch signals two frames whose downsampled edge maps do not
// share dimensions and therefore cannot be compared.
var ErrSizeMismatch = errors.New("frames differ in size")

// Result is a translation from the previous frame's coordinate space into
// the current frame's, in original (non-downsampled) pixel units.
// Confidence is a heuristic normalized cost in [0,1], not a probability;
// callers apply their own acceptance threshold.
type Result struct {
	DX         float64 `json:"dx"`
	DY         float64 `json:"dy"`
	Confidence float64 `json:"confidence"`
}

// denomEpsilon guards the parabolic refinement against near-zero curvature.
const denomEpsilon = 1e-5

// Estimator computes pairwise drift between temporally adjacent frames.
type Estimator struct {
	AlignWidth   int
	SearchWindow int
	CropRatio    float64
	Deadband     float64
}

// New builds an Estimator from a settings snapshot.
func New(s config.Settings) *Estimator {
	return &Estimator{
		AlignWidth:   s.AlignWidth,
		SearchWindow: s.SearchWindow,
		CropRatio:    s.CropRatio,
		Deadband:     s.DriftDeadband,
	}
}

// Align estimates the translation between prev and curr.
//
// Both frames are cropped and downsampled to AlignWidth, converted to
// blurred grayscale and then to Sobel edge maps. The integer offset within
// [-SearchWindow, +SearchWindow]^2 minimizing the sum of squared edge
// differences wins; the zero offset is scored first, and remaining ties
// keep the first offset in scan order (dy outer, dx inner, ascending). The winner is refined per axis by a parabolic fit and
// scaled back to original pixel units. Offsets with magnitude below the
// deadband snap to exactly zero.
func (e *Estimator) Align(prev, curr *frame.Frame) (Result, error) {
	edgePrev, err := e.edgeMap(prev)
	if err != nil {
		return Result{}, fmt.Errorf("previous frame: %w", err)
	}
	edgeCurr, err := e.edgeMap(curr)
	if err != nil {
		return Result{}, fmt.Errorf("current frame: %w", err)
	}
	if edgePrev.Width != edgeCurr.Width || edgePrev.Height != edgeCurr.Height {
		return Result{}, fmt.Errorf("%w: %dx%d vs %dx%d", ErrSizeMismatch,
			edgePrev.Width, edgePrev.Height, edgeCurr.Width, edgeCurr.Height)
	}

	w, h := edgePrev.Width, edgePrev.Height
	win := e.SearchWindow
	pad := win + 2 // safety padding keeps every sampled read in range
	if w-pad <= pad || h-pad <= pad {
		// Pathologically small scoring window: fall back to "no motion"
		// with zero confidence rather than scoring nothing.
		return Result{}, nil
	}

	side := 2*win + 1
	scores := make([]float64, side*side)
	ssd := func(dx, dy int) float64 {
		var diff float64
		// Subsample every 2nd row/column for speed.
		for y := pad; y < h-pad; y += 2 {
			rowPrev := y * w
			rowCurr := (y + dy) * w
			for x := pad; x < w-pad; x += 2 {
				d := float64(edgePrev.Pix[rowPrev+x]) - float64(edgeCurr.Pix[rowCurr+x+dx])
				diff += d * d
			}
		}
		return diff
	}

	// Seed with the zero offset so a texture-free scene (flat edge maps,
	// where every offset ties) reports no motion. All other ties keep the
	// first-scanned offset in raster order (dy outer, dx inner, ascending).
	bestDX, bestDY := 0, 0
	minDiff := ssd(0, 0)
	scores[win*side+win] = minDiff

	for dy := -win; dy <= win; dy++ {
		for dx := -win; dx <= win; dx++ {
			if dx == 0 && dy == 0 {
				continue
			}
			diff := ssd(dx, dy)
			scores[(dy+win)*side+(dx+win)] = diff
			if diff < minDiff {
				minDiff = diff
				bestDX, bestDY = dx, dy
			}
		}
	}

	fx := refineAxis(scores, side, win, bestDX, bestDY, true)
	fy := refineAxis(scores, side, win, bestDX, bestDY, false)

	// Scale back to original pixel units by the downsample ratio.
	cropW := int(math.Round(float64(prev.Width) * e.CropRatio))
	if cropW < 1 {
		cropW = 1
	}
	ratio := float64(cropW) / float64(e.AlignWidth)
	dx := fx * ratio
	dy := fy * ratio

	if math.Sqrt(dx*dx+dy*dy) < e.Deadband {
		dx, dy = 0, 0
	}

	// Normalized by the full downsampled area, not the subsampled interior
	// count; the 0.6/0.5 caller acceptance thresholds assume this scale.
	confidence := 1 - minDiff/(float64(w*h)*100)
	if confidence < 0 {
		confidence = 0
	}
	return Result{DX: dx, DY: dy, Confidence: confidence}, nil
}

func (e *Estimator) edgeMap(f *frame.Frame) (*frame.EdgeMap, error) {
	small, err := frame.CropAndResize(f, e.AlignWidth, e.CropRatio)
	if err != nil {
		return nil, err
	}
	return frame.SobelMagnitude(frame.BoxBlur3x3(frame.ToGrayscale(small))), nil
}

// refineAxis fits a parabola through the best score and its two immediate
// neighbors along one axis and returns the sub-pixel vertex. Refinement is
// skipped when the best offset sits on the window edge or the curvature
// denominator is near zero.
func refineAxis(scores []float64, side, win, bestDX, bestDY int, horizontal bool) float64 {
	base := bestDY
	if horizontal {
		base = bestDX
	}
	if base <= -win || base >= win {
		return float64(base)
	}

	at := func(dx, dy int) float64 {
		return scores[(dy+win)*side+(dx+win)]
	}
	var left, center, right float64
	if horizontal {
		left, center, right = at(bestDX-1, bestDY), at(bestDX, bestDY), at(bestDX+1, bestDY)
	} else {
		left, center, right = at(bestDX, bestDY-1), at(bestDX, bestDY), at(bestDX, bestDY+1)
	}

	denom := left - 2*center + right
	if math.Abs(denom) <= denomEpsilon {
		return float64(base)
	}
	return float64(base) + (left-right)/(2*denom)
}
