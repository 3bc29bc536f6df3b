// Package fingerprint produces small grayscale digests of frames for cheap
// similarity queries, plus a perceptual-hash stability detector for "is the
// stage holding still" checks.
package fingerprint

import (
	"errors"
	"fmt"

	"github.com/corona10/goimagehash"

	"microstack/internal/frame"
)

// ErrSizeMismatch signals two fingerprints that cannot be compared because
// they differ in size.
var ErrSizeMismatch = errors.New("fingerprints differ in size")

// Fingerprint is a fixed-size grayscale thumbnail of a cropped frame.
type Fingerprint struct {
	Pix  []uint8
	Size int
}

// Compute crops the frame's centered cropRatio region and resizes it to a
// size x size grayscale thumbnail.
func Compute(f *frame.Frame, size int, cropRatio float64) (Fingerprint, error) {
	small, err := frame.CropAndResizeTo(f, size, size, cropRatio)
	if err != nil {
		return Fingerprint{}, fmt.Errorf("fingerprint: %w", err)
	}
	return Fingerprint{Pix: frame.ToGrayscale(small).Pix, Size: size}, nil
}

// Similarity returns 1 - meanAbsoluteDifference(a,b)/255, a score in [0,1].
// Fingerprints are comparable only when equal in size.
func Similarity(a, b Fingerprint) (float64, error) {
	if len(a.Pix) == 0 || len(a.Pix) != len(b.Pix) {
		return 0, fmt.Errorf("%w: %d vs %d samples", ErrSizeMismatch, len(a.Pix), len(b.Pix))
	}
	var sum float64
	for i := range a.Pix {
		d := int(a.Pix[i]) - int(b.Pix[i])
		if d < 0 {
			d = -d
		}
		sum += float64(d)
	}
	return 1 - sum/float64(len(a.Pix))/255, nil
}

// defaultMaxHashDistance is ~95% bit similarity on a 64-bit pHash.
const defaultMaxHashDistance = 3

// StabilityDetector tracks the perceptual hash of the latest frame and
// reports whether the view is holding still enough to capture. It is not
// wired into any control loop; callers poll it at their own cadence.
type StabilityDetector struct {
	MaxDistance int
	last        *goimagehash.ImageHash
}

// NewStabilityDetector returns a detector with the default hash-distance
// tolerance.
func NewStabilityDetector() *StabilityDetector {
	return &StabilityDetector{MaxDistance: defaultMaxHashDistance}
}

// Update hashes the frame and reports whether it is perceptually stable
// relative to the previous one. The first frame is never stable.
func (d *StabilityDetector) Update(f *frame.Frame) (bool, error) {
	hash, err := goimagehash.PerceptionHash(f.ToImage())
	if err != nil {
		return false, fmt.Errorf("perception hash: %w", err)
	}
	prev := d.last
	d.last = hash
	if prev == nil {
		return false, nil
	}
	distance, err := prev.Distance(hash)
	if err != nil {
		return false, fmt.Errorf("hash distance: %w", err)
	}
	return distance <= d.MaxDistance, nil
}

// Reset forgets the previous frame's hash.
func (d *StabilityDetector) Reset() {
	d.last = nil
}
