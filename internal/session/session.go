// Package session owns the per-capture-session state around the imaging
// core: the previous frame used for drift tracking, the running stage
// position, and the focus-stack accumulator. The core computes only
// per-pair deltas and single merges; every acceptance policy lives here.
package session

import (
	"log/slog"
	"math"
	"sync"

	"microstack/internal/align"
	"microstack/internal/config"
	"microstack/internal/focus"
	"microstack/internal/frame"
	"microstack/internal/logging"
)

// Caller-side acceptance policies over the estimator's heuristic
// confidence.
const (
	// trackConfidence gates continuous tracking: drift below this is not
	// accumulated into the stage position.
	trackConfidence = 0.6
	// captureConfidence and maxCaptureOffset gate compositing: a merge with
	// a weaker or wilder estimate is forced to zero offset.
	captureConfidence = 0.5
	maxCaptureOffset  = 100.0
)

type aligner interface {
	Align(prev, curr *frame.Frame) (align.Result, error)
}

// Session threads the explicit accumulator and tracking state between
// calls. Merges are serialized; at most one is in flight per session.
type Session struct {
	ID string

	mu       sync.Mutex
	est      aligner
	settings config.Settings
	log      *slog.Logger

	prev      *frame.Frame
	acc       *focus.Accumulator
	lastDrift align.Result
	stageX    float64
	stageY    float64
	tracked   int
	captured  int
}

// New creates a session with the given settings snapshot.
func New(id string, settings config.Settings, log *slog.Logger) *Session {
	return &Session{
		ID:       id,
		est:      align.New(settings),
		settings: settings,
		log:      log,
	}
}

// Track aligns the frame against the previous one and folds the drift into
// the running stage position when the estimate clears the tracking
// threshold. Alignment failure is reported but treated as "assume no
// motion": frame ingestion continues.
func (s *Session) Track(f *frame.Frame) (align.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev := s.prev
	s.prev = f
	s.tracked++
	if prev == nil {
		s.lastDrift = align.Result{}
		return align.Result{}, nil
	}

	res, err := s.est.Align(prev, f)
	if err != nil {
		s.lastDrift = align.Result{}
		return align.Result{}, err
	}
	s.lastDrift = res
	if res.Confidence > trackConfidence {
		s.stageX += res.DX
		s.stageY += res.DY
	}
	logging.LogDrift(s.log, s.ID, res.DX, res.DY, res.Confidence)
	return res, nil
}

// Capture merges the frame into the accumulator at the latest drift
// estimate, subject to the manual-compositing policy.
func (s *Session) Capture(f *frame.Frame, debug bool) (*focus.Accumulator, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	offX, offY := captureOffset(s.lastDrift)
	acc, err := focus.Merge(s.acc, f, offX, offY,
		s.settings.MergeSensitivity, s.settings.SharpnessThreshold, debug)
	if err != nil {
		return nil, err
	}
	s.acc = acc
	s.captured++
	logging.LogCapture(s.log, s.ID, acc.Pixels.Width, acc.Pixels.Height, offX, offY)
	return acc, nil
}

// captureOffset applies the compositing gate: weak or implausibly large
// estimates are treated as zero motion.
func captureOffset(res align.Result) (float64, float64) {
	if res.Confidence <= captureConfidence {
		return 0, 0
	}
	if math.Abs(res.DX) > maxCaptureOffset || math.Abs(res.DY) > maxCaptureOffset {
		return 0, 0
	}
	return res.DX, res.DY
}

// Composite returns the current accumulator, or nil before the first
// capture.
func (s *Session) Composite() *focus.Accumulator {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.acc
}

// StagePosition returns the accumulated drift of confidently tracked
// frames.
func (s *Session) StagePosition() (x, y float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stageX, s.stageY
}

// Stats reports how many frames the session has tracked and captured.
func (s *Session) Stats() (tracked, captured int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tracked, s.captured
}

// Reset drops the accumulator, previous frame, and stage position,
// returning the session to its initial state.
func (s *Session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prev = nil
	s.acc = nil
	s.lastDrift = align.Result{}
	s.stageX, s.stageY = 0, 0
}
