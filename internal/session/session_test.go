package session

import (
	"errors"
	"io"
	"log/slog"
	"testing"

	"microstack/internal/align"
	"microstack/internal/config"
	"microstack/internal/frame"
)

type stubAligner struct {
	res   align.Result
	err   error
	calls int
}

func (a *stubAligner) Align(prev, curr *frame.Frame) (align.Result, error) {
	a.calls++
	return a.res, a.err
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testFrame(t *testing.T) *frame.Frame {
	t.Helper()
	f, err := frame.New(8, 8)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	for y := 0; y < 8; y++ {
		for x := 0; x < 8; x++ {
			f.SetRGBA(x, y, 100, 100, 100, 255)
		}
	}
	return f
}

func TestTrackFirstFrameIsBaseline(t *testing.T) {
	stub := &stubAligner{res: align.Result{DX: 5, DY: 5, Confidence: 1}}
	s := New("t", config.DefaultSettings(), testLogger())
	s.est = stub

	res, err := s.Track(testFrame(t))
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if res != (align.Result{}) {
		t.Fatalf("expected zero result for first frame, got %+v", res)
	}
	if stub.calls != 0 {
		t.Fatalf("aligner must not run without a previous frame")
	}
}

func TestTrackAccumulatesConfidentDrift(t *testing.T) {
	stub := &stubAligner{res: align.Result{DX: 2, DY: -3, Confidence: 0.9}}
	s := New("t", config.DefaultSettings(), testLogger())
	s.est = stub

	for i := 0; i < 3; i++ {
		if _, err := s.Track(testFrame(t)); err != nil {
			t.Fatalf("track %d: %v", i, err)
		}
	}
	x, y := s.StagePosition()
	if x != 4 || y != -6 {
		t.Fatalf("expected stage (4,-6), got (%v,%v)", x, y)
	}
	tracked, captured := s.Stats()
	if tracked != 3 || captured != 0 {
		t.Fatalf("expected 3 tracked, 0 captured, got %d/%d", tracked, captured)
	}
}

func TestTrackIgnoresWeakDrift(t *testing.T) {
	// Confidence at the threshold is not enough; the gate is strict.
	stub := &stubAligner{res: align.Result{DX: 2, DY: 2, Confidence: 0.6}}
	s := New("t", config.DefaultSettings(), testLogger())
	s.est = stub

	s.Track(testFrame(t))
	res, err := s.Track(testFrame(t))
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if res.DX != 2 || res.DY != 2 {
		t.Fatalf("weak drift must still be reported, got %+v", res)
	}
	if x, y := s.StagePosition(); x != 0 || y != 0 {
		t.Fatalf("weak drift must not move the stage, got (%v,%v)", x, y)
	}
}

func TestTrackFailureAssumesNoMotion(t *testing.T) {
	stub := &stubAligner{err: errors.New("boom")}
	s := New("t", config.DefaultSettings(), testLogger())
	s.est = stub

	s.Track(testFrame(t))
	if _, err := s.Track(testFrame(t)); err == nil {
		t.Fatalf("expected alignment error to surface")
	}
	if s.lastDrift != (align.Result{}) {
		t.Fatalf("failed alignment must reset the drift estimate, got %+v", s.lastDrift)
	}
	// Capture still works, merging at zero offset.
	acc, err := s.Capture(testFrame(t), false)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if acc.Pixels.Width != 8 || acc.Pixels.Height != 8 {
		t.Fatalf("expected 8x8 composite, got %dx%d", acc.Pixels.Width, acc.Pixels.Height)
	}
}

func TestCaptureOffsetGate(t *testing.T) {
	cases := []struct {
		name   string
		res    align.Result
		wantX  float64
		wantY  float64
	}{
		{"confident small drift", align.Result{DX: 10, DY: -5, Confidence: 0.9}, 10, -5},
		{"weak estimate", align.Result{DX: 10, DY: -5, Confidence: 0.3}, 0, 0},
		{"threshold confidence", align.Result{DX: 10, DY: -5, Confidence: 0.5}, 0, 0},
		{"implausible x", align.Result{DX: 150, DY: 0, Confidence: 0.9}, 0, 0},
		{"implausible y", align.Result{DX: 0, DY: -101, Confidence: 0.9}, 0, 0},
	}
	for _, tc := range cases {
		x, y := captureOffset(tc.res)
		if x != tc.wantX || y != tc.wantY {
			t.Fatalf("%s: expected (%v,%v), got (%v,%v)", tc.name, tc.wantX, tc.wantY, x, y)
		}
	}
}

func TestCaptureAndReset(t *testing.T) {
	stub := &stubAligner{res: align.Result{DX: 1, DY: 1, Confidence: 0.9}}
	s := New("t", config.DefaultSettings(), testLogger())
	s.est = stub

	s.Track(testFrame(t))
	s.Track(testFrame(t))
	acc, err := s.Capture(testFrame(t), false)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if s.Composite() != acc {
		t.Fatalf("composite must return the latest accumulator")
	}
	if _, captured := s.Stats(); captured != 1 {
		t.Fatalf("expected 1 captured frame, got %d", captured)
	}

	s.Reset()
	if s.Composite() != nil {
		t.Fatalf("reset must drop the composite")
	}
	if x, y := s.StagePosition(); x != 0 || y != 0 {
		t.Fatalf("reset must zero the stage position")
	}
	res, err := s.Track(testFrame(t))
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if res != (align.Result{}) {
		t.Fatalf("first frame after reset must be a baseline, got %+v", res)
	}
}
