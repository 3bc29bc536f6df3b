package pipeline

import (
	"context"
	"fmt"
	"log/slog"

	"microstack/internal/config"
	"microstack/internal/session"
)

// StackRequest carries inputs for an offline focus-stack of a capture
// sequence.
type StackRequest struct {
	Settings config.Settings
	Log      *slog.Logger
	Files    []string
	Output   string
	Debug    bool
	Read     readFrameFunc
	Write    writeFrameFunc
	// Progress, when set, is called after each processed file.
	Progress func(done, total int)
}

// StackSummary reports what an offline stack produced.
type StackSummary struct {
	Frames   int
	Captured int
	StageX   float64
	StageY   float64
	Output   string
}

// StackFiles runs a full capture session over an ordered file sequence:
// each frame is tracked for drift, then merged into the focus accumulator,
// and the final composite is written to the output path. A frame whose
// alignment fails is still captured at the last good estimate's gated
// offset; tracking failure never aborts the stack.
func StackFiles(ctx context.Context, req StackRequest) (StackSummary, error) {
	if len(req.Files) == 0 {
		return StackSummary{}, fmt.Errorf("no input images")
	}

	s := session.New("stack", req.Settings, req.Log)
	for i, path := range req.Files {
		if err := ctx.Err(); err != nil {
			return StackSummary{}, err
		}
		f, err := req.Read(path)
		if err != nil {
			return StackSummary{}, fmt.Errorf("frame %d: %w", i, err)
		}
		if _, err := s.Track(f); err != nil {
			req.Log.Warn("alignment failed, assuming no motion", "file", path, "error", err)
		}
		if _, err := s.Capture(f, req.Debug); err != nil {
			return StackSummary{}, fmt.Errorf("merge %s: %w", path, err)
		}
		if req.Progress != nil {
			req.Progress(i+1, len(req.Files))
		}
	}

	acc := s.Composite()
	if err := req.Write(req.Output, acc.Pixels); err != nil {
		return StackSummary{}, err
	}

	tracked, captured := s.Stats()
	stageX, stageY := s.StagePosition()
	return StackSummary{
		Frames:   tracked,
		Captured: captured,
		StageX:   stageX,
		StageY:   stageY,
		Output:   req.Output,
	}, nil
}
