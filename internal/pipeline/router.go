package pipeline

import (
	"context"
	"fmt"
	"log/slog"

	"microstack/internal/align"
	"microstack/internal/config"
	"microstack/internal/fingerprint"
	"microstack/internal/frame"
	"microstack/internal/fsutil"
	"microstack/internal/imageio"
)

type readFrameFunc func(path string) (*frame.Frame, error)
type writeFrameFunc func(path string, f *frame.Frame) error

// router implements Processor and routes jobs to their concrete handlers.
// Frame IO is injectable so handlers can be exercised without image files.
type router struct {
	log        *slog.Logger
	settings   config.Settings
	readFrame  readFrameFunc
	writeFrame writeFrameFunc
}

func newRouter(logger *slog.Logger, settings config.Settings) Processor {
	return &router{
		log:        logger,
		settings:   settings,
		readFrame:  imageio.ReadFrame,
		writeFrame: imageio.WriteFrame,
	}
}

func (r *router) Process(ctx context.Context, job Job) Result {
	switch job.Type {
	case JobStack:
		return r.handleStack(ctx, job)
	case JobAlign:
		return r.handleAlign(ctx, job)
	case JobFingerprint:
		return r.handleFingerprint(ctx, job)
	default:
		return Result{Job: job, Error: fmt.Errorf("unknown job type: %s", job.Type)}
	}
}

func (r *router) handleStack(ctx context.Context, job Job) Result {
	files, err := fsutil.ListImages(job.InputPath)
	if err != nil {
		return Result{Job: job, Error: err}
	}
	debug, _ := job.Options["debug"].(bool)
	summary, err := StackFiles(ctx, StackRequest{
		Settings: r.settings,
		Log:      r.log,
		Files:    files,
		Output:   job.Output,
		Debug:    debug,
		Read:     r.readFrame,
		Write:    r.writeFrame,
	})
	meta := map[string]any{
		"frames":   summary.Frames,
		"captured": summary.Captured,
		"stage_x":  summary.StageX,
		"stage_y":  summary.StageY,
		"output":   summary.Output,
	}
	return Result{Job: job, Error: err, Meta: meta}
}

func (r *router) handleAlign(ctx context.Context, job Job) Result {
	files, err := fsutil.ListImages(job.InputPath)
	if err != nil {
		return Result{Job: job, Error: err}
	}
	if len(files) < 2 {
		return Result{Job: job, Error: fmt.Errorf("need at least two images, found %d", len(files))}
	}

	est := align.New(r.settings)
	var prev *frame.Frame
	var drifts []map[string]any
	var stageX, stageY float64
	for _, path := range files {
		if err := ctx.Err(); err != nil {
			return Result{Job: job, Error: err}
		}
		f, err := r.readFrame(path)
		if err != nil {
			return Result{Job: job, Error: err}
		}
		if prev != nil {
			res, err := est.Align(prev, f)
			if err != nil {
				return Result{Job: job, Error: err}
			}
			stageX += res.DX
			stageY += res.DY
			drifts = append(drifts, map[string]any{
				"file":       path,
				"dx":         res.DX,
				"dy":         res.DY,
				"confidence": res.Confidence,
			})
		}
		prev = f
	}
	meta := map[string]any{
		"pairs":   drifts,
		"stage_x": stageX,
		"stage_y": stageY,
	}
	return Result{Job: job, Meta: meta}
}

func (r *router) handleFingerprint(ctx context.Context, job Job) Result {
	files, err := fsutil.ListImages(job.InputPath)
	if err != nil {
		return Result{Job: job, Error: err}
	}
	if len(files) < 2 {
		return Result{Job: job, Error: fmt.Errorf("need at least two images, found %d", len(files))}
	}

	var prev fingerprint.Fingerprint
	var scores []map[string]any
	for i, path := range files {
		if err := ctx.Err(); err != nil {
			return Result{Job: job, Error: err}
		}
		f, err := r.readFrame(path)
		if err != nil {
			return Result{Job: job, Error: err}
		}
		fp, err := fingerprint.Compute(f, r.settings.FingerprintSize, r.settings.CropRatio)
		if err != nil {
			return Result{Job: job, Error: err}
		}
		if i > 0 {
			score, err := fingerprint.Similarity(prev, fp)
			if err != nil {
				return Result{Job: job, Error: err}
			}
			scores = append(scores, map[string]any{
				"file":       path,
				"similarity": score,
			})
		}
		prev = fp
	}
	return Result{Job: job, Meta: map[string]any{"pairs": scores}}
}
