// Package watch turns a directory into a capture boundary: image files
// dropped into watched directories are ingested as session frames, tracked
// for drift and merged into the focus composite.
package watch

import (
	"context"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"microstack/internal/config"
	"microstack/internal/frame"
	"microstack/internal/fsutil"
	"microstack/internal/session"
)

// settleDelay gives the writer time to finish the file before we decode it.
const settleDelay = 200 * time.Millisecond

type readFrameFunc func(path string) (*frame.Frame, error)
type writeFrameFunc func(path string, f *frame.Frame) error

// Watcher ingests newly created image files into a capture session and
// keeps the composite on disk current.
type Watcher struct {
	watcher    *fsnotify.Watcher
	dirs       []string
	output     string
	debug      bool
	sess       *session.Session
	log        *slog.Logger
	readFrame  readFrameFunc
	writeFrame writeFrameFunc
}

// New creates a watcher over dirs, writing the running composite to output
// after every capture.
func New(dirs []string, output string, debug bool, settings config.Settings, log *slog.Logger,
	read readFrameFunc, write writeFrameFunc) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	return &Watcher{
		watcher:    fsw,
		dirs:       dirs,
		output:     output,
		debug:      debug,
		sess:       session.New("watch", settings, log),
		log:        log,
		readFrame:  read,
		writeFrame: write,
	}, nil
}

// Run watches until the context is canceled.
func (w *Watcher) Run(ctx context.Context) error {
	defer w.watcher.Close()
	for _, dir := range w.dirs {
		if err := w.watcher.Add(dir); err != nil {
			return err
		}
		w.log.Info("watching directory", "dir", dir)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			if event.Op&fsnotify.Create != fsnotify.Create {
				continue
			}
			if !fsutil.IsImageFile(event.Name) {
				continue
			}
			time.Sleep(settleDelay)
			w.ingest(event.Name)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			w.log.Error("watcher error", "error", err)
		}
	}
}

func (w *Watcher) ingest(path string) {
	f, err := w.readFrame(path)
	if err != nil {
		w.log.Warn("skipping unreadable frame", "file", filepath.Base(path), "error", err)
		return
	}
	if _, err := w.sess.Track(f); err != nil {
		w.log.Warn("alignment failed, assuming no motion", "file", filepath.Base(path), "error", err)
	}
	acc, err := w.sess.Capture(f, w.debug)
	if err != nil {
		w.log.Error("merge failed", "file", filepath.Base(path), "error", err)
		return
	}
	if err := w.writeFrame(w.output, acc.Pixels); err != nil {
		w.log.Error("composite write failed", "output", w.output, "error", err)
		return
	}
	stageX, stageY := w.sess.StagePosition()
	w.log.Info("composite updated",
		"file", filepath.Base(path),
		"output", w.output,
		"stage_x", stageX,
		"stage_y", stageY,
	)
}
