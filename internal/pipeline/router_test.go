package pipeline

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"microstack/internal/config"
	"microstack/internal/frame"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fastSettings aligns at 1:1 scale with a small search window to keep the
// exhaustive search cheap.
func fastSettings() config.Settings {
	return config.Settings{
		AlignWidth:         64,
		SearchWindow:       8,
		SharpnessThreshold: 20,
		CropRatio:          1.0,
		DriftDeadband:      0.8,
		FingerprintSize:    16,
		MergeSensitivity:   5,
	}
}

func texturedFrame(w, h, shiftX, shiftY int) *frame.Frame {
	f, err := frame.New(w, h)
	if err != nil {
		panic(err)
	}
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			v := byte((31*(x+shiftX) + 17*(y+shiftY) + (x*y%7)*13) % 251)
			f.SetRGBA(x, y, v, v, v, 255)
		}
	}
	return f
}

// stubIO backs a router with in-memory frames keyed by file base name.
type stubIO struct {
	frames  map[string]*frame.Frame
	written map[string]*frame.Frame
}

func newStubIO() *stubIO {
	return &stubIO{
		frames:  make(map[string]*frame.Frame),
		written: make(map[string]*frame.Frame),
	}
}

func (s *stubIO) read(path string) (*frame.Frame, error) {
	f, ok := s.frames[filepath.Base(path)]
	if !ok {
		return nil, fmt.Errorf("no stub frame for %s", path)
	}
	return f.Clone(), nil
}

func (s *stubIO) write(path string, f *frame.Frame) error {
	s.written[path] = f.Clone()
	return nil
}

func (s *stubIO) router(settings config.Settings) *router {
	return &router{
		log:        testLogger(),
		settings:   settings,
		readFrame:  s.read,
		writeFrame: s.write,
	}
}

// seedDir creates placeholder image files whose contents come from the
// stub reader, returning the directory.
func seedDir(t *testing.T, names ...string) string {
	t.Helper()
	dir := t.TempDir()
	for _, name := range names {
		if err := os.WriteFile(filepath.Join(dir, name), []byte{0}, 0o644); err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
	}
	return dir
}

func TestRouterUnknownJobType(t *testing.T) {
	r := newStubIO().router(fastSettings())
	res := r.Process(context.Background(), Job{ID: "j1", Type: "transmogrify"})
	if res.Error == nil || !strings.Contains(res.Error.Error(), "unknown job type") {
		t.Fatalf("expected unknown job type error, got %v", res.Error)
	}
}

func TestRouterStackJob(t *testing.T) {
	stub := newStubIO()
	stub.frames["f1.png"] = texturedFrame(64, 64, 0, 0)
	stub.frames["f2.png"] = texturedFrame(64, 64, 0, 0)
	stub.frames["f3.png"] = texturedFrame(64, 64, 0, 0)
	dir := seedDir(t, "f1.png", "f2.png", "f3.png")
	out := filepath.Join(dir, "stacked.png")

	res := stub.router(fastSettings()).Process(context.Background(), Job{
		ID:        "j1",
		Type:      JobStack,
		InputPath: dir,
		Output:    out,
	})
	if res.Error != nil {
		t.Fatalf("expected no error, got %v", res.Error)
	}
	if res.Meta["captured"] != 3 || res.Meta["frames"] != 3 {
		t.Fatalf("unexpected stack meta: %+v", res.Meta)
	}
	composite, ok := stub.written[out]
	if !ok {
		t.Fatalf("expected composite written to %s", out)
	}
	if composite.Width != 64 || composite.Height != 64 {
		t.Fatalf("expected 64x64 composite, got %dx%d", composite.Width, composite.Height)
	}
}

func TestRouterAlignJob(t *testing.T) {
	stub := newStubIO()
	stub.frames["f1.png"] = texturedFrame(64, 64, 0, 0)
	stub.frames["f2.png"] = texturedFrame(64, 64, 3, 2)
	dir := seedDir(t, "f1.png", "f2.png")

	res := stub.router(fastSettings()).Process(context.Background(), Job{
		ID:        "j2",
		Type:      JobAlign,
		InputPath: dir,
	})
	if res.Error != nil {
		t.Fatalf("expected no error, got %v", res.Error)
	}
	pairs, ok := res.Meta["pairs"].([]map[string]any)
	if !ok || len(pairs) != 1 {
		t.Fatalf("expected one drift pair, got %+v", res.Meta["pairs"])
	}
	stageX, _ := res.Meta["stage_x"].(float64)
	stageY, _ := res.Meta["stage_y"].(float64)
	if stageX > -2.25 || stageX < -3.75 || stageY > -1.25 || stageY < -2.75 {
		t.Fatalf("expected stage near (-3,-2), got (%v,%v)", stageX, stageY)
	}
}

func TestRouterAlignNeedsTwoImages(t *testing.T) {
	stub := newStubIO()
	stub.frames["f1.png"] = texturedFrame(64, 64, 0, 0)
	dir := seedDir(t, "f1.png")

	res := stub.router(fastSettings()).Process(context.Background(), Job{Type: JobAlign, InputPath: dir})
	if res.Error == nil {
		t.Fatalf("expected error for single-image alignment")
	}
}

func TestRouterFingerprintJob(t *testing.T) {
	stub := newStubIO()
	stub.frames["f1.png"] = texturedFrame(64, 64, 0, 0)
	stub.frames["f2.png"] = texturedFrame(64, 64, 0, 0)
	dir := seedDir(t, "f1.png", "f2.png")

	res := stub.router(fastSettings()).Process(context.Background(), Job{Type: JobFingerprint, InputPath: dir})
	if res.Error != nil {
		t.Fatalf("expected no error, got %v", res.Error)
	}
	pairs, ok := res.Meta["pairs"].([]map[string]any)
	if !ok || len(pairs) != 1 {
		t.Fatalf("expected one similarity pair, got %+v", res.Meta["pairs"])
	}
	if sim, _ := pairs[0]["similarity"].(float64); sim != 1 {
		t.Fatalf("expected similarity 1 for identical frames, got %v", pairs[0]["similarity"])
	}
}

func TestStackFilesRequiresInput(t *testing.T) {
	_, err := StackFiles(context.Background(), StackRequest{
		Settings: fastSettings(),
		Log:      testLogger(),
	})
	if err == nil {
		t.Fatalf("expected error for empty input")
	}
}

func TestStackFilesHonorsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	stub := newStubIO()
	stub.frames["f1.png"] = texturedFrame(64, 64, 0, 0)
	_, err := StackFiles(ctx, StackRequest{
		Settings: fastSettings(),
		Log:      testLogger(),
		Files:    []string{"f1.png"},
		Output:   "out.png",
		Read:     stub.read,
		Write:    stub.write,
	})
	if err == nil {
		t.Fatalf("expected context error")
	}
}

func TestStackFilesReportsProgress(t *testing.T) {
	stub := newStubIO()
	stub.frames["f1.png"] = texturedFrame(64, 64, 0, 0)
	stub.frames["f2.png"] = texturedFrame(64, 64, 0, 0)

	var calls []int
	summary, err := StackFiles(context.Background(), StackRequest{
		Settings: fastSettings(),
		Log:      testLogger(),
		Files:    []string{"f1.png", "f2.png"},
		Output:   "out.png",
		Read:     stub.read,
		Write:    stub.write,
		Progress: func(done, total int) { calls = append(calls, done) },
	})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if len(calls) != 2 || calls[0] != 1 || calls[1] != 2 {
		t.Fatalf("unexpected progress callbacks: %v", calls)
	}
	if summary.Captured != 2 {
		t.Fatalf("expected 2 captured frames, got %d", summary.Captured)
	}
}
