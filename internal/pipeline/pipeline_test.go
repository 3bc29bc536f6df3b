package pipeline

import (
	"context"
	"testing"
	"time"

	"microstack/internal/config"
)

func TestPipelineDeliversResults(t *testing.T) {
	p := New(context.Background(), 1, testLogger(), nil, config.DefaultSettings())
	defer p.Stop()

	ch, unsub := p.Subscribe()
	defer unsub()

	// A bogus job type fails fast without touching the filesystem but
	// still exercises the worker loop and broadcast path.
	if err := p.Submit(Job{ID: "j1", Type: "bogus"}); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	select {
	case res := <-ch:
		if res.Job.ID != "j1" {
			t.Fatalf("expected job j1, got %q", res.Job.ID)
		}
		if res.Error == nil {
			t.Fatalf("expected unknown job type error")
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("timed out waiting for job result")
	}
}

func TestPipelineStopIsIdempotent(t *testing.T) {
	p := New(context.Background(), 2, testLogger(), nil, config.DefaultSettings())
	p.Stop()
	p.Stop()
}

func TestSubmitRejectsWhenQueueFull(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	p := New(ctx, 1, testLogger(), nil, config.DefaultSettings())
	// Cancel first so workers stop draining, then overfill the queue.
	cancel()
	time.Sleep(50 * time.Millisecond)

	var err error
	for i := 0; i < 16 && err == nil; i++ {
		err = p.Submit(Job{ID: "j", Type: "bogus"})
	}
	if err == nil {
		t.Fatalf("expected queue-full error")
	}
}
