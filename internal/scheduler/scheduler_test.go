package scheduler_test

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"watchpod/internal/logging"
	"watchpod/internal/scheduler"
	"watchpod/internal/services"
)

func TestIntervalJobRuns(t *testing.T) {
	s := scheduler.New(logging.NewNop())
	var runs atomic.Int32

	s.AddIntervalJob("tick", 50*time.Millisecond, func(ctx context.Context) {
		if job, ok := services.JobFromContext(ctx); !ok || job != "tick" {
			t.Errorf("job name missing from context: %q", job)
		}
		runs.Add(1)
	})

	s.Start(context.Background())
	defer s.Stop()

	deadline := time.Now().Add(3 * time.Second)
	for runs.Load() < 2 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if runs.Load() < 2 {
		t.Fatalf("expected at least 2 runs, got %d", runs.Load())
	}
}

func TestSlowJobIsSkippedNotStacked(t *testing.T) {
	s := scheduler.New(logging.NewNop())
	var concurrent atomic.Int32
	var peak atomic.Int32

	s.AddIntervalJob("slow", 30*time.Millisecond, func(ctx context.Context) {
		current := concurrent.Add(1)
		if current > peak.Load() {
			peak.Store(current)
		}
		time.Sleep(150 * time.Millisecond)
		concurrent.Add(-1)
	})

	s.Start(context.Background())
	time.Sleep(400 * time.Millisecond)
	s.Stop()

	if peak.Load() > 1 {
		t.Fatalf("job instances overlapped: peak %d", peak.Load())
	}
}

func TestRemoveJobStopsScheduling(t *testing.T) {
	s := scheduler.New(logging.NewNop())
	var runs atomic.Int32

	s.AddIntervalJob("ephemeral", 30*time.Millisecond, func(ctx context.Context) {
		runs.Add(1)
	})
	s.RemoveJob("ephemeral")

	s.Start(context.Background())
	time.Sleep(150 * time.Millisecond)
	s.Stop()

	if runs.Load() != 0 {
		t.Fatalf("removed job should never run, ran %d times", runs.Load())
	}
}
