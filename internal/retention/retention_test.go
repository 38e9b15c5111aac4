package retention

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Dmoore628/PersonalAssistant/internal/workflow"
)

func TestSweepDeletesOldResults(t *testing.T) {
	now := time.Date(2026, 1, 2, 12, 0, 0, 0, time.UTC)
	store := workflow.NewMemoryStore()
	ctx := context.Background()
	for id, end := range map[string]time.Time{
		"old":    now.Add(-48 * time.Hour),
		"recent": now.Add(-time.Hour),
	} {
		if err := store.Save(ctx, &workflow.Result{WorkflowID: id, Status: workflow.StatusCompleted, EndTime: end}); err != nil {
			t.Fatalf("save %s: %v", id, err)
		}
	}

	sweeper, err := New(store, "@hourly", 24*time.Hour, func() time.Time { return now })
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	n, err := sweeper.Sweep(ctx)
	if err != nil || n != 1 {
		t.Fatalf("expected one deletion, got %d %v", n, err)
	}
	if _, err := store.Get(ctx, "old"); !errors.Is(err, workflow.ErrNotFound) {
		t.Fatalf("old result should be gone, got %v", err)
	}
	if _, err := store.Get(ctx, "recent"); err != nil {
		t.Fatalf("recent result should stay: %v", err)
	}
}

func TestNewValidatesInput(t *testing.T) {
	store := workflow.NewMemoryStore()
	if _, err := New(store, "not a cron", time.Hour, nil); err == nil {
		t.Fatalf("expected parse error")
	}
	if _, err := New(store, "@daily", 0, nil); err == nil {
		t.Fatalf("expected max age error")
	}
	if _, err := New(nil, "@daily", time.Hour, nil); err == nil {
		t.Fatalf("expected store error")
	}

	s, err := New(store, "0 3 * * *", time.Hour, nil)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	from := time.Date(2026, 1, 1, 4, 0, 0, 0, time.UTC)
	if got := s.Next(from); !got.Equal(time.Date(2026, 1, 2, 3, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected next run: %v", got)
	}
}

type countingPruner struct{ calls atomic.Int32 }

func (c *countingPruner) DeleteBefore(ctx context.Context, cutoff time.Time) (int, error) {
	c.calls.Add(1)
	return 0, nil
}

func TestStartRunsOnSchedule(t *testing.T) {
	pruner := &countingPruner{}
	s, err := New(pruner, "@every 1s", time.Hour, nil)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := s.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := s.Start(ctx); err == nil {
		t.Fatalf("second start should fail")
	}

	deadline := time.Now().Add(5 * time.Second)
	for pruner.calls.Load() == 0 {
		if time.Now().After(deadline) {
			t.Fatalf("sweeper never ran")
		}
		time.Sleep(20 * time.Millisecond)
	}
	s.Stop()
}
