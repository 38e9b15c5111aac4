package redis

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"github.com/Dmoore628/PersonalAssistant/internal/action"
	"github.com/Dmoore628/PersonalAssistant/internal/workflow"
)

func newTestStore(t *testing.T) (*ResultStore, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	store, err := NewResultStore(context.Background(), Config{Address: mr.Addr(), KeyPrefix: "test:wf:"})
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store, mr
}

func TestResultStoreRoundTrip(t *testing.T) {
	store, mr := newTestStore(t)
	ctx := context.Background()
	end := time.Now().UTC().Truncate(time.Millisecond)

	in := &workflow.Result{
		WorkflowID:  "wf-1",
		Status:      workflow.StatusFailed,
		SuccessRate: 0.5,
		TotalSteps:  2,
		StepResults: []workflow.StepResult{{StepID: "a", Success: true, Attempt: 1}, {StepID: "b", Attempt: 0, Error: workflow.DependencyNotMet}},
		EndTime:     end,
	}
	if err := store.Save(ctx, in); err != nil {
		t.Fatalf("save: %v", err)
	}
	if !mr.Exists("test:wf:result:wf-1") {
		t.Fatalf("document key not written")
	}

	out, err := store.Get(ctx, "wf-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if out.Status != workflow.StatusFailed || len(out.StepResults) != 2 || out.StepResults[1].Error != workflow.DependencyNotMet {
		t.Fatalf("unexpected result: %+v", out)
	}
	if _, err := store.Get(ctx, "missing"); !errors.Is(err, workflow.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestResultStoreDeleteBefore(t *testing.T) {
	store, mr := newTestStore(t)
	ctx := context.Background()
	now := time.Now()

	_ = store.Save(ctx, &workflow.Result{WorkflowID: "old", EndTime: now.Add(-2 * time.Hour)})
	_ = store.Save(ctx, &workflow.Result{WorkflowID: "new", EndTime: now})

	n, err := store.DeleteBefore(ctx, now.Add(-time.Hour))
	if err != nil || n != 1 {
		t.Fatalf("delete before: n=%d err=%v", n, err)
	}
	if mr.Exists("test:wf:result:old") {
		t.Fatalf("expired result still present")
	}
	if _, err := store.Get(ctx, "new"); err != nil {
		t.Fatalf("fresh result removed: %v", err)
	}
}

func TestResultStoreIDNamedIndex(t *testing.T) {
	store, mr := newTestStore(t)
	ctx := context.Background()
	now := time.Now()

	if err := store.Save(ctx, &workflow.Result{WorkflowID: "index", Status: workflow.StatusCompleted, EndTime: now.Add(-2 * time.Hour)}); err != nil {
		t.Fatalf("save index: %v", err)
	}
	if err := store.Save(ctx, &workflow.Result{WorkflowID: "other", Status: workflow.StatusFailed, EndTime: now}); err != nil {
		t.Fatalf("save other: %v", err)
	}
	if !mr.Exists("test:wf:result:index") {
		t.Fatalf("document key not written under result namespace")
	}
	members, err := mr.ZMembers("test:wf:index")
	if err != nil || len(members) != 2 {
		t.Fatalf("index overwritten: members=%v err=%v", members, err)
	}

	out, err := store.Get(ctx, "index")
	if err != nil || out.Status != workflow.StatusCompleted {
		t.Fatalf("get index: %+v %v", out, err)
	}

	n, err := store.DeleteBefore(ctx, now.Add(-time.Hour))
	if err != nil || n != 1 {
		t.Fatalf("delete before: n=%d err=%v", n, err)
	}
	if _, err := store.Get(ctx, "index"); !errors.Is(err, workflow.ErrNotFound) {
		t.Fatalf("expected index result removed, got %v", err)
	}
	if _, err := store.Get(ctx, "other"); err != nil {
		t.Fatalf("other result removed: %v", err)
	}
}

func TestExecutorPersistsThroughRedis(t *testing.T) {
	store, _ := newTestStore(t)
	ok := action.Func(func(ctx context.Context, actionType string, params map[string]any) (action.Result, error) {
		return action.Result{Success: true}, nil
	})
	exec := workflow.NewExecutor(ok, store)

	res, err := exec.Execute(context.Background(), workflow.Definition{ID: "wf-redis", Steps: []workflow.Step{{ActionType: "noop"}}})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	report, err := exec.Status(context.Background(), res.WorkflowID)
	if err != nil || report.Status != workflow.StatusCompleted {
		t.Fatalf("status via redis: %+v %v", report, err)
	}
}
