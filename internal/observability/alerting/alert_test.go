package alerting

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/Dmoore628/PersonalAssistant/internal/action"
	"github.com/Dmoore628/PersonalAssistant/internal/bus"
	xerrors "github.com/Dmoore628/PersonalAssistant/internal/errors"
	"github.com/Dmoore628/PersonalAssistant/internal/workflow"
)

type recordingNotifier struct {
	channel Channel
	events  []Event
	err     error
}

func (r *recordingNotifier) Channel() Channel { return r.channel }

func (r *recordingNotifier) Notify(ctx context.Context, event Event) error {
	r.events = append(r.events, event)
	return r.err
}

func TestFanoutCollectsErrors(t *testing.T) {
	ok := &recordingNotifier{channel: ChannelLog}
	bad := &recordingNotifier{channel: ChannelBus, err: errors.New("broker down")}
	err := NewFanout(ok, nil, bad).Notify(context.Background(), Event{Code: workflow.CodeActionFailed})
	if err == nil {
		t.Fatalf("expected joined error")
	}
	if len(ok.events) != 1 || len(bad.events) != 1 {
		t.Fatalf("every notifier should be called: %d %d", len(ok.events), len(bad.events))
	}
}

func TestWorkflowObserverAlertsOnFailure(t *testing.T) {
	rec := &recordingNotifier{channel: ChannelLog}
	broker := bus.NewMemoryBroker(4)
	dispatcher := NewFanout(rec, &BusNotifier{Publisher: broker}, &LogNotifier{})

	actions := action.Func(func(ctx context.Context, actionType string, params map[string]any) (action.Result, error) {
		return action.Result{Success: actionType != "fail"}, nil
	})
	exec := workflow.NewExecutor(actions, nil,
		workflow.WithWaitFunc(func(ctx context.Context, d time.Duration, cancel <-chan struct{}) error { return nil }),
		workflow.WithRunObserver(WorkflowObserver(dispatcher)),
	)

	if _, err := exec.Execute(context.Background(), workflow.Definition{ID: "ok", Steps: []workflow.Step{{ActionType: "click"}}}); err != nil {
		t.Fatalf("execute: %v", err)
	}
	if len(rec.events) != 0 {
		t.Fatalf("completed runs must not alert")
	}

	_, err := exec.Execute(context.Background(), workflow.Definition{
		ID:   "bad",
		Name: "login",
		Steps: []workflow.Step{
			{ID: "open", ActionType: "click"},
			{ID: "submit", ActionType: "fail", RetryPolicy: &workflow.RetryPolicy{MaxRetries: 1, InitialDelay: 1, BackoffMultiplier: 1}},
			{ID: "after", ActionType: "click"},
		},
	})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if len(rec.events) != 1 {
		t.Fatalf("expected one alert, got %d", len(rec.events))
	}
	ev := rec.events[0]
	if ev.WorkflowID != "bad" || ev.Code != workflow.CodeActionFailed || ev.Severity != xerrors.SeverityCritical {
		t.Fatalf("unexpected event: %+v", ev)
	}
	if len(ev.FailedSteps) != 1 || ev.FailedSteps[0] != "submit" || ev.Retries != 2 {
		t.Fatalf("unexpected failure details: %+v", ev)
	}

	msgs := broker.Drain(bus.QueueNotification)
	if len(msgs) != 1 {
		t.Fatalf("expected one bus notification, got %d", len(msgs))
	}
	var note bus.Notification
	if err := json.Unmarshal(msgs[0], &note); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if note.Type != "alert" || note.Priority != 1 || note.Title != "[critical] ACTION_FAILED" {
		t.Fatalf("unexpected notification: %+v", note)
	}
}

func TestDependencyFailureUsesRegisteredSeverity(t *testing.T) {
	result := &workflow.Result{
		WorkflowID:  "w",
		Status:      workflow.StatusFailed,
		StepResults: []workflow.StepResult{{StepID: "x", Attempt: 0, Error: workflow.DependencyNotMet}},
	}
	ev := failureEvent(nil, result)
	if ev.Code != workflow.CodeDependencyNotMet || ev.Severity != xerrors.SeverityWarning {
		t.Fatalf("unexpected event: %+v", ev)
	}
}
