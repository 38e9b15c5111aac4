package agent

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/Dmoore628/PersonalAssistant/internal/bus"
	"github.com/Dmoore628/PersonalAssistant/internal/workflow"
)

func TestTelemetryPublishesProgressAndNotification(t *testing.T) {
	broker := bus.NewMemoryBroker(16)
	tel := NewTelemetry(broker, fixedNow)
	agent := newAgent(t, broker, workflow.WithStepObserver(tel.OnStep), workflow.WithRunObserver(tel.OnFinish))

	def, _ := BuildWorkflow(bus.Plan{ID: "p9", Title: "chain", Steps: []string{"open_application", "click", "type", "explode"}})
	raw, _ := json.Marshal(def)
	body, _ := json.Marshal(bus.Command{Action: bus.ActionExecuteWorkflow, Parameters: raw})
	if err := agent.Handle(context.Background(), body); err != nil {
		t.Fatalf("handle: %v", err)
	}

	msgs := broker.Drain(bus.QueueTaskProgress)
	if len(msgs) != 4 {
		t.Fatalf("expected one progress message per step, got %d", len(msgs))
	}
	want := []float64{0.25, 0.5, 0.75, 1}
	for i, raw := range msgs {
		var p bus.Progress
		if err := json.Unmarshal(raw, &p); err != nil {
			t.Fatalf("decode progress: %v", err)
		}
		if p.ExecutionID != "p9" || p.Step != i || p.TotalSteps != 4 || p.Progress != want[i] {
			t.Fatalf("unexpected progress %d: %+v", i, p)
		}
		if p.Success != (i < 3) {
			t.Fatalf("step %d success mismatch: %+v", i, p)
		}
	}

	notes := broker.Drain(bus.QueueNotification)
	if len(notes) != 1 {
		t.Fatalf("expected one notification, got %d", len(notes))
	}
	var note bus.Notification
	if err := json.Unmarshal(notes[0], &note); err != nil {
		t.Fatalf("decode notification: %v", err)
	}
	if note.Title != "Workflow failed" || note.Type != "error" || note.Message != "chain: 3/4 steps succeeded" {
		t.Fatalf("unexpected notification: %+v", note)
	}
}

func TestRunNotificationVariants(t *testing.T) {
	done := runNotification(&workflow.Result{WorkflowID: "x", Status: workflow.StatusCompleted, TotalSteps: 2, SuccessfulSteps: 2})
	if done.Type != "success" || done.Message != "x: 2/2 steps succeeded" {
		t.Fatalf("unexpected: %+v", done)
	}
	if n := runNotification(&workflow.Result{Status: workflow.StatusCancelled}); n.Type != "warning" {
		t.Fatalf("unexpected: %+v", n)
	}
}
