package agent

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/Dmoore628/PersonalAssistant/internal/bus"
	"github.com/Dmoore628/PersonalAssistant/internal/workflow"
)

func TestBuildWorkflowChainsSteps(t *testing.T) {
	def, ok := BuildWorkflow(bus.Plan{ID: "p1", Title: "morning", Source: "voice", Steps: []string{"open_application", " ", "click", "type"}})
	if !ok {
		t.Fatalf("expected a workflow")
	}
	if len(def.Steps) != 3 {
		t.Fatalf("blank steps should be skipped, got %d", len(def.Steps))
	}
	if def.ID != "p1" || def.Name != "morning" || def.CreatedBy != "voice" {
		t.Fatalf("unexpected header: %+v", def)
	}
	if len(def.Steps[0].Dependencies) != 0 {
		t.Fatalf("first step must not depend on anything")
	}
	for i := 1; i < len(def.Steps); i++ {
		deps := def.Steps[i].Dependencies
		if len(deps) != 1 || deps[0] != def.Steps[i-1].ID {
			t.Fatalf("step %d should depend on its predecessor, got %v", i, deps)
		}
	}
	if def.Steps[1].ActionType != "click" || def.Steps[1].ID != "step_1" {
		t.Fatalf("unexpected step: %+v", def.Steps[1])
	}
	if _, err := workflow.Prepare(def); err != nil {
		t.Fatalf("built workflow should validate: %v", err)
	}

	if _, ok := BuildWorkflow(bus.Plan{ID: "p2", Title: "empty"}); ok {
		t.Fatalf("plan without steps should not build a workflow")
	}
}

func TestPlannerSchedulesWorkflow(t *testing.T) {
	broker := bus.NewMemoryBroker(8)
	planner := NewPlanner(broker, fixedNow)

	body, _ := json.Marshal(bus.Plan{ID: "p1", Title: "morning", Tags: []string{"daily"}, Steps: []string{"open_application", "click"}})
	if err := planner.Handle(context.Background(), body); err != nil {
		t.Fatalf("handle: %v", err)
	}

	execs := broker.Drain(bus.QueueSystemExecute)
	if len(execs) != 1 {
		t.Fatalf("expected one execute command, got %d", len(execs))
	}
	var cmd bus.Command
	if err := json.Unmarshal(execs[0], &cmd); err != nil {
		t.Fatalf("decode command: %v", err)
	}
	if cmd.Action != bus.ActionExecuteWorkflow || cmd.Source != SourcePlanner {
		t.Fatalf("unexpected command: %+v", cmd)
	}
	def, err := workflow.DecodeDefinition(cmd.Parameters)
	if err != nil {
		t.Fatalf("command parameters should be a valid workflow: %v", err)
	}
	if def.ID != "p1" || len(def.Steps) != 2 {
		t.Fatalf("unexpected workflow: %+v", def)
	}

	records := broker.Drain(bus.QueueMemoryStore)
	if len(records) != 1 {
		t.Fatalf("expected one memory record, got %d", len(records))
	}
	var rec bus.MemoryRecord
	if err := json.Unmarshal(records[0], &rec); err != nil {
		t.Fatalf("decode record: %v", err)
	}
	if rec.Type() != "plan" || rec["id"] != "p1" || rec["priority"].(float64) != defaultPlanPriority {
		t.Fatalf("unexpected record: %v", rec)
	}

	notes := broker.Drain(bus.QueueNotification)
	if len(notes) != 1 {
		t.Fatalf("expected one notification, got %d", len(notes))
	}
}

func TestPlannerWithoutStepsOnlyRecords(t *testing.T) {
	broker := bus.NewMemoryBroker(8)
	planner := NewPlanner(broker, fixedNow)

	if err := planner.Handle(context.Background(), []byte(`{"title":"idea","priority":1}`)); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if n := len(broker.Drain(bus.QueueSystemExecute)); n != 0 {
		t.Fatalf("no workflow expected, got %d", n)
	}
	records := broker.Drain(bus.QueueMemoryStore)
	var rec bus.MemoryRecord
	if len(records) != 1 || json.Unmarshal(records[0], &rec) != nil {
		t.Fatalf("expected one memory record")
	}
	if id, _ := rec["id"].(string); id == "" {
		t.Fatalf("plan id should be generated")
	}
	var note bus.Notification
	notes := broker.Drain(bus.QueueNotification)
	if len(notes) != 1 || json.Unmarshal(notes[0], &note) != nil || note.Priority != 1 {
		t.Fatalf("unexpected notification: %v", notes)
	}
}

func TestPlannerRejectsGarbage(t *testing.T) {
	if err := NewPlanner(bus.NewMemoryBroker(1), nil).Handle(context.Background(), []byte("{")); err == nil {
		t.Fatalf("expected decode error")
	}
}
