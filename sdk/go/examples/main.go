package main

import (
	"context"
	"fmt"
	"net/http/httptest"
	"time"

	"github.com/Dmoore628/PersonalAssistant/internal/action"
	"github.com/Dmoore628/PersonalAssistant/internal/api"
	"github.com/Dmoore628/PersonalAssistant/internal/workflow"
	"github.com/Dmoore628/PersonalAssistant/sdk/go/archi"
)

func main() {
	reg := action.NewRegistry()
	action.RegisterSimulated(reg, action.WithLatency(20*time.Millisecond))
	exec := workflow.NewExecutor(reg, nil)

	srv := httptest.NewServer(api.NewServer(":0", exec).Handler())
	defer srv.Close()

	client, err := archi.NewClient(srv.URL, srv.Client())
	if err != nil {
		panic(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	result, err := client.SubmitWorkflow(ctx, archi.Workflow{
		Name: "write a note",
		Steps: []archi.Step{
			{ID: "open", ActionType: "open_application", Parameters: map[string]any{"app_name": "notepad"}},
			{ID: "type", ActionType: "type", Parameters: map[string]any{"text": "hello"}, Dependencies: []string{"open"}},
			{ID: "save", ActionType: "key_press", Parameters: map[string]any{"keys": "ctrl+s"}, Dependencies: []string{"type"}},
		},
	})
	if err != nil {
		panic(err)
	}
	fmt.Printf("workflow %s finished with status=%s success_rate=%.2f\n", result.WorkflowID, result.Status, result.SuccessRate)

	status, err := client.GetStatus(ctx, result.WorkflowID)
	if err != nil {
		panic(err)
	}
	fmt.Printf("status query: %s\n", status.Status)
}
