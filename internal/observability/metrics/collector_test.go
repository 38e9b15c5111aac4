package metrics

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/Dmoore628/PersonalAssistant/internal/action"
	"github.com/Dmoore628/PersonalAssistant/internal/workflow"
)

func scrape(t *testing.T, c *Collector) string {
	t.Helper()
	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body, err := io.ReadAll(rec.Body)
	if err != nil {
		t.Fatalf("read metrics: %v", err)
	}
	return string(body)
}

func TestCollectorObservesWorkflowRuns(t *testing.T) {
	var exec *workflow.Executor
	c := NewCollector(func() int { return len(exec.Registry().ActiveIDs()) })

	actions := action.Func(func(ctx context.Context, actionType string, params map[string]any) (action.Result, error) {
		return action.Result{Success: actionType == "click"}, nil
	})
	exec = workflow.NewExecutor(actions, nil,
		workflow.WithWaitFunc(func(ctx context.Context, d time.Duration, cancel <-chan struct{}) error { return nil }),
		workflow.WithStepObserver(c.ObserveStep),
		workflow.WithRunObserver(c.ObserveRun),
	)

	critical := false
	_, err := exec.Execute(context.Background(), workflow.Definition{
		Name: "metrics",
		Steps: []workflow.Step{
			{ID: "a", ActionType: "click"},
			{ID: "b", ActionType: "type", Critical: &critical, RetryPolicy: &workflow.RetryPolicy{MaxRetries: 1, InitialDelay: 1, BackoffMultiplier: 2}},
			{ID: "c", ActionType: "click", Dependencies: []string{"b"}, Critical: &critical},
		},
	})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}

	out := scrape(t, c)
	for _, want := range []string{
		`archi_workflow_runs_total{status="failed"} 1`,
		`archi_workflow_steps_total{action_type="click",outcome="success"} 1`,
		`archi_workflow_steps_total{action_type="type",outcome="failure"} 1`,
		`archi_workflow_steps_total{action_type="click",outcome="dependency_not_met"} 1`,
		`archi_workflow_failed_attempts_total 2`,
		`archi_workflow_active_runs 0`,
		`archi_workflow_step_attempts_count 2`,
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("missing %q in scrape:\n%s", want, out)
		}
	}
}

func TestInstrumentHTTPRecordsStatus(t *testing.T) {
	c := NewCollector(nil)
	h := c.InstrumentHTTP("submit", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/api/v1/workflows", nil))

	out := scrape(t, c)
	if !strings.Contains(out, `archi_http_requests_total{code="502",handler="submit",method="POST"} 1`) {
		t.Fatalf("request not recorded:\n%s", out)
	}
	if !strings.Contains(out, `archi_http_request_errors_total{handler="submit",method="POST"} 1`) {
		t.Fatalf("server error not recorded:\n%s", out)
	}
}
