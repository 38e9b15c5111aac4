package action

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	xerrors "github.com/Dmoore628/PersonalAssistant/internal/errors"
)

func TestRegistryUnknownAction(t *testing.T) {
	reg := NewRegistry()
	_, err := reg.Execute(context.Background(), "teleport", nil)
	if xerrors.CodeOf(err) != CodeUnknownAction {
		t.Fatalf("expected ACTION_UNKNOWN, got %v", err)
	}
}

func TestSimulatedOpenAndClose(t *testing.T) {
	reg := NewRegistry()
	sim := RegisterSimulated(reg, WithLatency(0))
	ctx := context.Background()

	res, err := reg.Execute(ctx, "open_application", map[string]any{"app_name": "notepad"})
	if err != nil || !res.Success {
		t.Fatalf("open failed: %+v %v", res, err)
	}
	if sim.Running() != 1 {
		t.Fatalf("expected one running app, got %d", sim.Running())
	}
	if res, _ := reg.Execute(ctx, "close_application", map[string]any{"app_name": "notepad"}); !res.Success {
		t.Fatalf("close failed: %+v", res)
	}
	res, err = reg.Execute(ctx, "close_application", map[string]any{"app_name": "notepad"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Success || res.Error == "" {
		t.Fatalf("closing a stopped app should fail with a reason: %+v", res)
	}
}

func TestSimulatedWaitHonoursDeadline(t *testing.T) {
	reg := NewRegistry()
	RegisterSimulated(reg, WithLatency(0))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	start := time.Now()
	_, err := reg.Execute(ctx, "wait", map[string]any{"duration": 5.0})
	if err == nil {
		t.Fatalf("expected deadline error")
	}
	if time.Since(start) > time.Second {
		t.Fatalf("wait ignored the deadline")
	}
}

func TestSimulatedRegistersAllTypes(t *testing.T) {
	reg := NewRegistry()
	RegisterSimulated(reg)
	want := []string{"click", "close_application", "key_press", "open_application", "scroll", "switch_window", "type", "wait"}
	got := reg.Types()
	if len(got) != len(want) {
		t.Fatalf("unexpected types: %v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("unexpected types: %v", got)
		}
	}
}

func TestHTTPExecutorMapsResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/cua/execute" || r.Method != http.MethodPost {
			t.Fatalf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		var req remoteRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if req.ActionType == "click" {
			_ = json.NewEncoder(w).Encode(remoteResponse{Success: true, ResultData: map[string]any{"button": "left"}})
			return
		}
		_ = json.NewEncoder(w).Encode(remoteResponse{Success: false, ErrorMessage: "element not found"})
	}))
	defer srv.Close()

	exec, err := NewHTTPExecutor(srv.URL+"/", srv.Client())
	if err != nil {
		t.Fatalf("new executor: %v", err)
	}
	res, err := exec.Execute(context.Background(), "click", map[string]any{"x": 1})
	if err != nil || !res.Success || res.Data["button"] != "left" {
		t.Fatalf("unexpected click result: %+v %v", res, err)
	}
	res, err = exec.Execute(context.Background(), "type", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Success || res.Error != "element not found" {
		t.Fatalf("unexpected failure mapping: %+v", res)
	}
}

func TestHTTPExecutorServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusBadGateway)
	}))
	defer srv.Close()

	exec, _ := NewHTTPExecutor(srv.URL, srv.Client())
	if _, err := exec.Execute(context.Background(), "click", nil); err == nil {
		t.Fatalf("expected transport error on 502")
	}
}

func TestLayeredPrefersLocalRegistry(t *testing.T) {
	local := NewRegistry()
	local.Register("local_only", func(context.Context, map[string]any) (Result, error) {
		return Result{Success: true, Data: map[string]any{"from": "local"}}, nil
	})
	remote := Func(func(_ context.Context, actionType string, _ map[string]any) (Result, error) {
		return Result{Success: true, Data: map[string]any{"from": "remote", "type": actionType}}, nil
	})
	exec := Layered(local, remote)

	res, err := exec.Execute(context.Background(), "local_only", nil)
	if err != nil || res.Data["from"] != "local" {
		t.Fatalf("expected local handler, got %+v %v", res, err)
	}
	res, err = exec.Execute(context.Background(), "type_text", nil)
	if err != nil || res.Data["from"] != "remote" || res.Data["type"] != "type_text" {
		t.Fatalf("expected remote fallback, got %+v %v", res, err)
	}
	if Layered(local, nil) != Executor(local) {
		t.Fatalf("nil fallback should return the registry itself")
	}
}

func TestRegistryAddRejectsDuplicates(t *testing.T) {
	reg := NewRegistry()
	h := func(context.Context, map[string]any) (Result, error) { return Result{Success: true}, nil }
	if err := reg.Add("ping", h); err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := reg.Add("ping", h); xerrors.CodeOf(err) != xerrors.CodeConflict {
		t.Fatalf("expected CONFLICT, got %v", err)
	}
	if err := reg.Add("", h); xerrors.CodeOf(err) != xerrors.CodeInvalidArgument {
		t.Fatalf("expected INVALID_ARGUMENT, got %v", err)
	}
	if !reg.Has("ping") || reg.Has("pong") {
		t.Fatalf("unexpected Has results")
	}
}
