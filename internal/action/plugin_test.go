package action

import (
	"context"
	"errors"
	"testing"

	xerrors "github.com/Dmoore628/PersonalAssistant/internal/errors"
	"github.com/Dmoore628/PersonalAssistant/pkg/plugin"
)

type recordingPublisher struct {
	queues []string
}

func (p *recordingPublisher) Publish(_ context.Context, queue string, _ []byte) error {
	p.queues = append(p.queues, queue)
	return nil
}

func TestPluginHostRegistersAction(t *testing.T) {
	reg := NewRegistry()
	host := NewPluginHost(reg, nil)

	err := host.RegisterAction("echo", func(_ context.Context, params map[string]any) (plugin.Result, error) {
		return plugin.Result{Success: true, Data: map[string]any{"echo": params["text"]}}, nil
	})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	res, err := reg.Execute(context.Background(), "echo", map[string]any{"text": "hi"})
	if err != nil || !res.Success || res.Data["echo"] != "hi" {
		t.Fatalf("unexpected result: %+v %v", res, err)
	}
}

func TestPluginHostCannotShadowBuiltins(t *testing.T) {
	reg := NewRegistry()
	RegisterSimulated(reg, WithLatency(0))
	host := NewPluginHost(reg, nil)

	err := host.RegisterAction("open_application", func(context.Context, map[string]any) (plugin.Result, error) {
		return plugin.Result{Success: true}, nil
	})
	if xerrors.CodeOf(err) != xerrors.CodeConflict {
		t.Fatalf("expected CONFLICT, got %v", err)
	}
}

func TestPluginHostPropagatesHandlerError(t *testing.T) {
	reg := NewRegistry()
	host := NewPluginHost(reg, nil)
	boom := errors.New("boom")
	if err := host.RegisterAction("fail", func(context.Context, map[string]any) (plugin.Result, error) {
		return plugin.Result{}, boom
	}); err != nil {
		t.Fatalf("register: %v", err)
	}
	if _, err := reg.Execute(context.Background(), "fail", nil); !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
}

func TestPluginHostPublish(t *testing.T) {
	host := NewPluginHost(NewRegistry(), nil)
	if err := host.Publish(context.Background(), "q", nil); !errors.Is(err, plugin.ErrNoHost) {
		t.Fatalf("expected ErrNoHost, got %v", err)
	}
	pub := &recordingPublisher{}
	host = NewPluginHost(NewRegistry(), pub)
	if err := host.Publish(context.Background(), "system.notification", []byte("{}")); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if len(pub.queues) != 1 || pub.queues[0] != "system.notification" {
		t.Fatalf("unexpected queues: %v", pub.queues)
	}
}
