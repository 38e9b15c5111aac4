package plugin

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"
)

type fakeHost struct {
	actions   map[string]ActionFunc
	published []string
}

func newFakeHost() *fakeHost { return &fakeHost{actions: map[string]ActionFunc{}} }

func (h *fakeHost) RegisterAction(actionType string, fn ActionFunc) error {
	if _, ok := h.actions[actionType]; ok {
		return errors.New("duplicate " + actionType)
	}
	h.actions[actionType] = fn
	return nil
}

func (h *fakeHost) Publish(_ context.Context, queue string, _ []byte) error {
	h.published = append(h.published, queue)
	return nil
}

func (h *fakeHost) Logger() *slog.Logger { return nil }

type stubPlugin struct {
	info      Info
	inits     int
	starts    int
	stops     int
	configure func(map[string]any) error
	init      func(*ExecutionContext) error
}

func (p *stubPlugin) Info() Info { return p.info }

func (p *stubPlugin) Configure(cfg map[string]any) error {
	if p.configure != nil {
		return p.configure(cfg)
	}
	return nil
}

func (p *stubPlugin) Init(ctx *ExecutionContext) error {
	p.inits++
	if p.init != nil {
		return p.init(ctx)
	}
	return nil
}

func (p *stubPlugin) Start(*ExecutionContext) error {
	p.starts++
	return nil
}

func (p *stubPlugin) Stop(*ExecutionContext) error {
	p.stops++
	return nil
}

type mapLoader map[string]Plugin

func (l mapLoader) Load(path string) (Plugin, error) {
	p, ok := l[path]
	if !ok {
		return nil, errors.New("no such plugin")
	}
	return p, nil
}

func actionProvider(id string, actionType string) *stubPlugin {
	return &stubPlugin{
		info: Info{ID: id, Category: TypeActionProvider},
		init: func(ctx *ExecutionContext) error {
			return ctx.Host.RegisterAction(actionType, func(context.Context, map[string]any) (Result, error) {
				return Result{Success: true}, nil
			})
		},
	}
}

func TestManagerLifecycleRegistersActions(t *testing.T) {
	host := newFakeHost()
	m, err := NewManager(ManagerConfig{}, WithHost(host))
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	p := actionProvider("greeter", "greet")
	if err := m.Register("greeter", p, nil, IsolationPolicy{}); err != nil {
		t.Fatalf("register: %v", err)
	}
	ctx := context.Background()
	if err := m.StartAll(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, ok := host.actions["greet"]; !ok {
		t.Fatalf("expected greet to be registered with host")
	}
	if state, _ := m.State("greeter"); state != StateStarted {
		t.Fatalf("expected started, got %s", state)
	}
	list := m.List()
	if len(list) != 1 || len(list[0].Actions) != 1 || list[0].Actions[0] != "greet" {
		t.Fatalf("unexpected list: %+v", list)
	}

	if err := m.StopAll(ctx); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if err := m.Start(ctx, "greeter"); err != nil {
		t.Fatalf("restart: %v", err)
	}
	if p.inits != 1 || p.starts != 2 || p.stops != 1 {
		t.Fatalf("unexpected lifecycle counts: init=%d start=%d stop=%d", p.inits, p.starts, p.stops)
	}
}

func TestObserverCannotRegisterActions(t *testing.T) {
	host := newFakeHost()
	m, _ := NewManager(ManagerConfig{}, WithHost(host))
	p := actionProvider("watcher", "watch")
	p.info.Category = TypeObserver
	if err := m.Register("watcher", p, nil, IsolationPolicy{}); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := m.Start(context.Background(), "watcher"); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}
}

func TestPublishRequiresBusCapability(t *testing.T) {
	host := newFakeHost()
	m, _ := NewManager(ManagerConfig{Defaults: IsolationPolicy{AllowedCapabilities: []Capability{CapabilityBus}}}, WithHost(host))

	quiet := &stubPlugin{info: Info{ID: "quiet", Category: TypeObserver}}
	quiet.init = func(ctx *ExecutionContext) error {
		return ctx.Host.Publish(ctx.C, "system.notification", nil)
	}
	loud := &stubPlugin{info: Info{ID: "loud", Category: TypeObserver, Capabilities: []Capability{CapabilityBus}}}
	loud.init = quiet.init

	if err := m.Register("quiet", quiet, nil, IsolationPolicy{}); err != nil {
		t.Fatalf("register quiet: %v", err)
	}
	if err := m.Register("loud", loud, nil, IsolationPolicy{}); err != nil {
		t.Fatalf("register loud: %v", err)
	}
	if err := m.Start(context.Background(), "quiet"); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}
	if err := m.Start(context.Background(), "loud"); err != nil {
		t.Fatalf("start loud: %v", err)
	}
	if len(host.published) != 1 {
		t.Fatalf("expected one publish, got %v", host.published)
	}
}

func TestIsolationPolicy(t *testing.T) {
	m, _ := NewManager(ManagerConfig{})
	needsNet := &stubPlugin{info: Info{ID: "net", Category: TypeActionProvider, Capabilities: []Capability{CapabilityNetwork}}}

	if err := m.Register("net", needsNet, nil, IsolationPolicy{}); err == nil || !strings.Contains(err.Error(), "isolation policy") {
		t.Fatalf("expected missing policy error, got %v", err)
	}
	denied := IsolationPolicy{DeniedCapabilities: []Capability{CapabilityNetwork}}
	if err := m.Register("net", needsNet, nil, denied); err == nil || !strings.Contains(err.Error(), "denied") {
		t.Fatalf("expected denied error, got %v", err)
	}
	allowed := IsolationPolicy{AllowedCapabilities: []Capability{CapabilityNetwork}}
	if err := m.Register("net", needsNet, nil, allowed); err != nil {
		t.Fatalf("expected registration with allowed policy, got %v", err)
	}
}

func TestRegisterValidation(t *testing.T) {
	m, _ := NewManager(ManagerConfig{})
	if err := m.Register("", &stubPlugin{}, nil, IsolationPolicy{}); err == nil {
		t.Fatalf("expected empty id error")
	}
	if err := m.Register("x", &stubPlugin{info: Info{ID: "y", Category: TypeObserver}}, nil, IsolationPolicy{}); err == nil {
		t.Fatalf("expected id mismatch error")
	}
	if err := m.Register("x", &stubPlugin{info: Info{Category: "datasource"}}, nil, IsolationPolicy{}); err == nil {
		t.Fatalf("expected unsupported category error")
	}
	bad := &stubPlugin{info: Info{Category: TypeObserver}, configure: func(map[string]any) error { return errors.New("bad config") }}
	if err := m.Register("x", bad, nil, IsolationPolicy{}); err == nil || !strings.Contains(err.Error(), "bad config") {
		t.Fatalf("expected configure error, got %v", err)
	}
	ok := &stubPlugin{info: Info{Category: TypeObserver}}
	if err := m.Register("x", ok, nil, IsolationPolicy{}); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := m.Register("x", ok, nil, IsolationPolicy{}); err == nil {
		t.Fatalf("expected duplicate error")
	}
}

func TestManagerLoadsConfiguredPlugins(t *testing.T) {
	host := newFakeHost()
	loader := mapLoader{
		"/opt/plugins/a.so": actionProvider("alpha", "alpha_action"),
		"/opt/plugins/b.so": actionProvider("beta", "beta_action"),
	}
	cfg := ManagerConfig{
		PluginDir: "/opt/plugins",
		Plugins: map[string]PluginConfig{
			"alpha": {Enabled: true, Path: "a.so"},
			"beta":  {Enabled: false, Path: "b.so"},
		},
	}
	m, err := NewManager(cfg, WithLoader(loader), WithHost(host))
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	list := m.List()
	if len(list) != 1 || list[0].Info.ID != "alpha" || list[0].Source != "/opt/plugins/a.so" {
		t.Fatalf("unexpected plugins: %+v", list)
	}

	cfg.Plugins["beta"] = PluginConfig{Enabled: true}
	if _, err := NewManager(cfg, WithLoader(loader)); err == nil {
		t.Fatalf("expected validation error for empty path")
	}
}

func TestResolveSymbol(t *testing.T) {
	var p Plugin = &stubPlugin{}
	if _, err := resolveSymbol(p); err != nil {
		t.Fatalf("value: %v", err)
	}
	if _, err := resolveSymbol(&p); err != nil {
		t.Fatalf("pointer: %v", err)
	}
	if _, err := resolveSymbol(func() Plugin { return p }); err != nil {
		t.Fatalf("constructor: %v", err)
	}
	if _, err := resolveSymbol(42); err == nil {
		t.Fatalf("expected error for int symbol")
	}
}
