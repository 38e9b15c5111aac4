package plugin

import (
	"context"
	"log/slog"
)

// Plugin defines the lifecycle hooks that each plugin implementation must satisfy.
type Plugin interface {
	// Info returns the static metadata for the plugin.
	Info() Info
	// Configure inspects the configuration block before initialisation and may
	// inject defaults into it.
	Configure(cfg map[string]any) error
	// Init registers actions with the host. Action providers must register
	// every action type they serve here.
	Init(ctx *ExecutionContext) error
	// Start activates background routines, if any.
	Start(ctx *ExecutionContext) error
	// Stop gracefully halts the plugin and releases any resources.
	Stop(ctx *ExecutionContext) error
}

// Result mirrors the action capability response so plugins do not depend on
// host packages.
type Result struct {
	Success bool
	Data    map[string]any
	Error   string
}

// ActionFunc serves one action type.
type ActionFunc func(ctx context.Context, params map[string]any) (Result, error)

// Host is the surface the daemon exposes to plugins.
type Host interface {
	RegisterAction(actionType string, fn ActionFunc) error
	Publish(ctx context.Context, queue string, body []byte) error
	Logger() *slog.Logger
}

// ExecutionContext is passed to plugins for every lifecycle stage.
type ExecutionContext struct {
	// C is the underlying context for cancellation and deadlines.
	C context.Context
	// PluginID is the id the plugin was registered under.
	PluginID string
	// Config is the plugin specific configuration block.
	Config map[string]any
	// Host is scoped to the plugin's category and declared capabilities.
	Host Host
}

// Clone returns a copy whose Config map can be mutated safely.
func (c *ExecutionContext) Clone() *ExecutionContext {
	if c == nil {
		return nil
	}
	dup := *c
	dup.Config = cloneConfig(c.Config)
	return &dup
}

// Option modifies the behaviour of a plugin manager instance.
type Option func(*Manager)

// WithLoader overrides the default binary loader implementation.
func WithLoader(loader Loader) Option {
	return func(m *Manager) {
		if loader != nil {
			m.loader = loader
		}
	}
}

// WithIsolationStrategy sets a custom isolation policy enforcement strategy.
func WithIsolationStrategy(strategy IsolationStrategy) Option {
	return func(m *Manager) {
		if strategy != nil {
			m.isolation = strategy
		}
	}
}

// WithHost supplies the host services plugins are allowed to use.
func WithHost(host Host) Option {
	return func(m *Manager) {
		if host != nil {
			m.host = host
		}
	}
}
