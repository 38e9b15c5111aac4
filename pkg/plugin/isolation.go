package plugin

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
)

// IsolationStrategy enforces restrictions for plugins at runtime.
type IsolationStrategy interface {
	Validate(info Info, policy IsolationPolicy) error
	Prepare(info Info) error
	Cleanup(info Info) error
}

// CapabilityIsolation checks declared capabilities against the merged policy.
// It keeps no per-plugin state, so Prepare and Cleanup are no-ops.
type CapabilityIsolation struct{}

// Validate ensures the capabilities the plugin declares are allowed.
func (CapabilityIsolation) Validate(info Info, policy IsolationPolicy) error {
	for _, c := range policy.DeniedCapabilities {
		if slices.Contains(info.Capabilities, c) {
			return fmt.Errorf("plugin %s: capability %s is explicitly denied", info.ID, c)
		}
	}
	if len(policy.AllowedCapabilities) == 0 {
		return nil
	}
	for _, c := range info.Capabilities {
		if !slices.Contains(policy.AllowedCapabilities, c) {
			return fmt.Errorf("plugin %s: capability %s not permitted", info.ID, c)
		}
	}
	return nil
}

// Prepare implements IsolationStrategy.
func (CapabilityIsolation) Prepare(Info) error { return nil }

// Cleanup implements IsolationStrategy.
func (CapabilityIsolation) Cleanup(Info) error { return nil }

// MergePolicies combines the default and plugin specific isolation policies.
func MergePolicies(defaults IsolationPolicy, plugin *IsolationPolicy) IsolationPolicy {
	if plugin == nil {
		return defaults
	}
	return plugin.Merge(defaults)
}

// EnsurePolicy rejects plugins that declare capabilities while no policy exists.
func EnsurePolicy(info Info, policy IsolationPolicy) error {
	if len(info.Capabilities) == 0 {
		return nil
	}
	if len(policy.AllowedCapabilities) == 0 && len(policy.DeniedCapabilities) == 0 {
		return errors.New("plugins declaring capabilities require an isolation policy")
	}
	return nil
}

var (
	// ErrNoHost is returned when a plugin uses host services the manager was
	// not given.
	ErrNoHost = errors.New("plugin host not configured")
	// ErrForbidden is returned when a plugin uses a host service its
	// category or capabilities do not cover.
	ErrForbidden = errors.New("plugin host call forbidden")
)

// scopedHost narrows the host to what one plugin declared and remembers the
// action types it registered.
type scopedHost struct {
	info   Info
	host   Host
	logger *slog.Logger

	mu      sync.Mutex
	actions []string
}

func newScopedHost(info Info, host Host, base *slog.Logger) *scopedHost {
	if host != nil && host.Logger() != nil {
		base = host.Logger()
	}
	return &scopedHost{info: info, host: host, logger: base.With(slog.String("plugin", info.ID))}
}

func (h *scopedHost) RegisterAction(actionType string, fn ActionFunc) error {
	if h.info.Category != TypeActionProvider {
		return fmt.Errorf("%w: %s is not an action provider", ErrForbidden, h.info.ID)
	}
	if h.host == nil {
		return ErrNoHost
	}
	if err := h.host.RegisterAction(actionType, fn); err != nil {
		return err
	}
	h.mu.Lock()
	h.actions = append(h.actions, actionType)
	h.mu.Unlock()
	h.logger.Info("plugin action registered", slog.String("action_type", actionType))
	return nil
}

func (h *scopedHost) Publish(ctx context.Context, queue string, body []byte) error {
	if !h.info.HasCapability(CapabilityBus) {
		return fmt.Errorf("%w: %s lacks capability %s", ErrForbidden, h.info.ID, CapabilityBus)
	}
	if h.host == nil {
		return ErrNoHost
	}
	return h.host.Publish(ctx, queue, body)
}

func (h *scopedHost) Logger() *slog.Logger { return h.logger }

func (h *scopedHost) registered() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.actions...)
}
