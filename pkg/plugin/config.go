package plugin

import (
	"errors"
	"fmt"
)

// ManagerConfig describes which plugins the daemon loads at start-up.
type ManagerConfig struct {
	PluginDir string                  `json:"plugin_dir" yaml:"plugin_dir"`
	Defaults  IsolationPolicy         `json:"defaults" yaml:"defaults"`
	Plugins   map[string]PluginConfig `json:"plugins" yaml:"plugins"`
}

// PluginConfig is the configuration block for a single plugin instance.
type PluginConfig struct {
	Enabled bool             `json:"enabled" yaml:"enabled"`
	Path    string           `json:"path" yaml:"path"`
	Config  map[string]any   `json:"config" yaml:"config"`
	Policy  *IsolationPolicy `json:"policy" yaml:"policy"`
}

// IsolationPolicy governs the capabilities a plugin may use.
type IsolationPolicy struct {
	AllowedCapabilities []Capability `json:"allowed_capabilities" yaml:"allowed_capabilities"`
	DeniedCapabilities  []Capability `json:"denied_capabilities" yaml:"denied_capabilities"`
}

// Merge returns a new policy using values from other when not present.
func (p IsolationPolicy) Merge(other IsolationPolicy) IsolationPolicy {
	if len(p.AllowedCapabilities) == 0 {
		p.AllowedCapabilities = other.AllowedCapabilities
	}
	if len(p.DeniedCapabilities) == 0 {
		p.DeniedCapabilities = other.DeniedCapabilities
	}
	return p
}

// Enabled reports whether any plugin is switched on.
func (c ManagerConfig) Enabled() bool {
	for _, p := range c.Plugins {
		if p.Enabled {
			return true
		}
	}
	return false
}

// Validate ensures the manager configuration is internally consistent.
func (c ManagerConfig) Validate() error {
	for id, plugin := range c.Plugins {
		if id == "" {
			return errors.New("plugin id cannot be empty")
		}
		if !plugin.Enabled {
			continue
		}
		if plugin.Path == "" {
			return fmt.Errorf("plugin %s path cannot be empty when enabled", id)
		}
	}
	return nil
}
