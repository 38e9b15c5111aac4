package plugin

// Type represents the functional category of a plugin.
type Type string

const (
	// TypeActionProvider plugins contribute action types to the action registry.
	TypeActionProvider Type = "action_provider"
	// TypeObserver plugins only react to host events and may publish to the bus.
	TypeObserver Type = "observer"
)

// Capability expresses optional features a plugin may request access to.
type Capability string

const (
	CapabilityFilesystem Capability = "filesystem"
	CapabilityNetwork    Capability = "network"
	CapabilityDesktop    Capability = "desktop"
	// CapabilityBus allows publishing to the message bus through the host.
	CapabilityBus Capability = "bus"
)

// Info contains descriptive metadata for a plugin implementation.
type Info struct {
	ID           string
	Name         string
	Description  string
	Author       string
	Version      string
	Category     Type
	Capabilities []Capability
}

// HasCapability reports whether the plugin declared c.
func (i Info) HasCapability(c Capability) bool {
	for _, have := range i.Capabilities {
		if have == c {
			return true
		}
	}
	return false
}

// State represents the lifecycle position of a plugin instance.
type State string

const (
	StateRegistered  State = "registered"
	StateInitialised State = "initialised"
	StateStarted     State = "started"
	StateStopped     State = "stopped"
)
