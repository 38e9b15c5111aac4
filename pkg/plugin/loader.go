package plugin

import (
	"errors"
	"fmt"
	goplugin "plugin"
)

// SymbolName is the exported symbol a shared object must provide.
const SymbolName = "Plugin"

// Loader resolves plugin binaries into Plugin implementations.
type Loader interface {
	Load(path string) (Plugin, error)
}

// SharedObjectLoader opens plugins built with -buildmode=plugin.
type SharedObjectLoader struct{}

// Load opens the shared object and resolves its Plugin symbol, which may be a
// value, a pointer to a value, or a constructor.
func (SharedObjectLoader) Load(path string) (Plugin, error) {
	if path == "" {
		return nil, errors.New("plugin path cannot be empty")
	}
	so, err := goplugin.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	symbol, err := so.Lookup(SymbolName)
	if err != nil {
		return nil, fmt.Errorf("lookup %s in %s: %w", SymbolName, path, err)
	}
	return resolveSymbol(symbol)
}

func resolveSymbol(symbol any) (Plugin, error) {
	switch p := symbol.(type) {
	case Plugin:
		return p, nil
	case *Plugin:
		if p == nil || *p == nil {
			return nil, errors.New("plugin symbol is nil")
		}
		return *p, nil
	case func() Plugin:
		return p(), nil
	default:
		return nil, fmt.Errorf("plugin symbol %T does not implement plugin.Plugin", symbol)
	}
}
