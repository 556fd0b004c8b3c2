package plugin

import (
	"errors"
	"fmt"
	goplugin "plugin"
)

// Loader resolves plugin binaries into Plugin implementations.
type Loader interface {
	Load(path string, cfg map[string]any) (Plugin, error)
}

// GoPluginLoader uses the Go standard library plugin mechanism to load shared objects.
type GoPluginLoader struct{}

// Load opens the shared object and resolves a `Factory` symbol, falling back to
// a `Plugin` symbol for objects that export a ready instance.
func (GoPluginLoader) Load(path string, cfg map[string]any) (Plugin, error) {
	if path == "" {
		return nil, errors.New("plugin path cannot be empty")
	}
	so, err := goplugin.Open(path)
	if err != nil {
		return nil, err
	}
	if symbol, err := so.Lookup("Factory"); err == nil {
		return fromFactorySymbol(symbol, cfg)
	}
	symbol, err := so.Lookup("Plugin")
	if err != nil {
		return nil, fmt.Errorf("%s exports neither Factory nor Plugin", path)
	}
	switch p := symbol.(type) {
	case Plugin:
		return p, nil
	case *Plugin:
		if p == nil || *p == nil {
			return nil, errors.New("plugin symbol is nil")
		}
		return *p, nil
	default:
		return nil, errors.New("plugin symbol must implement plugin.Plugin")
	}
}

func fromFactorySymbol(symbol any, cfg map[string]any) (Plugin, error) {
	switch f := symbol.(type) {
	case func(map[string]any) (Plugin, error):
		return f(cloneConfig(cfg))
	case *Factory:
		if f == nil || *f == nil {
			return nil, errors.New("factory symbol is nil")
		}
		return (*f)(cloneConfig(cfg))
	case func() Plugin:
		return f(), nil
	default:
		return nil, fmt.Errorf("factory symbol has unsupported type %T", symbol)
	}
}
