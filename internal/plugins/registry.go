// Package plugins wires the built-in capture plugins into a factory registry.
package plugins

import (
	"context"

	"MotoMind-Vision/internal/capture"
	"MotoMind-Vision/internal/plugins/analytics"
	"MotoMind-Vision/internal/plugins/confidence"
	"MotoMind-Vision/internal/plugins/vindecode"
	"MotoMind-Vision/internal/plugins/vinvalidation"
	"MotoMind-Vision/pkg/plugin"
)

// Defaults are the options a built-in plugin starts from before its
// configuration block is applied.
type Defaults struct {
	Validation vinvalidation.Options
	Confidence confidence.Options
	Decode     vindecode.Options
}

// RegisterBuiltins adds every built-in factory with stock defaults to r and
// returns it. A nil r creates a new registry.
func RegisterBuiltins(r *plugin.FactoryRegistry) *plugin.FactoryRegistry {
	return RegisterWithDefaults(r, Defaults{Validation: vinvalidation.DefaultOptions()})
}

// RegisterWithDefaults adds every built-in factory to r using d as the base options.
func RegisterWithDefaults(r *plugin.FactoryRegistry, d Defaults) *plugin.FactoryRegistry {
	if r == nil {
		r = plugin.NewFactoryRegistry()
	}
	r.Register(vinvalidation.ID, vinvalidation.NewFactory(d.Validation))
	r.Register(confidence.ID, confidence.NewFactory(d.Confidence))
	r.Register(vindecode.ID, vindecode.NewFactory(d.Decode))
	r.Register(analytics.ID, analytics.Factory)
	return r
}

// DefaultConfig enables the built-in plugins in pipeline order:
// validation, confidence, decoding, analytics.
func DefaultConfig() plugin.ManagerConfig {
	return plugin.ManagerConfig{
		Plugins: []plugin.PluginConfig{
			{ID: vinvalidation.ID},
			{ID: confidence.ID},
			{ID: vindecode.ID},
			{ID: analytics.ID},
		},
	}
}

// Sessions returns a capture.ManagerFactory that builds a fresh manager from
// cfg for every capture session. opts apply to each manager, typically the
// shared decoder and publisher resources, a logger and a hook observer.
func Sessions(r *plugin.FactoryRegistry, cfg plugin.ManagerConfig, opts ...plugin.Option) capture.ManagerFactory {
	if r == nil {
		r = RegisterBuiltins(nil)
	}
	return func(ctx context.Context) (*plugin.Manager, error) {
		options := append([]plugin.Option{plugin.WithFactories(r)}, opts...)
		m := plugin.NewManager(options...)
		if err := m.LoadConfigured(ctx, cfg); err != nil {
			_ = m.DestroyAll(context.WithoutCancel(ctx))
			return nil, err
		}
		return m, nil
	}
}
