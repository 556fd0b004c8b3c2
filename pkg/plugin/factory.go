package plugin

import (
	"fmt"
	"sort"
	"sync"

	"gopkg.in/yaml.v3"
)

// Factory builds a plugin from its configuration block.
type Factory func(cfg map[string]any) (Plugin, error)

// FactoryRegistry maps factory names to constructors for config-driven plugins.
type FactoryRegistry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewFactoryRegistry returns an empty registry.
func NewFactoryRegistry() *FactoryRegistry {
	return &FactoryRegistry{factories: make(map[string]Factory)}
}

// Register adds or replaces the factory for name.
func (r *FactoryRegistry) Register(name string, f Factory) {
	if name == "" || f == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[name] = f
}

// Build constructs a plugin using the factory registered under name.
func (r *FactoryRegistry) Build(name string, cfg map[string]any) (Plugin, error) {
	r.mu.RLock()
	f, ok := r.factories[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("no plugin factory registered for %q", name)
	}
	p, err := f(cloneConfig(cfg))
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, fmt.Errorf("plugin factory %q returned nil", name)
	}
	return p, nil
}

// Names lists registered factory names in sorted order.
func (r *FactoryRegistry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// DecodeOptions decodes a loosely typed configuration block into out, which
// should be a pointer to a struct with yaml tags. Fields absent from cfg keep
// their current values, so callers pre-fill out with defaults.
func DecodeOptions(cfg map[string]any, out any) error {
	if len(cfg) == 0 {
		return nil
	}
	raw, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("encode plugin options: %w", err)
	}
	if err := yaml.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode plugin options: %w", err)
	}
	return nil
}
