package plugin

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// ManagerConfig describes which plugins a manager registers. Plugins is an
// ordered list because registration order is hook execution order.
type ManagerConfig struct {
	PluginDir string          `yaml:"pluginDir"`
	Defaults  IsolationPolicy `yaml:"defaults"`
	Plugins   []PluginConfig  `yaml:"plugins"`
}

// PluginConfig is the configuration block for a single plugin instance.
type PluginConfig struct {
	ID      string           `yaml:"id"`
	Factory string           `yaml:"factory"`
	Path    string           `yaml:"path"`
	Enabled *bool            `yaml:"enabled"`
	Config  map[string]any   `yaml:"config"`
	Policy  *IsolationPolicy `yaml:"policy"`
}

// IsEnabled treats an omitted enabled flag as true.
func (c PluginConfig) IsEnabled() bool {
	return c.Enabled == nil || *c.Enabled
}

// FactoryName returns the factory to build with, defaulting to the id.
func (c PluginConfig) FactoryName() string {
	if c.Factory != "" {
		return c.Factory
	}
	return c.ID
}

// IsolationPolicy governs the capabilities a plugin may declare.
type IsolationPolicy struct {
	AllowedCapabilities []Capability `yaml:"allowedCapabilities"`
	DeniedCapabilities  []Capability `yaml:"deniedCapabilities"`
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

// IsZero reports whether the policy carries no rules.
func (p IsolationPolicy) IsZero() bool {
	return len(p.AllowedCapabilities) == 0 && len(p.DeniedCapabilities) == 0
}

// LoadManagerConfig reads a YAML file into a ManagerConfig.
func LoadManagerConfig(path string) (ManagerConfig, error) {
	var cfg ManagerConfig
	if path == "" {
		return cfg, errors.New("config path cannot be empty")
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read plugin config: %w", err)
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return cfg, fmt.Errorf("unmarshal plugin config: %w", err)
	}
	return cfg, cfg.Validate()
}

// Validate ensures the manager configuration is internally consistent.
func (c ManagerConfig) Validate() error {
	seen := make(map[string]struct{}, len(c.Plugins))
	for i, p := range c.Plugins {
		if p.ID == "" && p.Path == "" {
			return fmt.Errorf("plugin entry %d needs an id or a path", i)
		}
		key := p.ID
		if key == "" {
			key = p.Path
		}
		if _, dup := seen[key]; dup {
			return fmt.Errorf("plugin %s configured twice", key)
		}
		seen[key] = struct{}{}
	}
	return nil
}
