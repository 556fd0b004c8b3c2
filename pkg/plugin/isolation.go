package plugin

import (
	"errors"
	"fmt"
	"slices"
)

// IsolationStrategy enforces capability restrictions for plugins.
type IsolationStrategy interface {
	Validate(info Info, policy IsolationPolicy) error
	Prepare(info Info) error
	Cleanup(info Info) error
}

// CapabilityStrategy only validates declared capabilities against the policy.
type CapabilityStrategy struct{}

// Validate ensures the plugin requested capabilities are allowed.
func (CapabilityStrategy) Validate(info Info, policy IsolationPolicy) error {
	for _, c := range policy.DeniedCapabilities {
		if slices.Contains(info.Capabilities, c) {
			return fmt.Errorf("capability %s is explicitly denied", c)
		}
	}
	if len(policy.AllowedCapabilities) == 0 {
		return nil
	}
	for _, c := range info.Capabilities {
		if !slices.Contains(policy.AllowedCapabilities, c) {
			return fmt.Errorf("capability %s not permitted", c)
		}
	}
	return nil
}

// Prepare implements IsolationStrategy.
func (CapabilityStrategy) Prepare(Info) error { return nil }

// Cleanup implements IsolationStrategy.
func (CapabilityStrategy) Cleanup(Info) error { return nil }

// NewIsolationStrategy returns the capability strategy if none is supplied.
func NewIsolationStrategy(strategy IsolationStrategy) IsolationStrategy {
	if strategy == nil {
		return CapabilityStrategy{}
	}
	return strategy
}

// MergePolicies combines the default and plugin specific isolation policies.
func MergePolicies(defaults IsolationPolicy, plugin *IsolationPolicy) IsolationPolicy {
	if plugin == nil || plugin.IsZero() {
		return defaults
	}
	return plugin.Merge(defaults)
}

// ErrPolicyRequired is returned when a plugin declares capabilities but no policy applies.
var ErrPolicyRequired = errors.New("plugins declaring network or storage capabilities require an isolation policy")

// EnsurePolicy rejects plugins that declare network or storage access when no
// policy is configured. The events capability needs no policy.
func EnsurePolicy(info Info, policy IsolationPolicy) error {
	if !policy.IsZero() {
		return nil
	}
	for _, c := range info.Capabilities {
		if c == CapabilityNetwork || c == CapabilityStorage {
			return ErrPolicyRequired
		}
	}
	return nil
}
