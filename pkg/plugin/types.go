package plugin

import "time"

// Type is the descriptive category of a plugin. It is not used for dispatch.
type Type string

const (
	TypeValidator Type = "validator"
	TypeEnhancer  Type = "enhancer"
	TypeDecoder   Type = "decoder"
	TypeUI        Type = "ui"
	TypeAnalytics Type = "analytics"
)

// Capability expresses access a plugin needs beyond the capture result.
type Capability string

const (
	CapabilityNetwork Capability = "network"
	CapabilityStorage Capability = "storage"
	CapabilityEvents  Capability = "events"
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

// State represents the lifecycle position of a plugin instance.
type State string

const (
	StateRegistered  State = "registered"
	StateInitialised State = "initialised"
	StateActive      State = "active"
	StateDestroyed   State = "destroyed"
)

// HookName enumerates the lifecycle extension points.
type HookName string

const (
	HookBeforeCapture    HookName = "before-capture"
	HookAfterCapture     HookName = "after-capture"
	HookTransformResult  HookName = "transform-result"
	HookEnrichResult     HookName = "enrich-result"
	HookValidateResult   HookName = "validate-result"
	HookOnError          HookName = "on-error"
	HookOnRetry          HookName = "on-retry"
	HookOnSuccess        HookName = "on-success"
	HookOnCancel         HookName = "on-cancel"
	HookRenderOverlay    HookName = "render-overlay"
	HookRenderToolbar    HookName = "render-toolbar"
	HookRenderResult     HookName = "render-result"
	HookRenderConfidence HookName = "render-confidence"
)

// AllHooks lists every hook in lifecycle order.
func AllHooks() []HookName {
	return []HookName{
		HookBeforeCapture,
		HookAfterCapture,
		HookTransformResult,
		HookEnrichResult,
		HookValidateResult,
		HookOnError,
		HookOnRetry,
		HookOnSuccess,
		HookOnCancel,
		HookRenderOverlay,
		HookRenderToolbar,
		HookRenderResult,
		HookRenderConfidence,
	}
}

// RetryDecision is returned by on-error handlers to steer the host's retry loop.
type RetryDecision struct {
	Retry   bool
	Delay   time.Duration
	Message string
}

// Node is an opaque renderable item produced by render hooks.
type Node any
