package plugin

import (
	"context"
	"log/slog"
)

// Plugin is an independently registered bundle of hook handlers.
type Plugin interface {
	// Info returns the static metadata for the plugin.
	Info() Info
	// Hooks returns the handlers the plugin implements. Unset fields are skipped.
	Hooks() Hooks
	// Init is called once when the plugin is registered.
	Init(ctx *ExecutionContext) error
	// Destroy is called once when the plugin is unregistered.
	Destroy(ctx *ExecutionContext) error
}

type (
	// GateFunc decides whether a capture may start.
	GateFunc func(ctx context.Context, pc *Context) (bool, error)
	// TransformFunc may mutate the result in place or return a replacement.
	// Returning nil keeps the current result.
	TransformFunc func(ctx context.Context, pc *Context, r *CaptureResult) (*CaptureResult, error)
	// ValidateFunc must return true for the capture to be accepted.
	ValidateFunc func(ctx context.Context, pc *Context, r *CaptureResult) (bool, error)
	// ErrorFunc may return a retry decision for a failed attempt. nil means no opinion.
	ErrorFunc func(ctx context.Context, pc *Context, err error) (*RetryDecision, error)
	// RetryFunc is notified before a new attempt starts.
	RetryFunc func(ctx context.Context, pc *Context, attempt int) error
	// SuccessFunc is notified with the final, frozen result.
	SuccessFunc func(ctx context.Context, pc *Context, r *CaptureResult) error
	// CancelFunc is notified when the user cancels the capture.
	CancelFunc func(ctx context.Context, pc *Context) error
	// RenderFunc produces zero or one renderable node. r may be nil before a capture exists.
	RenderFunc func(pc *Context, r *CaptureResult) (Node, error)
)

// Hooks is the sparse set of handlers a plugin implements.
type Hooks struct {
	BeforeCapture    GateFunc
	AfterCapture     TransformFunc
	TransformResult  TransformFunc
	EnrichResult     TransformFunc
	ValidateResult   ValidateFunc
	OnError          ErrorFunc
	OnRetry          RetryFunc
	OnSuccess        SuccessFunc
	OnCancel         CancelFunc
	RenderOverlay    RenderFunc
	RenderToolbar    RenderFunc
	RenderResult     RenderFunc
	RenderConfidence RenderFunc
}

// Implements reports whether the handler for name is set.
func (h Hooks) Implements(name HookName) bool {
	switch name {
	case HookBeforeCapture:
		return h.BeforeCapture != nil
	case HookAfterCapture:
		return h.AfterCapture != nil
	case HookTransformResult:
		return h.TransformResult != nil
	case HookEnrichResult:
		return h.EnrichResult != nil
	case HookValidateResult:
		return h.ValidateResult != nil
	case HookOnError:
		return h.OnError != nil
	case HookOnRetry:
		return h.OnRetry != nil
	case HookOnSuccess:
		return h.OnSuccess != nil
	case HookOnCancel:
		return h.OnCancel != nil
	case HookRenderOverlay:
		return h.RenderOverlay != nil
	case HookRenderToolbar:
		return h.RenderToolbar != nil
	case HookRenderResult:
		return h.RenderResult != nil
	case HookRenderConfidence:
		return h.RenderConfidence != nil
	default:
		return false
	}
}

// Names lists the implemented hooks in lifecycle order.
func (h Hooks) Names() []HookName {
	var names []HookName
	for _, name := range AllHooks() {
		if h.Implements(name) {
			names = append(names, name)
		}
	}
	return names
}

func (h Hooks) transform(name HookName) TransformFunc {
	switch name {
	case HookAfterCapture:
		return h.AfterCapture
	case HookTransformResult:
		return h.TransformResult
	case HookEnrichResult:
		return h.EnrichResult
	}
	return nil
}

func (h Hooks) render(name HookName) RenderFunc {
	switch name {
	case HookRenderOverlay:
		return h.RenderOverlay
	case HookRenderToolbar:
		return h.RenderToolbar
	case HookRenderResult:
		return h.RenderResult
	case HookRenderConfidence:
		return h.RenderConfidence
	}
	return nil
}

// ExecutionContext is passed to Init and Destroy.
type ExecutionContext struct {
	// C is the underlying context for cancellation and deadlines.
	C context.Context
	// Config is the plugin specific configuration block.
	Config map[string]any
	// Resources exposes shared services supplied by the host application.
	Resources map[string]any
	// Logger is scoped to the plugin id.
	Logger *slog.Logger
}

// Clone returns a shallow copy so plugins can safely mutate maps.
func (c *ExecutionContext) Clone() *ExecutionContext {
	if c == nil {
		return nil
	}
	dup := *c
	if c.Config != nil {
		dup.Config = make(map[string]any, len(c.Config))
		for k, v := range c.Config {
			dup.Config[k] = v
		}
	}
	if c.Resources != nil {
		dup.Resources = make(map[string]any, len(c.Resources))
		for k, v := range c.Resources {
			dup.Resources[k] = v
		}
	}
	return &dup
}

// Option modifies the behaviour of a plugin manager instance.
type Option func(*Manager)

// WithLoader overrides the shared object loader.
func WithLoader(loader Loader) Option {
	return func(m *Manager) {
		if loader != nil {
			m.loader = loader
		}
	}
}

// WithFactories sets the registry used to build config-driven plugins.
func WithFactories(factories *FactoryRegistry) Option {
	return func(m *Manager) {
		if factories != nil {
			m.factories = factories
		}
	}
}

// WithIsolationStrategy sets a custom isolation policy enforcement strategy.
func WithIsolationStrategy(strategy IsolationStrategy) Option {
	return func(m *Manager) {
		if strategy != nil {
			m.isolation = strategy
		}
	}
}

// WithDefaultPolicy sets the isolation policy applied when a plugin brings none.
func WithDefaultPolicy(policy IsolationPolicy) Option {
	return func(m *Manager) {
		m.defaults = policy
	}
}

// WithResource registers a shared resource exposed to all plugins.
func WithResource(key string, value any) Option {
	return func(m *Manager) {
		if key == "" || value == nil {
			return
		}
		if m.resources == nil {
			m.resources = make(map[string]any)
		}
		m.resources[key] = value
	}
}

// WithLogger replaces the manager logger.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithObserver attaches a hook execution observer, typically metrics.
func WithObserver(observer Observer) Option {
	return func(m *Manager) {
		if observer != nil {
			m.observer = observer
		}
	}
}
