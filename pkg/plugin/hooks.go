package plugin

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	xerrors "MotoMind-Vision/internal/errors"
)

// ErrValidationFailed is returned by ValidateResult when a handler rejects the result.
var ErrValidationFailed = xerrors.New(xerrors.CodeValidationFailed, "Validation failed")

// Observer receives the outcome of every hook handler invocation.
type Observer interface {
	ObserveHook(hook HookName, pluginID string, elapsed time.Duration, err error)
}

type noopObserver struct{}

func (noopObserver) ObserveHook(HookName, string, time.Duration, error) {}

// BeforeCapture runs every gate in order. The first false or error blocks the
// capture; with no handlers the capture proceeds.
func (m *Manager) BeforeCapture(ctx context.Context, pc *Context) bool {
	for _, inst := range m.handlers(HookBeforeCapture) {
		var allowed bool
		err := m.invoke(HookBeforeCapture, inst, nil, func() (err error) {
			allowed, err = inst.hooks.BeforeCapture(ctx, pc)
			return err
		})
		if err != nil || !allowed {
			m.logger.Info("capture blocked",
				slog.String("plugin", inst.info.ID),
				slog.String("session", sessionOf(pc)),
				slog.Any("error", err),
			)
			return false
		}
	}
	return true
}

// AfterCapture threads the result through every handler. A handler error is
// returned to the caller so it can drive the retry loop.
func (m *Manager) AfterCapture(ctx context.Context, pc *Context, r *CaptureResult) (*CaptureResult, error) {
	return m.transform(ctx, HookAfterCapture, pc, r, true)
}

// TransformResult threads the result through every handler. Failing handlers
// are logged and skipped.
func (m *Manager) TransformResult(ctx context.Context, pc *Context, r *CaptureResult) *CaptureResult {
	out, _ := m.transform(ctx, HookTransformResult, pc, r, false)
	return out
}

// EnrichResult threads the result through every handler. Failing handlers are
// logged and skipped; mutations they made before failing are kept.
func (m *Manager) EnrichResult(ctx context.Context, pc *Context, r *CaptureResult) *CaptureResult {
	out, _ := m.transform(ctx, HookEnrichResult, pc, r, false)
	return out
}

func (m *Manager) transform(ctx context.Context, hook HookName, pc *Context, r *CaptureResult, propagate bool) (*CaptureResult, error) {
	current := r
	for _, inst := range m.handlers(hook) {
		fn := inst.hooks.transform(hook)
		var next *CaptureResult
		err := m.invoke(hook, inst, current, func() (err error) {
			next, err = fn(ctx, pc, current)
			return err
		})
		if err != nil {
			if propagate {
				return current, err
			}
			continue
		}
		if next != nil {
			current = next
		}
	}
	return current, nil
}

// ValidateResult requires every handler to accept the result. The first
// rejection yields ErrValidationFailed, the first handler error is returned as is.
func (m *Manager) ValidateResult(ctx context.Context, pc *Context, r *CaptureResult) error {
	for _, inst := range m.handlers(HookValidateResult) {
		var ok bool
		err := m.invoke(HookValidateResult, inst, r, func() (err error) {
			ok, err = inst.hooks.ValidateResult(ctx, pc, r)
			return err
		})
		if err != nil {
			return err
		}
		if !ok {
			return xerrors.New(xerrors.CodeValidationFailed, "Validation failed", xerrors.WithMetadata("plugin", inst.info.ID))
		}
	}
	return nil
}

// OnError asks handlers in order for a retry decision; the first non-nil
// decision wins. Handler errors count as no decision.
func (m *Manager) OnError(ctx context.Context, pc *Context, cause error) *RetryDecision {
	for _, inst := range m.handlers(HookOnError) {
		var decision *RetryDecision
		err := m.invoke(HookOnError, inst, nil, func() (err error) {
			decision, err = inst.hooks.OnError(ctx, pc, cause)
			return err
		})
		if err != nil {
			continue
		}
		if decision != nil {
			return decision
		}
	}
	return nil
}

// OnRetry notifies every handler concurrently and waits for all of them.
func (m *Manager) OnRetry(ctx context.Context, pc *Context, attempt int) {
	m.notify(HookOnRetry, nil, func(inst *instance) error {
		return inst.hooks.OnRetry(ctx, pc, attempt)
	})
}

// OnSuccess notifies every handler concurrently with the frozen result.
func (m *Manager) OnSuccess(ctx context.Context, pc *Context, r *CaptureResult) {
	if r != nil {
		r.Freeze()
	}
	m.notify(HookOnSuccess, r, func(inst *instance) error {
		return inst.hooks.OnSuccess(ctx, pc, r)
	})
}

// OnCancel notifies every handler concurrently.
func (m *Manager) OnCancel(ctx context.Context, pc *Context) {
	m.notify(HookOnCancel, nil, func(inst *instance) error {
		return inst.hooks.OnCancel(ctx, pc)
	})
}

func (m *Manager) notify(hook HookName, r *CaptureResult, call func(*instance) error) {
	handlers := m.handlers(hook)
	var wg sync.WaitGroup
	wg.Add(len(handlers))
	for _, inst := range handlers {
		go func(inst *instance) {
			defer wg.Done()
			_ = m.invoke(hook, inst, r, func() error { return call(inst) })
		}(inst)
	}
	wg.Wait()
}

// RenderOverlay collects overlay nodes in registration order.
func (m *Manager) RenderOverlay(pc *Context) []Node {
	return m.render(HookRenderOverlay, pc, nil)
}

// RenderToolbar collects toolbar nodes in registration order.
func (m *Manager) RenderToolbar(pc *Context) []Node {
	return m.render(HookRenderToolbar, pc, nil)
}

// RenderResult collects result nodes in registration order.
func (m *Manager) RenderResult(pc *Context, r *CaptureResult) []Node {
	return m.render(HookRenderResult, pc, r)
}

// RenderConfidence collects confidence nodes in registration order.
func (m *Manager) RenderConfidence(pc *Context, r *CaptureResult) []Node {
	return m.render(HookRenderConfidence, pc, r)
}

func (m *Manager) render(hook HookName, pc *Context, r *CaptureResult) []Node {
	var nodes []Node
	for _, inst := range m.handlers(hook) {
		fn := inst.hooks.render(hook)
		var node Node
		err := m.invoke(hook, inst, nil, func() (err error) {
			node, err = fn(pc, r)
			return err
		})
		if err != nil || node == nil {
			continue
		}
		nodes = append(nodes, node)
	}
	return nodes
}

// invoke runs one handler with r bound to the plugin's metadata namespace.
// Panics are converted into errors. Failures are logged, observed and
// published before being returned to the composition rule.
func (m *Manager) invoke(hook HookName, inst *instance, r *CaptureResult, call func() error) (err error) {
	restore := r.bind(inst.info.ID)
	start := time.Now()
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("plugin %s panicked in %s: %v", inst.info.ID, hook, rec)
		}
		restore()
		elapsed := time.Since(start)
		m.observer.ObserveHook(hook, inst.info.ID, elapsed, err)
		if err != nil {
			inst.logger.Warn("hook handler failed",
				slog.String("hook", string(hook)),
				slog.Duration("elapsed", elapsed),
				slog.Any("error", err),
			)
			m.bus.publish(Event{Type: EventHookFailed, PluginID: inst.info.ID, Hook: hook, Err: err})
		}
	}()
	return call()
}

func sessionOf(pc *Context) string {
	if pc == nil {
		return ""
	}
	return pc.SessionID
}
