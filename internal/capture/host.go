// Package capture drives capture sessions through a plugin manager:
// gate, acquisition, the result hooks and the retry loop.
package capture

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	xerrors "MotoMind-Vision/internal/errors"
	"MotoMind-Vision/internal/observability/alerting"
	"MotoMind-Vision/pkg/logger"
	"MotoMind-Vision/pkg/plugin"
)

var (
	// ErrCaptureBlocked is returned when a before-capture handler vetoes the session.
	ErrCaptureBlocked = xerrors.New(xerrors.CodeCaptureBlocked, "")
	// ErrCancelled is returned when the session is cancelled.
	ErrCancelled = xerrors.New(xerrors.CodeCaptureCancelled, "")
)

// Outcomes reported to an Observer and written to the audit log.
const (
	OutcomeSuccess   = "success"
	OutcomeBlocked   = "blocked"
	OutcomeFailed    = "failed"
	OutcomeExhausted = "exhausted"
	OutcomeCancelled = "cancelled"
)

// Acquirer performs the image acquisition and OCR step and returns the seed
// result. It is the host's only external collaborator.
type Acquirer interface {
	Acquire(ctx context.Context, pc *plugin.Context) (*plugin.CaptureResult, error)
}

// AcquirerFunc adapts a function to Acquirer.
type AcquirerFunc func(ctx context.Context, pc *plugin.Context) (*plugin.CaptureResult, error)

// Acquire implements Acquirer.
func (f AcquirerFunc) Acquire(ctx context.Context, pc *plugin.Context) (*plugin.CaptureResult, error) {
	return f(ctx, pc)
}

// Observer receives one call per finished session.
type Observer interface {
	ObserveCapture(captureType, outcome string, attempts int, elapsed time.Duration)
}

// Host runs one capture session at a time against its own plugin manager.
type Host struct {
	manager     *plugin.Manager
	acquirer    Acquirer
	policy      RetryPolicy
	captureType string
	sessionID   string
	values      map[string]any
	logger      *slog.Logger
	alerter     alerting.Dispatcher
	observer    Observer

	mu        sync.Mutex
	cancel    context.CancelFunc
	cancelled bool
	session   plugin.Context
}

// Option customises a Host.
type Option func(*Host)

// WithCaptureType sets the capture type passed to every hook.
func WithCaptureType(t string) Option {
	return func(h *Host) { h.captureType = t }
}

// WithSessionID fixes the session id instead of generating one.
func WithSessionID(id string) Option {
	return func(h *Host) { h.sessionID = id }
}

// WithValues supplies host values (vehicle id, UI references) to hooks.
func WithValues(values map[string]any) Option {
	return func(h *Host) { h.values = values }
}

// WithRetryPolicy replaces DefaultRetryPolicy.
func WithRetryPolicy(p RetryPolicy) Option {
	return func(h *Host) { h.policy = p }
}

// WithLogger sets the host logger.
func WithLogger(l *slog.Logger) Option {
	return func(h *Host) {
		if l != nil {
			h.logger = l
		}
	}
}

// WithAlerter dispatches alerts for terminal failures whose code is flagged for alerting.
func WithAlerter(d alerting.Dispatcher) Option {
	return func(h *Host) { h.alerter = d }
}

// WithObserver attaches a session observer.
func WithObserver(o Observer) Option {
	return func(h *Host) { h.observer = o }
}

// NewHost creates a host. The manager must not be shared with another session.
func NewHost(m *plugin.Manager, acq Acquirer, opts ...Option) (*Host, error) {
	if m == nil {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "plugin manager cannot be nil")
	}
	if acq == nil {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "acquirer cannot be nil")
	}
	h := &Host{manager: m, acquirer: acq, policy: DefaultRetryPolicy()}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	h.policy = h.policy.normalized()
	if h.logger == nil {
		h.logger = logger.Named("capture")
	}
	return h, nil
}

// Session returns a snapshot of the current or last session context.
func (h *Host) Session() plugin.Context {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.session
}

// Cancel stops the running session. The on-cancel hooks fire and neither
// success nor error hooks run for the in-flight attempt.
func (h *Host) Cancel() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.cancel == nil {
		return
	}
	h.cancelled = true
	h.cancel()
}

func (h *Host) isCancelled(ctx context.Context) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.cancelled || ctx.Err() != nil
}

func (h *Host) setAttempt(pc *plugin.Context, attempt int) {
	h.mu.Lock()
	pc.Attempt = attempt
	h.session.Attempt = attempt
	h.mu.Unlock()
}

// Run executes one session:
//
//	before-capture -> acquire -> after-capture -> transform-result ->
//	validate-result -> enrich-result -> on-success
//
// Any error asks the on-error hooks, then the retry policy, whether to retry.
// A retry waits for the delay, fires on-retry and restarts at acquisition.
func (h *Host) Run(ctx context.Context) (*plugin.CaptureResult, error) {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	sessionID := h.sessionID
	if sessionID == "" {
		sessionID = uuid.NewString()
	}
	pc := &plugin.Context{CaptureType: h.captureType, SessionID: sessionID, Attempt: 1, Values: h.values}

	h.mu.Lock()
	if h.cancel != nil {
		h.mu.Unlock()
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "capture session already running")
	}
	h.cancel = cancel
	h.cancelled = false
	h.session = *pc
	h.mu.Unlock()
	defer func() {
		h.mu.Lock()
		h.cancel = nil
		h.mu.Unlock()
	}()

	start := time.Now()
	log := h.logger.With(slog.String("session_id", sessionID), slog.String("capture_type", h.captureType))

	if !h.manager.BeforeCapture(runCtx, pc) {
		if h.isCancelled(runCtx) {
			return nil, h.finishCancelled(ctx, pc, start, log)
		}
		h.finish(pc, OutcomeBlocked, start, ErrCaptureBlocked)
		return nil, ErrCaptureBlocked
	}

	for {
		result, err := h.attempt(runCtx, pc)
		if h.isCancelled(runCtx) {
			return nil, h.finishCancelled(ctx, pc, start, log)
		}
		if err == nil {
			h.manager.OnSuccess(runCtx, pc, result)
			h.finish(pc, OutcomeSuccess, start, nil)
			return result, nil
		}

		decision := h.manager.OnError(runCtx, pc, err)
		if decision == nil {
			decision = h.policy.Decide(err, pc.Attempt)
		}
		if !decision.Retry || pc.Attempt >= h.policy.Ceiling {
			terminal, outcome := h.terminalError(err, decision, pc.Attempt)
			h.finish(pc, outcome, start, terminal)
			h.alert(runCtx, pc, terminal)
			return nil, terminal
		}

		log.Debug("capture attempt failed, retrying",
			slog.Int("attempt", pc.Attempt),
			slog.Duration("delay", decision.Delay),
			slog.String("error_code", string(xerrors.CodeOf(err))),
		)
		if !sleep(runCtx, decision.Delay) {
			return nil, h.finishCancelled(ctx, pc, start, log)
		}
		h.setAttempt(pc, pc.Attempt+1)
		h.manager.OnRetry(runCtx, pc, pc.Attempt)
	}
}

func (h *Host) attempt(ctx context.Context, pc *plugin.Context) (*plugin.CaptureResult, error) {
	result, err := h.acquirer.Acquire(ctx, pc)
	if err != nil {
		if _, coded := xerrors.From(err); coded {
			return nil, err
		}
		return nil, xerrors.Wrap(xerrors.CodeAcquisitionFailure, err, "")
	}
	if result == nil {
		return nil, xerrors.New(xerrors.CodeAcquisitionFailure, "acquirer returned no result")
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	result, err = h.manager.AfterCapture(ctx, pc, result)
	if err != nil {
		return nil, err
	}
	result = h.manager.TransformResult(ctx, pc, result)
	if err := h.manager.ValidateResult(ctx, pc, result); err != nil {
		return nil, err
	}
	return h.manager.EnrichResult(ctx, pc, result), nil
}

// terminalError builds the single message surfaced to the user. Failures of a
// retryable kind that ran out of attempts become CodeRetriesExhausted; anything
// else keeps its own code.
func (h *Host) terminalError(err error, decision *plugin.RetryDecision, attempts int) (error, string) {
	retryableKind := xerrors.AttributesOf(xerrors.CodeOf(err)).Retryable
	if xerrors.RetryableError(err) || (attempts > 1 && retryableKind) {
		msg := decision.Message
		if msg == "" {
			msg = fmt.Sprintf("capture failed after %d attempts", attempts)
		}
		return xerrors.Wrap(xerrors.CodeRetriesExhausted, err, msg,
			xerrors.WithMetadata("attempts", fmt.Sprint(attempts)),
			xerrors.WithMetadata("cause_code", string(xerrors.CodeOf(err))),
		), OutcomeExhausted
	}
	return err, OutcomeFailed
}

func (h *Host) finishCancelled(ctx context.Context, pc *plugin.Context, start time.Time, log *slog.Logger) error {
	h.manager.OnCancel(context.WithoutCancel(ctx), pc)
	log.Debug("capture cancelled", slog.Int("attempt", pc.Attempt))
	h.finish(pc, OutcomeCancelled, start, ErrCancelled)
	return ErrCancelled
}

func (h *Host) finish(pc *plugin.Context, outcome string, start time.Time, err error) {
	elapsed := time.Since(start)
	if h.observer != nil {
		h.observer.ObserveCapture(pc.CaptureType, outcome, pc.Attempt, elapsed)
	}
	attrs := []any{
		slog.String("session_id", pc.SessionID),
		slog.String("capture_type", pc.CaptureType),
		slog.String("outcome", outcome),
		slog.Int("attempts", pc.Attempt),
		slog.Duration("elapsed", elapsed),
	}
	if err == nil {
		logger.Audit().Info("capture finished", attrs...)
		return
	}
	attrs = append(attrs,
		slog.String("error", xerrors.UserMessage(err)),
		slog.String("error_code", string(xerrors.CodeOf(err))),
	)
	if errors.Is(err, ErrCancelled) || errors.Is(err, ErrCaptureBlocked) {
		logger.Audit().Info("capture finished", attrs...)
		return
	}
	logger.Audit().Warn("capture failed", attrs...)
}

func (h *Host) alert(ctx context.Context, pc *plugin.Context, err error) {
	if h.alerter == nil {
		return
	}
	code := xerrors.CodeOf(err)
	attrs := xerrors.AttributesOf(code)
	if !attrs.Alert {
		return
	}
	event := alerting.Event{
		Code:        code,
		Message:     xerrors.UserMessage(err),
		Severity:    xerrors.SeverityOf(err),
		SessionID:   pc.SessionID,
		CaptureType: pc.CaptureType,
		Attempts:    pc.Attempt,
		MaxAttempts: h.policy.MaxAttempts,
		Metadata:    map[string]string{"cause": err.Error()},
		OccurredAt:  time.Now(),
	}
	if notifyErr := h.alerter.Notify(context.WithoutCancel(ctx), event); notifyErr != nil {
		h.logger.Error("capture alert failed", slog.Any("error", notifyErr), slog.String("session_id", pc.SessionID))
	}
}

// sleep waits for d and reports false when ctx ends first.
func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
