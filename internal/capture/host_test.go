package capture

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	xerrors "MotoMind-Vision/internal/errors"
	"MotoMind-Vision/internal/observability/alerting"
	"MotoMind-Vision/internal/plugins/confidence"
	"MotoMind-Vision/internal/plugins/vinvalidation"
	"MotoMind-Vision/pkg/logger"
	"MotoMind-Vision/pkg/plugin"
)

type hookPlugin struct {
	id    string
	hooks plugin.Hooks
}

func (p *hookPlugin) Info() plugin.Info {
	return plugin.Info{ID: p.id, Name: p.id, Version: "0.0.1", Category: plugin.TypeEnhancer}
}
func (p *hookPlugin) Hooks() plugin.Hooks                     { return p.hooks }
func (p *hookPlugin) Init(*plugin.ExecutionContext) error    { return nil }
func (p *hookPlugin) Destroy(*plugin.ExecutionContext) error { return nil }

type trace struct {
	mu    sync.Mutex
	steps []string
}

func (t *trace) add(step string) {
	t.mu.Lock()
	t.steps = append(t.steps, step)
	t.mu.Unlock()
}

func (t *trace) list() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]string(nil), t.steps...)
}

func tracingPlugin(tr *trace) *hookPlugin {
	return &hookPlugin{id: "trace", hooks: plugin.Hooks{
		BeforeCapture: func(context.Context, *plugin.Context) (bool, error) { tr.add("before"); return true, nil },
		AfterCapture: func(context.Context, *plugin.Context, *plugin.CaptureResult) (*plugin.CaptureResult, error) {
			tr.add("after")
			return nil, nil
		},
		TransformResult: func(context.Context, *plugin.Context, *plugin.CaptureResult) (*plugin.CaptureResult, error) {
			tr.add("transform")
			return nil, nil
		},
		ValidateResult: func(context.Context, *plugin.Context, *plugin.CaptureResult) (bool, error) {
			tr.add("validate")
			return true, nil
		},
		EnrichResult: func(context.Context, *plugin.Context, *plugin.CaptureResult) (*plugin.CaptureResult, error) {
			tr.add("enrich")
			return nil, nil
		},
		OnError: func(context.Context, *plugin.Context, error) (*plugin.RetryDecision, error) {
			tr.add("error")
			return nil, nil
		},
		OnRetry: func(_ context.Context, _ *plugin.Context, attempt int) error {
			tr.add("retry")
			return nil
		},
		OnSuccess: func(_ context.Context, _ *plugin.Context, r *plugin.CaptureResult) error {
			if r.Frozen() {
				tr.add("success")
			}
			return nil
		},
		OnCancel: func(context.Context, *plugin.Context) error { tr.add("cancel"); return nil },
	}}
}

func newManager(t *testing.T, plugins ...plugin.Plugin) *plugin.Manager {
	t.Helper()
	m := plugin.NewManager(plugin.WithLogger(logger.Discard()))
	for _, p := range plugins {
		if err := m.Register(context.Background(), p); err != nil {
			t.Fatalf("register %s: %v", p.Info().ID, err)
		}
	}
	return m
}

func newHost(t *testing.T, m *plugin.Manager, acq Acquirer, opts ...Option) *Host {
	t.Helper()
	opts = append([]Option{WithLogger(logger.Discard()), WithRetryPolicy(RetryPolicy{MaxAttempts: 3})}, opts...)
	h, err := NewHost(m, acq, opts...)
	if err != nil {
		t.Fatalf("host: %v", err)
	}
	return h
}

func sequence(scores ...float64) (Acquirer, *atomic.Int32) {
	var calls atomic.Int32
	return AcquirerFunc(func(context.Context, *plugin.Context) (*plugin.CaptureResult, error) {
		i := int(calls.Add(1)) - 1
		if i >= len(scores) {
			i = len(scores) - 1
		}
		return plugin.NewCaptureResult(map[string]any{"vin": "1HGCM82633A004352"}, scores[i]), nil
	}), &calls
}

func TestRunHookOrder(t *testing.T) {
	tr := &trace{}
	acq, calls := sequence(0.99)
	h := newHost(t, newManager(t, tracingPlugin(tr)), acq, WithCaptureType("vin"), WithSessionID("fixed"))

	r, err := h.Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if !r.Frozen() || calls.Load() != 1 {
		t.Fatalf("frozen = %v, acquisitions = %d", r.Frozen(), calls.Load())
	}
	want := []string{"before", "after", "transform", "validate", "enrich", "success"}
	got := tr.list()
	if len(got) != len(want) {
		t.Fatalf("steps = %v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("steps = %v, want %v", got, want)
		}
	}
	if s := h.Session(); s.SessionID != "fixed" || s.Attempt != 1 || s.CaptureType != "vin" {
		t.Fatalf("session = %+v", s)
	}
}

func TestGateBlocksAcquisition(t *testing.T) {
	deny := &hookPlugin{id: "deny", hooks: plugin.Hooks{
		BeforeCapture: func(context.Context, *plugin.Context) (bool, error) { return false, nil },
	}}
	tr := &trace{}
	acq, calls := sequence(0.99)
	h := newHost(t, newManager(t, deny, tracingPlugin(tr)), acq)

	_, err := h.Run(context.Background())
	if !errors.Is(err, ErrCaptureBlocked) {
		t.Fatalf("expected blocked, got %v", err)
	}
	if calls.Load() != 0 || len(tr.list()) != 0 {
		t.Fatalf("nothing may run after a veto: acquisitions=%d steps=%v", calls.Load(), tr.list())
	}
}

func TestLowConfidenceRetriesUntilPass(t *testing.T) {
	tr := &trace{}
	acq, calls := sequence(0.5, 0.7, 0.9)
	conf := confidence.New(confidence.Options{RetryDelay: time.Millisecond})
	h := newHost(t, newManager(t, conf, tracingPlugin(tr)), acq, WithCaptureType("vin"))

	r, err := h.Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if calls.Load() != 3 || h.Session().Attempt != 3 {
		t.Fatalf("acquisitions = %d, attempt = %d", calls.Load(), h.Session().Attempt)
	}
	if v, _ := r.Get(confidence.ID, "trend"); v != string(confidence.TrendImproving) {
		t.Fatalf("trend = %v", v)
	}
	retries := 0
	for _, s := range tr.list() {
		if s == "retry" {
			retries++
		}
	}
	if retries != 2 {
		t.Fatalf("retries = %d, steps = %v", retries, tr.list())
	}
	if conf.State() != confidence.StatePending {
		t.Fatalf("success must reset the confidence state, got %s", conf.State())
	}
}

type alertRecorder struct {
	mu     sync.Mutex
	events []alerting.Event
}

func (a *alertRecorder) Notify(_ context.Context, e alerting.Event) error {
	a.mu.Lock()
	a.events = append(a.events, e)
	a.mu.Unlock()
	return nil
}

type observerRecorder struct {
	outcome  string
	attempts int
}

func (o *observerRecorder) ObserveCapture(_ string, outcome string, attempts int, _ time.Duration) {
	o.outcome, o.attempts = outcome, attempts
}

func TestRetriesExhausted(t *testing.T) {
	acq, calls := sequence(0.5)
	alerts := &alertRecorder{}
	obs := &observerRecorder{}
	m := newManager(t, confidence.New(confidence.Options{RetryDelay: time.Millisecond}))
	h := newHost(t, m, acq, WithAlerter(alerts), WithObserver(obs), WithCaptureType("vin"))

	_, err := h.Run(context.Background())
	if xerrors.CodeOf(err) != xerrors.CodeRetriesExhausted {
		t.Fatalf("expected exhausted, got %v", err)
	}
	if msg := xerrors.UserMessage(err); msg == "" || msg == err.Error() {
		t.Fatalf("user message = %q", msg)
	}
	if calls.Load() != 3 {
		t.Fatalf("acquisitions = %d", calls.Load())
	}
	if len(alerts.events) != 1 || alerts.events[0].Attempts != 3 || alerts.events[0].Code != xerrors.CodeRetriesExhausted {
		t.Fatalf("alerts = %+v", alerts.events)
	}
	if obs.outcome != OutcomeExhausted || obs.attempts != 3 {
		t.Fatalf("observer = %+v", obs)
	}
}

func TestValidationFailureIsTerminal(t *testing.T) {
	acq := AcquirerFunc(func(context.Context, *plugin.Context) (*plugin.CaptureResult, error) {
		return plugin.NewCaptureResult(map[string]any{"vin": "1HGCM8263"}, 0.99), nil
	})
	m := newManager(t, vinvalidation.New(vinvalidation.DefaultOptions()))
	h := newHost(t, m, acq, WithCaptureType("vin"))

	_, err := h.Run(context.Background())
	if xerrors.CodeOf(err) != xerrors.CodeValidationFailed || h.Session().Attempt != 1 {
		t.Fatalf("err = %v, attempt = %d", err, h.Session().Attempt)
	}
}

func TestDefaultPolicyRetriesAcquisitionFailures(t *testing.T) {
	var calls atomic.Int32
	acq := AcquirerFunc(func(context.Context, *plugin.Context) (*plugin.CaptureResult, error) {
		if calls.Add(1) < 3 {
			return nil, errors.New("camera busy")
		}
		return plugin.NewCaptureResult(nil, 1), nil
	})
	h := newHost(t, newManager(t), acq)
	if _, err := h.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
	if calls.Load() != 3 {
		t.Fatalf("acquisitions = %d", calls.Load())
	}
}

func TestCeilingStopsRunawayRetries(t *testing.T) {
	always := &hookPlugin{id: "always", hooks: plugin.Hooks{
		OnError: func(context.Context, *plugin.Context, error) (*plugin.RetryDecision, error) {
			return &plugin.RetryDecision{Retry: true}, nil
		},
	}}
	acq := AcquirerFunc(func(context.Context, *plugin.Context) (*plugin.CaptureResult, error) {
		return nil, errors.New("no image")
	})
	h := newHost(t, newManager(t, always), acq, WithRetryPolicy(RetryPolicy{MaxAttempts: 2, Ceiling: 4}))
	_, err := h.Run(context.Background())
	if xerrors.CodeOf(err) != xerrors.CodeRetriesExhausted || h.Session().Attempt != 4 {
		t.Fatalf("err = %v, attempt = %d", err, h.Session().Attempt)
	}
}

func TestCancelDuringAcquisition(t *testing.T) {
	tr := &trace{}
	started := make(chan struct{})
	acq := AcquirerFunc(func(ctx context.Context, _ *plugin.Context) (*plugin.CaptureResult, error) {
		close(started)
		<-ctx.Done()
		return nil, ctx.Err()
	})
	h := newHost(t, newManager(t, tracingPlugin(tr)), acq)

	go func() {
		<-started
		h.Cancel()
	}()
	_, err := h.Run(context.Background())
	if !errors.Is(err, ErrCancelled) {
		t.Fatalf("expected cancelled, got %v", err)
	}
	got := tr.list()
	if len(got) != 2 || got[0] != "before" || got[1] != "cancel" {
		t.Fatalf("steps = %v", got)
	}
}

func TestCancelDuringRetryDelay(t *testing.T) {
	tr := &trace{}
	acq, _ := sequence(0.1)
	conf := confidence.New(confidence.Options{RetryDelay: time.Hour})
	h := newHost(t, newManager(t, conf, tracingPlugin(tr)), acq)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := h.Run(ctx)
	if !errors.Is(err, ErrCancelled) {
		t.Fatalf("expected cancelled, got %v", err)
	}
	if conf.State() != confidence.StatePending {
		t.Fatalf("cancel must reset confidence state")
	}
	for _, s := range tr.list() {
		if s == "retry" || s == "success" {
			t.Fatalf("unexpected step %s in %v", s, tr.list())
		}
	}
}

func TestNewHostValidates(t *testing.T) {
	if _, err := NewHost(nil, AcquirerFunc(nil)); xerrors.CodeOf(err) != xerrors.CodeInvalidArgument {
		t.Fatalf("nil manager: %v", err)
	}
	if _, err := NewHost(plugin.NewManager(plugin.WithLogger(logger.Discard())), nil); xerrors.CodeOf(err) != xerrors.CodeInvalidArgument {
		t.Fatalf("nil acquirer: %v", err)
	}
}
