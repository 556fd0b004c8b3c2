package plugin

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"

	xerrors "MotoMind-Vision/internal/errors"
)

type stubPlugin struct {
	info    Info
	hooks   Hooks
	initErr error
	destroy func() error

	mu        sync.Mutex
	initCalls int
	destroyed int
}

func (s *stubPlugin) Info() Info   { return s.info }
func (s *stubPlugin) Hooks() Hooks { return s.hooks }

func (s *stubPlugin) Init(*ExecutionContext) error {
	s.mu.Lock()
	s.initCalls++
	s.mu.Unlock()
	return s.initErr
}

func (s *stubPlugin) Destroy(*ExecutionContext) error {
	s.mu.Lock()
	s.destroyed++
	s.mu.Unlock()
	if s.destroy != nil {
		return s.destroy()
	}
	return nil
}

func newStub(id string, hooks Hooks) *stubPlugin {
	return &stubPlugin{info: Info{ID: id, Name: id, Version: "test"}, hooks: hooks}
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestManager(t *testing.T, plugins ...Plugin) *Manager {
	t.Helper()
	m := NewManager(WithLogger(quietLogger()))
	for _, p := range plugins {
		if err := m.Register(context.Background(), p); err != nil {
			t.Fatalf("register %s: %v", p.Info().ID, err)
		}
	}
	return m
}

func TestRegisterIsIdempotent(t *testing.T) {
	calls := 0
	p := newStub("dup", Hooks{BeforeCapture: func(context.Context, *Context) (bool, error) {
		calls++
		return true, nil
	}})
	m := newTestManager(t, p)
	if err := m.Register(context.Background(), p); err != nil {
		t.Fatalf("second register returned %v", err)
	}
	if err := m.Register(context.Background(), newStub("dup", Hooks{})); err != nil {
		t.Fatalf("register of a different instance with the same id returned %v", err)
	}
	if m.Len() != 1 {
		t.Fatalf("expected one plugin, got %d", m.Len())
	}
	if p.initCalls != 1 {
		t.Fatalf("expected init once, got %d", p.initCalls)
	}
	if !m.BeforeCapture(context.Background(), &Context{}) {
		t.Fatalf("gate should pass")
	}
	if calls != 1 {
		t.Fatalf("expected handler to run once per capture, got %d", calls)
	}
	state, err := m.State("dup")
	if err != nil || state != StateActive {
		t.Fatalf("state = %s, %v", state, err)
	}
}

func TestRegisterRejectsInvalidPlugins(t *testing.T) {
	m := newTestManager(t)
	if err := m.Register(context.Background(), nil); xerrors.CodeOf(err) != xerrors.CodeInvalidArgument {
		t.Fatalf("nil plugin: %v", err)
	}
	if err := m.Register(context.Background(), newStub("", Hooks{})); xerrors.CodeOf(err) != xerrors.CodeInvalidArgument {
		t.Fatalf("empty id: %v", err)
	}
}

func TestInitFailureRemovesOnlyThatPlugin(t *testing.T) {
	m := newTestManager(t, newStub("good", Hooks{}))

	var failed []Event
	m.Subscribe(EventPluginInitFailed, func(e Event) { failed = append(failed, e) })

	bad := newStub("bad", Hooks{AfterCapture: func(context.Context, *Context, *CaptureResult) (*CaptureResult, error) {
		t.Fatalf("hooks of a failed plugin must not run")
		return nil, nil
	}})
	bad.initErr = errors.New("boom")
	err := m.Register(context.Background(), bad)
	if xerrors.CodeOf(err) != xerrors.CodePluginInit {
		t.Fatalf("expected plugin init error, got %v", err)
	}
	if m.Has("bad") || !m.Has("good") {
		t.Fatalf("registry = %v", m.List())
	}
	if len(failed) != 1 || failed[0].PluginID != "bad" {
		t.Fatalf("expected one init failure event, got %+v", failed)
	}
	if _, err := m.AfterCapture(context.Background(), &Context{}, NewCaptureResult(nil, 0)); err != nil {
		t.Fatalf("after capture: %v", err)
	}
	if m.HandlerCount(HookAfterCapture) != 0 {
		t.Fatalf("hook index still references failed plugin")
	}
}

func TestInitPanicIsTreatedAsFailure(t *testing.T) {
	m := newTestManager(t)
	p := &panicInit{stubPlugin: newStub("panics", Hooks{})}
	if err := m.Register(context.Background(), p); xerrors.CodeOf(err) != xerrors.CodePluginInit {
		t.Fatalf("expected init failure, got %v", err)
	}
	if m.Has("panics") {
		t.Fatalf("panicking plugin must not stay registered")
	}
}

type panicInit struct{ *stubPlugin }

func (panicInit) Init(*ExecutionContext) error { panic("init exploded") }

func TestUnregisterAbsentIsNoop(t *testing.T) {
	m := newTestManager(t)
	if err := m.Unregister(context.Background(), "missing"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestUnregisterRemovesHooksAndDestroys(t *testing.T) {
	ran := false
	p := newStub("gone", Hooks{BeforeCapture: func(context.Context, *Context) (bool, error) {
		ran = true
		return false, nil
	}})
	m := newTestManager(t, p)
	if err := m.Unregister(context.Background(), "gone"); err != nil {
		t.Fatalf("unregister: %v", err)
	}
	if p.destroyed != 1 {
		t.Fatalf("destroy calls = %d", p.destroyed)
	}
	if !m.BeforeCapture(context.Background(), &Context{}) || ran {
		t.Fatalf("unregistered gate still ran")
	}
	if _, err := m.State("gone"); xerrors.CodeOf(err) != xerrors.CodeNotFound {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestDestroyAllAttemptsEveryPlugin(t *testing.T) {
	var order []string
	mk := func(id string, fail bool) *stubPlugin {
		p := newStub(id, Hooks{})
		p.destroy = func() error {
			order = append(order, id)
			if fail {
				return errors.New(id + " failed")
			}
			return nil
		}
		return p
	}
	a, b, c := mk("a", false), mk("b", true), mk("c", false)
	m := newTestManager(t, a, b, c)

	err := m.DestroyAll(context.Background())
	if err == nil || !strings.Contains(err.Error(), "b failed") {
		t.Fatalf("expected joined destroy error, got %v", err)
	}
	if strings.Join(order, ",") != "c,b,a" {
		t.Fatalf("destroy order = %v", order)
	}
	if m.Len() != 0 {
		t.Fatalf("expected empty registry, got %d", m.Len())
	}
}

func TestRegisterEnforcesIsolationPolicy(t *testing.T) {
	m := NewManager(WithLogger(quietLogger()), WithDefaultPolicy(IsolationPolicy{DeniedCapabilities: []Capability{CapabilityNetwork}}))
	p := newStub("net", Hooks{})
	p.info.Capabilities = []Capability{CapabilityNetwork}
	if err := m.Register(context.Background(), p); err == nil {
		t.Fatalf("expected denied capability to be rejected")
	}

	open := newTestManager(t)
	if err := open.Register(context.Background(), p); !errors.Is(err, ErrPolicyRequired) {
		t.Fatalf("expected policy required error, got %v", err)
	}
	allowed := &IsolationPolicy{AllowedCapabilities: []Capability{CapabilityNetwork}}
	if err := open.RegisterWithConfig(context.Background(), p, nil, allowed); err != nil {
		t.Fatalf("register with policy: %v", err)
	}
	if err := open.Register(context.Background(), p); err != nil {
		t.Fatalf("duplicate registration must be a no-op, got %v", err)
	}
	if open.Len() != 1 {
		t.Fatalf("expected one registration, got %d", open.Len())
	}
}

func TestLoadConfiguredUsesFactoriesInOrder(t *testing.T) {
	factories := NewFactoryRegistry()
	var (
		mu   sync.Mutex
		seen []string
	)
	build := func(cfg map[string]any) (Plugin, error) {
		var opts struct {
			ID    string `yaml:"id"`
			Label string `yaml:"label"`
		}
		if err := DecodeOptions(cfg, &opts); err != nil {
			return nil, err
		}
		return newStub(opts.ID, Hooks{OnRetry: func(context.Context, *Context, int) error {
			mu.Lock()
			seen = append(seen, opts.Label)
			mu.Unlock()
			return nil
		}}), nil
	}
	factories.Register("stub", build)

	disabled := false
	cfg := ManagerConfig{Plugins: []PluginConfig{
		{ID: "first", Factory: "stub", Config: map[string]any{"id": "first", "label": "one"}},
		{ID: "skipped", Factory: "stub", Enabled: &disabled, Config: map[string]any{"id": "skipped"}},
		{ID: "unknown"},
		{ID: "second", Factory: "stub", Config: map[string]any{"id": "second", "label": "two"}},
	}}

	m := NewManager(WithLogger(quietLogger()), WithFactories(factories))
	err := m.LoadConfigured(context.Background(), cfg)
	if err == nil || !strings.Contains(err.Error(), "unknown") {
		t.Fatalf("expected unknown factory error, got %v", err)
	}
	infos := m.List()
	if len(infos) != 2 || infos[0].ID != "first" || infos[1].ID != "second" {
		t.Fatalf("registered = %+v", infos)
	}
	m.OnRetry(context.Background(), &Context{}, 2)
	if len(seen) != 2 {
		t.Fatalf("expected both retry handlers, got %v", seen)
	}
}

func TestManagerConfigValidate(t *testing.T) {
	cfg := ManagerConfig{Plugins: []PluginConfig{{ID: "a"}, {ID: "a"}}}
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected duplicate id error")
	}
	cfg = ManagerConfig{Plugins: []PluginConfig{{Factory: "x"}}}
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected missing id error")
	}
}

func TestDecodeOptionsKeepsDefaults(t *testing.T) {
	opts := struct {
		MinConfidence float64 `yaml:"minConfidence"`
		MaxRetries    int     `yaml:"maxRetries"`
	}{MinConfidence: 0.85, MaxRetries: 3}
	if err := DecodeOptions(map[string]any{"maxRetries": 5}, &opts); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if opts.MinConfidence != 0.85 || opts.MaxRetries != 5 {
		t.Fatalf("decoded = %+v", opts)
	}
}
