package plugin

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"slices"
	"sync"

	xerrors "MotoMind-Vision/internal/errors"
	"MotoMind-Vision/pkg/logger"
)

// Manager keeps track of registered plugins and dispatches hook invocations.
// Each capture session owns its own Manager.
type Manager struct {
	mu        sync.RWMutex
	registry  map[string]*instance
	order     []string
	index     map[HookName][]*instance
	loader    Loader
	factories *FactoryRegistry
	isolation IsolationStrategy
	resources map[string]any
	defaults  IsolationPolicy
	logger    *slog.Logger
	observer  Observer
	bus       eventBus
}

type instance struct {
	mu     sync.Mutex
	plugin Plugin
	info   Info
	hooks  Hooks
	state  State
	config map[string]any
	policy IsolationPolicy
	source string
	logger *slog.Logger
}

func (i *instance) setState(state State) {
	i.mu.Lock()
	i.state = state
	i.mu.Unlock()
}

func (i *instance) currentState() State {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.state
}

// NewManager constructs an empty manager.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		registry:  make(map[string]*instance),
		index:     make(map[HookName][]*instance),
		loader:    GoPluginLoader{},
		factories: NewFactoryRegistry(),
		resources: make(map[string]any),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.isolation = NewIsolationStrategy(m.isolation)
	if m.logger == nil {
		m.logger = logger.Named("plugin")
	}
	if m.observer == nil {
		m.observer = noopObserver{}
	}
	return m
}

// Register initialises p and activates its hooks. Registering an id that is
// already present logs a warning and returns nil without touching the
// existing registration.
func (m *Manager) Register(ctx context.Context, p Plugin) error {
	return m.register(ctx, p, nil, nil, "manual")
}

// RegisterWithConfig registers p with a configuration block and isolation policy.
func (m *Manager) RegisterWithConfig(ctx context.Context, p Plugin, cfg map[string]any, policy *IsolationPolicy) error {
	return m.register(ctx, p, cfg, policy, "manual")
}

func (m *Manager) register(ctx context.Context, p Plugin, cfg map[string]any, policy *IsolationPolicy, source string) error {
	if p == nil {
		return xerrors.New(xerrors.CodeInvalidArgument, "plugin implementation cannot be nil")
	}
	info := p.Info()
	if info.ID == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "plugin id cannot be empty")
	}
	m.mu.RLock()
	_, exists := m.registry[info.ID]
	defaults := m.defaults
	m.mu.RUnlock()
	if exists {
		m.logger.Warn("plugin already registered", slog.String("plugin", info.ID))
		return nil
	}
	merged := MergePolicies(defaults, policy)
	if err := EnsurePolicy(info, merged); err != nil {
		return xerrors.Wrap(xerrors.CodePluginInit, err, fmt.Sprintf("plugin %s rejected", info.ID))
	}
	if err := m.isolation.Validate(info, merged); err != nil {
		return xerrors.Wrap(xerrors.CodePluginInit, err, fmt.Sprintf("plugin %s rejected", info.ID))
	}

	inst := &instance{
		plugin: p,
		info:   info,
		hooks:  p.Hooks(),
		state:  StateRegistered,
		config: cloneConfig(cfg),
		policy: merged,
		source: source,
		logger: m.logger.With(slog.String("plugin", info.ID)),
	}

	m.mu.Lock()
	if _, exists := m.registry[info.ID]; exists {
		m.mu.Unlock()
		m.logger.Warn("plugin already registered", slog.String("plugin", info.ID))
		return nil
	}
	m.registry[info.ID] = inst
	m.order = append(m.order, info.ID)
	m.mu.Unlock()

	if ctx == nil {
		ctx = context.Background()
	}
	execCtx := &ExecutionContext{C: ctx, Config: inst.config, Resources: m.resources, Logger: inst.logger}
	if err := safeLifecycle(func() error { return p.Init(execCtx.Clone()) }); err != nil {
		m.remove(info.ID)
		m.bus.publish(Event{Type: EventPluginInitFailed, PluginID: info.ID, Err: err})
		m.logger.Error("plugin init failed", slog.String("plugin", info.ID), slog.Any("error", err))
		return xerrors.Wrap(xerrors.CodePluginInit, err, fmt.Sprintf("initialise plugin %s", info.ID))
	}
	inst.setState(StateInitialised)

	if err := m.isolation.Prepare(info); err != nil {
		_ = safeLifecycle(func() error { return p.Destroy(execCtx.Clone()) })
		m.remove(info.ID)
		m.bus.publish(Event{Type: EventPluginInitFailed, PluginID: info.ID, Err: err})
		return xerrors.Wrap(xerrors.CodePluginInit, err, fmt.Sprintf("prepare isolation for %s", info.ID))
	}

	m.mu.Lock()
	for _, name := range inst.hooks.Names() {
		m.index[name] = append(m.index[name], inst)
	}
	m.mu.Unlock()
	inst.setState(StateActive)

	m.bus.publish(Event{Type: EventPluginRegistered, PluginID: info.ID})
	m.logger.Info("plugin registered",
		slog.String("plugin", info.ID),
		slog.String("version", info.Version),
		slog.String("category", string(info.Category)),
		slog.Any("hooks", inst.hooks.Names()),
	)
	return nil
}

// Load opens a shared object plugin and registers it.
func (m *Manager) Load(ctx context.Context, path string, cfg map[string]any, policy *IsolationPolicy) error {
	if path == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "plugin path cannot be empty")
	}
	p, err := m.loader.Load(path, cfg)
	if err != nil {
		return xerrors.Wrap(xerrors.CodePluginInit, err, fmt.Sprintf("load plugin from %s", path))
	}
	return m.register(ctx, p, cfg, policy, path)
}

// LoadConfigured registers every enabled plugin in cfg, in order. Entries with
// a path are loaded from disk, others are built by factory. A failing entry does
// not stop the remaining ones; all failures are joined.
func (m *Manager) LoadConfigured(ctx context.Context, cfg ManagerConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	if len(cfg.Defaults.AllowedCapabilities) > 0 || len(cfg.Defaults.DeniedCapabilities) > 0 {
		m.mu.Lock()
		m.defaults = cfg.Defaults.Merge(m.defaults)
		m.mu.Unlock()
	}
	var errs error
	for _, pc := range cfg.Plugins {
		if !pc.IsEnabled() {
			continue
		}
		if pc.Path != "" {
			path := pc.Path
			if !filepath.IsAbs(path) && cfg.PluginDir != "" {
				path = filepath.Join(cfg.PluginDir, path)
			}
			errs = errors.Join(errs, m.Load(ctx, path, pc.Config, pc.Policy))
			continue
		}
		p, err := m.factories.Build(pc.FactoryName(), pc.Config)
		if err != nil {
			errs = errors.Join(errs, xerrors.Wrap(xerrors.CodePluginInit, err, fmt.Sprintf("build plugin %s", pc.ID)))
			continue
		}
		errs = errors.Join(errs, m.register(ctx, p, pc.Config, pc.Policy, "factory:"+pc.FactoryName()))
	}
	return errs
}

// Unregister removes the plugin's hooks and destroys it. Absent ids are ignored.
func (m *Manager) Unregister(ctx context.Context, id string) error {
	inst := m.remove(id)
	if inst == nil {
		return nil
	}
	return m.destroy(ctx, inst)
}

// DestroyAll unregisters every plugin in reverse registration order. Every
// destroy is attempted; failures are joined.
func (m *Manager) DestroyAll(ctx context.Context) error {
	m.mu.RLock()
	ids := slices.Clone(m.order)
	m.mu.RUnlock()
	slices.Reverse(ids)

	var errs error
	for _, id := range ids {
		errs = errors.Join(errs, m.Unregister(ctx, id))
	}
	return errs
}

func (m *Manager) destroy(ctx context.Context, inst *instance) error {
	if ctx == nil {
		ctx = context.Background()
	}
	execCtx := &ExecutionContext{C: ctx, Config: inst.config, Resources: m.resources, Logger: inst.logger}
	err := safeLifecycle(func() error { return inst.plugin.Destroy(execCtx.Clone()) })
	err = errors.Join(err, m.isolation.Cleanup(inst.info))
	inst.setState(StateDestroyed)
	m.bus.publish(Event{Type: EventPluginUnregistered, PluginID: inst.info.ID, Err: err})
	if err != nil {
		m.logger.Error("plugin destroy failed", slog.String("plugin", inst.info.ID), slog.Any("error", err))
		return fmt.Errorf("destroy plugin %s: %w", inst.info.ID, err)
	}
	m.logger.Info("plugin unregistered", slog.String("plugin", inst.info.ID))
	return nil
}

// remove drops id from the registry and hook index and returns its instance.
func (m *Manager) remove(id string) *instance {
	m.mu.Lock()
	defer m.mu.Unlock()
	inst, ok := m.registry[id]
	if !ok {
		return nil
	}
	delete(m.registry, id)
	m.order = slices.DeleteFunc(m.order, func(v string) bool { return v == id })
	for name, list := range m.index {
		list = slices.DeleteFunc(slices.Clone(list), func(v *instance) bool { return v == inst })
		if len(list) == 0 {
			delete(m.index, name)
			continue
		}
		m.index[name] = list
	}
	return inst
}

// Get returns the registered plugin with the given id.
func (m *Manager) Get(id string) (Plugin, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	inst, ok := m.registry[id]
	if !ok {
		return nil, false
	}
	return inst.plugin, true
}

// Has reports whether id is registered.
func (m *Manager) Has(id string) bool {
	_, ok := m.Get(id)
	return ok
}

// List returns plugin infos in registration order.
func (m *Manager) List() []Info {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Info, 0, len(m.order))
	for _, id := range m.order {
		out = append(out, m.registry[id].info)
	}
	return out
}

// Len returns the number of registered plugins.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.registry)
}

// State returns the lifecycle state of a plugin.
func (m *Manager) State(id string) (State, error) {
	m.mu.RLock()
	inst, ok := m.registry[id]
	m.mu.RUnlock()
	if !ok {
		return "", xerrors.New(xerrors.CodeNotFound, fmt.Sprintf("plugin %s not registered", id))
	}
	return inst.currentState(), nil
}

// HandlerCount returns how many plugins implement name.
func (m *Manager) HandlerCount(name HookName) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.index[name])
}

// Factories exposes the registry used by LoadConfigured.
func (m *Manager) Factories() *FactoryRegistry {
	return m.factories
}

func (m *Manager) handlers(name HookName) []*instance {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return slices.Clone(m.index[name])
}

func safeLifecycle(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return fn()
}

func cloneConfig(cfg map[string]any) map[string]any {
	if cfg == nil {
		return map[string]any{}
	}
	cp := make(map[string]any, len(cfg))
	for k, v := range cfg {
		cp[k] = v
	}
	return cp
}
