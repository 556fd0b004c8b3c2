// Package analytics publishes capture lifecycle notifications as
// events.CaptureEvent records.
package analytics

import (
	"context"
	"errors"
	"sync"
	"time"

	"MotoMind-Vision/internal/events"
	"MotoMind-Vision/pkg/plugin"
)

// ID is the plugin id.
const ID = "analytics"

// ResourcePublisher is the ExecutionContext resource key of the event publisher.
const ResourcePublisher = "events"

// DefaultPublishTimeout bounds one publish call.
const DefaultPublishTimeout = 2 * time.Second

// Options configures the plugin.
type Options struct {
	PublishTimeout time.Duration `yaml:"publishTimeout"`
}

// Plugin reports retries, successes and cancellations to a publisher.
type Plugin struct {
	opts Options

	mu        sync.RWMutex
	publisher events.Publisher
}

// New creates the plugin. A nil publisher is taken from the "events"
// resource during Init.
func New(pub events.Publisher, opts Options) *Plugin {
	if opts.PublishTimeout <= 0 {
		opts.PublishTimeout = DefaultPublishTimeout
	}
	return &Plugin{opts: opts, publisher: pub}
}

// Factory builds the plugin from a configuration block.
func Factory(cfg map[string]any) (plugin.Plugin, error) {
	var opts Options
	if err := plugin.DecodeOptions(cfg, &opts); err != nil {
		return nil, err
	}
	return New(nil, opts), nil
}

// Info implements plugin.Plugin.
func (p *Plugin) Info() plugin.Info {
	return plugin.Info{
		ID:           ID,
		Name:         "Capture analytics",
		Description:  "Publishes retry, success and cancel events",
		Author:       "MotoMind",
		Version:      "1.0.0",
		Category:     plugin.TypeAnalytics,
		Capabilities: []plugin.Capability{plugin.CapabilityEvents},
	}
}

// Hooks implements plugin.Plugin.
func (p *Plugin) Hooks() plugin.Hooks {
	return plugin.Hooks{
		OnRetry: func(ctx context.Context, pc *plugin.Context, attempt int) error {
			return p.publish(ctx, pc, attempt, events.OutcomeRetry, nil)
		},
		OnSuccess: func(ctx context.Context, pc *plugin.Context, r *plugin.CaptureResult) error {
			return p.publish(ctx, pc, attemptOf(pc), events.OutcomeSuccess, r)
		},
		OnCancel: func(ctx context.Context, pc *plugin.Context) error {
			return p.publish(ctx, pc, attemptOf(pc), events.OutcomeCancelled, nil)
		},
	}
}

// Init implements plugin.Plugin.
func (p *Plugin) Init(ec *plugin.ExecutionContext) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.publisher != nil {
		return nil
	}
	if ec != nil {
		if pub, ok := ec.Resources[ResourcePublisher].(events.Publisher); ok && pub != nil {
			p.publisher = pub
			return nil
		}
	}
	return errors.New("analytics plugin requires an event publisher")
}

// Destroy implements plugin.Plugin. The publisher is shared and stays open.
func (p *Plugin) Destroy(*plugin.ExecutionContext) error { return nil }

func (p *Plugin) publish(ctx context.Context, pc *plugin.Context, attempt int, outcome events.Outcome, r *plugin.CaptureResult) error {
	p.mu.RLock()
	pub := p.publisher
	p.mu.RUnlock()

	var session, captureType string
	if pc != nil {
		session, captureType = pc.SessionID, pc.CaptureType
	}
	evt := events.NewCaptureEvent(session, captureType, attempt, outcome)
	if r != nil {
		evt.Confidence = r.Confidence
	}
	// The capture context may already be cancelled on the cancel path.
	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.opts.PublishTimeout)
	defer cancel()
	return pub.Publish(pubCtx, evt)
}

func attemptOf(pc *plugin.Context) int {
	if pc == nil {
		return 0
	}
	return pc.Attempt
}
