package confidence

import (
	"context"
	"fmt"
	"sync"

	xerrors "MotoMind-Vision/internal/errors"
	"MotoMind-Vision/pkg/plugin"
)

// ID is the plugin id and metadata namespace.
const ID = "confidence"

// Badge is the node produced by the render-confidence hook.
type Badge struct {
	Confidence float64 `json:"confidence"`
	Threshold  float64 `json:"threshold"`
	Passed     bool    `json:"passed"`
	Trend      Trend   `json:"trend"`
	Attempt    int     `json:"attempt"`
}

// Plugin scores every capture after acquisition and answers retry decisions
// for low-confidence failures. One instance serves one capture session.
type Plugin struct {
	opts    Options
	tracker *TrendTracker

	mu       sync.Mutex
	attempts int
	last     *Check
	trend    Trend
	state    State
}

// New creates a confidence plugin.
func New(opts Options) *Plugin {
	return &Plugin{opts: opts, tracker: NewTrendTracker(), state: StatePending}
}

// Factory builds the plugin from a configuration block.
func Factory(cfg map[string]any) (plugin.Plugin, error) {
	return NewFactory(Options{})(cfg)
}

// NewFactory returns a factory whose configuration blocks override defaults.
func NewFactory(defaults Options) plugin.Factory {
	return func(cfg map[string]any) (plugin.Plugin, error) {
		opts := defaults
		if defaults.Thresholds != nil {
			opts.Thresholds = make(map[string]float64, len(defaults.Thresholds))
			for k, v := range defaults.Thresholds {
				opts.Thresholds[k] = v
			}
		}
		if err := plugin.DecodeOptions(cfg, &opts); err != nil {
			return nil, err
		}
		return New(opts), nil
	}
}

// Info implements plugin.Plugin.
func (p *Plugin) Info() plugin.Info {
	return plugin.Info{
		ID:          ID,
		Name:        "Confidence scoring",
		Description: "Rejects low-confidence captures and schedules retries",
		Author:      "MotoMind",
		Version:     "1.0.0",
		Category:    plugin.TypeEnhancer,
	}
}

// Hooks implements plugin.Plugin.
func (p *Plugin) Hooks() plugin.Hooks {
	return plugin.Hooks{
		AfterCapture:     p.afterCapture,
		OnError:          p.onError,
		OnSuccess:        func(context.Context, *plugin.Context, *plugin.CaptureResult) error { p.complete(); return nil },
		OnCancel:         func(context.Context, *plugin.Context) error { p.Reset(); return nil },
		RenderConfidence: p.renderConfidence,
	}
}

// Init implements plugin.Plugin.
func (p *Plugin) Init(*plugin.ExecutionContext) error { return nil }

// Destroy implements plugin.Plugin.
func (p *Plugin) Destroy(*plugin.ExecutionContext) error {
	p.Reset()
	return nil
}

// Reset returns the plugin to the pending state with no samples.
func (p *Plugin) Reset() {
	p.mu.Lock()
	p.attempts = 0
	p.last = nil
	p.trend = ""
	p.state = StatePending
	p.mu.Unlock()
	p.tracker.Reset()
}

// complete ends a successful session. The final check stays available to
// render-confidence; the attempt counter and samples start over.
func (p *Plugin) complete() {
	p.mu.Lock()
	p.attempts = 0
	p.state = StatePending
	p.mu.Unlock()
	p.tracker.Reset()
}

// State returns the current position in the retry state machine.
func (p *Plugin) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Tracker exposes the session's trend tracker.
func (p *Plugin) Tracker() *TrendTracker {
	return p.tracker
}

func (p *Plugin) afterCapture(_ context.Context, pc *plugin.Context, r *plugin.CaptureResult) (*plugin.CaptureResult, error) {
	captureType := ""
	if pc != nil {
		captureType = pc.CaptureType
	}

	p.mu.Lock()
	p.attempts++
	check := CheckConfidence(r, p.opts, p.attempts, captureType)
	p.last = &check
	p.state = check.State()
	p.mu.Unlock()

	p.tracker.Add(check.Confidence)
	trend := p.tracker.Trend()
	p.mu.Lock()
	p.trend = trend
	p.mu.Unlock()

	for key, value := range map[string]any{
		"confidence": check.Confidence,
		"threshold":  check.Threshold,
		"passed":     check.Passed,
		"attempt":    check.Attempt,
		"state":      string(check.State()),
		"trend":      string(trend),
	} {
		if err := r.Set(key, value); err != nil {
			return nil, err
		}
	}

	if check.Passed {
		return nil, nil
	}
	return nil, xerrors.New(xerrors.CodeLowConfidence, check.Message,
		xerrors.WithRetryable(check.ShouldRetry),
		xerrors.WithMetadata("threshold", fmt.Sprintf("%.2f", check.Threshold)),
		xerrors.WithMetadata("confidence", fmt.Sprintf("%.2f", check.Confidence)),
	)
}

func (p *Plugin) onError(_ context.Context, _ *plugin.Context, cause error) (*plugin.RetryDecision, error) {
	if xerrors.CodeOf(cause) != xerrors.CodeLowConfidence {
		return nil, nil
	}
	p.mu.Lock()
	last := p.last
	p.mu.Unlock()
	if last == nil {
		return nil, nil
	}
	return &plugin.RetryDecision{
		Retry:   last.ShouldRetry,
		Delay:   p.opts.retryDelay(),
		Message: last.Message,
	}, nil
}

func (p *Plugin) renderConfidence(_ *plugin.Context, r *plugin.CaptureResult) (plugin.Node, error) {
	p.mu.Lock()
	last, trend := p.last, p.trend
	p.mu.Unlock()
	if last == nil {
		return nil, nil
	}
	return Badge{
		Confidence: last.Confidence,
		Threshold:  last.Threshold,
		Passed:     last.Passed,
		Trend:      trend,
		Attempt:    last.Attempt,
	}, nil
}
