// Package vindecode enriches VIN captures with decoded vehicle information.
// Decoding failures never fail the capture; they are recorded in the
// plugin's metadata namespace.
package vindecode

import (
	"context"
	"errors"
	"strings"
	"sync"

	"MotoMind-Vision/internal/decode"
	xerrors "MotoMind-Vision/internal/errors"
	"MotoMind-Vision/internal/vin"
	"MotoMind-Vision/pkg/plugin"
)

// ID is the plugin id and metadata namespace.
const ID = "vin-decode"

// ResourceDecoder is the ExecutionContext resource key of a shared decoder.
const ResourceDecoder = "decoder"

// Decoder is the part of decode.Decoder the plugin needs.
type Decoder interface {
	Decode(ctx context.Context, raw string) (vin.DecodedVehicleInfo, error)
	Provider() string
}

// Options configures the plugin. The decode options are only used when the
// plugin builds its own decoder.
type Options struct {
	decode.Options `yaml:",inline"`
	NHTSABaseURL   string   `yaml:"nhtsaBaseURL"`
	Field          string   `yaml:"field"`
	CaptureTypes   []string `yaml:"captureTypes"`
}

// VehicleCard is the node produced by the render-result hook.
type VehicleCard struct {
	VIN     string         `json:"vin"`
	Vehicle map[string]any `json:"vehicle,omitempty"`
	Error   string         `json:"error,omitempty"`
}

// Plugin decodes the VIN field during the enrich-result hook.
type Plugin struct {
	opts Options

	mu      sync.RWMutex
	decoder Decoder
}

// New creates the plugin. A nil decoder is resolved during Init, first from
// the "decoder" resource and otherwise built from opts.
func New(d Decoder, opts Options) *Plugin {
	if opts.Field == "" {
		opts.Field = "vin"
	}
	if len(opts.CaptureTypes) == 0 {
		opts.CaptureTypes = []string{"vin"}
	}
	return &Plugin{opts: opts, decoder: d}
}

// Factory builds the plugin from a configuration block.
func Factory(cfg map[string]any) (plugin.Plugin, error) {
	return NewFactory(Options{})(cfg)
}

// NewFactory returns a factory whose configuration blocks override defaults.
func NewFactory(defaults Options) plugin.Factory {
	return func(cfg map[string]any) (plugin.Plugin, error) {
		opts := defaults
		opts.CaptureTypes = append([]string(nil), defaults.CaptureTypes...)
		if err := plugin.DecodeOptions(cfg, &opts); err != nil {
			return nil, err
		}
		return New(nil, opts), nil
	}
}

// Info implements plugin.Plugin. The network capability is declared only
// when the plugin is configured for the online provider.
func (p *Plugin) Info() plugin.Info {
	info := plugin.Info{
		ID:          ID,
		Name:        "VIN decoding",
		Description: "Enriches VIN captures with manufacturer, model year and provider data",
		Author:      "MotoMind",
		Version:     "1.0.0",
		Category:    plugin.TypeDecoder,
	}
	if strings.EqualFold(p.opts.APIProvider, decode.ProviderNHTSA) {
		info.Capabilities = []plugin.Capability{plugin.CapabilityNetwork}
	}
	return info
}

// Hooks implements plugin.Plugin.
func (p *Plugin) Hooks() plugin.Hooks {
	return plugin.Hooks{
		EnrichResult: p.enrich,
		RenderResult: p.render,
	}
}

// Init implements plugin.Plugin.
func (p *Plugin) Init(ec *plugin.ExecutionContext) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.decoder != nil {
		return nil
	}
	if ec != nil {
		if d, ok := ec.Resources[ResourceDecoder].(Decoder); ok && d != nil {
			p.decoder = d
			return nil
		}
	}
	provider, err := decode.NewProvider(p.opts.APIProvider, decode.ProviderConfig{NHTSABaseURL: p.opts.NHTSABaseURL})
	if err != nil {
		return err
	}
	var options []decode.DecoderOption
	if ec != nil && ec.Logger != nil {
		options = append(options, decode.WithLogger(ec.Logger))
	}
	d, err := decode.NewDecoder(provider, p.opts.Options, options...)
	if err != nil {
		return err
	}
	p.decoder = d
	return nil
}

// Destroy implements plugin.Plugin.
func (p *Plugin) Destroy(*plugin.ExecutionContext) error { return nil }

func (p *Plugin) applies(pc *plugin.Context) bool {
	captureType := ""
	if pc != nil {
		captureType = pc.CaptureType
	}
	for _, t := range p.opts.CaptureTypes {
		if t == "*" || strings.EqualFold(t, captureType) {
			return true
		}
	}
	return false
}

func (p *Plugin) enrich(ctx context.Context, pc *plugin.Context, r *plugin.CaptureResult) (*plugin.CaptureResult, error) {
	if !p.applies(pc) || r == nil {
		return nil, nil
	}
	raw := r.String(p.opts.Field)
	if raw == "" {
		return nil, nil
	}
	p.mu.RLock()
	d := p.decoder
	p.mu.RUnlock()
	if d == nil {
		return nil, errors.New("vin decoder is not initialised")
	}

	info, err := d.Decode(ctx, raw)
	if err != nil {
		_ = r.Set("error", xerrors.UserMessage(err))
		_ = r.Set("errorCode", string(xerrors.CodeOf(err)))
		_ = r.Set("timeout", xerrors.CodeOf(err) == xerrors.CodeDecodeTimeout)
		return nil, err
	}
	if err := r.Set("vehicle", info.Map()); err != nil {
		return nil, err
	}
	if err := r.Set("provider", info.Source); err != nil {
		return nil, err
	}
	return nil, nil
}

func (p *Plugin) render(pc *plugin.Context, r *plugin.CaptureResult) (plugin.Node, error) {
	if !p.applies(pc) || r == nil {
		return nil, nil
	}
	ns := r.Namespace(ID)
	if ns == nil {
		return nil, nil
	}
	card := VehicleCard{VIN: r.String(p.opts.Field)}
	card.Vehicle, _ = ns["vehicle"].(map[string]any)
	card.Error, _ = ns["error"].(string)
	return card, nil
}
