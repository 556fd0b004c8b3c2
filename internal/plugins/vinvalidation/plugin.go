// Package vinvalidation validates VIN captures with the ISO 3779 rules of
// package vin and blocks results that fail them.
package vinvalidation

import (
	"context"
	"strings"

	xerrors "MotoMind-Vision/internal/errors"
	"MotoMind-Vision/internal/vin"
	"MotoMind-Vision/pkg/plugin"
)

// ID is the plugin id and metadata namespace.
const ID = "vin-validation"

// Options configures the plugin. The embedded vin.Options keep their defaults
// when the plugin is built with DefaultOptions.
type Options struct {
	vin.Options `yaml:",inline"`
	// Field is the Data key holding the VIN. Defaults to "vin".
	Field string `yaml:"field"`
	// CaptureTypes opts capture types into validation. Defaults to ["vin"].
	CaptureTypes []string `yaml:"captureTypes"`
}

// DefaultOptions validates Data["vin"] of "vin" captures with vin.DefaultOptions.
func DefaultOptions() Options {
	return Options{Options: vin.DefaultOptions(), Field: "vin", CaptureTypes: []string{"vin"}}
}

// Summary is the node produced by the render-result hook.
type Summary struct {
	VIN      string   `json:"vin"`
	Valid    bool     `json:"valid"`
	Errors   []string `json:"errors,omitempty"`
	Warnings []string `json:"warnings,omitempty"`
}

// Plugin validates the VIN field of applicable captures.
type Plugin struct {
	opts Options
}

// New creates the plugin, filling an empty Field or CaptureTypes with defaults.
func New(opts Options) *Plugin {
	def := DefaultOptions()
	if opts.Field == "" {
		opts.Field = def.Field
	}
	if len(opts.CaptureTypes) == 0 {
		opts.CaptureTypes = def.CaptureTypes
	}
	return &Plugin{opts: opts}
}

// Factory builds the plugin from a configuration block. Unset keys keep the
// values of DefaultOptions.
func Factory(cfg map[string]any) (plugin.Plugin, error) {
	return NewFactory(DefaultOptions())(cfg)
}

// NewFactory returns a factory whose configuration blocks override defaults.
func NewFactory(defaults Options) plugin.Factory {
	return func(cfg map[string]any) (plugin.Plugin, error) {
		opts := defaults
		opts.CaptureTypes = append([]string(nil), defaults.CaptureTypes...)
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
		Name:        "VIN validation",
		Description: "ISO 3779 structure and check digit validation",
		Author:      "MotoMind",
		Version:     "1.0.0",
		Category:    plugin.TypeValidator,
	}
}

// Hooks implements plugin.Plugin.
func (p *Plugin) Hooks() plugin.Hooks {
	return plugin.Hooks{
		TransformResult: p.normalize,
		ValidateResult:  p.validate,
		RenderResult:    p.render,
	}
}

func (p *Plugin) Init(*plugin.ExecutionContext) error    { return nil }
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

// normalize trims and uppercases the VIN in place. Lowercase input is left
// untouched when lowercase is not allowed so validation can reject it.
func (p *Plugin) normalize(_ context.Context, pc *plugin.Context, r *plugin.CaptureResult) (*plugin.CaptureResult, error) {
	if !p.applies(pc) || r == nil {
		return nil, nil
	}
	raw, ok := r.Data[p.opts.Field].(string)
	if !ok {
		return nil, nil
	}
	if !p.opts.AllowLowercase {
		r.Data[p.opts.Field] = strings.TrimSpace(raw)
		return nil, nil
	}
	r.Data[p.opts.Field] = vin.Normalize(raw)
	return nil, nil
}

func (p *Plugin) validate(_ context.Context, pc *plugin.Context, r *plugin.CaptureResult) (bool, error) {
	if !p.applies(pc) {
		return true, nil
	}
	raw := r.String(p.opts.Field)
	res := vin.ValidateVIN(raw, p.opts.Options)
	// Illegal characters fail the attempt even when ValidateVIN only warns.
	badChar := firstIssue(res, vin.IssueCharacter)
	valid := res.Valid && badChar == nil

	for key, value := range map[string]any{
		"valid":      valid,
		"normalized": res.Normalized,
		"errors":     messages(res.Errors),
		"warnings":   messages(res.Warnings),
	} {
		if err := r.Set(key, value); err != nil {
			return false, err
		}
	}
	if valid {
		return true, nil
	}
	if badChar != nil {
		return false, xerrors.New(xerrors.CodeValidationFailed, badChar.Message, xerrors.WithMetadata("vin", res.Normalized))
	}

	code := xerrors.CodeValidationFailed
	if p.opts.StrictMode && res.HasIssue(vin.IssueCheckDigit) && len(res.Errors) == 1 {
		code = xerrors.CodeCheckDigitMismatch
	}
	msg := "invalid VIN"
	if len(res.Errors) > 0 {
		msg = res.Errors[0].Message
	} else if len(res.Warnings) > 0 {
		msg = res.Warnings[0].Message
	}
	return false, xerrors.New(code, msg, xerrors.WithMetadata("vin", res.Normalized))
}

func (p *Plugin) render(pc *plugin.Context, r *plugin.CaptureResult) (plugin.Node, error) {
	if !p.applies(pc) || r == nil {
		return nil, nil
	}
	ns := r.Namespace(ID)
	if ns == nil {
		return nil, nil
	}
	s := Summary{VIN: r.String(p.opts.Field)}
	s.Valid, _ = ns["valid"].(bool)
	s.Errors, _ = ns["errors"].([]string)
	s.Warnings, _ = ns["warnings"].([]string)
	return s, nil
}

func firstIssue(res vin.Result, kind vin.IssueKind) *vin.Issue {
	for _, list := range [][]vin.Issue{res.Errors, res.Warnings} {
		for i := range list {
			if list[i].Kind == kind {
				return &list[i]
			}
		}
	}
	return nil
}

func messages(issues []vin.Issue) []string {
	out := make([]string, 0, len(issues))
	for _, issue := range issues {
		out = append(out, issue.Message)
	}
	return out
}
