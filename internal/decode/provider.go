package decode

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"MotoMind-Vision/internal/vin"
)

// Provider names accepted by Options.APIProvider.
const (
	ProviderNHTSA   = "nhtsa"
	ProviderOffline = "offline"
	ProviderMock    = "mock"
)

// Provider performs one VIN lookup. VINs passed in are already normalized.
type Provider interface {
	Name() string
	Decode(ctx context.Context, v string) (vin.DecodedVehicleInfo, error)
}

// ProviderConfig carries the settings of every provider kind.
type ProviderConfig struct {
	NHTSABaseURL string
	HTTPClient   *http.Client
	WMI          vin.WMISource
	MockLatency  time.Duration
	MockFixtures map[string]vin.DecodedVehicleInfo
}

// NewProvider builds the provider selected by name.
func NewProvider(name string, cfg ProviderConfig) (Provider, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case ProviderNHTSA:
		return NewNHTSAProvider(cfg.NHTSABaseURL, cfg.HTTPClient), nil
	case ProviderOffline, "":
		return NewOfflineProvider(cfg.WMI), nil
	case ProviderMock:
		return &MockProvider{Latency: cfg.MockLatency, Fixtures: cfg.MockFixtures}, nil
	default:
		return nil, fmt.Errorf("unknown decode provider %q", name)
	}
}

// OfflineProvider decodes from the WMI and model year tables with no network access.
type OfflineProvider struct {
	wmi vin.WMISource
}

// NewOfflineProvider uses source for manufacturer lookups, or the built-in
// sample table when source is nil.
func NewOfflineProvider(source vin.WMISource) *OfflineProvider {
	if source == nil {
		source = vin.DefaultTable()
	}
	return &OfflineProvider{wmi: source}
}

// Name implements Provider.
func (*OfflineProvider) Name() string { return ProviderOffline }

// Decode implements Provider. Unknown manufacturers leave the fields empty.
func (p *OfflineProvider) Decode(ctx context.Context, v string) (vin.DecodedVehicleInfo, error) {
	info := vin.DecodedVehicleInfo{VIN: v, Source: ProviderOffline}
	m, err := p.wmi.LookupWMI(ctx, v[:3])
	if err != nil {
		return info, fmt.Errorf("lookup wmi %s: %w", v[:3], err)
	}
	info.Manufacturer = m.Name
	info.Country = m.Country
	info.Region = m.Region
	if year, ok := vin.ModelYear(v); ok {
		info.Year = year
	}
	info.Extras = map[string]string{
		"plantCode":    vin.PlantCode(v),
		"serialNumber": vin.SerialNumber(v),
	}
	return info, nil
}

// MockProvider returns fixtures after a simulated latency and counts calls.
type MockProvider struct {
	Latency  time.Duration
	Fixtures map[string]vin.DecodedVehicleInfo
	Err      error

	calls atomic.Int64
}

// Name implements Provider.
func (*MockProvider) Name() string { return ProviderMock }

// Calls returns how many lookups reached the provider.
func (p *MockProvider) Calls() int64 { return p.calls.Load() }

// Decode implements Provider. VINs without a fixture decode to the model year only.
func (p *MockProvider) Decode(ctx context.Context, v string) (vin.DecodedVehicleInfo, error) {
	p.calls.Add(1)
	if p.Latency > 0 {
		timer := time.NewTimer(p.Latency)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return vin.DecodedVehicleInfo{}, ctx.Err()
		case <-timer.C:
		}
	}
	if p.Err != nil {
		return vin.DecodedVehicleInfo{}, p.Err
	}
	if info, ok := p.Fixtures[v]; ok {
		info.VIN = v
		info.Source = ProviderMock
		return info, nil
	}
	return vin.DecodedVehicleInfo{VIN: v, Source: ProviderMock}, nil
}
