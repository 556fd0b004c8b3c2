package decode

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	xerrors "MotoMind-Vision/internal/errors"
	"MotoMind-Vision/internal/vin"
	"MotoMind-Vision/pkg/logger"
)

const (
	DefaultCacheDuration = time.Hour
	DefaultTimeout       = 10 * time.Second
)

// Options controls provider selection, caching and the call timeout.
type Options struct {
	APIProvider   string        `yaml:"apiProvider" json:"apiProvider"`
	CacheResults  *bool         `yaml:"cacheResults" json:"cacheResults"`
	CacheDuration time.Duration `yaml:"cacheDuration" json:"cacheDuration"`
	Timeout       time.Duration `yaml:"timeout" json:"timeout"`
}

// DefaultOptions returns the offline provider with caching enabled.
func DefaultOptions() Options {
	enabled := true
	return Options{
		APIProvider:   ProviderOffline,
		CacheResults:  &enabled,
		CacheDuration: DefaultCacheDuration,
		Timeout:       DefaultTimeout,
	}
}

func (o *Options) applyDefaults() {
	if o.APIProvider == "" {
		o.APIProvider = ProviderOffline
	}
	if o.CacheResults == nil {
		enabled := true
		o.CacheResults = &enabled
	}
	if o.CacheDuration <= 0 {
		o.CacheDuration = DefaultCacheDuration
	}
	if o.Timeout <= 0 {
		o.Timeout = DefaultTimeout
	}
}

// Caching reports whether results are cached.
func (o Options) Caching() bool {
	return o.CacheResults == nil || *o.CacheResults
}

// Observer receives decode outcomes, typically for metrics.
type Observer interface {
	ObserveDecode(provider, outcome string, elapsed time.Duration)
}

// Outcomes reported to an Observer.
const (
	OutcomeCacheHit = "cache_hit"
	OutcomeSuccess  = "success"
	OutcomeTimeout  = "timeout"
	OutcomeFailure  = "failure"
)

// Decoder resolves VINs through exactly one provider, consulting the cache first.
type Decoder struct {
	provider Provider
	cache    Cache
	opts     Options
	logger   *slog.Logger
	observer Observer
}

// DecoderOption customises a Decoder.
type DecoderOption func(*Decoder)

// WithCache replaces the default in-memory cache.
func WithCache(c Cache) DecoderOption {
	return func(d *Decoder) {
		if c != nil {
			d.cache = c
		}
	}
}

// WithLogger replaces the decoder logger.
func WithLogger(l *slog.Logger) DecoderOption {
	return func(d *Decoder) {
		if l != nil {
			d.logger = l
		}
	}
}

// WithObserver attaches a decode observer.
func WithObserver(o Observer) DecoderOption {
	return func(d *Decoder) {
		d.observer = o
	}
}

// NewDecoder builds a decoder around provider. Without WithCache an in-memory
// LRU cache is created for this decoder alone.
func NewDecoder(provider Provider, opts Options, options ...DecoderOption) (*Decoder, error) {
	if provider == nil {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "decode provider cannot be nil")
	}
	opts.applyDefaults()
	d := &Decoder{provider: provider, opts: opts}
	for _, opt := range options {
		opt(d)
	}
	if d.cache == nil && opts.Caching() {
		cache, err := NewMemoryCache(DefaultCacheSize)
		if err != nil {
			return nil, err
		}
		d.cache = cache
	}
	if d.logger == nil {
		d.logger = logger.Named("decode")
	}
	return d, nil
}

// Options returns the effective options.
func (d *Decoder) Options() Options {
	return d.opts
}

// Provider returns the provider name.
func (d *Decoder) Provider() string {
	return d.provider.Name()
}

// Decode returns the vehicle information for raw. Structurally invalid VINs
// fail with CodeInvalidArgument, a provider call exceeding the timeout with
// CodeDecodeTimeout and any other provider failure with CodeDecodeFailure.
func (d *Decoder) Decode(ctx context.Context, raw string) (vin.DecodedVehicleInfo, error) {
	normalized := vin.Normalize(raw)
	check := vin.ValidateVIN(normalized, vin.Options{AllowLowercase: true})
	if len(check.Errors) > 0 || check.HasIssue(vin.IssueCharacter) {
		return vin.DecodedVehicleInfo{}, xerrors.New(xerrors.CodeInvalidArgument,
			fmt.Sprintf("cannot decode malformed VIN %q", normalized))
	}

	start := time.Now()
	if d.opts.Caching() && d.cache != nil {
		if info, ok := d.cache.Get(ctx, normalized); ok {
			d.observe(OutcomeCacheHit, start)
			return info, nil
		}
	}

	callCtx, cancel := context.WithTimeout(ctx, d.opts.Timeout)
	defer cancel()

	info, err := d.provider.Decode(callCtx, normalized)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(callCtx.Err(), context.DeadlineExceeded) {
			d.observe(OutcomeTimeout, start)
			return vin.DecodedVehicleInfo{}, xerrors.Wrap(xerrors.CodeDecodeTimeout, err, "",
				xerrors.WithMetadata("provider", d.provider.Name()),
				xerrors.WithMetadata("timeout", d.opts.Timeout.String()))
		}
		d.observe(OutcomeFailure, start)
		if _, coded := xerrors.From(err); coded {
			return vin.DecodedVehicleInfo{}, err
		}
		return vin.DecodedVehicleInfo{}, xerrors.Wrap(xerrors.CodeDecodeFailure, err, "",
			xerrors.WithMetadata("provider", d.provider.Name()))
	}

	info = complete(info, normalized, d.provider.Name())
	d.observe(OutcomeSuccess, start)
	if d.opts.Caching() && d.cache != nil {
		d.cache.Set(ctx, normalized, info, d.opts.CacheDuration)
	}
	d.logger.Debug("vin decoded",
		slog.String("provider", info.Source),
		slog.String("wmi", normalized[:3]),
		slog.Duration("elapsed", time.Since(start)),
	)
	return info, nil
}

// complete fills fields every provider can derive from the VIN itself.
func complete(info vin.DecodedVehicleInfo, normalized, source string) vin.DecodedVehicleInfo {
	info.VIN = normalized
	if info.Source == "" {
		info.Source = source
	}
	if info.Year == 0 {
		if year, ok := vin.ModelYear(normalized); ok {
			info.Year = year
		}
	}
	return info
}

func (d *Decoder) observe(outcome string, start time.Time) {
	if d.observer != nil {
		d.observer.ObserveDecode(d.provider.Name(), outcome, time.Since(start))
	}
}
