package capture

import (
	"time"

	xerrors "MotoMind-Vision/internal/errors"
	"MotoMind-Vision/pkg/plugin"
)

const (
	DefaultMaxAttempts = 3
	DefaultRetryDelay  = time.Second
	DefaultCeiling     = 10
)

// RetryPolicy decides retries when no on-error handler does. Ceiling bounds
// the attempts of a session even when plugins keep asking for retries.
type RetryPolicy struct {
	MaxAttempts int           `yaml:"maxAttempts"`
	Delay       time.Duration `yaml:"retryDelay"`
	Ceiling     int           `yaml:"ceiling"`
}

// DefaultRetryPolicy retries retryable errors up to three attempts, one second apart.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: DefaultMaxAttempts, Delay: DefaultRetryDelay, Ceiling: DefaultCeiling}
}

func (p RetryPolicy) normalized() RetryPolicy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = DefaultMaxAttempts
	}
	if p.Delay < 0 {
		p.Delay = 0
	}
	if p.Ceiling <= 0 {
		p.Ceiling = DefaultCeiling
	}
	if p.Ceiling < p.MaxAttempts {
		p.Ceiling = p.MaxAttempts
	}
	return p
}

// Decide retries err when it is retryable and attempt is below MaxAttempts.
func (p RetryPolicy) Decide(err error, attempt int) *plugin.RetryDecision {
	p = p.normalized()
	if !xerrors.RetryableError(err) || attempt >= p.MaxAttempts {
		return &plugin.RetryDecision{Retry: false}
	}
	return &plugin.RetryDecision{Retry: true, Delay: p.Delay}
}
