// Package confidence scores capture results against per capture type
// thresholds and drives the low-confidence retry state machine.
package confidence

import (
	"fmt"
	"time"

	"MotoMind-Vision/pkg/plugin"
)

const (
	DefaultMinConfidence = 0.85
	DefaultMaxRetries    = 3
	DefaultRetryDelay    = time.Second
)

// Options configures scoring. A zero MinConfidence or MaxRetries means the default.
type Options struct {
	MinConfidence float64            `yaml:"minConfidence" json:"minConfidence"`
	Thresholds    map[string]float64 `yaml:"thresholds" json:"thresholds"`
	MaxRetries    int                `yaml:"maxRetries" json:"maxRetries"`
	StrictMode    bool               `yaml:"strictMode" json:"strictMode"`
	RetryDelay    time.Duration      `yaml:"retryDelay" json:"retryDelay"`
}

// Threshold resolves the threshold for captureType: per type override, then
// MinConfidence, then DefaultMinConfidence.
func (o Options) Threshold(captureType string) float64 {
	if t, ok := o.Thresholds[captureType]; ok {
		return t
	}
	if o.MinConfidence > 0 {
		return o.MinConfidence
	}
	return DefaultMinConfidence
}

func (o Options) maxRetries() int {
	if o.MaxRetries > 0 {
		return o.MaxRetries
	}
	return DefaultMaxRetries
}

func (o Options) retryDelay() time.Duration {
	if o.RetryDelay > 0 {
		return o.RetryDelay
	}
	return DefaultRetryDelay
}

// State is the per document position in the retry loop.
type State string

const (
	StatePending        State = "pending"
	StatePassed         State = "passed"
	StateFailedRetry    State = "failed-retry"
	StateFailedTerminal State = "failed-terminal"
)

// Check is the outcome of scoring one attempt.
type Check struct {
	Passed      bool    `json:"passed"`
	Confidence  float64 `json:"confidence"`
	Threshold   float64 `json:"threshold"`
	Attempt     int     `json:"attempt"`
	ShouldRetry bool    `json:"shouldRetry"`
	Message     string  `json:"message"`
}

// State maps the check onto the retry state machine.
func (c Check) State() State {
	switch {
	case c.Passed:
		return StatePassed
	case c.ShouldRetry:
		return StateFailedRetry
	default:
		return StateFailedTerminal
	}
}

// CheckConfidence scores r for the given attempt (1-based) and capture type.
// A nil result scores as zero confidence.
func CheckConfidence(r *plugin.CaptureResult, opts Options, attempt int, captureType string) Check {
	var confidence float64
	if r != nil {
		confidence = r.Confidence
	}
	threshold := opts.Threshold(captureType)
	c := Check{
		Confidence: confidence,
		Threshold:  threshold,
		Attempt:    attempt,
		Passed:     confidence >= threshold,
	}
	c.ShouldRetry = !c.Passed && !opts.StrictMode && attempt < opts.maxRetries()

	switch c.State() {
	case StatePassed:
		c.Message = fmt.Sprintf("confidence %.0f%% meets the %.0f%% threshold", confidence*100, threshold*100)
	case StateFailedRetry:
		c.Message = fmt.Sprintf("confidence %.0f%% is below %.0f%%, hold the camera steady and try again (attempt %d of %d)",
			confidence*100, threshold*100, attempt, opts.maxRetries())
	default:
		c.Message = fmt.Sprintf("confidence %.0f%% is below %.0f%% after %d attempts", confidence*100, threshold*100, attempt)
	}
	return c
}
