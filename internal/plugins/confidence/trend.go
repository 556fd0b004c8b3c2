package confidence

import "sync"

// Trend is the direction of recent confidence samples.
type Trend string

const (
	TrendImproving Trend = "improving"
	TrendDeclining Trend = "declining"
	TrendStable    Trend = "stable"
)

const (
	trendCapacity = 10
	trendWindow   = 3
	trendBand     = 0.05
)

// TrendTracker keeps the last ten samples of one capture session.
type TrendTracker struct {
	mu      sync.Mutex
	samples []float64
}

// NewTrendTracker returns an empty tracker.
func NewTrendTracker() *TrendTracker {
	return &TrendTracker{samples: make([]float64, 0, trendCapacity)}
}

// Add records a sample, evicting the oldest beyond capacity.
func (t *TrendTracker) Add(v float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.samples) == trendCapacity {
		copy(t.samples, t.samples[1:])
		t.samples = t.samples[:trendCapacity-1]
	}
	t.samples = append(t.samples, v)
}

// Trend compares the first and last sample of the three most recent ones.
func (t *TrendTracker) Trend() Trend {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.samples) < trendWindow {
		return TrendStable
	}
	window := t.samples[len(t.samples)-trendWindow:]
	delta := window[len(window)-1] - window[0]
	switch {
	case delta > trendBand:
		return TrendImproving
	case delta < -trendBand:
		return TrendDeclining
	default:
		return TrendStable
	}
}

// Samples returns a copy, oldest first.
func (t *TrendTracker) Samples() []float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]float64(nil), t.samples...)
}

// Reset drops every sample.
func (t *TrendTracker) Reset() {
	t.mu.Lock()
	t.samples = t.samples[:0]
	t.mu.Unlock()
}
