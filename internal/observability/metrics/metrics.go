// Package metrics exposes Prometheus collectors for plugin hooks, VIN
// decoding, capture sessions and the HTTP API.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"MotoMind-Vision/pkg/plugin"
)

const namespace = "motomind"

// Metrics holds the collectors of one process. It implements the plugin,
// decode and capture observer interfaces.
type Metrics struct {
	registry *prometheus.Registry

	hookDuration *prometheus.HistogramVec
	hookFailures *prometheus.CounterVec

	decodes        *prometheus.CounterVec
	decodeDuration *prometheus.HistogramVec

	captures        *prometheus.CounterVec
	captureAttempts *prometheus.HistogramVec
	captureDuration *prometheus.HistogramVec

	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec
}

// New creates the collectors on a fresh registry together with the Go
// runtime and process collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		hookDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "plugin_hook_duration_seconds",
			Help:      "Duration of plugin hook handler calls.",
			Buckets:   []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		}, []string{"hook", "plugin"}),
		hookFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "plugin_hook_failures_total",
			Help:      "Plugin hook handler calls that returned an error or panicked.",
		}, []string{"hook", "plugin"}),
		decodes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "vin_decodes_total",
			Help:      "VIN decode calls by provider and outcome.",
		}, []string{"provider", "outcome"}),
		decodeDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "vin_decode_duration_seconds",
			Help:      "VIN decode latency including cache lookups.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"provider"}),
		captures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "captures_total",
			Help:      "Finished capture sessions by capture type and outcome.",
		}, []string{"capture_type", "outcome"}),
		captureAttempts: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "capture_attempts",
			Help:      "Attempts used per capture session.",
			Buckets:   []float64{1, 2, 3, 4, 5, 10},
		}, []string{"capture_type"}),
		captureDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "capture_duration_seconds",
			Help:      "Wall time of capture sessions.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"capture_type"}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests processed.",
		}, []string{"handler", "method", "code"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"handler", "method"}),
	}
	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.hookDuration, m.hookFailures,
		m.decodes, m.decodeDuration,
		m.captures, m.captureAttempts, m.captureDuration,
		m.httpRequests, m.httpDuration,
	)
	return m
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// ObserveHook implements plugin.Observer.
func (m *Metrics) ObserveHook(hook plugin.HookName, pluginID string, elapsed time.Duration, err error) {
	m.hookDuration.WithLabelValues(string(hook), pluginID).Observe(elapsed.Seconds())
	if err != nil {
		m.hookFailures.WithLabelValues(string(hook), pluginID).Inc()
	}
}

// ObserveDecode implements decode.Observer.
func (m *Metrics) ObserveDecode(provider, outcome string, elapsed time.Duration) {
	m.decodes.WithLabelValues(provider, outcome).Inc()
	m.decodeDuration.WithLabelValues(provider).Observe(elapsed.Seconds())
}

// ObserveCapture implements capture.Observer.
func (m *Metrics) ObserveCapture(captureType, outcome string, attempts int, elapsed time.Duration) {
	m.captures.WithLabelValues(captureType, outcome).Inc()
	m.captureAttempts.WithLabelValues(captureType).Observe(float64(attempts))
	m.captureDuration.WithLabelValues(captureType).Observe(elapsed.Seconds())
}

// ObserveHTTPRequest records metrics about an HTTP request lifecycle.
func (m *Metrics) ObserveHTTPRequest(handler, method string, status int, duration time.Duration) {
	m.httpRequests.WithLabelValues(handler, method, strconv.Itoa(status)).Inc()
	m.httpDuration.WithLabelValues(handler, method).Observe(duration.Seconds())
}

// Handler exposes the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// StartServer serves /metrics on addr until ctx ends.
func (m *Metrics) StartServer(ctx context.Context, addr string) error {
	if addr == "" {
		return errors.New("metrics address is empty")
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())

	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	errCh := make(chan error, 1)
	go func() {
		defer close(errCh)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		return ctx.Err()
	case err, ok := <-errCh:
		if !ok {
			return nil
		}
		return err
	}
}
