package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"MotoMind-Vision/internal/capture"
	"MotoMind-Vision/internal/events"
	"MotoMind-Vision/internal/observability/metrics"
	"MotoMind-Vision/internal/vin"
	"MotoMind-Vision/pkg/logger"
)

// Decoder resolves a VIN to vehicle attributes.
type Decoder interface {
	Decode(ctx context.Context, raw string) (vin.DecodedVehicleInfo, error)
	Provider() string
}

// EventSource lists recently published capture events.
type EventSource interface {
	Recent(n int) []events.CaptureEvent
}

// HealthCheck reports whether one dependency is reachable.
type HealthCheck func(ctx context.Context) error

// Server exposes the REST interface.
type Server struct {
	addr            string
	sessions        capture.ManagerFactory
	decoder         Decoder
	validation      vin.Options
	hostOptions     []capture.Option
	concurrency     int
	events          EventSource
	checks          map[string]HealthCheck
	metrics         *metrics.Metrics
	logger          *slog.Logger
	readTimeout     time.Duration
	writeTimeout    time.Duration
	shutdownTimeout time.Duration
}

// Option customises a Server.
type Option func(*Server)

// WithDecoder enables the decode endpoint.
func WithDecoder(d Decoder) Option {
	return func(s *Server) { s.decoder = d }
}

// WithValidation sets the options of the validate endpoint.
func WithValidation(opts vin.Options) Option {
	return func(s *Server) { s.validation = opts }
}

// WithHostOptions apply to every capture session started through the API.
func WithHostOptions(opts ...capture.Option) Option {
	return func(s *Server) { s.hostOptions = append(s.hostOptions, opts...) }
}

// WithBatchConcurrency bounds the sessions of one batch request.
func WithBatchConcurrency(n int) Option {
	return func(s *Server) { s.concurrency = n }
}

// WithEvents enables the events endpoint.
func WithEvents(src EventSource) Option {
	return func(s *Server) { s.events = src }
}

// WithHealthCheck adds a named dependency check to /healthz.
func WithHealthCheck(name string, check HealthCheck) Option {
	return func(s *Server) {
		if check != nil {
			s.checks[name] = check
		}
	}
}

// WithMetrics instruments every route and serves /metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// WithLogger sets the server logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithTimeouts sets the HTTP server timeouts. Zero values keep the defaults.
func WithTimeouts(read, write, shutdown time.Duration) Option {
	return func(s *Server) {
		if read > 0 {
			s.readTimeout = read
		}
		if write > 0 {
			s.writeTimeout = write
		}
		if shutdown > 0 {
			s.shutdownTimeout = shutdown
		}
	}
}

// NewServer constructs the API server. sessions builds the plugin manager of
// each capture session.
func NewServer(addr string, sessions capture.ManagerFactory, opts ...Option) *Server {
	s := &Server{
		addr:            addr,
		sessions:        sessions,
		validation:      vin.DefaultOptions(),
		concurrency:     capture.DefaultBatchConcurrency,
		checks:          map[string]HealthCheck{},
		readTimeout:     15 * time.Second,
		writeTimeout:    60 * time.Second,
		shutdownTimeout: 10 * time.Second,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	if s.logger == nil {
		s.logger = logger.Named("api")
	}
	return s
}

// Handler returns the routed and instrumented handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.route(mux, "POST /api/v1/vin/validate", "vin_validate", s.handleValidate)
	s.route(mux, "GET /api/v1/vin/{vin}/decode", "vin_decode", s.handleDecode)
	s.route(mux, "POST /api/v1/captures", "capture", s.handleCapture)
	s.route(mux, "POST /api/v1/captures/batch", "capture_batch", s.handleBatch)
	s.route(mux, "GET /api/v1/events", "events", s.handleEvents)
	s.route(mux, "GET /healthz", "healthz", s.handleHealth)
	if s.metrics != nil {
		mux.Handle("GET /metrics", s.metrics.Handler())
	}
	return mux
}

func (s *Server) route(mux *http.ServeMux, pattern, name string, h http.HandlerFunc) {
	mux.Handle(pattern, s.instrument(name, h))
}

// Start serves HTTP until ctx is cancelled or the listener fails.
func (s *Server) Start(ctx context.Context) error {
	server := &http.Server{
		Addr:              s.addr,
		Handler:           withContext(ctx, s.Handler()),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       s.readTimeout,
		WriteTimeout:      s.writeTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()
	s.logger.Info("api server listening", slog.String("addr", s.addr))

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			s.logger.Warn("api server shutdown", slog.Any("error", err))
		}
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *Server) instrument(name string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		elapsed := time.Since(start)
		if s.metrics != nil {
			s.metrics.ObserveHTTPRequest(name, r.Method, rec.status, elapsed)
		}
		s.logger.Debug("http request",
			slog.String("handler", name),
			slog.String("method", r.Method),
			slog.Int("status", rec.status),
			slog.Duration("elapsed", elapsed),
		)
	})
}

// withContext rejects requests once the root context is cancelled.
func withContext(ctx context.Context, handler http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-ctx.Done():
			writeError(w, http.StatusServiceUnavailable, "UNAVAILABLE", "server is shutting down")
			return
		default:
		}
		handler.ServeHTTP(w, r)
	})
}
