package http

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Sentinel-Gate/sentinel-agent/internal/domain/policy"
)

// DefaultAddr is the loopback address of the status listener.
const DefaultAddr = "127.0.0.1:9464"

// StatusServer is the inbound adapter serving health, metrics,
// observation intake and the access prompt endpoints.
type StatusServer struct {
	sink           ObservationSink
	addr           string
	allowedOrigins []string
	logger         *slog.Logger
	registry       *prometheus.Registry
	metrics        *Metrics
	healthChecker  *HealthChecker
	prompts        *PromptBroker
	notifications  *NotificationLog
	intakeAuth     *IntakeAuth

	server *http.Server
}

// Option is a functional option for configuring StatusServer.
type Option func(*StatusServer)

// WithAddr sets the listen address. Default is DefaultAddr.
func WithAddr(addr string) Option {
	return func(s *StatusServer) {
		s.addr = addr
	}
}

// WithAllowedOrigins sets the browser origins allowed to call the listener.
func WithAllowedOrigins(origins []string) Option {
	return func(s *StatusServer) {
		s.allowedOrigins = origins
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *StatusServer) {
		s.logger = logger
	}
}

// WithRegistry sets the registry served on /metrics. Without one, a
// registry with the Go and process collectors is created.
func WithRegistry(reg *prometheus.Registry) Option {
	return func(s *StatusServer) {
		s.registry = reg
	}
}

// WithHealthChecker sets the health checker for the /health endpoint.
func WithHealthChecker(hc *HealthChecker) Option {
	return func(s *StatusServer) {
		s.healthChecker = hc
	}
}

// WithPromptBroker enables the justification prompt endpoints.
func WithPromptBroker(b *PromptBroker) Option {
	return func(s *StatusServer) {
		s.prompts = b
	}
}

// WithNotificationLog enables the notifications endpoint.
func WithNotificationLog(l *NotificationLog) Option {
	return func(s *StatusServer) {
		s.notifications = l
	}
}

// WithIntakeAuth sets the token verifier for the /v1 routes. Without one,
// those routes reject every request.
func WithIntakeAuth(a *IntakeAuth) Option {
	return func(s *StatusServer) {
		s.intakeAuth = a
	}
}

// NewStatusServer creates a status listener feeding observations to sink.
func NewStatusServer(sink ObservationSink, opts ...Option) *StatusServer {
	s := &StatusServer{
		sink:           sink,
		addr:           DefaultAddr,
		allowedOrigins: []string{},
		logger:         slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}

	if s.registry == nil {
		s.registry = prometheus.NewRegistry()
		s.registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}
	s.metrics = NewMetrics(s.registry)
	if s.prompts != nil {
		s.prompts.metrics = s.metrics
	}
	return s
}

// Handler builds the routed handler.
//
// Middleware order (outermost first): RequestLogger, RejectForeignOrigins, Metrics.
// Metrics sits directly on the mux so it sees the matched pattern;
// requests rejected for their Origin are not counted.
func (s *StatusServer) Handler() http.Handler {
	mux := http.NewServeMux()

	if s.healthChecker != nil {
		mux.Handle("GET /health", s.healthChecker.Handler())
	} else {
		mux.Handle("GET /health", healthHandler())
	}
	mux.Handle("GET /metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{
		Registry: s.registry,
	}))

	// All /v1 routes require the intake token; health and metrics stay open.
	intake := RequireIntakeToken(s.intakeAuth)
	if s.sink != nil {
		mux.Handle("POST /v1/observations/process", intake(observationHandler[processObservationDTO](policy.KindProcess, s.sink, s.metrics)))
		mux.Handle("POST /v1/observations/file", intake(observationHandler[fileObservationDTO](policy.KindFile, s.sink, s.metrics)))
		mux.Handle("POST /v1/observations/url", intake(observationHandler[urlObservationDTO](policy.KindURL, s.sink, s.metrics)))
	}
	if s.prompts != nil {
		mux.Handle("GET /v1/access/prompts", intake(s.prompts.listHandler()))
		mux.Handle("POST /v1/access/prompts/{id}", intake(s.prompts.answerHandler()))
	}
	if s.notifications != nil {
		mux.Handle("GET /v1/access/notifications", intake(s.notifications.handler()))
	}

	handler := MetricsMiddleware(s.metrics)(mux)
	handler = RejectForeignOrigins(s.allowedOrigins)(handler)
	handler = RequestLogger(s.logger)(handler)
	return handler
}

// Start serves until ctx is canceled or the listener fails.
func (s *StatusServer) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx is canceled.
func (s *StatusServer) Serve(ctx context.Context, ln net.Listener) error {
	s.server = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("starting status listener", "addr", ln.Addr().String())
		err := s.server.Serve(ln)
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("context cancelled, shutting down status listener")
		return s.shutdown()
	case err := <-errCh:
		return err
	}
}

func (s *StatusServer) shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := s.server.Shutdown(ctx); err != nil {
		s.logger.Error("error during status listener shutdown", "error", err)
		return err
	}
	s.logger.Info("status listener shutdown complete")
	return nil
}

// healthHandler answers when no checker is configured.
func healthHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, HealthResponse{Status: "healthy", Checks: map[string]string{}})
	})
}
