// Package metrics exposes the Prometheus registry used by activity-export and
// the small HTTP server that publishes it during a run.
// All metrics are defined in their respective packages (client, auth, cache,
// ratelimit, pagination, scheduler, sink) to maintain modularity and avoid
// circular dependencies.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// Registry is the default Prometheus registry used by activity-export.
// All metrics are automatically registered via promauto in their respective packages.
var Registry = prometheus.DefaultRegisterer

// Metrics Documentation
//
// Request Metrics (pkg/client):
//   - activity_requests_total{endpoint, status} (Counter): Requests by endpoint and HTTP status
//   - activity_request_duration_seconds{endpoint} (Histogram): Request duration by endpoint
//   - activity_errors_total{class} (Counter): Errors by class (client, server, rate_limit, network, decode)
//
// Auth Metrics (pkg/auth):
//   - activity_auth_requests_total{kind, result} (Counter): Token requests (login, reauth)
//
// Rate Limit Metrics (pkg/ratelimit):
//   - activity_rate_limit_admissions_total (Counter): Requests admitted
//   - activity_rate_limit_waits_total (Counter): Admissions that had to wait for a new window
//   - activity_rate_limit_wait_seconds (Histogram): Time spent waiting
//   - activity_rate_limit_window_count (Gauge): Requests counted in the current window
//
// Cache Metrics (pkg/cache):
//   - activity_cache_lookups_total{result} (Counter): Category cache lookups (hit, miss, stale)
//   - activity_cache_errors_total{operation} (Counter): Cache operation errors
//   - activity_cache_stored_bytes (Gauge): Size of the last stored listing
//
// Fetch Metrics (pkg/pagination):
//   - activity_window_outcomes_total{granularity, state} (Counter): Terminal window states
//   - activity_page_retries_total (Counter): Network retries
//   - activity_reauthentications_total{result} (Counter): Reauthentications after 403
//   - activity_events_fetched_total (Counter): Events received
//
// Scheduler Metrics (pkg/scheduler):
//   - activity_minute_fallbacks_total (Counter): Hours re-fetched minute by minute
//
// Sink Metrics (pkg/sink):
//   - activity_sink_writes_total{sink, result} (Counter): Hour batches written
//   - activity_sink_events_total{sink} (Counter): Events written
//
// Example Prometheus Queries:
//
//   # Fallback ratio
//   rate(activity_minute_fallbacks_total[1h]) /
//   sum(rate(activity_window_outcomes_total{granularity="hour"}[1h]))
//
//   # Aborted windows
//   sum by (granularity) (activity_window_outcomes_total{state="ABORTED"})
//
//   # P95 page latency
//   histogram_quantile(0.95, rate(activity_request_duration_seconds_bucket[5m]))

// Server serves /metrics and /health while a run is in progress.
type Server struct {
	router *chi.Mux
	server *http.Server
	addr   string
	logger zerolog.Logger
}

// NewServer creates a metrics server listening on addr.
func NewServer(addr string, logger zerolog.Logger) *Server {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/health", healthHandler)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	return &Server{
		router: r,
		addr:   addr,
		logger: logger,
	}
}

// Start serves in the background until Shutdown. Listener errors other than
// a normal close are logged.
func (s *Server) Start() {
	s.server = &http.Server{
		Addr:         s.addr,
		Handler:      s.router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	s.logger.Info().Str("addr", s.addr).Msg("Starting metrics server")
	go func() {
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error().Err(err).Str("addr", s.addr).Msg("Metrics server failed")
		}
	}()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	s.logger.Info().Msg("Shutting down metrics server")
	return s.server.Shutdown(ctx)
}

// Handler exposes the router for testing.
func (s *Server) Handler() http.Handler {
	return s.router
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}
