// Package api exposes the HTTP surface of the triage service: the
// notification webhook the mail provider calls, and the health,
// readiness, and metrics endpoints operators use.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/ignite/phishtriage/internal/config"
	"github.com/ignite/phishtriage/internal/metrics"
	"github.com/ignite/phishtriage/internal/pkg/logger"
	"github.com/ignite/phishtriage/internal/poller"
	"github.com/ignite/phishtriage/internal/queue"
	"github.com/ignite/phishtriage/internal/ratelimit"
	"github.com/ignite/phishtriage/internal/subscription"
)

// Pinger is the readiness probe slice of the cache backend.
type Pinger interface {
	Ping(ctx context.Context) error
}

// LifecycleHandler receives provider lifecycle events extracted from
// webhook notifications.
type LifecycleHandler interface {
	HandleLifecycleEvent(ctx context.Context, event string)
	Snapshot() subscription.State
}

// Server hosts the webhook and operational endpoints.
type Server struct {
	cfg       *config.Config
	queue     *queue.Queue
	lifecycle LifecycleHandler
	registry  *metrics.Registry
	cache     Pinger
	poller    *poller.Poller
	limiter   *ratelimit.Limiter

	server    *http.Server
	startTime time.Time
}

// NewServer wires the HTTP surface. poller and limiter may be nil; their
// stats are then omitted from /metrics.
func NewServer(cfg *config.Config, q *queue.Queue, lifecycle LifecycleHandler,
	registry *metrics.Registry, cachePinger Pinger, p *poller.Poller, limiter *ratelimit.Limiter) *Server {
	s := &Server{
		cfg:       cfg,
		queue:     q,
		lifecycle: lifecycle,
		registry:  registry,
		cache:     cachePinger,
		poller:    p,
		limiter:   limiter,
		startTime: time.Now(),
	}
	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Server.GetHost(), cfg.Server.Port),
		Handler:           s.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

func (s *Server) routes() *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RealIP)
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Post("/webhooks/mail", s.handleWebhook)

	// Operational endpoints are read-only and safe to expose to
	// dashboards on other origins.
	r.Group(func(ops chi.Router) {
		ops.Use(cors.Handler(cors.Options{
			AllowedOrigins: []string{"*"},
			AllowedMethods: []string{"GET"},
			MaxAge:         300,
		}))
		ops.Get("/health", s.handleHealth)
		ops.Get("/ready", s.handleReady)
		ops.Get("/metrics", s.handleMetrics)
	})

	return r
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler { return s.server.Handler }

// Start blocks serving HTTP until Shutdown is called.
func (s *Server) Start() error {
	logger.Info("http server listening", "addr", s.server.Addr)
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown stops accepting connections and drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	logger.Info("http server shutting down")
	return s.server.Shutdown(ctx)
}
