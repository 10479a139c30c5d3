// Package http exposes the engine over a JSON REST API. Write operations go
// through the command coordinator, reads through the query service, and live
// aggregate updates are streamed as server-sent events.
package http

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/housecup/points-engine/internal/application/command"
	"github.com/housecup/points-engine/internal/application/query"
	"github.com/housecup/points-engine/internal/application/subscription"
	"github.com/housecup/points-engine/internal/infrastructure/scheduler"
	"github.com/housecup/points-engine/pkg/apierror"
	"github.com/housecup/points-engine/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// SERVER CONFIGURATION
// ══════════════════════════════════════════════════════════════════════════════

// Config contains HTTP server configuration.
type Config struct {
	Host string
	Port int

	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	IdleTimeout    time.Duration
	MaxHeaderBytes int

	// ShutdownTimeout bounds graceful shutdown.
	ShutdownTimeout time.Duration

	EnableCORS     bool
	AllowedOrigins []string

	EnableMetrics bool

	// APIKeys, when non-empty, are required on every /api route in the
	// APIKeyHeader header.
	APIKeyHeader string
	APIKeys      []string

	// StreamHeartbeat is the interval of SSE keep-alive comments.
	StreamHeartbeat time.Duration
}

// DefaultConfig returns default server configuration. WriteTimeout is zero
// because event streams stay open.
func DefaultConfig() Config {
	return Config{
		Host:            "0.0.0.0",
		Port:            8080,
		ReadTimeout:     15 * time.Second,
		IdleTimeout:     60 * time.Second,
		MaxHeaderBytes:  1 << 20,
		ShutdownTimeout: 15 * time.Second,
		EnableCORS:      true,
		AllowedOrigins:  []string{"*"},
		EnableMetrics:   true,
		APIKeyHeader:    "X-API-Key",
		StreamHeartbeat: 15 * time.Second,
	}
}

// Address returns the server address string.
func (c Config) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// ══════════════════════════════════════════════════════════════════════════════
// DEPENDENCIES
// ══════════════════════════════════════════════════════════════════════════════

// JobRunner is the part of the scheduler exposed to admins.
type JobRunner interface {
	RunNow(ctx context.Context, name string) (scheduler.JobResult, error)
	ListJobs() []scheduler.JobInfo
}

// Dependencies contains everything the handlers call.
type Dependencies struct {
	Commands *command.Coordinator
	Queries  *query.Service

	// Hub serves /api/v1/stream. Nil disables streaming.
	Hub *subscription.Hub

	// Jobs serves the admin job endpoints. Nil disables them.
	Jobs JobRunner

	// Health backs /health and /ready. Nil reports healthy.
	Health *Health

	Logger *slog.Logger
}

// ══════════════════════════════════════════════════════════════════════════════
// SERVER
// ══════════════════════════════════════════════════════════════════════════════

// Server is the HTTP front of the engine.
type Server struct {
	config     Config
	deps       Dependencies
	logger     *slog.Logger
	router     chi.Router
	httpServer *http.Server

	mu        sync.RWMutex
	running   bool
	startedAt time.Time
}

// NewServer builds the router and the underlying http.Server.
func NewServer(config Config, deps Dependencies) *Server {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Health == nil {
		deps.Health = NewHealth("", 0)
	}
	if config.StreamHeartbeat <= 0 {
		config.StreamHeartbeat = 15 * time.Second
	}
	s := &Server{
		config: config,
		deps:   deps,
		logger: deps.Logger.With(logger.Component("http")),
	}
	s.router = s.routes()
	s.httpServer = &http.Server{
		Addr:              config.Address(),
		Handler:           s.router,
		ReadTimeout:       config.ReadTimeout,
		ReadHeaderTimeout: config.ReadTimeout,
		WriteTimeout:      config.WriteTimeout,
		IdleTimeout:       config.IdleTimeout,
		MaxHeaderBytes:    config.MaxHeaderBytes,
	}
	return s
}

// Handler returns the root handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.router
}

// ══════════════════════════════════════════════════════════════════════════════
// ROUTING
// ══════════════════════════════════════════════════════════════════════════════

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(requestLogger(s.logger))
	r.Use(recoverer)
	if s.config.EnableCORS {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   s.config.AllowedOrigins,
			AllowedMethods:   []string{"GET", "POST", "PUT", "OPTIONS"},
			AllowedHeaders:   []string{"Accept", "Content-Type", HeaderCallerID, HeaderCallerRole, s.config.APIKeyHeader, chimw.RequestIDHeader},
			ExposedHeaders:   []string{chimw.RequestIDHeader, "Retry-After"},
			AllowCredentials: false,
			MaxAge:           300,
		}))
	}

	// ─────────────────────────────────────────────────────────────────────────
	// Health & Status
	// ─────────────────────────────────────────────────────────────────────────
	r.Get("/health", s.handleHealth)
	r.Get("/ready", s.handleReady)
	r.Get("/live", s.handleLive)
	if s.config.EnableMetrics {
		r.Handle("/metrics", promhttp.Handler())
	}

	r.Route("/api/v1", func(r chi.Router) {
		if len(s.config.APIKeys) > 0 {
			r.Use(requireAPIKey(s.config.APIKeyHeader, s.config.APIKeys))
		}
		r.Use(withCaller)

		// ─── Ledger ──────────────────────────────────────────────────────────
		r.Route("/awards", func(r chi.Router) {
			r.Post("/", s.handleAwardPoints)
			r.Get("/", s.handleAwardHistory)
		})
		r.Route("/purchases", func(r chi.Router) {
			r.Post("/", s.handlePurchaseItem)
			r.Get("/", s.handlePurchaseHistory)
			r.Get("/{purchaseID}", s.handleGetPurchase)
			r.Post("/{purchaseID}/fulfill", s.handleFulfillPurchase)
			r.Post("/{purchaseID}/cancel", s.handleCancelPurchase)
		})

		// ─── Catalog ─────────────────────────────────────────────────────────
		r.Route("/houses", func(r chi.Router) {
			r.Get("/", s.handleListHouses)
			r.Post("/", s.handleCreateHouse)
			r.Get("/{houseID}", s.handleGetHouse)
			r.Get("/{houseID}/stats", s.handleHouseStats)
			r.Get("/{houseID}/contributors", s.handleTopContributors)
		})
		r.Route("/accounts", func(r chi.Router) {
			r.Get("/", s.handleListAccounts)
			r.Get("/{accountID}", s.handleGetAccount)
			r.Put("/{accountID}", s.handleUpsertProfile)
			r.Get("/{accountID}/rank", s.handleStudentRank)
		})
		r.Route("/items", func(r chi.Router) {
			r.Get("/", s.handleListItems)
			r.Get("/{itemID}", s.handleGetItem)
			r.Put("/{itemID}/active", s.handleSetItemActive)
		})
		r.Route("/shop-requests", func(r chi.Router) {
			r.Get("/", s.handleListShopRequests)
			r.Post("/", s.handleSubmitShopRequest)
			r.Get("/{requestID}", s.handleGetShopRequest)
			r.Post("/{requestID}/approve", s.handleApproveShopRequest)
			r.Post("/{requestID}/reject", s.handleRejectShopRequest)
		})

		// ─── Rankings & reports ──────────────────────────────────────────────
		r.Get("/leaderboard/houses", s.handleHouseLeaderboard)
		r.Get("/leaderboard/students", s.handleStudentLeaderboard)
		r.Route("/reports", func(r chi.Router) {
			r.Get("/top-students", s.handleTopStudents)
			r.Get("/top-purchasers", s.handleTopPurchasers)
			r.Get("/teacher-activity", s.handleTeacherActivity)
		})
		r.Get("/audit", s.handleAudit)

		// ─── Live updates ────────────────────────────────────────────────────
		r.Get("/stream", s.handleStream)

		// ─── Admin ───────────────────────────────────────────────────────────
		r.Route("/admin/jobs", func(r chi.Router) {
			r.Get("/", s.handleListJobs)
			r.Post("/{jobName}/run", s.handleRunJob)
		})
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		apierror.NotFound("Route not found").Write(w)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		apierror.NewError(http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed").Write(w)
	})
	return r
}

// ══════════════════════════════════════════════════════════════════════════════
// SERVER LIFECYCLE
// ══════════════════════════════════════════════════════════════════════════════

// ErrServerRunning is returned by Start on a running server.
var ErrServerRunning = errors.New("http server already running")

// Start listens and serves until Shutdown. It returns nil after a graceful
// shutdown.
func (s *Server) Start() error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return ErrServerRunning
	}
	s.running = true
	s.startedAt = time.Now()
	s.mu.Unlock()

	s.logger.Info("starting HTTP server", slog.String("address", s.config.Address()))
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}

// Run serves until ctx is done, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() { errCh <- s.Start() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.config.ShutdownTimeout)
	defer cancel()
	if err := s.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return <-errCh
}

// Shutdown stops accepting connections and waits for in-flight requests.
// Open event streams end when their request context is cancelled.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	s.mu.Unlock()

	s.logger.Info("shutting down HTTP server")
	if s.deps.Hub != nil {
		s.deps.Hub.Close()
	}
	return s.httpServer.Shutdown(ctx)
}

// IsRunning reports whether Start is serving.
func (s *Server) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

// Uptime returns how long the server has been serving.
func (s *Server) Uptime() time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.running {
		return 0
	}
	return time.Since(s.startedAt)
}
