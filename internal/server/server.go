package server

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hongminglow/hostel-portal/internal/config"
	"github.com/hongminglow/hostel-portal/internal/http/handlers"
	"github.com/hongminglow/hostel-portal/internal/middleware"
)

// Deps are the collaborators the router needs.
type Deps struct {
	Session handlers.SessionService
	Catalog handlers.CatalogAPI
	Booking handlers.BookingService
	Logger  *slog.Logger
	// Metrics serves /metrics when set.
	Metrics http.Handler
	// Statuses receives the status code of every response. May be nil.
	Statuses middleware.StatusRecorder
}

// Server wraps an http.Server with configured routes.
type Server struct {
	inner *http.Server
}

// NewRouter builds the portal routes and middleware chain:
//
//	Recovery → RequestID → Logging → CORS → RateLimit → routes
//
// /health and /metrics are not rate limited.
func NewRouter(cfg config.Config, deps Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recovery)
	r.Use(middleware.RequestID)
	r.Use(middleware.Logging(deps.Logger, deps.Statuses))
	r.Use(middleware.CORS(cfg.CORSOrigins))

	r.Method(http.MethodGet, "/health", handlers.NewHealthHandler(time.Now()))
	if deps.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", deps.Metrics)
	}

	limiter := middleware.NewRateLimiter(cfg.RateLimitPerMinute)
	portal := handlers.New(deps.Session, deps.Catalog, deps.Booking, deps.Logger)
	r.Group(func(r chi.Router) {
		r.Use(limiter.Middleware)
		portal.Register(r)
	})
	return r
}

// New wires up middleware, routes, and returns a ready server.
func New(cfg config.Config, deps Deps) *Server {
	httpServer := &http.Server{
		Addr:              cfg.HTTPAddress(),
		Handler:           NewRouter(cfg, deps),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		// Long enough for a gateway call that hits its own timeout.
		WriteTimeout: cfg.GatewayTimeout*2 + 10*time.Second,
		IdleTimeout:  120 * time.Second,
	}

	return &Server{inner: httpServer}
}

// Start begins serving HTTP traffic.
func (s *Server) Start() error {
	return s.inner.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.inner.Shutdown(ctx)
}
