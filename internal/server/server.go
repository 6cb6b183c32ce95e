package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/scopeline/authd/internal/config"
	"github.com/scopeline/authd/internal/guard"
	"github.com/scopeline/authd/internal/handler"
	"github.com/scopeline/authd/internal/model"
	"github.com/scopeline/authd/internal/server/middleware"
	"github.com/scopeline/authd/internal/service"
)

// Config holds the HTTP server configuration.
type Config struct {
	Host            string
	Port            int
	ShutdownTimeout time.Duration
	CORSOrigins     []string
	AdminToken      string
}

// DefaultConfig returns a Config with sensible production defaults.
func DefaultConfig() Config {
	return Config{
		Host:            "0.0.0.0",
		Port:            8080,
		ShutdownTimeout: 30 * time.Second,
		CORSOrigins:     []string{"*"},
	}
}

// Deps are the wired components the server routes requests to.
type Deps struct {
	Store    *config.Store
	Creds    *service.Credentials
	Resolver *service.Resolver
	Lockout  *service.Lockout
	Traces   handler.TraceDirectory
	Logger   *slog.Logger
}

// Server is the top-level HTTP server. It owns the Chi router, the
// per-credential rate limiter, and the graceful shutdown lifecycle.
type Server struct {
	cfg        Config
	deps       Deps
	router     chi.Router
	limiter    *middleware.CredentialLimiter
	httpServer *http.Server
	logger     *slog.Logger
}

// New creates a new Server, wires up all routes and middleware, and returns
// it ready to listen. Call ListenAndServe to start accepting connections.
func New(cfg Config, deps Deps) *Server {
	s := &Server{
		cfg:     cfg,
		deps:    deps,
		limiter: middleware.NewCredentialLimiter(),
		logger:  deps.Logger,
	}
	s.setupRouter()
	return s
}

var (
	anyRole    = []model.Role{model.RoleOwner, model.RoleAdmin, model.RoleMember}
	mutateRole = []model.Role{model.RoleOwner, model.RoleAdmin}
)

func (s *Server) setupRouter() {
	r := chi.NewRouter()

	// --- Global middleware ---
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger(s.logger))
	r.Use(chimw.Recoverer)
	r.Use(chimw.RealIP)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   s.cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-API-Key", "X-Project-ID"},
		ExposedHeaders:   []string{"X-Request-ID", "Retry-After"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	r.Use(chimw.Compress(5))

	// --- Health checks (no auth required) ---
	r.Get("/healthz", s.handleHealthz)
	r.Get("/readyz", s.handleReadyz)

	// --- API routes ---
	r.Route("/api/v1", func(r chi.Router) {

		// Internal control surface for the identity provider and operators.
		r.Route("/system", func(r chi.Router) {
			sysHandler := handler.NewSystemHandler(s.deps.Store, s.deps.Lockout)
			r.Use(handler.AdminOnly(s.cfg.AdminToken))

			r.Post("/login/check", sysHandler.LoginCheck)
			r.Post("/login/result", sysHandler.LoginResult)

			r.Post("/projects", sysHandler.CreateProject)
			r.Get("/projects/{id}", sysHandler.GetProject)
		})

		// WebSocket stream authenticates at upgrade time, outside the
		// middleware chain, because browser clients can only pass the key
		// as a query parameter.
		r.Get("/stream", NewStreamHandler(s.deps.Resolver, s.logger).ServeHTTP)

		// Tenant-facing routes.
		r.Group(func(r chi.Router) {
			r.Use(middleware.Authenticate(s.deps.Resolver, s.logger))

			credHandler := handler.NewCredentialHandler(s.deps.Creds, s.limiter.Forget)
			r.Route("/credentials", func(r chi.Router) {
				r.Group(func(r chi.Router) {
					r.Use(middleware.Require(guard.Requirement{Roles: anyRole, RequireOrg: true}))
					r.Get("/", credHandler.List)
					r.Get("/{id}", credHandler.Get)
				})
				r.Group(func(r chi.Router) {
					r.Use(middleware.Require(guard.Requirement{
						Roles:            mutateRole,
						RequireOrg:       true,
						RequireTwoFactor: true,
					}))
					r.Post("/", credHandler.Create)
					r.Patch("/{id}", credHandler.Update)
					r.Delete("/{id}", credHandler.Delete)
				})
			})

			traceHandler := handler.NewTraceHandler(s.deps.Traces)
			r.Group(func(r chi.Router) {
				r.Use(middleware.Require(guard.Requirement{
					Roles:       anyRole,
					Permissions: []string{"traces:read"},
					RequireOrg:  true,
				}))
				r.Use(s.limiter.Handler)
				r.Get("/traces/{id}", traceHandler.Get)
			})
		})
	})

	s.router = r
}

// handleHealthz is a liveness probe. Returns 200 if the process is running.
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"ok"}`))
}

// handleReadyz is a readiness probe. Returns 200 when the credential store
// is reachable, 503 otherwise.
func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	httpStatus := http.StatusOK
	checks := make(map[string]string)

	if err := s.deps.Store.Ping(r.Context()); err != nil {
		checks["store"] = "error: " + err.Error()
		status = "degraded"
		httpStatus = http.StatusServiceUnavailable
	} else {
		checks["store"] = "ok"
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(httpStatus)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"status": status,
		"checks": checks,
	})
}

// ListenAndServe starts the HTTP server and blocks until a SIGINT or SIGTERM
// is received. It then performs a graceful shutdown, draining in-flight
// requests before returning.
func (s *Server) ListenAndServe() error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("server starting", "addr", addr)
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server listen: %w", err)
	case <-ctx.Done():
		s.logger.Info("shutdown signal received, draining connections...")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	s.logger.Info("server stopped")
	return nil
}

// Router returns the underlying Chi router, useful for testing.
func (s *Server) Router() chi.Router {
	return s.router
}

// ServeHTTP implements http.Handler, delegating to the router.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}
