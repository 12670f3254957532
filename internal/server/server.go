// Package server sets up the HTTP server, router, and all route definitions.
//
// SERVER ARCHITECTURE:
// This package is the "wiring" layer. It connects handlers, middleware and
// routes, and decides:
//   - Which URL patterns map to which handler functions
//   - What middleware runs on which routes
//   - How the server starts and stops gracefully
//
// DEPENDENCY INJECTION FLOW:
//
//	main.go: config.Load() → logger → server.New(cfg, logger)
//	server.New creates:
//	  sqlite.DB → UserDB / GoalDB / TokenDB
//	  TokenService + PasswordService → AuthService
//	  GoalDB → GoalService
//	  services → AuthHandler / GoalHandler / WebHandler
//
// This is the "composition root" pattern: all dependencies are wired in one
// place (New/setupRoutes), rather than scattered across the codebase.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/redis/go-redis/v9"

	"github.com/sakif/goal-tracker/internal/auth"
	"github.com/sakif/goal-tracker/internal/config"
	"github.com/sakif/goal-tracker/internal/handler"
	"github.com/sakif/goal-tracker/internal/middleware"
	sqliteRepo "github.com/sakif/goal-tracker/internal/repository/sqlite"
	"github.com/sakif/goal-tracker/internal/service"
)

// Server represents the HTTP server and all its dependencies.
//
// RESOURCE MANAGEMENT:
// The Server owns the database connection and, when rate limiting is on, the
// Redis client. Close releases both; Start calls it during shutdown.
type Server struct {
	router  *chi.Mux
	config  *config.Config
	logger  *slog.Logger
	db      *sqliteRepo.DB
	redis   *redis.Client // nil when REDIS_ADDR is empty
	authSvc *service.AuthService
	goalSvc *service.GoalService
	metrics *middleware.Metrics
	github  *auth.GitHubProvider // nil when GitHub sign-in is not configured

	closeOnce sync.Once
}

// New creates a Server from a validated config.
//
// IMPORT ALIAS:
// repository/sqlite is imported as `sqliteRepo` so it is not confused with
// the modernc.org/sqlite driver package.
func New(cfg *config.Config, logger *slog.Logger) (*Server, error) {
	tokens, err := auth.NewTokenService(cfg.JWTSecret, cfg.TokenTTL)
	if err != nil {
		return nil, fmt.Errorf("creating token service: %w", err)
	}
	passwords, err := auth.NewPasswordServiceWithCost(cfg.BcryptCost)
	if err != nil {
		return nil, fmt.Errorf("creating password service: %w", err)
	}

	// === CREATE DATABASE ===
	db, err := sqliteRepo.New(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	s := &Server{
		router:  chi.NewRouter(),
		config:  cfg,
		logger:  logger,
		db:      db,
		authSvc: service.NewAuthService(db.Users(), db.Tokens(), tokens, passwords, logger),
		goalSvc: service.NewGoalService(db.Goals(), logger),
		metrics: middleware.NewMetrics(),
	}

	if cfg.RateLimitEnabled() {
		s.redis = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	}
	if cfg.GitHubEnabled() {
		s.github = auth.NewGitHubProvider(cfg.GitHubClientID, cfg.GitHubClientSecret, cfg.GitHubCallbackURL)
	}

	if err := s.setupRoutes(); err != nil {
		s.Close() // Clean up DB and Redis if route setup fails
		return nil, fmt.Errorf("setting up routes: %w", err)
	}

	return s, nil
}

// setupRoutes configures all middleware and route handlers.
//
// ROUTE STRUCTURE:
//
//	GET  /healthz                   → database ping
//	GET  /metrics                   → Prometheus
//	POST /register, /login, /logout → JSON auth (login is rate limited)
//	GET  /me, /goals, /goals/{id}   → JSON API, bearer token required
//	/auth/github/*                  → OAuth sign-in or linking (only when configured)
//	/web/*                          → HTML pages, cookie session
//
// MIDDLEWARE ORDER MATTERS:
// Middleware executes in the order it's added:
//  1. RequestID: assigns a unique ID to each request
//  2. RealIP: extracts the client IP from proxy headers, only with TRUST_PROXY
//  3. Recoverer: catches panics and returns 500 instead of crashing
//  4. Logger: logs each request with timing info
//  5. Metrics: counts requests per route pattern
//
// The login rate limiter keys on RemoteAddr. Without TRUST_PROXY that is the
// TCP peer, so rotating X-Forwarded-For does not buy a fresh budget.
func (s *Server) setupRoutes() error {
	// === Global Middleware ===
	s.router.Use(chimiddleware.RequestID)
	if s.config.TrustProxy {
		s.router.Use(chimiddleware.RealIP)
	}
	s.router.Use(chimiddleware.Recoverer)
	s.router.Use(middleware.Logger(s.logger))
	s.router.Use(s.metrics.Middleware)

	// limitLogin is a no-op unless Redis is configured.
	limitLogin := func(next http.Handler) http.Handler { return next }
	if s.redis != nil {
		rl := middleware.NewRateLimiter(s.redis, "login", s.config.LoginRateLimit, s.config.LoginRateWindow, handler.WriteError, s.logger)
		limitLogin = rl.Middleware
	}

	healthHandler := handler.NewHealthHandler(s.db, s.logger)
	authHandler := handler.NewAuthHandler(s.authSvc, s.github, s.config.CookieSecure, s.logger)
	goalHandler := handler.NewGoalHandler(s.goalSvc, s.logger)
	webHandler, err := handler.NewWebHandler(s.authSvc, s.goalSvc, s.config.CookieSecure, s.github != nil, s.logger)
	if err != nil {
		return fmt.Errorf("creating web handler: %w", err)
	}

	// === Operational Routes ===
	s.router.Get("/healthz", healthHandler.HandleHealth)
	s.router.Method(http.MethodGet, "/metrics", s.metrics.Handler())

	// === JSON API ===
	s.router.Post("/register", authHandler.HandleRegister)
	s.router.With(limitLogin).Post("/login", authHandler.HandleLogin)
	// Logout is outside RequireAuth so that repeating it is not an error.
	s.router.Post("/logout", authHandler.HandleLogout)

	s.router.Group(func(r chi.Router) {
		r.Use(auth.RequireAuth(s.authSvc, s.logger))

		// Flat routes rather than r.Route: a mounted sub-router would only
		// fill in "/{id}" after RequireAuth ran, and 401s would be counted
		// under "/goals/*".
		r.Get("/me", authHandler.HandleMe)
		r.Get("/goals", goalHandler.HandleList)
		r.Post("/goals", goalHandler.HandleCreate)
		r.Get("/goals/{id}", goalHandler.HandleGet)
		r.Put("/goals/{id}", goalHandler.HandleUpdate)
		r.Delete("/goals/{id}", goalHandler.HandleDelete)
	})

	// === GitHub OAuth ===
	if s.github != nil {
		s.router.Get("/auth/github/login", authHandler.HandleGitHubLogin)
		// A signed-in caller links GitHub to their account instead of
		// signing in as whoever owns it.
		s.router.With(auth.OptionalAuth(s.authSvc)).Get("/auth/github/callback", authHandler.HandleGitHubCallback)
	}

	// === HTML Pages ===
	s.router.Get("/", webHandler.HandleIndex)
	s.router.Route("/web", func(r chi.Router) {
		r.Use(auth.OptionalAuth(s.authSvc))

		r.Get("/", webHandler.HandleIndex)
		r.Get("/register", webHandler.HandleRegisterForm)
		r.Post("/register", webHandler.HandleRegister)
		r.Get("/login", webHandler.HandleLoginForm)
		r.With(limitLogin).Post("/login", webHandler.HandleLogin)
		r.Post("/logout", webHandler.HandleLogout)
		r.Get("/goals", webHandler.HandleGoals)
		r.Post("/goals", webHandler.HandleCreateGoal)
		r.Get("/goals/{id}/edit", webHandler.HandleEditGoal)
		r.Post("/goals/{id}", webHandler.HandleUpdateGoal)
		r.Post("/goals/{id}/delete", webHandler.HandleDeleteGoal)
	})

	return nil
}

// Handler exposes the router, so tests can drive it with httptest.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Close releases the database and Redis connections. Safe to call twice.
func (s *Server) Close() error {
	var err error
	s.closeOnce.Do(func() {
		if s.redis != nil {
			err = s.redis.Close()
		}
		err = errors.Join(err, s.db.Close())
	})
	return err
}

// purgeExpiredTokens deletes expired token rows every interval until ctx is
// cancelled.
//
// TICKER PATTERN:
// time.NewTicker delivers a value on ticker.C every interval. The select
// waits on both the ticker and ctx.Done(), so the goroutine exits promptly
// at shutdown instead of leaking.
func (s *Server) purgeExpiredTokens(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.authSvc.PurgeExpiredTokens(ctx); err != nil && ctx.Err() == nil {
				s.logger.Error("token purge failed", slog.String("error", err.Error()))
			}
		}
	}
}

// Start starts the HTTP server and handles graceful shutdown.
//
// GRACEFUL SHUTDOWN:
//  1. Stop accepting new HTTP connections
//  2. Wait for in-flight requests to finish (30s timeout)
//  3. Stop the token purge worker
//  4. Close the database (flushes WAL, releases file lock) and Redis
func (s *Server) Start() error {
	// Runs AFTER everything else in this function finishes.
	defer s.Close()

	srv := &http.Server{
		Addr:         s.config.Addr(),
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	workerCtx, stopWorker := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		s.purgeExpiredTokens(workerCtx, s.config.TokenPurgeInterval)
	}()
	defer func() {
		stopWorker()
		wg.Wait()
	}()

	// Channel to receive OS signals
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	// Channel to receive server errors
	serverErrors := make(chan error, 1)

	go func() {
		s.logger.Info("server starting",
			slog.Int("port", s.config.Port),
			slog.String("url", fmt.Sprintf("http://localhost:%d", s.config.Port)),
			slog.String("database", s.config.DBPath),
			slog.Bool("rate_limit", s.redis != nil),
			slog.Bool("github", s.github != nil),
		)
		serverErrors <- srv.ListenAndServe()
	}()

	// Block until we receive a signal or server error
	select {
	case err := <-serverErrors:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}

	case sig := <-quit:
		s.logger.Info("shutdown signal received", slog.String("signal", sig.String()))

		// Give in-flight requests 30 seconds to complete
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
		s.logger.Info("server stopped gracefully")
	}

	return nil
}
