// Package main is the entry point for the goal tracker server.
//
// MAIN PACKAGE IN GO:
// Every Go program starts execution in the main() function of the "main" package.
// The main package should be kept minimal. Its job is to:
//  1. Read configuration (internal/config: .env, config.yml, environment)
//  2. Create process-wide dependencies (the logger)
//  3. Start the application
//
// All actual logic lives in imported packages (internal/server, internal/handler, etc.).
//
// WHY cmd/server/?
// The cmd/ directory is a Go convention for executable entry points.
// Each executable gets its own directory with its own main.go.
package main

import (
	"log/slog"
	"os"
	"path/filepath"

	"github.com/sakif/goal-tracker/internal/config"
	"github.com/sakif/goal-tracker/internal/server"
)

func main() {
	// === 1. READ CONFIGURATION ===
	// JWT_SECRET is required. Generate one with:
	//   JWT_SECRET=$(openssl rand -hex 32)
	cfg, err := config.Load()
	if err != nil {
		// No configured logger yet; fall back to a plain one.
		slog.New(slog.NewTextHandler(os.Stderr, nil)).Error("invalid configuration", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// === 2. SET UP LOGGING ===
	// LOG_LEVEL: debug | info | warn | error
	// LOG_FORMAT: text (human-readable) | json (log shippers)
	logger := cfg.NewLogger(os.Stdout)
	slog.SetDefault(logger)

	// === 3. DATABASE DIRECTORY ===
	// os.MkdirAll creates all parent directories if needed (like `mkdir -p`).
	if cfg.DBPath != ":memory:" {
		dbDir := filepath.Dir(cfg.DBPath)
		if err := os.MkdirAll(dbDir, 0o755); err != nil {
			logger.Error("failed to create database directory",
				slog.String("dir", dbDir),
				slog.String("error", err.Error()),
			)
			os.Exit(1)
		}
	}

	if !cfg.RateLimitEnabled() {
		logger.Warn("REDIS_ADDR not set, login rate limiting is disabled")
	}

	// === 4. CREATE AND START THE SERVER ===
	srv, err := server.New(cfg, logger)
	if err != nil {
		logger.Error("failed to create server", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// Start() blocks until the server is shut down (via Ctrl+C or SIGTERM)
	if err := srv.Start(); err != nil {
		logger.Error("server error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}
