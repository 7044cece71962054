// Package core provides the API chassis for the Zecu backend. It creates the
// chi router and enforces cross-cutting concerns -- security headers,
// logging, rate limiting, session resolution, and error handling -- before
// requests reach domain-specific handlers.
package core

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"zecu/internal/auth"
	"zecu/internal/config"
	"zecu/internal/db"
)

// Server encapsulates all dependencies for the Zecu API, allowing for easy
// injection during testing and distinct configuration per environment.
type Server struct {
	Config    *config.Config
	Repos     *db.Repositories
	Logger    *slog.Logger
	Validator *Validator
	Tokens    *auth.TokenService

	// RateLimitStore backs the fixed-window limiter. Satisfied by
	// db.RateLimitRepository; nil disables rate limiting (tests).
	RateLimitStore RateLimitStore

	// APIRouteRegistrars are populated by the application entry point
	// (main.go) and mounted under /api. This indirection avoids import
	// cycles between core and handler packages.
	APIRouteRegistrars []func(chi.Router)

	router *chi.Mux
}

// NewServer initializes dependencies, sets up the router, and prepares the
// server for route mounting. It performs a fail-fast check on critical
// dependencies.
//
// The caller is responsible for mounting routes (via MountRoutes) after
// construction; this separation allows tests to customize registration.
func NewServer(
	cfg *config.Config,
	repos *db.Repositories,
	logger *slog.Logger,
) (*Server, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config must not be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger must not be nil")
	}

	s := &Server{
		Config:    cfg,
		Repos:     repos,
		Logger:    logger,
		Validator: NewValidator(logger),
		Tokens:    auth.NewTokenService([]byte(cfg.Auth.JWTSecret.Unmask()), cfg.Auth.SessionTTL),
		router:    chi.NewRouter(),
	}
	if repos != nil {
		s.RateLimitStore = repos.RateLimits
	}

	if cfg.IsDevelopment() {
		EnableErrorDetails()
	}

	return s, nil
}

// Handler returns the http.Handler interface for the router.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Router returns the underlying chi.Mux for route registration.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// Shutdown performs a graceful termination of server resources, closing the
// database pool behind the repositories.
func (s *Server) Shutdown(ctx context.Context) error {
	s.Logger.Info("server shutdown initiated")

	if s.Repos != nil {
		if err := s.Repos.Close(); err != nil {
			s.Logger.Error("error closing repository connections", "error", err)
			return fmt.Errorf("closing repository connections: %w", err)
		}
	}

	s.Logger.Info("server shutdown complete")
	return nil
}
