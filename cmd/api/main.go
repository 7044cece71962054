// Package main is the entry point for the Zecu API server.
//
// It loads configuration, opens the Postgres pool, wires the service layer
// (OTP flow, quota service, payment provider clients) into the HTTP
// handlers, mounts routes on the core chassis, and serves until a shutdown
// signal arrives.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"zecu/internal/api/handlers"
	"zecu/internal/auth"
	"zecu/internal/config"
	"zecu/internal/core"
	"zecu/internal/db"
	"zecu/internal/external"
	"zecu/internal/quota"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

// run encapsulates the startup lifecycle so that main() can cleanly exit on
// error.
func run() error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	logger := newLogger(cfg.LogLevel)
	logger.Info("zecu API starting",
		"environment", cfg.Environment,
		"port", cfg.Server.Port,
	)

	// Database pool.
	pool, err := newPool(cfg)
	if err != nil {
		return fmt.Errorf("opening database pool: %w", err)
	}
	repos := db.NewRepositories(pool)

	// Core chassis.
	srv, err := core.NewServer(cfg, repos, logger)
	if err != nil {
		return fmt.Errorf("creating server: %w", err)
	}

	// Vendor clients.
	mpClient := external.NewMercadoPagoClient(cfg.MercadoPago)
	polarClient := external.NewPolarClient(cfg.Polar)
	n8nClient := external.NewN8NClient(cfg.N8N)

	// Service layer.
	otpService := auth.NewOTPService(repos.OTPs, repos.Users, n8nClient, cfg.Auth.OTPTTL, logger)
	quotaService := quota.NewService(repos.Consultas, repos.Users)

	// Handlers.
	authHandler := handlers.NewAuthHandler(
		otpService,
		srv.Tokens,
		repos.Users,
		handlers.DefaultCookieConfig(cfg.Auth.SecureCookies),
		cfg.Auth.SessionTTL,
		srv.RateLimit,
		srv.RequireSession,
		logger,
		srv.Validator,
	)

	paymentsHandler := handlers.NewPaymentsHandler(
		mpClient,
		polarClient,
		repos.Users,
		handlers.PaymentURLs{
			PublicURL:       cfg.Server.PublicURL,
			PolarProductID:  cfg.Polar.PlusProductID,
			PolarSuccessURL: cfg.Polar.SuccessURL,
		},
		srv.RateLimit,
		srv.RequireSession,
		logger,
		srv.Validator,
	)

	mpWebhookHandler := handlers.NewMercadoPagoWebhookHandler(
		mpClient,
		repos.Users,
		repos.Purchases,
		repos.WebhookEvents,
		otpService,
		logger,
	)

	polarWebhookHandler := handlers.NewPolarWebhookHandler(
		polarClient,
		repos.Users,
		repos.Purchases,
		repos.WebhookEvents,
		logger,
	)

	consultasHandler := handlers.NewConsultasHandler(
		quotaService,
		srv.RateLimit,
		srv.RequireAPIKey,
		logger,
		srv.Validator,
	)

	srv.APIRouteRegistrars = append(srv.APIRouteRegistrars,
		authHandler.RegisterRoutes,
		paymentsHandler.RegisterRoutes,
		mpWebhookHandler.RegisterRoutes,
		polarWebhookHandler.RegisterRoutes,
		consultasHandler.RegisterRoutes,
	)

	srv.MountRoutes()

	return runHTTPServer(srv, cfg, logger)
}

// newPool opens and verifies the pgx connection pool.
func newPool(cfg *config.Config) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.Database.URL.Unmask())
	if err != nil {
		return nil, fmt.Errorf("parsing database URL: %w", err)
	}
	poolCfg.MaxConns = int32(cfg.Database.MaxConns)
	poolCfg.MinConns = int32(cfg.Database.MinConns)
	poolCfg.MaxConnLifetime = cfg.Database.MaxConnLifetime

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}
	return pool, nil
}

// runHTTPServer starts the server in standard HTTP mode with graceful
// shutdown.
func runHTTPServer(srv *core.Server, cfg *config.Config, logger *slog.Logger) error {
	addr := ":" + cfg.Server.Port

	httpServer := &http.Server{
		Addr:              addr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	serverErr := make(chan error, 1)

	go func() {
		logger.Info("HTTP server listening", "addr", addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-shutdown:
		logger.Info("shutdown signal received", "signal", sig.String())
	case err := <-serverErr:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}

	logger.Info("initiating graceful shutdown")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Error("HTTP server shutdown error", "error", err)
	}

	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("server resource shutdown error", "error", err)
		return fmt.Errorf("server shutdown: %w", err)
	}

	logger.Info("server stopped cleanly")
	return nil
}

// newLogger creates a structured slog.Logger configured for the given log
// level.
func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "info":
		lvl = slog.LevelInfo
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}

	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level:     lvl,
		AddSource: false,
	})
	return slog.New(handler)
}
