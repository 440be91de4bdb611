// honeyshell - SSH deception endpoint
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"

	"github.com/avetisov/honeyshell/internal/api"
	"github.com/avetisov/honeyshell/internal/capture"
	"github.com/avetisov/honeyshell/internal/config"
	"github.com/avetisov/honeyshell/internal/fetch"
	"github.com/avetisov/honeyshell/internal/filestore"
	"github.com/avetisov/honeyshell/internal/middleware"
	"github.com/avetisov/honeyshell/internal/ratelimit"
	"github.com/avetisov/honeyshell/internal/server"
	"github.com/avetisov/honeyshell/internal/store"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	slog.Info("Starting honeyshell", "listen", cfg.ListenAddr, "admin", cfg.AdminAddr)

	// Initialize dependencies.
	repo, err := store.NewSQLite(cfg.DBPath)
	if err != nil {
		slog.Error("Failed to initialize database", "error", err)
		os.Exit(1)
	}
	defer func() {
		if closeErr := repo.Close(); closeErr != nil {
			slog.Error("Failed to close repository", "error", closeErr)
		}
	}()

	if err := repo.Ping(context.Background()); err != nil {
		slog.Error("Database health check failed", "error", err)
		os.Exit(1)
	}
	slog.Info("Database connected")

	files, err := filestore.New(cfg.FileStoreDir)
	if err != nil {
		slog.Error("Failed to initialize content store", "error", err)
		os.Exit(1)
	}

	limiter := ratelimit.New(cfg.MaxConnsPerIP, cfg.RateWindow)
	fetcher := fetch.NewHTTPFetcher(30*time.Second, cfg.MaxCaptureBytes)
	hub := capture.NewHub()

	honeypot, err := server.New(cfg, limiter, repo, files, fetcher, hub)
	if err != nil {
		slog.Error("Failed to initialize SSH server", "error", err)
		os.Exit(1)
	}

	// Setup admin router.
	handler := api.NewHandler(repo)
	liveHandler := api.NewLiveHandler(hub)

	r := chi.NewRouter()
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Recoverer)
	r.Use(middleware.CORS([]string{"*"}))

	handler.RegisterHealth(r)
	handler.RegisterRoutes(r)
	r.Get("/ws/live", liveHandler.ServeHTTP)

	adminSrv := &http.Server{
		Addr:         cfg.AdminAddr,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0, // live websocket stream has no write deadline
		IdleTimeout:  120 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Start SSH honeypot.
	go func() {
		if err := honeypot.ListenAndServe(ctx); err != nil {
			slog.Error("SSH server failed", "error", err)
			stop()
		}
	}()

	// Start admin API.
	go func() {
		slog.Info("Admin API listening", "addr", adminSrv.Addr)
		if err := adminSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Admin API failed", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	stop()

	slog.Info("Shutting down gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := adminSrv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Admin API forced to shutdown", "error", err)
	}

	slog.Info("Server stopped")
}
