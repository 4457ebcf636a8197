// Traceline API server. Records runs and events, registers artifacts, and
// queues replay sessions for the worker to materialize.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/traceline-io/traceline/pkg/api"
	"github.com/traceline-io/traceline/pkg/blob"
	"github.com/traceline-io/traceline/pkg/config"
	"github.com/traceline-io/traceline/pkg/database"
	"github.com/traceline-io/traceline/pkg/redaction"
	"github.com/traceline-io/traceline/pkg/services"
	"github.com/traceline-io/traceline/pkg/store"
	"github.com/traceline-io/traceline/pkg/version"
)

func setupLogging(level string) {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn", "warning":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})))
}

func main() {
	// Load .env when present; container deploys inject the environment
	// directly and have no file.
	if err := godotenv.Load(); err != nil {
		slog.Debug("No .env file loaded", "error", err)
	}

	ctx := context.Background()

	// 1. Load configuration
	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}
	setupLogging(cfg.API.LogLevel)
	slog.Info("Starting Traceline API",
		"version", version.Full(),
		"addr", cfg.API.Addr(),
		"auth_enabled", cfg.Auth.Enabled)

	// 2. Connect to the database and apply migrations
	dbClient, err := database.NewClient(ctx, database.Config{
		URL:      cfg.Database.URL,
		MaxConns: cfg.Database.MaxConns,
		MinConns: cfg.Database.MinConns,
	})
	if err != nil {
		slog.Error("Failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer dbClient.Close()
	slog.Info("Connected to PostgreSQL database")

	// 3. Open the artifact blob store
	blobs, err := blob.New(ctx, blob.Config{
		Mode:        cfg.Artifacts.Mode,
		Bucket:      cfg.Artifacts.Bucket,
		LocalDir:    cfg.Artifacts.LocalDir,
		S3Endpoint:  cfg.Artifacts.S3Endpoint,
		S3AccessKey: cfg.Artifacts.S3AccessKey,
		S3SecretKey: cfg.Artifacts.S3SecretKey,
		S3Region:    cfg.Artifacts.S3Region,
		S3Secure:    cfg.Artifacts.S3Secure,
	})
	if err != nil {
		slog.Error("Failed to open artifact store", "error", err)
		os.Exit(1)
	}
	slog.Info("Artifact store ready", "mode", cfg.Artifacts.Mode, "bucket", cfg.Artifacts.Bucket)

	// 4. Wire domain services over the postgres store
	st := store.NewPostgres(dbClient.Pool())
	ingestion := services.NewIngestionService(st)
	artifacts := services.NewArtifactService(st, blobs, redaction.NewEngine(redaction.Config{}), cfg.Artifacts.Bucket, cfg.Redaction.BlockOnFailure)
	query := services.NewQueryService(st)
	replays := services.NewReplayService(st)
	slog.Info("Services initialized")

	// 5. Start the HTTP server
	server := api.NewServer(cfg, dbClient.Pool(), ingestion, artifacts, query, replays)
	errCh := make(chan error, 1)
	go func() {
		slog.Info("HTTP server listening", "addr", cfg.API.Addr())
		if err := server.Start(); err != nil {
			errCh <- err
		}
	}()

	// 6. Wait for shutdown signal or server error
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	select {
	case sig := <-sigCh:
		slog.Info("Shutdown signal received", "signal", sig)
	case err := <-errCh:
		slog.Error("HTTP server error", "error", err)
		dbClient.Close()
		os.Exit(1)
	}

	// 7. Graceful shutdown: drain in-flight requests, then release the pool
	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	}

	slog.Info("Shutdown complete")
}
