// Traceline worker. Runs a pool of job workers that materialize replay
// sessions, plus the purge and reclaim sweepers that keep the job table
// healthy.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/traceline-io/traceline/pkg/config"
	"github.com/traceline-io/traceline/pkg/database"
	"github.com/traceline-io/traceline/pkg/models"
	"github.com/traceline-io/traceline/pkg/queue"
	"github.com/traceline-io/traceline/pkg/replay"
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

// resolveWorkerID names this worker for logs and health reporting.
// Priority: WORKER_ID env > HOSTNAME env > "local".
func resolveWorkerID() string {
	if id := os.Getenv("WORKER_ID"); id != "" {
		return id
	}
	if hostname := os.Getenv("HOSTNAME"); hostname != "" {
		return hostname
	}
	return "local"
}

func main() {
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

	workerID := resolveWorkerID()
	slog.Info("Starting Traceline worker",
		"worker_id", workerID,
		"version", version.Full(),
		"worker_count", cfg.Worker.Count,
		"poll_interval", cfg.Worker.PollInterval)

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

	// 3. Wire the replay engine and job executors
	st := store.NewPostgres(dbClient.Pool())
	engine := replay.NewEngine(st)
	executors := map[string]queue.Executor{
		models.JobTypeReplayExecute: queue.NewReplayExecutor(engine),
	}

	// 4. Start the worker pool and the maintenance sweepers
	pool := queue.NewPool(workerID, st, executors, cfg.Worker.PollInterval, cfg.Worker.Count)
	pool.Start(ctx)

	purger := queue.NewPurger(st, cfg.Worker.JobRetention, cfg.Worker.PurgeInterval)
	purger.Start(ctx)

	reclaimer := queue.NewReclaimer(st, cfg.Worker.StaleThreshold, cfg.Worker.ReclaimInterval)
	reclaimer.Start(ctx)

	// 5. Wait for shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	sig := <-sigCh
	slog.Info("Shutdown signal received", "signal", sig)

	// 6. Graceful shutdown: workers finish their in-flight jobs first
	pool.Stop()
	purger.Stop()
	reclaimer.Stop()

	slog.Info("Shutdown complete")
}
