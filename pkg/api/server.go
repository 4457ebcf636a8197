// Package api exposes the recorder over HTTP: run and event ingestion,
// artifact registration, read-side queries, and replay session control. All
// /api/v1 responses share one envelope; health probes stay bare.
package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	echo "github.com/labstack/echo/v5"

	"github.com/traceline-io/traceline/pkg/config"
	"github.com/traceline-io/traceline/pkg/services"
)

// Pinger reports whether the backing database is reachable. *pgxpool.Pool
// satisfies it in production; tests substitute fakes.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Server wires the HTTP surface: envelope conventions, bearer auth, and the
// /api/v1 route set.
type Server struct {
	echo      *echo.Echo
	auth      config.AuthConfig
	addr      string
	db        Pinger
	ingestion *services.IngestionService
	artifacts *services.ArtifactService
	query     *services.QueryService
	replays   *services.ReplayService

	httpServer *http.Server
}

// NewServer assembles the router with middleware and routes registered.
func NewServer(
	cfg *config.Config,
	db Pinger,
	ingestion *services.IngestionService,
	artifacts *services.ArtifactService,
	query *services.QueryService,
	replays *services.ReplayService,
) *Server {
	s := &Server{
		echo:      echo.New(),
		auth:      cfg.Auth,
		addr:      cfg.API.Addr(),
		db:        db,
		ingestion: ingestion,
		artifacts: artifacts,
		query:     query,
		replays:   replays,
	}

	s.echo.Use(requestIDMiddleware(), securityHeaders(), s.authMiddleware())
	s.registerRoutes()

	return s
}

func (s *Server) registerRoutes() {
	e := s.echo

	e.GET("/health/live", s.livenessHandler)
	e.GET("/health/ready", s.readinessHandler)

	e.POST("/api/v1/runs", s.createRunHandler)
	e.GET("/api/v1/runs", s.listRunsHandler)
	e.GET("/api/v1/runs/:run_id", s.getRunHandler)
	e.POST("/api/v1/runs/:run_id/events", s.ingestEventHandler)
	e.GET("/api/v1/runs/:run_id/events", s.listEventsHandler)
	e.POST("/api/v1/runs/:run_id/finalize", s.finalizeRunHandler)

	e.POST("/api/v1/artifacts", s.registerArtifactHandler)
	e.GET("/api/v1/artifacts/:artifact_hash", s.getArtifactHandler)

	e.POST("/api/v1/replays", s.createReplayHandler)
	e.GET("/api/v1/replays/:replay_session_id", s.getReplayHandler)
	e.POST("/api/v1/replays/:replay_session_id/cancel", s.cancelReplayHandler)

	// Reserved surface: diff and bundle engines land in a later milestone,
	// but the routes answer with a stable NOT_IMPLEMENTED envelope today.
	e.POST("/api/v1/diffs", s.createDiffHandler)
	e.GET("/api/v1/diffs/:diff_report_id", s.getDiffHandler)
	e.POST("/api/v1/bundles/export", s.exportBundleHandler)
	e.POST("/api/v1/bundles/import", s.importBundleHandler)
}

// Start serves HTTP on the configured address. It blocks until the listener
// fails or Shutdown is called, in which case it returns nil.
func (s *Server) Start() error {
	s.httpServer = &http.Server{
		Addr:              s.addr,
		Handler:           s.echo,
		ReadHeaderTimeout: 10 * time.Second,
	}
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops the listener and drains in-flight requests until ctx
// expires.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}
