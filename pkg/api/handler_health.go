package api

import (
	"context"
	"net/http"
	"time"

	echo "github.com/labstack/echo/v5"
)

// livenessHandler handles GET /health/live. Bare payload, no envelope, so
// orchestrator probes stay trivial.
func (s *Server) livenessHandler(c *echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

// readinessHandler handles GET /health/ready. Ready means the database
// answers a ping within the probe timeout. External systems (object storage)
// are excluded so the orchestrator does not restart us over someone else's
// outage.
func (s *Server) readinessHandler(c *echo.Context) error {
	reqCtx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	if s.db == nil || s.db.Ping(reqCtx) != nil {
		return c.JSON(http.StatusServiceUnavailable, map[string]string{"status": "unready"})
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "ready"})
}
