package api

import (
	"strconv"
	"time"

	echo "github.com/labstack/echo/v5"

	"github.com/traceline-io/traceline/pkg/models"
	"github.com/traceline-io/traceline/pkg/services"
)

// createRunHandler handles POST /api/v1/runs.
func (s *Server) createRunHandler(c *echo.Context) error {
	var req models.CreateRunRequest
	if err := c.Bind(&req); err != nil {
		return s.errorResponse(c, services.NewValidationError(err.Error(), nil))
	}

	run, err := s.ingestion.CreateRun(c.Request().Context(), req)
	if err != nil {
		return s.errorResponse(c, err)
	}

	return s.successResponse(c, &CreateRunResponse{
		RunID:   run.RunID,
		TraceID: run.TraceID,
		Status:  run.Status,
	})
}

// listRunsHandler handles GET /api/v1/runs.
func (s *Server) listRunsHandler(c *echo.Context) error {
	params := models.ListRunsParams{
		AppID:       c.QueryParam("app_id"),
		Environment: c.QueryParam("environment"),
		Status:      c.QueryParam("status"),
		SourceType:  c.QueryParam("source_type"),
		PageSize:    50,
		PageToken:   c.QueryParam("page_token"),
	}

	if v := c.QueryParam("page_size"); v != "" {
		size, err := strconv.Atoi(v)
		if err != nil {
			return s.errorResponse(c, services.NewValidationError("page_size must be an integer", nil))
		}
		params.PageSize = size
	}
	if v := c.QueryParam("from_utc"); v != "" {
		from, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return s.errorResponse(c, services.NewValidationError("from_utc must be an RFC3339 timestamp", nil))
		}
		params.FromUTC = &from
	}
	if v := c.QueryParam("to_utc"); v != "" {
		to, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return s.errorResponse(c, services.NewValidationError("to_utc must be an RFC3339 timestamp", nil))
		}
		params.ToUTC = &to
	}

	runs, nextToken, err := s.query.ListRuns(c.Request().Context(), params)
	if err != nil {
		return s.errorResponse(c, err)
	}

	items := make([]RunSummary, 0, len(runs))
	for _, run := range runs {
		items = append(items, runSummary(run))
	}
	return s.successResponse(c, &ListRunsResponse{
		Items:         items,
		NextPageToken: optionalToken(nextToken),
	})
}

// getRunHandler handles GET /api/v1/runs/:run_id.
func (s *Server) getRunHandler(c *echo.Context) error {
	run, counters, err := s.query.GetRunDetail(c.Request().Context(), c.Param("run_id"))
	if err != nil {
		return s.errorResponse(c, err)
	}

	return s.successResponse(c, &RunDetailResponse{
		Run:      runSummary(run),
		Counters: counters,
	})
}

// finalizeRunHandler handles POST /api/v1/runs/:run_id/finalize.
func (s *Server) finalizeRunHandler(c *echo.Context) error {
	var req models.FinalizeRunRequest
	if err := c.Bind(&req); err != nil {
		return s.errorResponse(c, services.NewValidationError(err.Error(), nil))
	}

	run, err := s.ingestion.FinalizeRun(c.Request().Context(), c.Param("run_id"), req, s.requestActor())
	if err != nil {
		return s.errorResponse(c, err)
	}

	return s.successResponse(c, &FinalizeRunResponse{
		RunID:  run.RunID,
		Status: run.Status,
	})
}
