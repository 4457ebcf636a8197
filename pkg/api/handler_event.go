package api

import (
	"strconv"

	echo "github.com/labstack/echo/v5"

	"github.com/traceline-io/traceline/pkg/models"
	"github.com/traceline-io/traceline/pkg/services"
)

// ingestEventHandler handles POST /api/v1/runs/:run_id/events.
func (s *Server) ingestEventHandler(c *echo.Context) error {
	var req models.IngestEventRequest
	if err := c.Bind(&req); err != nil {
		return s.errorResponse(c, services.NewValidationError(err.Error(), nil))
	}

	result, err := s.ingestion.IngestEvent(c.Request().Context(), c.Param("run_id"), req.IdempotencyKey, req.Event)
	if err != nil {
		return s.errorResponse(c, err)
	}

	warnings := result.Warnings
	if warnings == nil {
		warnings = []string{}
	}
	return s.successResponse(c, &IngestEventResponse{
		EventID:            result.Event.EventID,
		Accepted:           result.Accepted,
		ValidationWarnings: warnings,
	})
}

// listEventsHandler handles GET /api/v1/runs/:run_id/events. An unknown run
// yields an empty page rather than NOT_FOUND; the filter simply matches
// nothing.
func (s *Server) listEventsHandler(c *echo.Context) error {
	params := models.ListEventsParams{
		EventType: c.QueryParam("event_type"),
		StepID:    c.QueryParam("step_id"),
		PageSize:  200,
		PageToken: c.QueryParam("page_token"),
	}

	if v := c.QueryParam("page_size"); v != "" {
		size, err := strconv.Atoi(v)
		if err != nil {
			return s.errorResponse(c, services.NewValidationError("page_size must be an integer", nil))
		}
		params.PageSize = size
	}
	if v := c.QueryParam("sequence_from"); v != "" {
		from, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return s.errorResponse(c, services.NewValidationError("sequence_from must be an integer", nil))
		}
		params.SequenceFrom = &from
	}
	if v := c.QueryParam("sequence_to"); v != "" {
		to, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return s.errorResponse(c, services.NewValidationError("sequence_to must be an integer", nil))
		}
		params.SequenceTo = &to
	}

	events, nextToken, err := s.query.ListEvents(c.Request().Context(), c.Param("run_id"), params)
	if err != nil {
		return s.errorResponse(c, err)
	}

	items := make([]EventView, 0, len(events))
	for _, event := range events {
		items = append(items, eventView(event))
	}
	return s.successResponse(c, &ListEventsResponse{
		Items:         items,
		NextPageToken: optionalToken(nextToken),
	})
}
