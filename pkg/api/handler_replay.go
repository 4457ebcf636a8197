package api

import (
	"time"

	echo "github.com/labstack/echo/v5"

	"github.com/traceline-io/traceline/pkg/models"
	"github.com/traceline-io/traceline/pkg/services"
)

// createReplayHandler handles POST /api/v1/replays. The session is queued
// here; the worker picks it up and materializes the derived run.
func (s *Server) createReplayHandler(c *echo.Context) error {
	var req models.CreateReplayRequest
	if err := c.Bind(&req); err != nil {
		return s.errorResponse(c, services.NewValidationError(err.Error(), nil))
	}

	session, err := s.replays.CreateReplaySession(c.Request().Context(), req, s.requestActor())
	if err != nil {
		return s.errorResponse(c, err)
	}

	return s.successResponse(c, &CreateReplayResponse{
		ReplaySessionID: session.ReplaySessionID,
		Status:          session.Status,
	})
}

// getReplayHandler handles GET /api/v1/replays/:replay_session_id.
func (s *Server) getReplayHandler(c *echo.Context) error {
	session, err := s.replays.GetReplaySession(c.Request().Context(), c.Param("replay_session_id"))
	if err != nil {
		return s.errorResponse(c, err)
	}

	reasonCodes := session.ReasonCodes
	if reasonCodes == nil {
		reasonCodes = []string{}
	}
	return s.successResponse(c, &ReplayStatusResponse{
		ReplaySessionID:   session.ReplaySessionID,
		Status:            session.Status,
		DerivedRunID:      session.DerivedRunID,
		ReasonCodes:       reasonCodes,
		FailureReasonCode: session.FailureReasonCode,
	})
}

// cancelReplayHandler handles POST /api/v1/replays/:replay_session_id/cancel.
func (s *Server) cancelReplayHandler(c *echo.Context) error {
	session, err := s.replays.CancelReplaySession(c.Request().Context(), c.Param("replay_session_id"), s.requestActor())
	if err != nil {
		return s.errorResponse(c, err)
	}

	cancelledAt := time.Now().UTC()
	if session.EndedAt != nil {
		cancelledAt = *session.EndedAt
	}
	return s.successResponse(c, &CancelReplayResponse{
		Status:      session.Status,
		CancelledAt: cancelledAt,
	})
}
