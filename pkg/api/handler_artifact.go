package api

import (
	echo "github.com/labstack/echo/v5"

	"github.com/traceline-io/traceline/pkg/models"
	"github.com/traceline-io/traceline/pkg/services"
)

// registerArtifactHandler handles POST /api/v1/artifacts.
func (s *Server) registerArtifactHandler(c *echo.Context) error {
	var req models.RegisterArtifactRequest
	if err := c.Bind(&req); err != nil {
		return s.errorResponse(c, services.NewValidationError(err.Error(), nil))
	}

	registration, err := s.artifacts.RegisterArtifact(c.Request().Context(), req)
	if err != nil {
		return s.errorResponse(c, err)
	}

	return s.successResponse(c, registration)
}

// getArtifactHandler handles GET /api/v1/artifacts/:artifact_hash.
func (s *Server) getArtifactHandler(c *echo.Context) error {
	artifact, err := s.query.GetArtifactMetadata(c.Request().Context(), c.Param("artifact_hash"))
	if err != nil {
		return s.errorResponse(c, err)
	}

	resp := artifactMetadata(artifact)
	return s.successResponse(c, &resp)
}
