package api

import (
	"log/slog"
	"net/http"

	echo "github.com/labstack/echo/v5"

	"github.com/traceline-io/traceline/pkg/services"
)

// statusForCode maps the error taxonomy onto HTTP status codes.
func statusForCode(code string) int {
	switch code {
	case services.CodeValidationError:
		return http.StatusBadRequest
	case services.CodeAuthRequired:
		return http.StatusUnauthorized
	case services.CodeAuthForbidden:
		return http.StatusForbidden
	case services.CodeNotFound:
		return http.StatusNotFound
	case services.CodeConflict:
		return http.StatusConflict
	case services.CodeNotImplemented:
		return http.StatusNotImplemented
	case services.CodeDependencyUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// errorResponse renders err as an error envelope with the mapped HTTP status.
// Errors outside the ServiceError taxonomy are logged and surfaced as
// INTERNAL_ERROR without leaking their message.
func (s *Server) errorResponse(c *echo.Context, err error) error {
	svcErr, ok := services.AsServiceError(err)
	if !ok {
		slog.Error("Unexpected service error",
			"error", err,
			"method", c.Request().Method,
			"path", c.Request().URL.Path)
		svcErr = services.NewInternalError()
	}
	return c.JSON(statusForCode(svcErr.Code), errorEnvelope(requestID(c), svcErr))
}
