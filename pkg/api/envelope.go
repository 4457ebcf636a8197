package api

import (
	"net/http"

	"github.com/google/uuid"
	echo "github.com/labstack/echo/v5"

	"github.com/traceline-io/traceline/pkg/services"
)

// headerRequestID is where callers supply a request id and where the server
// echoes the resolved one.
const headerRequestID = "X-Request-Id"

// Envelope is the uniform wrapper for /api/v1 responses. Exactly one of Data
// and Error is set; the other serializes as null.
type Envelope struct {
	RequestID string     `json:"request_id"`
	Status    string     `json:"status"`
	Data      any        `json:"data"`
	Error     *ErrorBody `json:"error"`
}

// ErrorBody carries the stable error taxonomy fields.
type ErrorBody struct {
	Code      string         `json:"code"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details"`
	Retryable bool           `json:"retryable"`
}

// requestID returns the id resolved by the request-id middleware, or mints a
// fresh one when the middleware did not run.
func requestID(c *echo.Context) string {
	if id := c.Request().Header.Get(headerRequestID); id != "" {
		return id
	}
	return uuid.NewString()
}

func successEnvelope(requestID string, data any) *Envelope {
	return &Envelope{
		RequestID: requestID,
		Status:    "success",
		Data:      data,
	}
}

func errorEnvelope(requestID string, svcErr *services.ServiceError) *Envelope {
	details := svcErr.Details
	if details == nil {
		details = map[string]any{}
	}
	return &Envelope{
		RequestID: requestID,
		Status:    "error",
		Error: &ErrorBody{
			Code:      svcErr.Code,
			Message:   svcErr.Message,
			Details:   details,
			Retryable: svcErr.Retryable,
		},
	}
}

// successResponse renders data in the success envelope.
func (s *Server) successResponse(c *echo.Context, data any) error {
	return c.JSON(http.StatusOK, successEnvelope(requestID(c), data))
}
