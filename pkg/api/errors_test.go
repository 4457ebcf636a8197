package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	echo "github.com/labstack/echo/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/traceline-io/traceline/pkg/services"
)

func TestStatusForCode(t *testing.T) {
	tests := []struct {
		code string
		want int
	}{
		{services.CodeValidationError, http.StatusBadRequest},
		{services.CodeAuthRequired, http.StatusUnauthorized},
		{services.CodeAuthForbidden, http.StatusForbidden},
		{services.CodeNotFound, http.StatusNotFound},
		{services.CodeConflict, http.StatusConflict},
		{services.CodeNotImplemented, http.StatusNotImplemented},
		{services.CodeDependencyUnavailable, http.StatusServiceUnavailable},
		{services.CodeInternalError, http.StatusInternalServerError},
		{"SOMETHING_ELSE", http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, statusForCode(tt.code), "code %s", tt.code)
	}
}

func TestErrorResponse(t *testing.T) {
	render := func(t *testing.T, err error) (*httptest.ResponseRecorder, Envelope) {
		t.Helper()
		e := echo.New()
		req := httptest.NewRequest(http.MethodGet, "/api/v1/runs/x", nil)
		req.Header.Set(headerRequestID, "req-1")
		rec := httptest.NewRecorder()
		c := e.NewContext(req, rec)

		s := &Server{}
		require.NoError(t, s.errorResponse(c, err))

		var env Envelope
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
		return rec, env
	}

	t.Run("service errors carry their taxonomy", func(t *testing.T) {
		rec, env := render(t, services.NewNotFoundError("Run not found", map[string]any{"run_id": "x"}))

		assert.Equal(t, http.StatusNotFound, rec.Code)
		assert.Equal(t, "error", env.Status)
		assert.Equal(t, "req-1", env.RequestID)
		require.NotNil(t, env.Error)
		assert.Equal(t, services.CodeNotFound, env.Error.Code)
		assert.Equal(t, "Run not found", env.Error.Message)
		assert.Equal(t, "x", env.Error.Details["run_id"])
		assert.False(t, env.Error.Retryable)
		assert.Nil(t, env.Data)
	})

	t.Run("dependency errors are retryable", func(t *testing.T) {
		rec, env := render(t, services.NewDependencyError("artifact store write failed"))

		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
		require.NotNil(t, env.Error)
		assert.True(t, env.Error.Retryable)
	})

	t.Run("unexpected errors never leak their message", func(t *testing.T) {
		rec, env := render(t, errors.New("pq: cluster on fire"))

		assert.Equal(t, http.StatusInternalServerError, rec.Code)
		require.NotNil(t, env.Error)
		assert.Equal(t, services.CodeInternalError, env.Error.Code)
		assert.Equal(t, "internal server error", env.Error.Message)
		assert.NotContains(t, rec.Body.String(), "cluster on fire")
	})

	t.Run("both envelope keys are always present", func(t *testing.T) {
		rec, _ := render(t, services.NewValidationError("bad", nil))

		var raw map[string]any
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &raw))
		_, hasData := raw["data"]
		_, hasError := raw["error"]
		assert.True(t, hasData, "data key serializes as null on errors")
		assert.True(t, hasError)
	})
}
