package api

import (
	"github.com/google/uuid"
	echo "github.com/labstack/echo/v5"
)

// requestIDMiddleware resolves the request id once per request: the caller's
// X-Request-Id when present, else a fresh UUID. The resolved id is written
// back onto the request so every envelope in the chain sees the same value,
// and echoed in the response header.
func requestIDMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c *echo.Context) error {
			id := c.Request().Header.Get(headerRequestID)
			if id == "" {
				id = uuid.NewString()
				c.Request().Header.Set(headerRequestID, id)
			}
			c.Response().Header().Set(headerRequestID, id)
			return next(c)
		}
	}
}

// securityHeaders returns middleware that sets standard security response headers.
func securityHeaders() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c *echo.Context) error {
			h := c.Response().Header()
			h.Set("X-Frame-Options", "DENY")
			h.Set("X-Content-Type-Options", "nosniff")
			h.Set("Referrer-Policy", "strict-origin-when-cross-origin")
			h.Set("Permissions-Policy", "camera=(), microphone=(), geolocation=()")
			return next(c)
		}
	}
}
