package api

import (
	"strings"

	echo "github.com/labstack/echo/v5"

	"github.com/traceline-io/traceline/pkg/services"
)

const bearerPrefix = "Bearer "

// authMiddleware guards /api/v1 routes with static bearer-token auth. Health
// routes pass through untouched. A missing or non-Bearer Authorization header
// yields AUTH_REQUIRED; a wrong token yields AUTH_FORBIDDEN.
func (s *Server) authMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c *echo.Context) error {
			if !strings.HasPrefix(c.Request().URL.Path, "/api/v1") {
				return next(c)
			}
			if !s.auth.Enabled {
				return next(c)
			}

			header := c.Request().Header.Get("Authorization")
			if !strings.HasPrefix(header, bearerPrefix) {
				return s.errorResponse(c, services.NewAuthRequiredError("Authorization token is required"))
			}
			if strings.TrimPrefix(header, bearerPrefix) != s.auth.Token {
				return s.errorResponse(c, services.NewAuthForbiddenError("Authorization token is invalid"))
			}
			return next(c)
		}
	}
}

// requestActor resolves the actor identity recorded in audit entries. By the
// time a handler runs, the auth middleware has already rejected invalid
// tokens, so an enabled-auth request is always the token user.
func (s *Server) requestActor() services.Actor {
	if !s.auth.Enabled {
		return services.AnonymousActor
	}
	return services.TokenActor
}
