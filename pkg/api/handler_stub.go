package api

import (
	echo "github.com/labstack/echo/v5"

	"github.com/traceline-io/traceline/pkg/services"
)

const (
	diffsNotImplementedMsg   = "Diff endpoints are part of M3 scope and are not implemented in this build"
	bundlesNotImplementedMsg = "Bundle workflows are part of M3 scope and are not implemented in this build"
)

func (s *Server) createDiffHandler(c *echo.Context) error {
	return s.errorResponse(c, services.NewNotImplementedError(diffsNotImplementedMsg))
}

func (s *Server) getDiffHandler(c *echo.Context) error {
	return s.errorResponse(c, services.NewNotImplementedError(diffsNotImplementedMsg))
}

func (s *Server) exportBundleHandler(c *echo.Context) error {
	return s.errorResponse(c, services.NewNotImplementedError(bundlesNotImplementedMsg))
}

func (s *Server) importBundleHandler(c *echo.Context) error {
	return s.errorResponse(c, services.NewNotImplementedError(bundlesNotImplementedMsg))
}
