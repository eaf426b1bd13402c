// handlers_health.go - Health check handlers
package api

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

// HealthHandlerImpl implements the HealthHandler interface
type HealthHandlerImpl struct {
	version string
	gateway string
}

// NewHealthHandler creates a new health handler. gatewayMode is reported
// as-is so operators can tell a local backend from a remote one.
func NewHealthHandler(version, gatewayMode string) HealthHandler {
	return &HealthHandlerImpl{
		version: version,
		gateway: gatewayMode,
	}
}

// HandleHealth returns server health status
func (h *HealthHandlerImpl) HandleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]interface{}{
		"status":  "ok",
		"version": h.version,
		"gateway": h.gateway,
	})
}
