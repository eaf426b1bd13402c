// handlers_models.go - Persisted model handlers
package api

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/mbp-platform/envmodel/internal/gateway"
)

// ModelHandlerImpl implements the ModelHandler interface
type ModelHandlerImpl struct {
	gw gateway.Gateway
	lg zerolog.Logger
}

// NewModelHandler creates a new model handler
func NewModelHandler(gw gateway.Gateway, lg zerolog.Logger) ModelHandler {
	return &ModelHandlerImpl{gw: gw, lg: lg}
}

type modelSummary struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Owner       string `json:"owner,omitempty"`
	Nodes       int    `json:"nodes"`
	Connections int    `json:"connections"`
}

// HandleListModels lists the models of ?username=.
func (h *ModelHandlerImpl) HandleListModels(c echo.Context) error {
	username := c.QueryParam("username")
	if username == "" {
		return NewValidationError("username")
	}

	list, err := h.gw.ModelsByUsername(c.Request().Context(), username)
	if err != nil {
		return NewGatewayError(err)
	}

	out := make([]modelSummary, 0, len(list))
	for _, m := range list {
		s := modelSummary{ID: m.ID, Name: m.Name, Description: m.Description, Owner: m.Owner}
		if doc, err := m.Document(); err == nil {
			s.Nodes = len(doc.Nodes)
			s.Connections = len(doc.Connections)
		} else {
			h.lg.Warn().Err(err).Str("model", m.Name).Msg("model document unreadable")
		}
		out = append(out, s)
	}
	return c.JSON(http.StatusOK, out)
}

// HandleDeleteModel deletes the model :name of ?username=.
func (h *ModelHandlerImpl) HandleDeleteModel(c echo.Context) error {
	username := c.QueryParam("username")
	if username == "" {
		return NewValidationError("username")
	}
	name := c.Param("name")
	if err := h.gw.DeleteModel(c.Request().Context(), username, name); err != nil {
		return NewGatewayError(err)
	}
	h.lg.Info().Str("model", name).Str("owner", username).Msg("model deleted")
	return c.NoContent(http.StatusNoContent)
}
