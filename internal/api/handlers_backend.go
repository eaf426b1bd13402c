// handlers_backend.go - MBP REST surface over the in-process backend
package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/mbp-platform/envmodel/internal/gateway"
	"github.com/mbp-platform/envmodel/internal/models"
)

// BackendHandlerImpl implements the BackendHandler interface. Responses
// follow the MBP wire format so gateway.Client can talk to it.
type BackendHandlerImpl struct {
	local *gateway.Local
}

// NewBackendHandler creates a new backend handler
func NewBackendHandler(local *gateway.Local) BackendHandler {
	return &BackendHandlerImpl{local: local}
}

type backendError struct {
	Status        int           `json:"status"`
	GlobalMessage string        `json:"globalMessage,omitempty"`
	Errors        []backendItem `json:"errors,omitempty"`
}

type backendItem struct {
	Message string `json:"message"`
}

func backendFailure(c echo.Context, err error) error {
	var ge *gateway.Error
	if !errors.As(err, &ge) {
		ge = &gateway.Error{Status: http.StatusInternalServerError, GlobalMessage: err.Error()}
	}
	body := backendError{Status: ge.Status, GlobalMessage: ge.GlobalMessage}
	for _, m := range ge.Messages {
		body.Errors = append(body.Errors, backendItem{Message: m})
	}
	return c.JSON(ge.Status, body)
}

func category(c echo.Context) gateway.Category {
	return gateway.Category(c.Param("category"))
}

// HandleListModels answers GET /api/env-models?owner=.
func (h *BackendHandlerImpl) HandleListModels(c echo.Context) error {
	list, err := h.local.ModelsByUsername(c.Request().Context(), c.QueryParam("owner"))
	if err != nil {
		return backendFailure(c, err)
	}
	return c.JSON(http.StatusOK, list)
}

// HandleCreateModel answers POST /api/env-models.
func (h *BackendHandlerImpl) HandleCreateModel(c echo.Context) error {
	var m models.Model
	if err := c.Bind(&m); err != nil {
		return backendFailure(c, &gateway.Error{Status: http.StatusBadRequest, GlobalMessage: "malformed model"})
	}
	m.ID = ""
	saved, err := h.local.SaveModel(c.Request().Context(), m)
	if err != nil {
		return backendFailure(c, err)
	}
	return c.JSON(http.StatusCreated, saved)
}

// HandleUpdateModel answers PUT /api/env-models/:id.
func (h *BackendHandlerImpl) HandleUpdateModel(c echo.Context) error {
	var m models.Model
	if err := c.Bind(&m); err != nil {
		return backendFailure(c, &gateway.Error{Status: http.StatusBadRequest, GlobalMessage: "malformed model"})
	}
	m.ID = c.Param("id")
	saved, err := h.local.SaveModel(c.Request().Context(), m)
	if err != nil {
		return backendFailure(c, err)
	}
	return c.JSON(http.StatusOK, saved)
}

// HandleDeleteModelByName answers DELETE /api/env-models/by-name/:name?owner=.
func (h *BackendHandlerImpl) HandleDeleteModelByName(c echo.Context) error {
	if err := h.local.DeleteModel(c.Request().Context(), c.QueryParam("owner"), c.Param("name")); err != nil {
		return backendFailure(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

type entityView struct {
	ID       string          `json:"id"`
	Name     string          `json:"name"`
	Deployed bool            `json:"deployed"`
	Payload  json.RawMessage `json:"payload,omitempty"`
}

// HandleListEntities answers GET /api/:category.
func (h *BackendHandlerImpl) HandleListEntities(c echo.Context) error {
	list, err := h.local.Entities(c.Request().Context(), category(c))
	if err != nil {
		return backendFailure(c, err)
	}
	out := make([]entityView, 0, len(list))
	for _, e := range list {
		out = append(out, entityView{ID: e.ID, Name: e.Name, Deployed: e.Deployed, Payload: e.Payload})
	}
	return c.JSON(http.StatusOK, out)
}

// HandleAddEntity answers POST /api/:category.
func (h *BackendHandlerImpl) HandleAddEntity(c echo.Context) error {
	var payload map[string]any
	if err := c.Bind(&payload); err != nil {
		return backendFailure(c, &gateway.Error{Status: http.StatusBadRequest, GlobalMessage: "malformed payload"})
	}
	ent, err := h.local.AddItem(c.Request().Context(), category(c), payload)
	if err != nil {
		return backendFailure(c, err)
	}
	return c.JSON(http.StatusCreated, ent)
}

// HandleDeleteEntity answers DELETE /api/:category/:id.
func (h *BackendHandlerImpl) HandleDeleteEntity(c echo.Context) error {
	if err := h.local.DeleteItem(c.Request().Context(), category(c), c.Param("id")); err != nil {
		return backendFailure(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

type deployBody struct {
	Parameters []gateway.Parameter `json:"parameters"`
}

// HandleDeploy answers POST /api/deploy/:category/:id.
func (h *BackendHandlerImpl) HandleDeploy(c echo.Context) error {
	var body deployBody
	if err := c.Bind(&body); err != nil {
		return backendFailure(c, &gateway.Error{Status: http.StatusBadRequest, GlobalMessage: "malformed parameters"})
	}
	if err := h.local.Deploy(c.Request().Context(), category(c), c.Param("id"), body.Parameters); err != nil {
		return backendFailure(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

// HandleUndeploy answers DELETE /api/deploy/:category/:id.
func (h *BackendHandlerImpl) HandleUndeploy(c echo.Context) error {
	if err := h.local.Undeploy(c.Request().Context(), category(c), c.Param("id")); err != nil {
		return backendFailure(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}
