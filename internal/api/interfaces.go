// interfaces.go - Handler interface definitions for clean separation of concerns
package api

import (
	"context"

	"github.com/labstack/echo/v4"

	"github.com/mbp-platform/envmodel/internal/gateway"
	"github.com/mbp-platform/envmodel/internal/session"
)

// HealthHandler handles health check operations
type HealthHandler interface {
	HandleHealth(c echo.Context) error
}

// ModelHandler lists and deletes persisted models
type ModelHandler interface {
	HandleListModels(c echo.Context) error
	HandleDeleteModel(c echo.Context) error
}

// SessionHandler handles editor sessions and the interactions inside them
type SessionHandler interface {
	HandleOpenSession(c echo.Context) error
	HandleGetSession(c echo.Context) error
	HandleCloseSession(c echo.Context) error

	HandlePressPalette(c echo.Context) error
	HandleDrop(c echo.Context) error
	HandleClickNode(c echo.Context) error
	HandleClickCanvas(c echo.Context) error
	HandleEditForm(c echo.Context) error
	HandleGestureStart(c echo.Context) error
	HandleGestureDrag(c echo.Context) error
	HandleGestureEnd(c echo.Context) error
	HandleDeleteNode(c echo.Context) error
	HandleDeleteFocused(c echo.Context) error
	HandleConnect(c echo.Context) error
	HandleDetach(c echo.Context) error
	HandleEditLabel(c echo.Context) error

	HandleSave(c echo.Context) error
	HandleRegister(c echo.Context) error
	HandleDeploy(c echo.Context) error
	HandleUndeploy(c echo.Context) error
	HandleProcessing(c echo.Context) error
	HandleExport(c echo.Context) error
	HandleImport(c echo.Context) error
}

// BackendHandler serves the MBP REST surface over an in-process backend
type BackendHandler interface {
	HandleListModels(c echo.Context) error
	HandleCreateModel(c echo.Context) error
	HandleUpdateModel(c echo.Context) error
	HandleDeleteModelByName(c echo.Context) error
	HandleListEntities(c echo.Context) error
	HandleAddEntity(c echo.Context) error
	HandleDeleteEntity(c echo.Context) error
	HandleDeploy(c echo.Context) error
	HandleUndeploy(c echo.Context) error
}

// SessionManager defines the interface for session management
// This allows mocking in tests
type SessionManager interface {
	StartSession(ctx context.Context, owner, name string, load bool) (*session.Session, error)
	GetSession(id string) (*session.Session, bool)
	CloseSession(id string) bool
	Gateway() gateway.Gateway
}

var _ SessionManager = (*session.Manager)(nil)
