// routes.go - Route registration helpers
package api

import (
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"

	"github.com/mbp-platform/envmodel/internal/gateway"
)

// BackendPrefix is where the in-process MBP backend is mounted. A
// gateway.Client pointed at http://host:port/mbp talks to it.
const BackendPrefix = "/mbp"

// Dependencies holds all handler dependencies
type Dependencies struct {
	Sessions    SessionManager
	Gateway     gateway.Gateway
	Local       *gateway.Local // nil unless the backend runs in-process
	GatewayMode string
	Version     string
	Logger      zerolog.Logger
}

// Handlers holds all handler instances
type Handlers struct {
	Health    HealthHandler
	Models    ModelHandler
	Sessions  SessionHandler
	Backend   BackendHandler
	WebSocket *WebSocketHandler
}

// NewHandlers creates all handler instances
func NewHandlers(deps *Dependencies) *Handlers {
	lg := deps.Logger.With().Str("component", "api").Logger()
	h := &Handlers{
		Health:    NewHealthHandler(deps.Version, deps.GatewayMode),
		Models:    NewModelHandler(deps.Gateway, lg),
		Sessions:  NewSessionHandler(deps.Sessions, lg),
		WebSocket: NewWebSocketHandler(deps.Sessions, deps.Logger),
	}
	if deps.Local != nil {
		h.Backend = NewBackendHandler(deps.Local)
	}
	return h
}

// RegisterRoutes registers all API routes with the Echo instance
func RegisterRoutes(e *echo.Echo, handlers *Handlers) {
	apiGroup := e.Group("/api")

	// Health check
	apiGroup.GET("/health", handlers.Health.HandleHealth)

	// Persisted models
	apiGroup.GET("/models", handlers.Models.HandleListModels)
	apiGroup.DELETE("/models/:name", handlers.Models.HandleDeleteModel)

	// Editor sessions
	s := apiGroup.Group("/sessions")
	s.POST("", handlers.Sessions.HandleOpenSession)
	s.GET("/:id", handlers.Sessions.HandleGetSession)
	s.DELETE("/:id", handlers.Sessions.HandleCloseSession)

	s.POST("/:id/palette", handlers.Sessions.HandlePressPalette)
	s.POST("/:id/drop", handlers.Sessions.HandleDrop)
	s.POST("/:id/nodes/:elementId/click", handlers.Sessions.HandleClickNode)
	s.POST("/:id/canvas/click", handlers.Sessions.HandleClickCanvas)
	s.PUT("/:id/form", handlers.Sessions.HandleEditForm)
	s.POST("/:id/gesture/start", handlers.Sessions.HandleGestureStart)
	s.POST("/:id/gesture/drag", handlers.Sessions.HandleGestureDrag)
	s.POST("/:id/gesture/end", handlers.Sessions.HandleGestureEnd)
	s.DELETE("/:id/nodes/:elementId", handlers.Sessions.HandleDeleteNode)
	s.DELETE("/:id/focused", handlers.Sessions.HandleDeleteFocused)
	s.POST("/:id/connections", handlers.Sessions.HandleConnect)
	s.DELETE("/:id/connections/:connId", handlers.Sessions.HandleDetach)
	s.PUT("/:id/connections/:connId", handlers.Sessions.HandleEditLabel)

	s.POST("/:id/save", handlers.Sessions.HandleSave)
	s.POST("/:id/register", handlers.Sessions.HandleRegister)
	s.POST("/:id/deploy", handlers.Sessions.HandleDeploy)
	s.POST("/:id/undeploy", handlers.Sessions.HandleUndeploy)
	s.GET("/:id/processing", handlers.Sessions.HandleProcessing)
	s.GET("/:id/export", handlers.Sessions.HandleExport)
	s.POST("/:id/import", handlers.Sessions.HandleImport)

	RegisterWebSocketRoutes(e, handlers)

	if handlers.Backend != nil {
		RegisterBackendRoutes(e, handlers.Backend)
	}
}

// RegisterWebSocketRoutes registers WebSocket routes
func RegisterWebSocketRoutes(e *echo.Echo, handlers *Handlers) {
	e.GET("/api/ws/sessions/:id", handlers.WebSocket.HandleWebSocket)
}

// RegisterBackendRoutes mounts the MBP REST surface under BackendPrefix.
func RegisterBackendRoutes(e *echo.Echo, b BackendHandler) {
	g := e.Group(BackendPrefix + "/api")
	g.GET("/env-models", b.HandleListModels)
	g.POST("/env-models", b.HandleCreateModel)
	g.PUT("/env-models/:id", b.HandleUpdateModel)
	g.DELETE("/env-models/by-name/:name", b.HandleDeleteModelByName)
	g.POST("/deploy/:category/:id", b.HandleDeploy)
	g.DELETE("/deploy/:category/:id", b.HandleUndeploy)
	g.GET("/:category", b.HandleListEntities)
	g.POST("/:category", b.HandleAddEntity)
	g.DELETE("/:category/:id", b.HandleDeleteEntity)
}

// quietPath reports paths polled often enough to drown the access log.
func quietPath(path string) bool {
	return path == "/api/health" || strings.HasSuffix(path, "/processing")
}

// SetupMiddleware configures common middleware
func SetupMiddleware(e *echo.Echo, lg zerolog.Logger, requestLogging bool) {
	e.HTTPErrorHandler = ErrorHandler

	access := lg.With().Str("component", "http").Logger()
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		Skipper: func(c echo.Context) bool {
			return !requestLogging || quietPath(c.Request().URL.Path)
		},
		LogMethod:   true,
		LogURI:      true,
		LogStatus:   true,
		LogLatency:  true,
		LogError:    true,
		HandleError: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			ev := access.Info()
			if v.Error != nil {
				ev = access.Warn().Err(v.Error)
			}
			ev.Str("method", v.Method).Str("uri", v.URI).Int("status", v.Status).
				Dur("latency", v.Latency).Msg("request")
			return nil
		},
	}))

	e.Use(middleware.RecoverWithConfig(middleware.RecoverConfig{
		StackSize: 1024 * 4,
	}))
}
