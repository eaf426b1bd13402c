// handlers_session.go - Editor session handlers
package api

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/mbp-platform/envmodel/internal/editor"
	"github.com/mbp-platform/envmodel/internal/graph"
	"github.com/mbp-platform/envmodel/internal/lifecycle"
	"github.com/mbp-platform/envmodel/internal/models"
	"github.com/mbp-platform/envmodel/internal/session"
)

// SessionHandlerImpl implements the SessionHandler interface
type SessionHandlerImpl struct {
	mgr SessionManager
	lg  zerolog.Logger
}

// NewSessionHandler creates a new session handler
func NewSessionHandler(mgr SessionManager, lg zerolog.Logger) SessionHandler {
	return &SessionHandlerImpl{mgr: mgr, lg: lg}
}

// fail converts domain errors into API errors where a mapping exists.
func fail(err error) error {
	if apiErr := toAPIError(err); apiErr != nil {
		return apiErr
	}
	return err
}

// opContext keeps request values but drops cancellation: a started
// operation runs to completion after the client disconnects.
func opContext(c echo.Context) context.Context {
	return context.WithoutCancel(c.Request().Context())
}

func (h *SessionHandlerImpl) session(c echo.Context) (*session.Session, error) {
	id := c.Param("id")
	s, ok := h.mgr.GetSession(id)
	if !ok {
		return nil, NewNotFoundError("session", id)
	}
	return s, nil
}

func (h *SessionHandlerImpl) editor(c echo.Context) (*editor.Editor, error) {
	s, err := h.session(c)
	if err != nil {
		return nil, err
	}
	return s.Editor, nil
}

type openSessionRequest struct {
	Owner string `json:"owner"`
	Name  string `json:"name"`
	Load  bool   `json:"load"`
}

type sessionResponse struct {
	ID       string          `json:"id"`
	Owner    string          `json:"owner"`
	Snapshot editor.Snapshot `json:"snapshot"`
}

// acceptedResponse answers gestures that may be silently rejected.
type acceptedResponse struct {
	Accepted   bool               `json:"accepted"`
	Node       *models.NodeRecord `json:"node,omitempty"`
	Connection *graph.Connection  `json:"connection,omitempty"`
	Geometry   *graph.Geometry    `json:"geometry,omitempty"`
}

type operationResponse struct {
	Operation *models.ProcessingState `json:"operation"`
}

func operationResult(c echo.Context, op *lifecycle.Operation, err error) error {
	if err != nil {
		return fail(err)
	}
	if op == nil {
		return c.JSON(http.StatusOK, operationResponse{})
	}
	st := op.State()
	return c.JSON(http.StatusOK, operationResponse{Operation: &st})
}

// HandleOpenSession opens an editor session, optionally loading a model.
func (h *SessionHandlerImpl) HandleOpenSession(c echo.Context) error {
	var req openSessionRequest
	if err := c.Bind(&req); err != nil {
		return NewBadRequestError("invalid request body", err)
	}
	if req.Owner == "" {
		return NewValidationError("owner")
	}
	if req.Name == "" {
		return NewValidationError("name")
	}

	s, err := h.mgr.StartSession(c.Request().Context(), req.Owner, req.Name, req.Load)
	if err != nil {
		return fail(err)
	}
	return c.JSON(http.StatusCreated, sessionResponse{ID: s.ID, Owner: s.Owner, Snapshot: s.Editor.Snapshot()})
}

// HandleGetSession returns the session snapshot.
func (h *SessionHandlerImpl) HandleGetSession(c echo.Context) error {
	s, err := h.session(c)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, sessionResponse{ID: s.ID, Owner: s.Owner, Snapshot: s.Editor.Snapshot()})
}

// HandleCloseSession closes the session. Unsaved changes are lost.
func (h *SessionHandlerImpl) HandleCloseSession(c echo.Context) error {
	id := c.Param("id")
	if !h.mgr.CloseSession(id) {
		return NewNotFoundError("session", id)
	}
	return c.NoContent(http.StatusNoContent)
}

type paletteRequest struct {
	Kind    models.NodeType `json:"kind"`
	SubType string          `json:"subType"`
}

// HandlePressPalette arms the stamp for the next drop.
func (h *SessionHandlerImpl) HandlePressPalette(c echo.Context) error {
	e, err := h.editor(c)
	if err != nil {
		return err
	}
	var req paletteRequest
	if err := c.Bind(&req); err != nil {
		return NewBadRequestError("invalid request body", err)
	}
	if err := e.PressPalette(req.Kind, req.SubType); err != nil {
		return fail(err)
	}
	return c.NoContent(http.StatusNoContent)
}

type pointRequest struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

func (p pointRequest) point() graph.Point { return graph.Point{X: p.X, Y: p.Y} }

// HandleDrop places the armed stamp.
func (h *SessionHandlerImpl) HandleDrop(c echo.Context) error {
	e, err := h.editor(c)
	if err != nil {
		return err
	}
	var req pointRequest
	if err := c.Bind(&req); err != nil {
		return NewBadRequestError("invalid request body", err)
	}
	n, ok := e.Drop(req.point())
	if !ok {
		return c.JSON(http.StatusOK, acceptedResponse{})
	}
	rec := n.Record()
	return c.JSON(http.StatusOK, acceptedResponse{Accepted: true, Node: &rec})
}

// HandleClickNode focuses a node.
func (h *SessionHandlerImpl) HandleClickNode(c echo.Context) error {
	e, err := h.editor(c)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, acceptedResponse{Accepted: e.Click(c.Param("elementId"))})
}

// HandleClickCanvas commits the focused node's form.
func (h *SessionHandlerImpl) HandleClickCanvas(c echo.Context) error {
	e, err := h.editor(c)
	if err != nil {
		return err
	}
	e.ClickCanvas()
	return c.NoContent(http.StatusNoContent)
}

type formRequest struct {
	Fields map[string]string `json:"fields"`
}

// HandleEditForm buffers edits on the focused node's form.
func (h *SessionHandlerImpl) HandleEditForm(c echo.Context) error {
	e, err := h.editor(c)
	if err != nil {
		return err
	}
	var req formRequest
	if err := c.Bind(&req); err != nil {
		return NewBadRequestError("invalid request body", err)
	}
	if len(req.Fields) == 0 {
		return NewValidationError("fields")
	}
	accepted := true
	for field, value := range req.Fields {
		if !e.EditForm(field, value) {
			accepted = false
		}
	}
	return c.JSON(http.StatusOK, acceptedResponse{Accepted: accepted})
}

type gestureStartRequest struct {
	Kind         editor.GestureKind `json:"kind"`
	ElementID    string             `json:"elementId"`
	X            float64            `json:"x"`
	Y            float64            `json:"y"`
	HandleOffset float64            `json:"handleOffset"`
}

// HandleGestureStart starts a move, resize or rotate gesture.
func (h *SessionHandlerImpl) HandleGestureStart(c echo.Context) error {
	e, err := h.editor(c)
	if err != nil {
		return err
	}
	var req gestureStartRequest
	if err := c.Bind(&req); err != nil {
		return NewBadRequestError("invalid request body", err)
	}
	if req.ElementID == "" {
		return NewValidationError("elementId")
	}
	p := graph.Point{X: req.X, Y: req.Y}
	if err := e.StartGesture(req.Kind, req.ElementID, p, req.HandleOffset); err != nil {
		return fail(err)
	}
	return c.NoContent(http.StatusNoContent)
}

// HandleGestureDrag previews the running gesture.
func (h *SessionHandlerImpl) HandleGestureDrag(c echo.Context) error {
	return h.gestureStep(c, (*editor.Editor).Drag)
}

// HandleGestureEnd commits the running gesture.
func (h *SessionHandlerImpl) HandleGestureEnd(c echo.Context) error {
	return h.gestureStep(c, (*editor.Editor).EndGesture)
}

func (h *SessionHandlerImpl) gestureStep(c echo.Context, step func(*editor.Editor, graph.Point) (graph.Geometry, error)) error {
	e, err := h.editor(c)
	if err != nil {
		return err
	}
	var req pointRequest
	if err := c.Bind(&req); err != nil {
		return NewBadRequestError("invalid request body", err)
	}
	geo, err := step(e, req.point())
	if err != nil {
		return fail(err)
	}
	return c.JSON(http.StatusOK, acceptedResponse{Accepted: true, Geometry: &geo})
}

// HandleDeleteNode runs the deletion cascade for a node.
func (h *SessionHandlerImpl) HandleDeleteNode(c echo.Context) error {
	e, err := h.editor(c)
	if err != nil {
		return err
	}
	op, err := e.DropOnTrash(opContext(c), c.Param("elementId"))
	return operationResult(c, op, err)
}

// HandleDeleteFocused deletes the focused node, if any.
func (h *SessionHandlerImpl) HandleDeleteFocused(c echo.Context) error {
	e, err := h.editor(c)
	if err != nil {
		return err
	}
	op, err := e.DeleteFocused(opContext(c))
	return operationResult(c, op, err)
}

type connectRequest struct {
	SourceID     string `json:"sourceId"`
	TargetID     string `json:"targetId"`
	Label        string `json:"label"`
	LabelVisible bool   `json:"labelVisible"`
}

// HandleConnect draws a connection. Invalid connections are answered with
// accepted=false.
func (h *SessionHandlerImpl) HandleConnect(c echo.Context) error {
	e, err := h.editor(c)
	if err != nil {
		return err
	}
	var req connectRequest
	if err := c.Bind(&req); err != nil {
		return NewBadRequestError("invalid request body", err)
	}
	conn, ok := e.ConnectGesture(req.SourceID, req.TargetID, req.Label, req.LabelVisible)
	if !ok {
		return c.JSON(http.StatusOK, acceptedResponse{})
	}
	return c.JSON(http.StatusOK, acceptedResponse{Accepted: true, Connection: &conn})
}

// HandleDetach removes a connection and demotes its target.
func (h *SessionHandlerImpl) HandleDetach(c echo.Context) error {
	e, err := h.editor(c)
	if err != nil {
		return err
	}
	op, err := e.DetachGesture(opContext(c), c.Param("connId"))
	return operationResult(c, op, err)
}

type labelRequest struct {
	Label   string `json:"label"`
	Visible bool   `json:"visible"`
}

// HandleEditLabel changes a connection label.
func (h *SessionHandlerImpl) HandleEditLabel(c echo.Context) error {
	e, err := h.editor(c)
	if err != nil {
		return err
	}
	var req labelRequest
	if err := c.Bind(&req); err != nil {
		return NewBadRequestError("invalid request body", err)
	}
	return c.JSON(http.StatusOK, acceptedResponse{Accepted: e.EditLabel(c.Param("connId"), req.Label, req.Visible)})
}

// HandleSave saves the model.
func (h *SessionHandlerImpl) HandleSave(c echo.Context) error {
	e, err := h.editor(c)
	if err != nil {
		return err
	}
	op, err := e.Save(opContext(c))
	return operationResult(c, op, err)
}

// HandleRegister registers every unregistered device, sensor and actuator.
func (h *SessionHandlerImpl) HandleRegister(c echo.Context) error {
	e, err := h.editor(c)
	if err != nil {
		return err
	}
	op, err := e.RegisterAll(opContext(c))
	return operationResult(c, op, err)
}

// HandleDeploy deploys every registered component.
func (h *SessionHandlerImpl) HandleDeploy(c echo.Context) error {
	e, err := h.editor(c)
	if err != nil {
		return err
	}
	op, err := e.DeployAll(opContext(c))
	return operationResult(c, op, err)
}

// HandleUndeploy undeploys every deployed component.
func (h *SessionHandlerImpl) HandleUndeploy(c echo.Context) error {
	e, err := h.editor(c)
	if err != nil {
		return err
	}
	op, err := e.UndeployAll(opContext(c))
	return operationResult(c, op, err)
}

// HandleProcessing returns the current Processing State, or 204 when the
// last one has been cleared.
func (h *SessionHandlerImpl) HandleProcessing(c echo.Context) error {
	e, err := h.editor(c)
	if err != nil {
		return err
	}
	st := e.Orchestrator().Current()
	if st == nil {
		return c.NoContent(http.StatusNoContent)
	}
	return c.JSON(http.StatusOK, st)
}

// HandleExport returns the serialized model document as JSON, or as
// msgpack with ?format=msgpack.
func (h *SessionHandlerImpl) HandleExport(c echo.Context) error {
	e, err := h.editor(c)
	if err != nil {
		return err
	}
	e.Flush()
	doc := e.Graph().Serialize()

	switch c.QueryParam("format") {
	case "", "json":
		return c.JSON(http.StatusOK, doc)
	case "msgpack":
		data, err := msgpack.Marshal(doc)
		if err != nil {
			return NewInternalError("failed to encode msgpack", err)
		}
		return c.Blob(http.StatusOK, "application/msgpack", data)
	default:
		return NewBadRequestError("unsupported format: "+c.QueryParam("format"), nil)
	}
}

type importRequest struct {
	Format string `json:"format"`
	Data   string `json:"data"` // base64
}

func (r *importRequest) validate() error {
	if r.Data == "" {
		return NewValidationError("data")
	}
	if r.Format == "" {
		r.Format = "json"
	}
	if r.Format != "json" && r.Format != "msgpack" {
		return NewBadRequestError("unsupported format: "+r.Format, nil)
	}
	return nil
}

// HandleImport replaces the canvas with an uploaded document, the inverse
// of export. The session keeps its model name and owner.
func (h *SessionHandlerImpl) HandleImport(c echo.Context) error {
	e, err := h.editor(c)
	if err != nil {
		return err
	}
	var req importRequest
	if err := c.Bind(&req); err != nil {
		return NewBadRequestError("invalid JSON body", err)
	}
	if err := req.validate(); err != nil {
		return err
	}

	decoded, err := base64.StdEncoding.DecodeString(req.Data)
	if err != nil {
		return NewBadRequestError("invalid base64 data", err)
	}

	var doc *models.ModelDocument
	if req.Format == "msgpack" {
		doc = models.NewModelDocument()
		if err := msgpack.Unmarshal(decoded, doc); err != nil {
			return NewBadRequestError("invalid msgpack document", err)
		}
		if doc.FormatVersion > models.CurrentFormatVersion {
			return NewBadRequestError(fmt.Sprintf("unsupported model format version %d", doc.FormatVersion), nil)
		}
	} else if doc, err = models.DecodeDocument(decoded); err != nil {
		return NewBadRequestError("invalid document", err)
	}

	m := e.Orchestrator().Model()
	if err := m.SetDocument(doc); err != nil {
		return NewInternalError("failed to encode document", err)
	}
	if err := e.Load(m); err != nil {
		if errors.Is(err, lifecycle.ErrOperationInProgress) {
			return fail(err)
		}
		return NewBadRequestError("document rejected", err)
	}
	h.lg.Info().Str("session", c.Param("id")).Int("nodes", len(doc.Nodes)).Msg("document imported")
	return c.JSON(http.StatusOK, e.Snapshot())
}
