// Package editor is the interaction layer of the environment model editor.
// It turns palette, pointer and keyboard gestures into graph mutations and
// forwards remote operations to the lifecycle orchestrator.
package editor

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/mbp-platform/envmodel/internal/graph"
	"github.com/mbp-platform/envmodel/internal/lifecycle"
	"github.com/mbp-platform/envmodel/internal/models"
)

var (
	ErrUnknownPaletteItem = errors.New("unknown palette item")
	ErrNoGesture          = errors.New("no gesture in progress")
	ErrNotFocused         = errors.New("node is not focused")
	ErrNotRotatable       = errors.New("node cannot be rotated")
)

// Catalog resolves palette entries to what they stamp onto the canvas.
type Catalog interface {
	Lookup(kind models.NodeType, subType string) (graph.TypeDescriptor, error)
}

// Option configures an Editor.
type Option func(*Editor)

// WithConnector sets the diagramming layer.
func WithConnector(c Connector) Option {
	return func(e *Editor) {
		if c != nil {
			e.conn = c
		}
	}
}

// WithLogger sets the logger.
func WithLogger(lg zerolog.Logger) Option {
	return func(e *Editor) { e.lg = lg.With().Str("component", "editor").Logger() }
}

// Editor holds the interaction state of one open diagram.
type Editor struct {
	g       *graph.Graph
	orch    *lifecycle.Orchestrator
	catalog Catalog
	conn    Connector
	lg      zerolog.Logger

	mu      sync.Mutex
	stamp   *graph.TypeDescriptor
	focused string
	form    *form
	gesture *gesture
	// isMoving holds the element whose next click belongs to the gesture
	// that just ended.
	isMoving string
}

// New returns an editor over g. Remote operations go through orch.
func New(g *graph.Graph, orch *lifecycle.Orchestrator, catalog Catalog, opts ...Option) *Editor {
	e := &Editor{
		g:       g,
		orch:    orch,
		catalog: catalog,
		conn:    NopConnector{},
		lg:      zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Graph returns the underlying graph.
func (e *Editor) Graph() *graph.Graph { return e.g }

// Orchestrator returns the lifecycle orchestrator.
func (e *Editor) Orchestrator() *lifecycle.Orchestrator { return e.orch }

// PressPalette arms the stamp for the next drop.
func (e *Editor) PressPalette(kind models.NodeType, subType string) error {
	desc, err := e.catalog.Lookup(kind, subType)
	if err != nil {
		return fmt.Errorf("%w: %s/%s", ErrUnknownPaletteItem, kind, subType)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.stamp = &desc
	return nil
}

// Drop places the armed stamp at p. Without a stamp nothing happens and
// ok is false. The stamp is consumed.
func (e *Editor) Drop(p graph.Point) (graph.Node, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.stamp == nil {
		return graph.Node{}, false
	}
	desc := *e.stamp
	e.stamp = nil

	n, err := e.g.CreateNode(desc, p)
	if err != nil {
		e.lg.Debug().Err(err).Msg("drop rejected")
		return graph.Node{}, false
	}
	e.register(n)
	return n, true
}

func (e *Editor) register(n graph.Node) {
	switch {
	case n.Kind == models.NodeTypeDevice:
		e.conn.MakeSource(n.ElementID)
		e.conn.MakeTarget(n.ElementID)
	case n.Kind.IsComponent():
		e.conn.MakeTarget(n.ElementID)
	}
}

// Click focuses a node. The previously focused node's form is committed
// first. A click that ends a move or resize gesture is swallowed.
func (e *Editor) Click(elementID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.isMoving != "" && e.isMoving == elementID {
		e.isMoving = ""
		return false
	}
	e.isMoving = ""

	n, ok := e.g.Node(elementID)
	if !ok {
		return false
	}
	e.commitLocked()
	e.focused = elementID
	e.form = loadForm(n)
	return true
}

// ClickCanvas commits the focused node's form. Focus is unchanged.
func (e *Editor) ClickCanvas() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.isMoving = ""
	e.commitLocked()
}

// EditForm buffers a form edit on the focused node. Nothing reaches the
// graph until the form is committed.
func (e *Editor) EditForm(field, value string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.form == nil {
		return false
	}
	return e.form.set(field, value)
}

// Flush commits pending form edits.
func (e *Editor) Flush() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.commitLocked()
}

func (e *Editor) commitLocked() {
	if e.form == nil || !e.form.dirty {
		return
	}
	if _, err := e.g.ApplyAttributes(e.form.elementID, e.form.attrs); err != nil {
		e.lg.Debug().Err(err).Str("element", e.form.elementID).Msg("form commit dropped")
		e.form = nil
		e.focused = ""
		return
	}
	e.form.dirty = false
}

// Focused returns the focused element id, if any.
func (e *Editor) Focused() (string, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.focused, e.focused != ""
}

// StartGesture begins a move, resize or rotate gesture at p. Moves work on
// any node; resize and rotate only on the focused one. handleOffset is the
// angle of the rotate handle relative to the node's center.
func (e *Editor) StartGesture(kind GestureKind, elementID string, p graph.Point, handleOffset float64) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	n, ok := e.g.Node(elementID)
	if !ok {
		return fmt.Errorf("%w: %s", graph.ErrNodeNotFound, elementID)
	}
	switch kind {
	case GestureMove:
	case GestureResize:
		if e.focused != elementID {
			return ErrNotFocused
		}
	case GestureRotate:
		if e.focused != elementID {
			return ErrNotFocused
		}
		if !n.Kind.Rotatable() {
			return ErrNotRotatable
		}
	default:
		return fmt.Errorf("unknown gesture %q", kind)
	}

	e.gesture = &gesture{
		kind:         kind,
		elementID:    elementID,
		start:        p,
		orig:         n.Geometry,
		freeResize:   n.Kind.FreeResize(),
		handleOffset: handleOffset,
		current:      n.Geometry,
	}
	return nil
}

// Drag updates the running gesture. The geometry is previewed through the
// connector only; the graph is untouched until EndGesture.
func (e *Editor) Drag(p graph.Point) (graph.Geometry, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.gesture == nil {
		return graph.Geometry{}, ErrNoGesture
	}
	geo := e.gesture.apply(p)
	e.conn.Repaint(e.gesture.elementID)
	return geo, nil
}

// EndGesture commits the gesture's geometry at p.
func (e *Editor) EndGesture(p graph.Point) (graph.Geometry, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	gs := e.gesture
	if gs == nil {
		return graph.Geometry{}, ErrNoGesture
	}
	e.gesture = nil

	geo := gs.apply(p)
	if err := e.g.SetGeometry(gs.elementID, geo); err != nil {
		return graph.Geometry{}, err
	}
	e.conn.Repaint(gs.elementID)
	if geo != gs.orig {
		e.isMoving = gs.elementID
	}
	n, _ := e.g.Node(gs.elementID)
	return n.Geometry, nil
}

// CancelGesture drops the running gesture without committing it.
func (e *Editor) CancelGesture() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.gesture != nil {
		e.conn.Repaint(e.gesture.elementID)
		e.gesture = nil
	}
}

// ConnectGesture draws a connection. Invalid connections are rejected
// silently and ok is false.
func (e *Editor) ConnectGesture(sourceID, targetID, label string, labelVisible bool) (graph.Connection, bool) {
	c, err := e.g.Connect(sourceID, targetID, label, labelVisible)
	if err != nil {
		e.lg.Debug().Err(err).Str("source", sourceID).Str("target", targetID).Msg("connection rejected")
		return graph.Connection{}, false
	}
	e.conn.Repaint(sourceID)
	e.conn.Repaint(targetID)
	return c, true
}

// EditLabel changes a connection label.
func (e *Editor) EditLabel(connectionID, label string, visible bool) bool {
	if _, err := e.g.SetLabel(connectionID, label, visible); err != nil {
		return false
	}
	return true
}

// DetachGesture removes a connection and demotes its former target.
func (e *Editor) DetachGesture(ctx context.Context, connectionID string) (*lifecycle.Operation, error) {
	e.Flush()
	return e.orch.DetachConnection(ctx, connectionID)
}

// DeleteFocused deletes the focused node. Without focus it does nothing.
func (e *Editor) DeleteFocused(ctx context.Context) (*lifecycle.Operation, error) {
	id, ok := e.Focused()
	if !ok {
		return nil, nil
	}
	return e.DropOnTrash(ctx, id)
}

// DropOnTrash deletes a node through the orchestrator's cascade.
func (e *Editor) DropOnTrash(ctx context.Context, elementID string) (*lifecycle.Operation, error) {
	e.Flush()

	before := e.nodeSet()
	op, err := e.orch.DeleteNode(ctx, elementID)
	if err != nil {
		return nil, err
	}
	after := e.nodeSet()

	e.mu.Lock()
	defer e.mu.Unlock()
	for id := range before {
		if _, still := after[id]; still {
			continue
		}
		e.conn.Remove(id)
		if e.focused == id {
			e.focused = ""
			e.form = nil
		}
		if e.gesture != nil && e.gesture.elementID == id {
			e.gesture = nil
		}
	}
	return op, nil
}

func (e *Editor) nodeSet() map[string]struct{} {
	out := make(map[string]struct{})
	for _, n := range e.g.Nodes() {
		out[n.ElementID] = struct{}{}
	}
	return out
}

// Load replaces the canvas with a persisted model and resets the
// interaction state.
func (e *Editor) Load(m models.Model) error {
	doc, err := m.Document()
	if err != nil {
		return err
	}
	if e.orch.Busy() {
		return lifecycle.ErrOperationInProgress
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	old := e.g.Nodes()
	if err := e.g.Deserialize(doc); err != nil {
		return err
	}
	for _, n := range old {
		e.conn.Remove(n.ElementID)
	}
	e.orch.SetModel(m)
	e.stamp = nil
	e.focused = ""
	e.form = nil
	e.gesture = nil
	e.isMoving = ""

	for _, n := range e.g.Nodes() {
		e.register(n)
	}
	for _, c := range e.g.Connections() {
		e.conn.Repaint(c.SourceID)
	}
	return nil
}

// Save flushes the form and saves the model.
func (e *Editor) Save(ctx context.Context) (*lifecycle.Operation, error) {
	e.Flush()
	return e.orch.Save(ctx)
}

// RegisterAll flushes the form and registers every unregistered node.
func (e *Editor) RegisterAll(ctx context.Context) (*lifecycle.Operation, error) {
	e.Flush()
	return e.orch.RegisterAll(ctx)
}

// DeployAll flushes the form and deploys every registered component.
func (e *Editor) DeployAll(ctx context.Context) (*lifecycle.Operation, error) {
	e.Flush()
	return e.orch.DeployAll(ctx)
}

// UndeployAll flushes the form and undeploys every deployed component.
func (e *Editor) UndeployAll(ctx context.Context) (*lifecycle.Operation, error) {
	e.Flush()
	return e.orch.UndeployAll(ctx)
}
