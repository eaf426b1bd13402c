// Package graph holds the in-memory environment model: placed nodes, the
// device→component connections between them, and their lifecycle state.
package graph

import (
	"errors"
	"fmt"
	"strconv"
	"sync"

	"github.com/mbp-platform/envmodel/internal/models"
)

var (
	ErrNodeNotFound       = errors.New("node not found")
	ErrConnectionNotFound = errors.New("connection not found")
	ErrDuplicateElement   = errors.New("element id already in use")
	ErrLoopback           = errors.New("loopback connections are not allowed")
	ErrTargetOwned        = errors.New("target already has a device")
	ErrInvalidSource      = errors.New("connection source must be a device")
	ErrInvalidTarget      = errors.New("connection target must be a sensor or actuator")
	ErrInvalidTransition  = errors.New("invalid lifecycle transition")
)

// state is swapped wholesale on Deserialize.
type state struct {
	nodes     map[string]*Node
	order     []string
	conns     map[string]*Connection
	connOrder []string
	incoming  map[string]string   // target element id -> connection id
	outgoing  map[string][]string // source element id -> connection ids

	elementCount int
	connCount    int
}

func newState() *state {
	return &state{
		nodes:    make(map[string]*Node),
		conns:    make(map[string]*Connection),
		incoming: make(map[string]string),
		outgoing: make(map[string][]string),
	}
}

// Graph is safe for concurrent use.
type Graph struct {
	mu sync.RWMutex
	s  *state
}

// New returns an empty graph.
func New() *Graph {
	return &Graph{s: newState()}
}

// CreateNode places a new node at pos with a fresh element id.
// The counter is never rewound, so ids stay unique for the graph's lifetime.
func (g *Graph) CreateNode(desc TypeDescriptor, pos Point) (Node, error) {
	if !desc.Kind.IsRemote() && !desc.Kind.IsFloorplan() {
		return Node{}, fmt.Errorf("create node: unknown node type %q", desc.Kind)
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	s := g.s
	s.elementCount++
	id := ElementIDPrefix + strconv.Itoa(s.elementCount)

	geo := Geometry{X: pos.X, Y: pos.Y, Width: desc.Width, Height: desc.Height}
	if desc.Kind == models.NodeTypeRoom {
		geo.Width, geo.Height = RoomSize, RoomSize
	}

	n := &Node{
		ElementID: id,
		Kind:      desc.Kind,
		ClsName:   desc.ClsName,
		Geometry:  geo,
	}
	if desc.Kind.IsRemote() {
		n.EntityType = desc.EntityType
	}
	s.add(n)
	return *n, nil
}

// CreateNodeFromRecord rebuilds a persisted node, keeping its element id.
func (g *Graph) CreateNodeFromRecord(rec models.NodeRecord) (Node, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.s.createFromRecord(rec)
}

func (s *state) createFromRecord(rec models.NodeRecord) (Node, error) {
	if _, err := models.ParseNodeType(string(rec.NodeType)); err != nil {
		return Node{}, fmt.Errorf("node %s: %w", rec.ElementID, err)
	}
	if rec.ElementID == "" {
		return Node{}, errors.New("node record without elementId")
	}
	if _, exists := s.nodes[rec.ElementID]; exists {
		return Node{}, fmt.Errorf("%w: %s", ErrDuplicateElement, rec.ElementID)
	}

	n := &Node{
		ElementID: rec.ElementID,
		Kind:      rec.NodeType,
		ClsName:   rec.ClsName,
		Geometry: Geometry{
			X:      rec.PositionX,
			Y:      rec.PositionY,
			Width:  rec.Width,
			Height: rec.Height,
		},
	}
	if rec.Angle != nil && rec.NodeType.Rotatable() {
		n.Geometry.Angle = *rec.Angle
	}

	if rec.NodeType.IsRemote() {
		n.Attributes = Attributes{
			Name:       rec.Name,
			EntityType: rec.Type,
			MAC:        rec.MAC,
			IP:         rec.IP,
			Username:   rec.Username,
			Password:   rec.Password,
			RSAKey:     rec.RSAKey,
			Adapter:    rec.Adapter,
		}
		n.RegError = rec.RegError
		if rec.ID != "" {
			n.remoteID = rec.ID
			n.state = Registered
			if rec.NodeType.IsComponent() && rec.Deployed {
				n.state = Deployed
			}
		}
		if rec.NodeType.IsComponent() {
			n.DeviceName = rec.Device
			n.DeviceID = rec.DeviceID
			n.DepError = rec.DepError
		}
	}

	s.add(n)
	if k, ok := idSuffix(n.ElementID, ElementIDPrefix); ok && k > s.elementCount {
		s.elementCount = k
	}
	return *n, nil
}

func (s *state) add(n *Node) {
	s.nodes[n.ElementID] = n
	s.order = append(s.order, n.ElementID)
}

// Connect links a device to a sensor or actuator and copies the device's
// identity onto the target.
func (g *Graph) Connect(sourceID, targetID, label string, labelVisible bool) (Connection, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.s.connect("", sourceID, targetID, label, labelVisible)
}

func (s *state) connect(id, sourceID, targetID, label string, labelVisible bool) (Connection, error) {
	if sourceID == targetID {
		return Connection{}, ErrLoopback
	}
	src, ok := s.nodes[sourceID]
	if !ok {
		return Connection{}, fmt.Errorf("%w: %s", ErrNodeNotFound, sourceID)
	}
	tgt, ok := s.nodes[targetID]
	if !ok {
		return Connection{}, fmt.Errorf("%w: %s", ErrNodeNotFound, targetID)
	}
	if src.Kind != models.NodeTypeDevice {
		return Connection{}, ErrInvalidSource
	}
	if !tgt.Kind.IsComponent() {
		return Connection{}, ErrInvalidTarget
	}
	if _, owned := s.incoming[targetID]; owned {
		return Connection{}, ErrTargetOwned
	}

	if id == "" {
		s.connCount++
		id = connectionIDPrefix + strconv.Itoa(s.connCount)
	} else {
		if _, exists := s.conns[id]; exists {
			return Connection{}, fmt.Errorf("duplicate connection id %s", id)
		}
		if k, ok := idSuffix(id, connectionIDPrefix); ok && k > s.connCount {
			s.connCount = k
		}
	}

	c := &Connection{
		ID:           id,
		SourceID:     sourceID,
		TargetID:     targetID,
		Label:        label,
		LabelVisible: labelVisible,
	}
	s.conns[id] = c
	s.connOrder = append(s.connOrder, id)
	s.incoming[targetID] = id
	s.outgoing[sourceID] = append(s.outgoing[sourceID], id)

	tgt.DeviceName = src.Name
	tgt.DeviceID = src.remoteID
	return *c, nil
}

// Disconnect removes an edge and clears the target's owner fields.
// The target node itself stays on the canvas.
func (g *Graph) Disconnect(connectionID string) (Connection, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.s.disconnect(connectionID)
}

func (s *state) disconnect(connectionID string) (Connection, error) {
	c, ok := s.conns[connectionID]
	if !ok {
		return Connection{}, fmt.Errorf("%w: %s", ErrConnectionNotFound, connectionID)
	}
	delete(s.conns, connectionID)
	s.connOrder = removeString(s.connOrder, connectionID)
	delete(s.incoming, c.TargetID)
	s.outgoing[c.SourceID] = removeString(s.outgoing[c.SourceID], connectionID)
	if len(s.outgoing[c.SourceID]) == 0 {
		delete(s.outgoing, c.SourceID)
	}

	if tgt, ok := s.nodes[c.TargetID]; ok {
		tgt.DeviceName = ""
		tgt.DeviceID = ""
	}
	return *c, nil
}

// RemoveNode deletes a node and every connection touching it.
// It performs no remote teardown; callers sequence that first.
func (g *Graph) RemoveNode(elementID string) (Node, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	s := g.s
	n, ok := s.nodes[elementID]
	if !ok {
		return Node{}, fmt.Errorf("%w: %s", ErrNodeNotFound, elementID)
	}
	if cid, ok := s.incoming[elementID]; ok {
		_, _ = s.disconnect(cid)
	}
	for _, cid := range append([]string(nil), s.outgoing[elementID]...) {
		_, _ = s.disconnect(cid)
	}
	delete(s.nodes, elementID)
	s.order = removeString(s.order, elementID)
	return *n, nil
}

// ApplyAttributes writes edited domain fields back into a node.
// Renaming a device updates the owner name shown on its components.
func (g *Graph) ApplyAttributes(elementID string, attrs Attributes) (Node, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	s := g.s
	n, ok := s.nodes[elementID]
	if !ok {
		return Node{}, fmt.Errorf("%w: %s", ErrNodeNotFound, elementID)
	}
	if !n.Kind.IsRemote() {
		return *n, nil
	}
	n.Attributes = attrs
	if n.Kind == models.NodeTypeDevice {
		for _, t := range s.attached(elementID) {
			t.DeviceName = n.Name
		}
	}
	return *n, nil
}

// SetGeometry replaces a node's placement.
func (g *Graph) SetGeometry(elementID string, geo Geometry) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	n, ok := g.s.nodes[elementID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNodeNotFound, elementID)
	}
	if !n.Kind.Rotatable() {
		geo.Angle = 0
	}
	n.Geometry = geo
	return nil
}

// SetLabel edits a connection label.
func (g *Graph) SetLabel(connectionID, label string, visible bool) (Connection, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	c, ok := g.s.conns[connectionID]
	if !ok {
		return Connection{}, fmt.Errorf("%w: %s", ErrConnectionNotFound, connectionID)
	}
	c.Label = label
	c.LabelVisible = visible
	return *c, nil
}

// Node returns a copy of the node with the given element id.
func (g *Graph) Node(elementID string) (Node, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	n, ok := g.s.nodes[elementID]
	if !ok {
		return Node{}, false
	}
	return *n, true
}

// Nodes returns copies of all nodes in creation order.
func (g *Graph) Nodes() []Node {
	g.mu.RLock()
	defer g.mu.RUnlock()

	out := make([]Node, 0, len(g.s.order))
	for _, id := range g.s.order {
		out = append(out, *g.s.nodes[id])
	}
	return out
}

// Connections returns copies of all connections in creation order.
func (g *Graph) Connections() []Connection {
	g.mu.RLock()
	defer g.mu.RUnlock()

	out := make([]Connection, 0, len(g.s.connOrder))
	for _, id := range g.s.connOrder {
		out = append(out, *g.s.conns[id])
	}
	return out
}

// Connection returns a copy of one connection.
func (g *Graph) Connection(connectionID string) (Connection, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	c, ok := g.s.conns[connectionID]
	if !ok {
		return Connection{}, false
	}
	return *c, true
}

// AttachedComponents returns the sensors and actuators a device feeds.
func (g *Graph) AttachedComponents(deviceID string) []Node {
	g.mu.RLock()
	defer g.mu.RUnlock()

	targets := g.s.attached(deviceID)
	out := make([]Node, 0, len(targets))
	for _, t := range targets {
		out = append(out, *t)
	}
	return out
}

func (s *state) attached(deviceID string) []*Node {
	var out []*Node
	for _, cid := range s.outgoing[deviceID] {
		if t, ok := s.nodes[s.conns[cid].TargetID]; ok {
			out = append(out, t)
		}
	}
	return out
}

// Owner returns the device connected to a component, if any.
func (g *Graph) Owner(componentID string) (Node, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	cid, ok := g.s.incoming[componentID]
	if !ok {
		return Node{}, false
	}
	src, ok := g.s.nodes[g.s.conns[cid].SourceID]
	if !ok {
		return Node{}, false
	}
	return *src, true
}

// Len returns the number of nodes.
func (g *Graph) Len() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.s.nodes)
}

// ElementIDCount returns the current value of the element id counter.
func (g *Graph) ElementIDCount() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.s.elementCount
}

func removeString(list []string, v string) []string {
	for i, s := range list {
		if s == v {
			return append(list[:i], list[i+1:]...)
		}
	}
	return list
}
