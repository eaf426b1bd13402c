package graph

import (
	"fmt"

	"github.com/mbp-platform/envmodel/internal/models"
)

// Serialize captures the whole graph as a model document.
// Pending form edits must be committed before calling it.
func (g *Graph) Serialize() *models.ModelDocument {
	g.mu.RLock()
	defer g.mu.RUnlock()

	s := g.s
	doc := models.NewModelDocument()
	for _, id := range s.order {
		doc.Nodes = append(doc.Nodes, s.nodes[id].record())
	}
	for _, id := range s.connOrder {
		c := s.conns[id]
		doc.Connections = append(doc.Connections, models.ConnectionRecord{
			ID:           c.ID,
			SourceID:     c.SourceID,
			TargetID:     c.TargetID,
			Label:        c.Label,
			LabelVisible: c.LabelVisible,
		})
	}
	doc.NumberOfElements = len(s.order)
	doc.ElementIDCount = s.elementCount
	return doc
}

func (n *Node) record() models.NodeRecord {
	rec := models.NodeRecord{
		NodeType:  n.Kind,
		ElementID: n.ElementID,
		ClsName:   n.ClsName,
		PositionX: n.Geometry.X,
		PositionY: n.Geometry.Y,
		Width:     n.Geometry.Width,
		Height:    n.Geometry.Height,
	}
	if n.Kind.Rotatable() {
		angle := n.Geometry.Angle
		rec.Angle = &angle
	}
	if !n.Kind.IsRemote() {
		return rec
	}

	rec.ID = n.remoteID
	rec.Name = n.Name
	rec.Type = n.EntityType
	rec.RegError = n.RegError
	if n.Kind == models.NodeTypeDevice {
		rec.MAC = n.MAC
		rec.IP = n.IP
		rec.Username = n.Username
		rec.Password = n.Password
		rec.RSAKey = n.RSAKey
		return rec
	}
	rec.Adapter = n.Adapter
	rec.Device = n.DeviceName
	rec.DeviceID = n.DeviceID
	rec.Deployed = n.state == Deployed
	rec.DepError = n.DepError
	return rec
}

// Record returns the wire form of a single node.
func (n Node) Record() models.NodeRecord {
	return n.record()
}

// Deserialize replaces the graph with the contents of doc. Nodes are
// recreated before connections; on error the graph is left unchanged.
func (g *Graph) Deserialize(doc *models.ModelDocument) error {
	if doc.FormatVersion > models.CurrentFormatVersion {
		return fmt.Errorf("unsupported model format version %d", doc.FormatVersion)
	}

	s := newState()
	// Devices and floorplan decorations first, then components.
	for pass := 0; pass < 2; pass++ {
		for _, rec := range doc.Nodes {
			if rec.NodeType.IsComponent() != (pass == 1) {
				continue
			}
			if _, err := s.createFromRecord(rec); err != nil {
				return fmt.Errorf("deserialize: %w", err)
			}
		}
	}
	for _, c := range doc.Connections {
		if _, err := s.connect(c.ID, c.SourceID, c.TargetID, c.Label, c.LabelVisible); err != nil {
			return fmt.Errorf("deserialize connection %s: %w", c.ID, err)
		}
	}
	if doc.ElementIDCount > s.elementCount {
		s.elementCount = doc.ElementIDCount
	}

	g.mu.Lock()
	g.s = s
	g.mu.Unlock()
	return nil
}

// Reset clears the canvas. The element id counter restarts at zero.
func (g *Graph) Reset() {
	g.mu.Lock()
	g.s = newState()
	g.mu.Unlock()
}
