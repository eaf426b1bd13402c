package editor

// Connector is the diagramming layer that draws endpoints and edges.
// The editor keeps it in sync with the graph.
type Connector interface {
	// MakeSource lets connections start at the element.
	MakeSource(elementID string)
	// MakeTarget lets connections end at the element.
	MakeTarget(elementID string)
	// Repaint redraws the element and its edges after a geometry change.
	Repaint(elementID string)
	// Remove drops the element and its edges.
	Remove(elementID string)
}

// NopConnector ignores every call.
type NopConnector struct{}

func (NopConnector) MakeSource(string) {}
func (NopConnector) MakeTarget(string) {}
func (NopConnector) Repaint(string)    {}
func (NopConnector) Remove(string)     {}
