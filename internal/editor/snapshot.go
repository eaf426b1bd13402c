package editor

import (
	"github.com/mbp-platform/envmodel/internal/graph"
	"github.com/mbp-platform/envmodel/internal/models"
)

// NodeView is a node as presented to clients.
type NodeView struct {
	models.NodeRecord
	State string `json:"state"`
}

// FormView is the buffered form of the focused node.
type FormView struct {
	ElementID  string           `json:"elementId"`
	Attributes graph.Attributes `json:"attributes"`
	Dirty      bool             `json:"dirty"`
}

// Snapshot is the full observable state of an editor.
type Snapshot struct {
	Model      models.Model            `json:"model"`
	Document   *models.ModelDocument   `json:"document"`
	Nodes      []NodeView              `json:"nodes"`
	Focused    string                  `json:"focused,omitempty"`
	Form       *FormView               `json:"form,omitempty"`
	Stamp      string                  `json:"stamp,omitempty"`
	Gesture    string                  `json:"gesture,omitempty"`
	Busy       bool                    `json:"busy"`
	Processing *models.ProcessingState `json:"processing,omitempty"`
}

// Snapshot captures the graph, focus and form state. Model.Value is left
// empty; the document carries the graph.
func (e *Editor) Snapshot() Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()

	m := e.orch.Model()
	m.Value = ""

	s := Snapshot{
		Model:      m,
		Document:   e.g.Serialize(),
		Focused:    e.focused,
		Busy:       e.orch.Busy(),
		Processing: e.orch.Current(),
	}
	for _, n := range e.g.Nodes() {
		s.Nodes = append(s.Nodes, NodeView{NodeRecord: n.Record(), State: n.State().String()})
	}
	if e.form != nil {
		s.Form = &FormView{ElementID: e.form.elementID, Attributes: e.form.attrs, Dirty: e.form.dirty}
	}
	if e.stamp != nil {
		s.Stamp = e.stamp.ClsName
	}
	if e.gesture != nil {
		s.Gesture = string(e.gesture.kind)
	}
	return s
}
