package graph

import (
	"fmt"

	"github.com/mbp-platform/envmodel/internal/models"
)

// The Mark* functions are the only mutators of a node's remote identity
// and lifecycle state.

// MarkRegistered records a successful create request.
// Registering a device hands its id to the components it already feeds.
func (g *Graph) MarkRegistered(elementID, remoteID string) error {
	if remoteID == "" {
		return fmt.Errorf("%w: empty remote id for %s", ErrInvalidTransition, elementID)
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	n, err := g.s.transition(elementID, Unregistered, Registered)
	if err != nil {
		return err
	}
	n.remoteID = remoteID
	n.RegError = ""
	if n.Kind == models.NodeTypeDevice {
		for _, t := range g.s.attached(elementID) {
			t.DeviceID = remoteID
		}
	}
	return nil
}

// MarkDeployed records a successful deploy request.
func (g *Graph) MarkDeployed(elementID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	n, err := g.s.transition(elementID, Registered, Deployed)
	if err != nil {
		return err
	}
	n.DepError = ""
	return nil
}

// MarkUndeployed records a successful undeploy request.
func (g *Graph) MarkUndeployed(elementID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	n, err := g.s.transition(elementID, Deployed, Registered)
	if err != nil {
		return err
	}
	n.DepError = ""
	return nil
}

// MarkDeregistered records a successful delete request.
func (g *Graph) MarkDeregistered(elementID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	n, err := g.s.transition(elementID, Registered, Unregistered)
	if err != nil {
		return err
	}
	n.remoteID = ""
	n.RegError = ""
	if n.Kind == models.NodeTypeDevice {
		for _, t := range g.s.attached(elementID) {
			t.DeviceID = ""
		}
	}
	return nil
}

// SetRegError flags a node with a registration error; empty clears it.
func (g *Graph) SetRegError(elementID, msg string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	n, ok := g.s.nodes[elementID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNodeNotFound, elementID)
	}
	n.RegError = msg
	return nil
}

// SetDepError flags a component with a deployment error; empty clears it.
func (g *Graph) SetDepError(elementID, msg string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	n, ok := g.s.nodes[elementID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNodeNotFound, elementID)
	}
	n.DepError = msg
	return nil
}

func (s *state) transition(elementID string, from, to LifecycleState) (*Node, error) {
	n, ok := s.nodes[elementID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNodeNotFound, elementID)
	}
	if !n.Kind.IsRemote() {
		return nil, fmt.Errorf("%w: %s is a %s", ErrInvalidTransition, elementID, n.Kind)
	}
	if to == Deployed || from == Deployed {
		if !n.Kind.IsComponent() {
			return nil, fmt.Errorf("%w: %s cannot be deployed", ErrInvalidTransition, elementID)
		}
	}
	if n.state != from {
		return nil, fmt.Errorf("%w: %s is %s, want %s", ErrInvalidTransition, elementID, n.state, from)
	}
	n.state = to
	return n, nil
}
