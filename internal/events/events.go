// Package events publishes lifecycle events of the editor to subscribers
// outside the process.
package events

import (
	"context"
	"time"
)

// Kind names an event and doubles as its subject suffix.
type Kind string

const (
	OperationStarted  Kind = "operation.started"
	OperationFinished Kind = "operation.finished"
	NodeRegistered    Kind = "node.registered"
	NodeDeregistered  Kind = "node.deregistered"
	NodeDeployed      Kind = "node.deployed"
	NodeUndeployed    Kind = "node.undeployed"
	NodeRemoved       Kind = "node.removed"
	ModelSaved        Kind = "model.saved"
)

// Event is one lifecycle change.
type Event struct {
	Kind        Kind      `json:"kind"`
	Model       string    `json:"model,omitempty"`
	OperationID string    `json:"operationId,omitempty"`
	ElementID   string    `json:"elementId,omitempty"`
	RemoteID    string    `json:"remoteId,omitempty"`
	Success     bool      `json:"success"`
	Message     string    `json:"message,omitempty"`
	At          time.Time `json:"at"`
}

// Publisher delivers events. Implementations must be safe for concurrent use.
type Publisher interface {
	Publish(ctx context.Context, ev Event) error
	Close()
}

// Nop drops every event.
type Nop struct{}

func (Nop) Publish(context.Context, Event) error { return nil }
func (Nop) Close()                               {}
