package graph

import (
	"strconv"
	"strings"

	"github.com/mbp-platform/envmodel/internal/models"
)

// ElementIDPrefix precedes the counter value of every generated element id.
const ElementIDPrefix = "element_"

const connectionIDPrefix = "con_"

// RoomSize is the edge length a freshly dropped room settles at.
const RoomSize = 250.0

// Point is a canvas coordinate.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Geometry is the placement of a node on the canvas.
type Geometry struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
	Angle  float64 `json:"angle"`
}

// Center returns the midpoint of the node's bounding box.
func (g Geometry) Center() Point {
	return Point{X: g.X + g.Width/2, Y: g.Y + g.Height/2}
}

// LifecycleState tracks the remote state of a device, sensor or actuator.
type LifecycleState int

const (
	Unregistered LifecycleState = iota
	Registered
	Deployed
)

func (s LifecycleState) String() string {
	switch s {
	case Registered:
		return "registered"
	case Deployed:
		return "deployed"
	default:
		return "unregistered"
	}
}

// Attributes are the user-editable domain fields of a node.
type Attributes struct {
	Name       string `json:"name"`
	EntityType string `json:"type"`
	MAC        string `json:"mac,omitempty"`
	IP         string `json:"ip,omitempty"`
	Username   string `json:"username,omitempty"`
	Password   string `json:"password,omitempty"`
	RSAKey     string `json:"rsaKey,omitempty"`
	Adapter    string `json:"adapter,omitempty"`
}

// TypeDescriptor describes what a palette item stamps onto the canvas.
type TypeDescriptor struct {
	Kind    models.NodeType
	ClsName string
	Width   float64
	Height  float64

	// EntityType presets the type attribute of devices and components.
	EntityType string
}

// Node is a placed diagram element. Values returned by Graph are copies.
type Node struct {
	ElementID string
	Kind      models.NodeType
	ClsName   string
	Geometry  Geometry
	Attributes

	// Owning device, denormalized for display while a connection exists.
	DeviceName string
	DeviceID   string

	RegError string
	DepError string

	remoteID string
	state    LifecycleState
}

// RemoteID is the backend identity, empty until registered.
func (n Node) RemoteID() string { return n.remoteID }

// State returns the node's lifecycle state.
func (n Node) State() LifecycleState { return n.state }

// IsRegistered reports whether the node has a remote entity.
func (n Node) IsRegistered() bool { return n.state != Unregistered }

// IsDeployed reports whether the component is running.
func (n Node) IsDeployed() bool { return n.state == Deployed }

// HasRemoteState reports whether deleting the node needs remote calls.
func (n Node) HasRemoteState() bool { return n.Kind.IsRemote() && n.state != Unregistered }

// Connection is a directed edge from a device to a sensor or actuator.
type Connection struct {
	ID           string `json:"id"`
	SourceID     string `json:"sourceId"`
	TargetID     string `json:"targetId"`
	Label        string `json:"label"`
	LabelVisible bool   `json:"labelVisible"`
}

// idSuffix extracts the numeric counter from a generated id.
func idSuffix(id, prefix string) (int, bool) {
	rest, ok := strings.CutPrefix(id, prefix)
	if !ok {
		return 0, false
	}
	n, err := strconv.Atoi(rest)
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}
