// Package models contains the wire and domain types of the environment model editor.
package models

import "fmt"

// NodeType is the category of a placed diagram element.
type NodeType string

const (
	NodeTypeDevice   NodeType = "device"
	NodeTypeActuator NodeType = "actuator"
	NodeTypeSensor   NodeType = "sensor"

	NodeTypeRoom        NodeType = "room"
	NodeTypeWall        NodeType = "wall"
	NodeTypeDoor        NodeType = "door"
	NodeTypeWindow      NodeType = "window"
	NodeTypeStairs      NodeType = "stairs"
	NodeTypeTable       NodeType = "table"
	NodeTypeChair       NodeType = "chair"
	NodeTypeCouch       NodeType = "couch"
	NodeTypeBed         NodeType = "bed"
	NodeTypeKitchenSink NodeType = "kitchen-sink"
	NodeTypeBathtub     NodeType = "bathtub"
	NodeTypeBathSink    NodeType = "bath-sink"
	NodeTypeToilet      NodeType = "toilet"
)

var floorplanTypes = map[NodeType]struct{}{
	NodeTypeRoom:        {},
	NodeTypeWall:        {},
	NodeTypeDoor:        {},
	NodeTypeWindow:      {},
	NodeTypeStairs:      {},
	NodeTypeTable:       {},
	NodeTypeChair:       {},
	NodeTypeCouch:       {},
	NodeTypeBed:         {},
	NodeTypeKitchenSink: {},
	NodeTypeBathtub:     {},
	NodeTypeBathSink:    {},
	NodeTypeToilet:      {},
}

// ParseNodeType validates a node type string.
func ParseNodeType(s string) (NodeType, error) {
	t := NodeType(s)
	if t.IsRemote() || t.IsFloorplan() {
		return t, nil
	}
	return "", fmt.Errorf("unknown node type %q", s)
}

// IsComponent reports whether nodes of this type are sensors or actuators.
func (t NodeType) IsComponent() bool {
	return t == NodeTypeSensor || t == NodeTypeActuator
}

// IsRemote reports whether nodes of this type have a remote entity.
func (t NodeType) IsRemote() bool {
	return t == NodeTypeDevice || t.IsComponent()
}

// IsFloorplan reports whether the type is a floorplan decoration.
func (t NodeType) IsFloorplan() bool {
	_, ok := floorplanTypes[t]
	return ok
}

// FreeResize reports whether the type resizes without a locked aspect ratio.
func (t NodeType) FreeResize() bool {
	return t == NodeTypeRoom || t == NodeTypeWall
}

// Rotatable reports whether the angle attribute is meaningful for the type.
func (t NodeType) Rotatable() bool {
	return !t.FreeResize()
}

// Category returns the plural remote collection name for remote types.
func (t NodeType) Category() string {
	switch t {
	case NodeTypeDevice:
		return "devices"
	case NodeTypeSensor:
		return "sensors"
	case NodeTypeActuator:
		return "actuators"
	}
	return ""
}

// NodeRecord is the persisted form of a node inside a model document.
// Type-specific fields are omitted when empty.
type NodeRecord struct {
	NodeType  NodeType `json:"nodeType" msgpack:"nodeType"`
	ElementID string   `json:"elementId" msgpack:"elementId"`
	ClsName   string   `json:"clsName" msgpack:"clsName"`
	PositionX float64  `json:"positionX" msgpack:"positionX"`
	PositionY float64  `json:"positionY" msgpack:"positionY"`
	Width     float64  `json:"width" msgpack:"width"`
	Height    float64  `json:"height" msgpack:"height"`
	Angle     *float64 `json:"angle,omitempty" msgpack:"angle,omitempty"`

	ID       string `json:"id,omitempty" msgpack:"id,omitempty"`
	Name     string `json:"name,omitempty" msgpack:"name,omitempty"`
	Type     string `json:"type,omitempty" msgpack:"type,omitempty"`
	RegError string `json:"regError,omitempty" msgpack:"regError,omitempty"`

	// Device
	MAC      string `json:"mac,omitempty" msgpack:"mac,omitempty"`
	IP       string `json:"ip,omitempty" msgpack:"ip,omitempty"`
	Username string `json:"username,omitempty" msgpack:"username,omitempty"`
	Password string `json:"password,omitempty" msgpack:"password,omitempty"`
	RSAKey   string `json:"rsaKey,omitempty" msgpack:"rsaKey,omitempty"`

	// Sensor / actuator
	Adapter  string `json:"adapter,omitempty" msgpack:"adapter,omitempty"`
	Device   string `json:"device,omitempty" msgpack:"device,omitempty"`
	DeviceID string `json:"deviceId,omitempty" msgpack:"deviceId,omitempty"`
	Deployed bool   `json:"deployed,omitempty" msgpack:"deployed,omitempty"`
	DepError string `json:"depError,omitempty" msgpack:"depError,omitempty"`
}

// ConnectionRecord is the persisted form of a device→component edge.
type ConnectionRecord struct {
	ID           string `json:"id" msgpack:"id"`
	SourceID     string `json:"sourceId" msgpack:"sourceId"`
	TargetID     string `json:"targetId" msgpack:"targetId"`
	Label        string `json:"label" msgpack:"label"`
	LabelVisible bool   `json:"labelVisible" msgpack:"labelVisible"`
}
