package graph

import (
	"errors"
	"testing"

	"github.com/mbp-platform/envmodel/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	deviceDesc   = TypeDescriptor{Kind: models.NodeTypeDevice, ClsName: "raspberry-pi-device", Width: 60, Height: 60}
	sensorDesc   = TypeDescriptor{Kind: models.NodeTypeSensor, ClsName: "temperature-sensor", Width: 40, Height: 40}
	actuatorDesc = TypeDescriptor{Kind: models.NodeTypeActuator, ClsName: "light-actuator", Width: 40, Height: 40}
	roomDesc     = TypeDescriptor{Kind: models.NodeTypeRoom, ClsName: "room-floorplan", Width: 20, Height: 20}
)

func mustCreate(t *testing.T, g *Graph, desc TypeDescriptor) Node {
	t.Helper()
	n, err := g.CreateNode(desc, Point{X: 10, Y: 20})
	require.NoError(t, err)
	return n
}

func TestCreateNode_UniqueIDs(t *testing.T) {
	g := New()
	seen := make(map[string]bool)

	for i := 0; i < 20; i++ {
		n := mustCreate(t, g, sensorDesc)
		if seen[n.ElementID] {
			t.Fatalf("duplicate element id %s", n.ElementID)
		}
		seen[n.ElementID] = true
	}

	// Removing nodes never frees ids for reuse.
	for _, n := range g.Nodes()[:5] {
		_, err := g.RemoveNode(n.ElementID)
		require.NoError(t, err)
	}
	for i := 0; i < 5; i++ {
		n := mustCreate(t, g, sensorDesc)
		assert.False(t, seen[n.ElementID], "id %s reused", n.ElementID)
		seen[n.ElementID] = true
	}
}

func TestCreateNode_DefaultGeometry(t *testing.T) {
	g := New()

	room := mustCreate(t, g, roomDesc)
	assert.Equal(t, RoomSize, room.Geometry.Width)
	assert.Equal(t, RoomSize, room.Geometry.Height)

	dev := mustCreate(t, g, deviceDesc)
	assert.Equal(t, 60.0, dev.Geometry.Width)
	assert.Equal(t, 10.0, dev.Geometry.X)
	assert.Equal(t, 20.0, dev.Geometry.Y)
	assert.Equal(t, Unregistered, dev.State())
	assert.Empty(t, dev.RemoteID())

	_, err := g.CreateNode(TypeDescriptor{Kind: "spaceship"}, Point{})
	assert.Error(t, err)
}

func TestCreateNodeFromRecord(t *testing.T) {
	g := New()
	angle := 45.0
	n, err := g.CreateNodeFromRecord(models.NodeRecord{
		NodeType:  models.NodeTypeSensor,
		ElementID: ElementIDPrefix + "17",
		ClsName:   "temperature-sensor",
		PositionX: 5, PositionY: 6, Width: 40, Height: 41,
		Angle:    &angle,
		ID:       "s-1",
		Name:     "temp",
		Type:     "Temperature",
		Adapter:  "a-1",
		Deployed: true,
	})
	require.NoError(t, err)

	assert.Equal(t, ElementIDPrefix+"17", n.ElementID)
	assert.Equal(t, 45.0, n.Geometry.Angle)
	assert.Equal(t, Deployed, n.State())
	assert.Equal(t, "s-1", n.RemoteID())
	assert.Equal(t, 17, g.ElementIDCount())

	next := mustCreate(t, g, sensorDesc)
	assert.Equal(t, ElementIDPrefix+"18", next.ElementID)

	_, err = g.CreateNodeFromRecord(models.NodeRecord{NodeType: models.NodeTypeSensor, ElementID: n.ElementID})
	assert.ErrorIs(t, err, ErrDuplicateElement)
}

func TestConnect_SingleOwnership(t *testing.T) {
	g := New()
	d1 := mustCreate(t, g, deviceDesc)
	d2 := mustCreate(t, g, deviceDesc)
	s1 := mustCreate(t, g, sensorDesc)

	_, err := g.Connect(d1.ElementID, s1.ElementID, "", false)
	require.NoError(t, err)

	_, err = g.Connect(d2.ElementID, s1.ElementID, "", false)
	assert.ErrorIs(t, err, ErrTargetOwned)
	assert.Len(t, g.Connections(), 1)

	owner, ok := g.Owner(s1.ElementID)
	require.True(t, ok)
	assert.Equal(t, d1.ElementID, owner.ElementID)
}

func TestConnect_Rejections(t *testing.T) {
	g := New()
	dev := mustCreate(t, g, deviceDesc)
	sensor := mustCreate(t, g, sensorDesc)
	act := mustCreate(t, g, actuatorDesc)
	room := mustCreate(t, g, roomDesc)

	tests := []struct {
		name   string
		source string
		target string
		want   error
	}{
		{"loopback", dev.ElementID, dev.ElementID, ErrLoopback},
		{"missing source", "nope", sensor.ElementID, ErrNodeNotFound},
		{"missing target", dev.ElementID, "nope", ErrNodeNotFound},
		{"component as source", sensor.ElementID, act.ElementID, ErrInvalidSource},
		{"device as target", dev.ElementID, mustCreate(t, g, deviceDesc).ElementID, ErrInvalidTarget},
		{"floorplan as target", dev.ElementID, room.ElementID, ErrInvalidTarget},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := g.Connect(tt.source, tt.target, "", false)
			if !errors.Is(err, tt.want) {
				t.Errorf("expected %v, got %v", tt.want, err)
			}
		})
	}
	assert.Empty(t, g.Connections())
}

func TestConnect_Denormalization(t *testing.T) {
	g := New()
	dev := mustCreate(t, g, deviceDesc)
	_, err := g.ApplyAttributes(dev.ElementID, Attributes{Name: "D1", EntityType: "Raspberry Pi"})
	require.NoError(t, err)
	require.NoError(t, g.MarkRegistered(dev.ElementID, "dev-9"))
	sensor := mustCreate(t, g, sensorDesc)

	c, err := g.Connect(dev.ElementID, sensor.ElementID, "wire", true)
	require.NoError(t, err)

	got, _ := g.Node(sensor.ElementID)
	assert.Equal(t, "D1", got.DeviceName)
	assert.Equal(t, "dev-9", got.DeviceID)

	// Rename propagates while connected.
	_, err = g.ApplyAttributes(dev.ElementID, Attributes{Name: "D1-renamed"})
	require.NoError(t, err)
	got, _ = g.Node(sensor.ElementID)
	assert.Equal(t, "D1-renamed", got.DeviceName)

	_, err = g.Disconnect(c.ID)
	require.NoError(t, err)
	got, ok := g.Node(sensor.ElementID)
	require.True(t, ok, "disconnect must not delete the target")
	assert.Empty(t, got.DeviceName)
	assert.Empty(t, got.DeviceID)

	_, err = g.Disconnect(c.ID)
	assert.ErrorIs(t, err, ErrConnectionNotFound)
}

func TestRegisteringDeviceUpdatesAttachedComponents(t *testing.T) {
	g := New()
	dev := mustCreate(t, g, deviceDesc)
	sensor := mustCreate(t, g, sensorDesc)
	_, err := g.Connect(dev.ElementID, sensor.ElementID, "", false)
	require.NoError(t, err)

	require.NoError(t, g.MarkRegistered(dev.ElementID, "42"))
	got, _ := g.Node(sensor.ElementID)
	assert.Equal(t, "42", got.DeviceID)

	require.NoError(t, g.MarkDeregistered(dev.ElementID))
	got, _ = g.Node(sensor.ElementID)
	assert.Empty(t, got.DeviceID)
}

func TestLifecycleTransitions(t *testing.T) {
	g := New()
	dev := mustCreate(t, g, deviceDesc)
	sensor := mustCreate(t, g, sensorDesc)
	room := mustCreate(t, g, roomDesc)

	assert.ErrorIs(t, g.MarkDeployed(sensor.ElementID), ErrInvalidTransition)
	assert.ErrorIs(t, g.MarkRegistered(sensor.ElementID, ""), ErrInvalidTransition)
	assert.ErrorIs(t, g.MarkRegistered(room.ElementID, "r"), ErrInvalidTransition)

	require.NoError(t, g.MarkRegistered(sensor.ElementID, "s1"))
	assert.ErrorIs(t, g.MarkRegistered(sensor.ElementID, "s2"), ErrInvalidTransition)
	require.NoError(t, g.MarkDeployed(sensor.ElementID))
	assert.ErrorIs(t, g.MarkDeregistered(sensor.ElementID), ErrInvalidTransition)
	require.NoError(t, g.MarkUndeployed(sensor.ElementID))
	require.NoError(t, g.MarkDeregistered(sensor.ElementID))

	got, _ := g.Node(sensor.ElementID)
	assert.Equal(t, Unregistered, got.State())
	assert.Empty(t, got.RemoteID())

	require.NoError(t, g.MarkRegistered(dev.ElementID, "d1"))
	assert.ErrorIs(t, g.MarkDeployed(dev.ElementID), ErrInvalidTransition)
}

func TestRemoveNode_DropsConnections(t *testing.T) {
	g := New()
	dev := mustCreate(t, g, deviceDesc)
	s1 := mustCreate(t, g, sensorDesc)
	s2 := mustCreate(t, g, sensorDesc)
	_, err := g.Connect(dev.ElementID, s1.ElementID, "", false)
	require.NoError(t, err)
	_, err = g.Connect(dev.ElementID, s2.ElementID, "", false)
	require.NoError(t, err)

	_, err = g.RemoveNode(dev.ElementID)
	require.NoError(t, err)

	assert.Equal(t, 2, g.Len())
	assert.Empty(t, g.Connections())
	assert.Empty(t, g.AttachedComponents(dev.ElementID))

	_, err = g.RemoveNode(dev.ElementID)
	assert.ErrorIs(t, err, ErrNodeNotFound)
}

func TestSetGeometry_IgnoresAngleForRooms(t *testing.T) {
	g := New()
	room := mustCreate(t, g, roomDesc)
	dev := mustCreate(t, g, deviceDesc)

	require.NoError(t, g.SetGeometry(room.ElementID, Geometry{X: 1, Y: 2, Width: 300, Height: 120, Angle: 30}))
	require.NoError(t, g.SetGeometry(dev.ElementID, Geometry{X: 1, Y: 2, Width: 60, Height: 60, Angle: 30}))

	r, _ := g.Node(room.ElementID)
	d, _ := g.Node(dev.ElementID)
	assert.Equal(t, 0.0, r.Geometry.Angle)
	assert.Equal(t, 30.0, d.Geometry.Angle)
}

func TestSetLabel(t *testing.T) {
	g := New()
	dev := mustCreate(t, g, deviceDesc)
	act := mustCreate(t, g, actuatorDesc)
	c, err := g.Connect(dev.ElementID, act.ElementID, "", false)
	require.NoError(t, err)

	_, err = g.SetLabel(c.ID, "kitchen light", true)
	require.NoError(t, err)
	got, ok := g.Connection(c.ID)
	require.True(t, ok)
	assert.Equal(t, "kitchen light", got.Label)
	assert.True(t, got.LabelVisible)

	_, err = g.SetLabel("nope", "x", true)
	assert.ErrorIs(t, err, ErrConnectionNotFound)
}

func TestApplyAttributes_IgnoredOnFloorplan(t *testing.T) {
	g := New()
	room := mustCreate(t, g, roomDesc)

	n, err := g.ApplyAttributes(room.ElementID, Attributes{Name: "living room"})
	require.NoError(t, err)
	assert.Empty(t, n.Name)

	_, err = g.ApplyAttributes("nope", Attributes{})
	assert.ErrorIs(t, err, ErrNodeNotFound)
}
