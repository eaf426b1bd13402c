// Package gateway is the persistence boundary of the editor: model CRUD,
// entity registration and component deployment on the MBP backend.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/mbp-platform/envmodel/internal/models"
)

// Category is a plural remote collection name.
type Category string

const (
	CategoryDevices   Category = "devices"
	CategorySensors   Category = "sensors"
	CategoryActuators Category = "actuators"
	CategoryAdapters  Category = "adapters"
)

// CategoryFor maps a node type to its remote collection.
func CategoryFor(t models.NodeType) (Category, bool) {
	c := Category(t.Category())
	return c, c != ""
}

// Deployable reports whether entities of the category can be deployed.
func (c Category) Deployable() bool {
	return c == CategorySensors || c == CategoryActuators
}

// Entity is the subset of a created entity the editor needs.
type Entity struct {
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
}

// UnmarshalJSON accepts numeric and string ids.
func (e *Entity) UnmarshalJSON(data []byte) error {
	var raw struct {
		ID   json.RawMessage `json:"id"`
		Name string          `json:"name"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	e.Name = raw.Name
	e.ID = ""
	if len(raw.ID) == 0 || bytes.Equal(raw.ID, []byte("null")) {
		return nil
	}
	var s string
	if err := json.Unmarshal(raw.ID, &s); err == nil {
		e.ID = s
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(raw.ID, &n); err != nil {
		return fmt.Errorf("entity id: %w", err)
	}
	e.ID = n.String()
	return nil
}

// DevicePayload is the create request body for devices.
type DevicePayload struct {
	Name          string `json:"name"`
	ComponentType string `json:"componentType"`
	MACAddress    string `json:"macAddress,omitempty"`
	IPAddress     string `json:"ipAddress,omitempty"`
	Username      string `json:"username,omitempty"`
	Password      string `json:"password,omitempty"`
	RSAKey        string `json:"rsaKey,omitempty"`
}

// ComponentPayload is the create request body for sensors and actuators.
type ComponentPayload struct {
	Name          string `json:"name"`
	ComponentType string `json:"componentType"`
	Adapter       string `json:"adapter"`
	Device        string `json:"device"`
}

// AdapterPayload is the create request body for adapters.
type AdapterPayload struct {
	Name  string `json:"name"`
	Image string `json:"image,omitempty"`
}

// Parameter is a deployment parameter value.
type Parameter struct {
	Name  string `json:"name"`
	Value any    `json:"value"`
}

// Gateway is implemented by the remote REST client and the in-process backend.
type Gateway interface {
	ModelsByUsername(ctx context.Context, username string) ([]models.Model, error)
	// SaveModel creates the model when ID is empty and updates it otherwise.
	SaveModel(ctx context.Context, m models.Model) (models.Model, error)
	DeleteModel(ctx context.Context, username, name string) error

	AddItem(ctx context.Context, category Category, payload any) (Entity, error)
	DeleteItem(ctx context.Context, category Category, id string) error

	Deploy(ctx context.Context, category Category, id string, params []Parameter) error
	Undeploy(ctx context.Context, category Category, id string) error
}

// ModelByName looks a model up in the owner's list.
func ModelByName(ctx context.Context, gw Gateway, username, name string) (models.Model, error) {
	list, err := gw.ModelsByUsername(ctx, username)
	if err != nil {
		return models.Model{}, err
	}
	for _, m := range list {
		if m.Name == name {
			return m, nil
		}
	}
	return models.Model{}, &Error{Op: "find model", Status: 404, GlobalMessage: fmt.Sprintf("model %q not found", name)}
}
