// mock_gateway.go - Recording gateway implementation for testing
package testutil

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/mbp-platform/envmodel/internal/gateway"
	"github.com/mbp-platform/envmodel/internal/models"
)

// Call is one recorded gateway request.
type Call struct {
	Method   string
	Category gateway.Category
	ID       string // remote id for delete/deploy calls, entity name for AddItem
	Payload  any
}

// MockGateway implements gateway.Gateway in memory and records every call.
// Failures are injected per entity name (AddItem) or remote id (the rest).
type MockGateway struct {
	mu      sync.Mutex
	calls   []Call
	models  map[string]models.Model // by name
	nextID  map[gateway.Category]int
	saveSeq int

	FailAdd      map[string]error
	FailDelete   map[string]error
	FailDeploy   map[string]error
	FailUndeploy map[string]error
	FailSave     error

	// AssignIDs overrides the generated remote id per entity name.
	AssignIDs map[string]string

	// Gate, when set, blocks AddItem until it is closed or receives.
	Gate chan struct{}
	// Entered receives once per AddItem call before Gate is consulted.
	Entered chan struct{}
}

var _ gateway.Gateway = (*MockGateway)(nil)

// NewMockGateway returns an empty mock.
func NewMockGateway() *MockGateway {
	return &MockGateway{
		models:       make(map[string]models.Model),
		nextID:       make(map[gateway.Category]int),
		FailAdd:      make(map[string]error),
		FailDelete:   make(map[string]error),
		FailDeploy:   make(map[string]error),
		FailUndeploy: make(map[string]error),
		AssignIDs:    make(map[string]string),
	}
}

func (m *MockGateway) record(c Call) {
	m.calls = append(m.calls, c)
}

func (m *MockGateway) ModelsByUsername(_ context.Context, username string) ([]models.Model, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record(Call{Method: "ModelsByUsername", ID: username})

	var out []models.Model
	for _, mod := range m.models {
		if username == "" || mod.Owner == username {
			out = append(out, mod)
		}
	}
	return out, nil
}

func (m *MockGateway) SaveModel(ctx context.Context, mod models.Model) (models.Model, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record(Call{Method: "SaveModel", ID: mod.Name, Payload: mod})

	if err := ctx.Err(); err != nil {
		return models.Model{}, err
	}
	if m.FailSave != nil {
		return models.Model{}, m.FailSave
	}
	if mod.ID == "" {
		m.saveSeq++
		mod.ID = fmt.Sprintf("model-%d", m.saveSeq)
	}
	m.models[mod.Name] = mod
	return mod, nil
}

func (m *MockGateway) DeleteModel(_ context.Context, username, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record(Call{Method: "DeleteModel", ID: name})

	if _, ok := m.models[name]; !ok {
		return &gateway.Error{Op: "delete model", Status: 404}
	}
	delete(m.models, name)
	return nil
}

func (m *MockGateway) AddItem(ctx context.Context, category gateway.Category, payload any) (gateway.Entity, error) {
	name := payloadName(payload)

	if m.Entered != nil {
		m.Entered <- struct{}{}
	}
	if m.Gate != nil {
		select {
		case <-m.Gate:
		case <-ctx.Done():
			return gateway.Entity{}, ctx.Err()
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.record(Call{Method: "AddItem", Category: category, ID: name, Payload: payload})

	if err := m.FailAdd[name]; err != nil {
		return gateway.Entity{}, err
	}
	if id, ok := m.AssignIDs[name]; ok {
		return gateway.Entity{ID: id, Name: name}, nil
	}
	m.nextID[category]++
	return gateway.Entity{ID: fmt.Sprintf("%s-%d", category, m.nextID[category]), Name: name}, nil
}

func (m *MockGateway) DeleteItem(ctx context.Context, category gateway.Category, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record(Call{Method: "DeleteItem", Category: category, ID: id})
	if err := ctx.Err(); err != nil {
		return err
	}
	return m.FailDelete[id]
}

func (m *MockGateway) Deploy(ctx context.Context, category gateway.Category, id string, params []gateway.Parameter) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record(Call{Method: "Deploy", Category: category, ID: id, Payload: params})
	if err := ctx.Err(); err != nil {
		return err
	}
	return m.FailDeploy[id]
}

func (m *MockGateway) Undeploy(ctx context.Context, category gateway.Category, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record(Call{Method: "Undeploy", Category: category, ID: id})
	if err := ctx.Err(); err != nil {
		return err
	}
	return m.FailUndeploy[id]
}

// Calls returns every recorded call in order.
func (m *MockGateway) Calls() []Call {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Call(nil), m.calls...)
}

// CallsTo returns the recorded calls of one method.
func (m *MockGateway) CallsTo(method string) []Call {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Call
	for _, c := range m.calls {
		if c.Method == method {
			out = append(out, c)
		}
	}
	return out
}

// SavedModel returns the last saved copy of a model.
func (m *MockGateway) SavedModel(name string) (models.Model, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	mod, ok := m.models[name]
	return mod, ok
}

// PutModel seeds a stored model.
func (m *MockGateway) PutModel(mod models.Model) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.models[mod.Name] = mod
}

func payloadName(payload any) string {
	switch p := payload.(type) {
	case gateway.DevicePayload:
		return p.Name
	case gateway.ComponentPayload:
		return p.Name
	case gateway.AdapterPayload:
		return p.Name
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return ""
	}
	var v struct {
		Name string `json:"name"`
	}
	_ = json.Unmarshal(raw, &v)
	return v.Name
}
