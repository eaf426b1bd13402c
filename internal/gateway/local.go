package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/rs/zerolog"

	"github.com/mbp-platform/envmodel/internal/deploy"
	"github.com/mbp-platform/envmodel/internal/models"
	"github.com/mbp-platform/envmodel/internal/store"
)

// Local is an in-process MBP backend: entities and models live in a
// store.Store and deployments run on a deploy.Runtime.
type Local struct {
	st store.Store
	rt deploy.Runtime
	lg zerolog.Logger
}

var _ Gateway = (*Local)(nil)

// NewLocal returns a backend over st and rt.
func NewLocal(st store.Store, rt deploy.Runtime, lg zerolog.Logger) *Local {
	return &Local{st: st, rt: rt, lg: lg.With().Str("component", "backend").Logger()}
}

// itemRequest is the union of every create payload.
type itemRequest struct {
	Name          string `json:"name"`
	ComponentType string `json:"componentType"`
	Adapter       string `json:"adapter"`
	Device        string `json:"device"`
	Image         string `json:"image"`
	IPAddress     string `json:"ipAddress"`
}

func fromStore(op string, err error) error {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return &Error{Op: op, Status: http.StatusNotFound, GlobalMessage: err.Error()}
	case errors.Is(err, store.ErrConflict):
		return &Error{Op: op, Status: http.StatusConflict, GlobalMessage: err.Error()}
	default:
		return &Error{Op: op, Status: http.StatusInternalServerError, GlobalMessage: err.Error()}
	}
}

func badRequest(op string, msgs ...string) *Error {
	return &Error{Op: op, Status: http.StatusBadRequest, Messages: msgs}
}

func (l *Local) ModelsByUsername(ctx context.Context, username string) ([]models.Model, error) {
	list, err := l.st.ListModels(ctx, username)
	if err != nil {
		return nil, fromStore("list models", err)
	}
	return list, nil
}

func (l *Local) SaveModel(ctx context.Context, m models.Model) (models.Model, error) {
	if strings.TrimSpace(m.Name) == "" {
		return models.Model{}, badRequest("save model", "model name must not be empty")
	}
	if err := l.st.SaveModel(ctx, &m); err != nil {
		return models.Model{}, fromStore("save model", err)
	}
	return m, nil
}

func (l *Local) DeleteModel(ctx context.Context, username, name string) error {
	if err := l.st.DeleteModel(ctx, username, name); err != nil {
		return fromStore("delete model", err)
	}
	return nil
}

func validCategory(c Category) bool {
	switch c {
	case CategoryDevices, CategorySensors, CategoryActuators, CategoryAdapters:
		return true
	}
	return false
}

func (l *Local) AddItem(ctx context.Context, category Category, payload any) (Entity, error) {
	op := "add " + string(category)
	if !validCategory(category) {
		return Entity{}, &Error{Op: op, Status: http.StatusNotFound, GlobalMessage: fmt.Sprintf("unknown category %q", category)}
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return Entity{}, badRequest(op, "malformed payload")
	}
	var req itemRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		return Entity{}, badRequest(op, "malformed payload")
	}

	var problems []string
	if strings.TrimSpace(req.Name) == "" {
		problems = append(problems, "name must not be empty")
	}
	if category.Deployable() {
		if req.Device == "" {
			problems = append(problems, "device must be set")
		} else if _, err := l.st.GetEntity(ctx, string(CategoryDevices), req.Device); err != nil {
			problems = append(problems, fmt.Sprintf("device %s does not exist", req.Device))
		}
		if req.Adapter == "" {
			problems = append(problems, "adapter must be set")
		} else if _, err := l.adapter(ctx, req.Adapter); err != nil {
			problems = append(problems, fmt.Sprintf("adapter %s does not exist", req.Adapter))
		}
	}
	if len(problems) > 0 {
		return Entity{}, badRequest(op, problems...)
	}

	if _, err := l.st.FindEntity(ctx, string(category), req.Name); err == nil {
		return Entity{}, &Error{Op: op, Status: http.StatusConflict,
			GlobalMessage: fmt.Sprintf("%s named %q already exists", strings.TrimSuffix(string(category), "s"), req.Name)}
	}

	e := &store.Entity{Category: string(category), Name: req.Name, Payload: raw}
	if err := l.st.PutEntity(ctx, e); err != nil {
		return Entity{}, fromStore(op, err)
	}
	l.lg.Info().Str("category", string(category)).Str("id", e.ID).Str("name", e.Name).Msg("entity registered")
	return Entity{ID: e.ID, Name: e.Name}, nil
}

// adapter resolves an adapter by id, then by name.
func (l *Local) adapter(ctx context.Context, ref string) (*store.Entity, error) {
	if e, err := l.st.GetEntity(ctx, string(CategoryAdapters), ref); err == nil {
		return e, nil
	}
	return l.st.FindEntity(ctx, string(CategoryAdapters), ref)
}

func (l *Local) DeleteItem(ctx context.Context, category Category, id string) error {
	op := "delete " + string(category)
	e, err := l.st.GetEntity(ctx, string(category), id)
	if err != nil {
		return fromStore(op, err)
	}
	if e.Deployed {
		return &Error{Op: op, Status: http.StatusConflict, GlobalMessage: fmt.Sprintf("%s is deployed, undeploy it first", e.Name)}
	}

	if category == CategoryDevices {
		n, err := l.dependents(ctx, id)
		if err != nil {
			return fromStore(op, err)
		}
		if n > 0 {
			return &Error{Op: op, Status: http.StatusConflict,
				GlobalMessage: fmt.Sprintf("device %s is still used by %d component(s)", e.Name, n)}
		}
	}

	if err := l.st.DeleteEntity(ctx, string(category), id); err != nil {
		return fromStore(op, err)
	}
	l.lg.Info().Str("category", string(category)).Str("id", id).Msg("entity deleted")
	return nil
}

func (l *Local) dependents(ctx context.Context, deviceID string) (int, error) {
	n := 0
	for _, cat := range []Category{CategorySensors, CategoryActuators} {
		list, err := l.st.ListEntities(ctx, string(cat))
		if err != nil {
			return 0, err
		}
		for _, e := range list {
			var req itemRequest
			if json.Unmarshal(e.Payload, &req) == nil && req.Device == deviceID {
				n++
			}
		}
	}
	return n, nil
}

func (l *Local) Deploy(ctx context.Context, category Category, id string, params []Parameter) error {
	op := "deploy"
	if !category.Deployable() {
		return badRequest(op, fmt.Sprintf("%s cannot be deployed", category))
	}
	e, err := l.st.GetEntity(ctx, string(category), id)
	if err != nil {
		return fromStore(op, err)
	}
	if e.Deployed {
		return nil
	}

	var req itemRequest
	_ = json.Unmarshal(e.Payload, &req)

	spec := deploy.Spec{
		ComponentID:   e.ID,
		Category:      string(category),
		Name:          e.Name,
		ComponentType: req.ComponentType,
		DeviceID:      req.Device,
		Parameters:    make(map[string]string, len(params)),
	}
	if dev, err := l.st.GetEntity(ctx, string(CategoryDevices), req.Device); err == nil {
		var dreq itemRequest
		if json.Unmarshal(dev.Payload, &dreq) == nil {
			spec.DeviceIP = dreq.IPAddress
		}
	}
	if ad, err := l.adapter(ctx, req.Adapter); err == nil {
		var areq itemRequest
		if json.Unmarshal(ad.Payload, &areq) == nil {
			spec.Image = areq.Image
		}
	}
	for _, p := range params {
		spec.Parameters[p.Name] = fmt.Sprint(p.Value)
	}

	ref, err := l.rt.Start(ctx, spec)
	if err != nil {
		return &Error{Op: op, Status: http.StatusInternalServerError, GlobalMessage: "deployment failed: " + err.Error()}
	}
	e.Deployed = true
	e.RuntimeRef = ref
	if err := l.st.PutEntity(ctx, e); err != nil {
		_ = l.rt.Stop(ctx, ref)
		return fromStore(op, err)
	}
	return nil
}

func (l *Local) Undeploy(ctx context.Context, category Category, id string) error {
	op := "undeploy"
	if !category.Deployable() {
		return badRequest(op, fmt.Sprintf("%s cannot be deployed", category))
	}
	e, err := l.st.GetEntity(ctx, string(category), id)
	if err != nil {
		return fromStore(op, err)
	}
	if !e.Deployed {
		return nil
	}
	if err := l.rt.Stop(ctx, e.RuntimeRef); err != nil {
		return &Error{Op: op, Status: http.StatusInternalServerError, GlobalMessage: "undeployment failed: " + err.Error()}
	}
	e.Deployed = false
	e.RuntimeRef = ""
	if err := l.st.PutEntity(ctx, e); err != nil {
		return fromStore(op, err)
	}
	return nil
}

// Entities lists the registered entities of one category.
func (l *Local) Entities(ctx context.Context, category Category) ([]store.Entity, error) {
	list, err := l.st.ListEntities(ctx, string(category))
	if err != nil {
		return nil, fromStore("list "+string(category), err)
	}
	return list, nil
}

// SeedAdapters registers the given adapters unless one with the same name
// already exists.
func (l *Local) SeedAdapters(ctx context.Context, adapters []AdapterPayload) error {
	for _, a := range adapters {
		if _, err := l.st.FindEntity(ctx, string(CategoryAdapters), a.Name); err == nil {
			continue
		}
		if _, err := l.AddItem(ctx, CategoryAdapters, a); err != nil {
			return fmt.Errorf("seed adapter %s: %w", a.Name, err)
		}
	}
	return nil
}
