package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mbp-platform/envmodel/internal/models"
)

// MemoryStore implements Store in process memory.
type MemoryStore struct {
	mu       sync.RWMutex
	models   map[string]*models.Model // by id
	entities map[string]*Entity       // by category/id
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		models:   make(map[string]*models.Model),
		entities: make(map[string]*Entity),
	}
}

func entityKey(category, id string) string { return category + "/" + id }

func (s *MemoryStore) SaveModel(_ context.Context, m *models.Model) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, existing := range s.models {
		if existing.Owner == m.Owner && existing.Name == m.Name && id != m.ID {
			return fmt.Errorf("model %q: %w", m.Name, ErrConflict)
		}
	}
	if m.ID == "" {
		m.ID = uuid.New().String()
	} else if _, ok := s.models[m.ID]; !ok {
		return fmt.Errorf("model %s: %w", m.ID, ErrNotFound)
	}
	cp := *m
	s.models[m.ID] = &cp
	return nil
}

func (s *MemoryStore) GetModel(_ context.Context, owner, name string) (*models.Model, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, m := range s.models {
		if m.Owner == owner && m.Name == name {
			cp := *m
			return &cp, nil
		}
	}
	return nil, fmt.Errorf("model %q: %w", name, ErrNotFound)
}

func (s *MemoryStore) ListModels(_ context.Context, owner string) ([]models.Model, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]models.Model, 0)
	for _, m := range s.models {
		if owner == "" || m.Owner == owner {
			out = append(out, *m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *MemoryStore) DeleteModel(_ context.Context, owner, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, m := range s.models {
		if m.Owner == owner && m.Name == name {
			delete(s.models, id)
			return nil
		}
	}
	return fmt.Errorf("model %q: %w", name, ErrNotFound)
}

func (s *MemoryStore) PutEntity(_ context.Context, e *Entity) error {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *e
	cp.Payload = append([]byte(nil), e.Payload...)
	s.entities[entityKey(e.Category, e.ID)] = &cp
	return nil
}

func (s *MemoryStore) GetEntity(_ context.Context, category, id string) (*Entity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.entities[entityKey(category, id)]
	if !ok {
		return nil, fmt.Errorf("%s %s: %w", category, id, ErrNotFound)
	}
	cp := *e
	return &cp, nil
}

func (s *MemoryStore) FindEntity(_ context.Context, category, name string) (*Entity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, e := range s.entities {
		if e.Category == category && e.Name == name {
			cp := *e
			return &cp, nil
		}
	}
	return nil, fmt.Errorf("%s %q: %w", category, name, ErrNotFound)
}

func (s *MemoryStore) ListEntities(_ context.Context, category string) ([]Entity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Entity, 0)
	for _, e := range s.entities {
		if category == "" || e.Category == category {
			out = append(out, *e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *MemoryStore) DeleteEntity(_ context.Context, category, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := entityKey(category, id)
	if _, ok := s.entities[key]; !ok {
		return fmt.Errorf("%s %s: %w", category, id, ErrNotFound)
	}
	delete(s.entities, key)
	return nil
}

func (s *MemoryStore) Close() error { return nil }
