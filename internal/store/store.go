// Package store persists environment models and the entities the in-process
// backend registers (devices, sensors, actuators, adapters).
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/mbp-platform/envmodel/internal/models"
)

var (
	ErrNotFound = errors.New("not found")
	ErrConflict = errors.New("already exists")
)

// Entity is a registered device, sensor, actuator or adapter.
type Entity struct {
	ID       string
	Category string
	Name     string
	// Payload is the JSON create request the entity was registered with.
	Payload    []byte
	Deployed   bool
	RuntimeRef string
	CreatedAt  time.Time
}

// Store defines the persistence operations of the in-process backend.
type Store interface {
	// SaveModel inserts m when its ID is empty (assigning one) and updates
	// it otherwise. Names are unique per owner.
	SaveModel(ctx context.Context, m *models.Model) error
	GetModel(ctx context.Context, owner, name string) (*models.Model, error)
	ListModels(ctx context.Context, owner string) ([]models.Model, error)
	DeleteModel(ctx context.Context, owner, name string) error

	// PutEntity inserts or replaces an entity by ID.
	PutEntity(ctx context.Context, e *Entity) error
	GetEntity(ctx context.Context, category, id string) (*Entity, error)
	FindEntity(ctx context.Context, category, name string) (*Entity, error)
	ListEntities(ctx context.Context, category string) ([]Entity, error)
	DeleteEntity(ctx context.Context, category, id string) error

	Close() error
}

// Driver names accepted by Open.
const (
	DriverMemory   = "memory"
	DriverDuckDB   = "duckdb"
	DriverPostgres = "postgres"
)

// Open returns the store selected by driver. dsn is a file path for duckdb
// and a connection string for postgres; memory ignores it. duck tunes the
// duckdb driver only.
func Open(driver, dsn string, lg zerolog.Logger, duck ...DuckOption) (Store, error) {
	switch driver {
	case "", DriverMemory:
		return NewMemoryStore(), nil
	case DriverDuckDB:
		return NewDuckStore(dsn, lg, duck...)
	case DriverPostgres:
		return NewGormStore(dsn, lg)
	default:
		return nil, fmt.Errorf("unknown storage driver %q", driver)
	}
}
