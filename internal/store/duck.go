package store

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/marcboeker/go-duckdb"
	"github.com/rs/zerolog"

	"github.com/mbp-platform/envmodel/internal/models"
)

// DuckStore implements Store on an embedded DuckDB file.
// An empty path opens an in-memory database.
type DuckStore struct {
	db   *sql.DB
	path string
	lg   zerolog.Logger
}

const duckSchema = `
CREATE TABLE IF NOT EXISTS env_models (
	id          VARCHAR PRIMARY KEY,
	owner       VARCHAR NOT NULL,
	name        VARCHAR NOT NULL,
	description VARCHAR,
	value       VARCHAR,
	updated_at  TIMESTAMP NOT NULL
);
CREATE TABLE IF NOT EXISTS entities (
	id          VARCHAR PRIMARY KEY,
	category    VARCHAR NOT NULL,
	name        VARCHAR NOT NULL,
	payload     VARCHAR,
	deployed    BOOLEAN NOT NULL DEFAULT false,
	runtime_ref VARCHAR,
	created_at  TIMESTAMP NOT NULL
);`

// DuckOption tunes the embedded engine.
type DuckOption func(*duckTuning)

type duckTuning struct {
	threads     int
	memoryLimit string
}

// WithThreads sets the DuckDB worker thread count.
func WithThreads(n int) DuckOption {
	return func(t *duckTuning) {
		if n > 0 {
			t.threads = n
		}
	}
}

// WithMemoryLimit sets the DuckDB memory limit, e.g. "512MB".
func WithMemoryLimit(limit string) DuckOption {
	return func(t *duckTuning) { t.memoryLimit = limit }
}

// NewDuckStore opens (or creates) the database at path.
func NewDuckStore(path string, lg zerolog.Logger, opts ...DuckOption) (*DuckStore, error) {
	lg = lg.With().Str("component", "duckstore").Logger()
	tuning := duckTuning{threads: 2}
	for _, opt := range opts {
		opt(&tuning)
	}

	connector, err := duckdb.NewConnector(path, func(execer driver.ExecerContext) error {
		pragmas := []string{
			fmt.Sprintf("PRAGMA threads=%d", tuning.threads),
			"PRAGMA enable_progress_bar=false",
		}
		if tuning.memoryLimit != "" {
			pragmas = append(pragmas, fmt.Sprintf("PRAGMA memory_limit='%s'", tuning.memoryLimit))
		}
		for _, pragma := range pragmas {
			if _, err := execer.ExecContext(context.Background(), pragma, nil); err != nil {
				lg.Warn().Err(err).Str("pragma", pragma).Msg("pragma not applied")
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create DuckDB connector: %w", err)
	}

	db := sql.OpenDB(connector)
	if _, err := db.Exec(duckSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	lg.Info().Str("path", path).Msg("store opened")
	return &DuckStore{db: db, path: path, lg: lg}, nil
}

func (ds *DuckStore) SaveModel(ctx context.Context, m *models.Model) error {
	tx, err := ds.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var clash string
	err = tx.QueryRowContext(ctx,
		`SELECT id FROM env_models WHERE owner = ? AND name = ? AND id <> ?`,
		m.Owner, m.Name, m.ID).Scan(&clash)
	switch {
	case err == nil:
		return fmt.Errorf("model %q: %w", m.Name, ErrConflict)
	case !errors.Is(err, sql.ErrNoRows):
		return fmt.Errorf("check model name: %w", err)
	}

	now := time.Now().UTC()
	if m.ID == "" {
		m.ID = uuid.New().String()
		_, err = tx.ExecContext(ctx,
			`INSERT INTO env_models (id, owner, name, description, value, updated_at) VALUES (?, ?, ?, ?, ?, ?)`,
			m.ID, m.Owner, m.Name, m.Description, m.Value, now)
		if err != nil {
			return fmt.Errorf("insert model: %w", err)
		}
	} else {
		res, err := tx.ExecContext(ctx,
			`UPDATE env_models SET name = ?, description = ?, value = ?, updated_at = ? WHERE id = ?`,
			m.Name, m.Description, m.Value, now, m.ID)
		if err != nil {
			return fmt.Errorf("update model: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("model %s: %w", m.ID, ErrNotFound)
		}
	}
	return tx.Commit()
}

func (ds *DuckStore) GetModel(ctx context.Context, owner, name string) (*models.Model, error) {
	row := ds.db.QueryRowContext(ctx,
		`SELECT id, owner, name, COALESCE(description, ''), COALESCE(value, '') FROM env_models WHERE owner = ? AND name = ?`,
		owner, name)

	var m models.Model
	if err := row.Scan(&m.ID, &m.Owner, &m.Name, &m.Description, &m.Value); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("model %q: %w", name, ErrNotFound)
		}
		return nil, err
	}
	return &m, nil
}

func (ds *DuckStore) ListModels(ctx context.Context, owner string) ([]models.Model, error) {
	query := `SELECT id, owner, name, COALESCE(description, ''), COALESCE(value, '') FROM env_models`
	var args []interface{}
	if owner != "" {
		query += ` WHERE owner = ?`
		args = append(args, owner)
	}
	query += ` ORDER BY name`

	rows, err := ds.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list models: %w", err)
	}
	defer rows.Close()

	out := make([]models.Model, 0)
	for rows.Next() {
		var m models.Model
		if err := rows.Scan(&m.ID, &m.Owner, &m.Name, &m.Description, &m.Value); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (ds *DuckStore) DeleteModel(ctx context.Context, owner, name string) error {
	res, err := ds.db.ExecContext(ctx, `DELETE FROM env_models WHERE owner = ? AND name = ?`, owner, name)
	if err != nil {
		return fmt.Errorf("delete model: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("model %q: %w", name, ErrNotFound)
	}
	return nil
}

func (ds *DuckStore) PutEntity(ctx context.Context, e *Entity) error {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	_, err := ds.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO entities (id, category, name, payload, deployed, runtime_ref, created_at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.Category, e.Name, string(e.Payload), e.Deployed, e.RuntimeRef, e.CreatedAt)
	if err != nil {
		return fmt.Errorf("put entity: %w", err)
	}
	return nil
}

const entityColumns = `id, category, name, COALESCE(payload, ''), deployed, COALESCE(runtime_ref, ''), created_at`

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanEntity(sc scanner) (*Entity, error) {
	var (
		e       Entity
		payload string
	)
	if err := sc.Scan(&e.ID, &e.Category, &e.Name, &payload, &e.Deployed, &e.RuntimeRef, &e.CreatedAt); err != nil {
		return nil, err
	}
	e.Payload = []byte(payload)
	return &e, nil
}

func (ds *DuckStore) GetEntity(ctx context.Context, category, id string) (*Entity, error) {
	row := ds.db.QueryRowContext(ctx,
		`SELECT `+entityColumns+` FROM entities WHERE category = ? AND id = ?`, category, id)
	e, err := scanEntity(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%s %s: %w", category, id, ErrNotFound)
	}
	return e, err
}

func (ds *DuckStore) FindEntity(ctx context.Context, category, name string) (*Entity, error) {
	row := ds.db.QueryRowContext(ctx,
		`SELECT `+entityColumns+` FROM entities WHERE category = ? AND name = ? LIMIT 1`, category, name)
	e, err := scanEntity(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%s %q: %w", category, name, ErrNotFound)
	}
	return e, err
}

func (ds *DuckStore) ListEntities(ctx context.Context, category string) ([]Entity, error) {
	query := `SELECT ` + entityColumns + ` FROM entities`
	var args []interface{}
	if category != "" {
		query += ` WHERE category = ?`
		args = append(args, category)
	}
	query += ` ORDER BY created_at`

	rows, err := ds.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list entities: %w", err)
	}
	defer rows.Close()

	out := make([]Entity, 0)
	for rows.Next() {
		e, err := scanEntity(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *e)
	}
	return out, rows.Err()
}

func (ds *DuckStore) DeleteEntity(ctx context.Context, category, id string) error {
	res, err := ds.db.ExecContext(ctx, `DELETE FROM entities WHERE category = ? AND id = ?`, category, id)
	if err != nil {
		return fmt.Errorf("delete entity: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%s %s: %w", category, id, ErrNotFound)
	}
	return nil
}

// Close closes the database.
func (ds *DuckStore) Close() error {
	if ds.db == nil {
		return nil
	}
	return ds.db.Close()
}
