package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlog "gorm.io/gorm/logger"

	"github.com/mbp-platform/envmodel/internal/models"
)

type modelRow struct {
	ID          string `gorm:"primaryKey;type:varchar(36)"`
	Owner       string `gorm:"not null;uniqueIndex:idx_owner_name"`
	Name        string `gorm:"not null;uniqueIndex:idx_owner_name"`
	Description string
	Value       string `gorm:"type:text"`
	UpdatedAt   time.Time
}

func (modelRow) TableName() string { return "env_models" }

type entityRow struct {
	ID         string `gorm:"primaryKey;type:varchar(36)"`
	Category   string `gorm:"not null;index"`
	Name       string `gorm:"not null"`
	Payload    string `gorm:"type:text"`
	Deployed   bool
	RuntimeRef string
	CreatedAt  time.Time
}

func (entityRow) TableName() string { return "entities" }

// GormStore implements Store on PostgreSQL through GORM.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore connects to dsn and migrates the schema.
func NewGormStore(dsn string, lg zerolog.Logger) (*GormStore, error) {
	gormLogger := gormlog.New(
		&lg,
		gormlog.Config{
			SlowThreshold: 200 * time.Millisecond,
			LogLevel:      gormlog.Warn,
			Colorful:      false,
		},
	)

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{Logger: gormLogger})
	if err != nil {
		return nil, fmt.Errorf("gorm open: %w", err)
	}
	return newGormStore(db)
}

func newGormStore(db *gorm.DB) (*GormStore, error) {
	if err := db.AutoMigrate(&modelRow{}, &entityRow{}); err != nil {
		return nil, fmt.Errorf("gorm migrate: %w", err)
	}
	return &GormStore{db: db}, nil
}

func (s *GormStore) SaveModel(ctx context.Context, m *models.Model) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var clash int64
		if err := tx.Model(&modelRow{}).
			Where("owner = ? AND name = ? AND id <> ?", m.Owner, m.Name, m.ID).
			Count(&clash).Error; err != nil {
			return err
		}
		if clash > 0 {
			return fmt.Errorf("model %q: %w", m.Name, ErrConflict)
		}

		row := modelRow{ID: m.ID, Owner: m.Owner, Name: m.Name, Description: m.Description, Value: m.Value}
		if m.ID == "" {
			row.ID = uuid.New().String()
			if err := tx.Create(&row).Error; err != nil {
				return fmt.Errorf("insert model: %w", err)
			}
			m.ID = row.ID
			return nil
		}

		res := tx.Model(&modelRow{}).Where("id = ?", m.ID).Updates(map[string]any{
			"name":        m.Name,
			"description": m.Description,
			"value":       m.Value,
			"updated_at":  time.Now(),
		})
		if res.Error != nil {
			return fmt.Errorf("update model: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("model %s: %w", m.ID, ErrNotFound)
		}
		return nil
	})
}

func (r modelRow) model() models.Model {
	return models.Model{ID: r.ID, Owner: r.Owner, Name: r.Name, Description: r.Description, Value: r.Value}
}

func (s *GormStore) GetModel(ctx context.Context, owner, name string) (*models.Model, error) {
	var row modelRow
	err := s.db.WithContext(ctx).Where("owner = ? AND name = ?", owner, name).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("model %q: %w", name, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	m := row.model()
	return &m, nil
}

func (s *GormStore) ListModels(ctx context.Context, owner string) ([]models.Model, error) {
	q := s.db.WithContext(ctx).Order("name")
	if owner != "" {
		q = q.Where("owner = ?", owner)
	}
	var rows []modelRow
	if err := q.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("list models: %w", err)
	}
	out := make([]models.Model, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.model())
	}
	return out, nil
}

func (s *GormStore) DeleteModel(ctx context.Context, owner, name string) error {
	res := s.db.WithContext(ctx).Where("owner = ? AND name = ?", owner, name).Delete(&modelRow{})
	if res.Error != nil {
		return fmt.Errorf("delete model: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("model %q: %w", name, ErrNotFound)
	}
	return nil
}

func (s *GormStore) PutEntity(ctx context.Context, e *Entity) error {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	row := entityRow{
		ID:         e.ID,
		Category:   e.Category,
		Name:       e.Name,
		Payload:    string(e.Payload),
		Deployed:   e.Deployed,
		RuntimeRef: e.RuntimeRef,
		CreatedAt:  e.CreatedAt,
	}
	if err := s.db.WithContext(ctx).Save(&row).Error; err != nil {
		return fmt.Errorf("put entity: %w", err)
	}
	return nil
}

func (r entityRow) entity() Entity {
	return Entity{
		ID:         r.ID,
		Category:   r.Category,
		Name:       r.Name,
		Payload:    []byte(r.Payload),
		Deployed:   r.Deployed,
		RuntimeRef: r.RuntimeRef,
		CreatedAt:  r.CreatedAt,
	}
}

func (s *GormStore) GetEntity(ctx context.Context, category, id string) (*Entity, error) {
	var row entityRow
	err := s.db.WithContext(ctx).Where("category = ? AND id = ?", category, id).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%s %s: %w", category, id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	e := row.entity()
	return &e, nil
}

func (s *GormStore) FindEntity(ctx context.Context, category, name string) (*Entity, error) {
	var row entityRow
	err := s.db.WithContext(ctx).Where("category = ? AND name = ?", category, name).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%s %q: %w", category, name, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	e := row.entity()
	return &e, nil
}

func (s *GormStore) ListEntities(ctx context.Context, category string) ([]Entity, error) {
	q := s.db.WithContext(ctx).Order("created_at")
	if category != "" {
		q = q.Where("category = ?", category)
	}
	var rows []entityRow
	if err := q.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("list entities: %w", err)
	}
	out := make([]Entity, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.entity())
	}
	return out, nil
}

func (s *GormStore) DeleteEntity(ctx context.Context, category, id string) error {
	res := s.db.WithContext(ctx).Where("category = ? AND id = ?", category, id).Delete(&entityRow{})
	if res.Error != nil {
		return fmt.Errorf("delete entity: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%s %s: %w", category, id, ErrNotFound)
	}
	return nil
}

func (s *GormStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
