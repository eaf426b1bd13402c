package store

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

const unreachableDSN = "host=127.0.0.1 port=1 user=envmodel dbname=envmodel sslmode=disable connect_timeout=1"

func TestNewGormStore_Unreachable(t *testing.T) {
	_, err := NewGormStore(unreachableDSN, zerolog.Nop())
	assert.ErrorContains(t, err, "gorm open")

	_, err = Open(DriverPostgres, unreachableDSN, zerolog.Nop())
	assert.Error(t, err)
}

func TestGormRows_SQL(t *testing.T) {
	db, err := gorm.Open(postgres.Open(unreachableDSN), &gorm.Config{DryRun: true, DisableAutomaticPing: true})
	require.NoError(t, err)
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})

	sql := db.ToSQL(func(tx *gorm.DB) *gorm.DB {
		var row modelRow
		return tx.Where("owner = ? AND name = ?", "admin", "house").First(&row)
	})
	assert.Contains(t, sql, `FROM "env_models"`)
	assert.Contains(t, sql, "owner = 'admin'")

	sql = db.ToSQL(func(tx *gorm.DB) *gorm.DB {
		var rows []entityRow
		return tx.Where("category = ?", "sensors").Order("name").Find(&rows)
	})
	assert.Contains(t, sql, `FROM "entities"`)
	assert.Contains(t, sql, "category = 'sensors'")

	m := modelRow{ID: "m-1", Owner: "admin", Name: "house", Value: "{}"}.model()
	assert.Equal(t, "house", m.Name)
	assert.Equal(t, "{}", m.Value)
}
