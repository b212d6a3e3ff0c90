package database

import (
	"io/fs"
	"strings"
	"testing"

	"github.com/pressly/goose/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEmbeddedMigrationsParse(t *testing.T) {
	ms, err := goose.CollectMigrations(MigrationsDir, 0, goose.MaxVersion)
	require.NoError(t, err)
	require.NotEmpty(t, ms)
	assert.EqualValues(t, 1, ms[0].Version)
}

func TestEmbeddedMigrationsHaveGooseDirectives(t *testing.T) {
	entries, err := fs.ReadDir(migrations, MigrationsDir)
	require.NoError(t, err)
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".sql") {
			continue
		}
		b, err := fs.ReadFile(migrations, MigrationsDir+"/"+e.Name())
		require.NoError(t, err)
		assert.Contains(t, string(b), "-- +goose Up", e.Name())
		assert.Contains(t, string(b), "-- +goose Down", e.Name())
	}
}

func TestInitialSchemaGuardsActiveReservations(t *testing.T) {
	b, err := fs.ReadFile(migrations, MigrationsDir+"/00001_init.sql")
	require.NoError(t, err)
	assert.Contains(t, string(b), "UNIQUE KEY uq_reservations_active_book (active_book_id)")
}

func TestDSN(t *testing.T) {
	dsn := DSN("lib", "secret", "db", "3306", "library")
	assert.True(t, strings.HasPrefix(dsn, "lib:secret@tcp(db:3306)/library?"))
	assert.Contains(t, dsn, "clientFoundRows=true")
	assert.Contains(t, dsn, "parseTime=true")
	assert.Contains(t, dsn, "charset=utf8mb4")
}

func TestMigrateRejectsUnknownCommand(t *testing.T) {
	err := Migrate(nil, "sideways")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "sideways")
}
