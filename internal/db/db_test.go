package db

import (
	"io/fs"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEmbeddedMigrations_Paired(t *testing.T) {
	entries, err := fs.ReadDir(embeddedMigrations, migrationsDir)
	require.NoError(t, err)

	ups := map[string]bool{}
	downs := map[string]bool{}
	for _, e := range entries {
		name := e.Name()
		switch {
		case strings.HasSuffix(name, ".up.sql"):
			ups[strings.TrimSuffix(name, ".up.sql")] = true
		case strings.HasSuffix(name, ".down.sql"):
			downs[strings.TrimSuffix(name, ".down.sql")] = true
		}
	}
	require.NotEmpty(t, ups)
	assert.Equal(t, ups, downs)
}

func TestEmbeddedMigrations_CreateTables(t *testing.T) {
	raw, err := fs.ReadFile(embeddedMigrations, "migrations/0001_init.up.sql")
	require.NoError(t, err)

	schema := string(raw)
	for _, table := range []string{"customers", "carts", "outreach_records"} {
		assert.Contains(t, schema, "CREATE TABLE IF NOT EXISTS "+table)
	}
	assert.Contains(t, schema, "checkout_id  TEXT           NOT NULL UNIQUE")
	assert.Contains(t, schema, "fingerprint    TEXT        NOT NULL UNIQUE")
}

func TestMigrate_NilHandle(t *testing.T) {
	assert.Error(t, Migrate(nil))
}
