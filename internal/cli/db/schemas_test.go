package db

import (
	"bytes"
	"io/fs"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEverySchemaIsEmbedded(t *testing.T) {
	for _, schema := range SchemaList {
		data, err := fs.ReadFile(embedded, "schemas/"+schema)
		require.NoError(t, err, schema)
		assert.Contains(t, string(data), "CREATE TABLE IF NOT EXISTS", schema)
	}

	entries, err := fs.ReadDir(embedded, "schemas")
	require.NoError(t, err)
	assert.Len(t, entries, len(SchemaList), "schema file not listed in SchemaList")
}

func TestListCmd(t *testing.T) {
	var out bytes.Buffer
	require.NoError(t, (&ListCmd{Out: &out}).Run())
	assert.Equal(t, len(SchemaList)+1, strings.Count(out.String(), "\n"))
	assert.Contains(t, out.String(), "[ 1] schema_01_sync_jobs.sql")
}

func TestNewMigrateCmdRequiresURL(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	_, err := NewMigrateCmd("", "", "")
	require.Error(t, err)

	t.Setenv("DATABASE_URL", "postgres://localhost/brandlens")
	cmd, err := NewMigrateCmd("", "schema_04_ga4.sql", "")
	require.NoError(t, err)
	assert.Equal(t, "postgres://localhost/brandlens", cmd.DatabaseURL)
	assert.Equal(t, "schema_04_ga4.sql", cmd.SchemaFile)
}
