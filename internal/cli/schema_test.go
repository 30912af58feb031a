package cli

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/noctra/internal/backend"
	"github.com/roach88/noctra/internal/backend/sqlite"
)

func TestSchema_ListsRelationalTables(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "app.db")

	db, err := sqlite.Open(dbPath)
	require.NoError(t, err)
	_, err = db.Execute(context.Background(), backend.Request{
		SQL:  "CREATE TABLE people (id INTEGER PRIMARY KEY, name TEXT)",
		Mode: backend.ModeExec,
	})
	require.NoError(t, err)
	require.NoError(t, db.Close())

	cfgPath := filepath.Join(dir, "noctra.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("relational:\n  path: "+dbPath+"\n"), 0o644))

	out, _, err := run(t, "schema", "--config", cfgPath, "--format", "csv")
	require.NoError(t, err)
	assert.Equal(t, "backend,table,kind,column,type\nsqlite,people,table,id,INTEGER\nsqlite,people,table,name,TEXT\n", out)
}

func TestSchema_EmptyInMemory(t *testing.T) {
	out, _, err := run(t, "schema")
	require.NoError(t, err)
	assert.Equal(t, "backend  table  kind  column  type\n(0 row(s))\n", out)
}

func TestSchema_RejectsArgs(t *testing.T) {
	_, _, err := run(t, "schema", "extra")
	require.Error(t, err)
}
