package db

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSqliteDB_Memory(t *testing.T) {
	database, err := NewSqliteDB()
	require.NoError(t, err)
	defer database.Close()

	_, err = database.Exec("CREATE TABLE t (id INTEGER PRIMARY KEY, v TEXT);")
	require.NoError(t, err)
}

func TestNewSqliteDB_FileCreatesParent(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "nested", "state")

	database, err := NewSqliteDB(WithPath(dbPath))
	require.NoError(t, err)
	defer database.Close()

	_, err = database.Exec("CREATE TABLE t (id INTEGER PRIMARY KEY);")
	require.NoError(t, err)
	assert.FileExists(t, dbPath)

	var mode string
	require.NoError(t, database.Get(&mode, "PRAGMA journal_mode;"))
	assert.Equal(t, "delete", mode)
}

func TestNewSqliteDB_ReadOnlyMissingFile(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "missing")

	_, err := NewSqliteDB(WithPath(dbPath), WithReadOnly(), WithPragmas(""))
	assert.Error(t, err)
	assert.NoFileExists(t, dbPath)
}
