package db

import (
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConnectCreatesDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "dir", "test.db")

	db, err := ConnectToDB(path, zerolog.Nop())
	require.NoError(t, err)
	defer db.Close()

	assert.DirExists(t, filepath.Dir(path))

	var mode string
	require.NoError(t, db.QueryRow("PRAGMA journal_mode").Scan(&mode))
	assert.Equal(t, "wal", mode)

	var fk int
	require.NoError(t, db.QueryRow("PRAGMA foreign_keys").Scan(&fk))
	assert.Equal(t, 1, fk)
}

func TestConnectInMemory(t *testing.T) {
	db, err := ConnectToDB(":memory:", zerolog.Nop())
	require.NoError(t, err)
	defer db.Close()

	_, err = db.Exec("CREATE TABLE t (x INTEGER)")
	require.NoError(t, err)
	_, err = db.Exec("INSERT INTO t (x) VALUES (1)")
	require.NoError(t, err)

	var n int
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM t").Scan(&n))
	assert.Equal(t, 1, n)
}

func TestBuildDSN(t *testing.T) {
	dsn := buildDSN(&SQLiteConfig{DatabasePath: "/tmp/x.db", BusyTimeoutMs: 100})
	assert.Contains(t, dsn, "file:/tmp/x.db?")
	assert.Contains(t, dsn, "busy_timeout(100)")
	assert.Contains(t, dsn, "journal_mode(WAL)")

	mem := buildDSN(&SQLiteConfig{DatabasePath: ":memory:"})
	assert.NotContains(t, mem, "journal_mode")
	assert.Contains(t, mem, "busy_timeout(5000)")
}
