// Package storagetest provides file-backed SQLite pools for tests.
package storagetest

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/db2q/db2q/cfg"
	"github.com/db2q/db2q/storage"
)

// Options returns SQLite pool options rooted in a fresh temp directory
func Options(t testing.TB) storage.Options {
	t.Helper()
	path := filepath.Join(t.TempDir(), "queue.db")
	return storage.Options{
		Driver:             cfg.DriverSQLite,
		DSN:                "file:" + path + "?_journal_mode=WAL",
		PoolSize:           4,
		MaxIdle:            4,
		AcquireTimeout:     time.Second,
		StatementCacheSize: 64,
	}
}

// NewPool opens a SQLite pool closed at test cleanup
func NewPool(t testing.TB) *storage.Pool {
	t.Helper()
	return NewPoolWith(t, Options(t))
}

// NewPoolWith opens a pool with explicit options closed at test cleanup
func NewPoolWith(t testing.TB, opts storage.Options) *storage.Pool {
	t.Helper()
	pool, err := storage.Open(opts)
	require.NoError(t, err)
	t.Cleanup(func() { pool.Close() })
	return pool
}
