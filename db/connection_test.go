package db

import (
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/teranos/wakeup/errors"
)

func TestOpen(t *testing.T) {
	t.Run("opens database successfully", func(t *testing.T) {
		dbPath := filepath.Join(t.TempDir(), "test.db")

		db, err := Open(dbPath, zaptest.NewLogger(t).Sugar())
		require.NoError(t, err)
		defer db.Close()

		var journalMode string
		require.NoError(t, db.QueryRow("PRAGMA journal_mode").Scan(&journalMode))
		assert.Equal(t, "wal", journalMode)

		var foreignKeys int
		require.NoError(t, db.QueryRow("PRAGMA foreign_keys").Scan(&foreignKeys))
		assert.Equal(t, 1, foreignKeys)

		var busyTimeout int
		require.NoError(t, db.QueryRow("PRAGMA busy_timeout").Scan(&busyTimeout))
		assert.Equal(t, SQLiteBusyTimeoutMS, busyTimeout)
	})

	t.Run("returns error for invalid path", func(t *testing.T) {
		db, err := Open("/invalid/nonexistent/path/db.sqlite", nil)
		if err == nil && db != nil {
			err = db.Ping()
			db.Close()
		}
		assert.Error(t, err)
	})
}

func TestDSN(t *testing.T) {
	assert.Equal(t, "a.db?_foreign_keys=on&_busy_timeout=5000", dsn("a.db"))
	assert.Equal(t, "file:a.db?mode=rwc&_foreign_keys=on&_busy_timeout=5000", dsn("file:a.db?mode=rwc"))
}

func TestOpenWithMigrations(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "test.db")

	db, err := OpenWithMigrations(dbPath, nil)
	require.NoError(t, err)
	defer db.Close()

	for _, table := range []string{"schema_migrations", "wakeup_calls", "call_logs", "inbound_calls", "wakeup_triggers", "owner_profiles"} {
		var count int
		err := db.QueryRow("SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?", table).Scan(&count)
		require.NoError(t, err)
		assert.Equal(t, 1, count, "table %s should exist", table)
	}
}

func TestMigrate_Idempotent(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "test.db")

	db, err := OpenWithMigrations(dbPath, nil)
	require.NoError(t, err)
	defer db.Close()

	require.NoError(t, Migrate(db, nil))

	var versions int
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM schema_migrations").Scan(&versions))
	entries, err := migrations.ReadDir("sqlite/migrations")
	require.NoError(t, err)
	assert.Equal(t, len(entries), versions)
}

func TestMigrate_CascadeDeletesLogs(t *testing.T) {
	db, err := OpenWithMigrations(filepath.Join(t.TempDir(), "test.db"), nil)
	require.NoError(t, err)
	defer db.Close()

	now := "2026-01-01T00:00:00.000000000Z"
	_, err = db.Exec(`INSERT INTO wakeup_calls (id, owner_id, scheduled_time, destination, channel, status, created_at, updated_at)
		VALUES ('c1', 'o1', ?, '+15551234567', 'sms', 'scheduled', ?, ?)`, now, now, now)
	require.NoError(t, err)
	_, err = db.Exec(`INSERT INTO call_logs (id, call_id, outcome_status, created_at) VALUES ('l1', 'c1', 'initiated', ?)`, now)
	require.NoError(t, err)

	_, err = db.Exec(`DELETE FROM wakeup_calls WHERE id = 'c1'`)
	require.NoError(t, err)

	var logs int
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM call_logs").Scan(&logs))
	assert.Equal(t, 0, logs)
}

func TestIsDatabaseClosed(t *testing.T) {
	assert.False(t, IsDatabaseClosed(nil))
	assert.True(t, IsDatabaseClosed(errors.Wrap(ErrDatabaseClosed, "query")))
	assert.True(t, IsDatabaseClosed(fmt.Errorf("sql: database is closed")))
	assert.False(t, IsDatabaseClosed(errors.New("disk full")))
}

func TestIsUniqueViolation(t *testing.T) {
	assert.True(t, IsUniqueViolation(fmt.Errorf("UNIQUE constraint failed: call_logs.provider_transaction_id")))
	assert.False(t, IsUniqueViolation(nil))
}

func TestSchemaVersion(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "test.db")

	fresh, err := Open(dbPath, nil)
	require.NoError(t, err)
	version, err := SchemaVersion(fresh)
	require.NoError(t, err)
	assert.Empty(t, version, "nothing applied yet")

	require.NoError(t, Migrate(fresh, zaptest.NewLogger(t).Sugar()))
	version, err = SchemaVersion(fresh)
	require.NoError(t, err)

	steps, err := pendingOrder()
	require.NoError(t, err)
	assert.Equal(t, steps[len(steps)-1].version, version)
	require.NoError(t, fresh.Close())
}
