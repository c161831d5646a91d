package db

import (
	"crypto/rand"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.hackfix.me/monarch/db/migrator"
	"go.hackfix.me/monarch/db/queries"
	"go.hackfix.me/monarch/db/types"
)

var timeNow = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

func newTestDB(t *testing.T) *DB {
	t.Helper()

	// Not using just :memory: to avoid 'no such table' issue.
	// See https://github.com/mattn/go-sqlite3#faq
	rndName := make([]byte, 12)
	_, err := rand.Read(rndName)
	require.NoError(t, err)

	d, err := Open(t.Context(), DriverSQLite,
		fmt.Sprintf("file:monarch-%x?mode=memory&cache=shared", rndName))
	require.NoError(t, err)
	t.Cleanup(func() { _ = d.Close() })

	return d
}

func TestInit(t *testing.T) {
	t.Parallel()

	d := newTestDB(t)
	logger := slog.New(slog.DiscardHandler)

	_, err := queries.Version(t.Context(), d)
	require.Error(t, err, "expected missing schema")

	version, created, err := d.Init(t.Context(), "v1.0.0", timeNow, logger)
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, "v1.0.0", version)

	version, created, err = d.Init(t.Context(), "v1.1.0", timeNow.Add(time.Hour), logger)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, "v1.0.0", version)

	v, err := queries.Version(t.Context(), d)
	require.NoError(t, err)
	assert.True(t, v.Valid)
	assert.Equal(t, "v1.0.0", v.V)
}

func TestLedger(t *testing.T) {
	t.Parallel()

	d := newTestDB(t)
	_, _, err := d.Init(t.Context(), "test", timeNow, slog.New(slog.DiscardHandler))
	require.NoError(t, err)
	l := NewLedger(d)

	record := func(target, id string, at time.Time) error {
		tx, err := l.Begin(t.Context())
		require.NoError(t, err)
		err = l.Record(t.Context(), tx, migrator.LedgerEntry{
			Target:    target,
			Migration: id,
			AppliedAt: at,
			Mode:      migrator.ModeNormal,
			Checksum:  "sum-" + id,
			RunID:     "run1",
			Duration:  1500 * time.Millisecond,
		})
		if err != nil {
			_ = tx.Rollback()
			return err
		}
		return tx.Commit()
	}

	require.NoError(t, record("app", "b.sql", timeNow))
	require.NoError(t, record("app", "a.sql", timeNow.Add(time.Minute)))
	require.NoError(t, record("reports", "a.sql", timeNow))

	t.Run("ok/entries_ordered_by_time", func(t *testing.T) {
		entries, err := l.Entries(t.Context(), "app")
		require.NoError(t, err)
		require.Len(t, entries, 2)
		assert.Equal(t, "b.sql", entries[0].Migration)
		assert.Equal(t, "a.sql", entries[1].Migration)
		assert.Equal(t, 1500*time.Millisecond, entries[0].Duration)
		assert.Equal(t, "sum-b.sql", entries[0].Checksum)
		assert.True(t, timeNow.Equal(entries[0].AppliedAt))
	})

	t.Run("ok/applied", func(t *testing.T) {
		applied, err := l.Applied(t.Context(), "app")
		require.NoError(t, err)
		assert.Len(t, applied, 2)
		assert.True(t, applied.Has("a.sql"))
		assert.Equal(t, migrator.ModeNormal, applied["a.sql"].Mode)
		assert.Equal(t, "app", applied["a.sql"].Target)

		applied, err = l.Applied(t.Context(), "unknown")
		require.NoError(t, err)
		assert.Empty(t, applied)
	})

	t.Run("ok/is_applied", func(t *testing.T) {
		ok, err := l.IsApplied(t.Context(), "reports", "a.sql")
		require.NoError(t, err)
		assert.True(t, ok)

		ok, err = l.IsApplied(t.Context(), "reports", "b.sql")
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("err/duplicate", func(t *testing.T) {
		err := record("app", "a.sql", timeNow)
		var derr *types.DuplicateError
		require.ErrorAs(t, err, &derr)
		assert.EqualError(t, err,
			"migration with ID 'a.sql' on target 'app' already exists")
	})

	t.Run("err/forget_missing_is_atomic", func(t *testing.T) {
		err := l.Forget(t.Context(), "reports", "a.sql", "missing.sql")
		var nerr types.NoResultError
		require.ErrorAs(t, err, &nerr)

		ok, err := l.IsApplied(t.Context(), "reports", "a.sql")
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("ok/forget", func(t *testing.T) {
		err := l.Forget(t.Context(), "reports", "a.sql")
		require.NoError(t, err)

		applied, err := l.Applied(t.Context(), "reports")
		require.NoError(t, err)
		assert.Empty(t, applied)

		// Other targets are unaffected.
		applied, err = l.Applied(t.Context(), "app")
		require.NoError(t, err)
		assert.Len(t, applied, 2)
	})

	t.Run("ok/find", func(t *testing.T) {
		tx, err := l.Begin(t.Context())
		require.NoError(t, err)
		for _, e := range []migrator.LedgerEntry{
			{Target: "app", Migration: "c.sql", Mode: migrator.ModeFake, RunID: "run2"},
			{Target: "app", Migration: "d.sql", Mode: migrator.ModeNormal, RunID: "run3"},
			{Target: "reports", Migration: "c.sql", Mode: migrator.ModeFake, RunID: "run2"},
		} {
			e.AppliedAt = timeNow.Add(time.Hour)
			require.NoError(t, l.Record(t.Context(), tx, e))
		}
		require.NoError(t, tx.Commit())

		ids := func(filter *types.Filter) []string {
			entries, err := l.Find(t.Context(), "app", filter)
			require.NoError(t, err)
			ids := make([]string, len(entries))
			for i, e := range entries {
				ids[i] = e.Migration
			}
			return ids
		}

		assert.Equal(t, []string{"b.sql", "a.sql", "c.sql", "d.sql"}, ids(nil))
		assert.Equal(t, []string{"c.sql"},
			ids(types.NewFilter("m.mode = ?", []any{"fake"})))

		// The target condition applies to every alternative.
		runs := types.NewFilter("m.run_id = ?", []any{"run2"}).
			Or(types.NewFilter("m.run_id = ?", []any{"run3"}))
		assert.Equal(t, []string{"c.sql", "d.sql"}, ids(runs))
		assert.Equal(t, []string{"d.sql"},
			ids(runs.And(types.NewFilter("m.mode = ?", []any{"normal"}))))
	})
}

func TestDriverFromString(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in     string
		exp    Driver
		expErr string
	}{
		{in: "sqlite", exp: DriverSQLite},
		{in: "SQLite", exp: DriverSQLite},
		{in: "postgres", exp: DriverPostgres},
		{in: "postgresql", exp: DriverPostgres},
		{in: "pgx", exp: DriverPostgres},
		{in: "mysql", expErr: "invalid database driver 'mysql'; valid values: sqlite, postgres"},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			t.Parallel()

			got, err := DriverFromString(tt.in)
			if tt.expErr != "" {
				assert.EqualError(t, err, tt.expErr)
				return
			}
			assert.NoError(t, err)
			assert.Equal(t, tt.exp, got)
		})
	}
}

func TestDriverRebind(t *testing.T) {
	t.Parallel()

	q := `SELECT 1 FROM t WHERE a = ? AND b = ?`
	assert.Equal(t, q, DriverSQLite.rebind(q, []any{1, 2}))
	assert.Equal(t, q, DriverPostgres.rebind(q, nil))
	assert.Equal(t, `SELECT 1 FROM t WHERE a = $1 AND b = $2`, DriverPostgres.rebind(q, []any{1, 2}))
}

func TestOpen(t *testing.T) {
	t.Parallel()

	d := newTestDB(t)
	assert.Equal(t, DriverSQLite, d.Driver())
	assert.True(t, d.Same(DriverSQLite, d.dsn))
	assert.False(t, d.Same(DriverPostgres, d.dsn))

	_, err := Open(t.Context(), DriverSQLite, "file:/nonexistent/dir/monarch.db?mode=ro")
	assert.ErrorContains(t, err, "failed connecting to sqlite database")
}

func TestDBSame(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	dbPath := filepath.Join(dir, "monarch.db")
	d, err := Open(t.Context(), DriverSQLite, dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { _ = d.Close() })

	cwd, err := os.Getwd()
	require.NoError(t, err)
	relPath, err := filepath.Rel(cwd, dbPath)
	require.NoError(t, err)

	tests := []struct {
		name string
		dsn  string
		exp  bool
	}{
		{name: "ok/same_path", dsn: dbPath, exp: true},
		{name: "ok/file_prefix", dsn: "file:" + dbPath, exp: true},
		{name: "ok/file_url", dsn: "file://" + dbPath, exp: true},
		{name: "ok/params", dsn: "file:" + dbPath + "?_pragma=busy_timeout(5000)", exp: true},
		{name: "ok/unclean", dsn: filepath.Join(dir, "sub", "..", ".", "monarch.db"), exp: true},
		{name: "ok/relative", dsn: relPath, exp: true},
		{name: "ok/other_file", dsn: filepath.Join(dir, "other.db"), exp: false},
		{name: "ok/memory", dsn: ":memory:", exp: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.exp, d.Same(DriverSQLite, tt.dsn))
			assert.False(t, d.Same(DriverPostgres, tt.dsn))
		})
	}

	// In-memory databases only match by their full DSN.
	mem := newTestDB(t)
	assert.True(t, mem.Same(DriverSQLite, mem.dsn))
	assert.False(t, mem.Same(DriverSQLite, mem.dsn+"&_pragma=foreign_keys(1)"))
}
