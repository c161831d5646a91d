package db

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"path/filepath"
	"strings"
	"time"

	//nolint:revive,nolintlint // Idiomatic way of loading DB libraries.
	_ "github.com/glebarez/go-sqlite"
	//nolint:revive,nolintlint // Idiomatic way of loading DB libraries.
	_ "github.com/jackc/pgx/v5/stdlib"

	"go.hackfix.me/monarch/db/migrator"
	"go.hackfix.me/monarch/db/types"
)

// Driver is a supported database backend.
type Driver string

// Valid Driver values.
const (
	DriverSQLite   Driver = "sqlite"
	DriverPostgres Driver = "postgres"
)

// DriverFromString returns the Driver matching s.
func DriverFromString(s string) (Driver, error) {
	switch d := Driver(strings.ToLower(s)); d {
	case DriverSQLite, DriverPostgres:
		return d, nil
	case "postgresql", "pgx":
		return DriverPostgres, nil
	default:
		return "", fmt.Errorf("invalid database driver '%s'; valid values: %s, %s",
			s, DriverSQLite, DriverPostgres)
	}
}

// sqlDriver returns the name the driver was registered with in database/sql.
func (d Driver) sqlDriver() string {
	if d == DriverPostgres {
		return "pgx"
	}
	return "sqlite"
}

// location returns the part of dsn that identifies the physical database. For
// SQLite files it's the absolute, cleaned file path. In-memory SQLite
// databases and other drivers are identified by the full DSN.
func (d Driver) location(dsn string) string {
	if d != DriverSQLite || isMemoryDSN(dsn) {
		return dsn
	}

	p := strings.TrimPrefix(strings.TrimPrefix(dsn, "file:"), "//")
	p, _, _ = strings.Cut(p, "?")
	if abs, err := filepath.Abs(p); err == nil {
		return abs
	}

	return filepath.Clean(p)
}

func isMemoryDSN(dsn string) bool {
	return strings.Contains(dsn, "mode=memory") || strings.Contains(dsn, ":memory:")
}

func (d Driver) rebind(query string, args []any) string {
	if d != DriverPostgres || len(args) == 0 {
		return query
	}
	return types.Rebind(query)
}

// DB wraps sql.DB so that the same queries can be run on every supported
// driver, and so that it can be used as a migration target.
type DB struct {
	*sql.DB
	driver Driver
	dsn    string
	// location identifies the physical database; see Driver.location.
	location string
}

var (
	_ types.Querier     = (*DB)(nil)
	_ migrator.Database = (*DB)(nil)
)

// Open creates and configures a new database connection.
func Open(ctx context.Context, driver Driver, dsn string) (*DB, error) {
	var d *DB
	if driver == DriverSQLite && isMemoryDSN(dsn) {
		defer func() {
			if d != nil {
				// See https://github.com/mattn/go-sqlite3#faq
				d.SetMaxIdleConns(10)
				d.SetConnMaxLifetime(time.Duration(math.Inf(1)))
			}
		}()
	}

	sqlDB, err := sql.Open(driver.sqlDriver(), dsn)
	if err != nil {
		return nil, fmt.Errorf("failed opening %s database: %w", driver, err)
	}

	if err = sqlDB.PingContext(ctx); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("failed connecting to %s database: %w", driver, err)
	}

	if driver == DriverSQLite {
		// Enable foreign key enforcement
		if _, err = sqlDB.ExecContext(ctx, `PRAGMA foreign_keys = ON;`); err != nil {
			_ = sqlDB.Close()
			return nil, fmt.Errorf("failed enabling foreign key enforcement: %w", err)
		}
	}

	d = &DB{DB: sqlDB, driver: driver, dsn: dsn, location: driver.location(dsn)}

	return d, nil
}

// Driver returns the database driver.
func (d *DB) Driver() Driver {
	return d.driver
}

// Same returns true if the given driver and DSN point to the same physical
// database as d. SQLite file DSNs match if they resolve to the same file,
// regardless of the "file:" prefix or connection parameters.
func (d *DB) Same(driver Driver, dsn string) bool {
	return d.driver == driver && d.location == driver.location(dsn)
}

// Begin starts a new transaction.
func (d *DB) Begin(ctx context.Context) (migrator.Tx, error) {
	tx, err := d.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	return &Tx{Tx: tx, driver: d.driver}, nil
}

// ExecContext executes a statement, rebinding placeholders for the driver.
func (d *DB) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return d.DB.ExecContext(ctx, d.driver.rebind(query, args), args...)
}

// QueryContext runs a query, rebinding placeholders for the driver.
func (d *DB) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return d.DB.QueryContext(ctx, d.driver.rebind(query, args), args...)
}

// QueryRowContext runs a query that returns at most one row, rebinding
// placeholders for the driver.
func (d *DB) QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row {
	return d.DB.QueryRowContext(ctx, d.driver.rebind(query, args), args...)
}

// Tx is a database transaction. Statements run with arguments have their
// placeholders rebound for the driver. Statements without arguments, such as
// migration bodies, are passed through verbatim.
type Tx struct {
	*sql.Tx
	driver Driver
}

var (
	_ types.Querier = (*Tx)(nil)
	_ migrator.Tx   = (*Tx)(nil)
)

// ExecContext executes a statement within the transaction.
func (t *Tx) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return t.Tx.ExecContext(ctx, t.driver.rebind(query, args), args...)
}

// QueryContext runs a query within the transaction.
func (t *Tx) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return t.Tx.QueryContext(ctx, t.driver.rebind(query, args), args...)
}

// QueryRowContext runs a query that returns at most one row within the
// transaction.
func (t *Tx) QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row {
	return t.Tx.QueryRowContext(ctx, t.driver.rebind(query, args), args...)
}
