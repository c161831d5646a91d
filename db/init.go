package db

import (
	"context"
	_ "embed" //nolint:revive,nolintlint // Needed for go:embed.
	"fmt"
	"log/slog"
	"time"

	"go.hackfix.me/monarch/db/queries"
)

//go:embed schema/ledger.sql
var ledgerSchema string

// Init creates the ledger schema and records the version of Monarch that
// created it. It's safe to call on an already initialized database, in which
// case it returns the version recorded originally and false.
func (d *DB) Init(
	ctx context.Context, appVersion string, timeNow time.Time, logger *slog.Logger,
) (version string, created bool, rerr error) {
	dblogger := logger.With("driver", d.driver)
	dblogger.Debug("initializing ledger database")

	tx, err := d.Begin(ctx)
	if err != nil {
		return "", false, fmt.Errorf("failed starting transaction: %w", err)
	}
	defer func() {
		if rerr != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx, ledgerSchema); err != nil {
		return "", false, fmt.Errorf("failed creating ledger schema: %w", err)
	}

	//nolint:forcetypeassert // Begin always returns *Tx.
	existing, err := queries.Version(ctx, tx.(*Tx))
	if err != nil {
		return "", false, fmt.Errorf("failed reading ledger metadata: %w", err)
	}
	if existing.Valid {
		if err = tx.Commit(); err != nil {
			return "", false, fmt.Errorf("failed committing transaction: %w", err)
		}
		dblogger.Debug("ledger database already initialized", "version", existing.V)
		return existing.V, false, nil
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO _monarch_meta (version, initialized_at) VALUES (?, ?)`,
		appVersion, timeNow.UTC())
	if err != nil {
		return "", false, fmt.Errorf("failed inserting into _monarch_meta: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return "", false, fmt.Errorf("failed committing transaction: %w", err)
	}

	dblogger.Info("ledger database initialized", "version", appVersion)

	return appVersion, true, nil
}
