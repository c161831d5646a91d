package models

import (
	"context"
	"fmt"
	"time"

	"go.hackfix.me/monarch/db/types"
)

// AppliedMigration is a ledger entry: a migration applied to a target
// database.
type AppliedMigration struct {
	Target    string
	Migration string
	AppliedAt time.Time
	Mode      string
	Checksum  string
	RunID     string
	Duration  time.Duration
}

func (am *AppliedMigration) idString() string {
	return fmt.Sprintf("ID '%s' on target '%s'", am.Migration, am.Target)
}

// Save stores the ledger entry in the database. Entries are never updated, so
// saving an entry that already exists returns a types.DuplicateError.
func (am *AppliedMigration) Save(ctx context.Context, d types.Execer) error {
	if am.Target == "" || am.Migration == "" {
		return types.InvalidInputError{Msg: "both migration target and ID must be set"}
	}

	insertStmt := `INSERT INTO _monarch_migrations
		(target, migration, applied_at, mode, checksum, run_id, duration_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?)`
	_, err := d.ExecContext(ctx, insertStmt,
		am.Target, am.Migration, am.AppliedAt.UTC(), am.Mode, am.Checksum,
		am.RunID, am.Duration.Milliseconds())
	if err != nil {
		return types.Err("migration", am.idString(), err)
	}

	return nil
}

// Load the ledger entry from the database. Both Target and Migration must be
// set for the lookup.
func (am *AppliedMigration) Load(ctx context.Context, d types.Querier) error {
	if am.Target == "" || am.Migration == "" {
		return types.InvalidInputError{Msg: "both migration target and ID must be set"}
	}

	filter := types.NewFilter("m.target = ? AND m.migration = ?",
		[]any{am.Target, am.Migration})
	entries, err := AppliedMigrations(ctx, d, filter)
	if err != nil {
		return err
	}

	if len(entries) == 0 {
		return types.NoResultError{ModelName: "migration", ID: am.idString()}
	}

	// The primary key on (target, migration) should return only a single result.
	if len(entries) > 1 {
		return types.IntegrityError{
			Msg: fmt.Sprintf("found %d ledger entries for %s", len(entries), am.idString()),
		}
	}
	*am = *entries[0]

	return nil
}

// Delete removes the ledger entry from the database. It returns an error if
// the entry doesn't exist.
func (am *AppliedMigration) Delete(ctx context.Context, d types.Execer) error {
	if am.Target == "" || am.Migration == "" {
		return types.InvalidInputError{Msg: "both migration target and ID must be set"}
	}

	res, err := d.ExecContext(ctx,
		`DELETE FROM _monarch_migrations WHERE target = ? AND migration = ?`,
		am.Target, am.Migration)
	if err != nil {
		return types.Err("migration", am.idString(), err)
	}

	var n int64
	if n, err = res.RowsAffected(); err != nil {
		return fmt.Errorf("failed getting affected rows: %w", err)
	} else if n == 0 {
		return types.NoResultError{ModelName: "migration", ID: am.idString()}
	}

	return nil
}

// AppliedMigrations returns ledger entries from the database, ordered by the
// time they were applied. An optional filter can be passed to narrow down the
// results.
func AppliedMigrations(
	ctx context.Context, d types.Querier, filter *types.Filter,
) (entries []*AppliedMigration, rerr error) {
	query := `SELECT m.target, m.migration, m.applied_at, m.mode, m.checksum,
			m.run_id, m.duration_ms
		FROM _monarch_migrations m %s
		ORDER BY m.applied_at ASC, m.migration ASC`

	where := "1=1"
	args := []any{}
	if filter != nil {
		where = filter.Where
		args = filter.Args
	}

	query = fmt.Sprintf(query, fmt.Sprintf("WHERE %s", where))

	rows, err := d.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, types.LoadError{ModelName: "migrations", Err: err}
	}
	defer func() {
		if err = rows.Close(); err != nil {
			rerr = fmt.Errorf("failed closing migrations rows: %w", err)
		}
	}()

	entries = make([]*AppliedMigration, 0)
	for rows.Next() {
		var (
			am         AppliedMigration
			durationMs int64
		)
		err = rows.Scan(&am.Target, &am.Migration, &am.AppliedAt, &am.Mode,
			&am.Checksum, &am.RunID, &durationMs)
		if err != nil {
			return nil, types.ScanError{ModelName: "migration", Err: err}
		}
		am.Duration = time.Duration(durationMs) * time.Millisecond
		entries = append(entries, &am)
	}

	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("failed iterating over migrations rows: %w", err)
	}

	return entries, nil
}
