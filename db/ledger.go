package db

import (
	"context"
	"errors"
	"fmt"

	"go.hackfix.me/monarch/db/migrator"
	"go.hackfix.me/monarch/db/models"
	"go.hackfix.me/monarch/db/types"
)

// Ledger stores the record of applied migrations in the internal database.
type Ledger struct {
	db *DB
}

var _ migrator.Ledger = (*Ledger)(nil)

// NewLedger returns a Ledger backed by the given database. The ledger schema
// must have been created with DB.Init.
func NewLedger(d *DB) *Ledger {
	return &Ledger{db: d}
}

// Begin starts a new transaction on the internal database.
func (l *Ledger) Begin(ctx context.Context) (migrator.Tx, error) {
	return l.db.Begin(ctx)
}

// Applied returns all migrations recorded for the target database.
func (l *Ledger) Applied(ctx context.Context, target string) (migrator.AppliedSet, error) {
	entries, err := l.Entries(ctx, target)
	if err != nil {
		return nil, err
	}

	applied := make(migrator.AppliedSet, len(entries))
	for _, e := range entries {
		applied[e.Migration] = migrator.LedgerEntry{
			Target:    e.Target,
			Migration: e.Migration,
			AppliedAt: e.AppliedAt,
			Mode:      migrator.Mode(e.Mode),
			Checksum:  e.Checksum,
			RunID:     e.RunID,
			Duration:  e.Duration,
		}
	}

	return applied, nil
}

// IsApplied returns true if the migration is recorded for the target
// database.
func (l *Ledger) IsApplied(ctx context.Context, target, migration string) (bool, error) {
	am := &models.AppliedMigration{Target: target, Migration: migration}
	err := am.Load(ctx, l.db)
	if err != nil {
		var nrErr types.NoResultError
		if errors.As(err, &nrErr) {
			return false, nil
		}
		return false, err
	}

	return true, nil
}

// Record writes a ledger entry using exec.
func (l *Ledger) Record(ctx context.Context, exec migrator.Execer, entry migrator.LedgerEntry) error {
	am := &models.AppliedMigration{
		Target:    entry.Target,
		Migration: entry.Migration,
		AppliedAt: entry.AppliedAt,
		Mode:      string(entry.Mode),
		Checksum:  entry.Checksum,
		RunID:     entry.RunID,
		Duration:  entry.Duration,
	}

	return am.Save(ctx, exec)
}

// Entries returns all ledger entries for the target database, ordered by the
// time they were applied.
func (l *Ledger) Entries(ctx context.Context, target string) ([]*models.AppliedMigration, error) {
	return l.Find(ctx, target, nil)
}

// Find returns the ledger entries for the target database that match filter,
// ordered by the time they were applied. A nil filter matches all entries.
func (l *Ledger) Find(
	ctx context.Context, target string, filter *types.Filter,
) ([]*models.AppliedMigration, error) {
	f := types.NewFilter("m.target = ?", []any{target})
	if filter != nil {
		f = f.And(filter)
	}

	return models.AppliedMigrations(ctx, l.db, f)
}

// Forget removes the ledger entries of the given migrations for the target
// database. It doesn't undo any changes made by the migrations. Either all
// entries are removed, or none are.
func (l *Ledger) Forget(ctx context.Context, target string, migrations ...string) (rerr error) {
	tx, err := l.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed starting transaction: %w", err)
	}
	defer func() {
		if rerr != nil {
			_ = tx.Rollback()
		}
	}()

	for _, id := range migrations {
		am := &models.AppliedMigration{Target: target, Migration: id}
		if err = am.Delete(ctx, tx); err != nil {
			return err
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("failed committing transaction: %w", err)
	}

	return nil
}
