package migrator

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nrednav/cuid2"
)

// Execer executes SQL statements.
type Execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// Tx is a database transaction. *sql.Tx implements it.
type Tx interface {
	Execer
	Commit() error
	Rollback() error
}

// Database is a database migrations can be applied to.
type Database interface {
	Begin(ctx context.Context) (Tx, error)
}

// Ledger is the persistent record of applied migrations.
type Ledger interface {
	Database
	// Applied returns all migrations recorded for the given target database.
	Applied(ctx context.Context, target string) (AppliedSet, error)
	// Record writes a ledger entry using exec, which is a transaction either on
	// the ledger database or on the target database when they're the same.
	Record(ctx context.Context, exec Execer, entry LedgerEntry) error
}

// Mode is the way a migration was recorded in the ledger.
type Mode string

// Valid Mode values.
const (
	// ModeNormal is set for migrations that were executed on the target.
	ModeNormal Mode = "normal"
	// ModeFake is set for migrations that were recorded without executing them.
	ModeFake Mode = "fake"
)

// LedgerEntry is a record of a migration applied to a target database.
type LedgerEntry struct {
	Target    string
	Migration string
	AppliedAt time.Time
	Mode      Mode
	Checksum  string
	RunID     string
	Duration  time.Duration
}

// TxMode is the transaction boundary used when applying migrations.
type TxMode string

// Valid TxMode values.
const (
	// TxModeBatch applies all pending migrations in a single transaction.
	TxModeBatch TxMode = "batch"
	// TxModeMigration applies each pending migration in its own transaction.
	TxModeMigration TxMode = "migration"
)

// ModeFromString returns the Mode matching s.
func ModeFromString(s string) (Mode, error) {
	switch m := Mode(strings.ToLower(s)); m {
	case ModeNormal, ModeFake:
		return m, nil
	default:
		return "", fmt.Errorf("invalid mode '%s'; valid values: %s, %s", s, ModeNormal, ModeFake)
	}
}

// TxModeFromString returns the TxMode matching s.
func TxModeFromString(s string) (TxMode, error) {
	switch m := TxMode(strings.ToLower(s)); m {
	case TxModeBatch, TxModeMigration:
		return m, nil
	default:
		return "", fmt.Errorf("invalid transaction mode '%s'; valid values: %s, %s",
			s, TxModeBatch, TxModeMigration)
	}
}

// ApplyOptions changes how pending migrations are applied.
type ApplyOptions struct {
	// TxMode defaults to TxModeBatch.
	TxMode TxMode
	// DryRun only computes the pending migrations, without executing or
	// recording anything.
	DryRun bool
	// Fake records pending migrations in the ledger without executing them.
	Fake bool
	// SkipRegister executes pending migrations without recording them.
	SkipRegister bool
	// IgnoreApplied treats every planned migration as pending. Migrations
	// that are already in the ledger aren't recorded again.
	IgnoreApplied bool
}

// Validate returns an error if the options contradict each other.
func (o ApplyOptions) Validate() error {
	if o.TxMode != "" {
		if _, err := TxModeFromString(string(o.TxMode)); err != nil {
			return InvalidOptionsError{Msg: err.Error()}
		}
	}
	if o.Fake && o.SkipRegister {
		return InvalidOptionsError{Msg: "fake and skip-register can't be used together"}
	}

	return nil
}

// Result is the outcome of an Apply call.
type Result struct {
	RunID string
	Plan  *Plan
	// Pending are the migrations of the plan that were due to be applied.
	Pending []*Migration
	// Applied are the IDs of the pending migrations whose transaction was
	// committed, including a batch that failed to be recorded with a
	// ReconciliationError. It's empty for dry runs.
	Applied []string
	// Ledger is the state of the ledger for the target database before the run.
	Ledger AppliedSet
	DryRun bool
}

// Engine applies migrations to a target database, and keeps track of them in
// the ledger.
type Engine struct {
	target       Database
	ledger       Ledger
	targetName   string
	sharedLedger bool
	logger       *slog.Logger
	timeNow      func() time.Time
	newRunID     func() string
}

// Option is a function that allows configuring the Engine.
type Option func(*Engine)

// WithLogger sets the logger used by the engine.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = logger.With("component", "migrator")
	}
}

// WithTimeNow sets the function used to retrieve the current time.
func WithTimeNow(timeNow func() time.Time) Option {
	return func(e *Engine) {
		e.timeNow = timeNow
	}
}

// WithRunIDFunc sets the function used to generate run IDs.
func WithRunIDFunc(fn func() string) Option {
	return func(e *Engine) {
		e.newRunID = fn
	}
}

// WithSharedLedger indicates that the ledger is stored in the target
// database, so that ledger entries are written in the same transaction as the
// migrations they record.
func WithSharedLedger(shared bool) Option {
	return func(e *Engine) {
		e.sharedLedger = shared
	}
}

// NewEngine returns a new Engine that applies migrations to target, and
// records them in ledger under targetName.
func NewEngine(target Database, ledger Ledger, targetName string, opts ...Option) *Engine {
	e := &Engine{
		target:     target,
		ledger:     ledger,
		targetName: targetName,
		logger:     slog.New(slog.DiscardHandler),
		timeNow:    time.Now,
		newRunID:   cuid2.Generate,
	}

	for _, opt := range opts {
		opt(e)
	}

	return e
}

// Apply resolves the plan for targets, filters out migrations already
// recorded in the ledger, and applies the rest in plan order. It stops at the
// first failure. In batch mode a failure leaves neither the target nor the
// ledger changed. In per-migration mode migrations committed before the
// failure remain applied and recorded, and are listed in Result.Applied.
func (e *Engine) Apply(
	ctx context.Context, c *Catalog, opts ApplyOptions, targets ...string,
) (*Result, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	if opts.TxMode == "" {
		opts.TxMode = TxModeBatch
	}

	plan, err := Resolve(c, targets...)
	if err != nil {
		return nil, err
	}

	applied, err := e.ledger.Applied(ctx, e.targetName)
	if err != nil {
		return nil, LedgerError{Op: "load", Err: err}
	}

	e.checkDrift(plan, applied)

	res := &Result{
		RunID:   e.newRunID(),
		Plan:    plan,
		Pending: Pending(plan, applied, opts.IgnoreApplied),
		Ledger:  applied,
		DryRun:  opts.DryRun,
	}

	logger := e.logger.With("run_id", res.RunID, "target", e.targetName)

	if opts.DryRun {
		logger.Debug("dry run, not applying migrations", "pending", len(res.Pending))
		return res, nil
	}
	if len(res.Pending) == 0 {
		logger.Info("no pending migrations")
		return res, nil
	}

	var batches [][]*Migration
	switch opts.TxMode {
	case TxModeMigration:
		for _, m := range res.Pending {
			batches = append(batches, []*Migration{m})
		}
	default:
		batches = [][]*Migration{res.Pending}
	}

	for _, batch := range batches {
		if err = e.applyBatch(ctx, logger, res.RunID, batch, applied, opts); err != nil {
			// The target changes of this batch are committed even though
			// the ledger doesn't know about them.
			var rerr ReconciliationError
			if errors.As(err, &rerr) {
				res.Applied = append(res.Applied, rerr.Migrations...)
			}
			return res, err
		}
		for _, m := range batch {
			res.Applied = append(res.Applied, m.ID)
		}
	}

	logger.Info("migrations applied", "count", len(res.Applied),
		"tx_mode", opts.TxMode, "fake", opts.Fake, "skip_register", opts.SkipRegister)

	return res, nil
}

// applyBatch applies the given migrations in a single target transaction.
func (e *Engine) applyBatch(
	ctx context.Context, logger *slog.Logger, runID string, batch []*Migration,
	applied AppliedSet, opts ApplyOptions,
) error {
	var (
		target   *txScope
		ledgerTx *txScope
		recorder Execer
		err      error
	)

	if !opts.Fake {
		target, err = begin(ctx, e.target)
		if err != nil {
			return TransactionError{Op: "begin", Err: err}
		}
		defer target.release(logger)
	}

	if !opts.SkipRegister {
		if e.sharedLedger && target != nil {
			recorder = target.tx
		} else {
			ledgerTx, err = begin(ctx, e.ledger)
			if err != nil {
				return LedgerError{Op: "begin", Err: err}
			}
			defer ledgerTx.release(logger)
			recorder = ledgerTx.tx
		}
	}

	durations := make(map[string]time.Duration, len(batch))
	for _, m := range batch {
		if target == nil {
			continue
		}
		if strings.TrimSpace(m.SQL) == "" {
			logger.Debug("migration has an empty body", "migration", m.ID)
			continue
		}

		start := e.timeNow()
		if _, err = target.tx.ExecContext(ctx, m.SQL); err != nil {
			return ExecutionError{Migration: m.ID, Err: err}
		}
		durations[m.ID] = e.timeNow().Sub(start)
		logger.Debug("executed migration", "migration", m.ID, "duration", durations[m.ID])
	}

	if recorder != nil {
		mode := ModeNormal
		if opts.Fake {
			mode = ModeFake
		}
		appliedAt := e.timeNow().UTC()
		for _, m := range batch {
			if opts.IgnoreApplied && applied.Has(m.ID) {
				continue
			}
			err = e.ledger.Record(ctx, recorder, LedgerEntry{
				Target:    e.targetName,
				Migration: m.ID,
				AppliedAt: appliedAt,
				Mode:      mode,
				Checksum:  m.Checksum,
				RunID:     runID,
				Duration:  durations[m.ID],
			})
			if err != nil {
				return LedgerError{Op: "record", Migration: m.ID, Err: err}
			}
		}
	}

	if target != nil {
		if err = target.commit(); err != nil {
			return TransactionError{Op: "commit", Err: err}
		}
	}

	if ledgerTx != nil {
		if err = ledgerTx.commit(); err != nil {
			if target != nil {
				ids := make([]string, len(batch))
				for i, m := range batch {
					ids[i] = m.ID
				}
				return ReconciliationError{Target: e.targetName, Migrations: ids, Err: err}
			}
			return LedgerError{Op: "commit", Err: err}
		}
	}

	for _, m := range batch {
		switch {
		case opts.Fake:
			logger.Info("recorded migration without executing it", "migration", m.ID)
		default:
			logger.Info("applied migration", "migration", m.ID, "duration", durations[m.ID])
		}
	}

	return nil
}

// checkDrift warns about applied migrations whose content changed since they
// were recorded.
func (e *Engine) checkDrift(plan *Plan, applied AppliedSet) {
	for _, m := range plan.Migrations {
		entry, ok := applied[m.ID]
		if !ok || entry.Checksum == "" || entry.Checksum == m.Checksum {
			continue
		}
		e.logger.Warn("applied migration was modified",
			"migration", m.ID, "target", e.targetName,
			"recorded_checksum", entry.Checksum, "checksum", m.Checksum)
	}
}

// txScope is a transaction that is rolled back on release unless it was
// committed.
type txScope struct {
	tx   Tx
	done bool
}

func begin(ctx context.Context, d Database) (*txScope, error) {
	tx, err := d.Begin(ctx)
	if err != nil {
		return nil, err
	}
	return &txScope{tx: tx}, nil
}

func (s *txScope) commit() error {
	s.done = true
	return s.tx.Commit()
}

func (s *txScope) release(logger *slog.Logger) {
	if s.done {
		return
	}
	s.done = true
	if err := s.tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		logger.Warn("failed rolling back transaction", "error", err)
	}
}
