package cli

import (
	"context"
	"fmt"
	"strings"
	"time"

	actx "go.hackfix.me/monarch/app/context"
	"go.hackfix.me/monarch/db/migrator"
)

// The Apply command applies pending migrations to a target database.
type Apply struct {
	Target        string        `short:"t" help:"Name of the target database. Defaults to the configured default target."`
	Migrations    []string      `arg:"" optional:"" help:"Migrations to apply, with their dependencies. All migrations are applied if none are given."`
	TxMode        string        `placeholder:"MODE" help:"Transaction boundary: 'batch' applies all migrations in a single transaction, 'migration' uses one transaction per migration."`
	DryRun        bool          `help:"Only show the migrations that would be applied."`
	Fake          bool          `xor:"register" help:"Record migrations in the ledger without running them."`
	SkipRegister  bool          `xor:"register" help:"Run migrations without recording them in the ledger."`
	IgnoreApplied bool          `help:"Apply migrations even if they're recorded as applied. Existing ledger entries are kept."`
	Timeout       time.Duration `type:"duration" help:"Maximum amount of time the run may take, e.g. 30s, 10m or 1h."`
}

// Run the apply command.
func (c *Apply) Run(appCtx *actx.Context) error {
	opts := migrator.ApplyOptions{
		DryRun:        c.DryRun,
		Fake:          c.Fake,
		SkipRegister:  c.SkipRegister,
		IgnoreApplied: c.IgnoreApplied,
	}
	if c.TxMode != "" {
		mode, err := migrator.TxModeFromString(c.TxMode)
		if err != nil {
			return err
		}
		opts.TxMode = mode
	}
	if err := opts.Validate(); err != nil {
		return err
	}

	s, err := openSession(appCtx, c.Target, !c.DryRun)
	if err != nil {
		return err
	}
	defer s.Close()

	catalog, err := s.catalog()
	if err != nil {
		return err
	}

	ctx := appCtx.Ctx
	if c.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.Timeout)
		defer cancel()
	}

	engine := migrator.NewEngine(s.migrationTarget(), s.ledger, s.targetName,
		migrator.WithLogger(appCtx.Logger),
		migrator.WithTimeNow(appCtx.TimeNow),
		migrator.WithSharedLedger(s.shared()),
	)

	res, err := engine.Apply(ctx, catalog, opts, c.Migrations...)
	if err != nil {
		return migrationError(err, s.targetName)
	}

	if res.DryRun {
		if len(res.Pending) == 0 {
			appCtx.Logger.Info("no pending migrations", "target", s.targetName)
			return nil
		}

		data := make([][]string, len(res.Pending))
		for i, m := range res.Pending {
			data[i] = []string{fmt.Sprintf("%d", i+1), m.ID, strings.Join(m.DependsOn, ", ")}
		}
		header := []string{"#", "Migration", "Depends on"}
		if err = renderTable(appCtx.Stdout, header, data); err != nil {
			return fmt.Errorf("failed rendering pending migrations: %w", err)
		}
	}

	return nil
}
