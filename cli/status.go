package cli

import (
	"fmt"
	"time"

	actx "go.hackfix.me/monarch/app/context"
	"go.hackfix.me/monarch/db/migrator"
	"go.hackfix.me/monarch/db/types"
	"go.hackfix.me/monarch/xtime"
)

// The Status command shows the ledger entries of a target database, and the
// migrations that are still pending. Pending migrations are only shown if the
// ledger entries aren't filtered.
type Status struct {
	Target string   `short:"t" help:"Name of the target database. Defaults to the configured default target."`
	Runs   []string `name:"run" placeholder:"RUN_ID" help:"Only show migrations recorded by the given runs."`
	Mode   string   `placeholder:"MODE" help:"Only show migrations recorded with the given mode: 'normal' or 'fake'."`
}

// Run the status command.
func (c *Status) Run(appCtx *actx.Context) error {
	s, err := openSession(appCtx, c.Target, false)
	if err != nil {
		return err
	}
	defer s.Close()

	catalog, err := s.catalog()
	if err != nil {
		return err
	}

	plan, err := migrator.Resolve(catalog)
	if err != nil {
		return migrationError(err, s.targetName)
	}

	filter, err := c.filter()
	if err != nil {
		return err
	}

	entries, err := s.ledger.Find(appCtx.Ctx, s.targetName, filter)
	if err != nil {
		return migrationError(migrator.LedgerError{Op: "load", Err: err}, s.targetName)
	}

	applied := make(migrator.AppliedSet, len(entries))
	data := make([][]string, 0, len(entries)+catalog.Len())
	for _, e := range entries {
		entry := migrator.LedgerEntry{
			Migration: e.Migration, Mode: migrator.Mode(e.Mode), Checksum: e.Checksum,
		}
		applied[e.Migration] = entry

		m, ok := catalog.Get(e.Migration)
		status := appliedStatus(m, entry)
		if !ok {
			status = "missing"
		}
		data = append(data, []string{
			e.Migration, status,
			e.AppliedAt.Local().Format(time.DateTime),
			xtime.FormatDuration(e.Duration, time.Millisecond),
			e.RunID,
		})
	}

	var pending []*migrator.Migration
	if filter == nil {
		pending = migrator.Pending(plan, applied, false)
	}
	for _, m := range pending {
		data = append(data, []string{m.ID, "pending"})
	}

	header := []string{"Migration", "Status", "Applied at", "Duration", "Run ID"}
	if err = renderTable(appCtx.Stdout, header, data); err != nil {
		return fmt.Errorf("failed rendering status: %w", err)
	}

	appCtx.Logger.Info("ledger status", "target", s.targetName,
		"applied", len(entries), "pending", len(pending))

	return nil
}

// filter returns the ledger filter for the selected runs and mode, or nil if
// none were selected.
func (c *Status) filter() (*types.Filter, error) {
	var filter *types.Filter
	for _, run := range c.Runs {
		f := types.NewFilter("m.run_id = ?", []any{run})
		if filter == nil {
			filter = f
		} else {
			filter = filter.Or(f)
		}
	}

	if c.Mode != "" {
		mode, err := migrator.ModeFromString(c.Mode)
		if err != nil {
			return nil, err
		}
		f := types.NewFilter("m.mode = ?", []any{string(mode)})
		if filter == nil {
			filter = f
		} else {
			filter = filter.And(f)
		}
	}

	return filter, nil
}
