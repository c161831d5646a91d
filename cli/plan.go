package cli

import (
	"fmt"
	"strings"

	actx "go.hackfix.me/monarch/app/context"
	"go.hackfix.me/monarch/db/migrator"
)

// The Plan command shows the migrations needed to reach the given targets, in
// the order they would be applied.
type Plan struct {
	Target        string   `short:"t" help:"Name of the target database. Defaults to the configured default target."`
	Migrations    []string `arg:"" optional:"" help:"Migrations to plan for, with their dependencies. All migrations are planned if none are given."`
	IgnoreApplied bool     `help:"Show applied migrations as pending."`
}

// Run the plan command.
func (c *Plan) Run(appCtx *actx.Context) error {
	s, err := openSession(appCtx, c.Target, false)
	if err != nil {
		return err
	}
	defer s.Close()

	catalog, err := s.catalog()
	if err != nil {
		return err
	}

	plan, err := migrator.Resolve(catalog, c.Migrations...)
	if err != nil {
		return migrationError(err, s.targetName)
	}

	applied, err := s.ledger.Applied(appCtx.Ctx, s.targetName)
	if err != nil {
		return migrationError(migrator.LedgerError{Op: "load", Err: err}, s.targetName)
	}

	pending := migrator.Pending(plan, applied, c.IgnoreApplied)
	isPending := make(map[string]bool, len(pending))
	for _, m := range pending {
		isPending[m.ID] = true
	}

	data := make([][]string, len(plan.Migrations))
	for i, m := range plan.Migrations {
		status := "pending"
		if !isPending[m.ID] {
			status = appliedStatus(m, applied[m.ID])
		}
		data[i] = []string{
			fmt.Sprintf("%d", i+1), m.ID, status, strings.Join(m.DependsOn, ", "),
		}
	}

	header := []string{"#", "Migration", "Status", "Depends on"}
	if err = renderTable(appCtx.Stdout, header, data); err != nil {
		return fmt.Errorf("failed rendering plan: %w", err)
	}

	appCtx.Logger.Info("resolved plan", "target", s.targetName,
		"migrations", len(plan.Migrations), "pending", len(pending))

	return nil
}

// appliedStatus describes a migration recorded in the ledger.
func appliedStatus(m *migrator.Migration, entry migrator.LedgerEntry) string {
	status := "applied"
	if entry.Mode == migrator.ModeFake {
		status = "applied (fake)"
	}
	if m != nil && entry.Checksum != "" && entry.Checksum != m.Checksum {
		status += ", modified"
	}
	return status
}
