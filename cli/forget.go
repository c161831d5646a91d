package cli

import (
	"fmt"

	actx "go.hackfix.me/monarch/app/context"
	aerrors "go.hackfix.me/monarch/app/errors"
)

// The Forget command removes migrations from the ledger of a target database.
// It doesn't undo the changes made by the migrations, so they will be applied
// again on the next run.
type Forget struct {
	Target     string   `short:"t" help:"Name of the target database. Defaults to the configured default target."`
	Migrations []string `arg:"" help:"Migrations to remove from the ledger."`
}

// Run the forget command.
func (c *Forget) Run(appCtx *actx.Context) error {
	s, err := openSession(appCtx, c.Target, false)
	if err != nil {
		return err
	}
	defer s.Close()

	if err = s.ledger.Forget(appCtx.Ctx, s.targetName, c.Migrations...); err != nil {
		return aerrors.NewRuntimeError(
			fmt.Sprintf("failed removing migrations from the ledger of target '%s'", s.targetName),
			err, "")
	}

	for _, id := range c.Migrations {
		appCtx.Logger.Info("removed migration from the ledger", "migration", id, "target", s.targetName)
	}

	return nil
}
