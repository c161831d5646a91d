package cli

import (
	"errors"
	"fmt"
	"strings"

	aerrors "go.hackfix.me/monarch/app/errors"
	"go.hackfix.me/monarch/db/migrator"
	"go.hackfix.me/monarch/db/types"
)

// migrationError adds the phase, migration and target database to errors
// returned by the migrator, so they're rendered as log fields. The original
// error message is preserved.
func migrationError(err error, target string) error {
	var (
		parseErr      migrator.ParseError
		dupErr        migrator.DuplicateMigrationError
		unresolvedErr migrator.UnresolvedDependencyError
		unknownErr    migrator.UnknownMigrationError
		cycleErr      migrator.CycleError
		execErr       migrator.ExecutionError
		txErr         migrator.TransactionError
		ledgerErr     migrator.LedgerError
		reconErr      migrator.ReconciliationError
	)

	switch {
	case errors.As(err, &parseErr):
		return aerrors.With(err, "phase", "load", "file", parseErr.Path)
	case errors.As(err, &dupErr):
		return aerrors.With(err, "phase", "load", "migration", dupErr.ID)
	case errors.As(err, &unresolvedErr):
		return aerrors.With(err, "phase", "resolve", "migration", unresolvedErr.Migration)
	case errors.As(err, &unknownErr):
		return aerrors.With(err, "phase", "resolve", "migration", unknownErr.ID)
	case errors.As(err, &cycleErr):
		return aerrors.With(err, "phase", "resolve")
	case errors.As(err, &execErr):
		return aerrors.With(err, withCode(execErr.Err,
			"phase", "execute", "migration", execErr.Migration, "target", target)...)
	case errors.As(err, &txErr):
		return aerrors.With(err, withCode(txErr.Err,
			"phase", "transaction", "target", target)...)
	case errors.As(err, &reconErr):
		return aerrors.NewRuntimeError("the ledger is out of sync with the target database",
			aerrors.With(err, withCode(reconErr.Err, "phase", "record", "target", target)...),
			fmt.Sprintf("Run 'monarch apply --fake --target %s %s' to record the committed migrations.",
				target, strings.Join(reconErr.Migrations, " ")))
	case errors.As(err, &ledgerErr):
		fields := []any{"phase", "ledger " + ledgerErr.Op, "target", target}
		if ledgerErr.Migration != "" {
			fields = append(fields, "migration", ledgerErr.Migration)
		}
		return aerrors.With(err, withCode(ledgerErr.Err, fields...)...)
	}

	return err
}

func withCode(err error, fields ...any) []any {
	if code := types.ErrorCode(err); code != "" {
		fields = append(fields, "code", code)
	}
	return fields
}
