package cli

import (
	"fmt"
	"path/filepath"
	"strings"

	actx "go.hackfix.me/monarch/app/context"
	aerrors "go.hackfix.me/monarch/app/errors"
	"go.hackfix.me/monarch/db"
)

// The Init command writes the configuration file if it doesn't exist, and
// creates the ledger schema in the internal database.
type Init struct{}

// Run the init command.
func (c *Init) Run(appCtx *actx.Context) error {
	cfg := appCtx.Config
	exists, err := cfg.Exists()
	if err != nil {
		return err
	}
	if !exists {
		if err = cfg.Save(); err != nil {
			return aerrors.NewRuntimeError("failed creating configuration file", err, "")
		}
		appCtx.Logger.Info("created configuration file", "path", cfg.Path())
	}

	driver, dsn := cfg.Internal.Driver.V, appCtx.ExpandEnv(cfg.Internal.DSN.V)
	if driver == db.DriverSQLite && !strings.HasPrefix(dsn, "file:") && dsn != ":memory:" {
		if err = appCtx.FS.MkdirAll(filepath.Dir(dsn), 0o700); err != nil {
			return fmt.Errorf("failed creating internal database directory: %w", err)
		}
	}

	internal, err := db.Open(appCtx.Ctx, driver, dsn)
	if err != nil {
		return aerrors.NewRuntimeError("failed opening internal database", err, "")
	}
	defer internal.Close()

	version, created, err := internal.Init(
		appCtx.Ctx, appCtx.Version.Semantic, appCtx.TimeNow(), appCtx.Logger)
	if err != nil {
		return aerrors.NewRuntimeError("failed initializing ledger database", err, "")
	}
	if !created {
		appCtx.Logger.Info("ledger database is already initialized", "version", version)
	}

	return nil
}
