package cli

import (
	"errors"
	"fmt"

	actx "go.hackfix.me/monarch/app/context"
	aerrors "go.hackfix.me/monarch/app/errors"
	"go.hackfix.me/monarch/db"
	"go.hackfix.me/monarch/db/migrator"
	"go.hackfix.me/monarch/db/queries"
)

// session holds the database connections used by a single command run.
type session struct {
	appCtx     *actx.Context
	internal   *db.DB
	target     *db.DB
	targetName string
	ledger     *db.Ledger
}

// openSession connects to the internal database, and to the target database
// if openTarget is true. If both are configured with the same connection
// details, a single connection is shared. The session must be closed by the
// caller, but on error all connections are already closed.
func openSession(appCtx *actx.Context, targetName string, openTarget bool) (_ *session, rerr error) {
	cfg := appCtx.Config
	name, targetCfg, err := cfg.Target(targetName)
	if err != nil {
		return nil, aerrors.NewRuntimeError("invalid target database", err,
			fmt.Sprintf("Target databases are configured in %s.", cfg.Path()))
	}
	if !cfg.Internal.DSN.Valid || cfg.Internal.DSN.V == "" {
		return nil, aerrors.NewRuntimeError("no internal database DSN configured", nil,
			fmt.Sprintf("The internal database is configured in %s.", cfg.Path()))
	}

	s := &session{appCtx: appCtx, targetName: name}
	defer func() {
		if rerr != nil {
			_ = s.Close()
		}
	}()

	internalDSN := appCtx.ExpandEnv(cfg.Internal.DSN.V)
	s.internal, err = db.Open(appCtx.Ctx, cfg.Internal.Driver.V, internalDSN)
	if err != nil {
		return nil, aerrors.NewRuntimeError("failed opening internal database", err, "")
	}

	version, err := queries.Version(appCtx.Ctx, s.internal)
	if err != nil || !version.Valid {
		return nil, aerrors.NewRuntimeError("the ledger database isn't initialized", err,
			"Run 'monarch init' to initialize it.")
	}
	s.ledger = db.NewLedger(s.internal)

	if !openTarget {
		return s, nil
	}

	targetDSN := appCtx.ExpandEnv(targetCfg.DSN.V)
	if s.internal.Same(targetCfg.Driver.V, targetDSN) {
		s.target = s.internal
		return s, nil
	}

	s.target, err = db.Open(appCtx.Ctx, targetCfg.Driver.V, targetDSN)
	if err != nil {
		return nil, aerrors.NewRuntimeError(
			fmt.Sprintf("failed opening target database '%s'", name), err, "")
	}

	return s, nil
}

// shared returns true if the ledger is stored in the target database.
func (s *session) shared() bool {
	return s.target != nil && s.target == s.internal
}

// migrationTarget returns the target database as a migrator.Database, or nil
// if it wasn't opened.
func (s *session) migrationTarget() migrator.Database {
	if s.target == nil {
		return nil
	}
	return s.target
}

// catalog loads all migrations from the configured migrations directory.
func (s *session) catalog() (*migrator.Catalog, error) {
	dir := s.appCtx.Config.MigrationsDir.V
	c, err := migrator.LoadCatalog(s.appCtx.FS, dir)
	if err != nil {
		return nil, migrationError(err, s.targetName)
	}
	s.appCtx.Logger.Debug("loaded migrations", "dir", dir, "count", c.Len())

	return c, nil
}

// Close closes all database connections of the session.
func (s *session) Close() error {
	var errs []error
	if s.target != nil && s.target != s.internal {
		if err := s.target.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed closing target database: %w", err))
		}
	}
	if s.internal != nil {
		if err := s.internal.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed closing internal database: %w", err))
		}
	}

	return errors.Join(errs...)
}
