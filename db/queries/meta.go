package queries

import (
	"context"
	"database/sql"
	"errors"

	"go.hackfix.me/monarch/db/types"
)

// Version returns the Monarch version the ledger database was initialized
// with. If the returned sql.Null value is invalid, the ledger schema exists
// but wasn't initialized. An error is returned if the schema doesn't exist.
func Version(ctx context.Context, d types.Querier) (sql.Null[string], error) {
	var version sql.Null[string]
	err := d.QueryRowContext(ctx, `SELECT version FROM _monarch_meta`).
		Scan(&version)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return version, err
	}

	return version, nil
}
