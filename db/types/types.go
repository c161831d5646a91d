package types

import (
	"context"
	"database/sql"
	"fmt"
	"slices"
	"strconv"
	"strings"
)

// Execer exposes only the method for running SQL statements. It's satisfied by
// *sql.DB, *sql.Tx and the transactions returned by db.DB.
type Execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// Querier exposes only methods for running SQL queries.
type Querier interface {
	Execer
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Filter is used to dynamically modify queries. Placeholders in Where must use
// '?', and are rebound for the database driver when the query is run.
type Filter struct {
	Where string
	Args  []any
}

// NewFilter creates a new query filter.
func NewFilter(where string, args []any) *Filter {
	return &Filter{Where: where, Args: args}
}

// And joins f2 with f1 using an AND condition.
func (f1 *Filter) And(f2 *Filter) *Filter {
	return &Filter{
		Where: fmt.Sprintf("(%s) AND (%s)", f1.Where, f2.Where),
		Args:  slices.Concat(f1.Args, f2.Args),
	}
}

// Or joins f2 with f1 using an OR condition.
func (f1 *Filter) Or(f2 *Filter) *Filter {
	return &Filter{
		Where: fmt.Sprintf("(%s) OR (%s)", f1.Where, f2.Where),
		Args:  slices.Concat(f1.Args, f2.Args),
	}
}

// Rebind replaces '?' placeholders in query with the numbered '$N' form used
// by PostgreSQL. Question marks inside quoted strings or identifiers are left
// untouched.
func Rebind(query string) string {
	if !strings.Contains(query, "?") {
		return query
	}

	var (
		sb    strings.Builder
		n     int
		quote rune
	)
	sb.Grow(len(query) + 8)
	for _, r := range query {
		switch {
		case quote != 0:
			if r == quote {
				quote = 0
			}
		case r == '\'' || r == '"':
			quote = r
		case r == '?':
			n++
			sb.WriteByte('$')
			sb.WriteString(strconv.Itoa(n))
			continue
		}
		sb.WriteRune(r)
	}

	return sb.String()
}
