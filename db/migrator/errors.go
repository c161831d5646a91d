package migrator

import (
	"fmt"
	"strings"
)

// ParseError is returned when a migration file can't be read, or its header
// is malformed.
type ParseError struct {
	Path string
	Err  error
}

// Error returns a string representation of the error.
func (e ParseError) Error() string {
	return fmt.Sprintf("failed parsing migration '%s': %s", e.Path, e.Err)
}

// Unwrap returns the underlying error for error unwrapping.
func (e ParseError) Unwrap() error {
	return e.Err
}

// DuplicateMigrationError is returned when two migrations share an identifier.
type DuplicateMigrationError struct {
	ID string
}

// Error returns a string representation of the error.
func (e DuplicateMigrationError) Error() string {
	return fmt.Sprintf("duplicate migration '%s'", e.ID)
}

// UnresolvedDependencyError is returned when a migration depends on an
// identifier that doesn't exist in the catalog.
type UnresolvedDependencyError struct {
	Migration  string
	Dependency string
}

// Error returns a string representation of the error.
func (e UnresolvedDependencyError) Error() string {
	return fmt.Sprintf("migration '%s' depends on unknown migration '%s'",
		e.Migration, e.Dependency)
}

// UnknownMigrationError is returned when a requested target doesn't exist in
// the catalog.
type UnknownMigrationError struct {
	ID string
}

// Error returns a string representation of the error.
func (e UnknownMigrationError) Error() string {
	return fmt.Sprintf("unknown migration '%s'", e.ID)
}

// CycleError is returned when the dependency graph contains a cycle. Cycle
// lists the migrations that form it, starting and ending with the same one.
type CycleError struct {
	Cycle []string
}

// Error returns a string representation of the error.
func (e CycleError) Error() string {
	return fmt.Sprintf("dependency cycle detected: %s", strings.Join(e.Cycle, " -> "))
}

// ExecutionError is returned when the target database rejects the SQL of a
// migration. The underlying database error is kept intact.
type ExecutionError struct {
	Migration string
	Err       error
}

// Error returns a string representation of the error.
func (e ExecutionError) Error() string {
	return fmt.Sprintf("failed applying migration '%s': %s", e.Migration, e.Err)
}

// Unwrap returns the underlying error for error unwrapping.
func (e ExecutionError) Unwrap() error {
	return e.Err
}

// TransactionError is returned when a transaction on the target database
// can't be started or committed.
type TransactionError struct {
	Op  string
	Err error
}

// Error returns a string representation of the error.
func (e TransactionError) Error() string {
	return fmt.Sprintf("failed to %s target transaction: %s", e.Op, e.Err)
}

// Unwrap returns the underlying error for error unwrapping.
func (e TransactionError) Unwrap() error {
	return e.Err
}

// LedgerError is returned when reading from or writing to the ledger fails.
type LedgerError struct {
	Op        string
	Migration string
	Err       error
}

// Error returns a string representation of the error.
func (e LedgerError) Error() string {
	if e.Migration != "" {
		return fmt.Sprintf("ledger %s failed for migration '%s': %s", e.Op, e.Migration, e.Err)
	}
	return fmt.Sprintf("ledger %s failed: %s", e.Op, e.Err)
}

// Unwrap returns the underlying error for error unwrapping.
func (e LedgerError) Unwrap() error {
	return e.Err
}

// ReconciliationError is returned when migrations were committed to the
// target database, but recording them in a separate ledger database failed.
// The ledger must be reconciled manually, e.g. with a fake run.
type ReconciliationError struct {
	Target     string
	Migrations []string
	Err        error
}

// Error returns a string representation of the error.
func (e ReconciliationError) Error() string {
	return fmt.Sprintf(
		"migrations [%s] were committed to target '%s' but not recorded in the ledger: %s",
		strings.Join(e.Migrations, ", "), e.Target, e.Err)
}

// Unwrap returns the underlying error for error unwrapping.
func (e ReconciliationError) Unwrap() error {
	return e.Err
}

// InvalidOptionsError is returned for contradictory apply options.
type InvalidOptionsError struct {
	Msg string
}

// Error returns a string representation of the error.
func (e InvalidOptionsError) Error() string {
	return e.Msg
}
