// Package migrator resolves and applies SQL migrations ordered by explicit
// dependency declarations rather than by filename.
//
// Features:
//   - Migrations are plain SQL files whose first non-blank line may hold a
//     header, e.g. `-- monarch: {depends_on: [users/001-create.sql]}`
//   - A migration is identified by its slash-separated path relative to the
//     migrations root, and that identifier is what depends_on entries refer to
//   - Plans are computed for one or more targets (or the whole catalog), and are
//     deterministic: independent migrations are ordered by catalog order
//   - Plans are filtered against a ledger of applied migrations per target database
//   - Pending migrations run either in a single transaction, or in one
//     transaction per migration
//   - Dry-run, fake (record without executing) and skip-register (execute
//     without recording) runs
package migrator
