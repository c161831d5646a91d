package migrator

import (
	"fmt"
	"path"
	"slices"
	"strings"

	"github.com/mandelsoft/vfs/pkg/vfs"

	"go.hackfix.me/monarch/crypto"
)

// Migration is a single migration file.
type Migration struct {
	// ID is the path of the file relative to the migrations root, using '/' as
	// separator. It's the value other migrations list in depends_on.
	ID string
	// DependsOn are the IDs of migrations that must be applied before this one,
	// in declaration order.
	DependsOn []string
	// SQL is the body of the migration, with the header line removed.
	SQL string
	// Checksum is a fingerprint of SQL, recorded in the ledger when the
	// migration is applied.
	Checksum string
}

// NewMigration creates a migration from the raw text of a migration file.
func NewMigration(id, text string) (*Migration, error) {
	if err := validateID(id); err != nil {
		return nil, ParseError{Path: id, Err: err}
	}

	hdr, body, err := ParseHeader(text)
	if err != nil {
		return nil, ParseError{Path: id, Err: err}
	}

	return &Migration{
		ID:        id,
		DependsOn: hdr.DependsOn,
		SQL:       body,
		Checksum:  crypto.Checksum([]byte(body)),
	}, nil
}

// Catalog is the full, read-only set of known migrations.
type Catalog struct {
	migrations []*Migration
	byID       map[string]*Migration
	// position of each migration in catalog order
	order map[string]int
}

// NewCatalog builds a catalog from the given migrations. Migrations are kept
// sorted by ID, which is the catalog order used to break ties during
// resolution. It returns an error if IDs are duplicated, or if a migration
// depends on a migration that isn't part of the catalog.
func NewCatalog(migrations ...*Migration) (*Catalog, error) {
	c := &Catalog{
		migrations: slices.Clone(migrations),
		byID:       make(map[string]*Migration, len(migrations)),
		order:      make(map[string]int, len(migrations)),
	}

	slices.SortStableFunc(c.migrations, func(a, b *Migration) int {
		return strings.Compare(a.ID, b.ID)
	})

	for i, m := range c.migrations {
		if _, ok := c.byID[m.ID]; ok {
			return nil, DuplicateMigrationError{ID: m.ID}
		}
		c.byID[m.ID] = m
		c.order[m.ID] = i
	}

	for _, m := range c.migrations {
		for _, dep := range m.DependsOn {
			if _, ok := c.byID[dep]; !ok {
				return nil, UnresolvedDependencyError{Migration: m.ID, Dependency: dep}
			}
		}
	}

	return c, nil
}

// LoadCatalog reads all *.sql files under root, recursively, and builds a
// catalog from them. Files and directories whose name starts with a '.' are
// ignored.
func LoadCatalog(fs vfs.FileSystem, root string) (*Catalog, error) {
	fi, err := fs.Stat(root)
	if err != nil {
		return nil, ParseError{Path: root, Err: fmt.Errorf("failed reading migrations directory: %w", err)}
	}
	if !fi.IsDir() {
		return nil, ParseError{Path: root, Err: fmt.Errorf("not a directory")}
	}

	var (
		migrations []*Migration
		// relative directory paths still to be read; "" is the root
		dirs = []string{""}
	)
	for len(dirs) > 0 {
		rel := dirs[len(dirs)-1]
		dirs = dirs[:len(dirs)-1]

		entries, err := vfs.ReadDir(fs, path.Join(root, rel))
		if err != nil {
			return nil, ParseError{Path: path.Join(root, rel), Err: err}
		}

		for _, entry := range entries {
			name := entry.Name()
			if strings.HasPrefix(name, ".") {
				continue
			}

			id := path.Join(rel, name)
			if entry.IsDir() {
				dirs = append(dirs, id)
				continue
			}
			if !entry.Mode().IsRegular() || path.Ext(name) != ".sql" {
				continue
			}

			text, err := vfs.ReadFile(fs, path.Join(root, id))
			if err != nil {
				return nil, ParseError{Path: id, Err: err}
			}

			m, err := NewMigration(id, string(text))
			if err != nil {
				return nil, err
			}
			migrations = append(migrations, m)
		}
	}

	return NewCatalog(migrations...)
}

// Get returns the migration with the given ID.
func (c *Catalog) Get(id string) (*Migration, bool) {
	m, ok := c.byID[id]
	return m, ok
}

// Index returns the position of the migration with the given ID in catalog
// order, or -1 if it doesn't exist.
func (c *Catalog) Index(id string) int {
	i, ok := c.order[id]
	if !ok {
		return -1
	}
	return i
}

// Migrations returns all migrations in catalog order.
func (c *Catalog) Migrations() []*Migration {
	return slices.Clone(c.migrations)
}

// Len returns the number of migrations in the catalog.
func (c *Catalog) Len() int {
	return len(c.migrations)
}
