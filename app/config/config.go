package config

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"maps"
	"path/filepath"
	"slices"
	"time"

	"github.com/mandelsoft/vfs/pkg/vfs"

	"go.hackfix.me/monarch/db"
	"go.hackfix.me/monarch/db/migrator"
	"go.hackfix.me/monarch/xtime"
)

// Config represents the application configuration, backed by a filesystem for
// persistence.
type Config struct {
	// MigrationsDir is the root directory of the migration files. Migration IDs
	// are paths relative to it.
	MigrationsDir sql.Null[string]
	// Internal is the database where the ledger is stored.
	Internal Database
	// Targets are the databases migrations can be applied to, by name. The
	// name is what the ledger records entries under, so renaming a target
	// makes all of its migrations pending again.
	Targets map[string]Database
	// DefaultTarget is the target used when none is specified on the command
	// line. If it's not set and there's a single target, that one is used.
	DefaultTarget sql.Null[string]
	// TxMode is the default transaction boundary used when applying
	// migrations.
	TxMode sql.Null[migrator.TxMode]
	// RunTimeout is the maximum amount of time an apply run may take.
	// It serializes from/to xtime.Duration string values.
	RunTimeout sql.Null[time.Duration]

	fs   vfs.FileSystem
	path string
}

// Database is the connection configuration of a database.
type Database struct {
	Driver sql.Null[db.Driver]
	// DSN is the driver specific connection string. For SQLite it's the path
	// to the database file, for PostgreSQL a URL or keyword/value string.
	DSN sql.Null[string]
}

// NewConfig creates a new Config instance with the specified filesystem
// and configuration file path.
func NewConfig(fs vfs.FileSystem, path string) *Config {
	return &Config{fs: fs, path: path}
}

// Load reads and parses the configuration file from the filesystem.
// If the file doesn't exist, it initializes with an empty configuration.
func (c *Config) Load() error {
	configJSON, err := vfs.ReadFile(c.fs, c.path)
	if err != nil && !vfs.IsErrNotExist(err) {
		return fmt.Errorf("failed reading configuration file: %w", err)
	}

	// Ensure that unmarshalling JSON doesn't fail if the file doesn't exist or is empty.
	if len(configJSON) == 0 {
		configJSON = []byte("{}")
	}

	if err = json.Unmarshal(configJSON, c); err != nil {
		return fmt.Errorf("failed parsing configuration file: %w", err)
	}

	return nil
}

// Exists returns true if the configuration file exists.
func (c *Config) Exists() (bool, error) {
	_, err := c.fs.Stat(c.path)
	if err != nil {
		if vfs.IsErrNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed reading configuration file: %w", err)
	}

	return true, nil
}

// Path returns the filesystem path where the configuration is stored.
func (c *Config) Path() string {
	return c.path
}

// Save writes the current configuration to the filesystem as JSON.
func (c *Config) Save() error {
	if err := c.fs.MkdirAll(filepath.Dir(c.path), 0o755); err != nil {
		return fmt.Errorf("failed creating configuration directory: %w", err)
	}
	configJSON, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed serializing configuration data: %w", err)
	}
	if err = vfs.WriteFile(c.fs, c.path, configJSON, 0o644); err != nil {
		return fmt.Errorf("failed writing configuration file: %w", err)
	}

	return nil
}

// Target returns the name and configuration of the target database with the
// given name, or of the default target if name is empty.
func (c *Config) Target(name string) (string, Database, error) {
	if name == "" {
		if !c.DefaultTarget.Valid || c.DefaultTarget.V == "" {
			return "", Database{}, fmt.Errorf(
				"no target database specified, and no default target configured; available targets: %s",
				c.targetNames())
		}
		name = c.DefaultTarget.V
	}

	target, ok := c.Targets[name]
	if !ok {
		return "", Database{}, fmt.Errorf("unknown target database '%s'; available targets: %s",
			name, c.targetNames())
	}
	if !target.DSN.Valid || target.DSN.V == "" {
		return "", Database{}, fmt.Errorf("target database '%s' has no DSN configured", name)
	}

	return name, target, nil
}

func (c *Config) targetNames() string {
	if len(c.Targets) == 0 {
		return "none"
	}
	names := slices.Sorted(maps.Keys(c.Targets))
	return fmt.Sprintf("%q", names)
}

type cfgWrapper struct {
	MigrationsDir string                  `json:"migrations_dir,omitempty"`
	Internal      *dbCfgWrapper           `json:"internal,omitempty"`
	Targets       map[string]dbCfgWrapper `json:"targets,omitempty"`
	DefaultTarget string                  `json:"default_target,omitempty"`
	TxMode        string                  `json:"tx_mode,omitempty"`
	RunTimeout    string                  `json:"run_timeout,omitempty"`
}

type dbCfgWrapper struct {
	Driver string `json:"driver,omitempty"`
	DSN    string `json:"dsn,omitempty"`
}

func (d Database) wrap() dbCfgWrapper {
	var w dbCfgWrapper
	if d.Driver.Valid {
		w.Driver = string(d.Driver.V)
	}
	if d.DSN.Valid {
		w.DSN = d.DSN.V
	}
	return w
}

func (d *Database) unwrap(w dbCfgWrapper) error {
	if w.Driver != "" {
		driver, err := db.DriverFromString(w.Driver)
		if err != nil {
			return err
		}
		d.Driver = sql.Null[db.Driver]{V: driver, Valid: true}
	}
	if w.DSN != "" {
		d.DSN = sql.Null[string]{V: w.DSN, Valid: true}
	}
	return nil
}

// MarshalJSON implements custom JSON marshaling to convert sql.Null values
// to their underlying types, omitting invalid/null fields from the output.
func (c Config) MarshalJSON() ([]byte, error) {
	w := cfgWrapper{}

	if c.MigrationsDir.Valid {
		w.MigrationsDir = c.MigrationsDir.V
	}
	if c.Internal.Driver.Valid || c.Internal.DSN.Valid {
		internal := c.Internal.wrap()
		w.Internal = &internal
	}
	if len(c.Targets) > 0 {
		w.Targets = make(map[string]dbCfgWrapper, len(c.Targets))
		for name, target := range c.Targets {
			w.Targets[name] = target.wrap()
		}
	}
	if c.DefaultTarget.Valid {
		w.DefaultTarget = c.DefaultTarget.V
	}
	if c.TxMode.Valid {
		w.TxMode = string(c.TxMode.V)
	}
	if c.RunTimeout.Valid {
		w.RunTimeout = xtime.FormatDuration(c.RunTimeout.V, time.Second)
	}

	//nolint:wrapcheck // This is fine.
	return json.Marshal(w)
}

// UnmarshalJSON implements custom JSON unmarshaling to convert plain values
// into sql.Null types and parse duration strings into time.Duration values.
func (c *Config) UnmarshalJSON(data []byte) error {
	var w cfgWrapper
	if err := json.Unmarshal(data, &w); err != nil {
		//nolint:wrapcheck // This is fine.
		return err
	}

	if w.MigrationsDir != "" {
		c.MigrationsDir = sql.Null[string]{V: w.MigrationsDir, Valid: true}
	}
	if w.Internal != nil {
		if err := c.Internal.unwrap(*w.Internal); err != nil {
			return fmt.Errorf("invalid internal database: %w", err)
		}
	}
	if len(w.Targets) > 0 {
		c.Targets = make(map[string]Database, len(w.Targets))
		for name, tw := range w.Targets {
			var target Database
			if err := target.unwrap(tw); err != nil {
				return fmt.Errorf("invalid target database '%s': %w", name, err)
			}
			c.Targets[name] = target
		}
	}
	if w.DefaultTarget != "" {
		c.DefaultTarget = sql.Null[string]{V: w.DefaultTarget, Valid: true}
	}
	if w.TxMode != "" {
		mode, err := migrator.TxModeFromString(w.TxMode)
		if err != nil {
			return err
		}
		c.TxMode = sql.Null[migrator.TxMode]{V: mode, Valid: true}
	}
	if w.RunTimeout != "" {
		dur, err := xtime.ParsePositiveDuration(w.RunTimeout)
		if err != nil {
			return fmt.Errorf("failed parsing run timeout: %w", err)
		}
		c.RunTimeout = sql.Null[time.Duration]{V: dur, Valid: true}
	}

	return nil
}

// SetDefaults sets default configuration values if they weren't set already.
// The ledger is stored in a SQLite database in dataDir by default.
func (c *Config) SetDefaults(dataDir string) {
	if !c.MigrationsDir.Valid {
		c.MigrationsDir = sql.Null[string]{V: "migrations", Valid: true}
	}
	if !c.Internal.Driver.Valid {
		c.Internal.Driver = sql.Null[db.Driver]{V: db.DriverSQLite, Valid: true}
	}
	if !c.Internal.DSN.Valid && c.Internal.Driver.V == db.DriverSQLite {
		c.Internal.DSN = sql.Null[string]{V: filepath.Join(dataDir, "ledger.db"), Valid: true}
	}
	for name, target := range c.Targets {
		if !target.Driver.Valid {
			target.Driver = sql.Null[db.Driver]{V: db.DriverSQLite, Valid: true}
			c.Targets[name] = target
		}
	}
	if !c.DefaultTarget.Valid && len(c.Targets) == 1 {
		for name := range c.Targets {
			c.DefaultTarget = sql.Null[string]{V: name, Valid: true}
		}
	}
	if !c.TxMode.Valid {
		c.TxMode = sql.Null[migrator.TxMode]{V: migrator.TxModeBatch, Valid: true}
	}
}
