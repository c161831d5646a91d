package cli

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/alecthomas/kong"

	"go.hackfix.me/monarch/app/config"
	actx "go.hackfix.me/monarch/app/context"
)

// CLI is the command line interface of Monarch.
type CLI struct {
	Init   Init   `kong:"cmd,help='Create the configuration file and initialize the ledger database.'"`
	Plan   Plan   `kong:"cmd,help='Show the migrations needed to reach the given targets.'"`
	Apply  Apply  `kong:"cmd,help='Apply pending migrations to a target database.'"`
	Status Status `kong:"cmd,help='Show applied and pending migrations of a target database.'"`
	Forget Forget `kong:"cmd,help='Remove migrations from the ledger, without undoing their changes.'"`

	Log struct {
		Level slog.Level `enum:"DEBUG,INFO,WARN,ERROR" default:"INFO" help:"Set the app logging level."`
	} `embed:"" prefix:"log-"`
	// NOTE: I'm deliberately not using kong.ConfigFlag or its support for reading
	// values from configuration files, since I want to manage configuration
	// independently from the CLI.
	ConfigFile    string           `kong:"default='${configFile}',help='Path to the Monarch configuration file.'"`
	DataDir       string           `kong:"default='${dataDir}',help='Path to the directory where Monarch data is stored.'"`
	MigrationsDir string           `kong:"help='Path to the migrations directory. Overrides the configuration file.'"`
	Version       kong.VersionFlag `kong:"help='Output version and exit.'"`

	kong *kong.Kong
	kctx *kong.Context
}

// New initializes the command-line interface.
func New(configFilePath, dataDir, version string) (*CLI, error) {
	c := &CLI{}
	kparser, err := kong.New(c,
		kong.Name("monarch"),
		kong.Description("Apply SQL migrations ordered by their declared dependencies."),
		kong.UsageOnError(),
		kong.DefaultEnvars("MONARCH"),
		kong.NamedMapper("duration", DurationMapper{}),
		kong.ConfigureHelp(kong.HelpOptions{
			Compact:             true,
			Summary:             true,
			NoExpandSubcommands: true,
		}),
		kong.Vars{
			"configFile": configFilePath,
			"dataDir":    dataDir,
			"version":    version,
		},
	)
	if err != nil {
		return nil, fmt.Errorf("failed creating the Kong parser: %w", err)
	}

	c.kong = kparser

	return c, nil
}

// Execute starts the command execution. Parse must be called before this method.
func (c *CLI) Execute(appCtx *actx.Context) error {
	if c.kctx == nil {
		panic("the CLI wasn't initialized properly")
	}
	c.kong.Stdout = appCtx.Stdout
	c.kong.Stderr = appCtx.Stderr

	//nolint:wrapcheck // This is fine.
	return c.kctx.Run(appCtx)
}

// Parse the given command line arguments. This method must be called before
// Execute.
func (c *CLI) Parse(args []string) error {
	kctx, err := c.kong.Parse(args)
	if err != nil {
		return fmt.Errorf("failed parsing CLI arguments: %w", err)
	}
	c.kctx = kctx

	return nil
}

// Command returns the full path of the executed command.
func (c *CLI) Command() string {
	if c.kctx == nil {
		panic("the CLI wasn't initialized properly")
	}
	cmdPath := []string{}
	for _, p := range c.kctx.Path {
		if p.Command != nil {
			cmdPath = append(cmdPath, p.Command.Name)
		}
	}

	return strings.Join(cmdPath, " ")
}

// ApplyConfig merges configuration values and CLI options. Options set on the
// command line take precedence.
func (c *CLI) ApplyConfig(cfg *config.Config) {
	if c.MigrationsDir != "" {
		cfg.MigrationsDir.V = c.MigrationsDir
		cfg.MigrationsDir.Valid = true
	}
	if c.Apply.TxMode == "" && cfg.TxMode.Valid {
		c.Apply.TxMode = string(cfg.TxMode.V)
	}
	if c.Apply.Timeout == 0 && cfg.RunTimeout.Valid {
		c.Apply.Timeout = cfg.RunTimeout.V
	}
}
