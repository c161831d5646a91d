package context

import (
	"context"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/mandelsoft/vfs/pkg/vfs"

	"go.hackfix.me/monarch/app/config"
)

// Context contains common objects used by the application. It is passed around
// the application to avoid direct dependencies on external systems, and make
// testing easier.
type Context struct {
	Ctx     context.Context  // global context
	FS      vfs.FileSystem   // filesystem
	Env     Environment      // process environment
	Logger  *slog.Logger     // global logger
	TimeNow func() time.Time // current time source
	Config  *config.Config

	// Standard streams
	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer

	// Metadata
	Version *VersionInfo
}

// Environment gives access to the process environment.
type Environment interface {
	Get(string) string
	Set(string, string) error
}

// ExpandEnv replaces ${var} or $var in s with values from the environment.
// Unset variables are replaced with an empty string. s is returned unchanged
// if no environment is set.
func (c *Context) ExpandEnv(s string) string {
	if c.Env == nil {
		return s
	}
	return os.Expand(s, c.Env.Get)
}
