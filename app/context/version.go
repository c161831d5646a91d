package context

import (
	"errors"
	"fmt"
	"runtime/debug"
	"strings"
)

// VersionInfo describes the build of the running binary.
type VersionInfo struct {
	// Semantic is the module version, or "(devel)" for local builds.
	Semantic string
	Commit   string
	Dirty    bool
	Go       string
}

// GetVersion reads the version information embedded in the binary.
func GetVersion() (*VersionInfo, error) {
	bi, ok := debug.ReadBuildInfo()
	if !ok {
		return nil, errors.New("failed reading build information")
	}

	vi := &VersionInfo{Semantic: bi.Main.Version, Go: bi.GoVersion}
	if vi.Semantic == "" {
		vi.Semantic = "(devel)"
	}
	for _, s := range bi.Settings {
		switch s.Key {
		case "vcs.revision":
			vi.Commit = s.Value
		case "vcs.modified":
			vi.Dirty = s.Value == "true"
		}
	}

	return vi, nil
}

// String returns the version as a single line, e.g.
// "v1.2.0 (commit 0a1b2c3d, go1.24.2)".
func (vi *VersionInfo) String() string {
	extra := []string{}
	if vi.Commit != "" {
		commit := vi.Commit
		if len(commit) > 8 {
			commit = commit[:8]
		}
		if vi.Dirty {
			commit += "-dirty"
		}
		extra = append(extra, "commit "+commit)
	}
	if vi.Go != "" {
		extra = append(extra, vi.Go)
	}

	if len(extra) == 0 {
		return vi.Semantic
	}

	return fmt.Sprintf("%s (%s)", vi.Semantic, strings.Join(extra, ", "))
}
