package migrator

import (
	"errors"
	"fmt"
	"io"
	"path"
	"strings"

	"gopkg.in/yaml.v3"
)

// HeaderMarker starts the header line of a migration file. The rest of the
// line is a YAML flow mapping (or JSON object) with the declaration.
const HeaderMarker = "-- monarch:"

// Header is the declaration found on the header line of a migration.
type Header struct {
	// DependsOn lists the identifiers of migrations that must be applied
	// before this one.
	DependsOn []string `yaml:"depends_on"`
}

// ParseHeader extracts the header from the raw text of a migration, and
// returns it together with the remaining SQL body. A migration without a
// header is valid, and has no dependencies.
func ParseHeader(text string) (Header, string, error) {
	text = strings.TrimPrefix(text, "\ufeff")

	for rest := text; rest != ""; {
		line, tail, _ := strings.Cut(rest, "\n")
		line = strings.TrimSpace(line)
		if line == "" {
			rest = tail
			continue
		}

		if !strings.HasPrefix(line, HeaderMarker) {
			if isMalformedMarker(line) {
				return Header{}, "", fmt.Errorf(
					"malformed header line '%s'; headers must start with '%s'", line, HeaderMarker)
			}
			break
		}

		hdr, err := decodeHeader(strings.TrimSpace(strings.TrimPrefix(line, HeaderMarker)))
		if err != nil {
			return Header{}, "", err
		}

		return hdr, tail, nil
	}

	return Header{}, text, nil
}

// isMalformedMarker returns true if line is a SQL comment that looks like a
// header, but doesn't start with the exact marker, e.g. "--monarch: {...}".
func isMalformedMarker(line string) bool {
	return strings.HasPrefix(line, "--") &&
		strings.Contains(strings.ToLower(line), "monarch:")
}

func decodeHeader(decl string) (Header, error) {
	var hdr Header
	if decl == "" {
		return hdr, nil
	}

	dec := yaml.NewDecoder(strings.NewReader(decl))
	dec.KnownFields(true)
	if err := dec.Decode(&hdr); err != nil && !errors.Is(err, io.EOF) {
		return Header{}, fmt.Errorf("invalid header declaration: %w", err)
	}

	seen := make(map[string]struct{}, len(hdr.DependsOn))
	for _, dep := range hdr.DependsOn {
		if err := validateID(dep); err != nil {
			return Header{}, fmt.Errorf("invalid depends_on entry: %w", err)
		}
		if _, ok := seen[dep]; ok {
			return Header{}, fmt.Errorf("invalid depends_on entry: '%s' is listed more than once", dep)
		}
		seen[dep] = struct{}{}
	}

	return hdr, nil
}

// validateID checks that id is in the canonical form used by the catalog: a
// clean, relative, slash-separated path.
func validateID(id string) error {
	switch {
	case strings.TrimSpace(id) == "":
		return errors.New("migration identifier is empty")
	case strings.Contains(id, `\`):
		return fmt.Errorf("'%s' must use '/' as path separator", id)
	case strings.HasPrefix(id, "/"):
		return fmt.Errorf("'%s' must be relative to the migrations directory", id)
	case id == "..", strings.HasPrefix(id, "../"):
		return fmt.Errorf("'%s' points outside of the migrations directory", id)
	case path.Clean(id) != id:
		return fmt.Errorf("'%s' is not a canonical path, use '%s'", id, path.Clean(id))
	}

	return nil
}
