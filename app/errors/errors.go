package errors

import (
	"errors"
	"log/slog"
	"sort"
)

// Log logs an error using the default slog logger. If the error is or wraps a
// StructuredError, its metadata is logged as fields sorted by key.
func Log(err error) {
	var serr *StructuredError
	if !errors.As(err, &serr) {
		slog.Error(err.Error())
		return
	}

	keys := make([]string, 0, len(serr.metadata))
	for k := range serr.metadata {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	args := make([]any, 0, len(keys)*2)
	for _, k := range keys {
		args = append(args, k, serr.metadata[k])
	}

	slog.Error(err.Error(), args...)
}
