package errors

import (
	"maps"
)

// StructuredError enhances an error with structured metadata, which is
// rendered as fields by slog. The message of the wrapped error is kept as is.
type StructuredError struct {
	err      error
	metadata map[string]any
}

// Error implements the error interface.
func (e StructuredError) Error() string {
	return e.err.Error()
}

// Unwrap allows errors.Is and errors.As to work.
func (e StructuredError) Unwrap() error {
	return e.err
}

// Metadata returns a copy of the metadata map.
func (e StructuredError) Metadata() map[string]any {
	if e.metadata == nil {
		return nil
	}
	result := make(map[string]any, len(e.metadata))
	maps.Copy(result, e.metadata)
	return result
}

// With adds metadata to an error as key/value pairs. If the error is already a
// StructuredError, the metadata is merged, and newer values replace older ones.
func With(err error, fields ...any) *StructuredError {
	if len(fields)%2 != 0 {
		panic("an even number of fields is required")
	}

	metadata := map[string]any{}
	if se, ok := err.(*StructuredError); ok {
		maps.Copy(metadata, se.metadata)
		err = se.err
	}

	for i := 0; i < len(fields); i += 2 {
		key, ok := fields[i].(string)
		if !ok {
			panic("keys must be strings")
		}
		metadata[key] = fields[i+1]
	}

	return &StructuredError{err: err, metadata: metadata}
}
