package errors

import (
	"errors"
	"fmt"
	"log/slog"
)

// RuntimeError is an error that happened while running a command. It may
// include a hint for the user on how to resolve it.
type RuntimeError struct {
	Msg  string
	Err  error
	Hint string
}

// NewRuntimeError returns a new RuntimeError.
func NewRuntimeError(msg string, err error, hint string) *RuntimeError {
	return &RuntimeError{Msg: msg, Err: err, Hint: hint}
}

// Error implements the error interface.
func (e *RuntimeError) Error() string {
	if e.Err == nil {
		return e.Msg
	}
	return fmt.Sprintf("%s: %s", e.Msg, e.Err)
}

// Unwrap returns the underlying error for error unwrapping.
func (e *RuntimeError) Unwrap() error {
	return e.Err
}

// Errorf reports an error that stopped the application. Metadata of
// structured errors is rendered as fields, and hints are logged separately.
func Errorf(err error) {
	Log(err)

	var rerr *RuntimeError
	if errors.As(err, &rerr) && rerr.Hint != "" {
		slog.Info(rerr.Hint)
	}
}
