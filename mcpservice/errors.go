package mcpservice

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidParams classifies errors caused by the caller's arguments.
	ErrInvalidParams = errors.New("invalid params")
	// ErrNotFound is returned when a tool, resource or prompt is not registered.
	ErrNotFound = errors.New("not found")
)

// ParamsError carries the client-facing message for an invalid-params error.
type ParamsError struct {
	Message string
}

func (e *ParamsError) Error() string { return e.Message }

// Is makes errors.Is(err, ErrInvalidParams) hold for every ParamsError.
func (e *ParamsError) Is(target error) bool { return target == ErrInvalidParams }

// InvalidParams formats a ParamsError.
func InvalidParams(format string, args ...any) error {
	return &ParamsError{Message: fmt.Sprintf(format, args...)}
}
