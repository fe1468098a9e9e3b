package seq

import (
	"fmt"

	"github.com/pkg/errors"
)

// ConfigError is returned when the stage table or the chain level settings
// cannot describe a network: missing or malformed parameters, non-positive
// derived extents, empty recurrent or fully connected tables, unknown names.
type ConfigError struct {
	Field string
	msg   string
}

func (err *ConfigError) Error() string {
	if err.Field == "" {
		return "config: " + err.msg
	}
	return fmt.Sprintf("config %s: %s", err.Field, err.msg)
}

// NewConfigError returns a *ConfigError for field, with its stack recorded.
func NewConfigError(field, msg string) error {
	return errors.WithStack(&ConfigError{Field: field, msg: msg})
}

func configErrorf(field, format string, args ...interface{}) error {
	return errors.WithStack(&ConfigError{Field: field, msg: fmt.Sprintf(format, args...)})
}

// ShapeError is returned when a declared width disagrees with the width the
// shape tracker derived for that position in the chain.
type ShapeError struct {
	Stage    string
	Declared int
	Derived  int
}

func (err *ShapeError) Error() string {
	return fmt.Sprintf("shape mismatch at %s: declared %d, derived %d", err.Stage, err.Declared, err.Derived)
}

func shapeError(stage string, declared, derived int) error {
	return errors.WithStack(&ShapeError{Stage: stage, Declared: declared, Derived: derived})
}

// IsConfigError reports whether the cause of err is a *ConfigError.
func IsConfigError(err error) bool {
	_, ok := errors.Cause(err).(*ConfigError)
	return ok
}

// IsShapeError reports whether the cause of err is a *ShapeError.
func IsShapeError(err error) bool {
	_, ok := errors.Cause(err).(*ShapeError)
	return ok
}
