package fanout

import (
	"errors"
	"fmt"
)

// ErrConfiguration indicates invalid fan-out parameters. No remote call
// has been made when it is returned.
var ErrConfiguration = errors.New("invalid fan-out configuration")

// ErrInvalidDescription indicates a task description does not follow the
// sub-job pattern.
var ErrInvalidDescription = errors.New("invalid sub-job description")

// ConfigError describes an invalid fan-out parameter.
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func (e *ConfigError) Unwrap() error {
	return ErrConfiguration
}

// BuildError reports a sub-job whose export request could not be built.
type BuildError struct {
	Index int
	Err   error
}

func (e *BuildError) Error() string {
	return fmt.Sprintf("build sub-job %d: %v", e.Index, e.Err)
}

func (e *BuildError) Unwrap() error {
	return e.Err
}

// IsConfiguration returns true if err is a configuration error.
func IsConfiguration(err error) bool {
	return errors.Is(err, ErrConfiguration)
}
