package temporal

import (
	"errors"
	"fmt"
)

// Sentinel errors for selection.
var (
	// ErrDataIntegrity indicates an identifier does not carry a parseable
	// YYYYMMDD acquisition date prefix.
	ErrDataIntegrity = errors.New("identifier is not date-prefixed")

	// ErrInvalidInterval indicates a negative selection window.
	ErrInvalidInterval = errors.New("invalid selection interval")
)

// FormatError reports an identifier that could not be parsed.
type FormatError struct {
	// ID is the offending identifier.
	ID string

	// Reason describes what was wrong with it.
	Reason string
}

func (e *FormatError) Error() string {
	return fmt.Sprintf("temporal: %q: %s", e.ID, e.Reason)
}

func (e *FormatError) Unwrap() error {
	return ErrDataIntegrity
}

// ConfigError reports an invalid selection parameter.
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	return "temporal config: " + e.Field + ": " + e.Message
}

func (e *ConfigError) Unwrap() error {
	return ErrInvalidInterval
}

// IsDataIntegrity returns true if err was caused by a malformed identifier.
func IsDataIntegrity(err error) bool {
	return errors.Is(err, ErrDataIntegrity)
}
