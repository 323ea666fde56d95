package provider

import (
	"errors"
	"fmt"
)

// Sink failures are reported as a ProviderError whose Err is one of these
// when the cause is recognised.
var (
	ErrNotFound            = errors.New("object not found")
	ErrExists              = errors.New("object already exists")
	ErrBucketNotFound      = errors.New("bucket not found")
	ErrAccessDenied        = errors.New("access denied")
	ErrInvalidCredentials  = errors.New("invalid credentials")
	ErrThrottled           = errors.New("request throttled")
	ErrProviderUnavailable = errors.New("provider unavailable")
	ErrInvalidDestination  = errors.New("invalid destination")
)

// ProviderError records which sink call failed and on what object.
// Bucket holds the base directory for file sinks.
type ProviderError struct {
	Op       string
	Provider ProviderType
	Bucket   string
	Key      string
	Err      error
}

func (e *ProviderError) Error() string {
	where := e.Bucket
	if e.Key != "" {
		where += "/" + e.Key
	}
	if where == "" {
		return fmt.Sprintf("%s %s: %v", e.Provider, e.Op, e.Err)
	}
	return fmt.Sprintf("%s %s: %s: %v", e.Provider, e.Op, where, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

func IsNotFound(err error) bool       { return errors.Is(err, ErrNotFound) }
func IsExists(err error) bool         { return errors.Is(err, ErrExists) }
func IsBucketNotFound(err error) bool { return errors.Is(err, ErrBucketNotFound) }
func IsAccessDenied(err error) bool   { return errors.Is(err, ErrAccessDenied) }
