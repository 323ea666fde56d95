// Package provider defines the object stores that collected run results
// are published to.
//
// A destination is either an s3:// URI or a local path. Both resolve to a
// Sink keyed by object key. Authentication uses SDK default credential
// chains; sinks do not implement custom auth logic.
package provider

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"path"
	"path/filepath"
	"strings"
	"time"
)

// Sink stores published objects.
//
// Implementations must be safe for concurrent use.
type Sink interface {
	// PutObject creates or replaces key with body.
	PutObject(ctx context.Context, key string, body io.Reader, contentLength int64, contentType string) error

	// Head returns metadata for key. Returns ErrNotFound if it does not exist.
	Head(ctx context.Context, key string) (*ObjectMeta, error)

	// Close releases any resources held by the sink.
	Close() error
}

// ObjectMeta contains metadata for a single stored object.
type ObjectMeta struct {
	Key          string
	Size         int64
	ETag         string
	LastModified time.Time
	ContentType  string
}

// ProviderType identifies a storage provider.
type ProviderType string

const (
	// ProviderS3 represents AWS S3 or S3-compatible storage.
	ProviderS3 ProviderType = "s3"

	// ProviderFile represents the local filesystem.
	ProviderFile ProviderType = "file"
)

func (p ProviderType) String() string {
	return string(p)
}

// Location is a parsed output destination.
type Location struct {
	Provider ProviderType

	// Bucket is the S3 bucket, or the directory for local destinations.
	Bucket string

	// Key is the object key within Bucket.
	Key string
}

func (l Location) String() string {
	if l.Provider == ProviderS3 {
		return "s3://" + l.Bucket + "/" + l.Key
	}
	return filepath.Join(l.Bucket, filepath.FromSlash(l.Key))
}

// ParseDestination parses an s3://bucket/key URI, a file: URI or a local
// path. Destinations must name an object, not a prefix.
func ParseDestination(dest string) (Location, error) {
	dest = strings.TrimSpace(dest)
	if dest == "" {
		return Location{}, &DestinationError{Destination: dest, Message: "is empty"}
	}

	if strings.HasPrefix(dest, "s3://") {
		u, err := url.Parse(dest)
		if err != nil {
			return Location{}, &DestinationError{Destination: dest, Message: err.Error()}
		}
		key := strings.TrimPrefix(u.Path, "/")
		if u.Host == "" {
			return Location{}, &DestinationError{Destination: dest, Message: "bucket is required"}
		}
		if key == "" || strings.HasSuffix(key, "/") {
			return Location{}, &DestinationError{Destination: dest, Message: "object key is required"}
		}
		return Location{Provider: ProviderS3, Bucket: u.Host, Key: path.Clean(key)}, nil
	}

	if strings.Contains(dest, "://") {
		return Location{}, &DestinationError{Destination: dest, Message: "unsupported scheme"}
	}

	p := strings.TrimPrefix(dest, "file:")
	if p == "" || strings.HasSuffix(p, "/") {
		return Location{}, &DestinationError{Destination: dest, Message: "file name is required"}
	}
	abs, err := filepath.Abs(p)
	if err != nil {
		return Location{}, &DestinationError{Destination: dest, Message: err.Error()}
	}
	return Location{Provider: ProviderFile, Bucket: filepath.Dir(abs), Key: filepath.Base(abs)}, nil
}

// DestinationError reports an unusable output destination.
type DestinationError struct {
	Destination string
	Message     string
}

func (e *DestinationError) Error() string {
	return fmt.Sprintf("invalid destination %q: %s", e.Destination, e.Message)
}

func (e *DestinationError) Unwrap() error {
	return ErrInvalidDestination
}
