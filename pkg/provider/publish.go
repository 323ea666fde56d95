package provider

import (
	"bytes"
	"context"
	"fmt"
)

// Publish stores data at key. Unless overwrite is set an existing object is
// left untouched and ErrExists is returned.
func Publish(ctx context.Context, sink Sink, key string, data []byte, contentType string, overwrite bool) error {
	if !overwrite {
		_, err := sink.Head(ctx, key)
		switch {
		case err == nil:
			return fmt.Errorf("%s: %w", key, ErrExists)
		case !IsNotFound(err):
			return err
		}
	}
	return sink.PutObject(ctx, key, bytes.NewReader(data), int64(len(data)), contentType)
}
