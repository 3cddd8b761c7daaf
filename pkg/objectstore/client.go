// Package objectstore is a thin key/value view over an object-storage bucket,
// with an S3 implementation and an in-memory one.
package objectstore

import (
	"context"
	"errors"
	"fmt"
	"io"
)

// ErrObjectNotFound is returned by Get and matched through StorageCopyError.
var ErrObjectNotFound = errors.New("object not found")

// ErrStorageCopy is matched by every StorageCopyError.
var ErrStorageCopy = errors.New("storage copy failed")

// Client reads and writes whole objects of one bucket. Put overwrites, so
// repeating a write with the same bytes is harmless.
type Client interface {
	Bucket() string
	// Location identifies the physical bucket. Clients with equal
	// Locations read and write the same objects.
	Location() string
	Get(ctx context.Context, key string) (io.ReadCloser, error)
	Put(ctx context.Context, key string, body io.Reader) error
	Delete(ctx context.Context, key string) error
}

// SameLocation reports whether a and b address the same physical bucket.
func SameLocation(a, b Client) bool {
	if a == nil || b == nil {
		return false
	}
	return a.Location() == b.Location()
}

// StorageCopyError names the object key and the stage (get, put, verify)
// of a failed copy.
type StorageCopyError struct {
	Key string
	Op  string
	Err error
}

func (e *StorageCopyError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("storage copy %s %q failed", e.Op, e.Key)
	}
	return fmt.Sprintf("storage copy %s %q: %v", e.Op, e.Key, e.Err)
}

// Unwrap exposes both the package sentinel and the underlying cause.
func (e *StorageCopyError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrStorageCopy}
	}
	return []error{ErrStorageCopy, e.Err}
}
