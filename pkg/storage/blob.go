package storage

import (
	"context"
	"errors"
	"io"
)

// ErrObjectNotFound is returned when a key has no stored object.
var ErrObjectNotFound = errors.New("storage object not found")

// ErrInvalidKey is returned for keys that would escape the storage root.
var ErrInvalidKey = errors.New("invalid storage key")

// BlobStore persists raw file bytes under opaque keys.
type BlobStore interface {
	// Put stores the content and returns a URL describing where it lives.
	Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) (string, error)
	Open(ctx context.Context, key string) (io.ReadCloser, error)
	// Delete removes the object; deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error
}
