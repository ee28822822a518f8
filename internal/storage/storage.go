// Package storage defines the blob store abstraction used to persist export
// files. Backends live in subpackages: local (filesystem), gcs (Google Cloud
// Storage), and memory (tests and dry runs). The postgres subpackage holds
// the relational connection and run history.
package storage

import (
	"context"
	"errors"
	"io"
)

// ErrNotFound is returned when an object or record does not exist. Backends
// may wrap it with more context.
var ErrNotFound = errors.New("not found")

// BlobStore reads and writes whole objects.
type BlobStore interface {
	// PutObject writes r to path and returns a URI identifying the object.
	PutObject(ctx context.Context, path, contentType string, r io.Reader) (string, error)
	// GetObject opens path for reading. Missing objects yield ErrNotFound.
	GetObject(ctx context.Context, path string) (io.ReadCloser, error)
}
