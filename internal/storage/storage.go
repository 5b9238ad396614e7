// Package storage holds the blob stores that keep photo bytes and the
// key-value substrates that keep the photo index.
package storage

import (
	"context"
	"errors"
	"io"

	"go.opentelemetry.io/otel"
)

var tracer = otel.Tracer("photomenu-storage")

// ErrKeyNotFound is returned by a KV when nothing has been written under a key.
var ErrKeyNotFound = errors.New("key not found")

// BlobStore owns a namespace of photo binaries addressed by locator.
type BlobStore interface {
	// EnsureReady creates the namespace if needed. It is idempotent.
	EnsureReady(ctx context.Context) error
	// Put copies the file at source into the namespace under fileName and
	// returns the locator of the copy.
	Put(ctx context.Context, source, fileName string) (string, error)
	// Remove deletes the blob at locator. A missing blob is not an error.
	Remove(ctx context.Context, locator string) error
	// Exists reports whether a blob is present. Only a definite "not there"
	// answer reads as false.
	Exists(ctx context.Context, locator string) bool
	// Reachable returns an error when the store cannot currently answer
	// existence questions at all.
	Reachable(ctx context.Context) error
	// Open returns the blob bytes; models.ErrNotFound if absent.
	Open(ctx context.Context, locator string) (io.ReadCloser, error)
}

// KV is a minimal string key-value substrate. Values are whole documents;
// there is no partial update.
type KV interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string) error
	Close() error
}
