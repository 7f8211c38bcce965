// Package storage provides the durable key-value store that session state is
// flushed to.
package storage

import (
	"context"
	"errors"
)

// ErrClosed is returned by operations on a closed store.
var ErrClosed = errors.New("storage closed")

// Entry is a single key/value pair.
type Entry struct {
	Key   string
	Value string
}

// KV is a string-keyed durable store.
type KV interface {
	// Get returns the value for key and whether it was present.
	Get(ctx context.Context, key string) (string, bool, error)

	// Set writes all entries atomically.
	Set(ctx context.Context, entries ...Entry) error

	// Close releases the underlying resources.
	Close() error
}
