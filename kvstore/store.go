// Package kvstore defines the byte-oriented key-value interface backing the
// block store.
package kvstore

import (
	"context"
)

// KVStore is a generic key-value store. Keys are variable-length so
// callers can use multihash-encoded keys.
type KVStore interface {
	// Put stores a key-value pair
	Put(ctx context.Context, key []byte, value []byte) error

	// Get retrieves a value by key.
	// Returns nil if key doesn't exist
	Get(ctx context.Context, key []byte) ([]byte, error)

	// Has reports whether key exists
	Has(ctx context.Context, key []byte) (bool, error)

	// Delete removes a key-value pair
	Delete(ctx context.Context, key []byte) error

	// Close releases any resources
	Close() error
}
