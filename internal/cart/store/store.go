// Package store provides the durable key-value storage the cart is mirrored to.
package store

import (
	"context"
	"errors"
)

// ErrStorageUnavailable is returned when the storage backend is known to be down
// and the call was rejected without being attempted.
var ErrStorageUnavailable = errors.New("storage unavailable")

// Storage is a key-value store addressable by a fixed string key.
// It abstracts the underlying backend, allowing for different implementations (e.g., in-memory, sqlite, postgres).
type Storage interface {
	// Get returns the value stored under key. found is false when nothing is stored.
	Get(ctx context.Context, key string) (value string, found bool, err error)

	// Set stores value under key, replacing any previous value.
	Set(ctx context.Context, key, value string) error
}
