package storage

import (
	"context"
	"errors"
)

// ErrNotFound is returned by Get when the key has never been written or was removed
var ErrNotFound = errors.New("storage: key not found")

// KV is a generic persistent string key/value surface.
// Implementations can keep values in memory, files, Redis, SQL databases, etc.
type KV interface {
	// Get returns the value stored under key, or ErrNotFound
	Get(ctx context.Context, key string) (string, error)

	// Set stores value under key, replacing any previous value
	Set(ctx context.Context, key, value string) error

	// Remove deletes key. Removing a missing key is not an error.
	Remove(ctx context.Context, key string) error
}
