// Package cache provides the key-value store backing live session and
// rate-limit state. Every entry carries an explicit TTL; nothing in the
// cache grows without bound.
package cache

import (
	"context"
	"time"
)

// Store is the key-value collaborator contract. Values are opaque bytes;
// callers own serialization.
type Store interface {
	// Get returns the value for key and whether it exists. Expired
	// entries do not exist.
	Get(ctx context.Context, key string) ([]byte, bool, error)

	// Set stores value under key with the given TTL. A TTL of zero means
	// no expiry.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// Keys returns all live keys with the given prefix.
	Keys(ctx context.Context, prefix string) ([]string, error)

	// Ping verifies the store is reachable.
	Ping(ctx context.Context) error

	// Close releases resources.
	Close() error
}
