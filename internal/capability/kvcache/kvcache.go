// Package kvcache defines the KVCache capability port used by C12 Session
// Store for rolling dialogue-turn buffers and by C13 Perceptual Cache for
// derived emotion/implicit-memory views — anything that needs a cheap,
// expiring key-value slot rather than a durable graph node.
package kvcache

import (
	"context"
	"time"
)

// KVCache is a minimal expiring key-value store.
//
// Implementations must be safe for concurrent use. Keys are opaque strings;
// callers construct hierarchical keys themselves (e.g.
// "session:{end_user_id}:{apply_id}").
type KVCache interface {
	// Get retrieves the raw bytes stored under key. Returns (nil, false, nil)
	// if the key does not exist or has expired.
	Get(ctx context.Context, key string) ([]byte, bool, error)

	// Set stores value under key with the given time-to-live. A zero or
	// negative ttl means the entry never expires on its own (until
	// overwritten or deleted).
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Delete removes key. Deleting a non-existent key is not an error.
	Delete(ctx context.Context, key string) error
}
