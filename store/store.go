// Package store defines the atomic ordered-store contract the queue runs on.
//
// The queue holds no long-lived in-memory state; every operation is a short
// request against the shared store, and all mutual exclusion between
// concurrent dispatchers is delegated to the store's atomic primitives: the
// checked removal of a sorted-set member and the compare-and-set of a hash
// field. Implementations must make each method atomic with respect to
// concurrent callers.
package store

import (
	"context"
	"time"
)

// ZEntry is a member of a sorted set together with its score.
type ZEntry struct {
	Member string
	Score  float64
}

// Store is the shared ordered store backing the queue: a sorted set for the
// pending-job index, hashes for per-job status fields, a set for the
// processing index, and TTL-bearing keys for results.
type Store interface {
	// Sorted set (priority index)

	// ZAdd inserts or updates a member with the given score.
	ZAdd(ctx context.Context, key, member string, score float64) error
	// ZRem removes a member, reporting whether it was present. The boolean
	// is the claim primitive: when concurrent callers race to remove the
	// same member, exactly one observes true.
	ZRem(ctx context.Context, key, member string) (bool, error)
	// ZRange returns members ordered by ascending score, from index start
	// through stop inclusive (same convention as Redis ZRANGE).
	ZRange(ctx context.Context, key string, start, stop int) ([]ZEntry, error)
	// ZCard returns the number of members in the set.
	ZCard(ctx context.Context, key string) (int64, error)

	// Hash (per-job status fields)

	// HSet writes the given fields.
	HSet(ctx context.Context, key string, fields map[string]string) error
	// HGet reads one field, reporting whether it exists.
	HGet(ctx context.Context, key, field string) (string, bool, error)
	// HGetAll reads all fields. A missing key yields an empty map.
	HGetAll(ctx context.Context, key string) (map[string]string, error)
	// HSetIfEquals sets field to next only if its current value equals
	// want, atomically, reporting whether the swap happened.
	HSetIfEquals(ctx context.Context, key, field, want, next string) (bool, error)

	// Set (processing index)

	SAdd(ctx context.Context, key, member string) error
	SRem(ctx context.Context, key, member string) error
	SMembers(ctx context.Context, key string) ([]string, error)

	// TTL-bearing values (results)

	// SetEx writes a value that expires after ttl.
	SetEx(ctx context.Context, key string, value []byte, ttl time.Duration) error
	// Get reads a value, reporting whether it exists.
	Get(ctx context.Context, key string) ([]byte, bool, error)
	// Expire sets a ttl on an existing key.
	Expire(ctx context.Context, key string, ttl time.Duration) error

	// Connection management

	Connect(ctx context.Context) error
	Close() error
	Health() error
}
