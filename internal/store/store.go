// Package store exposes the atomic shared-store primitives the subsystem is
// allowed to use for cross-process state: set add/remove with resulting
// cardinality, set reads, list push with TTL reset, list range, key expiry.
// There is deliberately no get/put of whole values: every mutation of
// shared state must go through one of these atomic operations because
// multiple processes race on the same keys.
package store

import (
	"context"
	"time"
)

// KV is implemented by the Redis-backed store and by the in-memory store
// used for single-process runs and tests.
type KV interface {
	// SetAdd atomically adds member to the set at key and returns whether
	// the member was newly added along with the resulting cardinality.
	// A ttl > 0 resets the key's expiry in the same atomic step.
	SetAdd(ctx context.Context, key, member string, ttl time.Duration) (added bool, card int64, err error)

	// SetRemove atomically removes member from the set at key and returns
	// whether the member was present along with the resulting cardinality.
	SetRemove(ctx context.Context, key, member string) (removed bool, card int64, err error)

	SetMembers(ctx context.Context, key string) ([]string, error)
	SetCard(ctx context.Context, key string) (int64, error)

	// ListPush atomically prepends value to the list at key and resets the
	// key's expiry to ttl. The whole key expires as a unit; entries are
	// never pruned individually.
	ListPush(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// ListRange returns entries [start, stop] inclusive, newest first for
	// lists written through ListPush.
	ListRange(ctx context.Context, key string, start, stop int64) ([][]byte, error)

	// Expire resets the key's TTL without mutating its value.
	Expire(ctx context.Context, key string, ttl time.Duration) error

	Delete(ctx context.Context, key string) error
}
