// Package cache keeps a short-lived per-room window of recent messages for
// reconnect catch-up without a durable-storage round trip.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/studyrooms/chatcore/internal/chat"
	"github.com/studyrooms/chatcore/internal/store"
)

const keyPrefix = "room:recent:"

// Recency is a rolling window keyed on time since the room's last activity:
// every Append resets the whole key's TTL, so a room receiving even
// occasional messages keeps its full window alive indefinitely, and only a
// full TTL of silence clears it. Entries are never pruned individually;
// the key expires as a unit. That behavior is deliberate and must not be
// changed to per-message expiry.
type Recency struct {
	kv    store.KV
	ttl   time.Duration
	limit int64
	log   *zap.Logger
}

// NewRecency creates the cache. limit caps how many entries Recent returns;
// the store's own eviction handles list growth beyond that.
func NewRecency(kv store.KV, ttl time.Duration, limit int64, log *zap.Logger) *Recency {
	return &Recency{kv: kv, ttl: ttl, limit: limit, log: log}
}

// Append pushes the message onto the room's window and resets the window's
// TTL in the same atomic step.
func (r *Recency) Append(ctx context.Context, roomID string, msg chat.Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message %s: %w", msg.ID, err)
	}
	if err := r.kv.ListPush(ctx, keyPrefix+roomID, data, r.ttl); err != nil {
		return fmt.Errorf("append to recency %s: %w", roomID, err)
	}
	return nil
}

// Recent returns the room's window, most recent first. Repeatable with no
// side effects; an expired or empty window yields an empty slice. Entries
// that fail to decode are skipped rather than failing the whole read.
func (r *Recency) Recent(ctx context.Context, roomID string) ([]chat.Message, error) {
	entries, err := r.kv.ListRange(ctx, keyPrefix+roomID, 0, r.limit-1)
	if err != nil {
		return nil, fmt.Errorf("read recency %s: %w", roomID, err)
	}
	messages := make([]chat.Message, 0, len(entries))
	for _, entry := range entries {
		var msg chat.Message
		if err := json.Unmarshal(entry, &msg); err != nil {
			r.log.Warn("skipping undecodable recency entry",
				zap.String("room", roomID), zap.Error(err))
			continue
		}
		messages = append(messages, msg)
	}
	return messages, nil
}
