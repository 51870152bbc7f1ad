// Package presence tracks which principals have active connections and on
// which processes, through the shared store so every gateway process sees
// the same view. Presence is best-effort: store failures degrade features,
// they never refuse a connection.
package presence

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/studyrooms/chatcore/internal/store"
)

const keyPrefix = "presence:conns:"

// ConnRef identifies one active connection of a principal. The process id
// tells the broadcaster whether this process owns the socket or whether
// delivery has to go through the relay.
type ConnRef struct {
	ProcessID    string
	ConnectionID string
}

// Registry is the process-shared presence view. The first-online and
// last-offline transitions are detected atomically with the mutation:
// the store reports whether the member was actually added or removed
// together with the resulting set size, so two connections closing
// concurrently can never both observe "I was the last one".
type Registry struct {
	kv        store.KV
	processID string
	liveness  time.Duration
	log       *zap.Logger
}

// NewRegistry creates a registry for this process. liveness is the window
// after which a principal's whole connection set expires if no connection
// refreshes it, the safety net against presence leaks from crashed clients.
func NewRegistry(kv store.KV, processID string, liveness time.Duration, log *zap.Logger) *Registry {
	return &Registry{kv: kv, processID: processID, liveness: liveness, log: log}
}

func (r *Registry) key(principalID string) string {
	return keyPrefix + principalID
}

func (r *Registry) member(connID string) string {
	return r.processID + "/" + connID
}

// MarkOnline records the connection. Idempotent. Returns true when this is
// the principal's first active connection, i.e. the offline→online edge.
func (r *Registry) MarkOnline(ctx context.Context, principalID, connID string) (bool, error) {
	added, card, err := r.kv.SetAdd(ctx, r.key(principalID), r.member(connID), r.liveness)
	if err != nil {
		return false, fmt.Errorf("mark online %s: %w", principalID, err)
	}
	return added && card == 1, nil
}

// MarkOffline removes the connection. Idempotent: a connection already
// removed (clean close racing the liveness reaper, say) reports no
// transition, so the offline event fires exactly once.
func (r *Registry) MarkOffline(ctx context.Context, principalID, connID string) (bool, error) {
	removed, card, err := r.kv.SetRemove(ctx, r.key(principalID), r.member(connID))
	if err != nil {
		return false, fmt.Errorf("mark offline %s: %w", principalID, err)
	}
	return removed && card == 0, nil
}

// Touch refreshes the liveness window. Called on every heartbeat from any
// of the principal's connections.
func (r *Registry) Touch(ctx context.Context, principalID string) {
	if err := r.kv.Expire(ctx, r.key(principalID), r.liveness); err != nil {
		r.log.Warn("presence touch failed", zap.String("principal", principalID), zap.Error(err))
	}
}

// IsOnline reports whether the principal has at least one active connection.
func (r *Registry) IsOnline(ctx context.Context, principalID string) (bool, error) {
	card, err := r.kv.SetCard(ctx, r.key(principalID))
	if err != nil {
		return false, fmt.Errorf("is online %s: %w", principalID, err)
	}
	return card > 0, nil
}

// ResolveConnections returns every active connection of the principal
// across all processes.
func (r *Registry) ResolveConnections(ctx context.Context, principalID string) ([]ConnRef, error) {
	members, err := r.kv.SetMembers(ctx, r.key(principalID))
	if err != nil {
		return nil, fmt.Errorf("resolve connections %s: %w", principalID, err)
	}
	refs := make([]ConnRef, 0, len(members))
	for _, m := range members {
		proc, conn, ok := strings.Cut(m, "/")
		if !ok {
			continue
		}
		refs = append(refs, ConnRef{ProcessID: proc, ConnectionID: conn})
	}
	return refs, nil
}
