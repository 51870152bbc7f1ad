// Package rooms maintains the cached room→participants mapping used to
// resolve broadcast targets. Durable storage stays authoritative: joins and
// leaves hit it first, and authorization checks never trust the cache.
package rooms

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/studyrooms/chatcore/internal/store"
)

const keyPrefix = "room:participants:"

// Durable is what the manager needs from the durable-storage collaborator.
type Durable interface {
	GetRoomParticipants(ctx context.Context, roomID string) ([]string, error)
	GetPrincipalRooms(ctx context.Context, principalID string) ([]string, error)
	AddParticipant(ctx context.Context, roomID, principalID string) error
	RemoveParticipant(ctx context.Context, roomID, principalID string) error
}

// Manager caches participant sets in the shared store for fast broadcast
// target resolution. Per room the cache moves Unloaded→Loaded on first
// reference, hydrated from durable storage; afterwards joins and leaves
// mutate the cache through atomic set operations.
type Manager struct {
	kv      store.KV
	durable Durable
	log     *zap.Logger

	mu     sync.Mutex
	loaded map[string]bool
}

func NewManager(kv store.KV, durable Durable, log *zap.Logger) *Manager {
	return &Manager{
		kv:      kv,
		durable: durable,
		log:     log,
		loaded:  make(map[string]bool),
	}
}

func (m *Manager) key(roomID string) string {
	return keyPrefix + roomID
}

// ensureLoaded hydrates the cached set from durable storage on the room's
// first reference in this process. Hydration is idempotent, so concurrent
// hydration by several processes is harmless.
func (m *Manager) ensureLoaded(ctx context.Context, roomID string) error {
	m.mu.Lock()
	done := m.loaded[roomID]
	m.mu.Unlock()
	if done {
		return nil
	}

	participants, err := m.durable.GetRoomParticipants(ctx, roomID)
	if err != nil {
		return fmt.Errorf("hydrate room %s: %w", roomID, err)
	}
	for _, p := range participants {
		if _, _, err := m.kv.SetAdd(ctx, m.key(roomID), p, 0); err != nil {
			return fmt.Errorf("hydrate room %s: %w", roomID, err)
		}
	}

	m.mu.Lock()
	m.loaded[roomID] = true
	m.mu.Unlock()
	return nil
}

// Join adds the principal durably, then to the cached set, and returns the
// updated participant set for broadcast. A durable failure fails the join
// with nothing cached; a cache failure degrades to computing the set
// straight from durable storage.
func (m *Manager) Join(ctx context.Context, roomID, principalID string) ([]string, error) {
	if err := m.ensureLoaded(ctx, roomID); err != nil {
		m.log.Warn("room hydration failed, continuing against durable storage",
			zap.String("room", roomID), zap.Error(err))
	}

	if err := m.durable.AddParticipant(ctx, roomID, principalID); err != nil {
		return nil, fmt.Errorf("join %s: %w", roomID, err)
	}

	if _, _, err := m.kv.SetAdd(ctx, m.key(roomID), principalID, 0); err != nil {
		m.log.Warn("participant cache add failed, serving set from durable storage",
			zap.String("room", roomID), zap.String("principal", principalID), zap.Error(err))
		return m.durable.GetRoomParticipants(ctx, roomID)
	}
	return m.CurrentParticipants(ctx, roomID)
}

// Leave removes the principal durably and from the cached set.
func (m *Manager) Leave(ctx context.Context, roomID, principalID string) ([]string, error) {
	if err := m.durable.RemoveParticipant(ctx, roomID, principalID); err != nil {
		return nil, fmt.Errorf("leave %s: %w", roomID, err)
	}

	if _, _, err := m.kv.SetRemove(ctx, m.key(roomID), principalID); err != nil {
		m.log.Warn("participant cache remove failed, serving set from durable storage",
			zap.String("room", roomID), zap.String("principal", principalID), zap.Error(err))
		return m.durable.GetRoomParticipants(ctx, roomID)
	}
	return m.CurrentParticipants(ctx, roomID)
}

// CurrentParticipants returns the room's participant set from the cache,
// falling back to durable storage when the cache is unreachable.
func (m *Manager) CurrentParticipants(ctx context.Context, roomID string) ([]string, error) {
	if err := m.ensureLoaded(ctx, roomID); err != nil {
		m.log.Warn("room hydration failed, serving set from durable storage",
			zap.String("room", roomID), zap.Error(err))
		return m.durable.GetRoomParticipants(ctx, roomID)
	}

	participants, err := m.kv.SetMembers(ctx, m.key(roomID))
	if err != nil {
		m.log.Warn("participant cache read failed, serving set from durable storage",
			zap.String("room", roomID), zap.Error(err))
		return m.durable.GetRoomParticipants(ctx, roomID)
	}
	return participants, nil
}

// RoomsOf returns every room the principal participates in, from durable
// storage. Presence-transition broadcasts are targeted with this.
func (m *Manager) RoomsOf(ctx context.Context, principalID string) ([]string, error) {
	rooms, err := m.durable.GetPrincipalRooms(ctx, principalID)
	if err != nil {
		return nil, fmt.Errorf("rooms of %s: %w", principalID, err)
	}
	return rooms, nil
}

// IsParticipant answers from durable storage. The cache resolves broadcast
// targets only; it is never the basis for an authorization decision.
func (m *Manager) IsParticipant(ctx context.Context, roomID, principalID string) (bool, error) {
	participants, err := m.durable.GetRoomParticipants(ctx, roomID)
	if err != nil {
		return false, fmt.Errorf("check participant %s: %w", roomID, err)
	}
	for _, p := range participants {
		if p == principalID {
			return true, nil
		}
	}
	return false, nil
}
