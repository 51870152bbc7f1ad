package store

import (
	"context"
	"sync"
	"time"
)

// Mem is an in-process KV for single-process runs and tests. Operations
// take one lock each, so the mutate-then-read-cardinality pairs are atomic
// the same way the Redis MULTI/EXEC pairs are.
type Mem struct {
	mu      sync.Mutex
	sets    map[string]map[string]struct{}
	lists   map[string][][]byte
	expires map[string]time.Time

	// Now is the clock used for expiry checks. Tests override it to drive
	// TTL behavior deterministically.
	Now func() time.Time
}

func NewMem() *Mem {
	return &Mem{
		sets:    make(map[string]map[string]struct{}),
		lists:   make(map[string][][]byte),
		expires: make(map[string]time.Time),
		Now:     time.Now,
	}
}

// purgeLocked drops the key if its TTL has lapsed. Callers hold mu.
func (m *Mem) purgeLocked(key string) {
	deadline, ok := m.expires[key]
	if !ok {
		return
	}
	if m.Now().After(deadline) {
		delete(m.sets, key)
		delete(m.lists, key)
		delete(m.expires, key)
	}
}

func (m *Mem) SetAdd(_ context.Context, key, member string, ttl time.Duration) (bool, int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.purgeLocked(key)
	if m.sets[key] == nil {
		m.sets[key] = make(map[string]struct{})
	}
	_, existed := m.sets[key][member]
	m.sets[key][member] = struct{}{}
	if ttl > 0 {
		m.expires[key] = m.Now().Add(ttl)
	}
	return !existed, int64(len(m.sets[key])), nil
}

func (m *Mem) SetRemove(_ context.Context, key, member string) (bool, int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.purgeLocked(key)
	removed := false
	if set, ok := m.sets[key]; ok {
		if _, present := set[member]; present {
			delete(set, member)
			removed = true
		}
		if len(set) == 0 {
			delete(m.sets, key)
			delete(m.expires, key)
		}
	}
	return removed, int64(len(m.sets[key])), nil
}

func (m *Mem) SetMembers(_ context.Context, key string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.purgeLocked(key)
	set := m.sets[key]
	members := make([]string, 0, len(set))
	for member := range set {
		members = append(members, member)
	}
	return members, nil
}

func (m *Mem) SetCard(_ context.Context, key string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.purgeLocked(key)
	return int64(len(m.sets[key])), nil
}

func (m *Mem) ListPush(_ context.Context, key string, value []byte, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.purgeLocked(key)
	entry := make([]byte, len(value))
	copy(entry, value)
	m.lists[key] = append([][]byte{entry}, m.lists[key]...)
	if ttl > 0 {
		m.expires[key] = m.Now().Add(ttl)
	}
	return nil
}

func (m *Mem) ListRange(_ context.Context, key string, start, stop int64) ([][]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.purgeLocked(key)
	list := m.lists[key]
	n := int64(len(list))
	if start < 0 {
		start = n + start
	}
	if stop < 0 {
		stop = n + stop
	}
	if start < 0 {
		start = 0
	}
	if n == 0 || start >= n || stop < start {
		return nil, nil
	}
	if stop >= n {
		stop = n - 1
	}
	out := make([][]byte, 0, stop-start+1)
	for _, v := range list[start : stop+1] {
		entry := make([]byte, len(v))
		copy(entry, v)
		out = append(out, entry)
	}
	return out, nil
}

func (m *Mem) Expire(_ context.Context, key string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.purgeLocked(key)
	if _, ok := m.sets[key]; !ok {
		if _, ok := m.lists[key]; !ok {
			return nil
		}
	}
	m.expires[key] = m.Now().Add(ttl)
	return nil
}

func (m *Mem) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sets, key)
	delete(m.lists, key)
	delete(m.expires, key)
	return nil
}
