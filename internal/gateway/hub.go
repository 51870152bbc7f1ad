package gateway

import (
	"sync"
)

// Hub is the process-local routing registry: connection id → socket owner.
// It exists only to get a frame onto an actual socket this process holds.
// Membership and authorization decisions never consult it; those come from
// the shared registries.
type Hub struct {
	mu    sync.RWMutex
	conns map[string]*Client
}

func NewHub() *Hub {
	return &Hub{conns: make(map[string]*Client)}
}

func (h *Hub) register(c *Client) {
	h.mu.Lock()
	h.conns[c.id] = c
	h.mu.Unlock()
}

func (h *Hub) unregister(c *Client) {
	h.mu.Lock()
	if h.conns[c.id] == c {
		delete(h.conns, c.id)
	}
	h.mu.Unlock()
}

// Send routes a frame to a locally owned connection. A connection whose
// send buffer is full is dropped: a consumer that slow is better off
// reconnecting and catching up from the recency cache.
func (h *Hub) Send(connID string, frame []byte) bool {
	h.mu.RLock()
	c, ok := h.conns[connID]
	h.mu.RUnlock()
	if !ok {
		return false
	}

	select {
	case c.send <- frame:
		return true
	default:
		c.drop()
		return false
	}
}

// Len reports how many connections this process currently owns.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}
