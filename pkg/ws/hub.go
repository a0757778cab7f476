package ws

import (
	"sync"

	"ethiogram/pkg/telemetry"
)

// Hub indexes live clients by connection id and delivers outbound frames.
// Send never blocks: a client whose write queue is full has fallen too far
// behind and the frame is dropped for that client only.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]*Client
}

// NewHub returns an empty hub.
func NewHub() *Hub {
	return &Hub{clients: map[string]*Client{}}
}

func (h *Hub) register(c *Client) {
	h.mu.Lock()
	h.clients[c.connID] = c
	h.mu.Unlock()
	telemetry.ConnOpened()
}

// unregister removes the client and closes its queue. The close happens
// under the write lock so no concurrent Send can race it.
func (h *Hub) unregister(c *Client) {
	h.mu.Lock()
	cur, ok := h.clients[c.connID]
	if ok && cur == c {
		delete(h.clients, c.connID)
		close(c.send)
	}
	h.mu.Unlock()
	if ok {
		telemetry.ConnClosed()
	}
}

// Send queues data for one connection.
func (h *Hub) Send(connID string, data []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	c, ok := h.clients[connID]
	if !ok {
		return
	}
	select {
	case c.send <- data:
		telemetry.EventsDelivered.Inc()
	default:
		telemetry.EventsDropped.Inc()
	}
}

// Len reports the number of registered connections.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
