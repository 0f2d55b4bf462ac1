package sse

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// Hub manages stream clients and implements the device transport.
type Hub struct {
	mu      sync.RWMutex
	clients map[uuid.UUID]*Client
}

func NewHub() *Hub {
	return &Hub{
		clients: make(map[uuid.UUID]*Client),
	}
}

func (h *Hub) Register(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[client.ConnectionID] = client
}

// Unregister closes the client and forgets it.
func (h *Hub) Unregister(connectionID uuid.UUID) {
	h.mu.Lock()
	c, ok := h.clients[connectionID]
	delete(h.clients, connectionID)
	h.mu.Unlock()
	if ok {
		c.close()
	}
}

func (h *Hub) GetClient(connectionID uuid.UUID) *Client {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.clients[connectionID]
}

func (h *Hub) GetClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Send enqueues data for the connection without blocking.
func (h *Hub) Send(connectionID uuid.UUID, data []byte) error {
	c := h.GetClient(connectionID)
	if c == nil {
		return ErrClientNotFound
	}
	return c.enqueue(data)
}

// Deliver hands an inbound message to the connection's worker. It blocks
// until the worker has room or ctx is done.
func (h *Hub) Deliver(ctx context.Context, connectionID uuid.UUID, data []byte) error {
	c := h.GetClient(connectionID)
	if c == nil {
		return ErrClientNotFound
	}
	return c.deliver(ctx, data)
}

// Close signals the connection's worker that the transport is gone. The
// client stays registered until Unregister. Repeated calls are no-ops.
func (h *Hub) Close(connectionID uuid.UUID) {
	if c := h.GetClient(connectionID); c != nil {
		c.close()
	}
}

func (h *Hub) Stop() {
	h.mu.Lock()
	clients := h.clients
	h.clients = make(map[uuid.UUID]*Client)
	h.mu.Unlock()
	for _, c := range clients {
		c.close()
	}
}
