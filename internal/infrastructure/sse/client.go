package sse

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/execution-hub/contractsync/internal/domain/device"
)

var (
	ErrClientNotFound   = errors.New("stream client not found")
	ErrConnectionClosed = errors.New("stream connection closed")
)

const inboundBuffer = 16

// Client is one attached device stream. Outbound events sit in a bounded
// queue that drops the oldest entry when full; inbound commands flow through
// a frame channel that is closed exactly once.
type Client struct {
	ConnectionID uuid.UUID
	SessionID    uuid.UUID
	OwnerID      string

	out chan []byte
	in  chan device.Frame

	closed  atomic.Bool
	outMu   sync.Mutex
	dropped uint64
	inMu    sync.RWMutex
}

// NewClient creates a client with an outbound queue of size buffer.
func NewClient(connectionID, sessionID uuid.UUID, ownerID string, buffer int) *Client {
	if buffer <= 0 {
		buffer = 1
	}
	return &Client{
		ConnectionID: connectionID,
		SessionID:    sessionID,
		OwnerID:      ownerID,
		out:          make(chan []byte, buffer),
		in:           make(chan device.Frame, inboundBuffer),
	}
}

// Outbound yields encoded events in send order.
func (c *Client) Outbound() <-chan []byte {
	return c.out
}

// Frames yields inbound frames for the connection's worker.
func (c *Client) Frames() <-chan device.Frame {
	return c.in
}

// Dropped returns how many outbound events were discarded to make room.
func (c *Client) Dropped() uint64 {
	c.outMu.Lock()
	defer c.outMu.Unlock()
	return c.dropped
}

func (c *Client) enqueue(data []byte) error {
	if c.closed.Load() {
		return ErrConnectionClosed
	}
	c.outMu.Lock()
	defer c.outMu.Unlock()
	for {
		select {
		case c.out <- data:
			return nil
		default:
		}
		select {
		case <-c.out:
			c.dropped++
		default:
		}
	}
}

func (c *Client) deliver(ctx context.Context, data []byte) error {
	c.inMu.RLock()
	defer c.inMu.RUnlock()
	if c.closed.Load() {
		return ErrConnectionClosed
	}
	select {
	case c.in <- device.Frame{Kind: device.FrameMessage, Data: data}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Client) close() {
	if !c.closed.CompareAndSwap(false, true) {
		return
	}
	c.inMu.Lock()
	defer c.inMu.Unlock()
	select {
	case c.in <- device.Frame{Kind: device.FrameClosed}:
	default:
	}
	close(c.in)
}
