package memory

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/execution-hub/contractsync/internal/domain/contract"
)

// Gateway keeps sessions and message history in process memory.
type Gateway struct {
	mu       sync.RWMutex
	sessions map[uuid.UUID]contract.Session
	messages map[uuid.UUID][]contract.Message
}

func NewGateway() *Gateway {
	return &Gateway{
		sessions: make(map[uuid.UUID]contract.Session),
		messages: make(map[uuid.UUID][]contract.Message),
	}
}

func (g *Gateway) LoadSession(ctx context.Context, sessionID uuid.UUID) (*contract.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	g.mu.RLock()
	defer g.mu.RUnlock()
	s, ok := g.sessions[sessionID]
	if !ok {
		return nil, nil
	}
	out := s.Clone()
	return &out, nil
}

func (g *Gateway) SaveSession(ctx context.Context, session *contract.Session) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.sessions[session.SessionID] = session.Clone()
	return nil
}

func (g *Gateway) AppendMessage(ctx context.Context, sessionID uuid.UUID, message *contract.Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	m := *message
	m.SessionID = sessionID
	g.messages[sessionID] = append(g.messages[sessionID], m)
	return nil
}

func (g *Gateway) LoadMessages(ctx context.Context, sessionID uuid.UUID) ([]*contract.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	g.mu.RLock()
	defer g.mu.RUnlock()
	stored := g.messages[sessionID]
	out := make([]*contract.Message, 0, len(stored))
	for i := range stored {
		m := stored[i]
		out = append(out, &m)
	}
	return out, nil
}

// Sessions returns the number of persisted sessions.
func (g *Gateway) Sessions() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.sessions)
}
