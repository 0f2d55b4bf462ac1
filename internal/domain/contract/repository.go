package contract

//go:generate go run go.uber.org/mock/mockgen -destination=mocks/mock_gateway.go -package=mocks . Gateway

import (
	"context"

	"github.com/google/uuid"
)

// Gateway is the persistence collaborator behind the session registry.
// LoadSession returns (nil, nil) when the session does not exist.
type Gateway interface {
	LoadSession(ctx context.Context, sessionID uuid.UUID) (*Session, error)
	SaveSession(ctx context.Context, session *Session) error
	AppendMessage(ctx context.Context, sessionID uuid.UUID, message *Message) error
	LoadMessages(ctx context.Context, sessionID uuid.UUID) ([]*Message, error)
}
