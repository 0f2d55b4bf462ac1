package device

//go:generate go run go.uber.org/mock/mockgen -destination=mocks/mock_device.go -package=mocks . Verifier,Transport

import (
	"context"

	"github.com/google/uuid"
)

// Verifier checks a pairing credential (QR token, proximity token, manual code).
type Verifier interface {
	Verify(ctx context.Context, req PairingRequest) (*Identity, error)
}

// Transport delivers bytes to one live connection. Send must not block.
type Transport interface {
	Send(connectionID uuid.UUID, data []byte) error
}
