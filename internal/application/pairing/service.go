package pairing

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/execution-hub/contractsync/internal/application/broadcast"
	"github.com/execution-hub/contractsync/internal/application/registry"
	"github.com/execution-hub/contractsync/internal/domain/contract"
	"github.com/execution-hub/contractsync/internal/domain/device"
)

// Service admits new devices into existing sessions. It only checks
// ownership; credential checks belong to the verifier.
type Service struct {
	sessions    *registry.SessionRegistry
	verifier    device.Verifier
	broadcaster *broadcast.Coordinator
	now         func() time.Time
	logger      zerolog.Logger
}

func NewService(sessions *registry.SessionRegistry, verifier device.Verifier, broadcaster *broadcast.Coordinator, logger zerolog.Logger) *Service {
	return &Service{
		sessions:    sessions,
		verifier:    verifier,
		broadcaster: broadcaster,
		now:         time.Now,
		logger:      logger.With().Str("service", "pairing").Logger(),
	}
}

// Pair verifies the request, records the device type on the session and
// broadcasts device_paired to every live connection.
func (s *Service) Pair(ctx context.Context, sessionID uuid.UUID, ownerID string, req device.PairingRequest) (*device.Identity, error) {
	if err := req.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", contract.ErrInvalidInput, err)
	}
	if req.SessionID == uuid.Nil {
		req.SessionID = sessionID
	}
	if strings.TrimSpace(req.OwnerID) == "" {
		req.OwnerID = ownerID
	}

	session, err := s.sessions.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if req.SessionID != sessionID || session.OwnerID != ownerID || req.OwnerID != session.OwnerID {
		s.logger.Warn().
			Str("session_id", sessionID.String()).
			Str("device_id", req.RequestingDeviceID).
			Msg("pairing rejected: owner mismatch")
		return nil, fmt.Errorf("%w: session %s belongs to another owner", contract.ErrAccessDenied, sessionID)
	}

	identity, err := s.verifier.Verify(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("%w: pairing verification: %w", contract.ErrAccessDenied, err)
	}
	if identity == nil {
		return nil, fmt.Errorf("%w: pairing verification returned no identity", contract.ErrAccessDenied)
	}
	meta, err := device.Meta{DeviceType: identity.DeviceType, DeviceID: identity.DeviceID}.Normalize()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", contract.ErrInvalidInput, err)
	}
	identity.DeviceType, identity.DeviceID = meta.DeviceType, meta.DeviceID
	if identity.VerifiedAt.IsZero() {
		identity.VerifiedAt = s.now().UTC()
	}

	_, err = s.sessions.MutateDevices(ctx, sessionID, func(cur contract.Session) contract.Session {
		return cur.WithPairedDevice(identity.DeviceType)
	}, func(cur contract.Session) {
		ev, err := contract.NewEvent(contract.EventDevicePaired, cur, identity, s.now())
		if err != nil {
			s.logger.Error().Err(err).Msg("build device_paired event")
			return
		}
		s.broadcaster.Broadcast(sessionID, ev, uuid.Nil)
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info().
		Str("session_id", sessionID.String()).
		Str("device_id", identity.DeviceID).
		Str("method", string(identity.Method)).
		Msg("device paired")
	return identity, nil
}
