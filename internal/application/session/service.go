package session

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/execution-hub/contractsync/internal/application/broadcast"
	"github.com/execution-hub/contractsync/internal/application/pairing"
	"github.com/execution-hub/contractsync/internal/application/registry"
	"github.com/execution-hub/contractsync/internal/domain/contract"
	"github.com/execution-hub/contractsync/internal/domain/device"
)

// Service is the entry point for session sync: lifecycle, connections and
// the contract workflow.
type Service struct {
	sessions    *registry.SessionRegistry
	connections *registry.ConnectionRegistry
	broadcaster *broadcast.Coordinator
	pairing     *pairing.Service
	gateway     contract.Gateway
	policy      *ApprovalPolicy
	now         func() time.Time
	logger      zerolog.Logger
}

// NewService wires the sync facade. policy may be nil.
func NewService(
	sessions *registry.SessionRegistry,
	connections *registry.ConnectionRegistry,
	broadcaster *broadcast.Coordinator,
	pairingSvc *pairing.Service,
	gateway contract.Gateway,
	policy *ApprovalPolicy,
	logger zerolog.Logger,
) *Service {
	return &Service{
		sessions:    sessions,
		connections: connections,
		broadcaster: broadcaster,
		pairing:     pairingSvc,
		gateway:     gateway,
		policy:      policy,
		now:         time.Now,
		logger:      logger.With().Str("service", "sync").Logger(),
	}
}

// StartSession creates a draft session at version 0.
func (s *Service) StartSession(ctx context.Context, ownerID string) (contract.Session, error) {
	ownerID = strings.TrimSpace(ownerID)
	if ownerID == "" {
		return contract.Session{}, fmt.Errorf("%w: owner_id is required", contract.ErrInvalidInput)
	}
	session := contract.NewSession(ownerID, s.now())
	if err := s.sessions.Create(ctx, session); err != nil {
		return contract.Session{}, err
	}
	s.logger.Info().Str("session_id", session.SessionID.String()).Str("owner_id", ownerID).Msg("session started")
	return session, nil
}

// GetSession returns the current state of a session.
func (s *Service) GetSession(ctx context.Context, sessionID uuid.UUID) (contract.Session, error) {
	return s.sessions.Get(ctx, sessionID)
}

// Authorize returns the session when ownerID owns it.
func (s *Service) Authorize(ctx context.Context, sessionID uuid.UUID, ownerID string) (contract.Session, error) {
	session, err := s.sessions.Get(ctx, sessionID)
	if err != nil {
		return contract.Session{}, err
	}
	if session.OwnerID != ownerID {
		return contract.Session{}, fmt.Errorf("%w: session %s", contract.ErrAccessDenied, sessionID)
	}
	return session, nil
}

// RegisterConnection attaches a device connection. The new connection gets
// a full snapshot; every other connection gets device_connected.
func (s *Service) RegisterConnection(ctx context.Context, connectionID, sessionID uuid.UUID, meta device.Meta) (*device.Connection, error) {
	conn := device.NewConnection(connectionID, sessionID, meta, s.now())
	_, err := s.connections.Attach(ctx, conn, func(cur contract.Session) {
		s.sendSnapshot(connectionID, cur)
		s.publish(contract.EventDeviceConnected, cur, conn, connectionID)
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info().
		Str("session_id", sessionID.String()).
		Str("connection_id", connectionID.String()).
		Str("device_type", conn.DeviceType).
		Msg("connection registered")
	return conn, nil
}

// UnregisterConnection detaches a connection. Repeated calls are no-ops.
func (s *Service) UnregisterConnection(ctx context.Context, connectionID uuid.UUID) error {
	_, err := s.connections.Detach(ctx, connectionID, func(cur contract.Session, conn *device.Connection) {
		s.publish(contract.EventDeviceDisconnected, cur, conn, uuid.Nil)
	})
	return err
}

// SyncReview moves a draft into review with a summary of its message history.
func (s *Service) SyncReview(ctx context.Context, sessionID uuid.UUID) (contract.Session, error) {
	return s.transition(ctx, sessionID, contract.EventContractReview, func(cur contract.Session) (contract.Session, error) {
		msgs, err := s.gateway.LoadMessages(context.WithoutCancel(ctx), sessionID)
		if err != nil {
			return cur, fmt.Errorf("load messages: %w", err)
		}
		return contract.EnterReview(cur, contract.Summarize(msgs, s.now()), s.now())
	})
}

// SyncApproval approves a reviewed contract with the proposed ceiling.
func (s *Service) SyncApproval(ctx context.Context, sessionID uuid.UUID, proposedCeiling float64) (contract.Session, error) {
	return s.transition(ctx, sessionID, contract.EventContractApproved, func(cur contract.Session) (contract.Session, error) {
		next, err := contract.Approve(cur, proposedCeiling, s.now())
		if err != nil {
			return cur, err
		}
		if err := s.policy.Check(next); err != nil {
			return cur, err
		}
		return next, nil
	})
}

// SyncSignature signs an approved contract. An empty signer signs as the owner.
func (s *Service) SyncSignature(ctx context.Context, sessionID uuid.UUID, signer string) (contract.Session, error) {
	return s.transition(ctx, sessionID, contract.EventContractSigned, func(cur contract.Session) (contract.Session, error) {
		return contract.Sign(cur, signer, s.now())
	})
}

func (s *Service) transition(ctx context.Context, sessionID uuid.UUID, eventType contract.EventType, fn registry.MutateFunc) (contract.Session, error) {
	next, err := s.sessions.Mutate(ctx, sessionID, func(cur contract.Session) (contract.Session, error) {
		if err := contract.AssertMutable(cur); err != nil {
			return cur, err
		}
		return fn(cur)
	}, func(committed contract.Session) {
		s.publish(eventType, committed, committed, uuid.Nil)
	})
	if err != nil {
		return contract.Session{}, err
	}
	s.logger.Info().
		Str("session_id", sessionID.String()).
		Str("status", string(next.ContractStatus)).
		Int64("version", next.Version).
		Msg("contract transition")
	return next, nil
}

// AppendMessage adds a message to the negotiation history. It does not bump
// the version and is rejected once the contract is signed.
func (s *Service) AppendMessage(ctx context.Context, sessionID uuid.UUID, author string, body json.RawMessage, cost float64) (*contract.Message, error) {
	if math.IsNaN(cost) || math.IsInf(cost, 0) || cost < 0 {
		return nil, fmt.Errorf("%w: cost must be a non-negative number", contract.ErrInvalidInput)
	}
	if len(body) > 0 && !json.Valid(body) {
		return nil, fmt.Errorf("%w: body must be valid JSON", contract.ErrInvalidInput)
	}
	msg := &contract.Message{
		MessageID: uuid.New(),
		SessionID: sessionID,
		Author:    strings.TrimSpace(author),
		Body:      body,
		Cost:      cost,
		CreatedAt: contract.Timestamp(s.now()),
	}
	err := s.sessions.Do(context.WithoutCancel(ctx), sessionID, func(cur contract.Session) error {
		if err := contract.AssertMutable(cur); err != nil {
			return err
		}
		if err := s.gateway.AppendMessage(context.WithoutCancel(ctx), sessionID, msg); err != nil {
			return fmt.Errorf("append message: %w", err)
		}
		s.publish(contract.EventMessageAppended, cur, msg, uuid.Nil)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return msg, nil
}

// ListMessages returns the ordered message history of a session.
func (s *Service) ListMessages(ctx context.Context, sessionID uuid.UUID) ([]*contract.Message, error) {
	if _, err := s.sessions.Get(ctx, sessionID); err != nil {
		return nil, err
	}
	return s.gateway.LoadMessages(ctx, sessionID)
}

// Pair admits a new device into the session.
func (s *Service) Pair(ctx context.Context, sessionID uuid.UUID, ownerID string, req device.PairingRequest) (*device.Identity, error) {
	return s.pairing.Pair(ctx, sessionID, ownerID, req)
}

// IntegrityReport is the result of re-checking a session's integrity hash.
type IntegrityReport struct {
	SessionID     uuid.UUID `json:"sessionId"`
	Signed        bool      `json:"signed"`
	Valid         bool      `json:"valid"`
	IntegrityHash string    `json:"integrityHash,omitempty"`
}

// VerifyIntegrity recomputes the hash of a signed session.
func (s *Service) VerifyIntegrity(ctx context.Context, sessionID uuid.UUID) (IntegrityReport, error) {
	session, err := s.sessions.Get(ctx, sessionID)
	if err != nil {
		return IntegrityReport{}, err
	}
	valid, err := contract.VerifyIntegrity(session)
	if err != nil {
		return IntegrityReport{}, err
	}
	return IntegrityReport{
		SessionID:     sessionID,
		Signed:        session.IsSigned(),
		Valid:         valid,
		IntegrityHash: session.IntegrityHash,
	}, nil
}

// TeardownSession evicts the session from memory once it has no live
// connections and reports whether eviction was deferred.
func (s *Service) TeardownSession(ctx context.Context, sessionID uuid.UUID) (bool, error) {
	deferred, err := s.connections.ScheduleTeardown(ctx, sessionID, func() {
		s.logger.Info().Str("session_id", sessionID.String()).Msg("session torn down")
	})
	if err != nil {
		return false, err
	}
	if deferred {
		s.logger.Info().Str("session_id", sessionID.String()).Msg("teardown deferred until connections close")
	}
	return deferred, nil
}

// EvictIdleSessions drops resident sessions without connections whose last
// activity is older than idle. It returns the number evicted.
func (s *Service) EvictIdleSessions(idle time.Duration) int {
	cutoff := s.now().Add(-idle)
	evicted := 0
	for _, cur := range s.sessions.Resident() {
		ok := s.sessions.RemoveIf(cur.SessionID, func(latest contract.Session) bool {
			return s.connections.Count(latest.SessionID) == 0 && latest.LastActivityAt.Before(cutoff)
		})
		if ok {
			evicted++
		}
	}
	if evicted > 0 {
		s.logger.Info().Int("evicted", evicted).Msg("idle sessions evicted")
	}
	return evicted
}

// Connections returns the live connections of a session.
func (s *Service) Connections(sessionID uuid.UUID) []*device.Connection {
	return s.connections.ConnectionsFor(sessionID)
}

func (s *Service) publish(eventType contract.EventType, cur contract.Session, payload interface{}, exclude uuid.UUID) {
	ev, err := contract.NewEvent(eventType, cur, payload, s.now())
	if err != nil {
		s.logger.Error().Err(err).Str("event", string(eventType)).Msg("build event")
		return
	}
	s.broadcaster.Broadcast(cur.SessionID, ev, exclude)
}

func (s *Service) sendSnapshot(connectionID uuid.UUID, cur contract.Session) {
	ev, err := contract.SnapshotEvent(cur, s.now())
	if err == nil {
		err = s.broadcaster.Send(connectionID, ev)
	}
	if err != nil {
		s.logger.Warn().Err(err).Str("connection_id", connectionID.String()).Msg("snapshot delivery failed")
	}
}
