package broadcast

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/execution-hub/contractsync/internal/domain/contract"
	"github.com/execution-hub/contractsync/internal/domain/device"
)

// ConnectionSource lists the live connections of a session.
type ConnectionSource interface {
	ConnectionsFor(sessionID uuid.UUID) []*device.Connection
}

// Result counts the outcome of one broadcast.
type Result struct {
	Delivered int
	Failed    int
}

// Coordinator fans events out to a session's live connections.
type Coordinator struct {
	connections ConnectionSource
	transport   device.Transport
	logger      zerolog.Logger
}

func NewCoordinator(connections ConnectionSource, transport device.Transport, logger zerolog.Logger) *Coordinator {
	return &Coordinator{
		connections: connections,
		transport:   transport,
		logger:      logger.With().Str("service", "broadcast").Logger(),
	}
}

// Broadcast delivers ev to every connection of the session except exclude
// (uuid.Nil excludes nothing). Delivery is best effort: a failed send is
// logged and skipped, never returned.
func (c *Coordinator) Broadcast(sessionID uuid.UUID, ev contract.Event, exclude uuid.UUID) Result {
	data, err := ev.Encode()
	if err != nil {
		c.logger.Error().Err(err).Str("session_id", sessionID.String()).Str("event", string(ev.Type)).Msg("encode event")
		return Result{}
	}
	var res Result
	for _, conn := range c.connections.ConnectionsFor(sessionID) {
		if exclude != uuid.Nil && conn.ConnectionID == exclude {
			continue
		}
		if err := c.send(conn.ConnectionID, data); err != nil {
			res.Failed++
			c.logger.Warn().Err(err).
				Str("session_id", sessionID.String()).
				Str("connection_id", conn.ConnectionID.String()).
				Str("event", string(ev.Type)).
				Msg("broadcast delivery failed")
			continue
		}
		res.Delivered++
	}
	return res
}

// Send delivers ev to a single connection.
func (c *Coordinator) Send(connectionID uuid.UUID, ev contract.Event) error {
	data, err := ev.Encode()
	if err != nil {
		return err
	}
	return c.send(connectionID, data)
}

func (c *Coordinator) send(connectionID uuid.UUID, data []byte) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: connection %s: transport panic: %v", contract.ErrDeliveryFailure, connectionID, r)
		}
	}()
	if err := c.transport.Send(connectionID, data); err != nil {
		return fmt.Errorf("%w: connection %s: %w", contract.ErrDeliveryFailure, connectionID, err)
	}
	return nil
}
