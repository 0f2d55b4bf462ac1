package session

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/execution-hub/contractsync/internal/domain/contract"
	"github.com/execution-hub/contractsync/internal/domain/device"
)

// Command types accepted on a connection.
const (
	CommandSync    = "sync"
	CommandReview  = "review"
	CommandApprove = "approve"
	CommandSign    = "sign"
	CommandMessage = "message"
)

// Command is one inbound device request.
type Command struct {
	Type            string          `json:"type"`
	RequestID       string          `json:"requestId,omitempty"`
	ProposedCeiling *float64        `json:"proposedCeiling,omitempty"`
	Signer          string          `json:"signer,omitempty"`
	Body            json.RawMessage `json:"body,omitempty"`
	Cost            float64         `json:"cost,omitempty"`
}

// ErrorPayload is the payload of an error event sent back to a device.
type ErrorPayload struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Command   string `json:"command,omitempty"`
	RequestID string `json:"requestId,omitempty"`
}

// Serve consumes a connection's inbound frames until the transport closes
// the channel, sends FrameClosed, or ctx is done. The connection is always
// detached on return. One goroutine per connection runs Serve.
func (s *Service) Serve(ctx context.Context, conn *device.Connection, frames <-chan device.Frame) {
	defer func() {
		if err := s.UnregisterConnection(context.WithoutCancel(ctx), conn.ConnectionID); err != nil {
			s.logger.Warn().Err(err).Str("connection_id", conn.ConnectionID.String()).Msg("unregister connection")
		}
	}()
	for {
		select {
		case <-ctx.Done():
			return
		case frame, ok := <-frames:
			if !ok || frame.Kind == device.FrameClosed {
				return
			}
			s.HandleCommand(ctx, conn, frame.Data)
		}
	}
}

// HandleCommand executes one raw command for conn. Failures are reported to
// conn alone as an error event.
func (s *Service) HandleCommand(ctx context.Context, conn *device.Connection, data []byte) {
	var cmd Command
	if err := json.Unmarshal(data, &cmd); err != nil {
		s.replyError(ctx, conn, cmd, fmt.Errorf("%w: malformed command: %v", contract.ErrInvalidInput, err))
		return
	}
	cmd.Type = strings.ToLower(strings.TrimSpace(cmd.Type))

	var err error
	switch cmd.Type {
	case CommandSync:
		var cur contract.Session
		if cur, err = s.sessions.Get(ctx, conn.SessionID); err == nil {
			s.sendSnapshot(conn.ConnectionID, cur)
		}
	case CommandReview:
		_, err = s.SyncReview(ctx, conn.SessionID)
	case CommandApprove:
		if cmd.ProposedCeiling == nil {
			err = fmt.Errorf("%w: proposedCeiling is required", contract.ErrInvalidInput)
			break
		}
		_, err = s.SyncApproval(ctx, conn.SessionID, *cmd.ProposedCeiling)
	case CommandSign:
		_, err = s.SyncSignature(ctx, conn.SessionID, cmd.Signer)
	case CommandMessage:
		_, err = s.AppendMessage(ctx, conn.SessionID, conn.DeviceID, cmd.Body, cmd.Cost)
	default:
		err = fmt.Errorf("%w: unknown command %q", contract.ErrInvalidInput, cmd.Type)
	}
	if err != nil {
		s.replyError(ctx, conn, cmd, err)
	}
}

func (s *Service) replyError(ctx context.Context, conn *device.Connection, cmd Command, cause error) {
	s.logger.Debug().Err(cause).
		Str("connection_id", conn.ConnectionID.String()).
		Str("command", cmd.Type).
		Msg("command failed")

	cur, err := s.sessions.Get(ctx, conn.SessionID)
	if err != nil {
		cur = contract.Session{SessionID: conn.SessionID}
	}
	ev, err := contract.NewEvent(contract.EventError, cur, ErrorPayload{
		Code:      contract.Code(cause),
		Message:   cause.Error(),
		Command:   cmd.Type,
		RequestID: cmd.RequestID,
	}, s.now())
	if err != nil {
		return
	}
	if err := s.broadcaster.Send(conn.ConnectionID, ev); err != nil {
		s.logger.Warn().Err(err).Str("connection_id", conn.ConnectionID.String()).Msg("error reply not delivered")
	}
}
