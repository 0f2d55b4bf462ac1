package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/execution-hub/contractsync/internal/domain/device"
	"github.com/execution-hub/contractsync/internal/infrastructure/sse"
)

const (
	streamKeepAlive = 15 * time.Second
	maxCommandBytes = 64 << 10
)

// streamSession attaches the caller as a device connection and streams
// session events until the client goes away.
func (s *Server) streamSession(w http.ResponseWriter, r *http.Request) {
	session, ok := s.authorizedSession(w, r)
	if !ok {
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		respondError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "streaming not supported")
		return
	}

	connectionID := uuid.New()
	client := sse.NewClient(connectionID, session.SessionID, session.OwnerID, s.sendBuffer)
	s.hub.Register(client)
	defer s.hub.Unregister(connectionID)

	meta := device.Meta{
		DeviceType: r.URL.Query().Get("device_type"),
		DeviceID:   r.URL.Query().Get("device_id"),
	}
	conn, err := s.syncSvc.RegisterConnection(r.Context(), connectionID, session.SessionID, meta)
	if err != nil {
		s.respondDomainError(w, r, err)
		return
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		s.syncSvc.Serve(context.WithoutCancel(r.Context()), conn, client.Frames())
	}()
	defer func() {
		s.hub.Close(connectionID)
		<-done
	}()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Connection-ID", connectionID.String())
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(": connected " + connectionID.String() + "\n\n"))
	flusher.Flush()

	log := s.logger.With().
		Str("session_id", session.SessionID.String()).
		Str("connection_id", connectionID.String()).
		Logger()
	log.Debug().Str("device_id", conn.DeviceID).Msg("stream attached")

	ticker := time.NewTicker(streamKeepAlive)
	defer ticker.Stop()

	ctx := r.Context()
	for {
		select {
		case payload := <-client.Outbound():
			_, _ = w.Write([]byte("data: "))
			_, _ = w.Write(payload)
			_, _ = w.Write([]byte("\n\n"))
			flusher.Flush()
		case <-ticker.C:
			_, _ = w.Write([]byte(": ping\n\n"))
			flusher.Flush()
		case <-done:
			log.Debug().Msg("stream worker stopped")
			return
		case <-ctx.Done():
			if n := client.Dropped(); n > 0 {
				log.Warn().Uint64("dropped", n).Msg("stream closed with dropped events")
			}
			return
		}
	}
}

// postConnectionMessage feeds one command into an attached connection.
func (s *Server) postConnectionMessage(w http.ResponseWriter, r *http.Request) {
	connectionID, err := connectionIDParam(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", "invalid connection id")
		return
	}
	client := s.hub.GetClient(connectionID)
	if client == nil {
		respondError(w, http.StatusNotFound, "CONNECTION_NOT_FOUND", "connection not found")
		return
	}
	if client.OwnerID != ownerFromContext(r.Context()) {
		respondError(w, http.StatusForbidden, "ACCESS_DENIED", "connection belongs to another owner")
		return
	}

	data, err := io.ReadAll(io.LimitReader(r.Body, maxCommandBytes+1))
	if err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", err.Error())
		return
	}
	if len(data) > maxCommandBytes {
		respondError(w, http.StatusRequestEntityTooLarge, "INVALID_PARAM", "command too large")
		return
	}
	if !json.Valid(data) {
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", "command must be JSON")
		return
	}

	switch err := s.hub.Deliver(r.Context(), connectionID, data); {
	case err == nil:
		respondJSON(w, http.StatusAccepted, map[string]interface{}{"connectionId": connectionID})
	case errors.Is(err, sse.ErrClientNotFound):
		respondError(w, http.StatusNotFound, "CONNECTION_NOT_FOUND", "connection not found")
	case errors.Is(err, sse.ErrConnectionClosed):
		respondError(w, http.StatusGone, "CONNECTION_CLOSED", "connection closed")
	default:
		respondError(w, http.StatusServiceUnavailable, "UNAVAILABLE", err.Error())
	}
}
