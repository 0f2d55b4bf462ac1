package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/execution-hub/contractsync/internal/domain/contract"
	"github.com/execution-hub/contractsync/internal/domain/device"
)

type approveRequest struct {
	ProposedCeiling *float64 `json:"proposedCeiling"`
}

type signRequest struct {
	Signer string `json:"signer"`
}

type appendMessageRequest struct {
	Body json.RawMessage `json:"body"`
	Cost float64         `json:"cost"`
}

type pairRequest struct {
	RequestingDeviceID string               `json:"requestingDeviceId"`
	DeviceType         string               `json:"deviceType"`
	Method             device.PairingMethod `json:"method"`
	Credential         string               `json:"credential"`
}

type manualCodeRequest struct {
	Code string `json:"code"`
}

// authorizedSession resolves {sessionId} and checks the caller owns it.
func (s *Server) authorizedSession(w http.ResponseWriter, r *http.Request) (contract.Session, bool) {
	id, err := parseUUIDParam(r, "sessionId")
	if err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", "invalid session id")
		return contract.Session{}, false
	}
	session, err := s.syncSvc.Authorize(r.Context(), id, ownerFromContext(r.Context()))
	if err != nil {
		s.respondDomainError(w, r, err)
		return contract.Session{}, false
	}
	return session, true
}

func (s *Server) startSession(w http.ResponseWriter, r *http.Request) {
	session, err := s.syncSvc.StartSession(r.Context(), ownerFromContext(r.Context()))
	if err != nil {
		s.respondDomainError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, session)
}

func (s *Server) getSession(w http.ResponseWriter, r *http.Request) {
	session, ok := s.authorizedSession(w, r)
	if !ok {
		return
	}
	respondJSON(w, http.StatusOK, session)
}

func (s *Server) teardownSession(w http.ResponseWriter, r *http.Request) {
	session, ok := s.authorizedSession(w, r)
	if !ok {
		return
	}
	deferred, err := s.syncSvc.TeardownSession(r.Context(), session.SessionID)
	if err != nil {
		s.respondDomainError(w, r, err)
		return
	}
	status := http.StatusOK
	if deferred {
		status = http.StatusAccepted
	}
	respondJSON(w, status, map[string]interface{}{"sessionId": session.SessionID, "deferred": deferred})
}

func (s *Server) listConnections(w http.ResponseWriter, r *http.Request) {
	session, ok := s.authorizedSession(w, r)
	if !ok {
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"items": s.syncSvc.Connections(session.SessionID)})
}

func (s *Server) reviewContract(w http.ResponseWriter, r *http.Request) {
	session, ok := s.authorizedSession(w, r)
	if !ok {
		return
	}
	next, err := s.syncSvc.SyncReview(r.Context(), session.SessionID)
	if err != nil {
		s.respondDomainError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, next)
}

func (s *Server) approveContract(w http.ResponseWriter, r *http.Request) {
	session, ok := s.authorizedSession(w, r)
	if !ok {
		return
	}
	var req approveRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", err.Error())
		return
	}
	if req.ProposedCeiling == nil {
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", "proposedCeiling is required")
		return
	}
	next, err := s.syncSvc.SyncApproval(r.Context(), session.SessionID, *req.ProposedCeiling)
	if err != nil {
		s.respondDomainError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, next)
}

func (s *Server) signContract(w http.ResponseWriter, r *http.Request) {
	session, ok := s.authorizedSession(w, r)
	if !ok {
		return
	}
	var req signRequest
	// the body is optional; an empty one signs as the owner
	if err := decodeBody(r, &req); err != nil && !errors.Is(err, io.EOF) {
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", err.Error())
		return
	}
	next, err := s.syncSvc.SyncSignature(r.Context(), session.SessionID, req.Signer)
	if err != nil {
		s.respondDomainError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, next)
}

func (s *Server) verifyIntegrity(w http.ResponseWriter, r *http.Request) {
	session, ok := s.authorizedSession(w, r)
	if !ok {
		return
	}
	report, err := s.syncSvc.VerifyIntegrity(r.Context(), session.SessionID)
	if err != nil {
		s.respondDomainError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, report)
}

func (s *Server) appendMessage(w http.ResponseWriter, r *http.Request) {
	session, ok := s.authorizedSession(w, r)
	if !ok {
		return
	}
	var req appendMessageRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", err.Error())
		return
	}
	msg, err := s.syncSvc.AppendMessage(r.Context(), session.SessionID, session.OwnerID, req.Body, req.Cost)
	if err != nil {
		s.respondDomainError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, msg)
}

func (s *Server) listMessages(w http.ResponseWriter, r *http.Request) {
	session, ok := s.authorizedSession(w, r)
	if !ok {
		return
	}
	msgs, err := s.syncSvc.ListMessages(r.Context(), session.SessionID)
	if err != nil {
		s.respondDomainError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"items": msgs})
}

func (s *Server) pairDevice(w http.ResponseWriter, r *http.Request) {
	id, err := parseUUIDParam(r, "sessionId")
	if err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", "invalid session id")
		return
	}
	var req pairRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", err.Error())
		return
	}
	owner := ownerFromContext(r.Context())
	identity, err := s.syncSvc.Pair(r.Context(), id, owner, device.PairingRequest{
		SessionID:          id,
		OwnerID:            owner,
		RequestingDeviceID: req.RequestingDeviceID,
		DeviceType:         req.DeviceType,
		Method:             req.Method,
		Credential:         req.Credential,
	})
	if err != nil {
		s.respondDomainError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, identity)
}

func (s *Server) pairingQR(w http.ResponseWriter, r *http.Request) {
	session, ok := s.authorizedSession(w, r)
	if !ok {
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"sessionId": session.SessionID,
		"method":    device.PairingMethodQR,
		"token":     s.pairing.QRToken(session.SessionID),
	})
}

// pairingProximity issues the token a nearby device with device_id presents.
func (s *Server) pairingProximity(w http.ResponseWriter, r *http.Request) {
	session, ok := s.authorizedSession(w, r)
	if !ok {
		return
	}
	deviceID := strings.TrimSpace(r.URL.Query().Get("device_id"))
	if deviceID == "" {
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", "device_id is required")
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"sessionId": session.SessionID,
		"method":    device.PairingMethodProximity,
		"deviceId":  deviceID,
		"token":     s.pairing.ProximityToken(session.SessionID, deviceID),
	})
}

func (s *Server) registerManualCode(w http.ResponseWriter, r *http.Request) {
	session, ok := s.authorizedSession(w, r)
	if !ok {
		return
	}
	var req manualCodeRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", err.Error())
		return
	}
	if err := s.pairing.RegisterManualCode(session.SessionID, req.Code); err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func connectionIDParam(r *http.Request) (uuid.UUID, error) {
	return parseUUIDParam(r, "connectionId")
}
