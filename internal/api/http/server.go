package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	appSession "github.com/execution-hub/contractsync/internal/application/session"
	"github.com/execution-hub/contractsync/internal/domain/contract"
	"github.com/execution-hub/contractsync/internal/infrastructure/sse"
)

// PairingIssuer hands out pairing credentials for a session.
type PairingIssuer interface {
	QRToken(sessionID uuid.UUID) string
	ProximityToken(sessionID uuid.UUID, deviceID string) string
	RegisterManualCode(sessionID uuid.UUID, code string) error
}

// Server holds dependencies for HTTP handlers.
type Server struct {
	syncSvc    *appSession.Service
	hub        *sse.Hub
	pairing    PairingIssuer
	auth       *Authenticator
	sendBuffer int
	logger     zerolog.Logger
}

func NewServer(
	syncSvc *appSession.Service,
	hub *sse.Hub,
	pairing PairingIssuer,
	auth *Authenticator,
	sendBuffer int,
	logger zerolog.Logger,
) *Server {
	return &Server{
		syncSvc:    syncSvc,
		hub:        hub,
		pairing:    pairing,
		auth:       auth,
		sendBuffer: sendBuffer,
		logger:     logger.With().Str("component", "http").Logger(),
	}
}

// Router builds the HTTP router.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		respondJSON(w, http.StatusOK, map[string]interface{}{"status": "ok", "streams": s.hub.GetClientCount()})
	})

	r.Route("/v1", func(r chi.Router) {
		r.Use(s.requireAuth)

		// streams are long-lived and stay outside the request timeout
		r.Get("/sessions/{sessionId}/stream", s.streamSession)

		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(30 * time.Second))

			r.Route("/sessions", func(r chi.Router) {
				r.Post("/", s.startSession)
				r.Get("/{sessionId}", s.getSession)
				r.Delete("/{sessionId}", s.teardownSession)
				r.Get("/{sessionId}/connections", s.listConnections)

				r.Post("/{sessionId}/review", s.reviewContract)
				r.Post("/{sessionId}/approve", s.approveContract)
				r.Post("/{sessionId}/sign", s.signContract)
				r.Get("/{sessionId}/integrity", s.verifyIntegrity)

				r.Post("/{sessionId}/messages", s.appendMessage)
				r.Get("/{sessionId}/messages", s.listMessages)

				r.Post("/{sessionId}/pair", s.pairDevice)
				r.Get("/{sessionId}/pairing/qr", s.pairingQR)
				r.Get("/{sessionId}/pairing/proximity", s.pairingProximity)
				r.Post("/{sessionId}/pairing/manual-code", s.registerManualCode)
			})

			r.Post("/connections/{connectionId}/messages", s.postConnectionMessage)
		})
	})

	return r
}

func respondJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, map[string]interface{}{
		"error":   code,
		"message": message,
	})
}

// respondDomainError maps the error taxonomy onto HTTP statuses.
func (s *Server) respondDomainError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	// an out-of-range ceiling carries both InvalidTransition and InvalidInput
	// and is reported as a conflict
	switch {
	case errors.Is(err, contract.ErrSessionNotFound):
		status = http.StatusNotFound
	case errors.Is(err, contract.ErrAccessDenied):
		status = http.StatusForbidden
	case errors.Is(err, contract.ErrInvalidTransition),
		errors.Is(err, contract.ErrImmutableSession),
		errors.Is(err, contract.ErrAlreadyExists),
		errors.Is(err, contract.ErrPolicyRejected):
		status = http.StatusConflict
	case errors.Is(err, contract.ErrInvalidInput):
		status = http.StatusBadRequest
	}
	message := err.Error()
	if status == http.StatusInternalServerError {
		s.logger.Error().Err(err).Str("path", r.URL.Path).Str("request_id", middleware.GetReqID(r.Context())).Msg("request failed")
		message = "internal error"
	}
	respondError(w, status, contract.Code(err), message)
}

func parseUUIDParam(r *http.Request, key string) (uuid.UUID, error) {
	val := chi.URLParam(r, key)
	return uuid.Parse(val)
}

func decodeBody(r *http.Request, v interface{}) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}
