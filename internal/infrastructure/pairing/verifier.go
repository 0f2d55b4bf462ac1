package pairing

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"

	"github.com/execution-hub/contractsync/internal/domain/device"
)

var ErrSecretRequired = errors.New("pairing secret is required")

// Verifier checks pairing credentials. QR tokens are bound to the session,
// proximity tokens to the session and device, and manual codes are one-time
// codes stored as bcrypt hashes.
type Verifier struct {
	secret []byte
	now    func() time.Time
	logger zerolog.Logger

	mu     sync.Mutex
	manual map[uuid.UUID][]byte
}

func NewVerifier(secret []byte, logger zerolog.Logger) (*Verifier, error) {
	if len(secret) == 0 {
		return nil, ErrSecretRequired
	}
	return &Verifier{
		secret: secret,
		now:    time.Now,
		logger: logger.With().Str("service", "pairing_verifier").Logger(),
		manual: make(map[uuid.UUID][]byte),
	}, nil
}

// QRToken returns the token encoded in a session's pairing QR code. It is
// stable for the lifetime of the session.
func (v *Verifier) QRToken(sessionID uuid.UUID) string {
	return v.sign("qr:" + sessionID.String())
}

// ProximityToken returns the token a nearby device presents for deviceID.
func (v *Verifier) ProximityToken(sessionID uuid.UUID, deviceID string) string {
	return v.sign("proximity:" + sessionID.String() + ":" + strings.TrimSpace(deviceID))
}

// RegisterManualCode stores a one-time code for manual pairing, replacing any
// previous code of the session.
func (v *Verifier) RegisterManualCode(sessionID uuid.UUID, code string) error {
	code = strings.TrimSpace(code)
	if len(code) < 6 {
		return fmt.Errorf("manual code must be at least 6 characters")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(code), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	v.manual[sessionID] = hash
	return nil
}

func (v *Verifier) Verify(ctx context.Context, req device.PairingRequest) (*device.Identity, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}
	credential := strings.TrimSpace(req.Credential)
	if credential == "" {
		return nil, device.ErrInvalidCredential
	}

	var ok bool
	switch req.Method {
	case device.PairingMethodQR:
		ok = v.equal(credential, v.QRToken(req.SessionID))
	case device.PairingMethodProximity:
		ok = v.equal(credential, v.ProximityToken(req.SessionID, req.RequestingDeviceID))
	case device.PairingMethodManual:
		ok = v.consumeManual(req.SessionID, credential)
	}
	if !ok {
		v.logger.Warn().
			Str("session_id", req.SessionID.String()).
			Str("method", string(req.Method)).
			Msg("pairing credential rejected")
		return nil, device.ErrInvalidCredential
	}
	return &device.Identity{
		DeviceID:   strings.TrimSpace(req.RequestingDeviceID),
		DeviceType: strings.ToLower(strings.TrimSpace(req.DeviceType)),
		Method:     req.Method,
		VerifiedAt: v.now().UTC(),
	}, nil
}

func (v *Verifier) consumeManual(sessionID uuid.UUID, code string) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	hash, ok := v.manual[sessionID]
	if !ok {
		return false
	}
	if bcrypt.CompareHashAndPassword(hash, []byte(code)) != nil {
		return false
	}
	delete(v.manual, sessionID)
	return true
}

func (v *Verifier) sign(message string) string {
	mac := hmac.New(sha256.New, v.secret)
	mac.Write([]byte(message))
	return hex.EncodeToString(mac.Sum(nil))
}

func (v *Verifier) equal(got, want string) bool {
	return hmac.Equal([]byte(got), []byte(want))
}
