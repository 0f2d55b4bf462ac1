package device

import (
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
)

// PairingMethod describes how a device proved it may join a session.
type PairingMethod string

const (
	PairingMethodQR        PairingMethod = "qr"
	PairingMethodProximity PairingMethod = "proximity"
	PairingMethodManual    PairingMethod = "manual"
)

var (
	ErrInvalidMeta       = errors.New("device_type and device_id are required")
	ErrInvalidMethod     = errors.New("method must be qr, proximity or manual")
	ErrInvalidCredential = errors.New("invalid pairing credential")
)

// Meta is the device metadata a client supplies when attaching.
type Meta struct {
	DeviceType string `json:"deviceType"`
	DeviceID   string `json:"deviceId"`
}

// Normalize trims the labels and checks both are present.
func (m Meta) Normalize() (Meta, error) {
	m.DeviceType = strings.ToLower(strings.TrimSpace(m.DeviceType))
	m.DeviceID = strings.TrimSpace(m.DeviceID)
	if m.DeviceType == "" || m.DeviceID == "" {
		return m, ErrInvalidMeta
	}
	return m, nil
}

// Connection is one device's live transport channel attached to a session.
type Connection struct {
	ConnectionID uuid.UUID `json:"connectionId"`
	SessionID    uuid.UUID `json:"sessionId"`
	DeviceType   string    `json:"deviceType"`
	DeviceID     string    `json:"deviceId"`
	ConnectedAt  time.Time `json:"connectedAt"`
}

// NewConnection creates a connection record for a device joining sessionID.
func NewConnection(connectionID, sessionID uuid.UUID, meta Meta, now time.Time) *Connection {
	return &Connection{
		ConnectionID: connectionID,
		SessionID:    sessionID,
		DeviceType:   meta.DeviceType,
		DeviceID:     meta.DeviceID,
		ConnectedAt:  now.UTC(),
	}
}

// Meta returns the device labels of the connection.
func (c *Connection) Meta() Meta {
	return Meta{DeviceType: c.DeviceType, DeviceID: c.DeviceID}
}

// PairingRequest is one device's attempt to join a session. It is consumed once.
type PairingRequest struct {
	SessionID          uuid.UUID     `json:"sessionId"`
	OwnerID            string        `json:"ownerId"`
	RequestingDeviceID string        `json:"requestingDeviceId"`
	DeviceType         string        `json:"deviceType"`
	Method             PairingMethod `json:"method"`
	Credential         string        `json:"credential"`
}

// Validate checks the request is structurally complete.
func (r PairingRequest) Validate() error {
	if _, err := (Meta{DeviceType: r.DeviceType, DeviceID: r.RequestingDeviceID}).Normalize(); err != nil {
		return err
	}
	switch r.Method {
	case PairingMethodQR, PairingMethodProximity, PairingMethodManual:
		return nil
	default:
		return ErrInvalidMethod
	}
}

// Identity is what the pairing verifier vouches for.
type Identity struct {
	DeviceID   string        `json:"deviceId"`
	DeviceType string        `json:"deviceType"`
	Method     PairingMethod `json:"method"`
	VerifiedAt time.Time     `json:"verifiedAt"`
}

// FrameKind distinguishes inbound transport events.
type FrameKind int

const (
	FrameMessage FrameKind = iota
	FrameClosed
)

// Frame is one inbound transport event for a connection's worker.
type Frame struct {
	Kind FrameKind
	Data []byte
}
