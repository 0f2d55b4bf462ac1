package contract

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"time"
)

// integrityPayload covers the contract content. Devices, version and activity
// timestamps are bookkeeping and stay outside the hash.
type integrityPayload struct {
	SessionID       string         `json:"sessionId"`
	OwnerID         string         `json:"ownerId"`
	ContractStatus  string         `json:"contractStatus"`
	StartedAt       string         `json:"startedAt"`
	Review          *ReviewSummary `json:"review,omitempty"`
	ApprovedCeiling *float64       `json:"approvedCeiling,omitempty"`
	ApprovedCost    *float64       `json:"approvedCost,omitempty"`
	SignedAt        string         `json:"signedAt,omitempty"`
	SignedBy        string         `json:"signedBy,omitempty"`
}

func buildIntegrityPayload(s Session) integrityPayload {
	p := integrityPayload{
		SessionID:       s.SessionID.String(),
		OwnerID:         s.OwnerID,
		ContractStatus:  string(s.ContractStatus),
		StartedAt:       s.StartedAt.UTC().Format(time.RFC3339Nano),
		ApprovedCeiling: s.ApprovedCeiling,
		ApprovedCost:    s.ApprovedCost,
		SignedBy:        s.SignedBy,
	}
	if s.Review != nil {
		r := *s.Review
		r.ComputedAt = r.ComputedAt.UTC()
		p.Review = &r
	}
	if s.SignedAt != nil {
		p.SignedAt = s.SignedAt.UTC().Format(time.RFC3339Nano)
	}
	return p
}

// IntegrityHash returns the hex SHA-256 over the session's contract content.
func IntegrityHash(s Session) (string, error) {
	data, err := json.Marshal(buildIntegrityPayload(s))
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// VerifyIntegrity recomputes the hash of a signed session and compares it.
func VerifyIntegrity(s Session) (bool, error) {
	if !s.IsSigned() || s.IntegrityHash == "" {
		return false, nil
	}
	expected, err := IntegrityHash(s)
	if err != nil {
		return false, err
	}
	return subtle.ConstantTimeCompare([]byte(expected), []byte(s.IntegrityHash)) == 1, nil
}
