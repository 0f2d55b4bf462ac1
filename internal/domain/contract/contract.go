package contract

import (
	"encoding/json"
	"slices"
	"time"

	"github.com/google/uuid"
)

// Status describes where a contract is in its lifecycle.
type Status string

const (
	StatusDraft    Status = "draft"
	StatusReview   Status = "review"
	StatusApproved Status = "approved"
	StatusSigned   Status = "signed"
)

var statusOrder = map[Status]int{
	StatusDraft:    0,
	StatusReview:   1,
	StatusApproved: 2,
	StatusSigned:   3,
}

// Rank returns the position of the status in the lifecycle, or -1 when unknown.
func (s Status) Rank() int {
	if r, ok := statusOrder[s]; ok {
		return r
	}
	return -1
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	return s.Rank() >= 0
}

// ReviewSummary is computed from the session's message history when review starts.
type ReviewSummary struct {
	MessageCount  int       `json:"messageCount"`
	EstimatedCost float64   `json:"estimatedCost"`
	ComputedAt    time.Time `json:"computedAt"`
}

// Session is the unit of synchronization shared by every device of one owner.
type Session struct {
	SessionID       uuid.UUID      `json:"sessionId"`
	OwnerID         string         `json:"ownerId"`
	ContractStatus  Status         `json:"contractStatus"`
	Version         int64          `json:"version"`
	Devices         []string       `json:"devices"`
	PairedDevices   []string       `json:"pairedDevices,omitempty"`
	StartedAt       time.Time      `json:"startedAt"`
	LastActivityAt  time.Time      `json:"lastActivityAt"`
	Review          *ReviewSummary `json:"review,omitempty"`
	ApprovedCeiling *float64       `json:"approvedCeiling,omitempty"`
	ApprovedCost    *float64       `json:"approvedCost,omitempty"`
	SignedAt        *time.Time     `json:"signedAt,omitempty"`
	SignedBy        string         `json:"signedBy,omitempty"`
	IntegrityHash   string         `json:"integrityHash,omitempty"`
}

// Timestamp normalizes t to UTC at microsecond precision, the finest
// precision every gateway round-trips.
func Timestamp(t time.Time) time.Time {
	return t.UTC().Truncate(time.Microsecond)
}

// NewSession returns a draft session at version 0.
func NewSession(ownerID string, now time.Time) Session {
	now = Timestamp(now)
	return Session{
		SessionID:      uuid.New(),
		OwnerID:        ownerID,
		ContractStatus: StatusDraft,
		Version:        0,
		Devices:        []string{},
		StartedAt:      now,
		LastActivityAt: now,
	}
}

// Clone returns a deep copy so callers never share pointers with the registry.
func (s Session) Clone() Session {
	out := s
	out.Devices = slices.Clone(s.Devices)
	if out.Devices == nil {
		out.Devices = []string{}
	}
	out.PairedDevices = slices.Clone(s.PairedDevices)
	if s.Review != nil {
		r := *s.Review
		out.Review = &r
	}
	if s.ApprovedCeiling != nil {
		v := *s.ApprovedCeiling
		out.ApprovedCeiling = &v
	}
	if s.ApprovedCost != nil {
		v := *s.ApprovedCost
		out.ApprovedCost = &v
	}
	if s.SignedAt != nil {
		v := *s.SignedAt
		out.SignedAt = &v
	}
	return out
}

// IsSigned reports whether the session reached the terminal state.
func (s Session) IsSigned() bool {
	return s.ContractStatus == StatusSigned
}

// HasDevice reports whether the device type label is in the session's device set.
func (s Session) HasDevice(deviceType string) bool {
	return slices.Contains(s.Devices, deviceType)
}

// WithDevice returns a copy with deviceType added to the sorted device set.
func (s Session) WithDevice(deviceType string) Session {
	out := s.Clone()
	if deviceType == "" || out.HasDevice(deviceType) {
		return out
	}
	out.Devices = append(out.Devices, deviceType)
	slices.Sort(out.Devices)
	return out
}

// WithPairedDevice returns a copy with deviceType added to the device set
// and recorded as paired.
func (s Session) WithPairedDevice(deviceType string) Session {
	out := s.WithDevice(deviceType)
	if deviceType == "" || slices.Contains(out.PairedDevices, deviceType) {
		return out
	}
	out.PairedDevices = append(out.PairedDevices, deviceType)
	slices.Sort(out.PairedDevices)
	return out
}

// WithoutDevice returns a copy with deviceType removed from the device set.
// Paired device types stay.
func (s Session) WithoutDevice(deviceType string) Session {
	out := s.Clone()
	if slices.Contains(out.PairedDevices, deviceType) {
		return out
	}
	out.Devices = slices.DeleteFunc(out.Devices, func(d string) bool { return d == deviceType })
	return out
}

// Message is one entry of a session's negotiation history.
type Message struct {
	MessageID uuid.UUID       `json:"messageId"`
	SessionID uuid.UUID       `json:"sessionId"`
	Author    string          `json:"author"`
	Body      json.RawMessage `json:"body,omitempty"`
	Cost      float64         `json:"cost"`
	CreatedAt time.Time       `json:"createdAt"`
}

// Summarize computes the review summary over an ordered message history.
func Summarize(messages []*Message, now time.Time) ReviewSummary {
	sum := ReviewSummary{ComputedAt: Timestamp(now)}
	for _, m := range messages {
		if m == nil {
			continue
		}
		sum.MessageCount++
		sum.EstimatedCost += m.Cost
	}
	return sum
}
