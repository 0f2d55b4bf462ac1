package contract

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// EventType tags every event pushed to devices.
type EventType string

const (
	EventSync               EventType = "sync"
	EventDevicePaired       EventType = "device_paired"
	EventDeviceConnected    EventType = "device_connected"
	EventDeviceDisconnected EventType = "device_disconnected"
	EventContractReview     EventType = "contract_review"
	EventContractApproved   EventType = "contract_approved"
	EventContractSigned     EventType = "contract_signed"
	EventMessageAppended    EventType = "message_appended"
	EventError              EventType = "error"
)

// Event is the wire envelope; one JSON object per event.
type Event struct {
	Type      EventType       `json:"type"`
	SessionID uuid.UUID       `json:"sessionId"`
	Version   int64           `json:"version"`
	Timestamp time.Time       `json:"timestamp"`
	Payload   json.RawMessage `json:"payload"`
}

// NewEvent builds an event stamped with the session's current version.
func NewEvent(eventType EventType, s Session, payload interface{}, now time.Time) (Event, error) {
	raw := json.RawMessage(`{}`)
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return Event{}, err
		}
		raw = b
	}
	return Event{
		Type:      eventType,
		SessionID: s.SessionID,
		Version:   s.Version,
		Timestamp: now.UTC(),
		Payload:   raw,
	}, nil
}

// SnapshotEvent wraps the full session state in a sync event.
func SnapshotEvent(s Session, now time.Time) (Event, error) {
	return NewEvent(EventSync, s, s, now)
}

// Encode marshals the event to its wire form.
func (e Event) Encode() ([]byte, error) {
	return json.Marshal(e)
}
