package bus

import (
	"time"

	"github.com/google/uuid"
)

// EventType tags the kind of coordination event on the wire.
type EventType string

const (
	TypeDeviceConnect     EventType = "device.connect"
	TypeDeviceDisconnect  EventType = "device.disconnect"
	TypeDeviceStateChange EventType = "device.state_change"

	TypePersonaSwitch         EventType = "persona.switch"
	TypePersonaSwitchComplete EventType = "persona.switch_complete"

	TypeSessionStart   EventType = "session.start"
	TypeSessionEnd     EventType = "session.end"
	TypeSessionHandoff EventType = "session.handoff"

	TypeGroupStart   EventType = "group.start"
	TypeGroupEnd     EventType = "group.end"
	TypeSyncPlayback EventType = "sync.playback"

	TypeBroadcast      EventType = "broadcast"
	TypeEmergencyAlert EventType = "emergency.alert"
)

// Event is an immutable, timestamped coordination message. An empty target
// list means broadcast to every subscribed device.
type Event struct {
	Type            EventType      `json:"type"`
	SourceDeviceID  string         `json:"source_device_id,omitempty"`
	TargetDeviceIDs []string       `json:"target_device_ids,omitempty"`
	Payload         map[string]any `json:"payload,omitempty"`
	Timestamp       time.Time      `json:"timestamp"`
	CorrelationID   string         `json:"correlation_id,omitempty"`
}

// NewEvent builds an event with a fresh correlation id and timestamp.
func NewEvent(eventType EventType, sourceDeviceID string, targetDeviceIDs []string, payload map[string]any) Event {
	return Event{
		Type:            eventType,
		SourceDeviceID:  sourceDeviceID,
		TargetDeviceIDs: targetDeviceIDs,
		Payload:         payload,
		Timestamp:       time.Now().UTC(),
		CorrelationID:   uuid.NewString(),
	}
}

// Broadcast reports whether the event targets every device.
func (e Event) Broadcast() bool {
	return len(e.TargetDeviceIDs) == 0
}
