package store

import (
	"strings"
	"time"
)

// DeviceStatus represents the connectivity state of a device.
type DeviceStatus string

const (
	DeviceOnline  DeviceStatus = "online"
	DeviceOffline DeviceStatus = "offline"
	DeviceBusy    DeviceStatus = "busy"
	DeviceError   DeviceStatus = "error"
	DeviceRetired DeviceStatus = "retired"
)

var deviceStatusSet = map[DeviceStatus]struct{}{
	DeviceOnline:  {},
	DeviceOffline: {},
	DeviceBusy:    {},
	DeviceError:   {},
	DeviceRetired: {},
}

// ParseDeviceStatus converts a string into a known DeviceStatus.
func ParseDeviceStatus(value string) (DeviceStatus, bool) {
	normalized := DeviceStatus(strings.ToLower(strings.TrimSpace(value)))
	_, ok := deviceStatusSet[normalized]
	return normalized, ok
}

// DeviceType identifies the hardware class of a registered endpoint.
type DeviceType string

const (
	DeviceSpeaker   DeviceType = "speaker"
	DeviceTablet    DeviceType = "tablet"
	DeviceCustom    DeviceType = "custom"
	DeviceSimulator DeviceType = "simulator"
)

// Capabilities describes what hardware a device offers.
type Capabilities struct {
	AudioInput  bool `json:"audio_input"`
	AudioOutput bool `json:"audio_output"`
	Buttons     bool `json:"buttons"`
	LEDs        bool `json:"leds"`
	Display     bool `json:"display"`
}

// Device is a registered endpoint. Devices are never deleted; retirement
// sets the status to retired and keeps the row.
type Device struct {
	ID              string
	Name            string
	Type            DeviceType
	Status          DeviceStatus
	GroupID         string
	Location        string
	Capabilities    Capabilities
	ActivePersonaID string
	ActiveSessionID string
	TokenHash       string
	LastHeartbeat   *time.Time
	RegisteredAt    time.Time
	UpdatedAt       time.Time
}

// SessionState represents the lifecycle of a session. Ended is terminal.
type SessionState string

const (
	SessionActive SessionState = "active"
	SessionEnded  SessionState = "ended"
)

// TurnRole identifies who produced a conversation turn.
type TurnRole string

const (
	RoleUser      TurnRole = "user"
	RoleAssistant TurnRole = "assistant"
	RoleSystem    TurnRole = "system"
)

var turnRoleSet = map[TurnRole]struct{}{
	RoleUser:      {},
	RoleAssistant: {},
	RoleSystem:    {},
}

// ParseTurnRole converts a string into a known TurnRole.
func ParseTurnRole(value string) (TurnRole, bool) {
	normalized := TurnRole(strings.ToLower(strings.TrimSpace(value)))
	_, ok := turnRoleSet[normalized]
	return normalized, ok
}

// Turn is a single conversation exchange, tagged with the persona that was
// active when it was produced.
type Turn struct {
	ID        string    `json:"id"`
	Role      TurnRole  `json:"role"`
	Content   string    `json:"content"`
	PersonaID string    `json:"persona_id"`
	Timestamp time.Time `json:"timestamp"`
}

// HandoffRecord captures one device-to-device transfer of a session.
type HandoffRecord struct {
	FromDeviceID string    `json:"from"`
	ToDeviceID   string    `json:"to"`
	At           time.Time `json:"at"`
}

// Session is the unit of conversational continuity bound to one device.
type Session struct {
	ID        string
	DeviceID  string
	PersonaID string
	UserID    string
	State     SessionState
	Turns     []Turn
	Handoffs  []HandoffRecord
	CreatedAt time.Time
	UpdatedAt time.Time
	ExpiresAt time.Time
}

// Expired reports whether the session TTL has elapsed at the given instant.
func (s *Session) Expired(now time.Time) bool {
	return now.After(s.ExpiresAt)
}

// PersonaCacheEntry is one cached persona bundle row.
type PersonaCacheEntry struct {
	PersonaID  string
	BundleJSON string
	LoadedAt   time.Time
	ExpiresAt  time.Time
}
