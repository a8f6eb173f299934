package ipc

import "time"

// StopRequest stops the daemon.
type StopRequest struct{}

// StopResponse indicates stop result.
type StopResponse struct {
	Stopped bool `json:"stopped"`
}

// StatusRequest fetches daemon status.
type StatusRequest struct{}

// StatusResponse reports daemon runtime information.
type StatusResponse struct {
	Running        bool   `json:"running"`
	PID            int    `json:"pid"`
	DatabasePath   string `json:"database_path"`
	LockPath       string `json:"lock_path"`
	GatewayAddr    string `json:"gateway_addr"`
	DeviceCount    int    `json:"device_count"`
	OnlineCount    int    `json:"online_count"`
	LiveActivities int    `json:"live_activities"`
}

// DeviceInfo is the wire form of a registered device.
type DeviceInfo struct {
	ID              string     `json:"id"`
	Name            string     `json:"name"`
	Type            string     `json:"type"`
	Status          string     `json:"status"`
	GroupID         string     `json:"group_id,omitempty"`
	Location        string     `json:"location,omitempty"`
	ActivePersonaID string     `json:"active_persona_id,omitempty"`
	ActiveSessionID string     `json:"active_session_id,omitempty"`
	LastHeartbeat   *time.Time `json:"last_heartbeat,omitempty"`
	RegisteredAt    time.Time  `json:"registered_at"`
}

// DeviceRegisterRequest registers a new device.
type DeviceRegisterRequest struct {
	Name        string `json:"name"`
	Type        string `json:"type"`
	GroupID     string `json:"group_id,omitempty"`
	Location    string `json:"location,omitempty"`
	AudioInput  bool   `json:"audio_input"`
	AudioOutput bool   `json:"audio_output"`
	Buttons     bool   `json:"buttons"`
	LEDs        bool   `json:"leds"`
	Display     bool   `json:"display"`
}

// DeviceRegisterResponse returns the new device and its one-time token.
type DeviceRegisterResponse struct {
	Device DeviceInfo `json:"device"`
	Token  string     `json:"token"`
}

// DeviceListRequest lists devices, optionally filtered by group.
type DeviceListRequest struct {
	GroupID string `json:"group_id,omitempty"`
}

// DeviceListResponse contains registered devices.
type DeviceListResponse struct {
	Devices []DeviceInfo `json:"devices"`
}

// DeviceShowRequest fetches one device.
type DeviceShowRequest struct {
	DeviceID string `json:"device_id"`
}

// DeviceShowResponse contains one device.
type DeviceShowResponse struct {
	Device DeviceInfo `json:"device"`
}

// DeviceRetireRequest retires a device.
type DeviceRetireRequest struct {
	DeviceID string `json:"device_id"`
}

// DeviceRetireResponse confirms retirement.
type DeviceRetireResponse struct {
	Retired bool `json:"retired"`
}

// PersonaListRequest lists available personas.
type PersonaListRequest struct{}

// PersonaSummary is the wire form of a persona listing entry.
type PersonaSummary struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Version     string `json:"version"`
	Mode        string `json:"mode"`
}

// PersonaListResponse contains persona summaries.
type PersonaListResponse struct {
	Personas []PersonaSummary `json:"personas"`
}

// PersonaShowRequest fetches one persona.
type PersonaShowRequest struct {
	PersonaID string `json:"persona_id"`
}

// PersonaShowResponse contains persona details.
type PersonaShowResponse struct {
	ID            string   `json:"id"`
	Name          string   `json:"name"`
	Description   string   `json:"description"`
	Version       string   `json:"version"`
	Mode          string   `json:"mode"`
	VoiceProvider string   `json:"voice_provider"`
	VoiceID       string   `json:"voice_id"`
	Language      string   `json:"language"`
	Triggers      []string `json:"triggers"`
	Tags          []string `json:"tags,omitempty"`
}

// PersonaSwitchRequest switches a device's active persona.
type PersonaSwitchRequest struct {
	DeviceID  string `json:"device_id"`
	PersonaID string `json:"persona_id"`
}

// PersonaSwitchResponse reports switch outcome and its measured latency.
type PersonaSwitchResponse struct {
	PersonaID      string `json:"persona_id"`
	PersonaVersion string `json:"persona_version"`
	DurationMillis int64  `json:"duration_ms"`
	WithinSLA      bool   `json:"within_sla"`
}

// PersonaInvalidateRequest drops a persona from both cache tiers.
type PersonaInvalidateRequest struct {
	PersonaID string `json:"persona_id"`
}

// PersonaInvalidateResponse confirms invalidation.
type PersonaInvalidateResponse struct {
	Invalidated bool `json:"invalidated"`
}

// TurnInfo is the wire form of one conversation turn.
type TurnInfo struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	PersonaID string    `json:"persona_id"`
	Timestamp time.Time `json:"timestamp"`
}

// HandoffInfo is the wire form of one session handoff record.
type HandoffInfo struct {
	From string    `json:"from"`
	To   string    `json:"to"`
	At   time.Time `json:"at"`
}

// SessionInfo is the wire form of a session.
type SessionInfo struct {
	ID        string        `json:"id"`
	DeviceID  string        `json:"device_id"`
	PersonaID string        `json:"persona_id"`
	UserID    string        `json:"user_id,omitempty"`
	State     string        `json:"state"`
	Turns     []TurnInfo    `json:"turns,omitempty"`
	Handoffs  []HandoffInfo `json:"handoffs,omitempty"`
	CreatedAt time.Time     `json:"created_at"`
	ExpiresAt time.Time     `json:"expires_at"`
}

// SessionCreateRequest starts a session on a device.
type SessionCreateRequest struct {
	DeviceID  string `json:"device_id"`
	PersonaID string `json:"persona_id"`
	UserID    string `json:"user_id,omitempty"`
}

// SessionCreateResponse contains the new session.
type SessionCreateResponse struct {
	Session SessionInfo `json:"session"`
}

// SessionShowRequest fetches one session.
type SessionShowRequest struct {
	SessionID string `json:"session_id"`
}

// SessionShowResponse contains one session.
type SessionShowResponse struct {
	Session SessionInfo `json:"session"`
}

// SessionEndRequest ends a session.
type SessionEndRequest struct {
	SessionID string `json:"session_id"`
}

// SessionEndResponse confirms the end.
type SessionEndResponse struct {
	Ended bool `json:"ended"`
}

// SessionTurnRequest appends a conversation turn.
type SessionTurnRequest struct {
	SessionID string `json:"session_id"`
	Role      string `json:"role"`
	Content   string `json:"content"`
}

// SessionTurnResponse reports the updated turn count.
type SessionTurnResponse struct {
	TurnCount int `json:"turn_count"`
}

// HandoffRequest moves a session between devices.
type HandoffRequest struct {
	SessionID    string `json:"session_id"`
	FromDeviceID string `json:"from_device_id"`
	ToDeviceID   string `json:"to_device_id"`
}

// HandoffResponse contains the transferred session.
type HandoffResponse struct {
	Session SessionInfo `json:"session"`
}

// ActivityInfo is the wire form of a group activity.
type ActivityInfo struct {
	ID            string         `json:"id"`
	Type          string         `json:"type"`
	State         string         `json:"state"`
	PersonaID     string         `json:"persona_id,omitempty"`
	DeviceIDs     []string       `json:"device_ids"`
	Scores        map[string]int `json:"scores"`
	NonResponsive []string       `json:"non_responsive,omitempty"`
	StartedAt     time.Time      `json:"started_at"`
}

// ActivityStartRequest launches a group activity.
type ActivityStartRequest struct {
	Type      string         `json:"type"`
	DeviceIDs []string       `json:"device_ids"`
	PersonaID string         `json:"persona_id,omitempty"`
	Config    map[string]any `json:"config,omitempty"`
}

// ActivityStartResponse contains the started activity.
type ActivityStartResponse struct {
	Activity ActivityInfo `json:"activity"`
}

// ActivityListRequest lists live activities.
type ActivityListRequest struct{}

// ActivityListResponse contains live activities.
type ActivityListResponse struct {
	Activities []ActivityInfo `json:"activities"`
}

// ActivityShowRequest fetches one live activity.
type ActivityShowRequest struct {
	ActivityID string `json:"activity_id"`
}

// ActivityShowResponse contains one activity.
type ActivityShowResponse struct {
	Activity ActivityInfo `json:"activity"`
}

// ActivityPauseRequest pauses an active activity.
type ActivityPauseRequest struct {
	ActivityID string `json:"activity_id"`
}

// ActivityPauseResponse contains the paused activity.
type ActivityPauseResponse struct {
	Activity ActivityInfo `json:"activity"`
}

// ActivityResumeRequest resumes a paused activity.
type ActivityResumeRequest struct {
	ActivityID string `json:"activity_id"`
}

// ActivityResumeResponse contains the resumed activity.
type ActivityResumeResponse struct {
	Activity ActivityInfo `json:"activity"`
}

// ActivityEndRequest ends an activity.
type ActivityEndRequest struct {
	ActivityID string `json:"activity_id"`
}

// ActivityEndResponse contains the final activity with scores.
type ActivityEndResponse struct {
	Activity ActivityInfo `json:"activity"`
}

// RoundRequest records one device's round score submission.
type RoundRequest struct {
	ActivityID string `json:"activity_id"`
	DeviceID   string `json:"device_id"`
	RoundID    string `json:"round_id"`
	Delta      int    `json:"delta"`
}

// RoundResponse reports whether the submission counted and the new score.
type RoundResponse struct {
	Applied bool `json:"applied"`
	Score   int  `json:"score"`
}

// SyncPlaybackRequest schedules synchronized playback.
type SyncPlaybackRequest struct {
	DeviceIDs     []string `json:"device_ids"`
	MediaRef      string   `json:"media_ref"`
	StartOffsetMS int64    `json:"start_offset_ms"`
}

// SyncPlaybackResponse returns the shared start instant.
type SyncPlaybackResponse struct {
	StartAt time.Time `json:"start_at"`
}

// AlertRequest broadcasts an emergency alert to all devices.
type AlertRequest struct {
	Message        string `json:"message"`
	SourceDeviceID string `json:"source_device_id,omitempty"`
}

// AlertResponse confirms the broadcast.
type AlertResponse struct {
	Sent bool `json:"sent"`
}

// SayRequest pushes a spoken response to one connected device.
type SayRequest struct {
	DeviceID string `json:"device_id"`
	Text     string `json:"text"`
	Priority string `json:"priority,omitempty"`
}

// SayResponse confirms delivery to the device's connection.
type SayResponse struct {
	Sent bool `json:"sent"`
}
