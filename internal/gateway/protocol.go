package gateway

import (
	"time"

	"ensemble/internal/bus"
)

// Device-to-gateway message types.
const (
	msgHello       = "hello"
	msgHeartbeat   = "heartbeat"
	msgTextInput   = "text_input"
	msgButtonPress = "button_press"
	msgAck         = "ack"
)

// Gateway-to-device command types.
const (
	cmdPersonaSwitch = "persona_switch"
	cmdGroupStart    = "group_start"
	cmdGroupEnd      = "group_end"
	cmdSyncPlayback  = "sync_playback"
	cmdHandoff       = "handoff"
	cmdAudioResponse = "audio_response"
	cmdBroadcast     = "broadcast"
	cmdAlert         = "alert"
	cmdError         = "error"
	cmdAckOK         = "ok"
)

// clientMessage is one newline-framed JSON frame from a device.
type clientMessage struct {
	Type       string         `json:"type"`
	DeviceID   string         `json:"device_id,omitempty"`
	Token      string         `json:"token,omitempty"`
	Content    string         `json:"content,omitempty"`
	Button     string         `json:"button,omitempty"`
	ActivityID string         `json:"activity_id,omitempty"`
	Metrics    map[string]any `json:"metrics,omitempty"`
}

// serverMessage is one newline-framed JSON frame to a device. Priority is
// advisory; devices play high-priority commands ahead of queued audio.
type serverMessage struct {
	Type          string         `json:"type"`
	Payload       map[string]any `json:"payload,omitempty"`
	Priority      string         `json:"priority,omitempty"`
	CorrelationID string         `json:"correlation_id,omitempty"`
	Timestamp     time.Time      `json:"timestamp"`
}

// commandForEvent translates a bus event into the on-wire command a device
// understands. Returns false for event types devices do not consume.
func commandForEvent(event bus.Event) (serverMessage, bool) {
	msg := serverMessage{
		Payload:       event.Payload,
		CorrelationID: event.CorrelationID,
		Timestamp:     event.Timestamp,
	}
	switch event.Type {
	case bus.TypePersonaSwitch:
		msg.Type = cmdPersonaSwitch
	case bus.TypeGroupStart:
		msg.Type = cmdGroupStart
	case bus.TypeGroupEnd:
		msg.Type = cmdGroupEnd
	case bus.TypeSyncPlayback:
		msg.Type = cmdSyncPlayback
		msg.Priority = "high"
	case bus.TypeSessionHandoff:
		msg.Type = cmdHandoff
	case bus.TypeBroadcast:
		msg.Type = cmdBroadcast
	case bus.TypeEmergencyAlert:
		msg.Type = cmdAlert
		msg.Priority = "high"
	default:
		return serverMessage{}, false
	}
	return msg, true
}
