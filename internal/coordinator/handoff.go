package coordinator

import (
	"context"
	"log/slog"

	"ensemble/internal/bus"
	"ensemble/internal/logging"
	"ensemble/internal/session"
)

// HandoffCoordinator runs the three-step device handoff protocol: a prepare
// command to the source device, the atomic ownership transfer, and an accept
// command carrying the session to the target device.
type HandoffCoordinator struct {
	sessions *session.Manager
	bus      *bus.Bus
	logger   *slog.Logger
}

// NewHandoffCoordinator constructs a handoff coordinator.
func NewHandoffCoordinator(sessions *session.Manager, eventBus *bus.Bus, logger *slog.Logger) *HandoffCoordinator {
	return &HandoffCoordinator{
		sessions: sessions,
		bus:      eventBus,
		logger:   logging.NewComponentLogger(logger, "handoff"),
	}
}

// Initiate moves a session from one device to another. The source device is
// told to wind down first; if the transfer then fails the session stays
// where it was and no accept command is sent.
func (h *HandoffCoordinator) Initiate(ctx context.Context, sessionID, fromDeviceID, toDeviceID string) (*session.Session, error) {
	h.bus.Publish(bus.NewEvent(bus.TypeSessionHandoff, fromDeviceID, []string{fromDeviceID}, map[string]any{
		"phase":      "prepare",
		"session_id": sessionID,
		"to":         toDeviceID,
	}))

	transferred, err := h.sessions.Handoff(ctx, sessionID, fromDeviceID, toDeviceID)
	if err != nil {
		h.logger.Warn("handoff aborted",
			logging.Error(err),
			logging.String(logging.FieldSessionID, sessionID),
			logging.String("from_device_id", fromDeviceID),
			logging.String("to_device_id", toDeviceID))
		return nil, err
	}

	h.bus.Publish(bus.NewEvent(bus.TypeSessionHandoff, fromDeviceID, []string{toDeviceID}, map[string]any{
		"phase":      "accept",
		"session_id": sessionID,
		"persona_id": transferred.PersonaID,
		"turn_count": len(transferred.Turns),
	}))
	return transferred, nil
}
