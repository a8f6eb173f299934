// Package session manages conversational session lifecycle. Each device
// holds at most one active session; starting a new one ends the prior
// session, and handoff moves a session between devices without losing
// history.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"ensemble/internal/bus"
	"ensemble/internal/logging"
	"ensemble/internal/store"
)

type (
	Session       = store.Session
	Turn          = store.Turn
	TurnRole      = store.TurnRole
	HandoffRecord = store.HandoffRecord
)

const defaultTTL = 24 * time.Hour

// Options tunes session lifecycle behavior.
type Options struct {
	// TTL is the sliding idle window after which a session expires.
	TTL time.Duration
}

// Manager creates, mutates, and ends sessions over the shared store.
type Manager struct {
	store  *store.Store
	bus    *bus.Bus
	logger *slog.Logger
	ttl    time.Duration
}

// NewManager constructs a session manager.
func NewManager(st *store.Store, eventBus *bus.Bus, opts Options, logger *slog.Logger) *Manager {
	ttl := opts.TTL
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &Manager{
		store:  st,
		bus:    eventBus,
		logger: logging.NewComponentLogger(logger, "session"),
		ttl:    ttl,
	}
}

// Create starts a new session bound to a device. Any session the device
// already owns is ended in the same transaction, so the device never holds
// two active sessions.
func (m *Manager) Create(ctx context.Context, deviceID, personaID, userID string) (*Session, error) {
	device, err := m.store.GetDevice(ctx, deviceID)
	if err != nil {
		return nil, err
	}
	if device == nil {
		return nil, fmt.Errorf("create session: device not found: %s", deviceID)
	}

	now := time.Now().UTC()
	session := &Session{
		ID:        "sess_" + uuid.NewString(),
		DeviceID:  deviceID,
		PersonaID: personaID,
		UserID:    userID,
		State:     store.SessionActive,
		Turns:     []Turn{},
		Handoffs:  []HandoffRecord{},
		CreatedAt: now,
		UpdatedAt: now,
		ExpiresAt: now.Add(m.ttl),
	}
	if err := m.store.InsertSession(ctx, session); err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}

	m.logger.Info("session started",
		logging.String(logging.FieldSessionID, session.ID),
		logging.String(logging.FieldDeviceID, deviceID),
		logging.String(logging.FieldPersonaID, personaID))
	m.bus.Publish(bus.NewEvent(bus.TypeSessionStart, deviceID, []string{deviceID}, map[string]any{
		"session_id": session.ID,
		"persona_id": personaID,
	}))
	return session, nil
}

// Get fetches a session, enforcing expiry on access. The first access past
// the TTL transitions the session to ended; that access and every later one
// fail with ExpiredError, never NotFoundError. Callers never observe a
// session past its expiry with a nil error.
func (m *Manager) Get(ctx context.Context, sessionID string) (*Session, error) {
	session, err := m.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if session == nil {
		return nil, &NotFoundError{SessionID: sessionID}
	}
	if session.Expired(time.Now().UTC()) {
		if session.State == store.SessionActive {
			if err := m.store.EndSession(ctx, sessionID); err != nil {
				return nil, fmt.Errorf("expire session: %w", err)
			}
			m.logger.Info("session expired on access",
				logging.String(logging.FieldSessionID, sessionID))
		}
		return nil, &ExpiredError{SessionID: sessionID}
	}
	return session, nil
}

// DeviceSession returns the active session bound to a device, or nil when
// the device has none.
func (m *Manager) DeviceSession(ctx context.Context, deviceID string) (*Session, error) {
	sessionID, err := m.store.DeviceSessionID(ctx, deviceID)
	if err != nil {
		return nil, err
	}
	if sessionID == "" {
		return nil, nil
	}
	session, err := m.Get(ctx, sessionID)
	var expired *ExpiredError
	if errors.As(err, &expired) {
		return nil, nil
	}
	return session, err
}

// AppendTurn records a conversation turn on an active session and extends
// its expiry. The turn is tagged with the session's current persona.
func (m *Manager) AppendTurn(ctx context.Context, sessionID string, role TurnRole, content string) (*Session, error) {
	session, err := m.activeSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	session.Turns = append(session.Turns, Turn{
		ID:        uuid.NewString(),
		Role:      role,
		Content:   content,
		PersonaID: session.PersonaID,
		Timestamp: now,
	})
	session.ExpiresAt = now.Add(m.ttl)
	if err := m.store.UpdateSession(ctx, session); err != nil {
		return nil, fmt.Errorf("append turn: %w", err)
	}
	return session, nil
}

// ReassignPersona repoints an active session at a new persona, for devices
// that switch persona mid-session. History is cleared unless preserveHistory
// is set; prior turns keep their original persona tag when preserved.
func (m *Manager) ReassignPersona(ctx context.Context, sessionID, personaID string, preserveHistory bool) (*Session, error) {
	session, err := m.activeSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	session.PersonaID = personaID
	if !preserveHistory {
		session.Turns = []Turn{}
	}
	if err := m.store.UpdateSession(ctx, session); err != nil {
		return nil, fmt.Errorf("reassign persona: %w", err)
	}
	m.logger.Info("session persona reassigned",
		logging.String(logging.FieldSessionID, sessionID),
		logging.String(logging.FieldPersonaID, personaID),
		logging.Bool("preserve_history", preserveHistory))
	return session, nil
}

// Handoff transfers an active session from one device to another. The
// transfer is atomic; on any failure the session stays bound to the source
// device.
func (m *Manager) Handoff(ctx context.Context, sessionID, fromDeviceID, toDeviceID string) (*Session, error) {
	if fromDeviceID == toDeviceID {
		return nil, &HandoffError{
			SessionID:    sessionID,
			FromDeviceID: fromDeviceID,
			ToDeviceID:   toDeviceID,
			Err:          errors.New("source and target device are the same"),
		}
	}

	target, err := m.store.GetDevice(ctx, toDeviceID)
	if err != nil {
		return nil, err
	}
	if target == nil {
		return nil, &HandoffError{
			SessionID:    sessionID,
			FromDeviceID: fromDeviceID,
			ToDeviceID:   toDeviceID,
			Err:          fmt.Errorf("target device not found: %s", toDeviceID),
		}
	}

	if _, err := m.activeSession(ctx, sessionID); err != nil {
		return nil, err
	}

	session, err := m.store.HandoffSession(ctx, sessionID, fromDeviceID, toDeviceID)
	if err != nil {
		return nil, &HandoffError{
			SessionID:    sessionID,
			FromDeviceID: fromDeviceID,
			ToDeviceID:   toDeviceID,
			Err:          err,
		}
	}
	if session == nil {
		return nil, &NotFoundError{SessionID: sessionID}
	}

	m.logger.Info("session handed off",
		logging.String(logging.FieldSessionID, sessionID),
		logging.String("from_device_id", fromDeviceID),
		logging.String("to_device_id", toDeviceID))
	m.bus.Publish(bus.NewEvent(bus.TypeSessionHandoff, fromDeviceID, []string{fromDeviceID, toDeviceID}, map[string]any{
		"session_id": sessionID,
		"from":       fromDeviceID,
		"to":         toDeviceID,
	}))
	return session, nil
}

// End terminates a session and unbinds it from its device. Ending an
// already ended session is a no-op.
func (m *Manager) End(ctx context.Context, sessionID string) error {
	session, err := m.store.GetSession(ctx, sessionID)
	if err != nil {
		return err
	}
	if session == nil {
		return &NotFoundError{SessionID: sessionID}
	}
	if session.State == store.SessionEnded {
		return nil
	}

	if err := m.store.EndSession(ctx, sessionID); err != nil {
		return fmt.Errorf("end session: %w", err)
	}
	m.logger.Info("session ended",
		logging.String(logging.FieldSessionID, sessionID),
		logging.String(logging.FieldDeviceID, session.DeviceID))
	m.bus.Publish(bus.NewEvent(bus.TypeSessionEnd, session.DeviceID, []string{session.DeviceID}, map[string]any{
		"session_id": sessionID,
		"turn_count": len(session.Turns),
	}))
	return nil
}

// SweepExpired ends every active session past its TTL. Expiry is enforced
// on access regardless; this reclaims sessions nobody touches.
func (m *Manager) SweepExpired(ctx context.Context) (int64, error) {
	swept, err := m.store.SweepExpiredSessions(ctx, time.Now().UTC())
	if err != nil {
		return 0, err
	}
	if swept > 0 {
		m.logger.Info("swept expired sessions", logging.Int64("count", swept))
	}
	return swept, nil
}

// TTL returns the configured session idle window.
func (m *Manager) TTL() time.Duration {
	return m.ttl
}

func (m *Manager) activeSession(ctx context.Context, sessionID string) (*Session, error) {
	session, err := m.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if session.State != store.SessionActive {
		return nil, fmt.Errorf("session %s is not active", sessionID)
	}
	return session, nil
}
