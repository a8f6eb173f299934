package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ErrSessionNotBound is returned by HandoffSession when the session is not
// currently bound to the expected source device. The transaction rolls back
// and no binding changes.
var ErrSessionNotBound = errors.New("session not bound to source device")

const sessionColumns = "id, device_id, persona_id, user_id, state, turns_json, handoffs_json, created_at, updated_at, expires_at"

// InsertSession persists a new session and binds it as the owning device's
// current session, ending any prior active session for that device in the
// same transaction (single-active-session invariant).
func (s *Store) InsertSession(ctx context.Context, session *Session) error {
	if session == nil {
		return errors.New("session is nil")
	}
	turnsJSON, handoffsJSON, err := marshalSessionBlobs(session)
	if err != nil {
		return err
	}
	now := formatTime(time.Now())

	return s.withTx(ctx, func(tx *sql.Tx) error {
		// End whatever session the device currently owns.
		if _, err := tx.ExecContext(
			ctx,
			`UPDATE sessions SET state = ?, updated_at = ?
             WHERE device_id = ? AND state = ?`,
			string(SessionEnded),
			now,
			session.DeviceID,
			string(SessionActive),
		); err != nil {
			return fmt.Errorf("end prior session: %w", err)
		}

		if _, err := tx.ExecContext(
			ctx,
			`INSERT INTO sessions (`+sessionColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			session.ID,
			session.DeviceID,
			session.PersonaID,
			nullableString(session.UserID),
			string(session.State),
			turnsJSON,
			handoffsJSON,
			formatTime(session.CreatedAt),
			formatTime(session.UpdatedAt),
			formatTime(session.ExpiresAt),
		); err != nil {
			return fmt.Errorf("insert session: %w", err)
		}

		if _, err := tx.ExecContext(
			ctx,
			`UPDATE devices SET active_session_id = ?, updated_at = ? WHERE id = ?`,
			session.ID,
			now,
			session.DeviceID,
		); err != nil {
			return fmt.Errorf("bind device session: %w", err)
		}
		return nil
	})
}

// GetSession fetches a session by identifier. Returns (nil, nil) when absent.
func (s *Store) GetSession(ctx context.Context, id string) (*Session, error) {
	row := s.db.QueryRowContext(ensureContext(ctx), `SELECT `+sessionColumns+` FROM sessions WHERE id = ?`, id)
	session, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	return session, nil
}

// DeviceSessionID returns the session id currently bound to a device, or
// empty when none is bound.
func (s *Store) DeviceSessionID(ctx context.Context, deviceID string) (string, error) {
	row := s.db.QueryRowContext(ensureContext(ctx), `SELECT active_session_id FROM devices WHERE id = ?`, deviceID)
	var sessionID sql.NullString
	if err := row.Scan(&sessionID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", nil
		}
		return "", fmt.Errorf("device session id: %w", err)
	}
	return sessionID.String, nil
}

// UpdateSession persists turn history, persona pointer, and expiry changes
// to an existing session.
func (s *Store) UpdateSession(ctx context.Context, session *Session) error {
	if session == nil {
		return errors.New("session is nil")
	}
	turnsJSON, handoffsJSON, err := marshalSessionBlobs(session)
	if err != nil {
		return err
	}
	session.UpdatedAt = time.Now().UTC()

	_, err = s.execWithRetry(
		ctx,
		`UPDATE sessions
         SET persona_id = ?, state = ?, turns_json = ?, handoffs_json = ?, updated_at = ?, expires_at = ?
         WHERE id = ?`,
		session.PersonaID,
		string(session.State),
		turnsJSON,
		handoffsJSON,
		formatTime(session.UpdatedAt),
		formatTime(session.ExpiresAt),
		session.ID,
	)
	if err != nil {
		return fmt.Errorf("update session: %w", err)
	}
	return nil
}

// EndSession marks a session ended and clears the owning device's binding
// in one transaction. Ending an already ended session is a no-op.
func (s *Store) EndSession(ctx context.Context, id string) error {
	now := formatTime(time.Now())
	return s.withTx(ctx, func(tx *sql.Tx) error {
		var deviceID string
		row := tx.QueryRowContext(ctx, `SELECT device_id FROM sessions WHERE id = ?`, id)
		if err := row.Scan(&deviceID); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil
			}
			return fmt.Errorf("resolve session device: %w", err)
		}

		if _, err := tx.ExecContext(
			ctx,
			`UPDATE sessions SET state = ?, updated_at = ?, expires_at = ? WHERE id = ?`,
			string(SessionEnded),
			now,
			now,
			id,
		); err != nil {
			return fmt.Errorf("end session: %w", err)
		}

		if _, err := tx.ExecContext(
			ctx,
			`UPDATE devices SET active_session_id = NULL, updated_at = ? WHERE id = ? AND active_session_id = ?`,
			now,
			deviceID,
			id,
		); err != nil {
			return fmt.Errorf("unbind device session: %w", err)
		}
		return nil
	})
}

// HandoffSession atomically transfers session ownership: it unbinds the
// source device, rewrites the owning device, appends the handoff record,
// and binds the target device — all inside one transaction so a failure at
// any step leaves the original binding intact.
func (s *Store) HandoffSession(ctx context.Context, sessionID, fromDeviceID, toDeviceID string) (*Session, error) {
	var result *Session
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		row := tx.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE id = ?`, sessionID)
		session, err := scanSession(row)
		if errors.Is(err, sql.ErrNoRows) {
			return sql.ErrNoRows
		}
		if err != nil {
			return fmt.Errorf("load session: %w", err)
		}
		if session.DeviceID != fromDeviceID {
			return ErrSessionNotBound
		}

		now := time.Now().UTC()
		session.DeviceID = toDeviceID
		session.UpdatedAt = now
		session.Handoffs = append(session.Handoffs, HandoffRecord{
			FromDeviceID: fromDeviceID,
			ToDeviceID:   toDeviceID,
			At:           now,
		})
		turnsJSON, handoffsJSON, err := marshalSessionBlobs(session)
		if err != nil {
			return err
		}

		res, err := tx.ExecContext(
			ctx,
			`UPDATE devices SET active_session_id = NULL, updated_at = ? WHERE id = ? AND active_session_id = ?`,
			formatTime(now),
			fromDeviceID,
			sessionID,
		)
		if err != nil {
			return fmt.Errorf("unbind source device: %w", err)
		}
		if affected, err := res.RowsAffected(); err != nil {
			return err
		} else if affected == 0 {
			return ErrSessionNotBound
		}

		if _, err := tx.ExecContext(
			ctx,
			`UPDATE sessions SET device_id = ?, handoffs_json = ?, turns_json = ?, updated_at = ? WHERE id = ?`,
			toDeviceID,
			handoffsJSON,
			turnsJSON,
			formatTime(now),
			sessionID,
		); err != nil {
			return fmt.Errorf("rewrite session owner: %w", err)
		}

		if _, err := tx.ExecContext(
			ctx,
			`UPDATE devices SET active_session_id = ?, updated_at = ? WHERE id = ?`,
			sessionID,
			formatTime(now),
			toDeviceID,
		); err != nil {
			return fmt.Errorf("bind target device: %w", err)
		}

		result = session
		return nil
	})
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return result, nil
}

// SweepExpiredSessions transitions active sessions past their expiry to
// ended and clears any device bindings pointing at them. Cleanup only;
// expiry is enforced on access regardless of this sweep.
func (s *Store) SweepExpiredSessions(ctx context.Context, now time.Time) (int64, error) {
	var swept int64
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		cutoff := formatTime(now)
		res, err := tx.ExecContext(
			ctx,
			`UPDATE sessions SET state = ?, updated_at = ? WHERE state = ? AND expires_at < ?`,
			string(SessionEnded),
			cutoff,
			string(SessionActive),
			cutoff,
		)
		if err != nil {
			return fmt.Errorf("sweep expired sessions: %w", err)
		}
		swept, err = res.RowsAffected()
		if err != nil {
			return err
		}

		if _, err := tx.ExecContext(
			ctx,
			`UPDATE devices SET active_session_id = NULL, updated_at = ?
             WHERE active_session_id IN (SELECT id FROM sessions WHERE state = ?)`,
			cutoff,
			string(SessionEnded),
		); err != nil {
			return fmt.Errorf("unbind swept sessions: %w", err)
		}
		return nil
	})
	return swept, err
}

func marshalSessionBlobs(session *Session) (turnsJSON, handoffsJSON string, err error) {
	turns := session.Turns
	if turns == nil {
		turns = []Turn{}
	}
	handoffs := session.Handoffs
	if handoffs == nil {
		handoffs = []HandoffRecord{}
	}
	turnsRaw, err := json.Marshal(turns)
	if err != nil {
		return "", "", fmt.Errorf("marshal turns: %w", err)
	}
	handoffsRaw, err := json.Marshal(handoffs)
	if err != nil {
		return "", "", fmt.Errorf("marshal handoffs: %w", err)
	}
	return string(turnsRaw), string(handoffsRaw), nil
}

func scanSession(scanner interface{ Scan(dest ...any) error }) (*Session, error) {
	var (
		id           string
		deviceID     string
		personaID    string
		userID       sql.NullString
		stateStr     string
		turnsJSON    string
		handoffsJSON string
		createdRaw   string
		updatedRaw   string
		expiresRaw   string
	)

	if err := scanner.Scan(
		&id,
		&deviceID,
		&personaID,
		&userID,
		&stateStr,
		&turnsJSON,
		&handoffsJSON,
		&createdRaw,
		&updatedRaw,
		&expiresRaw,
	); err != nil {
		return nil, err
	}

	session := &Session{
		ID:        id,
		DeviceID:  deviceID,
		PersonaID: personaID,
		UserID:    userID.String,
		State:     SessionState(stateStr),
	}
	if err := json.Unmarshal([]byte(turnsJSON), &session.Turns); err != nil {
		return nil, fmt.Errorf("unmarshal turns: %w", err)
	}
	if err := json.Unmarshal([]byte(handoffsJSON), &session.Handoffs); err != nil {
		return nil, fmt.Errorf("unmarshal handoffs: %w", err)
	}
	if created, err := parseTimeString(createdRaw); err == nil {
		session.CreatedAt = created
	}
	if updated, err := parseTimeString(updatedRaw); err == nil {
		session.UpdatedAt = updated
	}
	if expires, err := parseTimeString(expiresRaw); err == nil {
		session.ExpiresAt = expires
	}
	return session, nil
}
