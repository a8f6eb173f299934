package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

const deviceColumns = "id, name, type, status, group_id, location, capabilities_json, active_persona_id, active_session_id, token_hash, last_heartbeat, registered_at, updated_at"

// InsertDevice persists a newly registered device.
func (s *Store) InsertDevice(ctx context.Context, device *Device) error {
	if device == nil {
		return errors.New("device is nil")
	}
	capabilitiesJSON, err := json.Marshal(device.Capabilities)
	if err != nil {
		return fmt.Errorf("marshal capabilities: %w", err)
	}
	now := time.Now().UTC()
	device.RegisteredAt = now
	device.UpdatedAt = now

	_, err = s.execWithRetry(
		ctx,
		`INSERT INTO devices (`+deviceColumns+`)
         VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		device.ID,
		device.Name,
		string(device.Type),
		string(device.Status),
		nullableString(device.GroupID),
		nullableString(device.Location),
		string(capabilitiesJSON),
		nullableString(device.ActivePersonaID),
		nullableString(device.ActiveSessionID),
		nullableString(device.TokenHash),
		nullableTime(device.LastHeartbeat),
		formatTime(device.RegisteredAt),
		formatTime(device.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("insert device: %w", err)
	}
	return nil
}

// GetDevice fetches a device by identifier. Returns (nil, nil) when absent.
func (s *Store) GetDevice(ctx context.Context, id string) (*Device, error) {
	row := s.db.QueryRowContext(ensureContext(ctx), `SELECT `+deviceColumns+` FROM devices WHERE id = ?`, id)
	device, err := scanDevice(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get device: %w", err)
	}
	return device, nil
}

// ListDevices returns devices ordered by registration time, optionally
// filtered by group.
func (s *Store) ListDevices(ctx context.Context, groupID string) ([]*Device, error) {
	var (
		rows *sql.Rows
		err  error
	)
	if groupID == "" {
		rows, err = s.db.QueryContext(ensureContext(ctx), `SELECT `+deviceColumns+` FROM devices ORDER BY registered_at`)
	} else {
		rows, err = s.db.QueryContext(ensureContext(ctx), `SELECT `+deviceColumns+` FROM devices WHERE group_id = ? ORDER BY registered_at`, groupID)
	}
	if err != nil {
		return nil, fmt.Errorf("list devices: %w", err)
	}
	defer rows.Close()

	var devices []*Device
	for rows.Next() {
		device, err := scanDevice(rows)
		if err != nil {
			return nil, err
		}
		devices = append(devices, device)
	}
	return devices, rows.Err()
}

// UpdateDeviceStatus writes a device's connectivity status and heartbeat
// timestamp in one statement. Returns false when the device does not exist.
func (s *Store) UpdateDeviceStatus(ctx context.Context, id string, status DeviceStatus, heartbeat *time.Time) (bool, error) {
	res, err := s.execWithRetry(
		ctx,
		`UPDATE devices SET status = ?, last_heartbeat = COALESCE(?, last_heartbeat), updated_at = ? WHERE id = ?`,
		string(status),
		nullableTime(heartbeat),
		formatTime(time.Now()),
		id,
	)
	if err != nil {
		return false, fmt.Errorf("update device status: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return affected > 0, nil
}

// SetActivePersona atomically repoints a device's active persona. The
// returned changed flag is false when the pointer already held the target,
// letting callers treat retried switches as idempotent. found reports
// whether the device row exists at all.
func (s *Store) SetActivePersona(ctx context.Context, deviceID, personaID string) (changed, found bool, err error) {
	res, err := s.execWithRetry(
		ctx,
		`UPDATE devices SET active_persona_id = ?, updated_at = ?
         WHERE id = ? AND (active_persona_id IS NULL OR active_persona_id != ?)`,
		personaID,
		formatTime(time.Now()),
		deviceID,
		personaID,
	)
	if err != nil {
		return false, false, fmt.Errorf("set active persona: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, false, fmt.Errorf("rows affected: %w", err)
	}
	if affected > 0 {
		return true, true, nil
	}

	device, err := s.GetDevice(ctx, deviceID)
	if err != nil {
		return false, false, err
	}
	return false, device != nil, nil
}

// StaleDevices returns online or busy devices whose last heartbeat is older
// than the cutoff.
func (s *Store) StaleDevices(ctx context.Context, cutoff time.Time) ([]*Device, error) {
	rows, err := s.db.QueryContext(
		ensureContext(ctx),
		`SELECT `+deviceColumns+` FROM devices
         WHERE status IN (?, ?) AND (last_heartbeat IS NULL OR last_heartbeat < ?)`,
		string(DeviceOnline),
		string(DeviceBusy),
		formatTime(cutoff),
	)
	if err != nil {
		return nil, fmt.Errorf("stale devices: %w", err)
	}
	defer rows.Close()

	var devices []*Device
	for rows.Next() {
		device, err := scanDevice(rows)
		if err != nil {
			return nil, err
		}
		devices = append(devices, device)
	}
	return devices, rows.Err()
}

func scanDevice(scanner interface{ Scan(dest ...any) error }) (*Device, error) {
	var (
		id               string
		name             string
		typeStr          string
		statusStr        string
		groupID          sql.NullString
		location         sql.NullString
		capabilitiesJSON sql.NullString
		activePersonaID  sql.NullString
		activeSessionID  sql.NullString
		tokenHash        sql.NullString
		lastHeartbeatRaw sql.NullString
		registeredRaw    string
		updatedRaw       string
	)

	if err := scanner.Scan(
		&id,
		&name,
		&typeStr,
		&statusStr,
		&groupID,
		&location,
		&capabilitiesJSON,
		&activePersonaID,
		&activeSessionID,
		&tokenHash,
		&lastHeartbeatRaw,
		&registeredRaw,
		&updatedRaw,
	); err != nil {
		return nil, err
	}

	device := &Device{
		ID:              id,
		Name:            name,
		Type:            DeviceType(typeStr),
		Status:          DeviceStatus(statusStr),
		GroupID:         groupID.String,
		Location:        location.String,
		ActivePersonaID: activePersonaID.String,
		ActiveSessionID: activeSessionID.String,
		TokenHash:       tokenHash.String,
	}
	if capabilitiesJSON.Valid && capabilitiesJSON.String != "" {
		if err := json.Unmarshal([]byte(capabilitiesJSON.String), &device.Capabilities); err != nil {
			return nil, fmt.Errorf("unmarshal capabilities: %w", err)
		}
	}
	if lastHeartbeatRaw.Valid {
		if heartbeat, err := parseTimeString(lastHeartbeatRaw.String); err == nil {
			device.LastHeartbeat = &heartbeat
		}
	}
	if registered, err := parseTimeString(registeredRaw); err == nil {
		device.RegisteredAt = registered
	}
	if updated, err := parseTimeString(updatedRaw); err == nil {
		device.UpdatedAt = updated
	}
	return device, nil
}
