package testsupport

import (
	"context"
	"testing"
	"time"

	"ensemble/internal/config"
	"ensemble/internal/store"
)

// MustOpenStore opens a store for tests and registers cleanup.
func MustOpenStore(t testing.TB, cfg *config.Config) *store.Store {
	t.Helper()

	st, err := store.Open(context.Background(), cfg.DatabasePath())
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() {
		st.Close()
	})
	return st
}

// NewDevice inserts a device row for tests and returns it.
func NewDevice(t testing.TB, st *store.Store, id, name string) *store.Device {
	t.Helper()

	device := &store.Device{
		ID:     id,
		Name:   name,
		Type:   store.DeviceSpeaker,
		Status: store.DeviceOnline,
		Capabilities: store.Capabilities{
			AudioInput:  true,
			AudioOutput: true,
		},
	}
	if err := st.InsertDevice(context.Background(), device); err != nil {
		t.Fatalf("store.InsertDevice: %v", err)
	}
	return device
}

// NewSession inserts an active session bound to a device and returns it.
func NewSession(t testing.TB, st *store.Store, id, deviceID, personaID string) *store.Session {
	t.Helper()

	now := time.Now().UTC()
	session := &store.Session{
		ID:        id,
		DeviceID:  deviceID,
		PersonaID: personaID,
		State:     store.SessionActive,
		CreatedAt: now,
		UpdatedAt: now,
		ExpiresAt: now.Add(24 * time.Hour),
	}
	if err := st.InsertSession(context.Background(), session); err != nil {
		t.Fatalf("store.InsertSession: %v", err)
	}
	return session
}
