package store_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"ensemble/internal/store"
	"ensemble/internal/testsupport"
)

func TestDeviceRoundTrip(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	device := testsupport.NewDevice(t, st, "dev-1", "Kitchen Speaker")

	fetched, err := st.GetDevice(ctx, device.ID)
	if err != nil {
		t.Fatalf("GetDevice failed: %v", err)
	}
	if fetched == nil || fetched.Name != "Kitchen Speaker" {
		t.Fatalf("unexpected device: %#v", fetched)
	}
	if !fetched.Capabilities.AudioInput || !fetched.Capabilities.AudioOutput {
		t.Fatalf("capabilities not preserved: %#v", fetched.Capabilities)
	}

	missing, err := st.GetDevice(ctx, "dev-none")
	if err != nil {
		t.Fatalf("GetDevice for missing id failed: %v", err)
	}
	if missing != nil {
		t.Fatalf("expected nil for unknown device, got %#v", missing)
	}
}

func TestListDevicesFiltersByGroup(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	a := testsupport.NewDevice(t, st, "dev-a", "A")
	b := &store.Device{ID: "dev-b", Name: "B", Type: store.DeviceTablet, Status: store.DeviceOffline, GroupID: "living-room"}
	if err := st.InsertDevice(ctx, b); err != nil {
		t.Fatalf("InsertDevice: %v", err)
	}

	all, err := st.ListDevices(ctx, "")
	if err != nil {
		t.Fatalf("ListDevices: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("expected 2 devices, got %d", len(all))
	}

	grouped, err := st.ListDevices(ctx, "living-room")
	if err != nil {
		t.Fatalf("ListDevices by group: %v", err)
	}
	if len(grouped) != 1 || grouped[0].ID != "dev-b" {
		t.Fatalf("unexpected group result: %#v", grouped)
	}
	_ = a
}

func TestSetActivePersonaIdempotent(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	testsupport.NewDevice(t, st, "dev-1", "Speaker")

	changed, found, err := st.SetActivePersona(ctx, "dev-1", "companion")
	if err != nil {
		t.Fatalf("SetActivePersona: %v", err)
	}
	if !changed || !found {
		t.Fatalf("expected first switch to change pointer, changed=%v found=%v", changed, found)
	}

	changed, found, err = st.SetActivePersona(ctx, "dev-1", "companion")
	if err != nil {
		t.Fatalf("SetActivePersona retry: %v", err)
	}
	if changed || !found {
		t.Fatalf("expected retried switch to be a no-op, changed=%v found=%v", changed, found)
	}

	_, found, err = st.SetActivePersona(ctx, "dev-missing", "companion")
	if err != nil {
		t.Fatalf("SetActivePersona missing device: %v", err)
	}
	if found {
		t.Fatal("expected found=false for unknown device")
	}
}

func TestInsertSessionEndsPriorActive(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	testsupport.NewDevice(t, st, "dev-1", "Speaker")
	first := testsupport.NewSession(t, st, "sess-1", "dev-1", "companion")
	second := testsupport.NewSession(t, st, "sess-2", "dev-1", "companion")

	prior, err := st.GetSession(ctx, first.ID)
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if prior.State != store.SessionEnded {
		t.Fatalf("expected prior session ended, got %s", prior.State)
	}

	boundID, err := st.DeviceSessionID(ctx, "dev-1")
	if err != nil {
		t.Fatalf("DeviceSessionID: %v", err)
	}
	if boundID != second.ID {
		t.Fatalf("expected device bound to %s, got %s", second.ID, boundID)
	}
}

func TestHandoffSessionMovesBinding(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	testsupport.NewDevice(t, st, "dev-src", "Source")
	testsupport.NewDevice(t, st, "dev-dst", "Target")
	testsupport.NewSession(t, st, "sess-1", "dev-src", "companion")

	moved, err := st.HandoffSession(ctx, "sess-1", "dev-src", "dev-dst")
	if err != nil {
		t.Fatalf("HandoffSession: %v", err)
	}
	if moved.DeviceID != "dev-dst" {
		t.Fatalf("expected session on dev-dst, got %s", moved.DeviceID)
	}
	if len(moved.Handoffs) != 1 || moved.Handoffs[0].FromDeviceID != "dev-src" || moved.Handoffs[0].ToDeviceID != "dev-dst" {
		t.Fatalf("unexpected handoff history: %#v", moved.Handoffs)
	}

	srcBound, err := st.DeviceSessionID(ctx, "dev-src")
	if err != nil {
		t.Fatalf("DeviceSessionID src: %v", err)
	}
	if srcBound != "" {
		t.Fatalf("expected source unbound, got %q", srcBound)
	}
	dstBound, err := st.DeviceSessionID(ctx, "dev-dst")
	if err != nil {
		t.Fatalf("DeviceSessionID dst: %v", err)
	}
	if dstBound != "sess-1" {
		t.Fatalf("expected target bound to sess-1, got %q", dstBound)
	}
}

func TestHandoffSessionWrongSourceLeavesBinding(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	testsupport.NewDevice(t, st, "dev-src", "Source")
	testsupport.NewDevice(t, st, "dev-dst", "Target")
	testsupport.NewSession(t, st, "sess-1", "dev-src", "companion")

	_, err := st.HandoffSession(ctx, "sess-1", "dev-other", "dev-dst")
	if !errors.Is(err, store.ErrSessionNotBound) {
		t.Fatalf("expected ErrSessionNotBound, got %v", err)
	}

	// The failed transfer must not disturb the existing binding.
	bound, err := st.DeviceSessionID(ctx, "dev-src")
	if err != nil {
		t.Fatalf("DeviceSessionID: %v", err)
	}
	if bound != "sess-1" {
		t.Fatalf("expected source still bound to sess-1, got %q", bound)
	}
	session, err := st.GetSession(ctx, "sess-1")
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if session.DeviceID != "dev-src" || len(session.Handoffs) != 0 {
		t.Fatalf("session mutated by failed handoff: %#v", session)
	}
}

func TestHandoffSessionUnknownSession(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)

	moved, err := st.HandoffSession(context.Background(), "sess-none", "dev-a", "dev-b")
	if err != nil {
		t.Fatalf("HandoffSession: %v", err)
	}
	if moved != nil {
		t.Fatalf("expected nil for unknown session, got %#v", moved)
	}
}

func TestSweepExpiredSessions(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	testsupport.NewDevice(t, st, "dev-1", "Speaker")
	session := testsupport.NewSession(t, st, "sess-1", "dev-1", "companion")
	session.ExpiresAt = time.Now().UTC().Add(-time.Minute)
	if err := st.UpdateSession(ctx, session); err != nil {
		t.Fatalf("UpdateSession: %v", err)
	}

	swept, err := st.SweepExpiredSessions(ctx, time.Now().UTC())
	if err != nil {
		t.Fatalf("SweepExpiredSessions: %v", err)
	}
	if swept != 1 {
		t.Fatalf("expected 1 swept session, got %d", swept)
	}

	after, err := st.GetSession(ctx, "sess-1")
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if after.State != store.SessionEnded {
		t.Fatalf("expected swept session ended, got %s", after.State)
	}
	bound, err := st.DeviceSessionID(ctx, "dev-1")
	if err != nil {
		t.Fatalf("DeviceSessionID: %v", err)
	}
	if bound != "" {
		t.Fatalf("expected device unbound after sweep, got %q", bound)
	}
}

func TestPersonaCacheExpiry(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	if err := st.PersonaCachePut(ctx, "companion", `{"id":"companion"}`, time.Hour); err != nil {
		t.Fatalf("PersonaCachePut: %v", err)
	}
	entry, err := st.PersonaCacheGet(ctx, "companion")
	if err != nil {
		t.Fatalf("PersonaCacheGet: %v", err)
	}
	if entry == nil || entry.BundleJSON != `{"id":"companion"}` {
		t.Fatalf("unexpected cache entry: %#v", entry)
	}

	if err := st.PersonaCachePut(ctx, "stale", `{"id":"stale"}`, -time.Minute); err != nil {
		t.Fatalf("PersonaCachePut stale: %v", err)
	}
	stale, err := st.PersonaCacheGet(ctx, "stale")
	if err != nil {
		t.Fatalf("PersonaCacheGet stale: %v", err)
	}
	if stale != nil {
		t.Fatalf("expected stale entry purged, got %#v", stale)
	}
}
