package session_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"ensemble/internal/bus"
	"ensemble/internal/session"
	"ensemble/internal/store"
	"ensemble/internal/testsupport"
)

func newManager(t *testing.T, opts session.Options) (*session.Manager, *store.Store, *bus.Bus) {
	t.Helper()

	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	eventBus := bus.New(bus.Options{}, nil)
	t.Cleanup(eventBus.Close)
	return session.NewManager(st, eventBus, opts, nil), st, eventBus
}

func TestCreateReplacesActiveSession(t *testing.T) {
	manager, st, _ := newManager(t, session.Options{})
	ctx := context.Background()
	testsupport.NewDevice(t, st, "dev-1", "Speaker")

	first, err := manager.Create(ctx, "dev-1", "companion", "user-1")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	second, err := manager.Create(ctx, "dev-1", "storyteller", "user-1")
	if err != nil {
		t.Fatalf("Create second: %v", err)
	}

	prior, err := manager.Get(ctx, first.ID)
	if err != nil {
		t.Fatalf("Get prior: %v", err)
	}
	if prior.State != store.SessionEnded {
		t.Fatalf("expected prior session ended, got %s", prior.State)
	}

	active, err := manager.DeviceSession(ctx, "dev-1")
	if err != nil {
		t.Fatalf("DeviceSession: %v", err)
	}
	if active == nil || active.ID != second.ID {
		t.Fatalf("unexpected active session: %#v", active)
	}
}

func TestCreateUnknownDevice(t *testing.T) {
	manager, _, _ := newManager(t, session.Options{})

	if _, err := manager.Create(context.Background(), "dev-ghost", "companion", ""); err == nil {
		t.Fatal("expected error for unknown device")
	}
}

func TestGetExpiresLazily(t *testing.T) {
	manager, st, _ := newManager(t, session.Options{})
	ctx := context.Background()
	testsupport.NewDevice(t, st, "dev-1", "Speaker")

	created, err := manager.Create(ctx, "dev-1", "companion", "")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	created.ExpiresAt = time.Now().UTC().Add(-time.Minute)
	if err := st.UpdateSession(ctx, created); err != nil {
		t.Fatalf("UpdateSession: %v", err)
	}

	_, err = manager.Get(ctx, created.ID)
	var expired *session.ExpiredError
	if !errors.As(err, &expired) {
		t.Fatalf("expected ExpiredError, got %v", err)
	}

	// Expiry is sticky: the session is ended once, then every later access
	// keeps failing with ExpiredError rather than returning the ended row.
	for i := 0; i < 2; i++ {
		_, err = manager.Get(ctx, created.ID)
		if !errors.As(err, &expired) {
			t.Fatalf("access %d after expiry: expected ExpiredError, got %v", i+2, err)
		}
	}
	stored, err := st.GetSession(ctx, created.ID)
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if stored.State != store.SessionEnded {
		t.Fatalf("expected ended session, got %s", stored.State)
	}

	active, err := manager.DeviceSession(ctx, "dev-1")
	if err != nil {
		t.Fatalf("DeviceSession: %v", err)
	}
	if active != nil {
		t.Fatalf("expected no active session, got %#v", active)
	}
}

func TestGetNotFound(t *testing.T) {
	manager, _, _ := newManager(t, session.Options{})

	_, err := manager.Get(context.Background(), "sess-ghost")
	var notFound *session.NotFoundError
	if !errors.As(err, &notFound) {
		t.Fatalf("expected NotFoundError, got %v", err)
	}
}

func TestAppendTurnTagsPersonaAndExtendsTTL(t *testing.T) {
	manager, st, _ := newManager(t, session.Options{TTL: time.Hour})
	ctx := context.Background()
	testsupport.NewDevice(t, st, "dev-1", "Speaker")

	created, err := manager.Create(ctx, "dev-1", "companion", "")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	// Shrink the window so the extension is observable.
	created.ExpiresAt = time.Now().UTC().Add(time.Minute)
	if err := st.UpdateSession(ctx, created); err != nil {
		t.Fatalf("UpdateSession: %v", err)
	}

	updated, err := manager.AppendTurn(ctx, created.ID, store.RoleUser, "hello there")
	if err != nil {
		t.Fatalf("AppendTurn: %v", err)
	}
	if len(updated.Turns) != 1 {
		t.Fatalf("expected 1 turn, got %d", len(updated.Turns))
	}
	turn := updated.Turns[0]
	if turn.Role != store.RoleUser || turn.Content != "hello there" || turn.PersonaID != "companion" {
		t.Fatalf("unexpected turn: %#v", turn)
	}
	if until := time.Until(updated.ExpiresAt); until < 50*time.Minute {
		t.Fatalf("expiry not extended, %v remaining", until)
	}
}

func TestReassignPersona(t *testing.T) {
	manager, st, _ := newManager(t, session.Options{})
	ctx := context.Background()
	testsupport.NewDevice(t, st, "dev-1", "Speaker")

	created, err := manager.Create(ctx, "dev-1", "companion", "")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := manager.AppendTurn(ctx, created.ID, store.RoleUser, "hi"); err != nil {
		t.Fatalf("AppendTurn: %v", err)
	}

	preserved, err := manager.ReassignPersona(ctx, created.ID, "storyteller", true)
	if err != nil {
		t.Fatalf("ReassignPersona preserve: %v", err)
	}
	if preserved.PersonaID != "storyteller" || len(preserved.Turns) != 1 {
		t.Fatalf("unexpected session: %#v", preserved)
	}
	// Prior turns keep the persona they were produced under.
	if preserved.Turns[0].PersonaID != "companion" {
		t.Fatalf("turn persona tag rewritten: %#v", preserved.Turns[0])
	}

	cleared, err := manager.ReassignPersona(ctx, created.ID, "tutor", false)
	if err != nil {
		t.Fatalf("ReassignPersona clear: %v", err)
	}
	if cleared.PersonaID != "tutor" || len(cleared.Turns) != 0 {
		t.Fatalf("expected history cleared: %#v", cleared)
	}
}

func TestHandoffMovesSession(t *testing.T) {
	manager, st, eventBus := newManager(t, session.Options{})
	ctx := context.Background()
	testsupport.NewDevice(t, st, "dev-src", "Source")
	testsupport.NewDevice(t, st, "dev-dst", "Target")

	created, err := manager.Create(ctx, "dev-src", "companion", "")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := manager.AppendTurn(ctx, created.ID, store.RoleUser, "hi"); err != nil {
		t.Fatalf("AppendTurn: %v", err)
	}

	events := eventBus.Subscribe("dev-dst")
	moved, err := manager.Handoff(ctx, created.ID, "dev-src", "dev-dst")
	if err != nil {
		t.Fatalf("Handoff: %v", err)
	}
	if moved.DeviceID != "dev-dst" || len(moved.Turns) != 1 {
		t.Fatalf("unexpected session after handoff: %#v", moved)
	}
	if len(moved.Handoffs) != 1 || moved.Handoffs[0].FromDeviceID != "dev-src" {
		t.Fatalf("unexpected handoff history: %#v", moved.Handoffs)
	}

	select {
	case event := <-events:
		if event.Type != bus.TypeSessionHandoff {
			t.Fatalf("unexpected event type %s", event.Type)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("handoff event never published")
	}
}

func TestHandoffFailureLeavesBinding(t *testing.T) {
	manager, st, _ := newManager(t, session.Options{})
	ctx := context.Background()
	testsupport.NewDevice(t, st, "dev-src", "Source")
	testsupport.NewDevice(t, st, "dev-dst", "Target")

	created, err := manager.Create(ctx, "dev-src", "companion", "")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	var handoffErr *session.HandoffError
	if _, err := manager.Handoff(ctx, created.ID, "dev-src", "dev-src"); !errors.As(err, &handoffErr) {
		t.Fatalf("expected HandoffError for same-device transfer, got %v", err)
	}
	if _, err := manager.Handoff(ctx, created.ID, "dev-src", "dev-ghost"); !errors.As(err, &handoffErr) {
		t.Fatalf("expected HandoffError for unknown target, got %v", err)
	}
	if _, err := manager.Handoff(ctx, created.ID, "dev-dst", "dev-src"); !errors.As(err, &handoffErr) {
		t.Fatalf("expected HandoffError for wrong source, got %v", err)
	}
	if !errors.Is(handoffErr, store.ErrSessionNotBound) {
		t.Fatalf("expected wrapped ErrSessionNotBound, got %v", handoffErr)
	}

	active, err := manager.DeviceSession(ctx, "dev-src")
	if err != nil {
		t.Fatalf("DeviceSession: %v", err)
	}
	if active == nil || active.ID != created.ID {
		t.Fatalf("source binding disturbed: %#v", active)
	}
}

func TestEndIdempotent(t *testing.T) {
	manager, st, _ := newManager(t, session.Options{})
	ctx := context.Background()
	testsupport.NewDevice(t, st, "dev-1", "Speaker")

	created, err := manager.Create(ctx, "dev-1", "companion", "")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	if err := manager.End(ctx, created.ID); err != nil {
		t.Fatalf("End: %v", err)
	}
	if err := manager.End(ctx, created.ID); err != nil {
		t.Fatalf("End retry: %v", err)
	}

	var notFound *session.NotFoundError
	if err := manager.End(ctx, "sess-ghost"); !errors.As(err, &notFound) {
		t.Fatalf("expected NotFoundError, got %v", err)
	}
}

func TestSweepExpired(t *testing.T) {
	manager, st, _ := newManager(t, session.Options{})
	ctx := context.Background()
	testsupport.NewDevice(t, st, "dev-1", "Speaker")

	created, err := manager.Create(ctx, "dev-1", "companion", "")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	created.ExpiresAt = time.Now().UTC().Add(-time.Minute)
	if err := st.UpdateSession(ctx, created); err != nil {
		t.Fatalf("UpdateSession: %v", err)
	}

	swept, err := manager.SweepExpired(ctx)
	if err != nil {
		t.Fatalf("SweepExpired: %v", err)
	}
	if swept != 1 {
		t.Fatalf("expected 1 swept, got %d", swept)
	}
}
