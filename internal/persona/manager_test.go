package persona_test

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync/atomic"
	"testing"
	"time"

	"ensemble/internal/bus"
	"ensemble/internal/persona"
	"ensemble/internal/testsupport"
)

// fakeSource serves bundles from memory and counts fetches so tests can
// observe which cache tier answered.
type fakeSource struct {
	bundles map[string][]byte
	fetches atomic.Int64
	delay   time.Duration
}

func (s *fakeSource) Fetch(_ context.Context, personaID string) ([]byte, error) {
	s.fetches.Add(1)
	if s.delay > 0 {
		time.Sleep(s.delay)
	}
	raw, ok := s.bundles[personaID]
	if !ok {
		return nil, persona.ErrBundleNotFound
	}
	return raw, nil
}

func (s *fakeSource) List(_ context.Context) ([]string, error) {
	ids := make([]string, 0, len(s.bundles))
	for id := range s.bundles {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

func bundleJSON(id string) []byte {
	return fmt.Appendf(nil, `{
  "id": %q,
  "name": "Persona %s",
  "version": "1.0.0",
  "triggers": {"types": ["button", "manual"]},
  "voice": {"voice_id": "voice-%s"},
  "system_prompt": "You are %s."
}`, id, id, id, id)
}

func newManagerFixture(t *testing.T, opts persona.Options, ids ...string) (*persona.Manager, *fakeSource, *bus.Bus) {
	t.Helper()

	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	testsupport.NewDevice(t, st, "dev-1", "Speaker")

	eventBus := bus.New(bus.Options{}, nil)
	t.Cleanup(eventBus.Close)

	source := &fakeSource{bundles: make(map[string][]byte)}
	for _, id := range ids {
		source.bundles[id] = bundleJSON(id)
	}
	return persona.NewManager(source, st, eventBus, nil, opts), source, eventBus
}

func TestLoadCachesAfterFirstFetch(t *testing.T) {
	manager, source, _ := newManagerFixture(t, persona.Options{}, "companion")
	ctx := context.Background()

	first, err := manager.Load(ctx, "companion")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if first.ID != "companion" {
		t.Fatalf("unexpected persona: %#v", first)
	}

	second, err := manager.Load(ctx, "companion")
	if err != nil {
		t.Fatalf("Load again: %v", err)
	}
	if second != first {
		t.Fatal("expected the cached persona instance")
	}
	if got := source.fetches.Load(); got != 1 {
		t.Fatalf("expected one source fetch, got %d", got)
	}
}

func TestLoadNotFound(t *testing.T) {
	manager, _, _ := newManagerFixture(t, persona.Options{})

	_, err := manager.Load(context.Background(), "ghost")
	var notFound *persona.NotFoundError
	if !errors.As(err, &notFound) {
		t.Fatalf("expected NotFoundError, got %v", err)
	}
	if notFound.PersonaID != "ghost" {
		t.Fatalf("unexpected persona id in error: %s", notFound.PersonaID)
	}
}

func TestSwitchActivatesAndPublishes(t *testing.T) {
	manager, _, eventBus := newManagerFixture(t, persona.Options{}, "companion")
	events := eventBus.Subscribe("dev-1")

	record, err := manager.Switch(context.Background(), "dev-1", "", "companion")
	if err != nil {
		t.Fatalf("Switch: %v", err)
	}
	if record.Persona.ID != "companion" || !record.WithinSLA {
		t.Fatalf("unexpected record: %#v", record)
	}

	select {
	case event := <-events:
		if event.Type != bus.TypePersonaSwitch {
			t.Fatalf("unexpected event type %s", event.Type)
		}
		if event.Payload["persona_id"] != "companion" || event.Payload["version"] != "1.0.0" {
			t.Fatalf("unexpected payload: %#v", event.Payload)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("switch event never published")
	}

	active, err := manager.ActivePersona(context.Background(), "dev-1")
	if err != nil {
		t.Fatalf("ActivePersona: %v", err)
	}
	if active == nil || active.ID != "companion" {
		t.Fatalf("unexpected active persona: %#v", active)
	}
}

func TestSwitchIdempotent(t *testing.T) {
	manager, _, eventBus := newManagerFixture(t, persona.Options{}, "companion")
	ctx := context.Background()

	if _, err := manager.Switch(ctx, "dev-1", "", "companion"); err != nil {
		t.Fatalf("Switch: %v", err)
	}

	events := eventBus.Subscribe("dev-1")
	record, err := manager.Switch(ctx, "dev-1", "companion", "companion")
	if err != nil {
		t.Fatalf("retried Switch: %v", err)
	}
	if record.Persona.ID != "companion" {
		t.Fatalf("unexpected record: %#v", record)
	}

	// No second switch event for a pointer that did not move.
	select {
	case event := <-events:
		t.Fatalf("unexpected event on retried switch: %#v", event)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestSwitchUnknownDevice(t *testing.T) {
	manager, _, _ := newManagerFixture(t, persona.Options{}, "companion")

	_, err := manager.Switch(context.Background(), "dev-ghost", "", "companion")
	var switchErr *persona.SwitchError
	if !errors.As(err, &switchErr) {
		t.Fatalf("expected SwitchError, got %v", err)
	}
	if switchErr.DeviceID != "dev-ghost" {
		t.Fatalf("unexpected device in error: %s", switchErr.DeviceID)
	}
}

func TestSwitchReportsSLABreach(t *testing.T) {
	manager, source, _ := newManagerFixture(t, persona.Options{SLAThreshold: 20 * time.Millisecond}, "companion")
	source.delay = 60 * time.Millisecond

	record, err := manager.Switch(context.Background(), "dev-1", "", "companion")
	if err != nil {
		t.Fatalf("Switch: %v", err)
	}
	if record.WithinSLA {
		t.Fatal("expected SLA breach to be reported")
	}
	if record.Duration < source.delay {
		t.Fatalf("duration %v shorter than source delay", record.Duration)
	}
}

func TestInvalidateForcesRefetch(t *testing.T) {
	manager, source, _ := newManagerFixture(t, persona.Options{}, "companion")
	ctx := context.Background()

	if _, err := manager.Load(ctx, "companion"); err != nil {
		t.Fatalf("Load: %v", err)
	}
	manager.Invalidate(ctx, "companion")

	if _, err := manager.Load(ctx, "companion"); err != nil {
		t.Fatalf("Load after invalidate: %v", err)
	}
	if got := source.fetches.Load(); got != 2 {
		t.Fatalf("expected refetch after invalidate, fetches=%d", got)
	}
}

func TestListSkipsUnloadable(t *testing.T) {
	manager, source, _ := newManagerFixture(t, persona.Options{}, "companion", "storyteller")
	source.bundles["broken"] = []byte(`{"id": "broken"}`)

	summaries, err := manager.List(context.Background())
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(summaries) != 2 {
		t.Fatalf("expected 2 summaries, got %d: %#v", len(summaries), summaries)
	}
	if summaries[0].ID != "companion" || summaries[1].ID != "storyteller" {
		t.Fatalf("unexpected summaries: %#v", summaries)
	}
}

func TestFileSource(t *testing.T) {
	dir := t.TempDir()
	testsupport.WriteBundle(t, dir, "companion")
	source := persona.NewFileSource(dir)
	ctx := context.Background()

	raw, err := source.Fetch(ctx, "companion")
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if _, err := persona.FromBundle(raw); err != nil {
		t.Fatalf("bundle from file source invalid: %v", err)
	}

	if _, err := source.Fetch(ctx, "missing"); !errors.Is(err, persona.ErrBundleNotFound) {
		t.Fatalf("expected ErrBundleNotFound, got %v", err)
	}
	if _, err := source.Fetch(ctx, "../escape"); err == nil {
		t.Fatal("expected traversal id rejected")
	}

	ids, err := source.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(ids) != 1 || ids[0] != "companion" {
		t.Fatalf("unexpected ids: %#v", ids)
	}
}
