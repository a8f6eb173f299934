package bus_test

import (
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/goleak"

	"ensemble/internal/bus"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func newBus(t *testing.T) *bus.Bus {
	t.Helper()
	b := bus.New(bus.Options{}, nil)
	t.Cleanup(b.Close)
	return b
}

func receive(t *testing.T, ch <-chan bus.Event) bus.Event {
	t.Helper()
	select {
	case event, ok := <-ch:
		if !ok {
			t.Fatal("subscription closed unexpectedly")
		}
		return event
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
	}
	return bus.Event{}
}

func TestPublishTargeted(t *testing.T) {
	b := newBus(t)
	alpha := b.Subscribe("dev-alpha")
	beta := b.Subscribe("dev-beta")

	b.Publish(bus.NewEvent(bus.TypePersonaSwitch, "", []string{"dev-alpha"}, map[string]any{"persona_id": "companion"}))

	event := receive(t, alpha)
	if event.Type != bus.TypePersonaSwitch {
		t.Fatalf("unexpected event type %s", event.Type)
	}
	if event.Payload["persona_id"] != "companion" {
		t.Fatalf("unexpected payload: %#v", event.Payload)
	}
	if event.CorrelationID == "" || event.Timestamp.IsZero() {
		t.Fatalf("event missing correlation id or timestamp: %#v", event)
	}

	select {
	case stray := <-beta:
		t.Fatalf("untargeted subscriber received %#v", stray)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestPublishBroadcast(t *testing.T) {
	b := newBus(t)
	alpha := b.Subscribe("dev-alpha")
	beta := b.Subscribe("dev-beta")

	b.Publish(bus.NewEvent(bus.TypeEmergencyAlert, "dev-alpha", nil, map[string]any{"message": "smoke detected"}))

	for _, ch := range []<-chan bus.Event{alpha, beta} {
		event := receive(t, ch)
		if event.Type != bus.TypeEmergencyAlert {
			t.Fatalf("unexpected event type %s", event.Type)
		}
	}
}

func TestSubscribeSupersedes(t *testing.T) {
	b := newBus(t)
	first := b.Subscribe("dev-1")
	second := b.Subscribe("dev-1")

	select {
	case _, ok := <-first:
		if ok {
			t.Fatal("expected superseded channel closed without events")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("superseded channel not closed")
	}

	b.Publish(bus.NewEvent(bus.TypeBroadcast, "", []string{"dev-1"}, nil))
	if event := receive(t, second); event.Type != bus.TypeBroadcast {
		t.Fatalf("unexpected event type %s", event.Type)
	}
}

func TestUnsubscribeIdempotent(t *testing.T) {
	b := newBus(t)
	ch := b.Subscribe("dev-1")
	b.Unsubscribe("dev-1")
	b.Unsubscribe("dev-1")

	if b.Subscribed("dev-1") {
		t.Fatal("device still subscribed after unsubscribe")
	}
	if _, ok := <-ch; ok {
		t.Fatal("expected channel closed after unsubscribe")
	}
}

func TestHandlerReceivesEvents(t *testing.T) {
	b := newBus(t)

	var count atomic.Int64
	done := make(chan struct{})
	b.On(bus.TypeSessionStart, func(event bus.Event) {
		if count.Add(1) == 1 {
			close(done)
		}
	})

	b.Publish(bus.NewEvent(bus.TypeSessionStart, "", []string{"dev-1"}, nil))
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("handler never invoked")
	}

	// Handlers only fire for their registered type.
	b.Publish(bus.NewEvent(bus.TypeSessionEnd, "", []string{"dev-1"}, nil))
	ch := b.Subscribe("dev-1")
	b.Publish(bus.NewEvent(bus.TypeSessionStart, "", []string{"dev-1"}, nil))
	receive(t, ch)
	if got := count.Load(); got != 2 {
		t.Fatalf("expected 2 handler invocations, got %d", got)
	}
}

func TestHandlerPanicDoesNotStopDispatch(t *testing.T) {
	b := newBus(t)
	b.On(bus.TypeGroupStart, func(bus.Event) {
		panic("handler bug")
	})

	ch := b.Subscribe("dev-1")
	b.Publish(bus.NewEvent(bus.TypeGroupStart, "", []string{"dev-1"}, nil))

	// Delivery to subscribers continues after the handler panic.
	if event := receive(t, ch); event.Type != bus.TypeGroupStart {
		t.Fatalf("unexpected event type %s", event.Type)
	}
}

func TestSlowSubscriberDropsInsteadOfBlocking(t *testing.T) {
	b := bus.New(bus.Options{ChannelBuffer: 1, PublishRetries: 0}, nil)
	t.Cleanup(b.Close)

	ch := b.Subscribe("dev-1")
	probe := b.Subscribe("dev-probe")

	// The subscriber never reads, so at most one event fits its buffer.
	for i := 0; i < 5; i++ {
		b.Publish(bus.NewEvent(bus.TypeBroadcast, "", []string{"dev-1"}, nil))
	}
	b.Publish(bus.NewEvent(bus.TypeBroadcast, "", []string{"dev-probe"}, nil))
	receive(t, probe)

	if got := len(ch); got > 1 {
		t.Fatalf("expected overflow events dropped, found %d buffered", got)
	}
}

func TestCloseIdempotent(t *testing.T) {
	b := bus.New(bus.Options{}, nil)
	ch := b.Subscribe("dev-1")
	b.Close()
	b.Close()

	if _, ok := <-ch; ok {
		t.Fatal("expected subscription closed on bus close")
	}
}
