package gateway_test

import (
	"bufio"
	"context"
	"encoding/json"
	"net"
	"testing"
	"time"

	"ensemble/internal/bus"
	"ensemble/internal/coordinator"
	"ensemble/internal/gateway"
	"ensemble/internal/persona"
	"ensemble/internal/registry"
	"ensemble/internal/session"
	"ensemble/internal/store"
	"ensemble/internal/testsupport"
)

type fixture struct {
	gateway  *gateway.Gateway
	registry *registry.Registry
	sessions *session.Manager
	bus      *bus.Bus
	store    *store.Store
}

func startGateway(t *testing.T) *fixture {
	t.Helper()

	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	testsupport.WriteBundle(t, cfg.Personas.Dir, "storyteller",
		`"triggers": {"types": ["button", "manual"]}`)
	testsupport.WriteBundle(t, cfg.Personas.Dir, "companion")

	eventBus := bus.New(bus.Options{}, nil)
	reg := registry.New(st, eventBus, nil)
	personas := persona.NewManager(persona.NewFileSource(cfg.Personas.Dir), st, eventBus, nil, persona.Options{})
	sessions := session.NewManager(st, eventBus, session.Options{}, nil)
	activities := coordinator.New(eventBus, coordinator.Options{}, nil)

	g := gateway.New(gateway.Options{Bind: "127.0.0.1:0"}, reg, sessions, personas, activities, eventBus, nil)
	if err := g.Serve(context.Background()); err != nil {
		t.Fatalf("Serve: %v", err)
	}
	t.Cleanup(func() {
		g.Close()
		eventBus.Close()
	})
	return &fixture{gateway: g, registry: reg, sessions: sessions, bus: eventBus, store: st}
}

func (f *fixture) registerDevice(t *testing.T) *registry.Registration {
	t.Helper()
	reg, err := f.registry.Register(context.Background(), "Test Speaker", store.DeviceSpeaker,
		registry.Capabilities{AudioInput: true, AudioOutput: true, Buttons: true}, "", "")
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	return reg
}

// client is a scripted device endpoint for driving the wire protocol.
type client struct {
	conn    net.Conn
	scanner *bufio.Scanner
}

func dial(t *testing.T, f *fixture) *client {
	t.Helper()
	conn, err := net.DialTimeout("tcp", f.gateway.Addr(), 2*time.Second)
	if err != nil {
		t.Fatalf("dial gateway: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return &client{conn: conn, scanner: bufio.NewScanner(conn)}
}

func (c *client) send(t *testing.T, frame map[string]any) {
	t.Helper()
	raw, err := json.Marshal(frame)
	if err != nil {
		t.Fatalf("marshal frame: %v", err)
	}
	if _, err := c.conn.Write(append(raw, '\n')); err != nil {
		t.Fatalf("write frame: %v", err)
	}
}

func (c *client) read(t *testing.T) map[string]any {
	t.Helper()
	_ = c.conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	if !c.scanner.Scan() {
		t.Fatalf("read frame: %v", c.scanner.Err())
	}
	var frame map[string]any
	if err := json.Unmarshal(c.scanner.Bytes(), &frame); err != nil {
		t.Fatalf("decode frame %q: %v", c.scanner.Text(), err)
	}
	return frame
}

// readTypes collects n frames and returns their types keyed for membership
// checks; queued sends and relayed bus events have no fixed ordering.
func (c *client) readTypes(t *testing.T, n int) map[string]map[string]any {
	t.Helper()
	frames := make(map[string]map[string]any, n)
	for i := 0; i < n; i++ {
		frame := c.read(t)
		frames[frame["type"].(string)] = frame
	}
	return frames
}

func (c *client) hello(t *testing.T, reg *registry.Registration) {
	t.Helper()
	c.send(t, map[string]any{"type": "hello", "device_id": reg.Device.ID, "token": reg.Token})
	frame := c.read(t)
	if frame["type"] != "ok" {
		t.Fatalf("expected ok after hello, got %#v", frame)
	}
}

func TestConnectAndHeartbeat(t *testing.T) {
	f := startGateway(t)
	reg := f.registerDevice(t)

	c := dial(t, f)
	c.hello(t, reg)

	if !f.gateway.Connected(reg.Device.ID) {
		t.Fatal("device not tracked as connected")
	}
	device, err := f.registry.Get(context.Background(), reg.Device.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if device.Status != store.DeviceOnline {
		t.Fatalf("expected online after connect, got %s", device.Status)
	}

	c.send(t, map[string]any{"type": "heartbeat"})
	// Heartbeats are fire-and-forget; verify through the stored timestamp.
	deadline := time.Now().Add(2 * time.Second)
	for {
		device, err = f.registry.Get(context.Background(), reg.Device.ID)
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if device.LastHeartbeat != nil {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("heartbeat never recorded")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestAuthenticationRejected(t *testing.T) {
	f := startGateway(t)
	reg := f.registerDevice(t)

	c := dial(t, f)
	c.send(t, map[string]any{"type": "hello", "device_id": reg.Device.ID, "token": "tok_wrong"})
	frame := c.read(t)
	if frame["type"] != "error" {
		t.Fatalf("expected error frame, got %#v", frame)
	}

	// A non-hello first frame is rejected too.
	c2 := dial(t, f)
	c2.send(t, map[string]any{"type": "heartbeat"})
	frame = c2.read(t)
	if frame["type"] != "error" {
		t.Fatalf("expected error frame, got %#v", frame)
	}
}

func TestTextInputAppendsTurn(t *testing.T) {
	f := startGateway(t)
	reg := f.registerDevice(t)
	ctx := context.Background()

	c := dial(t, f)
	c.hello(t, reg)

	// Without a session the input is refused.
	c.send(t, map[string]any{"type": "text_input", "content": "hello?"})
	if frame := c.read(t); frame["type"] != "error" {
		t.Fatalf("expected error without session, got %#v", frame)
	}

	created, err := f.sessions.Create(ctx, reg.Device.ID, "companion", "user-1")
	if err != nil {
		t.Fatalf("Create session: %v", err)
	}
	c.send(t, map[string]any{"type": "text_input", "content": "tell me a joke"})
	if frame := c.read(t); frame["type"] != "ok" {
		t.Fatalf("expected ok, got %#v", frame)
	}

	stored, err := f.sessions.Get(ctx, created.ID)
	if err != nil {
		t.Fatalf("Get session: %v", err)
	}
	if len(stored.Turns) != 1 || stored.Turns[0].Content != "tell me a joke" {
		t.Fatalf("turn not recorded: %#v", stored.Turns)
	}
	if stored.Turns[0].Role != store.RoleUser || stored.Turns[0].PersonaID != "companion" {
		t.Fatalf("unexpected turn tags: %#v", stored.Turns[0])
	}
}

func TestButtonPressSwitchesPersona(t *testing.T) {
	f := startGateway(t)
	reg := f.registerDevice(t)

	c := dial(t, f)
	c.hello(t, reg)

	// storyteller allows button activation; expect the ok plus the relayed
	// persona_switch command, in either order.
	c.send(t, map[string]any{"type": "button_press", "button": "storyteller"})
	frames := c.readTypes(t, 2)
	if _, ok := frames["ok"]; !ok {
		t.Fatalf("no ok frame: %#v", frames)
	}
	switchCmd, ok := frames["persona_switch"]
	if !ok {
		t.Fatalf("no persona_switch command: %#v", frames)
	}
	payload, _ := switchCmd["payload"].(map[string]any)
	if payload["persona_id"] != "storyteller" {
		t.Fatalf("unexpected switch payload: %#v", payload)
	}

	device, err := f.registry.Get(context.Background(), reg.Device.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if device.ActivePersonaID != "storyteller" {
		t.Fatalf("active persona not updated: %s", device.ActivePersonaID)
	}

	// companion does not allow button activation.
	c.send(t, map[string]any{"type": "button_press", "button": "companion"})
	if frame := c.read(t); frame["type"] != "error" {
		t.Fatalf("expected error for disallowed trigger, got %#v", frame)
	}
}

func TestEventRelayAndDirectSend(t *testing.T) {
	f := startGateway(t)
	reg := f.registerDevice(t)

	c := dial(t, f)
	c.hello(t, reg)

	f.bus.Publish(bus.NewEvent(bus.TypeEmergencyAlert, "", nil, map[string]any{
		"message": "smoke detected",
	}))
	frame := c.read(t)
	if frame["type"] != "alert" || frame["priority"] != "high" {
		t.Fatalf("unexpected alert frame: %#v", frame)
	}

	if err := f.gateway.SendAudioResponse(reg.Device.ID, "good night", "companion", ""); err != nil {
		t.Fatalf("SendAudioResponse: %v", err)
	}
	frame = c.read(t)
	if frame["type"] != "audio_response" {
		t.Fatalf("unexpected frame: %#v", frame)
	}
	payload, _ := frame["payload"].(map[string]any)
	if payload["text"] != "good night" || payload["persona_id"] != "companion" {
		t.Fatalf("unexpected payload: %#v", payload)
	}

	if err := f.gateway.SendAudioResponse("dev_ghost", "x", "", ""); err == nil {
		t.Fatal("expected error for disconnected device")
	}
}

func TestReconnectSupersedes(t *testing.T) {
	f := startGateway(t)
	reg := f.registerDevice(t)

	first := dial(t, f)
	first.hello(t, reg)
	second := dial(t, f)
	second.hello(t, reg)

	// The new connection owns the event stream.
	f.bus.Publish(bus.NewEvent(bus.TypeBroadcast, "", []string{reg.Device.ID}, map[string]any{
		"message": "hello"}))
	if frame := second.read(t); frame["type"] != "broadcast" {
		t.Fatalf("unexpected frame on new connection: %#v", frame)
	}

	// The device stays online and connected after the old one unwinds.
	deadline := time.Now().Add(2 * time.Second)
	for {
		device, err := f.registry.Get(context.Background(), reg.Device.ID)
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if f.gateway.Connected(reg.Device.ID) && device.Status == store.DeviceOnline {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("device state disturbed by superseded connection: %s", device.Status)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestDisconnectMarksOffline(t *testing.T) {
	f := startGateway(t)
	reg := f.registerDevice(t)

	c := dial(t, f)
	c.hello(t, reg)
	c.conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for {
		device, err := f.registry.Get(context.Background(), reg.Device.ID)
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if !f.gateway.Connected(reg.Device.ID) && device.Status == store.DeviceOffline {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("device never marked offline, status=%s connected=%v",
				device.Status, f.gateway.Connected(reg.Device.ID))
		}
		time.Sleep(10 * time.Millisecond)
	}
}
