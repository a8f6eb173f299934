package gateway

import (
	"bufio"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"sync"
	"time"

	"ensemble/internal/bus"
	"ensemble/internal/logging"
	"ensemble/internal/persona"
	"ensemble/internal/session"
	"ensemble/internal/store"
)

const maxFrameBytes = 256 * 1024

// conn is one authenticated device connection. The reader goroutine owns
// inbound frames; a writer goroutine merges bus events and direct sends
// into the outbound stream.
type conn struct {
	gateway  *Gateway
	netConn  net.Conn
	deviceID string
	logger   *slog.Logger

	out       chan serverMessage
	done      chan struct{}
	closeOnce sync.Once
}

// handle runs a device connection to completion: authenticate, bridge bus
// events outbound, process inbound frames, and tear down cleanly.
func (g *Gateway) handle(netConn net.Conn) {
	defer netConn.Close()

	reader := bufio.NewScanner(netConn)
	reader.Buffer(make([]byte, 0, 4096), maxFrameBytes)

	device, ok := g.authenticate(netConn, reader)
	if !ok {
		return
	}

	c := &conn{
		gateway:  g,
		netConn:  netConn,
		deviceID: device.ID,
		logger: g.logger.With(logging.String(logging.FieldDeviceID, device.ID)),
		out:  make(chan serverMessage, 32),
		done: make(chan struct{}),
	}
	g.register(device.ID, c)

	if err := g.registry.UpdateStatus(g.ctx, device.ID, store.DeviceOnline); err != nil {
		c.logger.Warn("failed to mark device online", logging.Error(err))
	}
	g.bus.Publish(bus.NewEvent(bus.TypeDeviceConnect, device.ID, nil, map[string]any{
		"device_name": device.Name,
		"remote_addr": netConn.RemoteAddr().String(),
	}))

	events := g.bus.Subscribe(device.ID)
	g.wg.Add(1)
	go func() {
		defer g.wg.Done()
		c.writeLoop(events)
	}()

	c.sendOK("connected")
	c.readLoop(reader)
	c.close()

	// A reconnect may have superseded this connection; only the current
	// holder tears down the subscription and device status.
	if g.unregister(device.ID, c) {
		g.bus.Unsubscribe(device.ID)
		if err := g.registry.UpdateStatus(g.ctx, device.ID, store.DeviceOffline); err != nil &&
			g.ctx.Err() == nil {
			c.logger.Warn("failed to mark device offline", logging.Error(err))
		}
		g.bus.Publish(bus.NewEvent(bus.TypeDeviceDisconnect, device.ID, nil, nil))
	}
	c.logger.Info("device disconnected")
}

// authenticate reads the hello frame and verifies the device token. The
// connection is dropped after a short deadline or a bad credential.
func (g *Gateway) authenticate(netConn net.Conn, reader *bufio.Scanner) (*store.Device, bool) {
	_ = netConn.SetReadDeadline(time.Now().Add(10 * time.Second))
	defer netConn.SetReadDeadline(time.Time{})

	if !reader.Scan() {
		return nil, false
	}
	var hello clientMessage
	if err := json.Unmarshal(reader.Bytes(), &hello); err != nil || hello.Type != msgHello {
		writeFrame(netConn, serverMessage{Type: cmdError, Payload: map[string]any{
			"error": "expected hello frame",
		}, Timestamp: time.Now().UTC()})
		return nil, false
	}

	device, err := g.registry.Authenticate(g.ctx, hello.DeviceID, hello.Token)
	if err != nil {
		g.logger.Warn("device authentication failed",
			logging.Error(err),
			logging.String(logging.FieldDeviceID, hello.DeviceID),
			logging.String("remote_addr", netConn.RemoteAddr().String()))
		writeFrame(netConn, serverMessage{Type: cmdError, Payload: map[string]any{
			"error": "authentication failed",
		}, Timestamp: time.Now().UTC()})
		return nil, false
	}
	return device, true
}

func (c *conn) readLoop(reader *bufio.Scanner) {
	for reader.Scan() {
		line := reader.Bytes()
		if len(line) == 0 {
			continue
		}
		var msg clientMessage
		if err := json.Unmarshal(line, &msg); err != nil {
			c.sendError("malformed frame")
			continue
		}
		c.dispatch(msg)
	}
	if err := reader.Err(); err != nil && !errors.Is(err, net.ErrClosed) {
		c.logger.Debug("read loop ended", logging.Error(err))
	}
}

func (c *conn) dispatch(msg clientMessage) {
	g := c.gateway
	switch msg.Type {
	case msgHeartbeat:
		if err := g.registry.Heartbeat(g.ctx, c.deviceID); err != nil {
			c.logger.Warn("heartbeat update failed", logging.Error(err))
		}
		if len(msg.Metrics) > 0 {
			c.logger.Debug("device metrics", logging.Any("metrics", msg.Metrics))
		}
	case msgTextInput:
		c.handleTextInput(msg.Content)
	case msgButtonPress:
		c.handleButtonPress(msg.Button)
	case msgAck:
		if msg.ActivityID != "" {
			g.activities.Acknowledge(msg.ActivityID, c.deviceID)
		}
	default:
		c.sendError("unknown message type: " + msg.Type)
	}
}

// handleTextInput appends the utterance to the device's active session so
// conversational history follows the device.
func (c *conn) handleTextInput(content string) {
	g := c.gateway
	active, err := g.sessions.DeviceSession(g.ctx, c.deviceID)
	if err != nil {
		c.sendError("session lookup failed")
		return
	}
	if active == nil {
		c.sendError("no active session")
		return
	}
	if _, err := g.sessions.AppendTurn(g.ctx, active.ID, store.RoleUser, content); err != nil {
		var expired *session.ExpiredError
		if errors.As(err, &expired) {
			c.sendError("session expired")
			return
		}
		c.logger.Warn("failed to append turn", logging.Error(err))
		c.sendError("turn not recorded")
		return
	}
	c.sendOK("turn recorded")
}

// handleButtonPress treats the button name as a persona id and switches to
// it when that persona permits button triggering.
func (c *conn) handleButtonPress(button string) {
	g := c.gateway
	target, err := g.personas.Load(g.ctx, button)
	if err != nil {
		c.sendError("unknown persona: " + button)
		return
	}
	if !target.Triggers.Allows(persona.TriggerButton) {
		c.sendError("persona does not allow button activation")
		return
	}

	current := ""
	if device, err := g.registry.Get(g.ctx, c.deviceID); err == nil {
		current = device.ActivePersonaID
	}
	if _, err := g.personas.Switch(g.ctx, c.deviceID, current, button); err != nil {
		c.logger.Warn("button persona switch failed", logging.Error(err),
			logging.String(logging.FieldPersonaID, button))
		c.sendError("persona switch failed")
		return
	}
	c.sendOK("persona switched")
}

func (c *conn) writeLoop(events <-chan bus.Event) {
	for {
		select {
		case event, ok := <-events:
			if !ok {
				return
			}
			msg, relevant := commandForEvent(event)
			if !relevant {
				continue
			}
			if !c.write(msg) {
				return
			}
		case msg := <-c.out:
			if !c.write(msg) {
				return
			}
		case <-c.done:
			return
		}
	}
}

func (c *conn) write(msg serverMessage) bool {
	if err := writeFrame(c.netConn, msg); err != nil {
		c.logger.Debug("write failed, dropping connection", logging.Error(err))
		c.close()
		return false
	}
	return true
}

// enqueue queues a direct send; a saturated queue drops the message rather
// than blocking the caller.
func (c *conn) enqueue(msg serverMessage) {
	select {
	case c.out <- msg:
	case <-c.done:
	default:
		c.logger.Warn("outbound queue full, message dropped",
			logging.String("command", msg.Type))
	}
}

func (c *conn) sendOK(detail string) {
	c.enqueue(serverMessage{Type: cmdAckOK, Payload: map[string]any{
		"detail": detail,
	}, Timestamp: time.Now().UTC()})
}

func (c *conn) sendError(detail string) {
	c.enqueue(serverMessage{Type: cmdError, Payload: map[string]any{
		"error": detail,
	}, Timestamp: time.Now().UTC()})
}

func (c *conn) close() {
	c.closeOnce.Do(func() {
		close(c.done)
		_ = c.netConn.Close()
	})
}

func writeFrame(netConn net.Conn, msg serverMessage) error {
	raw, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	raw = append(raw, '\n')
	_ = netConn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	_, err = netConn.Write(raw)
	return err
}
