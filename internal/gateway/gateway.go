// Package gateway is the device-facing TCP front door. Devices speak a
// newline-framed JSON protocol: they authenticate with a hello frame, send
// heartbeats and input, and receive coordination commands relayed from the
// event bus. Each connection owns its device's bus subscription for its
// lifetime.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"ensemble/internal/bus"
	"ensemble/internal/coordinator"
	"ensemble/internal/logging"
	"ensemble/internal/persona"
	"ensemble/internal/registry"
	"ensemble/internal/session"
)

// Options tunes gateway liveness behavior.
type Options struct {
	// Bind is the TCP listen address.
	Bind string
	// HeartbeatInterval is how often the watchdog scans for silent devices.
	HeartbeatInterval time.Duration
	// HeartbeatTimeout is how long a device may stay silent before being
	// marked offline.
	HeartbeatTimeout time.Duration
}

// Gateway accepts device connections and bridges them onto the bus.
type Gateway struct {
	opts       Options
	registry   *registry.Registry
	sessions   *session.Manager
	personas   *persona.Manager
	activities *coordinator.Coordinator
	bus        *bus.Bus
	logger     *slog.Logger

	listener net.Listener
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup

	mu    sync.Mutex
	conns map[string]*conn
}

// New constructs a gateway. Serve must be called to start accepting.
func New(opts Options, reg *registry.Registry, sessions *session.Manager, personas *persona.Manager, activities *coordinator.Coordinator, eventBus *bus.Bus, logger *slog.Logger) *Gateway {
	if opts.HeartbeatInterval <= 0 {
		opts.HeartbeatInterval = 15 * time.Second
	}
	if opts.HeartbeatTimeout <= 0 {
		opts.HeartbeatTimeout = 5 * time.Minute
	}
	return &Gateway{
		opts:       opts,
		registry:   reg,
		sessions:   sessions,
		personas:   personas,
		activities: activities,
		bus:        eventBus,
		logger:     logging.NewComponentLogger(logger, "gateway"),
		conns:      make(map[string]*conn),
	}
}

// Serve binds the listen address and accepts device connections until the
// context is canceled.
func (g *Gateway) Serve(ctx context.Context) error {
	listener, err := net.Listen("tcp", g.opts.Bind)
	if err != nil {
		return fmt.Errorf("gateway listen on %s: %w", g.opts.Bind, err)
	}
	g.listener = listener
	g.ctx, g.cancel = context.WithCancel(ctx)
	g.logger.Info("gateway listening", logging.String("bind", g.opts.Bind))

	g.wg.Add(1)
	go g.watchdog()

	g.wg.Add(1)
	go func() {
		defer g.wg.Done()
		for {
			netConn, err := listener.Accept()
			if err != nil {
				select {
				case <-g.ctx.Done():
					return
				default:
				}
				g.logger.Warn("accept failed", logging.Error(err))
				continue
			}
			g.wg.Add(1)
			go func(nc net.Conn) {
				defer g.wg.Done()
				g.handle(nc)
			}(netConn)
		}
	}()
	return nil
}

// Close stops accepting, drops every device connection, and waits for
// handler goroutines to finish.
func (g *Gateway) Close() {
	if g.cancel != nil {
		g.cancel()
	}
	if g.listener != nil {
		_ = g.listener.Close()
	}
	g.mu.Lock()
	for _, c := range g.conns {
		c.close()
	}
	g.mu.Unlock()
	g.wg.Wait()
}

// Addr returns the bound listen address, useful when binding port 0.
func (g *Gateway) Addr() string {
	if g.listener == nil {
		return ""
	}
	return g.listener.Addr().String()
}

// Connected reports whether a device currently holds a live connection.
func (g *Gateway) Connected(deviceID string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, ok := g.conns[deviceID]
	return ok
}

// SendAudioResponse pushes a spoken response to a connected device. Returns
// an error when the device has no live connection.
func (g *Gateway) SendAudioResponse(deviceID, text, personaID string, priority string) error {
	g.mu.Lock()
	c, ok := g.conns[deviceID]
	g.mu.Unlock()
	if !ok {
		return fmt.Errorf("device %s is not connected", deviceID)
	}
	c.enqueue(serverMessage{
		Type: cmdAudioResponse,
		Payload: map[string]any{
			"text":       text,
			"persona_id": personaID,
		},
		Priority:  priority,
		Timestamp: time.Now().UTC(),
	})
	return nil
}

// register installs a connection as the device's live one, superseding any
// previous connection for the same device.
func (g *Gateway) register(deviceID string, c *conn) {
	g.mu.Lock()
	prev := g.conns[deviceID]
	g.conns[deviceID] = c
	g.mu.Unlock()
	if prev != nil {
		prev.close()
	}
}

// unregister removes a connection if it is still the device's live one and
// reports whether it was. A superseded connection must not tear down state
// now owned by its replacement.
func (g *Gateway) unregister(deviceID string, c *conn) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.conns[deviceID] == c {
		delete(g.conns, deviceID)
		return true
	}
	return false
}

// watchdog periodically marks devices offline whose heartbeat has gone
// silent past the timeout, regardless of whether the TCP connection still
// looks open.
func (g *Gateway) watchdog() {
	defer g.wg.Done()
	ticker := time.NewTicker(g.opts.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			cutoff := time.Now().UTC().Add(-g.opts.HeartbeatTimeout)
			marked, err := g.registry.MarkStaleOffline(g.ctx, cutoff)
			if err != nil {
				if !errors.Is(err, context.Canceled) {
					g.logger.Warn("heartbeat sweep failed", logging.Error(err))
				}
				continue
			}
			for _, deviceID := range marked {
				g.logger.Warn("device heartbeat timed out",
					logging.String(logging.FieldDeviceID, deviceID))
			}
		case <-g.ctx.Done():
			return
		}
	}
}
