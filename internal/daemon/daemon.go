// Package daemon wires the coordination components together and enforces
// single-instance execution. The IPC server drives it for admin operations;
// the gateway serves device connections.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gofrs/flock"

	"ensemble/internal/bus"
	"ensemble/internal/config"
	"ensemble/internal/coordinator"
	"ensemble/internal/gateway"
	"ensemble/internal/logging"
	"ensemble/internal/persona"
	"ensemble/internal/registry"
	"ensemble/internal/session"
	"ensemble/internal/store"
)

// Daemon owns the coordination core's runtime: store, bus, managers, and
// the device gateway.
type Daemon struct {
	cfg    *config.Config
	logger *slog.Logger

	store      *store.Store
	bus        *bus.Bus
	registry   *registry.Registry
	personas   *persona.Manager
	sessions   *session.Manager
	activities *coordinator.Coordinator
	handoffs   *coordinator.HandoffCoordinator
	gateway    *gateway.Gateway

	personaSource persona.Source

	lockPath string
	lock     *flock.Flock

	running atomic.Bool
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// Status reports daemon runtime information.
type Status struct {
	Running        bool
	PID            int
	DatabasePath   string
	LockPath       string
	GatewayAddr    string
	DeviceCount    int
	OnlineCount    int
	LiveActivities int
}

// New constructs a daemon and its component graph. Start must be called to
// begin serving.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Daemon, error) {
	if cfg == nil {
		return nil, errors.New("daemon requires config")
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, err
	}

	st, err := store.Open(ctx, cfg.DatabasePath())
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	eventBus := bus.New(bus.Options{
		ChannelBuffer:  cfg.Bus.ChannelBuffer,
		PublishRetries: cfg.Bus.PublishRetries,
	}, logger)

	reg := registry.New(st, eventBus, logger)

	source, err := newPersonaSource(ctx, cfg)
	if err != nil {
		eventBus.Close()
		_ = st.Close()
		return nil, err
	}

	personas := persona.NewManager(source, st, eventBus, logger, persona.Options{
		CacheTTL:     time.Duration(cfg.Personas.CacheTTLSeconds) * time.Second,
		SLAThreshold: time.Duration(cfg.Personas.SwitchSLAMillis) * time.Millisecond,
	})

	sessions := session.NewManager(st, eventBus, session.Options{
		TTL: time.Duration(cfg.Sessions.TTLHours) * time.Hour,
	}, logger)

	activities := coordinator.New(eventBus, coordinator.Options{
		AckTimeout:   time.Duration(cfg.Activities.AckTimeoutSeconds) * time.Second,
		PlaybackLead: time.Duration(cfg.Activities.PlaybackLeadMillis) * time.Millisecond,
	}, logger)

	handoffs := coordinator.NewHandoffCoordinator(sessions, eventBus, logger)

	gw := gateway.New(gateway.Options{
		Bind:              cfg.Gateway.Bind,
		HeartbeatInterval: time.Duration(cfg.Gateway.HeartbeatInterval) * time.Second,
		HeartbeatTimeout:  time.Duration(cfg.Gateway.HeartbeatTimeout) * time.Second,
	}, reg, sessions, personas, activities, eventBus, logger)

	return &Daemon{
		cfg:           cfg,
		logger:        logging.NewComponentLogger(logger, "daemon"),
		store:         st,
		bus:           eventBus,
		registry:      reg,
		personas:      personas,
		sessions:      sessions,
		activities:    activities,
		handoffs:      handoffs,
		gateway:       gw,
		personaSource: source,
		lockPath:      cfg.LockPath(),
		lock:          flock.New(cfg.LockPath()),
	}, nil
}

func newPersonaSource(ctx context.Context, cfg *config.Config) (persona.Source, error) {
	switch cfg.Personas.Source {
	case config.SourcePostgres:
		source, err := persona.NewPostgresSource(ctx, cfg.Personas.PostgresDSN)
		if err != nil {
			return nil, fmt.Errorf("connect persona store: %w", err)
		}
		return source, nil
	case config.SourceFile, "":
		return persona.NewFileSource(cfg.Personas.Dir), nil
	default:
		return nil, fmt.Errorf("unknown persona source %q", cfg.Personas.Source)
	}
}

// Start acquires the single-instance lock, opens the gateway, and launches
// the session reaper.
func (d *Daemon) Start(ctx context.Context) error {
	if d.running.Load() {
		return errors.New("daemon already running")
	}

	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return errors.New("another ensemble daemon instance is already running")
	}

	d.ctx, d.cancel = context.WithCancel(ctx)
	if err := d.gateway.Serve(d.ctx); err != nil {
		_ = d.lock.Unlock()
		d.cancel()
		d.ctx = nil
		d.cancel = nil
		return err
	}

	d.wg.Add(1)
	go d.reapLoop()

	d.running.Store(true)
	d.logger.Info("ensemble daemon started",
		logging.String("lock", d.lockPath),
		logging.String("gateway", d.gateway.Addr()))
	return nil
}

// Stop shuts the gateway, stops background loops, and releases the lock.
func (d *Daemon) Stop() {
	if !d.running.Load() {
		return
	}

	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	d.gateway.Close()
	d.wg.Wait()
	if err := d.lock.Unlock(); err != nil {
		d.logger.Warn("failed to release daemon lock", logging.Error(err))
	}
	d.ctx = nil
	d.running.Store(false)
	d.logger.Info("ensemble daemon stopped")
}

// Close releases all daemon resources.
func (d *Daemon) Close() error {
	d.Stop()
	d.bus.Close()
	if closer, ok := d.personaSource.(interface{ Close() }); ok {
		closer.Close()
	}
	return d.store.Close()
}

// reapLoop periodically ends sessions past their TTL. Expiry is enforced on
// access regardless; the reaper just reclaims idle sessions.
func (d *Daemon) reapLoop() {
	defer d.wg.Done()
	interval := time.Duration(d.cfg.Sessions.ReaperIntervalSeconds) * time.Second
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if _, err := d.sessions.SweepExpired(d.ctx); err != nil &&
				!errors.Is(err, context.Canceled) {
				d.logger.Warn("session sweep failed", logging.Error(err))
			}
		case <-d.ctx.Done():
			return
		}
	}
}

// Status reports the daemon's runtime state.
func (d *Daemon) Status(ctx context.Context) Status {
	status := Status{
		Running:      d.running.Load(),
		PID:          os.Getpid(),
		DatabasePath: d.cfg.DatabasePath(),
		LockPath:     d.lockPath,
		GatewayAddr:  d.gateway.Addr(),
	}
	devices, err := d.registry.List(ctx, "")
	if err == nil {
		status.DeviceCount = len(devices)
		for _, device := range devices {
			if device.Status == store.DeviceOnline || device.Status == store.DeviceBusy {
				status.OnlineCount++
			}
		}
	}
	status.LiveActivities = len(d.activities.List())
	return status
}

// Registry exposes the device registry.
func (d *Daemon) Registry() *registry.Registry { return d.registry }

// Personas exposes the persona manager.
func (d *Daemon) Personas() *persona.Manager { return d.personas }

// Sessions exposes the session manager.
func (d *Daemon) Sessions() *session.Manager { return d.sessions }

// Activities exposes the group activity coordinator.
func (d *Daemon) Activities() *coordinator.Coordinator { return d.activities }

// Handoffs exposes the handoff coordinator.
func (d *Daemon) Handoffs() *coordinator.HandoffCoordinator { return d.handoffs }

// Gateway exposes the device gateway.
func (d *Daemon) Gateway() *gateway.Gateway { return d.gateway }

// Bus exposes the event bus.
func (d *Daemon) Bus() *bus.Bus { return d.bus }

// Alert broadcasts an emergency alert to every connected device.
func (d *Daemon) Alert(message, sourceDeviceID string) {
	d.bus.Publish(bus.NewEvent(bus.TypeEmergencyAlert, sourceDeviceID, nil, map[string]any{
		"message": message,
	}))
	d.logger.Warn("emergency alert broadcast", logging.String("message", message))
}
