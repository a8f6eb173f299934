package persona

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"ensemble/internal/bus"
	"ensemble/internal/logging"
	"ensemble/internal/store"
)

// ActivationRecord reports the outcome of a persona switch. Duration is the
// true wall-clock cost of the switch; WithinSLA is false whenever it met or
// exceeded the SLA threshold. A slow switch is reported, never hidden.
type ActivationRecord struct {
	Persona   *Persona
	DeviceID  string
	Duration  time.Duration
	WithinSLA bool
}

// Options tunes the manager.
type Options struct {
	CacheTTL     time.Duration
	SLAThreshold time.Duration
}

// Manager owns persona loading, the two cache tiers (in-process map and
// shared store rows), and the per-device active-persona pointer.
type Manager struct {
	source       Source
	store        *store.Store
	bus          *bus.Bus
	logger       *slog.Logger
	cacheTTL     time.Duration
	slaThreshold time.Duration

	mu    sync.RWMutex
	local map[string]*Persona
}

// NewManager constructs a persona manager.
func NewManager(source Source, st *store.Store, eventBus *bus.Bus, logger *slog.Logger, opts Options) *Manager {
	cacheTTL := opts.CacheTTL
	if cacheTTL <= 0 {
		cacheTTL = time.Hour
	}
	slaThreshold := opts.SLAThreshold
	if slaThreshold <= 0 {
		slaThreshold = 2 * time.Second
	}
	return &Manager{
		source:       source,
		store:        st,
		bus:          eventBus,
		logger:       logging.NewComponentLogger(logger, "persona"),
		cacheTTL:     cacheTTL,
		slaThreshold: slaThreshold,
		local:        make(map[string]*Persona),
	}
}

// Load returns the persona for an id, consulting the in-process cache, the
// shared cache tier, and finally the authoring source. Both cache tiers are
// populated on a source hit.
func (m *Manager) Load(ctx context.Context, personaID string) (*Persona, error) {
	m.mu.RLock()
	cached, ok := m.local[personaID]
	m.mu.RUnlock()
	if ok {
		return cached, nil
	}

	if entry, err := m.store.PersonaCacheGet(ctx, personaID); err != nil {
		m.logger.Warn("persona cache read failed", logging.Error(err),
			logging.String(logging.FieldPersonaID, personaID))
	} else if entry != nil {
		p, err := FromBundle([]byte(entry.BundleJSON))
		if err == nil {
			m.remember(p)
			return p, nil
		}
		// A cached bundle that no longer validates is purged, not served.
		m.logger.Warn("cached persona bundle invalid, purging", logging.Error(err),
			logging.String(logging.FieldPersonaID, personaID))
		_ = m.store.PersonaCacheDelete(ctx, personaID)
	}

	raw, err := m.source.Fetch(ctx, personaID)
	if err != nil {
		if errors.Is(err, ErrBundleNotFound) {
			return nil, &NotFoundError{PersonaID: personaID}
		}
		return nil, &LoadError{PersonaID: personaID, Err: err}
	}

	p, err := FromBundle(raw)
	if err != nil {
		return nil, &LoadError{PersonaID: personaID, Err: err}
	}

	if err := m.store.PersonaCachePut(ctx, personaID, string(raw), m.cacheTTL); err != nil {
		m.logger.Warn("persona cache write failed", logging.Error(err),
			logging.String(logging.FieldPersonaID, personaID))
	}
	m.remember(p)
	m.logger.Debug("persona loaded from source",
		logging.String(logging.FieldPersonaID, personaID),
		logging.String("version", p.Version))
	return p, nil
}

// Switch activates a persona on a device: it loads the target, atomically
// repoints the device's active-persona pointer, and emits a persona.switch
// event targeted at the device. On any failure the previous pointer is left
// unchanged; a partial switch is never observable. Retrying a completed
// switch is idempotent and emits no second event.
func (m *Manager) Switch(ctx context.Context, deviceID, fromPersonaID, toPersonaID string) (*ActivationRecord, error) {
	start := time.Now()

	p, err := m.Load(ctx, toPersonaID)
	if err != nil {
		var notFound *NotFoundError
		if errors.As(err, &notFound) {
			return nil, err
		}
		return nil, &SwitchError{DeviceID: deviceID, FromPersonaID: fromPersonaID, ToPersonaID: toPersonaID, Err: err}
	}

	changed, found, err := m.store.SetActivePersona(ctx, deviceID, toPersonaID)
	if err != nil {
		return nil, &SwitchError{DeviceID: deviceID, FromPersonaID: fromPersonaID, ToPersonaID: toPersonaID, Err: err}
	}
	if !found {
		return nil, &SwitchError{
			DeviceID:      deviceID,
			FromPersonaID: fromPersonaID,
			ToPersonaID:   toPersonaID,
			Err:           fmt.Errorf("device not registered: %s", deviceID),
		}
	}

	duration := time.Since(start)
	record := &ActivationRecord{
		Persona:   p,
		DeviceID:  deviceID,
		Duration:  duration,
		WithinSLA: duration < m.slaThreshold,
	}

	if changed {
		m.bus.Publish(bus.NewEvent(bus.TypePersonaSwitch, "", []string{deviceID}, map[string]any{
			"persona_id":      toPersonaID,
			"from_persona_id": fromPersonaID,
			"version":         p.Version,
		}))
	}

	if !record.WithinSLA {
		m.logger.Warn("persona switch exceeded SLA",
			logging.String(logging.FieldDeviceID, deviceID),
			logging.String(logging.FieldPersonaID, toPersonaID),
			logging.Duration("duration", duration))
	} else {
		m.logger.Info("persona switched",
			logging.String(logging.FieldDeviceID, deviceID),
			logging.String(logging.FieldPersonaID, toPersonaID),
			logging.Duration("duration", duration))
	}
	return record, nil
}

// ActivePersona resolves the persona currently active on a device, or nil
// when none is set.
func (m *Manager) ActivePersona(ctx context.Context, deviceID string) (*Persona, error) {
	device, err := m.store.GetDevice(ctx, deviceID)
	if err != nil {
		return nil, err
	}
	if device == nil {
		return nil, fmt.Errorf("device not registered: %s", deviceID)
	}
	if device.ActivePersonaID == "" {
		return nil, nil
	}
	return m.Load(ctx, device.ActivePersonaID)
}

// Invalidate purges all cache tiers for a persona id. Best effort: a store
// purge failure is logged, not returned. The in-process map has no TTL, so
// other coordination-service instances keep their local copies until they
// invalidate the id themselves.
func (m *Manager) Invalidate(ctx context.Context, personaID string) {
	m.mu.Lock()
	delete(m.local, personaID)
	m.mu.Unlock()

	if err := m.store.PersonaCacheDelete(ctx, personaID); err != nil {
		m.logger.Warn("persona cache purge failed", logging.Error(err),
			logging.String(logging.FieldPersonaID, personaID))
	}
}

// List returns summaries of every persona the authoring source publishes.
func (m *Manager) List(ctx context.Context) ([]Summary, error) {
	ids, err := m.source.List(ctx)
	if err != nil {
		return nil, err
	}
	summaries := make([]Summary, 0, len(ids))
	for _, id := range ids {
		p, err := m.Load(ctx, id)
		if err != nil {
			m.logger.Warn("skipping unloadable persona", logging.Error(err),
				logging.String(logging.FieldPersonaID, id))
			continue
		}
		summaries = append(summaries, p.Summary())
	}
	return summaries, nil
}

func (m *Manager) remember(p *Persona) {
	m.mu.Lock()
	m.local[p.ID] = p
	m.mu.Unlock()
}
