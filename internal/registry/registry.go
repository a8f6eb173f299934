// Package registry tracks which devices exist, their connectivity state,
// and group membership. Every other coordination component resolves devices
// here.
package registry

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"ensemble/internal/bus"
	"ensemble/internal/logging"
	"ensemble/internal/store"
)

// Aliases so callers work with registry types without importing store.
type (
	Device       = store.Device
	DeviceStatus = store.DeviceStatus
	DeviceType   = store.DeviceType
	Capabilities = store.Capabilities
)

// NotFoundError reports an unknown device id.
type NotFoundError struct {
	DeviceID string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("device not found: %s", e.DeviceID)
}

// Registration is the result of registering a device. Token is returned
// exactly once; only its hash is persisted.
type Registration struct {
	Device *Device
	Token  string
}

// Registry manages device lifecycle over the shared store and reports
// status transitions on the event bus.
type Registry struct {
	store  *store.Store
	bus    *bus.Bus
	logger *slog.Logger
}

// New constructs a device registry.
func New(st *store.Store, eventBus *bus.Bus, logger *slog.Logger) *Registry {
	return &Registry{
		store:  st,
		bus:    eventBus,
		logger: logging.NewComponentLogger(logger, "registry"),
	}
}

// Register creates a new device record in offline state and returns it with
// its auth token.
func (r *Registry) Register(ctx context.Context, name string, deviceType DeviceType, capabilities Capabilities, groupID, location string) (*Registration, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("device name must not be empty")
	}

	token := "tok_" + strings.ReplaceAll(uuid.NewString(), "-", "")
	device := &Device{
		ID:           "dev_" + uuid.NewString()[:8],
		Name:         name,
		Type:         deviceType,
		Status:       store.DeviceOffline,
		GroupID:      groupID,
		Location:     location,
		Capabilities: capabilities,
		TokenHash:    HashToken(token),
	}

	if err := r.store.InsertDevice(ctx, device); err != nil {
		return nil, fmt.Errorf("register device: %w", err)
	}
	r.logger.Info("device registered",
		logging.String(logging.FieldDeviceID, device.ID),
		logging.String("name", name),
		logging.String("type", string(deviceType)))
	return &Registration{Device: device, Token: token}, nil
}

// Get fetches a device by id.
func (r *Registry) Get(ctx context.Context, deviceID string) (*Device, error) {
	device, err := r.store.GetDevice(ctx, deviceID)
	if err != nil {
		return nil, err
	}
	if device == nil {
		return nil, &NotFoundError{DeviceID: deviceID}
	}
	return device, nil
}

// List returns registered devices, optionally filtered by group.
func (r *Registry) List(ctx context.Context, groupID string) ([]*Device, error) {
	return r.store.ListDevices(ctx, groupID)
}

// UpdateStatus transitions a device's connectivity state and reports the
// change on the bus.
func (r *Registry) UpdateStatus(ctx context.Context, deviceID string, status DeviceStatus) error {
	now := time.Now().UTC()
	found, err := r.store.UpdateDeviceStatus(ctx, deviceID, status, &now)
	if err != nil {
		return err
	}
	if !found {
		return &NotFoundError{DeviceID: deviceID}
	}

	r.bus.Publish(bus.NewEvent(bus.TypeDeviceStateChange, deviceID, nil, map[string]any{
		"status": string(status),
	}))
	return nil
}

// Heartbeat records a device heartbeat and brings it online.
func (r *Registry) Heartbeat(ctx context.Context, deviceID string) error {
	now := time.Now().UTC()
	found, err := r.store.UpdateDeviceStatus(ctx, deviceID, store.DeviceOnline, &now)
	if err != nil {
		return err
	}
	if !found {
		return &NotFoundError{DeviceID: deviceID}
	}
	return nil
}

// Retire soft-retires a device. The record is kept; the device no longer
// participates in coordination.
func (r *Registry) Retire(ctx context.Context, deviceID string) error {
	return r.UpdateStatus(ctx, deviceID, store.DeviceRetired)
}

// Authenticate verifies a device token against the stored hash.
func (r *Registry) Authenticate(ctx context.Context, deviceID, token string) (*Device, error) {
	device, err := r.Get(ctx, deviceID)
	if err != nil {
		return nil, err
	}
	if device.TokenHash == "" || device.TokenHash != HashToken(token) {
		return nil, fmt.Errorf("invalid token for device %s", deviceID)
	}
	if device.Status == store.DeviceRetired {
		return nil, fmt.Errorf("device %s is retired", deviceID)
	}
	return device, nil
}

// MarkStaleOffline transitions every online or busy device whose heartbeat
// is older than the cutoff to offline, reporting each transition on the
// bus. Returns the affected device ids.
func (r *Registry) MarkStaleOffline(ctx context.Context, cutoff time.Time) ([]string, error) {
	stale, err := r.store.StaleDevices(ctx, cutoff)
	if err != nil {
		return nil, err
	}
	var marked []string
	for _, device := range stale {
		if _, err := r.store.UpdateDeviceStatus(ctx, device.ID, store.DeviceOffline, nil); err != nil {
			r.logger.Warn("failed to mark device offline", logging.Error(err),
				logging.String(logging.FieldDeviceID, device.ID))
			continue
		}
		r.bus.Publish(bus.NewEvent(bus.TypeDeviceStateChange, device.ID, nil, map[string]any{
			"status": string(store.DeviceOffline),
			"reason": "heartbeat timeout",
		}))
		marked = append(marked, device.ID)
	}
	return marked, nil
}

// HashToken returns the persisted form of a device auth token.
func HashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
