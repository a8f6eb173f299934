// Package coordinator runs multi-device group activities and synchronized
// playback. Activities live in memory for their duration; every state
// change is reported to participants over the event bus.
package coordinator

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"ensemble/internal/bus"
	"ensemble/internal/logging"
)

const (
	defaultAckTimeout   = 5 * time.Second
	defaultPlaybackLead = time.Second
)

// Options tunes activity start and playback behavior.
type Options struct {
	// AckTimeout bounds how long Start waits for participant acks.
	AckTimeout time.Duration
	// PlaybackLead is how far in the future synchronized playback is
	// scheduled, giving every device time to receive the command.
	PlaybackLead time.Duration
}

// Coordinator orchestrates group activities across devices.
type Coordinator struct {
	bus          *bus.Bus
	logger       *slog.Logger
	ackTimeout   time.Duration
	playbackLead time.Duration

	mu   sync.Mutex
	live map[string]*Activity
}

// New constructs a coordinator and hooks it into the bus so participants
// going offline mid-activity are flagged.
func New(eventBus *bus.Bus, opts Options, logger *slog.Logger) *Coordinator {
	ackTimeout := opts.AckTimeout
	if ackTimeout <= 0 {
		ackTimeout = defaultAckTimeout
	}
	playbackLead := opts.PlaybackLead
	if playbackLead <= 0 {
		playbackLead = defaultPlaybackLead
	}
	c := &Coordinator{
		bus:          eventBus,
		logger:       logging.NewComponentLogger(logger, "coordinator"),
		ackTimeout:   ackTimeout,
		playbackLead: playbackLead,
		live:         make(map[string]*Activity),
	}
	eventBus.On(bus.TypeDeviceStateChange, c.onDeviceStateChange)
	return c
}

// Start launches a group activity. The group.start command goes out to every
// participant and Start waits up to the ack timeout for their replies. One
// ack is enough to proceed; devices that never reply are flagged
// non-responsive but stay in the activity. With zero acks the activity is
// discarded and a StartError returned.
func (c *Coordinator) Start(ctx context.Context, activityType ActivityType, deviceIDs []string, personaID string, config map[string]any) (*Activity, error) {
	if _, ok := activityTypeSet[activityType]; !ok {
		return nil, &StartError{Reason: "unknown activity type: " + string(activityType)}
	}
	if len(deviceIDs) == 0 {
		return nil, &StartError{Reason: "no participant devices"}
	}

	activity := &Activity{
		ID:        "act_" + uuid.NewString()[:8],
		Type:      activityType,
		DeviceIDs: append([]string(nil), deviceIDs...),
		PersonaID: personaID,
		Config:    config,
		State:     StateStarting,
		Scores:    make(map[string]int, len(deviceIDs)),
		rounds:    make(map[roundKey]struct{}),
		acks:      make(chan string, len(deviceIDs)),
	}
	for _, id := range deviceIDs {
		activity.Scores[id] = 0
	}

	c.mu.Lock()
	c.live[activity.ID] = activity
	c.mu.Unlock()

	c.bus.Publish(bus.NewEvent(bus.TypeGroupStart, "", deviceIDs, map[string]any{
		"activity_id":   activity.ID,
		"activity_type": string(activityType),
		"persona_id":    personaID,
		"config":        config,
	}))

	acked := c.collectAcks(ctx, activity)

	c.mu.Lock()
	defer c.mu.Unlock()
	if len(acked) == 0 {
		delete(c.live, activity.ID)
		c.logger.Warn("activity start failed, no participant acks",
			logging.String(logging.FieldActivityID, activity.ID),
			logging.Int("participants", len(deviceIDs)))
		return nil, &StartError{ActivityID: activity.ID, Reason: "no participant acknowledged within ack window"}
	}

	activity.State = StateActive
	activity.StartedAt = time.Now().UTC()
	for _, id := range activity.DeviceIDs {
		if !acked[id] {
			if activity.NonResponsive == nil {
				activity.NonResponsive = make(map[string]bool)
			}
			activity.NonResponsive[id] = true
		}
	}
	c.logger.Info("activity started",
		logging.String(logging.FieldActivityID, activity.ID),
		logging.String("type", string(activityType)),
		logging.Int("acked", len(acked)),
		logging.Int("participants", len(deviceIDs)))
	return activity.snapshot(), nil
}

func (c *Coordinator) collectAcks(ctx context.Context, activity *Activity) map[string]bool {
	acked := make(map[string]bool, len(activity.DeviceIDs))
	timer := time.NewTimer(c.ackTimeout)
	defer timer.Stop()
	for len(acked) < len(activity.DeviceIDs) {
		select {
		case deviceID := <-activity.acks:
			if activity.HasParticipant(deviceID) {
				acked[deviceID] = true
			}
		case <-timer.C:
			return acked
		case <-ctx.Done():
			return acked
		}
	}
	return acked
}

// Acknowledge records a participant's reply to a group.start command. During
// the start window the ack counts toward activation; after activation a late
// ack clears the device's non-responsive flag.
func (c *Coordinator) Acknowledge(activityID, deviceID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	activity, ok := c.live[activityID]
	if !ok || !activity.HasParticipant(deviceID) {
		return
	}
	switch activity.State {
	case StateStarting:
		select {
		case activity.acks <- deviceID:
		default:
		}
	case StateActive, StatePaused:
		delete(activity.NonResponsive, deviceID)
	}
}

// RecordRound applies a score delta for one device's round submission.
// Submissions are idempotent per device and round id, so a retried
// submission never double-counts.
func (c *Coordinator) RecordRound(activityID, deviceID, roundID string, delta int) (*Activity, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	activity, ok := c.live[activityID]
	if !ok {
		return nil, false, &NotFoundError{ActivityID: activityID}
	}
	if activity.State != StateActive {
		return nil, false, &StateError{ActivityID: activityID, State: activity.State, Op: "score"}
	}
	if !activity.HasParticipant(deviceID) {
		return nil, false, &StateError{ActivityID: activityID, State: activity.State, Op: "score for non-participant " + deviceID}
	}

	key := roundKey{deviceID: deviceID, roundID: roundID}
	if _, seen := activity.rounds[key]; seen {
		return activity.snapshot(), false, nil
	}
	activity.rounds[key] = struct{}{}
	activity.Scores[deviceID] += delta
	return activity.snapshot(), true, nil
}

// Pause suspends an active activity.
func (c *Coordinator) Pause(activityID string) (*Activity, error) {
	return c.transition(activityID, StateActive, StatePaused, "pause")
}

// Resume reactivates a paused activity.
func (c *Coordinator) Resume(activityID string) (*Activity, error) {
	return c.transition(activityID, StatePaused, StateActive, "resume")
}

func (c *Coordinator) transition(activityID string, from, to ActivityState, op string) (*Activity, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	activity, ok := c.live[activityID]
	if !ok {
		return nil, &NotFoundError{ActivityID: activityID}
	}
	if activity.State != from {
		return nil, &StateError{ActivityID: activityID, State: activity.State, Op: op}
	}
	activity.State = to
	return activity.snapshot(), nil
}

// End finishes an activity, publishes group.end with the final scores, and
// removes it from the live set.
func (c *Coordinator) End(activityID string) (*Activity, error) {
	c.mu.Lock()
	activity, ok := c.live[activityID]
	if !ok {
		c.mu.Unlock()
		return nil, &NotFoundError{ActivityID: activityID}
	}
	activity.State = StateEnding
	now := time.Now().UTC()
	activity.EndedAt = &now
	activity.State = StateEnded
	delete(c.live, activityID)
	snapshot := activity.snapshot()
	c.mu.Unlock()

	scores := make(map[string]any, len(snapshot.Scores))
	for id, score := range snapshot.Scores {
		scores[id] = score
	}
	c.bus.Publish(bus.NewEvent(bus.TypeGroupEnd, "", snapshot.DeviceIDs, map[string]any{
		"activity_id":   snapshot.ID,
		"activity_type": string(snapshot.Type),
		"scores":        scores,
	}))
	c.logger.Info("activity ended",
		logging.String(logging.FieldActivityID, snapshot.ID),
		logging.String("type", string(snapshot.Type)))
	return snapshot, nil
}

// Get returns a snapshot of a live activity.
func (c *Coordinator) Get(activityID string) (*Activity, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	activity, ok := c.live[activityID]
	if !ok {
		return nil, &NotFoundError{ActivityID: activityID}
	}
	return activity.snapshot(), nil
}

// List returns snapshots of all live activities ordered by start time.
func (c *Coordinator) List() []*Activity {
	c.mu.Lock()
	defer c.mu.Unlock()
	activities := make([]*Activity, 0, len(c.live))
	for _, activity := range c.live {
		activities = append(activities, activity.snapshot())
	}
	sort.Slice(activities, func(i, j int) bool {
		return activities[i].StartedAt.Before(activities[j].StartedAt)
	})
	return activities
}

// SyncPlayback schedules media playback across devices at one shared
// wall-clock instant slightly in the future, so every device starts
// together. Returns the scheduled start time.
func (c *Coordinator) SyncPlayback(deviceIDs []string, mediaRef string, startOffset time.Duration) time.Time {
	startAt := time.Now().UTC().Add(c.playbackLead)
	c.bus.Publish(bus.NewEvent(bus.TypeSyncPlayback, "", deviceIDs, map[string]any{
		"media_ref":       mediaRef,
		"start_at":        startAt.Format(time.RFC3339Nano),
		"start_offset_ms": startOffset.Milliseconds(),
	}))
	c.logger.Info("sync playback scheduled",
		logging.String("media_ref", mediaRef),
		logging.Int("devices", len(deviceIDs)),
		logging.Time("start_at", startAt))
	return startAt
}

// onDeviceStateChange flags offline participants in every live activity.
// They remain participants and keep their scores.
func (c *Coordinator) onDeviceStateChange(event bus.Event) {
	status, _ := event.Payload["status"].(string)
	if status != "offline" {
		return
	}
	deviceID := event.SourceDeviceID
	if deviceID == "" {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for _, activity := range c.live {
		if activity.State != StateActive && activity.State != StatePaused {
			continue
		}
		if !activity.HasParticipant(deviceID) {
			continue
		}
		if activity.NonResponsive == nil {
			activity.NonResponsive = make(map[string]bool)
		}
		activity.NonResponsive[deviceID] = true
		c.logger.Warn("participant went offline mid-activity",
			logging.String(logging.FieldActivityID, activity.ID),
			logging.String(logging.FieldDeviceID, deviceID))
	}
}
