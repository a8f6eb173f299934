package coordinator

import "time"

// ActivityType identifies the kind of group activity being run.
type ActivityType string

const (
	ActivityTrivia       ActivityType = "trivia"
	ActivityStory        ActivityType = "story"
	ActivitySyncPlayback ActivityType = "sync_playback"
	ActivitySingAlong    ActivityType = "sing_along"
)

var activityTypeSet = map[ActivityType]struct{}{
	ActivityTrivia:       {},
	ActivityStory:        {},
	ActivitySyncPlayback: {},
	ActivitySingAlong:    {},
}

// ParseActivityType converts a string into a known ActivityType.
func ParseActivityType(value string) (ActivityType, bool) {
	normalized := ActivityType(value)
	_, ok := activityTypeSet[normalized]
	return normalized, ok
}

// ActivityState is the lifecycle state of an activity. Transitions are
// pending, starting, active, paused (back and forth with active), ending,
// ended.
type ActivityState string

const (
	StatePending  ActivityState = "pending"
	StateStarting ActivityState = "starting"
	StateActive   ActivityState = "active"
	StatePaused   ActivityState = "paused"
	StateEnding   ActivityState = "ending"
	StateEnded    ActivityState = "ended"
)

// Activity is one multi-device group activity. Fields are owned by the
// coordinator; callers receive snapshots.
type Activity struct {
	ID            string          `json:"id"`
	Type          ActivityType    `json:"type"`
	DeviceIDs     []string        `json:"device_ids"`
	PersonaID     string          `json:"persona_id"`
	Config        map[string]any  `json:"config,omitempty"`
	State         ActivityState   `json:"state"`
	Scores        map[string]int  `json:"scores"`
	NonResponsive map[string]bool `json:"non_responsive,omitempty"`
	StartedAt     time.Time       `json:"started_at"`
	EndedAt       *time.Time      `json:"ended_at,omitempty"`

	// rounds tracks already-applied score submissions keyed by
	// device id and round id, making retried submissions no-ops.
	rounds map[roundKey]struct{}
	acks   chan string
}

type roundKey struct {
	deviceID string
	roundID  string
}

// HasParticipant reports whether a device is part of the activity.
func (a *Activity) HasParticipant(deviceID string) bool {
	for _, id := range a.DeviceIDs {
		if id == deviceID {
			return true
		}
	}
	return false
}

// snapshot returns a caller-safe copy of the activity.
func (a *Activity) snapshot() *Activity {
	copied := &Activity{
		ID:        a.ID,
		Type:      a.Type,
		DeviceIDs: append([]string(nil), a.DeviceIDs...),
		PersonaID: a.PersonaID,
		State:     a.State,
		Scores:    make(map[string]int, len(a.Scores)),
		StartedAt: a.StartedAt,
	}
	for id, score := range a.Scores {
		copied.Scores[id] = score
	}
	if len(a.Config) > 0 {
		copied.Config = make(map[string]any, len(a.Config))
		for key, value := range a.Config {
			copied.Config[key] = value
		}
	}
	if len(a.NonResponsive) > 0 {
		copied.NonResponsive = make(map[string]bool, len(a.NonResponsive))
		for id, flagged := range a.NonResponsive {
			copied.NonResponsive[id] = flagged
		}
	}
	if a.EndedAt != nil {
		ended := *a.EndedAt
		copied.EndedAt = &ended
	}
	return copied
}
