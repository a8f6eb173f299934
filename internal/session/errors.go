package session

import "fmt"

// NotFoundError reports an unknown session id.
type NotFoundError struct {
	SessionID string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("session not found: %s", e.SessionID)
}

// ExpiredError reports access to a session past its TTL. The session has
// been transitioned to ended by the time this is returned.
type ExpiredError struct {
	SessionID string
}

func (e *ExpiredError) Error() string {
	return fmt.Sprintf("session expired: %s", e.SessionID)
}

// HandoffError reports a failed device-to-device session transfer. The
// original binding is untouched when this is returned.
type HandoffError struct {
	SessionID    string
	FromDeviceID string
	ToDeviceID   string
	Err          error
}

func (e *HandoffError) Error() string {
	return fmt.Sprintf("handoff of session %s from %s to %s failed: %v",
		e.SessionID, e.FromDeviceID, e.ToDeviceID, e.Err)
}

func (e *HandoffError) Unwrap() error {
	return e.Err
}
