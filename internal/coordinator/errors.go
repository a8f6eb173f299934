package coordinator

import "fmt"

// NotFoundError reports an unknown or already ended activity.
type NotFoundError struct {
	ActivityID string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("activity not found: %s", e.ActivityID)
}

// StartError reports an activity that failed to start because no
// participant acknowledged within the ack window. The activity does not
// exist afterwards.
type StartError struct {
	ActivityID string
	Reason     string
}

func (e *StartError) Error() string {
	return fmt.Sprintf("activity %s failed to start: %s", e.ActivityID, e.Reason)
}

// StateError reports an operation applied in the wrong activity state.
type StateError struct {
	ActivityID string
	State      ActivityState
	Op         string
}

func (e *StateError) Error() string {
	return fmt.Sprintf("cannot %s activity %s in state %s", e.Op, e.ActivityID, e.State)
}
