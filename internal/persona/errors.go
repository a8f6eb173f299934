package persona

import "fmt"

// NotFoundError reports that no bundle exists for a persona id. It is a
// client-input error and is surfaced to callers as-is.
type NotFoundError struct {
	PersonaID string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("persona not found: %s", e.PersonaID)
}

// LoadError reports a bundle that exists but could not be loaded or
// validated.
type LoadError struct {
	PersonaID string
	Err       error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("load persona %s: %v", e.PersonaID, e.Err)
}

func (e *LoadError) Unwrap() error { return e.Err }

// SwitchError reports a failed persona switch. The device's previous
// active-persona pointer is guaranteed untouched when this is returned.
type SwitchError struct {
	DeviceID      string
	FromPersonaID string
	ToPersonaID   string
	Err           error
}

func (e *SwitchError) Error() string {
	from := e.FromPersonaID
	if from == "" {
		from = "none"
	}
	return fmt.Sprintf("switch device %s from %s to %s: %v", e.DeviceID, from, e.ToPersonaID, e.Err)
}

func (e *SwitchError) Unwrap() error { return e.Err }
