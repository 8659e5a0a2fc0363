package game

import "errors"

// Validation errors returned by store mutations. These are expected
// operator-facing conditions, surfaced in command acks, never fatal.
var (
	ErrUnknownProp     = errors.New("game: unknown prop")
	ErrUnknownSensor   = errors.New("game: unknown sensor")
	ErrSessionActive   = errors.New("game: session already active")
	ErrNoActiveSession = errors.New("game: no active session")
	ErrAlreadyPaused   = errors.New("game: session already paused")
	ErrNotPaused       = errors.New("game: session not paused")
)
