package routing

import "errors"

var (
	// ErrSessionNotFound indicates an unknown, expired, or evicted
	// session id.
	ErrSessionNotFound = errors.New("session not found")
	// ErrInvalidTransition indicates a state-machine move outside the
	// allowed graph. The session is left unchanged.
	ErrInvalidTransition = errors.New("invalid session transition")
	// ErrCardSelection indicates the card selector collaborator failed.
	ErrCardSelection = errors.New("card selection failed")
)
