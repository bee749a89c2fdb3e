package routing

import (
	"fmt"
	"time"

	"github.com/Payvo-ai/payvo-middleware-sub001/token"
)

// State is a session's position in the routing lifecycle.
type State string

const (
	StateInitiated        State = "INITIATED"
	StateContextCollected State = "CONTEXT_COLLECTED"
	StatePredicted        State = "PREDICTED"
	StateCardSelected     State = "CARD_SELECTED"
	StateTokenProvisioned State = "TOKEN_PROVISIONED"
	StateActivated        State = "ACTIVATED"
	StateCompleted        State = "COMPLETED"
	StateCancelled        State = "CANCELLED"
	StateExpired          State = "EXPIRED"
)

// transitions is the closed transition graph. CANCELLED and EXPIRED are
// reachable from every non-terminal state and are handled in
// canTransition rather than listed per state.
var transitions = map[State][]State{
	StateInitiated:        {StateContextCollected},
	StateContextCollected: {StatePredicted},
	StatePredicted:        {StateCardSelected},
	StateCardSelected:     {StateTokenProvisioned},
	StateTokenProvisioned: {StateActivated},
	StateActivated:        {StateCompleted},
}

// Terminal reports whether the state admits no further transitions.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateCancelled || s == StateExpired
}

func (s State) canTransition(to State) bool {
	if s.Terminal() {
		return false
	}
	if to == StateCancelled || to == StateExpired {
		return true
	}
	for _, next := range transitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

// Transition records one applied state change.
type Transition struct {
	From State     `json:"from"`
	To   State     `json:"to"`
	At   time.Time `json:"at"`
}

// CardSelection is the external card selector's decision.
type CardSelection struct {
	CardID     string  `json:"card_id"`
	Network    string  `json:"network"`
	Reason     string  `json:"reason,omitempty"`
	Confidence float64 `json:"confidence"`
}

// Session is the unit of work owned by the orchestrator, from initiation
// through completion, cancellation, or expiry.
type Session struct {
	ID       string         `json:"id"`
	UserID   string         `json:"user_id"`
	Platform token.Platform `json:"platform"`
	Wallet   token.Wallet   `json:"wallet"`
	DeviceID string         `json:"device_id,omitempty"`
	Amount   float64        `json:"amount,omitempty"`

	State      State          `json:"state"`
	Context    *PreTapContext `json:"context,omitempty"`
	Prediction *Prediction    `json:"prediction,omitempty"`
	Card       *CardSelection `json:"card,omitempty"`
	TokenID    string         `json:"token_id,omitempty"`

	CreatedAt   time.Time    `json:"created_at"`
	UpdatedAt   time.Time    `json:"updated_at"`
	Transitions []Transition `json:"transitions"`
}

// transition applies a state change or fails with ErrInvalidTransition,
// leaving the session unchanged. Callers must hold the session's handle
// lock.
func (s *Session) transition(to State) error {
	if !s.State.canTransition(to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, s.State, to)
	}
	now := time.Now()
	s.Transitions = append(s.Transitions, Transition{From: s.State, To: to, At: now})
	s.State = to
	s.UpdatedAt = now
	return nil
}

// snapshot returns a copy safe to hand to callers after the handle lock
// is released.
func (s *Session) snapshot() *Session {
	cp := *s
	cp.Transitions = append([]Transition(nil), s.Transitions...)
	return &cp
}
