package api

import (
	"time"

	"github.com/Payvo-ai/payvo-middleware-sub001/routing"
	"github.com/Payvo-ai/payvo-middleware-sub001/signal"
	"github.com/Payvo-ai/payvo-middleware-sub001/token"
)

// ErrorResponse is the uniform error payload.
type ErrorResponse struct {
	Error string `json:"error"`
}

// InitiateSessionRequest starts a new routing session. The context is
// optional; signals the client does not supply are collected server-side
// where providers are configured.
type InitiateSessionRequest struct {
	Platform token.Platform  `json:"platform"`
	Wallet   token.Wallet    `json:"wallet"`
	DeviceID string          `json:"device_id,omitempty"`
	Amount   float64         `json:"amount,omitempty"`
	Context  *ContextPayload `json:"context,omitempty"`
}

// ContextPayload is the client-supplied real-time signal snapshot sent
// with activation. Every field is optional.
type ContextPayload struct {
	Location *LocationPayload     `json:"location,omitempty"`
	Wifi     []signal.AccessPoint `json:"wifi,omitempty"`
	Beacons  []signal.Beacon      `json:"beacons,omitempty"`
	Terminal *TerminalPayload     `json:"terminal,omitempty"`
}

// LocationPayload is a device position fix.
type LocationPayload struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Accuracy  float64 `json:"accuracy,omitempty"`
}

// TerminalPayload identifies the POS terminal.
type TerminalPayload struct {
	TerminalID string `json:"terminal_id"`
	DeviceID   string `json:"device_id,omitempty"`
	Kernel     string `json:"kernel,omitempty"`
}

func (p *ContextPayload) toContext() *routing.PreTapContext {
	if p == nil {
		return nil
	}
	ctx := &routing.PreTapContext{
		Wifi:        p.Wifi,
		Beacons:     p.Beacons,
		CollectedAt: time.Now(),
	}
	if p.Location != nil {
		ctx.Location = &routing.Location{
			Latitude:  p.Location.Latitude,
			Longitude: p.Location.Longitude,
			Accuracy:  p.Location.Accuracy,
		}
	}
	if p.Terminal != nil {
		ctx.Terminal = &routing.Terminal{
			TerminalID: p.Terminal.TerminalID,
			DeviceID:   p.Terminal.DeviceID,
			Kernel:     p.Terminal.Kernel,
		}
	}
	return ctx
}

// ActivateSessionRequest carries the optional real-time context.
type ActivateSessionRequest struct {
	Context *ContextPayload `json:"context,omitempty"`
}

// CompleteSessionRequest carries the transaction outcome.
type CompleteSessionRequest struct {
	ActualMCC    string  `json:"actual_mcc,omitempty"`
	Amount       float64 `json:"amount,omitempty"`
	MerchantName string  `json:"merchant_name,omitempty"`
}

// SessionResponse is the session view returned by every session endpoint.
type SessionResponse struct {
	ID         string                 `json:"id"`
	State      routing.State          `json:"state"`
	Prediction *routing.Prediction    `json:"prediction,omitempty"`
	Card       *routing.CardSelection `json:"card,omitempty"`
	TokenID    string                 `json:"token_id,omitempty"`
	CreatedAt  time.Time              `json:"created_at"`
	UpdatedAt  time.Time              `json:"updated_at"`
}

func toSessionResponse(s *routing.Session) SessionResponse {
	return SessionResponse{
		ID:         s.ID,
		State:      s.State,
		Prediction: s.Prediction,
		Card:       s.Card,
		TokenID:    s.TokenID,
		CreatedAt:  s.CreatedAt,
		UpdatedAt:  s.UpdatedAt,
	}
}

// ActivateSessionResponse pairs the session with the activated token.
type ActivateSessionResponse struct {
	Session SessionResponse `json:"session"`
	Token   token.Token     `json:"token"`
}

// MetricsResponse is the operational snapshot served at /metrics.
type MetricsResponse struct {
	Sessions map[routing.State]int        `json:"sessions"`
	Caches   map[signal.Kind]signal.Stats `json:"caches"`
	Tokens   map[token.State]int          `json:"tokens"`
}

// HealthResponse is the liveness payload.
type HealthResponse struct {
	Status string `json:"status"`
}
