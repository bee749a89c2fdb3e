// Package routing implements the pre-tap prediction and session
// orchestration core: context collection, signal-fusion MCC prediction,
// card selection hand-off, token provisioning, and the feedback loop
// that writes transaction outcomes back into the signal caches.
package routing

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Payvo-ai/payvo-middleware-sub001/signal"
	"github.com/Payvo-ai/payvo-middleware-sub001/storage"
	"github.com/Payvo-ai/payvo-middleware-sub001/token"
)

// CardSelector is the external collaborator that picks a card for the
// predicted category. Pure function from the orchestrator's point of
// view; ranking rules live outside this module.
type CardSelector interface {
	Select(ctx context.Context, predictedMCC, userID string) (CardSelection, error)
}

// StaticSelector always returns the same card. Useful for wiring and
// tests.
type StaticSelector struct {
	Card CardSelection
}

func (s StaticSelector) Select(ctx context.Context, predictedMCC, userID string) (CardSelection, error) {
	return s.Card, ctx.Err()
}

// InitiateRequest carries the inputs to Initiate. A non-empty Context
// is used as the snapshot directly; otherwise the collector gathers one.
type InitiateRequest struct {
	UserID   string
	Platform token.Platform
	Wallet   token.Wallet
	DeviceID string
	Amount   float64
	Context  *PreTapContext
}

// ActivationResult is returned from Activate.
type ActivationResult struct {
	Session *Session    `json:"session"`
	Token   token.Token `json:"token"`
}

// Feedback carries the actual transaction outcome into Complete.
type Feedback struct {
	ActualMCC    string  `json:"actual_mcc"`
	Amount       float64 `json:"amount,omitempty"`
	MerchantName string  `json:"merchant_name,omitempty"`
}

const (
	// DefaultIdleTimeout is how long a non-terminal session may sit
	// untouched before the reaper expires it.
	DefaultIdleTimeout = 5 * time.Minute
	// DefaultTerminalGrace is how long a terminal session stays
	// queryable before eviction from the registry.
	DefaultTerminalGrace = 10 * time.Minute
	// DefaultReapInterval is how often the reaper scans the registry.
	DefaultReapInterval = 30 * time.Second
	// DefaultCollaboratorTimeout bounds card-selector and persistence
	// calls made outside the caller's request path.
	DefaultCollaboratorTimeout = 2 * time.Second
)

// Orchestrator owns the session registry and sequences every session
// through the routing lifecycle.
type Orchestrator struct {
	collector *Collector
	predictor *Predictor
	selector  CardSelector
	tokens    *token.Service
	caches    *signal.Layer
	store     storage.Store

	reg *registry

	idleTimeout   time.Duration
	terminalGrace time.Duration
	collabTimeout time.Duration
	logger        *slog.Logger

	stopOnce sync.Once
	stop     chan struct{}
}

// Option configures the Orchestrator.
type Option func(*Orchestrator)

// WithIdleTimeout overrides the idle expiry timeout.
func WithIdleTimeout(d time.Duration) Option {
	return func(o *Orchestrator) { o.idleTimeout = d }
}

// WithTerminalGrace overrides how long terminal sessions stay queryable.
func WithTerminalGrace(d time.Duration) Option {
	return func(o *Orchestrator) { o.terminalGrace = d }
}

// WithStore sets the persistence collaborator. Saves are best-effort and
// never fail a session.
func WithStore(s storage.Store) Option {
	return func(o *Orchestrator) { o.store = s }
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *Orchestrator) { o.logger = logger }
}

// New creates an Orchestrator over its collaborators.
func New(collector *Collector, predictor *Predictor, selector CardSelector,
	tokens *token.Service, caches *signal.Layer, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		collector:     collector,
		predictor:     predictor,
		selector:      selector,
		tokens:        tokens,
		caches:        caches,
		reg:           newRegistry(),
		idleTimeout:   DefaultIdleTimeout,
		terminalGrace: DefaultTerminalGrace,
		collabTimeout: DefaultCollaboratorTimeout,
		logger:        slog.Default(),
	}
	o.stop = make(chan struct{})
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Initiate creates a session and drives it synchronously through context
// collection, prediction, and card selection. On success the returned
// snapshot is in CARD_SELECTED.
func (o *Orchestrator) Initiate(ctx context.Context, req InitiateRequest) (*Session, error) {
	now := time.Now()
	s := &Session{
		ID:        uuid.NewString(),
		UserID:    req.UserID,
		Platform:  req.Platform,
		Wallet:    req.Wallet,
		DeviceID:  req.DeviceID,
		Amount:    req.Amount,
		State:     StateInitiated,
		CreatedAt: now,
		UpdatedAt: now,
	}
	h := o.reg.put(s)

	h.mu.Lock()
	defer h.mu.Unlock()

	snap := req.Context
	if snap == nil || snap.Empty() {
		var err error
		snap, err = o.collector.Collect(ctx, req.UserID, s.ID)
		if err != nil {
			return nil, err
		}
	} else {
		snap.SessionID = s.ID
		if snap.CollectedAt.IsZero() {
			snap.CollectedAt = now
		}
	}
	s.Context = snap
	if err := s.transition(StateContextCollected); err != nil {
		return nil, err
	}

	s.Prediction = o.predictor.Predict(ctx, snap)
	if err := s.transition(StatePredicted); err != nil {
		return nil, err
	}
	o.savePrediction(s)

	card, err := o.selectCard(ctx, s)
	if err != nil {
		return nil, err
	}
	s.Card = &card
	if err := s.transition(StateCardSelected); err != nil {
		return nil, err
	}

	return s.snapshot(), nil
}

// Activate provisions and activates the session's payment token. If a
// real-time context is supplied it supersedes the cached snapshot and
// prediction before proceeding: real-time signals outrank cached ones.
// Without one, a snapshot the collector re-captured since initiation is
// picked up the same way.
func (o *Orchestrator) Activate(ctx context.Context, sessionID string, realTime *PreTapContext) (*ActivationResult, error) {
	h, err := o.reg.get(sessionID)
	if err != nil {
		return nil, err
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	s := h.s

	if s.State != StateCardSelected && s.State != StateTokenProvisioned {
		return nil, fmt.Errorf("%w: cannot activate in %s", ErrInvalidTransition, s.State)
	}

	if realTime != nil && !realTime.Empty() {
		realTime.SessionID = s.ID
		if realTime.CollectedAt.IsZero() {
			realTime.CollectedAt = time.Now()
		}
		s.Context = realTime
		s.Prediction = o.predictor.Predict(ctx, realTime)
		o.savePrediction(s)
	} else if snap, ok := o.collector.Cached(s.ID); ok &&
		(s.Context == nil || snap.CollectedAt.After(s.Context.CollectedAt)) {
		s.Context = snap
		s.Prediction = o.predictor.Predict(ctx, snap)
		o.savePrediction(s)
	}

	if s.State == StateCardSelected {
		cardID, network := "", ""
		if s.Card != nil {
			cardID, network = s.Card.CardID, s.Card.Network
		}
		tok, err := o.tokens.Provision(ctx, s.ID, token.Request{
			CardID:   cardID,
			Network:  network,
			Platform: s.Platform,
			Wallet:   s.Wallet,
		})
		if err != nil {
			// Session stays in CARD_SELECTED; the caller may retry.
			return nil, err
		}
		s.TokenID = tok.ID
		if err := s.transition(StateTokenProvisioned); err != nil {
			return nil, err
		}
	}

	tok, err := o.tokens.Activate(ctx, s.ID)
	if err != nil {
		return nil, err
	}
	if err := s.transition(StateActivated); err != nil {
		return nil, err
	}

	return &ActivationResult{Session: s.snapshot(), Token: tok}, nil
}

// Complete finishes the session: feedback (when supplied) is reconciled
// into the signal caches, the token is deactivated, and the session
// transitions to COMPLETED.
func (o *Orchestrator) Complete(ctx context.Context, sessionID string, fb *Feedback) (*Session, error) {
	h, err := o.reg.get(sessionID)
	if err != nil {
		return nil, err
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	s := h.s

	if !s.State.canTransition(StateCompleted) {
		return nil, fmt.Errorf("%w: cannot complete in %s", ErrInvalidTransition, s.State)
	}

	if fb != nil && fb.ActualMCC != "" {
		o.recordFeedback(s, fb)
	}

	if err := o.tokens.Deactivate(ctx, s.ID); err != nil {
		o.logger.Warn("token deactivation failed",
			"session_id", s.ID, "error", err)
	}
	if err := s.transition(StateCompleted); err != nil {
		return nil, err
	}
	o.collector.Forget(s.ID)

	return s.snapshot(), nil
}

// Cancel deactivates any token and moves the session to CANCELLED.
// Cancelling an already terminal session is a no-op success.
func (o *Orchestrator) Cancel(ctx context.Context, sessionID string) (*Session, error) {
	h, err := o.reg.get(sessionID)
	if err != nil {
		return nil, err
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	s := h.s

	if s.State.Terminal() {
		return s.snapshot(), nil
	}

	if err := o.tokens.Deactivate(ctx, s.ID); err != nil {
		o.logger.Warn("token deactivation failed",
			"session_id", s.ID, "error", err)
	}
	if err := s.transition(StateCancelled); err != nil {
		return nil, err
	}
	o.collector.Forget(s.ID)

	return s.snapshot(), nil
}

// Status returns a read-only snapshot of the session.
func (o *Orchestrator) Status(sessionID string) (*Session, error) {
	h, err := o.reg.get(sessionID)
	if err != nil {
		return nil, err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.s.snapshot(), nil
}

// SessionStats returns session counts per state, for metrics.
func (o *Orchestrator) SessionStats() map[State]int {
	return o.reg.statesByCount()
}

// Reap expires idle non-terminal sessions and evicts terminal sessions
// past the grace window, returning (expired, evicted).
func (o *Orchestrator) Reap() (expired, evicted int) {
	now := time.Now()
	for _, h := range o.reg.all() {
		h.mu.Lock()
		s := h.s
		switch {
		case !s.State.Terminal() && idleSince(s, o.idleTimeout, now):
			if err := o.tokens.Deactivate(context.Background(), s.ID); err != nil {
				o.logger.Warn("token deactivation failed",
					"session_id", s.ID, "error", err)
			}
			if err := s.transition(StateExpired); err == nil {
				expired++
				o.collector.Forget(s.ID)
				o.logger.Info("session expired",
					"session_id", s.ID, "user_id", s.UserID)
			}
		case s.State.Terminal() && idleSince(s, o.terminalGrace, now):
			o.reg.remove(s.ID)
			evicted++
		}
		h.mu.Unlock()
	}
	return expired, evicted
}

// StartReaper runs Reap on the given interval until Stop is called.
func (o *Orchestrator) StartReaper(interval time.Duration) {
	if interval <= 0 {
		interval = DefaultReapInterval
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				o.Reap()
			case <-o.stop:
				return
			}
		}
	}()
}

// Stop terminates the background reaper.
func (o *Orchestrator) Stop() {
	o.stopOnce.Do(func() { close(o.stop) })
}

func (o *Orchestrator) selectCard(ctx context.Context, s *Session) (CardSelection, error) {
	sctx, cancel := context.WithTimeout(ctx, o.collabTimeout)
	defer cancel()

	card, err := o.selector.Select(sctx, s.Prediction.MCC, s.UserID)
	if err != nil {
		return CardSelection{}, fmt.Errorf("%w: %v", ErrCardSelection, err)
	}
	return card, nil
}

// savePrediction persists the prediction best-effort. Failure is logged,
// never propagated into the session flow.
func (o *Orchestrator) savePrediction(s *Session) {
	if o.store == nil {
		return
	}
	pred := s.Prediction
	rec := &storage.PredictionRecord{
		SessionID:  s.ID,
		UserID:     s.UserID,
		MCC:        pred.MCC,
		Confidence: pred.Confidence,
		Method:     pred.Method,
		CreatedAt:  pred.PredictedAt,
	}
	for _, src := range pred.Sources {
		rec.Sources = append(rec.Sources, src.Source)
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), o.collabTimeout)
		defer cancel()
		if err := o.store.SavePrediction(ctx, rec); err != nil {
			o.logger.Warn("prediction save failed",
				"session_id", rec.SessionID, "error", err)
		}
	}()
}
