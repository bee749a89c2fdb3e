package token

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/awnumar/memguard"
	"github.com/google/uuid"
)

// DefaultTTL is how long an issued token stays usable before the sweep
// expires it.
const DefaultTTL = 15 * time.Minute

// DefaultSweepInterval is how often the expiry sweep runs.
const DefaultSweepInterval = time.Minute

// issuer generates wallet-specific DPAN material for a token. Adding a
// wallet is a new table entry in newIssuerTable, not string matching in
// handler code.
type issuer interface {
	// issue returns the network to record on the token and the DPAN
	// material to seal.
	issue(req Request) (network string, dpan []byte, err error)
}

type issuerKey struct {
	platform Platform
	wallet   Wallet
}

type held struct {
	token Token
	dpan  *memguard.Enclave
}

// Service owns all live tokens, keyed by session id. Exactly one
// non-expired token exists per session at a time.
type Service struct {
	mu        sync.Mutex
	bySession map[string]*held

	issuers  map[issuerKey]issuer
	fallback issuer

	ttl    time.Duration
	logger *slog.Logger
	now    func() time.Time

	stopOnce sync.Once
	stop     chan struct{}
}

// Option configures the Service.
type Option func(*Service)

// WithTTL overrides the token lifetime.
func WithTTL(ttl time.Duration) Option {
	return func(s *Service) { s.ttl = ttl }
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

// NewService creates a token service with the built-in issuer table.
func NewService(opts ...Option) *Service {
	s := &Service{
		bySession: make(map[string]*held),
		issuers:   newIssuerTable(),
		fallback:  genericIssuer{},
		ttl:       DefaultTTL,
		logger:    slog.Default(),
		now:       time.Now,
		stop:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Provision issues a token for the session using the wallet-specific
// routine for (platform, wallet), falling back to the generic routine for
// unsupported combinations. If a usable token already exists for the
// session it is returned unchanged.
func (s *Service) Provision(ctx context.Context, sessionID string, req Request) (Token, error) {
	if err := ctx.Err(); err != nil {
		return Token{}, err
	}
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	if h, ok := s.bySession[sessionID]; ok {
		if now.Before(h.token.ExpiresAt) &&
			(h.token.State == StateIssued || h.token.State == StateActivated) {
			return h.token, nil
		}
		// A dead token is replaced below.
		s.destroyLocked(sessionID, h)
	}

	iss, ok := s.issuers[issuerKey{req.Platform, req.Wallet}]
	if !ok {
		iss = s.fallback
	}

	network, dpan, err := iss.issue(req)
	if err != nil {
		return Token{}, fmt.Errorf("%w: %v", ErrProvisioningFailed, err)
	}

	tok := Token{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		CardID:    req.CardID,
		Network:   network,
		Platform:  req.Platform,
		Wallet:    req.Wallet,
		State:     StateIssued,
		CreatedAt: now,
		ExpiresAt: now.Add(s.ttl),
	}
	s.bySession[sessionID] = &held{
		token: tok,
		dpan:  memguard.NewEnclave(dpan),
	}
	return tok, nil
}

// Activate marks the session's token ACTIVATED. Activating an already
// activated token is a no-op success.
func (s *Service) Activate(ctx context.Context, sessionID string) (Token, error) {
	if err := ctx.Err(); err != nil {
		return Token{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	h, ok := s.bySession[sessionID]
	if !ok {
		return Token{}, fmt.Errorf("%s: %w", sessionID, ErrNoToken)
	}
	switch h.token.State {
	case StateActivated:
		return h.token, nil
	case StateIssued:
		if s.now().After(h.token.ExpiresAt) {
			return Token{}, fmt.Errorf("%w: token expired", ErrProvisioningFailed)
		}
		h.token.State = StateActivated
		return h.token, nil
	default:
		return Token{}, fmt.Errorf("%w: token is %s", ErrProvisioningFailed, h.token.State)
	}
}

// Deactivate marks the session's token DEACTIVATED and destroys its DPAN
// material. Deactivating an absent or already deactivated token succeeds
// as a no-op.
func (s *Service) Deactivate(ctx context.Context, sessionID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	h, ok := s.bySession[sessionID]
	if !ok || h.token.State == StateDeactivated {
		return nil
	}
	h.token.State = StateDeactivated
	h.dpan = nil
	return nil
}

// Get returns the session's token, if any.
func (s *Service) Get(sessionID string) (Token, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.bySession[sessionID]
	if !ok {
		return Token{}, false
	}
	return h.token, true
}

// Sweep deactivates and removes tokens whose expiry has passed, returning
// the number removed.
func (s *Service) Sweep() int {
	now := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for sessionID, h := range s.bySession {
		if now.After(h.token.ExpiresAt) {
			h.token.State = StateExpired
			s.destroyLocked(sessionID, h)
			removed++
		}
	}
	return removed
}

// Stats returns live token counts by state.
func (s *Service) Stats() map[State]int {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[State]int)
	for _, h := range s.bySession {
		out[h.token.State]++
	}
	return out
}

// StartSweeper runs Sweep on the given interval until Stop is called.
func (s *Service) StartSweeper(interval time.Duration) {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if n := s.Sweep(); n > 0 {
					s.logger.Debug("token sweep", "removed", n)
				}
			case <-s.stop:
				return
			}
		}
	}()
}

// Stop terminates the background sweeper.
func (s *Service) Stop() {
	s.stopOnce.Do(func() { close(s.stop) })
}

func (s *Service) destroyLocked(sessionID string, h *held) {
	h.dpan = nil
	delete(s.bySession, sessionID)
}
