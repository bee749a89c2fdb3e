// Package api exposes the routing engine over REST.
package api

import (
	"log/slog"
	"os"

	"github.com/go-chi/chi/v5"

	"github.com/Payvo-ai/payvo-middleware-sub001/routing"
	"github.com/Payvo-ai/payvo-middleware-sub001/signal"
	"github.com/Payvo-ai/payvo-middleware-sub001/token"
)

// API holds the dependencies needed by the REST handlers.
type API struct {
	orch        *routing.Orchestrator
	caches      *signal.Layer
	tokens      *token.Service
	auth        AuthProvider
	rateLimiter *initiateRateLimiter
	audit       *auditLogger
}

// Option configures the API instance.
type Option func(*API)

// WithLogger sets the structured logger for audit events.
// If not set, a default JSON logger writing to stderr is used.
func WithLogger(logger *slog.Logger) Option {
	return func(a *API) {
		audit := newAuditLogger(logger)
		if a.audit != nil {
			audit.metrics = a.audit.metrics
		}
		a.audit = audit
	}
}

// WithAuth sets the request authentication provider. Without one every
// request is rejected.
func WithAuth(p AuthProvider) Option {
	return func(a *API) { a.auth = p }
}

// WithAlertFunc installs the anomaly alert callback.
func WithAlertFunc(fn AlertFunc) Option {
	return func(a *API) {
		if a.audit == nil {
			a.audit = newAuditLogger(slog.New(slog.NewJSONHandler(os.Stderr, nil)))
		}
		a.audit.metrics = newMetricsCollector(fn)
	}
}

// New creates a new API instance.
func New(orch *routing.Orchestrator, caches *signal.Layer, tokens *token.Service, opts ...Option) *API {
	a := &API{
		orch:        orch,
		caches:      caches,
		tokens:      tokens,
		rateLimiter: newInitiateRateLimiter(),
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.audit == nil {
		a.audit = newAuditLogger(slog.New(slog.NewJSONHandler(os.Stderr, nil)))
	}
	return a
}

// Router returns a chi.Router with all API routes mounted.
func (a *API) Router() chi.Router {
	r := chi.NewRouter()

	r.Get("/health", a.Health)
	r.Get("/metrics", a.Metrics)

	r.Route("/sessions", func(r chi.Router) {
		r.Use(a.AuthMiddleware)
		r.Post("/", a.InitiateSession)
		r.Get("/{sessionID}", a.SessionStatus)
		r.Post("/{sessionID}/activate", a.ActivateSession)
		r.Post("/{sessionID}/complete", a.CompleteSession)
		r.Post("/{sessionID}/cancel", a.CancelSession)
	})

	return r
}
