package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/Payvo-ai/payvo-middleware-sub001/routing"
	"github.com/Payvo-ai/payvo-middleware-sub001/token"
)

// Health reports liveness.
func (a *API) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{Status: "ok"})
}

// Metrics serves the operational snapshot.
func (a *API) Metrics(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, MetricsResponse{
		Sessions: a.orch.SessionStats(),
		Caches:   a.caches.StatsByKind(),
		Tokens:   a.tokens.Stats(),
	})
}

// InitiateSession starts a routing session and runs it through context
// collection, prediction, and card selection.
func (a *API) InitiateSession(w http.ResponseWriter, r *http.Request) {
	userID := userIDFromContext(r.Context())

	if ok, retryAfter := a.rateLimiter.allow(userID); !ok {
		a.audit.logFailure(AuditInitiateRateLimited, r, "initiate limit exceeded",
			slog.String("user_id", userID))
		writeRateLimited(w, retryAfter)
		return
	}

	var req InitiateSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Platform == "" || req.Wallet == "" {
		writeError(w, http.StatusBadRequest, "platform and wallet are required")
		return
	}

	s, err := a.orch.Initiate(r.Context(), routing.InitiateRequest{
		UserID:   userID,
		Platform: req.Platform,
		Wallet:   req.Wallet,
		DeviceID: req.DeviceID,
		Amount:   req.Amount,
		Context:  req.Context.toContext(),
	})
	if err != nil {
		mapError(w, err)
		return
	}

	a.audit.logSession(AuditSessionInitiated, r, s.ID,
		slog.String("predicted_mcc", s.Prediction.MCC),
		slog.String("bucket", string(s.Prediction.Bucket)))
	writeJSON(w, http.StatusCreated, toSessionResponse(s))
}

// ActivateSession provisions and activates the session's payment token,
// optionally under a fresh real-time context.
func (a *API) ActivateSession(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	var req ActivateSessionRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}

	res, err := a.orch.Activate(r.Context(), sessionID, req.Context.toContext())
	if err != nil {
		if errors.Is(err, token.ErrProvisioningFailed) {
			a.audit.logSession(AuditProvisioningFailed, r, sessionID,
				slog.String("error", err.Error()))
		}
		mapError(w, err)
		return
	}

	a.audit.logSession(AuditSessionActivated, r, sessionID,
		slog.String("token_id", res.Token.ID))
	writeJSON(w, http.StatusOK, ActivateSessionResponse{
		Session: toSessionResponse(res.Session),
		Token:   res.Token,
	})
}

// CompleteSession finishes the session, feeding the actual MCC back into
// the signal caches when supplied.
func (a *API) CompleteSession(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	var req CompleteSessionRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}

	var fb *routing.Feedback
	if req.ActualMCC != "" {
		fb = &routing.Feedback{
			ActualMCC:    req.ActualMCC,
			Amount:       req.Amount,
			MerchantName: req.MerchantName,
		}
	}

	s, err := a.orch.Complete(r.Context(), sessionID, fb)
	if err != nil {
		mapError(w, err)
		return
	}

	a.audit.logSession(AuditSessionCompleted, r, sessionID,
		slog.String("actual_mcc", req.ActualMCC))
	writeJSON(w, http.StatusOK, toSessionResponse(s))
}

// CancelSession aborts the session. Cancelling a terminal session
// succeeds without effect.
func (a *API) CancelSession(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	s, err := a.orch.Cancel(r.Context(), sessionID)
	if err != nil {
		mapError(w, err)
		return
	}

	a.audit.logSession(AuditSessionCancelled, r, sessionID)
	writeJSON(w, http.StatusOK, toSessionResponse(s))
}

// SessionStatus returns the current session view.
func (a *API) SessionStatus(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	s, err := a.orch.Status(sessionID)
	if err != nil {
		mapError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toSessionResponse(s))
}
