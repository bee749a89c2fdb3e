package api

import (
	"log/slog"
	"net/http"
	"time"
)

// AuditEvent identifies the type of lifecycle action being logged.
type AuditEvent string

const (
	AuditSessionInitiated    AuditEvent = "session_initiated"
	AuditSessionActivated    AuditEvent = "session_activated"
	AuditSessionCompleted    AuditEvent = "session_completed"
	AuditSessionCancelled    AuditEvent = "session_cancelled"
	AuditAuthFailure         AuditEvent = "auth_failure"
	AuditInitiateRateLimited AuditEvent = "initiate_rate_limited"
	AuditProvisioningFailed  AuditEvent = "provisioning_failed"
)

// auditLogger wraps slog.Logger for structured lifecycle audit logging.
type auditLogger struct {
	logger  *slog.Logger
	metrics *metricsCollector
}

func newAuditLogger(logger *slog.Logger) *auditLogger {
	return &auditLogger{
		logger: logger.With("component", "audit"),
	}
}

// log writes a structured audit log entry. User and session ids are
// opaque identifiers safe for logs; no card or token material appears.
func (al *auditLogger) log(event AuditEvent, r *http.Request, attrs ...slog.Attr) {
	baseAttrs := []slog.Attr{
		slog.String("event", string(event)),
		slog.String("remote_addr", r.RemoteAddr),
		slog.String("timestamp", time.Now().UTC().Format(time.RFC3339)),
	}
	baseAttrs = append(baseAttrs, attrs...)

	al.logger.LogAttrs(r.Context(), slog.LevelInfo, "audit", baseAttrs...)
	if al.metrics != nil {
		al.metrics.recordEvent(event)
	}
}

// logSession is a convenience for events tied to a session.
func (al *auditLogger) logSession(event AuditEvent, r *http.Request, sessionID string, extra ...slog.Attr) {
	attrs := []slog.Attr{
		slog.String("session_id", sessionID),
		slog.String("user_id", userIDFromContext(r.Context())),
	}
	attrs = append(attrs, extra...)
	al.log(event, r, attrs...)
}

// logFailure logs a rejected or failed request.
func (al *auditLogger) logFailure(event AuditEvent, r *http.Request, reason string, extra ...slog.Attr) {
	attrs := []slog.Attr{
		slog.String("reason", reason),
	}
	attrs = append(attrs, extra...)
	al.log(event, r, attrs...)
}
