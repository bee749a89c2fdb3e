package api

import (
	"context"
	"net/http"
	"strings"
)

type contextKey int

const userIDKey contextKey = iota

// AuthProvider resolves a bearer token to a user id. Implementations
// back onto whatever identity system fronts the middleware.
type AuthProvider interface {
	Authenticate(ctx context.Context, bearer string) (userID string, err error)
}

// StaticTokenAuth is a fixed token-to-user table. Useful for wiring and
// tests.
type StaticTokenAuth map[string]string

func (s StaticTokenAuth) Authenticate(ctx context.Context, bearer string) (string, error) {
	userID, ok := s[bearer]
	if !ok {
		return "", errUnknownToken
	}
	return userID, nil
}

var errUnknownToken = &authError{"unknown bearer token"}

type authError struct{ msg string }

func (e *authError) Error() string { return e.msg }

// AuthMiddleware resolves the Authorization header to a user id and
// stores it on the request context.
func (a *API) AuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if a.auth == nil {
			writeError(w, http.StatusUnauthorized, "authentication not configured")
			return
		}

		header := r.Header.Get("Authorization")
		bearer, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || bearer == "" {
			writeError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}

		userID, err := a.auth.Authenticate(r.Context(), bearer)
		if err != nil {
			a.audit.logFailure(AuditAuthFailure, r, err.Error())
			writeError(w, http.StatusUnauthorized, "invalid bearer token")
			return
		}

		ctx := context.WithValue(r.Context(), userIDKey, userID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func userIDFromContext(ctx context.Context) string {
	userID, _ := ctx.Value(userIDKey).(string)
	return userID
}
