// ABOUTME: HTTP middleware gating requests on bearer token validation
// ABOUTME: RequireAuth attaches the identity; RequireAdmin enforces the admin role

package auth

import (
	"log/slog"
	"net/http"
	"strings"
)

// extractBearerToken extracts a bearer token from the Authorization header.
// Returns the token and an error message (empty if successful).
func extractBearerToken(authHeader string) (string, string) {
	if authHeader == "" {
		return "", "missing authorization header"
	}
	if !strings.HasPrefix(authHeader, "Bearer ") {
		return "", "invalid authorization header format"
	}
	token := strings.TrimPrefix(authHeader, "Bearer ")
	if token == "" {
		return "", "empty token"
	}
	return token, ""
}

// RequireAuth creates an HTTP middleware that validates the bearer token
// and attaches the verified identity to the request context.
//
// Header extraction happens before any network call: a missing or
// malformed Authorization header is rejected with 401 without touching
// the validator. Validation failures also yield 401; no internal error
// detail is exposed in the response.
func RequireAuth(validator TokenValidator, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, errMsg := extractBearerToken(r.Header.Get("Authorization"))
			if errMsg != "" {
				unauthorized(w, errMsg)
				return
			}

			identity, err := validator.Validate(r.Context(), token)
			if err != nil {
				logger.Warn("token validation failed", "error", err)
				unauthorized(w, "invalid token")
				return
			}

			next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), identity)))
		})
	}
}

// RequireAdmin creates an HTTP middleware that requires the admin role.
// Must be used after RequireAuth: authentication attaches the identity
// the admin check reads. An authenticated non-admin gets 403, distinct
// from the unauthenticated 401.
func RequireAdmin(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			identity := FromContext(r.Context())
			if identity == nil {
				unauthorized(w, "authentication required")
				return
			}

			if !identity.IsAdmin() {
				logger.Warn("admin access denied", "username", identity.Username, "roles", identity.Roles())
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusForbidden)
				w.Write([]byte(`{"error":"Forbidden","message":"admin role required"}`))
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func unauthorized(w http.ResponseWriter, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	w.Write([]byte(`{"error":"Unauthorized","message":"` + msg + `"}`))
}
