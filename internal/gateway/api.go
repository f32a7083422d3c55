// ABOUTME: HTTP API handlers for auth, install tokens, service registry, and health
// ABOUTME: Maps service errors to the client-visible 401/403/4xx/5xx taxonomy

package gateway

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/kubeatlas/atlas-gateway/internal/auth"
	"github.com/kubeatlas/atlas-gateway/internal/install"
	"github.com/kubeatlas/atlas-gateway/internal/issuer"
)

// registerRoutes wires the full HTTP surface onto the mux. The auth and
// admin gates compose left to right: RequireAdmin always runs behind
// RequireAuth.
func (g *Gateway) registerRoutes(mux *http.ServeMux) {
	requireAuth := auth.RequireAuth(g.validator, g.logger)
	requireAdmin := auth.RequireAdmin(g.logger)
	adminOnly := func(h http.HandlerFunc) http.Handler {
		return requireAuth(requireAdmin(h))
	}

	mux.HandleFunc("POST /auth/validate", g.handleValidate)
	mux.Handle("GET /auth/user", requireAuth(http.HandlerFunc(g.handleUser)))
	mux.HandleFunc("POST /auth/refresh", g.handleRefresh)
	mux.HandleFunc("POST /auth/logout", g.handleLogout)

	mux.Handle("POST /install-tokens", adminOnly(g.handleIssueToken))
	mux.HandleFunc("POST /services/register", g.handleRegister)
	mux.HandleFunc("POST /services/heartbeat", g.handleHeartbeat)
	mux.Handle("GET /services", adminOnly(g.handleListServices))

	mux.HandleFunc("GET /health", g.handleHealth)
	mux.HandleFunc("GET /health/ready", g.handleReady)
}

// validateResponse is the always-200 answer shape for POST /auth/validate.
type validateResponse struct {
	Valid bool           `json:"valid"`
	User  *auth.Identity `json:"user,omitempty"`
	Error string         `json:"error,omitempty"`
}

// handleValidate checks a token presented in the request body. The
// outcome rides in the payload, not the status code, so callers can
// probe tokens without triggering auth-failure handling.
func (g *Gateway) handleValidate(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Token == "" {
		writeJSON(w, http.StatusOK, validateResponse{Valid: false, Error: "missing token"})
		return
	}

	id, err := g.validator.Validate(r.Context(), req.Token)
	if err != nil {
		writeJSON(w, http.StatusOK, validateResponse{Valid: false, Error: "invalid token"})
		return
	}
	writeJSON(w, http.StatusOK, validateResponse{Valid: true, User: id})
}

// handleUser returns the identity behind the bearer token plus its
// flattened role set. RequireAuth already validated the token.
func (g *Gateway) handleUser(w http.ResponseWriter, r *http.Request) {
	id := auth.FromContext(r.Context())
	writeJSON(w, http.StatusOK, map[string]any{
		"user":  id,
		"roles": id.Roles(),
	})
}

func (g *Gateway) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var req struct {
		RefreshToken string `json:"refresh_token"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.RefreshToken == "" {
		writeError(w, http.StatusBadRequest, "BadRequest", "refresh_token is required")
		return
	}

	tr, err := g.issuer.Refresh(r.Context(), req.RefreshToken)
	if err != nil {
		if errors.Is(err, issuer.ErrUpstreamRejected) {
			writeJSON(w, http.StatusUnauthorized, map[string]string{
				"error":             "invalid_token",
				"error_description": "refresh token rejected",
			})
			return
		}
		g.logger.Error("refresh grant failed", "error", err)
		writeError(w, http.StatusInternalServerError, "InternalError", "token refresh failed")
		return
	}
	writeJSON(w, http.StatusOK, tr)
}

func (g *Gateway) handleLogout(w http.ResponseWriter, r *http.Request) {
	var req struct {
		RefreshToken string `json:"refresh_token"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.RefreshToken == "" {
		writeError(w, http.StatusBadRequest, "BadRequest", "refresh_token is required")
		return
	}

	if err := g.issuer.Logout(r.Context(), req.RefreshToken); err != nil {
		g.logger.Error("logout failed", "error", err)
		writeError(w, http.StatusInternalServerError, "InternalError", "logout failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "logged out"})
}

func (g *Gateway) handleIssueToken(w http.ResponseWriter, r *http.Request) {
	var req install.IssueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "BadRequest", "invalid request body")
		return
	}

	id := auth.FromContext(r.Context())
	resp, err := g.install.IssueToken(r.Context(), req, id.Username)
	if err != nil {
		if errors.Is(err, install.ErrUnknownKind) || errors.Is(err, install.ErrInvalidRequest) {
			writeError(w, http.StatusBadRequest, "BadRequest", err.Error())
			return
		}
		g.logger.Error("issuing install token failed", "error", err)
		writeError(w, http.StatusInternalServerError, "InternalError", "failed to issue install token")
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleRegister is deliberately unauthenticated: the single-use install
// token plus the client certificate are the credential.
func (g *Gateway) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req install.RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "BadRequest", "invalid request body")
		return
	}

	resp, err := g.install.Register(r.Context(), req)
	if err != nil {
		switch {
		case errors.Is(err, install.ErrInvalidToken):
			writeError(w, http.StatusBadRequest, "InvalidOrExpiredToken", "install token is invalid or expired")
		case errors.Is(err, install.ErrCertParse):
			writeError(w, http.StatusBadRequest, "CertificateParseError", "client certificate could not be parsed")
		default:
			g.logger.Error("service registration failed", "error", err)
			writeError(w, http.StatusInternalServerError, "InternalError", "registration failed")
		}
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (g *Gateway) handleHeartbeat(w http.ResponseWriter, r *http.Request) {
	var req struct {
		CertSerial string `json:"cert_serial"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.CertSerial == "" {
		writeError(w, http.StatusBadRequest, "BadRequest", "cert_serial is required")
		return
	}

	if err := g.install.Heartbeat(r.Context(), req.CertSerial); err != nil {
		if errors.Is(err, install.ErrServiceNotFound) {
			writeError(w, http.StatusNotFound, "ServiceNotFound", "no service matches that certificate serial")
			return
		}
		g.logger.Error("heartbeat failed", "error", err)
		writeError(w, http.StatusInternalServerError, "InternalError", "heartbeat failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "heartbeat recorded"})
}

func (g *Gateway) handleListServices(w http.ResponseWriter, r *http.Request) {
	kind := r.URL.Query().Get("service_type")

	services, err := g.install.List(r.Context(), kind)
	if err != nil {
		if errors.Is(err, install.ErrUnknownKind) {
			writeError(w, http.StatusBadRequest, "BadRequest", err.Error())
			return
		}
		g.logger.Error("listing services failed", "error", err)
		writeError(w, http.StatusInternalServerError, "InternalError", "failed to list services")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"services": services,
		"count":    len(services),
	})
}

// handleHealth returns 200 OK if the server is alive.
func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// handleReady reflects the bootstrap outcome: 200 once the issuer was
// reachable and the admin seed (if configured) succeeded, 503 otherwise.
func (g *Gateway) handleReady(w http.ResponseWriter, r *http.Request) {
	outcome, detail := g.bootstrap.get()

	status := http.StatusOK
	if outcome != bootstrapReady {
		status = http.StatusServiceUnavailable
	}

	body := map[string]string{"status": outcome, "server_id": g.serverID}
	if detail != "" {
		body["detail"] = detail
	}
	writeJSON(w, status, body)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError emits the structured {error, message} body used for
// business-logic failures.
func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]string{
		"error":   code,
		"message": message,
	})
}
