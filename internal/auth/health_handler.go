// health_handler.go -- Health check handler for GET /health.
package auth

import (
	"context"
	"net/http"
)

// HealthChecker pings a store backend. Satisfied by *store.RedisKV and *store.PostgresKV.
type HealthChecker interface {
	CheckHealth(ctx context.Context) error
}

// BackendPinger reaches the token backend. Satisfied by *oauth.BackendClient.
type BackendPinger interface {
	Providers(ctx context.Context) ([]string, error)
}

// CheckHealth handles GET /health. Pings the store and the token backend, returns
// per-dependency status. Returns 200 if both are healthy, 503 if either is down.
// A nil dependency reports "disabled" (in-memory store, no backend configured).
func (h *AuthHandler) CheckHealth(w http.ResponseWriter, r *http.Request) {
	storeStatus := "disabled"
	backendStatus := "disabled"

	if h.KV != nil {
		storeStatus = "ok"
		if err := h.KV.CheckHealth(r.Context()); err != nil {
			logError(r, "store health check failed", "error", err)
			storeStatus = "error"
		}
	}
	if h.BE != nil {
		backendStatus = "ok"
		if _, err := h.BE.Providers(r.Context()); err != nil {
			logError(r, "backend health check failed", "error", err)
			backendStatus = "error"
		}
	}

	status := http.StatusOK
	if storeStatus == "error" || backendStatus == "error" {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, struct {
		Store   string `json:"store"`
		Backend string `json:"backend"`
	}{storeStatus, backendStatus})
}
