// handler.go -- HTTP handlers for connection, callback and configuration endpoints.
package auth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/MGallo-Code/obol/internal/connect"
	"github.com/MGallo-Code/obol/internal/oauth"
	"github.com/MGallo-Code/obol/internal/provider"
	"github.com/MGallo-Code/obol/internal/store"
	"github.com/go-chi/chi/v5"
)

// maxBodyBytes caps JSON request bodies.
const maxBodyBytes = 64 << 10

// Connector defines the connection operations needed by the handlers.
// Satisfied by *connect.Engine.
type Connector interface {
	// Authorize builds the provider authorization URL and stores the flow state it needs.
	Authorize(ctx context.Context, providerID string) (*oauth.AuthorizationRequest, error)

	// Complete processes an inbound callback and stores the resulting token.
	Complete(ctx context.Context, cb connect.Callback) (*connect.Result, error)

	// Refresh redeems the stored refresh token for (provider, user).
	Refresh(ctx context.Context, providerID, userID string) (*store.TokenRecord, error)

	// Disconnect removes every token, profile and flow artifact for a provider.
	Disconnect(ctx context.Context, providerID string) error

	// View returns the connection state of every known provider.
	View(ctx context.Context) (map[string]connect.ConnectionView, error)

	// Export renders the MCP integration config.
	Export(ctx context.Context) (*connect.MCPConfig, error)

	// Providers returns every effective provider descriptor.
	Providers(ctx context.Context) ([]provider.Descriptor, error)

	// Configure persists user-entered configuration for a provider.
	Configure(ctx context.Context, providerID string, cfg store.ProviderConfig) (provider.Descriptor, error)

	// Unconfigure removes persisted configuration for a provider.
	Unconfigure(ctx context.Context, providerID string) error
}

// AuthHandler holds dependencies for all HTTP handlers and middleware.
// BaseURL is used to render redirect URIs; CookieSecure controls the scope cookie.
type AuthHandler struct {
	CE           Connector
	KV           HealthChecker
	BE           BackendPinger
	BaseURL      string
	CookieSecure bool
}

// Connect handles GET /connect/{provider} and redirects the browser to the provider's
// consent page. Returns 404 for unknown providers, 409 when not configured or disabled.
// Clients sending Accept: application/json get the URL in the body instead of a redirect.
func (h *AuthHandler) Connect(w http.ResponseWriter, r *http.Request) {
	req, err := h.CE.Authorize(r.Context(), chi.URLParam(r, "provider"))
	if err != nil {
		flowError(w, r, err)
		return
	}

	if r.Header.Get("Accept") == "application/json" {
		writeJSON(w, http.StatusOK, struct {
			Provider string `json:"provider"`
			URL      string `json:"url"`
		}{req.ProviderID, req.URL})
		return
	}
	http.Redirect(w, r, req.URL, http.StatusFound)
}

// Callback handles GET /oauth_callback and GET /oauth_callback/{provider}.
// Returns 200 with the connected provider and profile; a repeated code is a 409.
func (h *AuthHandler) Callback(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	cb := connect.Callback{
		PathSegment:      chi.URLParam(r, "provider"),
		State:            q.Get("state"),
		Code:             q.Get("code"),
		Error:            q.Get("error"),
		ErrorDescription: q.Get("error_description"),
	}

	res, err := h.CE.Complete(r.Context(), cb)
	if err != nil {
		flowError(w, r, err)
		return
	}

	body := struct {
		Provider     string             `json:"provider"`
		UserID       string             `json:"userId"`
		Profile      *store.UserProfile `json:"profile"`
		ProfileError string             `json:"profileError,omitempty"`
	}{Provider: res.Provider, UserID: res.UserID, Profile: res.Profile}
	if res.ProfileErr != nil {
		body.ProfileError = "profile unavailable"
	}
	logInfo(r, "callback completed", "provider", res.Provider, "user_id", res.UserID)
	writeJSON(w, http.StatusOK, body)
}

// Connections handles GET /connections: connection state of every provider with
// token secrets redacted.
func (h *AuthHandler) Connections(w http.ResponseWriter, r *http.Request) {
	view, err := h.CE.View(r.Context())
	if err != nil {
		InternalServerError(w, r, err)
		return
	}
	for id, v := range view {
		view[id] = v.Redacted()
	}
	writeJSON(w, http.StatusOK, view)
}

// RefreshConnection handles POST /connections/{provider}/refresh?user_id=.
// Returns 409 when there is no refresh token, 401 when the provider rejected it
// (the connection is removed), 502 when the backend is unreachable.
func (h *AuthHandler) RefreshConnection(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "provider")
	rec, err := h.CE.Refresh(r.Context(), id, r.URL.Query().Get("user_id"))
	if err != nil {
		var rej *oauth.RefreshRejectedError
		switch {
		case errors.Is(err, provider.ErrUnknownProvider), errors.Is(err, store.ErrNotFound):
			NotFound(w, "connection not found")
		case errors.Is(err, oauth.ErrNoRefreshToken):
			Conflict(w, "connection has no refresh token")
		case errors.As(err, &rej):
			logWarn(r, "refresh rejected", "provider", id, "status", rej.StatusCode)
			Unauthorized(w, r, "refresh rejected, reconnect required")
		case errors.Is(err, oauth.ErrBackendUnavailable):
			logError(r, "refresh failed", "provider", id, "error", err)
			BadGateway(w, "token backend unavailable")
		default:
			InternalServerError(w, r, err)
		}
		return
	}

	body := struct {
		Provider  string     `json:"provider"`
		UserID    string     `json:"userId"`
		ExpiresAt *time.Time `json:"expiresAt"`
	}{Provider: id, UserID: rec.UserID}
	if exp := rec.ExpiresAt(); !exp.IsZero() {
		body.ExpiresAt = &exp
	}
	writeJSON(w, http.StatusOK, body)
}

// Disconnect handles DELETE /connections/{provider}.
func (h *AuthHandler) Disconnect(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "provider")
	if err := h.CE.Disconnect(r.Context(), id); err != nil {
		if errors.Is(err, provider.ErrUnknownProvider) {
			NotFound(w, "unknown provider")
			return
		}
		InternalServerError(w, r, err)
		return
	}
	logInfo(r, "provider disconnected", "provider", id)
	OK(w, "disconnected")
}

// Export handles GET /export: the MCP integration config, access tokens included.
func (h *AuthHandler) Export(w http.ResponseWriter, r *http.Request) {
	cfg, err := h.CE.Export(r.Context())
	if err != nil {
		InternalServerError(w, r, err)
		return
	}
	w.Header().Set("Cache-Control", "no-store")
	writeJSON(w, http.StatusOK, cfg)
}

// providerView is the public shape of a descriptor. Secrets are never rendered.
type providerView struct {
	ID           string   `json:"id"`
	DisplayName  string   `json:"displayName"`
	ClientID     string   `json:"clientId"`
	Enabled      bool     `json:"enabled"`
	Configured   bool     `json:"configured"`
	RequiresPKCE bool     `json:"requiresPkce"`
	Scope        string   `json:"scope"`
	RedirectURI  string   `json:"redirectUri"`
	Aliases      []string `json:"aliases,omitempty"`
}

func (h *AuthHandler) viewOf(d provider.Descriptor) providerView {
	return providerView{
		ID:           d.ID,
		DisplayName:  d.DisplayName,
		ClientID:     d.ClientID,
		Enabled:      d.Enabled,
		Configured:   d.ClientID != "",
		RequiresPKCE: d.RequiresPKCE,
		Scope:        d.Scope,
		RedirectURI:  d.RedirectURL(h.BaseURL),
		Aliases:      d.Aliases,
	}
}

// ListProviders handles GET /config/providers.
func (h *AuthHandler) ListProviders(w http.ResponseWriter, r *http.Request) {
	ds, err := h.CE.Providers(r.Context())
	if err != nil {
		InternalServerError(w, r, err)
		return
	}
	out := make([]providerView, 0, len(ds))
	for _, d := range ds {
		out = append(out, h.viewOf(d))
	}
	writeJSON(w, http.StatusOK, out)
}

// SaveProvider handles PUT /config/providers/{provider} with
// {"clientId", "clientSecret", "enabled"}. Returns the effective descriptor.
func (h *AuthHandler) SaveProvider(w http.ResponseWriter, r *http.Request) {
	var input store.ProviderConfig
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		logWarn(r, "failed to decode provider config", "error", err)
		BadRequest(w, r, "error decoding request body")
		return
	}

	d, err := h.CE.Configure(r.Context(), chi.URLParam(r, "provider"), input)
	if err != nil {
		switch {
		case errors.Is(err, provider.ErrUnknownProvider):
			NotFound(w, "unknown provider")
		case errors.Is(err, connect.ErrInvalidConfig):
			BadRequest(w, r, "invalid client id")
		default:
			InternalServerError(w, r, err)
		}
		return
	}
	writeJSON(w, http.StatusOK, h.viewOf(d))
}

// DeleteProvider handles DELETE /config/providers/{provider}.
func (h *AuthHandler) DeleteProvider(w http.ResponseWriter, r *http.Request) {
	if err := h.CE.Unconfigure(r.Context(), chi.URLParam(r, "provider")); err != nil {
		if errors.Is(err, provider.ErrUnknownProvider) {
			NotFound(w, "unknown provider")
			return
		}
		InternalServerError(w, r, err)
		return
	}
	OK(w, "configuration removed")
}
