// responses.go -- Package-wide HTTP response helpers.
//
// Shared by handlers and middleware. Fixed messages are plain ASCII and written by
// concatenation; anything carrying provider-supplied text goes through writeJSON.
package auth

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/MGallo-Code/obol/internal/oauth"
	"github.com/MGallo-Code/obol/internal/provider"
)

// Error categories rendered by flow failures. Clients branch on these, not on messages.
const (
	CategoryConfiguration = "Configuration"
	CategoryAccessDenied  = "AccessDenied"
	CategoryCallback      = "Callback"
)

// InternalServerError logs the error and returns a generic 500 JSON response.
// Never exposes internal error details to prevent information leakage.
func InternalServerError(w http.ResponseWriter, r *http.Request, err error) {
	logError(r, "internal server error", "error", err)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusInternalServerError)
	w.Write([]byte(`{"message":"internal server error"}`))
}

// BadRequest returns a 400 JSON response with the given message.
// Use for client input validation failures.
func BadRequest(w http.ResponseWriter, r *http.Request, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusBadRequest)
	w.Write([]byte(`{"message":"` + message + `"}`))
}

// Unauthorized returns a 401 JSON response with the given message.
func Unauthorized(w http.ResponseWriter, r *http.Request, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	w.Write([]byte(`{"message":"` + message + `"}`))
}

// NotFound returns a 404 JSON response with the given message.
func NotFound(w http.ResponseWriter, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusNotFound)
	w.Write([]byte(`{"message":"` + message + `"}`))
}

// Conflict returns a 409 JSON response with the given message.
func Conflict(w http.ResponseWriter, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusConflict)
	w.Write([]byte(`{"message":"` + message + `"}`))
}

// BadGateway returns a 502 JSON response with the given message.
func BadGateway(w http.ResponseWriter, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusBadGateway)
	w.Write([]byte(`{"message":"` + message + `"}`))
}

// OK returns a 200 JSON response with the given message.
func OK(w http.ResponseWriter, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"message":"` + message + `"}`))
}

// writeJSON encodes v as the response body with the given status.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// flowError renders an authorization or callback failure as {"error": category, "message"}.
// Unclassified errors become a generic 500.
func flowError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		denied   *oauth.ProviderDeniedError
		rejected *oauth.ExchangeRejectedError
	)

	status, category, message := 0, "", ""
	switch {
	case errors.Is(err, provider.ErrUnknownProvider):
		status, category, message = http.StatusNotFound, CategoryConfiguration, "unknown provider"
	case errors.Is(err, provider.ErrNotConfigured):
		status, category, message = http.StatusConflict, CategoryConfiguration, "provider is not configured"
	case errors.Is(err, provider.ErrProviderDisabled):
		status, category, message = http.StatusConflict, CategoryConfiguration, "provider is disabled"
	case errors.As(err, &denied):
		status, category, message = http.StatusForbidden, CategoryAccessDenied, "authorization was denied"
		if denied.Description != "" {
			message = denied.Description
		}
	case errors.Is(err, oauth.ErrAmbiguousCallback):
		status, category, message = http.StatusBadRequest, CategoryCallback, "could not determine provider, restart the connection"
	case errors.Is(err, oauth.ErrMissingCode):
		status, category, message = http.StatusBadRequest, CategoryCallback, "missing authorization code"
	case errors.Is(err, oauth.ErrMissingVerifier), errors.Is(err, oauth.ErrStaleVerifier):
		status, category, message = http.StatusBadRequest, CategoryCallback, "authorization expired or superseded, restart the connection"
	case errors.Is(err, oauth.ErrMissingState), errors.Is(err, oauth.ErrStateMismatch):
		status, category, message = http.StatusBadRequest, CategoryCallback, "callback does not match an authorization in progress, restart the connection"
	case errors.Is(err, oauth.ErrAlreadyProcessed):
		status, category, message = http.StatusConflict, CategoryCallback, "callback already processed"
	case errors.As(err, &rejected):
		status, category, message = http.StatusBadGateway, CategoryCallback, "token exchange failed"
		if rejected.Message != "" {
			message = rejected.Message
		}
	case errors.Is(err, oauth.ErrInvalidExchangeResponse):
		status, category, message = http.StatusBadGateway, CategoryCallback, "token exchange returned an unexpected response"
	default:
		InternalServerError(w, r, err)
		return
	}

	logWarn(r, "oauth flow failed", "category", category, "status", status, "error", err)
	writeJSON(w, status, struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}{category, message})
}
