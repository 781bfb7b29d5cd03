// middleware.go

// Browser scope middleware.
package auth

import (
	"net/http"

	"github.com/MGallo-Code/obol/internal/store"
	"github.com/gofrs/uuid/v5"
)

// ScopeCookie names the cookie carrying the browser scope id.
const ScopeCookie = "obol_scope"

// scopeMaxAge keeps the scope across browser restarts (400 days, the cap browsers enforce).
const scopeMaxAge = 400 * 24 * 60 * 60

// BrowserScope attaches the caller's scope to the request context, issuing a new
// UUIDv7 scope cookie when none (or a malformed one) is present.
// Every store access downstream is namespaced by this scope.
func (h *AuthHandler) BrowserScope(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var scope uuid.UUID
		if c, err := r.Cookie(ScopeCookie); err == nil {
			// Parse failure falls through to a fresh scope.
			if id, err := uuid.FromString(c.Value); err == nil {
				scope = id
			}
		}

		if scope == uuid.Nil {
			id, err := uuid.NewV7()
			if err != nil {
				InternalServerError(w, r, err)
				return
			}
			scope = id
			// Lax so the cookie rides along on the provider's top-level redirect back.
			http.SetCookie(w, &http.Cookie{
				Name:     ScopeCookie,
				Value:    scope.String(),
				Path:     "/",
				MaxAge:   scopeMaxAge,
				HttpOnly: true,
				Secure:   h.CookieSecure,
				SameSite: http.SameSiteLaxMode,
			})
		}

		ctx := store.WithScope(r.Context(), scope.String())
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
