// view.go -- Connection state, recomputed from the store on every call.
package connect

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"time"

	"github.com/MGallo-Code/obol/internal/store"
)

// ConnectionView is the derived state of one known provider. Never persisted.
type ConnectionView struct {
	Provider    string             `json:"provider"`
	DisplayName string             `json:"displayName"`
	Enabled     bool               `json:"enabled"`
	Configured  bool               `json:"configured"`
	IsConnected bool               `json:"isConnected"`
	Token       *store.TokenRecord `json:"token,omitempty"`
	Profile     *store.UserProfile `json:"profile,omitempty"`
	ExpiresAt   *time.Time         `json:"expiresAt,omitempty"`
}

// Redacted returns a copy with token secrets blanked.
func (v ConnectionView) Redacted() ConnectionView {
	if v.Token == nil {
		return v
	}
	t := *v.Token
	if t.AccessToken != "" {
		t.AccessToken = "[redacted]"
	}
	if t.RefreshToken != "" {
		t.RefreshToken = "[redacted]"
	}
	v.Token = &t
	return v
}

// View computes the ConnectionView of every known provider. A token is enough for
// IsConnected; a missing profile is reported as absent. A provider whose records cannot
// be read is reported as not connected. Token records for providers the registry does
// not know are ignored, not deleted.
func (e *Engine) View(ctx context.Context) (map[string]ConnectionView, error) {
	ids := e.registry.IDs()
	out := make(map[string]ConnectionView, len(ids))

	for _, id := range ids {
		d, err := e.registry.Describe(ctx, id)
		if err != nil {
			return nil, err
		}
		v := ConnectionView{
			Provider:    id,
			DisplayName: d.DisplayName,
			Enabled:     d.Enabled,
			Configured:  d.ClientID != "",
		}

		tok, err := e.tokens.Get(ctx, id, "")
		switch {
		case errors.Is(err, store.ErrNotFound):
		case err != nil:
			// One unreadable provider must not hide the others.
			slog.Warn("reading token, reporting provider as not connected", "provider", id, "error", err)
		default:
			v.IsConnected = true
			v.Token = tok
			if at := tok.ExpiresAt(); !at.IsZero() {
				v.ExpiresAt = &at
			}
			p, err := e.tokens.Profile(ctx, id, tok.UserID)
			if err != nil && !errors.Is(err, store.ErrNotFound) {
				slog.Warn("reading profile", "provider", id, "user_id", tok.UserID, "error", err)
			}
			v.Profile = p
		}
		out[id] = v
	}

	stored, err := e.tokens.ListProviders(ctx)
	if err != nil {
		return nil, err
	}
	for _, p := range stored {
		if !slices.Contains(ids, p) {
			slog.Debug("ignoring orphaned token records", "provider", p)
		}
	}
	return out, nil
}
