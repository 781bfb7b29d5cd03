// models.go -- Shared domain types for the store package.
// Persisted as JSON values in whichever KV backend is configured.
package store

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a key or record does not exist.
// Callers use errors.Is to distinguish a true miss from a backend failure.
var ErrNotFound = errors.New("not found")

// DefaultTokenType is applied when a token response omits token_type.
const DefaultTokenType = "Bearer"

// AnonymousUserID keys records whose exchange response carried no user id.
const AnonymousUserID = "default"

// TokenRecord is the canonical token representation, independent of backend response shape.
// Keyed by (provider, UserID). Overwritten as a whole on refresh, never merged.
// RefreshToken is empty when the provider issued none.
// ExpiresIn is nil when the provider did not report a lifetime.
type TokenRecord struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	TokenType    string    `json:"token_type"`
	ExpiresIn    *int64    `json:"expires_in"`
	UserID       string    `json:"user_id"`
	Scope        string    `json:"scope,omitempty"`
	ObtainedAt   time.Time `json:"obtained_at,omitzero"`
}

// HasRefreshToken reports whether the record can be refreshed.
func (t *TokenRecord) HasRefreshToken() bool { return t.RefreshToken != "" }

// ExpiresAt returns when the access token expires, or zero time if unknown.
func (t *TokenRecord) ExpiresAt() time.Time {
	if t.ExpiresIn == nil || t.ObtainedAt.IsZero() {
		return time.Time{}
	}
	return t.ObtainedAt.Add(time.Duration(*t.ExpiresIn) * time.Second)
}

// UserProfile is the provider account a token belongs to. Keyed like TokenRecord.
// Email and AvatarURL are optional -- empty string means not provided.
type UserProfile struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Email     string `json:"email,omitempty"`
	AvatarURL string `json:"avatar_url,omitempty"`
}

// ProviderConfig is the user-entered configuration for one provider.
// Stored as one JSON map keyed by provider id under oauth_provider_configs.
// Enabled is nil when the user never toggled it.
type ProviderConfig struct {
	ClientID     string `json:"clientId"`
	ClientSecret string `json:"clientSecret,omitempty"`
	Enabled      *bool  `json:"enabled,omitempty"`
}
