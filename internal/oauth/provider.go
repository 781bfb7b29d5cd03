// Package oauth builds authorization requests, identifies which provider a callback
// belongs to, and talks to the token services that turn codes into tokens.
//
// provider.go -- TokenService interface and shared types.
package oauth

import (
	"context"

	"github.com/MGallo-Code/obol/internal/store"
)

// Grant is the normalized result of a code exchange.
// Profile is nil when the response carried no user info.
type Grant struct {
	UserID  string
	Token   store.TokenRecord
	Profile *store.UserProfile

	// Anonymous is set when the response named no user; the grant is stored under
	// store.AnonymousUserID and no profile fetch is attempted.
	Anonymous bool
}

// TokenService exchanges, refreshes and describes tokens for a provider.
// Implementations translate every failure into this package's error taxonomy;
// raw transport errors never escape unwrapped.
type TokenService interface {
	// Exchange trades an authorization code (plus PKCE verifier, "" when unused) for a Grant.
	Exchange(ctx context.Context, providerID, code, verifier string) (*Grant, error)

	// Refresh trades a refresh token for a complete replacement TokenRecord.
	Refresh(ctx context.Context, providerID, userID, refreshToken string) (*store.TokenRecord, error)

	// FetchProfile returns the profile of the user owning token.
	FetchProfile(ctx context.Context, providerID string, token store.TokenRecord) (*store.UserProfile, error)
}
