// google.go -- Direct Google OAuth2 + OIDC token service.
//
// Used for one provider id (default "drive") when a client secret is available, so the
// code goes straight to Google instead of through the exchange backend.
package oauth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"

	"github.com/MGallo-Code/obol/internal/store"
)

// GoogleIssuer is Google's OIDC issuer URL.
const GoogleIssuer = "https://accounts.google.com"

// GoogleConfig configures a GoogleProvider.
type GoogleConfig struct {
	ProviderID   string
	ClientID     string
	ClientSecret string
	RedirectURL  string
	Scopes       []string

	// IssuerURL defaults to GoogleIssuer.
	IssuerURL string
}

// GoogleProvider implements TokenService directly against Google.
type GoogleProvider struct {
	id       string
	config   *oauth2.Config
	oidc     *oidc.Provider
	verifier *oidc.IDTokenVerifier
	now      func() time.Time
}

// NewGoogleProvider creates a GoogleProvider by fetching the issuer's OIDC discovery document.
// Makes an outbound HTTP request at startup; returns an error if unreachable.
func NewGoogleProvider(ctx context.Context, cfg GoogleConfig) (*GoogleProvider, error) {
	issuer := cfg.IssuerURL
	if issuer == "" {
		issuer = GoogleIssuer
	}
	p, err := oidc.NewProvider(ctx, issuer)
	if err != nil {
		return nil, fmt.Errorf("google oidc discovery: %w", err)
	}
	scopes := cfg.Scopes
	if len(scopes) == 0 {
		scopes = []string{oidc.ScopeOpenID, "email", "profile"}
	}
	return &GoogleProvider{
		id: cfg.ProviderID,
		config: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Endpoint:     p.Endpoint(),
			Scopes:       scopes,
		},
		oidc:     p,
		verifier: p.Verifier(&oidc.Config{ClientID: cfg.ClientID}),
		now:      time.Now,
	}, nil
}

// ProviderID returns the provider id this service answers for.
func (p *GoogleProvider) ProviderID() string { return p.id }

// Exchange trades the code for tokens and verifies the returned ID token
// (signature against Google's JWKS, aud, exp). The ID token subject is the user id.
func (p *GoogleProvider) Exchange(ctx context.Context, providerID, code, verifier string) (*Grant, error) {
	var opts []oauth2.AuthCodeOption
	if verifier != "" {
		opts = append(opts, oauth2.SetAuthURLParam("code_verifier", verifier))
	}
	token, err := p.config.Exchange(ctx, code, opts...)
	if err != nil {
		return nil, &ExchangeRejectedError{Provider: providerID, StatusCode: retrieveStatus(err), Message: retrieveMessage(err), Err: err}
	}

	rawIDToken, ok := token.Extra("id_token").(string)
	if !ok {
		return nil, fmt.Errorf("%w: no id_token in token response", ErrInvalidExchangeResponse)
	}
	idToken, err := p.verifier.Verify(ctx, rawIDToken)
	if err != nil {
		return nil, fmt.Errorf("%w: verifying id token: %v", ErrInvalidExchangeResponse, err)
	}

	var c struct {
		Sub     string `json:"sub"`
		Email   string `json:"email"`
		Name    string `json:"name"`
		Picture string `json:"picture"`
	}
	if err := idToken.Claims(&c); err != nil {
		return nil, fmt.Errorf("%w: extracting id token claims: %v", ErrInvalidExchangeResponse, err)
	}

	return &Grant{
		UserID:  c.Sub,
		Token:   p.record(token, c.Sub),
		Profile: &store.UserProfile{ID: c.Sub, Name: c.Name, Email: c.Email, AvatarURL: c.Picture},
	}, nil
}

// Refresh redeems refreshToken through an oauth2.TokenSource. A token-endpoint
// rejection (invalid_grant and friends) is terminal.
func (p *GoogleProvider) Refresh(ctx context.Context, providerID, userID, refreshToken string) (*store.TokenRecord, error) {
	ts := p.config.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken})
	token, err := ts.Token()
	if err != nil {
		var re *oauth2.RetrieveError
		if errors.As(err, &re) {
			return nil, &RefreshRejectedError{Provider: providerID, StatusCode: retrieveStatus(err), Message: retrieveMessage(err)}
		}
		return nil, fmt.Errorf("%w: refresh: %v", ErrBackendUnavailable, err)
	}
	rec := p.record(token, userID)
	return &rec, nil
}

// FetchProfile reads the OIDC userinfo endpoint with the stored access token.
func (p *GoogleProvider) FetchProfile(ctx context.Context, providerID string, token store.TokenRecord) (*store.UserProfile, error) {
	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token.AccessToken, TokenType: token.TokenType})
	info, err := p.oidc.UserInfo(ctx, ts)
	if err != nil {
		return nil, fmt.Errorf("fetching google userinfo: %w", err)
	}
	var c struct {
		Name    string `json:"name"`
		Picture string `json:"picture"`
	}
	if err := info.Claims(&c); err != nil {
		return nil, fmt.Errorf("decoding google userinfo: %w", err)
	}
	return &store.UserProfile{ID: info.Subject, Name: c.Name, Email: info.Email, AvatarURL: c.Picture}, nil
}

func (p *GoogleProvider) record(t *oauth2.Token, userID string) store.TokenRecord {
	rec := store.TokenRecord{
		AccessToken:  t.AccessToken,
		RefreshToken: t.RefreshToken,
		TokenType:    t.Type(),
		UserID:       userID,
		ObtainedAt:   p.now().UTC(),
	}
	if !t.Expiry.IsZero() {
		secs := int64(t.Expiry.Sub(p.now()).Seconds())
		rec.ExpiresIn = &secs
	}
	if scope, ok := t.Extra("scope").(string); ok {
		rec.Scope = scope
	}
	return rec
}

func retrieveStatus(err error) int {
	var re *oauth2.RetrieveError
	if errors.As(err, &re) && re.Response != nil {
		return re.Response.StatusCode
	}
	return 0
}

func retrieveMessage(err error) string {
	var re *oauth2.RetrieveError
	if !errors.As(err, &re) {
		return err.Error()
	}
	if re.ErrorCode != "" {
		return re.ErrorCode
	}
	return string(re.Body)
}
