// builder.go -- Authorization URL construction and pre-redirect side effects.
package oauth

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"strings"

	"golang.org/x/oauth2"

	"github.com/MGallo-Code/obol/internal/pkce"
	"github.com/MGallo-Code/obol/internal/provider"
)

// stateBindingLen is how many challenge characters are appended to the state of a
// PKCE flow. Enough to tell two flows apart; the challenge itself is public.
const stateBindingLen = 12

// stateNonceBytes sizes the random nonce bound into the state of non-PKCE flows.
const stateNonceBytes = 16

// Resolver resolves provider descriptors. Satisfied by *provider.Registry.
type Resolver interface {
	Resolve(ctx context.Context, id string) (provider.Descriptor, error)
}

// FlowWriter persists pre-redirect state. Satisfied by *store.FlowStore.
type FlowWriter interface {
	SaveVerifier(ctx context.Context, provider, verifier string) error
	SaveState(ctx context.Context, provider, nonce string) error
	SetPending(ctx context.Context, provider string) error
}

// AuthorizationRequest is a built URL plus a record of the side effects performed.
type AuthorizationRequest struct {
	ProviderID string
	URL        string
	State      string

	// PKCE is set when a verifier was generated and persisted.
	PKCE *pkce.Context

	// Nonce is the persisted state nonce of a non-PKCE flow.
	Nonce string

	// PendingMarker is true when oauth_pending_provider was written.
	PendingMarker bool
}

// Builder constructs provider authorization URLs.
type Builder struct {
	resolver       Resolver
	flow           FlowWriter
	baseURL        string
	verifierLength int
}

// NewBuilder returns a Builder. baseURL prefixes relative redirect paths.
// verifierLength <= 0 selects pkce.DefaultVerifierLength.
func NewBuilder(resolver Resolver, flow FlowWriter, baseURL string, verifierLength int) *Builder {
	if verifierLength <= 0 {
		verifierLength = pkce.DefaultVerifierLength
	}
	return &Builder{resolver: resolver, flow: flow, baseURL: baseURL, verifierLength: verifierLength}
}

// Build resolves providerID and returns the URL to navigate to.
// Returns provider.ErrNotConfigured or provider.ErrProviderDisabled with no side
// effects; the caller must not redirect in that case.
func (b *Builder) Build(ctx context.Context, providerID string) (*AuthorizationRequest, error) {
	d, err := b.resolver.Resolve(ctx, providerID)
	if err != nil {
		return nil, err
	}
	if !d.Enabled {
		return nil, fmt.Errorf("%w: %s", provider.ErrProviderDisabled, d.ID)
	}

	cfg := oauth2.Config{
		ClientID:    d.ClientID,
		RedirectURL: d.RedirectURL(b.baseURL),
		Scopes:      strings.Fields(d.Scope),
		Endpoint:    oauth2.Endpoint{AuthURL: d.AuthURL},
	}

	req := &AuthorizationRequest{ProviderID: d.ID, State: d.ID}
	var opts []oauth2.AuthCodeOption
	if d.OfflineAccess {
		opts = append(opts, oauth2.AccessTypeOffline, oauth2.ApprovalForce)
	}

	// Everything that can fail without side effects happens before the first write.
	// Every state is {id}.{binding}: the challenge prefix for PKCE flows, a stored
	// nonce otherwise.
	if d.RequiresPKCE {
		pc, err := pkce.New(b.verifierLength)
		if err != nil {
			return nil, fmt.Errorf("generating pkce context: %w", err)
		}
		req.PKCE = &pc
		req.State = d.ID + "." + pc.Challenge[:stateBindingLen]
		opts = append(opts,
			oauth2.SetAuthURLParam("code_challenge", pc.Challenge),
			oauth2.SetAuthURLParam("code_challenge_method", pc.Method),
		)
	} else {
		nonce, err := newStateNonce()
		if err != nil {
			return nil, err
		}
		req.Nonce = nonce
		req.State = d.ID + "." + nonce
	}
	req.URL = cfg.AuthCodeURL(req.State, opts...)

	if req.PKCE != nil {
		if err := b.flow.SaveVerifier(ctx, d.ID, req.PKCE.Verifier); err != nil {
			return nil, err
		}
	} else if err := b.flow.SaveState(ctx, d.ID, req.Nonce); err != nil {
		return nil, err
	}
	if d.SharedRedirect {
		if err := b.flow.SetPending(ctx, d.ID); err != nil {
			return nil, err
		}
		req.PendingMarker = true
	}
	return req, nil
}

// newStateNonce returns a base64url nonce; the alphabet never contains the '.' separator.
func newStateNonce() (string, error) {
	b := make([]byte, stateNonceBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generating state nonce: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
