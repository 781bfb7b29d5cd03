// Package connect orchestrates provider connections: starting authorizations,
// completing callbacks, refreshing, disconnecting and reporting connection state.
//
// engine.go -- Engine, Authorize, Complete, Disconnect.
package connect

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"golang.org/x/sync/singleflight"

	"github.com/MGallo-Code/obol/internal/metrics"
	"github.com/MGallo-Code/obol/internal/oauth"
	"github.com/MGallo-Code/obol/internal/provider"
	"github.com/MGallo-Code/obol/internal/store"
)

// claimTTL bounds how long a processed code is remembered. Providers expire codes
// well within this window.
const claimTTL = 10 * time.Minute

// Registry is the provider registry as seen by the engine. Satisfied by *provider.Registry.
type Registry interface {
	oauth.Resolver
	oauth.Canonicalizer
	Describe(ctx context.Context, id string) (provider.Descriptor, error)
	IDs() []string
}

// Config wires an Engine.
type Config struct {
	Registry Registry
	KV       store.KV

	// Backend handles every provider without an entry in Services.
	Backend oauth.TokenService

	// Services maps provider ids to dedicated token services (e.g. direct Google).
	Services map[string]oauth.TokenService

	Metrics        *metrics.Metrics
	BaseURL        string
	VerifierLength int
}

// Engine is safe for concurrent use. Persisted state lives in the KV; the only
// in-process state is the code claim set and the refresh singleflight group.
type Engine struct {
	registry Registry
	tokens   *store.TokenStore
	flow     *store.FlowStore
	configs  *store.ConfigStore
	builder  *oauth.Builder
	backend  oauth.TokenService
	services map[string]oauth.TokenService
	metrics  *metrics.Metrics

	claims    *gocache.Cache
	refreshes singleflight.Group
}

// New returns an Engine for cfg.
func New(cfg Config) *Engine {
	flow := store.NewFlowStore(cfg.KV)
	return &Engine{
		registry: cfg.Registry,
		tokens:   store.NewTokenStore(cfg.KV),
		flow:     flow,
		configs:  store.NewConfigStore(cfg.KV),
		builder:  oauth.NewBuilder(cfg.Registry, flow, cfg.BaseURL, cfg.VerifierLength),
		backend:  cfg.Backend,
		services: cfg.Services,
		metrics:  cfg.Metrics,
		claims:   gocache.New(claimTTL, claimTTL),
	}
}

// Tokens exposes the token store for read-only callers (CLI status, tests).
func (e *Engine) Tokens() *store.TokenStore { return e.tokens }

// Configs exposes the persisted provider configuration.
func (e *Engine) Configs() *store.ConfigStore { return e.configs }

func (e *Engine) serviceFor(providerID string) oauth.TokenService {
	if s, ok := e.services[providerID]; ok {
		return s
	}
	return e.backend
}

// canonical maps an id or alias to a provider id, or returns ErrUnknownProvider.
func (e *Engine) canonical(name string) (string, error) {
	id, ok := e.registry.Canonical(name)
	if !ok {
		return "", fmt.Errorf("%w: %q", provider.ErrUnknownProvider, name)
	}
	return id, nil
}

// Authorize builds the authorization URL for providerID (id or alias) and performs
// its pre-redirect side effects.
func (e *Engine) Authorize(ctx context.Context, providerID string) (*oauth.AuthorizationRequest, error) {
	id, err := e.canonical(providerID)
	if err != nil {
		return nil, err
	}
	req, err := e.builder.Build(ctx, id)
	if err != nil {
		return nil, err
	}
	slog.Info("authorization started", "provider", id, "pkce", req.PKCE != nil, "pending_marker", req.PendingMarker)
	return req, nil
}

// Callback is everything an inbound redirect carries.
type Callback struct {
	PathSegment      string
	State            string
	Code             string
	Error            string
	ErrorDescription string
}

// Result describes a completed connection.
type Result struct {
	Provider string
	UserID   string
	Profile  *store.UserProfile

	// ProfileErr is set when the token was stored but the profile fetch failed.
	ProfileErr error
}

// Complete processes a callback: disambiguate, consume flow state, exchange once,
// store. Protocol failures are reported before any network call.
func (e *Engine) Complete(ctx context.Context, cb Callback) (*Result, error) {
	pending, err := e.flow.Pending(ctx)
	if err != nil {
		return nil, err
	}
	id, idErr := oauth.IdentifyProvider(oauth.CallbackContext{
		PathSegment: cb.PathSegment,
		State:       cb.State,
		Pending:     pending,
	}, e.registry)

	if cb.Error != "" {
		if idErr == nil {
			e.clearFlow(ctx, id)
		}
		e.metrics.Callback(id, "denied")
		return nil, &oauth.ProviderDeniedError{Provider: id, Code: cb.Error, Description: cb.ErrorDescription}
	}
	if cb.Code == "" {
		e.metrics.Callback(id, "missing_code")
		return nil, oauth.ErrMissingCode
	}

	// First claim wins; a repeated code is refused. Failures before the exchange
	// release the claim so the browser can retry the same redirect.
	key := claimKey(cb.Code)
	if err := e.claims.Add(key, struct{}{}, gocache.DefaultExpiration); err != nil {
		e.metrics.Callback(id, "duplicate")
		return nil, oauth.ErrAlreadyProcessed
	}

	if idErr != nil {
		e.claims.Delete(key)
		e.metrics.Callback("", "ambiguous")
		return nil, idErr
	}

	d, err := e.registry.Describe(ctx, id)
	if err != nil {
		e.claims.Delete(key)
		return nil, err
	}

	var verifier string
	if d.RequiresPKCE {
		verifier, err = e.consumeVerifier(ctx, id, cb.State)
		if err != nil {
			e.claims.Delete(key)
			e.metrics.Callback(id, "bad_verifier")
			return nil, err
		}
	} else if err := e.consumeState(ctx, id, cb.State); err != nil {
		e.claims.Delete(key)
		e.metrics.Callback(id, "bad_state")
		return nil, err
	}
	if err := e.flow.ClearPendingIf(ctx, id); err != nil {
		slog.Warn("failed to clear pending marker", "provider", id, "error", err)
	}

	svc := e.serviceFor(id)
	grant, err := svc.Exchange(ctx, id, cb.Code, verifier)
	if err != nil {
		e.metrics.Exchange(id, exchangeResult(err))
		e.metrics.Callback(id, "exchange_failed")
		return nil, err
	}
	e.metrics.Exchange(id, metrics.ResultOK)

	if err := e.tokens.Put(ctx, id, grant.UserID, grant.Token, grant.Profile); err != nil {
		return nil, fmt.Errorf("storing grant: %w", err)
	}

	res := &Result{Provider: id, UserID: grant.UserID, Profile: grant.Profile}
	if grant.Profile == nil && !grant.Anonymous {
		res.Profile, res.ProfileErr = e.refreshProfile(ctx, svc, id, grant.Token)
	}

	e.metrics.Callback(id, "connected")
	slog.Info("provider connected", "provider", id, "user_id", grant.UserID, "profile", res.Profile != nil)
	return res, nil
}

// consumeVerifier checks the stored verifier against the state binding, then deletes it.
// A mismatch leaves the (newer) verifier in place.
func (e *Engine) consumeVerifier(ctx context.Context, id, state string) (string, error) {
	_, binding := oauth.SplitState(state)

	stored, err := e.flow.Verifier(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return "", oauth.ErrMissingVerifier
	}
	if err != nil {
		return "", fmt.Errorf("fetching code verifier: %w", err)
	}
	if err := oauth.CheckBinding(stored, binding); err != nil {
		return "", err
	}

	taken, err := e.flow.TakeVerifier(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return "", oauth.ErrMissingVerifier
	}
	if err != nil {
		return "", fmt.Errorf("consuming code verifier: %w", err)
	}
	// Another tab may have replaced the verifier between read and take.
	if err := oauth.CheckBinding(taken, binding); err != nil {
		if serr := e.flow.SaveVerifier(ctx, id, taken); serr != nil {
			slog.Warn("failed to restore newer code verifier", "provider", id, "error", serr)
		}
		return "", err
	}
	return taken, nil
}

// consumeState checks the state nonce of a non-PKCE flow, then deletes it. A callback
// nobody asked for finds no nonce; a mismatch leaves the stored nonce in place.
func (e *Engine) consumeState(ctx context.Context, id, state string) error {
	_, binding := oauth.SplitState(state)

	stored, err := e.flow.State(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return oauth.ErrMissingState
	}
	if err != nil {
		return fmt.Errorf("fetching state nonce: %w", err)
	}
	if err := oauth.CheckNonce(stored, binding); err != nil {
		return err
	}
	if err := e.flow.ClearState(ctx, id); err != nil {
		return err
	}
	return nil
}

// refreshProfile fetches and stores the profile. Failure leaves the token usable.
func (e *Engine) refreshProfile(ctx context.Context, svc oauth.TokenService, id string, token store.TokenRecord) (*store.UserProfile, error) {
	p, err := svc.FetchProfile(ctx, id, token)
	if err != nil {
		slog.Warn("profile fetch failed, token kept", "provider", id, "user_id", token.UserID, "error", err)
		return nil, err
	}
	if err := e.tokens.PutProfile(ctx, id, token.UserID, *p); err != nil {
		slog.Warn("failed to store profile", "provider", id, "user_id", token.UserID, "error", err)
		return p, err
	}
	return p, nil
}

// clearFlow drops the verifier, the state nonce and a marker naming id.
func (e *Engine) clearFlow(ctx context.Context, id string) {
	if err := e.flow.ClearVerifier(ctx, id); err != nil {
		slog.Warn("failed to clear code verifier", "provider", id, "error", err)
	}
	if err := e.flow.ClearState(ctx, id); err != nil {
		slog.Warn("failed to clear state nonce", "provider", id, "error", err)
	}
	if err := e.flow.ClearPendingIf(ctx, id); err != nil {
		slog.Warn("failed to clear pending marker", "provider", id, "error", err)
	}
}

// Disconnect removes every token and profile for providerID, its verifier and state
// nonce, and a pending marker naming it.
func (e *Engine) Disconnect(ctx context.Context, providerID string) error {
	id, err := e.canonical(providerID)
	if err != nil {
		return err
	}
	if err := e.tokens.Remove(ctx, id, ""); err != nil {
		return err
	}
	if err := e.flow.ClearVerifier(ctx, id); err != nil {
		return err
	}
	if err := e.flow.ClearState(ctx, id); err != nil {
		return err
	}
	if err := e.flow.ClearPendingIf(ctx, id); err != nil {
		return err
	}
	e.metrics.Disconnect(id)
	slog.Info("provider disconnected", "provider", id)
	return nil
}

func claimKey(code string) string {
	sum := sha256.Sum256([]byte(code))
	return hex.EncodeToString(sum[:])
}

func exchangeResult(err error) string {
	var rej *oauth.ExchangeRejectedError
	switch {
	case errors.As(err, &rej):
		return metrics.ResultRejected
	case errors.Is(err, oauth.ErrInvalidExchangeResponse):
		return metrics.ResultInvalid
	default:
		return metrics.ResultError
	}
}
