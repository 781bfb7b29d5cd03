// services.go
//
// Shared fakes for oauth.TokenService and the provider registry.
// Imported by test files across packages to avoid duplicate mock definitions.
package testutil

import (
	"context"
	"sync"
	"testing"

	"github.com/MGallo-Code/obol/internal/oauth"
	"github.com/MGallo-Code/obol/internal/provider"
	"github.com/MGallo-Code/obol/internal/store"
)

// MockTokenService implements oauth.TokenService for tests.

// Grants are keyed by code; Refreshed by refresh token; Profiles by user id.
// Use *Err fields to inject errors for specific operations; zero value means no error.
// Call counters are safe to read after the operation under test returns.
type MockTokenService struct {
	ExchangeErr error
	RefreshErr  error
	ProfileErr  error

	Grants    map[string]*oauth.Grant
	Refreshed map[string]*store.TokenRecord
	Profiles  map[string]*store.UserProfile

	// ExchangeHook, when set, runs at the start of Exchange (e.g. to block).
	ExchangeHook func()

	mu            sync.Mutex
	ExchangeCalls int
	RefreshCalls  int
	ProfileCalls  int
	LastVerifier  string
}

// NewMockTokenService returns an empty, ready-to-seed MockTokenService.
func NewMockTokenService() *MockTokenService {
	return &MockTokenService{
		Grants:    make(map[string]*oauth.Grant),
		Refreshed: make(map[string]*store.TokenRecord),
		Profiles:  make(map[string]*store.UserProfile),
	}
}

func (m *MockTokenService) Exchange(_ context.Context, providerID, code, verifier string) (*oauth.Grant, error) {
	if m.ExchangeHook != nil {
		m.ExchangeHook()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ExchangeCalls++
	m.LastVerifier = verifier
	if m.ExchangeErr != nil {
		return nil, m.ExchangeErr
	}
	g, ok := m.Grants[code]
	if !ok {
		return nil, &oauth.ExchangeRejectedError{Provider: providerID, StatusCode: 400, Message: "invalid_grant"}
	}
	cp := *g
	return &cp, nil
}

func (m *MockTokenService) Refresh(_ context.Context, providerID, userID, refreshToken string) (*store.TokenRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.RefreshCalls++
	if m.RefreshErr != nil {
		return nil, m.RefreshErr
	}
	rec, ok := m.Refreshed[refreshToken]
	if !ok {
		return nil, &oauth.RefreshRejectedError{Provider: providerID, StatusCode: 400, Message: "invalid_grant"}
	}
	cp := *rec
	cp.UserID = userID
	return &cp, nil
}

func (m *MockTokenService) FetchProfile(_ context.Context, providerID string, token store.TokenRecord) (*store.UserProfile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ProfileCalls++
	if m.ProfileErr != nil {
		return nil, m.ProfileErr
	}
	p, ok := m.Profiles[token.UserID]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

// Calls returns (exchange, refresh, profile) call counts.
func (m *MockTokenService) Calls() (int, int, int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ExchangeCalls, m.RefreshCalls, m.ProfileCalls
}

// TestDefaults mirrors the built-in provider shapes with client ids already set:
// google (offline, alias gmail), twitter (PKCE), zoom and sketchfab (shared redirect).
func TestDefaults() []provider.Default {
	return []provider.Default{
		{ID: "google", DisplayName: "Gmail", Aliases: []string{"gmail"}, ClientID: "google-client", AuthURL: "https://accounts.test/auth", RedirectPath: "/oauth_callback/google", Scope: "email profile", OfflineAccess: true},
		{ID: "twitter", DisplayName: "Twitter", ClientID: "twitter-client", AuthURL: "https://twitter.test/authorize", RedirectPath: "/oauth_callback/twitter", Scope: "tweet.read users.read", PKCE: true},
		{ID: "zoom", DisplayName: "Zoom", ClientID: "zoom-client", AuthURL: "https://zoom.test/authorize", RedirectPath: "/oauth_callback", SharedRedirect: true},
		{ID: "sketchfab", DisplayName: "Sketchfab", AuthURL: "https://sketchfab.test/authorize", RedirectPath: "/oauth_callback", SharedRedirect: true},
	}
}

// NewRegistry builds a registry over TestDefaults with persisted config read from kv.
func NewRegistry(t *testing.T, kv store.KV) *provider.Registry {
	t.Helper()
	r, err := provider.NewRegistry(TestDefaults(), store.NewConfigStore(kv), nil)
	if err != nil {
		t.Fatalf("provider.NewRegistry: %v", err)
	}
	return r
}
