package provider

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"slices"
	"testing"

	"github.com/MGallo-Code/obol/internal/store"
)

func boolp(b bool) *bool { return &b }
func strp(s string) *string { return &s }

func testDefaults() []Default {
	return []Default{
		{ID: "google", Aliases: []string{"gmail"}, AuthURL: "https://accounts.test/auth", RedirectPath: "/oauth_callback/google", Scope: "email", OfflineAccess: true},
		{ID: "twitter", AuthURL: "https://twitter.test/auth", RedirectPath: "/oauth_callback/twitter", PKCE: true},
		{ID: "sketchfab", ClientID: "builtin", AuthURL: "https://sketchfab.test/auth", RedirectPath: "/oauth_callback", SharedRedirect: true},
	}
}

func newTestRegistry(t *testing.T, overrides map[string]Override) (*Registry, *store.ConfigStore) {
	t.Helper()
	cs := store.NewConfigStore(store.NewMemoryKV())
	r, err := NewRegistry(testDefaults(), cs, overrides)
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	return r, cs
}

// --- Resolve ---

func TestResolve(t *testing.T) {
	ctx := context.Background()

	t.Run("returns ErrNotConfigured without a client id", func(t *testing.T) {
		r, _ := newTestRegistry(t, nil)
		_, err := r.Resolve(ctx, "google")
		if !errors.Is(err, ErrNotConfigured) {
			t.Errorf("expected ErrNotConfigured, got %v", err)
		}
	})

	t.Run("returns ErrUnknownProvider for unknown ids", func(t *testing.T) {
		r, _ := newTestRegistry(t, nil)
		if _, err := r.Resolve(ctx, "myspace"); !errors.Is(err, ErrUnknownProvider) {
			t.Errorf("expected ErrUnknownProvider, got %v", err)
		}
	})

	t.Run("built-in client id resolves", func(t *testing.T) {
		r, _ := newTestRegistry(t, nil)
		d, err := r.Resolve(ctx, "sketchfab")
		if err != nil {
			t.Fatalf("Resolve failed: %v", err)
		}
		if d.ClientID != "builtin" || !d.Enabled || !d.SharedRedirect {
			t.Errorf("descriptor: got %+v", d)
		}
	})

	t.Run("persisted config beats default and is visible without caching", func(t *testing.T) {
		r, cs := newTestRegistry(t, nil)
		first, _ := r.Resolve(ctx, "sketchfab")

		cs.Save(ctx, "sketchfab", store.ProviderConfig{ClientID: "user-entered", Enabled: boolp(false)})
		second, err := r.Resolve(ctx, "sketchfab")
		if err != nil {
			t.Fatalf("Resolve failed: %v", err)
		}
		if first.ClientID != "builtin" {
			t.Errorf("first ClientID: expected %q, got %q", "builtin", first.ClientID)
		}
		if second.ClientID != "user-entered" || second.Enabled {
			t.Errorf("second: expected user-entered disabled, got %+v", second)
		}
	})

	t.Run("environment override beats persisted config", func(t *testing.T) {
		r, cs := newTestRegistry(t, map[string]Override{
			"google": {ClientID: "from-env", Enabled: boolp(true), Scope: strp("openid")},
		})
		cs.Save(ctx, "google", store.ProviderConfig{ClientID: "from-store", Enabled: boolp(false)})

		d, err := r.Resolve(ctx, "google")
		if err != nil {
			t.Fatalf("Resolve failed: %v", err)
		}
		if d.ClientID != "from-env" {
			t.Errorf("ClientID: expected %q, got %q", "from-env", d.ClientID)
		}
		if !d.Enabled {
			t.Error("Enabled: expected true from override")
		}
		if d.Scope != "openid" {
			t.Errorf("Scope: expected %q, got %q", "openid", d.Scope)
		}
	})

	t.Run("is idempotent given unchanged inputs", func(t *testing.T) {
		r, cs := newTestRegistry(t, nil)
		cs.Save(ctx, "twitter", store.ProviderConfig{ClientID: "tw"})

		a, _ := r.Resolve(ctx, "twitter")
		b, _ := r.Resolve(ctx, "twitter")
		if a.ClientID != b.ClientID || a.Enabled != b.Enabled || a.Scope != b.Scope || a.RequiresPKCE != b.RequiresPKCE {
			t.Errorf("resolve differs: %+v vs %+v", a, b)
		}
	})

	t.Run("corrupt persisted config falls back to defaults", func(t *testing.T) {
		kv := store.NewMemoryKV()
		kv.Set(ctx, "oauth_provider_configs", "{broken")
		r, err := NewRegistry(testDefaults(), store.NewConfigStore(kv), nil)
		if err != nil {
			t.Fatalf("NewRegistry: %v", err)
		}
		d, err := r.Resolve(ctx, "sketchfab")
		if err != nil || d.ClientID != "builtin" {
			t.Errorf("expected builtin descriptor, got (%+v, %v)", d, err)
		}
	})
}

// --- Canonical / IDs ---

func TestCanonical(t *testing.T) {
	r, _ := newTestRegistry(t, nil)

	tests := []struct {
		in     string
		want   string
		wantOK bool
	}{
		{"google", "google", true},
		{"gmail", "google", true},
		{"twitter", "twitter", true},
		{"GOOGLE", "", false},
		{"", "", false},
	}
	for _, tt := range tests {
		got, ok := r.Canonical(tt.in)
		if got != tt.want || ok != tt.wantOK {
			t.Errorf("Canonical(%q): expected (%q, %v), got (%q, %v)", tt.in, tt.want, tt.wantOK, got, ok)
		}
	}

	if want := []string{"google", "twitter", "sketchfab"}; !slices.Equal(r.IDs(), want) {
		t.Errorf("IDs: expected %v, got %v", want, r.IDs())
	}
}

// --- NewRegistry validation ---

func TestNewRegistryValidation(t *testing.T) {
	cases := map[string][]Default{
		"underscore id": {{ID: "my_provider", AuthURL: "x", RedirectPath: "/cb"}},
		"dotted id":     {{ID: "a.b", AuthURL: "x", RedirectPath: "/cb"}},
		"duplicate id":  {{ID: "a", AuthURL: "x", RedirectPath: "/cb"}, {ID: "a", AuthURL: "x", RedirectPath: "/cb"}},
		"alias collides with id": {
			{ID: "a", AuthURL: "x", RedirectPath: "/cb", Aliases: []string{"b"}},
			{ID: "b", AuthURL: "x", RedirectPath: "/cb"},
		},
		"missing auth url": {{ID: "a", RedirectPath: "/cb"}},
	}
	for name, defaults := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := NewRegistry(defaults, nil, nil); err == nil {
				t.Error("expected error, got nil")
			}
		})
	}
}

// --- Defaults ---

func TestLoadDefaults(t *testing.T) {
	t.Run("embedded defaults build a registry", func(t *testing.T) {
		defaults, err := LoadDefaults("")
		if err != nil {
			t.Fatalf("LoadDefaults: %v", err)
		}
		r, err := NewRegistry(defaults, nil, nil)
		if err != nil {
			t.Fatalf("NewRegistry: %v", err)
		}
		for _, id := range []string{"google", "twitter", "zoom", "sketchfab", "drive"} {
			if _, ok := r.Canonical(id); !ok {
				t.Errorf("expected built-in provider %q", id)
			}
		}
		d, _ := r.Describe(context.Background(), "twitter")
		if !d.RequiresPKCE {
			t.Error("twitter: expected RequiresPKCE")
		}
		if id, _ := r.Canonical("gmail"); id != "google" {
			t.Errorf("gmail alias: expected google, got %q", id)
		}
	})

	t.Run("file entries replace and extend the embedded ones", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "providers.yaml")
		doc := `providers:
  - id: zoom
    auth_url: https://zoom.test/auth
    redirect_path: /oauth_callback/zoom
  - id: notion
    auth_url: https://notion.test/auth
    redirect_path: /oauth_callback/notion
`
		if err := os.WriteFile(path, []byte(doc), 0o600); err != nil {
			t.Fatal(err)
		}
		defaults, err := LoadDefaults(path)
		if err != nil {
			t.Fatalf("LoadDefaults: %v", err)
		}
		r, err := NewRegistry(defaults, nil, nil)
		if err != nil {
			t.Fatalf("NewRegistry: %v", err)
		}
		zoom, _ := r.Describe(context.Background(), "zoom")
		if zoom.RedirectPath != "/oauth_callback/zoom" || zoom.SharedRedirect {
			t.Errorf("zoom: expected replaced entry, got %+v", zoom)
		}
		if _, ok := r.Canonical("notion"); !ok {
			t.Error("expected notion to be added")
		}
	})

	t.Run("missing file is an error", func(t *testing.T) {
		if _, err := LoadDefaults(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
			t.Error("expected error, got nil")
		}
	})
}

func TestRedirectURL(t *testing.T) {
	d := Descriptor{RedirectPath: "/oauth_callback/google"}
	if got := d.RedirectURL("http://localhost:7865/"); got != "http://localhost:7865/oauth_callback/google" {
		t.Errorf("RedirectURL: got %q", got)
	}
	abs := Descriptor{RedirectPath: "http://localhost:5173"}
	if got := abs.RedirectURL("http://localhost:7865"); got != "http://localhost:5173" {
		t.Errorf("absolute RedirectURL: got %q", got)
	}
}
