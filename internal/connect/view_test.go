package connect

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/MGallo-Code/obol/internal/store"
)

func TestView(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	ts := f.engine.Tokens()

	obtained := time.Date(2026, 4, 1, 10, 0, 0, 0, time.UTC)
	ts.Put(ctx, "google", "u1", store.TokenRecord{AccessToken: "t", ExpiresIn: int64p(3600), ObtainedAt: obtained}, &store.UserProfile{ID: "u1", Name: "Ada"})
	ts.Put(ctx, "zoom", "z1", store.TokenRecord{AccessToken: "zt"}, nil)
	ts.Put(ctx, "myspace", "tom", store.TokenRecord{AccessToken: "orphan"}, nil)

	view, err := f.engine.View(ctx)
	if err != nil {
		t.Fatalf("View failed: %v", err)
	}

	t.Run("covers every known provider and nothing else", func(t *testing.T) {
		for _, id := range []string{"google", "twitter", "zoom", "sketchfab"} {
			if _, ok := view[id]; !ok {
				t.Errorf("missing view for %s", id)
			}
		}
		if _, ok := view["myspace"]; ok {
			t.Error("orphaned provider should not appear")
		}
	})

	t.Run("orphaned records are left in place", func(t *testing.T) {
		if _, err := ts.Get(ctx, "myspace", "tom"); err != nil {
			t.Errorf("orphan should not be deleted: %v", err)
		}
	})

	t.Run("connected with profile and expiry", func(t *testing.T) {
		g := view["google"]
		if !g.IsConnected || g.Profile == nil || g.Profile.Name != "Ada" {
			t.Errorf("google: got %+v", g)
		}
		if g.ExpiresAt == nil || !g.ExpiresAt.Equal(obtained.Add(time.Hour)) {
			t.Errorf("ExpiresAt: got %v", g.ExpiresAt)
		}
		if g.DisplayName != "Gmail" || !g.Configured {
			t.Errorf("descriptor fields: got %+v", g)
		}
	})

	t.Run("connected without profile", func(t *testing.T) {
		z := view["zoom"]
		if !z.IsConnected || z.Profile != nil {
			t.Errorf("zoom: got %+v", z)
		}
	})

	t.Run("not connected", func(t *testing.T) {
		tw := view["twitter"]
		if tw.IsConnected || tw.Token != nil {
			t.Errorf("twitter: got %+v", tw)
		}
		if view["sketchfab"].Configured {
			t.Error("sketchfab has no client id in the test registry")
		}
	})

	t.Run("recomputed after mutation", func(t *testing.T) {
		f.engine.Disconnect(ctx, "zoom")
		again, _ := f.engine.View(ctx)
		if again["zoom"].IsConnected {
			t.Error("zoom should be disconnected")
		}
	})

	t.Run("redacted view hides secrets", func(t *testing.T) {
		r := view["google"].Redacted()
		if r.Token.AccessToken != "[redacted]" {
			t.Errorf("AccessToken: got %q", r.Token.AccessToken)
		}
		if view["google"].Token.AccessToken != "t" {
			t.Error("Redacted must not modify the original")
		}
	})
}

func TestViewSurvivesUnreadableRecord(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.engine.Tokens().Put(ctx, "google", "u1", store.TokenRecord{AccessToken: "t"}, nil)
	f.kv.Set(ctx, "oauth_token_zoom_u9", "{not json")

	view, err := f.engine.View(ctx)
	if err != nil {
		t.Fatalf("View failed: %v", err)
	}
	if !view["google"].IsConnected {
		t.Error("google: expected connected despite a corrupt zoom record")
	}
	z, ok := view["zoom"]
	if !ok {
		t.Fatal("zoom missing from view")
	}
	if z.IsConnected || z.Token != nil {
		t.Errorf("zoom: expected not connected, got %+v", z)
	}
}

func TestExport(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.engine.Tokens().Put(ctx, "google", "u1", store.TokenRecord{AccessToken: "g-token", Scope: "https://www.googleapis.com/auth/drive.file"}, nil)

	cfg, err := f.engine.Export(ctx)
	if err != nil {
		t.Fatalf("Export failed: %v", err)
	}
	if cfg.Version != "1.0" {
		t.Errorf("Version: expected 1.0, got %q", cfg.Version)
	}

	byName := map[string]Integration{}
	for _, in := range cfg.Integrations {
		byName[in.Name] = in
	}
	g := byName["Gmail"]
	if g.Status != "connected" || g.AccessToken == nil || *g.AccessToken != "g-token" || g.Scope != "https://www.googleapis.com/auth/drive.file" {
		t.Errorf("Gmail: got %+v", g)
	}
	tw := byName["Twitter"]
	if tw.Status != "disconnected" || tw.AccessToken != nil || tw.Scope != "tweet.read users.read" {
		t.Errorf("Twitter: got %+v", tw)
	}

	raw, _ := json.Marshal(tw)
	want := `{"name":"Twitter","status":"disconnected","scope":"tweet.read users.read","accessToken":null}`
	if string(raw) != want {
		t.Errorf("json: expected %s, got %s", want, raw)
	}
}
