package store

import (
	"context"
	"errors"
	"reflect"
	"slices"
	"testing"
	"time"
)

func int64p(v int64) *int64 { return &v }

// vanishingKV drops one key between ListKeys and Get, like another tab disconnecting.
type vanishingKV struct {
	*MemoryKV
	vanish string
}

func (v *vanishingKV) ListKeys(ctx context.Context, prefix string) ([]string, error) {
	keys, err := v.MemoryKV.ListKeys(ctx, prefix)
	v.MemoryKV.Remove(ctx, v.vanish)
	return keys, err
}

// --- Put + Get ---

func TestTokenStorePutGet(t *testing.T) {
	ctx := context.Background()

	t.Run("round-trip returns a deep-equal record", func(t *testing.T) {
		ts := NewTokenStore(NewMemoryKV())
		in := TokenRecord{
			AccessToken:  "t1",
			RefreshToken: "r1",
			TokenType:    "Bearer",
			ExpiresIn:    int64p(3600),
			UserID:       "u1",
			Scope:        "email profile",
			ObtainedAt:   time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
		}
		if err := ts.Put(ctx, "google", "u1", in, nil); err != nil {
			t.Fatalf("Put failed: %v", err)
		}

		got, err := ts.Get(ctx, "google", "u1")
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}
		if !reflect.DeepEqual(*got, in) {
			t.Errorf("record: expected %+v, got %+v", in, *got)
		}
	})

	t.Run("writes under oauth_token_{provider}_{user}", func(t *testing.T) {
		kv := NewMemoryKV()
		ts := NewTokenStore(kv)
		ts.Put(ctx, "google", "u1", TokenRecord{AccessToken: "t1"}, nil)

		if _, err := kv.Get(ctx, "oauth_token_google_u1"); err != nil {
			t.Errorf("expected key oauth_token_google_u1: %v", err)
		}
	})

	t.Run("defaults token type and forces user id", func(t *testing.T) {
		ts := NewTokenStore(NewMemoryKV())
		ts.Put(ctx, "zoom", "u9", TokenRecord{AccessToken: "t", UserID: "other"}, nil)

		got, _ := ts.Get(ctx, "zoom", "u9")
		if got.TokenType != DefaultTokenType {
			t.Errorf("TokenType: expected %q, got %q", DefaultTokenType, got.TokenType)
		}
		if got.UserID != "u9" {
			t.Errorf("UserID: expected %q, got %q", "u9", got.UserID)
		}
	})

	t.Run("null refresh token and expiry survive round-trip", func(t *testing.T) {
		kv := NewMemoryKV()
		ts := NewTokenStore(kv)
		ts.Put(ctx, "sketchfab", "u1", TokenRecord{AccessToken: "t"}, nil)

		raw, _ := kv.Get(ctx, "oauth_token_sketchfab_u1")
		want := `{"access_token":"t","token_type":"Bearer","expires_in":null,"user_id":"u1"}`
		if raw != want {
			t.Errorf("json: expected %s, got %s", want, raw)
		}
		got, _ := ts.Get(ctx, "sketchfab", "u1")
		if got.HasRefreshToken() || got.ExpiresIn != nil {
			t.Errorf("expected no refresh token and nil expiry, got %+v", got)
		}
	})

	t.Run("overwrites instead of merging", func(t *testing.T) {
		ts := NewTokenStore(NewMemoryKV())
		ts.Put(ctx, "google", "u1", TokenRecord{AccessToken: "old", RefreshToken: "r"}, nil)
		ts.Put(ctx, "google", "u1", TokenRecord{AccessToken: "new"}, nil)

		got, _ := ts.Get(ctx, "google", "u1")
		if got.AccessToken != "new" || got.RefreshToken != "" {
			t.Errorf("expected replaced record, got %+v", got)
		}
	})

	t.Run("empty user returns first record in key order", func(t *testing.T) {
		ts := NewTokenStore(NewMemoryKV())
		ts.Put(ctx, "google", "u2", TokenRecord{AccessToken: "second"}, nil)
		ts.Put(ctx, "google", "u1", TokenRecord{AccessToken: "first"}, nil)

		got, err := ts.Get(ctx, "google", "")
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}
		if got.AccessToken != "first" {
			t.Errorf("AccessToken: expected %q, got %q", "first", got.AccessToken)
		}
	})

	t.Run("missing record returns ErrNotFound", func(t *testing.T) {
		ts := NewTokenStore(NewMemoryKV())
		if _, err := ts.Get(ctx, "google", "nobody"); !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
		if _, err := ts.Get(ctx, "google", ""); !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound for empty user, got %v", err)
		}
	})

	t.Run("skips keys deleted between listing and reading", func(t *testing.T) {
		kv := &vanishingKV{MemoryKV: NewMemoryKV(), vanish: "oauth_token_google_a"}
		ts := NewTokenStore(kv)
		ts.Put(ctx, "google", "a", TokenRecord{AccessToken: "gone"}, nil)
		ts.Put(ctx, "google", "b", TokenRecord{AccessToken: "kept"}, nil)

		got, err := ts.Get(ctx, "google", "")
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}
		if got.AccessToken != "kept" {
			t.Errorf("AccessToken: expected %q, got %q", "kept", got.AccessToken)
		}
	})

	t.Run("empty user skips unparseable records", func(t *testing.T) {
		kv := NewMemoryKV()
		ts := NewTokenStore(kv)
		kv.Set(ctx, "oauth_token_zoom_a", "{not json")
		ts.Put(ctx, "zoom", "b", TokenRecord{AccessToken: "kept"}, nil)

		got, err := ts.Get(ctx, "zoom", "")
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}
		if got.AccessToken != "kept" {
			t.Errorf("AccessToken: expected %q, got %q", "kept", got.AccessToken)
		}
	})

	t.Run("empty user reports the read error when nothing is readable", func(t *testing.T) {
		kv := NewMemoryKV()
		ts := NewTokenStore(kv)
		kv.Set(ctx, "oauth_token_zoom_u9", "{not json")

		_, err := ts.Get(ctx, "zoom", "")
		if err == nil || errors.Is(err, ErrNotFound) {
			t.Errorf("expected parse error, got %v", err)
		}
	})

	t.Run("rejects provider ids containing underscores", func(t *testing.T) {
		ts := NewTokenStore(NewMemoryKV())
		if err := ts.Put(ctx, "bad_id", "u1", TokenRecord{AccessToken: "t"}, nil); err == nil {
			t.Error("expected error for provider id with '_', got nil")
		}
	})
}

// --- Profiles ---

func TestTokenStoreProfile(t *testing.T) {
	ctx := context.Background()
	ts := NewTokenStore(NewMemoryKV())

	profile := UserProfile{ID: "u1", Name: "Ada", Email: "ada@example.com", AvatarURL: "https://img.test/a.png"}
	if err := ts.Put(ctx, "google", "u1", TokenRecord{AccessToken: "t"}, &profile); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	got, err := ts.Profile(ctx, "google", "u1")
	if err != nil {
		t.Fatalf("Profile failed: %v", err)
	}
	if *got != profile {
		t.Errorf("profile: expected %+v, got %+v", profile, *got)
	}

	t.Run("nil profile on put keeps the stored one", func(t *testing.T) {
		ts.Put(ctx, "google", "u1", TokenRecord{AccessToken: "t2"}, nil)
		if _, err := ts.Profile(ctx, "google", "u1"); err != nil {
			t.Errorf("expected profile to survive, got %v", err)
		}
	})
}

// --- ListProviders / Users ---

func TestTokenStoreListing(t *testing.T) {
	ctx := context.Background()
	ts := NewTokenStore(NewMemoryKV())
	ts.Put(ctx, "twitter", "1", TokenRecord{AccessToken: "a"}, nil)
	ts.Put(ctx, "google", "u_1", TokenRecord{AccessToken: "b"}, nil)
	ts.Put(ctx, "google", "u_2", TokenRecord{AccessToken: "c"}, nil)

	providers, err := ts.ListProviders(ctx)
	if err != nil {
		t.Fatalf("ListProviders failed: %v", err)
	}
	if want := []string{"google", "twitter"}; !slices.Equal(providers, want) {
		t.Errorf("providers: expected %v, got %v", want, providers)
	}

	users, err := ts.Users(ctx, "google")
	if err != nil {
		t.Fatalf("Users failed: %v", err)
	}
	if want := []string{"u_1", "u_2"}; !slices.Equal(users, want) {
		t.Errorf("users: expected %v, got %v", want, users)
	}
}

// --- Remove ---

func TestTokenStoreRemove(t *testing.T) {
	ctx := context.Background()

	t.Run("empty user removes every record for the provider only", func(t *testing.T) {
		kv := NewMemoryKV()
		ts := NewTokenStore(kv)
		p := UserProfile{ID: "x", Name: "x"}
		ts.Put(ctx, "twitter", "1", TokenRecord{AccessToken: "a"}, &p)
		ts.Put(ctx, "twitter", "2", TokenRecord{AccessToken: "b"}, &p)
		ts.Put(ctx, "google", "1", TokenRecord{AccessToken: "c"}, &p)

		if err := ts.Remove(ctx, "twitter", ""); err != nil {
			t.Fatalf("Remove failed: %v", err)
		}
		for _, prefix := range []string{"oauth_token_twitter_", "oauth_user_twitter_"} {
			if keys, _ := kv.ListKeys(ctx, prefix); len(keys) != 0 {
				t.Errorf("expected no %s* keys, got %v", prefix, keys)
			}
		}
		if _, err := ts.Get(ctx, "google", "1"); err != nil {
			t.Errorf("google record should survive: %v", err)
		}
	})

	t.Run("specific user removes token and profile", func(t *testing.T) {
		ts := NewTokenStore(NewMemoryKV())
		p := UserProfile{ID: "1", Name: "one"}
		ts.Put(ctx, "zoom", "1", TokenRecord{AccessToken: "a"}, &p)
		ts.Put(ctx, "zoom", "2", TokenRecord{AccessToken: "b"}, nil)

		ts.Remove(ctx, "zoom", "1")
		if _, err := ts.Get(ctx, "zoom", "1"); !errors.Is(err, ErrNotFound) {
			t.Errorf("token: expected ErrNotFound, got %v", err)
		}
		if _, err := ts.Profile(ctx, "zoom", "1"); !errors.Is(err, ErrNotFound) {
			t.Errorf("profile: expected ErrNotFound, got %v", err)
		}
		if _, err := ts.Get(ctx, "zoom", "2"); err != nil {
			t.Errorf("other user should survive: %v", err)
		}
	})
}

// --- TokenRecord helpers ---

func TestTokenRecordExpiresAt(t *testing.T) {
	obtained := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	tr := TokenRecord{ExpiresIn: int64p(60), ObtainedAt: obtained}
	if got := tr.ExpiresAt(); !got.Equal(obtained.Add(time.Minute)) {
		t.Errorf("ExpiresAt: expected %v, got %v", obtained.Add(time.Minute), got)
	}
	if got := (&TokenRecord{ObtainedAt: obtained}).ExpiresAt(); !got.IsZero() {
		t.Errorf("ExpiresAt without lifetime: expected zero, got %v", got)
	}
}
