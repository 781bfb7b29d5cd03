// tokens.go -- Token and profile records keyed by (provider, user).
//
// Each record is one JSON value under one key, so a reader sees either the previous
// complete record or the new one. Listing and reading are separate calls; another tab
// or process may delete a key in between, and readers skip such keys.
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
)

// TokenStore persists TokenRecords and UserProfiles.
type TokenStore struct {
	kv KV
}

// NewTokenStore wraps kv.
func NewTokenStore(kv KV) *TokenStore {
	return &TokenStore{kv: kv}
}

// Put writes token under (provider, userID), replacing any previous record.
// profile is optional; nil leaves any stored profile untouched.
func (s *TokenStore) Put(ctx context.Context, provider, userID string, token TokenRecord, profile *UserProfile) error {
	if err := validateSegment("provider", provider); err != nil {
		return err
	}
	if err := validateSegment("user", userID); err != nil {
		return err
	}
	token.UserID = userID
	if token.TokenType == "" {
		token.TokenType = DefaultTokenType
	}
	raw, err := json.Marshal(token)
	if err != nil {
		return fmt.Errorf("marshaling token: %w", err)
	}
	if err := s.kv.Set(ctx, TokenKey(provider, userID), string(raw)); err != nil {
		return fmt.Errorf("storing token: %w", err)
	}
	if profile != nil {
		if err := s.PutProfile(ctx, provider, userID, *profile); err != nil {
			return err
		}
	}
	return nil
}

// PutProfile writes the profile for (provider, userID).
func (s *TokenStore) PutProfile(ctx context.Context, provider, userID string, profile UserProfile) error {
	raw, err := json.Marshal(profile)
	if err != nil {
		return fmt.Errorf("marshaling profile: %w", err)
	}
	if err := s.kv.Set(ctx, ProfileKey(provider, userID), string(raw)); err != nil {
		return fmt.Errorf("storing profile: %w", err)
	}
	return nil
}

// Get returns the token for (provider, userID). With an empty userID it returns the
// first readable record for the provider in key order, skipping records that fail to
// read or parse. Returns ErrNotFound if none exists, or the first read error when
// records exist but none is readable.
func (s *TokenStore) Get(ctx context.Context, provider, userID string) (*TokenRecord, error) {
	if userID != "" {
		return s.getToken(ctx, TokenKey(provider, userID))
	}
	users, err := s.Users(ctx, provider)
	if err != nil {
		return nil, err
	}
	var firstErr error
	for _, u := range users {
		t, err := s.getToken(ctx, TokenKey(provider, u))
		if isNotFound(err) {
			continue
		}
		if err != nil {
			slog.Warn("skipping unreadable token record", "provider", provider, "user_id", u, "error", err)
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		return t, nil
	}
	if firstErr != nil {
		return nil, firstErr
	}
	return nil, ErrNotFound
}

func (s *TokenStore) getToken(ctx context.Context, key string) (*TokenRecord, error) {
	raw, err := s.kv.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	var t TokenRecord
	if err := json.Unmarshal([]byte(raw), &t); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", key, err)
	}
	return &t, nil
}

// Profile returns the profile for (provider, userID), or ErrNotFound.
func (s *TokenStore) Profile(ctx context.Context, provider, userID string) (*UserProfile, error) {
	key := ProfileKey(provider, userID)
	raw, err := s.kv.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	var p UserProfile
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", key, err)
	}
	return &p, nil
}

// Users lists user ids holding a token for provider, sorted.
func (s *TokenStore) Users(ctx context.Context, provider string) ([]string, error) {
	keys, err := s.kv.ListKeys(ctx, tokenKeyPrefix+provider+"_")
	if err != nil {
		return nil, fmt.Errorf("listing tokens for %s: %w", provider, err)
	}
	users := make([]string, 0, len(keys))
	for _, k := range keys {
		if p, u, ok := splitTokenKey(k); ok && p == provider {
			users = append(users, u)
		}
	}
	return users, nil
}

// ListProviders returns provider ids with at least one stored token, sorted.
func (s *TokenStore) ListProviders(ctx context.Context) ([]string, error) {
	keys, err := s.kv.ListKeys(ctx, tokenKeyPrefix)
	if err != nil {
		return nil, fmt.Errorf("listing tokens: %w", err)
	}
	seen := make(map[string]struct{})
	for _, k := range keys {
		if p, _, ok := splitTokenKey(k); ok {
			seen[p] = struct{}{}
		}
	}
	providers := make([]string, 0, len(seen))
	for p := range seen {
		providers = append(providers, p)
	}
	sort.Strings(providers)
	return providers, nil
}

// Remove deletes the token and profile for (provider, userID). With an empty userID it
// deletes every token and profile for the provider.
func (s *TokenStore) Remove(ctx context.Context, provider, userID string) error {
	if userID != "" {
		if err := s.kv.Remove(ctx, TokenKey(provider, userID)); err != nil {
			return fmt.Errorf("removing token: %w", err)
		}
		if err := s.kv.Remove(ctx, ProfileKey(provider, userID)); err != nil {
			return fmt.Errorf("removing profile: %w", err)
		}
		return nil
	}

	for _, prefix := range []string{tokenKeyPrefix + provider + "_", profileKeyPrefix + provider + "_"} {
		keys, err := s.kv.ListKeys(ctx, prefix)
		if err != nil {
			return fmt.Errorf("listing %s*: %w", prefix, err)
		}
		for _, k := range keys {
			if err := s.kv.Remove(ctx, k); err != nil {
				return fmt.Errorf("removing %s: %w", k, err)
			}
		}
	}
	return nil
}
