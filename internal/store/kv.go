// Package store handles all persisted state: token records, in-flight flow state,
// and user-entered provider configuration, on top of a pluggable key-value backend.
//
// kv.go -- KV interface and the persisted key layout.
package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// KV is the key-value collaborator every store in this package is built on.
// Implementations must be last-write-wins per key and return ErrNotFound from Get
// for a missing key. Satisfied by *MemoryKV, *RedisKV, *PostgresKV, *SealedKV, *ScopedKV.
type KV interface {
	// Get returns the value stored at key, or ErrNotFound.
	Get(ctx context.Context, key string) (string, error)

	// Set stores value at key, replacing any previous value.
	Set(ctx context.Context, key, value string) error

	// Remove deletes key. Removing a missing key is not an error.
	Remove(ctx context.Context, key string) error

	// ListKeys returns all keys starting with prefix, sorted.
	ListKeys(ctx context.Context, prefix string) ([]string, error)
}

// Taker is implemented by backends that can read and delete a key atomically.
type Taker interface {
	// Take returns the value at key and deletes it, or ErrNotFound.
	Take(ctx context.Context, key string) (string, error)
}

// take reads and deletes key, atomically when kv supports it.
func take(ctx context.Context, kv KV, key string) (string, error) {
	if t, ok := kv.(Taker); ok {
		return t.Take(ctx, key)
	}
	v, err := kv.Get(ctx, key)
	if err != nil {
		return "", err
	}
	if err := kv.Remove(ctx, key); err != nil {
		return "", err
	}
	return v, nil
}

// Persisted key layout. These names are a contract shared with anything else reading
// the same storage, so they must not change.
const (
	tokenKeyPrefix   = "oauth_token_"
	profileKeyPrefix = "oauth_user_"
	verifierSuffix   = "_code_verifier"
	stateSuffix      = "_oauth_state"
	pendingKey       = "oauth_pending_provider"
	configsKey       = "oauth_provider_configs"
)

// TokenKey returns oauth_token_{provider}_{user}.
func TokenKey(provider, userID string) string {
	return tokenKeyPrefix + provider + "_" + userID
}

// ProfileKey returns oauth_user_{provider}_{user}.
func ProfileKey(provider, userID string) string {
	return profileKeyPrefix + provider + "_" + userID
}

// VerifierKey returns {provider}_code_verifier.
func VerifierKey(provider string) string {
	return provider + verifierSuffix
}

// StateKey returns {provider}_oauth_state.
func StateKey(provider string) string {
	return provider + stateSuffix
}

// splitTokenKey parses oauth_token_{provider}_{user}. Provider ids never contain '_'
// (enforced by the registry); user ids may.
func splitTokenKey(key string) (provider, userID string, ok bool) {
	rest, found := strings.CutPrefix(key, tokenKeyPrefix)
	if !found {
		return "", "", false
	}
	provider, userID, found = strings.Cut(rest, "_")
	if !found || provider == "" || userID == "" {
		return "", "", false
	}
	return provider, userID, true
}

// validateSegment rejects provider/user ids that would corrupt the key layout.
func validateSegment(kind, v string) error {
	if v == "" {
		return fmt.Errorf("%s id is required", kind)
	}
	if kind == "provider" && strings.Contains(v, "_") {
		return fmt.Errorf("provider id %q must not contain '_'", v)
	}
	return nil
}

// isNotFound is shorthand used by the stores that tolerate vanished keys.
func isNotFound(err error) bool { return errors.Is(err, ErrNotFound) }
