// flow.go -- State that must survive the round-trip to the provider:
// the PKCE verifier, the state nonce and the pending-provider marker.
package store

import (
	"context"
	"fmt"
)

// FlowStore persists in-flight authorization state.
type FlowStore struct {
	kv KV
}

// NewFlowStore wraps kv.
func NewFlowStore(kv KV) *FlowStore {
	return &FlowStore{kv: kv}
}

// SaveVerifier stores the PKCE verifier for provider, overwriting any earlier one.
func (s *FlowStore) SaveVerifier(ctx context.Context, provider, verifier string) error {
	if err := s.kv.Set(ctx, VerifierKey(provider), verifier); err != nil {
		return fmt.Errorf("storing code verifier: %w", err)
	}
	return nil
}

// Verifier returns the stored verifier for provider without consuming it, or ErrNotFound.
func (s *FlowStore) Verifier(ctx context.Context, provider string) (string, error) {
	return s.kv.Get(ctx, VerifierKey(provider))
}

// TakeVerifier returns and deletes the stored verifier for provider, or ErrNotFound.
func (s *FlowStore) TakeVerifier(ctx context.Context, provider string) (string, error) {
	return take(ctx, s.kv, VerifierKey(provider))
}

// ClearVerifier deletes any stored verifier for provider.
func (s *FlowStore) ClearVerifier(ctx context.Context, provider string) error {
	if err := s.kv.Remove(ctx, VerifierKey(provider)); err != nil {
		return fmt.Errorf("clearing code verifier: %w", err)
	}
	return nil
}

// SaveState stores the state nonce of the latest authorization for provider.
func (s *FlowStore) SaveState(ctx context.Context, provider, nonce string) error {
	if err := s.kv.Set(ctx, StateKey(provider), nonce); err != nil {
		return fmt.Errorf("storing state nonce: %w", err)
	}
	return nil
}

// State returns the stored state nonce for provider, or ErrNotFound.
func (s *FlowStore) State(ctx context.Context, provider string) (string, error) {
	return s.kv.Get(ctx, StateKey(provider))
}

// ClearState deletes any stored state nonce for provider.
func (s *FlowStore) ClearState(ctx context.Context, provider string) error {
	if err := s.kv.Remove(ctx, StateKey(provider)); err != nil {
		return fmt.Errorf("clearing state nonce: %w", err)
	}
	return nil
}

// SetPending writes the pending-provider marker. Last write wins.
func (s *FlowStore) SetPending(ctx context.Context, provider string) error {
	if err := s.kv.Set(ctx, pendingKey, provider); err != nil {
		return fmt.Errorf("storing pending provider: %w", err)
	}
	return nil
}

// Pending returns the marker, or "" when none is set.
func (s *FlowStore) Pending(ctx context.Context) (string, error) {
	v, err := s.kv.Get(ctx, pendingKey)
	if isNotFound(err) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("fetching pending provider: %w", err)
	}
	return v, nil
}

// ClearPending deletes the marker.
func (s *FlowStore) ClearPending(ctx context.Context) error {
	if err := s.kv.Remove(ctx, pendingKey); err != nil {
		return fmt.Errorf("clearing pending provider: %w", err)
	}
	return nil
}

// ClearPendingIf deletes the marker only while it still names provider, so a marker
// written by another tab for a different provider survives.
func (s *FlowStore) ClearPendingIf(ctx context.Context, provider string) error {
	cur, err := s.Pending(ctx)
	if err != nil {
		return err
	}
	if cur != provider {
		return nil
	}
	return s.ClearPending(ctx)
}
