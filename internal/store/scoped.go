// scoped.go -- Per-browser key namespacing.
//
// Each browser owns its connections. ScopedKV keeps that boundary on a shared
// backend: every key is prefixed with the scope carried on the request context.
package store

import (
	"context"
	"strings"
)

// DefaultScope is used when no scope is attached to the context (CLI, background jobs).
const DefaultScope = "default"

type scopeKey struct{}

// WithScope attaches a browser scope to ctx.
func WithScope(ctx context.Context, scope string) context.Context {
	return context.WithValue(ctx, scopeKey{}, scope)
}

// ScopeFromContext returns the scope on ctx, or DefaultScope.
func ScopeFromContext(ctx context.Context) string {
	if s, ok := ctx.Value(scopeKey{}).(string); ok && s != "" {
		return s
	}
	return DefaultScope
}

// ScopedKV prefixes every key with "s/{scope}/".
type ScopedKV struct {
	inner KV
}

// NewScopedKV wraps inner.
func NewScopedKV(inner KV) *ScopedKV {
	return &ScopedKV{inner: inner}
}

func scopePrefix(ctx context.Context) string {
	return "s/" + ScopeFromContext(ctx) + "/"
}

func (s *ScopedKV) Get(ctx context.Context, key string) (string, error) {
	return s.inner.Get(ctx, scopePrefix(ctx)+key)
}

func (s *ScopedKV) Set(ctx context.Context, key, value string) error {
	return s.inner.Set(ctx, scopePrefix(ctx)+key, value)
}

func (s *ScopedKV) Remove(ctx context.Context, key string) error {
	return s.inner.Remove(ctx, scopePrefix(ctx)+key)
}

func (s *ScopedKV) ListKeys(ctx context.Context, prefix string) ([]string, error) {
	p := scopePrefix(ctx)
	keys, err := s.inner.ListKeys(ctx, p+prefix)
	if err != nil {
		return nil, err
	}
	for i, k := range keys {
		keys[i] = strings.TrimPrefix(k, p)
	}
	return keys, nil
}

// Take implements Taker.
func (s *ScopedKV) Take(ctx context.Context, key string) (string, error) {
	return take(ctx, s.inner, scopePrefix(ctx)+key)
}
