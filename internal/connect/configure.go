// configure.go -- User-entered provider configuration.
package connect

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/MGallo-Code/obol/internal/provider"
	"github.com/MGallo-Code/obol/internal/store"
)

// ErrInvalidConfig is returned when a saved configuration fails validation.
var ErrInvalidConfig = errors.New("invalid provider configuration")

// Canonical maps a provider id or alias to its id.
func (e *Engine) Canonical(name string) (string, bool) {
	return e.registry.Canonical(name)
}

// Providers returns the effective descriptor for every registered provider, in id order.
func (e *Engine) Providers(ctx context.Context) ([]provider.Descriptor, error) {
	ids := e.registry.IDs()
	out := make([]provider.Descriptor, 0, len(ids))
	for _, id := range ids {
		d, err := e.registry.Describe(ctx, id)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, nil
}

// Configure persists the user-entered configuration for providerID (id or alias).
// The next Resolve sees it; nothing is cached.
func (e *Engine) Configure(ctx context.Context, providerID string, cfg store.ProviderConfig) (provider.Descriptor, error) {
	id, err := e.canonical(providerID)
	if err != nil {
		return provider.Descriptor{}, err
	}
	cfg.ClientID = strings.TrimSpace(cfg.ClientID)
	if strings.ContainsAny(cfg.ClientID, " \t\r\n") {
		return provider.Descriptor{}, fmt.Errorf("%w: client id contains whitespace", ErrInvalidConfig)
	}
	if err := e.configs.Save(ctx, id, cfg); err != nil {
		return provider.Descriptor{}, err
	}
	slog.Info("provider configured", "provider", id, "client_id_set", cfg.ClientID != "", "secret_set", cfg.ClientSecret != "")
	return e.registry.Describe(ctx, id)
}

// Unconfigure drops the persisted configuration for providerID; defaults and
// environment overrides apply again.
func (e *Engine) Unconfigure(ctx context.Context, providerID string) error {
	id, err := e.canonical(providerID)
	if err != nil {
		return err
	}
	if err := e.configs.Delete(ctx, id); err != nil {
		return err
	}
	slog.Info("provider configuration removed", "provider", id)
	return nil
}
