// app.go -- Dependency wiring shared by the server and the CLI commands.
package main

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"strings"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/MGallo-Code/obol/internal/auth"
	"github.com/MGallo-Code/obol/internal/config"
	"github.com/MGallo-Code/obol/internal/connect"
	"github.com/MGallo-Code/obol/internal/metrics"
	"github.com/MGallo-Code/obol/internal/oauth"
	"github.com/MGallo-Code/obol/internal/provider"
	"github.com/MGallo-Code/obol/internal/store"
)

// app is every long-lived dependency built from a Config.
type app struct {
	cfg      *config.Config
	engine   *connect.Engine
	backend  *oauth.BackendClient
	health   auth.HealthChecker
	metrics  *metrics.Metrics
	registry *prometheus.Registry
	closers  []func()
}

// newApp opens the configured store and wires the engine on top of it.
// Callers must Close the result.
func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	a := &app{cfg: cfg, registry: prometheus.NewRegistry()}

	m, err := metrics.New(a.registry)
	if err != nil {
		return nil, fmt.Errorf("registering metrics: %w", err)
	}
	a.metrics = m

	kv, err := a.openStore(ctx)
	if err != nil {
		a.Close()
		return nil, err
	}

	// Seal beneath the scope prefix so sealed values are bound to their full key.
	if cfg.SealKey != "" {
		sealed, err := store.NewSealedKV(kv, cfg.SealKey, cfg.SealSalt)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("setting up token sealing: %w", err)
		}
		kv = sealed
	}
	scoped := store.NewScopedKV(kv)

	defaults, err := provider.LoadDefaults(cfg.ProvidersFile)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("loading provider defaults: %w", err)
	}
	reg, err := provider.NewRegistry(defaults, store.NewConfigStore(scoped), providerOverrides(cfg))
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("building provider registry: %w", err)
	}

	a.backend = oauth.NewBackendClient(cfg.BackendURL, cfg.HTTPTimeout)

	a.engine = connect.New(connect.Config{
		Registry:       reg,
		KV:             scoped,
		Backend:        a.backend,
		Services:       directServices(ctx, cfg, reg),
		Metrics:        a.metrics,
		BaseURL:        cfg.BaseURL,
		VerifierLength: cfg.VerifierLength,
	})
	return a, nil
}

// openStore connects the backend selected by cfg.Store.
func (a *app) openStore(ctx context.Context) (store.KV, error) {
	switch a.cfg.Store {
	case config.StoreRedis:
		// Create shared Redis client; closed with the app.
		rdb, err := store.NewRedisClient(ctx, a.cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("failed to set up redis client: %w", err)
		}
		a.closers = append(a.closers, func() { rdb.Close() })
		kv := store.NewRedisKV(rdb, "")
		a.health = kv
		return kv, nil

	case config.StorePostgres:
		ps, err := store.NewPostgresKV(ctx, a.cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to set up postgres store: %w", err)
		}
		a.closers = append(a.closers, ps.Close)

		// Run database migrations
		migrationsFS, err := fs.Sub(migrationsDir, "migrations")
		if err != nil {
			return nil, fmt.Errorf("failed to access embedded migrations: %w", err)
		}
		if err := ps.Migrate(ctx, migrationsFS); err != nil {
			return nil, fmt.Errorf("failed to run migrations: %w", err)
		}
		if err := a.metrics.RegisterPool(a.registry, ps); err != nil {
			return nil, fmt.Errorf("registering pool metrics: %w", err)
		}
		a.health = ps
		return ps, nil

	default:
		slog.Warn("using in-memory store, connections are lost on restart")
		return store.NewMemoryKV(), nil
	}
}

// Close releases store connections in reverse order of opening.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

// handler returns the HTTP handler dependencies for the server.
func (a *app) handler() *auth.AuthHandler {
	return &auth.AuthHandler{
		CE:           a.engine,
		KV:           a.health,
		BE:           a.backend,
		BaseURL:      a.cfg.BaseURL,
		CookieSecure: a.cfg.CookieSecure,
	}
}

func providerOverrides(cfg *config.Config) map[string]provider.Override {
	out := make(map[string]provider.Override, len(cfg.ProviderOverrides))
	for id, o := range cfg.ProviderOverrides {
		out[id] = provider.Override{ClientID: o.ClientID, Enabled: o.Enabled, Scope: o.Scope}
	}
	return out
}

// directServices builds the token services that bypass the backend. Today that is
// Google, when a client secret is configured. Failure falls back to the backend.
func directServices(ctx context.Context, cfg *config.Config, reg *provider.Registry) map[string]oauth.TokenService {
	if cfg.GoogleClientSecret == "" {
		return nil
	}
	id, ok := reg.Canonical(cfg.GoogleDirectProvider)
	if !ok {
		slog.Warn("direct google provider is not registered, using backend", "provider", cfg.GoogleDirectProvider)
		return nil
	}
	d, err := reg.Resolve(ctx, id)
	if err != nil {
		slog.Warn("direct google provider has no client id, using backend", "provider", id, "error", err)
		return nil
	}

	g, err := oauth.NewGoogleProvider(ctx, oauth.GoogleConfig{
		ProviderID:   id,
		ClientID:     d.ClientID,
		ClientSecret: cfg.GoogleClientSecret,
		RedirectURL:  d.RedirectURL(cfg.BaseURL),
		Scopes:       strings.Fields(d.Scope),
	})
	if err != nil {
		slog.Warn("google discovery failed, using backend", "provider", id, "error", err)
		return nil
	}
	slog.Info("direct google exchange enabled", "provider", id)
	return map[string]oauth.TokenService{id: g}
}
