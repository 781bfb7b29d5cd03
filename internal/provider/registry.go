// Package provider resolves provider descriptors from three layers: environment
// overrides, persisted user configuration, and built-in defaults.
//
// registry.go -- Registry and Descriptor.
package provider

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"github.com/MGallo-Code/obol/internal/store"
)

var (
	// ErrNotConfigured means no client id could be determined for the provider.
	// Callers must not start an authorization and should prompt for configuration.
	ErrNotConfigured = errors.New("provider not configured")

	// ErrUnknownProvider means no layer knows the provider id.
	ErrUnknownProvider = errors.New("unknown provider")

	// ErrProviderDisabled means the provider is known and configured but switched off.
	ErrProviderDisabled = errors.New("provider disabled")
)

// Descriptor is the fully resolved configuration for one provider.
// A Descriptor is immutable once returned; resolve again for fresh values.
type Descriptor struct {
	ID             string
	DisplayName    string
	ClientID       string
	Enabled        bool
	RequiresPKCE   bool
	OfflineAccess  bool
	SharedRedirect bool
	Scope          string
	AuthURL        string
	RedirectPath   string
	Aliases        []string
}

// RedirectURL joins baseURL and the redirect path. Absolute redirect paths are returned as-is.
func (d Descriptor) RedirectURL(baseURL string) string {
	if strings.HasPrefix(d.RedirectPath, "http://") || strings.HasPrefix(d.RedirectPath, "https://") {
		return d.RedirectPath
	}
	return strings.TrimRight(baseURL, "/") + d.RedirectPath
}

// Override is the environment layer for one provider. Nil/empty fields fall through.
type Override struct {
	ClientID string
	Enabled  *bool
	Scope    *string
}

// ConfigSource supplies persisted user configuration. Satisfied by *store.ConfigStore.
type ConfigSource interface {
	All(ctx context.Context) (map[string]store.ProviderConfig, error)
}

// Registry resolves descriptors. It holds no resolved state: every call re-reads
// the persisted configuration, so edits are visible on the next call.
type Registry struct {
	defaults  []Default
	byID      map[string]int
	aliases   map[string]string
	configs   ConfigSource
	overrides map[string]Override
}

// NewRegistry validates defaults and builds a Registry. configs may be nil (no persisted layer).
// Overrides for ids absent from defaults are ignored with a warning.
func NewRegistry(defaults []Default, configs ConfigSource, overrides map[string]Override) (*Registry, error) {
	r := &Registry{
		byID:      make(map[string]int, len(defaults)),
		aliases:   map[string]string{},
		configs:   configs,
		overrides: map[string]Override{},
	}
	for _, d := range defaults {
		if err := d.validate(); err != nil {
			return nil, err
		}
		if _, dup := r.byID[d.ID]; dup {
			return nil, fmt.Errorf("provider %q defined twice", d.ID)
		}
		r.byID[d.ID] = len(r.defaults)
		r.defaults = append(r.defaults, d)
	}
	for _, d := range r.defaults {
		for _, a := range d.Aliases {
			if _, taken := r.byID[a]; taken {
				return nil, fmt.Errorf("alias %q of %q collides with a provider id", a, d.ID)
			}
			if other, taken := r.aliases[a]; taken {
				return nil, fmt.Errorf("alias %q claimed by both %q and %q", a, other, d.ID)
			}
			r.aliases[a] = d.ID
		}
	}
	for id, o := range overrides {
		if _, ok := r.byID[id]; !ok {
			slog.Warn("ignoring override for unknown provider", "provider", id)
			continue
		}
		r.overrides[id] = o
	}
	return r, nil
}

// IDs returns every known provider id in definition order.
func (r *Registry) IDs() []string {
	ids := make([]string, len(r.defaults))
	for i, d := range r.defaults {
		ids[i] = d.ID
	}
	return ids
}

// Canonical maps a provider id or alias to its provider id.
func (r *Registry) Canonical(name string) (string, bool) {
	if _, ok := r.byID[name]; ok {
		return name, true
	}
	id, ok := r.aliases[name]
	return id, ok
}

// Describe merges all three layers for id without requiring a client id.
func (r *Registry) Describe(ctx context.Context, id string) (Descriptor, error) {
	idx, ok := r.byID[id]
	if !ok {
		return Descriptor{}, fmt.Errorf("%w: %q", ErrUnknownProvider, id)
	}
	def := r.defaults[idx]

	d := Descriptor{
		ID:             def.ID,
		DisplayName:    def.DisplayName,
		ClientID:       def.ClientID,
		Enabled:        def.Enabled == nil || *def.Enabled,
		RequiresPKCE:   def.PKCE,
		OfflineAccess:  def.OfflineAccess,
		SharedRedirect: def.SharedRedirect,
		Scope:          def.Scope,
		AuthURL:        def.AuthURL,
		RedirectPath:   def.RedirectPath,
		Aliases:        slices.Clone(def.Aliases),
	}
	if d.DisplayName == "" {
		d.DisplayName = d.ID
	}

	// Persisted layer. A corrupt map is logged and skipped so defaults still resolve.
	if r.configs != nil {
		configs, err := r.configs.All(ctx)
		if err != nil {
			slog.Warn("reading persisted provider configs", "error", err)
		}
		if pc, ok := configs[id]; ok {
			if pc.ClientID != "" {
				d.ClientID = pc.ClientID
			}
			if pc.Enabled != nil {
				d.Enabled = *pc.Enabled
			}
		}
	}

	// Environment layer wins.
	if o, ok := r.overrides[id]; ok {
		if o.ClientID != "" {
			d.ClientID = o.ClientID
		}
		if o.Enabled != nil {
			d.Enabled = *o.Enabled
		}
		if o.Scope != nil {
			d.Scope = *o.Scope
		}
	}
	return d, nil
}

// Resolve returns the descriptor for id, or ErrNotConfigured when no layer supplies a
// client id. Disabled providers still resolve; callers starting a flow check Enabled.
func (r *Registry) Resolve(ctx context.Context, id string) (Descriptor, error) {
	d, err := r.Describe(ctx, id)
	if err != nil {
		return Descriptor{}, err
	}
	if d.ClientID == "" {
		return Descriptor{}, fmt.Errorf("%w: %s has no client id", ErrNotConfigured, id)
	}
	return d, nil
}
