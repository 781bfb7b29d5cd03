// configs.go -- User-entered provider configuration.
//
// Stored as a single JSON map under oauth_provider_configs, matching what the browser
// app wrote. Read fresh on every call; edits are visible immediately.
package store

import (
	"context"
	"encoding/json"
	"fmt"
)

// ConfigStore persists ProviderConfig entries.
type ConfigStore struct {
	kv KV
}

// NewConfigStore wraps kv.
func NewConfigStore(kv KV) *ConfigStore {
	return &ConfigStore{kv: kv}
}

// All returns every persisted provider config. A missing or corrupt map is treated as
// empty (the corrupt case is reported) so a bad edit never blocks resolution.
func (s *ConfigStore) All(ctx context.Context) (map[string]ProviderConfig, error) {
	raw, err := s.kv.Get(ctx, configsKey)
	if isNotFound(err) {
		return map[string]ProviderConfig{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("fetching provider configs: %w", err)
	}
	configs := map[string]ProviderConfig{}
	if err := json.Unmarshal([]byte(raw), &configs); err != nil {
		return map[string]ProviderConfig{}, fmt.Errorf("parsing provider configs: %w", err)
	}
	return configs, nil
}

// Get returns the persisted config for provider, or ErrNotFound.
func (s *ConfigStore) Get(ctx context.Context, provider string) (*ProviderConfig, error) {
	configs, err := s.All(ctx)
	if err != nil {
		return nil, err
	}
	c, ok := configs[provider]
	if !ok {
		return nil, ErrNotFound
	}
	return &c, nil
}

// Save stores cfg for provider, replacing any earlier entry.
func (s *ConfigStore) Save(ctx context.Context, provider string, cfg ProviderConfig) error {
	// A corrupt map is replaced rather than blocking every later save.
	configs, err := s.All(ctx)
	if err != nil && configs == nil {
		return err
	}
	configs[provider] = cfg
	return s.write(ctx, configs)
}

// Delete removes the entry for provider.
func (s *ConfigStore) Delete(ctx context.Context, provider string) error {
	configs, err := s.All(ctx)
	if err != nil {
		return err
	}
	if _, ok := configs[provider]; !ok {
		return nil
	}
	delete(configs, provider)
	return s.write(ctx, configs)
}

func (s *ConfigStore) write(ctx context.Context, configs map[string]ProviderConfig) error {
	raw, err := json.Marshal(configs)
	if err != nil {
		return fmt.Errorf("marshaling provider configs: %w", err)
	}
	if err := s.kv.Set(ctx, configsKey, string(raw)); err != nil {
		return fmt.Errorf("storing provider configs: %w", err)
	}
	return nil
}
