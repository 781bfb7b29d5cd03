// memory.go -- In-process KV backend on go-cache.
//
// Default backend for `obol serve` without STORE set, and the fake used across tests.
// Nothing expires; the janitor is disabled.
package store

import (
	"context"
	"sort"
	"strings"
	"sync"

	gocache "github.com/patrickmn/go-cache"
)

// MemoryKV keeps all keys in memory. Safe for concurrent use.
type MemoryKV struct {
	c *gocache.Cache
	// mu serializes Take so a read-then-delete cannot interleave with another Take.
	mu sync.Mutex
}

// NewMemoryKV returns an empty in-memory store.
func NewMemoryKV() *MemoryKV {
	return &MemoryKV{c: gocache.New(gocache.NoExpiration, 0)}
}

func (m *MemoryKV) Get(_ context.Context, key string) (string, error) {
	v, ok := m.c.Get(key)
	if !ok {
		return "", ErrNotFound
	}
	s, _ := v.(string)
	return s, nil
}

func (m *MemoryKV) Set(_ context.Context, key, value string) error {
	m.c.Set(key, value, gocache.NoExpiration)
	return nil
}

func (m *MemoryKV) Remove(_ context.Context, key string) error {
	m.c.Delete(key)
	return nil
}

func (m *MemoryKV) ListKeys(_ context.Context, prefix string) ([]string, error) {
	var keys []string
	for k := range m.c.Items() {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

// Take implements Taker.
func (m *MemoryKV) Take(ctx context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, err := m.Get(ctx, key)
	if err != nil {
		return "", err
	}
	m.c.Delete(key)
	return v, nil
}

// Len returns the number of stored keys.
func (m *MemoryKV) Len() int { return m.c.ItemCount() }
