// redis.go -- go-redis KV backend.
//
// Every key lives under a namespace prefix so obol can share a Redis with other apps.
// Writes are plain SET (last write wins); listing walks SCAN so large keyspaces
// never block the server.
package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/redis/go-redis/v9"
)

// DefaultRedisNamespace prefixes every key obol writes to Redis.
const DefaultRedisNamespace = "obol:"

// RedisKV implements KV on a shared Redis client.
type RedisKV struct {
	rdb *redis.Client
	ns  string
}

// NewRedisClient parses redisURL, connects, and pings.
// Call once at startup; the returned client is safe for concurrent use.
func NewRedisClient(ctx context.Context, redisURL string) (*redis.Client, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parsing redis url: %w", err)
	}
	rdb := redis.NewClient(opt)
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("pinging redis: %w", err)
	}
	return rdb, nil
}

// NewRedisKV wraps rdb. Empty namespace falls back to DefaultRedisNamespace.
func NewRedisKV(rdb *redis.Client, namespace string) *RedisKV {
	if namespace == "" {
		namespace = DefaultRedisNamespace
	}
	return &RedisKV{rdb: rdb, ns: namespace}
}

func (s *RedisKV) Get(ctx context.Context, key string) (string, error) {
	v, err := s.rdb.Get(ctx, s.ns+key).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("fetching %s: %w", key, err)
	}
	return v, nil
}

func (s *RedisKV) Set(ctx context.Context, key, value string) error {
	if err := s.rdb.Set(ctx, s.ns+key, value, 0).Err(); err != nil {
		return fmt.Errorf("storing %s: %w", key, err)
	}
	return nil
}

func (s *RedisKV) Remove(ctx context.Context, key string) error {
	if err := s.rdb.Del(ctx, s.ns+key).Err(); err != nil {
		return fmt.Errorf("deleting %s: %w", key, err)
	}
	return nil
}

// ListKeys scans ns+prefix* and returns keys with the namespace stripped.
func (s *RedisKV) ListKeys(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	iter := s.rdb.Scan(ctx, 0, escapeGlob(s.ns+prefix)+"*", 200).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, strings.TrimPrefix(iter.Val(), s.ns))
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("scanning %s*: %w", prefix, err)
	}
	sort.Strings(keys)
	return keys, nil
}

// Take implements Taker with GETDEL.
func (s *RedisKV) Take(ctx context.Context, key string) (string, error) {
	v, err := s.rdb.GetDel(ctx, s.ns+key).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("taking %s: %w", key, err)
	}
	return v, nil
}

// CheckHealth pings Redis.
func (s *RedisKV) CheckHealth(ctx context.Context) error {
	return s.rdb.Ping(ctx).Err()
}

// escapeGlob escapes SCAN MATCH metacharacters so user ids are matched literally.
func escapeGlob(s string) string {
	var sb strings.Builder
	for _, c := range s {
		switch c {
		case '*', '?', '[', ']', '\\', '^':
			sb.WriteByte('\\')
		}
		sb.WriteRune(c)
	}
	return sb.String()
}
