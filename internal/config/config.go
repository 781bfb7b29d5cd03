// config.go

// Environment variable loading and validation.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Store backends selectable with STORE.
const (
	StoreMemory   = "memory"
	StoreRedis    = "redis"
	StorePostgres = "postgres"
)

// ProviderOverride is the environment layer for one provider, from
// OAUTH_{ID}_CLIENT_ID, OAUTH_{ID}_ENABLED and OAUTH_{ID}_SCOPE.
type ProviderOverride struct {
	ClientID string
	Enabled  *bool
	Scope    *string
}

// Config holds all env configuration vars for obol.
type Config struct {
	Port     string
	BaseURL  string
	LogLevel slog.Level

	// BackendURL is the token-exchange backend. Defaults to http://localhost:8000.
	BackendURL  string
	HTTPTimeout time.Duration

	// Store selects the KV backend: memory (default), redis or postgres.
	Store       string
	RedisURL    string
	DatabaseURL string

	// SealKey enables encryption at rest when set; SealSalt is then required.
	SealKey  string
	SealSalt string

	// CookieSecure sets Secure on the browser scope cookie. Default true;
	// set COOKIE_SECURE=false for plain-HTTP localhost.
	CookieSecure bool

	VerifierLength int
	ProvidersFile  string

	// GoogleClientSecret enables the direct Google exchanger for GoogleDirectProvider.
	GoogleClientSecret   string
	GoogleDirectProvider string

	ProviderOverrides map[string]ProviderOverride
}

// LoadEnvFile loads KEY=VALUE pairs from path into the environment without overriding
// variables already set. A missing file is not an error.
func LoadEnvFile(path string) error {
	err := godotenv.Load(path)
	if err == nil || errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return fmt.Errorf("loading %s: %w", path, err)
}

// LoadConfig reads environment variables and returns a validated Config.
// Returns an error if the selected store lacks its connection URL.
func LoadConfig() (*Config, error) {
	// Create config obj
	cfg := &Config{}

	// Attempt to get port num, default to 7865
	cfg.Port = os.Getenv("PORT")
	if cfg.Port == "" {
		cfg.Port = "7865"
	}

	// Redirect URIs are built from the base URL, default to localhost on Port
	cfg.BaseURL = strings.TrimRight(os.Getenv("APP_BASE_URL"), "/")
	if cfg.BaseURL == "" {
		cfg.BaseURL = "http://localhost:" + cfg.Port
	}

	// Parse log level, default to info
	switch strings.ToLower(os.Getenv("LOG_LEVEL")) {
	case "debug":
		cfg.LogLevel = slog.LevelDebug
	case "warn":
		cfg.LogLevel = slog.LevelWarn
	case "error":
		cfg.LogLevel = slog.LevelError
	default:
		cfg.LogLevel = slog.LevelInfo
	}

	cfg.BackendURL = os.Getenv("BACKEND_URL")
	if cfg.BackendURL == "" {
		cfg.BackendURL = "http://localhost:8000"
	}
	cfg.HTTPTimeout = envDuration("HTTP_TIMEOUT", 10*time.Second)

	// Store selection; redis and postgres need their URL.
	cfg.Store = strings.ToLower(os.Getenv("STORE"))
	if cfg.Store == "" {
		cfg.Store = StoreMemory
	}
	cfg.RedisURL = os.Getenv("REDIS_URL")
	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	switch cfg.Store {
	case StoreMemory:
	case StoreRedis:
		if cfg.RedisURL == "" {
			return nil, fmt.Errorf("REDIS_URL is required when STORE=redis")
		}
	case StorePostgres:
		if cfg.DatabaseURL == "" {
			return nil, fmt.Errorf("DATABASE_URL is required when STORE=postgres")
		}
	default:
		return nil, fmt.Errorf("STORE must be memory, redis or postgres, got %q", cfg.Store)
	}

	// Sealing is all-or-nothing -- a key without a salt would derive an unstable key.
	cfg.SealKey = os.Getenv("TOKEN_SEAL_KEY")
	cfg.SealSalt = os.Getenv("TOKEN_SEAL_SALT")
	if cfg.SealKey != "" && cfg.SealSalt == "" {
		return nil, fmt.Errorf("TOKEN_SEAL_SALT is required when TOKEN_SEAL_KEY is set")
	}

	// Default true -- only explicit "false" disables.
	cfg.CookieSecure = os.Getenv("COOKIE_SECURE") != "false"

	cfg.VerifierLength = envInt("PKCE_VERIFIER_LENGTH", 43)
	if cfg.VerifierLength < 43 || cfg.VerifierLength > 128 {
		slog.Warn("PKCE_VERIFIER_LENGTH out of range 43..128, using default", "value", cfg.VerifierLength)
		cfg.VerifierLength = 43
	}

	cfg.ProvidersFile = os.Getenv("PROVIDERS_FILE")

	cfg.GoogleClientSecret = os.Getenv("GOOGLE_CLIENT_SECRET")
	cfg.GoogleDirectProvider = os.Getenv("GOOGLE_DIRECT_PROVIDER")
	if cfg.GoogleDirectProvider == "" {
		cfg.GoogleDirectProvider = "drive"
	}

	cfg.ProviderOverrides = providerOverrides(os.Environ())

	return cfg, nil
}

// providerOverrides collects OAUTH_{ID}_* variables keyed by lowercase provider id.
func providerOverrides(environ []string) map[string]ProviderOverride {
	out := map[string]ProviderOverride{}
	for _, kv := range environ {
		key, value, ok := strings.Cut(kv, "=")
		if !ok {
			continue
		}
		rest, ok := strings.CutPrefix(key, "OAUTH_")
		if !ok {
			continue
		}

		var id, field string
		for _, suffix := range []string{"_CLIENT_ID", "_ENABLED", "_SCOPE"} {
			if p, found := strings.CutSuffix(rest, suffix); found && p != "" {
				id, field = strings.ToLower(p), suffix
				break
			}
		}
		if id == "" {
			continue
		}

		o := out[id]
		switch field {
		case "_CLIENT_ID":
			o.ClientID = value
		case "_ENABLED":
			b, err := strconv.ParseBool(value)
			if err != nil {
				slog.Warn("invalid env var, ignoring", "key", key, "value", value)
				continue
			}
			o.Enabled = &b
		case "_SCOPE":
			s := value
			o.Scope = &s
		}
		out[id] = o
	}
	return out
}

// envInt reads an env var as int, returning def if missing or unparseable.
func envInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		slog.Warn("invalid env var, using default", "key", key, "value", v, "default", def)
		return def
	}
	return n
}

// envDuration reads an env var as time.Duration, returning def if missing or unparseable.
func envDuration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		slog.Warn("invalid env var, using default", "key", key, "value", v, "default", def)
		return def
	}
	return d
}
