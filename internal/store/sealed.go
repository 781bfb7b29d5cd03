// sealed.go -- Encryption-at-rest decorator for any KV.
//
// Values are sealed with XChaCha20-Poly1305 under a key derived from a passphrase
// with Argon2id. The KV key is the associated data, so a sealed value copied to
// another key fails to open.
package store

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/chacha20poly1305"
)

// sealedPrefix marks sealed values; unprefixed values are legacy plaintext.
const sealedPrefix = "sealed:v1:"

// Argon2id parameters for key derivation (RFC 9106 second recommended option).
const (
	sealTime    = 3
	sealMemory  = 64 * 1024
	sealThreads = 4
)

// ErrSealBroken is returned when a sealed value cannot be authenticated.
var ErrSealBroken = errors.New("sealed value failed authentication")

// SealedKV encrypts values before handing them to the inner KV.
type SealedKV struct {
	inner KV
	aead  cipherAEAD
}

// cipherAEAD is the subset of cipher.AEAD used here.
type cipherAEAD interface {
	NonceSize() int
	Seal(dst, nonce, plaintext, additionalData []byte) []byte
	Open(dst, nonce, ciphertext, additionalData []byte) ([]byte, error)
}

// NewSealedKV derives a 256-bit key from passphrase and salt and wraps inner.
func NewSealedKV(inner KV, passphrase, salt string) (*SealedKV, error) {
	if passphrase == "" {
		return nil, errors.New("seal passphrase is required")
	}
	if salt == "" {
		return nil, errors.New("seal salt is required")
	}
	key := argon2.IDKey([]byte(passphrase), []byte(salt), sealTime, sealMemory, sealThreads, chacha20poly1305.KeySize)
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("creating cipher: %w", err)
	}
	return &SealedKV{inner: inner, aead: aead}, nil
}

func (s *SealedKV) Get(ctx context.Context, key string) (string, error) {
	v, err := s.inner.Get(ctx, key)
	if err != nil {
		return "", err
	}
	return s.open(key, v)
}

func (s *SealedKV) Set(ctx context.Context, key, value string) error {
	sealed, err := s.seal(key, value)
	if err != nil {
		return err
	}
	return s.inner.Set(ctx, key, sealed)
}

func (s *SealedKV) Remove(ctx context.Context, key string) error {
	return s.inner.Remove(ctx, key)
}

func (s *SealedKV) ListKeys(ctx context.Context, prefix string) ([]string, error) {
	return s.inner.ListKeys(ctx, prefix)
}

// Take implements Taker, atomically when the inner KV does.
func (s *SealedKV) Take(ctx context.Context, key string) (string, error) {
	v, err := take(ctx, s.inner, key)
	if err != nil {
		return "", err
	}
	return s.open(key, v)
}

func (s *SealedKV) seal(key, value string) (string, error) {
	nonce := make([]byte, s.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("reading nonce: %w", err)
	}
	out := s.aead.Seal(nonce, nonce, []byte(value), []byte(key))
	return sealedPrefix + base64.RawURLEncoding.EncodeToString(out), nil
}

func (s *SealedKV) open(key, stored string) (string, error) {
	payload, ok := strings.CutPrefix(stored, sealedPrefix)
	if !ok {
		return stored, nil
	}
	raw, err := base64.RawURLEncoding.DecodeString(payload)
	if err != nil {
		return "", fmt.Errorf("%w: %s: bad encoding", ErrSealBroken, key)
	}
	n := s.aead.NonceSize()
	if len(raw) < n {
		return "", fmt.Errorf("%w: %s: truncated", ErrSealBroken, key)
	}
	plain, err := s.aead.Open(nil, raw[:n], raw[n:], []byte(key))
	if err != nil {
		return "", fmt.Errorf("%w: %s", ErrSealBroken, key)
	}
	return string(plain), nil
}
