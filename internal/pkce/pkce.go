// Package pkce generates RFC 7636 proof-key pairs for authorization-code flows.
//
// pkce.go -- verifier generation and S256 challenge computation.
package pkce

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"io"
	"strings"
)

// MethodS256 is the only challenge method this package produces.
const MethodS256 = "S256"

// Verifier length bounds from RFC 7636 section 4.1.
const (
	MinVerifierLength     = 43
	MaxVerifierLength     = 128
	DefaultVerifierLength = MinVerifierLength
)

// Context is one proof-key pair for a single authorization attempt.
// Created right before the redirect; the verifier is consumed once by the matching callback.
type Context struct {
	Verifier  string
	Challenge string
	Method    string
}

// randReader is the entropy source. Tests swap it to exercise failure paths;
// there is no fallback to a non-secure source.
var randReader io.Reader = rand.Reader

// New generates a verifier of the given length and its S256 challenge.
func New(length int) (Context, error) {
	verifier, err := GenerateVerifier(length)
	if err != nil {
		return Context{}, err
	}
	return Context{
		Verifier:  verifier,
		Challenge: ComputeChallenge(verifier),
		Method:    MethodS256,
	}, nil
}

// GenerateVerifier returns a random verifier of exactly length characters drawn from the
// unreserved set A-Z a-z 0-9 - . _ ~.
func GenerateVerifier(length int) (string, error) {
	if length < MinVerifierLength || length > MaxVerifierLength {
		return "", fmt.Errorf("verifier length must be between %d and %d, got %d",
			MinVerifierLength, MaxVerifierLength, length)
	}

	var sb strings.Builder
	sb.Grow(length)
	// base64url yields 4 chars per 3 bytes; one read normally covers the whole length.
	buf := make([]byte, length)
	for sb.Len() < length {
		if _, err := io.ReadFull(randReader, buf); err != nil {
			return "", fmt.Errorf("reading random bytes: %w", err)
		}
		for _, c := range base64.RawURLEncoding.EncodeToString(buf) {
			if sb.Len() == length {
				break
			}
			if isUnreserved(c) {
				sb.WriteRune(c)
			}
		}
	}
	return sb.String(), nil
}

// ComputeChallenge returns base64url(SHA-256(verifier)) without padding.
func ComputeChallenge(verifier string) string {
	sum := sha256.Sum256([]byte(verifier))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

// ValidVerifier reports whether v has a legal length and only unreserved characters.
func ValidVerifier(v string) bool {
	if len(v) < MinVerifierLength || len(v) > MaxVerifierLength {
		return false
	}
	for _, c := range v {
		if !isUnreserved(c) {
			return false
		}
	}
	return true
}

func isUnreserved(c rune) bool {
	switch {
	case c >= 'A' && c <= 'Z', c >= 'a' && c <= 'z', c >= '0' && c <= '9':
		return true
	case c == '-', c == '.', c == '_', c == '~':
		return true
	}
	return false
}
