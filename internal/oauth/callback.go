// callback.go -- Working out which provider an inbound callback belongs to.
package oauth

import (
	"crypto/subtle"
	"fmt"
	"strings"

	"github.com/MGallo-Code/obol/internal/pkce"
)

// CallbackContext bundles the three disambiguation signals, most specific first.
type CallbackContext struct {
	PathSegment string // /oauth_callback/{segment}
	State       string // raw state query parameter
	Pending     string // oauth_pending_provider marker, "" when absent
}

// Canonicalizer maps provider ids and aliases to provider ids. Satisfied by *provider.Registry.
type Canonicalizer interface {
	Canonical(name string) (string, bool)
}

// SplitState separates "{provider}.{binding}" into its parts. A state without '.'
// is all provider name.
func SplitState(state string) (name, binding string) {
	name, binding, _ = strings.Cut(state, ".")
	return name, binding
}

// IdentifyProvider returns the provider named by the first present signal:
// path segment, then state, then pending marker. The winning signal must name a
// known provider; later signals are never consulted as a fallback for an unknown
// earlier one. Fails closed with ErrAmbiguousCallback.
func IdentifyProvider(cc CallbackContext, reg Canonicalizer) (string, error) {
	stateName, _ := SplitState(cc.State)

	signals := []struct {
		source string
		value  string
	}{
		{"path", cc.PathSegment},
		{"state", stateName},
		{"pending marker", cc.Pending},
	}
	for _, s := range signals {
		if s.value == "" {
			continue
		}
		id, ok := reg.Canonical(s.value)
		if !ok {
			return "", fmt.Errorf("%w: %s names unknown provider %q", ErrAmbiguousCallback, s.source, s.value)
		}
		return id, nil
	}
	return "", fmt.Errorf("%w: no provider signal present", ErrAmbiguousCallback)
}

// CheckBinding verifies that verifier belongs to the flow that produced binding.
// An empty binding (state absent or carrying no suffix) is not checked.
func CheckBinding(verifier, binding string) error {
	if binding == "" {
		return nil
	}
	if !strings.HasPrefix(pkce.ComputeChallenge(verifier), binding) {
		return ErrStaleVerifier
	}
	return nil
}

// CheckNonce verifies that binding carries the stored nonce of the latest authorization.
// Unlike CheckBinding, an empty binding fails: a non-PKCE callback has no other proof
// that this scope started the flow.
func CheckNonce(stored, binding string) error {
	if binding == "" || subtle.ConstantTimeCompare([]byte(stored), []byte(binding)) != 1 {
		return ErrStateMismatch
	}
	return nil
}
