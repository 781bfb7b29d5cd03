// errors.go -- Failure taxonomy for authorization, callback, exchange and refresh.
package oauth

import (
	"errors"
	"fmt"
)

var (
	// ErrAmbiguousCallback means no callback signal named a known provider.
	// The code must not be exchanged; the user restarts the flow.
	ErrAmbiguousCallback = errors.New("ambiguous callback")

	// ErrInvalidExchangeResponse means the backend answered 2xx with a body in neither
	// the structured nor the flat shape.
	ErrInvalidExchangeResponse = errors.New("invalid exchange response")

	// ErrNoRefreshToken means the stored record carries no refresh token.
	ErrNoRefreshToken = errors.New("no refresh token")

	// ErrMissingVerifier means a PKCE callback arrived with no stored verifier.
	ErrMissingVerifier = errors.New("missing code verifier")

	// ErrStaleVerifier means the stored verifier belongs to a newer authorization
	// than the one this callback completes.
	ErrStaleVerifier = errors.New("stale code verifier")

	// ErrMissingState means a callback arrived for a provider with no authorization in
	// progress in this scope. Nothing is exchanged.
	ErrMissingState = errors.New("no authorization in progress")

	// ErrStateMismatch means the callback state does not carry the nonce of the latest
	// authorization for the provider.
	ErrStateMismatch = errors.New("state mismatch")

	// ErrAlreadyProcessed means this code was already claimed by an earlier callback.
	ErrAlreadyProcessed = errors.New("callback already processed")

	// ErrMissingCode means the callback carried neither a code nor a provider error.
	ErrMissingCode = errors.New("missing authorization code")

	// ErrBackendUnavailable wraps transport faults and 5xx answers outside of exchange.
	ErrBackendUnavailable = errors.New("token backend unavailable")
)

// ExchangeRejectedError is a non-2xx answer (or transport fault, StatusCode 0) from the
// exchange endpoint. Never retried: the code is single-use.
type ExchangeRejectedError struct {
	Provider   string
	StatusCode int
	Message    string
	Err        error
}

func (e *ExchangeRejectedError) Error() string {
	if e.StatusCode == 0 {
		return fmt.Sprintf("exchange for %s failed: %v", e.Provider, e.Err)
	}
	return fmt.Sprintf("exchange for %s rejected (%d): %s", e.Provider, e.StatusCode, e.Message)
}

func (e *ExchangeRejectedError) Unwrap() error { return e.Err }

// RefreshRejectedError means the refresh token was refused (expired or revoked).
// Terminal: the user must reauthorize.
type RefreshRejectedError struct {
	Provider   string
	StatusCode int
	Message    string
}

func (e *RefreshRejectedError) Error() string {
	return fmt.Sprintf("refresh for %s rejected (%d): %s", e.Provider, e.StatusCode, e.Message)
}

// ProviderDeniedError is an error reported by the provider on the callback itself,
// e.g. the user clicked "deny".
type ProviderDeniedError struct {
	Provider    string
	Code        string
	Description string
}

func (e *ProviderDeniedError) Error() string {
	if e.Description != "" {
		return fmt.Sprintf("provider %s denied authorization: %s (%s)", e.Provider, e.Code, e.Description)
	}
	return fmt.Sprintf("provider %s denied authorization: %s", e.Provider, e.Code)
}
