package oidc

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidParameter     = errors.New("invalid parameter")
	ErrNilParameter         = errors.New("nil parameter")
	ErrInvalidConfig        = errors.New("invalid provider config")
	ErrInvalidCACert        = errors.New("invalid CA certificate")
	ErrIdGeneratorFailed    = errors.New("id generation failed")
	ErrMalformedToken       = errors.New("malformed token")
	ErrInvalidNonce         = errors.New("invalid nonce")
	ErrResponseStateInvalid = errors.New("oidc response state")
	ErrProviderError        = errors.New("provider returned an error")
	ErrExchangeFailed       = errors.New("code exchange failed")
	ErrRefreshFailed        = errors.New("refresh failed")
	ErrNoRefreshToken       = errors.New("no refresh token")
	ErrStaleGeneration      = errors.New("token set changed during request")
	ErrNoContinuation       = errors.New("no continuation or stored tokens")
	ErrNotFound             = errors.New("not found")
)

// ProviderError is an error returned by the provider in the redirect
// fragment (the "error", "error_description" and "error_uri" parameters).
type ProviderError struct {
	Code        string
	Description string
	URI         string
}

// Error implements the error interface.
func (e *ProviderError) Error() string {
	if e.Description == "" {
		return fmt.Sprintf("%s: %s", ErrProviderError, e.Code)
	}
	return fmt.Sprintf("%s: %s: %s", ErrProviderError, e.Code, e.Description)
}

// Is reports ErrProviderError as a match, so callers may use errors.Is
// without knowing the concrete type.
func (e *ProviderError) Is(target error) bool {
	return target == ErrProviderError
}

// RefreshError is returned when the token endpoint rejects a refresh.
// Cleared reports whether the token set was wiped as a result, which happens
// when the provider answers 400 (the refresh token is no longer valid).
type RefreshError struct {
	StatusCode int
	Body       []byte
	Cleared    bool
	Err        error
}

// Error implements the error interface.
func (e *RefreshError) Error() string {
	switch {
	case e.StatusCode != 0 && e.Err != nil:
		return fmt.Sprintf("%s: status %d: %s", ErrRefreshFailed, e.StatusCode, e.Err)
	case e.StatusCode != 0:
		return fmt.Sprintf("%s: status %d", ErrRefreshFailed, e.StatusCode)
	case e.Err != nil:
		return fmt.Sprintf("%s: %s", ErrRefreshFailed, e.Err)
	default:
		return ErrRefreshFailed.Error()
	}
}

// Unwrap returns ErrRefreshFailed along with the underlying cause.
func (e *RefreshError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrRefreshFailed}
	}
	return []error{ErrRefreshFailed, e.Err}
}
