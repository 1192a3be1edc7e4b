package idtoken

import (
	"errors"
	"fmt"
)

// Every *ValidationError matches ErrValidation and exactly one kind below.
var (
	ErrValidation       = errors.New("id token rejected")
	ErrMalformedToken   = errors.New("malformed token")
	ErrSignature        = errors.New("invalid token signature")
	ErrExpiredToken     = errors.New("token expired")
	ErrInvalidIssuer    = errors.New("invalid token issuer")
	ErrAudienceMismatch = errors.New("token audience mismatch")
	ErrClientIDMismatch = errors.New("token client id mismatch")
	ErrInvalidClaims    = errors.New("invalid token claims")
)

var (
	// ErrUnknownKey is matched, in addition to ErrSignature, when the token
	// names a key the provider does not publish even after a refresh.
	ErrUnknownKey = errors.New("unknown signing key")
	// ErrFetch is matched by *FetchError.
	ErrFetch = errors.New("signing keys unavailable")
)

// ValidationError describes why a token was rejected. It never contains the
// token itself.
type ValidationError struct {
	// Kind is one of the Err* kinds above.
	Kind error
	// Reason is a stable identifier of the failed check.
	Reason string
	// KeyID is set when the token named an unknown key.
	KeyID  string
	Detail string
}

func (e *ValidationError) Error() string {
	if e.Detail == "" {
		return e.Kind.Error()
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Detail)
}

func (e *ValidationError) Is(target error) bool {
	switch target {
	case ErrValidation:
		return true
	case ErrUnknownKey:
		return e.Reason == ReasonUnknownKey
	}
	return false
}

func (e *ValidationError) Unwrap() error { return e.Kind }

// FetchError means the signing keys could not be refreshed, so the token
// could not be checked at all. Callers should treat it as a temporary
// failure rather than a rejection.
type FetchError struct {
	Err error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("%s: %v", ErrFetch, e.Err)
}

func (e *FetchError) Is(target error) bool { return target == ErrFetch }

func (e *FetchError) Unwrap() error { return e.Err }
