// Package common provides shared adapter utilities for goIDToken.
//
// Concurrency: All exported types and functions are safe for concurrent use.
package common

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/keksclan/goIDToken/idtoken"
)

var (
	ErrMissingAuthorization    = errors.New("missing authorization header")
	ErrUnsupportedScheme       = errors.New("unsupported authorization scheme")
	ErrMissingRequiredMetadata = errors.New("missing required metadata")
)

// Checker verifies a raw ID token. *idtoken.Validator implements it.
type Checker interface {
	Check(ctx context.Context, raw string) (*idtoken.Claims, error)
}

// RequiredMetadata defines mandatory metadata keys that must be present
// in a request before authentication proceeds.
type RequiredMetadata struct {
	// Keys lists required metadata/header names.
	// For HTTP headers, comparison is case-insensitive.
	// For gRPC metadata, keys are treated as lower-case per gRPC conventions.
	Keys []string
}

// MetadataExtractor abstracts reading metadata from different transports.
type MetadataExtractor interface {
	// Get returns the value for the given key and whether it was found.
	Get(key string) (string, bool)
}

// Validate checks that all required keys are present and non-empty.
func (r RequiredMetadata) Validate(ex MetadataExtractor) error {
	for _, key := range r.Keys {
		val, ok := ex.Get(key)
		if !ok || strings.TrimSpace(val) == "" {
			return fmt.Errorf("%w: %s", ErrMissingRequiredMetadata, key)
		}
	}
	return nil
}

// AdapterOptions holds common adapter configuration.
type AdapterOptions struct {
	RequiredMeta RequiredMetadata
	// Timeout bounds a single check. Zero means no extra bound.
	Timeout time.Duration
}

// BearerToken extracts the token of an "Authorization: Bearer <token>"
// header value. The scheme is matched case-insensitively.
func BearerToken(header string) (string, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", ErrMissingAuthorization
	}
	scheme, tok, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", ErrUnsupportedScheme
	}
	tok = strings.TrimSpace(tok)
	if tok == "" {
		return "", ErrMissingAuthorization
	}
	return tok, nil
}

// Authenticate extracts the bearer token from header and checks it, bounded
// by o.Timeout.
func Authenticate(ctx context.Context, c Checker, header string, o AdapterOptions) (*idtoken.Claims, error) {
	tok, err := BearerToken(header)
	if err != nil {
		return nil, err
	}
	if o.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.Timeout)
		defer cancel()
	}
	return c.Check(ctx, tok)
}

// Unavailable reports whether err means the token could not be checked at
// all, as opposed to being rejected.
func Unavailable(err error) bool {
	return errors.Is(err, idtoken.ErrFetch) ||
		errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, context.Canceled)
}

// HTTPStatus maps an authentication error to a response status.
func HTTPStatus(err error) int {
	if Unavailable(err) {
		return http.StatusServiceUnavailable
	}
	return http.StatusUnauthorized
}

// PublicMessage returns a client safe description of err. Validation
// details stay in server side errors.
func PublicMessage(err error) string {
	var ve *idtoken.ValidationError
	switch {
	case errors.As(err, &ve):
		return ve.Kind.Error()
	case Unavailable(err):
		return "authentication temporarily unavailable"
	case errors.Is(err, ErrMissingAuthorization),
		errors.Is(err, ErrUnsupportedScheme),
		errors.Is(err, ErrMissingRequiredMetadata):
		return err.Error()
	}
	return "unauthorized"
}
