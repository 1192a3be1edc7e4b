package certs

import (
	"errors"
	"fmt"
)

var (
	ErrKeyNotFound        = errors.New("key not found")
	ErrNoKeys             = errors.New("key set is empty")
	ErrInvalidKeySet      = errors.New("invalid key set")
	ErrUnsupportedKeyType = errors.New("unsupported key type")
	ErrUnsupportedFormat  = errors.New("unsupported key set format")
)

// FetchError reports that the signing keys could not be obtained from the
// provider. It means "cannot verify now", never "token invalid".
type FetchError struct {
	Namespace string
	Err       error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch signing keys for %s: %v", e.Namespace, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }
