package certs

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/rsa"
	"fmt"
	"maps"
	"slices"
	"time"
)

// KeySet is one published generation of the provider's signing keys.
//
// Concurrency: a KeySet is never mutated after NewKeySet returns. The cache
// replaces it as a whole.
type KeySet struct {
	keys      map[string]crypto.PublicKey
	FetchedAt time.Time
	ExpiresAt time.Time
}

// emptyKeySet is returned by Cache.Current before the first refresh.
var emptyKeySet = &KeySet{}

// NewKeySet copies keys into a new set. Only RSA and ECDSA public keys are
// accepted.
func NewKeySet(keys map[string]crypto.PublicKey, fetchedAt, expiresAt time.Time) (*KeySet, error) {
	for kid, k := range keys {
		if kid == "" {
			return nil, fmt.Errorf("%w: empty key id", ErrInvalidKeySet)
		}
		switch k.(type) {
		case *rsa.PublicKey, *ecdsa.PublicKey:
		default:
			return nil, fmt.Errorf("%w: kid=%s type=%T", ErrUnsupportedKeyType, kid, k)
		}
	}
	return &KeySet{
		keys:      maps.Clone(keys),
		FetchedAt: fetchedAt,
		ExpiresAt: expiresAt,
	}, nil
}

// Lookup returns the key for kid when the set holds it and has not expired.
func (s *KeySet) Lookup(kid string, now time.Time) (crypto.PublicKey, bool) {
	if !s.Valid(now) {
		return nil, false
	}
	k, ok := s.keys[kid]
	return k, ok
}

// Valid reports whether the set holds keys and is unexpired at now.
func (s *KeySet) Valid(now time.Time) bool {
	return s != nil && len(s.keys) > 0 && now.Before(s.ExpiresAt)
}

func (s *KeySet) Len() int {
	if s == nil {
		return 0
	}
	return len(s.keys)
}

// KeyIDs returns the key ids in lexical order.
func (s *KeySet) KeyIDs() []string {
	if s == nil {
		return nil
	}
	return slices.Sorted(maps.Keys(s.keys))
}

// Keys returns a copy of the kid->key mapping.
func (s *KeySet) Keys() map[string]crypto.PublicKey {
	if s == nil {
		return nil
	}
	return maps.Clone(s.keys)
}
