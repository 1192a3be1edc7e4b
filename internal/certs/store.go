package certs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/keksclan/goIDToken/internal/cache"
	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/redis/go-redis/v9"
)

// Store persists the current key set per namespace. A namespace holds
// exactly one set; Set replaces it wholesale.
type Store interface {
	Get(ctx context.Context, namespace string) (*KeySet, bool, error)
	Set(ctx context.Context, namespace string, set *KeySet, ttl time.Duration) error
}

// MemoryStore keeps key sets in an in-process cache.
type MemoryStore struct {
	cache cache.Cache
}

func NewMemoryStore(c cache.Cache) *MemoryStore {
	return &MemoryStore{cache: c}
}

func (s *MemoryStore) Get(_ context.Context, namespace string) (*KeySet, bool, error) {
	val, ok := s.cache.Get(namespace)
	if !ok {
		return nil, false, nil
	}
	set, ok := val.(*KeySet)
	if !ok || set == nil {
		return nil, false, fmt.Errorf("unexpected cached value type %T for namespace=%s", val, namespace)
	}
	return set, true, nil
}

func (s *MemoryStore) Set(_ context.Context, namespace string, set *KeySet, ttl time.Duration) error {
	if !s.cache.Set(namespace, set, 1, ttl) {
		return fmt.Errorf("cache rejected key set for namespace=%s", namespace)
	}
	return nil
}

// RedisStore shares key sets between processes through Redis. Sets are
// stored as JWKS documents so any process can rebuild the public keys.
type RedisStore struct {
	client redis.UniversalClient
	prefix string
}

func NewRedisStore(client redis.UniversalClient, prefix string) *RedisStore {
	return &RedisStore{client: client, prefix: prefix}
}

// NewRedisStoreFromURL parses a redis:// URL and connects lazily.
func NewRedisStoreFromURL(url, prefix string) (*RedisStore, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	return NewRedisStore(redis.NewClient(opts), prefix), nil
}

func (s *RedisStore) key(namespace string) string {
	if s.prefix == "" {
		return namespace
	}
	return s.prefix + ":" + namespace
}

func (s *RedisStore) Get(ctx context.Context, namespace string) (*KeySet, bool, error) {
	data, err := s.client.Get(ctx, s.key(namespace)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis get: %w", err)
	}
	set, err := decodeKeySet(data)
	if err != nil {
		return nil, false, err
	}
	return set, true, nil
}

func (s *RedisStore) Set(ctx context.Context, namespace string, set *KeySet, ttl time.Duration) error {
	data, err := encodeKeySet(set)
	if err != nil {
		return err
	}
	if err := s.client.Set(ctx, s.key(namespace), data, ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

type storedKeySet struct {
	FetchedAt int64           `json:"fetched_at"`
	ExpiresAt int64           `json:"expires_at"`
	JWKS      json.RawMessage `json:"jwks"`
}

func encodeKeySet(set *KeySet) ([]byte, error) {
	jwks := jwk.NewSet()
	for kid, pub := range set.keys {
		k, err := jwk.FromRaw(pub)
		if err != nil {
			return nil, fmt.Errorf("encode key %s: %w", kid, err)
		}
		if err := k.Set(jwk.KeyIDKey, kid); err != nil {
			return nil, fmt.Errorf("encode key %s: %w", kid, err)
		}
		if err := jwks.AddKey(k); err != nil {
			return nil, fmt.Errorf("encode key %s: %w", kid, err)
		}
	}
	raw, err := json.Marshal(jwks)
	if err != nil {
		return nil, fmt.Errorf("encode key set: %w", err)
	}
	return json.Marshal(storedKeySet{
		FetchedAt: set.FetchedAt.UnixMilli(),
		ExpiresAt: set.ExpiresAt.UnixMilli(),
		JWKS:      raw,
	})
}

func decodeKeySet(data []byte) (*KeySet, error) {
	var st storedKeySet
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKeySet, err)
	}
	keys, err := ParseJWKS(st.JWKS)
	if err != nil {
		return nil, err
	}
	return NewKeySet(keys, time.UnixMilli(st.FetchedAt), time.UnixMilli(st.ExpiresAt))
}
