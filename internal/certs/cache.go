// Package certs maintains the provider's signing keys: fetching them,
// sharing them through a store and refreshing them on demand.
//
// Concurrency: Cache is safe for concurrent use. Reads are lock-free; at most
// one refresh per namespace is in flight at any time.
package certs

import (
	"context"
	"crypto"
	"io"
	"sync/atomic"
	"time"

	"github.com/keksclan/goIDToken/internal/cache"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"
)

const (
	DefaultNamespace    = "idtoken:certs"
	DefaultTTL          = time.Hour
	DefaultFetchTimeout = 10 * time.Second
	DefaultMissTTL      = time.Minute
)

type Config struct {
	// Namespace is the store key under which the set is kept.
	Namespace string
	// DefaultTTL applies when the provider sends no max-age hint.
	DefaultTTL time.Duration
	// FetchTimeout bounds a single refresh.
	FetchTimeout time.Duration
}

func (c *Config) setDefaults() {
	if c.Namespace == "" {
		c.Namespace = DefaultNamespace
	}
	if c.DefaultTTL <= 0 {
		c.DefaultTTL = DefaultTTL
	}
	if c.FetchTimeout <= 0 {
		c.FetchTimeout = DefaultFetchTimeout
	}
}

// Cache is the certificate cache: an in-memory mirror of the current key set
// backed by a Store and refreshed through a Fetcher.
type Cache struct {
	cfg     Config
	store   Store
	fetcher Fetcher
	now     func() time.Time
	log     logrus.FieldLogger
	tracer  trace.Tracer
	// onRefresh observes every completed fetch attempt.
	onRefresh func(ok bool)
	// misses holds key ids still absent after a refresh, nil when disabled.
	misses  cache.Cache
	missTTL time.Duration

	current atomic.Pointer[KeySet]
	sfGroup singleflight.Group
}

type Option func(*Cache)

func WithClock(now func() time.Time) Option {
	return func(c *Cache) {
		if now != nil {
			c.now = now
		}
	}
}

func WithLogger(l logrus.FieldLogger) Option {
	return func(c *Cache) {
		if l != nil {
			c.log = l
		}
	}
}

func WithTracer(t trace.Tracer) Option {
	return func(c *Cache) {
		if t != nil {
			c.tracer = t
		}
	}
}

// WithRefreshHook registers fn to be called after every fetch attempt.
func WithRefreshHook(fn func(ok bool)) Option {
	return func(c *Cache) {
		c.onRefresh = fn
	}
}

// WithMissMemory remembers key ids that a refresh did not resolve for ttl,
// so tokens naming them do not refresh again until the entry expires.
// A zero ttl selects DefaultMissTTL.
func WithMissMemory(m cache.Cache, ttl time.Duration) Option {
	return func(c *Cache) {
		if ttl <= 0 {
			ttl = DefaultMissTTL
		}
		c.misses = m
		c.missTTL = ttl
	}
}

func New(store Store, fetcher Fetcher, cfg Config, opts ...Option) *Cache {
	cfg.setDefaults()
	silent := logrus.New()
	silent.SetOutput(io.Discard)
	c := &Cache{
		cfg:     cfg,
		store:   store,
		fetcher: fetcher,
		now:     time.Now,
		log:     silent,
		tracer:  otel.Tracer("github.com/keksclan/goIDToken/internal/certs"),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.log = c.log.WithField("namespace", cfg.Namespace)
	return c
}

// Current returns the freshest key set known to this process. The result is
// never nil; it may be expired or empty, in which case KeySet.Lookup finds
// nothing and the caller is expected to refresh.
func (c *Cache) Current(ctx context.Context) *KeySet {
	now := c.now()
	mirror := c.current.Load()
	if mirror.Valid(now) {
		return mirror
	}

	// Another process sharing the store may already have refreshed.
	stored, ok, err := c.store.Get(ctx, c.cfg.Namespace)
	switch {
	case err != nil:
		c.log.WithError(err).Warn("read key set from store")
	case ok && stored.Valid(now):
		c.current.CompareAndSwap(mirror, stored)
		return c.current.Load()
	}

	if mirror != nil {
		return mirror
	}
	return emptyKeySet
}

// GetKey returns the public key for kid from the current set.
func (c *Cache) GetKey(ctx context.Context, kid string) (crypto.PublicKey, error) {
	key, ok := c.Current(ctx).Lookup(kid, c.now())
	if !ok {
		return nil, ErrKeyNotFound
	}
	return key, nil
}

// Refresh fetches the provider's keys and replaces the current set.
// Concurrent calls share a single fetch and observe the same result.
func (c *Cache) Refresh(ctx context.Context) (*KeySet, error) {
	return c.refresh(ctx, nil)
}

// RefreshStale is Refresh for a caller that found a key missing from
// observed. When the current set has already been replaced since observed
// was read, that set is returned without fetching again.
func (c *Cache) RefreshStale(ctx context.Context, observed *KeySet) (*KeySet, error) {
	if cur, ok := c.supersedes(observed); ok {
		return cur, nil
	}
	return c.refresh(ctx, observed)
}

// RefreshFor is RefreshStale for a caller whose token names kid. When kid
// was already missing after a refresh within the miss TTL, the current set
// is returned without fetching.
func (c *Cache) RefreshFor(ctx context.Context, observed *KeySet, kid string) (*KeySet, error) {
	if c.misses == nil {
		return c.RefreshStale(ctx, observed)
	}
	if _, ok := c.misses.Get(kid); ok {
		c.log.WithField("kid", kid).Debug("key id missed recently, not refreshing")
		return c.Current(ctx), nil
	}
	set, err := c.RefreshStale(ctx, observed)
	if err != nil {
		return nil, err
	}
	if _, ok := set.Lookup(kid, c.now()); !ok {
		c.misses.Set(kid, struct{}{}, 1, c.missTTL)
	}
	return set, nil
}

func (c *Cache) supersedes(observed *KeySet) (*KeySet, bool) {
	if observed == nil {
		return nil, false
	}
	cur := c.current.Load()
	if cur != nil && cur != observed && cur.Valid(c.now()) {
		return cur, true
	}
	return nil, false
}

func (c *Cache) refresh(ctx context.Context, observed *KeySet) (*KeySet, error) {
	result, err, _ := c.sfGroup.Do(c.cfg.Namespace, func() (any, error) {
		// Double-check inside the flight: a refresh may have completed between
		// the caller's check and acquiring the flight.
		if cur, ok := c.supersedes(observed); ok {
			return cur, nil
		}
		return c.fetch(ctx)
	})
	if err != nil {
		return nil, err
	}
	return result.(*KeySet), nil
}

func (c *Cache) fetch(ctx context.Context) (*KeySet, error) {
	// The flight is shared; one caller cancelling must not fail the others.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.cfg.FetchTimeout)
	defer cancel()
	ctx, span := c.tracer.Start(ctx, "idtoken.certs.Refresh",
		trace.WithAttributes(attribute.String("idtoken.namespace", c.cfg.Namespace)))
	defer span.End()

	c.log.Debug("refreshing signing keys")
	keys, hint, err := c.fetcher.Fetch(ctx)
	if err == nil && len(keys) == 0 {
		err = ErrNoKeys
	}
	var set *KeySet
	now := c.now()
	ttl := c.ttlFor(hint)
	if err == nil {
		set, err = NewKeySet(keys, now, now.Add(ttl))
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "fetch failed")
		c.log.WithError(err).Warn("signing key refresh failed")
		c.observe(false)
		return nil, &FetchError{Namespace: c.cfg.Namespace, Err: err}
	}

	c.current.Store(set)
	if err := c.store.Set(ctx, c.cfg.Namespace, set, ttl); err != nil {
		c.log.WithError(err).Warn("write key set to store")
	}
	span.SetAttributes(attribute.Int("idtoken.keys", set.Len()))
	c.log.WithFields(logrus.Fields{
		"keys": set.Len(),
		"ttl":  ttl.String(),
	}).Info("signing keys refreshed")
	c.observe(true)
	return set, nil
}

// ttlFor prefers the provider's max-age hint and falls back to DefaultTTL.
func (c *Cache) ttlFor(hint time.Duration) time.Duration {
	if hint <= 0 {
		return c.cfg.DefaultTTL
	}
	return min(hint, MaxTTL)
}

func (c *Cache) observe(ok bool) {
	if c.onRefresh != nil {
		c.onRefresh(ok)
	}
}
