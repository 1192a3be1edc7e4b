package idtoken

import (
	"context"
	"crypto"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/trace"
)

// Cache is an in-process cache used to hold the key set when no Redis store
// is configured.
type Cache interface {
	Get(key string) (any, bool)
	Set(key string, value any, cost int64, ttl time.Duration) bool
	Del(key string)
}

// KeyFetcher retrieves the provider's complete key set. maxAge is the
// provider's lifetime hint, zero when unknown.
type KeyFetcher interface {
	Fetch(ctx context.Context) (keys map[string]crypto.PublicKey, maxAge time.Duration, err error)
}

// MetricsCollector receives validation and refresh counters.
// All methods must be safe for concurrent use.
// Implementations must never log or store tokens or claims.
type MetricsCollector interface {
	ValidationOK()
	ValidationFailed(reason string)
	KeyRefresh(ok bool)
}

type Option func(*Validator)

// WithHTTPClient sets the client used to fetch signing keys.
func WithHTTPClient(c *http.Client) Option {
	return func(v *Validator) {
		v.httpc = c
	}
}

func WithCache(c Cache) Option {
	return func(v *Validator) {
		v.cache = c
	}
}

// WithRedisClient shares the key set through client. It takes precedence
// over CertsConfig.RedisURL.
func WithRedisClient(client redis.UniversalClient) Option {
	return func(v *Validator) {
		v.redis = client
	}
}

// WithKeyFetcher replaces the HTTP key fetcher.
func WithKeyFetcher(f KeyFetcher) Option {
	return func(v *Validator) {
		v.fetcher = f
	}
}

func WithLogger(l logrus.FieldLogger) Option {
	return func(v *Validator) {
		v.log = l
	}
}

func WithMetrics(m MetricsCollector) Option {
	return func(v *Validator) {
		v.metrics = m
	}
}

func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(v *Validator) {
		v.tp = tp
	}
}

// WithClock overrides time.Now, mainly for tests.
func WithClock(now func() time.Time) Option {
	return func(v *Validator) {
		v.now = now
	}
}
