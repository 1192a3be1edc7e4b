// Package idtoken verifies ID tokens issued by a Firebase style identity
// provider: tokens signed by one of the provider's published keys, issued
// by https://securetoken.google.com/<project> for audience <project>.
//
// Signing keys are cached and refreshed on demand when a token names a key
// that is not cached yet. Refreshes are collapsed so that any number of
// concurrent misses cause a single fetch.
package idtoken

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/keksclan/goIDToken/internal/cache"
	"github.com/keksclan/goIDToken/internal/certs"
	"github.com/keksclan/goIDToken/internal/token"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/keksclan/goIDToken/idtoken"

// Sizing of the unknown key id memory: up to 4096 ids.
const (
	missCounters int64 = 1 << 16
	missMaxCost  int64 = 1 << 12
)

// Validator checks ID tokens.
//
// Concurrency: Validator is safe for concurrent use if the provided Cache,
// HTTP client and Redis client are safe for concurrent use (the defaults
// are).
type Validator struct {
	cfg     Config
	httpc   *http.Client
	cache   Cache
	redis   redis.UniversalClient
	fetcher KeyFetcher
	log     logrus.FieldLogger
	metrics MetricsCollector
	tp      trace.TracerProvider
	tracer  trace.Tracer
	now     func() time.Time

	certs    *certs.Cache
	verifier *token.Verifier
	closers  []func() error
}

// New creates a Validator from cfg. No network access happens until the
// first Check or Refresh.
func New(cfg Config, opts ...Option) (*Validator, error) {
	cfg.setDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	v := &Validator{cfg: cfg}
	for _, opt := range opts {
		opt(v)
	}
	if v.now == nil {
		v.now = time.Now
	}
	if v.log == nil {
		silent := logrus.New()
		silent.SetOutput(io.Discard)
		v.log = silent
	}
	if v.tp == nil {
		v.tp = otel.GetTracerProvider()
	}
	v.tracer = v.tp.Tracer(tracerName)

	store, err := v.newStore()
	if err != nil {
		return nil, err
	}
	fetcher, err := v.newFetcher()
	if err != nil {
		v.Close()
		return nil, err
	}

	misses, err := cache.NewRistrettoCache(missCounters, missMaxCost, cache.DefaultBufferItems)
	if err != nil {
		v.Close()
		return nil, fmt.Errorf("init miss cache: %w", err)
	}
	v.closers = append(v.closers, func() error { misses.Close(); return nil })

	v.certs = certs.New(store, fetcher, certs.Config{
		Namespace:    cfg.Certs.Namespace,
		DefaultTTL:   cfg.Certs.DefaultTTL,
		FetchTimeout: cfg.Certs.FetchTimeout,
	},
		certs.WithClock(v.now),
		certs.WithLogger(v.log),
		certs.WithTracer(v.tracer),
		certs.WithRefreshHook(v.observeRefresh),
		certs.WithMissMemory(misses, cfg.Certs.MissTTL),
	)

	var vm token.MetricsCollector
	if v.metrics != nil {
		vm = v.metrics
	}
	v.verifier, err = token.New(token.Config{
		ProjectID:   cfg.ProjectID,
		Issuer:      cfg.Issuer,
		AllowedAlgs: cfg.AllowedAlgs,
		ClockSkew:   cfg.ClockSkew,
		ClientIDs:   cfg.ClientIDs,
		Metrics:     vm,
	})
	if err != nil {
		v.Close()
		return nil, fmt.Errorf("init token verifier: %w", err)
	}
	return v, nil
}

func (v *Validator) newStore() (certs.Store, error) {
	switch {
	case v.redis != nil:
		return certs.NewRedisStore(v.redis, ""), nil
	case v.cfg.Certs.RedisURL != "":
		rs, err := certs.NewRedisStoreFromURL(v.cfg.Certs.RedisURL, "")
		if err != nil {
			return nil, err
		}
		v.closers = append(v.closers, rs.Close)
		return rs, nil
	}
	if v.cache == nil {
		rc, err := cache.NewDefaultRistrettoCache()
		if err != nil {
			return nil, fmt.Errorf("init key cache: %w", err)
		}
		v.closers = append(v.closers, func() error { rc.Close(); return nil })
		v.cache = rc
	}
	return certs.NewMemoryStore(v.cache), nil
}

func (v *Validator) newFetcher() (certs.Fetcher, error) {
	if v.fetcher != nil {
		return v.fetcher, nil
	}
	f, err := certs.NewHTTPFetcher(v.cfg.Certs.URL, certs.Format(v.cfg.Certs.Format))
	if err != nil {
		return nil, fmt.Errorf("init key fetcher: %w", err)
	}
	f.SetHTTPClient(v.httpc)
	if len(v.cfg.Certs.ExtraHeaders) > 0 {
		f.SetExtraHeaders(v.cfg.Certs.ExtraHeaders)
	}
	return f, nil
}

// Check verifies raw and returns its claims. A rejected token yields a
// *ValidationError; keys that cannot be fetched yield a *FetchError. Claims
// are never returned together with an error.
func (v *Validator) Check(ctx context.Context, raw string) (*Claims, error) {
	ctx, span := v.tracer.Start(ctx, "idtoken.Check")
	defer span.End()

	claims, refreshed, err := v.check(ctx, raw)
	span.SetAttributes(attribute.Bool("idtoken.refreshed", refreshed))
	if err != nil {
		result := "fetch_error"
		var ve *ValidationError
		if errors.As(err, &ve) {
			result = ve.Reason
		}
		span.SetAttributes(attribute.String("idtoken.result", result))
		span.SetStatus(codes.Error, result)
		return nil, err
	}
	span.SetAttributes(attribute.String("idtoken.result", "ok"))
	return claims, nil
}

func (v *Validator) check(ctx context.Context, raw string) (*Claims, bool, error) {
	observed := v.certs.Current(ctx)
	out := v.verifier.Verify(raw, observed, v.now())
	if out.Kind != token.UnknownKey {
		claims, err := outcomeResult(out)
		return claims, false, err
	}

	v.log.WithField("kid", out.KeyID).Debug("unknown signing key, refreshing")
	set, err := v.certs.RefreshFor(ctx, observed, out.KeyID)
	if err != nil {
		return nil, true, &FetchError{Err: err}
	}

	out = v.verifier.Verify(raw, set, v.now())
	if out.Kind == token.UnknownKey {
		if v.metrics != nil {
			v.metrics.ValidationFailed(ReasonUnknownKey)
		}
		return nil, true, &ValidationError{
			Kind:   ErrSignature,
			Reason: ReasonUnknownKey,
			KeyID:  out.KeyID,
			Detail: fmt.Sprintf("no published signing key with kid %q", out.KeyID),
		}
	}
	claims, err := outcomeResult(out)
	return claims, true, err
}

func outcomeResult(out token.Outcome) (*Claims, error) {
	if out.Kind == token.Verified {
		return out.Claims, nil
	}
	return nil, &ValidationError{
		Kind:   kindFor(out.Reason),
		Reason: string(out.Reason),
		Detail: out.Detail,
	}
}

// Refresh fetches the signing keys now, typically to warm the cache at
// startup. It returns the number of keys published.
func (v *Validator) Refresh(ctx context.Context) (int, error) {
	set, err := v.certs.Refresh(ctx)
	if err != nil {
		return 0, &FetchError{Err: err}
	}
	return set.Len(), nil
}

// KeyIDs lists the ids of the currently cached, unexpired keys.
func (v *Validator) KeyIDs(ctx context.Context) []string {
	set := v.certs.Current(ctx)
	if !set.Valid(v.now()) {
		return nil
	}
	return set.KeyIDs()
}

// Close releases resources the Validator created itself. Clients passed in
// through options are left open.
func (v *Validator) Close() error {
	var errs []error
	for _, c := range v.closers {
		if err := c(); err != nil {
			errs = append(errs, err)
		}
	}
	v.closers = nil
	return errors.Join(errs...)
}

func (v *Validator) observeRefresh(ok bool) {
	if v.metrics != nil {
		v.metrics.KeyRefresh(ok)
	}
}
