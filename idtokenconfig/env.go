package idtokenconfig

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/keksclan/goIDToken/idtoken"
)

// Environment variable suffixes read by FromEnv, each prefixed with
// "<prefix>_". Durations use time.ParseDuration syntax and lists are comma
// separated.
const (
	EnvProjectID    = "PROJECT_ID"
	EnvIssuer       = "ISSUER"
	EnvAllowedAlgs  = "ALLOWED_ALGS"
	EnvClockSkew    = "CLOCK_SKEW"
	EnvClientIDs    = "CLIENT_IDS"
	EnvCertsURL     = "CERTS_URL"
	EnvCertsFormat  = "CERTS_FORMAT"
	EnvDefaultTTL   = "CERTS_DEFAULT_TTL"
	EnvFetchTimeout = "CERTS_FETCH_TIMEOUT"
	EnvNamespace    = "CERTS_NAMESPACE"
	EnvRedisURL     = "REDIS_URL"
	EnvMissTTL      = "CERTS_MISS_TTL"
)

type envLoader struct {
	prefix  string
	dotenv  string
	environ func(string) (string, bool)
}

// FromEnv creates a Loader that reads PREFIX_PROJECT_ID and friends from the
// process environment.
func FromEnv(prefix string) Loader {
	return &envLoader{prefix: prefix, environ: os.LookupEnv}
}

// FromDotEnv is FromEnv with defaults taken from a .env file. Variables set
// in the process environment win over the file, as with godotenv.Load, but
// the process environment is left untouched.
func FromDotEnv(path, prefix string) Loader {
	return &envLoader{prefix: prefix, dotenv: path, environ: os.LookupEnv}
}

func (l *envLoader) Load(_ context.Context) (*idtoken.Config, error) {
	lookup := l.environ
	if l.dotenv != "" {
		file, err := godotenv.Read(l.dotenv)
		if err != nil {
			return nil, fmt.Errorf("read dotenv file: %w", err)
		}
		lookup = func(key string) (string, bool) {
			if v, ok := l.environ(key); ok {
				return v, true
			}
			v, ok := file[key]
			return v, ok
		}
	}

	get := func(suffix string) string {
		key := suffix
		if l.prefix != "" {
			key = l.prefix + "_" + suffix
		}
		v, _ := lookup(key)
		return strings.TrimSpace(v)
	}
	dur := func(suffix string) (time.Duration, error) {
		v := get(suffix)
		if v == "" {
			return 0, nil
		}
		d, err := time.ParseDuration(v)
		if err != nil {
			return 0, fmt.Errorf("%s: %w", suffix, err)
		}
		return d, nil
	}

	cfg := &idtoken.Config{
		ProjectID:   get(EnvProjectID),
		Issuer:      get(EnvIssuer),
		AllowedAlgs: splitList(get(EnvAllowedAlgs)),
		ClientIDs:   splitList(get(EnvClientIDs)),
		Certs: idtoken.CertsConfig{
			URL:       get(EnvCertsURL),
			Format:    get(EnvCertsFormat),
			Namespace: get(EnvNamespace),
			RedisURL:  get(EnvRedisURL),
		},
	}
	var err error
	if cfg.ClockSkew, err = dur(EnvClockSkew); err != nil {
		return nil, err
	}
	if cfg.Certs.DefaultTTL, err = dur(EnvDefaultTTL); err != nil {
		return nil, err
	}
	if cfg.Certs.FetchTimeout, err = dur(EnvFetchTimeout); err != nil {
		return nil, err
	}
	if cfg.Certs.MissTTL, err = dur(EnvMissTTL); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}
	return cfg, nil
}

func splitList(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
