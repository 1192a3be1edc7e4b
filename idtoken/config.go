package idtoken

import (
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/keksclan/goIDToken/internal/certs"
	"github.com/keksclan/goIDToken/internal/token"
)

// Key endpoint formats accepted by CertsConfig.Format.
const (
	FormatX509 = string(certs.FormatX509)
	FormatJWKS = string(certs.FormatJWKS)
)

// NoClockSkew set as Config.ClockSkew checks iat and auth_time against the
// exact current time. A zero ClockSkew selects the 30s default instead.
const NoClockSkew = token.NoClockSkew

type Config struct {
	// ProjectID identifies the provider project. Tokens must name it as
	// audience. Required.
	ProjectID string
	// Issuer defaults to https://securetoken.google.com/<ProjectID>.
	Issuer      string
	AllowedAlgs []string
	// ClockSkew tolerates clocks running behind the issuer when checking iat
	// and auth_time. Zero means the 30s default; use NoClockSkew for no
	// tolerance. At most 5m.
	ClockSkew time.Duration
	// ClientIDs restricts the azp claim when non-empty.
	ClientIDs []string
	Certs     CertsConfig
}

// CertsConfig controls where signing keys come from and how long they are
// trusted.
type CertsConfig struct {
	// URL of the key endpoint. Defaults to the provider's endpoint for Format.
	URL string
	// Format is "x509" (default) or "jwks".
	Format       string
	DefaultTTL   time.Duration
	FetchTimeout time.Duration
	// Namespace keys the set in the store. Defaults to idtoken:certs:<ProjectID>.
	Namespace string
	// RedisURL, when set, shares keys between processes through Redis.
	RedisURL     string
	ExtraHeaders map[string]string
	// MissTTL is how long a key id that a refresh did not resolve is
	// remembered. Tokens naming it fail without another fetch until then.
	// Defaults to 1m.
	MissTTL time.Duration
}

func (c *Config) setDefaults() {
	if c.Issuer == "" {
		c.Issuer = token.IssuerPrefix + c.ProjectID
	}
	if len(c.AllowedAlgs) == 0 {
		c.AllowedAlgs = []string{token.DefaultAlg}
	}
	if c.ClockSkew == 0 {
		c.ClockSkew = token.DefaultClockSkew
	}
	if c.Certs.Format == "" {
		c.Certs.Format = FormatX509
	}
	if c.Certs.URL == "" {
		if c.Certs.Format == FormatJWKS {
			c.Certs.URL = certs.DefaultJWKSURL
		} else {
			c.Certs.URL = certs.DefaultX509URL
		}
	}
	if c.Certs.DefaultTTL == 0 {
		c.Certs.DefaultTTL = certs.DefaultTTL
	}
	if c.Certs.FetchTimeout == 0 {
		c.Certs.FetchTimeout = certs.DefaultFetchTimeout
	}
	if c.Certs.MissTTL == 0 {
		c.Certs.MissTTL = certs.DefaultMissTTL
	}
	if c.Certs.Namespace == "" {
		c.Certs.Namespace = certs.DefaultNamespace + ":" + c.ProjectID
	}
}

// Validate reports the first problem with c. Zero values that have a
// default are accepted.
func (c Config) Validate() error {
	if c.ProjectID == "" {
		return errors.New("project_id is required")
	}
	if c.ClockSkew != NoClockSkew && (c.ClockSkew < 0 || c.ClockSkew > token.MaxClockSkew) {
		return fmt.Errorf("clock_skew must be between 0 and %v", token.MaxClockSkew)
	}
	for _, alg := range c.AllowedAlgs {
		if !token.SupportedAlg(alg) {
			return fmt.Errorf("allowed_algs: %q is not a supported asymmetric algorithm", alg)
		}
	}
	switch c.Certs.Format {
	case "", FormatX509, FormatJWKS:
	default:
		return fmt.Errorf("certs.format: unsupported format %q", c.Certs.Format)
	}
	if c.Certs.URL != "" {
		u, err := url.Parse(c.Certs.URL)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("certs.url: %q is not an absolute url", c.Certs.URL)
		}
	}
	if c.Certs.DefaultTTL < 0 || c.Certs.FetchTimeout < 0 || c.Certs.MissTTL < 0 {
		return errors.New("certs durations must not be negative")
	}
	return nil
}
