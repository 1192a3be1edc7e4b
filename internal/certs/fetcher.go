package certs

import (
	"context"
	"crypto"
	"crypto/ecdsa"
	"crypto/rsa"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/lestrrat-go/httpcc"
	"github.com/lestrrat-go/jwx/v2/jwk"
)

// maxKeySetResponseSize limits the size of key set responses to prevent memory bombs.
const maxKeySetResponseSize = 1 << 20 // 1 MB

// MaxTTL caps how long a key set is trusted regardless of the provider's hint.
const MaxTTL = 7 * 24 * time.Hour

// Default endpoint publishing the Firebase ID token signing certificates.
const (
	DefaultX509URL = "https://www.googleapis.com/robot/v1/metadata/x509/securetoken@system.gserviceaccount.com"
	DefaultJWKSURL = "https://www.googleapis.com/service_accounts/v1/jwk/securetoken@system.gserviceaccount.com"
)

// Format selects how the key endpoint encodes its body.
type Format string

const (
	// FormatX509 is a JSON object mapping key id to a PEM certificate or
	// PEM public key.
	FormatX509 Format = "x509"
	// FormatJWKS is an RFC 7517 JSON Web Key Set.
	FormatJWKS Format = "jwks"
)

// Fetcher retrieves the provider's complete current key set. maxAge is the
// lifetime hint advertised by the provider, or zero when none was given.
type Fetcher interface {
	Fetch(ctx context.Context) (keys map[string]crypto.PublicKey, maxAge time.Duration, err error)
}

// HTTPFetcher fetches keys from the provider's certificate endpoint.
//
// Concurrency: safe for concurrent use once configured.
type HTTPFetcher struct {
	url          string
	format       Format
	httpc        *http.Client
	extraHeaders map[string]string
}

func NewHTTPFetcher(url string, format Format) (*HTTPFetcher, error) {
	switch format {
	case "":
		format = FormatX509
	case FormatX509, FormatJWKS:
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, format)
	}
	return &HTTPFetcher{
		url:    url,
		format: format,
		httpc:  &http.Client{Timeout: 10 * time.Second},
	}, nil
}

func (f *HTTPFetcher) SetHTTPClient(c *http.Client) {
	if c != nil {
		f.httpc = c
	}
}

// SetExtraHeaders configures additional headers for key requests.
func (f *HTTPFetcher) SetExtraHeaders(headers map[string]string) {
	f.extraHeaders = headers
}

func (f *HTTPFetcher) Fetch(ctx context.Context) (map[string]crypto.PublicKey, time.Duration, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.url, nil)
	if err != nil {
		return nil, 0, fmt.Errorf("create request: %w", err)
	}
	for k, v := range f.extraHeaders {
		req.Header.Set(k, v)
	}

	resp, err := f.httpc.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, 0, fmt.Errorf("status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxKeySetResponseSize))
	if err != nil {
		return nil, 0, fmt.Errorf("read body: %w", err)
	}

	var keys map[string]crypto.PublicKey
	switch f.format {
	case FormatJWKS:
		keys, err = ParseJWKS(body)
	default:
		keys, err = ParseX509(body)
	}
	if err != nil {
		return nil, 0, err
	}
	return keys, maxAge(resp.Header.Get("Cache-Control")), nil
}

// ParseX509 decodes a kid -> PEM JSON object.
func ParseX509(body []byte) (map[string]crypto.PublicKey, error) {
	var pems map[string]string
	if err := json.Unmarshal(body, &pems); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKeySet, err)
	}
	keys := make(map[string]crypto.PublicKey, len(pems))
	for kid, p := range pems {
		k, err := parsePEM([]byte(p))
		if err != nil {
			return nil, fmt.Errorf("%w: kid=%s: %v", ErrInvalidKeySet, kid, err)
		}
		keys[kid] = k
	}
	return keys, nil
}

func parsePEM(b []byte) (crypto.PublicKey, error) {
	rsaKey, rsaErr := jwt.ParseRSAPublicKeyFromPEM(b)
	if rsaErr == nil {
		return rsaKey, nil
	}
	ecKey, ecErr := jwt.ParseECPublicKeyFromPEM(b)
	if ecErr == nil {
		return ecKey, nil
	}
	return nil, rsaErr
}

// ParseJWKS decodes a JSON Web Key Set. Keys without a kid and keys that are
// not RSA or ECDSA public keys are skipped.
func ParseJWKS(body []byte) (map[string]crypto.PublicKey, error) {
	set, err := jwk.Parse(body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKeySet, err)
	}
	keys := make(map[string]crypto.PublicKey, set.Len())
	for i := 0; i < set.Len(); i++ {
		key, ok := set.Key(i)
		if !ok || key.KeyID() == "" {
			continue
		}
		var rawKey any
		if err := key.Raw(&rawKey); err != nil {
			return nil, fmt.Errorf("failed to get raw key: %w", err)
		}
		switch rawKey.(type) {
		case *rsa.PublicKey, *ecdsa.PublicKey:
			keys[key.KeyID()] = rawKey
		}
	}
	return keys, nil
}

// maxAge extracts the max-age directive of a Cache-Control header.
func maxAge(cacheControl string) time.Duration {
	if cacheControl == "" {
		return 0
	}
	dir, err := httpcc.ParseResponse(cacheControl)
	if err != nil {
		return 0
	}
	secs, ok := dir.MaxAge()
	if !ok {
		return 0
	}
	if secs > uint64(MaxTTL/time.Second) {
		return MaxTTL
	}
	return time.Duration(secs) * time.Second
}
