// Package token verifies ID tokens against a supplied key set. It performs
// no I/O: the outcome depends only on the token, the keys and the clock.
package token

import (
	"crypto"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/golang-jwt/jwt/v5"
)

const (
	// DefaultClockSkew is used when ClockSkew is zero.
	DefaultClockSkew = 30 * time.Second
	// MaxClockSkew bounds the configurable skew allowance.
	MaxClockSkew = 5 * time.Minute
	// NoClockSkew requests exact iat and auth_time checks.
	NoClockSkew time.Duration = -1
)

// DefaultAlg is the only algorithm allowed when AllowedAlgs is empty.
const DefaultAlg = "RS256"

// maxSubjectLength is the longest uid the provider issues.
const maxSubjectLength = 128

// IssuerPrefix is prepended to the project id to form the expected issuer.
const IssuerPrefix = "https://securetoken.google.com/"

// asymmetricAlgs lists the algorithms a provider signs ID tokens with.
// Anything else, "none" and HMAC in particular, is refused at construction.
var asymmetricAlgs = []string{
	"RS256", "RS384", "RS512",
	"PS256", "PS384", "PS512",
	"ES256", "ES384", "ES512",
}

// SupportedAlg reports whether alg may appear in AllowedAlgs.
func SupportedAlg(alg string) bool {
	return slices.Contains(asymmetricAlgs, alg)
}

// MetricsCollector receives validation outcome counters.
// All methods must be safe for concurrent use.
// Implementations must never log or store tokens or claims.
type MetricsCollector interface {
	ValidationOK()
	ValidationFailed(reason string)
}

// KeySource resolves a key id to a public key. A key set that has expired
// at now must report every key as absent.
type KeySource interface {
	Lookup(kid string, now time.Time) (crypto.PublicKey, bool)
}

type Config struct {
	// ProjectID is the required audience.
	ProjectID string
	// Issuer defaults to IssuerPrefix+ProjectID.
	Issuer string
	// AllowedAlgs defaults to RS256.
	AllowedAlgs []string
	// ClockSkew is the tolerance for iat and auth_time. Zero selects
	// DefaultClockSkew; NoClockSkew disables the tolerance.
	ClockSkew time.Duration
	// ClientIDs, when non-empty, restricts the azp claim.
	ClientIDs []string
	// Metrics receives optional validation counters. No-op when nil.
	Metrics MetricsCollector
}

// Verifier checks token structure, signature and claims. It is safe for
// concurrent use.
type Verifier struct {
	issuer        string
	projectID     string
	allowedAlgSet map[string]struct{}
	clientIDs     []string
	clockSkew     time.Duration
	parser        *jwt.Parser
	metrics       MetricsCollector
}

func New(cfg Config) (*Verifier, error) {
	if cfg.ProjectID == "" {
		return nil, errors.New("project id is required")
	}
	v := &Verifier{
		issuer:    cfg.Issuer,
		projectID: cfg.ProjectID,
		clientIDs: slices.Clone(cfg.ClientIDs),
		clockSkew: cfg.ClockSkew,
		metrics:   cfg.Metrics,
	}
	if v.issuer == "" {
		v.issuer = IssuerPrefix + cfg.ProjectID
	}
	switch {
	case v.clockSkew == 0:
		v.clockSkew = DefaultClockSkew
	case v.clockSkew == NoClockSkew:
		v.clockSkew = 0
	case v.clockSkew < 0 || v.clockSkew > MaxClockSkew:
		return nil, fmt.Errorf("clock skew %v outside [0, %v]", v.clockSkew, MaxClockSkew)
	}

	algs := cfg.AllowedAlgs
	if len(algs) == 0 {
		algs = []string{DefaultAlg}
	}
	v.allowedAlgSet = make(map[string]struct{}, len(algs))
	for _, alg := range algs {
		if !SupportedAlg(alg) {
			return nil, fmt.Errorf("algorithm %q is not an allowed asymmetric signing algorithm", alg)
		}
		v.allowedAlgSet[alg] = struct{}{}
	}

	v.parser = jwt.NewParser(jwt.WithValidMethods(algs))
	return v, nil
}

// Issuer returns the issuer tokens must carry.
func (v *Verifier) Issuer() string { return v.issuer }

// Verify decides the outcome for raw against keys at time now.
func (v *Verifier) Verify(raw string, keys KeySource, now time.Time) Outcome {
	out := v.verify(raw, keys, now)
	switch out.Kind {
	case Verified:
		v.emitOK()
	case Invalid:
		v.emitFailure(string(out.Reason))
	}
	return out
}

func (v *Verifier) verify(raw string, keys KeySource, now time.Time) Outcome {
	parts := strings.Split(raw, ".")
	if len(parts) != 3 || parts[0] == "" || parts[1] == "" || parts[2] == "" {
		return invalid(ReasonMalformed, "token must have three non-empty segments")
	}

	claims := jwt.MapClaims{}
	tok, _, err := v.parser.ParseUnverified(raw, claims)
	if err != nil {
		// An unknown or absent alg surfaces as unverifiable with the header
		// already decoded.
		if errors.Is(err, jwt.ErrTokenUnverifiable) && tok != nil {
			alg, _ := tok.Header["alg"].(string)
			return invalid(ReasonAlgorithm, fmt.Sprintf("algorithm %q not allowed", alg))
		}
		return invalid(ReasonMalformed, err.Error())
	}

	// Checked before anything else touches the key set so that "none" and
	// other algorithms can never reach signature verification.
	alg, _ := tok.Header["alg"].(string)
	if _, ok := v.allowedAlgSet[alg]; !ok {
		return invalid(ReasonAlgorithm, fmt.Sprintf("algorithm %q not allowed", alg))
	}

	kid, _ := tok.Header["kid"].(string)
	if kid == "" {
		return invalid(ReasonMissingKeyID, "token missing required kid header")
	}

	// Expired tokens are rejected before key lookup so they never trigger a
	// key refresh.
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return invalid(ReasonMalformed, "exp claim missing or not numeric")
	}
	if !now.Before(exp.Time) {
		return invalid(ReasonExpired, "token expired at "+exp.Time.UTC().Format(time.RFC3339))
	}

	key, ok := keys.Lookup(kid, now)
	if !ok {
		return Outcome{Kind: UnknownKey, KeyID: kid}
	}

	sig, err := v.parser.DecodeSegment(parts[2])
	if err != nil {
		return invalid(ReasonMalformed, "signature segment is not base64url")
	}
	if err := tok.Method.Verify(parts[0]+"."+parts[1], sig, key); err != nil {
		return invalid(ReasonBadSignature, err.Error())
	}

	return v.validateClaims(claims, exp.Time, now)
}

// validateClaims checks everything except exp, which verify has already
// enforced.
func (v *Verifier) validateClaims(mc jwt.MapClaims, exp, now time.Time) Outcome {
	c := &Claims{ExpiresAt: exp, Raw: cloneClaims(mc)}
	latest := now.Add(v.clockSkew)

	iat, err := mc.GetIssuedAt()
	if err != nil || iat == nil {
		return invalid(ReasonMalformed, "iat claim missing or not numeric")
	}
	c.IssuedAt = iat.Time
	if c.IssuedAt.After(latest) {
		return invalid(ReasonIssuedAt, "token issued in the future")
	}

	if at, ok := numericDate(mc, "auth_time"); ok {
		c.AuthTime = at
		if at.After(latest) {
			return invalid(ReasonAuthTime, "auth_time is in the future")
		}
	}

	c.Issuer, _ = mc.GetIssuer()
	if c.Issuer != v.issuer {
		return invalid(ReasonIssuer, fmt.Sprintf("expected issuer %q, got %q", v.issuer, c.Issuer))
	}

	aud, err := mc.GetAudience()
	if err != nil || !slices.Contains(aud, v.projectID) {
		return invalid(ReasonAudience, fmt.Sprintf("audience does not include %q", v.projectID))
	}
	c.Audience = aud

	sub, err := mc.GetSubject()
	if err != nil || sub == "" || utf8.RuneCountInString(sub) > maxSubjectLength {
		return invalid(ReasonSubject, "sub must be a non-empty string of at most 128 characters")
	}
	c.Subject = sub

	c.AuthorizedParty, _ = mc["azp"].(string)
	if len(v.clientIDs) > 0 && !slices.Contains(v.clientIDs, c.AuthorizedParty) {
		return invalid(ReasonClientID, fmt.Sprintf("authorized party %q not allowed", c.AuthorizedParty))
	}

	c.fillProfile(mc)
	return Outcome{Kind: Verified, Claims: c}
}

// cloneClaims deep copies the decoded payload so callers cannot alter a
// verified result through Raw.
func cloneClaims(mc jwt.MapClaims) map[string]any {
	out := make(map[string]any, len(mc))
	for k, v := range mc {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return cloneClaims(t)
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = cloneValue(item)
		}
		return out
	default:
		return v
	}
}

func numericDate(mc jwt.MapClaims, name string) (time.Time, bool) {
	switch n := mc[name].(type) {
	case float64:
		return time.Unix(int64(n), 0), true
	case json.Number:
		if i, err := n.Int64(); err == nil {
			return time.Unix(i, 0), true
		}
	}
	return time.Time{}, false
}

// emitOK reports a successful validation if a metrics collector is set.
func (v *Verifier) emitOK() {
	if v.metrics != nil {
		v.metrics.ValidationOK()
	}
}

// emitFailure reports a failed validation with reason if a metrics collector is set.
func (v *Verifier) emitFailure(reason string) {
	if v.metrics != nil {
		v.metrics.ValidationFailed(reason)
	}
}
