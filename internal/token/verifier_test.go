package token

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	gojwt "github.com/golang-jwt/jwt/v5"
)

const testProject = "demo-project"

var testNow = time.Unix(1_700_000_000, 0)

// staticKeys is a KeySource over a fixed map that expires at expiresAt when
// set.
type staticKeys struct {
	keys      map[string]crypto.PublicKey
	expiresAt time.Time
}

func (s staticKeys) Lookup(kid string, now time.Time) (crypto.PublicKey, bool) {
	if !s.expiresAt.IsZero() && !now.Before(s.expiresAt) {
		return nil, false
	}
	k, ok := s.keys[kid]
	return k, ok
}

// testMetrics is a thread-safe MetricsCollector for tests.
type testMetrics struct {
	ok      atomic.Int64
	failed  atomic.Int64
	reasons sync.Map // reason -> *atomic.Int64
}

func (m *testMetrics) ValidationOK() { m.ok.Add(1) }
func (m *testMetrics) ValidationFailed(reason string) {
	m.failed.Add(1)
	v, _ := m.reasons.LoadOrStore(reason, &atomic.Int64{})
	v.(*atomic.Int64).Add(1)
}
func (m *testMetrics) reasonCount(reason string) int64 {
	v, ok := m.reasons.Load(reason)
	if !ok {
		return 0
	}
	return v.(*atomic.Int64).Load()
}

var (
	keyOnce sync.Once
	rsaPriv *rsa.PrivateKey
	ecPriv  *ecdsa.PrivateKey
)

func testKeys(t *testing.T) (*rsa.PrivateKey, *ecdsa.PrivateKey) {
	t.Helper()
	keyOnce.Do(func() {
		var err error
		if rsaPriv, err = rsa.GenerateKey(rand.Reader, 2048); err != nil {
			panic(err)
		}
		if ecPriv, err = ecdsa.GenerateKey(elliptic.P256(), rand.Reader); err != nil {
			panic(err)
		}
	})
	return rsaPriv, ecPriv
}

func validClaims() gojwt.MapClaims {
	return gojwt.MapClaims{
		"iss":       IssuerPrefix + testProject,
		"aud":       testProject,
		"sub":       "uid-123",
		"iat":       testNow.Add(-time.Minute).Unix(),
		"exp":       testNow.Add(time.Hour).Unix(),
		"auth_time": testNow.Add(-2 * time.Minute).Unix(),
		"email":     "ada@example.com",
		"firebase": map[string]any{
			"sign_in_provider": "password",
			"identities": map[string]any{
				"email": []any{"ada@example.com"},
			},
		},
	}
}

func sign(t *testing.T, method gojwt.SigningMethod, key any, kid string, claims gojwt.MapClaims) string {
	t.Helper()
	tok := gojwt.NewWithClaims(method, claims)
	if kid != "" {
		tok.Header["kid"] = kid
	}
	s, err := tok.SignedString(key)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return s
}

func newVerifier(t *testing.T, cfg Config) *Verifier {
	t.Helper()
	if cfg.ProjectID == "" {
		cfg.ProjectID = testProject
	}
	v, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return v
}

func TestVerifyValidToken(t *testing.T) {
	priv, _ := testKeys(t)
	v := newVerifier(t, Config{})
	keys := staticKeys{keys: map[string]crypto.PublicKey{"kid-1": &priv.PublicKey}}

	out := v.Verify(sign(t, gojwt.SigningMethodRS256, priv, "kid-1", validClaims()), keys, testNow)
	if out.Kind != Verified {
		t.Fatalf("expected Verified, got %v (%s: %s)", out.Kind, out.Reason, out.Detail)
	}
	c := out.Claims
	if c.UID() != "uid-123" || c.Email != "ada@example.com" {
		t.Errorf("unexpected claims: sub=%q email=%q", c.Subject, c.Email)
	}
	if c.Firebase.SignInProvider != "password" {
		t.Errorf("SignInProvider = %q", c.Firebase.SignInProvider)
	}
	if got := c.Firebase.Identities["email"]; len(got) != 1 || got[0] != "ada@example.com" {
		t.Errorf("Identities = %v", c.Firebase.Identities)
	}
	if !c.ExpiresAt.Equal(testNow.Add(time.Hour)) {
		t.Errorf("ExpiresAt = %v", c.ExpiresAt)
	}
}

func TestVerifyECDSA(t *testing.T) {
	_, ec := testKeys(t)
	v := newVerifier(t, Config{AllowedAlgs: []string{"RS256", "ES256"}})
	keys := staticKeys{keys: map[string]crypto.PublicKey{"ec-1": &ec.PublicKey}}

	out := v.Verify(sign(t, gojwt.SigningMethodES256, ec, "ec-1", validClaims()), keys, testNow)
	if out.Kind != Verified {
		t.Fatalf("expected Verified, got %v (%s)", out.Kind, out.Detail)
	}
}

func TestVerifyUnknownKey(t *testing.T) {
	priv, _ := testKeys(t)
	v := newVerifier(t, Config{})
	keys := staticKeys{keys: map[string]crypto.PublicKey{"kid-1": &priv.PublicKey}}

	out := v.Verify(sign(t, gojwt.SigningMethodRS256, priv, "kid-2", validClaims()), keys, testNow)
	if out.Kind != UnknownKey || out.KeyID != "kid-2" {
		t.Fatalf("expected UnknownKey kid-2, got %v %q", out.Kind, out.KeyID)
	}

	// An expired key set knows no keys at all.
	expired := staticKeys{keys: keys.keys, expiresAt: testNow}
	out = v.Verify(sign(t, gojwt.SigningMethodRS256, priv, "kid-1", validClaims()), expired, testNow)
	if out.Kind != UnknownKey {
		t.Fatalf("expected UnknownKey against expired set, got %v", out.Kind)
	}
}

func TestVerifyRejections(t *testing.T) {
	priv, ec := testKeys(t)
	other, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	keys := staticKeys{keys: map[string]crypto.PublicKey{
		"kid-1": &priv.PublicKey,
		"ec-1":  &ec.PublicKey,
	}}

	with := func(mutate func(gojwt.MapClaims)) string {
		c := validClaims()
		mutate(c)
		return sign(t, gojwt.SigningMethodRS256, priv, "kid-1", c)
	}

	tests := []struct {
		name  string
		cfg   Config
		token string
		want  Reason
	}{
		{
			name:  "two segments",
			token: "abc.def",
			want:  ReasonMalformed,
		},
		{
			name:  "empty signature segment",
			token: "abc.def.",
			want:  ReasonMalformed,
		},
		{
			name:  "header not json",
			token: "bm90LWpzb24.e30.c2ln",
			want:  ReasonMalformed,
		},
		{
			name:  "alg none",
			token: noneToken(validClaims()),
			want:  ReasonAlgorithm,
		},
		{
			name:  "RS512 not in allow list",
			token: sign(t, gojwt.SigningMethodRS512, priv, "kid-1", validClaims()),
			want:  ReasonAlgorithm,
		},
		{
			name:  "HS256 not in allow list",
			token: sign(t, gojwt.SigningMethodHS256, []byte("super-secret-key-for-hmac-256-xx"), "kid-1", validClaims()),
			want:  ReasonAlgorithm,
		},
		{
			name:  "unknown alg",
			token: unsignedToken(`{"alg":"XY999","kid":"kid-1"}`, `{}`),
			want:  ReasonAlgorithm,
		},
		{
			name:  "missing kid",
			token: sign(t, gojwt.SigningMethodRS256, priv, "", validClaims()),
			want:  ReasonMissingKeyID,
		},
		{
			name:  "signed by another key",
			token: sign(t, gojwt.SigningMethodRS256, other, "kid-1", validClaims()),
			want:  ReasonBadSignature,
		},
		{
			name:  "rsa token naming an ec key",
			token: sign(t, gojwt.SigningMethodRS256, priv, "ec-1", validClaims()),
			want:  ReasonBadSignature,
		},
		{
			name:  "tampered payload",
			token: tamper(sign(t, gojwt.SigningMethodRS256, priv, "kid-1", validClaims())),
			want:  ReasonBadSignature,
		},
		{
			name:  "missing exp",
			token: with(func(c gojwt.MapClaims) { delete(c, "exp") }),
			want:  ReasonMalformed,
		},
		{
			name:  "expired",
			token: with(func(c gojwt.MapClaims) { c["exp"] = testNow.Add(-time.Second).Unix() }),
			want:  ReasonExpired,
		},
		{
			name:  "exp equal to now",
			token: with(func(c gojwt.MapClaims) { c["exp"] = testNow.Unix() }),
			want:  ReasonExpired,
		},
		{
			name:  "expired and signed by another key",
			token: sign(t, gojwt.SigningMethodRS256, other, "kid-1", gojwt.MapClaims{"exp": testNow.Add(-time.Hour).Unix()}),
			want:  ReasonExpired,
		},
		{
			name:  "missing iat",
			token: with(func(c gojwt.MapClaims) { delete(c, "iat") }),
			want:  ReasonMalformed,
		},
		{
			name:  "iat beyond skew",
			token: with(func(c gojwt.MapClaims) { c["iat"] = testNow.Add(time.Minute).Unix() }),
			want:  ReasonIssuedAt,
		},
		{
			name:  "auth_time beyond skew",
			token: with(func(c gojwt.MapClaims) { c["auth_time"] = testNow.Add(time.Minute).Unix() }),
			want:  ReasonAuthTime,
		},
		{
			name:  "wrong issuer",
			token: with(func(c gojwt.MapClaims) { c["iss"] = "https://securetoken.google.com/other" }),
			want:  ReasonIssuer,
		},
		{
			name:  "wrong audience",
			token: with(func(c gojwt.MapClaims) { c["aud"] = "other-project" }),
			want:  ReasonAudience,
		},
		{
			name:  "missing audience",
			token: with(func(c gojwt.MapClaims) { delete(c, "aud") }),
			want:  ReasonAudience,
		},
		{
			name:  "empty subject",
			token: with(func(c gojwt.MapClaims) { c["sub"] = "" }),
			want:  ReasonSubject,
		},
		{
			name:  "subject too long",
			token: with(func(c gojwt.MapClaims) { c["sub"] = strings.Repeat("u", 129) }),
			want:  ReasonSubject,
		},
		{
			name:  "azp not allowed",
			cfg:   Config{ClientIDs: []string{"web-client"}},
			token: with(func(c gojwt.MapClaims) { c["azp"] = "rogue-client" }),
			want:  ReasonClientID,
		},
		{
			name:  "azp missing while client ids configured",
			cfg:   Config{ClientIDs: []string{"web-client"}},
			token: with(func(gojwt.MapClaims) {}),
			want:  ReasonClientID,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := &testMetrics{}
			tt.cfg.Metrics = m
			v := newVerifier(t, tt.cfg)
			out := v.Verify(tt.token, keys, testNow)
			if out.Kind != Invalid {
				t.Fatalf("expected Invalid, got %v", out.Kind)
			}
			if out.Reason != tt.want {
				t.Fatalf("reason = %q (%s), want %q", out.Reason, out.Detail, tt.want)
			}
			if out.Claims != nil {
				t.Error("claims must not be returned for an invalid token")
			}
			if m.reasonCount(string(tt.want)) != 1 || m.ok.Load() != 0 {
				t.Errorf("metrics not recorded for reason %q", tt.want)
			}
		})
	}
}

func TestVerifyClockSkewTolerance(t *testing.T) {
	priv, _ := testKeys(t)
	keys := staticKeys{keys: map[string]crypto.PublicKey{"kid-1": &priv.PublicKey}}
	c := validClaims()
	c["iat"] = testNow.Add(20 * time.Second).Unix()
	c["auth_time"] = testNow.Add(20 * time.Second).Unix()
	token := sign(t, gojwt.SigningMethodRS256, priv, "kid-1", c)

	if out := newVerifier(t, Config{}).Verify(token, keys, testNow); out.Kind != Verified {
		t.Fatalf("default skew should tolerate 20s, got %s", out.Reason)
	}
	strict := newVerifier(t, Config{ClockSkew: 5 * time.Second})
	if out := strict.Verify(token, keys, testNow); out.Reason != ReasonIssuedAt {
		t.Fatalf("5s skew should reject, got %v %s", out.Kind, out.Reason)
	}
}

func TestVerifyNoClockSkewIsExact(t *testing.T) {
	priv, _ := testKeys(t)
	keys := staticKeys{keys: map[string]crypto.PublicKey{"kid-1": &priv.PublicKey}}
	exact := newVerifier(t, Config{ClockSkew: NoClockSkew})

	c := validClaims()
	c["iat"] = testNow.Add(time.Second).Unix()
	if out := exact.Verify(sign(t, gojwt.SigningMethodRS256, priv, "kid-1", c), keys, testNow); out.Reason != ReasonIssuedAt {
		t.Fatalf("iat 1s ahead must be rejected without skew, got %v %s", out.Kind, out.Reason)
	}

	c["iat"] = testNow.Unix()
	if out := exact.Verify(sign(t, gojwt.SigningMethodRS256, priv, "kid-1", c), keys, testNow); out.Kind != Verified {
		t.Fatalf("iat equal to now must pass, got %s", out.Reason)
	}
}

func TestSupportedAlg(t *testing.T) {
	for _, alg := range []string{"RS256", "PS384", "ES512"} {
		if !SupportedAlg(alg) {
			t.Errorf("%s should be supported", alg)
		}
	}
	for _, alg := range []string{"none", "HS256", "EdDSA", ""} {
		if SupportedAlg(alg) {
			t.Errorf("%q should not be supported", alg)
		}
	}
}

func TestVerifyRawClaimsAreCopied(t *testing.T) {
	priv, _ := testKeys(t)
	keys := staticKeys{keys: map[string]crypto.PublicKey{"kid-1": &priv.PublicKey}}
	c := validClaims()
	c["firebase"] = map[string]any{
		"sign_in_provider": "password",
		"identities":       map[string]any{"email": []any{"grace@example.com"}},
	}
	out := newVerifier(t, Config{}).Verify(sign(t, gojwt.SigningMethodRS256, priv, "kid-1", c), keys, testNow)
	if out.Kind != Verified {
		t.Fatalf("expected Verified, got %s", out.Reason)
	}
	if got := out.Claims.Raw["firebase"].(map[string]any)["sign_in_provider"]; got != "password" {
		t.Fatalf("nested claim = %v", got)
	}
}

func TestCloneClaimsIsDeep(t *testing.T) {
	src := gojwt.MapClaims{
		"sub": "uid-1",
		"firebase": map[string]any{
			"sign_in_provider": "password",
			"identities":       map[string]any{"email": []any{"grace@example.com"}},
		},
		"roles": []any{"reader", map[string]any{"scope": "a"}},
	}
	dst := cloneClaims(src)

	dst["sub"] = "uid-2"
	fb := dst["firebase"].(map[string]any)
	fb["sign_in_provider"] = "anonymous"
	fb["identities"].(map[string]any)["email"].([]any)[0] = "mallory@example.com"
	dst["roles"].([]any)[1].(map[string]any)["scope"] = "b"

	if src["sub"] != "uid-1" {
		t.Error("top level value shared")
	}
	srcFB := src["firebase"].(map[string]any)
	if srcFB["sign_in_provider"] != "password" {
		t.Error("nested map shared")
	}
	if srcFB["identities"].(map[string]any)["email"].([]any)[0] != "grace@example.com" {
		t.Error("nested slice shared")
	}
	if src["roles"].([]any)[1].(map[string]any)["scope"] != "a" {
		t.Error("map inside slice shared")
	}
}

func TestVerifyAudienceList(t *testing.T) {
	priv, _ := testKeys(t)
	keys := staticKeys{keys: map[string]crypto.PublicKey{"kid-1": &priv.PublicKey}}
	c := validClaims()
	c["aud"] = []string{"other", testProject}
	c["azp"] = "web-client"
	v := newVerifier(t, Config{ClientIDs: []string{"web-client"}})
	out := v.Verify(sign(t, gojwt.SigningMethodRS256, priv, "kid-1", c), keys, testNow)
	if out.Kind != Verified {
		t.Fatalf("expected Verified, got %s: %s", out.Reason, out.Detail)
	}
	if out.Claims.AuthorizedParty != "web-client" {
		t.Errorf("AuthorizedParty = %q", out.Claims.AuthorizedParty)
	}
}

func TestVerifyCustomIssuer(t *testing.T) {
	priv, _ := testKeys(t)
	keys := staticKeys{keys: map[string]crypto.PublicKey{"kid-1": &priv.PublicKey}}
	c := validClaims()
	c["iss"] = "https://issuer.example.com"
	v := newVerifier(t, Config{Issuer: "https://issuer.example.com"})
	if v.Issuer() != "https://issuer.example.com" {
		t.Fatalf("Issuer() = %q", v.Issuer())
	}
	if out := v.Verify(sign(t, gojwt.SigningMethodRS256, priv, "kid-1", c), keys, testNow); out.Kind != Verified {
		t.Fatalf("expected Verified, got %s", out.Reason)
	}
}

func TestVerifyIsDeterministic(t *testing.T) {
	priv, _ := testKeys(t)
	keys := staticKeys{keys: map[string]crypto.PublicKey{"kid-1": &priv.PublicKey}}
	v := newVerifier(t, Config{})
	token := sign(t, gojwt.SigningMethodRS256, priv, "kid-1", validClaims())
	first := v.Verify(token, keys, testNow)
	for range 5 {
		again := v.Verify(token, keys, testNow)
		if again.Kind != first.Kind || again.Claims.Subject != first.Claims.Subject {
			t.Fatal("repeated verification produced a different outcome")
		}
	}
}

func TestNewRejectsBadConfig(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
	}{
		{"missing project", Config{}},
		{"alg none", Config{ProjectID: testProject, AllowedAlgs: []string{"none"}}},
		{"hmac", Config{ProjectID: testProject, AllowedAlgs: []string{"RS256", "HS256"}}},
		{"negative skew", Config{ProjectID: testProject, ClockSkew: -time.Second}},
		{"huge skew", Config{ProjectID: testProject, ClockSkew: time.Hour}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := New(tt.cfg); err == nil {
				t.Fatal("expected an error")
			}
		})
	}
}

func TestKindString(t *testing.T) {
	if Verified.String() != "verified" || UnknownKey.String() != "unknown_key" || Invalid.String() != "invalid" {
		t.Fatal("unexpected Kind strings")
	}
}

func noneToken(claims gojwt.MapClaims) string {
	tok := gojwt.NewWithClaims(gojwt.SigningMethodNone, claims)
	tok.Header["kid"] = "kid-1"
	s, err := tok.SignedString(gojwt.UnsafeAllowNoneSignatureType)
	if err != nil {
		panic(err)
	}
	// A "none" token carries an empty signature; give it one so only the
	// algorithm check can reject it.
	return s + "c2ln"
}

func unsignedToken(header, payload string) string {
	enc := base64.RawURLEncoding
	return enc.EncodeToString([]byte(header)) + "." + enc.EncodeToString([]byte(payload)) + ".c2ln"
}

// tamper swaps the payload for a different one while keeping the signature.
func tamper(token string) string {
	parts := strings.Split(token, ".")
	c := validClaims()
	c["sub"] = "someone-else"
	forged := gojwt.NewWithClaims(gojwt.SigningMethodRS256, c)
	forged.Header["kid"] = "kid-1"
	s, _ := forged.SigningString()
	return s + "." + parts[2]
}
