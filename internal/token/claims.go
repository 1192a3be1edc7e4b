package token

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Claims holds the verified contents of an ID token.
type Claims struct {
	Issuer          string
	Subject         string
	Audience        []string
	IssuedAt        time.Time
	ExpiresAt       time.Time
	AuthTime        time.Time
	AuthorizedParty string

	Email         string
	EmailVerified bool
	Name          string
	Picture       string
	PhoneNumber   string

	Firebase FirebaseInfo

	// Raw holds every claim as decoded from the payload.
	Raw map[string]any
}

// FirebaseInfo is the provider specific "firebase" claim.
type FirebaseInfo struct {
	SignInProvider string
	Tenant         string
	// Identities maps a provider id to the identifiers linked to the user.
	Identities map[string][]string
}

// UID is the user id, an alias for Subject.
func (c *Claims) UID() string { return c.Subject }

func (c *Claims) fillProfile(mc jwt.MapClaims) {
	c.Email, _ = mc["email"].(string)
	c.EmailVerified, _ = mc["email_verified"].(bool)
	c.Name, _ = mc["name"].(string)
	c.Picture, _ = mc["picture"].(string)
	c.PhoneNumber, _ = mc["phone_number"].(string)

	fb, ok := mc["firebase"].(map[string]any)
	if !ok {
		return
	}
	c.Firebase.SignInProvider, _ = fb["sign_in_provider"].(string)
	c.Firebase.Tenant, _ = fb["tenant"].(string)
	ids, ok := fb["identities"].(map[string]any)
	if !ok {
		return
	}
	c.Firebase.Identities = make(map[string][]string, len(ids))
	for provider, v := range ids {
		list, ok := v.([]any)
		if !ok {
			continue
		}
		for _, item := range list {
			if s, ok := item.(string); ok {
				c.Firebase.Identities[provider] = append(c.Firebase.Identities[provider], s)
			}
		}
	}
}
