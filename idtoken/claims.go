package idtoken

import "github.com/keksclan/goIDToken/internal/token"

// Claims is the verified content of an ID token.
type Claims = token.Claims

// FirebaseInfo is the provider specific "firebase" claim.
type FirebaseInfo = token.FirebaseInfo

// Stable reasons reported in ValidationError.Reason and to metrics.
const (
	ReasonMalformed    = string(token.ReasonMalformed)
	ReasonAlgorithm    = string(token.ReasonAlgorithm)
	ReasonMissingKeyID = string(token.ReasonMissingKeyID)
	ReasonBadSignature = string(token.ReasonBadSignature)
	ReasonUnknownKey   = "unknown_key"
	ReasonExpired      = string(token.ReasonExpired)
	ReasonIssuedAt     = string(token.ReasonIssuedAt)
	ReasonAuthTime     = string(token.ReasonAuthTime)
	ReasonIssuer       = string(token.ReasonIssuer)
	ReasonAudience     = string(token.ReasonAudience)
	ReasonSubject      = string(token.ReasonSubject)
	ReasonClientID     = string(token.ReasonClientID)
)

// kindFor maps a verifier reason to its error kind.
func kindFor(r token.Reason) error {
	switch r {
	case token.ReasonBadSignature:
		return ErrSignature
	case token.ReasonExpired:
		return ErrExpiredToken
	case token.ReasonIssuer:
		return ErrInvalidIssuer
	case token.ReasonAudience:
		return ErrAudienceMismatch
	case token.ReasonClientID:
		return ErrClientIDMismatch
	case token.ReasonIssuedAt, token.ReasonAuthTime, token.ReasonSubject:
		return ErrInvalidClaims
	default:
		return ErrMalformedToken
	}
}
