package token

// Kind classifies a verification outcome.
type Kind int

const (
	// Invalid is the zero value so an unset Outcome never reads as success.
	Invalid Kind = iota
	Verified
	// UnknownKey means the token names a key id absent from the key set.
	// It is the only outcome a caller may resolve by refreshing keys.
	UnknownKey
)

func (k Kind) String() string {
	switch k {
	case Verified:
		return "verified"
	case UnknownKey:
		return "unknown_key"
	default:
		return "invalid"
	}
}

// Reason identifies which check rejected a token. The values are stable and
// used as metric labels.
type Reason string

const (
	ReasonMalformed    Reason = "malformed"
	ReasonAlgorithm    Reason = "algorithm_not_allowed"
	ReasonMissingKeyID Reason = "missing_kid"
	ReasonBadSignature Reason = "bad_signature"
	ReasonExpired      Reason = "expired"
	ReasonIssuedAt     Reason = "issued_in_future"
	ReasonAuthTime     Reason = "auth_time_in_future"
	ReasonIssuer       Reason = "issuer_mismatch"
	ReasonAudience     Reason = "audience_mismatch"
	ReasonSubject      Reason = "invalid_subject"
	ReasonClientID     Reason = "client_id_mismatch"
)

// Outcome is the result of Verify. Claims is set only for Verified, KeyID
// only for UnknownKey, Reason and Detail only for Invalid.
type Outcome struct {
	Kind   Kind
	Claims *Claims
	KeyID  string
	Reason Reason
	// Detail is a human readable explanation. It never contains the token.
	Detail string
}

func invalid(r Reason, detail string) Outcome {
	return Outcome{Kind: Invalid, Reason: r, Detail: detail}
}
