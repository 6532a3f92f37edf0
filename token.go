package authclient

import (
	"encoding/json"
	"math"
	"time"
)

// Token is an immutable bearer credential. A new value is built whenever the
// credential changes, instances are never mutated after NewToken returns.
type Token struct {
	value     string
	name      string
	payload   map[string]any
	createdAt time.Time
	expiry    *time.Time
	clock     Clock
}

// TokenOption configures NewToken
type TokenOption func(*tokenOptions)

type tokenOptions struct {
	decoder   PayloadDecoder
	clock     Clock
	createdAt time.Time
}

// WithDecoder selects the payload decoding strategy, JWTDecoder by default
func WithDecoder(decoder PayloadDecoder) TokenOption {
	return func(o *tokenOptions) {
		if decoder != nil {
			o.decoder = decoder
		}
	}
}

// WithClock sets the clock used for validity checks
func WithClock(clock Clock) TokenOption {
	return func(o *tokenOptions) {
		o.clock = clock
	}
}

// WithCreatedAt sets the creation time used when the payload has no iat claim
func WithCreatedAt(t time.Time) TokenOption {
	return func(o *tokenOptions) {
		o.createdAt = t
	}
}

// EmptyToken returns the explicit "no credential" token
func EmptyToken() *Token {
	return &Token{name: JWTDecoderName}
}

// NewToken builds a Token from its raw value. An empty raw value yields an
// empty token and no error. A non empty value that the decoder rejects yields
// ErrMalformedToken.
func NewToken(raw string, opts ...TokenOption) (*Token, error) {
	o := &tokenOptions{decoder: JWTDecoder{}}
	for _, opt := range opts {
		opt(o)
	}

	t := &Token{
		value:     raw,
		name:      o.decoder.Name(),
		clock:     o.clock,
		createdAt: o.createdAt,
	}

	if raw != "" {
		payload, err := o.decoder.Decode(raw)
		if err != nil {
			return nil, err
		}
		t.payload = payload
		if exp, ok := numericClaim(payload, "exp"); ok {
			expiry := exp
			t.expiry = &expiry
		}
		if iat, ok := numericClaim(payload, "iat"); ok {
			t.createdAt = iat
		}
	}

	if t.createdAt.IsZero() {
		t.createdAt = t.clock.Now()
	}

	return t, nil
}

// Value returns the raw token string, empty if none
func (t *Token) Value() string {
	if t == nil {
		return ""
	}
	return t.value
}

// Name is the decoder strategy name, persisted alongside the value
func (t *Token) Name() string {
	if t == nil {
		return ""
	}
	return t.name
}

// Payload returns the decoded claims, nil if there are none. The map is a copy.
func (t *Token) Payload() map[string]any {
	if t == nil || t.payload == nil {
		return nil
	}
	out := make(map[string]any, len(t.payload))
	for k, v := range t.payload {
		out[k] = v
	}
	return out
}

// Claim returns a single payload entry
func (t *Token) Claim(key string) (any, bool) {
	if t == nil || t.payload == nil {
		return nil, false
	}
	v, ok := t.payload[key]
	return v, ok
}

// Expiry returns the exp claim as an absolute time, nil when the token never expires
func (t *Token) Expiry() *time.Time {
	if t == nil || t.expiry == nil {
		return nil
	}
	exp := *t.expiry
	return &exp
}

// CreatedAt is the iat claim when present, otherwise the construction time
func (t *Token) CreatedAt() time.Time {
	if t == nil {
		return time.Time{}
	}
	return t.createdAt
}

// IsValid reports a non empty value that is either without expiry or not yet expired
func (t *Token) IsValid() bool {
	if t == nil || t.value == "" {
		return false
	}
	if t.expiry == nil {
		return true
	}
	return t.clock.Now().Before(*t.expiry)
}

// IsEmpty reports a token without raw value
func (t *Token) IsEmpty() bool {
	return t == nil || t.value == ""
}

// String masks the raw value so tokens can be logged
func (t *Token) String() string {
	if t.IsEmpty() {
		return "<empty token>"
	}
	return maskToken(t.value)
}

// claims beyond this many seconds from the epoch are clamped, time.Unix
// overflows past it
const maxClaimSeconds = 1 << 62

func numericClaim(payload map[string]any, key string) (time.Time, bool) {
	if payload == nil {
		return time.Time{}, false
	}

	var seconds float64
	switch v := payload[key].(type) {
	case float64:
		seconds = v
	case int64:
		seconds = float64(v)
	case int:
		seconds = float64(v)
	case json.Number:
		f, err := v.Float64()
		if err != nil {
			return time.Time{}, false
		}
		seconds = f
	default:
		return time.Time{}, false
	}

	switch {
	case math.IsNaN(seconds):
		return time.Time{}, false
	case seconds >= maxClaimSeconds:
		return time.Unix(maxClaimSeconds, 0), true
	case seconds <= -maxClaimSeconds:
		return time.Unix(-maxClaimSeconds, 0), true
	}

	whole, frac := math.Modf(seconds)
	return time.Unix(int64(whole), int64(frac*1e9)), true
}
