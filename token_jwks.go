package authclient

import (
	"fmt"
	"time"

	"github.com/MicahParks/keyfunc/v2"
	"github.com/golang-jwt/jwt/v5"
)

// VerifyingDecoder checks the token signature before exposing claims. Expiry
// is intentionally not enforced here: an expired token still decodes so the
// coordinator can decide to refresh it.
type VerifyingDecoder struct {
	keyFunc jwt.Keyfunc
	methods []string
	jwks    *keyfunc.JWKS
}

// SigningKey describes a locally known verification key
type SigningKey struct {
	KID    string
	JWTAlg string
	Key    []byte
}

// NewVerifyingDecoder builds a decoder from a jwt.Keyfunc
func NewVerifyingDecoder(keyFunc jwt.Keyfunc, methods ...string) *VerifyingDecoder {
	return &VerifyingDecoder{keyFunc: keyFunc, methods: methods}
}

// NewGivenKeysDecoder verifies HMAC signed tokens against the given keys,
// matched by the kid header.
func NewGivenKeysDecoder(keys ...SigningKey) *VerifyingDecoder {
	given := make(map[string]keyfunc.GivenKey, len(keys))
	methods := make([]string, 0, len(keys))
	for _, k := range keys {
		given[k.KID] = keyfunc.NewGivenHMAC(k.Key, keyfunc.GivenKeyOptions{Algorithm: k.JWTAlg})
		if k.JWTAlg != "" {
			methods = append(methods, k.JWTAlg)
		}
	}
	jwks := keyfunc.NewGiven(given)
	return &VerifyingDecoder{keyFunc: jwks.Keyfunc, methods: methods, jwks: jwks}
}

// NewJWKSDecoder fetches and keeps refreshing the key set published at url
func NewJWKSDecoder(url string, refresh time.Duration) (*VerifyingDecoder, error) {
	if refresh <= 0 {
		refresh = time.Hour
	}
	jwks, err := keyfunc.Get(url, keyfunc.Options{
		RefreshInterval:   refresh,
		RefreshRateLimit:  time.Minute * 5,
		RefreshTimeout:    time.Second * 10,
		RefreshUnknownKID: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load JWKS from %s: %w", url, err)
	}
	return &VerifyingDecoder{keyFunc: jwks.Keyfunc, jwks: jwks}, nil
}

func (d *VerifyingDecoder) Name() string { return VerifyingDecoderName }

func (d *VerifyingDecoder) Decode(raw string) (map[string]any, error) {
	opts := []jwt.ParserOption{jwt.WithoutClaimsValidation()}
	if len(d.methods) > 0 {
		opts = append(opts, jwt.WithValidMethods(d.methods))
	}

	claims := jwt.MapClaims{}
	if _, err := jwt.ParseWithClaims(raw, claims, d.keyFunc, opts...); err != nil {
		return nil, malformedToken(err, raw)
	}
	return map[string]any(claims), nil
}

// Close stops background JWKS refreshes
func (d *VerifyingDecoder) Close() {
	if d.jwks != nil {
		d.jwks.EndBackground()
	}
}
