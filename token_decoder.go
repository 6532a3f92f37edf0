package authclient

import (
	"sync"

	"github.com/golang-jwt/jwt/v5"
)

const (
	JWTDecoderName       = "jwt"
	SimpleDecoderName    = "simple"
	VerifyingDecoderName = "jwt:verified"
)

// PayloadDecoder extracts the claims carried by a raw token
type PayloadDecoder interface {
	Name() string
	Decode(raw string) (map[string]any, error)
}

// JWTDecoder reads the claims segment of a JWT without checking the signature,
// the backend is the authority on signatures.
type JWTDecoder struct{}

func (JWTDecoder) Name() string { return JWTDecoderName }

func (JWTDecoder) Decode(raw string) (map[string]any, error) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(raw, claims); err != nil {
		return nil, malformedToken(err, raw)
	}
	return map[string]any(claims), nil
}

// SimpleDecoder treats the token as opaque: no payload and no expiry
type SimpleDecoder struct{}

func (SimpleDecoder) Name() string { return SimpleDecoderName }

func (SimpleDecoder) Decode(string) (map[string]any, error) { return nil, nil }

var (
	decodersMu sync.RWMutex
	decoders   = map[string]PayloadDecoder{
		JWTDecoderName:    JWTDecoder{},
		SimpleDecoderName: SimpleDecoder{},
	}
)

// RegisterDecoder makes a decoder resolvable by name when tokens are read back
// from storage.
func RegisterDecoder(decoder PayloadDecoder) {
	if decoder == nil {
		return
	}
	decodersMu.Lock()
	defer decodersMu.Unlock()
	decoders[decoder.Name()] = decoder
}

// DecoderFor resolves a decoder by name, falling back to fallback
func DecoderFor(name string, fallback PayloadDecoder) PayloadDecoder {
	decodersMu.RLock()
	defer decodersMu.RUnlock()
	if d, ok := decoders[name]; ok {
		return d
	}
	if fallback != nil {
		return fallback
	}
	return JWTDecoder{}
}
