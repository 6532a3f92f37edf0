package authclient_test

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	authclient "github.com/goliatone/go-auth-client"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func signWithKID(t *testing.T, kid string, key []byte, claims jwt.MapClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	token.Header["kid"] = kid
	signed, err := token.SignedString(key)
	require.NoError(t, err)
	return signed
}

func TestGivenKeysDecoder(t *testing.T) {
	key := []byte("primary-signing-key")
	decoder := authclient.NewGivenKeysDecoder(authclient.SigningKey{
		KID:    "primary",
		JWTAlg: jwt.SigningMethodHS256.Alg(),
		Key:    key,
	})
	defer decoder.Close()

	t.Run("valid signature", func(t *testing.T) {
		raw := signWithKID(t, "primary", key, jwt.MapClaims{"sub": "user-1"})
		token, err := authclient.NewToken(raw, authclient.WithDecoder(decoder))
		require.NoError(t, err)

		sub, ok := token.Claim("sub")
		require.True(t, ok)
		assert.Equal(t, "user-1", sub)
		assert.Equal(t, authclient.VerifyingDecoderName, token.Name())
	})

	t.Run("expired token still decodes", func(t *testing.T) {
		raw := signWithKID(t, "primary", key, jwt.MapClaims{"exp": time.Now().Add(-time.Hour).Unix()})
		token, err := authclient.NewToken(raw, authclient.WithDecoder(decoder))
		require.NoError(t, err)
		assert.False(t, token.IsValid())
	})

	t.Run("wrong key", func(t *testing.T) {
		raw := signWithKID(t, "primary", []byte("other-key"), jwt.MapClaims{"sub": "user-1"})
		_, err := authclient.NewToken(raw, authclient.WithDecoder(decoder))
		require.Error(t, err)
		assert.True(t, authclient.IsMalformedTokenError(err))
	})

	t.Run("unknown kid", func(t *testing.T) {
		raw := signWithKID(t, "rotated", key, jwt.MapClaims{"sub": "user-1"})
		_, err := authclient.NewToken(raw, authclient.WithDecoder(decoder))
		assert.True(t, authclient.IsMalformedTokenError(err))
	})
}

func TestVerifyingDecoderWithKeyfunc(t *testing.T) {
	key := []byte("keyfunc-secret")
	decoder := authclient.NewVerifyingDecoder(func(*jwt.Token) (any, error) {
		return key, nil
	}, jwt.SigningMethodHS256.Alg())

	raw, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"sub": "user-2"}).SignedString(key)
	require.NoError(t, err)

	payload, err := decoder.Decode(raw)
	require.NoError(t, err)
	assert.Equal(t, "user-2", payload["sub"])

	hs384, err := jwt.NewWithClaims(jwt.SigningMethodHS384, jwt.MapClaims{"sub": "user-2"}).SignedString(key)
	require.NoError(t, err)
	_, err = decoder.Decode(hs384)
	assert.True(t, authclient.IsMalformedTokenError(err))
}
