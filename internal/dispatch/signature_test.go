package dispatch

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sign(t *testing.T, key string, claims DeliveryClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(key))
	require.NoError(t, err)
	return signed
}

func claimsFor(body []byte) DeliveryClaims {
	now := time.Now()
	return DeliveryClaims{
		Body: BodyHash(body),
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    DefaultIssuer,
			Subject:   "https://api.example.com/api/v1/deliveries/video-jobs",
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now.Add(-time.Minute)),
			ExpiresAt: jwt.NewNumericDate(now.Add(5 * time.Minute)),
		},
	}
}

func TestNewVerifier(t *testing.T) {
	_, err := NewVerifier("", "", "")
	assert.Error(t, err)

	v, err := NewVerifier("current", "", "")
	require.NoError(t, err)
	assert.Equal(t, DefaultIssuer, v.issuer)
}

func TestVerifier_Verify(t *testing.T) {
	body := []byte(`{"job_id":"job-1","account_id":"shop.example","source_image_urls":["https://cdn/a.png"],"template_id":"zoom-pan"}`)
	verifier, err := NewVerifier("current-key", "next-key", "")
	require.NoError(t, err)

	t.Run("signed with current key", func(t *testing.T) {
		assert.NoError(t, verifier.Verify(sign(t, "current-key", claimsFor(body)), body))
	})

	t.Run("signed with next key", func(t *testing.T) {
		assert.NoError(t, verifier.Verify(sign(t, "next-key", claimsFor(body)), body))
	})

	t.Run("padded body hash", func(t *testing.T) {
		claims := claimsFor(body)
		claims.Body += "="
		assert.NoError(t, verifier.Verify(sign(t, "current-key", claims), body))
	})

	t.Run("missing signature", func(t *testing.T) {
		assert.ErrorIs(t, verifier.Verify("", body), ErrMissingSignature)
	})

	t.Run("unknown key", func(t *testing.T) {
		assert.ErrorIs(t, verifier.Verify(sign(t, "other-key", claimsFor(body)), body), ErrInvalidSignature)
	})

	t.Run("tampered body", func(t *testing.T) {
		signature := sign(t, "current-key", claimsFor(body))
		tampered := []byte(`{"job_id":"job-2","account_id":"shop.example","source_image_urls":["https://cdn/a.png"],"template_id":"zoom-pan"}`)
		assert.ErrorIs(t, verifier.Verify(signature, tampered), ErrInvalidSignature)
	})

	t.Run("tampered token", func(t *testing.T) {
		signature := sign(t, "current-key", claimsFor(body))
		assert.ErrorIs(t, verifier.Verify(signature[:len(signature)-2]+"xx", body), ErrInvalidSignature)
	})

	t.Run("expired", func(t *testing.T) {
		claims := claimsFor(body)
		claims.ExpiresAt = jwt.NewNumericDate(time.Now().Add(-time.Minute))
		assert.ErrorIs(t, verifier.Verify(sign(t, "current-key", claims), body), ErrInvalidSignature)
	})

	t.Run("wrong issuer", func(t *testing.T) {
		claims := claimsFor(body)
		claims.Issuer = "someone-else"
		assert.ErrorIs(t, verifier.Verify(sign(t, "current-key", claims), body), ErrInvalidSignature)
	})

	t.Run("wrong algorithm", func(t *testing.T) {
		token := jwt.NewWithClaims(jwt.SigningMethodHS512, claimsFor(body))
		signed, err := token.SignedString([]byte("current-key"))
		require.NoError(t, err)
		assert.ErrorIs(t, verifier.Verify(signed, body), ErrInvalidSignature)
	})
}
