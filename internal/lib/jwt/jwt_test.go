package jwt

import (
	"testing"
	"time"

	"admissions/internal/domain/models"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var secret = []byte("test-secret")

func newClaims(now time.Time, ttl time.Duration) *Claims {
	return &Claims{
		UID:  42,
		Role: models.RoleStudent,
		Kind: models.TokenKindAccess,
		CSRF: "csrf-value",
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        "token-id",
			Subject:   "42",
			Issuer:    "admissions",
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
}

func TestTokenRoundTrip(t *testing.T) {
	now := time.Now()

	token, err := GenerateToken(newClaims(now, time.Hour), secret)
	require.NoError(t, err)

	claims, err := ParseToken(token, secret)
	require.NoError(t, err)

	assert.Equal(t, int64(42), claims.UID)
	assert.Equal(t, models.RoleStudent, claims.Role)
	assert.Equal(t, models.TokenKindAccess, claims.Kind)
	assert.Equal(t, "csrf-value", claims.CSRF)
	assert.Equal(t, "token-id", claims.ID)
	assert.Equal(t, now.Add(time.Hour).Unix(), claims.Expiry().Unix())

	require.NoError(t, Validate(claims, "admissions", now.Add(time.Second)))
}

func TestParseTokenWrongSecret(t *testing.T) {
	token, err := GenerateToken(newClaims(time.Now(), time.Hour), secret)
	require.NoError(t, err)

	_, err = ParseToken(token, []byte("other-secret"))
	require.ErrorIs(t, err, ErrMalformed)
}

func TestParseTokenGarbage(t *testing.T) {
	for _, raw := range []string{"", "abc", "a.b.c"} {
		_, err := ParseToken(raw, secret)
		require.ErrorIs(t, err, ErrMalformed, raw)
	}
}

func TestParseTokenRejectsNoneAlgorithm(t *testing.T) {
	token := jwt.NewWithClaims(jwt.SigningMethodNone, newClaims(time.Now(), time.Hour))
	raw, err := token.SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	_, err = ParseToken(raw, secret)
	require.ErrorIs(t, err, ErrMalformed)
}

func TestParseTokenMissingClaims(t *testing.T) {
	claims := newClaims(time.Now(), time.Hour)
	claims.ID = ""

	token, err := GenerateToken(claims, secret)
	require.NoError(t, err)

	_, err = ParseToken(token, secret)
	require.ErrorIs(t, err, ErrMalformed)
}

func TestParseTokenIgnoresExpiry(t *testing.T) {
	now := time.Now()
	token, err := GenerateToken(newClaims(now.Add(-2*time.Hour), time.Hour), secret)
	require.NoError(t, err)

	claims, err := ParseToken(token, secret)
	require.NoError(t, err)

	err = Validate(claims, "admissions", now)
	require.ErrorIs(t, err, ErrExpired)
}

func TestValidateExpiryBoundary(t *testing.T) {
	t0 := time.Unix(1_700_000_000, 0)
	claims := newClaims(t0, time.Hour)

	require.NoError(t, Validate(claims, "", t0.Add(time.Hour-time.Second)))
	require.ErrorIs(t, Validate(claims, "", t0.Add(time.Hour)), ErrExpired)
	require.ErrorIs(t, Validate(claims, "", t0.Add(time.Hour+time.Second)), ErrExpired)
}

func TestValidateIssuerMismatch(t *testing.T) {
	now := time.Now()
	claims := newClaims(now, time.Hour)

	err := Validate(claims, "someone-else", now)
	require.ErrorIs(t, err, ErrMalformed)
	require.NotErrorIs(t, err, ErrExpired)
}
