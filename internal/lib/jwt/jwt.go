package jwt

import (
	"errors"
	"fmt"
	"time"

	"admissions/internal/domain/models"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrMalformed = errors.New("token is malformed")
	ErrExpired   = errors.New("token is expired")
)

// Claims is the payload of both access and refresh tokens.
type Claims struct {
	UID  int64            `json:"uid"`
	Role string           `json:"role,omitempty"`
	Kind models.TokenKind `json:"kind"`
	CSRF string           `json:"csrf,omitempty"`
	// RefreshID is the jti of the refresh token issued together with an access token.
	RefreshID string `json:"rid,omitempty"`
	jwt.RegisteredClaims
}

// Expiry returns the exp claim or the zero time.
func (c *Claims) Expiry() time.Time {
	if c.RegisteredClaims.ExpiresAt == nil {
		return time.Time{}
	}
	return c.RegisteredClaims.ExpiresAt.Time
}

// GenerateToken signs claims with HS256.
func GenerateToken(claims *Claims, secret []byte) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(secret)
}

// ParseToken checks the signature and the claim structure only. Time-based
// claims are left to Validate so callers can decide the order of checks.
func ParseToken(tokenString string, secret []byte) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithoutClaimsValidation(),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformed, err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrMalformed
	}

	if claims.UID <= 0 || claims.ID == "" || !claims.Kind.Valid() || claims.RegisteredClaims.ExpiresAt == nil {
		return nil, fmt.Errorf("%w: missing required claims", ErrMalformed)
	}

	return claims, nil
}

// Validate checks exp and iss at the given instant. A token is expired once now >= exp.
func Validate(claims *Claims, issuer string, now time.Time) error {
	opts := []jwt.ParserOption{
		jwt.WithTimeFunc(func() time.Time { return now }),
		jwt.WithExpirationRequired(),
	}
	if issuer != "" {
		opts = append(opts, jwt.WithIssuer(issuer))
	}

	if err := jwt.NewValidator(opts...).Validate(claims); err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return fmt.Errorf("%w: %w", ErrExpired, err)
		}
		return fmt.Errorf("%w: %w", ErrMalformed, err)
	}

	return nil
}
