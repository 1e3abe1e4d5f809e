// Package token issues and verifies access and refresh tokens and keeps
// revoked token ids out of circulation.
package token

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"admissions/internal/domain/models"
	"admissions/internal/lib/jwt"
	"admissions/internal/lib/logger/sl"

	jwtlib "github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

var (
	ErrMalformed   = errors.New("token is malformed")
	ErrExpired     = errors.New("token has expired")
	ErrRevoked     = errors.New("token has been revoked")
	ErrWrongKind   = errors.New("wrong token kind")
	ErrEmptySecret = errors.New("signing secret is empty")
)

const (
	DefaultAccessTTL  = time.Hour
	DefaultRefreshTTL = 30 * 24 * time.Hour
)

// Revocations is the record of revoked token ids. Revoke must be atomic and
// report whether the id was newly inserted.
type Revocations interface {
	Revoke(ctx context.Context, tokenID string, expiresAt time.Time) (inserted bool, err error)
	IsRevoked(ctx context.Context, tokenID string) (bool, error)
}

type Manager struct {
	log         *slog.Logger
	revocations Revocations
	secret      []byte
	issuer      string
	accessTTL   time.Duration
	refreshTTL  time.Duration
	now         func() time.Time
}

type Option func(*Manager)

// WithClock replaces time.Now as the instant tokens are verified at.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		m.now = now
	}
}

func WithIssuer(issuer string) Option {
	return func(m *Manager) {
		m.issuer = issuer
	}
}

// WithTTL overrides the lifetimes. Non-positive values keep the defaults.
func WithTTL(access, refresh time.Duration) Option {
	return func(m *Manager) {
		if access > 0 {
			m.accessTTL = access
		}
		if refresh > 0 {
			m.refreshTTL = refresh
		}
	}
}

func New(log *slog.Logger, secret string, revocations Revocations, opts ...Option) (*Manager, error) {
	const op = "token.New"

	if secret == "" {
		return nil, fmt.Errorf("%s: %w", op, ErrEmptySecret)
	}

	m := &Manager{
		log:         log,
		revocations: revocations,
		secret:      []byte(secret),
		accessTTL:   DefaultAccessTTL,
		refreshTTL:  DefaultRefreshTTL,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}

	return m, nil
}

func (m *Manager) Now() time.Time {
	return m.now()
}

func (m *Manager) TTL(kind models.TokenKind) time.Duration {
	if kind == models.TokenKindRefresh {
		return m.refreshTTL
	}
	return m.accessTTL
}

// Issue signs a new token of the given kind for user, valid from now for the kind's TTL.
func (m *Manager) Issue(user *models.User, kind models.TokenKind, now time.Time) (string, *jwt.Claims, error) {
	return m.issue(user, kind, now, "")
}

func (m *Manager) issue(user *models.User, kind models.TokenKind, now time.Time, refreshID string) (string, *jwt.Claims, error) {
	const op = "token.Issue"

	if !kind.Valid() {
		return "", nil, fmt.Errorf("%s: %w", op, ErrWrongKind)
	}

	now = now.Truncate(time.Second)
	claims := &jwt.Claims{
		UID:       user.ID,
		Role:      user.Role,
		Kind:      kind,
		CSRF:      uuid.NewString(),
		RefreshID: refreshID,
		RegisteredClaims: jwtlib.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   strconv.FormatInt(user.ID, 10),
			Issuer:    m.issuer,
			IssuedAt:  jwtlib.NewNumericDate(now),
			ExpiresAt: jwtlib.NewNumericDate(now.Add(m.TTL(kind))),
		},
	}

	signed, err := jwt.GenerateToken(claims, m.secret)
	if err != nil {
		return "", nil, fmt.Errorf("%s: %w", op, err)
	}

	return signed, claims, nil
}

// IssuePair issues an access and a refresh token sharing the same issue
// instant. The access token names its refresh token in RefreshID.
func (m *Manager) IssuePair(user *models.User, now time.Time) (models.TokenPair, error) {
	const op = "token.IssuePair"

	refresh, refreshClaims, err := m.issue(user, models.TokenKindRefresh, now, "")
	if err != nil {
		return models.TokenPair{}, fmt.Errorf("%s: %w", op, err)
	}

	access, accessClaims, err := m.issue(user, models.TokenKindAccess, now, refreshClaims.ID)
	if err != nil {
		return models.TokenPair{}, fmt.Errorf("%s: %w", op, err)
	}

	return models.TokenPair{
		AccessToken:      access,
		RefreshToken:     refresh,
		AccessExpiresAt:  accessClaims.Expiry(),
		RefreshExpiresAt: refreshClaims.Expiry(),
		AccessCSRF:       accessClaims.CSRF,
		RefreshCSRF:      refreshClaims.CSRF,
	}, nil
}

// Parse checks the signature and issuer but neither expiry nor revocation.
func (m *Manager) Parse(token string) (*jwt.Claims, error) {
	const op = "token.Parse"

	claims, err := jwt.ParseToken(token, m.secret)
	if err != nil {
		return nil, fmt.Errorf("%s: %w: %w", op, ErrMalformed, err)
	}
	if claims.Issuer != m.issuer {
		return nil, fmt.Errorf("%s: %w: unexpected issuer %q", op, ErrMalformed, claims.Issuer)
	}

	return claims, nil
}

// Verify runs the checks in a fixed order: malformed, revoked, expired, wrong kind.
// A revoked token reports ErrRevoked even after it has expired.
func (m *Manager) Verify(ctx context.Context, token string, kind models.TokenKind) (*jwt.Claims, error) {
	const op = "token.Verify"

	claims, err := m.Parse(token)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	revoked, err := m.revocations.IsRevoked(ctx, claims.ID)
	if err != nil {
		m.log.Error("failed to check revocation", slog.String("op", op), sl.Err(err))
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if revoked {
		return nil, fmt.Errorf("%s: %w", op, ErrRevoked)
	}

	if err := jwt.Validate(claims, m.issuer, m.now()); err != nil {
		if errors.Is(err, jwt.ErrExpired) {
			return nil, fmt.Errorf("%s: %w", op, ErrExpired)
		}
		return nil, fmt.Errorf("%s: %w: %w", op, ErrMalformed, err)
	}

	if claims.Kind != kind {
		return nil, fmt.Errorf("%s: %w: got %s, want %s", op, ErrWrongKind, claims.Kind, kind)
	}

	return claims, nil
}

// Revoke adds the token id to the revocation record. Revoking twice is not an error.
func (m *Manager) Revoke(ctx context.Context, token string) (*jwt.Claims, error) {
	const op = "token.Revoke"

	claims, err := m.Parse(token)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	if err := m.RevokeClaims(ctx, claims); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return claims, nil
}

func (m *Manager) RevokeClaims(ctx context.Context, claims *jwt.Claims) error {
	const op = "token.RevokeClaims"

	inserted, err := m.revocations.Revoke(ctx, claims.ID, claims.Expiry())
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	m.log.Debug("token revoked",
		slog.String("op", op),
		slog.String("jti", claims.ID),
		slog.Int64("uid", claims.UID),
		slog.Bool("inserted", inserted),
	)

	return nil
}

// RevokePaired revokes the refresh token issued together with access. The
// refresh token itself is not needed: its expiry is bounded by the access
// token's issue time plus the refresh TTL.
func (m *Manager) RevokePaired(ctx context.Context, access *jwt.Claims) error {
	const op = "token.RevokePaired"

	if access.RefreshID == "" || access.IssuedAt == nil {
		return nil
	}

	exp := access.IssuedAt.Time.Add(m.refreshTTL)
	if _, err := m.revocations.Revoke(ctx, access.RefreshID, exp); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

// Consume verifies a refresh token and revokes it in one step. Of several
// concurrent consumers of the same token exactly one succeeds; the rest get ErrRevoked.
func (m *Manager) Consume(ctx context.Context, refreshToken string) (*jwt.Claims, error) {
	const op = "token.Consume"

	claims, err := m.Verify(ctx, refreshToken, models.TokenKindRefresh)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	if err := m.Claim(ctx, claims); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return claims, nil
}

// Claim records claims as used. Only the first claim of a token id succeeds;
// later ones fail with ErrRevoked.
func (m *Manager) Claim(ctx context.Context, claims *jwt.Claims) error {
	const op = "token.Claim"

	inserted, err := m.revocations.Revoke(ctx, claims.ID, claims.Expiry())
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if !inserted {
		return fmt.Errorf("%s: %w", op, ErrRevoked)
	}

	return nil
}
