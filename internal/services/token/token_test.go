package token

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"admissions/internal/domain/models"
	"admissions/internal/lib/logger/handlers/slogdiscard"
	"admissions/internal/storage/memory"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testSecret = "test-secret"
	testIssuer = "admissions-test"
)

var t0 = time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Set(now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = now
}

func newManager(t *testing.T) (*Manager, *clock) {
	t.Helper()

	c := &clock{now: t0}
	m, err := New(slogdiscard.NewDiscardLogger(), testSecret, memory.New(),
		WithIssuer(testIssuer),
		WithClock(c.Now),
	)
	require.NoError(t, err)

	return m, c
}

func testUser() *models.User {
	return &models.User{
		ID:       gofakeit.Int64()&0xffff + 1,
		Username: gofakeit.Username(),
		Email:    gofakeit.Email(),
		Role:     models.RoleStudent,
	}
}

func TestNew_EmptySecret(t *testing.T) {
	_, err := New(slogdiscard.NewDiscardLogger(), "", memory.New())
	require.ErrorIs(t, err, ErrEmptySecret)
}

func TestIssueVerify_Lifetime(t *testing.T) {
	m, c := newManager(t)
	ctx := context.Background()
	user := testUser()

	token, claims, err := m.Issue(user, models.TokenKindAccess, t0)
	require.NoError(t, err)
	assert.Equal(t, t0.Add(time.Hour), claims.Expiry())
	assert.NotEmpty(t, claims.ID)
	assert.NotEmpty(t, claims.CSRF)

	c.Set(t0.Add(time.Second))
	got, err := m.Verify(ctx, token, models.TokenKindAccess)
	require.NoError(t, err)
	assert.Equal(t, user.ID, got.UID)
	assert.Equal(t, user.Role, got.Role)
	assert.Equal(t, claims.ID, got.ID)

	c.Set(t0.Add(3600 * time.Second))
	_, err = m.Verify(ctx, token, models.TokenKindAccess)
	require.ErrorIs(t, err, ErrExpired)

	c.Set(t0.Add(3601 * time.Second))
	_, err = m.Verify(ctx, token, models.TokenKindAccess)
	require.ErrorIs(t, err, ErrExpired)
}

func TestIssuePair(t *testing.T) {
	m, c := newManager(t)
	ctx := context.Background()

	pair, err := m.IssuePair(testUser(), t0)
	require.NoError(t, err)
	assert.Equal(t, t0.Add(DefaultAccessTTL), pair.AccessExpiresAt)
	assert.Equal(t, t0.Add(DefaultRefreshTTL), pair.RefreshExpiresAt)
	assert.NotEqual(t, pair.AccessCSRF, pair.RefreshCSRF)

	c.Set(t0.Add(2 * time.Hour))
	_, err = m.Verify(ctx, pair.AccessToken, models.TokenKindAccess)
	require.ErrorIs(t, err, ErrExpired)

	_, err = m.Verify(ctx, pair.RefreshToken, models.TokenKindRefresh)
	require.NoError(t, err)
}

func TestRevokePaired(t *testing.T) {
	m, _ := newManager(t)
	ctx := context.Background()

	pair, err := m.IssuePair(testUser(), t0)
	require.NoError(t, err)

	access, err := m.Verify(ctx, pair.AccessToken, models.TokenKindAccess)
	require.NoError(t, err)
	refresh, err := m.Verify(ctx, pair.RefreshToken, models.TokenKindRefresh)
	require.NoError(t, err)
	assert.Equal(t, refresh.ID, access.RefreshID)
	assert.Empty(t, refresh.RefreshID)

	require.NoError(t, m.RevokePaired(ctx, access))

	_, err = m.Verify(ctx, pair.RefreshToken, models.TokenKindRefresh)
	require.ErrorIs(t, err, ErrRevoked)
	_, err = m.Verify(ctx, pair.AccessToken, models.TokenKindAccess)
	require.NoError(t, err)

	require.NoError(t, m.RevokePaired(ctx, refresh))
}

func TestClaim(t *testing.T) {
	m, _ := newManager(t)
	ctx := context.Background()

	pair, err := m.IssuePair(testUser(), t0)
	require.NoError(t, err)
	claims, err := m.Verify(ctx, pair.RefreshToken, models.TokenKindRefresh)
	require.NoError(t, err)

	require.NoError(t, m.Claim(ctx, claims))
	require.ErrorIs(t, m.Claim(ctx, claims), ErrRevoked)
}

func TestVerify_WrongKind(t *testing.T) {
	m, _ := newManager(t)
	ctx := context.Background()

	pair, err := m.IssuePair(testUser(), t0)
	require.NoError(t, err)

	_, err = m.Verify(ctx, pair.RefreshToken, models.TokenKindAccess)
	require.ErrorIs(t, err, ErrWrongKind)

	_, err = m.Verify(ctx, pair.AccessToken, models.TokenKindRefresh)
	require.ErrorIs(t, err, ErrWrongKind)
}

func TestVerify_Malformed(t *testing.T) {
	m, _ := newManager(t)
	ctx := context.Background()

	token, _, err := m.Issue(testUser(), models.TokenKindAccess, t0)
	require.NoError(t, err)

	other, err := New(slogdiscard.NewDiscardLogger(), "another-secret", memory.New(), WithIssuer(testIssuer))
	require.NoError(t, err)
	foreign, _, err := other.Issue(testUser(), models.TokenKindAccess, t0)
	require.NoError(t, err)

	otherIssuer, err := New(slogdiscard.NewDiscardLogger(), testSecret, memory.New(), WithIssuer("someone-else"))
	require.NoError(t, err)
	wrongIssuer, _, err := otherIssuer.Issue(testUser(), models.TokenKindAccess, t0)
	require.NoError(t, err)

	tests := []struct {
		name  string
		token string
	}{
		{name: "empty", token: ""},
		{name: "garbage", token: "not.a.token"},
		{name: "truncated signature", token: token[:len(token)-3]},
		{name: "foreign secret", token: foreign},
		{name: "foreign issuer", token: wrongIssuer},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := m.Verify(ctx, tt.token, models.TokenKindAccess)
			require.ErrorIs(t, err, ErrMalformed)
		})
	}
}

func TestRevoke(t *testing.T) {
	m, c := newManager(t)
	ctx := context.Background()

	token, _, err := m.Issue(testUser(), models.TokenKindAccess, t0)
	require.NoError(t, err)

	_, err = m.Revoke(ctx, token)
	require.NoError(t, err)

	_, err = m.Revoke(ctx, token)
	require.NoError(t, err, "revoking twice must be a no-op")

	_, err = m.Verify(ctx, token, models.TokenKindAccess)
	require.ErrorIs(t, err, ErrRevoked)

	c.Set(t0.Add(48 * time.Hour))
	_, err = m.Verify(ctx, token, models.TokenKindAccess)
	require.ErrorIs(t, err, ErrRevoked, "revocation must win over expiry")
}

func TestRevoke_Expired(t *testing.T) {
	m, c := newManager(t)
	ctx := context.Background()

	token, _, err := m.Issue(testUser(), models.TokenKindAccess, t0)
	require.NoError(t, err)

	c.Set(t0.Add(2 * time.Hour))
	_, err = m.Revoke(ctx, token)
	require.NoError(t, err)

	_, err = m.Verify(ctx, token, models.TokenKindAccess)
	require.ErrorIs(t, err, ErrRevoked)
}

func TestConsume_OneTimeUse(t *testing.T) {
	m, _ := newManager(t)
	ctx := context.Background()

	pair, err := m.IssuePair(testUser(), t0)
	require.NoError(t, err)

	_, err = m.Consume(ctx, pair.AccessToken)
	require.ErrorIs(t, err, ErrWrongKind)

	claims, err := m.Consume(ctx, pair.RefreshToken)
	require.NoError(t, err)
	assert.Equal(t, models.TokenKindRefresh, claims.Kind)

	_, err = m.Consume(ctx, pair.RefreshToken)
	require.ErrorIs(t, err, ErrRevoked)
}

func TestConsume_Concurrent(t *testing.T) {
	m, _ := newManager(t)
	ctx := context.Background()

	pair, err := m.IssuePair(testUser(), t0)
	require.NoError(t, err)

	const n = 16
	var (
		wg       sync.WaitGroup
		success  atomic.Int32
		revoked  atomic.Int32
		otherErr atomic.Int32
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := m.Consume(ctx, pair.RefreshToken)
			switch {
			case err == nil:
				success.Add(1)
			case errors.Is(err, ErrRevoked):
				revoked.Add(1)
			default:
				otherErr.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), success.Load())
	assert.Equal(t, int32(n-1), revoked.Load())
	assert.Zero(t, otherErr.Load())
}

func TestWithTTL(t *testing.T) {
	m, err := New(slogdiscard.NewDiscardLogger(), testSecret, memory.New(), WithTTL(time.Minute, 0))
	require.NoError(t, err)

	assert.Equal(t, time.Minute, m.TTL(models.TokenKindAccess))
	assert.Equal(t, DefaultRefreshTTL, m.TTL(models.TokenKindRefresh))
}
