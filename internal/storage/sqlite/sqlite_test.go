package sqlite

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"admissions/internal/domain/models"
	"admissions/internal/lib/migrator"
	"admissions/internal/storage"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newStorage(t *testing.T) *Storage {
	t.Helper()

	path := filepath.Join(t.TempDir(), "admissions.db")
	require.NoError(t, migrator.Up(migrator.DriverSQLite, path))

	s, err := New(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	return s
}

func saveRandomUser(t *testing.T, s *Storage) (int64, string) {
	t.Helper()

	email := gofakeit.Email()
	id, err := s.SaveUser(context.Background(), gofakeit.Username()+gofakeit.DigitN(6), email, []byte("hash"), models.RoleStudent)
	require.NoError(t, err)

	return id, email
}

func TestSaveUserAndLookup(t *testing.T) {
	s := newStorage(t)
	ctx := context.Background()

	id, err := s.SaveUser(ctx, "alice", "alice@example.com", []byte("hash"), models.RoleStudent)
	require.NoError(t, err)
	assert.Positive(t, id)

	byEmail, err := s.User(ctx, "alice@example.com")
	require.NoError(t, err)
	assert.Equal(t, id, byEmail.ID)
	assert.Equal(t, "alice", byEmail.Username)
	assert.Equal(t, []byte("hash"), byEmail.PassHash)
	assert.Equal(t, models.RoleStudent, byEmail.Role)
	assert.False(t, byEmail.CreatedAt.IsZero())

	byID, err := s.UserByID(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, byEmail.Email, byID.Email)

	_, err = s.User(ctx, "nobody@example.com")
	require.ErrorIs(t, err, storage.ErrUserNotFound)

	_, err = s.UserByID(ctx, id+100)
	require.ErrorIs(t, err, storage.ErrUserNotFound)
}

func TestSaveUserDuplicates(t *testing.T) {
	s := newStorage(t)
	ctx := context.Background()

	_, err := s.SaveUser(ctx, "alice", "alice@example.com", []byte("hash"), models.RoleStudent)
	require.NoError(t, err)

	_, err = s.SaveUser(ctx, "alice2", "alice@example.com", []byte("hash"), models.RoleStudent)
	require.ErrorIs(t, err, storage.ErrEmailTaken)

	_, err = s.SaveUser(ctx, "alice", "other@example.com", []byte("hash"), models.RoleStudent)
	require.ErrorIs(t, err, storage.ErrUsernameTaken)
}

func TestSaveUserConcurrentSameEmail(t *testing.T) {
	s := newStorage(t)
	ctx := context.Background()

	const n = 16
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
		dupes     int
	)

	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := s.SaveUser(ctx, gofakeit.Username()+gofakeit.DigitN(8), "race@example.com", []byte("hash"), models.RoleStudent)

			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				successes++
			case assert.ErrorIs(t, err, storage.ErrEmailTaken):
				dupes++
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, successes)
	assert.Equal(t, n-1, dupes)
}

func TestUpdateUser(t *testing.T) {
	s := newStorage(t)
	ctx := context.Background()

	id, _ := saveRandomUser(t, s)
	_, takenEmail := saveRandomUser(t, s)

	username := "renamed"
	email := "renamed@example.com"
	user, err := s.UpdateUser(ctx, id, models.UserUpdate{Username: &username, Email: &email, PassHash: []byte("new-hash")})
	require.NoError(t, err)
	assert.Equal(t, username, user.Username)
	assert.Equal(t, email, user.Email)
	assert.Equal(t, []byte("new-hash"), user.PassHash)

	_, err = s.UpdateUser(ctx, id, models.UserUpdate{Email: &takenEmail})
	require.ErrorIs(t, err, storage.ErrEmailTaken)

	unchanged, err := s.UserByID(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, email, unchanged.Email)

	_, err = s.UpdateUser(ctx, id+100, models.UserUpdate{Username: &username})
	require.ErrorIs(t, err, storage.ErrUserNotFound)

	same, err := s.UpdateUser(ctx, id, models.UserUpdate{})
	require.NoError(t, err)
	assert.Equal(t, username, same.Username)
}

func TestDeleteUser(t *testing.T) {
	s := newStorage(t)
	ctx := context.Background()

	id, _ := saveRandomUser(t, s)
	require.NoError(t, s.DeleteUser(ctx, id))

	_, err := s.UserByID(ctx, id)
	require.ErrorIs(t, err, storage.ErrUserNotFound)

	require.ErrorIs(t, s.DeleteUser(ctx, id), storage.ErrUserNotFound)
}

func TestDeleteUserWithApplications(t *testing.T) {
	s := newStorage(t)
	ctx := context.Background()

	id, _ := saveRandomUser(t, s)

	res, err := s.db.ExecContext(ctx, "INSERT INTO institutions (name, location) VALUES (?, ?)", "Makerere", "Kampala")
	require.NoError(t, err)
	institutionID, err := res.LastInsertId()
	require.NoError(t, err)

	_, err = s.db.ExecContext(ctx, "INSERT INTO applications (user_id, institution_id, program) VALUES (?, ?, ?)", id, institutionID, "Computer Science")
	require.NoError(t, err)

	require.ErrorIs(t, s.DeleteUser(ctx, id), storage.ErrUserHasApplications)

	_, err = s.UserByID(ctx, id)
	require.NoError(t, err)
}

func TestUsersPagination(t *testing.T) {
	s := newStorage(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		saveRandomUser(t, s)
	}

	first, err := s.Users(ctx, 2, 0)
	require.NoError(t, err)
	require.Len(t, first, 2)

	last, err := s.Users(ctx, 2, 4)
	require.NoError(t, err)
	require.Len(t, last, 1)
	assert.Greater(t, last[0].ID, first[1].ID)

	empty, err := s.Users(ctx, 2, 10)
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestRevocationRecord(t *testing.T) {
	s := newStorage(t)
	ctx := context.Background()
	now := time.Now()

	revoked, err := s.IsRevoked(ctx, "jti-1")
	require.NoError(t, err)
	assert.False(t, revoked)

	inserted, err := s.Revoke(ctx, "jti-1", now.Add(time.Hour))
	require.NoError(t, err)
	assert.True(t, inserted)

	inserted, err = s.Revoke(ctx, "jti-1", now.Add(time.Hour))
	require.NoError(t, err)
	assert.False(t, inserted)

	revoked, err = s.IsRevoked(ctx, "jti-1")
	require.NoError(t, err)
	assert.True(t, revoked)

	_, err = s.Revoke(ctx, "jti-old", now.Add(-time.Hour))
	require.NoError(t, err)

	purged, err := s.PurgeRevoked(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, int64(1), purged)

	revoked, err = s.IsRevoked(ctx, "jti-old")
	require.NoError(t, err)
	assert.False(t, revoked)

	revoked, err = s.IsRevoked(ctx, "jti-1")
	require.NoError(t, err)
	assert.True(t, revoked)
}
