package postgres

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"admissions/internal/domain/models"
	"admissions/internal/storage"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	codeUniqueViolation     = "23505"
	codeForeignKeyViolation = "23503"
)

type Storage struct {
	pool *pgxpool.Pool
}

// New connects to databaseURL and verifies the connection.
func New(ctx context.Context, databaseURL string) (*Storage, error) {
	const op = "storage.postgres.New"

	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("%s: ping: %w", op, err)
	}

	return &Storage{pool: pool}, nil
}

func (s *Storage) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *Storage) Close() error {
	s.pool.Close()
	return nil
}

func (s *Storage) SaveUser(ctx context.Context, username, email string, passHash []byte, role string) (int64, error) {
	const op = "storage.postgres.SaveUser"

	var id int64
	err := s.pool.QueryRow(ctx, `
		INSERT INTO users (username, email, pass_hash, role, created_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id
	`, username, email, passHash, role, time.Now().UTC()).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, constraintError(err))
	}

	return id, nil
}

const selectUser = `SELECT id, username, email, pass_hash, role, created_at FROM users`

func (s *Storage) User(ctx context.Context, email string) (*models.User, error) {
	const op = "storage.postgres.User"

	user, err := scanUser(s.pool.QueryRow(ctx, selectUser+` WHERE email = $1`, email))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return user, nil
}

func (s *Storage) UserByID(ctx context.Context, userID int64) (*models.User, error) {
	const op = "storage.postgres.UserByID"

	user, err := scanUser(s.pool.QueryRow(ctx, selectUser+` WHERE id = $1`, userID))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return user, nil
}

func (s *Storage) Users(ctx context.Context, limit, offset int) ([]models.User, error) {
	const op = "storage.postgres.Users"

	rows, err := s.pool.Query(ctx, selectUser+` ORDER BY id LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	users := make([]models.User, 0, limit)
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		users = append(users, *user)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return users, nil
}

func (s *Storage) UpdateUser(ctx context.Context, userID int64, update models.UserUpdate) (*models.User, error) {
	const op = "storage.postgres.UpdateUser"

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if !update.Empty() {
		sets := make([]string, 0, 3)
		args := make([]any, 0, 4)
		if update.Username != nil {
			args = append(args, *update.Username)
			sets = append(sets, "username = $"+strconv.Itoa(len(args)))
		}
		if update.Email != nil {
			args = append(args, *update.Email)
			sets = append(sets, "email = $"+strconv.Itoa(len(args)))
		}
		if len(update.PassHash) > 0 {
			args = append(args, update.PassHash)
			sets = append(sets, "pass_hash = $"+strconv.Itoa(len(args)))
		}
		args = append(args, userID)

		tag, err := tx.Exec(ctx, `UPDATE users SET `+strings.Join(sets, ", ")+` WHERE id = $`+strconv.Itoa(len(args)), args...)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, constraintError(err))
		}
		if tag.RowsAffected() == 0 {
			return nil, fmt.Errorf("%s: %w", op, storage.ErrUserNotFound)
		}
	}

	user, err := scanUser(tx.QueryRow(ctx, selectUser+` WHERE id = $1`, userID))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return user, nil
}

func (s *Storage) DeleteUser(ctx context.Context, userID int64) error {
	const op = "storage.postgres.DeleteUser"

	tag, err := s.pool.Exec(ctx, `DELETE FROM users WHERE id = $1`, userID)
	if err != nil {
		return fmt.Errorf("%s: %w", op, constraintError(err))
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%s: %w", op, storage.ErrUserNotFound)
	}

	return nil
}

func (s *Storage) Revoke(ctx context.Context, tokenID string, expiresAt time.Time) (bool, error) {
	const op = "storage.postgres.Revoke"

	tag, err := s.pool.Exec(ctx, `
		INSERT INTO revoked_tokens (jti, expires_at, revoked_at)
		VALUES ($1, $2, now())
		ON CONFLICT (jti) DO NOTHING
	`, tokenID, expiresAt.UTC())
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}

	return tag.RowsAffected() == 1, nil
}

func (s *Storage) IsRevoked(ctx context.Context, tokenID string) (bool, error) {
	const op = "storage.postgres.IsRevoked"

	var revoked bool
	err := s.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM revoked_tokens WHERE jti = $1)`, tokenID).Scan(&revoked)
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}

	return revoked, nil
}

func (s *Storage) PurgeRevoked(ctx context.Context, before time.Time) (int64, error) {
	const op = "storage.postgres.PurgeRevoked"

	tag, err := s.pool.Exec(ctx, `DELETE FROM revoked_tokens WHERE expires_at < $1`, before.UTC())
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}

	return tag.RowsAffected(), nil
}

func scanUser(row pgx.Row) (*models.User, error) {
	var user models.User
	err := row.Scan(&user.ID, &user.Username, &user.Email, &user.PassHash, &user.Role, &user.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, storage.ErrUserNotFound
		}
		return nil, err
	}
	return &user, nil
}

func constraintError(err error) error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}

	switch pgErr.Code {
	case codeUniqueViolation:
		switch pgErr.ConstraintName {
		case "users_email_key":
			return storage.ErrEmailTaken
		case "users_username_key":
			return storage.ErrUsernameTaken
		}
	case codeForeignKeyViolation:
		if pgErr.ConstraintName == "applications_user_id_fkey" {
			return storage.ErrUserHasApplications
		}
	}

	return err
}
