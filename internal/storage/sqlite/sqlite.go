package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"admissions/internal/domain/models"
	"admissions/internal/storage"

	"github.com/mattn/go-sqlite3"
)

type Storage struct {
	db *sql.DB
}

// New opens the database at storagePath with foreign keys enforced. SQLite
// allows a single writer, so the pool is capped at one connection.
func New(storagePath string) (*Storage, error) {
	const op = "storage.sqlite.New"

	db, err := sql.Open("sqlite3", dsn(storagePath))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	db.SetMaxOpenConns(1)

	return &Storage{db: db}, nil
}

func dsn(storagePath string) string {
	sep := "?"
	if strings.Contains(storagePath, "?") {
		sep = "&"
	}
	return "file:" + strings.TrimPrefix(storagePath, "file:") + sep + "_foreign_keys=on&_busy_timeout=5000"
}

func (s *Storage) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Storage) Close() error {
	return s.db.Close()
}

func (s *Storage) SaveUser(ctx context.Context, username, email string, passHash []byte, role string) (int64, error) {
	const op = "storage.sqlite.SaveUser"

	stmt, err := s.db.PrepareContext(ctx, "INSERT INTO users (username, email, pass_hash, role, created_at) VALUES (?, ?, ?, ?, ?)")
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	defer stmt.Close()

	result, err := stmt.ExecContext(ctx, username, email, passHash, role, time.Now().UTC())
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, constraintError(err))
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}

	return id, nil
}

const selectUser = "SELECT id, username, email, pass_hash, role, created_at FROM users"

func (s *Storage) User(ctx context.Context, email string) (*models.User, error) {
	const op = "storage.sqlite.User"

	user, err := scanUser(s.db.QueryRowContext(ctx, selectUser+" WHERE email = ?", email))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return user, nil
}

func (s *Storage) UserByID(ctx context.Context, userID int64) (*models.User, error) {
	const op = "storage.sqlite.UserByID"

	user, err := scanUser(s.db.QueryRowContext(ctx, selectUser+" WHERE id = ?", userID))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return user, nil
}

func (s *Storage) Users(ctx context.Context, limit, offset int) ([]models.User, error) {
	const op = "storage.sqlite.Users"

	rows, err := s.db.QueryContext(ctx, selectUser+" ORDER BY id LIMIT ? OFFSET ?", limit, offset)
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

// UpdateUser applies the non-nil fields of update and returns the stored row.
func (s *Storage) UpdateUser(ctx context.Context, userID int64, update models.UserUpdate) (*models.User, error) {
	const op = "storage.sqlite.UpdateUser"

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer func() { _ = tx.Rollback() }()

	if !update.Empty() {
		sets := make([]string, 0, 3)
		args := make([]any, 0, 4)
		if update.Username != nil {
			sets = append(sets, "username = ?")
			args = append(args, *update.Username)
		}
		if update.Email != nil {
			sets = append(sets, "email = ?")
			args = append(args, *update.Email)
		}
		if len(update.PassHash) > 0 {
			sets = append(sets, "pass_hash = ?")
			args = append(args, update.PassHash)
		}
		args = append(args, userID)

		res, err := tx.ExecContext(ctx, "UPDATE users SET "+strings.Join(sets, ", ")+" WHERE id = ?", args...)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, constraintError(err))
		}
		if n, err := res.RowsAffected(); err == nil && n == 0 {
			return nil, fmt.Errorf("%s: %w", op, storage.ErrUserNotFound)
		}
	}

	user, err := scanUser(tx.QueryRowContext(ctx, selectUser+" WHERE id = ?", userID))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return user, nil
}

// DeleteUser removes the account. Rows in applications keep it alive via the foreign key.
func (s *Storage) DeleteUser(ctx context.Context, userID int64) error {
	const op = "storage.sqlite.DeleteUser"

	res, err := s.db.ExecContext(ctx, "DELETE FROM users WHERE id = ?", userID)
	if err != nil {
		return fmt.Errorf("%s: %w", op, constraintError(err))
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", op, storage.ErrUserNotFound)
	}

	return nil
}

// Revoke records the token id. It reports false when the id was already revoked.
func (s *Storage) Revoke(ctx context.Context, tokenID string, expiresAt time.Time) (bool, error) {
	const op = "storage.sqlite.Revoke"

	res, err := s.db.ExecContext(ctx,
		"INSERT INTO revoked_tokens (jti, expires_at, revoked_at) VALUES (?, ?, ?) ON CONFLICT (jti) DO NOTHING",
		tokenID, expiresAt.Unix(), time.Now().Unix(),
	)
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}

	return n == 1, nil
}

func (s *Storage) IsRevoked(ctx context.Context, tokenID string) (bool, error) {
	const op = "storage.sqlite.IsRevoked"

	var revoked bool
	err := s.db.QueryRowContext(ctx, "SELECT EXISTS (SELECT 1 FROM revoked_tokens WHERE jti = ?)", tokenID).Scan(&revoked)
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}

	return revoked, nil
}

// PurgeRevoked drops records of tokens that expired before the given instant.
func (s *Storage) PurgeRevoked(ctx context.Context, before time.Time) (int64, error) {
	const op = "storage.sqlite.PurgeRevoked"

	res, err := s.db.ExecContext(ctx, "DELETE FROM revoked_tokens WHERE expires_at < ?", before.Unix())
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}

	return n, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanUser(row scanner) (*models.User, error) {
	var user models.User
	err := row.Scan(&user.ID, &user.Username, &user.Email, &user.PassHash, &user.Role, &user.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, storage.ErrUserNotFound
		}
		return nil, err
	}
	return &user, nil
}

func constraintError(err error) error {
	var sqliteErr sqlite3.Error
	if !errors.As(err, &sqliteErr) {
		return err
	}

	switch sqliteErr.ExtendedCode {
	case sqlite3.ErrConstraintUnique:
		msg := sqliteErr.Error()
		switch {
		case strings.Contains(msg, "users.email"):
			return storage.ErrEmailTaken
		case strings.Contains(msg, "users.username"):
			return storage.ErrUsernameTaken
		}
	case sqlite3.ErrConstraintForeignKey:
		return storage.ErrUserHasApplications
	}

	return err
}
