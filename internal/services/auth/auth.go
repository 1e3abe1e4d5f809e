package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"admissions/internal/domain/models"
	"admissions/internal/lib/jwt"
	"admissions/internal/lib/logger/sl"
	"admissions/internal/lib/metrics"
	"admissions/internal/lib/password"
	"admissions/internal/services/token"
	"admissions/internal/storage"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
)

const (
	MaxUsernameLength = 100
	DefaultPageSize   = 10
)

type Auth struct {
	log          *slog.Logger
	userSaver    UserSaver
	userProvider UserProvider
	userEditor   UserEditor
	tokens       TokenManager
	hasher       *password.Hasher
	metrics      *metrics.Metrics
	pageSize     int
}

type UserSaver interface {
	SaveUser(
		ctx context.Context,
		username string,
		email string,
		passHash []byte,
		role string,
	) (uid int64, err error)
}

type UserProvider interface {
	User(ctx context.Context, email string) (*models.User, error)
	UserByID(ctx context.Context, userID int64) (*models.User, error)
	Users(ctx context.Context, limit, offset int) ([]models.User, error)
}

type UserEditor interface {
	UpdateUser(ctx context.Context, userID int64, update models.UserUpdate) (*models.User, error)
	DeleteUser(ctx context.Context, userID int64) error
}

type TokenManager interface {
	Now() time.Time
	IssuePair(user *models.User, now time.Time) (models.TokenPair, error)
	Verify(ctx context.Context, token string, kind models.TokenKind) (*jwt.Claims, error)
	Parse(token string) (*jwt.Claims, error)
	RevokeClaims(ctx context.Context, claims *jwt.Claims) error
	RevokePaired(ctx context.Context, access *jwt.Claims) error
	Claim(ctx context.Context, claims *jwt.Claims) error
}

var (
	ErrInvalidCredentials  = errors.New("invalid credentials")
	ErrInvalidUsername     = errors.New("invalid username")
	ErrInvalidEmail        = errors.New("invalid email")
	ErrWeakPassword        = errors.New("password does not meet the strength policy")
	ErrPasswordTooLong     = errors.New("password is too long")
	ErrDuplicateHandle     = errors.New("username already taken")
	ErrDuplicateEmail      = errors.New("email already registered")
	ErrUserNotFound        = errors.New("user not found")
	ErrUserHasApplications = errors.New("user has applications")
	ErrForbidden           = errors.New("forbidden")
	ErrNothingToUpdate     = errors.New("nothing to update")
)

type Option func(*Auth)

func WithMetrics(m *metrics.Metrics) Option {
	return func(a *Auth) {
		a.metrics = m
	}
}

func WithPageSize(n int) Option {
	return func(a *Auth) {
		if n > 0 {
			a.pageSize = n
		}
	}
}

// New returns a new instance of the Auth service.
func New(
	log *slog.Logger,
	userSaver UserSaver,
	userProvider UserProvider,
	userEditor UserEditor,
	tokens TokenManager,
	hasher *password.Hasher,
	opts ...Option,
) *Auth {
	a := &Auth{
		log:          log,
		userSaver:    userSaver,
		userProvider: userProvider,
		userEditor:   userEditor,
		tokens:       tokens,
		hasher:       hasher,
		pageSize:     DefaultPageSize,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Register creates a student account. Uniqueness is left to the store so
// that concurrent registrations with the same email yield exactly one account.
func (a *Auth) Register(ctx context.Context, username, email, pass string) (*models.User, error) {
	const op = "auth.Register"

	username = normalizeUsername(username)
	email = normalizeEmail(email)

	log := a.log.With(
		slog.String("op", op),
		slog.String("username", username),
	)
	log.Info("register request")

	if err := validateUsername(username); err != nil {
		return nil, a.fail(op, fmt.Errorf("%s: %w", op, err))
	}
	if err := validateEmail(email); err != nil {
		return nil, a.fail(op, fmt.Errorf("%s: %w", op, err))
	}
	if err := checkPassword(pass); err != nil {
		return nil, a.fail(op, fmt.Errorf("%s: %w", op, err))
	}

	passHash, err := a.hasher.Hash(pass)
	if err != nil {
		log.Error("failed to generate password hash", sl.Err(err))
		return nil, a.fail(op, fmt.Errorf("%s: %w", op, err))
	}

	id, err := a.userSaver.SaveUser(ctx, username, email, passHash, models.RoleStudent)
	if err != nil {
		if mapped := mapStorageError(err); mapped != nil {
			log.Warn("user already exists", sl.Err(err))
			return nil, a.fail(op, fmt.Errorf("%s: %w", op, mapped))
		}
		log.Error("failed to save user", sl.Err(err))
		return nil, a.fail(op, fmt.Errorf("%s: %w", op, err))
	}

	log.Info("user registered", slog.Int64("userID", id))
	a.metrics.AuthEvent(op, metrics.OutcomeSuccess)

	return &models.User{
		ID:       id,
		Username: username,
		Email:    email,
		PassHash: passHash,
		Role:     models.RoleStudent,
	}, nil
}

// Login checks the credentials and issues a fresh token pair. Unknown email
// and wrong password fail with the same error.
func (a *Auth) Login(ctx context.Context, email, pass string) (models.TokenPair, error) {
	const op = "auth.Login"

	email = normalizeEmail(email)
	log := a.log.With(slog.String("op", op))
	log.Info("login request")

	user, err := a.userProvider.User(ctx, email)
	if err != nil {
		if errors.Is(err, storage.ErrUserNotFound) {
			log.Warn("user not found", sl.Err(err))
			a.hasher.VerifyDummy(pass)
			return models.TokenPair{}, a.fail(op, fmt.Errorf("%s: %w", op, ErrInvalidCredentials))
		}
		log.Error("failed to get user", sl.Err(err))
		return models.TokenPair{}, a.fail(op, fmt.Errorf("%s: %w", op, err))
	}

	if !a.hasher.Verify(user.PassHash, pass) {
		log.Warn("invalid password", slog.Int64("userID", user.ID))
		return models.TokenPair{}, a.fail(op, fmt.Errorf("%s: %w", op, ErrInvalidCredentials))
	}

	pair, err := a.tokens.IssuePair(user, a.tokens.Now())
	if err != nil {
		log.Error("failed to issue tokens", sl.Err(err))
		return models.TokenPair{}, a.fail(op, fmt.Errorf("%s: %w", op, err))
	}

	log.Info("user logged in", slog.Int64("userID", user.ID))
	a.metrics.AuthEvent(op, metrics.OutcomeSuccess)

	return pair, nil
}

// Authenticate verifies a presented token of the expected kind.
func (a *Auth) Authenticate(ctx context.Context, tokenString string, kind models.TokenKind) (*jwt.Claims, error) {
	const op = "auth.Authenticate"

	claims, err := a.tokens.Verify(ctx, tokenString, kind)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return claims, nil
}

// Logout revokes the access token and the refresh token issued with it. A
// refresh token, when given, is revoked as well if it belongs to the same
// user; foreign or unparsable refresh tokens are ignored.
func (a *Auth) Logout(ctx context.Context, accessToken, refreshToken string) error {
	const op = "auth.Logout"

	log := a.log.With(slog.String("op", op))

	claims, err := a.tokens.Verify(ctx, accessToken, models.TokenKindAccess)
	if err != nil {
		log.Warn("logout with invalid token", sl.Err(err))
		return a.fail(op, fmt.Errorf("%s: %w", op, err))
	}

	if err := a.tokens.RevokeClaims(ctx, claims); err != nil {
		log.Error("failed to revoke access token", sl.Err(err))
		return a.fail(op, fmt.Errorf("%s: %w", op, err))
	}
	if err := a.tokens.RevokePaired(ctx, claims); err != nil {
		log.Error("failed to revoke paired refresh token", sl.Err(err))
		return a.fail(op, fmt.Errorf("%s: %w", op, err))
	}

	if refreshToken != "" {
		refresh, err := a.tokens.Parse(refreshToken)
		switch {
		case err != nil:
			log.Warn("ignoring unparsable refresh token", sl.Err(err))
		case refresh.UID != claims.UID || refresh.Kind != models.TokenKindRefresh:
			log.Warn("ignoring refresh token of another subject", slog.Int64("userID", claims.UID))
		default:
			if err := a.tokens.RevokeClaims(ctx, refresh); err != nil {
				log.Error("failed to revoke refresh token", sl.Err(err))
				return a.fail(op, fmt.Errorf("%s: %w", op, err))
			}
		}
	}

	log.Info("user logged out", slog.Int64("userID", claims.UID))
	a.metrics.AuthEvent(op, metrics.OutcomeSuccess)

	return nil
}

// Refresh exchanges a refresh token for a new pair. Each refresh token can be
// exchanged once: it is claimed only after the new pair has been issued, and
// of concurrent exchanges only the one whose claim lands gets a pair.
func (a *Auth) Refresh(ctx context.Context, refreshToken string) (models.TokenPair, error) {
	const op = "auth.Refresh"

	log := a.log.With(slog.String("op", op))
	log.Info("refresh request")

	claims, err := a.tokens.Verify(ctx, refreshToken, models.TokenKindRefresh)
	if err != nil {
		log.Warn("refresh rejected", sl.Err(err))
		return models.TokenPair{}, a.fail(op, fmt.Errorf("%s: %w", op, err))
	}

	user, err := a.userProvider.UserByID(ctx, claims.UID)
	if err != nil {
		if errors.Is(err, storage.ErrUserNotFound) {
			log.Warn("refresh for deleted user", slog.Int64("userID", claims.UID))
			return models.TokenPair{}, a.fail(op, fmt.Errorf("%s: %w", op, ErrInvalidCredentials))
		}
		log.Error("failed to get user", sl.Err(err))
		return models.TokenPair{}, a.fail(op, fmt.Errorf("%s: %w", op, err))
	}

	pair, err := a.tokens.IssuePair(user, a.tokens.Now())
	if err != nil {
		log.Error("failed to issue tokens", sl.Err(err))
		return models.TokenPair{}, a.fail(op, fmt.Errorf("%s: %w", op, err))
	}

	if err := a.tokens.Claim(ctx, claims); err != nil {
		log.Warn("refresh token already used", sl.Err(err))
		return models.TokenPair{}, a.fail(op, fmt.Errorf("%s: %w", op, err))
	}

	log.Info("tokens refreshed", slog.Int64("userID", user.ID))
	a.metrics.AuthEvent(op, metrics.OutcomeSuccess)

	return pair, nil
}

// Revoke lets a user revoke one of their own tokens. The token only needs a
// valid signature; an expired token can still be revoked.
func (a *Auth) Revoke(ctx context.Context, userID int64, tokenString string) error {
	const op = "auth.Revoke"

	log := a.log.With(slog.String("op", op), slog.Int64("userID", userID))

	claims, err := a.tokens.Parse(tokenString)
	if err != nil {
		log.Warn("revoke with malformed token", sl.Err(err))
		return a.fail(op, fmt.Errorf("%s: %w", op, err))
	}
	if claims.UID != userID {
		log.Warn("revoke of a foreign token", slog.Int64("owner", claims.UID))
		return a.fail(op, fmt.Errorf("%s: %w", op, ErrForbidden))
	}

	if err := a.tokens.RevokeClaims(ctx, claims); err != nil {
		log.Error("failed to revoke token", sl.Err(err))
		return a.fail(op, fmt.Errorf("%s: %w", op, err))
	}

	log.Info("token revoked", slog.String("kind", string(claims.Kind)))
	a.metrics.AuthEvent(op, metrics.OutcomeSuccess)

	return nil
}

func (a *Auth) User(ctx context.Context, userID int64) (*models.User, error) {
	const op = "auth.User"

	user, err := a.userProvider.UserByID(ctx, userID)
	if err != nil {
		if errors.Is(err, storage.ErrUserNotFound) {
			return nil, fmt.Errorf("%s: %w", op, ErrUserNotFound)
		}
		a.log.Error("failed to get user", slog.String("op", op), sl.Err(err))
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return user, nil
}

// Users returns one page of accounts ordered by id. Pages start at 1.
func (a *Auth) Users(ctx context.Context, page int) ([]models.User, error) {
	const op = "auth.Users"

	if page < 1 {
		page = 1
	}

	users, err := a.userProvider.Users(ctx, a.pageSize, (page-1)*a.pageSize)
	if err != nil {
		a.log.Error("failed to list users", slog.String("op", op), sl.Err(err))
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return users, nil
}

// UpdateProfile changes username and/or email. Nil arguments are left untouched.
func (a *Auth) UpdateProfile(ctx context.Context, userID int64, username, email *string) (*models.User, error) {
	const op = "auth.UpdateProfile"

	log := a.log.With(slog.String("op", op), slog.Int64("userID", userID))

	var update models.UserUpdate
	if username != nil {
		v := normalizeUsername(*username)
		if err := validateUsername(v); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		update.Username = &v
	}
	if email != nil {
		v := normalizeEmail(*email)
		if err := validateEmail(v); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		update.Email = &v
	}
	if update.Empty() {
		return nil, fmt.Errorf("%s: %w", op, ErrNothingToUpdate)
	}

	user, err := a.userEditor.UpdateUser(ctx, userID, update)
	if err != nil {
		if mapped := mapStorageError(err); mapped != nil {
			log.Warn("profile update rejected", sl.Err(err))
			return nil, fmt.Errorf("%s: %w", op, mapped)
		}
		log.Error("failed to update user", sl.Err(err))
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	log.Info("profile updated")

	return user, nil
}

// ChangePassword replaces the password after checking the current one.
// Tokens issued before the change stay valid until they expire or are revoked.
func (a *Auth) ChangePassword(ctx context.Context, userID int64, current, next string) error {
	const op = "auth.ChangePassword"

	log := a.log.With(slog.String("op", op), slog.Int64("userID", userID))

	user, err := a.userProvider.UserByID(ctx, userID)
	if err != nil {
		if errors.Is(err, storage.ErrUserNotFound) {
			return a.fail(op, fmt.Errorf("%s: %w", op, ErrUserNotFound))
		}
		log.Error("failed to get user", sl.Err(err))
		return a.fail(op, fmt.Errorf("%s: %w", op, err))
	}

	if !a.hasher.Verify(user.PassHash, current) {
		log.Warn("invalid current password")
		return a.fail(op, fmt.Errorf("%s: %w", op, ErrInvalidCredentials))
	}
	if err := checkPassword(next); err != nil {
		return a.fail(op, fmt.Errorf("%s: %w", op, err))
	}

	passHash, err := a.hasher.Hash(next)
	if err != nil {
		log.Error("failed to generate password hash", sl.Err(err))
		return a.fail(op, fmt.Errorf("%s: %w", op, err))
	}

	if _, err := a.userEditor.UpdateUser(ctx, userID, models.UserUpdate{PassHash: passHash}); err != nil {
		if mapped := mapStorageError(err); mapped != nil {
			return a.fail(op, fmt.Errorf("%s: %w", op, mapped))
		}
		log.Error("failed to update password", sl.Err(err))
		return a.fail(op, fmt.Errorf("%s: %w", op, err))
	}

	log.Info("password changed")
	a.metrics.AuthEvent(op, metrics.OutcomeSuccess)

	return nil
}

// DeleteUser removes an account. Accounts with applications are kept.
func (a *Auth) DeleteUser(ctx context.Context, userID int64) error {
	const op = "auth.DeleteUser"

	log := a.log.With(slog.String("op", op), slog.Int64("userID", userID))

	if err := a.userEditor.DeleteUser(ctx, userID); err != nil {
		if mapped := mapStorageError(err); mapped != nil {
			log.Warn("delete rejected", sl.Err(err))
			return fmt.Errorf("%s: %w", op, mapped)
		}
		log.Error("failed to delete user", sl.Err(err))
		return fmt.Errorf("%s: %w", op, err)
	}

	log.Info("user deleted")

	return nil
}

func (a *Auth) fail(op string, err error) error {
	outcome := metrics.OutcomeFailure
	if !IsClientError(err) {
		outcome = metrics.OutcomeError
	}
	a.metrics.AuthEvent(op, outcome)
	return err
}

// IsClientError reports whether err is caused by the request rather than by the service.
func IsClientError(err error) bool {
	for _, target := range []error{
		ErrInvalidCredentials, ErrInvalidUsername, ErrInvalidEmail, ErrWeakPassword, ErrPasswordTooLong,
		ErrDuplicateHandle, ErrDuplicateEmail, ErrUserNotFound, ErrUserHasApplications,
		ErrForbidden, ErrNothingToUpdate,
		token.ErrMalformed, token.ErrExpired, token.ErrRevoked, token.ErrWrongKind,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

func mapStorageError(err error) error {
	switch {
	case errors.Is(err, storage.ErrUsernameTaken):
		return ErrDuplicateHandle
	case errors.Is(err, storage.ErrEmailTaken):
		return ErrDuplicateEmail
	case errors.Is(err, storage.ErrUserNotFound):
		return ErrUserNotFound
	case errors.Is(err, storage.ErrUserHasApplications):
		return ErrUserHasApplications
	}
	return nil
}

func checkPassword(pass string) error {
	err := password.CheckStrength(pass)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, password.ErrTooLong):
		return ErrPasswordTooLong
	default:
		return ErrWeakPassword
	}
}

func normalizeUsername(username string) string {
	return strings.TrimSpace(username)
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func validateUsername(username string) error {
	err := validation.Validate(username,
		validation.Required,
		validation.Length(1, MaxUsernameLength),
	)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidUsername, err)
	}
	return nil
}

func validateEmail(email string) error {
	if err := validation.Validate(email, validation.Required, is.Email); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidEmail, err)
	}
	return nil
}
