package auth

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"path"
	"strconv"
	"time"

	"admissions/internal/domain/models"
	"admissions/internal/http/middleware/authgate"
	"admissions/internal/lib/api"
	"admissions/internal/lib/logger/sl"
	"admissions/internal/services/auth"
	"admissions/internal/services/token"

	"github.com/go-chi/chi/v5"
	validation "github.com/go-ozzo/ozzo-validation"
)

const (
	RefreshCookie     = "refresh_token_cookie"
	AccessCSRFCookie  = "csrf_access_token"
	RefreshCSRFCookie = "csrf_refresh_token"
)

type Auth interface {
	Register(ctx context.Context, username, email, password string) (*models.User, error)
	Login(ctx context.Context, email, password string) (models.TokenPair, error)
	Logout(ctx context.Context, accessToken, refreshToken string) error
	Refresh(ctx context.Context, refreshToken string) (models.TokenPair, error)
	Revoke(ctx context.Context, userID int64, token string) error
	User(ctx context.Context, userID int64) (*models.User, error)
	Users(ctx context.Context, page int) ([]models.User, error)
	UpdateProfile(ctx context.Context, userID int64, username, email *string) (*models.User, error)
	ChangePassword(ctx context.Context, userID int64, current, next string) error
	DeleteUser(ctx context.Context, userID int64) error
}

// Options control how tokens travel. In cookie mode tokens are set as
// HttpOnly cookies and the CSRF values as readable cookies.
type Options struct {
	Mode         string
	AccessCookie string
	CSRFHeader   string
	// BasePath is where the routes are mounted. The refresh cookie is scoped
	// to its refresh route unless RefreshPath says otherwise.
	BasePath     string
	CookiePath   string
	RefreshPath  string
	CookieDomain string
	CookieSecure bool
	SameSite     http.SameSite
}

func (o Options) withDefaults() Options {
	if o.Mode == "" {
		o.Mode = authgate.ModeBearer
	}
	if o.AccessCookie == "" {
		o.AccessCookie = authgate.DefaultAccessCookie
	}
	if o.CSRFHeader == "" {
		o.CSRFHeader = authgate.DefaultCSRFHeader
	}
	if o.CookiePath == "" {
		o.CookiePath = "/"
	}
	if o.BasePath == "" {
		o.BasePath = "/auth"
	}
	if o.RefreshPath == "" {
		o.RefreshPath = path.Join(o.BasePath, "refresh")
	}
	if o.SameSite == 0 {
		o.SameSite = http.SameSiteLaxMode
	}
	return o
}

type serverAPI struct {
	log  *slog.Logger
	auth Auth
	opts Options
}

// Register mounts the account and session routes on r. Protected routes go through gate.
func Register(r chi.Router, log *slog.Logger, authService Auth, gate *authgate.Gate, opts Options) {
	s := &serverAPI{
		log:  log.With(slog.String("component", "http/auth")),
		auth: authService,
		opts: opts.withDefaults(),
	}

	r.Post("/register", s.handleRegister)
	r.Post("/login", s.handleLogin)
	r.Post("/refresh", s.handleRefresh)

	r.Group(func(r chi.Router) {
		r.Use(gate.Handler)

		r.Get("/protected", s.handleProtected)
		r.Post("/logout", s.handleLogout)
		r.Post("/revoke", s.handleRevoke)

		r.Get("/user", s.handleGetMe)
		r.Put("/user", s.handleUpdateMe)
		r.Put("/user/password", s.handleChangePassword)
		r.Delete("/user", s.handleDeleteMe)

		r.Route("/users", func(r chi.Router) {
			r.Use(gate.RequireRole(authService, models.RoleAdmin))

			r.Get("/", s.handleListUsers)
			r.Get("/{userID}", s.handleGetUser)
			r.Delete("/{userID}", s.handleDeleteUser)
		})
	})
}

type registerRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (r registerRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Username, validation.Required),
		validation.Field(&r.Email, validation.Required),
		validation.Field(&r.Password, validation.Required),
	)
}

type userResponse struct {
	ID        int64     `json:"id"`
	Username  string    `json:"username"`
	Email     string    `json:"email"`
	Role      string    `json:"role,omitempty"`
	CreatedAt time.Time `json:"created_at,omitzero"`
}

func toUserResponse(u *models.User) userResponse {
	return userResponse{
		ID:        u.ID,
		Username:  u.Username,
		Email:     u.Email,
		Role:      u.Role,
		CreatedAt: u.CreatedAt,
	}
}

type messageResponse struct {
	Msg string `json:"msg"`
}

func (s *serverAPI) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if !s.decode(w, r, &req) {
		return
	}

	user, err := s.auth.Register(r.Context(), req.Username, req.Email, req.Password)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}

	api.WriteJSON(w, http.StatusCreated, userResponse{
		ID:       user.ID,
		Username: user.Username,
		Email:    user.Email,
	})
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (r loginRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Email, validation.Required),
		validation.Field(&r.Password, validation.Required),
	)
}

type loginResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}

func (s *serverAPI) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !s.decode(w, r, &req) {
		return
	}

	pair, err := s.auth.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}

	if s.cookieMode() {
		s.setTokenCookies(w, pair)
		api.WriteJSON(w, http.StatusOK, messageResponse{Msg: "Login successful"})
		return
	}

	api.WriteJSON(w, http.StatusOK, loginResponse{
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
	})
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type refreshResponse struct {
	Token        string `json:"token"`
	RefreshToken string `json:"refresh_token"`
}

func (s *serverAPI) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if !s.decodeOptional(w, r, &req) {
		return
	}

	refreshToken := req.RefreshToken
	fromCookie := false
	if refreshToken == "" {
		refreshToken = api.BearerToken(r.Header.Get("Authorization"))
	}
	if refreshToken == "" && s.cookieMode() {
		if c, err := r.Cookie(RefreshCookie); err == nil {
			refreshToken = c.Value
			fromCookie = true
		}
	}
	if refreshToken == "" {
		api.WriteError(w, http.StatusBadRequest, "missing_refresh_token", "Missing refresh token")
		return
	}

	if fromCookie && !s.refreshCSRFMatches(r) {
		api.WriteError(w, http.StatusUnauthorized, authgate.Code(authgate.ErrCSRFMismatch), authgate.Message(authgate.ErrCSRFMismatch))
		return
	}

	pair, err := s.auth.Refresh(r.Context(), refreshToken)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}

	if s.cookieMode() && fromCookie {
		s.setTokenCookies(w, pair)
		api.WriteJSON(w, http.StatusOK, messageResponse{Msg: "Token refreshed"})
		return
	}

	api.WriteJSON(w, http.StatusOK, refreshResponse{
		Token:        pair.AccessToken,
		RefreshToken: pair.RefreshToken,
	})
}

// refreshCSRFMatches is the double submit check for a refresh token read from a cookie.
func (s *serverAPI) refreshCSRFMatches(r *http.Request) bool {
	presented := r.Header.Get(s.opts.CSRFHeader)
	c, err := r.Cookie(RefreshCSRFCookie)
	if err != nil || presented == "" {
		return false
	}
	return authgate.CSRFMatches(presented, c.Value)
}

type protectedResponse struct {
	Msg    string `json:"msg"`
	UserID int64  `json:"user_id"`
}

func (s *serverAPI) handleProtected(w http.ResponseWriter, r *http.Request) {
	claims := authgate.ClaimsFromContext(r.Context())

	user, err := s.auth.User(r.Context(), claims.UID)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}

	api.WriteJSON(w, http.StatusOK, protectedResponse{
		Msg:    "Hello, " + user.Username,
		UserID: user.ID,
	})
}

func (s *serverAPI) handleLogout(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if !s.decodeOptional(w, r, &req) {
		return
	}

	refreshToken := req.RefreshToken
	if refreshToken == "" && s.cookieMode() {
		if c, err := r.Cookie(RefreshCookie); err == nil {
			refreshToken = c.Value
		}
	}

	if err := s.auth.Logout(r.Context(), authgate.TokenFromContext(r.Context()), refreshToken); err != nil {
		s.writeServiceError(w, err)
		return
	}

	if s.cookieMode() {
		s.clearTokenCookies(w)
	}

	api.WriteJSON(w, http.StatusOK, messageResponse{Msg: "Successfully logged out"})
}

type revokeRequest struct {
	Token string `json:"token"`
}

// handleRevoke revokes the token in the body, or the presented access token when the body names none.
func (s *serverAPI) handleRevoke(w http.ResponseWriter, r *http.Request) {
	var req revokeRequest
	if !s.decodeOptional(w, r, &req) {
		return
	}

	claims := authgate.ClaimsFromContext(r.Context())
	target := req.Token
	if target == "" {
		target = authgate.TokenFromContext(r.Context())
	}

	if err := s.auth.Revoke(r.Context(), claims.UID, target); err != nil {
		s.writeServiceError(w, err)
		return
	}

	api.WriteJSON(w, http.StatusOK, messageResponse{Msg: "Token revoked"})
}

func (s *serverAPI) handleGetMe(w http.ResponseWriter, r *http.Request) {
	claims := authgate.ClaimsFromContext(r.Context())

	user, err := s.auth.User(r.Context(), claims.UID)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}

	api.WriteJSON(w, http.StatusOK, toUserResponse(user))
}

type updateProfileRequest struct {
	Username *string `json:"username"`
	Email    *string `json:"email"`
}

func (r updateProfileRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Username, validation.NilOrNotEmpty),
		validation.Field(&r.Email, validation.NilOrNotEmpty),
	)
}

func (s *serverAPI) handleUpdateMe(w http.ResponseWriter, r *http.Request) {
	var req updateProfileRequest
	if !s.decode(w, r, &req) {
		return
	}

	claims := authgate.ClaimsFromContext(r.Context())

	user, err := s.auth.UpdateProfile(r.Context(), claims.UID, req.Username, req.Email)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}

	api.WriteJSON(w, http.StatusOK, toUserResponse(user))
}

type changePasswordRequest struct {
	CurrentPassword string `json:"current_password"`
	NewPassword     string `json:"new_password"`
}

func (r changePasswordRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.CurrentPassword, validation.Required),
		validation.Field(&r.NewPassword, validation.Required),
	)
}

func (s *serverAPI) handleChangePassword(w http.ResponseWriter, r *http.Request) {
	var req changePasswordRequest
	if !s.decode(w, r, &req) {
		return
	}

	claims := authgate.ClaimsFromContext(r.Context())

	if err := s.auth.ChangePassword(r.Context(), claims.UID, req.CurrentPassword, req.NewPassword); err != nil {
		s.writeServiceError(w, err)
		return
	}

	api.WriteJSON(w, http.StatusOK, messageResponse{Msg: "Password updated"})
}

func (s *serverAPI) handleDeleteMe(w http.ResponseWriter, r *http.Request) {
	claims := authgate.ClaimsFromContext(r.Context())

	if err := s.auth.DeleteUser(r.Context(), claims.UID); err != nil {
		s.writeServiceError(w, err)
		return
	}

	if s.cookieMode() {
		s.clearTokenCookies(w)
	}

	api.WriteJSON(w, http.StatusOK, messageResponse{Msg: "User deleted"})
}

type usersResponse struct {
	Users []userResponse `json:"users"`
	Page  int            `json:"page"`
}

func (s *serverAPI) handleListUsers(w http.ResponseWriter, r *http.Request) {
	page := 1
	if raw := r.URL.Query().Get("page"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			api.WriteError(w, http.StatusBadRequest, "invalid_page", "page must be a positive integer")
			return
		}
		page = n
	}

	users, err := s.auth.Users(r.Context(), page)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}

	resp := usersResponse{Users: make([]userResponse, 0, len(users)), Page: page}
	for i := range users {
		resp.Users = append(resp.Users, toUserResponse(&users[i]))
	}

	api.WriteJSON(w, http.StatusOK, resp)
}

func (s *serverAPI) handleGetUser(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDParam(w, r)
	if !ok {
		return
	}

	user, err := s.auth.User(r.Context(), userID)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}

	api.WriteJSON(w, http.StatusOK, toUserResponse(user))
}

func (s *serverAPI) handleDeleteUser(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDParam(w, r)
	if !ok {
		return
	}

	if err := s.auth.DeleteUser(r.Context(), userID); err != nil {
		s.writeServiceError(w, err)
		return
	}

	api.WriteJSON(w, http.StatusOK, messageResponse{Msg: "User deleted"})
}

func userIDParam(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "userID"), 10, 64)
	if err != nil || id < 1 {
		api.WriteError(w, http.StatusBadRequest, "invalid_user_id", "user id must be a positive integer")
		return 0, false
	}
	return id, true
}

func (s *serverAPI) cookieMode() bool {
	return s.opts.Mode == authgate.ModeCookie
}

func (s *serverAPI) decode(w http.ResponseWriter, r *http.Request, req validation.Validatable) bool {
	if err := api.DecodeJSON(w, r, req); err != nil {
		api.WriteError(w, http.StatusBadRequest, "invalid_request", "Request body must be a JSON object")
		return false
	}
	return s.validate(w, req)
}

// decodeOptional accepts an empty body and leaves req untouched in that case.
func (s *serverAPI) decodeOptional(w http.ResponseWriter, r *http.Request, req any) bool {
	if err := api.DecodeJSON(w, r, req); err != nil && !errors.Is(err, api.ErrEmptyBody) {
		api.WriteError(w, http.StatusBadRequest, "invalid_request", "Request body must be a JSON object")
		return false
	}
	return true
}

func (s *serverAPI) validate(w http.ResponseWriter, req validation.Validatable) bool {
	if err := req.Validate(); err != nil {
		api.WriteError(w, http.StatusBadRequest, "missing_fields", err.Error())
		return false
	}
	return true
}

// writeServiceError maps service errors to status codes. Unknown errors are
// logged and reported without detail.
func (s *serverAPI) writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, auth.ErrInvalidUsername):
		api.WriteError(w, http.StatusBadRequest, "invalid_username", "Invalid username")
	case errors.Is(err, auth.ErrInvalidEmail):
		api.WriteError(w, http.StatusBadRequest, "invalid_email", "Invalid email address")
	case errors.Is(err, auth.ErrWeakPassword):
		api.WriteError(w, http.StatusBadRequest, "weak_password",
			"Password must be at least 8 characters and contain upper and lower case letters, a digit and one of @$!%*?&")
	case errors.Is(err, auth.ErrPasswordTooLong):
		api.WriteError(w, http.StatusBadRequest, "password_too_long", "Password must be at most 72 bytes")
	case errors.Is(err, auth.ErrDuplicateHandle):
		api.WriteError(w, http.StatusBadRequest, "username_taken", "Username already taken")
	case errors.Is(err, auth.ErrDuplicateEmail):
		api.WriteError(w, http.StatusBadRequest, "email_taken", "Email already registered")
	case errors.Is(err, auth.ErrNothingToUpdate):
		api.WriteError(w, http.StatusBadRequest, "nothing_to_update", "No fields to update")
	case errors.Is(err, auth.ErrInvalidCredentials):
		api.WriteError(w, http.StatusUnauthorized, "invalid_credentials", "Invalid email or password")
	case errors.Is(err, token.ErrMalformed),
		errors.Is(err, token.ErrExpired),
		errors.Is(err, token.ErrRevoked),
		errors.Is(err, token.ErrWrongKind):
		api.WriteError(w, http.StatusUnauthorized, authgate.Code(err), authgate.Message(err))
	case errors.Is(err, auth.ErrForbidden):
		api.WriteError(w, http.StatusForbidden, "forbidden", "Token belongs to another user")
	case errors.Is(err, auth.ErrUserNotFound):
		api.WriteError(w, http.StatusNotFound, "user_not_found", "User not found")
	case errors.Is(err, auth.ErrUserHasApplications):
		api.WriteError(w, http.StatusConflict, "user_has_applications", "User has applications and cannot be deleted")
	default:
		s.log.Error("request failed", sl.Err(err))
		api.WriteError(w, http.StatusInternalServerError, "internal_error", "internal error")
	}
}
