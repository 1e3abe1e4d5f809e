// Package authgate guards routes that require a valid access token.
package authgate

import (
	"context"
	"crypto/subtle"
	"errors"
	"log/slog"
	"net/http"
	"slices"

	"admissions/internal/domain/models"
	"admissions/internal/lib/api"
	"admissions/internal/lib/jwt"
	"admissions/internal/lib/logger/sl"
	"admissions/internal/lib/metrics"
	authsvc "admissions/internal/services/auth"
	"admissions/internal/services/token"
)

const (
	ModeBearer = "bearer"
	ModeCookie = "cookie"

	DefaultAccessCookie = "access_token_cookie"
	DefaultCSRFHeader   = "X-CSRF-TOKEN"
	DefaultCSRFField    = "csrf_token"
)

var (
	ErrMissingToken = errors.New("missing token")
	ErrCSRFMismatch = errors.New("csrf token mismatch")
)

type Authenticator interface {
	Authenticate(ctx context.Context, token string, kind models.TokenKind) (*jwt.Claims, error)
}

type Options struct {
	// Mode is ModeBearer or ModeCookie. Cookie mode still accepts a bearer header.
	Mode         string
	AccessCookie string
	CSRFHeader   string
	CSRFField    string
	// CSRFMethods require a CSRF value when the token came from a cookie.
	CSRFMethods []string
}

func (o Options) withDefaults() Options {
	if o.Mode == "" {
		o.Mode = ModeBearer
	}
	if o.AccessCookie == "" {
		o.AccessCookie = DefaultAccessCookie
	}
	if o.CSRFHeader == "" {
		o.CSRFHeader = DefaultCSRFHeader
	}
	if o.CSRFField == "" {
		o.CSRFField = DefaultCSRFField
	}
	if o.CSRFMethods == nil {
		o.CSRFMethods = []string{http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete}
	}
	return o
}

type Gate struct {
	log     *slog.Logger
	auth    Authenticator
	opts    Options
	metrics *metrics.Metrics
}

func New(log *slog.Logger, auth Authenticator, opts Options, m *metrics.Metrics) *Gate {
	return &Gate{
		log:     log.With(slog.String("component", "middleware/authgate")),
		auth:    auth,
		opts:    opts.withDefaults(),
		metrics: m,
	}
}

type claimsKey struct{}

type tokenKey struct{}

// Handler lets the request through only with a verified access token. On
// failure it answers 401 and next is never called.
func (g *Gate) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, fromCookie := g.extract(r)
		if raw == "" {
			g.reject(w, r, ErrMissingToken)
			return
		}

		claims, err := g.auth.Authenticate(r.Context(), raw, models.TokenKindAccess)
		if err != nil {
			g.reject(w, r, err)
			return
		}

		if fromCookie && slices.Contains(g.opts.CSRFMethods, r.Method) {
			if !CSRFMatches(g.csrfValue(r), claims.CSRF) {
				g.reject(w, r, ErrCSRFMismatch)
				return
			}
		}

		g.metrics.TokenCheck("ok")

		next.ServeHTTP(w, r.WithContext(WithClaims(r.Context(), claims, raw)))
	})
}

func (g *Gate) extract(r *http.Request) (string, bool) {
	if raw := api.BearerToken(r.Header.Get("Authorization")); raw != "" {
		return raw, false
	}
	if g.opts.Mode != ModeCookie {
		return "", false
	}
	cookie, err := r.Cookie(g.opts.AccessCookie)
	if err != nil || cookie.Value == "" {
		return "", false
	}
	return cookie.Value, true
}

func (g *Gate) csrfValue(r *http.Request) string {
	if v := r.Header.Get(g.opts.CSRFHeader); v != "" {
		return v
	}
	return r.PostFormValue(g.opts.CSRFField)
}

// CSRFMatches compares in constant time. Empty values never match.
func CSRFMatches(presented, expected string) bool {
	if presented == "" || expected == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(presented), []byte(expected)) == 1
}

func (g *Gate) reject(w http.ResponseWriter, r *http.Request, err error) {
	code := Code(err)
	g.metrics.TokenCheck(code)
	g.log.Debug("request rejected",
		slog.String("path", r.URL.Path),
		slog.String("reason", code),
		sl.Err(err),
	)
	api.WriteError(w, http.StatusUnauthorized, code, Message(err))
}

// Code maps a token failure to the error code sent to the client.
func Code(err error) string {
	switch {
	case errors.Is(err, ErrMissingToken):
		return "missing_token"
	case errors.Is(err, ErrCSRFMismatch):
		return "csrf_mismatch"
	case errors.Is(err, token.ErrRevoked):
		return "token_revoked"
	case errors.Is(err, token.ErrExpired):
		return "token_expired"
	case errors.Is(err, token.ErrWrongKind):
		return "wrong_token_kind"
	default:
		return "invalid_token"
	}
}

func Message(err error) string {
	switch {
	case errors.Is(err, ErrMissingToken):
		return "Missing authorization token"
	case errors.Is(err, ErrCSRFMismatch):
		return "CSRF double submit tokens do not match"
	case errors.Is(err, token.ErrRevoked):
		return "Token has been revoked"
	case errors.Is(err, token.ErrExpired):
		return "Token has expired"
	case errors.Is(err, token.ErrWrongKind):
		return "Only access tokens are allowed"
	default:
		return "Invalid token"
	}
}

// UserLookup returns the stored account behind a token.
type UserLookup interface {
	User(ctx context.Context, userID int64) (*models.User, error)
}

// RequireRole answers 403 unless the caller has role. With users set the
// stored role is checked, so a demoted account loses access before its
// token expires; with nil users the role claim is trusted. It must run after Handler.
func (g *Gate) RequireRole(users UserLookup, role string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims := ClaimsFromContext(r.Context())
			if claims == nil || claims.Role != role {
				api.WriteError(w, http.StatusForbidden, "forbidden", "Insufficient permissions")
				return
			}

			if users != nil {
				user, err := users.User(r.Context(), claims.UID)
				switch {
				case errors.Is(err, authsvc.ErrUserNotFound):
					api.WriteError(w, http.StatusForbidden, "forbidden", "Insufficient permissions")
					return
				case err != nil:
					g.log.Error("failed to load user role", slog.Int64("userID", claims.UID), sl.Err(err))
					api.WriteError(w, http.StatusInternalServerError, "internal_error", "internal error")
					return
				case user.Role != role:
					g.log.Warn("role claim is stale",
						slog.Int64("userID", claims.UID),
						slog.String("claim", claims.Role),
						slog.String("stored", user.Role),
					)
					api.WriteError(w, http.StatusForbidden, "forbidden", "Insufficient permissions")
					return
				}
			}

			next.ServeHTTP(w, r)
		})
	}
}

func ClaimsFromContext(ctx context.Context) *jwt.Claims {
	claims, _ := ctx.Value(claimsKey{}).(*jwt.Claims)
	return claims
}

func TokenFromContext(ctx context.Context) string {
	raw, _ := ctx.Value(tokenKey{}).(string)
	return raw
}

// WithClaims returns a copy of ctx carrying claims and the raw token, as Handler does.
func WithClaims(ctx context.Context, claims *jwt.Claims, raw string) context.Context {
	ctx = context.WithValue(ctx, claimsKey{}, claims)
	return context.WithValue(ctx, tokenKey{}, raw)
}
