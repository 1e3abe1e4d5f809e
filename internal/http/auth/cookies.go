package auth

import (
	"net/http"
	"time"

	"admissions/internal/domain/models"
)

// setTokenCookies scopes the refresh token to RefreshPath. Its CSRF value
// lives on CookiePath so pages can read it and echo it to the refresh route.
func (s *serverAPI) setTokenCookies(w http.ResponseWriter, pair models.TokenPair) {
	http.SetCookie(w, s.cookie(s.opts.AccessCookie, pair.AccessToken, s.opts.CookiePath, pair.AccessExpiresAt, true))
	http.SetCookie(w, s.cookie(AccessCSRFCookie, pair.AccessCSRF, s.opts.CookiePath, pair.AccessExpiresAt, false))
	http.SetCookie(w, s.cookie(RefreshCookie, pair.RefreshToken, s.opts.RefreshPath, pair.RefreshExpiresAt, true))
	http.SetCookie(w, s.cookie(RefreshCSRFCookie, pair.RefreshCSRF, s.opts.CookiePath, pair.RefreshExpiresAt, false))
}

func (s *serverAPI) clearTokenCookies(w http.ResponseWriter) {
	for _, c := range []struct {
		name, path string
		httpOnly   bool
	}{
		{s.opts.AccessCookie, s.opts.CookiePath, true},
		{AccessCSRFCookie, s.opts.CookiePath, false},
		{RefreshCookie, s.opts.RefreshPath, true},
		{RefreshCSRFCookie, s.opts.CookiePath, false},
	} {
		cookie := s.cookie(c.name, "", c.path, time.Unix(0, 0), c.httpOnly)
		cookie.MaxAge = -1
		http.SetCookie(w, cookie)
	}
}

// cookie builds a token cookie. CSRF cookies are readable by scripts so
// they can be echoed back in the CSRF header.
func (s *serverAPI) cookie(name, value, path string, expires time.Time, httpOnly bool) *http.Cookie {
	return &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     path,
		Domain:   s.opts.CookieDomain,
		Expires:  expires,
		Secure:   s.opts.CookieSecure,
		HttpOnly: httpOnly,
		SameSite: s.opts.SameSite,
	}
}
