package httpapi

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/ssjbox/ssjbox/internal/common"
	"github.com/ssjbox/ssjbox/internal/server/models"
)

type contextKey string

const sessionContextKey contextKey = "session"

func sessionFrom(r *http.Request) *models.Session {
	s, _ := r.Context().Value(sessionContextKey).(*models.Session)
	return s
}

// requireSession authenticates the request via the session cookie, falling
// back to remember-me redemption when the session is gone.
func (s *Server) requireSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if cookie, err := r.Cookie(sessionCookieName); err == nil {
			sess, err := s.guard.Validate(r.Context(), cookie.Value)
			if err == nil {
				next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), sessionContextKey, sess)))
				return
			}
			if !errors.Is(err, common.ErrorNotFound) && !errors.Is(err, common.ErrorSessionExpired) {
				writeError(w, http.StatusInternalServerError, "internal error")
				return
			}
		}

		sess, ok := s.redeemRemember(w, r)
		if !ok {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), sessionContextKey, sess)))
	})
}

// redeemRemember exchanges a remember-me cookie for a fresh session and
// rotates the cookie. Returns false when there is nothing to redeem.
func (s *Server) redeemRemember(w http.ResponseWriter, r *http.Request) (*models.Session, bool) {
	cookie, err := r.Cookie(rememberCookieName)
	if err != nil || cookie.Value == "" {
		return nil, false
	}

	sess, next, err := s.guard.RedeemRememberToken(r.Context(), cookie.Value, defaultSessionTimeout)
	if err != nil {
		s.clearCookie(w, rememberCookieName)
		return nil, false
	}

	s.setSessionCookie(w, sess)
	s.setRememberCookie(w, next)
	return sess, true
}

// requireCSRF enforces the double-submit token on mutating endpoints. It
// must run inside requireSession.
func (s *Server) requireCSRF(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sess := sessionFrom(r)
		if sess == nil || !s.guard.VerifyCSRF(sess, r.Header.Get(csrfHeaderName)) {
			writeError(w, http.StatusForbidden, "invalid or expired csrf token")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) withRequestLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Info(r.Context(), "request", "method", r.Method, "path", r.URL.Path, "ip", clientIP(r), "duration", time.Since(start).String())
	})
}

func (s *Server) setSessionCookie(w http.ResponseWriter, sess *models.Session) {
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    sess.ID,
		Path:     "/",
		HttpOnly: true,
		Secure:   s.secureCookies,
		SameSite: http.SameSiteLaxMode,
	})
}

func (s *Server) setRememberCookie(w http.ResponseWriter, secret string) {
	http.SetCookie(w, &http.Cookie{
		Name:     rememberCookieName,
		Value:    secret,
		Path:     "/",
		MaxAge:   int((30 * 24 * time.Hour).Seconds()),
		HttpOnly: true,
		Secure:   s.secureCookies,
		SameSite: http.SameSiteLaxMode,
	})
}

func (s *Server) clearCookie(w http.ResponseWriter, name string) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   s.secureCookies,
		SameSite: http.SameSiteLaxMode,
	})
}
