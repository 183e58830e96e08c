// Package httpapi is the driving HTTP adapter. It owns routing, cookies and
// status-code mapping; all decisions are delegated to the services layer.
package httpapi

import (
	"net/http"

	"github.com/ssjbox/ssjbox/internal/logging"
	"github.com/ssjbox/ssjbox/internal/server/services"
)

// Cookie names used by the session and remember-me flows.
const (
	sessionCookieName  = "ssjbox_session"
	rememberCookieName = "ssjbox_remember"

	csrfHeaderName = "X-CSRF-Token"
)

// defaultSessionTimeout is used for sessions minted from a remember-me
// token, where the account preference is not yet loaded.
const defaultSessionTimeout = 1800

// Server routes requests to the application services.
type Server struct {
	users    *services.UserService
	limiter  *services.RateLimiter
	guard    *services.SessionGuard
	intake   *services.IntakeService
	activity *services.ActivityLogger
	logger   logging.Logger

	maxUploadBytes int64
	secureCookies  bool
}

// New creates a Server wired to the given application services.
func New(users *services.UserService, limiter *services.RateLimiter, guard *services.SessionGuard, intake *services.IntakeService, activity *services.ActivityLogger, maxUploadBytes int64, logger logging.Logger) *Server {
	return &Server{
		users:          users,
		limiter:        limiter,
		guard:          guard,
		intake:         intake,
		activity:       activity,
		logger:         logger,
		maxUploadBytes: maxUploadBytes,
	}
}

// Handler returns the root http.Handler for the application.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	})

	mux.HandleFunc("POST /api/auth/register", s.handleRegister)
	mux.HandleFunc("POST /api/auth/login", s.handleLogin)
	mux.HandleFunc("GET /api/auth/lockout", s.handleLockoutStatus)

	mux.Handle("POST /api/auth/logout", s.requireSession(http.HandlerFunc(s.handleLogout)))
	mux.Handle("GET /api/auth/csrf", s.requireSession(http.HandlerFunc(s.handleCSRF)))
	mux.Handle("GET /api/auth/me", s.requireSession(http.HandlerFunc(s.handleMe)))
	mux.Handle("POST /api/auth/lockout/reset", s.requireSession(http.HandlerFunc(s.handleLockoutReset)))

	mux.Handle("POST /api/files", s.requireSession(s.requireCSRF(http.HandlerFunc(s.handleUpload))))
	mux.Handle("GET /api/files", s.requireSession(http.HandlerFunc(s.handleList)))
	mux.Handle("DELETE /api/files/{id}", s.requireSession(s.requireCSRF(http.HandlerFunc(s.handleDelete))))
	mux.Handle("GET /api/files/{id}/download", s.requireSession(http.HandlerFunc(s.handleDownload)))

	return s.withRequestLog(mux)
}
