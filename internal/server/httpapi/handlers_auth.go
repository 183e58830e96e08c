package httpapi

import (
	"errors"
	"net/http"

	"github.com/ssjbox/ssjbox/internal/common"
	"github.com/ssjbox/ssjbox/internal/server/models"
	"github.com/ssjbox/ssjbox/internal/server/services"
)

type registerRequest struct {
	UserName  string `json:"username"`
	Password  string `json:"password"`
	HospCode  string `json:"hospcode"`
	Prefix    string `json:"prefix"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Position  string `json:"position"`
	CitizenID string `json:"citizen_id"`
	Email     string `json:"email"`
	Phone     string `json:"phone"`
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	ip := clientIP(r)

	st, err := s.limiter.Check(r.Context(), ip, models.ActionRegister)
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, "try again later")
		return
	}
	if !st.Allowed {
		writeRetryAfter(w, st.RetryAfterSeconds)
		return
	}

	var req registerRequest
	if err := parseJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	user, err := s.users.Register(r.Context(), services.RegisterRequest{
		UserName: req.UserName,
		Password: req.Password,
		HospCode: req.HospCode,
		Profile: services.Profile{
			Prefix:    req.Prefix,
			FirstName: req.FirstName,
			LastName:  req.LastName,
			Position:  req.Position,
			CitizenID: req.CitizenID,
			Email:     req.Email,
			Phone:     req.Phone,
		},
	})
	if err != nil {
		// Only client-caused outcomes count toward the lockout; a store
		// outage must not burn the client's attempt budget.
		clientFault := errors.Is(err, common.ErrorInvalidInput) || errors.Is(err, common.ErrorAlreadyExists)
		if clientFault {
			if lockSt, lerr := s.limiter.RecordFailure(r.Context(), ip, models.ActionRegister); lerr == nil && !lockSt.Allowed {
				writeRetryAfter(w, lockSt.RetryAfterSeconds)
				return
			}
		}
		switch {
		case errors.Is(err, common.ErrorInvalidInput):
			writeError(w, http.StatusUnprocessableEntity, err.Error())
		case errors.Is(err, common.ErrorAlreadyExists):
			// No detail about which field collided.
			writeError(w, http.StatusConflict, "registration could not be completed")
		default:
			writeError(w, http.StatusInternalServerError, "internal error")
		}
		return
	}

	if err := s.limiter.RecordSuccess(r.Context(), ip, models.ActionRegister); err != nil {
		s.logger.Warn(r.Context(), "register success reset failed", "error", err.Error())
	}
	s.activity.Record(r.Context(), user.ID, services.ActivityRegister, user.UserName, ip)
	writeJSON(w, http.StatusCreated, map[string]any{
		"id":     user.ID,
		"status": user.Status,
	})
}

type loginRequest struct {
	UserName string `json:"username"`
	Password string `json:"password"`
	Remember bool   `json:"remember"`
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	ip := clientIP(r)

	st, err := s.limiter.Check(r.Context(), ip, models.ActionLogin)
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, "try again later")
		return
	}
	if !st.Allowed {
		writeRetryAfter(w, st.RetryAfterSeconds)
		return
	}

	var req loginRequest
	if err := parseJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	user, err := s.users.Authenticate(r.Context(), req.UserName, req.Password)
	if err != nil {
		switch {
		case errors.Is(err, common.ErrorUnauthorized):
			s.activity.Record(r.Context(), "", services.ActivityLoginFailed, req.UserName, ip)
			if lockSt, lerr := s.limiter.RecordFailure(r.Context(), ip, models.ActionLogin); lerr == nil && !lockSt.Allowed {
				writeRetryAfter(w, lockSt.RetryAfterSeconds)
				return
			}
			writeError(w, http.StatusUnauthorized, "invalid credentials")
		case errors.Is(err, common.ErrorAccountPending):
			writeError(w, http.StatusForbidden, "account pending approval")
		case errors.Is(err, common.ErrorAccountDisabled):
			writeError(w, http.StatusForbidden, "account disabled")
		default:
			writeError(w, http.StatusInternalServerError, "internal error")
		}
		return
	}

	if err := s.limiter.RecordSuccess(r.Context(), ip, models.ActionLogin); err != nil {
		s.logger.Warn(r.Context(), "login success reset failed", "error", err.Error())
	}

	sess, err := s.guard.Issue(r.Context(), user.ID, user.SessionTimeout)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	s.setSessionCookie(w, sess)

	if req.Remember {
		secret, err := s.guard.IssueRememberToken(r.Context(), user.ID)
		if err != nil {
			s.logger.Warn(r.Context(), "remember token issue failed", "error", err.Error())
		} else {
			s.setRememberCookie(w, secret)
		}
	}

	s.activity.Record(r.Context(), user.ID, services.ActivityLogin, user.UserName, ip)
	writeJSON(w, http.StatusOK, map[string]any{
		"id":       user.ID,
		"username": user.UserName,
		"role":     user.Role,
		"hospcode": user.HospCode,
	})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	sess := sessionFrom(r)

	if err := s.guard.Destroy(r.Context(), sess.ID); err != nil {
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if err := s.guard.RevokeRememberTokens(r.Context(), sess.OwnerID); err != nil {
		s.logger.Warn(r.Context(), "remember token revoke failed", "error", err.Error())
	}
	s.clearCookie(w, sessionCookieName)
	s.clearCookie(w, rememberCookieName)

	s.activity.Record(r.Context(), sess.OwnerID, services.ActivityLogout, "", clientIP(r))
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *Server) handleCSRF(w http.ResponseWriter, r *http.Request) {
	sess := sessionFrom(r)
	token, err := s.guard.IssueCSRF(r.Context(), sess)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"csrf_token": token})
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	sess := sessionFrom(r)

	user, err := s.users.Get(r.Context(), sess.OwnerID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	profile, err := s.users.DecryptProfile(user)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "profile unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"id":         user.ID,
		"username":   user.UserName,
		"role":       user.Role,
		"hospcode":   user.HospCode,
		"prefix":     profile.Prefix,
		"first_name": profile.FirstName,
		"last_name":  profile.LastName,
		"position":   profile.Position,
		"email":      profile.Email,
		"phone":      profile.Phone,
	})
}

// handleLockoutStatus reports the caller's own lockout state for an action,
// so a client can show a countdown without burning an attempt.
func (s *Server) handleLockoutStatus(w http.ResponseWriter, r *http.Request) {
	action := r.URL.Query().Get("action")
	if action != models.ActionLogin && action != models.ActionRegister {
		writeError(w, http.StatusBadRequest, "unknown action")
		return
	}
	st, err := s.limiter.Check(r.Context(), clientIP(r), action)
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, "try again later")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"allowed":     st.Allowed,
		"retry_after": st.RetryAfterSeconds,
	})
}

type lockoutResetRequest struct {
	Identifier string `json:"identifier"`
	Action     string `json:"action"`
}

// handleLockoutReset is the administrative unlock.
func (s *Server) handleLockoutReset(w http.ResponseWriter, r *http.Request) {
	sess := sessionFrom(r)
	user, err := s.users.Get(r.Context(), sess.OwnerID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if user.Role != "admin" {
		writeError(w, http.StatusForbidden, "admin only")
		return
	}

	var req lockoutResetRequest
	if err := parseJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.limiter.AdminReset(r.Context(), req.Identifier, req.Action); err != nil {
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}
