package web

import (
	"net/http"
	"strings"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/vadiminshakov/coinverse/internal/domain"
	"github.com/vadiminshakov/coinverse/internal/services/identity"
)

const sessionCookie = "coinverse_session"

type credentials struct {
	Username string `json:"username,omitempty"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

// sessionToken reads the bearer token, falling back to the session cookie.
func sessionToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		if token, ok := strings.CutPrefix(h, "Bearer "); ok {
			return strings.TrimSpace(token)
		}
	}
	if c, err := r.Cookie(sessionCookie); err == nil {
		return c.Value
	}
	return ""
}

type userHandler func(w http.ResponseWriter, r *http.Request, user domain.User)

func (s *Server) requireUser(next userHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, err := s.auth.Resolve(sessionToken(r))
		if err != nil {
			s.writeError(w, http.StatusUnauthorized, identity.UserMessage(err))
			return
		}
		next(w, r, user)
	}
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req credentials
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, "Malformed request body.")
		return
	}

	sess, err := s.auth.Register(r.Context(), req.Username, req.Email, req.Password)
	if err != nil {
		s.writeAuthError(w, err)
		return
	}

	s.setSession(w, r, sess)
	s.writeJSON(w, http.StatusCreated, sess)
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req credentials
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, "Malformed request body.")
		return
	}

	sess, err := s.auth.SignIn(r.Context(), req.Email, req.Password)
	if err != nil {
		s.writeAuthError(w, err)
		return
	}

	s.setSession(w, r, sess)
	s.writeJSON(w, http.StatusOK, sess)
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if token := sessionToken(r); token != "" {
		s.auth.SignOut(token)
	}
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookie,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	w.WriteHeader(http.StatusNoContent)
}

// handleSession reports the current user, or null when signed out.
func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	snap := identity.Snapshot{}
	if user, err := s.auth.Resolve(sessionToken(r)); err == nil {
		snap.User = &user
	}
	s.writeJSON(w, http.StatusOK, snap)
}

func (s *Server) setSession(w http.ResponseWriter, r *http.Request, sess domain.Session) {
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookie,
		Value:    sess.Token,
		Path:     "/",
		Expires:  sess.ExpiresAt,
		MaxAge:   int(time.Until(sess.ExpiresAt).Seconds()),
		HttpOnly: true,
		Secure:   r.TLS != nil,
		SameSite: http.SameSiteLaxMode,
	})
}

func (s *Server) writeAuthError(w http.ResponseWriter, err error) {
	var ve *identity.ValidationError
	status := http.StatusInternalServerError
	switch {
	case errors.As(err, &ve):
		status = http.StatusBadRequest
	case errors.Is(err, identity.ErrEmailInUse):
		status = http.StatusConflict
	case errors.Is(err, identity.ErrInvalidCredentials), errors.Is(err, identity.ErrInvalidSession):
		status = http.StatusUnauthorized
	default:
		s.logger.Error("auth request failed", zap.Error(err))
	}
	s.writeError(w, status, identity.UserMessage(err))
}
