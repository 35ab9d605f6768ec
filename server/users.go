package server

import (
	"net/http"

	"github.com/241209-JavaReactAWS/sharvani-rolando-sanjana-project1/library"
)

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func (s *Server) login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeBody(r, &req); err != nil || req.Username == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, errMalformedBody.Error())
		return
	}

	ctx := r.Context()
	u, err := s.lib.Users.Login(ctx, req.Username, req.Password)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	// Logging in again replaces the session the request came with.
	if old := tokenFrom(r); old != "" {
		_ = s.sessions.Delete(ctx, old)
	}
	token, err := s.sessions.Create(ctx, u.ID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.setSessionCookie(w, token)
	s.metrics.RecordSession("login")
	writeJSON(w, http.StatusOK, u)
}

func (s *Server) register(w http.ResponseWriter, r *http.Request) {
	var in library.NewUser
	if err := decodeBody(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	u, err := s.lib.Users.Register(r.Context(), in)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, u)
}

func (s *Server) logout(w http.ResponseWriter, r *http.Request) {
	token := tokenFrom(r)
	if callerFrom(r) == nil || token == "" {
		writeError(w, http.StatusBadRequest, "not logged in")
		return
	}
	if err := s.sessions.Delete(r.Context(), token); err != nil {
		s.fail(w, r, err)
		return
	}
	s.clearSessionCookie(w)
	s.metrics.RecordSession("logout")
	w.WriteHeader(http.StatusOK)
}

func (s *Server) listUsers(w http.ResponseWriter, r *http.Request) {
	users, err := s.lib.Users.GetAll(r.Context(), callerFrom(r))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, users)
}

func (s *Server) getUser(w http.ResponseWriter, r *http.Request) {
	u, err := s.lib.Users.GetByUsername(r.Context(), r.PathValue("username"), callerFrom(r))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, u)
}

// editUser applies a patch. A password change revokes every session of the
// account; when users change their own password they get a fresh session.
func (s *Server) editUser(w http.ResponseWriter, r *http.Request) {
	var patch library.UserPatch
	if err := decodeBody(r, &patch); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	ctx := r.Context()
	caller := callerFrom(r)
	u, err := s.lib.Users.EditUser(ctx, r.PathValue("username"), patch, caller)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	if patch.Password != nil {
		// The password is already changed; session failures only get logged.
		if err := s.sessions.DeleteUser(ctx, u.ID); err != nil {
			s.log.WithContext(ctx).WithError(err).Warn("revoke sessions after password change", "user_id", u.ID)
		} else {
			s.metrics.RecordSession("revoked")
			if caller.UserID == u.ID {
				if token, err := s.sessions.Create(ctx, u.ID); err != nil {
					s.log.WithContext(ctx).WithError(err).Warn("renew session after password change", "user_id", u.ID)
				} else {
					s.setSessionCookie(w, token)
				}
			}
		}
	}
	writeJSON(w, http.StatusOK, u)
}

func (s *Server) deleteUser(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	caller := callerFrom(r)
	u, err := s.lib.Users.DeleteUser(ctx, r.PathValue("username"), caller)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if err := s.sessions.DeleteUser(ctx, u.ID); err != nil {
		s.log.WithContext(ctx).WithError(err).Warn("revoke sessions of deleted user", "user_id", u.ID)
	} else {
		s.metrics.RecordSession("revoked")
	}
	if caller.UserID == u.ID {
		s.clearSessionCookie(w)
	}
	w.WriteHeader(http.StatusOK)
}
