package api

import (
	"encoding/json"
	"net/http"
	"time"

	"wayfarer/internal/auth"
)

// handleLogin authenticates credentials and issues a session token.
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request")
		return
	}
	if req.Username == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "username and password are required")
		return
	}

	token, err := s.authProv.Login(r.Context(), req.Username, req.Password)
	if err != nil {
		s.logger.WithContext("username", req.Username).Warn("login failed: %v", err)
		writeError(w, http.StatusUnauthorized, err.Error())
		return
	}

	auth.SetSessionCookie(w, token, 30*24*time.Hour)
	writeJSON(w, http.StatusOK, map[string]string{"token": token})
}

// handleLogout invalidates the caller's session token.
func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	token := auth.GetSessionToken(r.Context())
	if token != "" {
		if err := s.authProv.Logout(r.Context(), token); err != nil {
			s.logger.Warn("logout failed: %v", err)
		}
	}
	auth.ClearSessionCookie(w)
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleRegister creates a new account.
func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
		Email    string `json:"email"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request")
		return
	}

	userID, err := s.authProv.Register(r.Context(), req.Username, req.Password, req.Email)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	s.logger.WithContext("user_id", userID).Info("registered user %s", req.Username)
	writeJSON(w, http.StatusCreated, map[string]interface{}{"user_id": userID})
}
