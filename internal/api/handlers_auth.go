package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/parley-labs/parley-node/internal/relay"
)

type credentialsRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type authResponse struct {
	Token    string         `json:"token,omitempty"`
	Identity relay.Identity `json:"identity"`
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

func (s *APIServer) writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error(fmt.Sprintf("Failed to encode response: %v", err), "api")
	}
}

func (s *APIServer) writeError(w http.ResponseWriter, status int, err error) {
	s.writeJSON(w, status, errorResponse{Error: err.Error(), Code: relay.ErrorCode(err)})
}

// handleRegister creates a new account
func (s *APIServer) handleRegister(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req credentialsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	identity, err := s.dbManager.Users.Register(req.Username, req.Password)
	if err != nil {
		if errors.Is(err, relay.ErrDuplicateIdentity) {
			s.writeError(w, http.StatusConflict, err)
			return
		}
		s.logger.Error(fmt.Sprintf("Registration failed: %v", err), "api")
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}

	s.writeJSON(w, http.StatusCreated, authResponse{Identity: identity})
}

// handleLogin verifies credentials and issues a JWT for the WebSocket
// token fast-path
func (s *APIServer) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req credentialsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	identity, err := s.dbManager.Users.Authenticate(req.Username, req.Password)
	if err != nil {
		if errors.Is(err, relay.ErrAuthenticationFailed) {
			s.writeError(w, http.StatusUnauthorized, err)
			return
		}
		s.logger.Error(fmt.Sprintf("Login failed: %v", err), "api")
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}

	token, err := s.jwtManager.GenerateToken(identity.ID, identity.DisplayName, s.jwtTTL)
	if err != nil {
		s.logger.Error(fmt.Sprintf("Failed to generate token: %v", err), "api")
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}

	s.writeJSON(w, http.StatusOK, authResponse{Token: token, Identity: identity})
}
