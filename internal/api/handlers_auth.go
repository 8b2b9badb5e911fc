package api

import (
	"net/http"

	"github.com/stockmeta/internal/models"
	"github.com/stockmeta/internal/service"
)

// LoginResponse carries the session token and the account snapshot.
type LoginResponse struct {
	Token string       `json:"token"`
	User  *models.User `json:"user"`
}

// handleRegister handles POST /auth/register - Create a new account
func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req service.RegisterRequest
	if err := parseJSONBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_PARAMETER", "Invalid request body", nil)
		return
	}

	user, err := s.userService.Register(r.Context(), &req)
	if err != nil {
		respondServiceError(w, err)
		return
	}

	token, err := s.tokens.Sign(user.ID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to issue token", nil)
		return
	}

	respondJSON(w, http.StatusCreated, &LoginResponse{Token: token, User: user})
}

// handleLogin handles POST /auth/login - Authenticate and issue a token
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req service.LoginRequest
	if err := parseJSONBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_PARAMETER", "Invalid request body", nil)
		return
	}

	user, err := s.userService.Login(r.Context(), &req)
	if err != nil {
		respondServiceError(w, err)
		return
	}

	token, err := s.tokens.Sign(user.ID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to issue token", nil)
		return
	}

	respondJSON(w, http.StatusOK, &LoginResponse{Token: token, User: user})
}
