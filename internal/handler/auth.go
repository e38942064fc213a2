package handler

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/healthbridge/chat-client/internal/middleware"
	"github.com/healthbridge/chat-client/pkg/logger"
)

const (
	accessTTL  = 15 * time.Minute
	refreshTTL = 7 * 24 * time.Hour
)

// AuthHandler issues and refreshes tokens. Any username with a non-empty
// password is accepted; this is a development backend, not a login system.
type AuthHandler struct {
	jwtSecret string
	logger    *logger.Logger
}

// NewAuthHandler creates a new auth handler.
func NewAuthHandler(jwtSecret string, log *logger.Logger) *AuthHandler {
	return &AuthHandler{
		jwtSecret: jwtSecret,
		logger:    log,
	}
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type tokenPairResponse struct {
	Access  string `json:"access"`
	Refresh string `json:"refresh"`
}

type refreshRequest struct {
	Refresh string `json:"refresh"`
}

// Login handles POST /auth/login/
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Username == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "username and password are required")
		return
	}

	pair, err := h.issuePair(req.Username)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to issue tokens")
		return
	}
	writeJSON(w, http.StatusOK, pair)
}

// Refresh handles POST /auth/refresh/
func (h *AuthHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	claims, err := middleware.ParseToken(h.jwtSecret, req.Refresh)
	if err != nil || claims.TokenType != middleware.TokenTypeRefresh {
		writeError(w, http.StatusUnauthorized, "invalid or expired refresh token")
		return
	}

	pair, err := h.issuePair(claims.Subject)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to issue tokens")
		return
	}
	writeJSON(w, http.StatusOK, pair)
}

func (h *AuthHandler) issuePair(userID string) (*tokenPairResponse, error) {
	access, err := middleware.IssueToken(h.jwtSecret, userID, middleware.TokenTypeAccess, accessTTL)
	if err != nil {
		return nil, err
	}
	refresh, err := middleware.IssueToken(h.jwtSecret, userID, middleware.TokenTypeRefresh, refreshTTL)
	if err != nil {
		return nil, err
	}
	return &tokenPairResponse{Access: access, Refresh: refresh}, nil
}
