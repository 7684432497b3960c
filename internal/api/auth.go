package api

import (
	"crypto/subtle"
	"encoding/json"
	"net/http"

	"github.com/amanasmuei/nodemcu-mcp/internal/auth"
)

// loginRequest is the request body for POST /api/auth/login.
type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// loginResponse is the response body for POST /api/auth/login.
type loginResponse struct {
	Message string    `json:"message"`
	Token   string    `json:"token"`
	User    loginUser `json:"user"`
}

type loginUser struct {
	Username string    `json:"username"`
	Role     auth.Role `json:"role"`
}

// handleLogin authenticates the operator credential and returns a JWT.
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	userOK := subtle.ConstantTimeCompare([]byte(req.Username), []byte(s.secCfg.Auth.Username)) == 1
	passOK := subtle.ConstantTimeCompare([]byte(req.Password), []byte(s.secCfg.Auth.Password)) == 1
	if !userOK || !passOK {
		writeUnauthorized(w, "invalid username or password")
		return
	}

	token, err := auth.GenerateToken(req.Username, auth.RoleAdmin, s.secCfg.JWT.Secret, s.secCfg.JWT.AccessTokenTTL)
	if err != nil {
		s.logger.Error("token generation failed", "error", err)
		writeInternalError(w, "failed to generate token")
		return
	}

	writeJSON(w, http.StatusOK, loginResponse{
		Message: "Login successful",
		Token:   token,
		User: loginUser{
			Username: req.Username,
			Role:     auth.RoleAdmin,
		},
	})
}

// validateRequest is the request body for POST /api/auth/validate.
type validateRequest struct {
	Token string `json:"token"`
}

// handleValidateToken introspects a JWT without requiring bearer auth,
// so clients can check a stored token before using it.
func (s *Server) handleValidateToken(w http.ResponseWriter, r *http.Request) {
	var req validateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if req.Token == "" {
		writeBadRequest(w, "token is required")
		return
	}

	claims, err := auth.ParseToken(req.Token, s.secCfg.JWT.Secret)
	if err != nil {
		writeJSON(w, http.StatusUnauthorized, map[string]any{
			"valid":   false,
			"message": "invalid token",
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"valid": true,
		"user": loginUser{
			Username: claims.Username,
			Role:     claims.Role,
		},
	})
}
