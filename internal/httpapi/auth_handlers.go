package httpapi

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/csps/CSPS-redesign-backend-sub001/internal/auth"
)

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type changePasswordRequest struct {
	CurrentPassword string `json:"current_password"`
	NewPassword     string `json:"new_password"`
}

type tokenResponse struct {
	AccessToken      string    `json:"access_token"`
	RefreshToken     string    `json:"refresh_token"`
	TokenType        string    `json:"token_type"`
	ExpiresIn        int64     `json:"expires_in"`
	AccessExpiresAt  time.Time `json:"access_expires_at"`
	RefreshExpiresAt time.Time `json:"refresh_expires_at"`
}

type meResponse struct {
	AccountID   int64    `json:"account_id"`
	Username    string   `json:"username"`
	Name        string   `json:"name"`
	Role        string   `json:"role"`
	Authorities []string `json:"authorities"`
	StudentID   string   `json:"student_id,omitempty"`
	AdminID     int64    `json:"admin_id,omitempty"`
	Position    string   `json:"position,omitempty"`
}

func newTokenResponse(pair auth.TokenPair, accessTTL time.Duration) tokenResponse {
	return tokenResponse{
		AccessToken:      pair.AccessToken,
		RefreshToken:     pair.RefreshToken,
		TokenType:        "Bearer",
		ExpiresIn:        int64(accessTTL / time.Second),
		AccessExpiresAt:  pair.AccessExpiresAt,
		RefreshExpiresAt: pair.RefreshExpiresAt,
	}
}

func newMeResponse(p auth.Principal) meResponse {
	resp := meResponse{
		AccountID:   p.AccountID(),
		Username:    p.Account.Username,
		Name:        p.Account.FullName(),
		Role:        string(p.Role()),
		Authorities: p.Authorities,
	}
	switch id := p.Identity.(type) {
	case auth.StudentIdentity:
		resp.StudentID = id.StudentID
	case auth.AdminIdentity:
		resp.AdminID = id.AdminID
		resp.Position = id.Position
	}
	return resp
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(req.Username) == "" || req.Password == "" {
		writeError(w, r, http.StatusBadRequest, "username and password are required")
		return
	}

	pair, principal, err := a.auth.Login(r.Context(), req.Username, req.Password)
	if err != nil {
		switch {
		case errors.Is(err, auth.ErrInvalidInput):
			writeError(w, r, http.StatusBadRequest, "username and password are required")
		case errors.Is(err, auth.ErrNotFound):
			writeError(w, r, http.StatusNotFound, "account not found")
		case errors.Is(err, auth.ErrUnauthorized):
			w.Header().Set("WWW-Authenticate", challenge)
			writeError(w, r, http.StatusUnauthorized, "invalid credentials")
		default:
			a.log.Error("login failed", zap.Error(err), zap.String("request_id", RequestIDFromContext(r.Context())))
			writeError(w, r, http.StatusInternalServerError, "login failed")
		}
		return
	}
	a.log.Info("login succeeded", zap.Int64("account_id", principal.AccountID()), zap.String("role", string(principal.Role())))
	writeJSON(w, http.StatusOK, newTokenResponse(pair, a.auth.Codec().TTL()))
}

func (a *API) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(req.RefreshToken) == "" {
		unauthorized(w, r, "refresh token is required")
		return
	}
	pair, err := a.auth.Refresh(r.Context(), req.RefreshToken)
	if err != nil {
		if errors.Is(err, auth.ErrRefreshTokenInvalid) {
			unauthorized(w, r, "invalid or expired refresh token")
			return
		}
		a.log.Error("refresh failed", zap.Error(err), zap.String("request_id", RequestIDFromContext(r.Context())))
		writeError(w, r, http.StatusInternalServerError, "refresh failed")
		return
	}
	writeJSON(w, http.StatusOK, newTokenResponse(pair, a.auth.Codec().TTL()))
}

func (a *API) handleLogout(w http.ResponseWriter, r *http.Request) {
	principal, _ := auth.PrincipalFromContext(r.Context())
	if err := a.auth.Logout(r.Context(), principal.AccountID()); err != nil {
		a.log.Error("logout failed", zap.Error(err), zap.Int64("account_id", principal.AccountID()))
		writeError(w, r, http.StatusInternalServerError, "logout failed")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleMe(w http.ResponseWriter, r *http.Request) {
	principal, _ := auth.PrincipalFromContext(r.Context())
	writeJSON(w, http.StatusOK, newMeResponse(principal))
}

func (a *API) handleStudentMe(w http.ResponseWriter, r *http.Request) {
	principal, _ := auth.PrincipalFromContext(r.Context())
	studentID, _ := principal.StudentID()
	writeJSON(w, http.StatusOK, map[string]any{
		"student_id": studentID,
		"name":       principal.Account.FullName(),
		"username":   principal.Account.Username,
	})
}

func (a *API) handleAdminMe(w http.ResponseWriter, r *http.Request) {
	principal, _ := auth.PrincipalFromContext(r.Context())
	id, _ := principal.Identity.(auth.AdminIdentity)
	writeJSON(w, http.StatusOK, map[string]any{
		"admin_id": id.AdminID,
		"position": id.Position,
		"name":     principal.Account.FullName(),
		"username": principal.Account.Username,
	})
}

func (a *API) handleChangePassword(w http.ResponseWriter, r *http.Request) {
	principal, _ := auth.PrincipalFromContext(r.Context())
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, r, http.StatusBadRequest, "invalid account id")
		return
	}
	if id != principal.AccountID() {
		writeError(w, r, http.StatusForbidden, "forbidden")
		return
	}

	var req changePasswordRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	err = a.auth.ChangePassword(r.Context(), id, req.CurrentPassword, req.NewPassword)
	switch {
	case err == nil:
		w.WriteHeader(http.StatusNoContent)
	case errors.Is(err, auth.ErrUnauthorized):
		writeError(w, r, http.StatusForbidden, "current password is incorrect")
	case errors.Is(err, auth.ErrInvalidInput):
		writeError(w, r, http.StatusBadRequest, "new password is too short")
	case errors.Is(err, auth.ErrNotFound):
		writeError(w, r, http.StatusNotFound, "account not found")
	default:
		a.log.Error("change password failed", zap.Error(err), zap.Int64("account_id", id))
		writeError(w, r, http.StatusInternalServerError, "password change failed")
	}
}
