package handler

import (
	"net/http"
	"time"

	"github.com/sandeepkv93/token-lifecycle-gateway/internal/domain"
	"github.com/sandeepkv93/token-lifecycle-gateway/internal/http/middleware"
	"github.com/sandeepkv93/token-lifecycle-gateway/internal/http/response"
	"github.com/sandeepkv93/token-lifecycle-gateway/internal/observability"
	"github.com/sandeepkv93/token-lifecycle-gateway/internal/service"
)

type AuthHandler struct {
	sessions service.SessionServiceInterface
}

func NewAuthHandler(sessions service.SessionServiceInterface) *AuthHandler {
	return &AuthHandler{sessions: sessions}
}

type refreshRequest struct {
	TokenUID     string `json:"token_uid"`
	RefreshToken string `json:"refresh_token"`
}

type sessionTokenResponse struct {
	TokenUID              string    `json:"token_uid"`
	AccessToken           string    `json:"access_token"`
	ExpiresAt             time.Time `json:"expires_at"`
	RefreshTokenExpiresAt time.Time `json:"refresh_token_expires_at"`
}

func newSessionTokenResponse(rec *domain.TokenRecord) sessionTokenResponse {
	return sessionTokenResponse{
		TokenUID:              rec.TokenUID,
		AccessToken:           rec.AccessToken,
		ExpiresAt:             rec.ExpiresAt,
		RefreshTokenExpiresAt: rec.RefreshTokenExpiresAt,
	}
}

func (h *AuthHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeServiceError(w, r, err)
		return
	}
	rec, err := h.sessions.RefreshWithToken(r.Context(), req.TokenUID, req.RefreshToken)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	response.JSON(w, r, http.StatusOK, newSessionTokenResponse(rec))
}

func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	p, ok := middleware.PrincipalFromContext(r.Context())
	if !ok {
		response.Error(w, r, http.StatusUnauthorized, "UNAUTHORIZED", "missing auth context", nil)
		return
	}
	if err := h.sessions.Logout(r.Context(), p.UserUID); err != nil {
		writeServiceError(w, r, err)
		return
	}
	observability.Audit(r, "auth.logout", "user_uid", p.UserUID)
	response.JSON(w, r, http.StatusOK, map[string]string{"status": "logged_out"})
}
