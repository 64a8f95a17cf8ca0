package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/sandeepkv93/token-lifecycle-gateway/internal/http/middleware"
	"github.com/sandeepkv93/token-lifecycle-gateway/internal/http/response"
	"github.com/sandeepkv93/token-lifecycle-gateway/internal/observability"
	"github.com/sandeepkv93/token-lifecycle-gateway/internal/service"
)

type AdminHandler struct {
	sessions service.SessionServiceInterface
}

func NewAdminHandler(sessions service.SessionServiceInterface) *AdminHandler {
	return &AdminHandler{sessions: sessions}
}

type revokeRequest struct {
	Reason string `json:"reason"`
}

func (h *AdminHandler) RevokeToken(w http.ResponseWriter, r *http.Request) {
	var req revokeRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeServiceError(w, r, err)
		return
	}
	tokenUID := chi.URLParam(r, "token_uid")
	status, err := h.sessions.RevokeToken(r.Context(), tokenUID, req.Reason)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	observability.Audit(r, "admin.token_revoked", "token_uid", tokenUID, "status", status, "actor", actorUID(r))
	response.JSON(w, r, http.StatusOK, map[string]string{"token_uid": tokenUID, "status": status})
}

func (h *AdminHandler) RevokeUser(w http.ResponseWriter, r *http.Request) {
	var req revokeRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeServiceError(w, r, err)
		return
	}
	userUID := chi.URLParam(r, "user_uid")
	n, err := h.sessions.RevokeUser(r.Context(), userUID, req.Reason)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	observability.Audit(r, "admin.user_revoked", "user_uid", userUID, "revoked", n, "actor", actorUID(r))
	response.JSON(w, r, http.StatusOK, map[string]any{"user_uid": userUID, "revoked": n})
}

func actorUID(r *http.Request) string {
	if p, ok := middleware.PrincipalFromContext(r.Context()); ok {
		return p.UserUID
	}
	return ""
}
