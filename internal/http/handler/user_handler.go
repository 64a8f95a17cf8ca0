package handler

import (
	"net/http"

	"github.com/sandeepkv93/token-lifecycle-gateway/internal/http/middleware"
	"github.com/sandeepkv93/token-lifecycle-gateway/internal/http/response"
)

type UserHandler struct{}

func NewUserHandler() *UserHandler { return &UserHandler{} }

// Me echoes the identity resolved by the gateway pipeline.
func (h *UserHandler) Me(w http.ResponseWriter, r *http.Request) {
	p, ok := middleware.PrincipalFromContext(r.Context())
	if !ok {
		response.Error(w, r, http.StatusUnauthorized, "UNAUTHORIZED", "missing auth context", nil)
		return
	}
	response.JSON(w, r, http.StatusOK, map[string]string{
		"user_uid":       p.UserUID,
		"role":           p.Role,
		"token_uid":      p.TokenUID,
		"forwarded_user": r.Header.Get(middleware.ForwardedUserHeader),
	})
}
