package middleware

import (
	"net/http"
	"strings"

	"github.com/sandeepkv93/token-lifecycle-gateway/internal/http/response"
	"github.com/sandeepkv93/token-lifecycle-gateway/internal/observability"
)

// RequireRole admits only principals whose role matches role, ignoring case.
func RequireRole(role string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p, ok := PrincipalFromContext(r.Context())
			if !ok {
				response.Error(w, r, http.StatusUnauthorized, "UNAUTHORIZED", "missing auth context", nil)
				return
			}
			if !strings.EqualFold(p.Role, role) {
				observability.Audit(r, "auth.role_denied", "user_uid", p.UserUID, "required_role", role)
				response.Error(w, r, http.StatusForbidden, "FORBIDDEN", "insufficient role", map[string]string{"required": role})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
