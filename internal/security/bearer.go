package security

import (
	"net/http"
	"strings"

	"github.com/sandeepkv93/token-lifecycle-gateway/internal/domain"
)

// BearerToken extracts the raw token from an "Authorization: Bearer <token>"
// header.
func BearerToken(r *http.Request) (string, error) {
	authz := strings.TrimSpace(r.Header.Get("Authorization"))
	if authz == "" {
		return "", domain.ErrMissingBearer
	}
	parts := strings.Fields(authz)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", domain.ErrMalformedBearer
	}
	return parts[1], nil
}
