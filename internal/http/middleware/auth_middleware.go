package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/sandeepkv93/token-lifecycle-gateway/internal/domain"
	"github.com/sandeepkv93/token-lifecycle-gateway/internal/grpcidentity"
	"github.com/sandeepkv93/token-lifecycle-gateway/internal/http/response"
	"github.com/sandeepkv93/token-lifecycle-gateway/internal/observability"
	"github.com/sandeepkv93/token-lifecycle-gateway/internal/security"
)

type contextKey string

const (
	PrincipalContextKey contextKey = "principal"

	// ForwardedUserHeader carries the resolved userUID to handlers that do not
	// read the principal from the context.
	ForwardedUserHeader = "X-User-UID"
)

// Principal is the authenticated caller attached by Authenticate.
type Principal struct {
	UserUID  string
	Role     string
	TokenUID string
}

type AccessTokenVerifier interface {
	ParseAccessToken(raw string) (*security.Claims, error)
}

type DenylistChecker interface {
	IsDenylisted(ctx context.Context, tokenUID string) (bool, error)
}

// Pipeline runs stages in order for every request except those under a bypass
// prefix. A client-supplied forwarded identity header is always dropped.
func Pipeline(bypassPrefixes []string, stages ...func(http.Handler) http.Handler) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		guarded := next
		for i := len(stages) - 1; i >= 0; i-- {
			guarded = stages[i](guarded)
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			r.Header.Del(ForwardedUserHeader)
			for _, prefix := range bypassPrefixes {
				if matchesBypass(r.URL.Path, prefix) {
					observability.RecordTokenValidation(r.Context(), "pipeline", "bypassed")
					next.ServeHTTP(w, r)
					return
				}
			}
			guarded.ServeHTTP(w, r)
		})
	}
}

// matchesBypass matches whole path segments: "/a/b" covers "/a/b" and "/a/b/c"
// but not "/a/bc". A prefix ending in "/" covers everything below it.
func matchesBypass(path, prefix string) bool {
	switch {
	case prefix == "":
		return false
	case strings.HasSuffix(prefix, "/"):
		return strings.HasPrefix(path, prefix)
	default:
		return path == prefix || strings.HasPrefix(path, prefix+"/")
	}
}

// Authenticate verifies the bearer token, checks its expiry against now and
// rejects denylisted tokenUIDs before attaching the Principal.
func Authenticate(verifier AccessTokenVerifier, denylist DenylistChecker, now func() time.Time) func(http.Handler) http.Handler {
	if now == nil {
		now = time.Now
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			raw, err := security.BearerToken(r)
			if err != nil {
				rejectAuth(w, r, "authenticate", err)
				return
			}
			claims, err := verifier.ParseAccessToken(raw)
			if err != nil {
				rejectAuth(w, r, "authenticate", err)
				return
			}
			if claims.ExpiresAt == nil || !now().Before(claims.ExpiresAt.Time) {
				rejectAuth(w, r, "authenticate", domain.ErrTokenExpired)
				return
			}
			revoked, err := denylist.IsDenylisted(ctx, claims.TokenUID())
			if err != nil {
				rejectAuth(w, r, "authenticate", err)
				return
			}
			if revoked {
				observability.Audit(r, "auth.token_revoked", "token_uid", claims.TokenUID(), "user_uid", claims.UserUID())
				rejectAuth(w, r, "authenticate", domain.ErrTokenRevoked)
				return
			}
			observability.RecordTokenValidation(ctx, "authenticate", "valid")
			p := &Principal{UserUID: claims.UserUID(), Role: claims.Role, TokenUID: claims.TokenUID()}
			next.ServeHTTP(w, r.WithContext(context.WithValue(ctx, PrincipalContextKey, p)))
		})
	}
}

// PropagateIdentity re-verifies the bearer token on its own and forwards the
// userUID as ForwardedUserHeader and as outgoing gRPC identity.
func PropagateIdentity(verifier AccessTokenVerifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw, err := security.BearerToken(r)
			if err != nil {
				rejectAuth(w, r, "propagate", err)
				return
			}
			claims, err := verifier.ParseAccessToken(raw)
			if err != nil {
				rejectAuth(w, r, "propagate", err)
				return
			}
			observability.RecordTokenValidation(r.Context(), "propagate", "valid")
			r.Header.Set(ForwardedUserHeader, claims.UserUID())
			next.ServeHTTP(w, r.WithContext(grpcidentity.WithUserUID(r.Context(), claims.UserUID())))
		})
	}
}

func PrincipalFromContext(ctx context.Context) (*Principal, bool) {
	p, ok := ctx.Value(PrincipalContextKey).(*Principal)
	return p, ok
}

func rejectAuth(w http.ResponseWriter, r *http.Request, stage string, err error) {
	ctx := r.Context()
	switch {
	case errors.Is(err, domain.ErrMissingBearer):
		observability.RecordTokenValidation(ctx, stage, "missing")
		response.Error(w, r, http.StatusUnauthorized, "UNAUTHORIZED", "missing bearer token", nil)
	case errors.Is(err, domain.ErrMalformedBearer):
		observability.RecordTokenValidation(ctx, stage, "malformed")
		response.Error(w, r, http.StatusUnauthorized, "BAD_REQUEST", "malformed authorization header", nil)
	case errors.Is(err, domain.ErrTokenExpired):
		observability.RecordTokenValidation(ctx, stage, "expired")
		response.Error(w, r, http.StatusUnauthorized, "UNAUTHORIZED", "token expired", nil)
	case errors.Is(err, domain.ErrTokenRevoked):
		observability.RecordTokenValidation(ctx, stage, "revoked")
		response.Error(w, r, http.StatusUnauthorized, "UNAUTHORIZED", "token revoked", nil)
	case errors.Is(err, domain.ErrStoreFailure):
		observability.RecordTokenValidation(ctx, stage, "store_error")
		observability.Audit(r, "auth.denylist_unavailable", "error", err.Error())
		response.Error(w, r, http.StatusServiceUnavailable, "STORE_UNAVAILABLE", "revocation state unavailable", nil)
	default:
		observability.RecordTokenValidation(ctx, stage, "invalid")
		response.Error(w, r, http.StatusUnauthorized, "UNAUTHORIZED", "invalid access token", nil)
	}
}
