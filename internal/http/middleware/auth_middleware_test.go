package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/sandeepkv93/token-lifecycle-gateway/internal/domain"
	"github.com/sandeepkv93/token-lifecycle-gateway/internal/grpcidentity"
	"github.com/sandeepkv93/token-lifecycle-gateway/internal/security"
)

type stubDenylist struct {
	mu      sync.Mutex
	revoked map[string]bool
	err     error
}

func (s *stubDenylist) IsDenylisted(_ context.Context, tokenUID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return false, s.err
	}
	return s.revoked[tokenUID], nil
}

func newTestJWTManager(now func() time.Time) *security.JWTManager {
	return security.NewJWTManager(
		"iss",
		"aud",
		"abcdefghijklmnopqrstuvwxyz123456",
		"abcdefghijklmnopqrstuvwxyz654321",
	).WithClock(now)
}

func mintAccess(t *testing.T, mgr *security.JWTManager, tokenUID string, ttl time.Duration) string {
	t.Helper()
	tok, err := mgr.MintAccessToken(security.Identity{UserUID: "u-1", Role: "USER"}, tokenUID, ttl)
	if err != nil {
		t.Fatalf("mint access token: %v", err)
	}
	return tok.Value
}

func errorCode(t *testing.T, rr *httptest.ResponseRecorder) string {
	t.Helper()
	var body struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode error body: %v", err)
	}
	return body.Error.Code
}

func gatewayFor(mgr *security.JWTManager, deny DenylistChecker, now func() time.Time, next http.Handler) http.Handler {
	return Pipeline(
		[]string{"/health/", "/api/v1/webhooks/", "/api/v1/auth/refresh"},
		Authenticate(mgr, deny, now),
		PropagateIdentity(mgr),
	)(next)
}

func TestPipelineRejections(t *testing.T) {
	now := time.Now()
	clock := func() time.Time { return now }
	mgr := newTestJWTManager(clock)
	valid := mintAccess(t, mgr, "tok-1", 15*time.Minute)
	revoked := mintAccess(t, mgr, "tok-revoked", 15*time.Minute)
	refresh, err := mgr.MintRefreshToken(security.Identity{UserUID: "u-1"}, "tok-1", time.Hour)
	if err != nil {
		t.Fatalf("mint refresh: %v", err)
	}
	deny := &stubDenylist{revoked: map[string]bool{"tok-revoked": true}}

	cases := []struct {
		name   string
		header string
		status int
		code   string
	}{
		{name: "missing header", header: "", status: http.StatusUnauthorized, code: "UNAUTHORIZED"},
		{name: "wrong scheme", header: "Basic " + valid, status: http.StatusUnauthorized, code: "BAD_REQUEST"},
		{name: "bare scheme", header: "Bearer", status: http.StatusUnauthorized, code: "BAD_REQUEST"},
		{name: "garbage token", header: "Bearer not-a-jwt", status: http.StatusUnauthorized, code: "UNAUTHORIZED"},
		{name: "refresh token as access", header: "Bearer " + refresh.Value, status: http.StatusUnauthorized, code: "UNAUTHORIZED"},
		{name: "denylisted", header: "Bearer " + revoked, status: http.StatusUnauthorized, code: "UNAUTHORIZED"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := gatewayFor(mgr, deny, clock, http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
				t.Fatal("rejected request must not reach the handler")
			}))
			req := httptest.NewRequest(http.MethodGet, "/api/v1/me", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			rr := httptest.NewRecorder()
			h.ServeHTTP(rr, req)
			if rr.Code != tc.status {
				t.Fatalf("expected %d, got %d", tc.status, rr.Code)
			}
			if got := errorCode(t, rr); got != tc.code {
				t.Fatalf("expected code %s, got %s", tc.code, got)
			}
		})
	}
}

func TestPipelineRejectsExpiredToken(t *testing.T) {
	now := time.Now()
	clock := func() time.Time { return now }
	mgr := newTestJWTManager(clock)
	raw := mintAccess(t, mgr, "tok-1", time.Minute)
	now = now.Add(2 * time.Minute)

	h := gatewayFor(mgr, &stubDenylist{}, clock, http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		t.Fatal("expired token must not reach the handler")
	}))
	req := httptest.NewRequest(http.MethodGet, "/api/v1/me", nil)
	req.Header.Set("Authorization", "Bearer "+raw)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for expired token, got %d", rr.Code)
	}
}

func TestPipelineDenylistUnavailableFailsClosed(t *testing.T) {
	now := time.Now()
	clock := func() time.Time { return now }
	mgr := newTestJWTManager(clock)
	raw := mintAccess(t, mgr, "tok-1", time.Minute)
	deny := &stubDenylist{err: fmt.Errorf("denylist lookup: %w: %w", domain.ErrStoreFailure, errors.New("dial tcp"))}

	h := gatewayFor(mgr, deny, clock, http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		t.Fatal("request must not pass without a denylist answer")
	}))
	req := httptest.NewRequest(http.MethodGet, "/api/v1/me", nil)
	req.Header.Set("Authorization", "Bearer "+raw)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rr.Code)
	}
	if got := errorCode(t, rr); got != "STORE_UNAVAILABLE" {
		t.Fatalf("expected STORE_UNAVAILABLE, got %s", got)
	}
}

func TestPipelineAttachesPrincipalAndForwardsUser(t *testing.T) {
	now := time.Now()
	clock := func() time.Time { return now }
	mgr := newTestJWTManager(clock)
	raw := mintAccess(t, mgr, "tok-1", 15*time.Minute)

	var (
		principal *Principal
		forwarded string
		grpcUser  string
	)
	h := gatewayFor(mgr, &stubDenylist{}, clock, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		principal, _ = PrincipalFromContext(r.Context())
		forwarded = r.Header.Get(ForwardedUserHeader)
		grpcUser, _ = grpcidentity.UserUIDFromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))
	req := httptest.NewRequest(http.MethodGet, "/api/v1/me", nil)
	req.Header.Set("Authorization", "Bearer "+raw)
	req.Header.Set(ForwardedUserHeader, "spoofed")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	if rr.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rr.Code)
	}
	if principal == nil || principal.UserUID != "u-1" || principal.Role != "USER" || principal.TokenUID != "tok-1" {
		t.Fatalf("unexpected principal: %+v", principal)
	}
	if forwarded != "u-1" || grpcUser != "u-1" {
		t.Fatalf("expected forwarded user u-1, got header=%q grpc=%q", forwarded, grpcUser)
	}
}

func TestPipelineBypassPrefixes(t *testing.T) {
	mgr := newTestJWTManager(time.Now)
	h := gatewayFor(mgr, &stubDenylist{}, time.Now, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get(ForwardedUserHeader) != "" {
			t.Fatal("forwarded identity must be stripped on bypassed paths")
		}
		w.WriteHeader(http.StatusOK)
	}))

	for _, path := range []string{"/health/live", "/api/v1/webhooks/provider", "/api/v1/auth/refresh", "/api/v1/auth/refresh/"} {
		req := httptest.NewRequest(http.MethodPost, path, nil)
		req.Header.Set(ForwardedUserHeader, "spoofed")
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, req)
		if rr.Code != http.StatusOK {
			t.Fatalf("%s: expected bypass, got %d", path, rr.Code)
		}
	}

	for _, path := range []string{"/healthz", "/api/v1/auth/refresh-anything", "/api/v1/auth/refreshx/y"} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, req)
		if rr.Code != http.StatusUnauthorized {
			t.Fatalf("%s: partial segment match must be authenticated, got %d", path, rr.Code)
		}
	}
}

func TestPropagateIdentityFailsIndependently(t *testing.T) {
	issuing := newTestJWTManager(time.Now)
	other := security.NewJWTManager("iss", "aud", "another-access-secret-0123456789", "another-refresh-secret-012345678")
	raw := mintAccess(t, issuing, "tok-1", time.Minute)

	h := PropagateIdentity(other)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		t.Fatal("stage must reject a token it cannot verify")
	}))
	req := httptest.NewRequest(http.MethodGet, "/api/v1/me", nil)
	req.Header.Set("Authorization", "Bearer "+raw)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rr.Code)
	}
}
