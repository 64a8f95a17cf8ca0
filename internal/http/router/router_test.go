package router

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/sandeepkv93/token-lifecycle-gateway/internal/domain"
	"github.com/sandeepkv93/token-lifecycle-gateway/internal/events"
	"github.com/sandeepkv93/token-lifecycle-gateway/internal/http/handler"
	"github.com/sandeepkv93/token-lifecycle-gateway/internal/repository"
	"github.com/sandeepkv93/token-lifecycle-gateway/internal/security"
	"github.com/sandeepkv93/token-lifecycle-gateway/internal/service"
)

type gatewayFixture struct {
	router   http.Handler
	sessions *service.SessionService
	repo     *repository.TokenRecordRepository
	events   *events.Dispatcher
	now      time.Time
}

func newGatewayFixture(t *testing.T) *gatewayFixture {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	audit := repository.NewGormAuditStore(db)
	if err := audit.Migrate(context.Background()); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	server := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: server.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	f := &gatewayFixture{now: time.Now().UTC()}
	clock := func() time.Time { return f.now }
	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	f.repo = repository.NewTokenRecordRepository(audit, repository.NewRedisDenylistStore(client, "deny_test"), log)
	codec := security.NewJWTManager("iss", "aud", "abcdefghijklmnopqrstuvwxyz123456", "abcdefghijklmnopqrstuvwxyz654321").WithClock(clock)
	f.events = events.NewDispatcher(events.NewRedisPublisher(client, "revocations"), time.Second, log)
	f.sessions = service.NewSessionService(f.repo, codec, f.events, service.SessionConfig{
		AccessTTL:  15 * time.Minute,
		RefreshTTL: 24 * time.Hour,
	}, log).WithClock(clock)

	f.router = NewRouter(Dependencies{
		AuthHandler:    handler.NewAuthHandler(f.sessions),
		UserHandler:    handler.NewUserHandler(),
		AdminHandler:   handler.NewAdminHandler(f.sessions),
		Verifier:       codec,
		Denylist:       f.repo,
		BypassPrefixes: []string{"/health/", "/api/v1/auth/refresh"},
		AdminRole:      "ADMIN",
		Readiness:      f.repo.Ping,
		Now:            clock,
	})
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = f.events.Wait(ctx)
	})
	return f
}

func (f *gatewayFixture) login(t *testing.T, userUID, role string) *domain.TokenRecord {
	t.Helper()
	rec, err := f.sessions.Login(context.Background(), security.Identity{UserUID: userUID, UserName: userUID, Role: role})
	if err != nil {
		t.Fatalf("login %s: %v", userUID, err)
	}
	return rec
}

func perform(r http.Handler, method, target string, headers map[string]string, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req.RemoteAddr = "10.10.10.10:1234"
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)
	return rr
}

func bearer(rec *domain.TokenRecord) map[string]string {
	return map[string]string{"Authorization": "Bearer " + rec.AccessToken}
}

func errorCode(t *testing.T, rr *httptest.ResponseRecorder) string {
	t.Helper()
	var body struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body %q: %v", rr.Body.String(), err)
	}
	return body.Error.Code + ":" + body.Error.Message
}

func TestRouterHealthEndpoints(t *testing.T) {
	f := newGatewayFixture(t)

	rr := perform(f.router, http.MethodGet, "/health/live", nil, "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 from live, got %d", rr.Code)
	}
	rr = perform(f.router, http.MethodGet, "/health/ready", nil, "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 from ready, got %d: %s", rr.Code, rr.Body.String())
	}

	unready := NewRouter(Dependencies{
		Readiness: func(context.Context) error { return errors.New("db down") },
		BypassPrefixes: []string{"/health/"},
	})
	rr = perform(unready, http.MethodGet, "/health/ready", nil, "")
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 from unready, got %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), "DEPENDENCY_UNREADY") {
		t.Fatalf("expected DEPENDENCY_UNREADY payload, got %s", rr.Body.String())
	}
}

func TestRouterSessionLifecycleEndToEnd(t *testing.T) {
	f := newGatewayFixture(t)

	r1 := f.login(t, "U1", "USER")
	r2 := f.login(t, "U1", "USER")

	rr := perform(f.router, http.MethodGet, "/api/v1/me", bearer(r1), "")
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("first session must be revoked after second login, got %d", rr.Code)
	}
	if got := errorCode(t, rr); got != "UNAUTHORIZED:token revoked" {
		t.Fatalf("unexpected rejection: %s", got)
	}

	rr = perform(f.router, http.MethodGet, "/api/v1/me", bearer(r2), "")
	if rr.Code != http.StatusOK {
		t.Fatalf("second session must be valid, got %d: %s", rr.Code, rr.Body.String())
	}
	if !strings.Contains(rr.Body.String(), `"forwarded_user":"U1"`) {
		t.Fatalf("expected forwarded user in payload, got %s", rr.Body.String())
	}

	rr = perform(f.router, http.MethodPost, "/api/v1/auth/logout", bearer(r2), "")
	if rr.Code != http.StatusOK {
		t.Fatalf("logout: expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	rr = perform(f.router, http.MethodGet, "/api/v1/me", bearer(r2), "")
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("session must be revoked after logout, got %d", rr.Code)
	}
}

func TestRouterExpiredSessionRejectedWithoutDenylistEntry(t *testing.T) {
	f := newGatewayFixture(t)
	rec := f.login(t, "U1", "USER")

	f.now = f.now.Add(time.Hour)
	if err := f.repo.Revoke(context.Background(), rec.TokenUID, rec.RemainingLifetime(f.now)); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	if hit, _ := f.repo.IsDenylisted(context.Background(), rec.TokenUID); hit {
		t.Fatal("expired token must not be denylisted")
	}
	rr := perform(f.router, http.MethodGet, "/api/v1/me", bearer(rec), "")
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected expiry rejection, got %d", rr.Code)
	}
	if got := errorCode(t, rr); got != "UNAUTHORIZED:token expired" {
		t.Fatalf("unexpected rejection: %s", got)
	}
}

func TestRouterRefreshIssuesUsableAccessToken(t *testing.T) {
	f := newGatewayFixture(t)
	rec := f.login(t, "U1", "USER")

	f.now = f.now.Add(20 * time.Minute)
	rr := perform(f.router, http.MethodGet, "/api/v1/me", bearer(rec), "")
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected original token expired, got %d", rr.Code)
	}

	rr = perform(f.router, http.MethodPost, "/api/v1/auth/refresh", nil, refreshBody(rec.TokenUID, rec.RefreshToken))
	if rr.Code != http.StatusOK {
		t.Fatalf("refresh: expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	var body struct {
		Data struct {
			TokenUID    string `json:"token_uid"`
			AccessToken string `json:"access_token"`
		} `json:"data"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode refresh: %v", err)
	}
	if body.Data.TokenUID != rec.TokenUID || body.Data.AccessToken == "" {
		t.Fatalf("unexpected refresh payload: %+v", body.Data)
	}

	rr = perform(f.router, http.MethodGet, "/api/v1/me", map[string]string{"Authorization": "Bearer " + body.Data.AccessToken}, "")
	if rr.Code != http.StatusOK {
		t.Fatalf("refreshed token must authenticate, got %d", rr.Code)
	}

	rr = perform(f.router, http.MethodPost, "/api/v1/auth/refresh", nil, refreshBody("missing", rec.RefreshToken))
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown token uid, got %d", rr.Code)
	}
	rr = perform(f.router, http.MethodPost, "/api/v1/auth/refresh", nil, refreshBody("", rec.RefreshToken))
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for blank token uid, got %d", rr.Code)
	}
	rr = perform(f.router, http.MethodPost, "/api/v1/auth/refresh", nil, `{"token_uid":"`+rec.TokenUID+`"}`)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 without a refresh token, got %d", rr.Code)
	}
}

func TestRouterRefreshRequiresMatchingRefreshToken(t *testing.T) {
	f := newGatewayFixture(t)
	rec := f.login(t, "U1", "USER")

	rr := perform(f.router, http.MethodPost, "/api/v1/auth/refresh", nil, refreshBody(rec.TokenUID, rec.AccessToken))
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for a mismatched refresh token, got %d: %s", rr.Code, rr.Body.String())
	}
	stored, err := f.repo.FindByTokenUID(context.Background(), rec.TokenUID)
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if stored.AccessToken != rec.AccessToken {
		t.Fatal("rejected refresh must not replace the access token")
	}
}

func TestRouterAdminRevocation(t *testing.T) {
	f := newGatewayFixture(t)
	admin := f.login(t, "ADMIN-1", "ADMIN")
	victim := f.login(t, "U1", "USER")

	rr := perform(f.router, http.MethodPost, "/api/v1/admin/tokens/"+admin.TokenUID+"/revoke", bearer(victim), `{"reason":"nope"}`)
	if rr.Code != http.StatusForbidden {
		t.Fatalf("non-admin must be forbidden, got %d", rr.Code)
	}

	rr = perform(f.router, http.MethodPost, "/api/v1/admin/tokens/"+victim.TokenUID+"/revoke", bearer(admin), `{"reason":"credential leak"}`)
	if rr.Code != http.StatusOK || !strings.Contains(rr.Body.String(), `"status":"revoked"`) {
		t.Fatalf("admin revoke: got %d: %s", rr.Code, rr.Body.String())
	}
	rr = perform(f.router, http.MethodPost, "/api/v1/admin/tokens/"+victim.TokenUID+"/revoke", bearer(admin), `{"reason":"credential leak"}`)
	if rr.Code != http.StatusOK || !strings.Contains(rr.Body.String(), `"status":"already_revoked"`) {
		t.Fatalf("repeat revoke must be a no-op: got %d: %s", rr.Code, rr.Body.String())
	}

	rr = perform(f.router, http.MethodGet, "/api/v1/me", bearer(victim), "")
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("security revocation must take effect, got %d", rr.Code)
	}
	rr = perform(f.router, http.MethodPost, "/api/v1/auth/refresh", nil, refreshBody(victim.TokenUID, victim.RefreshToken))
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("refresh after security revocation must fail, got %d", rr.Code)
	}

	other := f.login(t, "U2", "USER")
	rr = perform(f.router, http.MethodPost, "/api/v1/admin/users/U2/revoke", bearer(admin), `{"reason":"account takeover"}`)
	if rr.Code != http.StatusOK || !strings.Contains(rr.Body.String(), `"revoked":1`) {
		t.Fatalf("admin revoke user: got %d: %s", rr.Code, rr.Body.String())
	}
	rr = perform(f.router, http.MethodGet, "/api/v1/me", bearer(other), "")
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("user revocation must take effect, got %d", rr.Code)
	}

	rr = perform(f.router, http.MethodPost, "/api/v1/admin/tokens/missing/revoke", bearer(admin), `{"reason":"x"}`)
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown token, got %d", rr.Code)
	}
}

func refreshBody(tokenUID, refreshToken string) string {
	raw, _ := json.Marshal(map[string]string{"token_uid": tokenUID, "refresh_token": refreshToken})
	return string(raw)
}
