package router

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/sandeepkv93/token-lifecycle-gateway/internal/http/handler"
	"github.com/sandeepkv93/token-lifecycle-gateway/internal/http/middleware"
	"github.com/sandeepkv93/token-lifecycle-gateway/internal/http/response"
)

// ReadinessFunc reports whether the backing stores are reachable.
type ReadinessFunc func(ctx context.Context) error

type Dependencies struct {
	AuthHandler    *handler.AuthHandler
	UserHandler    *handler.UserHandler
	AdminHandler   *handler.AdminHandler
	Verifier       middleware.AccessTokenVerifier
	Denylist       middleware.DenylistChecker
	BypassPrefixes []string
	AdminRole      string
	Readiness      ReadinessFunc
	Now            func() time.Time
	EnableOTelHTTP bool
}

func NewRouter(dep Dependencies) http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.Pipeline(dep.BypassPrefixes,
		middleware.Authenticate(dep.Verifier, dep.Denylist, dep.Now),
		middleware.PropagateIdentity(dep.Verifier),
	))

	r.Get("/health/live", func(w http.ResponseWriter, r *http.Request) {
		response.JSON(w, r, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Get("/health/ready", func(w http.ResponseWriter, r *http.Request) {
		if dep.Readiness == nil {
			response.JSON(w, r, http.StatusOK, map[string]string{"status": "ready"})
			return
		}
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := dep.Readiness(ctx); err != nil {
			response.Error(w, r, http.StatusServiceUnavailable, "DEPENDENCY_UNREADY", "dependencies are not ready", map[string]string{"error": err.Error()})
			return
		}
		response.JSON(w, r, http.StatusOK, map[string]string{"status": "ready"})
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/auth", func(r chi.Router) {
			r.Post("/refresh", dep.AuthHandler.Refresh)
			r.Post("/logout", dep.AuthHandler.Logout)
		})

		r.Get("/me", dep.UserHandler.Me)

		r.Route("/admin", func(r chi.Router) {
			r.Use(middleware.RequireRole(dep.AdminRole))
			r.Post("/tokens/{token_uid}/revoke", dep.AdminHandler.RevokeToken)
			r.Post("/users/{user_uid}/revoke", dep.AdminHandler.RevokeUser)
		})
	})

	var h http.Handler = r
	if dep.EnableOTelHTTP {
		h = otelhttp.NewHandler(r, "http.server")
	}
	return h
}
