package observability

import (
	"log/slog"
	"net/http"
	"strings"

	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/otel/trace"
)

// Audit logs a security event for r with request and trace correlation.
// Rejections and denials are logged at WARN.
func Audit(r *http.Request, event string, attrs ...any) {
	ctx := r.Context()
	base := []any{
		"event", event,
		"method", r.Method,
		"path", r.URL.Path,
		"request_id", chimiddleware.GetReqID(ctx),
		"remote_addr", r.RemoteAddr,
	}
	if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
		base = append(base, "trace_id", sc.TraceID().String())
	}
	slog.Default().Log(ctx, auditLevel(event), "security audit", append(base, attrs...)...)
}

func auditLevel(event string) slog.Level {
	for _, marker := range []string{"revoked", "denied", "unavailable"} {
		if strings.HasSuffix(event, marker) {
			return slog.LevelWarn
		}
	}
	return slog.LevelInfo
}
