package observability

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/sandeepkv93/token-lifecycle-gateway/internal/config"

	sdklog "go.opentelemetry.io/otel/sdk/log"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// Runtime owns the OpenTelemetry providers for one gateway process.
type Runtime struct {
	MeterProvider  *sdkmetric.MeterProvider
	TracerProvider *sdktrace.TracerProvider
	LoggerProvider *sdklog.LoggerProvider
}

func InitRuntime(ctx context.Context, cfg *config.Config, logger *slog.Logger, lp *sdklog.LoggerProvider) (*Runtime, error) {
	mp, err := InitMetrics(ctx, cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("init metrics: %w", err)
	}
	tp, err := InitTracing(ctx, cfg, logger)
	if err != nil {
		_ = mp.Shutdown(ctx)
		return nil, fmt.Errorf("init tracing: %w", err)
	}
	return &Runtime{MeterProvider: mp, TracerProvider: tp, LoggerProvider: lp}, nil
}

type namedProvider struct {
	name string
	p    interface{ Shutdown(context.Context) error }
}

// Shutdown flushes traces, then metrics, then logs.
func (r *Runtime) Shutdown(ctx context.Context) error {
	if r == nil {
		return nil
	}
	var ordered []namedProvider
	if r.TracerProvider != nil {
		ordered = append(ordered, namedProvider{"tracer", r.TracerProvider})
	}
	if r.MeterProvider != nil {
		ordered = append(ordered, namedProvider{"meter", r.MeterProvider})
	}
	if r.LoggerProvider != nil {
		ordered = append(ordered, namedProvider{"logger", r.LoggerProvider})
	}
	var errs []error
	for _, o := range ordered {
		if err := o.p.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("shutdown %s provider: %w", o.name, err))
		}
	}
	return errors.Join(errs...)
}
