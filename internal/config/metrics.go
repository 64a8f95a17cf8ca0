package config

import (
	"context"
	"errors"
	"strings"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var (
	ErrConfigParse   = errors.New("parse config")
	ErrConfigInvalid = errors.New("validate config")
)

var (
	configMetricsOnce sync.Once
	configCounter     metric.Int64Counter
)

// recordConfigValidationEvent counts Load outcomes on the global meter. It
// runs before the meter provider exists, so early events go to the no-op meter.
func recordConfigValidationEvent(ctx context.Context, appEnv, outcome, errorClass string) {
	configMetricsOnce.Do(func() {
		counter, err := otel.Meter("token-lifecycle-gateway/config").Int64Counter(
			"config.load.events",
			metric.WithDescription("Configuration load attempts by outcome"),
		)
		if err == nil {
			configCounter = counter
		}
	})
	if configCounter == nil {
		return
	}
	configCounter.Add(ctx, 1, metric.WithAttributes(
		attribute.String("app_env", normalizeConfigProfile(appEnv)),
		attribute.String("outcome", outcome),
		attribute.String("error_class", errorClass),
	))
}

func normalizeConfigProfile(appEnv string) string {
	v := strings.ToLower(strings.TrimSpace(appEnv))
	if v == "" {
		return "unknown"
	}
	return v
}

func classifyConfigLoadError(err error) string {
	switch {
	case err == nil:
		return "none"
	case errors.Is(err, ErrConfigInvalid):
		return "validation"
	case errors.Is(err, ErrConfigParse):
		return "parse"
	default:
		return "load"
	}
}
