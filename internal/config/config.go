package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

type Config struct {
	AppEnv   string `yaml:"app_env" env:"APP_ENV" env-default:"local"`
	HTTPAddr string `yaml:"http_addr" env:"HTTP_ADDR" env-default:":8080"`
	LogLevel string `yaml:"log_level" env:"LOG_LEVEL" env-default:"info"`

	JWTIssuer        string        `yaml:"jwt_issuer" env:"JWT_ISSUER" env-default:"token-lifecycle-gateway"`
	JWTAudience      string        `yaml:"jwt_audience" env:"JWT_AUDIENCE" env-default:"token-lifecycle-clients"`
	JWTAccessSecret  string        `yaml:"jwt_access_secret" env:"JWT_ACCESS_SECRET"`
	JWTRefreshSecret string        `yaml:"jwt_refresh_secret" env:"JWT_REFRESH_SECRET"`
	JWTAccessTTL     time.Duration `yaml:"jwt_access_ttl" env:"JWT_ACCESS_TTL" env-default:"15m"`
	JWTRefreshTTL    time.Duration `yaml:"jwt_refresh_ttl" env:"JWT_REFRESH_TTL" env-default:"720h"`

	AuditStore     string `yaml:"audit_store" env:"AUDIT_STORE" env-default:"gorm"`
	DatabaseDriver string `yaml:"database_driver" env:"DATABASE_DRIVER" env-default:"sqlite"`
	DatabaseURL    string `yaml:"database_url" env:"DATABASE_URL" env-default:"file:token_records.db?cache=shared"`
	MongoURI       string `yaml:"mongo_uri" env:"MONGO_URI" env-default:"mongodb://localhost:27017"`
	MongoDatabase  string `yaml:"mongo_database" env:"MONGO_DATABASE" env-default:"token_lifecycle"`

	RedisAddr         string `yaml:"redis_addr" env:"REDIS_ADDR" env-default:"localhost:6379"`
	RedisPassword     string `yaml:"redis_password" env:"REDIS_PASSWORD"`
	RedisDB           int    `yaml:"redis_db" env:"REDIS_DB" env-default:"0"`
	DenylistKeyPrefix string `yaml:"denylist_key_prefix" env:"DENYLIST_KEY_PREFIX" env-default:"token_denylist"`

	EventSink           string        `yaml:"event_sink" env:"EVENT_SINK" env-default:"redis"`
	EventChannel        string        `yaml:"event_channel" env:"EVENT_CHANNEL" env-default:"token_revocation_events"`
	SNSTopicARN         string        `yaml:"sns_topic_arn" env:"SNS_TOPIC_ARN"`
	AWSRegion           string        `yaml:"aws_region" env:"AWS_REGION" env-default:"us-east-1"`
	EventPublishTimeout time.Duration `yaml:"event_publish_timeout" env:"EVENT_PUBLISH_TIMEOUT" env-default:"5s"`

	AuthBypassPrefixes []string `yaml:"auth_bypass_prefixes" env:"AUTH_BYPASS_PREFIXES" env-separator:"," env-default:"/health/,/api/v1/auth/refresh,/api/v1/auth/oauth/,/api/v1/webhooks/"`
	RevokeFanoutLimit  int      `yaml:"revoke_fanout_limit" env:"REVOKE_FANOUT_LIMIT" env-default:"8"`
	AdminRole          string   `yaml:"admin_role" env:"ADMIN_ROLE" env-default:"ADMIN"`

	OTELServiceName           string        `yaml:"otel_service_name" env:"OTEL_SERVICE_NAME" env-default:"token-lifecycle-gateway"`
	OTELEnvironment           string        `yaml:"otel_environment" env:"OTEL_ENVIRONMENT" env-default:"local"`
	OTELExporterOTLPEndpoint  string        `yaml:"otel_exporter_otlp_endpoint" env:"OTEL_EXPORTER_OTLP_ENDPOINT" env-default:"localhost:4317"`
	OTELExporterOTLPInsecure  bool          `yaml:"otel_exporter_otlp_insecure" env:"OTEL_EXPORTER_OTLP_INSECURE" env-default:"true"`
	OTELMetricsEnabled        bool          `yaml:"otel_metrics_enabled" env:"OTEL_METRICS_ENABLED" env-default:"false"`
	OTELTracingEnabled        bool          `yaml:"otel_tracing_enabled" env:"OTEL_TRACING_ENABLED" env-default:"false"`
	OTELLogsEnabled           bool          `yaml:"otel_logs_enabled" env:"OTEL_LOGS_ENABLED" env-default:"false"`
	OTELMetricsExportInterval time.Duration `yaml:"otel_metrics_export_interval" env:"OTEL_METRICS_EXPORT_INTERVAL" env-default:"15s"`
	OTELTraceSamplingRatio    float64       `yaml:"otel_trace_sampling_ratio" env:"OTEL_TRACE_SAMPLING_RATIO" env-default:"1.0"`
	EnableOTelHTTP            bool          `yaml:"enable_otel_http" env:"ENABLE_OTEL_HTTP" env-default:"false"`

	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT" env-default:"15s"`
}

// Load reads configuration from path when it exists, otherwise from the
// environment only. Environment variables always win over file values.
func Load(path string) (*Config, error) {
	var cfg Config
	var err error
	if path != "" {
		if _, statErr := os.Stat(path); statErr == nil {
			err = cleanenv.ReadConfig(path, &cfg)
		} else {
			err = cleanenv.ReadEnv(&cfg)
		}
	} else {
		err = cleanenv.ReadEnv(&cfg)
	}
	if err != nil {
		err = fmt.Errorf("%w: %w", ErrConfigParse, err)
		recordConfigValidationEvent(context.Background(), cfg.AppEnv, "error", classifyConfigLoadError(err))
		return nil, err
	}
	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		err = fmt.Errorf("%w: %w", ErrConfigInvalid, err)
		recordConfigValidationEvent(context.Background(), cfg.AppEnv, "error", classifyConfigLoadError(err))
		return nil, err
	}
	recordConfigValidationEvent(context.Background(), cfg.AppEnv, "success", classifyConfigLoadError(nil))
	return &cfg, nil
}

func (c *Config) normalize() {
	c.AuditStore = strings.ToLower(strings.TrimSpace(c.AuditStore))
	c.DatabaseDriver = strings.ToLower(strings.TrimSpace(c.DatabaseDriver))
	c.EventSink = strings.ToLower(strings.TrimSpace(c.EventSink))
	prefixes := c.AuthBypassPrefixes[:0]
	for _, p := range c.AuthBypassPrefixes {
		if p = strings.TrimSpace(p); p != "" {
			prefixes = append(prefixes, p)
		}
	}
	c.AuthBypassPrefixes = prefixes
}

func (c *Config) Validate() error {
	var errs []error
	if len(c.JWTAccessSecret) < 32 {
		errs = append(errs, errors.New("JWT_ACCESS_SECRET must be at least 32 bytes"))
	}
	if len(c.JWTRefreshSecret) < 32 {
		errs = append(errs, errors.New("JWT_REFRESH_SECRET must be at least 32 bytes"))
	}
	if c.JWTAccessSecret != "" && c.JWTAccessSecret == c.JWTRefreshSecret {
		errs = append(errs, errors.New("JWT_ACCESS_SECRET and JWT_REFRESH_SECRET must differ"))
	}
	if c.JWTAccessTTL <= 0 || c.JWTRefreshTTL <= 0 {
		errs = append(errs, errors.New("JWT_ACCESS_TTL and JWT_REFRESH_TTL must be positive"))
	}
	if c.JWTRefreshTTL < c.JWTAccessTTL {
		errs = append(errs, errors.New("JWT_REFRESH_TTL must not be shorter than JWT_ACCESS_TTL"))
	}
	switch c.AuditStore {
	case "gorm":
		if c.DatabaseDriver != "sqlite" && c.DatabaseDriver != "postgres" {
			errs = append(errs, fmt.Errorf("DATABASE_DRIVER %q is not supported", c.DatabaseDriver))
		}
		if c.DatabaseURL == "" {
			errs = append(errs, errors.New("DATABASE_URL is required"))
		}
	case "mongo":
		if c.MongoURI == "" || c.MongoDatabase == "" {
			errs = append(errs, errors.New("MONGO_URI and MONGO_DATABASE are required"))
		}
	default:
		errs = append(errs, fmt.Errorf("AUDIT_STORE %q is not supported", c.AuditStore))
	}
	switch c.EventSink {
	case "redis":
		if c.EventChannel == "" {
			errs = append(errs, errors.New("EVENT_CHANNEL is required"))
		}
	case "sns":
		if c.SNSTopicARN == "" {
			errs = append(errs, errors.New("SNS_TOPIC_ARN is required when EVENT_SINK=sns"))
		}
	case "log":
	default:
		errs = append(errs, fmt.Errorf("EVENT_SINK %q is not supported", c.EventSink))
	}
	if c.RedisAddr == "" {
		errs = append(errs, errors.New("REDIS_ADDR is required"))
	}
	if c.RevokeFanoutLimit <= 0 {
		errs = append(errs, errors.New("REVOKE_FANOUT_LIMIT must be positive"))
	}
	if c.EventPublishTimeout <= 0 {
		errs = append(errs, errors.New("EVENT_PUBLISH_TIMEOUT must be positive"))
	}
	if c.OTELTraceSamplingRatio < 0 || c.OTELTraceSamplingRatio > 1 {
		errs = append(errs, errors.New("OTEL_TRACE_SAMPLING_RATIO must be within [0,1]"))
	}
	return errors.Join(errs...)
}
