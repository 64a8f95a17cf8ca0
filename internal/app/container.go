package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/redis/go-redis/v9"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/sandeepkv93/token-lifecycle-gateway/internal/config"
	"github.com/sandeepkv93/token-lifecycle-gateway/internal/events"
	"github.com/sandeepkv93/token-lifecycle-gateway/internal/http/handler"
	"github.com/sandeepkv93/token-lifecycle-gateway/internal/http/router"
	"github.com/sandeepkv93/token-lifecycle-gateway/internal/repository"
	"github.com/sandeepkv93/token-lifecycle-gateway/internal/security"
	"github.com/sandeepkv93/token-lifecycle-gateway/internal/service"
)

// Container holds the wired token lifecycle components.
type Container struct {
	Records    *repository.TokenRecordRepository
	Sessions   *service.SessionService
	JWT        *security.JWTManager
	Dispatcher *events.Dispatcher

	closers []func(context.Context) error
}

func NewContainer(ctx context.Context, cfg *config.Config, log *slog.Logger) (*Container, error) {
	c := &Container{}

	audit, err := c.openAuditStore(ctx, cfg)
	if err != nil {
		_ = c.Close(ctx)
		return nil, err
	}

	var (
		denylist repository.DenylistStore
		rdb      redis.UniversalClient
	)
	if cfg.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB})
		c.closers = append(c.closers, func(context.Context) error { return client.Close() })
		rdb = client
		denylist = repository.NewRedisDenylistStore(client, cfg.DenylistKeyPrefix)
	} else {
		log.Warn("redis not configured, using process-local denylist")
		denylist = repository.NewInMemoryDenylistStore()
	}

	publisher, err := newPublisher(ctx, cfg, rdb, log)
	if err != nil {
		_ = c.Close(ctx)
		return nil, err
	}
	c.Dispatcher = events.NewDispatcher(publisher, cfg.EventPublishTimeout, log)
	// Pending publishes drain before the stores close.
	c.closers = append([]func(context.Context) error{c.Dispatcher.Wait}, c.closers...)

	c.Records = repository.NewTokenRecordRepository(audit, denylist, log)
	c.JWT = security.NewJWTManager(cfg.JWTIssuer, cfg.JWTAudience, cfg.JWTAccessSecret, cfg.JWTRefreshSecret)
	c.Sessions = service.NewSessionService(c.Records, c.JWT, c.Dispatcher, service.SessionConfig{
		AccessTTL:         cfg.JWTAccessTTL,
		RefreshTTL:        cfg.JWTRefreshTTL,
		RevokeFanoutLimit: cfg.RevokeFanoutLimit,
	}, log)
	return c, nil
}

func (c *Container) openAuditStore(ctx context.Context, cfg *config.Config) (repository.AuditStore, error) {
	switch cfg.AuditStore {
	case "mongo":
		store, err := repository.NewMongoAuditStore(ctx, cfg.MongoURI, cfg.MongoDatabase)
		if err != nil {
			return nil, err
		}
		c.closers = append(c.closers, store.Close)
		return store, nil
	default:
		var dialector gorm.Dialector
		switch cfg.DatabaseDriver {
		case "postgres":
			dialector = postgres.Open(cfg.DatabaseURL)
		default:
			dialector = sqlite.Open(cfg.DatabaseURL)
		}
		db, err := gorm.Open(dialector, &gorm.Config{Logger: logger.Default.LogMode(logger.Warn)})
		if err != nil {
			return nil, fmt.Errorf("open audit database: %w", err)
		}
		sqlDB, err := db.DB()
		if err != nil {
			return nil, fmt.Errorf("audit database handle: %w", err)
		}
		if cfg.DatabaseDriver != "postgres" {
			// sqlite allows a single writer.
			sqlDB.SetMaxOpenConns(1)
		}
		c.closers = append(c.closers, func(context.Context) error { return sqlDB.Close() })
		store := repository.NewGormAuditStore(db)
		if err := store.Migrate(ctx); err != nil {
			return nil, fmt.Errorf("migrate audit store: %w", err)
		}
		return store, nil
	}
}

func newPublisher(ctx context.Context, cfg *config.Config, rdb redis.UniversalClient, log *slog.Logger) (events.Publisher, error) {
	switch cfg.EventSink {
	case "sns":
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWSRegion))
		if err != nil {
			return nil, fmt.Errorf("load aws config: %w", err)
		}
		return events.NewSNSPublisher(sns.NewFromConfig(awsCfg), cfg.SNSTopicARN), nil
	case "redis":
		if rdb != nil {
			return events.NewRedisPublisher(rdb, cfg.EventChannel), nil
		}
		log.Warn("redis event sink requested without redis, logging events instead")
	}
	return events.NewLogPublisher(log), nil
}

// Ping is the readiness probe for the audit store and denylist.
func (c *Container) Ping(ctx context.Context) error {
	return c.Records.Ping(ctx)
}

// Close runs closers in order and joins their errors.
func (c *Container) Close(ctx context.Context) error {
	var errs []error
	for _, closeFn := range c.closers {
		if err := closeFn(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	c.closers = nil
	return errors.Join(errs...)
}

func NewHTTPServer(cfg *config.Config, c *Container) *http.Server {
	h := router.NewRouter(router.Dependencies{
		AuthHandler:    handler.NewAuthHandler(c.Sessions),
		UserHandler:    handler.NewUserHandler(),
		AdminHandler:   handler.NewAdminHandler(c.Sessions),
		Verifier:       c.JWT,
		Denylist:       c.Records,
		BypassPrefixes: cfg.AuthBypassPrefixes,
		AdminRole:      cfg.AdminRole,
		Readiness:      c.Ping,
		EnableOTelHTTP: cfg.EnableOTelHTTP,
	})
	return &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           h,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
}
