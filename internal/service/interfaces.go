package service

import (
	"context"
	"time"

	"github.com/sandeepkv93/token-lifecycle-gateway/internal/domain"
	"github.com/sandeepkv93/token-lifecycle-gateway/internal/events"
	"github.com/sandeepkv93/token-lifecycle-gateway/internal/security"
)

// TokenRecords is the lifecycle store used by the session use cases.
// repository.TokenRecordRepository satisfies it.
type TokenRecords interface {
	FindByTokenUID(ctx context.Context, tokenUID string) (*domain.TokenRecord, error)
	ListActiveByUser(ctx context.Context, userUID string) ([]domain.TokenRecord, error)
	SaveAuditRecord(ctx context.Context, record *domain.TokenRecord) (*domain.TokenRecord, error)
	Revoke(ctx context.Context, tokenUID string, remaining time.Duration) error
	RevokeSession(ctx context.Context, tokenUID string, remaining time.Duration) error
}

// TokenCodec mints and decodes the bearer tokens of a session.
type TokenCodec interface {
	MintAccessToken(id security.Identity, tokenUID string, ttl time.Duration) (security.MintedToken, error)
	MintRefreshToken(id security.Identity, tokenUID string, ttl time.Duration) (security.MintedToken, error)
	ParseRefreshToken(raw string) (*security.Claims, error)
}

type EventDispatcher interface {
	Dispatch(ctx context.Context, event events.RevocationEvent)
}

type SessionServiceInterface interface {
	Login(ctx context.Context, id security.Identity) (*domain.TokenRecord, error)
	Refresh(ctx context.Context, tokenUID string) (*domain.TokenRecord, error)
	RefreshWithToken(ctx context.Context, tokenUID, refreshToken string) (*domain.TokenRecord, error)
	Logout(ctx context.Context, userUID string) error
	RevokeToken(ctx context.Context, tokenUID, reason string) (string, error)
	RevokeUser(ctx context.Context, userUID, reason string) (int, error)
}
