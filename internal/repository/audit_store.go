package repository

import (
	"context"
	"errors"
	"time"

	"github.com/sandeepkv93/token-lifecycle-gateway/internal/domain"
	"github.com/sandeepkv93/token-lifecycle-gateway/internal/observability"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// RevocationScope selects which flags MarkRevoked sets. Flags only ever move
// from false to true.
type RevocationScope int

const (
	RevokeAccess RevocationScope = iota
	RevokeAccessAndRefresh
)

func (s RevocationScope) String() string {
	if s == RevokeAccessAndRefresh {
		return "access_and_refresh"
	}
	return "access"
}

// AuditStore is the durable lifecycle history of token records, keyed by
// tokenUID.
type AuditStore interface {
	FindByTokenUID(ctx context.Context, tokenUID string) (*domain.TokenRecord, error)
	ListActiveByUser(ctx context.Context, userUID string) ([]domain.TokenRecord, error)
	Save(ctx context.Context, record *domain.TokenRecord) error
	MarkRevoked(ctx context.Context, tokenUID string, scope RevocationScope) error
	Ping(ctx context.Context) error
}

type GormAuditStore struct{ db *gorm.DB }

func NewGormAuditStore(db *gorm.DB) *GormAuditStore { return &GormAuditStore{db: db} }

func (s *GormAuditStore) Migrate(ctx context.Context) error {
	return s.db.WithContext(ctx).AutoMigrate(&domain.TokenRecord{})
}

func (s *GormAuditStore) FindByTokenUID(ctx context.Context, tokenUID string) (*domain.TokenRecord, error) {
	var rec domain.TokenRecord
	err := s.db.WithContext(ctx).Where("token_uid = ?", tokenUID).First(&rec).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			observability.RecordRepositoryOperation(ctx, "audit", "find_by_token_uid", "not_found")
			return nil, domain.ErrTokenRecordNotFound
		}
		observability.RecordRepositoryOperation(ctx, "audit", "find_by_token_uid", "error")
		return nil, err
	}
	observability.RecordRepositoryOperation(ctx, "audit", "find_by_token_uid", "success")
	return &rec, nil
}

// ListActiveByUser filters on the revoked flag only. Records whose expiry has
// passed without an explicit revocation are still returned.
func (s *GormAuditStore) ListActiveByUser(ctx context.Context, userUID string) ([]domain.TokenRecord, error) {
	var records []domain.TokenRecord
	err := s.db.WithContext(ctx).
		Where("user_uid = ? AND revoked = ?", userUID, false).
		Order("issued_at DESC").
		Find(&records).Error
	if err != nil {
		observability.RecordRepositoryOperation(ctx, "audit", "list_active_by_user", "error")
		return nil, err
	}
	observability.RecordRepositoryOperation(ctx, "audit", "list_active_by_user", "success")
	return records, nil
}

// Save upserts by token_uid. Revocation flags are OR-ed with the stored values
// so a concurrent revocation is never undone by a stale write.
func (s *GormAuditStore) Save(ctx context.Context, record *domain.TokenRecord) error {
	record.UpdatedAt = time.Now().UTC()
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "token_uid"}},
		DoUpdates: append(
			clause.AssignmentColumns([]string{
				"user_uid", "access_token", "refresh_token", "issued_at", "expires_at",
				"refresh_token_expires_at", "expired", "updated_at",
			}),
			clause.Assignments(map[string]any{
				"revoked":               gorm.Expr("token_records.revoked OR excluded.revoked"),
				"refresh_token_revoked": gorm.Expr("token_records.refresh_token_revoked OR excluded.refresh_token_revoked"),
			})...,
		),
	}).Create(record).Error
	if err != nil {
		observability.RecordRepositoryOperation(ctx, "audit", "save", "error")
		return err
	}
	observability.RecordRepositoryOperation(ctx, "audit", "save", "success")
	return nil
}

func (s *GormAuditStore) MarkRevoked(ctx context.Context, tokenUID string, scope RevocationScope) error {
	updates := map[string]any{"revoked": true, "updated_at": time.Now().UTC()}
	if scope == RevokeAccessAndRefresh {
		updates["refresh_token_revoked"] = true
	}
	res := s.db.WithContext(ctx).Model(&domain.TokenRecord{}).
		Where("token_uid = ?", tokenUID).
		Updates(updates)
	if res.Error != nil {
		observability.RecordRepositoryOperation(ctx, "audit", "mark_revoked", "error")
		return res.Error
	}
	if res.RowsAffected == 0 {
		observability.RecordRepositoryOperation(ctx, "audit", "mark_revoked", "not_found")
		return domain.ErrTokenRecordNotFound
	}
	observability.RecordRepositoryOperation(ctx, "audit", "mark_revoked", "success")
	return nil
}

func (s *GormAuditStore) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}
