package repository

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/sandeepkv93/token-lifecycle-gateway/internal/domain"
	"github.com/sandeepkv93/token-lifecycle-gateway/internal/observability"
)

// TokenRecordRepository puts the audit store and the denylist behind one set
// of lifecycle operations. The two stores share no transaction: the denylist
// write is what makes a revocation effective, the audit write is advisory.
type TokenRecordRepository struct {
	audit    AuditStore
	denylist DenylistStore
	logger   *slog.Logger
}

func NewTokenRecordRepository(audit AuditStore, denylist DenylistStore, logger *slog.Logger) *TokenRecordRepository {
	if logger == nil {
		logger = slog.Default()
	}
	return &TokenRecordRepository{audit: audit, denylist: denylist, logger: logger}
}

func (r *TokenRecordRepository) FindByTokenUID(ctx context.Context, tokenUID string) (*domain.TokenRecord, error) {
	if strings.TrimSpace(tokenUID) == "" {
		return nil, fmt.Errorf("%w: token uid is required", domain.ErrInvalidArgument)
	}
	rec, err := r.audit.FindByTokenUID(ctx, tokenUID)
	if err != nil {
		return nil, storeError("find token record", err)
	}
	return rec, nil
}

func (r *TokenRecordRepository) ListActiveByUser(ctx context.Context, userUID string) ([]domain.TokenRecord, error) {
	if strings.TrimSpace(userUID) == "" {
		return nil, fmt.Errorf("%w: user uid is required", domain.ErrInvalidArgument)
	}
	records, err := r.audit.ListActiveByUser(ctx, userUID)
	if err != nil {
		return nil, storeError("list active token records", err)
	}
	return records, nil
}

func (r *TokenRecordRepository) SaveAuditRecord(ctx context.Context, record *domain.TokenRecord) (*domain.TokenRecord, error) {
	if record == nil || strings.TrimSpace(record.TokenUID) == "" {
		return nil, fmt.Errorf("%w: token uid is required", domain.ErrInvalidArgument)
	}
	if err := r.audit.Save(ctx, record); err != nil {
		return nil, storeError("save token record", err)
	}
	return record, nil
}

// IsDenylisted is the membership check used on every authenticated request.
func (r *TokenRecordRepository) IsDenylisted(ctx context.Context, tokenUID string) (bool, error) {
	ok, err := r.denylist.Contains(ctx, tokenUID)
	if err != nil {
		observability.RecordRepositoryOperation(ctx, "denylist", "contains", "error")
		return false, storeError("denylist lookup", err)
	}
	observability.RecordRepositoryOperation(ctx, "denylist", "contains", "success")
	return ok, nil
}

// Revoke denylists tokenUID for remaining and flags the audit record revoked.
// Both writes are issued concurrently. Only a denylist failure is returned;
// audit failures are logged. A non-positive remaining skips the denylist
// write because the token already fails the expiry check.
func (r *TokenRecordRepository) Revoke(ctx context.Context, tokenUID string, remaining time.Duration) error {
	return r.revoke(ctx, tokenUID, remaining, RevokeAccess)
}

// RevokeSession is Revoke plus the refresh-token flag. Audit failures are
// returned here since refresh is gated on the audit record alone.
func (r *TokenRecordRepository) RevokeSession(ctx context.Context, tokenUID string, remaining time.Duration) error {
	return r.revoke(ctx, tokenUID, remaining, RevokeAccessAndRefresh)
}

func (r *TokenRecordRepository) revoke(ctx context.Context, tokenUID string, remaining time.Duration, scope RevocationScope) error {
	if strings.TrimSpace(tokenUID) == "" {
		return fmt.Errorf("%w: token uid is required", domain.ErrInvalidArgument)
	}
	ctx, span := observability.StartSpan(ctx, "token_record.revoke",
		attribute.String("token_uid", tokenUID),
		attribute.String("scope", scope.String()),
		attribute.Int64("remaining_ms", remaining.Milliseconds()),
	)
	defer span.End()

	var (
		wg       sync.WaitGroup
		denyErr  error
		auditErr error
	)
	if remaining > 0 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			denyErr = r.denylist.Add(ctx, tokenUID, remaining)
		}()
	} else {
		observability.RecordRevocation(ctx, "denylist", "skipped_expired")
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		auditErr = r.audit.MarkRevoked(ctx, tokenUID, scope)
	}()
	wg.Wait()

	if remaining > 0 {
		if denyErr != nil {
			observability.RecordRevocation(ctx, "denylist", "error")
		} else {
			observability.RecordRevocation(ctx, "denylist", "success")
		}
	}
	if auditErr != nil {
		observability.RecordRevocation(ctx, "audit", "error")
		r.logger.WarnContext(ctx, "audit revocation write failed",
			"token_uid", tokenUID,
			"scope", scope.String(),
			"error", auditErr.Error(),
		)
	} else {
		observability.RecordRevocation(ctx, "audit", "success")
	}

	if denyErr != nil {
		span.RecordError(denyErr)
		span.SetStatus(codes.Error, "denylist write failed")
		r.logger.ErrorContext(ctx, "denylist write failed", "token_uid", tokenUID, "error", denyErr.Error())
		return storeError("denylist write", denyErr)
	}
	if scope == RevokeAccessAndRefresh && auditErr != nil {
		span.RecordError(auditErr)
		span.SetStatus(codes.Error, "audit write failed")
		return storeError("audit revocation write", auditErr)
	}
	return nil
}

// Ping checks the audit store and, when supported, the denylist backend.
func (r *TokenRecordRepository) Ping(ctx context.Context) error {
	var errs []error
	if err := r.audit.Ping(ctx); err != nil {
		errs = append(errs, fmt.Errorf("audit store: %w", err))
	}
	if p, ok := r.denylist.(interface{ Ping(context.Context) error }); ok {
		if err := p.Ping(ctx); err != nil {
			errs = append(errs, fmt.Errorf("denylist store: %w", err))
		}
	}
	return errors.Join(errs...)
}

// storeError keeps domain errors as they are and tags everything else as a
// store failure.
func storeError(op string, err error) error {
	if errors.Is(err, domain.ErrTokenRecordNotFound) || errors.Is(err, domain.ErrInvalidArgument) {
		return err
	}
	return fmt.Errorf("%s: %w: %w", op, domain.ErrStoreFailure, err)
}
