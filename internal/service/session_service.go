package service

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/sandeepkv93/token-lifecycle-gateway/internal/domain"
	"github.com/sandeepkv93/token-lifecycle-gateway/internal/events"
	"github.com/sandeepkv93/token-lifecycle-gateway/internal/observability"
	"github.com/sandeepkv93/token-lifecycle-gateway/internal/security"
)

const (
	RevokeStatusRevoked        = "revoked"
	RevokeStatusAlreadyRevoked = "already_revoked"
)

type SessionConfig struct {
	AccessTTL         time.Duration
	RefreshTTL        time.Duration
	RevokeFanoutLimit int
}

type SessionService struct {
	records TokenRecords
	codec   TokenCodec
	events  EventDispatcher
	cfg     SessionConfig
	logger  *slog.Logger
	now     func() time.Time
}

func NewSessionService(records TokenRecords, codec TokenCodec, dispatcher EventDispatcher, cfg SessionConfig, logger *slog.Logger) *SessionService {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.RevokeFanoutLimit <= 0 {
		cfg.RevokeFanoutLimit = 8
	}
	return &SessionService{
		records: records,
		codec:   codec,
		events:  dispatcher,
		cfg:     cfg,
		logger:  logger,
		now:     time.Now,
	}
}

func (s *SessionService) WithClock(now func() time.Time) *SessionService {
	if now != nil {
		s.now = now
	}
	return s
}

// Login revokes every prior active session of the user and then issues a new
// one. Prior-session revocation is best effort and never blocks issuance.
func (s *SessionService) Login(ctx context.Context, id security.Identity) (*domain.TokenRecord, error) {
	if strings.TrimSpace(id.UserUID) == "" {
		return nil, fmt.Errorf("%w: user uid is required", domain.ErrInvalidArgument)
	}
	ctx, span := observability.StartSpan(ctx, "session.login", attribute.String("user_uid", id.UserUID))
	defer span.End()

	prior, err := s.records.ListActiveByUser(ctx, id.UserUID)
	if err != nil {
		s.logger.WarnContext(ctx, "prior session lookup failed", "user_uid", id.UserUID, "error", err.Error())
	}
	now := s.now()
	var failed atomic.Int64
	g := new(errgroup.Group)
	g.SetLimit(s.cfg.RevokeFanoutLimit)
	for i := range prior {
		rec := prior[i]
		g.Go(func() error {
			if err := s.records.Revoke(ctx, rec.TokenUID, rec.RemainingLifetime(now)); err != nil {
				failed.Add(1)
				s.logger.WarnContext(ctx, "prior session revoke failed",
					"user_uid", id.UserUID,
					"token_uid", rec.TokenUID,
					"error", err.Error(),
				)
			}
			return nil
		})
	}
	_ = g.Wait()

	tokenUID := uuid.NewString()
	access, err := s.codec.MintAccessToken(id, tokenUID, s.cfg.AccessTTL)
	if err != nil {
		observability.RecordSessionOperation(ctx, "login", "error")
		return nil, fmt.Errorf("mint access token: %w", err)
	}
	refresh, err := s.codec.MintRefreshToken(id, tokenUID, s.cfg.RefreshTTL)
	if err != nil {
		observability.RecordSessionOperation(ctx, "login", "error")
		return nil, fmt.Errorf("mint refresh token: %w", err)
	}
	rec, err := s.records.SaveAuditRecord(ctx, &domain.TokenRecord{
		TokenUID:              tokenUID,
		UserUID:               id.UserUID,
		AccessToken:           access.Value,
		RefreshToken:          refresh.Value,
		IssuedAt:              access.IssuedAt,
		ExpiresAt:             access.ExpiresAt,
		RefreshTokenExpiresAt: refresh.ExpiresAt,
	})
	if err != nil {
		observability.RecordSessionOperation(ctx, "login", "error")
		return nil, err
	}
	observability.RecordSessionOperation(ctx, "login", "success")
	s.logger.InfoContext(ctx, "session established",
		"user_uid", id.UserUID,
		"token_uid", tokenUID,
		"prior_sessions", len(prior),
		"prior_revoke_failures", failed.Load(),
	)
	return rec, nil
}

// Refresh mints a new access token for the session behind tokenUID. The
// record keeps its tokenUID, so the previous access token is announced as
// revoked but is not denylisted.
func (s *SessionService) Refresh(ctx context.Context, tokenUID string) (*domain.TokenRecord, error) {
	if strings.TrimSpace(tokenUID) == "" {
		return nil, fmt.Errorf("%w: token uid is required", domain.ErrInvalidArgument)
	}
	return s.refresh(ctx, tokenUID, "")
}

// RefreshWithToken is Refresh for callers that must also prove possession of
// the session's refresh token.
func (s *SessionService) RefreshWithToken(ctx context.Context, tokenUID, refreshToken string) (*domain.TokenRecord, error) {
	if strings.TrimSpace(tokenUID) == "" {
		return nil, fmt.Errorf("%w: token uid is required", domain.ErrInvalidArgument)
	}
	if strings.TrimSpace(refreshToken) == "" {
		return nil, fmt.Errorf("%w: refresh token is required", domain.ErrInvalidArgument)
	}
	return s.refresh(ctx, tokenUID, refreshToken)
}

func (s *SessionService) refresh(ctx context.Context, tokenUID, presented string) (*domain.TokenRecord, error) {
	ctx, span := observability.StartSpan(ctx, "session.refresh", attribute.String("token_uid", tokenUID))
	defer span.End()

	rec, err := s.records.FindByTokenUID(ctx, tokenUID)
	if err != nil {
		observability.RecordSessionOperation(ctx, "refresh", "error")
		return nil, err
	}
	now := s.now()
	if !rec.RefreshUsable(now) {
		observability.RecordSessionOperation(ctx, "refresh", "rejected")
		return nil, domain.ErrRefreshRejected
	}
	if presented != "" && subtle.ConstantTimeCompare([]byte(presented), []byte(rec.RefreshToken)) != 1 {
		observability.RecordSessionOperation(ctx, "refresh", "rejected")
		return nil, domain.ErrRefreshRejected
	}
	claims, err := s.codec.ParseRefreshToken(rec.RefreshToken)
	if err != nil || claims.UserUID() != rec.UserUID {
		observability.RecordSessionOperation(ctx, "refresh", "rejected")
		return nil, domain.ErrRefreshRejected
	}

	id := security.Identity{
		UserUID:  claims.UserUID(),
		UserName: claims.UserName,
		Email:    claims.Email,
		Role:     claims.Role,
	}
	access, err := s.codec.MintAccessToken(id, rec.TokenUID, s.cfg.AccessTTL)
	if err != nil {
		observability.RecordSessionOperation(ctx, "refresh", "error")
		return nil, fmt.Errorf("mint access token: %w", err)
	}

	s.events.Dispatch(ctx, events.AccessTokenRevoked(rec, rec.AccessToken))

	rec.AccessToken = access.Value
	rec.IssuedAt = access.IssuedAt
	rec.ExpiresAt = access.ExpiresAt
	rec.Revoked = false
	rec.Expired = false
	saved, err := s.records.SaveAuditRecord(ctx, rec)
	if err != nil {
		observability.RecordSessionOperation(ctx, "refresh", "error")
		return nil, err
	}
	observability.RecordSessionOperation(ctx, "refresh", "success")
	return saved, nil
}

// Logout revokes every active session of the user. Failures on individual
// sessions are logged; only a failed lookup is returned.
func (s *SessionService) Logout(ctx context.Context, userUID string) error {
	if strings.TrimSpace(userUID) == "" {
		return fmt.Errorf("%w: user uid is required", domain.ErrInvalidArgument)
	}
	ctx, span := observability.StartSpan(ctx, "session.logout", attribute.String("user_uid", userUID))
	defer span.End()

	active, err := s.records.ListActiveByUser(ctx, userUID)
	if err != nil {
		observability.RecordSessionOperation(ctx, "logout", "error")
		return err
	}
	now := s.now()
	var failed atomic.Int64
	g := new(errgroup.Group)
	g.SetLimit(s.cfg.RevokeFanoutLimit)
	for i := range active {
		rec := active[i]
		g.Go(func() error {
			s.events.Dispatch(ctx, events.SessionRevoked(&rec))
			if err := s.records.Revoke(ctx, rec.TokenUID, rec.RemainingLifetime(now)); err != nil {
				failed.Add(1)
				s.logger.WarnContext(ctx, "logout revoke failed",
					"user_uid", userUID,
					"token_uid", rec.TokenUID,
					"error", err.Error(),
				)
			}
			return nil
		})
	}
	_ = g.Wait()

	status := "success"
	if failed.Load() > 0 {
		status = "partial"
	}
	observability.RecordSessionOperation(ctx, "logout", status)
	s.logger.InfoContext(ctx, "user logged out", "user_uid", userUID, "sessions", len(active), "failures", failed.Load())
	return nil
}

// RevokeToken force-revokes one session. A session that is already fully
// revoked is left alone and produces no event.
func (s *SessionService) RevokeToken(ctx context.Context, tokenUID, reason string) (string, error) {
	if strings.TrimSpace(tokenUID) == "" {
		return "", fmt.Errorf("%w: token uid is required", domain.ErrInvalidArgument)
	}
	ctx, span := observability.StartSpan(ctx, "session.security_revoke", attribute.String("token_uid", tokenUID))
	defer span.End()

	rec, err := s.records.FindByTokenUID(ctx, tokenUID)
	if err != nil {
		observability.RecordSessionOperation(ctx, "security_revoke", "error")
		return "", err
	}
	return s.securityRevoke(ctx, rec, reason)
}

// RevokeUser force-revokes every active session of the user and returns how
// many were revoked by this call.
func (s *SessionService) RevokeUser(ctx context.Context, userUID, reason string) (int, error) {
	if strings.TrimSpace(userUID) == "" {
		return 0, fmt.Errorf("%w: user uid is required", domain.ErrInvalidArgument)
	}
	ctx, span := observability.StartSpan(ctx, "session.security_revoke_user", attribute.String("user_uid", userUID))
	defer span.End()

	active, err := s.records.ListActiveByUser(ctx, userUID)
	if err != nil {
		observability.RecordSessionOperation(ctx, "security_revoke", "error")
		return 0, err
	}
	var (
		revoked atomic.Int64
		errs    = make([]error, len(active))
	)
	g := new(errgroup.Group)
	g.SetLimit(s.cfg.RevokeFanoutLimit)
	for i := range active {
		rec := active[i]
		g.Go(func() error {
			status, err := s.securityRevoke(ctx, &rec, reason)
			if err != nil {
				errs[i] = fmt.Errorf("revoke %s: %w", rec.TokenUID, err)
				return nil
			}
			if status == RevokeStatusRevoked {
				revoked.Add(1)
			}
			return nil
		})
	}
	_ = g.Wait()
	return int(revoked.Load()), errors.Join(errs...)
}

func (s *SessionService) securityRevoke(ctx context.Context, rec *domain.TokenRecord, reason string) (string, error) {
	if rec.FullyRevoked() {
		observability.RecordSessionOperation(ctx, "security_revoke", "noop")
		s.logger.InfoContext(ctx, "session already revoked", "token_uid", rec.TokenUID, "user_uid", rec.UserUID)
		return RevokeStatusAlreadyRevoked, nil
	}

	// Built before the record changes so consumers can match live tokens.
	s.events.Dispatch(ctx, events.SecurityRevocation(rec, reason))

	if err := s.records.RevokeSession(ctx, rec.TokenUID, rec.RemainingLifetime(s.now())); err != nil {
		observability.RecordSessionOperation(ctx, "security_revoke", "error")
		return "", err
	}
	rec.Revoked = true
	rec.RefreshTokenRevoked = true
	observability.RecordSessionOperation(ctx, "security_revoke", "success")
	s.logger.WarnContext(ctx, "session revoked for security reasons",
		"token_uid", rec.TokenUID,
		"user_uid", rec.UserUID,
		"reason", reason,
	)
	return RevokeStatusRevoked, nil
}
