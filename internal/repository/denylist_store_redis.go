package repository

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

const revokedMarker = "revoked"

type RedisDenylistStore struct {
	client redis.UniversalClient
	prefix string
}

func NewRedisDenylistStore(client redis.UniversalClient, prefix string) *RedisDenylistStore {
	if prefix == "" {
		prefix = "token_denylist"
	}
	return &RedisDenylistStore{
		client: client,
		prefix: prefix,
	}
}

// Add writes SET <prefix>:<tokenUID> EX ttl. Non-positive TTLs are skipped:
// the token is already rejected on its own expiry.
func (s *RedisDenylistStore) Add(ctx context.Context, tokenUID string, ttl time.Duration) error {
	if s.client == nil || ttl <= 0 {
		return nil
	}
	return s.client.Set(ctx, s.key(tokenUID), revokedMarker, ttl).Err()
}

func (s *RedisDenylistStore) Contains(ctx context.Context, tokenUID string) (bool, error) {
	if s.client == nil {
		return false, nil
	}
	n, err := s.client.Exists(ctx, s.key(tokenUID)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *RedisDenylistStore) Ping(ctx context.Context) error {
	if s.client == nil {
		return nil
	}
	return s.client.Ping(ctx).Err()
}

func (s *RedisDenylistStore) key(tokenUID string) string {
	return s.prefix + ":" + tokenUID
}
