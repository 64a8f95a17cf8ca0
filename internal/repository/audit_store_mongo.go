package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sandeepkv93/token-lifecycle-gateway/internal/domain"
	"github.com/sandeepkv93/token-lifecycle-gateway/internal/observability"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

const tokenRecordCollection = "token_records"

// recordCollection is the part of *mongo.Collection the store uses.
type recordCollection interface {
	FindOne(ctx context.Context, filter any, opts ...options.Lister[options.FindOneOptions]) *mongo.SingleResult
	Find(ctx context.Context, filter any, opts ...options.Lister[options.FindOptions]) (*mongo.Cursor, error)
	UpdateOne(ctx context.Context, filter, update any, opts ...options.Lister[options.UpdateOneOptions]) (*mongo.UpdateResult, error)
}

// MongoAuditStore keeps one document per session with _id = tokenUID.
type MongoAuditStore struct {
	client  *mongo.Client
	records recordCollection
}

func NewMongoAuditStore(ctx context.Context, uri, database string) (*MongoAuditStore, error) {
	const op = "repository.mongo.NewMongoAuditStore"

	client, err := mongo.Connect(options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("%s: connect: %w", op, err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("%s: ping: %w", op, err)
	}
	coll := client.Database(database).Collection(tokenRecordCollection)
	if err := ensureIndexes(ctx, coll); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("%s: indexes: %w", op, err)
	}
	return &MongoAuditStore{client: client, records: coll}, nil
}

func ensureIndexes(ctx context.Context, coll *mongo.Collection) error {
	_, err := coll.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "user_uid", Value: 1}, {Key: "revoked", Value: 1}},
	})
	if err != nil {
		return fmt.Errorf("token_records.user_uid_revoked index: %w", err)
	}
	return nil
}

func (s *MongoAuditStore) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

func (s *MongoAuditStore) FindByTokenUID(ctx context.Context, tokenUID string) (*domain.TokenRecord, error) {
	var rec domain.TokenRecord
	err := s.records.FindOne(ctx, bson.D{{Key: "_id", Value: tokenUID}}).Decode(&rec)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			observability.RecordRepositoryOperation(ctx, "audit_mongo", "find_by_token_uid", "not_found")
			return nil, domain.ErrTokenRecordNotFound
		}
		observability.RecordRepositoryOperation(ctx, "audit_mongo", "find_by_token_uid", "error")
		return nil, err
	}
	observability.RecordRepositoryOperation(ctx, "audit_mongo", "find_by_token_uid", "success")
	return &rec, nil
}

func (s *MongoAuditStore) ListActiveByUser(ctx context.Context, userUID string) ([]domain.TokenRecord, error) {
	opts := options.Find().SetSort(bson.D{{Key: "issued_at", Value: -1}})
	cur, err := s.records.Find(ctx, activeByUserFilter(userUID), opts)
	if err != nil {
		observability.RecordRepositoryOperation(ctx, "audit_mongo", "list_active_by_user", "error")
		return nil, err
	}
	var records []domain.TokenRecord
	if err := cur.All(ctx, &records); err != nil {
		observability.RecordRepositoryOperation(ctx, "audit_mongo", "list_active_by_user", "error")
		return nil, err
	}
	observability.RecordRepositoryOperation(ctx, "audit_mongo", "list_active_by_user", "success")
	return records, nil
}

// Save upserts by _id. $max keeps revocation flags monotonic since false
// sorts before true in BSON.
func (s *MongoAuditStore) Save(ctx context.Context, record *domain.TokenRecord) error {
	now := time.Now().UTC()
	if record.CreatedAt.IsZero() {
		record.CreatedAt = now
	}
	record.UpdatedAt = now
	_, err := s.records.UpdateOne(ctx,
		bson.D{{Key: "_id", Value: record.TokenUID}},
		upsertDocument(record),
		options.UpdateOne().SetUpsert(true),
	)
	if err != nil {
		observability.RecordRepositoryOperation(ctx, "audit_mongo", "save", "error")
		return err
	}
	observability.RecordRepositoryOperation(ctx, "audit_mongo", "save", "success")
	return nil
}

func (s *MongoAuditStore) MarkRevoked(ctx context.Context, tokenUID string, scope RevocationScope) error {
	res, err := s.records.UpdateOne(ctx,
		bson.D{{Key: "_id", Value: tokenUID}},
		bson.D{{Key: "$set", Value: revokedFields(scope, time.Now().UTC())}},
	)
	if err != nil {
		observability.RecordRepositoryOperation(ctx, "audit_mongo", "mark_revoked", "error")
		return err
	}
	if res.MatchedCount == 0 {
		observability.RecordRepositoryOperation(ctx, "audit_mongo", "mark_revoked", "not_found")
		return domain.ErrTokenRecordNotFound
	}
	observability.RecordRepositoryOperation(ctx, "audit_mongo", "mark_revoked", "success")
	return nil
}

func (s *MongoAuditStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx, nil)
}

func activeByUserFilter(userUID string) bson.D {
	return bson.D{{Key: "user_uid", Value: userUID}, {Key: "revoked", Value: false}}
}

func upsertDocument(record *domain.TokenRecord) bson.D {
	return bson.D{
		{Key: "$set", Value: bson.D{
			{Key: "user_uid", Value: record.UserUID},
			{Key: "access_token", Value: record.AccessToken},
			{Key: "refresh_token", Value: record.RefreshToken},
			{Key: "issued_at", Value: record.IssuedAt},
			{Key: "expires_at", Value: record.ExpiresAt},
			{Key: "refresh_token_expires_at", Value: record.RefreshTokenExpiresAt},
			{Key: "expired", Value: record.Expired},
			{Key: "updated_at", Value: record.UpdatedAt},
		}},
		{Key: "$max", Value: bson.D{
			{Key: "revoked", Value: record.Revoked},
			{Key: "refresh_token_revoked", Value: record.RefreshTokenRevoked},
		}},
		{Key: "$setOnInsert", Value: bson.D{
			{Key: "created_at", Value: record.CreatedAt},
		}},
	}
}

func revokedFields(scope RevocationScope, now time.Time) bson.D {
	fields := bson.D{{Key: "revoked", Value: true}}
	if scope == RevokeAccessAndRefresh {
		fields = append(fields, bson.E{Key: "refresh_token_revoked", Value: true})
	}
	return append(fields, bson.E{Key: "updated_at", Value: now})
}
