package mongodb

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

const collection = "revoked_tokens"

// Revocations keeps revoked token ids in MongoDB. The jti is the document
// _id, so a second insert of the same id fails with a duplicate key error.
type Revocations struct {
	client *mongo.Client
	tokens *mongo.Collection
}

type revokedDoc struct {
	ID        string    `bson:"_id"`
	ExpiresAt time.Time `bson:"expires_at"`
	RevokedAt time.Time `bson:"revoked_at"`
}

// New connects to MongoDB and sets up the TTL index. Documents are removed
// by the server once retention has passed since expires_at.
func New(ctx context.Context, uri, database string, retention time.Duration) (*Revocations, error) {
	const op = "storage.mongodb.New"

	client, err := mongo.Connect(options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("%s: connect: %w", op, err)
	}

	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("%s: ping: %w", op, err)
	}

	r := &Revocations{
		client: client,
		tokens: client.Database(database).Collection(collection),
	}

	if err := r.ensureIndexes(ctx, retention); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("%s: indexes: %w", op, err)
	}

	return r, nil
}

func (r *Revocations) ensureIndexes(ctx context.Context, retention time.Duration) error {
	_, err := r.tokens.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "expires_at", Value: 1}},
		Options: options.Index().SetExpireAfterSeconds(int32(retention / time.Second)),
	})
	if err != nil {
		return fmt.Errorf("revoked_tokens.expires_at TTL index: %w", err)
	}

	return nil
}

func (r *Revocations) Revoke(ctx context.Context, tokenID string, expiresAt time.Time) (bool, error) {
	const op = "storage.mongodb.Revoke"

	doc := revokedDoc{
		ID:        tokenID,
		ExpiresAt: expiresAt.UTC(),
		RevokedAt: time.Now().UTC(),
	}

	_, err := r.tokens.InsertOne(ctx, doc)
	if err != nil {
		if isDuplicateKeyError(err) {
			return false, nil
		}
		return false, fmt.Errorf("%s: %w", op, err)
	}

	return true, nil
}

func (r *Revocations) IsRevoked(ctx context.Context, tokenID string) (bool, error) {
	const op = "storage.mongodb.IsRevoked"

	n, err := r.tokens.CountDocuments(ctx, bson.D{{Key: "_id", Value: tokenID}}, options.Count().SetLimit(1))
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}

	return n > 0, nil
}

func (r *Revocations) Ping(ctx context.Context) error {
	return r.client.Ping(ctx, nil)
}

// Close disconnects from MongoDB.
func (r *Revocations) Close(ctx context.Context) error {
	return r.client.Disconnect(ctx)
}

// isDuplicateKeyError checks if the error is a MongoDB duplicate key error (code 11000).
func isDuplicateKeyError(err error) bool {
	var we mongo.WriteException
	if errors.As(err, &we) {
		for _, e := range we.WriteErrors {
			if e.Code == 11000 {
				return true
			}
		}
	}
	return false
}
