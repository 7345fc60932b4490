// Package mongo reads coach voice profiles from MongoDB.
package mongo

import (
	"context"
	stderrors "errors"
	"fmt"
	"time"

	"github.com/sweetpotato0/coach-qa/config"
	"github.com/sweetpotato0/coach-qa/errors"
	"github.com/sweetpotato0/coach-qa/voice"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// Store implements voice.ProfileStore on one collection keyed by coach_id.
type Store struct {
	client     *mongo.Client
	collection *mongo.Collection
}

// Open connects, pings and ensures the coach_id index.
func Open(ctx context.Context, cfg config.MongoConfig) (*Store, error) {
	if err := config.ValidateMongoDBConfig(cfg.URI, cfg.Database, cfg.Collection); err != nil {
		return nil, fmt.Errorf("%w: %v", errors.ErrInvalidInput, err)
	}

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.URI))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}

	s := &Store{
		client:     client,
		collection: client.Database(cfg.Database).Collection(cfg.Collection),
	}
	if err := s.createIndexes(ctx); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to create indexes: %w", err)
	}
	return s, nil
}

func (s *Store) createIndexes(ctx context.Context) error {
	_, err := s.collection.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "coach_id", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	return err
}

// GetVoiceProfile implements voice.ProfileStore.
func (s *Store) GetVoiceProfile(ctx context.Context, coachID string) (voice.Profile, error) {
	var p voice.Profile
	err := s.collection.FindOne(ctx, bson.M{"coach_id": coachID}).Decode(&p)
	if err != nil {
		if stderrors.Is(err, mongo.ErrNoDocuments) {
			return voice.Profile{}, fmt.Errorf("voice profile %s: %w", coachID, errors.ErrNotFound)
		}
		return voice.Profile{}, fmt.Errorf("%w: get voice profile: %v", errors.ErrStoreUnavailable, err)
	}
	return p, nil
}

// PutVoiceProfile upserts a profile. The pipeline never writes profiles;
// this exists for seeding and tooling.
func (s *Store) PutVoiceProfile(ctx context.Context, p voice.Profile) error {
	if p.CoachID == "" {
		return fmt.Errorf("%w: coach id is required", errors.ErrInvalidInput)
	}
	_, err := s.collection.ReplaceOne(ctx, bson.M{"coach_id": p.CoachID}, p, options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("failed to store voice profile: %w", err)
	}
	return nil
}

// Ping checks the connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx, nil)
}

// Close disconnects the client.
func (s *Store) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}
