package mongodb

import (
	"context"
	"fmt"
	"time"

	"github.com/pilab-dev/shadow-auth/domain"
	"github.com/rs/zerolog/log"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// OAuthLoginRepositoryMongo implements domain.OAuthLoginRepository.
type OAuthLoginRepositoryMongo struct {
	collection *mongo.Collection
	retention  time.Duration
}

// NewOAuthLoginRepositoryMongo creates the repository and ensures its indexes.
// A positive retention makes MongoDB expire transactions that long after
// creation; zero keeps every recorded outcome.
func NewOAuthLoginRepositoryMongo(ctx context.Context, db *mongo.Database, retention time.Duration) (*OAuthLoginRepositoryMongo, error) {
	repo := &OAuthLoginRepositoryMongo{collection: db.Collection(OAuthLoginsCollection), retention: retention}
	if err := repo.createIndexes(ctx); err != nil {
		return nil, err
	}
	return repo, nil
}

func (r *OAuthLoginRepositoryMongo) createIndexes(ctx context.Context) error {
	createdAt := mongo.IndexModel{Keys: bson.D{{Key: "created_at", Value: 1}}}
	if r.retention > 0 {
		createdAt.Options = options.Index().SetExpireAfterSeconds(int32(r.retention.Seconds()))
	}
	indexModels := []mongo.IndexModel{createdAt}

	if _, err := r.collection.Indexes().CreateMany(ctx, indexModels); err != nil {
		return fmt.Errorf("failed to create indexes for %s collection: %w", OAuthLoginsCollection, err)
	}
	return nil
}

func (r *OAuthLoginRepositoryMongo) Create(ctx context.Context, login *domain.OAuthLogin) error {
	now := time.Now().UTC()
	login.CreatedAt = now
	login.UpdatedAt = now

	_, err := r.collection.InsertOne(ctx, login)
	return translateError(err)
}

func (r *OAuthLoginRepositoryMongo) GetByID(ctx context.Context, id string) (*domain.OAuthLogin, error) {
	var login domain.OAuthLogin
	if err := r.collection.FindOne(ctx, bson.M{"_id": id}).Decode(&login); err != nil {
		return nil, translateError(err)
	}
	return &login, nil
}

func (r *OAuthLoginRepositoryMongo) UpdateOutcome(ctx context.Context, id string, outcome domain.OAuthLoginOutcome) error {
	set := bson.M{
		"status":        outcome.Status,
		"error_message": outcome.ErrorMessage,
		"updated_at":    time.Now().UTC(),
	}
	if outcome.ProviderUserID != "" {
		set["provider_user_id"] = outcome.ProviderUserID
	}
	if outcome.UserID != "" {
		set["user_id"] = outcome.UserID
	}

	res, err := r.collection.UpdateOne(ctx, bson.M{"_id": id}, bson.M{"$set": set})
	if err != nil {
		log.Error().Err(err).Str("oauthLoginID", id).Msg("Error updating oauth login outcome")
		return err
	}
	if res.MatchedCount == 0 {
		return domain.ErrNotFound
	}
	return nil
}

var _ domain.OAuthLoginRepository = (*OAuthLoginRepositoryMongo)(nil)
