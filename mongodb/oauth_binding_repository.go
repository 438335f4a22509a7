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

// OAuthBindingRepositoryMongo implements domain.OAuthBindingRepository.
type OAuthBindingRepositoryMongo struct {
	collection *mongo.Collection
}

// NewOAuthBindingRepositoryMongo creates the repository and ensures its indexes.
func NewOAuthBindingRepositoryMongo(ctx context.Context, db *mongo.Database) (*OAuthBindingRepositoryMongo, error) {
	repo := &OAuthBindingRepositoryMongo{collection: db.Collection(OAuthBindingsCollection)}
	if err := repo.createIndexes(ctx); err != nil {
		return nil, err
	}
	return repo, nil
}

func (r *OAuthBindingRepositoryMongo) createIndexes(ctx context.Context) error {
	indexModels := []mongo.IndexModel{
		{
			// One external identity binds to one local account.
			Keys:    bson.D{{Key: "provider", Value: 1}, {Key: "provider_user_id", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{
			// One binding per provider per account.
			Keys:    bson.D{{Key: "user_id", Value: 1}, {Key: "provider", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
	}

	if _, err := r.collection.Indexes().CreateMany(ctx, indexModels); err != nil {
		return fmt.Errorf("failed to create indexes for %s collection: %w", OAuthBindingsCollection, err)
	}
	log.Info().Msgf("Indexes for %s collection ensured.", OAuthBindingsCollection)
	return nil
}

func (r *OAuthBindingRepositoryMongo) Create(ctx context.Context, binding *domain.OAuthBinding) error {
	if binding.ID == "" {
		binding.ID = NewObjectID()
	}
	if binding.CreatedAt.IsZero() {
		binding.CreatedAt = time.Now().UTC()
	}

	if _, err := r.collection.InsertOne(ctx, binding); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return domain.ErrDuplicateKey
		}
		log.Error().Err(err).Str("provider", binding.Provider).Msg("Error creating oauth binding")
		return err
	}
	return nil
}

func (r *OAuthBindingRepositoryMongo) GetByProviderUserID(ctx context.Context, provider, providerUserID string) (*domain.OAuthBinding, error) {
	var binding domain.OAuthBinding
	filter := bson.M{"provider": provider, "provider_user_id": providerUserID}
	if err := r.collection.FindOne(ctx, filter).Decode(&binding); err != nil {
		return nil, translateError(err)
	}
	return &binding, nil
}

func (r *OAuthBindingRepositoryMongo) Delete(ctx context.Context, id string) error {
	if _, err := r.collection.DeleteOne(ctx, bson.M{"_id": id}); err != nil {
		log.Error().Err(err).Str("id", id).Msg("Error deleting oauth binding")
		return err
	}
	return nil
}

var _ domain.OAuthBindingRepository = (*OAuthBindingRepositoryMongo)(nil)
