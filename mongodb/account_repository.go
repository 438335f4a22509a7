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

// AccountRepositoryMongo implements domain.AccountRepository.
type AccountRepositoryMongo struct {
	collection *mongo.Collection
}

// NewAccountRepositoryMongo creates the repository and ensures its indexes.
func NewAccountRepositoryMongo(ctx context.Context, db *mongo.Database) (*AccountRepositoryMongo, error) {
	repo := &AccountRepositoryMongo{collection: db.Collection(AccountsCollection)}
	if err := repo.createIndexes(ctx); err != nil {
		return nil, err
	}
	return repo, nil
}

func (r *AccountRepositoryMongo) createIndexes(ctx context.Context) error {
	indexModels := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "username", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{
			// Accounts created by OAuth may have no email.
			Keys:    bson.D{{Key: "email", Value: 1}},
			Options: options.Index().SetUnique(true).SetSparse(true),
		},
	}

	if _, err := r.collection.Indexes().CreateMany(ctx, indexModels); err != nil {
		return fmt.Errorf("failed to create indexes for %s collection: %w", AccountsCollection, err)
	}
	log.Info().Msgf("Indexes for %s collection ensured.", AccountsCollection)
	return nil
}

func (r *AccountRepositoryMongo) Create(ctx context.Context, account *domain.UserAccount) error {
	now := time.Now().UTC()
	if account.CreatedAt.IsZero() {
		account.CreatedAt = now
	}
	account.UpdatedAt = now

	if _, err := r.collection.InsertOne(ctx, account); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return domain.ErrDuplicateKey
		}
		log.Error().Err(err).Str("userID", account.ID).Msg("Error creating account")
		return err
	}
	return nil
}

func (r *AccountRepositoryMongo) findOne(ctx context.Context, filter bson.M) (*domain.UserAccount, error) {
	var account domain.UserAccount
	if err := r.collection.FindOne(ctx, filter).Decode(&account); err != nil {
		return nil, translateError(err)
	}
	return &account, nil
}

func (r *AccountRepositoryMongo) GetByID(ctx context.Context, id string) (*domain.UserAccount, error) {
	return r.findOne(ctx, bson.M{"_id": id})
}

func (r *AccountRepositoryMongo) GetByEmail(ctx context.Context, email string) (*domain.UserAccount, error) {
	return r.findOne(ctx, bson.M{"email": email})
}

func (r *AccountRepositoryMongo) ExistsByUsername(ctx context.Context, username string) (bool, error) {
	n, err := r.collection.CountDocuments(ctx, bson.M{"username": username}, options.Count().SetLimit(1))
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (r *AccountRepositoryMongo) Update(ctx context.Context, account *domain.UserAccount) error {
	account.UpdatedAt = time.Now().UTC()

	res, err := r.collection.ReplaceOne(ctx, bson.M{"_id": account.ID}, account)
	if err != nil {
		return translateError(err)
	}
	if res.MatchedCount == 0 {
		return domain.ErrNotFound
	}
	return nil
}

var _ domain.AccountRepository = (*AccountRepositoryMongo)(nil)
