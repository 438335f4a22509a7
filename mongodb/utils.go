package mongodb

import (
	"errors"

	"github.com/pilab-dev/shadow-auth/domain"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
)

// NewObjectID generates a new MongoDB ObjectID as a string
func NewObjectID() string {
	return bson.NewObjectID().Hex()
}

// translateError maps driver errors onto the domain sentinels.
func translateError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, mongo.ErrNoDocuments):
		return domain.ErrNotFound
	case mongo.IsDuplicateKeyError(err):
		return domain.ErrDuplicateKey
	default:
		return err
	}
}
