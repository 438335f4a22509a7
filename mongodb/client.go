package mongodb

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.mongodb.org/mongo-driver/v2/mongo/readpref"
	"go.opentelemetry.io/contrib/instrumentation/go.mongodb.org/mongo-driver/v2/mongo/otelmongo"
)

var (
	clientInstance *mongo.Client
	dbInstance     *mongo.Database
	initOnce       sync.Once
	initErr        error
)

// InitMongoDB connects the shared client and selects dbName.
// It should be called once at application startup.
func InitMongoDB(ctx context.Context, uri, dbName string) error {
	initOnce.Do(func() {
		log.Info().Str("database", dbName).Msg("Initializing MongoDB client")

		clientOptions := options.Client().ApplyURI(uri)
		clientOptions.SetConnectTimeout(10 * time.Second)
		clientOptions.SetMonitor(otelmongo.NewMonitor())

		client, err := mongo.Connect(clientOptions)
		if err != nil {
			initErr = err
			return
		}

		if err := client.Ping(ctx, readpref.Primary()); err != nil {
			_ = client.Disconnect(ctx)
			initErr = err
			return
		}

		clientInstance = client
		dbInstance = client.Database(dbName)
		log.Info().Msg("MongoDB client initialized successfully.")
	})
	return initErr
}

// GetDB returns the MongoDB database instance selected by InitMongoDB.
func GetDB() (*mongo.Database, error) {
	if dbInstance == nil {
		return nil, errors.New("mongodb is not initialized, call InitMongoDB first")
	}
	return dbInstance, nil
}

// Ping sends a ping to the MongoDB server using the global client.
// This is useful for health checks.
func Ping(ctx context.Context) error {
	if clientInstance == nil {
		return errors.New("mongodb is not initialized, call InitMongoDB first")
	}
	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return clientInstance.Ping(pingCtx, readpref.Primary())
}

// CloseMongoDB disconnects the MongoDB client.
// It should be called on application shutdown.
func CloseMongoDB(ctx context.Context) {
	if clientInstance != nil {
		log.Info().Msg("Closing MongoDB connection.")
		if err := clientInstance.Disconnect(ctx); err != nil {
			log.Error().Err(err).Msg("Error closing MongoDB connection")
		}
	}
}
