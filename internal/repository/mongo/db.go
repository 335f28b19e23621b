package mongo

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"alcyxob/coaching-engine/internal/repository"
)

// Default connection timeout
const defaultTimeout = 10 * time.Second

// ConnectDB establishes a connection to MongoDB using the provided URI.
// Transactions need a replica set (or mongos), so the URI should name one.
func ConnectDB(uri string) (*mongo.Client, error) {
	ctx, cancel := context.WithTimeout(context.Background(), defaultTimeout)
	defer cancel()

	clientOptions := options.Client().ApplyURI(uri)

	client, err := mongo.Connect(ctx, clientOptions)
	if err != nil {
		return nil, err
	}

	// Ping the primary: connect succeeds lazily even when the server is down.
	pingCtx, pingCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer pingCancel()

	err = client.Ping(pingCtx, readpref.Primary())
	if err != nil {
		disconnectCtx, disconnectCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer disconnectCancel()
		_ = client.Disconnect(disconnectCtx)
		return nil, err
	}

	return client, nil
}

// DisconnectDB gracefully disconnects the MongoDB client.
func DisconnectDB(client *mongo.Client) error {
	ctx, cancel := context.WithTimeout(context.Background(), defaultTimeout)
	defer cancel()
	return client.Disconnect(ctx)
}

// EnsureIndexes creates the indexes of every collection. The unique ones back
// the natural keys (one period per index, one execution per cell item, one
// credit per client/program/type, one snapshot per enrollment), so the server
// should not take traffic until this returns nil.
func EnsureIndexes(ctx context.Context, db *mongo.Database) error {
	steps := []struct {
		name   string
		ensure func(context.Context, *mongo.Collection) error
	}{
		{userCollectionName, EnsureUserIndexes},
		{itemCollectionName, EnsureItemIndexes},
		{templateCollectionName, EnsureTemplateIndexes},
		{enrollmentCollectionName, EnsureEnrollmentIndexes},
		{periodCollectionName, EnsurePeriodIndexes},
		{executionCollectionName, EnsureExecutionIndexes},
		{availabilityCollectionName, EnsureAvailabilityIndexes},
		{bookingCollectionName, EnsureBookingIndexes},
		{creditCollectionName, EnsureCreditIndexes},
		{archiveCollectionName, EnsureArchiveIndexes},
	}
	for _, s := range steps {
		if err := s.ensure(ctx, db.Collection(s.name)); err != nil {
			return fmt.Errorf("indexes for %s: %w", s.name, err)
		}
	}
	return nil
}

// NewRepository wires every MongoDB repository over db. Transactions run on client.
func NewRepository(client *mongo.Client, db *mongo.Database, txTimeout time.Duration) *repository.Repository {
	return &repository.Repository{
		Tx:           NewTransactor(client, txTimeout),
		User:         NewMongoUserRepository(db),
		Item:         NewMongoItemRepository(db),
		Template:     NewMongoTemplateRepository(db),
		Enrollment:   NewMongoEnrollmentRepository(db),
		Period:       NewMongoPeriodRepository(db),
		Execution:    NewMongoExecutionRepository(db),
		Availability: NewMongoAvailabilityRepository(db),
		Booking:      NewMongoBookingRepository(db),
		Credit:       NewMongoCreditRepository(db),
		Archive:      NewMongoArchiveRepository(db),
	}
}
