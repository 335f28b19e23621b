package mongo

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readconcern"
	"go.mongodb.org/mongo-driver/mongo/writeconcern"

	"alcyxob/coaching-engine/internal/repository"
)

// mongoTransactor implements repository.Transactor with multi-document
// transactions. The session travels inside the context handed to fn, so every
// repository call made with that context joins the transaction.
type mongoTransactor struct {
	client  *mongo.Client
	timeout time.Duration
}

// NewTransactor creates a Transactor. timeout bounds each top-level
// transaction, including the driver's own commit retries; zero means no bound.
func NewTransactor(client *mongo.Client, timeout time.Duration) repository.Transactor {
	return &mongoTransactor{client: client, timeout: timeout}
}

func (t *mongoTransactor) WithinTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	// Already inside a transaction: join it.
	if sess := mongo.SessionFromContext(ctx); sess != nil {
		return fn(ctx)
	}

	if t.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.timeout)
		defer cancel()
	}

	session, err := t.client.StartSession()
	if err != nil {
		return translateError(err)
	}
	defer session.EndSession(context.Background())

	txnOpts := options.Transaction().
		SetReadConcern(readconcern.Snapshot()).
		SetWriteConcern(writeconcern.Majority())

	_, err = session.WithTransaction(ctx, func(sc mongo.SessionContext) (interface{}, error) {
		return nil, fn(sc)
	}, txnOpts)
	return translateError(err)
}
