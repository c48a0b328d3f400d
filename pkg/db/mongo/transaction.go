package mongo

import (
	"context"
	"fmt"

	apperrors "medslots/pkg/errors"

	"go.mongodb.org/mongo-driver/mongo"
)

// TransactionFunc runs inside a transaction. The context it receives carries
// the session and must be passed to every operation that should take part.
type TransactionFunc func(ctx context.Context) error

type TransactionManager interface {
	ExecuteTransaction(ctx context.Context, fn TransactionFunc) error
}

type mongoTransactionManager struct {
	client *mongo.Client
}

func NewTransactionManager(client *mongo.Client) TransactionManager {
	return &mongoTransactionManager{
		client: client,
	}
}

func (m *mongoTransactionManager) ExecuteTransaction(ctx context.Context, fn TransactionFunc) error {
	session, err := m.client.StartSession()
	if err != nil {
		return fmt.Errorf("failed to start session: %w", err)
	}
	defer session.EndSession(ctx)

	_, err = session.WithTransaction(ctx, func(sessCtx mongo.SessionContext) (any, error) {
		return nil, fn(sessCtx)
	})

	if err != nil {
		if apperrors.IsAppError(err) {
			return err
		}
		return fmt.Errorf("transaction failed: %w", err)
	}

	return nil
}

// NoopTransactionManager runs fn directly. Used by the in-memory backend.
type NoopTransactionManager struct{}

func (NoopTransactionManager) ExecuteTransaction(ctx context.Context, fn TransactionFunc) error {
	return fn(ctx)
}
