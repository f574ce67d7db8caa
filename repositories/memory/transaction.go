package memory

import (
	"context"

	"github.com/taskpulse/backend/repositories"
)

// TransactionManager satisfies repositories.TransactionManager for the memory store.
// Each repository call is atomic on its own; there is nothing to roll back.
type TransactionManager struct{}

// NewTransactionManager creates a new TransactionManager
func NewTransactionManager() repositories.TransactionManager {
	return TransactionManager{}
}

// Begin implements repositories.TransactionManager
func (TransactionManager) Begin(ctx context.Context) (repositories.Transaction, error) {
	return transaction{ctx: ctx}, nil
}

// InTransaction implements repositories.TransactionManager
func (m TransactionManager) InTransaction(ctx context.Context, fn func(ctx context.Context, tx repositories.Transaction) error) error {
	tx, _ := m.Begin(ctx)
	return fn(ctx, tx)
}

type transaction struct {
	ctx context.Context
}

func (transaction) Commit() error              { return nil }
func (transaction) Rollback() error            { return nil }
func (t transaction) Context() context.Context { return t.ctx }
