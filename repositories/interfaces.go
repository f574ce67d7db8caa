package repositories

import (
	"context"
	"errors"

	"github.com/taskpulse/backend/models"
)

var (
	// ErrNotFound is returned when no row matches. For owned resources this also
	// covers rows that exist but belong to another user.
	ErrNotFound = errors.New("record not found")

	// ErrDuplicate is returned when a unique constraint is violated
	ErrDuplicate = errors.New("duplicate record")
)

// TransactionManager manages database transactions
type TransactionManager interface {
	// Begin starts a new transaction
	Begin(ctx context.Context) (Transaction, error)

	// InTransaction executes a function within a transaction
	// Automatically commits if function succeeds, rolls back on error
	InTransaction(ctx context.Context, fn func(ctx context.Context, tx Transaction) error) error
}

// Transaction represents a database transaction
type Transaction interface {
	// Commit commits the transaction
	Commit() error

	// Rollback rolls back the transaction
	Rollback() error

	// Context returns the transaction context
	Context() context.Context
}

// UserRepository handles user account data operations
type UserRepository interface {
	// Create inserts the user and sets its ID. Returns ErrDuplicate for a taken email.
	Create(ctx context.Context, user *models.User) error

	// GetByID retrieves a user by ID
	GetByID(ctx context.Context, id int64) (*models.User, error)

	// GetByEmail retrieves a user by normalized email
	GetByEmail(ctx context.Context, email string) (*models.User, error)
}

// TaskRepository handles task data operations. Every read and write is scoped to an
// owner in the same statement that selects the row.
type TaskRepository interface {
	// ListByOwner returns the owner's tasks in id order
	ListByOwner(ctx context.Context, ownerID int64) ([]*models.Task, error)

	// GetByIDAndOwner retrieves a task only if ownerID owns it
	GetByIDAndOwner(ctx context.Context, id, ownerID int64) (*models.Task, error)

	// Create inserts the task and sets its ID and timestamps
	Create(ctx context.Context, task *models.Task) error

	// UpdateByIDAndOwner applies patch to a task only if ownerID owns it and returns
	// the stored result
	UpdateByIDAndOwner(ctx context.Context, id, ownerID int64, patch models.TaskPatch) (*models.Task, error)

	// ToggleByIDAndOwner flips is_completed in one atomic write, only if ownerID owns
	// the task, and returns the stored result
	ToggleByIDAndOwner(ctx context.Context, id, ownerID int64) (*models.Task, error)

	// DeleteByIDAndOwner deletes a task only if ownerID owns it
	DeleteByIDAndOwner(ctx context.Context, id, ownerID int64) error
}

// Repositories aggregates all repository interfaces
type Repositories struct {
	Users UserRepository
	Tasks TaskRepository
}
