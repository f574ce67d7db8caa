// Package tasks implements the task use cases on top of an ownership scope.
package tasks

import (
	"context"

	"github.com/taskpulse/backend/internal/observability"
	"github.com/taskpulse/backend/models"
	"github.com/taskpulse/backend/repositories"
	"github.com/taskpulse/backend/services"
	"github.com/taskpulse/backend/services/isolation"
	"go.uber.org/zap"
)

// Scope is the ownership scope the service works through
type Scope = isolation.Scope[models.Task, models.TaskPatch]

// NewScope builds the task ownership scope over repo
func NewScope(repo repositories.TaskRepository, metrics *observability.Metrics, logger *zap.Logger) *Scope {
	return isolation.NewScope[models.Task, models.TaskPatch]("task", repo, func(t *models.Task, ownerID int64) {
		t.UserID = ownerID
	}, metrics, logger)
}

// Service handles task operations for an authenticated owner
type Service struct {
	scope     *Scope
	repo      repositories.TaskRepository
	txManager repositories.TransactionManager
	logger    *zap.Logger
}

// NewService creates a new task Service over repo
func NewService(repo repositories.TaskRepository, txManager repositories.TransactionManager, metrics *observability.Metrics, logger *zap.Logger) *Service {
	return &Service{
		scope:     NewScope(repo, metrics, logger),
		repo:      repo,
		txManager: txManager,
		logger:    logger,
	}
}

// CheckPathOwner rejects requests whose path user id differs from the principal
func (s *Service) CheckPathOwner(pathUserID, principalID int64) error {
	return s.scope.CheckPathOwner(pathUserID, principalID)
}

// List returns all tasks of ownerID in id order
func (s *Service) List(ctx context.Context, ownerID int64) ([]*models.Task, error) {
	return s.scope.ListOwned(ctx, ownerID)
}

// Get returns one task of ownerID
func (s *Service) Get(ctx context.Context, id, ownerID int64) (*models.Task, error) {
	return s.scope.GetOwned(ctx, id, ownerID)
}

// Create stores a new task owned by ownerID
func (s *Service) Create(ctx context.Context, ownerID int64, req models.CreateTaskRequest) (*models.Task, error) {
	task, err := s.scope.CreateOwned(ctx, ownerID, models.NewTask(req.Title, req.Description, req.IsCompleted))
	if err != nil {
		return nil, err
	}
	s.logger.Debug("task created", zap.Int64("task_id", task.ID), zap.Int64("user_id", ownerID))
	return task, nil
}

// Update applies a partial update. An empty patch returns the task unchanged.
func (s *Service) Update(ctx context.Context, id, ownerID int64, patch models.TaskPatch) (*models.Task, error) {
	if patch.IsEmpty() {
		return s.scope.GetOwned(ctx, id, ownerID)
	}
	return s.scope.UpdateOwned(ctx, id, ownerID, patch)
}

// SetCompleted sets the completion flag
func (s *Service) SetCompleted(ctx context.Context, id, ownerID int64, completed bool) (*models.Task, error) {
	return s.scope.UpdateOwned(ctx, id, ownerID, models.TaskPatch{IsCompleted: &completed})
}

// ToggleComplete flips the completion flag. The flip happens in the store in one
// write, so concurrent toggles never read the same old value.
func (s *Service) ToggleComplete(ctx context.Context, id, ownerID int64) (*models.Task, error) {
	task, err := services.WithTransactionResult(ctx, s.txManager, func(txCtx context.Context) (*models.Task, error) {
		return s.scope.MutateOwned(txCtx, "toggle", id, ownerID, func(ctx context.Context) (*models.Task, error) {
			return s.repo.ToggleByIDAndOwner(ctx, id, ownerID)
		})
	})
	if err != nil {
		// begin and commit failures come back undecorated
		if services.GetErrorType(err) == "" {
			return nil, services.WrapInternal("failed to toggle task", err)
		}
		return nil, err
	}
	return task, nil
}

// Delete removes a task of ownerID
func (s *Service) Delete(ctx context.Context, id, ownerID int64) error {
	if err := s.scope.DeleteOwned(ctx, id, ownerID); err != nil {
		return err
	}
	s.logger.Debug("task deleted", zap.Int64("task_id", id), zap.Int64("user_id", ownerID))
	return nil
}
