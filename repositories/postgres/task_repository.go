package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/taskpulse/backend/models"
	"github.com/taskpulse/backend/repositories"
	"go.uber.org/zap"
)

const taskColumns = `id, title, description, is_completed, user_id, created_at, updated_at`

// TaskRepository implements the repositories.TaskRepository interface
type TaskRepository struct {
	db     *DB
	logger *zap.Logger
}

// NewTaskRepository creates a new task repository
func NewTaskRepository(db *DB, logger *zap.Logger) repositories.TaskRepository {
	return &TaskRepository{
		db:     db,
		logger: logger,
	}
}

// ListByOwner lists the owner's tasks in id order
func (r *TaskRepository) ListByOwner(ctx context.Context, ownerID int64) ([]*models.Task, error) {
	query := `
		SELECT ` + taskColumns + `
		FROM tasks
		WHERE user_id = $1
		ORDER BY id ASC
	`

	executor := GetExecutor(ctx, r.db)
	rows, err := executor.QueryContext(ctx, query, ownerID)
	if err != nil {
		return nil, fmt.Errorf("failed to list tasks: %w", err)
	}
	defer rows.Close()

	tasks := []*models.Task{}
	for rows.Next() {
		task := &models.Task{}
		if err := scanTask(rows, task); err != nil {
			return nil, fmt.Errorf("failed to scan task: %w", err)
		}
		tasks = append(tasks, task)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating tasks: %w", err)
	}

	return tasks, nil
}

// GetByIDAndOwner retrieves a task only if ownerID owns it
func (r *TaskRepository) GetByIDAndOwner(ctx context.Context, id, ownerID int64) (*models.Task, error) {
	query := `
		SELECT ` + taskColumns + `
		FROM tasks
		WHERE id = $1 AND user_id = $2
	`

	executor := GetExecutor(ctx, r.db)
	task := &models.Task{}
	if err := scanTask(executor.QueryRowContext(ctx, query, id, ownerID), task); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repositories.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get task: %w", err)
	}

	return task, nil
}

// Create creates a new task
func (r *TaskRepository) Create(ctx context.Context, task *models.Task) error {
	query := `
		INSERT INTO tasks (title, description, is_completed, user_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id
	`

	executor := GetExecutor(ctx, r.db)
	err := executor.QueryRowContext(ctx, query,
		task.Title,
		task.Description,
		task.IsCompleted,
		task.UserID,
		task.CreatedAt,
		task.UpdatedAt,
	).Scan(&task.ID)

	if err != nil {
		return fmt.Errorf("failed to create task: %w", err)
	}

	r.logger.Debug("task created", zap.Int64("id", task.ID), zap.Int64("user_id", task.UserID))
	return nil
}

// UpdateByIDAndOwner applies patch in a single statement so the ownership check and the
// write cannot be separated
func (r *TaskRepository) UpdateByIDAndOwner(ctx context.Context, id, ownerID int64, patch models.TaskPatch) (*models.Task, error) {
	query := `
		UPDATE tasks
		SET title = COALESCE($3, title),
			description = COALESCE($4, description),
			is_completed = COALESCE($5, is_completed),
			updated_at = $6
		WHERE id = $1 AND user_id = $2
		RETURNING ` + taskColumns

	executor := GetExecutor(ctx, r.db)
	task := &models.Task{}
	err := scanTask(executor.QueryRowContext(ctx, query,
		id,
		ownerID,
		patch.Title,
		patch.Description,
		patch.IsCompleted,
		time.Now().UTC(),
	), task)

	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repositories.ErrNotFound
		}
		return nil, fmt.Errorf("failed to update task: %w", err)
	}

	r.logger.Debug("task updated", zap.Int64("id", id))
	return task, nil
}

// ToggleByIDAndOwner negates is_completed in the row itself, so concurrent toggles
// serialize on the row lock instead of racing on a value read earlier
func (r *TaskRepository) ToggleByIDAndOwner(ctx context.Context, id, ownerID int64) (*models.Task, error) {
	query := `
		UPDATE tasks
		SET is_completed = NOT is_completed,
			updated_at = $3
		WHERE id = $1 AND user_id = $2
		RETURNING ` + taskColumns

	executor := GetExecutor(ctx, r.db)
	task := &models.Task{}
	err := scanTask(executor.QueryRowContext(ctx, query, id, ownerID, time.Now().UTC()), task)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repositories.ErrNotFound
		}
		return nil, fmt.Errorf("failed to toggle task: %w", err)
	}

	r.logger.Debug("task toggled", zap.Int64("id", id), zap.Bool("is_completed", task.IsCompleted))
	return task, nil
}

// DeleteByIDAndOwner deletes a task only if ownerID owns it
func (r *TaskRepository) DeleteByIDAndOwner(ctx context.Context, id, ownerID int64) error {
	query := `DELETE FROM tasks WHERE id = $1 AND user_id = $2`

	executor := GetExecutor(ctx, r.db)
	result, err := executor.ExecContext(ctx, query, id, ownerID)
	if err != nil {
		return fmt.Errorf("failed to delete task: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return repositories.ErrNotFound
	}

	r.logger.Debug("task deleted", zap.Int64("id", id))
	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanTask(row rowScanner, task *models.Task) error {
	return row.Scan(
		&task.ID,
		&task.Title,
		&task.Description,
		&task.IsCompleted,
		&task.UserID,
		&task.CreatedAt,
		&task.UpdatedAt,
	)
}
