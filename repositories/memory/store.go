// Package memory provides process-local implementations of the repository interfaces
// for development runs without PostgreSQL and for handler tests.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/taskpulse/backend/models"
	"github.com/taskpulse/backend/repositories"
)

// Store holds users and tasks behind one lock
type Store struct {
	mu         sync.RWMutex
	users      map[int64]*models.User
	usersEmail map[string]int64
	tasks      map[int64]*models.Task
	nextUserID int64
	nextTaskID int64
}

// NewStore creates an empty Store
func NewStore() *Store {
	return &Store{
		users:      make(map[int64]*models.User),
		usersEmail: make(map[string]int64),
		tasks:      make(map[int64]*models.Task),
	}
}

// NewRepositories returns repositories backed by s
func (s *Store) NewRepositories() *repositories.Repositories {
	return &repositories.Repositories{
		Users: &UserRepository{store: s},
		Tasks: &TaskRepository{store: s},
	}
}

// UserRepository implements repositories.UserRepository in memory
type UserRepository struct {
	store *Store
}

// Create stores a copy of user and sets its ID
func (r *UserRepository) Create(_ context.Context, user *models.User) error {
	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.usersEmail[user.Email]; exists {
		return repositories.ErrDuplicate
	}
	s.nextUserID++
	user.ID = s.nextUserID
	stored := *user
	s.users[user.ID] = &stored
	s.usersEmail[user.Email] = user.ID
	return nil
}

// GetByID retrieves a user by ID
func (r *UserRepository) GetByID(_ context.Context, id int64) (*models.User, error) {
	s := r.store
	s.mu.RLock()
	defer s.mu.RUnlock()

	user, ok := s.users[id]
	if !ok {
		return nil, repositories.ErrNotFound
	}
	out := *user
	return &out, nil
}

// GetByEmail retrieves a user by email
func (r *UserRepository) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	r.store.mu.RLock()
	id, ok := r.store.usersEmail[email]
	r.store.mu.RUnlock()
	if !ok {
		return nil, repositories.ErrNotFound
	}
	return r.GetByID(ctx, id)
}

// TaskRepository implements repositories.TaskRepository in memory
type TaskRepository struct {
	store *Store
}

// ListByOwner returns copies of the owner's tasks in id order
func (r *TaskRepository) ListByOwner(_ context.Context, ownerID int64) ([]*models.Task, error) {
	s := r.store
	s.mu.RLock()
	defer s.mu.RUnlock()

	tasks := []*models.Task{}
	for _, task := range s.tasks {
		if task.UserID == ownerID {
			tasks = append(tasks, copyTask(task))
		}
	}
	sort.Slice(tasks, func(i, j int) bool { return tasks[i].ID < tasks[j].ID })
	return tasks, nil
}

// GetByIDAndOwner retrieves a task only if ownerID owns it
func (r *TaskRepository) GetByIDAndOwner(_ context.Context, id, ownerID int64) (*models.Task, error) {
	s := r.store
	s.mu.RLock()
	defer s.mu.RUnlock()

	task, ok := s.tasks[id]
	if !ok || task.UserID != ownerID {
		return nil, repositories.ErrNotFound
	}
	return copyTask(task), nil
}

// Create stores a copy of task and sets its ID
func (r *TaskRepository) Create(_ context.Context, task *models.Task) error {
	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextTaskID++
	task.ID = s.nextTaskID
	s.tasks[task.ID] = copyTask(task)
	return nil
}

// UpdateByIDAndOwner applies patch under the write lock
func (r *TaskRepository) UpdateByIDAndOwner(_ context.Context, id, ownerID int64, patch models.TaskPatch) (*models.Task, error) {
	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()

	task, ok := s.tasks[id]
	if !ok || task.UserID != ownerID {
		return nil, repositories.ErrNotFound
	}
	task.Apply(patch, time.Now().UTC())
	return copyTask(task), nil
}

// ToggleByIDAndOwner flips the completion flag under the write lock
func (r *TaskRepository) ToggleByIDAndOwner(_ context.Context, id, ownerID int64) (*models.Task, error) {
	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()

	task, ok := s.tasks[id]
	if !ok || task.UserID != ownerID {
		return nil, repositories.ErrNotFound
	}
	task.IsCompleted = !task.IsCompleted
	task.UpdatedAt = time.Now().UTC()
	return copyTask(task), nil
}

// DeleteByIDAndOwner deletes a task only if ownerID owns it
func (r *TaskRepository) DeleteByIDAndOwner(_ context.Context, id, ownerID int64) error {
	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()

	task, ok := s.tasks[id]
	if !ok || task.UserID != ownerID {
		return repositories.ErrNotFound
	}
	delete(s.tasks, id)
	return nil
}

func copyTask(task *models.Task) *models.Task {
	out := *task
	if task.Description != nil {
		desc := *task.Description
		out.Description = &desc
	}
	return &out
}
