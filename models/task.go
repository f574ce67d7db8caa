package models

import "time"

// Task is a todo item owned by exactly one user
type Task struct {
	ID          int64     `json:"id" db:"id"`
	Title       string    `json:"title" db:"title"`
	Description *string   `json:"description" db:"description"`
	IsCompleted bool      `json:"is_completed" db:"is_completed"`
	UserID      int64     `json:"user_id" db:"user_id"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time `json:"updated_at" db:"updated_at"`
}

// TableName returns the table name for the Task model
func (Task) TableName() string {
	return "tasks"
}

// NewTask creates a new Task instance. The ID and owner are assigned on create.
func NewTask(title string, description *string, completed bool) *Task {
	now := time.Now().UTC()
	return &Task{
		Title:       title,
		Description: description,
		IsCompleted: completed,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// TaskPatch is a partial update. Nil fields are left unchanged.
type TaskPatch struct {
	Title       *string
	Description *string
	IsCompleted *bool
}

// IsEmpty reports whether the patch changes nothing
func (p TaskPatch) IsEmpty() bool {
	return p.Title == nil && p.Description == nil && p.IsCompleted == nil
}

// Apply copies the set fields of p onto t and bumps UpdatedAt
func (t *Task) Apply(p TaskPatch, now time.Time) {
	if p.Title != nil {
		t.Title = *p.Title
	}
	if p.Description != nil {
		desc := *p.Description
		t.Description = &desc
	}
	if p.IsCompleted != nil {
		t.IsCompleted = *p.IsCompleted
	}
	t.UpdatedAt = now
}

// CreateTaskRequest is the body of POST /api/{user_id}/tasks
type CreateTaskRequest struct {
	Title       string  `json:"title" validate:"required,min=1,max=255"`
	Description *string `json:"description" validate:"omitempty,max=1000"`
	IsCompleted bool    `json:"is_completed"`
}

// UpdateTaskRequest is the body of PUT /api/{user_id}/tasks/{task_id}
type UpdateTaskRequest struct {
	Title       *string `json:"title" validate:"omitnil,min=1,max=255"`
	Description *string `json:"description" validate:"omitempty,max=1000"`
	IsCompleted *bool   `json:"is_completed"`
}

// ToPatch converts the request into a TaskPatch
func (r UpdateTaskRequest) ToPatch() TaskPatch {
	return TaskPatch{
		Title:       r.Title,
		Description: r.Description,
		IsCompleted: r.IsCompleted,
	}
}

// TaskStatusRequest is the body of PATCH /api/{user_id}/tasks/{task_id}
type TaskStatusRequest struct {
	IsCompleted *bool `json:"is_completed" validate:"required"`
}
