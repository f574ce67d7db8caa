package handlers

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/taskpulse/backend/middleware"
	"github.com/taskpulse/backend/models"
	"github.com/taskpulse/backend/services"
	"github.com/taskpulse/backend/utils"
	"go.uber.org/zap"
)

// TaskDeletedMessage is returned by a successful delete
const TaskDeletedMessage = "Task deleted successfully"

// TaskService defines the owner-scoped task operations used by TaskHandler
type TaskService interface {
	CheckPathOwner(pathUserID, principalID int64) error
	List(ctx context.Context, ownerID int64) ([]*models.Task, error)
	Get(ctx context.Context, id, ownerID int64) (*models.Task, error)
	Create(ctx context.Context, ownerID int64, req models.CreateTaskRequest) (*models.Task, error)
	Update(ctx context.Context, id, ownerID int64, patch models.TaskPatch) (*models.Task, error)
	SetCompleted(ctx context.Context, id, ownerID int64, completed bool) (*models.Task, error)
	ToggleComplete(ctx context.Context, id, ownerID int64) (*models.Task, error)
	Delete(ctx context.Context, id, ownerID int64) error
}

// TaskHandler handles the /api/{user_id}/tasks endpoints
type TaskHandler struct {
	tasks  TaskService
	logger *zap.Logger
}

// NewTaskHandler creates a new TaskHandler
func NewTaskHandler(tasks TaskService, logger *zap.Logger) *TaskHandler {
	return &TaskHandler{
		tasks:  tasks,
		logger: logger,
	}
}

// HandleListTasks handles GET /api/{user_id}/tasks
func (h *TaskHandler) HandleListTasks(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := h.owner(w, r)
	if !ok {
		return
	}

	tasks, err := h.tasks.List(r.Context(), ownerID)
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}
	if tasks == nil {
		tasks = []*models.Task{}
	}
	h.write(w, http.StatusOK, tasks)
}

// HandleCreateTask handles POST /api/{user_id}/tasks
func (h *TaskHandler) HandleCreateTask(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := h.owner(w, r)
	if !ok {
		return
	}

	var req models.CreateTaskRequest
	if !decodeAndValidate(w, r, &req, h.logger) {
		return
	}

	task, err := h.tasks.Create(r.Context(), ownerID, req)
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	h.logger.Info("task created",
		zap.String("request_id", middleware.GetRequestIDFromContext(r.Context())),
		zap.Int64("task_id", task.ID),
		zap.Int64("user_id", ownerID))
	h.write(w, http.StatusCreated, task)
}

// HandleGetTask handles GET /api/{user_id}/tasks/{task_id}
func (h *TaskHandler) HandleGetTask(w http.ResponseWriter, r *http.Request) {
	ownerID, taskID, ok := h.ownerAndTask(w, r)
	if !ok {
		return
	}

	task, err := h.tasks.Get(r.Context(), taskID, ownerID)
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}
	h.write(w, http.StatusOK, task)
}

// HandleUpdateTask handles PUT /api/{user_id}/tasks/{task_id}
func (h *TaskHandler) HandleUpdateTask(w http.ResponseWriter, r *http.Request) {
	ownerID, taskID, ok := h.ownerAndTask(w, r)
	if !ok {
		return
	}

	var req models.UpdateTaskRequest
	if !decodeAndValidate(w, r, &req, h.logger) {
		return
	}

	task, err := h.tasks.Update(r.Context(), taskID, ownerID, req.ToPatch())
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}
	h.write(w, http.StatusOK, task)
}

// HandleSetStatus handles PATCH /api/{user_id}/tasks/{task_id}
func (h *TaskHandler) HandleSetStatus(w http.ResponseWriter, r *http.Request) {
	ownerID, taskID, ok := h.ownerAndTask(w, r)
	if !ok {
		return
	}

	var req models.TaskStatusRequest
	if !decodeAndValidate(w, r, &req, h.logger) {
		return
	}

	task, err := h.tasks.SetCompleted(r.Context(), taskID, ownerID, *req.IsCompleted)
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}
	h.write(w, http.StatusOK, task)
}

// HandleToggleComplete handles PATCH /api/{user_id}/tasks/{task_id}/complete
func (h *TaskHandler) HandleToggleComplete(w http.ResponseWriter, r *http.Request) {
	ownerID, taskID, ok := h.ownerAndTask(w, r)
	if !ok {
		return
	}

	task, err := h.tasks.ToggleComplete(r.Context(), taskID, ownerID)
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}
	h.write(w, http.StatusOK, task)
}

// HandleDeleteTask handles DELETE /api/{user_id}/tasks/{task_id}
func (h *TaskHandler) HandleDeleteTask(w http.ResponseWriter, r *http.Request) {
	ownerID, taskID, ok := h.ownerAndTask(w, r)
	if !ok {
		return
	}

	if err := h.tasks.Delete(r.Context(), taskID, ownerID); err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	h.logger.Info("task deleted",
		zap.String("request_id", middleware.GetRequestIDFromContext(r.Context())),
		zap.Int64("task_id", taskID),
		zap.Int64("user_id", ownerID))
	if err := utils.WriteMessage(w, http.StatusOK, TaskDeletedMessage); err != nil {
		h.logger.Error("failed to write response", zap.Error(err))
	}
}

// owner resolves the principal and checks it against {user_id}. A malformed id and
// a foreign id both answer 404.
func (h *TaskHandler) owner(w http.ResponseWriter, r *http.Request) (int64, bool) {
	principal, ok := middleware.RequirePrincipal(w, r)
	if !ok {
		return 0, false
	}

	pathUserID, err := parseID(chi.URLParam(r, "user_id"))
	if err != nil {
		HandleServiceError(w, services.ErrResourceNotFound, h.logger)
		return 0, false
	}
	if err := h.tasks.CheckPathOwner(pathUserID, principal.UserID); err != nil {
		HandleServiceError(w, err, h.logger)
		return 0, false
	}
	return principal.UserID, true
}

func (h *TaskHandler) ownerAndTask(w http.ResponseWriter, r *http.Request) (int64, int64, bool) {
	ownerID, ok := h.owner(w, r)
	if !ok {
		return 0, 0, false
	}
	taskID, err := parseID(chi.URLParam(r, "task_id"))
	if err != nil {
		HandleServiceError(w, services.ErrResourceNotFound, h.logger)
		return 0, 0, false
	}
	return ownerID, taskID, true
}

func (h *TaskHandler) write(w http.ResponseWriter, status int, body interface{}) {
	if err := utils.WriteJSON(w, status, body); err != nil {
		h.logger.Error("failed to write response", zap.Error(err))
	}
}
