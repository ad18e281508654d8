package v1

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/adanyl0v/go-task-manager/internal/models"
	"github.com/adanyl0v/go-task-manager/internal/services"
)

type getTaskResponse struct {
	ID          string    `json:"_id"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Status      string    `json:"status"`
	UserID      string    `json:"userId"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

func newGetTaskResponse(task *models.Task) getTaskResponse {
	return getTaskResponse{
		ID:          task.ID.Hex(),
		Title:       task.Title,
		Description: task.Description,
		Status:      task.Status,
		UserID:      task.UserID,
		CreatedAt:   task.CreatedAt,
		UpdatedAt:   task.UpdatedAt,
	}
}

// Requests carry no owner field: the owner is always the caller.
type createTaskRequest struct {
	Title       string `json:"title" binding:"required,max=255"`
	Description string `json:"description"`
	Status      string `json:"status" binding:"omitempty,oneof=Pending 'In Progress' Completed"`
}

type updateTaskRequest struct {
	Title       string         `json:"title" binding:"max=255"`
	Description optionalString `json:"description"`
	Status      string         `json:"status" binding:"omitempty,oneof=Pending 'In Progress' Completed"`
}

// optionalString records whether its key was present in the payload at all.
// A present null is kept as Set with a nil Value.
type optionalString struct {
	Set   bool
	Value *string
}

func (o *optionalString) UnmarshalJSON(data []byte) error {
	o.Set = true
	if bytes.Equal(data, []byte("null")) {
		o.Value = nil
		return nil
	}
	return json.Unmarshal(data, &o.Value)
}

// replacement returns the stored description to write, or nil when the key
// was absent. A null clears the description.
func (o optionalString) replacement() *string {
	if !o.Set {
		return nil
	}
	if o.Value == nil {
		return new(string)
	}
	return o.Value
}

// callerID returns the authenticated user's ID, aborting with 401 when the
// auth middleware did not run.
func (h *handlerImpl) callerID(c *gin.Context, logger zerolog.Logger) (string, bool) {
	userID, ok := getStringFromContext(c, userIDCtxKey)
	if !ok || userID == "" {
		logger.Error().Msg("no user id found in context")
		abort(c, newStatusTextError(http.StatusUnauthorized))
		return "", false
	}
	return userID, true
}

// abortTaskError maps task service errors onto responses.
func (h *handlerImpl) abortTaskError(c *gin.Context, logger zerolog.Logger, err error, msg string) {
	if errors.Is(err, services.ErrTaskNotFound) {
		abort(c, newNotFoundError(taskNotFoundMessage))
		return
	}

	logger.Error().
		Err(err).
		Msg(msg)
	abort(c, h.newServerError(err))
}

func (h *handlerImpl) HandleGetTasks(c *gin.Context) {
	logger := h.requestLogger(c)
	userID, ok := h.callerID(c, logger)
	if !ok {
		return
	}

	tasks, err := h.tasks.GetTasksByUserID(c, userID)
	if err != nil {
		h.abortTaskError(c, logger, err, "failed to get tasks")
		return
	}

	response := make([]getTaskResponse, 0, len(tasks))
	for _, task := range tasks {
		response = append(response, newGetTaskResponse(task))
	}

	logger.Debug().
		Int("count", len(response)).
		Msg("fetched tasks")
	c.JSON(http.StatusOK, response)
}

func (h *handlerImpl) HandleGetTask(c *gin.Context) {
	logger := h.requestLogger(c)
	userID, ok := h.callerID(c, logger)
	if !ok {
		return
	}

	task, err := h.tasks.GetTask(c, services.TaskParams{
		ID:     c.Param("id"),
		UserID: userID,
	})
	if err != nil {
		h.abortTaskError(c, logger, err, "failed to get task")
		return
	}

	c.JSON(http.StatusOK, newGetTaskResponse(task))
}

func (h *handlerImpl) HandleCreateTask(c *gin.Context) {
	logger := h.requestLogger(c)
	userID, ok := h.callerID(c, logger)
	if !ok {
		return
	}

	var req createTaskRequest
	err := c.ShouldBindJSON(&req)
	if err != nil {
		logger.Warn().
			Err(err).
			Msg("failed to bind json")
		abort(c, newBadRequestError(errInvalidRequestBody.Error()))
		return
	}

	if strings.TrimSpace(req.Title) == "" {
		logger.Warn().Msg("blank task title")
		abort(c, newBadRequestError("title is required"))
		return
	}

	task, err := h.tasks.CreateTask(c, services.CreateTaskParams{
		UserID:      userID,
		Title:       req.Title,
		Description: req.Description,
		Status:      req.Status,
	})
	if err != nil {
		h.abortTaskError(c, logger, err, "failed to create task")
		return
	}

	c.JSON(http.StatusCreated, newGetTaskResponse(task))
}

func (h *handlerImpl) HandleUpdateTask(c *gin.Context) {
	logger := h.requestLogger(c)
	userID, ok := h.callerID(c, logger)
	if !ok {
		return
	}

	// An empty body is an update that changes nothing.
	var req updateTaskRequest
	err := c.ShouldBindJSON(&req)
	if err != nil && !errors.Is(err, io.EOF) {
		logger.Warn().
			Err(err).
			Msg("failed to bind json")
		abort(c, newBadRequestError(errInvalidRequestBody.Error()))
		return
	}

	task, err := h.tasks.UpdateTask(c, services.UpdateTaskParams{
		ID:          c.Param("id"),
		UserID:      userID,
		Title:       req.Title,
		Description: req.Description.replacement(),
		Status:      req.Status,
	})
	if err != nil {
		h.abortTaskError(c, logger, err, "failed to update task")
		return
	}

	c.JSON(http.StatusOK, newGetTaskResponse(task))
}

func (h *handlerImpl) HandleDeleteTask(c *gin.Context) {
	logger := h.requestLogger(c)
	userID, ok := h.callerID(c, logger)
	if !ok {
		return
	}

	err := h.tasks.DeleteTask(c, services.TaskParams{
		ID:     c.Param("id"),
		UserID: userID,
	})
	if err != nil {
		h.abortTaskError(c, logger, err, "failed to delete task")
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "Task removed"})
}
