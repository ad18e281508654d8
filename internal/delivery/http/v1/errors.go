package v1

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
)

var errInvalidRequestBody = errors.New("invalid request body")

const taskNotFoundMessage = "Task not found"

type apiError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	// Detail is the raw cause, only set outside of production.
	Detail string `json:"error,omitempty"`
}

func newAPIError(code int, message string) apiError {
	return apiError{
		Code:    code,
		Message: message,
	}
}

func (e apiError) Error() string {
	return e.Message
}

func abort(c *gin.Context, err apiError) {
	body := gin.H{"message": err.Message}
	if err.Detail != "" {
		body["error"] = err.Detail
	}
	c.AbortWithStatusJSON(err.Code, body)
}

func newStatusTextError(status int) apiError {
	return newAPIError(status, http.StatusText(status))
}

func newBadRequestError(message string) apiError {
	return newAPIError(http.StatusBadRequest, message)
}

func newUnauthorizedError(message string) apiError {
	return newAPIError(http.StatusUnauthorized, message)
}

func newNotFoundError(message string) apiError {
	return newAPIError(http.StatusNotFound, message)
}

func newConflictError(message string) apiError {
	return newAPIError(http.StatusConflict, message)
}

func (h *handlerImpl) newServerError(cause error) apiError {
	err := newAPIError(http.StatusInternalServerError, "Server Error")
	if h.exposeErrors && cause != nil {
		err.Detail = cause.Error()
	}
	return err
}

func (h *handlerImpl) HandleNotFound(c *gin.Context) {
	abort(c, newNotFoundError("Not found"))
}

// HandleRecovery is the last resort for panics raised by any handler.
func (h *handlerImpl) HandleRecovery(c *gin.Context, recovered any) {
	cause, ok := recovered.(error)
	if !ok {
		cause = fmt.Errorf("%v", recovered)
	}
	logger := h.requestLogger(c)
	logger.Error().
		Err(cause).
		Str("path", c.Request.URL.Path).
		Msg("recovered from panic")
	abort(c, h.newServerError(cause))
}
