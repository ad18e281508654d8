package v1

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/adanyl0v/go-task-manager/internal/services"
)

type loginRequest struct {
	Email    string `json:"email" binding:"required,email,max=255"`
	Password string `json:"password" binding:"required,min=6,max=255"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token" binding:"required"`
}

type tokenResponse struct {
	UserID                string    `json:"user_id"`
	AccessToken           string    `json:"access_token"`
	AccessTokenExpiresAt  time.Time `json:"access_token_expires_at"`
	RefreshToken          string    `json:"refresh_token"`
	RefreshTokenExpiresAt time.Time `json:"refresh_token_expires_at"`
}

func newTokenResponse(result *services.LoginResult) tokenResponse {
	return tokenResponse{
		UserID:                result.UserID,
		AccessToken:           result.AccessToken,
		AccessTokenExpiresAt:  result.AccessTokenExpiresAt,
		RefreshToken:          result.RefreshToken,
		RefreshTokenExpiresAt: result.RefreshTokenExpiresAt,
	}
}

func (h *handlerImpl) HandleLogin(c *gin.Context) {
	logger := h.requestLogger(c)

	var req loginRequest
	err := c.ShouldBindJSON(&req)
	if err != nil {
		logger.Warn().
			Err(err).
			Msg("failed to bind json")
		abort(c, newBadRequestError(errInvalidRequestBody.Error()))
		return
	}

	result, err := h.auth.Login(c, services.LoginParams{
		Email:    req.Email,
		Password: req.Password,
	})
	if err != nil {
		switch {
		case errors.Is(err, services.ErrUserNotFound),
			errors.Is(err, services.ErrUserPasswordMismatch):
			abort(c, newUnauthorizedError("invalid email or password"))
		default:
			logger.Error().
				Err(err).
				Msg("failed to login")
			abort(c, h.newServerError(err))
		}
		return
	}

	c.JSON(http.StatusOK, newTokenResponse(result))
}

func (h *handlerImpl) HandleRefresh(c *gin.Context) {
	logger := h.requestLogger(c)

	var req refreshRequest
	err := c.ShouldBindJSON(&req)
	if err != nil {
		logger.Warn().
			Err(err).
			Msg("failed to bind json")
		abort(c, newBadRequestError(errInvalidRequestBody.Error()))
		return
	}

	result, err := h.auth.Refresh(c, req.RefreshToken)
	if err != nil {
		switch {
		case errors.Is(err, services.ErrSessionNotFound):
			abort(c, newUnauthorizedError(services.ErrSessionNotFound.Error()))
		case errors.Is(err, services.ErrSessionExpired):
			abort(c, newUnauthorizedError(services.ErrSessionExpired.Error()))
		default:
			logger.Error().
				Err(err).
				Msg("failed to refresh session")
			abort(c, h.newServerError(err))
		}
		return
	}

	c.JSON(http.StatusOK, newTokenResponse(result))
}

func (h *handlerImpl) HandleRegister(c *gin.Context) {
	logger := h.requestLogger(c)

	var req loginRequest
	err := c.ShouldBindJSON(&req)
	if err != nil {
		logger.Warn().
			Err(err).
			Msg("failed to bind json")
		abort(c, newBadRequestError(errInvalidRequestBody.Error()))
		return
	}

	result, err := h.auth.Register(c, services.LoginParams{
		Email:    req.Email,
		Password: req.Password,
	})
	if err != nil {
		switch {
		case errors.Is(err, services.ErrUserAlreadyExists):
			abort(c, newConflictError(services.ErrUserAlreadyExists.Error()))
		default:
			logger.Error().
				Err(err).
				Msg("failed to register user")
			abort(c, h.newServerError(err))
		}
		return
	}

	logger.Info().
		Str("user_id", result.UserID).
		Msg("registered user")
	c.JSON(http.StatusCreated, newTokenResponse(result))
}

func (h *handlerImpl) HandleLogout(c *gin.Context) {
	userID, _ := getStringFromContext(c, userIDCtxKey)

	err := h.auth.Logout(c, userID)
	if err != nil {
		logger := h.requestLogger(c)
		logger.Error().
			Err(err).
			Msg("failed to logout")
		abort(c, h.newServerError(err))
		return
	}

	c.Status(http.StatusNoContent)
}
