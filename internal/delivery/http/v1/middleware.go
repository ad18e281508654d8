package v1

import (
	"errors"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/xid"
	"github.com/rs/zerolog"

	"github.com/adanyl0v/go-task-manager/internal/services"
)

const (
	userIDCtxKey    = "user_id"
	sessionIDCtxKey = "session_id"
	requestIDCtxKey = "request_id"

	requestIDHeader = "X-Request-ID"
)

// RequestLogger tags every request with an id and writes one access log
// line once the request has been handled.
func RequestLogger(logger zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		requestID := c.GetHeader(requestIDHeader)
		if requestID == "" {
			requestID = xid.New().String()
		}
		c.Set(requestIDCtxKey, requestID)
		c.Header(requestIDHeader, requestID)

		c.Next()

		status := c.Writer.Status()
		event := logger.Info()
		if status >= 500 {
			event = logger.Error()
		}
		event.
			Str("request_id", requestID).
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", status).
			Dur("latency", time.Since(start)).
			Str("client_ip", c.ClientIP()).
			Msg("handled request")
	}
}

func (h *handlerImpl) requestLogger(c *gin.Context) zerolog.Logger {
	requestID, _ := getStringFromContext(c, requestIDCtxKey)
	if requestID == "" {
		return h.logger
	}
	return h.logger.With().Str("request_id", requestID).Logger()
}

func (h *handlerImpl) HandleAuthMiddleware(c *gin.Context) {
	logger := h.requestLogger(c)

	const authHeader = "Authorization"
	header := c.GetHeader(authHeader)
	if header == "" {
		logger.Warn().Msg("authorization header required")
		abort(c, newUnauthorizedError("Not authorized, no token"))
		return
	}

	const bearerPrefix = "Bearer"
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || parts[0] != bearerPrefix || parts[1] == "" {
		logger.Warn().Msg("invalid authorization header")
		abort(c, newUnauthorizedError("Not authorized, no token"))
		return
	}

	claims, err := h.auth.ParseJWTToken(parts[1])
	if err != nil {
		logger.Warn().
			Err(err).
			Msg("failed to parse token")
		abort(c, newUnauthorizedError("Not authorized, token failed"))
		return
	}

	session, err := h.sessions.GetSessionByID(c, claims.Subject)
	if err != nil {
		if errors.Is(err, services.ErrSessionNotFound) {
			abort(c, newUnauthorizedError("Not authorized, token failed"))
			return
		}

		logger.Error().
			Err(err).
			Msg("failed to fetch session")
		abort(c, h.newServerError(err))
		return
	}

	c.Set(userIDCtxKey, session.UserID)
	c.Set(sessionIDCtxKey, session.ID)
	c.Next()
}

func getStringFromContext(c *gin.Context, key string) (string, bool) {
	value, exists := c.Get(key)
	if !exists {
		return "", false
	}
	str, ok := value.(string)
	return str, ok
}
