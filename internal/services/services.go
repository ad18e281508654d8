package services

import (
	"context"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/adanyl0v/go-task-manager/internal/models"
)

var (
	ErrUserNotFound         = errors.New("user not found")
	ErrUserAlreadyExists    = errors.New("user already exists")
	ErrUserPasswordMismatch = errors.New("user password mismatch")
	ErrSessionNotFound      = errors.New("session not found")
	ErrSessionExpired       = errors.New("session expired")
	ErrTaskNotFound         = errors.New("task not found")
)

type AuthService interface {
	// Login authenticates the user by email and password.
	//
	// It deletes all sessions with the same user ID, creates
	// a new session and generates a new token pair.
	//
	// It returns ErrUserNotFound if the user with the given
	// email doesn't exist or ErrUserPasswordMismatch if the
	// given password doesn't match the user's password.
	Login(ctx context.Context, params LoginParams) (*LoginResult, error)

	// Refresh rotates the refresh token of the session it belongs to.
	//
	// It returns ErrSessionNotFound if the session with the
	// given refresh token doesn't exist or ErrSessionExpired
	// if the session is expired.
	Refresh(ctx context.Context, refreshToken string) (*LoginResult, error)

	// Register a user with the given email and password.
	//
	// It hashes the password, generates a unique ID and creates
	// a session with a fresh token pair.
	//
	// It returns ErrUserAlreadyExists if the user
	// with the given email already exists.
	Register(ctx context.Context, params LoginParams) (*LoginResult, error)

	// Logout invalidates all sessions with the given user ID.
	Logout(ctx context.Context, userID string) error

	// ParseJWTToken parses the given JWT token and returns the registered
	// claims. The error wraps jwt.ErrTokenExpired if the token is expired.
	ParseJWTToken(token string) (*jwt.RegisteredClaims, error)
}

type SessionService interface {
	// GetSessionByID returns ErrSessionNotFound if there is no such session.
	GetSessionByID(ctx context.Context, sessionID string) (*models.Session, error)
}

// TaskService reads and writes tasks on behalf of a single owner.
// Every method filters by the owner's user ID, so a task that belongs to
// someone else is reported as ErrTaskNotFound, the same as a missing one.
type TaskService interface {
	// GetTasksByUserID returns the user's tasks, newest first.
	GetTasksByUserID(ctx context.Context, userID string) ([]*models.Task, error)
	GetTask(ctx context.Context, params TaskParams) (*models.Task, error)
	CreateTask(ctx context.Context, params CreateTaskParams) (*models.Task, error)
	UpdateTask(ctx context.Context, params UpdateTaskParams) (*models.Task, error)
	DeleteTask(ctx context.Context, params TaskParams) error
}

type LoginParams struct {
	Email    string
	Password string
}

type LoginResult struct {
	UserID                string
	SessionID             string
	AccessToken           string
	AccessTokenExpiresAt  time.Time
	RefreshToken          string
	RefreshTokenExpiresAt time.Time
}

type TaskParams struct {
	ID     string
	UserID string
}

type CreateTaskParams struct {
	UserID      string
	Title       string
	Description string
	// Status defaults to models.StatusPending when empty.
	Status string
}

// UpdateTaskParams describes a partial update. Empty Title and Status keep
// the stored values, a nil Description keeps the stored description and a
// non-nil one replaces it, even with an empty string.
type UpdateTaskParams struct {
	ID          string
	UserID      string
	Title       string
	Description *string
	Status      string
}
