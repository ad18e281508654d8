package v1

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/adanyl0v/go-task-manager/internal/models"
	"github.com/adanyl0v/go-task-manager/internal/services"
)

// Tokens accepted by fakeAuth have the form "valid-<session id>".
const validTokenPrefix = "valid-"

type fakeAuth struct {
	loginErr    error
	registerErr error
	refreshErr  error
	logoutErr   error

	loggedOut []string
}

func (f *fakeAuth) result(userID string) *services.LoginResult {
	now := time.Now()
	return &services.LoginResult{
		UserID:                userID,
		SessionID:             "s-" + userID,
		AccessToken:           validTokenPrefix + "s-" + userID,
		AccessTokenExpiresAt:  now.Add(time.Minute),
		RefreshToken:          "refresh-" + userID,
		RefreshTokenExpiresAt: now.Add(time.Hour),
	}
}

func (f *fakeAuth) Login(_ context.Context, params services.LoginParams) (*services.LoginResult, error) {
	if f.loginErr != nil {
		return nil, f.loginErr
	}
	return f.result(params.Email), nil
}

func (f *fakeAuth) Refresh(_ context.Context, refreshToken string) (*services.LoginResult, error) {
	if f.refreshErr != nil {
		return nil, f.refreshErr
	}
	return f.result(strings.TrimPrefix(refreshToken, "refresh-")), nil
}

func (f *fakeAuth) Register(_ context.Context, params services.LoginParams) (*services.LoginResult, error) {
	if f.registerErr != nil {
		return nil, f.registerErr
	}
	return f.result(params.Email), nil
}

func (f *fakeAuth) Logout(_ context.Context, userID string) error {
	if f.logoutErr != nil {
		return f.logoutErr
	}
	f.loggedOut = append(f.loggedOut, userID)
	return nil
}

func (f *fakeAuth) ParseJWTToken(token string) (*jwt.RegisteredClaims, error) {
	if !strings.HasPrefix(token, validTokenPrefix) {
		return nil, errors.New("failed to parse token")
	}
	return &jwt.RegisteredClaims{Subject: strings.TrimPrefix(token, validTokenPrefix)}, nil
}

// fakeSessions resolves session "s-<user>" to "<user>".
type fakeSessions struct {
	err   error
	calls int
}

func (f *fakeSessions) GetSessionByID(_ context.Context, sessionID string) (*models.Session, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	if !strings.HasPrefix(sessionID, "s-") {
		return nil, services.ErrSessionNotFound
	}
	return &models.Session{ID: sessionID, UserID: strings.TrimPrefix(sessionID, "s-")}, nil
}

// fakeTasks keeps tasks in memory with the same ownership rules as the
// MongoDB-backed service.
type fakeTasks struct {
	mu    sync.Mutex
	tasks map[primitive.ObjectID]models.Task
	clock time.Time
	calls int
	err   error
	panic bool
}

func newFakeTasks() *fakeTasks {
	return &fakeTasks{
		tasks: make(map[primitive.ObjectID]models.Task),
		clock: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

func (f *fakeTasks) enter() error {
	f.calls++
	if f.panic {
		panic("task store exploded")
	}
	return f.err
}

func (f *fakeTasks) tick() time.Time {
	f.clock = f.clock.Add(time.Second)
	return f.clock
}

func (f *fakeTasks) find(id, userID string) (models.Task, bool) {
	objectID, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return models.Task{}, false
	}
	task, ok := f.tasks[objectID]
	if !ok || task.UserID != userID {
		return models.Task{}, false
	}
	return task, true
}

func (f *fakeTasks) GetTasksByUserID(_ context.Context, userID string) ([]*models.Task, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter(); err != nil {
		return nil, err
	}

	var tasks []*models.Task
	for _, task := range f.tasks {
		if task.UserID == userID {
			task := task
			tasks = append(tasks, &task)
		}
	}
	sort.Slice(tasks, func(i, j int) bool {
		return tasks[i].CreatedAt.After(tasks[j].CreatedAt)
	})
	return tasks, nil
}

func (f *fakeTasks) GetTask(_ context.Context, params services.TaskParams) (*models.Task, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter(); err != nil {
		return nil, err
	}

	task, ok := f.find(params.ID, params.UserID)
	if !ok {
		return nil, services.ErrTaskNotFound
	}
	return &task, nil
}

func (f *fakeTasks) CreateTask(_ context.Context, params services.CreateTaskParams) (*models.Task, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter(); err != nil {
		return nil, err
	}

	now := f.tick()
	task := models.Task{
		ID:          primitive.NewObjectID(),
		UserID:      params.UserID,
		Title:       params.Title,
		Description: params.Description,
		Status:      params.Status,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if task.Status == "" {
		task.Status = models.StatusPending
	}
	f.tasks[task.ID] = task
	return &task, nil
}

func (f *fakeTasks) UpdateTask(_ context.Context, params services.UpdateTaskParams) (*models.Task, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter(); err != nil {
		return nil, err
	}

	task, ok := f.find(params.ID, params.UserID)
	if !ok {
		return nil, services.ErrTaskNotFound
	}
	if params.Title != "" {
		task.Title = params.Title
	}
	if params.Description != nil {
		task.Description = *params.Description
	}
	if params.Status != "" {
		task.Status = params.Status
	}
	task.UpdatedAt = f.tick()
	f.tasks[task.ID] = task
	return &task, nil
}

func (f *fakeTasks) DeleteTask(_ context.Context, params services.TaskParams) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter(); err != nil {
		return err
	}

	task, ok := f.find(params.ID, params.UserID)
	if !ok {
		return services.ErrTaskNotFound
	}
	delete(f.tasks, task.ID)
	return nil
}

type testDeps struct {
	auth         *fakeAuth
	sessions     *fakeSessions
	tasks        *fakeTasks
	exposeErrors bool
}

func newTestDeps() *testDeps {
	return &testDeps{
		auth:     &fakeAuth{},
		sessions: &fakeSessions{},
		tasks:    newFakeTasks(),
	}
}

func (d *testDeps) router() *gin.Engine {
	gin.SetMode(gin.TestMode)

	h := New(zerolog.Nop(), d.auth, d.sessions, d.tasks, d.exposeErrors)
	router := gin.New()
	router.Use(RequestLogger(zerolog.Nop()))
	router.Use(gin.CustomRecovery(h.HandleRecovery))
	router.NoRoute(h.HandleNotFound)
	RegisterRoutes(router, h)
	return router
}
