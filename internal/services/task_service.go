package services

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/adanyl0v/go-task-manager/internal/models"
)

type taskServiceImpl struct {
	logger zerolog.Logger
	tasks  *mongo.Collection
}

func NewTaskService(
	logger zerolog.Logger,
	tasks *mongo.Collection,
) TaskService {
	return &taskServiceImpl{
		logger: logger,
		tasks:  tasks,
	}
}

func (s *taskServiceImpl) GetTasksByUserID(ctx context.Context, userID string) ([]*models.Task, error) {
	findOpts := options.Find().SetSort(bson.D{{Key: "createdAt", Value: -1}})
	cursor, err := s.tasks.Find(ctx, bson.D{{Key: "userId", Value: userID}}, findOpts)
	if err != nil {
		s.logger.Error().
			Err(err).
			Str("user_id", userID).
			Msg("failed to find tasks by user id")
		return nil, err
	}

	tasks := make([]*models.Task, 0)
	err = cursor.All(ctx, &tasks)
	if err != nil {
		s.logger.Error().
			Err(err).
			Str("user_id", userID).
			Msg("failed to decode tasks")
		return nil, err
	}
	s.logger.Debug().
		Int("count", len(tasks)).
		Str("user_id", userID).
		Msg("selected tasks by user id")
	return tasks, nil
}

func (s *taskServiceImpl) GetTask(ctx context.Context, params TaskParams) (*models.Task, error) {
	filter, err := ownedTaskFilter(params.ID, params.UserID)
	if err != nil {
		s.logger.Debug().
			Str("task_id", params.ID).
			Msg("malformed task id")
		return nil, err
	}

	task := new(models.Task)
	err = s.tasks.FindOne(ctx, filter).Decode(task)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			s.logger.Debug().
				Str("task_id", params.ID).
				Str("user_id", params.UserID).
				Msg("task not found")
			return nil, ErrTaskNotFound
		}

		s.logger.Error().
			Err(err).
			Str("task_id", params.ID).
			Msg("failed to find task")
		return nil, err
	}
	return task, nil
}

func (s *taskServiceImpl) CreateTask(ctx context.Context, params CreateTaskParams) (*models.Task, error) {
	now := timestamp()
	task := &models.Task{
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

	_, err := s.tasks.InsertOne(ctx, task)
	if err != nil {
		s.logger.Error().
			Err(err).
			Str("user_id", task.UserID).
			Msg("failed to insert task")
		return nil, err
	}

	s.logger.Info().
		Str("task_id", task.ID.Hex()).
		Str("user_id", task.UserID).
		Msg("created task")
	return task, nil
}

func (s *taskServiceImpl) UpdateTask(ctx context.Context, params UpdateTaskParams) (*models.Task, error) {
	filter, err := ownedTaskFilter(params.ID, params.UserID)
	if err != nil {
		s.logger.Debug().
			Str("task_id", params.ID).
			Msg("malformed task id")
		return nil, err
	}

	updateOpts := options.FindOneAndUpdate().SetReturnDocument(options.After)
	task := new(models.Task)
	err = s.tasks.FindOneAndUpdate(ctx, filter, taskUpdate(params, timestamp()), updateOpts).Decode(task)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			s.logger.Debug().
				Str("task_id", params.ID).
				Str("user_id", params.UserID).
				Msg("task not found")
			return nil, ErrTaskNotFound
		}

		s.logger.Error().
			Err(err).
			Str("task_id", params.ID).
			Msg("failed to update task")
		return nil, err
	}

	s.logger.Info().
		Str("task_id", params.ID).
		Str("user_id", params.UserID).
		Msg("updated task")
	return task, nil
}

func (s *taskServiceImpl) DeleteTask(ctx context.Context, params TaskParams) error {
	filter, err := ownedTaskFilter(params.ID, params.UserID)
	if err != nil {
		s.logger.Debug().
			Str("task_id", params.ID).
			Msg("malformed task id")
		return err
	}

	err = s.tasks.FindOneAndDelete(ctx, filter).Err()
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			s.logger.Debug().
				Str("task_id", params.ID).
				Str("user_id", params.UserID).
				Msg("task not found")
			return ErrTaskNotFound
		}

		s.logger.Error().
			Err(err).
			Str("task_id", params.ID).
			Msg("failed to delete task")
		return err
	}

	s.logger.Info().
		Str("task_id", params.ID).
		Str("user_id", params.UserID).
		Msg("deleted task")
	return nil
}

// ownedTaskFilter matches a task by id and owner. A malformed id can't match
// any task, so it is reported as ErrTaskNotFound.
func ownedTaskFilter(id, userID string) (bson.D, error) {
	objectID, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return nil, ErrTaskNotFound
	}
	return bson.D{
		{Key: "_id", Value: objectID},
		{Key: "userId", Value: userID},
	}, nil
}

func taskUpdate(params UpdateTaskParams, now time.Time) bson.D {
	set := bson.D{{Key: "updatedAt", Value: now}}
	if params.Title != "" {
		set = append(set, bson.E{Key: "title", Value: params.Title})
	}
	if params.Description != nil {
		set = append(set, bson.E{Key: "description", Value: *params.Description})
	}
	if params.Status != "" {
		set = append(set, bson.E{Key: "status", Value: params.Status})
	}
	return bson.D{{Key: "$set", Value: set}}
}

// timestamp returns the current time at the precision BSON dates keep.
func timestamp() time.Time {
	return time.Now().UTC().Truncate(time.Millisecond)
}
