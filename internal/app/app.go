package app

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/adanyl0v/go-task-manager/internal/config"
)

// App owns the process-wide database handles. It is created once at
// startup and closed on shutdown.
type App struct {
	cfg    *config.Config
	logger zerolog.Logger
	mongo  *mongo.Client
	pgPool *pgxpool.Pool
}

// New connects to MongoDB and PostgreSQL. Either connection failing is
// fatal for the caller; there is no retry.
func New(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*App, error) {
	mongoClient, err := connectMongo(ctx, logger, cfg.Mongo)
	if err != nil {
		return nil, err
	}

	pgPool, err := connectPostgres(ctx, logger, cfg.Postgres)
	if err != nil {
		_ = mongoClient.Disconnect(context.Background())
		return nil, err
	}

	return &App{
		cfg:    cfg,
		logger: logger,
		mongo:  mongoClient,
		pgPool: pgPool,
	}, nil
}

func (a *App) tasks() *mongo.Collection {
	return a.mongo.Database(a.cfg.Mongo.Database).Collection(tasksCollection)
}

func (a *App) Close(ctx context.Context) error {
	a.pgPool.Close()
	a.logger.Info().Msg("disconnected from postgres")

	err := a.mongo.Disconnect(ctx)
	if err != nil {
		return fmt.Errorf("failed to disconnect from mongodb: %w", err)
	}
	a.logger.Info().Msg("disconnected from mongodb")
	return nil
}
