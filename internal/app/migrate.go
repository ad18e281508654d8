package app

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const createIdentitySchemaQuery = `
CREATE TABLE IF NOT EXISTS users (
    id         UUID PRIMARY KEY,
    email      VARCHAR(255) NOT NULL UNIQUE,
    password   TEXT NOT NULL,
    created_at TIMESTAMPTZ NOT NULL,
    updated_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS sessions (
    id            UUID PRIMARY KEY,
    user_id       UUID NOT NULL REFERENCES users (id) ON DELETE CASCADE,
    refresh_token TEXT NOT NULL UNIQUE,
    expires_at    TIMESTAMPTZ NOT NULL,
    created_at    TIMESTAMPTZ NOT NULL,
    updated_at    TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS sessions_user_id_idx ON sessions (user_id);
`

// taskIndexes backs the owner-scoped listing, newest first.
func taskIndexes() []mongo.IndexModel {
	return []mongo.IndexModel{
		{
			Keys: bson.D{
				{Key: "userId", Value: 1},
				{Key: "createdAt", Value: -1},
			},
			Options: options.Index().SetName("userId_createdAt"),
		},
	}
}

// Migrate creates the identity tables and the task indexes. It is safe to
// run repeatedly.
func (a *App) Migrate(ctx context.Context) error {
	_, err := a.pgPool.Exec(ctx, createIdentitySchemaQuery)
	if err != nil {
		return fmt.Errorf("failed to create identity schema: %w", err)
	}
	a.logger.Info().Msg("migrated postgres schema")

	names, err := a.tasks().Indexes().CreateMany(ctx, taskIndexes())
	if err != nil {
		return fmt.Errorf("failed to create task indexes: %w", err)
	}
	a.logger.Info().
		Strs("indexes", names).
		Msg("migrated mongodb indexes")
	return nil
}
