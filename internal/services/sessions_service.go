package services

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"

	"github.com/adanyl0v/go-task-manager/internal/models"
)

const selectSessionByIDQuery = `
SELECT user_id,
       refresh_token,
       expires_at,
       created_at,
       updated_at
FROM sessions
WHERE id = $1
`

type sessionServiceImpl struct {
	logger zerolog.Logger
	db     DB
}

func NewSessionService(logger zerolog.Logger, db DB) SessionService {
	return &sessionServiceImpl{
		logger: logger,
		db:     db,
	}
}

func (s *sessionServiceImpl) GetSessionByID(ctx context.Context, sessionID string) (*models.Session, error) {
	logger := s.logger.With().Str("session_id", sessionID).Logger()

	session := models.Session{ID: sessionID}
	err := s.db.QueryRow(ctx, selectSessionByIDQuery, sessionID).Scan(
		&session.UserID,
		&session.RefreshToken,
		&session.ExpiresAt,
		&session.CreatedAt,
		&session.UpdatedAt,
	)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		logger.Warn().Msg("session not found")
		return nil, ErrSessionNotFound
	case err != nil:
		logger.Error().
			Err(err).
			Msg("failed to select session")
		return nil, err
	}

	logger.Debug().
		Str("user_id", session.UserID).
		Time("expires_at", session.ExpiresAt).
		Msg("selected session")
	return &session, nil
}
