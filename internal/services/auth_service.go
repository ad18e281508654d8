package services

import (
	"context"
	"errors"
	"time"

	"github.com/alexedwards/argon2id"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rs/zerolog"

	"github.com/adanyl0v/go-task-manager/internal/models"
)

const (
	selectUserByEmailQuery = `
SELECT id,
       password
FROM users
WHERE email = $1
`
	insertUserQuery = `
INSERT INTO users (id, email, password, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5)
`
	deleteSessionsByUserIDQuery = `
DELETE FROM sessions
WHERE user_id = $1
`
	insertSessionQuery = `
INSERT INTO sessions (id, user_id, refresh_token, expires_at, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6)
`
	selectSessionByRefreshTokenQuery = `
SELECT id,
       user_id,
       expires_at
FROM sessions
WHERE refresh_token = $1
`
	// The old token in the predicate lets only one of two concurrent
	// refreshes of a session succeed.
	rotateRefreshTokenQuery = `
UPDATE sessions
SET refresh_token = $1,
    expires_at = $2,
    updated_at = $3
WHERE id = $4 AND refresh_token = $5
`
)

type authServiceImpl struct {
	logger     zerolog.Logger
	db         DB
	tokens     tokenIssuer
	refreshTTL time.Duration
	hashParams *argon2id.Params
}

func NewAuthService(
	logger zerolog.Logger,
	db DB,
	jwtIssuer string,
	jwtSigningKey []byte,
	jwtAccessTokenTTL time.Duration,
	jwtRefreshTokenTTL time.Duration,
) AuthService {
	return &authServiceImpl{
		logger: logger,
		db:     db,
		tokens: tokenIssuer{
			issuer:     jwtIssuer,
			signingKey: jwtSigningKey,
			accessTTL:  jwtAccessTokenTTL,
		},
		refreshTTL: jwtRefreshTokenTTL,
		hashParams: argon2id.DefaultParams,
	}
}

func (s *authServiceImpl) Login(ctx context.Context, params LoginParams) (*LoginResult, error) {
	user, err := s.authenticate(ctx, params)
	if err != nil {
		return nil, err
	}

	// A login replaces every other session of the user.
	var result *LoginResult
	err = inTx(ctx, s.db, func(tx pgx.Tx) error {
		if err := s.deleteSessions(ctx, tx, user.ID); err != nil {
			return err
		}
		var err error
		result, err = s.startSession(ctx, tx, user.ID)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info().
		Str("user_id", user.ID).
		Str("session_id", result.SessionID).
		Msg("logged in")
	return result, nil
}

// authenticate looks the user up by email and checks the password hash.
func (s *authServiceImpl) authenticate(ctx context.Context, params LoginParams) (*models.User, error) {
	user := models.User{Email: params.Email}
	err := s.db.QueryRow(ctx, selectUserByEmailQuery, user.Email).Scan(&user.ID, &user.Password)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		s.logger.Warn().
			Str("email", user.Email).
			Msg("user not found")
		return nil, ErrUserNotFound
	case err != nil:
		s.logger.Error().
			Err(err).
			Str("email", user.Email).
			Msg("failed to select user by email")
		return nil, err
	}

	match, err := argon2id.ComparePasswordAndHash(params.Password, user.Password)
	if err != nil {
		s.logger.Error().
			Err(err).
			Str("user_id", user.ID).
			Msg("failed to compare password")
		return nil, err
	}
	if !match {
		s.logger.Warn().
			Str("user_id", user.ID).
			Msg("passwords do not match")
		return nil, ErrUserPasswordMismatch
	}
	return &user, nil
}

func (s *authServiceImpl) Refresh(ctx context.Context, refreshToken string) (*LoginResult, error) {
	session := models.Session{RefreshToken: refreshToken}
	err := s.db.QueryRow(ctx, selectSessionByRefreshTokenQuery, refreshToken).Scan(
		&session.ID,
		&session.UserID,
		&session.ExpiresAt,
	)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		s.logger.Warn().Msg("session not found by refresh token")
		return nil, ErrSessionNotFound
	case err != nil:
		s.logger.Error().
			Err(err).
			Msg("failed to select session by refresh token")
		return nil, err
	}

	logger := s.logger.With().
		Str("session_id", session.ID).
		Str("user_id", session.UserID).
		Logger()

	now := time.Now()
	if session.ExpiresAt.Before(now) {
		logger.Warn().
			Time("expires_at", session.ExpiresAt).
			Msg("session expired")
		return nil, ErrSessionExpired
	}

	session.RefreshToken, err = newRefreshToken()
	if err != nil {
		logger.Error().
			Err(err).
			Msg("failed to generate refresh token")
		return nil, err
	}
	session.ExpiresAt = now.Add(s.refreshTTL)
	session.UpdatedAt = now

	tag, err := s.db.Exec(
		ctx,
		rotateRefreshTokenQuery,
		session.RefreshToken,
		session.ExpiresAt,
		session.UpdatedAt,
		session.ID,
		refreshToken,
	)
	if err != nil {
		logger.Error().
			Err(err).
			Msg("failed to rotate refresh token")
		return nil, err
	}
	if tag.RowsAffected() == 0 {
		logger.Warn().Msg("session was refreshed concurrently")
		return nil, ErrSessionNotFound
	}

	result, err := s.newLoginResult(session, now)
	if err != nil {
		return nil, err
	}
	logger.Info().Msg("refreshed session")
	return result, nil
}

func (s *authServiceImpl) Register(ctx context.Context, params LoginParams) (*LoginResult, error) {
	userUUID, err := uuid.NewV7()
	if err != nil {
		s.logger.Error().
			Err(err).
			Msg("failed to generate user uuid")
		return nil, err
	}

	hash, err := argon2id.CreateHash(params.Password, s.hashParams)
	if err != nil {
		s.logger.Error().
			Err(err).
			Msg("failed to hash password")
		return nil, err
	}

	now := time.Now()
	user := models.User{
		ID:        userUUID.String(),
		Email:     params.Email,
		Password:  hash,
		CreatedAt: now,
		UpdatedAt: now,
	}

	var result *LoginResult
	err = inTx(ctx, s.db, func(tx pgx.Tx) error {
		if err := s.insertUser(ctx, tx, user); err != nil {
			return err
		}
		var err error
		result, err = s.startSession(ctx, tx, user.ID)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info().
		Str("user_id", user.ID).
		Str("session_id", result.SessionID).
		Msg("registered user")
	return result, nil
}

func (s *authServiceImpl) insertUser(ctx context.Context, tx pgx.Tx, user models.User) error {
	_, err := tx.Exec(ctx, insertUserQuery, user.ID, user.Email, user.Password, user.CreatedAt, user.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			s.logger.Warn().
				Str("email", user.Email).
				Msg("user with this email already exists")
			return ErrUserAlreadyExists
		}

		s.logger.Error().
			Err(err).
			Str("email", user.Email).
			Msg("failed to insert user")
		return err
	}

	s.logger.Debug().
		Str("user_id", user.ID).
		Str("email", user.Email).
		Msg("inserted user")
	return nil
}

func (s *authServiceImpl) Logout(ctx context.Context, userID string) error {
	if err := s.deleteSessions(ctx, s.db, userID); err != nil {
		return err
	}

	s.logger.Info().
		Str("user_id", userID).
		Msg("logged out")
	return nil
}

func (s *authServiceImpl) ParseJWTToken(token string) (*jwt.RegisteredClaims, error) {
	return s.tokens.parse(token)
}

func (s *authServiceImpl) deleteSessions(ctx context.Context, q execer, userID string) error {
	tag, err := q.Exec(ctx, deleteSessionsByUserIDQuery, userID)
	if err != nil {
		s.logger.Error().
			Err(err).
			Str("user_id", userID).
			Msg("failed to delete sessions by user id")
		return err
	}

	s.logger.Debug().
		Str("user_id", userID).
		Int64("affected", tag.RowsAffected()).
		Msg("deleted sessions by user id")
	return nil
}

// startSession inserts a fresh session for userID within tx.
func (s *authServiceImpl) startSession(ctx context.Context, tx pgx.Tx, userID string) (*LoginResult, error) {
	sessionUUID, err := uuid.NewV7()
	if err != nil {
		s.logger.Error().
			Err(err).
			Msg("failed to generate session uuid")
		return nil, err
	}

	refreshToken, err := newRefreshToken()
	if err != nil {
		s.logger.Error().
			Err(err).
			Msg("failed to generate refresh token")
		return nil, err
	}

	now := time.Now()
	session := models.Session{
		ID:           sessionUUID.String(),
		UserID:       userID,
		RefreshToken: refreshToken,
		ExpiresAt:    now.Add(s.refreshTTL),
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	_, err = tx.Exec(
		ctx,
		insertSessionQuery,
		session.ID,
		session.UserID,
		session.RefreshToken,
		session.ExpiresAt,
		session.CreatedAt,
		session.UpdatedAt,
	)
	if err != nil {
		s.logger.Error().
			Err(err).
			Str("user_id", userID).
			Msg("failed to insert session")
		return nil, err
	}
	s.logger.Debug().
		Str("session_id", session.ID).
		Time("expires_at", session.ExpiresAt).
		Msg("inserted session")

	return s.newLoginResult(session, now)
}

func (s *authServiceImpl) newLoginResult(session models.Session, now time.Time) (*LoginResult, error) {
	accessToken, accessTokenExpiresAt, err := s.tokens.accessToken(session.ID, now)
	if err != nil {
		s.logger.Error().
			Err(err).
			Msg("failed to generate access token")
		return nil, err
	}

	return &LoginResult{
		UserID:                session.UserID,
		SessionID:             session.ID,
		AccessToken:           accessToken,
		AccessTokenExpiresAt:  accessTokenExpiresAt,
		RefreshToken:          session.RefreshToken,
		RefreshTokenExpiresAt: session.ExpiresAt,
	}, nil
}
