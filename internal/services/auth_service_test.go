package services

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/alexedwards/argon2id"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/rs/zerolog"
)

var testHashParams = &argon2id.Params{
	Memory:      1024,
	Iterations:  1,
	Parallelism: 1,
	SaltLength:  16,
	KeyLength:   32,
}

func newMockPool(t *testing.T) pgxmock.PgxPoolIface {
	t.Helper()
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("failed to create mock pool: %v", err)
	}
	t.Cleanup(mock.Close)
	return mock
}

func newTestAuthService(t *testing.T) (*authServiceImpl, pgxmock.PgxPoolIface) {
	t.Helper()
	mock := newMockPool(t)
	s := NewAuthService(zerolog.Nop(), mock, "test", []byte("secret"), time.Minute, time.Hour).(*authServiceImpl)
	s.hashParams = testHashParams
	return s, mock
}

func expectationsMet(t *testing.T, mock pgxmock.PgxPoolIface) {
	t.Helper()
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func exactQuery(query string) string {
	return regexp.QuoteMeta(query)
}

// passwordHashOf matches an argon2id hash of password.
type passwordHashOf string

func (p passwordHashOf) Match(v any) bool {
	hash, ok := v.(string)
	if !ok {
		return false
	}
	match, err := argon2id.ComparePasswordAndHash(string(p), hash)
	return err == nil && match
}

// otherThan matches any string except its own value.
type otherThan string

func (o otherThan) Match(v any) bool {
	s, ok := v.(string)
	return ok && s != "" && s != string(o)
}

func expectSessionInsert(mock pgxmock.PgxPoolIface, userID string) {
	mock.ExpectExec(exactQuery(insertSessionQuery)).
		WithArgs(pgxmock.AnyArg(), userID, pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
}

func checkLoginResult(t *testing.T, s *authServiceImpl, result *LoginResult, userID string) {
	t.Helper()
	if result.UserID != userID || result.SessionID == "" || result.RefreshToken == "" {
		t.Fatalf("unexpected result: %#v", result)
	}
	claims, err := s.ParseJWTToken(result.AccessToken)
	if err != nil {
		t.Fatalf("issued access token does not parse: %v", err)
	}
	if claims.Subject != result.SessionID {
		t.Fatalf("expected subject %q, got %q", result.SessionID, claims.Subject)
	}
	if !result.RefreshTokenExpiresAt.After(result.AccessTokenExpiresAt) {
		t.Fatalf("refresh token must outlive the access token: %#v", result)
	}
}

func TestAuthService_Login(t *testing.T) {
	const email = "alice@example.com"
	hash, err := argon2id.CreateHash("correct horse", testHashParams)
	if err != nil {
		t.Fatalf("failed to hash password: %v", err)
	}
	userRows := func() *pgxmock.Rows {
		return pgxmock.NewRows([]string{"id", "password"}).AddRow("u1", hash)
	}

	t.Run("replaces sessions and issues tokens", func(t *testing.T) {
		s, mock := newTestAuthService(t)
		mock.ExpectQuery(exactQuery(selectUserByEmailQuery)).WithArgs(email).WillReturnRows(userRows())
		mock.ExpectBegin()
		mock.ExpectExec(exactQuery(deleteSessionsByUserIDQuery)).
			WithArgs("u1").
			WillReturnResult(pgxmock.NewResult("DELETE", 2))
		expectSessionInsert(mock, "u1")
		mock.ExpectCommit()

		result, err := s.Login(context.Background(), LoginParams{Email: email, Password: "correct horse"})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		checkLoginResult(t, s, result, "u1")
		expectationsMet(t, mock)
	})

	t.Run("unknown email", func(t *testing.T) {
		s, mock := newTestAuthService(t)
		mock.ExpectQuery(exactQuery(selectUserByEmailQuery)).WithArgs(email).WillReturnError(pgx.ErrNoRows)

		_, err := s.Login(context.Background(), LoginParams{Email: email, Password: "correct horse"})
		if !errors.Is(err, ErrUserNotFound) {
			t.Fatalf("expected ErrUserNotFound, got %v", err)
		}
		expectationsMet(t, mock)
	})

	t.Run("wrong password opens no transaction", func(t *testing.T) {
		s, mock := newTestAuthService(t)
		mock.ExpectQuery(exactQuery(selectUserByEmailQuery)).WithArgs(email).WillReturnRows(userRows())

		_, err := s.Login(context.Background(), LoginParams{Email: email, Password: "battery staple"})
		if !errors.Is(err, ErrUserPasswordMismatch) {
			t.Fatalf("expected ErrUserPasswordMismatch, got %v", err)
		}
		expectationsMet(t, mock)
	})

	t.Run("failed session insert rolls back", func(t *testing.T) {
		s, mock := newTestAuthService(t)
		insertErr := errors.New("disk full")
		mock.ExpectQuery(exactQuery(selectUserByEmailQuery)).WithArgs(email).WillReturnRows(userRows())
		mock.ExpectBegin()
		mock.ExpectExec(exactQuery(deleteSessionsByUserIDQuery)).
			WithArgs("u1").
			WillReturnResult(pgxmock.NewResult("DELETE", 0))
		mock.ExpectExec(exactQuery(insertSessionQuery)).WillReturnError(insertErr)
		mock.ExpectRollback()

		_, err := s.Login(context.Background(), LoginParams{Email: email, Password: "correct horse"})
		if !errors.Is(err, insertErr) {
			t.Fatalf("expected the insert error, got %v", err)
		}
		expectationsMet(t, mock)
	})
}

func TestAuthService_Register(t *testing.T) {
	const email = "bob@example.com"
	params := LoginParams{Email: email, Password: "hunter22"}

	t.Run("stores a hashed password and starts a session", func(t *testing.T) {
		s, mock := newTestAuthService(t)
		mock.ExpectBegin()
		mock.ExpectExec(exactQuery(insertUserQuery)).
			WithArgs(pgxmock.AnyArg(), email, passwordHashOf(params.Password), pgxmock.AnyArg(), pgxmock.AnyArg()).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))
		mock.ExpectExec(exactQuery(insertSessionQuery)).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))
		mock.ExpectCommit()

		result, err := s.Register(context.Background(), params)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		checkLoginResult(t, s, result, result.UserID)
		if result.UserID == "" {
			t.Fatalf("expected a generated user id")
		}
		expectationsMet(t, mock)
	})

	tests := []struct {
		name    string
		err     error
		wantErr error
	}{
		{
			name:    "duplicate email",
			err:     &pgconn.PgError{Code: pgerrcode.UniqueViolation},
			wantErr: ErrUserAlreadyExists,
		},
		{
			name:    "other constraint",
			err:     &pgconn.PgError{Code: pgerrcode.NotNullViolation},
			wantErr: nil,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, mock := newTestAuthService(t)
			mock.ExpectBegin()
			mock.ExpectExec(exactQuery(insertUserQuery)).WillReturnError(tt.err)
			mock.ExpectRollback()

			_, err := s.Register(context.Background(), params)
			if err == nil {
				t.Fatalf("expected an error")
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Fatalf("expected %v, got %v", tt.wantErr, err)
			}
			if tt.wantErr == nil && errors.Is(err, ErrUserAlreadyExists) {
				t.Fatalf("%v must not be reported as a duplicate", tt.err)
			}
			expectationsMet(t, mock)
		})
	}
}

func TestAuthService_Refresh(t *testing.T) {
	const oldToken = "old-refresh-token"
	sessionRows := func(expiresAt time.Time) *pgxmock.Rows {
		return pgxmock.NewRows([]string{"id", "user_id", "expires_at"}).AddRow("s1", "u1", expiresAt)
	}

	t.Run("rotates the refresh token", func(t *testing.T) {
		s, mock := newTestAuthService(t)
		mock.ExpectQuery(exactQuery(selectSessionByRefreshTokenQuery)).
			WithArgs(oldToken).
			WillReturnRows(sessionRows(time.Now().Add(time.Hour)))
		mock.ExpectExec(exactQuery(rotateRefreshTokenQuery)).
			WithArgs(otherThan(oldToken), pgxmock.AnyArg(), pgxmock.AnyArg(), "s1", oldToken).
			WillReturnResult(pgxmock.NewResult("UPDATE", 1))

		result, err := s.Refresh(context.Background(), oldToken)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		checkLoginResult(t, s, result, "u1")
		if result.SessionID != "s1" || result.RefreshToken == oldToken {
			t.Fatalf("unexpected result: %#v", result)
		}
		expectationsMet(t, mock)
	})

	t.Run("unknown token", func(t *testing.T) {
		s, mock := newTestAuthService(t)
		mock.ExpectQuery(exactQuery(selectSessionByRefreshTokenQuery)).
			WithArgs(oldToken).
			WillReturnError(pgx.ErrNoRows)

		_, err := s.Refresh(context.Background(), oldToken)
		if !errors.Is(err, ErrSessionNotFound) {
			t.Fatalf("expected ErrSessionNotFound, got %v", err)
		}
		expectationsMet(t, mock)
	})

	t.Run("expired session is not rotated", func(t *testing.T) {
		s, mock := newTestAuthService(t)
		mock.ExpectQuery(exactQuery(selectSessionByRefreshTokenQuery)).
			WithArgs(oldToken).
			WillReturnRows(sessionRows(time.Now().Add(-time.Second)))

		_, err := s.Refresh(context.Background(), oldToken)
		if !errors.Is(err, ErrSessionExpired) {
			t.Fatalf("expected ErrSessionExpired, got %v", err)
		}
		expectationsMet(t, mock)
	})

	t.Run("concurrent rotation wins", func(t *testing.T) {
		s, mock := newTestAuthService(t)
		mock.ExpectQuery(exactQuery(selectSessionByRefreshTokenQuery)).
			WithArgs(oldToken).
			WillReturnRows(sessionRows(time.Now().Add(time.Hour)))
		mock.ExpectExec(exactQuery(rotateRefreshTokenQuery)).
			WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), "s1", oldToken).
			WillReturnResult(pgxmock.NewResult("UPDATE", 0))

		_, err := s.Refresh(context.Background(), oldToken)
		if !errors.Is(err, ErrSessionNotFound) {
			t.Fatalf("expected ErrSessionNotFound, got %v", err)
		}
		expectationsMet(t, mock)
	})
}

func TestAuthService_Logout(t *testing.T) {
	s, mock := newTestAuthService(t)
	mock.ExpectExec(exactQuery(deleteSessionsByUserIDQuery)).
		WithArgs("u1").
		WillReturnResult(pgxmock.NewResult("DELETE", 3))
	mock.ExpectExec(exactQuery(deleteSessionsByUserIDQuery)).
		WithArgs("u1").
		WillReturnError(errors.New("connection reset"))

	if err := s.Logout(context.Background(), "u1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := s.Logout(context.Background(), "u1"); err == nil {
		t.Fatalf("expected the delete error")
	}
	expectationsMet(t, mock)
}
