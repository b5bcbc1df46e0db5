package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/nkiryanov/jwtrefresh/internal/apperrors"
	"github.com/nkiryanov/jwtrefresh/internal/models"
)

type RefreshTokenRepo struct {
	DB DBTX
}

const createToken = `-- name: Create refresh token record
INSERT INTO refresh_tokens (user_id, jti)
VALUES ($1, $2)
RETURNING id, user_id, jti, created_at
`

func (r *RefreshTokenRepo) Create(ctx context.Context, userID uuid.UUID) (models.RefreshToken, error) {
	jti, err := uuid.NewV7()
	if err != nil {
		return models.RefreshToken{}, fmt.Errorf("error while generating jti. Err: %w", err)
	}

	rows, _ := r.DB.Query(ctx, createToken, userID, jti.String())
	token, err := pgx.CollectOneRow(rows, rowToRefreshToken)

	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) {
			switch pgErr.Code {
			case pgerrcode.UniqueViolation:
				return token, fmt.Errorf("repo error: %w", apperrors.ErrRefreshTokenExists)
			case pgerrcode.ForeignKeyViolation:
				return token, fmt.Errorf("repo error: %w", apperrors.ErrUserNotFound)
			}
		}
		return token, fmt.Errorf("db error: %w", err)
	}

	return token, nil
}

const existsToken = `-- name: Check refresh token exists
SELECT EXISTS (SELECT 1 FROM refresh_tokens WHERE jti = $1)
`

func (r *RefreshTokenRepo) Exists(ctx context.Context, jti string) (bool, error) {
	var exists bool
	err := r.DB.QueryRow(ctx, existsToken, jti).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("db error: %w", err)
	}
	return exists, nil
}

const ownerOfToken = `-- name: Get refresh token owner
SELECT user_id FROM refresh_tokens
WHERE jti = $1
`

func (r *RefreshTokenRepo) OwnerOf(ctx context.Context, jti string) (uuid.UUID, error) {
	rows, _ := r.DB.Query(ctx, ownerOfToken, jti)
	return collectOwner(rows)
}

const deleteToken = `-- name: Delete refresh token
DELETE FROM refresh_tokens
WHERE jti = $1
`

func (r *RefreshTokenRepo) Delete(ctx context.Context, jti string) error {
	_, err := r.DB.Exec(ctx, deleteToken, jti)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

const consumeToken = `-- name: Delete refresh token and return its owner
DELETE FROM refresh_tokens
WHERE jti = $1
RETURNING user_id
`

// Concurrent DELETE on the same row waits for the first one to commit
// and then affects nothing, so only one caller gets the owner back
func (r *RefreshTokenRepo) Consume(ctx context.Context, jti string) (uuid.UUID, error) {
	rows, _ := r.DB.Query(ctx, consumeToken, jti)
	return collectOwner(rows)
}

const deleteUserTokens = `-- name: Delete all user refresh tokens
DELETE FROM refresh_tokens
WHERE user_id = $1
`

func (r *RefreshTokenRepo) DeleteAll(ctx context.Context, userID uuid.UUID) (int64, error) {
	tag, err := r.DB.Exec(ctx, deleteUserTokens, userID)
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	return tag.RowsAffected(), nil
}

const deleteExpiredTokens = `-- name: Delete refresh tokens created before the moment
DELETE FROM refresh_tokens
WHERE created_at < $1
`

func (r *RefreshTokenRepo) DeleteExpired(ctx context.Context, before time.Time) (int64, error) {
	tag, err := r.DB.Exec(ctx, deleteExpiredTokens, before)
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	return tag.RowsAffected(), nil
}

func collectOwner(rows pgx.Rows) (uuid.UUID, error) {
	owner, err := pgx.CollectOneRow(rows, pgx.RowTo[uuid.UUID])

	switch {
	case err == nil:
		return owner, nil
	case errors.Is(err, pgx.ErrNoRows):
		return uuid.Nil, fmt.Errorf("repo error: %w", apperrors.ErrRefreshTokenNotFound)
	default:
		return uuid.Nil, fmt.Errorf("db error: %w", err)
	}
}

func rowToRefreshToken(row pgx.CollectableRow) (models.RefreshToken, error) {
	var t models.RefreshToken
	err := row.Scan(&t.ID, &t.UserID, &t.JTI, &t.CreatedAt)
	return t, err
}
