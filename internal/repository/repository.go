package repository

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/nkiryanov/jwtrefresh/internal/models"
)

// User repository interface
type UserRepo interface {
	// Create user
	// If user with username exists already has to return error apperrors.ErrUserAlreadyExists
	CreateUser(ctx context.Context, username string, hashedPassword string) (models.User, error)

	// Get user by it's id or username
	// If user not found must return apperrors.ErrUserNotFound
	GetUserByID(ctx context.Context, userID uuid.UUID) (models.User, error)
	GetUserByUsername(ctx context.Context, username string) (models.User, error)
}

// Refresh token ledger: the set of live (not consumed, not revoked) refresh token jti
type RefreshTokenRepo interface {
	// Create record with new time ordered jti for the user
	// Must never reuse jti of a live record
	Create(ctx context.Context, userID uuid.UUID) (models.RefreshToken, error)

	// Check live record with jti exists
	Exists(ctx context.Context, jti string) (bool, error)

	// Return owner of the record
	// If record not found must return apperrors.ErrRefreshTokenNotFound
	OwnerOf(ctx context.Context, jti string) (uuid.UUID, error)

	// Delete record. Deleting absent record is not an error
	Delete(ctx context.Context, jti string) error

	// Delete record and return its owner in one atomic step
	// Only one of concurrent callers may succeed, others get apperrors.ErrRefreshTokenNotFound
	Consume(ctx context.Context, jti string) (uuid.UUID, error)

	// Delete every record of the user, return number of deleted records
	DeleteAll(ctx context.Context, userID uuid.UUID) (int64, error)

	// Delete records created before the moment, return number of deleted records
	// Backends that expire records on their own may do nothing
	DeleteExpired(ctx context.Context, before time.Time) (int64, error)
}

type Storage interface {
	User() UserRepo
	Refresh() RefreshTokenRepo

	// Run fn in a unit of work. The storage passed to fn must be used inside
	// If fn returns error changes made through it are discarded (when backend supports it)
	InTx(ctx context.Context, fn func(Storage) error) error
}
