package apperrors

import (
	"errors"
)

var (
	ErrUserAlreadyExists = errors.New("user already exists")
	ErrUserNotFound      = errors.New("user not found")

	// Any rejected token: bad signature, expired, missing jti or jti not in the ledger.
	// Callers must not rely on the wrapped reason
	ErrInvalidToken = errors.New("invalid or expired token")

	ErrRefreshTokenNotFound = errors.New("refresh token not found")
	ErrRefreshTokenExists   = errors.New("refresh token already exists")
)
