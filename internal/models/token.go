package models

import (
	"time"

	"github.com/google/uuid"
)

// Ledger record of a live refresh token
// The signed token itself is never stored, only its jti
type RefreshToken struct {
	ID        int64
	UserID    uuid.UUID
	JTI       string
	CreatedAt time.Time
}

type IssuedToken struct {
	Value     string
	ExpiresAt time.Time
}

// Token pair issued by AuthService
type TokenPair struct {
	Access  IssuedToken
	Refresh IssuedToken
}
