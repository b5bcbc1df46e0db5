// Package redisstore keeps the refresh token ledger in redis.
// Users stay in the storage passed to NewStorage.
package redisstore

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/nkiryanov/jwtrefresh/internal/repository"
)

const defaultPrefix = "jwtrefresh"

type Options struct {
	// Key namespace. Default is used if empty
	Prefix string

	// Lifetime of ledger records. Zero means records live until consumed
	TTL time.Duration
}

type Storage struct {
	users  repository.UserRepo
	tokens *RefreshTokenRepo
}

func NewStorage(rdb redis.UniversalClient, users repository.UserRepo, opts Options) *Storage {
	if opts.Prefix == "" {
		opts.Prefix = defaultPrefix
	}

	return &Storage{
		users: users,
		tokens: &RefreshTokenRepo{
			rdb:    rdb,
			prefix: opts.Prefix,
			ttl:    opts.TTL,
			now:    time.Now,
		},
	}
}

func (s *Storage) User() repository.UserRepo {
	return s.users
}

func (s *Storage) Refresh() repository.RefreshTokenRepo {
	return s.tokens
}

// Redis can't join a transaction with the user store: fn runs as is.
// Ledger operations are atomic scripts on their own
func (s *Storage) InTx(ctx context.Context, fn func(repository.Storage) error) error {
	return fn(s)
}
