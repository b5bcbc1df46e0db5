package auth

import (
	"context"
	"sync"

	"github.com/nkiryanov/jwtrefresh/internal/models"
)

type userCacheKey struct{}

type userCache struct {
	once sync.Once
	user *models.User
	err  error
}

// Install slot to keep authenticated user for the request lifetime
func WithUserCache(ctx context.Context) context.Context {
	if _, ok := ctx.Value(userCacheKey{}).(*userCache); ok {
		return ctx
	}
	return context.WithValue(ctx, userCacheKey{}, &userCache{})
}

// Call resolve at most once per context created with WithUserCache and return its result
// Without the slot resolve is called every time
func resolveUser(ctx context.Context, resolve func() (*models.User, error)) (*models.User, error) {
	c, ok := ctx.Value(userCacheKey{}).(*userCache)
	if !ok {
		return resolve()
	}

	c.once.Do(func() {
		c.user, c.err = resolve()
	})
	return c.user, c.err
}
