package redisstore

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nkiryanov/jwtrefresh/internal/apperrors"
	"github.com/nkiryanov/jwtrefresh/internal/repository"
	"github.com/nkiryanov/jwtrefresh/internal/repository/memory"
)

func newStorage(t *testing.T, opts Options) (*Storage, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	return NewStorage(rdb, memory.NewStorage().User(), opts), mr
}

func TestRefreshTokenRepo(t *testing.T) {
	ctx := context.Background()
	userID := uuid.New()

	t.Run("create registers jti", func(t *testing.T) {
		s, mr := newStorage(t, Options{})

		token, err := s.Refresh().Create(ctx, userID)
		require.NoError(t, err)
		assert.Equal(t, userID, token.UserID)

		jti, err := uuid.Parse(token.JTI)
		require.NoError(t, err)
		assert.Equal(t, uuid.Version(7), jti.Version())

		got, err := mr.Get("jwtrefresh:refresh:" + token.JTI)
		require.NoError(t, err)
		assert.Equal(t, userID.String(), got)

		members, err := mr.Members("jwtrefresh:user:" + userID.String() + ":refresh")
		require.NoError(t, err)
		assert.Equal(t, []string{token.JTI}, members)

		ok, err := s.Refresh().Exists(ctx, token.JTI)
		require.NoError(t, err)
		assert.True(t, ok)

		owner, err := s.Refresh().OwnerOf(ctx, token.JTI)
		require.NoError(t, err)
		assert.Equal(t, userID, owner)
	})

	t.Run("custom prefix", func(t *testing.T) {
		s, mr := newStorage(t, Options{Prefix: "app"})

		token, err := s.Refresh().Create(ctx, userID)
		require.NoError(t, err)

		assert.True(t, mr.Exists("app:refresh:"+token.JTI))
	})

	t.Run("records expire with ttl", func(t *testing.T) {
		s, mr := newStorage(t, Options{TTL: time.Hour})

		token, err := s.Refresh().Create(ctx, userID)
		require.NoError(t, err)
		assert.Equal(t, time.Hour, mr.TTL("jwtrefresh:refresh:"+token.JTI))

		mr.FastForward(time.Hour + time.Second)

		ok, err := s.Refresh().Exists(ctx, token.JTI)
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("no ttl by default", func(t *testing.T) {
		s, mr := newStorage(t, Options{})

		token, err := s.Refresh().Create(ctx, userID)
		require.NoError(t, err)
		assert.Equal(t, time.Duration(0), mr.TTL("jwtrefresh:refresh:"+token.JTI))
	})

	t.Run("unknown jti", func(t *testing.T) {
		s, _ := newStorage(t, Options{})

		ok, err := s.Refresh().Exists(ctx, "unknown")
		require.NoError(t, err)
		assert.False(t, ok)

		_, err = s.Refresh().OwnerOf(ctx, "unknown")
		require.ErrorIs(t, err, apperrors.ErrRefreshTokenNotFound)

		_, err = s.Refresh().Consume(ctx, "unknown")
		require.ErrorIs(t, err, apperrors.ErrRefreshTokenNotFound)

		require.NoError(t, s.Refresh().Delete(ctx, "unknown"))
	})

	t.Run("consume once", func(t *testing.T) {
		s, mr := newStorage(t, Options{})
		token, err := s.Refresh().Create(ctx, userID)
		require.NoError(t, err)

		owner, err := s.Refresh().Consume(ctx, token.JTI)
		require.NoError(t, err)
		assert.Equal(t, userID, owner)

		_, err = s.Refresh().Consume(ctx, token.JTI)
		require.ErrorIs(t, err, apperrors.ErrRefreshTokenNotFound)

		assert.False(t, mr.Exists("jwtrefresh:user:"+userID.String()+":refresh"), "empty set must be gone")
	})

	t.Run("delete removes record", func(t *testing.T) {
		s, _ := newStorage(t, Options{})
		token, err := s.Refresh().Create(ctx, userID)
		require.NoError(t, err)

		require.NoError(t, s.Refresh().Delete(ctx, token.JTI))
		require.NoError(t, s.Refresh().Delete(ctx, token.JTI))

		ok, err := s.Refresh().Exists(ctx, token.JTI)
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("delete all affects only user", func(t *testing.T) {
		s, _ := newStorage(t, Options{})
		other := uuid.New()

		for range 3 {
			_, err := s.Refresh().Create(ctx, userID)
			require.NoError(t, err)
		}
		kept, err := s.Refresh().Create(ctx, other)
		require.NoError(t, err)

		deleted, err := s.Refresh().DeleteAll(ctx, userID)
		require.NoError(t, err)
		assert.Equal(t, int64(3), deleted)

		deleted, err = s.Refresh().DeleteAll(ctx, userID)
		require.NoError(t, err)
		assert.Equal(t, int64(0), deleted)

		ok, err := s.Refresh().Exists(ctx, kept.JTI)
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("concurrent consume has one winner", func(t *testing.T) {
		s, _ := newStorage(t, Options{})
		token, err := s.Refresh().Create(ctx, userID)
		require.NoError(t, err)

		var (
			wg   sync.WaitGroup
			mu   sync.Mutex
			wins int
		)
		for range 10 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if _, err := s.Refresh().Consume(ctx, token.JTI); err == nil {
					mu.Lock()
					wins++
					mu.Unlock()
				}
			}()
		}
		wg.Wait()

		assert.Equal(t, 1, wins)
	})
}

func TestStorage(t *testing.T) {
	ctx := context.Background()

	t.Run("users come from wrapped store", func(t *testing.T) {
		users := memory.NewStorage().User()
		user, err := users.CreateUser(ctx, "nk", "hash")
		require.NoError(t, err)

		s := NewStorage(redis.NewClient(&redis.Options{Addr: miniredis.RunT(t).Addr()}), users, Options{})

		got, err := s.User().GetUserByID(ctx, user.ID)
		require.NoError(t, err)
		assert.Equal(t, user, got)
	})

	t.Run("in tx runs fn with same storage", func(t *testing.T) {
		s, _ := newStorage(t, Options{})

		var inner repository.Storage
		err := s.InTx(ctx, func(tx repository.Storage) error {
			inner = tx
			return nil
		})
		require.NoError(t, err)
		assert.Same(t, s, inner)
	})
}
