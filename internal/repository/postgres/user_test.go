package postgres

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nkiryanov/jwtrefresh/internal/apperrors"
	"github.com/nkiryanov/jwtrefresh/internal/testutil"
)

func Test_UserRepo(t *testing.T) {
	t.Parallel() // It's ok to run in parallel with other tests, but not with subtests

	pg := testutil.StartPostgresContainer(t)
	t.Cleanup(pg.Terminate)

	t.Run("create user ok", func(t *testing.T) {
		testutil.WithTx(pg.Pool, t, func(tx pgx.Tx) {
			r := UserRepo{DB: tx}

			user, err := r.CreateUser(t.Context(), "testuser", "hashedpassword123")

			require.NoError(t, err)
			assert.NotEqual(t, uuid.Nil, user.ID, "ID should be generated")
			assert.Equal(t, "testuser", user.Username)
			assert.Equal(t, "hashedpassword123", user.HashedPassword)
			assert.WithinDuration(t, time.Now(), user.CreatedAt, time.Second, "CreatedAt should be recent")
		})
	})

	t.Run("create user duplicate username fails", func(t *testing.T) {
		testutil.WithTx(pg.Pool, t, func(tx pgx.Tx) {
			r := UserRepo{DB: tx}
			_, err := r.CreateUser(t.Context(), "duplicateuser", "hashedpassword123")
			require.NoError(t, err)

			_, err = r.CreateUser(t.Context(), "duplicateuser", "other")

			require.Error(t, err, "should fail on duplicate username")
			require.ErrorIs(t, err, apperrors.ErrUserAlreadyExists)
		})
	})

	t.Run("get user by id ok", func(t *testing.T) {
		testutil.WithTx(pg.Pool, t, func(tx pgx.Tx) {
			r := UserRepo{DB: tx}
			created, err := r.CreateUser(t.Context(), "findbyid", "hashedpassword123")
			require.NoError(t, err)

			got, err := r.GetUserByID(t.Context(), created.ID)

			require.NoError(t, err)
			assert.Equal(t, created, got)
		})
	})

	t.Run("get user by id not found", func(t *testing.T) {
		testutil.WithTx(pg.Pool, t, func(tx pgx.Tx) {
			r := UserRepo{DB: tx}

			_, err := r.GetUserByID(t.Context(), uuid.New())

			require.Error(t, err, "should return error for non-existent user")
			assert.ErrorIs(t, err, apperrors.ErrUserNotFound, "should return well known error")
		})
	})

	t.Run("get user by username ok", func(t *testing.T) {
		testutil.WithTx(pg.Pool, t, func(tx pgx.Tx) {
			r := UserRepo{DB: tx}
			created, err := r.CreateUser(t.Context(), "findbyusername", "hashedpassword123")
			require.NoError(t, err)

			got, err := r.GetUserByUsername(t.Context(), created.Username)

			require.NoError(t, err)
			assert.Equal(t, created, got)
		})
	})

	t.Run("get user by username not found", func(t *testing.T) {
		testutil.WithTx(pg.Pool, t, func(tx pgx.Tx) {
			r := UserRepo{DB: tx}

			_, err := r.GetUserByUsername(t.Context(), "nonexistentuser")

			require.Error(t, err)
			assert.ErrorIs(t, err, apperrors.ErrUserNotFound)
		})
	})
}
