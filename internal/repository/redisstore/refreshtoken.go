package redisstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/nkiryanov/jwtrefresh/internal/apperrors"
	"github.com/nkiryanov/jwtrefresh/internal/models"
)

const createScript = `
if not redis.call("SET", KEYS[1], ARGV[1], "NX") then
  return 0
end
redis.call("SADD", KEYS[2], ARGV[2])
local ttl = tonumber(ARGV[3])
if ttl > 0 then
  redis.call("PEXPIRE", KEYS[1], ttl)
  redis.call("PEXPIRE", KEYS[2], ttl)
end
return 1
`

var createLua = redis.NewScript(createScript)

// Returns owner id or nil when jti is not registered
const consumeScript = `
local uid = redis.call("GET", KEYS[1])
if not uid then
  return false
end
redis.call("DEL", KEYS[1])
redis.call("SREM", ARGV[1] .. ":user:" .. uid .. ":refresh", ARGV[2])
return uid
`

var consumeLua = redis.NewScript(consumeScript)

const deleteAllScript = `
local jtis = redis.call("SMEMBERS", KEYS[1])
local deleted = 0
for _, jti in ipairs(jtis) do
  deleted = deleted + redis.call("DEL", ARGV[1] .. ":refresh:" .. jti)
end
redis.call("DEL", KEYS[1])
return deleted
`

var deleteAllLua = redis.NewScript(deleteAllScript)

// Refresh token ledger kept in redis
//
// Layout:
//
//	<prefix>:refresh:<jti>       -> owner user id
//	<prefix>:user:<uid>:refresh  -> set of owner's jti
type RefreshTokenRepo struct {
	rdb    redis.UniversalClient
	prefix string
	ttl    time.Duration
	now    func() time.Time
}

func (r *RefreshTokenRepo) tokenKey(jti string) string {
	return r.prefix + ":refresh:" + jti
}

func (r *RefreshTokenRepo) userKey(userID uuid.UUID) string {
	return r.prefix + ":user:" + userID.String() + ":refresh"
}

func (r *RefreshTokenRepo) Create(ctx context.Context, userID uuid.UUID) (models.RefreshToken, error) {
	jti, err := uuid.NewV7()
	if err != nil {
		return models.RefreshToken{}, fmt.Errorf("error while generating jti. Err: %w", err)
	}

	created, err := createLua.Run(
		ctx,
		r.rdb,
		[]string{r.tokenKey(jti.String()), r.userKey(userID)},
		userID.String(), jti.String(), r.ttl.Milliseconds(),
	).Int64()
	if err != nil {
		return models.RefreshToken{}, fmt.Errorf("redis error: %w", err)
	}
	if created == 0 {
		return models.RefreshToken{}, fmt.Errorf("repo error: %w", apperrors.ErrRefreshTokenExists)
	}

	return models.RefreshToken{
		UserID:    userID,
		JTI:       jti.String(),
		CreatedAt: r.now(),
	}, nil
}

func (r *RefreshTokenRepo) Exists(ctx context.Context, jti string) (bool, error) {
	n, err := r.rdb.Exists(ctx, r.tokenKey(jti)).Result()
	if err != nil {
		return false, fmt.Errorf("redis error: %w", err)
	}
	return n > 0, nil
}

func (r *RefreshTokenRepo) OwnerOf(ctx context.Context, jti string) (uuid.UUID, error) {
	uid, err := r.rdb.Get(ctx, r.tokenKey(jti)).Result()
	return parseOwner(uid, err)
}

func (r *RefreshTokenRepo) Delete(ctx context.Context, jti string) error {
	_, err := r.Consume(ctx, jti)
	if err != nil && !errors.Is(err, apperrors.ErrRefreshTokenNotFound) {
		return err
	}
	return nil
}

func (r *RefreshTokenRepo) Consume(ctx context.Context, jti string) (uuid.UUID, error) {
	uid, err := consumeLua.Run(ctx, r.rdb, []string{r.tokenKey(jti)}, r.prefix, jti).Text()
	return parseOwner(uid, err)
}

func (r *RefreshTokenRepo) DeleteAll(ctx context.Context, userID uuid.UUID) (int64, error) {
	deleted, err := deleteAllLua.Run(ctx, r.rdb, []string{r.userKey(userID)}, r.prefix).Int64()
	if err != nil {
		return 0, fmt.Errorf("redis error: %w", err)
	}
	return deleted, nil
}

// Records carry TTL and expire on their own
func (r *RefreshTokenRepo) DeleteExpired(context.Context, time.Time) (int64, error) {
	return 0, nil
}

func parseOwner(uid string, err error) (uuid.UUID, error) {
	switch {
	case errors.Is(err, redis.Nil):
		return uuid.Nil, fmt.Errorf("repo error: %w", apperrors.ErrRefreshTokenNotFound)
	case err != nil:
		return uuid.Nil, fmt.Errorf("redis error: %w", err)
	}

	owner, err := uuid.Parse(uid)
	if err != nil {
		return uuid.Nil, fmt.Errorf("corrupted ledger record: %w", err)
	}
	return owner, nil
}
