package auth

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

var _ RefreshTokenStore = (*RedisRefreshStore)(nil)

const defaultRedisPrefix = "csps:refresh:"

// revokeScript flips a live token to revoked and reports whether this call did it.
// Missing keys stay missing so an expired token cannot be resurrected as a stub.
const revokeScript = `
if redis.call("EXISTS", KEYS[1]) == 0 then
  return 0
end
return redis.call("HINCRBY", KEYS[1], "revoked", 1)
`

// revokeAccountScript revokes every indexed token of an account and removes
// exactly those ids from the index, so a token added concurrently stays indexed.
const revokeAccountScript = `
local ids = redis.call("SMEMBERS", KEYS[1])
for _, id in ipairs(ids) do
  local key = ARGV[1] .. id
  if redis.call("EXISTS", key) == 1 then
    redis.call("HSET", key, "revoked", "1")
  end
  redis.call("SREM", KEYS[1], id)
end
return #ids
`

var (
	revokeLua        = redis.NewScript(revokeScript)
	revokeAccountLua = redis.NewScript(revokeAccountScript)
)

// RedisRefreshStore keeps refresh tokens in Redis hashes that expire with the token.
type RedisRefreshStore struct {
	rdb    redis.UniversalClient
	prefix string
}

// NewRedisRefreshStore wraps a go-redis client. An empty prefix selects the default.
func NewRedisRefreshStore(rdb redis.UniversalClient, prefix string) *RedisRefreshStore {
	if prefix == "" {
		prefix = defaultRedisPrefix
	}
	return &RedisRefreshStore{rdb: rdb, prefix: prefix}
}

func (s *RedisRefreshStore) tokenKey(id string) string { return s.prefix + "token:" + id }

func (s *RedisRefreshStore) accountKey(accountID int64) string {
	return s.prefix + "account:" + strconv.FormatInt(accountID, 10)
}

// Ping checks connectivity for readiness probes.
func (s *RedisRefreshStore) Ping(ctx context.Context) error {
	return s.rdb.Ping(ctx).Err()
}

func (s *RedisRefreshStore) Create(ctx context.Context, tok *RefreshToken) error {
	key := s.tokenKey(tok.ID)
	created, err := s.rdb.HSetNX(ctx, key, "token_hash", tok.TokenHash).Result()
	if err != nil {
		return fmt.Errorf("redis hsetnx: %w", err)
	}
	if !created {
		return ErrAlreadyExists
	}
	_, err = s.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.HSet(ctx, key,
			"account_id", tok.AccountID,
			"expires_at", tok.ExpiresAt.UnixNano(),
			"created_at", tok.CreatedAt.UnixNano(),
			"revoked", 0,
		)
		p.PExpireAt(ctx, key, tok.ExpiresAt)
		p.SAdd(ctx, s.accountKey(tok.AccountID), tok.ID)
		p.PExpireAt(ctx, s.accountKey(tok.AccountID), tok.ExpiresAt)
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis store refresh token: %w", err)
	}
	return nil
}

func (s *RedisRefreshStore) Find(ctx context.Context, id string) (*RefreshToken, error) {
	fields, err := s.rdb.HGetAll(ctx, s.tokenKey(id)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis hgetall: %w", err)
	}
	if len(fields) == 0 {
		return nil, ErrNotFound
	}
	accountID, err := strconv.ParseInt(fields["account_id"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("redis refresh token %s: bad account_id", id)
	}
	expires, err := strconv.ParseInt(fields["expires_at"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("redis refresh token %s: bad expires_at", id)
	}
	created, _ := strconv.ParseInt(fields["created_at"], 10, 64)
	revoked, _ := strconv.Atoi(fields["revoked"])
	return &RefreshToken{
		ID:        id,
		AccountID: accountID,
		TokenHash: fields["token_hash"],
		ExpiresAt: time.Unix(0, expires).UTC(),
		CreatedAt: time.Unix(0, created).UTC(),
		Revoked:   revoked > 0,
	}, nil
}

func (s *RedisRefreshStore) MarkRevoked(ctx context.Context, id string) error {
	n, err := revokeLua.Run(ctx, s.rdb, []string{s.tokenKey(id)}).Int64()
	if err != nil {
		return fmt.Errorf("redis revoke: %w", err)
	}
	if n != 1 {
		return ErrNotFound
	}
	return nil
}

func (s *RedisRefreshStore) MarkRevokedByAccount(ctx context.Context, accountID int64) error {
	err := revokeAccountLua.Run(ctx, s.rdb, []string{s.accountKey(accountID)}, s.prefix+"token:").Err()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("redis revoke account: %w", err)
	}
	return nil
}
