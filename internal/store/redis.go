// redis.go -- go-redis client for session caching and login rate limiting.
//
// Sessions are cached with a TTL matching their expiry so the hot path skips Postgres.
// If Redis is unavailable, callers fall back to Postgres.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// NewRedisClient parses redisURL, pings and returns a shared client.
// Session cache and rate limiter share one connection pool.
func NewRedisClient(ctx context.Context, redisURL string) (*redis.Client, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parsing redis url: %w", err)
	}
	rdb := redis.NewClient(opt)
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("pinging redis: %w", err)
	}
	return rdb, nil
}

func sessionKey(tokenHash string) string { return "session:" + tokenHash }

func userSessionsKey(userID int64) string { return fmt.Sprintf("user_sessions:%d", userID) }

// RedisStore is the Redis-backed session cache.
type RedisStore struct {
	rdb *redis.Client
}

// NewRedisStore wraps an existing client.
func NewRedisStore(rdb *redis.Client) *RedisStore {
	return &RedisStore{rdb: rdb}
}

// CheckHealth pings Redis.
func (s *RedisStore) CheckHealth(ctx context.Context) error {
	return s.rdb.Ping(ctx).Err()
}

// SetSession caches a session under its hex token hash for ttl.
// Also tracks the hash in a per-user set for bulk deletion.
func (s *RedisStore) SetSession(ctx context.Context, tokenHash string, sess CachedSession, ttl time.Duration) error {
	if ttl <= 0 {
		// SET with zero TTL means no expiry, not immediate expiry.
		return nil
	}
	payload, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("marshaling session: %w", err)
	}

	pipe := s.rdb.TxPipeline()
	pipe.Set(ctx, sessionKey(tokenHash), payload, ttl)
	pipe.SAdd(ctx, userSessionsKey(sess.UserID), tokenHash)
	// Keep the index alive at least as long as its longest member.
	pipe.ExpireGT(ctx, userSessionsKey(sess.UserID), ttl)
	pipe.ExpireNX(ctx, userSessionsKey(sess.UserID), ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("caching session: %w", err)
	}
	return nil
}

// GetSession returns ErrCacheMiss when the key is absent.
func (s *RedisStore) GetSession(ctx context.Context, tokenHash string) (*CachedSession, error) {
	raw, err := s.rdb.Get(ctx, sessionKey(tokenHash)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrCacheMiss
		}
		return nil, fmt.Errorf("fetching session: %w", err)
	}

	var cached CachedSession
	if err := json.Unmarshal(raw, &cached); err != nil {
		return nil, fmt.Errorf("parsing session: %w", err)
	}
	return &cached, nil
}

// DeleteSession removes a cached session. userID 0 skips the per-user index.
func (s *RedisStore) DeleteSession(ctx context.Context, tokenHash string, userID int64) error {
	pipe := s.rdb.TxPipeline()
	pipe.Del(ctx, sessionKey(tokenHash))
	if userID != 0 {
		pipe.SRem(ctx, userSessionsKey(userID), tokenHash)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("deleting session: %w", err)
	}
	return nil
}

// DeleteAllUserSessions removes every cached session tracked for userID.
func (s *RedisStore) DeleteAllUserSessions(ctx context.Context, userID int64) error {
	setKey := userSessionsKey(userID)
	hashes, err := s.rdb.SMembers(ctx, setKey).Result()
	if err != nil {
		return fmt.Errorf("fetching user sessions: %w", err)
	}

	pipe := s.rdb.TxPipeline()
	for _, hash := range hashes {
		pipe.Del(ctx, sessionKey(hash))
	}
	pipe.Del(ctx, setKey)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("deleting user sessions: %w", err)
	}
	return nil
}

// NoopSessionCache stands in when REDIS_URL is unset. Every lookup misses.
type NoopSessionCache struct{}

func (NoopSessionCache) SetSession(context.Context, string, CachedSession, time.Duration) error {
	return nil
}

func (NoopSessionCache) GetSession(context.Context, string) (*CachedSession, error) {
	return nil, ErrCacheMiss
}

func (NoopSessionCache) DeleteSession(context.Context, string, int64) error { return nil }

func (NoopSessionCache) DeleteAllUserSessions(context.Context, int64) error { return nil }

func (NoopSessionCache) CheckHealth(context.Context) error { return ErrCacheDisabled }

// --- Rate limiting ---

// allowScript counts attempts in a fixed window and sets a lockout key once the
// limit is exceeded. KEYS: counter, lockout. ARGV: max, window ms, lockout ms.
var allowScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[2]) == 1 then
	return 0
end
local n = redis.call('INCR', KEYS[1])
if n == 1 then
	redis.call('PEXPIRE', KEYS[1], ARGV[2])
end
if n > tonumber(ARGV[1]) then
	redis.call('SET', KEYS[2], '1', 'PX', ARGV[3])
	redis.call('DEL', KEYS[1])
	return 0
end
return 1
`)

// RedisRateLimiter enforces RateLimit policies with an atomic Lua script.
type RedisRateLimiter struct {
	rdb *redis.Client
}

// NewRedisRateLimiter wraps an existing client.
func NewRedisRateLimiter(rdb *redis.Client) *RedisRateLimiter {
	return &RedisRateLimiter{rdb: rdb}
}

// Allow records one attempt against key. Returns ErrRateLimitExceeded while locked out.
func (l *RedisRateLimiter) Allow(ctx context.Context, key string, policy RateLimit) error {
	if policy.MaxAttempts <= 0 || policy.Window <= 0 {
		return nil
	}
	lockout := policy.LockoutTTL
	if lockout <= 0 {
		lockout = policy.Window
	}
	ok, err := allowScript.Run(ctx, l.rdb,
		[]string{"rl:" + key, "rl:lock:" + key},
		policy.MaxAttempts, policy.Window.Milliseconds(), lockout.Milliseconds(),
	).Int()
	if err != nil {
		return fmt.Errorf("rate limit script: %w", err)
	}
	if ok == 0 {
		return ErrRateLimitExceeded
	}
	return nil
}

// NoopRateLimiter allows everything. Used when Redis is not configured.
type NoopRateLimiter struct{}

func (NoopRateLimiter) Allow(context.Context, string, RateLimit) error { return nil }
