package lock

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "wall-e:lock:"

// Released locks are kept around for a day so Held keeps answering, then
// garbage collected by Redis.
const releasedTTL = 24 * time.Hour

// KEYS[1] = lock key, ARGV[1] = now (ms), ARGV[2] = lease (ms, 0 = none)
var acquireScript = redis.NewScript(`
if redis.call('HGET', KEYS[1], 'running') == '1' then
	return 0
end
redis.call('HSET', KEYS[1], 'running', '1', 'updated_at', ARGV[1])
local lease = tonumber(ARGV[2])
if lease > 0 then
	redis.call('PEXPIRE', KEYS[1], lease)
else
	redis.call('PERSIST', KEYS[1])
end
return 1
`)

// KEYS[1] = lock key, ARGV[1] = now (ms), ARGV[2] = retention (ms)
var releaseScript = redis.NewScript(`
redis.call('HSET', KEYS[1], 'running', '0', 'updated_at', ARGV[1])
redis.call('PEXPIRE', KEYS[1], ARGV[2])
return 1
`)

// RedisStore keeps lock state in a hash per id. Scripts run atomically, so
// the read and the write of an acquire cannot interleave with another caller.
type RedisStore struct {
	rdb   redis.UniversalClient
	lease time.Duration
}

// NewRedisStore returns a store whose held locks expire after lease. A zero
// lease holds until released.
func NewRedisStore(rdb redis.UniversalClient, lease time.Duration) *RedisStore {
	return &RedisStore{rdb: rdb, lease: lease}
}

func (s *RedisStore) Acquire(ctx context.Context, id string) (bool, error) {
	n, err := acquireScript.Run(ctx, s.rdb, []string{redisKeyPrefix + id},
		time.Now().UnixMilli(), s.lease.Milliseconds()).Int()
	if err != nil {
		return false, fmt.Errorf("redis lock acquire %s: %w", id, err)
	}
	return n == 1, nil
}

func (s *RedisStore) Release(ctx context.Context, id string) error {
	err := releaseScript.Run(ctx, s.rdb, []string{redisKeyPrefix + id},
		time.Now().UnixMilli(), releasedTTL.Milliseconds()).Err()
	if err != nil {
		return fmt.Errorf("redis lock release %s: %w", id, err)
	}
	return nil
}

func (s *RedisStore) Held(ctx context.Context, id string) (bool, error) {
	v, err := s.rdb.HGet(ctx, redisKeyPrefix+id, "running").Result()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("redis lock status %s: %w", id, err)
	}
	return v == "1", nil
}
