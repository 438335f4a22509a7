package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/pilab-dev/shadow-auth/cache"
	"github.com/redis/go-redis/v9"
)

// compareAndDelete removes KEYS[1] only when it still holds ARGV[1].
var compareAndDelete = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// incrWithExpiry increments KEYS[1] and sets the expiry (ARGV[1] ms) on create.
var incrWithExpiry = redis.NewScript(`
local n = redis.call("INCR", KEYS[1])
if n == 1 and tonumber(ARGV[1]) > 0 then
	redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
return n
`)

// Store implements cache.Store on Redis.
type Store struct {
	client redis.UniversalClient
	prefix string // Optional prefix for keys
}

var _ cache.Store = (*Store)(nil)

// NewStore creates a new [Store] instance.
func NewStore(client redis.UniversalClient, prefix string) *Store {
	return &Store{
		client: client,
		prefix: prefix,
	}
}

// redisKey returns the namespaced Redis key.
func (r *Store) redisKey(key string) string {
	if r.prefix == "" {
		return key
	}
	return r.prefix + ":" + key
}

func (r *Store) Get(ctx context.Context, key string) (string, error) {
	v, err := r.client.Get(ctx, r.redisKey(key)).Result()
	if errors.Is(err, redis.Nil) {
		return "", cache.ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to get key from Redis: %w", err)
	}
	return v, nil
}

func (r *Store) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	if err := r.client.Set(ctx, r.redisKey(key), value, ttl).Err(); err != nil {
		return fmt.Errorf("failed to set key in Redis: %w", err)
	}
	return nil
}

func (r *Store) SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	ok, err := r.client.SetNX(ctx, r.redisKey(key), value, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to setnx key in Redis: %w", err)
	}
	return ok, nil
}

func (r *Store) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	full := make([]string, len(keys))
	for i, k := range keys {
		full[i] = r.redisKey(k)
	}
	if err := r.client.Del(ctx, full...).Err(); err != nil {
		return fmt.Errorf("failed to delete keys from Redis: %w", err)
	}
	return nil
}

func (r *Store) GetDel(ctx context.Context, key string) (string, error) {
	v, err := r.client.GetDel(ctx, r.redisKey(key)).Result()
	if errors.Is(err, redis.Nil) {
		return "", cache.ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to getdel key in Redis: %w", err)
	}
	return v, nil
}

func (r *Store) CompareAndDelete(ctx context.Context, key, expected string) (bool, error) {
	n, err := compareAndDelete.Run(ctx, r.client, []string{r.redisKey(key)}, expected).Int64()
	if err != nil {
		return false, fmt.Errorf("failed to compare-and-delete key in Redis: %w", err)
	}
	return n == 1, nil
}

func (r *Store) Incr(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	n, err := incrWithExpiry.Run(ctx, r.client, []string{r.redisKey(key)}, ttl.Milliseconds()).Int64()
	if err != nil {
		return 0, fmt.Errorf("failed to increment key in Redis: %w", err)
	}
	return n, nil
}

func (r *Store) Exists(ctx context.Context, key string) (bool, error) {
	n, err := r.client.Exists(ctx, r.redisKey(key)).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check key in Redis: %w", err)
	}
	return n > 0, nil
}

func (r *Store) AddToSet(ctx context.Context, key, member string, ttl time.Duration) error {
	full := r.redisKey(key)
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.SAdd(ctx, full, member)
		if ttl > 0 {
			pipe.Expire(ctx, full, ttl)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to add set member in Redis: %w", err)
	}
	return nil
}

func (r *Store) SetMembers(ctx context.Context, key string) ([]string, error) {
	members, err := r.client.SMembers(ctx, r.redisKey(key)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read set members from Redis: %w", err)
	}
	return members, nil
}

func (r *Store) RemoveFromSet(ctx context.Context, key string, members ...string) error {
	if len(members) == 0 {
		return nil
	}
	args := make([]interface{}, len(members))
	for i, m := range members {
		args[i] = m
	}
	if err := r.client.SRem(ctx, r.redisKey(key), args...).Err(); err != nil {
		return fmt.Errorf("failed to remove set members in Redis: %w", err)
	}
	return nil
}

// Close closes the underlying client.
func (r *Store) Close() error {
	return r.client.Close()
}
