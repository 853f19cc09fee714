package scheduler

import (
	"context"
	"fmt"
	"strings"
	"time"

	"knowledge-rag/internal/helper"

	goredis "github.com/redis/go-redis/v9"
)

// deletes the key only while it still holds our token
var releaseScript = goredis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLocker is a single-key lease shared by every scheduler process.
type RedisLocker struct {
	rdb *goredis.Client
	key string
	ttl time.Duration
}

// NewRedisClient accepts a redis:// url or a bare host:port.
func NewRedisClient(ctx context.Context, addr string) (*goredis.Client, error) {
	opts := &goredis.Options{Addr: addr, DialTimeout: 5 * time.Second}
	if strings.Contains(addr, "://") {
		parsed, err := goredis.ParseURL(addr)
		if err != nil {
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		opts = parsed
		opts.DialTimeout = 5 * time.Second
	}
	rdb := goredis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return rdb, nil
}

func NewRedisLocker(rdb *goredis.Client, key string, ttl time.Duration) *RedisLocker {
	return &RedisLocker{rdb: rdb, key: key, ttl: ttl}
}

func (l *RedisLocker) Acquire(ctx context.Context) (func(context.Context) error, bool, error) {
	token, err := helper.GenerateUUID()
	if err != nil {
		return nil, false, err
	}
	ok, err := l.rdb.SetNX(ctx, l.key, token, l.ttl).Result()
	if err != nil {
		return nil, false, fmt.Errorf("redis setnx %s: %w", l.key, err)
	}
	if !ok {
		return nil, false, nil
	}
	release := func(ctx context.Context) error {
		if err := releaseScript.Run(ctx, l.rdb, []string{l.key}, token).Err(); err != nil {
			return fmt.Errorf("redis release %s: %w", l.key, err)
		}
		return nil
	}
	return release, true, nil
}
