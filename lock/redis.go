package lock

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"gridmesh/logger"
)

// 只有持有者才能删除锁
const releaseScript = `
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
else
	return 0
end`

// RedisLock 基于 Redis SET NX 的分布式锁
type RedisLock struct {
	client *redis.Client
	owner  string
}

// NewRedisLock 创建 Redis 分布式锁
func NewRedisLock(addr, password string, db int, owner string) (*RedisLock, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis 连接失败: %w", err)
	}

	logger.Info("✅ Redis 分布式锁已连接: %s (db=%d)", addr, db)
	return &RedisLock{client: client, owner: owner}, nil
}

// Acquire 尝试获取锁
func (r *RedisLock) Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	ok, err := r.client.SetNX(ctx, key, r.owner, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("获取锁失败: %w", err)
	}
	return ok, nil
}

// Release 释放锁（仅当自己持有）
func (r *RedisLock) Release(ctx context.Context, key string) error {
	return r.client.Eval(ctx, releaseScript, []string{key}, r.owner).Err()
}

// Close 关闭 Redis 连接
func (r *RedisLock) Close() error {
	return r.client.Close()
}
