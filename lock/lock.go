package lock

import (
	"context"
	"time"
)

// DistributedLock 分布式锁接口，单机部署时用 NopLock
type DistributedLock interface {
	// Acquire 尝试获取锁，成功返回 true
	Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error)
	// Release 释放锁
	Release(ctx context.Context, key string) error
	// Close 关闭底层连接
	Close() error
}

// NopLock 空实现，总是获取成功
type NopLock struct{}

func NewNopLock() *NopLock {
	return &NopLock{}
}

func (n *NopLock) Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	return true, nil
}

func (n *NopLock) Release(ctx context.Context, key string) error {
	return nil
}

func (n *NopLock) Close() error {
	return nil
}
