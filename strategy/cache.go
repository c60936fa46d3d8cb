package strategy

import (
	"sync"
	"time"
)

// SignalCache 趋势信号 TTL 缓存，避免每次行情都重算指标
type SignalCache struct {
	mu      sync.RWMutex
	ttl     time.Duration
	entries map[string]cacheEntry
}

type cacheEntry struct {
	signal    *TrendSignal
	expiresAt time.Time
}

// NewSignalCache 创建信号缓存
func NewSignalCache(ttl time.Duration) *SignalCache {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &SignalCache{
		ttl:     ttl,
		entries: make(map[string]cacheEntry),
	}
}

// Get 读取未过期的缓存信号
func (c *SignalCache) Get(symbol string) (*TrendSignal, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, ok := c.entries[symbol]
	if !ok || time.Now().After(entry.expiresAt) {
		return nil, false
	}
	return entry.signal, true
}

// Set 写入信号并刷新过期时间
func (c *SignalCache) Set(symbol string, signal *TrendSignal) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[symbol] = cacheEntry{
		signal:    signal,
		expiresAt: time.Now().Add(c.ttl),
	}
}

// Invalidate 删除某交易对的缓存
func (c *SignalCache) Invalidate(symbol string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, symbol)
}
