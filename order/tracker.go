package order

import (
	"sync"
	"time"

	"gridmesh/logger"
)

// TradeRecord 单笔成交
type TradeRecord struct {
	Symbol        string    `json:"symbol"`
	Side          string    `json:"side"`
	Price         float64   `json:"price"`
	Quantity      float64   `json:"quantity"`
	QuoteAmount   float64   `json:"quote_amount"`
	ClientOrderID string    `json:"client_order_id"`
	Time          time.Time `json:"time"`
}

// TradeStore 成交持久化接口（由 storage 层实现）
type TradeStore interface {
	SaveTradeRecord(symbol, side string, price, quantity, quoteAmount float64, clientOrderID string, createdAt time.Time) error
}

// Tracker 内存成交追踪器，按 clientOrderID 去重并保留最近 N 条
type Tracker struct {
	mu       sync.RWMutex
	records  []*TradeRecord
	seen     map[string]bool
	capacity int
	store    TradeStore
}

// NewTracker 创建成交追踪器
func NewTracker(capacity int, store TradeStore) *Tracker {
	if capacity <= 0 {
		capacity = 1000
	}
	return &Tracker{
		seen:     make(map[string]bool),
		capacity: capacity,
		store:    store,
	}
}

// Record 记录一笔成交，重复的 clientOrderID 被忽略
func (t *Tracker) Record(rec *TradeRecord) {
	if rec == nil || rec.ClientOrderID == "" {
		return
	}

	t.mu.Lock()
	if t.seen[rec.ClientOrderID] {
		t.mu.Unlock()
		return
	}
	t.seen[rec.ClientOrderID] = true

	t.records = append(t.records, rec)
	if len(t.records) > t.capacity {
		evicted := t.records[0]
		t.records = t.records[1:]
		delete(t.seen, evicted.ClientOrderID)
	}
	t.mu.Unlock()

	if t.store != nil {
		if err := t.store.SaveTradeRecord(rec.Symbol, rec.Side, rec.Price,
			rec.Quantity, rec.QuoteAmount, rec.ClientOrderID, rec.Time); err != nil {
			logger.Warn("⚠️ 成交记录落库失败: %v", err)
		}
	}
}

// Recent 返回某交易对最近 N 条成交（新在前）
func (t *Tracker) Recent(symbol string, limit int) []*TradeRecord {
	t.mu.RLock()
	defer t.mu.RUnlock()

	var out []*TradeRecord
	for i := len(t.records) - 1; i >= 0 && len(out) < limit; i-- {
		if t.records[i].Symbol == symbol {
			out = append(out, t.records[i])
		}
	}
	return out
}

// Count 当前记录总数
func (t *Tracker) Count() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.records)
}
