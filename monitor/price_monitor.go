package monitor

import (
	"context"
	"sync"
	"time"

	"gridmesh/exchange"
	"gridmesh/logger"
	"gridmesh/metrics"
)

// PriceUpdate 价格更新
type PriceUpdate struct {
	Symbol string
	Price  float64
	Time   time.Time
}

// PriceMonitor 价格监控器，轮询行情并广播给订阅者
type PriceMonitor struct {
	ex       exchange.IExchange
	symbols  []string
	interval time.Duration

	mu          sync.RWMutex
	subscribers map[string][]chan *PriceUpdate
	lastPrices  map[string]float64

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewPriceMonitor 创建价格监控器
func NewPriceMonitor(ex exchange.IExchange, symbols []string, interval time.Duration) *PriceMonitor {
	if interval <= 0 {
		interval = time.Second
	}
	return &PriceMonitor{
		ex:          ex,
		symbols:     symbols,
		interval:    interval,
		subscribers: make(map[string][]chan *PriceUpdate),
		lastPrices:  make(map[string]float64),
	}
}

// Subscribe 订阅某交易对的价格更新
func (pm *PriceMonitor) Subscribe(symbol string) <-chan *PriceUpdate {
	ch := make(chan *PriceUpdate, 100)
	pm.mu.Lock()
	pm.subscribers[symbol] = append(pm.subscribers[symbol], ch)
	pm.mu.Unlock()
	return ch
}

// LastPrice 读取最近一次价格，未读到返回0
func (pm *PriceMonitor) LastPrice(symbol string) float64 {
	pm.mu.RLock()
	defer pm.mu.RUnlock()
	return pm.lastPrices[symbol]
}

// Start 启动监控
func (pm *PriceMonitor) Start(ctx context.Context) {
	pm.ctx, pm.cancel = context.WithCancel(ctx)

	for _, symbol := range pm.symbols {
		pm.wg.Add(1)
		go pm.pollLoop(symbol)
	}
	logger.Info("📊 价格监控已启动: %v (间隔 %v)", pm.symbols, pm.interval)
}

func (pm *PriceMonitor) pollLoop(symbol string) {
	defer pm.wg.Done()

	ticker := time.NewTicker(pm.interval)
	defer ticker.Stop()

	for {
		select {
		case <-pm.ctx.Done():
			return
		case <-ticker.C:
			pm.pollOnce(symbol)
		}
	}
}

func (pm *PriceMonitor) pollOnce(symbol string) {
	ctx, cancel := context.WithTimeout(pm.ctx, 5*time.Second)
	defer cancel()

	tk, err := pm.ex.GetTicker(ctx, symbol)
	if err != nil {
		logger.Warn("⚠️ 获取 %s 行情失败: %v", symbol, err)
		return
	}

	update := &PriceUpdate{Symbol: symbol, Price: tk.Price, Time: time.Now()}
	metrics.LastPrice.WithLabelValues(symbol).Set(tk.Price)

	pm.mu.Lock()
	pm.lastPrices[symbol] = tk.Price
	subs := pm.subscribers[symbol]
	pm.mu.Unlock()

	for _, ch := range subs {
		select {
		case ch <- update:
		default:
			// 订阅者处理太慢，丢弃本次更新
		}
	}
}

// Stop 停止监控并关闭所有订阅通道
func (pm *PriceMonitor) Stop() {
	if pm.cancel != nil {
		pm.cancel()
	}
	pm.wg.Wait()

	pm.mu.Lock()
	defer pm.mu.Unlock()
	for _, subs := range pm.subscribers {
		for _, ch := range subs {
			close(ch)
		}
	}
	pm.subscribers = make(map[string][]chan *PriceUpdate)
}
