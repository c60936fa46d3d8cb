package strategy

import (
	"context"
	"fmt"
	"sync"
	"time"

	"gridmesh/config"
	"gridmesh/event"
	"gridmesh/exchange"
	"gridmesh/logger"
	"gridmesh/monitor"
	"gridmesh/notify"
)

// EngineDeps 引擎依赖
type EngineDeps struct {
	Exchanges map[string]exchange.IExchange
	Executor  OrderSubmitter
	Allocator *FundAllocator
	Overseer  *TrendOverseer
	Monitor   *monitor.PriceMonitor
	Store     StateStore
	Notifier  *notify.Service
	Bus       *event.EventBus
}

// Engine 交易引擎，管理所有交易对的交易器
type Engine struct {
	cfg  *config.Config
	deps EngineDeps

	mu      sync.RWMutex
	traders map[string]*SymbolTrader

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewEngine 创建交易引擎
func NewEngine(cfg *config.Config, deps EngineDeps) *Engine {
	e := &Engine{
		cfg:     cfg,
		deps:    deps,
		traders: make(map[string]*SymbolTrader),
	}

	for _, sc := range cfg.Symbols {
		e.traders[sc.Symbol] = NewSymbolTrader(sc, cfg, TraderDeps{
			Exchange:  deps.Exchanges[sc.Symbol],
			Executor:  deps.Executor,
			Allocator: deps.Allocator,
			Overseer:  deps.Overseer,
			Monitor:   deps.Monitor,
			Store:     deps.Store,
			Notifier:  deps.Notifier,
			Bus:       deps.Bus,
		})
	}

	return e
}

// Start 启动引擎：价格监控、交易器、事件循环与动态再平衡
func (e *Engine) Start(ctx context.Context) error {
	e.ctx, e.cancel = context.WithCancel(ctx)

	e.deps.Monitor.Start(e.ctx)

	e.mu.RLock()
	defer e.mu.RUnlock()
	for symbol, trader := range e.traders {
		if err := trader.Start(e.ctx); err != nil {
			return fmt.Errorf("启动 %s 交易器失败: %w", symbol, err)
		}
	}

	if e.deps.Bus != nil {
		e.wg.Add(1)
		go e.eventLoop()
	}

	if AllocationStrategy(e.cfg.Allocator.Strategy) == AllocateDynamic {
		e.wg.Add(1)
		go e.rebalanceLoop()
	}

	if e.deps.Bus != nil {
		e.deps.Bus.Publish(&event.Event{Type: event.EventTypeSystemStart})
	}
	logger.Info("✅ 交易引擎已启动: %d 个交易对", len(e.traders))
	return nil
}

// eventLoop 消费事件总线，落日志
func (e *Engine) eventLoop() {
	defer e.wg.Done()

	events := e.deps.Bus.Subscribe()
	for {
		select {
		case <-e.ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			logger.Debug("📨 事件: %s %v", ev.Type, ev.Data)
		}
	}
}

// rebalanceLoop 动态分配策略的周期再平衡
func (e *Engine) rebalanceLoop() {
	defer e.wg.Done()

	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()

	for {
		select {
		case <-e.ctx.Done():
			return
		case <-ticker.C:
			e.deps.Allocator.Rebalance()
		}
	}
}

// ApplyConfig 应用热更新后的新配置
func (e *Engine) ApplyConfig(newCfg *config.Config) {
	e.mu.Lock()
	e.cfg = newCfg
	e.mu.Unlock()

	logger.SetLevel(logger.ParseLogLevel(newCfg.System.LogLevel))

	for _, sc := range newCfg.Symbols {
		e.mu.RLock()
		trader, ok := e.traders[sc.Symbol]
		e.mu.RUnlock()
		if ok {
			trader.UpdateConfig(sc, newCfg)
		} else {
			// 新增交易对需要重启生效
			logger.Warn("⚠️ 检测到新交易对 %s，重启后生效", sc.Symbol)
		}
	}
}

// Snapshots 导出所有交易对状态
func (e *Engine) Snapshots() []*StatusSnapshot {
	e.mu.RLock()
	defer e.mu.RUnlock()

	snaps := make([]*StatusSnapshot, 0, len(e.traders))
	for _, trader := range e.traders {
		snaps = append(snaps, trader.Snapshot())
	}
	return snaps
}

// Snapshot 导出单个交易对状态
func (e *Engine) Snapshot(symbol string) (*StatusSnapshot, bool) {
	e.mu.RLock()
	trader, ok := e.traders[symbol]
	e.mu.RUnlock()
	if !ok {
		return nil, false
	}
	return trader.Snapshot(), true
}

// Allocation 导出资金分配状态
func (e *Engine) Allocation() *AllocationSnapshot {
	return e.deps.Allocator.Snapshot()
}

// Stop 停止引擎
func (e *Engine) Stop() {
	if e.deps.Bus != nil {
		e.deps.Bus.Publish(&event.Event{Type: event.EventTypeSystemStop})
	}

	e.mu.RLock()
	for _, trader := range e.traders {
		trader.Stop()
	}
	e.mu.RUnlock()

	if e.cancel != nil {
		e.cancel()
	}
	e.deps.Monitor.Stop()
	e.wg.Wait()
	logger.Info("✅ 交易引擎已停止")
}
