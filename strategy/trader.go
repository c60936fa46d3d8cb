package strategy

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"gridmesh/config"
	"gridmesh/event"
	"gridmesh/exchange"
	"gridmesh/logger"
	"gridmesh/metrics"
	"gridmesh/monitor"
	"gridmesh/notify"
	"gridmesh/storage"
)

// OrderSubmitter 下单接口（由订单执行器实现）
type OrderSubmitter interface {
	Submit(ctx context.Context, symbol, side string, price, quantity float64) (*exchange.Order, error)
	Liquidate(ctx context.Context, symbol string, quantity float64) (*exchange.Order, error)
	CancelOpenOrders(ctx context.Context, symbol string) error
}

// StateStore 状态持久化接口（由 storage 层实现）
type StateStore interface {
	SaveState(state *storage.TraderState) error
	LoadState(symbol string) (*storage.TraderState, error)
}

// TraderDeps 交易器依赖
type TraderDeps struct {
	Exchange  exchange.IExchange
	Executor  OrderSubmitter
	Allocator *FundAllocator
	Overseer  *TrendOverseer // 可为 nil（趋势过滤关闭）
	Monitor   *monitor.PriceMonitor
	Store     StateStore      // 可为 nil
	Notifier  *notify.Service // 可为 nil
	Bus       *event.EventBus // 可为 nil
}

// SymbolTrader 单交易对网格交易器
type SymbolTrader struct {
	symbol string
	cfg    config.SymbolConfig
	global *config.Config

	ex        exchange.IExchange
	executor  OrderSubmitter
	allocator *FundAllocator
	overseer  *TrendOverseer
	pmon      *monitor.PriceMonitor
	store     StateStore
	notifier  *notify.Service
	bus       *event.EventBus

	detector     *TriggerDetector
	guardian     *StopLossGuardian
	volEstimator *VolatilityEstimator
	gridSizer    *GridSizer

	mu            sync.RWMutex
	positionQty   float64
	avgCost       float64
	maxProfitSeen float64
	positionRatio float64
	ratioAt       time.Time
	riskState     RiskState
	trendDir      TrendDirection
	lastPrice     float64
	halted        bool
	liquidated    bool
	lastRebase    time.Time
	consecFails   int
	posMin        float64
	posMax        float64

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewSymbolTrader 创建单交易对交易器
func NewSymbolTrader(sc config.SymbolConfig, global *config.Config, deps TraderDeps) *SymbolTrader {
	st := &SymbolTrader{
		symbol:    sc.Symbol,
		cfg:       sc,
		global:    global,
		ex:        deps.Exchange,
		executor:  deps.Executor,
		allocator: deps.Allocator,
		overseer:  deps.Overseer,
		pmon:      deps.Monitor,
		store:     deps.Store,
		notifier:  deps.Notifier,
		bus:       deps.Bus,
		riskState: RiskAllowAll,
		trendDir:  TrendSideways,
	}

	st.detector = NewTriggerDetector(0, sc.Grid.BaseSizePct,
		sc.Grid.PullbackSellPct, sc.Grid.ReboundBuyPct)
	st.guardian = NewStopLossGuardian(sc.StopLoss.Enabled,
		sc.StopLoss.PriceRatio, sc.StopLoss.DrawdownPct)
	st.volEstimator = NewVolatilityEstimator(global.Volatility.Window,
		global.Volatility.EWMALambda, global.Volatility.BlendWeight)
	st.gridSizer = NewGridSizer(sc.Grid.BaseSizePct, sc.Grid.MinSizePct, sc.Grid.MaxSizePct,
		global.GridAdjust.Sensitivity, global.GridAdjust.VolCenter,
		global.GridAdjust.MinDeltaPct, global.GridAdjust.SmoothWindow)

	var source string
	st.posMin, st.posMax, source = global.PositionLimitsFor(sc.Symbol)
	logger.Info("📊 %s 仓位限制: min=%.2f max=%.2f 来源=%s", sc.Symbol, st.posMin, st.posMax, source)

	return st
}

// Symbol 返回交易对名称
func (st *SymbolTrader) Symbol() string {
	return st.symbol
}

// Start 启动交易循环
func (st *SymbolTrader) Start(ctx context.Context) error {
	st.ctx, st.cancel = context.WithCancel(ctx)

	if err := st.restore(); err != nil {
		return err
	}

	priceCh := st.pmon.Subscribe(st.symbol)

	st.wg.Add(1)
	go st.priceLoop(priceCh)

	if st.global.GridAdjust.Enabled {
		st.wg.Add(1)
		go st.gridAdjustLoop()
	}

	st.wg.Add(1)
	go st.statusLoop()

	logger.Info("✅ %s 交易器已启动: 基准价=%.8f 网格=%.2f%%",
		st.symbol, st.detector.BasePrice(), st.detector.GridSizePct())
	return nil
}

// restore 恢复持久化状态，无历史状态时以当前价为基准价
func (st *SymbolTrader) restore() error {
	if st.store != nil {
		saved, err := st.store.LoadState(st.symbol)
		if err != nil {
			return fmt.Errorf("%s 恢复状态失败: %w", st.symbol, err)
		}
		if saved != nil {
			st.mu.Lock()
			st.positionQty = saved.PositionQty
			st.avgCost = saved.AvgCost
			st.maxProfitSeen = saved.MaxProfitSeen
			st.riskState = ParseRiskState(saved.RiskState)
			st.halted = saved.Status == storage.StatusStopped
			st.liquidated = saved.Status == storage.StatusLiquidated
			st.mu.Unlock()

			st.detector.SetBase(saved.BasePrice)
			if saved.GridSizePct > 0 {
				st.detector.SetGridSize(saved.GridSizePct)
			}
			logger.Info("ℹ️ %s 已恢复历史状态: 基准价=%.8f 持仓=%.8f",
				st.symbol, saved.BasePrice, saved.PositionQty)
		}
	}

	if st.detector.BasePrice() <= 0 {
		ctx, cancel := context.WithTimeout(st.ctx, 10*time.Second)
		defer cancel()
		tk, err := st.ex.GetTicker(ctx, st.symbol)
		if err != nil {
			return fmt.Errorf("%s 获取初始价格失败: %w", st.symbol, err)
		}
		st.detector.SetBase(tk.Price)
		logger.Info("ℹ️ %s 初始基准价: %.8f", st.symbol, tk.Price)
	}

	metrics.GridSizePct.WithLabelValues(st.symbol).Set(st.detector.GridSizePct())
	return nil
}

func (st *SymbolTrader) priceLoop(priceCh <-chan *monitor.PriceUpdate) {
	defer st.wg.Done()

	for {
		// 清仓后协作式退出，进行中的下单不会被打断
		st.mu.RLock()
		liquidated := st.liquidated
		st.mu.RUnlock()
		if liquidated {
			logger.Info("ℹ️ %s 已清仓，交易循环退出", st.symbol)
			return
		}

		select {
		case <-st.ctx.Done():
			return
		case update, ok := <-priceCh:
			if !ok {
				return
			}
			st.onPrice(update.Price)
		}
	}
}

// onPrice 处理一次价格更新：止损检查、风控仲裁、触发检测、下单
func (st *SymbolTrader) onPrice(price float64) {
	st.mu.Lock()
	st.lastPrice = price
	if st.halted || st.liquidated {
		st.mu.Unlock()
		return
	}

	positionQty := st.positionQty
	avgCost := st.avgCost
	posMin, posMax := st.posMin, st.posMax

	// 更新浮盈峰值
	unrealized := (price - avgCost) * positionQty
	if positionQty > 0 && unrealized > st.maxProfitSeen {
		st.maxProfitSeen = unrealized
	}
	maxProfit := st.maxProfitSeen
	st.mu.Unlock()

	// 止损优先级最高
	if positionQty > 0 {
		if reason := st.guardian.Check(price, st.detector.BasePrice(), unrealized, maxProfit); reason != StopLossNone {
			st.triggerStopLoss(price, reason, positionQty)
			return
		}
	}

	// 风控仲裁：仓位限制 + 趋势覆盖
	positionRatio := st.refreshPositionRatio(price)
	positionState := NewPositionRiskEvaluator(posMin, posMax).Evaluate(positionRatio)

	trendState := RiskAllowAll
	if st.overseer != nil {
		if sig, err := st.overseer.Detect(st.ctx, st.symbol); err == nil {
			trendState = st.overseer.Override(sig)
			st.mu.Lock()
			st.trendDir = sig.Direction
			st.mu.Unlock()
		} else {
			logger.Warn("⚠️ %s 趋势判定失败，本轮不做趋势限制: %v", st.symbol, err)
		}
	}

	st.mu.Lock()
	prev := st.riskState
	st.mu.Unlock()
	resolved := ResolveRiskState(st.symbol, positionState, trendState, prev)
	if resolved != prev {
		st.mu.Lock()
		st.riskState = resolved
		st.mu.Unlock()
		st.publish(event.EventTypeRiskStateChanged, map[string]interface{}{
			"symbol": st.symbol, "from": prev.String(), "to": resolved.String(),
		})
		st.persist()
	}

	// 触发检测
	switch st.detector.OnPrice(price) {
	case SignalSell:
		if resolved.AllowSell() {
			st.trySell(price)
		} else {
			logger.Info("ℹ️ %s 卖出信号被风控拦截: %s", st.symbol, resolved)
		}
	case SignalBuy:
		if resolved.AllowBuy() {
			st.tryBuy(price)
		} else {
			logger.Info("ℹ️ %s 买入信号被风控拦截: %s", st.symbol, resolved)
		}
	default:
		st.maybeRebase(price)
	}
}

// balanceRefreshTTL 余额快照的刷新间隔，避免每个价格推送都打交易所接口
const balanceRefreshTTL = 10 * time.Second

// refreshPositionRatio 从账户余额刷新仓位快照：
// position_ratio = 基础币市值 / (基础币市值 + 计价币余额)，落在 [0,1]。
// 拉取失败时记录警告并沿用上一次快照。
func (st *SymbolTrader) refreshPositionRatio(price float64) float64 {
	st.mu.RLock()
	last := st.positionRatio
	at := st.ratioAt
	st.mu.RUnlock()

	if time.Since(at) < balanceRefreshTTL {
		return last
	}

	ctx, cancel := context.WithTimeout(st.ctx, 5*time.Second)
	defer cancel()
	balances, err := st.ex.GetBalances(ctx)
	if err != nil {
		logger.Warn("⚠️ %s 获取余额失败，沿用上次仓位快照: %v", st.symbol, err)
		return last
	}

	baseAsset := st.ex.GetBaseAsset()
	quoteAsset := st.ex.GetQuoteAsset()
	var baseQty, quoteQty float64
	for _, b := range balances {
		switch b.Asset {
		case baseAsset:
			baseQty = b.Free + b.Locked
		case quoteAsset:
			quoteQty = b.Free + b.Locked
		}
	}

	baseValue := baseQty * price
	total := baseValue + quoteQty
	ratio := 0.0
	if total > 0 {
		ratio = baseValue / total
	}

	st.mu.Lock()
	st.positionRatio = ratio
	st.ratioAt = time.Now()
	st.mu.Unlock()
	return ratio
}

// tryBuy 申请资金并买入，成交后以成交价为新基准价
func (st *SymbolTrader) tryBuy(price float64) {
	st.mu.RLock()
	amount := st.cfg.InvestPerOrder
	st.mu.RUnlock()

	if err := st.allocator.Request(st.symbol, amount); err != nil {
		if errors.Is(err, ErrAllocationDenied) {
			logger.Info("ℹ️ %s 资金申请被拒，跳过本次买入: %v", st.symbol, err)
		} else {
			logger.Warn("⚠️ %s 资金申请失败: %v", st.symbol, err)
		}
		st.publish(event.EventTypeAllocationDenied, map[string]interface{}{
			"symbol": st.symbol, "amount": amount,
		})
		return
	}

	quantity := amount / price
	ord, err := st.executor.Submit(st.ctx, st.symbol, "BUY", price, quantity)
	if err != nil {
		st.allocator.Cancel(st.symbol, amount)
		logger.Error("❌ %s 买入失败: %v", st.symbol, err)
		st.publish(event.EventTypeOrderFailed, map[string]interface{}{
			"symbol": st.symbol, "side": "BUY", "error": err.Error(),
		})
		st.recordExecFailure()
		return
	}
	st.resetExecFailure()

	fillPrice := ord.Price
	if fillPrice <= 0 {
		fillPrice = price
	}

	// 精度截断后的实际成交额可能小于预留额，释放差额
	if residual := amount - fillPrice*ord.Quantity; residual > 0 {
		st.allocator.Cancel(st.symbol, residual)
	}

	st.mu.Lock()
	cost := st.avgCost*st.positionQty + fillPrice*ord.Quantity
	st.positionQty += ord.Quantity
	if st.positionQty > 0 {
		st.avgCost = cost / st.positionQty
	}
	st.mu.Unlock()

	st.detector.SetBase(fillPrice)
	st.publish(event.EventTypeOrderFilled, map[string]interface{}{
		"symbol": st.symbol, "side": "BUY", "price": fillPrice, "quantity": ord.Quantity,
	})
	st.persist()
}

// trySell 卖出一份，持仓不足时卖出剩余全部
func (st *SymbolTrader) trySell(price float64) {
	st.mu.RLock()
	positionQty := st.positionQty
	investPerOrder := st.cfg.InvestPerOrder
	st.mu.RUnlock()

	if positionQty <= 0 {
		logger.Info("ℹ️ %s 卖出信号但无持仓，重置基准价", st.symbol)
		st.detector.SetBase(price)
		return
	}

	quantity := investPerOrder / price
	if quantity > positionQty {
		quantity = positionQty
	}

	ord, err := st.executor.Submit(st.ctx, st.symbol, "SELL", price, quantity)
	if err != nil {
		logger.Error("❌ %s 卖出失败: %v", st.symbol, err)
		st.publish(event.EventTypeOrderFailed, map[string]interface{}{
			"symbol": st.symbol, "side": "SELL", "error": err.Error(),
		})
		st.recordExecFailure()
		return
	}
	st.resetExecFailure()

	fillPrice := ord.Price
	if fillPrice <= 0 {
		fillPrice = price
	}

	st.mu.Lock()
	st.positionQty -= ord.Quantity
	if st.positionQty <= 0 {
		st.positionQty = 0
		st.avgCost = 0
		st.maxProfitSeen = 0
	}
	st.mu.Unlock()

	st.detector.SetBase(fillPrice)
	st.publish(event.EventTypeOrderFilled, map[string]interface{}{
		"symbol": st.symbol, "side": "SELL", "price": fillPrice, "quantity": ord.Quantity,
	})
	st.persist()
}

// maxConsecFailures 连续下单失败升级告警的阈值
const maxConsecFailures = 5

// recordExecFailure 累计连续下单失败次数，达到阈值时升级告警但不停止循环
func (st *SymbolTrader) recordExecFailure() {
	st.mu.Lock()
	st.consecFails++
	n := st.consecFails
	st.mu.Unlock()

	if n == maxConsecFailures {
		logger.Warn("⚠️ %s 已连续下单失败 %d 次", st.symbol, n)
		st.alert(notify.LevelWarning, "连续下单失败",
			fmt.Sprintf("%s 已连续失败 %d 次，请检查交易所连通性与账户状态", st.symbol, n))
	}
}

// resetExecFailure 下单成功后清零连续失败计数
func (st *SymbolTrader) resetExecFailure() {
	st.mu.Lock()
	st.consecFails = 0
	st.mu.Unlock()
}

// triggerStopLoss 执行止损清仓。清仓失败时发出紧急告警并停机。
func (st *SymbolTrader) triggerStopLoss(price float64, reason StopLossReason, positionQty float64) {
	logger.Warn("⚠️ %s 触发止损 [%s]: 价格=%.8f 持仓=%.8f",
		st.symbol, reason, price, positionQty)
	metrics.StopLossTriggered.WithLabelValues(st.symbol, string(reason)).Inc()
	st.publish(event.EventTypeStopLoss, map[string]interface{}{
		"symbol": st.symbol, "reason": string(reason), "price": price,
	})

	// 清仓前先撤销全部挂单，避免清仓后残留订单再次建仓
	if err := st.executor.CancelOpenOrders(st.ctx, st.symbol); err != nil {
		logger.Warn("⚠️ %s 止损前撤单失败: %v", st.symbol, err)
	}

	_, err := st.executor.Liquidate(st.ctx, st.symbol, positionQty)
	if err != nil {
		st.mu.Lock()
		st.halted = true
		st.mu.Unlock()

		logger.Error("❌ %s 止损清仓失败，交易器已停机: %v", st.symbol, err)
		st.alert(notify.LevelCritical, "止损清仓失败",
			notify.FormatSymbolAlert(st.symbol, fmt.Sprintf("清仓重试耗尽，需人工介入: %v", err)))
		st.publish(event.EventTypeLiquidationFail, map[string]interface{}{
			"symbol": st.symbol, "error": err.Error(),
		})
		st.persist()
		return
	}

	st.mu.Lock()
	st.positionQty = 0
	st.avgCost = 0
	st.maxProfitSeen = 0
	st.liquidated = true
	st.mu.Unlock()

	if st.overseer != nil {
		st.overseer.Invalidate(st.symbol)
	}

	logger.Info("✅ %s 止损清仓完成，该交易对停止交易，需人工恢复", st.symbol)
	st.alert(notify.LevelCritical, "止损触发",
		notify.FormatSymbolAlert(st.symbol, fmt.Sprintf("原因=%s 价格=%.8f，已清仓并停止该交易对", reason, price)))
	st.persist()
}

// maybeRebase 无信号时检查价格偏离，按需重置基准价（默认关闭）
func (st *SymbolTrader) maybeRebase(price float64) {
	rb := st.global.Trading.Rebase
	if !rb.Enabled || rb.DriftPct <= 0 {
		return
	}

	base := st.detector.BasePrice()
	if base <= 0 {
		return
	}

	drift := (price - base) / base
	if drift < 0 {
		drift = -drift
	}
	if drift < rb.DriftPct {
		return
	}

	st.mu.Lock()
	cooldown := time.Duration(rb.CooldownMins) * time.Minute
	if time.Since(st.lastRebase) < cooldown {
		st.mu.Unlock()
		return
	}
	st.lastRebase = time.Now()
	st.mu.Unlock()

	st.detector.SetBase(price)
	logger.Info("🔄 %s 基准价已重置: %.8f (偏离 %.1f%%)", st.symbol, price, drift*100)
	st.persist()
}

// gridAdjustLoop 周期拉取K线并按波动率调整网格大小
func (st *SymbolTrader) gridAdjustLoop() {
	defer st.wg.Done()

	interval := time.Duration(st.global.GridAdjust.CheckInterval) * time.Second
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-st.ctx.Done():
			return
		case <-ticker.C:
			st.adjustGrid()
		}
	}
}

func (st *SymbolTrader) adjustGrid() {
	ctx, cancel := context.WithTimeout(st.ctx, 15*time.Second)
	defer cancel()

	klines, err := st.ex.GetKlines(ctx, st.symbol,
		st.global.Volatility.Interval, st.global.Volatility.KlineLimit)
	if err != nil {
		logger.Warn("⚠️ %s 拉取K线失败，跳过本轮网格调整: %v", st.symbol, err)
		return
	}

	closes := make([]float64, len(klines))
	for i, k := range klines {
		closes[i] = k.Close
	}

	vol, err := st.volEstimator.Estimate(closes)
	if err != nil {
		logger.Warn("⚠️ %s 波动率估计失败: %v", st.symbol, err)
		return
	}
	metrics.Volatility.WithLabelValues(st.symbol).Set(vol)

	newSize, changed := st.gridSizer.Update(vol)
	if !changed {
		return
	}

	old := st.detector.GridSizePct()
	st.detector.SetGridSize(newSize)
	metrics.GridSizePct.WithLabelValues(st.symbol).Set(newSize)

	logger.Info("📈 %s 网格大小调整: %.2f%% → %.2f%% (波动率=%.4f)",
		st.symbol, old, newSize, vol)
	st.publish(event.EventTypeGridAdjusted, map[string]interface{}{
		"symbol": st.symbol, "from": old, "to": newSize, "volatility": vol,
	})
	st.persist()
}

// statusLoop 周期打印运行状态
func (st *SymbolTrader) statusLoop() {
	defer st.wg.Done()

	interval := time.Duration(st.global.Trading.StatusPrintInterval) * time.Minute
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-st.ctx.Done():
			return
		case <-ticker.C:
			snap := st.Snapshot()
			logger.Info("📊 %s 状态: 价格=%.8f 基准=%.8f 网格=%.2f%% 持仓=%.8f 浮盈=%.2f 风控=%s",
				snap.Symbol, snap.LastPrice, snap.BasePrice, snap.GridSizePct,
				snap.PositionQty, snap.UnrealizedPnL, snap.RiskState)
		}
	}
}

// Snapshot 导出当前运行状态
func (st *SymbolTrader) Snapshot() *StatusSnapshot {
	st.mu.RLock()
	defer st.mu.RUnlock()

	upper, lower := st.detector.Bands()
	limit := st.allocator.Limit(st.symbol)

	snap := &StatusSnapshot{
		Symbol:         st.symbol,
		LastPrice:      st.lastPrice,
		BasePrice:      st.detector.BasePrice(),
		GridSizePct:    st.detector.GridSizePct(),
		UpperBand:      upper,
		LowerBand:      lower,
		PositionQty:    st.positionQty,
		AvgCost:        st.avgCost,
		MaxProfitSeen:  st.maxProfitSeen,
		RiskState:      st.riskState.String(),
		TrendDirection: string(st.trendDir),
		Status:         st.statusLocked(),
		FundUsed:       st.allocator.Used(st.symbol),
		FundLimit:      limit,
		UpdatedAt:      time.Now(),
	}
	if st.positionQty > 0 {
		snap.UnrealizedPnL = (st.lastPrice - st.avgCost) * st.positionQty
	}
	snap.PositionRatio = st.positionRatio
	return snap
}

// UpdateConfig 热更新交易对参数
func (st *SymbolTrader) UpdateConfig(sc config.SymbolConfig, global *config.Config) {
	posMin, posMax, source := global.PositionLimitsFor(sc.Symbol)

	st.mu.Lock()
	st.cfg = sc
	st.global = global
	st.posMin, st.posMax = posMin, posMax
	st.mu.Unlock()

	st.gridSizer.SetBounds(sc.Grid.MinSizePct, sc.Grid.MaxSizePct)
	st.guardian.SetParams(sc.StopLoss.Enabled, sc.StopLoss.PriceRatio, sc.StopLoss.DrawdownPct)
	logger.Info("🔄 %s 交易参数已热更新（仓位限制来源=%s）", st.symbol, source)
}

// persist 保存状态到存储层
func (st *SymbolTrader) persist() {
	if st.store == nil {
		return
	}

	st.mu.RLock()
	state := &storage.TraderState{
		Symbol:        st.symbol,
		BasePrice:     st.detector.BasePrice(),
		GridSizePct:   st.detector.GridSizePct(),
		PositionQty:   st.positionQty,
		AvgCost:       st.avgCost,
		MaxProfitSeen: st.maxProfitSeen,
		RiskState:     st.riskState.String(),
		Status:        st.statusLocked(),
	}
	st.mu.RUnlock()

	if err := st.store.SaveState(state); err != nil {
		logger.Warn("⚠️ %s 状态持久化失败: %v", st.symbol, err)
	}
}

// statusLocked 返回运行状态描述，调用方需持有 st.mu
func (st *SymbolTrader) statusLocked() string {
	switch {
	case st.liquidated:
		return storage.StatusLiquidated
	case st.halted:
		return storage.StatusStopped
	default:
		return storage.StatusRunning
	}
}

func (st *SymbolTrader) publish(eventType event.EventType, data map[string]interface{}) {
	if st.bus == nil {
		return
	}
	st.bus.Publish(&event.Event{Type: eventType, Data: data})
}

func (st *SymbolTrader) alert(level notify.Level, title, body string) {
	if st.notifier == nil {
		return
	}
	st.notifier.Notify(st.ctx, level, title, body)
}

// Stop 停止交易循环并保存状态
func (st *SymbolTrader) Stop() {
	if st.cancel != nil {
		st.cancel()
	}
	st.wg.Wait()
	st.persist()
	logger.Info("✅ %s 交易器已停止", st.symbol)
}
