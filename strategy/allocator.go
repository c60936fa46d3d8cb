package strategy

import (
	"errors"
	"fmt"
	"sync"

	"gridmesh/logger"
	"gridmesh/metrics"
)

// ErrAllocationDenied 资金申请被拒。属于正常跳过，不是故障。
var ErrAllocationDenied = errors.New("资金分配被拒绝")

// AllocationStrategy 资金分配策略
type AllocationStrategy string

const (
	AllocateEqual    AllocationStrategy = "equal"    // 平均分配
	AllocateWeighted AllocationStrategy = "weighted" // 按权重分配
	AllocateDynamic  AllocationStrategy = "dynamic"  // 按使用率动态再平衡
)

// SymbolShare 交易对份额配置
type SymbolShare struct {
	Symbol string
	Weight float64
}

// AllocationSnapshot 分配状态快照
type AllocationSnapshot struct {
	TotalFunds     float64            `json:"total_funds"`
	MaxGlobalUsage float64            `json:"max_global_usage"`
	Strategy       string             `json:"strategy"`
	GlobalUsed     float64            `json:"global_used"`
	Limits         map[string]float64 `json:"limits"`
	Used           map[string]float64 `json:"used"`
	Pending        map[string]float64 `json:"pending"`
}

// FundAllocator 全局资金分配器。所有交易对共享一份资金，
// 任何时刻 已用+预留 不超过 总资金 × 最大使用率。
type FundAllocator struct {
	mu sync.Mutex

	total          float64
	maxGlobalUsage float64
	strategy       AllocationStrategy

	limits     map[string]float64 // 每交易对资金上限
	used       map[string]float64 // 已占用（持仓成本）
	pending    map[string]float64 // 已预留未成交
	weights    map[string]float64
	buyVolume  map[string]float64 // 累计买入金额
	sellVolume map[string]float64 // 累计卖出金额
}

// NewFundAllocator 创建资金分配器
func NewFundAllocator(total, maxGlobalUsage float64, strategy AllocationStrategy, shares []SymbolShare) (*FundAllocator, error) {
	if total <= 0 {
		return nil, fmt.Errorf("总资金必须大于0")
	}
	if maxGlobalUsage <= 0 || maxGlobalUsage > 1 {
		maxGlobalUsage = 0.95
	}
	if len(shares) == 0 {
		return nil, fmt.Errorf("至少需要一个交易对份额")
	}

	fa := &FundAllocator{
		total:          total,
		maxGlobalUsage: maxGlobalUsage,
		strategy:       strategy,
		limits:         make(map[string]float64),
		used:           make(map[string]float64),
		pending:        make(map[string]float64),
		weights:        make(map[string]float64),
		buyVolume:      make(map[string]float64),
		sellVolume:     make(map[string]float64),
	}

	for _, s := range shares {
		fa.weights[s.Symbol] = s.Weight
		fa.used[s.Symbol] = 0
		fa.pending[s.Symbol] = 0
	}
	fa.computeLimits(shares)

	logger.Info("💰 资金分配器已初始化: 总资金=%.2f 策略=%s 全局上限=%.0f%%",
		total, strategy, maxGlobalUsage*100)
	return fa, nil
}

// computeLimits 按策略计算每交易对上限（调用方需持锁或在初始化期调用）
func (fa *FundAllocator) computeLimits(shares []SymbolShare) {
	n := float64(len(shares))
	usable := fa.total * fa.maxGlobalUsage

	for _, s := range shares {
		switch fa.strategy {
		case AllocateWeighted:
			fa.limits[s.Symbol] = usable * s.Weight
		default:
			// equal 与 dynamic 的初始分配一致
			fa.limits[s.Symbol] = usable / n
		}
	}
}

// Request 预留一笔买入资金。返回 nil 表示预留成功，
// 交易对上限或全局上限不满足时返回错误。
func (fa *FundAllocator) Request(symbol string, amount float64) error {
	if amount <= 0 {
		return fmt.Errorf("申请金额必须大于0")
	}

	fa.mu.Lock()
	defer fa.mu.Unlock()

	limit, ok := fa.limits[symbol]
	if !ok {
		return fmt.Errorf("未知交易对: %s", symbol)
	}

	if fa.used[symbol]+fa.pending[symbol]+amount > limit {
		metrics.AllocationDenied.WithLabelValues(symbol).Inc()
		return fmt.Errorf("%w: %s 超出交易对限额: 已用=%.2f 预留=%.2f 申请=%.2f 上限=%.2f",
			ErrAllocationDenied, symbol, fa.used[symbol], fa.pending[symbol], amount, limit)
	}

	globalCap := fa.total * fa.maxGlobalUsage
	if fa.globalCommittedLocked()+amount > globalCap {
		metrics.AllocationDenied.WithLabelValues(symbol).Inc()
		return fmt.Errorf("%w: %s 超出全局限额: 全局已占用=%.2f 申请=%.2f 上限=%.2f",
			ErrAllocationDenied, symbol, fa.globalCommittedLocked(), amount, globalCap)
	}

	fa.pending[symbol] += amount
	return nil
}

// Cancel 释放下单失败的预留资金
func (fa *FundAllocator) Cancel(symbol string, amount float64) {
	if amount <= 0 {
		return
	}
	fa.mu.Lock()
	defer fa.mu.Unlock()

	fa.pending[symbol] -= amount
	if fa.pending[symbol] < 0 {
		fa.pending[symbol] = 0
	}
}

// RecordTrade 记录一笔成交：买入将预留转为占用，卖出释放占用。
// 每笔成交只允许调用一次。
func (fa *FundAllocator) RecordTrade(symbol string, quoteAmount float64, side string) {
	if quoteAmount <= 0 {
		return
	}

	fa.mu.Lock()
	defer fa.mu.Unlock()

	switch side {
	case "BUY":
		fa.pending[symbol] -= quoteAmount
		if fa.pending[symbol] < 0 {
			fa.pending[symbol] = 0
		}
		fa.used[symbol] += quoteAmount
		fa.buyVolume[symbol] += quoteAmount
	case "SELL":
		fa.used[symbol] -= quoteAmount
		if fa.used[symbol] < 0 {
			fa.used[symbol] = 0
		}
		fa.sellVolume[symbol] += quoteAmount
	}

	metrics.FundUsed.WithLabelValues(symbol).Set(fa.used[symbol])
}

func (fa *FundAllocator) globalCommittedLocked() float64 {
	sum := 0.0
	for _, v := range fa.used {
		sum += v
	}
	for _, v := range fa.pending {
		sum += v
	}
	return sum
}

// Limit 返回交易对的资金上限
func (fa *FundAllocator) Limit(symbol string) float64 {
	fa.mu.Lock()
	defer fa.mu.Unlock()
	return fa.limits[symbol]
}

// Used 返回交易对当前占用资金
func (fa *FundAllocator) Used(symbol string) float64 {
	fa.mu.Lock()
	defer fa.mu.Unlock()
	return fa.used[symbol]
}

// GlobalCommitted 返回全局 已用+预留
func (fa *FundAllocator) GlobalCommitted() float64 {
	fa.mu.Lock()
	defer fa.mu.Unlock()
	return fa.globalCommittedLocked()
}

// realizedPnLLocked 已实现盈亏：累计卖出 - 已卖出部分的成本（调用方需持锁）
func (fa *FundAllocator) realizedPnLLocked(symbol string) float64 {
	return fa.sellVolume[symbol] - fa.buyVolume[symbol] + fa.used[symbol]
}

// 单次再平衡权重调整上限与权重边界（相对均分份额的倍数）
const (
	rebalanceMaxShift = 0.10
	rebalanceMinRatio = 0.5
	rebalanceMaxRatio = 2.0
)

// Rebalance 动态策略下按各交易对的已实现业绩重新分配限额。
// 业绩好的交易对获得更多空间；权重钳制在均分份额的 [0.5, 2] 倍之间，
// 单次调整不超过10个百分点，上限不会降到已占用资金之下。
func (fa *FundAllocator) Rebalance() {
	fa.mu.Lock()
	defer fa.mu.Unlock()

	if fa.strategy != AllocateDynamic {
		return
	}

	usable := fa.total * fa.maxGlobalUsage
	n := float64(len(fa.limits))
	if n == 0 {
		return
	}

	scores := make(map[string]float64, len(fa.limits))
	totalScore := 0.0
	for symbol := range fa.limits {
		if pnl := fa.realizedPnLLocked(symbol); pnl > 0 {
			scores[symbol] = pnl
			totalScore += pnl
		}
	}
	if totalScore <= 0 {
		return
	}

	minWeight := rebalanceMinRatio / n
	maxWeight := rebalanceMaxRatio / n

	for symbol := range fa.limits {
		target := scores[symbol] / totalScore
		if target < minWeight {
			target = minWeight
		}
		if target > maxWeight {
			target = maxWeight
		}

		// 平滑调整：权重单次变化不超过上限
		current := fa.limits[symbol] / usable
		diff := target - current
		if diff > rebalanceMaxShift {
			diff = rebalanceMaxShift
		}
		if diff < -rebalanceMaxShift {
			diff = -rebalanceMaxShift
		}

		newLimit := (current + diff) * usable
		// 上限不得低于已占用资金
		if committed := fa.used[symbol] + fa.pending[symbol]; newLimit < committed {
			newLimit = committed
		}
		fa.limits[symbol] = newLimit
	}

	logger.Info("💰 资金限额已再平衡: %v", fa.limits)
}

// Snapshot 导出当前分配状态
func (fa *FundAllocator) Snapshot() *AllocationSnapshot {
	fa.mu.Lock()
	defer fa.mu.Unlock()

	snap := &AllocationSnapshot{
		TotalFunds:     fa.total,
		MaxGlobalUsage: fa.maxGlobalUsage,
		Strategy:       string(fa.strategy),
		GlobalUsed:     fa.globalCommittedLocked(),
		Limits:         make(map[string]float64, len(fa.limits)),
		Used:           make(map[string]float64, len(fa.used)),
		Pending:        make(map[string]float64, len(fa.pending)),
	}
	for k, v := range fa.limits {
		snap.Limits[k] = v
	}
	for k, v := range fa.used {
		snap.Used[k] = v
	}
	for k, v := range fa.pending {
		snap.Pending[k] = v
	}
	return snap
}
