package strategy

import "sync"

// StopLossReason 止损触发原因
type StopLossReason string

const (
	StopLossNone     StopLossReason = ""
	StopLossPrice    StopLossReason = "price_stop"    // 价格跌破止损线
	StopLossDrawdown StopLossReason = "drawdown_stop" // 利润回撤超限
)

// StopLossGuardian 止损守卫。
// 价格止损：价格 <= 基准价 × (1 - price_ratio)。
// 回撤止损：浮盈从历史峰值回撤超过 drawdown_pct（仅在曾有正浮盈时生效）。
type StopLossGuardian struct {
	mu          sync.Mutex
	enabled     bool
	priceRatio  float64
	drawdownPct float64
}

// NewStopLossGuardian 创建止损守卫
func NewStopLossGuardian(enabled bool, priceRatio, drawdownPct float64) *StopLossGuardian {
	return &StopLossGuardian{
		enabled:     enabled,
		priceRatio:  priceRatio,
		drawdownPct: drawdownPct,
	}
}

// Check 检查是否触发止损。价格止损优先于回撤止损。
func (g *StopLossGuardian) Check(price, basePrice, unrealizedProfit, maxProfitSeen float64) StopLossReason {
	g.mu.Lock()
	defer g.mu.Unlock()

	if !g.enabled || basePrice <= 0 {
		return StopLossNone
	}

	if g.priceRatio > 0 && price <= basePrice*(1-g.priceRatio) {
		return StopLossPrice
	}

	if g.drawdownPct > 0 && maxProfitSeen > 0 {
		if unrealizedProfit <= maxProfitSeen*(1-g.drawdownPct) {
			return StopLossDrawdown
		}
	}

	return StopLossNone
}

// SetParams 热更新止损参数
func (g *StopLossGuardian) SetParams(enabled bool, priceRatio, drawdownPct float64) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.enabled = enabled
	if priceRatio > 0 && priceRatio < 1 {
		g.priceRatio = priceRatio
	}
	g.drawdownPct = drawdownPct
}
