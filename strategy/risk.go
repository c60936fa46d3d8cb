package strategy

import (
	"gridmesh/logger"
	"gridmesh/metrics"
)

// PositionRiskEvaluator 仓位限制风控：
// 仓位占比触达上限只许卖出，跌破下限只许买入。
type PositionRiskEvaluator struct {
	minRatio float64
	maxRatio float64
}

// NewPositionRiskEvaluator 创建仓位风控器
func NewPositionRiskEvaluator(minRatio, maxRatio float64) *PositionRiskEvaluator {
	return &PositionRiskEvaluator{minRatio: minRatio, maxRatio: maxRatio}
}

// Evaluate 根据仓位占比给出基础风控状态。
// 严格不等式：恰在上下限时不收窄，下限为0时空仓仍可双向交易。
func (p *PositionRiskEvaluator) Evaluate(positionRatio float64) RiskState {
	if positionRatio > p.maxRatio {
		return RiskAllowSellOnly
	}
	if positionRatio < p.minRatio {
		return RiskAllowBuyOnly
	}
	return RiskAllowAll
}

// SetLimits 热更新仓位上下限
func (p *PositionRiskEvaluator) SetLimits(minRatio, maxRatio float64) {
	if minRatio < 0 || maxRatio > 1 || minRatio >= maxRatio {
		return
	}
	p.minRatio = minRatio
	p.maxRatio = maxRatio
}

// ResolveRiskState 风控仲裁：仓位限制给出基础状态，趋势覆盖只收窄 ALLOW_ALL。
// 止损由交易循环单独处理，优先级最高，不进入此仲裁。
func ResolveRiskState(symbol string, positionState RiskState, trendState RiskState, prev RiskState) RiskState {
	resolved := positionState

	// 趋势覆盖不放宽仓位限制已经收窄的状态
	if positionState == RiskAllowAll && trendState != RiskAllowAll {
		resolved = trendState
	}

	if resolved != prev {
		logger.Info("📊 %s 风控状态切换: %s → %s (仓位=%s 趋势=%s)",
			symbol, prev, resolved, positionState, trendState)
	}
	metrics.RiskState.WithLabelValues(symbol).Set(float64(resolved))

	return resolved
}
