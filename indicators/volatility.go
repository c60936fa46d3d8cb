package indicators

import (
	"math"
)

// ========== 波动率指标 ==========

// ATR 平均真实波幅
type ATR struct {
	period int
}

// NewATR 创建 ATR 指标
func NewATR(period int) *ATR {
	return &ATR{period: period}
}

// Name 指标名称
func (a *ATR) Name() string {
	return "ATR"
}

// Period 所需周期数
func (a *ATR) Period() int {
	return a.period + 1
}

// Calculate 计算 ATR
func (a *ATR) Calculate(candles []Candle) []float64 {
	if len(candles) < a.period+1 {
		return nil
	}

	tr := TrueRangeSeries(candles)
	if tr == nil {
		return nil
	}

	// 使用 EMA 平滑
	return EMA(tr, a.period)
}

// CurrentATR 获取当前 ATR 值
func (a *ATR) CurrentATR(candles []Candle) float64 {
	atr := a.Calculate(candles)
	if len(atr) == 0 {
		return 0
	}
	return atr[len(atr)-1]
}

// RollingVolatility 滚动窗口波动率（收益率标准差，等权）
func RollingVolatility(prices []float64, window int) float64 {
	returns := Returns(prices)
	if len(returns) < window {
		return 0
	}

	recent := returns[len(returns)-window:]
	mean := Mean(recent)
	variance := 0.0
	for _, r := range recent {
		diff := r - mean
		variance += diff * diff
	}
	return math.Sqrt(variance / float64(len(recent)))
}

// EWMAVolatility 指数加权波动率（近期数据权重更高）
// sigma²_t = lambda·sigma²_{t-1} + (1-lambda)·r²_t
func EWMAVolatility(prices []float64, lambda float64) float64 {
	returns := Returns(prices)
	if len(returns) == 0 {
		return 0
	}
	if lambda <= 0 || lambda >= 1 {
		lambda = 0.94 // RiskMetrics 惯例
	}

	variance := returns[0] * returns[0]
	for _, r := range returns[1:] {
		variance = lambda*variance + (1-lambda)*r*r
	}
	return math.Sqrt(variance)
}
