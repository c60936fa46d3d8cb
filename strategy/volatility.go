package strategy

import (
	"errors"

	"gridmesh/indicators"
)

// ErrInsufficientData K线数据不足，无法估计波动率
var ErrInsufficientData = errors.New("数据不足，无法估计波动率")

// VolatilityEstimator 混合波动率估计器：EWMA 与滚动标准差加权融合
type VolatilityEstimator struct {
	window      int     // 滚动标准差窗口
	lambda      float64 // EWMA 衰减系数
	blendWeight float64 // EWMA 权重，滚动标准差占 1-blendWeight
}

// NewVolatilityEstimator 创建波动率估计器
func NewVolatilityEstimator(window int, lambda, blendWeight float64) *VolatilityEstimator {
	if window <= 0 {
		window = 20
	}
	if lambda <= 0 || lambda >= 1 {
		lambda = 0.94
	}
	if blendWeight <= 0 || blendWeight > 1 {
		blendWeight = 0.5
	}
	return &VolatilityEstimator{
		window:      window,
		lambda:      lambda,
		blendWeight: blendWeight,
	}
}

// Estimate 估计收盘价序列的混合波动率
func (v *VolatilityEstimator) Estimate(prices []float64) (float64, error) {
	// 滚动标准差需要 window 个收益率，即 window+1 个价格
	if len(prices) < v.window+1 {
		return 0, ErrInsufficientData
	}

	rolling := indicators.RollingVolatility(prices, v.window)
	ewma := indicators.EWMAVolatility(prices, v.lambda)

	return v.blendWeight*ewma + (1-v.blendWeight)*rolling, nil
}
