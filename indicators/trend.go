package indicators

import (
	"math"
)

// ========== 趋势指标 ==========

// ADX 平均趋向指数
type ADX struct {
	period int
}

// NewADX 创建 ADX 指标
func NewADX(period int) *ADX {
	return &ADX{period: period}
}

// Name 指标名称
func (a *ADX) Name() string {
	return "ADX"
}

// Period 所需周期数
func (a *ADX) Period() int {
	return a.period*2 + 1
}

// Calculate 计算 ADX 序列
func (a *ADX) Calculate(candles []Candle) []float64 {
	result := a.CalculateMulti(candles)
	if result == nil {
		return nil
	}
	return result["adx"]
}

// CalculateMulti 计算 ADX 及 +DI/-DI
func (a *ADX) CalculateMulti(candles []Candle) map[string][]float64 {
	if len(candles) < a.period*2+1 {
		return nil
	}

	// 计算 +DM, -DM, TR
	plusDM := make([]float64, len(candles)-1)
	minusDM := make([]float64, len(candles)-1)
	tr := make([]float64, len(candles)-1)

	for i := 1; i < len(candles); i++ {
		high := candles[i].High
		low := candles[i].Low
		prevHigh := candles[i-1].High
		prevLow := candles[i-1].Low
		prevClose := candles[i-1].Close

		upMove := high - prevHigh
		downMove := prevLow - low

		if upMove > downMove && upMove > 0 {
			plusDM[i-1] = upMove
		}
		if downMove > upMove && downMove > 0 {
			minusDM[i-1] = downMove
		}

		tr[i-1] = TrueRange(high, low, prevClose)
	}

	// 平滑 +DM, -DM, TR
	smoothPlusDM := EMA(plusDM, a.period)
	smoothMinusDM := EMA(minusDM, a.period)
	smoothTR := EMA(tr, a.period)

	if smoothPlusDM == nil || smoothMinusDM == nil || smoothTR == nil {
		return nil
	}

	// 计算 +DI, -DI, DX
	length := len(smoothTR)
	plusDI := make([]float64, length)
	minusDI := make([]float64, length)
	dx := make([]float64, length)

	for i := 0; i < length; i++ {
		if smoothTR[i] != 0 {
			plusDI[i] = 100 * smoothPlusDM[i] / smoothTR[i]
			minusDI[i] = 100 * smoothMinusDM[i] / smoothTR[i]
		}
		diSum := plusDI[i] + minusDI[i]
		if diSum != 0 {
			dx[i] = 100 * math.Abs(plusDI[i]-minusDI[i]) / diSum
		}
	}

	// 计算 ADX
	adx := EMA(dx, a.period)
	if adx == nil {
		return nil
	}

	return map[string][]float64{
		"adx":      adx,
		"plus_di":  plusDI[len(plusDI)-len(adx):],
		"minus_di": minusDI[len(minusDI)-len(adx):],
	}
}

// CurrentADX 获取当前 ADX 值
func (a *ADX) CurrentADX(candles []Candle) float64 {
	adx := a.Calculate(candles)
	if len(adx) == 0 {
		return 0
	}
	return adx[len(adx)-1]
}
