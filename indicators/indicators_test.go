package indicators

import (
	"math"
	"testing"
)

func almostEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestSMA(t *testing.T) {
	prices := []float64{1, 2, 3, 4, 5}
	result := SMA(prices, 3)

	expected := []float64{2, 3, 4}
	if len(result) != len(expected) {
		t.Fatalf("SMA 长度错误: %d", len(result))
	}
	for i := range expected {
		if !almostEqual(result[i], expected[i]) {
			t.Errorf("SMA[%d] = %v, 期望 %v", i, result[i], expected[i])
		}
	}

	if got := SMA([]float64{1, 2}, 3); got != nil {
		t.Errorf("数据不足应返回 nil，得到 %v", got)
	}
}

func TestStdDev(t *testing.T) {
	// 恒定序列标准差为0
	flat := StdDev([]float64{5, 5, 5, 5}, 4)
	if len(flat) != 1 || flat[0] != 0 {
		t.Errorf("恒定序列标准差应为0，得到 %v", flat)
	}

	// {2,4,4,4,5,5,7,9} 的总体标准差为2
	sd := StdDev([]float64{2, 4, 4, 4, 5, 5, 7, 9}, 8)
	if len(sd) != 1 || math.Abs(sd[0]-2) > 1e-9 {
		t.Errorf("标准差应为2，得到 %v", sd)
	}

	// 滚动窗口输出长度 = len - period + 1
	rolling := StdDev([]float64{1, 2, 3, 4, 5}, 3)
	if len(rolling) != 3 {
		t.Errorf("滚动标准差长度应为3，得到 %d", len(rolling))
	}
}

func TestReturns(t *testing.T) {
	r := Returns([]float64{100, 110, 99})
	if len(r) != 2 {
		t.Fatalf("收益率长度错误: %d", len(r))
	}
	if !almostEqual(r[0], 0.1) {
		t.Errorf("首个收益率应为0.1，得到 %v", r[0])
	}
	if !almostEqual(r[1], -0.1) {
		t.Errorf("第二个收益率应为-0.1，得到 %v", r[1])
	}
}

func TestRollingVolatility(t *testing.T) {
	flat := []float64{100, 100, 100, 100, 100, 100}
	if vol := RollingVolatility(flat, 5); vol != 0 {
		t.Errorf("恒定价格滚动波动率应为0，得到 %v", vol)
	}

	noisy := []float64{100, 110, 95, 112, 92, 115}
	if vol := RollingVolatility(noisy, 5); vol <= 0 {
		t.Errorf("波动序列的滚动波动率应为正，得到 %v", vol)
	}
}

func TestEWMAVolatility(t *testing.T) {
	flat := []float64{100, 100, 100, 100}
	if vol := EWMAVolatility(flat, 0.94); vol != 0 {
		t.Errorf("恒定价格EWMA波动率应为0，得到 %v", vol)
	}

	noisy := []float64{100, 110, 95, 112, 92, 115}
	vol := EWMAVolatility(noisy, 0.94)
	if vol <= 0 {
		t.Errorf("波动序列的EWMA波动率应为正，得到 %v", vol)
	}

	// 衰减系数越小，越偏重最新收益率
	recent := EWMAVolatility(noisy, 0.5)
	if recent <= 0 {
		t.Errorf("EWMA波动率应为正，得到 %v", recent)
	}
}

func makeTrendCandles(n int, step float64) []Candle {
	candles := make([]Candle, n)
	price := 100.0
	for i := range candles {
		candles[i] = Candle{
			Time:  int64(i),
			Open:  price,
			High:  price + step + 0.5,
			Low:   price - 0.5,
			Close: price + step,
		}
		price += step
	}
	return candles
}

func TestADXUptrend(t *testing.T) {
	adx := NewADX(14)
	candles := makeTrendCandles(100, 1.0)

	values := adx.CalculateMulti(candles)
	if values == nil {
		t.Fatal("计算失败: 返回 nil")
	}

	adxSeries := values["adx"]
	plusSeries := values["plus_di"]
	minusSeries := values["minus_di"]
	if len(adxSeries) == 0 {
		t.Fatal("ADX 序列为空")
	}

	lastADX := adxSeries[len(adxSeries)-1]
	lastPlus := plusSeries[len(plusSeries)-1]
	lastMinus := minusSeries[len(minusSeries)-1]

	// 持续单边上涨：+DI 显著高于 -DI，ADX 走高
	if lastPlus <= lastMinus {
		t.Errorf("上涨趋势中 +DI(%v) 应高于 -DI(%v)", lastPlus, lastMinus)
	}
	if lastADX < 25 {
		t.Errorf("持续趋势的 ADX 应较高，得到 %v", lastADX)
	}
}

func TestADXInsufficientData(t *testing.T) {
	adx := NewADX(14)
	if got := adx.CalculateMulti(makeTrendCandles(5, 1.0)); got != nil {
		t.Errorf("数据不足应返回 nil, 实际 %v", got)
	}
}
