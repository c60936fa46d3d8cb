package strategy

import (
	"testing"
	"time"
)

func TestBuildSignalDirections(t *testing.T) {
	tests := []struct {
		name    string
		adx     float64
		plusDI  float64
		minusDI float64
		want    TrendDirection
	}{
		{"弱ADX为震荡", 15, 30, 10, TrendSideways},
		{"中等上涨", 25, 30, 10, TrendUp},
		{"强上涨", 45, 35, 5, TrendStrongUp},
		{"中等下跌", 25, 10, 30, TrendDown},
		{"强下跌", 50, 5, 35, TrendStrongDown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// 不提供收盘价时方向退化为方向指标比较
			sig := buildSignal("BTCUSDT", nil, 10, 30,
				[]float64{tt.adx}, []float64{tt.plusDI}, []float64{tt.minusDI})
			if sig.Direction != tt.want {
				t.Errorf("方向 = %v, 期望 %v", sig.Direction, tt.want)
			}
		})
	}
}

func TestBuildSignalEMACrossover(t *testing.T) {
	// 单调上涨的收盘价：短期均线在长期均线上方，收盘价站稳短期均线
	rising := make([]float64, 40)
	for i := range rising {
		rising[i] = 100 + float64(i)
	}
	sig := buildSignal("BTCUSDT", rising, 10, 30,
		[]float64{25}, []float64{10}, []float64{30})
	if sig.Direction != TrendUp {
		t.Errorf("均线多头排列应判定上涨（覆盖方向指标），实际 %v", sig.Direction)
	}

	// 单调下跌
	falling := make([]float64, 40)
	for i := range falling {
		falling[i] = 200 - float64(i)
	}
	sig = buildSignal("BTCUSDT", falling, 10, 30,
		[]float64{45}, []float64{30}, []float64{10})
	if sig.Direction != TrendStrongDown {
		t.Errorf("均线空头排列且ADX≥40应判定强下跌，实际 %v", sig.Direction)
	}

	// 先涨后跌：收盘价跌破短期均线但短期均线仍在长期均线上方，视为震荡
	mixed := make([]float64, 40)
	for i := range mixed {
		if i < 35 {
			mixed[i] = 100 + float64(i)*2
		} else {
			mixed[i] = 170 - float64(i-35)*5
		}
	}
	sig = buildSignal("BTCUSDT", mixed, 10, 30,
		[]float64{30}, []float64{30}, []float64{10})
	if sig.Direction != TrendSideways {
		t.Errorf("均线方向不一致应判定震荡，实际 %v", sig.Direction)
	}
}

func TestBuildSignalStrengthConfidence(t *testing.T) {
	sig := buildSignal("BTCUSDT", nil, 10, 30, []float64{45}, []float64{30}, []float64{10})

	if sig.Strength != 45 {
		t.Errorf("强度应等于ADX值45，实际 %v", sig.Strength)
	}
	// |30-10|/(30+10) = 0.5
	if sig.Confidence != 0.5 {
		t.Errorf("置信度应为0.5，实际 %v", sig.Confidence)
	}

	// 空序列兜底
	sig = buildSignal("BTCUSDT", nil, 10, 30, nil, nil, nil)
	if sig.Direction != TrendSideways || sig.Strength != 0 {
		t.Errorf("空序列应返回震荡信号: %+v", sig)
	}

	// 强度钳制在0-100
	sig = buildSignal("BTCUSDT", nil, 10, 30, []float64{150}, []float64{30}, []float64{10})
	if sig.Strength != 100 {
		t.Errorf("强度应钳制到100，实际 %v", sig.Strength)
	}
}

func TestTrendOverride(t *testing.T) {
	ov := NewTrendOverseer(nil, "4h", 14, 10, 30, time.Minute, 0.7, 25)

	tests := []struct {
		name string
		sig  *TrendSignal
		want RiskState
	}{
		{"nil信号不覆盖", nil, RiskAllowAll},
		{
			"强下跌且达标",
			&TrendSignal{Direction: TrendStrongDown, Strength: 50, Confidence: 0.8},
			RiskAllowSellOnly,
		},
		{
			"强上涨且达标",
			&TrendSignal{Direction: TrendStrongUp, Strength: 50, Confidence: 0.8},
			RiskAllowBuyOnly,
		},
		{
			"置信度不足不覆盖",
			&TrendSignal{Direction: TrendStrongDown, Strength: 50, Confidence: 0.3},
			RiskAllowAll,
		},
		{
			"强度不足不覆盖",
			&TrendSignal{Direction: TrendStrongDown, Strength: 10, Confidence: 0.8},
			RiskAllowAll,
		},
		{
			"普通下跌不覆盖",
			&TrendSignal{Direction: TrendDown, Strength: 50, Confidence: 0.8},
			RiskAllowAll,
		},
		{
			"震荡不覆盖",
			&TrendSignal{Direction: TrendSideways, Strength: 50, Confidence: 0.8},
			RiskAllowAll,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ov.Override(tt.sig); got != tt.want {
				t.Errorf("Override = %v, 期望 %v", got, tt.want)
			}
		})
	}
}

func TestSignalCacheTTL(t *testing.T) {
	cache := NewSignalCache(50 * time.Millisecond)

	if _, ok := cache.Get("BTCUSDT"); ok {
		t.Error("空缓存不应命中")
	}

	sig := &TrendSignal{Symbol: "BTCUSDT", Direction: TrendUp}
	cache.Set("BTCUSDT", sig)

	got, ok := cache.Get("BTCUSDT")
	if !ok || got.Direction != TrendUp {
		t.Fatal("TTL内应命中缓存")
	}

	time.Sleep(60 * time.Millisecond)
	if _, ok := cache.Get("BTCUSDT"); ok {
		t.Error("过期后不应命中")
	}

	cache.Set("BTCUSDT", sig)
	cache.Invalidate("BTCUSDT")
	if _, ok := cache.Get("BTCUSDT"); ok {
		t.Error("失效后不应命中")
	}
}
