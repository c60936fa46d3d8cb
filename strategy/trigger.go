package strategy

import (
	"math"
	"sync"
)

// Signal 交易信号
type Signal int

const (
	SignalNone Signal = iota
	SignalBuy
	SignalSell
)

// String 返回信号名称
func (s Signal) String() string {
	switch s {
	case SignalBuy:
		return "BUY"
	case SignalSell:
		return "SELL"
	default:
		return "NONE"
	}
}

// TriggerDetector 网格触发检测器。
// 上轨 = 基准价 × (1 + 网格/2)，下轨 = 基准价 × (1 - 网格/2)。
// 配置了回调/反弹比例时，穿越轨道先进入待触发状态，
// 跟踪局部极值，回撤到位才真正触发。
type TriggerDetector struct {
	mu          sync.Mutex
	basePrice   float64
	gridSizePct float64

	pullbackSellPct float64 // 0 表示穿越上轨立即卖出
	reboundBuyPct   float64 // 0 表示穿越下轨立即买入

	armedSell bool
	localHigh float64
	armedBuy  bool
	localLow  float64
}

// NewTriggerDetector 创建触发检测器
func NewTriggerDetector(basePrice, gridSizePct, pullbackSellPct, reboundBuyPct float64) *TriggerDetector {
	return &TriggerDetector{
		basePrice:       basePrice,
		gridSizePct:     gridSizePct,
		pullbackSellPct: pullbackSellPct,
		reboundBuyPct:   reboundBuyPct,
	}
}

func (t *TriggerDetector) bands() (upper, lower float64) {
	half := t.gridSizePct / 100 / 2
	return t.basePrice * (1 + half), t.basePrice * (1 - half)
}

// Bands 返回当前上下轨
func (t *TriggerDetector) Bands() (upper, lower float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.bands()
}

// BasePrice 当前基准价
func (t *TriggerDetector) BasePrice() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.basePrice
}

// GridSizePct 当前网格大小
func (t *TriggerDetector) GridSizePct() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.gridSizePct
}

// SetBase 重置基准价并清除待触发状态
func (t *TriggerDetector) SetBase(price float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.basePrice = price
	t.armedSell = false
	t.armedBuy = false
	t.localHigh = 0
	t.localLow = 0
}

// SetGridSize 更新网格大小，待触发状态保留
func (t *TriggerDetector) SetGridSize(pct float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.gridSizePct = pct
}

// OnPrice 输入最新价格，返回触发信号
func (t *TriggerDetector) OnPrice(price float64) Signal {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.basePrice <= 0 || price <= 0 {
		return SignalNone
	}

	upper, lower := t.bands()

	// 卖出方向
	if price >= upper {
		if t.pullbackSellPct <= 0 {
			return SignalSell
		}
		if !t.armedSell {
			t.armedSell = true
			t.localHigh = price
		}
	}
	if t.armedSell {
		t.localHigh = math.Max(t.localHigh, price)
		if price <= t.localHigh*(1-t.pullbackSellPct) {
			t.armedSell = false
			t.localHigh = 0
			return SignalSell
		}
	}

	// 买入方向
	if price <= lower {
		if t.reboundBuyPct <= 0 {
			return SignalBuy
		}
		if !t.armedBuy {
			t.armedBuy = true
			t.localLow = price
		}
	}
	if t.armedBuy {
		t.localLow = math.Min(t.localLow, price)
		if price >= t.localLow*(1+t.reboundBuyPct) {
			t.armedBuy = false
			t.localLow = 0
			return SignalBuy
		}
	}

	return SignalNone
}
