package strategy

import (
	"math"
	"sync"

	"gridmesh/indicators"
)

// GridSizer 依据波动率动态计算网格大小（百分比）
type GridSizer struct {
	mu          sync.Mutex
	basePct     float64 // 基准网格大小
	minPct      float64 // 下限
	maxPct      float64 // 上限
	sensitivity float64 // 波动率映射系数 k
	volCenter   float64 // 波动率中枢
	minDeltaPct float64 // 小于此幅度的调整被抑制（百分点）

	smoothWindow int
	history      []float64 // 原始映射值历史，用于 SMA 平滑

	current float64
}

// NewGridSizer 创建网格大小计算器
func NewGridSizer(basePct, minPct, maxPct, sensitivity, volCenter, minDeltaPct float64, smoothWindow int) *GridSizer {
	if smoothWindow <= 0 {
		smoothWindow = 3
	}
	if minDeltaPct <= 0 {
		minDeltaPct = 0.1
	}
	return &GridSizer{
		basePct:      basePct,
		minPct:       minPct,
		maxPct:       maxPct,
		sensitivity:  sensitivity,
		volCenter:    volCenter,
		minDeltaPct:  minDeltaPct,
		smoothWindow: smoothWindow,
		current:      basePct,
	}
}

// Current 当前网格大小
func (g *GridSizer) Current() float64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.current
}

// Update 输入最新波动率，返回网格大小和是否发生调整。
// 映射值经 SMA 平滑后钳制在 [min, max]，变化不足 minDeltaPct 时保持不变。
func (g *GridSizer) Update(volatility float64) (float64, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	raw := g.basePct + g.sensitivity*(volatility-g.volCenter)

	g.history = append(g.history, raw)
	if len(g.history) > g.smoothWindow {
		g.history = g.history[len(g.history)-g.smoothWindow:]
	}
	smoothed := indicators.Mean(g.history)

	clamped := math.Max(g.minPct, math.Min(g.maxPct, smoothed))

	if math.Abs(clamped-g.current) < g.minDeltaPct {
		return g.current, false
	}

	g.current = clamped
	return g.current, true
}

// SetBounds 热更新网格上下限，当前值越界时立即钳制
func (g *GridSizer) SetBounds(minPct, maxPct float64) {
	if minPct <= 0 || maxPct <= minPct {
		return
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.minPct = minPct
	g.maxPct = maxPct
	g.current = math.Max(g.minPct, math.Min(g.maxPct, g.current))
}
