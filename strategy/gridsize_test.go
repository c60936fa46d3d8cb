package strategy

import (
	"math"
	"testing"
)

func TestGridSizerMapping(t *testing.T) {
	// base=1.0 k=50 center=0.02，平滑窗口1方便断言
	g := NewGridSizer(1.0, 0.5, 3.0, 50, 0.02, 0.1, 1)

	// 波动率等于中枢：保持基准
	size, changed := g.Update(0.02)
	if changed {
		t.Errorf("波动率等于中枢不应调整，得到 %v", size)
	}

	// 波动率升高：1.0 + 50*(0.04-0.02) = 2.0
	size, changed = g.Update(0.04)
	if !changed || math.Abs(size-2.0) > 1e-9 {
		t.Errorf("期望调整到2.0，得到 %v (changed=%v)", size, changed)
	}
}

func TestGridSizerClampAndDelta(t *testing.T) {
	g := NewGridSizer(1.0, 0.5, 3.0, 100, 0.02, 0.1, 1)

	// 极端波动：映射值远超上限，应钳制到3.0
	size, changed := g.Update(0.2)
	if !changed || size != 3.0 {
		t.Errorf("应钳制到上限3.0，得到 %v (changed=%v)", size, changed)
	}

	// 极端缩量：映射值远低于下限，应钳制到0.5
	size, changed = g.Update(-0.5)
	if !changed || size != 0.5 {
		t.Errorf("应钳制到下限0.5，得到 %v (changed=%v)", size, changed)
	}

	// 微小变化被抑制
	g2 := NewGridSizer(1.0, 0.5, 3.0, 1, 0.02, 0.1, 1)
	size, changed = g2.Update(0.07) // 1.0 + 1*(0.05) = 1.05，变化0.05 < 0.1
	if changed {
		t.Errorf("小于最小调整幅度应保持不变，得到 %v", size)
	}
	if g2.Current() != 1.0 {
		t.Errorf("当前值应保持1.0，实际 %v", g2.Current())
	}
}

func TestGridSizerSmoothing(t *testing.T) {
	// 平滑窗口3，1次尖峰不应把网格推到上限
	g := NewGridSizer(1.0, 0.5, 3.0, 100, 0.02, 0.1, 3)

	g.Update(0.02) // raw = 1.0
	g.Update(0.02) // raw = 1.0
	size, _ := g.Update(0.08) // raw = 7.0，SMA = (1+1+7)/3 = 3.0

	if size > 3.0 {
		t.Errorf("平滑后不应超过上限，得到 %v", size)
	}
	// 未平滑时 raw=7 会直接钳制到3；平滑恰好也是3，但中间态验证历史生效
	if size != 3.0 {
		t.Errorf("SMA平滑结果应为3.0，得到 %v", size)
	}
}

func TestGridSizerSetBounds(t *testing.T) {
	g := NewGridSizer(2.0, 0.5, 3.0, 0, 0, 0.1, 1)

	g.SetBounds(0.5, 1.5)
	if g.Current() != 1.5 {
		t.Errorf("收紧上限后当前值应被钳制到1.5，实际 %v", g.Current())
	}

	// 非法边界被忽略
	g.SetBounds(2.0, 1.0)
	if g.Current() != 1.5 {
		t.Errorf("非法边界不应生效，实际 %v", g.Current())
	}
}

func TestVolatilityEstimator(t *testing.T) {
	est := NewVolatilityEstimator(5, 0.94, 0.5)

	// 数据不足
	if _, err := est.Estimate([]float64{100, 101, 102}); err != ErrInsufficientData {
		t.Errorf("数据不足应返回 ErrInsufficientData，得到 %v", err)
	}

	// 恒定价格：波动率为0
	flat := []float64{100, 100, 100, 100, 100, 100, 100}
	vol, err := est.Estimate(flat)
	if err != nil {
		t.Fatalf("估计失败: %v", err)
	}
	if vol != 0 {
		t.Errorf("恒定价格波动率应为0，得到 %v", vol)
	}

	// 波动价格：波动率为正
	noisy := []float64{100, 105, 98, 107, 96, 109, 94, 111}
	vol, err = est.Estimate(noisy)
	if err != nil {
		t.Fatalf("估计失败: %v", err)
	}
	if vol <= 0 {
		t.Errorf("波动价格的波动率应为正，得到 %v", vol)
	}

	// 波动更大的序列应有更高的波动率
	calm := []float64{100, 100.5, 99.8, 100.3, 99.9, 100.2, 100.1, 100.4}
	calmVol, _ := est.Estimate(calm)
	if calmVol >= vol {
		t.Errorf("平静序列波动率(%v)应低于剧烈序列(%v)", calmVol, vol)
	}
}
