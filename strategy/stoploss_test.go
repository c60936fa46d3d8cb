package strategy

import "testing"

func TestStopLossBaseUnset(t *testing.T) {
	g := NewStopLossGuardian(true, 0.15, 0.3)
	if got := g.Check(100, 0, -50, 100); got != StopLossNone {
		t.Errorf("基准价未设置时不应触发，实际 %q", got)
	}
}

func TestStopLossSetParams(t *testing.T) {
	g := NewStopLossGuardian(false, 0, 0)
	if got := g.Check(540, 600, 0, 0); got != StopLossNone {
		t.Fatalf("初始禁用不应触发，实际 %q", got)
	}

	// 热更新启用后 540 到达止损线 600×(1-0.1)=540
	g.SetParams(true, 0.1, 0)
	if got := g.Check(540, 600, 0, 0); got != StopLossPrice {
		t.Errorf("热更新后应触发价格止损，实际 %q", got)
	}

	g.SetParams(false, 0, 0)
	if got := g.Check(540, 600, 0, 0); got != StopLossNone {
		t.Errorf("再次禁用后不应触发，实际 %q", got)
	}
}
