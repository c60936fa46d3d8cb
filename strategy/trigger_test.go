package strategy

import "testing"

func TestTriggerImmediate(t *testing.T) {
	// 网格2%：上轨101，下轨99
	d := NewTriggerDetector(100, 2.0, 0, 0)

	upper, lower := d.Bands()
	if upper != 101 || lower != 99 {
		t.Fatalf("轨道计算错误: upper=%v lower=%v", upper, lower)
	}

	tests := []struct {
		name  string
		price float64
		want  Signal
	}{
		{"区间内无信号", 100.5, SignalNone},
		{"触达上轨卖出", 101, SignalSell},
		{"超过上轨卖出", 102, SignalSell},
		{"触达下轨买入", 99, SignalBuy},
		{"跌破下轨买入", 98, SignalBuy},
		{"临界之内无信号", 100.99, SignalNone},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := NewTriggerDetector(100, 2.0, 0, 0)
			if got := d.OnPrice(tt.price); got != tt.want {
				t.Errorf("OnPrice(%v) = %v, 期望 %v", tt.price, got, tt.want)
			}
		})
	}
}

func TestPullbackSell(t *testing.T) {
	// 回调0.5%才卖出
	d := NewTriggerDetector(100, 2.0, 0.005, 0)

	// 穿越上轨只进入待触发
	if got := d.OnPrice(101); got != SignalNone {
		t.Fatalf("穿越上轨不应立即卖出，得到 %v", got)
	}
	// 继续上涨，跟踪局部高点
	if got := d.OnPrice(103); got != SignalNone {
		t.Fatalf("上涨中不应触发，得到 %v", got)
	}
	// 回调不足
	if got := d.OnPrice(102.6); got != SignalNone {
		t.Fatalf("回调不足不应触发，得到 %v", got)
	}
	// 从高点103回调0.5%（103*0.995=102.485）
	if got := d.OnPrice(102.4); got != SignalSell {
		t.Fatalf("回调到位应触发卖出，得到 %v", got)
	}
	// 触发后状态清除
	if got := d.OnPrice(102.3); got != SignalNone {
		t.Fatalf("触发后不应重复卖出，得到 %v", got)
	}
}

func TestReboundBuy(t *testing.T) {
	d := NewTriggerDetector(100, 2.0, 0, 0.005)

	if got := d.OnPrice(99); got != SignalNone {
		t.Fatalf("穿越下轨不应立即买入，得到 %v", got)
	}
	if got := d.OnPrice(97); got != SignalNone {
		t.Fatalf("下跌中不应触发，得到 %v", got)
	}
	// 从低点97反弹0.5%（97*1.005=97.485）
	if got := d.OnPrice(97.5); got != SignalBuy {
		t.Fatalf("反弹到位应触发买入，得到 %v", got)
	}
	if got := d.OnPrice(97.6); got != SignalNone {
		t.Fatalf("触发后不应重复买入，得到 %v", got)
	}
}

func TestSetBaseClearsArmedState(t *testing.T) {
	d := NewTriggerDetector(100, 2.0, 0.005, 0)

	d.OnPrice(103) // 进入待触发
	d.SetBase(103)

	// 重置基准价后，原高点应被清除
	if got := d.OnPrice(102.4); got != SignalNone {
		t.Fatalf("重置基准价后旧的待触发状态应失效，得到 %v", got)
	}
}

func TestInvalidInputs(t *testing.T) {
	d := NewTriggerDetector(0, 2.0, 0, 0)
	if got := d.OnPrice(100); got != SignalNone {
		t.Errorf("基准价为0时不应有信号，得到 %v", got)
	}

	d = NewTriggerDetector(100, 2.0, 0, 0)
	if got := d.OnPrice(0); got != SignalNone {
		t.Errorf("价格为0时不应有信号，得到 %v", got)
	}
}
