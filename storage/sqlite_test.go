package storage

import (
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"gridmesh/utils"
)

func newTestStorage(t *testing.T, maxTrades int) *SQLiteStorage {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := NewSQLiteStorage(path, maxTrades)
	if err != nil {
		t.Fatalf("创建存储失败: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSaveLoadState(t *testing.T) {
	s := newTestStorage(t, 100)

	// 不存在的状态返回 nil
	state, err := s.LoadState("BTCUSDT")
	if err != nil {
		t.Fatalf("加载状态失败: %v", err)
	}
	if state != nil {
		t.Fatal("未保存过的状态应返回 nil")
	}

	saved := &TraderState{
		Symbol:        "BTCUSDT",
		BasePrice:     65000.5,
		GridSizePct:   1.2,
		PositionQty:   0.05,
		AvgCost:       64000,
		MaxProfitSeen: 120.5,
		RiskState:     "ALLOW_ALL",
	}
	if err := s.SaveState(saved); err != nil {
		t.Fatalf("保存状态失败: %v", err)
	}

	loaded, err := s.LoadState("BTCUSDT")
	if err != nil {
		t.Fatalf("加载状态失败: %v", err)
	}
	if loaded == nil {
		t.Fatal("应能加载已保存的状态")
	}
	if loaded.BasePrice != 65000.5 || loaded.GridSizePct != 1.2 {
		t.Errorf("状态字段不匹配: %+v", loaded)
	}
	if loaded.Status != StatusRunning {
		t.Errorf("未指定状态时应默认 running，实际 %s", loaded.Status)
	}

	// upsert 覆盖
	saved.BasePrice = 70000
	saved.Status = StatusLiquidated
	if err := s.SaveState(saved); err != nil {
		t.Fatalf("更新状态失败: %v", err)
	}
	loaded, _ = s.LoadState("BTCUSDT")
	if loaded.BasePrice != 70000 || loaded.Status != StatusLiquidated {
		t.Errorf("upsert 后状态错误: %+v", loaded)
	}
}

func TestSaveTradeAndTrim(t *testing.T) {
	s := newTestStorage(t, 5)

	for i := 0; i < 8; i++ {
		err := s.SaveTrade(&TradeRow{
			Symbol:        "ETHUSDT",
			Side:          "BUY",
			Price:         3000 + float64(i),
			Quantity:      0.1,
			QuoteAmount:   300,
			ClientOrderID: fmt.Sprintf("300000_B_%d", i),
			CreatedAt:     time.Now(),
		})
		if err != nil {
			t.Fatalf("保存成交失败: %v", err)
		}
	}

	trades, err := s.RecentTrades("ETHUSDT", 100)
	if err != nil {
		t.Fatalf("查询成交失败: %v", err)
	}
	if len(trades) != 5 {
		t.Fatalf("裁剪后应保留5条，实际 %d", len(trades))
	}
	// 最新在前，且最旧的3条已被删除
	if trades[0].Price != 3007 {
		t.Errorf("首条应为最新成交，实际价格 %v", trades[0].Price)
	}
	if trades[len(trades)-1].Price != 3003 {
		t.Errorf("最旧保留记录价格应为3003，实际 %v", trades[len(trades)-1].Price)
	}
}

func TestTradeTimesConfiguredTimezone(t *testing.T) {
	s := newTestStorage(t, 100)

	at := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	err := s.SaveTrade(&TradeRow{
		Symbol:        "BTCUSDT",
		Side:          "BUY",
		Price:         65000,
		Quantity:      0.01,
		QuoteAmount:   650,
		ClientOrderID: "6500000_B_tz",
		CreatedAt:     at,
	})
	if err != nil {
		t.Fatalf("保存成交失败: %v", err)
	}

	trades, err := s.RecentTrades("BTCUSDT", 10)
	if err != nil || len(trades) != 1 {
		t.Fatalf("查询成交失败: %v（%d 条）", err, len(trades))
	}
	got := trades[0].CreatedAt
	if !got.Equal(at) {
		t.Errorf("时区转换不应改变时间瞬间: %v != %v", got, at)
	}
	if got.Location() != utils.GlobalLocation {
		t.Errorf("查询结果应转换到配置时区，实际 %v", got.Location())
	}
}

func TestSaveTradeDuplicateClientOrderID(t *testing.T) {
	s := newTestStorage(t, 100)

	trade := &TradeRow{
		Symbol:        "BTCUSDT",
		Side:          "SELL",
		Price:         65000,
		Quantity:      0.01,
		QuoteAmount:   650,
		ClientOrderID: "6500000_S_1700000000000001",
	}
	if err := s.SaveTrade(trade); err != nil {
		t.Fatalf("保存成交失败: %v", err)
	}
	// 同一 client_order_id 重复写入应被忽略
	if err := s.SaveTrade(trade); err != nil {
		t.Fatalf("重复保存应被忽略而非报错: %v", err)
	}

	trades, _ := s.RecentTrades("BTCUSDT", 100)
	if len(trades) != 1 {
		t.Errorf("重复成交应只保留1条，实际 %d", len(trades))
	}
}

func TestSaveAlert(t *testing.T) {
	s := newTestStorage(t, 100)

	if err := s.SaveAlert("CRITICAL", "止损触发", "[BTCUSDT] 价格跌破止损线", time.Now()); err != nil {
		t.Fatalf("保存告警失败: %v", err)
	}
	if err := s.SaveAlert("WARNING", "资金分配被拒", "[ETHUSDT] 超出全局限额", time.Now()); err != nil {
		t.Fatalf("保存告警失败: %v", err)
	}

	alerts, err := s.RecentAlerts(10)
	if err != nil {
		t.Fatalf("查询告警失败: %v", err)
	}
	if len(alerts) != 2 {
		t.Fatalf("应有2条告警，实际 %d", len(alerts))
	}
	if alerts[0].Level != "WARNING" {
		t.Errorf("最新告警级别应为 WARNING，实际 %s", alerts[0].Level)
	}
}
