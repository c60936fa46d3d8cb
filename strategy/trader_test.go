package strategy

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"gridmesh/config"
	"gridmesh/exchange"
	"gridmesh/storage"
)

type fakeExecutor struct {
	mu           sync.Mutex
	submitErr    error
	liquidateErr error
	submits      []string
	liquidations int
	cancelSweeps int
}

func (f *fakeExecutor) Submit(ctx context.Context, symbol, side string, price, quantity float64) (*exchange.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.submitErr != nil {
		return nil, f.submitErr
	}
	f.submits = append(f.submits, side)
	return &exchange.Order{Symbol: symbol, Price: price, Quantity: quantity}, nil
}

func (f *fakeExecutor) Liquidate(ctx context.Context, symbol string, quantity float64) (*exchange.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.liquidateErr != nil {
		return nil, f.liquidateErr
	}
	f.liquidations++
	return &exchange.Order{Symbol: symbol, Quantity: quantity}, nil
}

func (f *fakeExecutor) CancelOpenOrders(ctx context.Context, symbol string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancelSweeps++
	return nil
}

// fakeExchange 可编排余额与K线失败的交易所桩
type fakeExchange struct {
	mu        sync.Mutex
	balances  []*exchange.Balance
	balErr    error
	balCalls  int
	klinesErr error
}

func (f *fakeExchange) GetName() string { return "fake" }

func (f *fakeExchange) GetTicker(ctx context.Context, symbol string) (*exchange.Ticker, error) {
	return &exchange.Ticker{Symbol: symbol, Price: 600}, nil
}

func (f *fakeExchange) GetKlines(ctx context.Context, symbol, interval string, limit int) ([]*exchange.Candle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.klinesErr != nil {
		return nil, f.klinesErr
	}
	return nil, nil
}

func (f *fakeExchange) GetBalances(ctx context.Context) ([]*exchange.Balance, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.balCalls++
	if f.balErr != nil {
		return nil, f.balErr
	}
	return f.balances, nil
}

func (f *fakeExchange) PlaceOrder(ctx context.Context, req *exchange.OrderRequest) (*exchange.Order, error) {
	return nil, errors.New("未实现")
}

func (f *fakeExchange) CancelOrder(ctx context.Context, symbol string, orderID int64) error {
	return nil
}

func (f *fakeExchange) GetOpenOrders(ctx context.Context, symbol string) ([]*exchange.Order, error) {
	return nil, nil
}

func (f *fakeExchange) AmountToPrecision(v float64) float64 { return v }
func (f *fakeExchange) PriceToPrecision(v float64) float64  { return v }
func (f *fakeExchange) GetPriceDecimals() int               { return 2 }
func (f *fakeExchange) GetQuantityDecimals() int            { return 6 }
func (f *fakeExchange) GetBaseAsset() string                { return "BTC" }
func (f *fakeExchange) GetQuoteAsset() string               { return "USDT" }

func (f *fakeExchange) setBalances(base, quote float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.balances = []*exchange.Balance{
		{Asset: "BTC", Free: base},
		{Asset: "USDT", Free: quote},
	}
}

type fakeStateStore struct {
	mu     sync.Mutex
	states map[string]*storage.TraderState
}

func newFakeStateStore() *fakeStateStore {
	return &fakeStateStore{states: make(map[string]*storage.TraderState)}
}

func (f *fakeStateStore) SaveState(state *storage.TraderState) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *state
	f.states[state.Symbol] = &cp
	return nil
}

func (f *fakeStateStore) LoadState(symbol string) (*storage.TraderState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.states[symbol], nil
}

func (f *fakeStateStore) status(symbol string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if s := f.states[symbol]; s != nil {
		return s.Status
	}
	return ""
}

// newTestTrader 构造不启动循环的交易器，基准价600、网格2%、止损跌幅15%
func newTestTrader(t *testing.T, exec *fakeExecutor, store *fakeStateStore) (*SymbolTrader, *fakeExchange) {
	t.Helper()

	var sc config.SymbolConfig
	sc.Symbol = "BTCUSDT"
	sc.InvestPerOrder = 100
	sc.Grid.BaseSizePct = 2.0
	sc.Grid.MinSizePct = 0.5
	sc.Grid.MaxSizePct = 4.0
	sc.StopLoss.Enabled = true
	sc.StopLoss.PriceRatio = 0.15

	global := &config.Config{}
	global.Position.Max = 0.9

	alloc, err := NewFundAllocator(10000, 0.95, AllocateEqual, []SymbolShare{{Symbol: "BTCUSDT"}})
	if err != nil {
		t.Fatalf("创建分配器失败: %v", err)
	}

	fx := &fakeExchange{}
	st := NewSymbolTrader(sc, global, TraderDeps{
		Exchange:  fx,
		Executor:  exec,
		Allocator: alloc,
		Store:     store,
	})
	st.ctx, st.cancel = context.WithCancel(context.Background())
	st.detector.SetBase(600)
	return st, fx
}

func TestStopLossLiquidatesAndStopsSymbol(t *testing.T) {
	exec := &fakeExecutor{}
	store := newFakeStateStore()
	st, _ := newTestTrader(t, exec, store)

	st.mu.Lock()
	st.positionQty = 1
	st.avgCost = 600
	st.mu.Unlock()

	// 止损线 600×0.85=510，线上方不触发
	st.onPrice(595)
	if exec.liquidations != 0 {
		t.Fatal("止损线上方不应清仓")
	}

	// 恰好到达止损线即触发：先撤销挂单再清仓
	st.onPrice(510)
	if exec.cancelSweeps != 1 {
		t.Errorf("清仓前应撤销挂单1次，实际 %d 次", exec.cancelSweeps)
	}
	if exec.liquidations != 1 {
		t.Fatalf("应清仓1次，实际 %d 次", exec.liquidations)
	}
	if got := store.status("BTCUSDT"); got != storage.StatusLiquidated {
		t.Errorf("持久化状态应为 %q，实际 %q", storage.StatusLiquidated, got)
	}

	// 清仓后任何后续信号都不再执行
	st.onPrice(500)
	st.onPrice(700)
	if n := len(exec.submits); n != 0 {
		t.Errorf("清仓后不应再下单，实际下单 %d 次", n)
	}
}

func TestLiquidationFailureHaltsTrader(t *testing.T) {
	exec := &fakeExecutor{liquidateErr: errors.New("网络超时")}
	store := newFakeStateStore()
	st, _ := newTestTrader(t, exec, store)

	st.mu.Lock()
	st.positionQty = 1
	st.avgCost = 600
	st.mu.Unlock()

	st.onPrice(505)

	st.mu.RLock()
	halted, liquidated := st.halted, st.liquidated
	st.mu.RUnlock()
	if !halted {
		t.Error("清仓失败应停机")
	}
	if liquidated {
		t.Error("清仓失败不应标记为已清仓")
	}
	if got := store.status("BTCUSDT"); got != storage.StatusStopped {
		t.Errorf("持久化状态应为 %q，实际 %q", storage.StatusStopped, got)
	}

	// 停机后信号不再执行
	st.onPrice(593)
	if n := len(exec.submits); n != 0 {
		t.Errorf("停机后不应再下单，实际下单 %d 次", n)
	}
}

func TestConsecutiveSubmitFailureCounting(t *testing.T) {
	exec := &fakeExecutor{submitErr: errors.New("下单失败")}
	st, _ := newTestTrader(t, exec, newFakeStateStore())

	// 593跌破下轨594，每次都产生买入信号且下单失败
	for i := 0; i < maxConsecFailures; i++ {
		st.onPrice(593)
	}
	st.mu.RLock()
	n := st.consecFails
	halted := st.halted
	st.mu.RUnlock()
	if n != maxConsecFailures {
		t.Errorf("连续失败计数应为 %d，实际 %d", maxConsecFailures, n)
	}
	if halted {
		t.Error("连续失败只升级告警，不应停机")
	}

	// 恢复成功后计数清零
	exec.mu.Lock()
	exec.submitErr = nil
	exec.mu.Unlock()
	st.onPrice(593)

	st.mu.RLock()
	n = st.consecFails
	st.mu.RUnlock()
	if n != 0 {
		t.Errorf("下单成功后计数应清零，实际 %d", n)
	}
	if len(exec.submits) != 1 {
		t.Errorf("恢复后应成功下单1次，实际 %d 次", len(exec.submits))
	}
}

func TestPositionRatioFromBalances(t *testing.T) {
	exec := &fakeExecutor{}
	st, fx := newTestTrader(t, exec, newFakeStateStore())

	// 1 BTC × 600 + 1400 USDT：仓位占比 600/2000 = 0.3
	fx.setBalances(1, 1400)
	got := st.refreshPositionRatio(600)
	if math.Abs(got-0.3) > 1e-9 {
		t.Fatalf("仓位占比应为0.3，实际 %v", got)
	}
	if got < 0 || got > 1 {
		t.Errorf("仓位占比应落在 [0,1]，实际 %v", got)
	}

	// 刷新间隔内复用快照，不重复请求余额
	st.refreshPositionRatio(600)
	fx.mu.Lock()
	calls := fx.balCalls
	fx.mu.Unlock()
	if calls != 1 {
		t.Errorf("刷新间隔内应只请求1次余额，实际 %d 次", calls)
	}

	// 拉取失败时沿用上一次快照
	st.mu.Lock()
	st.ratioAt = time.Time{}
	st.mu.Unlock()
	fx.mu.Lock()
	fx.balErr = errors.New("接口超时")
	fx.mu.Unlock()
	if got := st.refreshPositionRatio(600); math.Abs(got-0.3) > 1e-9 {
		t.Errorf("余额拉取失败应沿用上次快照0.3，实际 %v", got)
	}

	if snap := st.Snapshot(); math.Abs(snap.PositionRatio-0.3) > 1e-9 {
		t.Errorf("状态快照仓位占比应为0.3，实际 %v", snap.PositionRatio)
	}
}

func TestBuySuppressedOverPositionLimit(t *testing.T) {
	exec := &fakeExecutor{}
	st, fx := newTestTrader(t, exec, newFakeStateStore())

	// 仓位上限0.80；1 BTC × 593 对 104.65 USDT，占比约0.85
	st.mu.Lock()
	st.posMax = 0.80
	st.positionQty = 1
	st.avgCost = 600
	st.mu.Unlock()
	fx.setBalances(1, 593*0.15/0.85)

	// 跌破下轨产生买入信号，被 ALLOW_SELL_ONLY 拦截
	st.onPrice(593)
	if n := len(exec.submits); n != 0 {
		t.Fatalf("超仓位上限时买入应被拦截，实际下单 %d 次", n)
	}

	// 突破上轨的卖出信号照常执行
	st.onPrice(607)
	if len(exec.submits) != 1 || exec.submits[0] != "SELL" {
		t.Errorf("卖出信号应执行，实际 %v", exec.submits)
	}
}

func TestTrendDetectFailureDoesNotBlock(t *testing.T) {
	exec := &fakeExecutor{}
	st, fx := newTestTrader(t, exec, newFakeStateStore())

	// 趋势判定失败降级为不限制，交易照常
	fx.mu.Lock()
	fx.klinesErr = errors.New("行情接口不可用")
	fx.mu.Unlock()
	st.overseer = NewTrendOverseer(fx, "4h", 14, 10, 30, time.Minute, 0.7, 25)

	st.onPrice(593)
	if len(exec.submits) != 1 || exec.submits[0] != "BUY" {
		t.Errorf("趋势判定失败不应拦截买入，实际 %v", exec.submits)
	}
}
