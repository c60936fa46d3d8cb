package order

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/time/rate"

	"gridmesh/exchange"
	"gridmesh/lock"
	"gridmesh/logger"
	"gridmesh/metrics"
	"gridmesh/utils"
)

// TradeRecorder 成交记账接口（由资金分配器实现）
type TradeRecorder interface {
	RecordTrade(symbol string, quoteAmount float64, side string)
}

// ExecutorConfig 执行器配置
type ExecutorConfig struct {
	MaxRetries     int           // 瞬时错误最大重试次数
	RetryBase      time.Duration // 退避基准时长
	RatePerSecond  int           // 每秒下单上限
	LiquidateRetry int           // 清仓最大重试次数
	LockPrefix     string
	LockTTL        time.Duration
}

// Executor 订单执行器，负责幂等下单、限速与重试。
// 精度随交易对而异，按交易对路由到各自的交易所适配器。
type Executor struct {
	exs      map[string]exchange.IExchange
	cfg      ExecutorConfig
	limiter  *rate.Limiter
	dlock    lock.DistributedLock
	recorder TradeRecorder
	tracker  *Tracker
}

// NewExecutor 创建订单执行器
func NewExecutor(exs map[string]exchange.IExchange, cfg ExecutorConfig, dlock lock.DistributedLock, recorder TradeRecorder, tracker *Tracker) *Executor {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.RetryBase <= 0 {
		cfg.RetryBase = 500 * time.Millisecond
	}
	if cfg.RatePerSecond <= 0 {
		cfg.RatePerSecond = 5
	}
	if cfg.LiquidateRetry <= 0 {
		cfg.LiquidateRetry = 5
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = 5 * time.Second
	}
	if dlock == nil {
		dlock = lock.NewNopLock()
	}

	return &Executor{
		exs:      exs,
		cfg:      cfg,
		limiter:  rate.NewLimiter(rate.Limit(cfg.RatePerSecond), cfg.RatePerSecond),
		dlock:    dlock,
		recorder: recorder,
		tracker:  tracker,
	}
}

// Submit 提交市价单。客户端订单ID在首次尝试前生成，重试期间不变，
// 交易所返回重复订单错误视为已成交。
func (e *Executor) Submit(ctx context.Context, symbol, side string, price, quantity float64) (*exchange.Order, error) {
	ex, ok := e.exs[symbol]
	if !ok {
		return nil, fmt.Errorf("未配置 %s 的交易所适配器", symbol)
	}

	quantity = ex.AmountToPrecision(quantity)
	price = ex.PriceToPrecision(price)
	if quantity <= 0 {
		return nil, fmt.Errorf("%s: 数量精度调整后为0，放弃下单", symbol)
	}

	// 幂等键：整个重试周期使用同一个 clientOrderID
	clientOrderID := utils.GenerateOrderID(price, side, ex.GetPriceDecimals())

	lockKey := e.cfg.LockPrefix + symbol
	acquired, err := e.dlock.Acquire(ctx, lockKey, e.cfg.LockTTL)
	if err != nil {
		return nil, fmt.Errorf("获取下单锁失败: %w", err)
	}
	if !acquired {
		return nil, fmt.Errorf("%s: 下单锁被其他实例持有", symbol)
	}
	defer func() {
		releaseCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := e.dlock.Release(releaseCtx, lockKey); err != nil {
			logger.Warn("⚠️ 释放下单锁失败: %v", err)
		}
	}()

	req := &exchange.OrderRequest{
		Symbol:        symbol,
		Side:          exchange.Side(side),
		Type:          exchange.OrderTypeMarket,
		Quantity:      quantity,
		ClientOrderID: clientOrderID,
	}

	var lastErr error
	for attempt := 0; attempt <= e.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			backoff := e.cfg.RetryBase * time.Duration(1<<(attempt-1))
			logger.Warn("⚠️ %s 下单重试 %d/%d（等待 %v）: %v",
				symbol, attempt, e.cfg.MaxRetries, backoff, lastErr)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
		}

		if err := e.limiter.Wait(ctx); err != nil {
			return nil, err
		}

		ord, err := ex.PlaceOrder(ctx, req)
		if err == nil {
			e.onFilled(ord)
			return ord, nil
		}

		// 重复订单说明上一次请求实际已被接受
		if errors.Is(err, exchange.ErrDuplicateOrder) {
			logger.Info("ℹ️ %s 订单已存在，视为成功: %s", symbol, clientOrderID)
			metrics.OrdersDuplicate.WithLabelValues(symbol).Inc()

			// 市价清仓不带入参价格，用最新行情回填，否则资金记账漏记
			fillPrice := price
			if fillPrice <= 0 {
				if tk, terr := ex.GetTicker(ctx, symbol); terr == nil {
					fillPrice = tk.Price
				} else {
					logger.Warn("⚠️ %s 重复订单无法回填成交价: %v", symbol, terr)
				}
			}

			ord := &exchange.Order{
				Symbol:        symbol,
				ClientOrderID: clientOrderID,
				Side:          exchange.Side(side),
				Type:          exchange.OrderTypeMarket,
				Quantity:      quantity,
				Price:         fillPrice,
				Status:        exchange.OrderStatusFilled,
			}
			e.onFilled(ord)
			return ord, nil
		}

		if exchange.IsPermanent(err) {
			metrics.OrdersFailed.WithLabelValues(symbol, side).Inc()
			return nil, fmt.Errorf("%s 下单失败（不可重试）: %w", symbol, err)
		}

		lastErr = err
	}

	metrics.OrdersFailed.WithLabelValues(symbol, side).Inc()
	return nil, fmt.Errorf("%s 下单失败（重试%d次后放弃）: %w", symbol, e.cfg.MaxRetries, lastErr)
}

// onFilled 记录成交：指标、资金记账、成交追踪
func (e *Executor) onFilled(ord *exchange.Order) {
	side := string(ord.Side)
	metrics.OrdersSubmitted.WithLabelValues(ord.Symbol, side).Inc()

	if ord.Status != exchange.OrderStatusFilled {
		return
	}

	price := ord.Price
	if price <= 0 {
		price = ord.AvgPrice
	}
	quoteAmount := price * ord.Quantity

	if e.recorder != nil {
		e.recorder.RecordTrade(ord.Symbol, quoteAmount, side)
	}
	if e.tracker != nil {
		e.tracker.Record(&TradeRecord{
			Symbol:        ord.Symbol,
			Side:          side,
			Price:         price,
			Quantity:      ord.Quantity,
			QuoteAmount:   quoteAmount,
			ClientOrderID: ord.ClientOrderID,
			Time:          utils.NowConfiguredTimezone(),
		})
	}
	metrics.TradesRecorded.WithLabelValues(ord.Symbol, side).Inc()

	logger.Info("💰 %s %s 成交: 价格=%.8f 数量=%.8f 金额=%.2f",
		ord.Symbol, side, price, ord.Quantity, quoteAmount)
}

// CancelOpenOrders 撤销交易对的全部挂单。单笔撤销失败不中断其余撤销。
func (e *Executor) CancelOpenOrders(ctx context.Context, symbol string) error {
	ex, ok := e.exs[symbol]
	if !ok {
		return fmt.Errorf("未配置 %s 的交易所适配器", symbol)
	}

	orders, err := ex.GetOpenOrders(ctx, symbol)
	if err != nil {
		return fmt.Errorf("获取 %s 挂单失败: %w", symbol, err)
	}
	for _, ord := range orders {
		if err := ex.CancelOrder(ctx, symbol, ord.OrderID); err != nil {
			logger.Warn("⚠️ 撤销 %s 订单 %d 失败: %v", symbol, ord.OrderID, err)
		}
	}
	if len(orders) > 0 {
		logger.Info("✅ %s 已撤销 %d 个挂单", symbol, len(orders))
	}
	return nil
}

// Liquidate 市价清仓，失败时带退避重试，重试耗尽返回错误由上层告警并停机
func (e *Executor) Liquidate(ctx context.Context, symbol string, quantity float64) (*exchange.Order, error) {
	var lastErr error
	for attempt := 0; attempt < e.cfg.LiquidateRetry; attempt++ {
		if attempt > 0 {
			backoff := e.cfg.RetryBase * time.Duration(1<<(attempt-1))
			logger.Warn("⚠️ %s 清仓重试 %d/%d（等待 %v）: %v",
				symbol, attempt, e.cfg.LiquidateRetry, backoff, lastErr)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
		}

		ord, err := e.Submit(ctx, symbol, string(exchange.SideSell), 0, quantity)
		if err == nil {
			logger.Info("✅ %s 清仓完成: 数量=%.8f", symbol, quantity)
			return ord, nil
		}
		lastErr = err
	}

	return nil, fmt.Errorf("%s 清仓失败（重试%d次后放弃）: %w", symbol, e.cfg.LiquidateRetry, lastErr)
}
