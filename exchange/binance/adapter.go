package binance

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net"
	"strconv"
	"strings"
	"time"

	"gridmesh/exchange"
	"gridmesh/logger"

	"github.com/adshao/go-binance/v2"
	"github.com/adshao/go-binance/v2/common"
)

// BinanceAdapter 币安现货交易所适配器
type BinanceAdapter struct {
	client           *binance.Client
	symbol           string
	priceDecimals    int    // 价格精度（小数位数）
	quantityDecimals int    // 数量精度（小数位数）
	baseAsset        string // 基础资产（交易币种），如 BTC
	quoteAsset       string // 计价资产（结算币种），如 USDT
	useTestnet       bool
	requestTimeout   time.Duration
}

// NewBinanceAdapter 创建币安适配器
func NewBinanceAdapter(cfg map[string]string, symbol string) (*BinanceAdapter, error) {
	apiKey := cfg["api_key"]
	secretKey := cfg["secret_key"]

	useTestnet := cfg["testnet"] == "true"
	if useTestnet {
		logger.Info("🌐 [Binance] 使用测试网模式")
	}

	// 必须在创建客户端之前设置
	binance.UseTestnet = useTestnet

	if apiKey == "" || secretKey == "" {
		return nil, fmt.Errorf("Binance API 配置不完整")
	}

	client := binance.NewClient(apiKey, secretKey)

	adapter := &BinanceAdapter{
		client:         client,
		symbol:         symbol,
		useTestnet:     useTestnet,
		requestTimeout: 10 * time.Second,
	}

	// 获取交易对信息（价格精度、数量精度、资产名）
	ctxInit, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := adapter.fetchExchangeInfo(ctxInit); err != nil {
		logger.Warn("⚠️ [Binance] 获取交易对信息失败: %v，使用默认精度", err)
		adapter.priceDecimals = 2
		adapter.quantityDecimals = 5
	}

	return adapter, nil
}

// GetName 获取交易所名称
func (b *BinanceAdapter) GetName() string {
	return "Binance"
}

// fetchExchangeInfo 获取交易对精度信息
func (b *BinanceAdapter) fetchExchangeInfo(ctx context.Context) error {
	info, err := b.client.NewExchangeInfoService().Symbol(b.symbol).Do(ctx)
	if err != nil {
		return normalizeError(err)
	}

	for _, s := range info.Symbols {
		if s.Symbol != b.symbol {
			continue
		}

		b.baseAsset = s.BaseAsset
		b.quoteAsset = s.QuoteAsset

		if pf := s.PriceFilter(); pf != nil {
			b.priceDecimals = decimalsFromStep(pf.TickSize)
		}
		if lf := s.LotSizeFilter(); lf != nil {
			b.quantityDecimals = decimalsFromStep(lf.StepSize)
		}

		logger.Info("ℹ️ [Binance] %s 精度: 价格=%d位, 数量=%d位 (base=%s, quote=%s)",
			b.symbol, b.priceDecimals, b.quantityDecimals, b.baseAsset, b.quoteAsset)
		return nil
	}

	return fmt.Errorf("交易对 %s 不存在", b.symbol)
}

// decimalsFromStep 从步长字符串推算小数位数，如 "0.00100000" -> 3
func decimalsFromStep(step string) int {
	f, err := strconv.ParseFloat(step, 64)
	if err != nil || f <= 0 {
		return 8
	}
	decimals := 0
	for f < 1 && decimals < 8 {
		f *= 10
		decimals++
	}
	return decimals
}

// GetTicker 获取最新价格
func (b *BinanceAdapter) GetTicker(ctx context.Context, symbol string) (*exchange.Ticker, error) {
	ctx, cancel := context.WithTimeout(ctx, b.requestTimeout)
	defer cancel()

	prices, err := b.client.NewListPricesService().Symbol(symbol).Do(ctx)
	if err != nil {
		return nil, normalizeError(err)
	}
	if len(prices) == 0 {
		return nil, fmt.Errorf("%w: 未返回 %s 的价格", exchange.ErrUnknown, symbol)
	}

	price, err := strconv.ParseFloat(prices[0].Price, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: 价格解析失败: %v", exchange.ErrUnknown, err)
	}

	return &exchange.Ticker{
		Symbol: symbol,
		Price:  price,
		Time:   time.Now(),
	}, nil
}

// GetKlines 获取历史K线
func (b *BinanceAdapter) GetKlines(ctx context.Context, symbol, interval string, limit int) ([]*exchange.Candle, error) {
	ctx, cancel := context.WithTimeout(ctx, b.requestTimeout)
	defer cancel()

	klines, err := b.client.NewKlinesService().
		Symbol(symbol).
		Interval(interval).
		Limit(limit).
		Do(ctx)
	if err != nil {
		return nil, normalizeError(err)
	}

	candles := make([]*exchange.Candle, 0, len(klines))
	for _, k := range klines {
		open, _ := strconv.ParseFloat(k.Open, 64)
		high, _ := strconv.ParseFloat(k.High, 64)
		low, _ := strconv.ParseFloat(k.Low, 64)
		closePrice, _ := strconv.ParseFloat(k.Close, 64)
		volume, _ := strconv.ParseFloat(k.Volume, 64)

		candles = append(candles, &exchange.Candle{
			Symbol:   symbol,
			OpenTime: k.OpenTime,
			Open:     open,
			High:     high,
			Low:      low,
			Close:    closePrice,
			Volume:   volume,
			IsClosed: k.CloseTime < time.Now().UnixMilli(),
		})
	}

	return candles, nil
}

// GetBalances 获取账户余额
func (b *BinanceAdapter) GetBalances(ctx context.Context) ([]*exchange.Balance, error) {
	ctx, cancel := context.WithTimeout(ctx, b.requestTimeout)
	defer cancel()

	account, err := b.client.NewGetAccountService().Do(ctx)
	if err != nil {
		return nil, normalizeError(err)
	}

	balances := make([]*exchange.Balance, 0, len(account.Balances))
	for _, bal := range account.Balances {
		free, _ := strconv.ParseFloat(bal.Free, 64)
		locked, _ := strconv.ParseFloat(bal.Locked, 64)
		if free == 0 && locked == 0 {
			continue
		}
		balances = append(balances, &exchange.Balance{
			Asset:  bal.Asset,
			Free:   free,
			Locked: locked,
		})
	}

	return balances, nil
}

// PlaceOrder 下单
func (b *BinanceAdapter) PlaceOrder(ctx context.Context, req *exchange.OrderRequest) (*exchange.Order, error) {
	ctx, cancel := context.WithTimeout(ctx, b.requestTimeout)
	defer cancel()

	svc := b.client.NewCreateOrderService().
		Symbol(req.Symbol).
		Side(binance.SideType(req.Side)).
		Quantity(b.formatQuantity(req.Quantity))

	if req.ClientOrderID != "" {
		svc = svc.NewClientOrderID(req.ClientOrderID)
	}

	switch req.Type {
	case exchange.OrderTypeMarket:
		svc = svc.Type(binance.OrderTypeMarket)
	default:
		svc = svc.Type(binance.OrderTypeLimit).
			TimeInForce(binance.TimeInForceTypeGTC).
			Price(b.formatPrice(req.Price))
	}

	resp, err := svc.Do(ctx)
	if err != nil {
		return nil, normalizeError(err)
	}

	executedQty, _ := strconv.ParseFloat(resp.ExecutedQuantity, 64)
	avgPrice := req.Price
	if len(resp.Fills) > 0 {
		// 市价单用成交明细求均价
		totalQty, totalQuote := 0.0, 0.0
		for _, f := range resp.Fills {
			q, _ := strconv.ParseFloat(f.Quantity, 64)
			p, _ := strconv.ParseFloat(f.Price, 64)
			totalQty += q
			totalQuote += q * p
		}
		if totalQty > 0 {
			avgPrice = totalQuote / totalQty
		}
	}

	return &exchange.Order{
		OrderID:       resp.OrderID,
		ClientOrderID: resp.ClientOrderID,
		Symbol:        req.Symbol,
		Side:          req.Side,
		Type:          req.Type,
		Price:         req.Price,
		Quantity:      req.Quantity,
		ExecutedQty:   executedQty,
		AvgPrice:      avgPrice,
		Status:        exchange.OrderStatus(resp.Status),
		CreatedAt:     time.Now(),
	}, nil
}

// CancelOrder 取消订单
func (b *BinanceAdapter) CancelOrder(ctx context.Context, symbol string, orderID int64) error {
	ctx, cancel := context.WithTimeout(ctx, b.requestTimeout)
	defer cancel()

	_, err := b.client.NewCancelOrderService().
		Symbol(symbol).
		OrderID(orderID).
		Do(ctx)
	if err != nil {
		// 订单已不存在（可能已成交或已取消），不算错误
		errStr := err.Error()
		if strings.Contains(errStr, "-2011") || strings.Contains(errStr, "Unknown order") {
			logger.Info("ℹ️ [Binance] 订单 %d 已不存在，跳过取消", orderID)
			return nil
		}
		return normalizeError(err)
	}

	return nil
}

// GetOpenOrders 获取未完成订单
func (b *BinanceAdapter) GetOpenOrders(ctx context.Context, symbol string) ([]*exchange.Order, error) {
	ctx, cancel := context.WithTimeout(ctx, b.requestTimeout)
	defer cancel()

	orders, err := b.client.NewListOpenOrdersService().Symbol(symbol).Do(ctx)
	if err != nil {
		return nil, normalizeError(err)
	}

	result := make([]*exchange.Order, 0, len(orders))
	for _, o := range orders {
		price, _ := strconv.ParseFloat(o.Price, 64)
		qty, _ := strconv.ParseFloat(o.OrigQuantity, 64)
		executed, _ := strconv.ParseFloat(o.ExecutedQuantity, 64)

		result = append(result, &exchange.Order{
			OrderID:       o.OrderID,
			ClientOrderID: o.ClientOrderID,
			Symbol:        o.Symbol,
			Side:          exchange.Side(o.Side),
			Type:          exchange.OrderType(o.Type),
			Price:         price,
			Quantity:      qty,
			ExecutedQty:   executed,
			Status:        exchange.OrderStatus(o.Status),
			CreatedAt:     time.UnixMilli(o.Time),
		})
	}

	return result, nil
}

// AmountToPrecision 数量按交易所精度截断
func (b *BinanceAdapter) AmountToPrecision(value float64) float64 {
	return truncate(value, b.quantityDecimals)
}

// PriceToPrecision 价格按交易所精度截断
func (b *BinanceAdapter) PriceToPrecision(value float64) float64 {
	return truncate(value, b.priceDecimals)
}

// GetPriceDecimals 价格小数位数
func (b *BinanceAdapter) GetPriceDecimals() int {
	return b.priceDecimals
}

// GetQuantityDecimals 数量小数位数
func (b *BinanceAdapter) GetQuantityDecimals() int {
	return b.quantityDecimals
}

// GetBaseAsset 基础资产
func (b *BinanceAdapter) GetBaseAsset() string {
	return b.baseAsset
}

// GetQuoteAsset 计价资产
func (b *BinanceAdapter) GetQuoteAsset() string {
	return b.quoteAsset
}

func (b *BinanceAdapter) formatPrice(price float64) string {
	return strconv.FormatFloat(truncate(price, b.priceDecimals), 'f', b.priceDecimals, 64)
}

func (b *BinanceAdapter) formatQuantity(qty float64) string {
	return strconv.FormatFloat(truncate(qty, b.quantityDecimals), 'f', b.quantityDecimals, 64)
}

// truncate 向下截断到指定小数位（避免四舍五入超出余额）
func truncate(value float64, decimals int) float64 {
	factor := math.Pow10(decimals)
	return math.Floor(value*factor) / factor
}

// normalizeError 把币安错误归一化为类型化错误
func normalizeError(err error) error {
	if err == nil {
		return nil
	}

	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) ||
		(errors.As(err, &netErr) && netErr.Timeout()) {
		return fmt.Errorf("%w: %v", exchange.ErrNetwork, err)
	}

	var apiErr *common.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.Code {
		case -1003, -1015: // 请求过多/下单过快
			return fmt.Errorf("%w: %v", exchange.ErrRateLimited, err)
		case -2010:
			msg := apiErr.Message
			if strings.Contains(msg, "Duplicate") {
				return fmt.Errorf("%w: %v", exchange.ErrDuplicateOrder, err)
			}
			if strings.Contains(msg, "insufficient") {
				return fmt.Errorf("%w: %v", exchange.ErrInsufficientFunds, err)
			}
			return fmt.Errorf("%w: %v", exchange.ErrUnknown, err)
		case -1021: // 时间戳不同步
			return fmt.Errorf("%w: %v", exchange.ErrUnknown, err)
		default:
			return fmt.Errorf("%w: %v", exchange.ErrUnknown, err)
		}
	}

	// 其余一律按网络错误处理（连接重置、DNS 失败等）
	return fmt.Errorf("%w: %v", exchange.ErrNetwork, err)
}
