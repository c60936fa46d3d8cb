package exchange

import (
	"context"
	"time"
)

type Side string
type OrderType string
type OrderStatus string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

const (
	OrderTypeLimit  OrderType = "LIMIT"
	OrderTypeMarket OrderType = "MARKET"
)

const (
	OrderStatusNew             OrderStatus = "NEW"
	OrderStatusPartiallyFilled OrderStatus = "PARTIALLY_FILLED"
	OrderStatusFilled          OrderStatus = "FILLED"
	OrderStatusCanceled        OrderStatus = "CANCELED"
	OrderStatusRejected        OrderStatus = "REJECTED"
	OrderStatusExpired         OrderStatus = "EXPIRED"
)

// Ticker 最新价格
type Ticker struct {
	Symbol string
	Price  float64
	Time   time.Time
}

// Candle K线数据
type Candle struct {
	Symbol   string
	OpenTime int64
	Open     float64
	High     float64
	Low      float64
	Close    float64
	Volume   float64
	IsClosed bool
}

// Balance 账户余额
type Balance struct {
	Asset  string
	Free   float64
	Locked float64
}

// OrderRequest 订单请求
type OrderRequest struct {
	Symbol        string
	Side          Side
	Type          OrderType
	Quantity      float64
	Price         float64 // 市价单忽略
	ClientOrderID string  // 客户端幂等键
}

// Order 订单信息
type Order struct {
	OrderID       int64
	ClientOrderID string
	Symbol        string
	Side          Side
	Type          OrderType
	Price         float64
	Quantity      float64
	ExecutedQty   float64
	AvgPrice      float64
	Status        OrderStatus
	CreatedAt     time.Time
}

// IExchange 交易所能力接口
// 所有方法返回规范化结果或 errors.go 中定义的类型化错误
type IExchange interface {
	GetName() string

	// 行情
	GetTicker(ctx context.Context, symbol string) (*Ticker, error)
	GetKlines(ctx context.Context, symbol, interval string, limit int) ([]*Candle, error)

	// 账户
	GetBalances(ctx context.Context) ([]*Balance, error)

	// 订单
	PlaceOrder(ctx context.Context, req *OrderRequest) (*Order, error)
	CancelOrder(ctx context.Context, symbol string, orderID int64) error
	GetOpenOrders(ctx context.Context, symbol string) ([]*Order, error)

	// 精度
	AmountToPrecision(value float64) float64
	PriceToPrecision(value float64) float64
	GetPriceDecimals() int
	GetQuantityDecimals() int

	// 资产
	GetBaseAsset() string
	GetQuoteAsset() string
}
