package strategy

import "time"

// RiskState 风控状态
type RiskState int

const (
	RiskAllowAll RiskState = iota
	RiskAllowBuyOnly
	RiskAllowSellOnly
)

// String 返回风控状态名称
func (r RiskState) String() string {
	switch r {
	case RiskAllowAll:
		return "ALLOW_ALL"
	case RiskAllowBuyOnly:
		return "ALLOW_BUY_ONLY"
	case RiskAllowSellOnly:
		return "ALLOW_SELL_ONLY"
	default:
		return "UNKNOWN"
	}
}

// ParseRiskState 解析风控状态名称，未知值回退为 ALLOW_ALL
func ParseRiskState(s string) RiskState {
	switch s {
	case "ALLOW_BUY_ONLY":
		return RiskAllowBuyOnly
	case "ALLOW_SELL_ONLY":
		return RiskAllowSellOnly
	default:
		return RiskAllowAll
	}
}

// AllowBuy 当前状态是否允许买入
func (r RiskState) AllowBuy() bool {
	return r == RiskAllowAll || r == RiskAllowBuyOnly
}

// AllowSell 当前状态是否允许卖出
func (r RiskState) AllowSell() bool {
	return r == RiskAllowAll || r == RiskAllowSellOnly
}

// StatusSnapshot 单交易对运行状态快照，供状态接口展示
type StatusSnapshot struct {
	Symbol         string    `json:"symbol"`
	LastPrice      float64   `json:"last_price"`
	BasePrice      float64   `json:"base_price"`
	GridSizePct    float64   `json:"grid_size_pct"`
	UpperBand      float64   `json:"upper_band"`
	LowerBand      float64   `json:"lower_band"`
	PositionQty    float64   `json:"position_qty"`
	AvgCost        float64   `json:"avg_cost"`
	PositionRatio  float64   `json:"position_ratio"`
	UnrealizedPnL  float64   `json:"unrealized_pnl"`
	MaxProfitSeen  float64   `json:"max_profit_seen"`
	RiskState      string    `json:"risk_state"`
	TrendDirection string    `json:"trend_direction,omitempty"`
	Status         string    `json:"status"`
	FundUsed       float64   `json:"fund_used"`
	FundLimit      float64   `json:"fund_limit"`
	UpdatedAt      time.Time `json:"updated_at"`
}
