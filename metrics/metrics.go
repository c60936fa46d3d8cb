package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus 指标集合，web 层通过 /metrics 暴露
var (
	// OrdersSubmitted 按交易对和方向统计的下单次数
	OrdersSubmitted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gridmesh_orders_submitted_total",
		Help: "Total orders submitted, by symbol and side",
	}, []string{"symbol", "side"})

	// OrdersFailed 下单最终失败次数
	OrdersFailed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gridmesh_orders_failed_total",
		Help: "Total orders that failed after retries",
	}, []string{"symbol", "side"})

	// OrdersDuplicate 幂等去重命中次数
	OrdersDuplicate = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gridmesh_orders_duplicate_total",
		Help: "Orders treated as success due to duplicate client order id",
	}, []string{"symbol"})

	// TradesRecorded 成交记录数
	TradesRecorded = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gridmesh_trades_recorded_total",
		Help: "Total trades recorded, by symbol and side",
	}, []string{"symbol", "side"})

	// RiskState 当前风控状态 (0=ALLOW_ALL 1=ALLOW_BUY_ONLY 2=ALLOW_SELL_ONLY)
	RiskState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "gridmesh_risk_state",
		Help: "Current risk state per symbol (0=allow_all 1=buy_only 2=sell_only)",
	}, []string{"symbol"})

	// GridSizePct 当前网格大小（百分比）
	GridSizePct = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "gridmesh_grid_size_pct",
		Help: "Current grid size percent per symbol",
	}, []string{"symbol"})

	// Volatility 当前混合波动率
	Volatility = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "gridmesh_volatility",
		Help: "Current hybrid volatility estimate per symbol",
	}, []string{"symbol"})

	// AllocationDenied 资金分配被拒次数
	AllocationDenied = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gridmesh_allocation_denied_total",
		Help: "Fund allocation requests denied, by symbol",
	}, []string{"symbol"})

	// FundUsed 已占用资金
	FundUsed = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "gridmesh_fund_used",
		Help: "Capital currently in use per symbol",
	}, []string{"symbol"})

	// StopLossTriggered 止损触发次数
	StopLossTriggered = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gridmesh_stop_loss_triggered_total",
		Help: "Stop-loss triggers, by symbol and reason",
	}, []string{"symbol", "reason"})

	// LastPrice 最新成交价
	LastPrice = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "gridmesh_last_price",
		Help: "Last observed price per symbol",
	}, []string{"symbol"})
)
