package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// SymbolConfig 单个交易对配置
type SymbolConfig struct {
	Symbol         string  `yaml:"symbol"`           // 交易对，如 BTCUSDT
	InvestPerOrder float64 `yaml:"invest_per_order"` // 每单投入金额（计价币）
	Weight         float64 `yaml:"weight"`           // 加权分配策略下的权重

	// 网格参数
	Grid struct {
		BaseSizePct float64 `yaml:"base_size_pct"` // 基准网格大小（百分比，如 1.0 表示 1%）
		MinSizePct  float64 `yaml:"min_size_pct"`  // 网格大小下限
		MaxSizePct  float64 `yaml:"max_size_pct"`  // 网格大小上限

		// 二级触发（回调卖出/反弹买入）
		PullbackSellPct float64 `yaml:"pullback_sell_pct"` // 上穿后回调卖出比例（0 表示禁用）
		ReboundBuyPct   float64 `yaml:"rebound_buy_pct"`   // 下穿后反弹买入比例（0 表示禁用）
	} `yaml:"grid"`

	// 仓位限制覆盖（占分配资金的比例）。max 为 0 时使用全局默认
	Position struct {
		Min float64 `yaml:"min"` // 最低仓位比例
		Max float64 `yaml:"max"` // 最高仓位比例
	} `yaml:"position"`

	// 止损参数
	StopLoss struct {
		Enabled     bool    `yaml:"enabled"`
		PriceRatio  float64 `yaml:"price_ratio"`  // 相对基准价的止损跌幅（如 0.15 表示 15%）
		DrawdownPct float64 `yaml:"drawdown_pct"` // 利润回撤止损比例（0 表示禁用）
	} `yaml:"stop_loss"`
}

// Config 网格交易决策引擎配置
type Config struct {
	// 交易所配置
	Exchange struct {
		Name      string `yaml:"name"`       // 交易所名称，目前支持 binance
		APIKey    string `yaml:"api_key"`    // API Key
		APISecret string `yaml:"api_secret"` // API Secret
		Testnet   bool   `yaml:"testnet"`    // 是否使用测试网
	} `yaml:"exchange"`

	// 交易对列表
	Symbols []SymbolConfig `yaml:"symbols"`

	// 波动率估计配置
	Volatility struct {
		Window      int     `yaml:"window"`       // 滚动标准差窗口（K线数量，默认20）
		EWMALambda  float64 `yaml:"ewma_lambda"`  // EWMA 衰减系数（默认0.94）
		BlendWeight float64 `yaml:"blend_weight"` // EWMA 在混合中的权重（默认0.5）
		Interval    string  `yaml:"interval"`     // K线周期（默认 "1h"）
		KlineLimit  int     `yaml:"kline_limit"`  // 拉取K线数量（默认100）
	} `yaml:"volatility"`

	// 网格动态调整配置
	GridAdjust struct {
		Enabled       bool    `yaml:"enabled"`
		Sensitivity   float64 `yaml:"sensitivity"`    // 波动率到网格大小的映射系数 k
		VolCenter     float64 `yaml:"vol_center"`     // 波动率中枢
		SmoothWindow  int     `yaml:"smooth_window"`  // SMA 平滑窗口（默认3）
		MinDeltaPct   float64 `yaml:"min_delta_pct"`  // 最小调整幅度（百分点，默认0.1）
		CheckInterval int     `yaml:"check_interval"` // 检查间隔（秒，默认300）
	} `yaml:"grid_adjust"`

	// 趋势判定配置
	Trend struct {
		Enabled       bool    `yaml:"enabled"`
		Interval      string  `yaml:"interval"`        // K线周期（默认 "4h"）
		ADXPeriod     int     `yaml:"adx_period"`      // ADX 周期（默认14）
		EMAShort      int     `yaml:"ema_short"`       // 短期均线周期（默认10）
		EMALong       int     `yaml:"ema_long"`        // 长期均线周期（默认30）
		CacheTTL      int     `yaml:"cache_ttl"`       // 信号缓存时长（秒，默认300）
		MinConfidence float64 `yaml:"min_confidence"`  // 生效所需最低置信度（默认0.7）
		MinStrength   float64 `yaml:"min_strength"`    // 生效所需最低强度（默认25）
	} `yaml:"trend"`

	// 默认仓位限制（交易对未配置 position 覆盖时生效）
	Position struct {
		Min float64 `yaml:"min"` // 最低仓位比例（默认0）
		Max float64 `yaml:"max"` // 最高仓位比例（默认0.9）
	} `yaml:"position"`

	// 全局资金分配配置
	Allocator struct {
		TotalFunds     float64 `yaml:"total_funds"`      // 总资金（计价币）
		MaxGlobalUsage float64 `yaml:"max_global_usage"` // 全局最大资金使用率（默认0.95）
		Strategy       string  `yaml:"strategy"`         // 分配策略: equal/weighted/dynamic，默认 equal
	} `yaml:"allocator"`

	// 订单执行配置
	Order struct {
		MaxRetries     int `yaml:"max_retries"`      // 瞬时错误最大重试次数（默认3）
		RetryBaseMs    int `yaml:"retry_base_ms"`    // 重试退避基准（毫秒，默认500）
		RatePerSecond  int `yaml:"rate_per_second"`  // 每秒下单上限（默认5）
		LiquidateRetry int `yaml:"liquidate_retry"`  // 清仓最大重试次数（默认5）
	} `yaml:"order"`

	// 交易循环配置
	Trading struct {
		TickIntervalMs      int  `yaml:"tick_interval_ms"`      // 价格轮询间隔（毫秒，默认1000）
		StatusPrintInterval int  `yaml:"status_print_interval"` // 定期打印状态的间隔（分钟，默认1）
		CancelOnExit        bool `yaml:"cancel_on_exit"`        // 退出时是否撤销挂单

		// 自动重置基准价（默认关闭）
		Rebase struct {
			Enabled      bool    `yaml:"enabled"`
			DriftPct     float64 `yaml:"drift_pct"`     // 偏离基准价超过此比例时重置（如 0.2）
			CooldownMins int     `yaml:"cooldown_mins"` // 重置冷却时间（分钟，默认240）
		} `yaml:"rebase"`
	} `yaml:"trading"`

	// 通知配置
	Notifications struct {
		Enabled  bool   `yaml:"enabled"`
		MinLevel string `yaml:"min_level"` // 推送的最低级别: INFO/WARNING/CRITICAL，默认 WARNING

		Telegram struct {
			Enabled  bool   `yaml:"enabled"`
			BotToken string `yaml:"bot_token"`
			ChatID   string `yaml:"chat_id"`
		} `yaml:"telegram"`

		Webhook struct {
			Enabled bool   `yaml:"enabled"`
			URL     string `yaml:"url"`
		} `yaml:"webhook"`
	} `yaml:"notifications"`

	// 存储配置
	Storage struct {
		Path      string `yaml:"path"`       // SQLite 文件路径，默认 ./data/gridmesh.db
		MaxTrades int    `yaml:"max_trades"` // 每交易对保留的最大成交记录数（默认1000）
	} `yaml:"storage"`

	// 分布式锁配置（多实例部署）
	DistributedLock struct {
		Enabled bool   `yaml:"enabled"` // 默认false（单实例模式）
		Prefix  string `yaml:"prefix"`  // 锁键前缀，默认 "gridmesh:lock:"
		TTL     int    `yaml:"ttl"`     // 锁过期时间（秒，默认5）

		Redis struct {
			Addr     string `yaml:"addr"`     // Redis 地址，默认 localhost:6379
			Password string `yaml:"password"` // Redis 密码，默认为空
			DB       int    `yaml:"db"`       // Redis 数据库，默认0
		} `yaml:"redis"`
	} `yaml:"distributed_lock"`

	// Web 服务配置
	Web struct {
		Enabled bool   `yaml:"enabled"`
		Host    string `yaml:"host"` // 监听地址（默认 0.0.0.0）
		Port    int    `yaml:"port"` // 监听端口（默认 8080）
	} `yaml:"web"`

	// 系统配置
	System struct {
		LogLevel string `yaml:"log_level"` // debug/info/warn/error，默认 info
		Timezone string `yaml:"timezone"`  // 时区，如 "Asia/Shanghai"
	} `yaml:"system"`
}

// LoadConfig 加载并校验配置文件
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("解析配置文件失败: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// applyDefaults 填充默认值
func (c *Config) applyDefaults() {
	if c.Exchange.Name == "" {
		c.Exchange.Name = "binance"
	}

	if c.Volatility.Window <= 0 {
		c.Volatility.Window = 20
	}
	if c.Volatility.EWMALambda <= 0 || c.Volatility.EWMALambda >= 1 {
		c.Volatility.EWMALambda = 0.94
	}
	if c.Volatility.BlendWeight <= 0 || c.Volatility.BlendWeight > 1 {
		c.Volatility.BlendWeight = 0.5
	}
	if c.Volatility.Interval == "" {
		c.Volatility.Interval = "1h"
	}
	if c.Volatility.KlineLimit <= 0 {
		c.Volatility.KlineLimit = 100
	}

	if c.GridAdjust.SmoothWindow <= 0 {
		c.GridAdjust.SmoothWindow = 3
	}
	if c.GridAdjust.MinDeltaPct <= 0 {
		c.GridAdjust.MinDeltaPct = 0.1
	}
	if c.GridAdjust.CheckInterval <= 0 {
		c.GridAdjust.CheckInterval = 300
	}

	if c.Trend.Interval == "" {
		c.Trend.Interval = "4h"
	}
	if c.Trend.ADXPeriod <= 0 {
		c.Trend.ADXPeriod = 14
	}
	if c.Trend.EMAShort <= 0 {
		c.Trend.EMAShort = 10
	}
	if c.Trend.EMALong <= c.Trend.EMAShort {
		c.Trend.EMALong = 30
	}
	if c.Trend.CacheTTL <= 0 {
		c.Trend.CacheTTL = 300
	}
	if c.Trend.MinConfidence <= 0 {
		c.Trend.MinConfidence = 0.7
	}
	if c.Trend.MinStrength <= 0 {
		c.Trend.MinStrength = 25
	}

	if c.Position.Max <= 0 {
		c.Position.Max = 0.9
	}

	if c.Allocator.MaxGlobalUsage <= 0 || c.Allocator.MaxGlobalUsage > 1 {
		c.Allocator.MaxGlobalUsage = 0.95
	}
	if c.Allocator.Strategy == "" {
		c.Allocator.Strategy = "equal"
	}

	if c.Order.MaxRetries <= 0 {
		c.Order.MaxRetries = 3
	}
	if c.Order.RetryBaseMs <= 0 {
		c.Order.RetryBaseMs = 500
	}
	if c.Order.RatePerSecond <= 0 {
		c.Order.RatePerSecond = 5
	}
	if c.Order.LiquidateRetry <= 0 {
		c.Order.LiquidateRetry = 5
	}

	if c.Trading.TickIntervalMs <= 0 {
		c.Trading.TickIntervalMs = 1000
	}
	if c.Trading.StatusPrintInterval <= 0 {
		c.Trading.StatusPrintInterval = 1
	}
	if c.Trading.Rebase.CooldownMins <= 0 {
		c.Trading.Rebase.CooldownMins = 240
	}

	if c.Notifications.MinLevel == "" {
		c.Notifications.MinLevel = "WARNING"
	}

	if c.Storage.Path == "" {
		c.Storage.Path = "./data/gridmesh.db"
	}
	if c.Storage.MaxTrades <= 0 {
		c.Storage.MaxTrades = 1000
	}

	if c.DistributedLock.Prefix == "" {
		c.DistributedLock.Prefix = "gridmesh:lock:"
	}
	if c.DistributedLock.TTL <= 0 {
		c.DistributedLock.TTL = 5
	}
	if c.DistributedLock.Redis.Addr == "" {
		c.DistributedLock.Redis.Addr = "localhost:6379"
	}

	if c.Web.Host == "" {
		c.Web.Host = "0.0.0.0"
	}
	if c.Web.Port <= 0 {
		c.Web.Port = 8080
	}

	if c.System.LogLevel == "" {
		c.System.LogLevel = "info"
	}
	if c.System.Timezone == "" {
		c.System.Timezone = "Asia/Shanghai"
	}

	// 交易对级默认值
	for i := range c.Symbols {
		s := &c.Symbols[i]
		if s.Grid.BaseSizePct <= 0 {
			s.Grid.BaseSizePct = 1.0
		}
		if s.Grid.MinSizePct <= 0 {
			s.Grid.MinSizePct = 0.5
		}
		if s.Grid.MaxSizePct <= 0 {
			s.Grid.MaxSizePct = 3.0
		}
		if s.StopLoss.PriceRatio <= 0 {
			s.StopLoss.PriceRatio = 0.15
		}
	}
}

// Validate 校验配置合法性
func (c *Config) Validate() error {
	if c.Exchange.APIKey == "" || c.Exchange.APISecret == "" {
		return fmt.Errorf("exchange.api_key 和 exchange.api_secret 不能为空")
	}

	if len(c.Symbols) == 0 {
		return fmt.Errorf("至少需要配置一个交易对")
	}

	if c.Allocator.TotalFunds <= 0 {
		return fmt.Errorf("allocator.total_funds 必须大于0")
	}

	switch c.Allocator.Strategy {
	case "equal", "weighted", "dynamic":
	default:
		return fmt.Errorf("不支持的分配策略: %s（可选 equal/weighted/dynamic）", c.Allocator.Strategy)
	}

	seen := make(map[string]bool)
	weightSum := 0.0
	for _, s := range c.Symbols {
		if s.Symbol == "" {
			return fmt.Errorf("symbols 中存在空的交易对名称")
		}
		if seen[s.Symbol] {
			return fmt.Errorf("交易对重复: %s", s.Symbol)
		}
		seen[s.Symbol] = true

		if s.InvestPerOrder <= 0 {
			return fmt.Errorf("%s: invest_per_order 必须大于0", s.Symbol)
		}
		if s.Grid.MinSizePct >= s.Grid.MaxSizePct {
			return fmt.Errorf("%s: grid.min_size_pct 必须小于 grid.max_size_pct", s.Symbol)
		}
		if s.Grid.BaseSizePct < s.Grid.MinSizePct || s.Grid.BaseSizePct > s.Grid.MaxSizePct {
			return fmt.Errorf("%s: grid.base_size_pct 必须在 [%.2f, %.2f] 之间",
				s.Symbol, s.Grid.MinSizePct, s.Grid.MaxSizePct)
		}
		if s.Position.Max > 0 {
			if s.Position.Min < 0 || s.Position.Max > 1 || s.Position.Min >= s.Position.Max {
				return fmt.Errorf("%s: 仓位限制必须满足 0 <= min < max <= 1", s.Symbol)
			}
		}
		if s.StopLoss.PriceRatio <= 0 || s.StopLoss.PriceRatio >= 1 {
			return fmt.Errorf("%s: stop_loss.price_ratio 必须在 (0, 1) 之间", s.Symbol)
		}
		weightSum += s.Weight
	}

	if c.Allocator.Strategy == "weighted" {
		if weightSum < 0.999 || weightSum > 1.001 {
			return fmt.Errorf("weighted 策略要求所有交易对权重之和为1.0，当前为 %.4f", weightSum)
		}
	}

	if c.Position.Min < 0 || c.Position.Max > 1 || c.Position.Min >= c.Position.Max {
		return fmt.Errorf("position: 全局仓位限制必须满足 0 <= min < max <= 1")
	}

	return nil
}

// PositionLimitsFor 解析交易对的仓位限制：交易对级覆盖优先，否则回退全局默认。
// source 标明解析来源（symbol-override / global-default）
func (c *Config) PositionLimitsFor(symbol string) (min, max float64, source string) {
	if sc, ok := c.SymbolConfigFor(symbol); ok && sc.Position.Max > 0 {
		return sc.Position.Min, sc.Position.Max, "symbol-override"
	}
	return c.Position.Min, c.Position.Max, "global-default"
}

// SymbolConfigFor 按名称查找交易对配置
func (c *Config) SymbolConfigFor(symbol string) (*SymbolConfig, bool) {
	for i := range c.Symbols {
		if c.Symbols[i].Symbol == symbol {
			return &c.Symbols[i], true
		}
	}
	return nil, false
}
