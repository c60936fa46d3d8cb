package config

import (
	"os"
	"path/filepath"
	"testing"
)

const validYAML = `
exchange:
  name: binance
  api_key: test-key
  api_secret: test-secret
  testnet: true

symbols:
  - symbol: BTCUSDT
    invest_per_order: 100
    weight: 0.6
    grid:
      base_size_pct: 1.0
      min_size_pct: 0.5
      max_size_pct: 3.0
    position:
      min: 0.1
      max: 0.8
    stop_loss:
      enabled: true
      price_ratio: 0.15
  - symbol: ETHUSDT
    invest_per_order: 50
    weight: 0.4
    grid:
      base_size_pct: 1.5
      min_size_pct: 0.5
      max_size_pct: 3.0
    position:
      min: 0.0
      max: 0.9
    stop_loss:
      enabled: true
      price_ratio: 0.2

allocator:
  total_funds: 10000
  strategy: weighted
`

func writeTempConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("写入临时配置失败: %v", err)
	}
	return path
}

func TestLoadConfig(t *testing.T) {
	cfg, err := LoadConfig(writeTempConfig(t, validYAML))
	if err != nil {
		t.Fatalf("加载配置失败: %v", err)
	}

	if len(cfg.Symbols) != 2 {
		t.Errorf("期望2个交易对，实际 %d", len(cfg.Symbols))
	}

	// 默认值
	if cfg.Volatility.EWMALambda != 0.94 {
		t.Errorf("EWMA lambda 默认值错误: %v", cfg.Volatility.EWMALambda)
	}
	if cfg.Allocator.MaxGlobalUsage != 0.95 {
		t.Errorf("max_global_usage 默认值错误: %v", cfg.Allocator.MaxGlobalUsage)
	}
	if cfg.Order.MaxRetries != 3 {
		t.Errorf("order.max_retries 默认值错误: %v", cfg.Order.MaxRetries)
	}
	if cfg.Storage.Path != "./data/gridmesh.db" {
		t.Errorf("storage.path 默认值错误: %v", cfg.Storage.Path)
	}
	if cfg.Trading.Rebase.Enabled {
		t.Error("rebase 应默认关闭")
	}
}

func TestSymbolConfigFor(t *testing.T) {
	cfg, err := LoadConfig(writeTempConfig(t, validYAML))
	if err != nil {
		t.Fatalf("加载配置失败: %v", err)
	}

	sc, ok := cfg.SymbolConfigFor("ETHUSDT")
	if !ok {
		t.Fatal("应找到 ETHUSDT 配置")
	}
	if sc.InvestPerOrder != 50 {
		t.Errorf("invest_per_order 错误: %v", sc.InvestPerOrder)
	}

	if _, ok := cfg.SymbolConfigFor("DOGEUSDT"); ok {
		t.Error("不应找到未配置的交易对")
	}
}

func TestPositionLimitsFor(t *testing.T) {
	yaml := `
exchange:
  api_key: k
  api_secret: s

symbols:
  - symbol: BTCUSDT
    invest_per_order: 100
    position:
      min: 0.1
      max: 0.8
  - symbol: ETHUSDT
    invest_per_order: 50

allocator:
  total_funds: 10000
`
	cfg, err := LoadConfig(writeTempConfig(t, yaml))
	if err != nil {
		t.Fatalf("加载配置失败: %v", err)
	}

	min, max, source := cfg.PositionLimitsFor("BTCUSDT")
	if min != 0.1 || max != 0.8 || source != "symbol-override" {
		t.Errorf("BTCUSDT 应使用交易对级覆盖，实际 min=%v max=%v source=%s", min, max, source)
	}

	min, max, source = cfg.PositionLimitsFor("ETHUSDT")
	if min != 0 || max != 0.9 || source != "global-default" {
		t.Errorf("ETHUSDT 应使用全局默认，实际 min=%v max=%v source=%s", min, max, source)
	}
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		cfg, err := LoadConfig(writeTempConfig(t, validYAML))
		if err != nil {
			t.Fatalf("加载基准配置失败: %v", err)
		}
		return cfg
	}

	tests := []struct {
		name   string
		modify func(*Config)
	}{
		{
			name:   "缺少API密钥",
			modify: func(c *Config) { c.Exchange.APIKey = "" },
		},
		{
			name:   "无交易对",
			modify: func(c *Config) { c.Symbols = nil },
		},
		{
			name:   "总资金为零",
			modify: func(c *Config) { c.Allocator.TotalFunds = 0 },
		},
		{
			name:   "非法分配策略",
			modify: func(c *Config) { c.Allocator.Strategy = "random" },
		},
		{
			name: "交易对重复",
			modify: func(c *Config) {
				c.Symbols = append(c.Symbols, c.Symbols[0])
			},
		},
		{
			name: "网格上下限颠倒",
			modify: func(c *Config) {
				c.Symbols[0].Grid.MinSizePct = 5.0
			},
		},
		{
			name: "基准网格越界",
			modify: func(c *Config) {
				c.Symbols[0].Grid.BaseSizePct = 10.0
			},
		},
		{
			name: "仓位限制非法",
			modify: func(c *Config) {
				c.Symbols[0].Position.Min = 0.9
				c.Symbols[0].Position.Max = 0.5
			},
		},
		{
			name: "止损比例越界",
			modify: func(c *Config) {
				c.Symbols[0].StopLoss.PriceRatio = 1.5
			},
		},
		{
			name: "加权策略权重和不为1",
			modify: func(c *Config) {
				c.Symbols[0].Weight = 0.9
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			tt.modify(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("期望校验失败，实际通过")
			}
		})
	}
}
