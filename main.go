package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"gridmesh/config"
	"gridmesh/event"
	"gridmesh/exchange"
	"gridmesh/exchange/binance"
	"gridmesh/lock"
	"gridmesh/logger"
	"gridmesh/monitor"
	"gridmesh/notify"
	"gridmesh/order"
	"gridmesh/storage"
	"gridmesh/strategy"
	"gridmesh/utils"
	"gridmesh/web"
)

func main() {
	configPath := flag.String("config", "config.yaml", "配置文件路径")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "加载配置失败: %v\n", err)
		os.Exit(1)
	}

	logger.SetLevel(logger.ParseLogLevel(cfg.System.LogLevel))
	if err := utils.SetLocation(cfg.System.Timezone); err != nil {
		logger.Warn("⚠️ 时区设置失败，使用默认时区: %v", err)
	}
	logger.SetLocation(utils.GlobalLocation)
	logger.Info("🚀 gridmesh 启动中...")

	if err := run(cfg, *configPath); err != nil {
		logger.Fatalf("❌ 启动失败: %v", err)
	}
}

func run(cfg *config.Config, configPath string) error {
	rootCtx, rootCancel := context.WithCancel(context.Background())
	defer rootCancel()

	// 存储
	store, err := storage.NewSQLiteStorage(cfg.Storage.Path, cfg.Storage.MaxTrades)
	if err != nil {
		return fmt.Errorf("初始化存储失败: %w", err)
	}
	defer store.Close()

	// 通知
	var notifier *notify.Service
	if cfg.Notifications.Enabled {
		notifier = notify.NewService(notify.Level(cfg.Notifications.MinLevel), store)
		if cfg.Notifications.Telegram.Enabled {
			notifier.Register(notify.NewTelegramNotifier(
				cfg.Notifications.Telegram.BotToken, cfg.Notifications.Telegram.ChatID))
		}
		if cfg.Notifications.Webhook.Enabled {
			notifier.Register(notify.NewWebhookNotifier(cfg.Notifications.Webhook.URL))
		}
	}

	// 交易所适配器：精度按交易对获取，每个交易对一个实例
	exchanges := make(map[string]exchange.IExchange, len(cfg.Symbols))
	exCfg := map[string]string{
		"api_key":    cfg.Exchange.APIKey,
		"secret_key": cfg.Exchange.APISecret,
		"testnet":    strconv.FormatBool(cfg.Exchange.Testnet),
	}
	var anyExchange exchange.IExchange
	for _, sc := range cfg.Symbols {
		adapter, err := binance.NewBinanceAdapter(exCfg, sc.Symbol)
		if err != nil {
			return fmt.Errorf("创建 %s 交易所适配器失败: %w", sc.Symbol, err)
		}
		exchanges[sc.Symbol] = adapter
		anyExchange = adapter
	}

	// 分布式锁
	var dlock lock.DistributedLock
	if cfg.DistributedLock.Enabled {
		redisLock, err := lock.NewRedisLock(
			cfg.DistributedLock.Redis.Addr,
			cfg.DistributedLock.Redis.Password,
			cfg.DistributedLock.Redis.DB,
			fmt.Sprintf("gridmesh-%d", os.Getpid()))
		if err != nil {
			return fmt.Errorf("初始化分布式锁失败: %w", err)
		}
		defer redisLock.Close()
		dlock = redisLock
	} else {
		dlock = lock.NewNopLock()
	}

	// 资金分配
	shares := make([]strategy.SymbolShare, 0, len(cfg.Symbols))
	symbols := make([]string, 0, len(cfg.Symbols))
	for _, sc := range cfg.Symbols {
		shares = append(shares, strategy.SymbolShare{Symbol: sc.Symbol, Weight: sc.Weight})
		symbols = append(symbols, sc.Symbol)
	}
	allocator, err := strategy.NewFundAllocator(
		cfg.Allocator.TotalFunds, cfg.Allocator.MaxGlobalUsage,
		strategy.AllocationStrategy(cfg.Allocator.Strategy), shares)
	if err != nil {
		return fmt.Errorf("初始化资金分配器失败: %w", err)
	}

	// 订单执行
	tracker := order.NewTracker(cfg.Storage.MaxTrades, store)
	executor := order.NewExecutor(exchanges, order.ExecutorConfig{
		MaxRetries:     cfg.Order.MaxRetries,
		RetryBase:      time.Duration(cfg.Order.RetryBaseMs) * time.Millisecond,
		RatePerSecond:  cfg.Order.RatePerSecond,
		LiquidateRetry: cfg.Order.LiquidateRetry,
		LockPrefix:     cfg.DistributedLock.Prefix,
		LockTTL:        time.Duration(cfg.DistributedLock.TTL) * time.Second,
	}, dlock, allocator, tracker)

	// 趋势判定
	var overseer *strategy.TrendOverseer
	if cfg.Trend.Enabled {
		overseer = strategy.NewTrendOverseer(anyExchange,
			cfg.Trend.Interval, cfg.Trend.ADXPeriod,
			cfg.Trend.EMAShort, cfg.Trend.EMALong,
			time.Duration(cfg.Trend.CacheTTL)*time.Second,
			cfg.Trend.MinConfidence, cfg.Trend.MinStrength)
	}

	// 价格监控与事件总线
	pmon := monitor.NewPriceMonitor(anyExchange, symbols,
		time.Duration(cfg.Trading.TickIntervalMs)*time.Millisecond)
	bus := event.NewEventBus(1000)
	defer bus.Close()

	// 交易引擎
	engine := strategy.NewEngine(cfg, strategy.EngineDeps{
		Exchanges: exchanges,
		Executor:  executor,
		Allocator: allocator,
		Overseer:  overseer,
		Monitor:   pmon,
		Store:     store,
		Notifier:  notifier,
		Bus:       bus,
	})
	if err := engine.Start(rootCtx); err != nil {
		return err
	}
	defer engine.Stop()

	// 系统指标采集与 Web 服务
	collector := monitor.NewSystemCollector(30 * time.Second)
	collector.Start(rootCtx)
	defer collector.Stop()

	var webServer *web.Server
	if cfg.Web.Enabled {
		webServer = web.NewServer(cfg.Web.Host, cfg.Web.Port, engine, tracker, store, collector)
		webServer.Start(rootCtx)
		defer webServer.Stop()
	}

	// 配置热更新
	watcher, err := config.NewWatcher(configPath)
	if err != nil {
		logger.Warn("⚠️ 配置热更新不可用: %v", err)
	} else {
		if err := watcher.Start(rootCtx); err != nil {
			logger.Warn("⚠️ 配置热更新启动失败: %v", err)
		} else {
			defer watcher.Stop()
			go func() {
				for newCfg := range watcher.Updates() {
					engine.ApplyConfig(newCfg)
				}
			}()
		}
	}

	if notifier != nil {
		notifier.Notify(rootCtx, notify.LevelInfo, "系统启动",
			fmt.Sprintf("gridmesh 已启动，交易对: %v", symbols))
	}

	// 等待退出信号
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info("ℹ️ 收到信号 %v，开始优雅退出...", sig)

	if cfg.Trading.CancelOnExit {
		cancelOpenOrders(exchanges)
	}

	rootCancel()
	return nil
}

// cancelOpenOrders 退出前撤销所有挂单
func cancelOpenOrders(exchanges map[string]exchange.IExchange) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	for symbol, ex := range exchanges {
		orders, err := ex.GetOpenOrders(ctx, symbol)
		if err != nil {
			logger.Warn("⚠️ 获取 %s 挂单失败: %v", symbol, err)
			continue
		}
		for _, ord := range orders {
			if err := ex.CancelOrder(ctx, symbol, ord.OrderID); err != nil {
				logger.Warn("⚠️ 撤销 %s 订单 %d 失败: %v", symbol, ord.OrderID, err)
			}
		}
		if len(orders) > 0 {
			logger.Info("✅ %s 已撤销 %d 个挂单", symbol, len(orders))
		}
	}
}
