package web

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"gridmesh/logger"
	"gridmesh/monitor"
	"gridmesh/order"
	"gridmesh/storage"
	"gridmesh/strategy"
)

// StatusProvider 状态查询接口（由交易引擎实现）
type StatusProvider interface {
	Snapshots() []*strategy.StatusSnapshot
	Snapshot(symbol string) (*strategy.StatusSnapshot, bool)
	Allocation() *strategy.AllocationSnapshot
}

// Server 状态查询 Web 服务
type Server struct {
	engine    StatusProvider
	tracker   *order.Tracker
	store     *storage.SQLiteStorage
	collector *monitor.SystemCollector

	httpServer *http.Server
	hub        *wsHub
}

// NewServer 创建 Web 服务
func NewServer(host string, port int, engine StatusProvider, tracker *order.Tracker, store *storage.SQLiteStorage, collector *monitor.SystemCollector) *Server {
	gin.SetMode(gin.ReleaseMode)

	s := &Server{
		engine:    engine,
		tracker:   tracker,
		store:     store,
		collector: collector,
		hub:       newWSHub(),
	}

	router := gin.New()
	router.Use(gin.Recovery())

	api := router.Group("/api")
	{
		api.GET("/status", s.handleStatus)
		api.GET("/status/:symbol", s.handleSymbolStatus)
		api.GET("/allocation", s.handleAllocation)
		api.GET("/trades/:symbol", s.handleTrades)
		api.GET("/alerts", s.handleAlerts)
		api.GET("/system", s.handleSystem)
	}
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	router.GET("/ws", s.hub.handleConnect)
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	s.httpServer = &http.Server{
		Addr:    fmt.Sprintf("%s:%d", host, port),
		Handler: router,
	}
	return s
}

// Start 启动 Web 服务与快照推送
func (s *Server) Start(ctx context.Context) {
	go s.hub.run(ctx)
	go s.pushLoop(ctx)

	go func() {
		logger.Info("✅ Web 服务已启动: http://%s", s.httpServer.Addr)
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("❌ Web 服务异常退出: %v", err)
		}
	}()
}

// pushLoop 周期向 WebSocket 订阅者推送状态快照
func (s *Server) pushLoop(ctx context.Context) {
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if s.hub.clientCount() == 0 {
				continue
			}
			s.hub.broadcast(gin.H{
				"type":       "status",
				"symbols":    s.engine.Snapshots(),
				"allocation": s.engine.Allocation(),
				"time":       time.Now().Unix(),
			})
		}
	}
}

func (s *Server) handleStatus(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"symbols":    s.engine.Snapshots(),
		"allocation": s.engine.Allocation(),
	})
}

func (s *Server) handleSymbolStatus(c *gin.Context) {
	symbol := c.Param("symbol")
	snap, ok := s.engine.Snapshot(symbol)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": fmt.Sprintf("未知交易对: %s", symbol)})
		return
	}
	c.JSON(http.StatusOK, snap)
}

func (s *Server) handleAllocation(c *gin.Context) {
	c.JSON(http.StatusOK, s.engine.Allocation())
}

func (s *Server) handleTrades(c *gin.Context) {
	symbol := c.Param("symbol")
	limit := 50
	if s.tracker != nil {
		c.JSON(http.StatusOK, gin.H{"trades": s.tracker.Recent(symbol, limit)})
		return
	}
	c.JSON(http.StatusOK, gin.H{"trades": []interface{}{}})
}

func (s *Server) handleAlerts(c *gin.Context) {
	if s.store == nil {
		c.JSON(http.StatusOK, gin.H{"alerts": []interface{}{}})
		return
	}
	alerts, err := s.store.RecentAlerts(50)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"alerts": alerts})
}

func (s *Server) handleSystem(c *gin.Context) {
	if s.collector == nil {
		c.JSON(http.StatusOK, gin.H{})
		return
	}
	c.JSON(http.StatusOK, s.collector.Latest())
}

// Stop 优雅关闭
func (s *Server) Stop() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.httpServer.Shutdown(ctx); err != nil {
		logger.Warn("⚠️ Web 服务关闭失败: %v", err)
	}
}
