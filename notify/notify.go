package notify

import (
	"context"
	"fmt"
	"sync"
	"time"

	"gridmesh/logger"
)

// Level 告警级别
type Level string

const (
	LevelInfo     Level = "INFO"
	LevelWarning  Level = "WARNING"
	LevelCritical Level = "CRITICAL"
)

// Notifier 通知器接口
type Notifier interface {
	Send(ctx context.Context, level Level, title, body string) error
	Name() string
}

// AlertSink 告警持久化接口（由 storage 层实现）
type AlertSink interface {
	SaveAlert(level, title, body string, createdAt time.Time) error
}

// Service 通知服务，按级别分发到多个通道并落库
type Service struct {
	mu        sync.RWMutex
	notifiers []Notifier
	sink      AlertSink
	minLevel  Level
}

// NewService 创建通知服务
func NewService(minLevel Level, sink AlertSink) *Service {
	if minLevel == "" {
		minLevel = LevelWarning
	}
	return &Service{
		minLevel: minLevel,
		sink:     sink,
	}
}

// Register 注册通知通道
func (s *Service) Register(n Notifier) {
	if n == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.notifiers = append(s.notifiers, n)
	logger.Info("✅ 已注册通知通道: %s", n.Name())
}

func levelRank(l Level) int {
	switch l {
	case LevelInfo:
		return 0
	case LevelWarning:
		return 1
	case LevelCritical:
		return 2
	default:
		return 0
	}
}

// Notify 发送通知，低于最小级别的只落库不推送
func (s *Service) Notify(ctx context.Context, level Level, title, body string) {
	if s.sink != nil {
		if err := s.sink.SaveAlert(string(level), title, body, time.Now()); err != nil {
			logger.Warn("⚠️ 告警落库失败: %v", err)
		}
	}

	if levelRank(level) < levelRank(s.minLevel) {
		return
	}

	s.mu.RLock()
	notifiers := make([]Notifier, len(s.notifiers))
	copy(notifiers, s.notifiers)
	s.mu.RUnlock()

	for _, n := range notifiers {
		go func(n Notifier) {
			sendCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := n.Send(sendCtx, level, title, body); err != nil {
				logger.Warn("⚠️ 通知发送失败 [%s]: %v", n.Name(), err)
			}
		}(n)
	}
}

// FormatSymbolAlert 组装带交易对前缀的告警正文
func FormatSymbolAlert(symbol, msg string) string {
	return fmt.Sprintf("[%s] %s", symbol, msg)
}
