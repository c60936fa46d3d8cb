package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"gridmesh/logger"
)

// 编辑器保存往往触发多次写事件，合并为一次重载
const debounceDelay = 500 * time.Millisecond

// Watcher 配置文件监控器，检测到变更后重新加载并下发新配置
type Watcher struct {
	configPath string
	watcher    *fsnotify.Watcher
	updateChan chan *Config

	mu          sync.Mutex
	isWatching  bool
	lastModTime time.Time
}

// NewWatcher 创建配置监控器
func NewWatcher(configPath string) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("创建文件监控器失败: %w", err)
	}

	abs, err := filepath.Abs(configPath)
	if err != nil {
		fw.Close()
		return nil, fmt.Errorf("解析配置路径失败: %w", err)
	}

	var lastModTime time.Time
	if info, err := os.Stat(abs); err == nil {
		lastModTime = info.ModTime()
	}

	return &Watcher{
		configPath:  abs,
		watcher:     fw,
		updateChan:  make(chan *Config, 1),
		lastModTime: lastModTime,
	}, nil
}

// Updates 返回新配置下发通道
func (w *Watcher) Updates() <-chan *Config {
	return w.updateChan
}

// Start 开始监控配置文件
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.isWatching {
		w.mu.Unlock()
		return fmt.Errorf("配置监控器已经在运行")
	}
	w.isWatching = true
	w.mu.Unlock()

	// 监控目录而非文件本身，兼容原子替换式保存
	if err := w.watcher.Add(filepath.Dir(w.configPath)); err != nil {
		return fmt.Errorf("添加监控目录失败: %w", err)
	}

	go w.watchLoop(ctx)
	logger.Info("✅ 配置热更新已启用: %s", w.configPath)
	return nil
}

func (w *Watcher) watchLoop(ctx context.Context) {
	var debounce *time.Timer
	defer func() {
		if debounce != nil {
			debounce.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != w.configPath {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}

			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.AfterFunc(debounceDelay, w.reload)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			logger.Warn("⚠️ 配置监控错误: %v", err)
		}
	}
}

func (w *Watcher) reload() {
	info, err := os.Stat(w.configPath)
	if err != nil {
		logger.Warn("⚠️ 读取配置文件信息失败: %v", err)
		return
	}

	w.mu.Lock()
	if !info.ModTime().After(w.lastModTime) {
		w.mu.Unlock()
		return
	}
	w.lastModTime = info.ModTime()
	w.mu.Unlock()

	cfg, err := LoadConfig(w.configPath)
	if err != nil {
		logger.Error("❌ 配置重载失败，保持旧配置: %v", err)
		return
	}

	// 只保留最新一份待处理配置
	select {
	case w.updateChan <- cfg:
	default:
		select {
		case <-w.updateChan:
		default:
		}
		w.updateChan <- cfg
	}

	logger.Info("🔄 配置文件已重载: %s", w.configPath)
}

// Stop 停止监控
func (w *Watcher) Stop() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.isWatching {
		return nil
	}
	w.isWatching = false
	return w.watcher.Close()
}
