// 配置文件变更监听器实现。
//
// 基于 fsnotify 监听配置文件所在目录，去抖后重新加载并回调。
package config

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// --- 监听器类型定义 ---

// ReloadFunc 接收重新加载后的完整配置
type ReloadFunc func(cfg *Config)

// Watcher 监听配置文件变化并重新加载
type Watcher struct {
	mu sync.Mutex

	loader   *Loader
	path     string
	debounce time.Duration
	logger   *zap.Logger

	watcher   *fsnotify.Watcher
	callbacks []ReloadFunc
	running   bool
	stopCh    chan struct{}
	doneCh    chan struct{}

	reloads int
}

// WatcherOption 配置监听器
type WatcherOption func(*Watcher)

// WithDebounce 设置去抖间隔
func WithDebounce(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		w.debounce = d
	}
}

// WithWatcherLogger 设置日志记录器
func WithWatcherLogger(logger *zap.Logger) WatcherOption {
	return func(w *Watcher) {
		w.logger = logger
	}
}

// NewWatcher 创建配置监听器，loader 必须指定配置文件路径
func NewWatcher(loader *Loader, opts ...WatcherOption) (*Watcher, error) {
	if loader == nil || loader.ConfigPath() == "" {
		return nil, fmt.Errorf("config watcher requires a loader with a config path")
	}

	path, err := filepath.Abs(loader.ConfigPath())
	if err != nil {
		return nil, fmt.Errorf("resolve config path: %w", err)
	}

	w := &Watcher{
		loader:   loader,
		path:     path,
		debounce: 200 * time.Millisecond,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(w)
	}
	w.logger = w.logger.With(zap.String("component", "config_watcher"))
	return w, nil
}

// OnReload 注册重新加载回调
func (w *Watcher) OnReload(fn ReloadFunc) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.callbacks = append(w.callbacks, fn)
}

// Start 开始监听（非阻塞）
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.running {
		return nil
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create fsnotify watcher: %w", err)
	}
	// 监听目录而不是文件：编辑器保存时常用 rename 替换文件
	if err := fw.Add(filepath.Dir(w.path)); err != nil {
		_ = fw.Close()
		return fmt.Errorf("watch %s: %w", filepath.Dir(w.path), err)
	}

	w.watcher = fw
	w.stopCh = make(chan struct{})
	w.doneCh = make(chan struct{})
	w.running = true

	go w.run(ctx)

	w.logger.Info("config watcher started", zap.String("path", w.path))
	return nil
}

// Stop 停止监听并等待事件循环退出
func (w *Watcher) Stop() error {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = false
	close(w.stopCh)
	doneCh := w.doneCh
	fw := w.watcher
	w.mu.Unlock()

	<-doneCh
	return fw.Close()
}

// Reloads 返回成功重新加载的次数
func (w *Watcher) Reloads() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.reloads
}

func (w *Watcher) run(ctx context.Context) {
	defer close(w.doneCh)

	var (
		timer   *time.Timer
		timerCh <-chan time.Time
	)
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if !w.relevant(event) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(w.debounce)
			} else {
				timer.Reset(w.debounce)
			}
			timerCh = timer.C

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("config watcher error", zap.Error(err))

		case <-timerCh:
			timerCh = nil
			w.reload()
		}
	}
}

func (w *Watcher) relevant(event fsnotify.Event) bool {
	if filepath.Clean(event.Name) != w.path {
		return false
	}
	return event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0
}

func (w *Watcher) reload() {
	cfg, err := w.loader.Load()
	if err != nil {
		w.logger.Error("config reload failed, keeping previous config", zap.Error(err))
		return
	}
	if err := cfg.Validate(); err != nil {
		w.logger.Error("reloaded config is invalid, keeping previous config", zap.Error(err))
		return
	}

	w.mu.Lock()
	w.reloads++
	callbacks := make([]ReloadFunc, len(w.callbacks))
	copy(callbacks, w.callbacks)
	w.mu.Unlock()

	w.logger.Info("config reloaded", zap.String("path", w.path))
	for _, fn := range callbacks {
		fn(cfg)
	}
}
