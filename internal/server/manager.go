package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/BaSui01/groundwork/config"
)

// =============================================================================
// 🌐 HTTP 服务器管理
// =============================================================================

// ErrAlreadyStarted 重复启动
var ErrAlreadyStarted = errors.New("server already started")

// Config 服务器配置
type Config struct {
	Name            string        `yaml:"name" json:"name"`
	Addr            string        `yaml:"addr" json:"addr"`
	ReadTimeout     time.Duration `yaml:"read_timeout" json:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout" json:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout" json:"idle_timeout"`
	MaxHeaderBytes  int           `yaml:"max_header_bytes" json:"max_header_bytes"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" json:"shutdown_timeout"`
}

// DefaultConfig 返回默认配置
func DefaultConfig() Config {
	return Config{
		Name:            "api",
		Addr:            ":8080",
		ReadTimeout:     30 * time.Second,
		WriteTimeout:    30 * time.Second,
		IdleTimeout:     120 * time.Second,
		MaxHeaderBytes:  1 << 20,
		ShutdownTimeout: 15 * time.Second,
	}
}

// FromServerConfig 构建 API 服务器配置
func FromServerConfig(sc config.ServerConfig) Config {
	cfg := DefaultConfig()
	cfg.Addr = fmt.Sprintf(":%d", sc.HTTPPort)
	if sc.ReadTimeout > 0 {
		cfg.ReadTimeout = sc.ReadTimeout
	}
	if sc.WriteTimeout > 0 {
		cfg.WriteTimeout = sc.WriteTimeout
	}
	if sc.ShutdownTimeout > 0 {
		cfg.ShutdownTimeout = sc.ShutdownTimeout
	}
	return cfg
}

// MetricsConfig 构建 metrics 服务器配置，端口为 0 时返回 false
func MetricsConfig(sc config.ServerConfig) (Config, bool) {
	if sc.MetricsPort <= 0 {
		return Config{}, false
	}
	cfg := FromServerConfig(sc)
	cfg.Name = "metrics"
	cfg.Addr = fmt.Sprintf(":%d", sc.MetricsPort)
	return cfg, true
}

// Server 单个 HTTP 服务器：先 Listen 再 Serve，支持 ":0" 随机端口
type Server struct {
	srv    *http.Server
	config Config
	logger *zap.Logger

	mu       sync.Mutex
	listener net.Listener
	closed   bool
}

// New 创建服务器
func New(handler http.Handler, cfg Config, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Name == "" {
		cfg.Name = "http"
	}
	return &Server{
		srv: &http.Server{
			Addr:           cfg.Addr,
			Handler:        handler,
			ReadTimeout:    cfg.ReadTimeout,
			WriteTimeout:   cfg.WriteTimeout,
			IdleTimeout:    cfg.IdleTimeout,
			MaxHeaderBytes: cfg.MaxHeaderBytes,
		},
		config: cfg,
		logger: logger.With(zap.String("server", cfg.Name)),
	}
}

// Listen 绑定端口
func (s *Server) Listen() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return ErrAlreadyStarted
	}
	ln, err := net.Listen("tcp", s.config.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.config.Addr, err)
	}
	s.listener = ln
	s.logger.Info("server listening", zap.String("addr", ln.Addr().String()))
	return nil
}

// Serve 阻塞服务直到关闭；正常关闭返回 nil
func (s *Server) Serve() error {
	s.mu.Lock()
	ln := s.listener
	s.mu.Unlock()
	if ln == nil {
		return errors.New("server is not listening")
	}
	if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("%s server: %w", s.config.Name, err)
	}
	return nil
}

// Addr 实际监听地址，未监听时返回配置地址
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.config.Addr
}

// Shutdown 优雅关闭，可重复调用
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	ln := s.listener
	s.mu.Unlock()

	if s.config.ShutdownTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.config.ShutdownTimeout)
		defer cancel()
	}
	s.logger.Info("shutting down server")
	err := s.srv.Shutdown(ctx)
	if ln != nil {
		// 未进入 Serve 的 listener 不受 http.Server 跟踪
		_ = ln.Close()
	}
	if err != nil {
		return fmt.Errorf("shutdown %s server: %w", s.config.Name, err)
	}
	return nil
}

// IsRunning 已监听且未关闭
func (s *Server) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.listener != nil && !s.closed
}

// =============================================================================
// 🧩 多服务器编排
// =============================================================================

// Run 绑定所有服务器并服务，ctx 取消或任一服务器失败时关闭全部
func Run(ctx context.Context, servers ...*Server) error {
	for i, s := range servers {
		if err := s.Listen(); err != nil {
			for _, started := range servers[:i] {
				_ = started.Shutdown(context.Background())
			}
			return err
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, s := range servers {
		g.Go(s.Serve)
	}
	g.Go(func() error {
		<-gctx.Done()
		var errs []error
		for _, s := range servers {
			// 关闭期间父 ctx 已取消，使用独立 ctx 排空请求
			if err := s.Shutdown(context.WithoutCancel(gctx)); err != nil {
				errs = append(errs, err)
			}
		}
		return errors.Join(errs...)
	})
	return g.Wait()
}
