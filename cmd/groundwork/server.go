package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/BaSui01/groundwork/api/handlers"
	"github.com/BaSui01/groundwork/chat"
	"github.com/BaSui01/groundwork/config"
	"github.com/BaSui01/groundwork/internal/cache"
	"github.com/BaSui01/groundwork/internal/database"
	"github.com/BaSui01/groundwork/internal/metrics"
	"github.com/BaSui01/groundwork/internal/migration"
	"github.com/BaSui01/groundwork/internal/server"
	"github.com/BaSui01/groundwork/internal/telemetry"
	"github.com/BaSui01/groundwork/llm/embedding"
	"github.com/BaSui01/groundwork/llm/observability"
	"github.com/BaSui01/groundwork/llm/providers/openaicompat"
	"github.com/BaSui01/groundwork/rag"
	"github.com/BaSui01/groundwork/rag/store"
	"github.com/BaSui01/groundwork/rag/store/mongolog"
)

// =============================================================================
// 🖥️ 应用装配
// =============================================================================

// App 持有 serve 命令的全部依赖
type App struct {
	cfg        *config.Config
	configPath string
	logger     *zap.Logger

	registry  *prometheus.Registry
	collector *metrics.Collector
	telemetry *telemetry.Providers

	db        *gorm.DB
	pool      *database.PoolManager
	store     *store.GormStore
	logStore  rag.GroundingLogStore
	mongo     *mongolog.Store
	cache     *cache.Manager
	embedder  embedding.Provider
	retriever *rag.ChunkRetriever
	feed      *rag.Feed
	grounding *rag.GroundingLogger
	chat      *chat.Orchestrator
	health    *handlers.HealthHandler
	watcher   *config.Watcher

	closers []func(ctx context.Context) error
}

// newApp 打开存储、构建检索与对话链路；失败时释放已打开的资源
func newApp(ctx context.Context, cfg *config.Config, configPath string, logger *zap.Logger) (*App, error) {
	app := &App{cfg: cfg, configPath: configPath, logger: logger}
	tel, err := telemetry.Init(ctx, cfg.Telemetry, logger, telemetry.WithVersion(Version))
	if err != nil {
		// 遥测不可用不阻断服务
		logger.Warn("failed to initialize telemetry", zap.Error(err))
	} else {
		app.telemetry = tel
		app.closers = append(app.closers, app.telemetry.Shutdown)
	}

	app.registry = prometheus.NewRegistry()
	app.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	app.collector = metrics.NewCollector("groundwork", app.registry, logger)

	if err := app.openStorage(ctx); err != nil {
		return nil, errors.Join(err, app.Close(context.Background()))
	}
	app.openCache()

	if err := app.buildPipeline(); err != nil {
		return nil, errors.Join(err, app.Close(context.Background()))
	}
	app.buildHealth()
	return app, nil
}

func (a *App) openStorage(ctx context.Context) error {
	db, err := database.Open(a.cfg.Database, a.logger)
	if err != nil {
		return err
	}
	a.db = db

	poolCfg := database.PoolConfigFrom(a.cfg.Database)
	poolCfg.OnStats = func(s sql.DBStats) {
		a.collector.RecordDBConnections(a.cfg.Database.Driver, s.OpenConnections, s.Idle)
	}
	a.pool, err = database.NewPoolManager(db, poolCfg, a.logger)
	if err != nil {
		return fmt.Errorf("init connection pool: %w", err)
	}
	a.closers = append(a.closers, func(context.Context) error { return a.pool.Close() })

	a.store = store.NewGormStore(db, a.logger)
	a.logStore = a.store

	if a.cfg.Diagnostics.Sink == "mongo" {
		a.mongo, err = mongolog.Open(ctx, a.cfg.Mongo, a.logger)
		if err != nil {
			return fmt.Errorf("open mongo diagnostics sink: %w", err)
		}
		a.closers = append(a.closers, a.mongo.Close)
		if err := a.mongo.EnsureIndexes(ctx); err != nil {
			return fmt.Errorf("ensure mongo indexes: %w", err)
		}
		a.logStore = a.mongo
	}
	a.logger.Info("storage ready",
		zap.String("driver", a.cfg.Database.Driver),
		zap.String("diagnostics_sink", a.cfg.Diagnostics.Sink),
	)
	return nil
}

// openCache Redis 不可用时退化为无缓存
func (a *App) openCache() {
	if !a.cfg.Redis.Enabled {
		return
	}
	mgr, err := cache.NewManager(cache.FromRedisConfig(a.cfg.Redis), a.logger)
	if err != nil {
		a.logger.Warn("redis unavailable, query embedding cache disabled", zap.Error(err))
		return
	}
	a.cache = mgr
	a.closers = append(a.closers, func(context.Context) error { return mgr.Close() })
}

func (a *App) buildPipeline() error {
	a.embedder = newEmbedder(a.cfg.Embedding, a.logger)
	var queryEmbedder rag.Embedder = a.embedder
	if a.cache != nil {
		queryEmbedder = embedding.NewCachedProvider(a.embedder, a.cache, a.cfg.Redis.TTL, a.logger,
			embedding.WithCacheObserver(a.collector.CacheObserver("query_embedding")))
	}

	var err error
	a.retriever, err = rag.NewChunkRetriever(a.store, queryEmbedder, a.cfg.Retrieval, a.logger,
		rag.WithObserver(a.collector))
	if err != nil {
		return fmt.Errorf("init retriever: %w", err)
	}

	a.feed = rag.NewFeed(a.cfg.Diagnostics.FeedBuffer)
	a.grounding = rag.NewGroundingLogger(a.logStore, a.logger,
		rag.WithFeed(a.feed), rag.WithLogObserver(a.collector))

	completion := openaicompat.New(openaicompat.Config{
		ProviderName: a.cfg.LLM.Provider,
		APIKey:       a.cfg.LLM.APIKey,
		BaseURL:      a.cfg.LLM.BaseURL,
		DefaultModel: a.cfg.LLM.Model,
		Timeout:      a.cfg.LLM.Timeout,
	}, a.logger)
	llmMetrics, err := observability.NewMetrics()
	if err != nil {
		return fmt.Errorf("init llm metrics: %w", err)
	}
	provider := observability.Instrument(completion, llmMetrics, a.collector)

	a.chat, err = chat.NewOrchestrator(chat.Dependencies{
		Retriever: a.retriever,
		Provider:  provider,
		Grounding: a.grounding,
	}, a.cfg.Chat, a.cfg.LLM, a.logger)
	if err != nil {
		return fmt.Errorf("init chat orchestrator: %w", err)
	}
	return nil
}

func newEmbedder(cfg config.EmbeddingConfig, logger *zap.Logger) embedding.Provider {
	return embedding.NewOpenAIProvider(embedding.OpenAIConfig{
		APIKey:     cfg.APIKey,
		BaseURL:    cfg.BaseURL,
		Model:      cfg.Model,
		Dimensions: cfg.Dimensions,
		MaxBatch:   cfg.BatchSize,
		Timeout:    cfg.Timeout,
	}, logger)
}

func (a *App) buildHealth() {
	a.health = handlers.NewHealthHandler(a.logger, handlers.VersionInfo{
		Version:   Version,
		BuildTime: BuildTime,
		GitCommit: GitCommit,
	})
	a.health.RegisterCheck(handlers.NewCheck("database", a.pool.Ping))
	if a.cache != nil {
		a.health.RegisterCheck(handlers.NewCheck("redis", a.cache.Ping))
	}
	if a.mongo != nil {
		a.health.RegisterCheck(handlers.NewCheck("mongo", a.mongo.Ping))
	}
}

// migrateUp serve --migrate 时在启动前执行迁移，共享连接不会被关闭
func (a *App) migrateUp(ctx context.Context) error {
	dbType, err := migration.ParseDatabaseType(a.cfg.Database.Driver)
	if err != nil {
		return err
	}
	sqlDB, err := a.db.DB()
	if err != nil {
		return err
	}
	m, err := migration.NewMigratorWithDB(dbType, sqlDB)
	if err != nil {
		return err
	}
	defer m.Close()
	return m.Up(ctx)
}

// =============================================================================
// 🌐 路由
// =============================================================================

func (a *App) routes(ctx context.Context) http.Handler {
	chatHandler := handlers.NewChatHandler(a.chat, a.retriever, a.logger)
	anchorHandler := handlers.NewAnchorHandler(a.store, a.logger)
	diagHandler := handlers.NewDiagnosticsHandler(a.logStore, a.logger,
		handlers.WithDrift(rag.NewDriftAnalyzer(a.store, a.cfg.Diagnostics.DriftThreshold), a.cfg.Diagnostics.DriftThreshold),
		handlers.WithFeed(a.feed, a.cfg.Server.CORSAllowedOrigins),
	)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", a.health.HandleHealth)
	mux.HandleFunc("GET /healthz", a.health.HandleHealth)
	mux.HandleFunc("GET /ready", a.health.HandleReady)
	mux.HandleFunc("GET /version", a.health.HandleVersion)

	mux.HandleFunc("POST /api/v1/assistants/{id}/chat", chatHandler.HandleChat)
	mux.HandleFunc("POST /api/v1/assistants/{id}/retrieve", chatHandler.HandleRetrieve)

	mux.HandleFunc("GET /api/v1/anchors", anchorHandler.HandleList)
	mux.HandleFunc("GET /api/v1/anchors/{slug}", anchorHandler.HandleGet)
	mux.HandleFunc("PUT /api/v1/anchors/{slug}", anchorHandler.HandleUpsert)
	mux.HandleFunc("POST /api/v1/anchors/{slug}/stage", anchorHandler.HandleAdvanceStage)

	mux.HandleFunc("GET /api/v1/diagnostics/grounding-logs", diagHandler.HandleListLogs)
	mux.HandleFunc("GET /api/v1/diagnostics/stream", diagHandler.HandleStream)
	mux.HandleFunc("GET /api/v1/diagnostics/grounding-logs/{id}", diagHandler.HandleGetLog)
	mux.HandleFunc("GET /api/v1/diagnostics/drift", diagHandler.HandleDrift)

	sc := a.cfg.Server
	return Chain(mux,
		Recovery(a.logger),
		RequestID(),
		OTelTracing(),
		SecurityHeaders(),
		MetricsMiddleware(a.collector),
		RequestLogger(a.logger),
		CORS(sc.CORSAllowedOrigins),
		RateLimiter(ctx, sc.RateLimitRPS, sc.RateLimitBurst),
		Authenticate(sc.APIKeys, sc.JWT, a.logger),
	)
}

func (a *App) metricsHandler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", promhttp.HandlerFor(a.registry, promhttp.HandlerOpts{Registry: a.registry}))
	return mux
}

// =============================================================================
// 🚀 运行与关闭
// =============================================================================

// Run 阻塞直至 ctx 取消或服务器失败
func (a *App) Run(ctx context.Context) error {
	if a.configPath != "" {
		if err := a.startWatcher(ctx); err != nil {
			a.logger.Warn("config hot reload disabled", zap.Error(err))
		}
	}

	servers := []*server.Server{server.New(a.routes(ctx), server.FromServerConfig(a.cfg.Server), a.logger)}
	if mcfg, ok := server.MetricsConfig(a.cfg.Server); ok {
		servers = append(servers, server.New(a.metricsHandler(), mcfg, a.logger))
	}

	a.logger.Info("groundwork serving",
		zap.Int("http_port", a.cfg.Server.HTTPPort),
		zap.Int("metrics_port", a.cfg.Server.MetricsPort),
		zap.Bool("hot_reload", a.watcher != nil),
	)
	return server.Run(ctx, servers...)
}

// startWatcher 检索参数热更新；其他字段变更需要重启
func (a *App) startWatcher(ctx context.Context) error {
	w, err := config.NewWatcher(config.NewLoader().WithConfigPath(a.configPath), config.WithWatcherLogger(a.logger))
	if err != nil {
		return err
	}
	w.OnReload(func(next *config.Config) {
		if err := a.retriever.UpdateConfig(next.Retrieval); err != nil {
			a.logger.Warn("rejected retrieval config reload", zap.Error(err))
			return
		}
		a.logger.Info("retrieval config reloaded",
			zap.Float64("glossary_min_score", next.Retrieval.GlossaryMinScore),
			zap.Float64("boost_increment", next.Retrieval.BoostIncrement),
			zap.Int("top_n", next.Retrieval.TopN),
		)
	})
	if err := w.Start(ctx); err != nil {
		return err
	}
	a.watcher = w
	a.closers = append(a.closers, func(context.Context) error { return w.Stop() })
	return nil
}

// Close 逆序释放资源
func (a *App) Close(ctx context.Context) error {
	if a == nil {
		return nil
	}
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
