// =============================================================================
// Groundwork 主入口
// =============================================================================
// 检索增强对话服务：术语锚点、回退检索、诊断日志
//
// 使用方法:
//
//	groundwork serve --config config.yaml [--migrate]   # 启动服务
//	groundwork migrate up|down|status|version|goto N    # 数据库迁移
//	groundwork repair-embeddings [--assistant a1]       # 修复向量状态
//	groundwork glossary-drift                           # 术语漂移报告
//	groundwork anchors seed --file glossary.yaml        # 导入术语锚点
//	groundwork anchors advance <slug> <stage>           # 推进掌握阶段
//	groundwork health --addr http://localhost:8080      # 健康检查
//	groundwork version                                  # 版本信息
// =============================================================================

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/BaSui01/groundwork/config"
	"github.com/BaSui01/groundwork/internal/migration"
)

// =============================================================================
// 📦 版本信息（构建时注入）
// =============================================================================

var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

// errUsage 参数错误，已打印用法
var errUsage = errors.New("usage error")

// =============================================================================
// 🎯 主函数
// =============================================================================

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := run(ctx, os.Args[1:], os.Stdout)
	stop()

	switch {
	case err == nil:
	case errors.Is(err, errUsage):
		os.Exit(2)
	default:
		fmt.Fprintf(os.Stderr, "groundwork: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, out io.Writer) error {
	if len(args) < 1 {
		printUsage(out)
		return errUsage
	}

	switch args[0] {
	case "serve":
		return runServe(ctx, args[1:])
	case "migrate":
		return runMigrate(ctx, args[1:], out)
	case "repair-embeddings":
		return runRepair(ctx, args[1:], out)
	case "glossary-drift":
		return runDrift(ctx, args[1:], out)
	case "anchors":
		return runAnchors(ctx, args[1:], out)
	case "health":
		return runHealthCheck(ctx, args[1:], out)
	case "version":
		printVersion(out)
		return nil
	case "help", "-h", "--help":
		printUsage(out)
		return nil
	default:
		fmt.Fprintf(out, "Unknown command: %s\n\n", args[0])
		printUsage(out)
		return errUsage
	}
}

// =============================================================================
// 🖥️ serve 命令
// =============================================================================

func runServe(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to config file")
	dotEnv := fs.String("env-file", "", "Optional .env file")
	migrate := fs.Bool("migrate", false, "Apply pending migrations before serving")
	if err := fs.Parse(args); err != nil {
		return errUsage
	}

	cfg, err := loadConfig(*configPath, *dotEnv)
	if err != nil {
		return err
	}

	logger := initLogger(cfg.Log)
	defer func() { _ = logger.Sync() }()

	logger.Info("Starting Groundwork",
		zap.String("version", Version),
		zap.String("build_time", BuildTime),
		zap.String("git_commit", GitCommit),
	)

	app, err := newApp(ctx, cfg, *configPath, logger)
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := app.Close(closeCtx); err != nil {
			logger.Warn("error while releasing resources", zap.Error(err))
		}
	}()

	if *migrate {
		if err := app.migrateUp(ctx); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
		logger.Info("migrations applied")
	}

	if err := app.Run(ctx); err != nil {
		return err
	}
	logger.Info("Groundwork stopped")
	return nil
}

// =============================================================================
// 🗄️ migrate 命令
// =============================================================================

func runMigrate(ctx context.Context, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("migrate", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to config file")
	if err := fs.Parse(args); err != nil {
		return errUsage
	}
	if fs.NArg() < 1 {
		printMigrateUsage(out)
		return errUsage
	}

	cfg, err := loadConfig(*configPath, "")
	if err != nil {
		return err
	}
	m, err := migration.NewMigratorFromDatabaseConfig(cfg.Database)
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}
	defer m.Close()

	cli := migration.NewCLI(m)
	cli.SetOutput(out)
	err = cli.Run(ctx, fs.Arg(0), fs.Args()[1:])
	if errors.Is(err, migration.ErrUnknownCommand) {
		printMigrateUsage(out)
		return errUsage
	}
	return err
}

// =============================================================================
// 🏥 健康检查命令
// =============================================================================

func runHealthCheck(ctx context.Context, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("health", flag.ContinueOnError)
	addr := fs.String("addr", "http://localhost:8080", "Server address")
	if err := fs.Parse(args); err != nil {
		return errUsage
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, *addr+"/ready", nil)
	if err != nil {
		return err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check failed: status %d", resp.StatusCode)
	}
	fmt.Fprintln(out, "OK")
	return nil
}

// =============================================================================
// 📋 版本和帮助
// =============================================================================

func printVersion(out io.Writer) {
	fmt.Fprintf(out, "Groundwork %s\n", Version)
	fmt.Fprintf(out, "  Build Time: %s\n", BuildTime)
	fmt.Fprintf(out, "  Git Commit: %s\n", GitCommit)
}

func printUsage(out io.Writer) {
	fmt.Fprintln(out, `Groundwork - glossary-grounded retrieval service

Usage:
  groundwork <command> [options]

Commands:
  serve               Start the HTTP API and metrics servers
  migrate             Database migration commands
  repair-embeddings   Reconcile chunk embedding status with stored vectors
  glossary-drift      Report anchors whose tagged chunks no longer mention them
  anchors             Seed or advance glossary anchors
  health              Check a running server
  version             Show version information
  help                Show this help message

Options for 'serve':
  --config <path>     Path to configuration file (YAML)
  --env-file <path>   Load a .env file before reading the environment
  --migrate           Apply pending migrations before serving

Examples:
  groundwork serve --config /etc/groundwork/config.yaml
  groundwork migrate --config config.yaml up
  groundwork repair-embeddings --config config.yaml --reembed --dry-run
  groundwork anchors seed --config config.yaml --file glossary.yaml
  groundwork anchors advance --config config.yaml zk-rollup acquired
  groundwork health --addr http://localhost:8080`)
}

func printMigrateUsage(out io.Writer) {
	fmt.Fprintln(out, `Database Migration Commands

Usage:
  groundwork migrate [--config <path>] <subcommand> [args]

Subcommands:
  up          Apply all pending migrations
  down        Rollback the last migration
  down-all    Rollback all migrations
  reset       Rollback all, then apply all
  steps <n>   Apply (n>0) or rollback (n<0) n migrations
  goto <v>    Migrate to a specific version
  force <v>   Force set migration version (dirty state recovery)
  version     Show current migration version
  status      Show applied/pending migrations
  info        Show migration summary`)
}

// =============================================================================
// 🔧 配置与日志
// =============================================================================

func loadConfig(path, dotEnv string) (*config.Config, error) {
	loader := config.NewLoader()
	if path != "" {
		loader = loader.WithConfigPath(path)
	}
	if dotEnv != "" {
		loader = loader.WithDotEnv(dotEnv)
	}
	cfg, err := loader.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func initLogger(cfg config.LogConfig) *zap.Logger {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		level = zapcore.InfoLevel
	}

	var encoderConfig zapcore.EncoderConfig
	encoding := "json"
	if cfg.Format == "console" {
		encoding = "console"
		encoderConfig = zap.NewDevelopmentEncoderConfig()
		encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		encoderConfig = zap.NewProductionEncoderConfig()
		encoderConfig.TimeKey = "timestamp"
		encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}

	outputs := cfg.OutputPaths
	if len(outputs) == 0 {
		outputs = []string{"stdout"}
	}

	zapConfig := zap.Config{
		Level:             zap.NewAtomicLevelAt(level),
		Development:       encoding == "console",
		Encoding:          encoding,
		EncoderConfig:     encoderConfig,
		OutputPaths:       outputs,
		ErrorOutputPaths:  []string{"stderr"},
		DisableCaller:     !cfg.EnableCaller,
		DisableStacktrace: !cfg.EnableStacktrace,
	}

	logger, err := zapConfig.Build()
	if err != nil {
		logger, _ = zap.NewProduction()
	}
	return logger
}
