// =============================================================================
// 📦 Groundwork 配置加载器
// =============================================================================
// 统一配置加载，支持 .env + YAML 文件 + 环境变量覆盖
//
// 使用方法:
//
//	cfg, err := config.NewLoader().
//	    WithDotEnv(".env").
//	    WithConfigPath("config.yaml").
//	    WithEnvPrefix("GROUNDWORK").
//	    Load()
//
// 配置优先级: 默认值 → YAML 文件 → 环境变量（.env 只补充未设置的环境变量）
// =============================================================================
package config

import (
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// DefaultEnvPrefix 环境变量默认前缀
const DefaultEnvPrefix = "GROUNDWORK"

// =============================================================================
// 🎯 核心配置结构
// =============================================================================

// Config 是 Groundwork 的完整配置结构
type Config struct {
	// Server 服务器配置
	Server ServerConfig `yaml:"server" env:"SERVER"`

	// Database 关系型存储配置（chunks / anchors / grounding logs）
	Database DatabaseConfig `yaml:"database" env:"DATABASE"`

	// Redis 查询向量缓存
	Redis RedisConfig `yaml:"redis" env:"REDIS"`

	// Mongo 诊断日志备用存储
	Mongo MongoConfig `yaml:"mongo" env:"MONGO"`

	// LLM 对话模型配置
	LLM LLMConfig `yaml:"llm" env:"LLM"`

	// Embedding 向量模型配置
	Embedding EmbeddingConfig `yaml:"embedding" env:"EMBEDDING"`

	// Retrieval 检索启发式参数（支持热更新）
	Retrieval RetrievalConfig `yaml:"retrieval" env:"RETRIEVAL"`

	// Chat Prompt 组装配置
	Chat ChatConfig `yaml:"chat" env:"CHAT"`

	// Diagnostics 诊断日志配置
	Diagnostics DiagnosticsConfig `yaml:"diagnostics" env:"DIAGNOSTICS"`

	// Log 日志配置
	Log LogConfig `yaml:"log" env:"LOG"`

	// Telemetry 遥测配置
	Telemetry TelemetryConfig `yaml:"telemetry" env:"TELEMETRY"`
}

// ServerConfig 服务器配置
type ServerConfig struct {
	// HTTP 端口
	HTTPPort int `yaml:"http_port" env:"HTTP_PORT"`
	// Metrics 端口
	MetricsPort int `yaml:"metrics_port" env:"METRICS_PORT"`
	// 读取超时
	ReadTimeout time.Duration `yaml:"read_timeout" env:"READ_TIMEOUT"`
	// 写入超时
	WriteTimeout time.Duration `yaml:"write_timeout" env:"WRITE_TIMEOUT"`
	// 优雅关闭超时
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT"`
	// API Keys，空表示不校验
	APIKeys []string `yaml:"api_keys" env:"API_KEYS"`
	// 允许的 CORS 来源
	CORSAllowedOrigins []string `yaml:"cors_allowed_origins" env:"CORS_ALLOWED_ORIGINS"`
	// 每 IP 限流
	RateLimitRPS   float64 `yaml:"rate_limit_rps" env:"RATE_LIMIT_RPS"`
	RateLimitBurst int     `yaml:"rate_limit_burst" env:"RATE_LIMIT_BURST"`
	// JWT 鉴权（可选）
	JWT JWTConfig `yaml:"jwt" env:"JWT"`
}

// JWTConfig JWT 鉴权配置
type JWTConfig struct {
	// HMAC 密钥，为空时不启用
	Secret   string `yaml:"secret" env:"SECRET"`
	Issuer   string `yaml:"issuer" env:"ISSUER"`
	Audience string `yaml:"audience" env:"AUDIENCE"`
}

// Enabled reports whether JWT auth is configured.
func (j JWTConfig) Enabled() bool {
	return j.Secret != ""
}

// RedisConfig Redis 配置
type RedisConfig struct {
	// 是否启用查询向量缓存
	Enabled bool `yaml:"enabled" env:"ENABLED"`
	// 地址
	Addr string `yaml:"addr" env:"ADDR"`
	// 密码
	Password string `yaml:"password" env:"PASSWORD"`
	// 数据库编号
	DB int `yaml:"db" env:"DB"`
	// 连接池大小
	PoolSize int `yaml:"pool_size" env:"POOL_SIZE"`
	// 最小空闲连接
	MinIdleConns int `yaml:"min_idle_conns" env:"MIN_IDLE_CONNS"`
	// 使用 TLS 连接（托管 Redis 通常要求）
	TLS bool `yaml:"tls" env:"TLS"`
	// 缓存 TTL
	TTL time.Duration `yaml:"ttl" env:"TTL"`
}

// DatabaseConfig 数据库配置
type DatabaseConfig struct {
	// 驱动类型: postgres, mysql, sqlite
	Driver string `yaml:"driver" env:"DRIVER"`
	// 主机
	Host string `yaml:"host" env:"HOST"`
	// 端口
	Port int `yaml:"port" env:"PORT"`
	// 用户名
	User string `yaml:"user" env:"USER"`
	// 密码
	Password string `yaml:"password" env:"PASSWORD"`
	// 数据库名（sqlite 为文件路径）
	Name string `yaml:"name" env:"NAME"`
	// SSL 模式
	SSLMode string `yaml:"ssl_mode" env:"SSL_MODE"`
	// 最大连接数
	MaxOpenConns int `yaml:"max_open_conns" env:"MAX_OPEN_CONNS"`
	// 最大空闲连接
	MaxIdleConns int `yaml:"max_idle_conns" env:"MAX_IDLE_CONNS"`
	// 连接最大生命周期
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" env:"CONN_MAX_LIFETIME"`
}

// MongoConfig MongoDB 配置（diagnostics.sink = mongo 时使用）
type MongoConfig struct {
	URI      string        `yaml:"uri" env:"URI"`
	Database string        `yaml:"database" env:"DATABASE"`
	Timeout  time.Duration `yaml:"timeout" env:"TIMEOUT"`
}

// LLMConfig LLM 配置（OpenAI 兼容接口）
type LLMConfig struct {
	// Provider 名称，仅用于日志与指标
	Provider string `yaml:"provider" env:"PROVIDER"`
	// API Key
	APIKey string `yaml:"api_key" env:"API_KEY"`
	// 基础 URL
	BaseURL string `yaml:"base_url" env:"BASE_URL"`
	// 模型
	Model string `yaml:"model" env:"MODEL"`
	// 温度参数
	Temperature float64 `yaml:"temperature" env:"TEMPERATURE"`
	// 最大输出 Token
	MaxTokens int `yaml:"max_tokens" env:"MAX_TOKENS"`
	// 请求超时
	Timeout time.Duration `yaml:"timeout" env:"TIMEOUT"`
}

// EmbeddingConfig 向量模型配置
type EmbeddingConfig struct {
	APIKey     string        `yaml:"api_key" env:"API_KEY"`
	BaseURL    string        `yaml:"base_url" env:"BASE_URL"`
	Model      string        `yaml:"model" env:"MODEL"`
	Dimensions int           `yaml:"dimensions" env:"DIMENSIONS"`
	Timeout    time.Duration `yaml:"timeout" env:"TIMEOUT"`
	// 批量修复时的并发数
	RepairConcurrency int `yaml:"repair_concurrency" env:"REPAIR_CONCURRENCY"`
	// 单批最大文本数
	BatchSize int `yaml:"batch_size" env:"BATCH_SIZE"`
}

// RetrievalConfig 检索启发式参数，集中管理
type RetrievalConfig struct {
	// 术语块最低 glossary_score，低于该值的术语块不进入主结果
	GlossaryMinScore float64 `yaml:"glossary_min_score" env:"GLOSSARY_MIN_SCORE" json:"glossary_min_score"`
	// 锚点命中时的加分
	BoostIncrement float64 `yaml:"boost_increment" env:"BOOST_INCREMENT" json:"boost_increment"`
	// 返回数量
	TopN int `yaml:"top_n" env:"TOP_N" json:"top_n"`
	// 原始相似度须高于该值才算候选
	MinSimilarity float64 `yaml:"min_similarity" env:"MIN_SIMILARITY" json:"min_similarity"`
}

// ChatConfig Prompt 组装配置
type ChatConfig struct {
	// 默认系统提示词（助手未配置时使用）
	DefaultSystemPrompt string `yaml:"default_system_prompt" env:"DEFAULT_SYSTEM_PROMPT"`
	// 检索上下文 Token 预算
	ContextTokenBudget int `yaml:"context_token_budget" env:"CONTEXT_TOKEN_BUDGET"`
	// 对话超时
	Timeout time.Duration `yaml:"timeout" env:"TIMEOUT"`
}

// DiagnosticsConfig 诊断日志配置
type DiagnosticsConfig struct {
	// 存储：database 或 mongo
	Sink string `yaml:"sink" env:"SINK"`
	// 漂移阈值，超过即标记为 drifting
	DriftThreshold float64 `yaml:"drift_threshold" env:"DRIFT_THRESHOLD"`
	// 实时订阅缓冲区大小
	FeedBuffer int `yaml:"feed_buffer" env:"FEED_BUFFER"`
}

// LogConfig 日志配置
type LogConfig struct {
	// 日志级别: debug, info, warn, error
	Level string `yaml:"level" env:"LEVEL"`
	// 输出格式: json, console
	Format string `yaml:"format" env:"FORMAT"`
	// 输出路径
	OutputPaths []string `yaml:"output_paths" env:"OUTPUT_PATHS"`
	// 是否启用调用者信息
	EnableCaller bool `yaml:"enable_caller" env:"ENABLE_CALLER"`
	// 是否启用堆栈跟踪
	EnableStacktrace bool `yaml:"enable_stacktrace" env:"ENABLE_STACKTRACE"`
}

// TelemetryConfig 遥测配置
type TelemetryConfig struct {
	// 是否启用
	Enabled bool `yaml:"enabled" env:"ENABLED"`
	// OTLP 端点
	OTLPEndpoint string `yaml:"otlp_endpoint" env:"OTLP_ENDPOINT"`
	// 服务名称
	ServiceName string `yaml:"service_name" env:"SERVICE_NAME"`
	// 采样率
	SampleRate float64 `yaml:"sample_rate" env:"SAMPLE_RATE"`
}

// =============================================================================
// 🔧 配置加载器
// =============================================================================

// Loader 配置加载器（Builder 模式）
type Loader struct {
	configPath string
	dotEnvPath string
	envPrefix  string
	validators []func(*Config) error
}

// NewLoader 创建新的配置加载器
func NewLoader() *Loader {
	return &Loader{
		envPrefix:  DefaultEnvPrefix,
		validators: make([]func(*Config) error, 0),
	}
}

// WithConfigPath 设置配置文件路径
func (l *Loader) WithConfigPath(path string) *Loader {
	l.configPath = path
	return l
}

// WithDotEnv 设置 .env 文件路径，文件不存在时忽略
func (l *Loader) WithDotEnv(path string) *Loader {
	l.dotEnvPath = path
	return l
}

// WithEnvPrefix 设置环境变量前缀
func (l *Loader) WithEnvPrefix(prefix string) *Loader {
	l.envPrefix = prefix
	return l
}

// WithValidator 添加配置验证器
func (l *Loader) WithValidator(v func(*Config) error) *Loader {
	l.validators = append(l.validators, v)
	return l
}

// ConfigPath 返回配置文件路径
func (l *Loader) ConfigPath() string {
	return l.configPath
}

// Load 加载配置
func (l *Loader) Load() (*Config, error) {
	cfg := DefaultConfig()

	if l.dotEnvPath != "" {
		if err := loadDotEnv(l.dotEnvPath); err != nil {
			return nil, fmt.Errorf("failed to load dotenv file: %w", err)
		}
	}

	if l.configPath != "" {
		if err := l.loadFromFile(cfg); err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
	}

	if err := l.loadFromEnv(cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from env: %w", err)
	}

	for _, v := range l.validators {
		if err := v(cfg); err != nil {
			return nil, fmt.Errorf("config validation failed: %w", err)
		}
	}

	return cfg, nil
}

// loadDotEnv 不覆盖已存在的环境变量
func loadDotEnv(path string) error {
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	return godotenv.Load(path)
}

// loadFromFile 从 YAML 文件加载配置
func (l *Loader) loadFromFile(cfg *Config) error {
	data, err := os.ReadFile(l.configPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	return nil
}

// loadFromEnv 从环境变量加载配置
func (l *Loader) loadFromEnv(cfg *Config) error {
	return setFieldsFromEnv(reflect.ValueOf(cfg).Elem(), l.envPrefix)
}

// setFieldsFromEnv 递归设置结构体字段
func setFieldsFromEnv(v reflect.Value, prefix string) error {
	t := v.Type()

	for i := 0; i < v.NumField(); i++ {
		field := v.Field(i)
		fieldType := t.Field(i)

		envTag := fieldType.Tag.Get("env")
		if envTag == "" || envTag == "-" {
			continue
		}

		envKey := prefix + "_" + envTag

		if field.Kind() == reflect.Struct {
			if err := setFieldsFromEnv(field, envKey); err != nil {
				return err
			}
			continue
		}

		envValue, ok := os.LookupEnv(envKey)
		if !ok || envValue == "" {
			continue
		}

		if err := setFieldValue(field, envValue); err != nil {
			return fmt.Errorf("failed to set %s: %w", envKey, err)
		}
	}

	return nil
}

var durationType = reflect.TypeOf(time.Duration(0))

// setFieldValue 设置字段值
func setFieldValue(field reflect.Value, value string) error {
	if !field.CanSet() {
		return nil
	}

	switch field.Kind() {
	case reflect.String:
		field.SetString(value)

	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		if field.Type() == durationType {
			d, err := time.ParseDuration(value)
			if err != nil {
				return err
			}
			field.SetInt(int64(d))
		} else {
			i, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return err
			}
			field.SetInt(i)
		}

	case reflect.Float32, reflect.Float64:
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return err
		}
		field.SetFloat(f)

	case reflect.Bool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return err
		}
		field.SetBool(b)

	case reflect.Slice:
		if field.Type().Elem().Kind() == reflect.String {
			parts := strings.Split(value, ",")
			out := make([]string, 0, len(parts))
			for _, p := range parts {
				if p = strings.TrimSpace(p); p != "" {
					out = append(out, p)
				}
			}
			field.Set(reflect.ValueOf(out))
		}
	}

	return nil
}

// =============================================================================
// 🔍 校验与辅助函数
// =============================================================================

// Validate 验证配置
func (c *Config) Validate() error {
	var errs []string

	if c.Server.HTTPPort <= 0 || c.Server.HTTPPort > 65535 {
		errs = append(errs, "invalid HTTP port")
	}
	if c.Server.MetricsPort < 0 || c.Server.MetricsPort > 65535 {
		errs = append(errs, "invalid metrics port")
	}

	switch c.Database.Driver {
	case "postgres", "mysql", "sqlite":
	default:
		errs = append(errs, fmt.Sprintf("unsupported database driver %q", c.Database.Driver))
	}

	if err := c.Retrieval.Validate(); err != nil {
		errs = append(errs, err.Error())
	}

	switch c.Diagnostics.Sink {
	case "database":
	case "mongo":
		if c.Mongo.URI == "" {
			errs = append(errs, "mongo.uri is required when diagnostics.sink is mongo")
		}
	default:
		errs = append(errs, fmt.Sprintf("unsupported diagnostics sink %q", c.Diagnostics.Sink))
	}

	if c.Diagnostics.DriftThreshold < 0 || c.Diagnostics.DriftThreshold > 1 {
		errs = append(errs, "drift_threshold must be between 0 and 1")
	}
	if c.LLM.Temperature < 0 || c.LLM.Temperature > 2 {
		errs = append(errs, "temperature must be between 0 and 2")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// Validate 检查检索参数范围
func (r RetrievalConfig) Validate() error {
	var errs []string
	if r.GlossaryMinScore < 0 || r.GlossaryMinScore > 1 {
		errs = append(errs, "glossary_min_score must be between 0 and 1")
	}
	if r.BoostIncrement < 0 || r.BoostIncrement > 1 {
		errs = append(errs, "boost_increment must be between 0 and 1")
	}
	if r.TopN < 1 {
		errs = append(errs, "top_n must be at least 1")
	}
	if r.MinSimilarity < 0 || r.MinSimilarity >= 1 {
		errs = append(errs, "min_similarity must be in [0, 1)")
	}
	if len(errs) > 0 {
		return fmt.Errorf("retrieval: %s", strings.Join(errs, "; "))
	}
	return nil
}

// DSN 返回数据库连接字符串
func (d *DatabaseConfig) DSN() string {
	switch d.Driver {
	case "postgres":
		return fmt.Sprintf(
			"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
			d.Host, d.Port, d.User, d.Password, d.Name, d.SSLMode,
		)
	case "mysql":
		return fmt.Sprintf(
			"%s:%s@tcp(%s:%d)/%s?parseTime=true",
			d.User, d.Password, d.Host, d.Port, d.Name,
		)
	case "sqlite":
		return d.Name
	default:
		return ""
	}
}
