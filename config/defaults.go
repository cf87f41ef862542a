// =============================================================================
// 📦 Groundwork 默认配置
// =============================================================================
package config

import "time"

// DefaultConfig 返回默认配置
func DefaultConfig() *Config {
	return &Config{
		Server:      DefaultServerConfig(),
		Database:    DefaultDatabaseConfig(),
		Redis:       DefaultRedisConfig(),
		Mongo:       DefaultMongoConfig(),
		LLM:         DefaultLLMConfig(),
		Embedding:   DefaultEmbeddingConfig(),
		Retrieval:   DefaultRetrievalConfig(),
		Chat:        DefaultChatConfig(),
		Diagnostics: DefaultDiagnosticsConfig(),
		Log:         DefaultLogConfig(),
		Telemetry:   DefaultTelemetryConfig(),
	}
}

// DefaultServerConfig 返回默认服务器配置
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		HTTPPort:        8080,
		MetricsPort:     9091,
		ReadTimeout:     30 * time.Second,
		WriteTimeout:    60 * time.Second,
		ShutdownTimeout: 15 * time.Second,
		RateLimitRPS:    50,
		RateLimitBurst:  100,
	}
}

// DefaultRedisConfig 返回默认 Redis 配置
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		Enabled:      false,
		Addr:         "localhost:6379",
		PoolSize:     10,
		MinIdleConns: 2,
		TTL:          24 * time.Hour,
	}
}

// DefaultDatabaseConfig 返回默认数据库配置
func DefaultDatabaseConfig() DatabaseConfig {
	return DatabaseConfig{
		Driver:          "postgres",
		Host:            "localhost",
		Port:            5432,
		User:            "groundwork",
		Name:            "groundwork",
		SSLMode:         "disable",
		MaxOpenConns:    25,
		MaxIdleConns:    5,
		ConnMaxLifetime: 5 * time.Minute,
	}
}

// DefaultMongoConfig 返回默认 Mongo 配置
func DefaultMongoConfig() MongoConfig {
	return MongoConfig{
		Database: "groundwork",
		Timeout:  10 * time.Second,
	}
}

// DefaultLLMConfig 返回默认 LLM 配置
func DefaultLLMConfig() LLMConfig {
	return LLMConfig{
		Provider:    "openai",
		BaseURL:     "https://api.openai.com",
		Model:       "gpt-4o-mini",
		Temperature: 0.3,
		MaxTokens:   1024,
		Timeout:     2 * time.Minute,
	}
}

// DefaultEmbeddingConfig 返回默认向量模型配置
func DefaultEmbeddingConfig() EmbeddingConfig {
	return EmbeddingConfig{
		BaseURL:           "https://api.openai.com",
		Model:             "text-embedding-3-small",
		Dimensions:        1536,
		Timeout:           30 * time.Second,
		RepairConcurrency: 4,
		BatchSize:         64,
	}
}

// DefaultRetrievalConfig 返回默认检索参数
func DefaultRetrievalConfig() RetrievalConfig {
	return RetrievalConfig{
		GlossaryMinScore: 0.5,
		BoostIncrement:   0.15,
		TopN:             5,
		MinSimilarity:    0.0,
	}
}

// DefaultChatConfig 返回默认 Prompt 组装配置
func DefaultChatConfig() ChatConfig {
	return ChatConfig{
		DefaultSystemPrompt: "You are a helpful assistant. Answer using the provided context when it is relevant.",
		ContextTokenBudget:  3000,
		Timeout:             90 * time.Second,
	}
}

// DefaultDiagnosticsConfig 返回默认诊断配置
func DefaultDiagnosticsConfig() DiagnosticsConfig {
	return DiagnosticsConfig{
		Sink:           "database",
		DriftThreshold: 0.5,
		FeedBuffer:     32,
	}
}

// DefaultLogConfig 返回默认日志配置
func DefaultLogConfig() LogConfig {
	return LogConfig{
		Level:            "info",
		Format:           "json",
		OutputPaths:      []string{"stdout"},
		EnableCaller:     true,
		EnableStacktrace: false,
	}
}

// DefaultTelemetryConfig 返回默认遥测配置
func DefaultTelemetryConfig() TelemetryConfig {
	return TelemetryConfig{
		Enabled:      false,
		OTLPEndpoint: "localhost:4317",
		ServiceName:  "groundwork",
		SampleRate:   0.1,
	}
}
