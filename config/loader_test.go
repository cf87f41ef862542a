// 配置加载器与默认配置测试。
package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- 默认配置测试 ---

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, 8080, cfg.Server.HTTPPort)
	assert.Equal(t, 9091, cfg.Server.MetricsPort)
	assert.Equal(t, 30*time.Second, cfg.Server.ReadTimeout)

	// 检索参数
	assert.Equal(t, 0.5, cfg.Retrieval.GlossaryMinScore)
	assert.Equal(t, 0.15, cfg.Retrieval.BoostIncrement)
	assert.Equal(t, 5, cfg.Retrieval.TopN)
	assert.Equal(t, 0.0, cfg.Retrieval.MinSimilarity)

	assert.Equal(t, "postgres", cfg.Database.Driver)
	assert.Equal(t, 5432, cfg.Database.Port)
	assert.False(t, cfg.Redis.Enabled)
	assert.Equal(t, "database", cfg.Diagnostics.Sink)

	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.NoError(t, cfg.Validate())
}

// --- Loader 测试 ---

func TestLoader_LoadDefaults(t *testing.T) {
	cfg, err := NewLoader().Load()
	require.NoError(t, err)
	require.NotNil(t, cfg)

	assert.Equal(t, 8080, cfg.Server.HTTPPort)
	assert.Equal(t, 5, cfg.Retrieval.TopN)
}

func TestLoader_LoadFromYAML(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	yamlContent := `
server:
  http_port: 8888
  read_timeout: 60s
  api_keys: ["k1", "k2"]

retrieval:
  glossary_min_score: 0.7
  boost_increment: 0.2
  top_n: 3

database:
  driver: sqlite
  name: /tmp/groundwork.db

redis:
  enabled: true
  addr: "redis.example.com:6379"
  ttl: 1h

log:
  level: "debug"
  format: "console"
`
	require.NoError(t, os.WriteFile(configPath, []byte(yamlContent), 0644))

	cfg, err := NewLoader().
		WithConfigPath(configPath).
		Load()
	require.NoError(t, err)

	assert.Equal(t, 8888, cfg.Server.HTTPPort)
	assert.Equal(t, 60*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, []string{"k1", "k2"}, cfg.Server.APIKeys)

	assert.Equal(t, 0.7, cfg.Retrieval.GlossaryMinScore)
	assert.Equal(t, 0.2, cfg.Retrieval.BoostIncrement)
	assert.Equal(t, 3, cfg.Retrieval.TopN)

	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, "/tmp/groundwork.db", cfg.Database.DSN())

	assert.True(t, cfg.Redis.Enabled)
	assert.Equal(t, time.Hour, cfg.Redis.TTL)

	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "console", cfg.Log.Format)
}

func TestLoader_LoadFromEnv(t *testing.T) {
	t.Setenv("GROUNDWORK_SERVER_HTTP_PORT", "7777")
	t.Setenv("GROUNDWORK_SERVER_CORS_ALLOWED_ORIGINS", "https://a.example, https://b.example")
	t.Setenv("GROUNDWORK_RETRIEVAL_TOP_N", "8")
	t.Setenv("GROUNDWORK_RETRIEVAL_GLOSSARY_MIN_SCORE", "0.35")
	t.Setenv("GROUNDWORK_REDIS_ENABLED", "true")
	t.Setenv("GROUNDWORK_LLM_TIMEOUT", "45s")
	t.Setenv("GROUNDWORK_LOG_LEVEL", "warn")

	cfg, err := NewLoader().Load()
	require.NoError(t, err)

	assert.Equal(t, 7777, cfg.Server.HTTPPort)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.Server.CORSAllowedOrigins)
	assert.Equal(t, 8, cfg.Retrieval.TopN)
	assert.Equal(t, 0.35, cfg.Retrieval.GlossaryMinScore)
	assert.True(t, cfg.Redis.Enabled)
	assert.Equal(t, 45*time.Second, cfg.LLM.Timeout)
	assert.Equal(t, "warn", cfg.Log.Level)
}

func TestLoader_EnvOverridesYAML(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	yamlContent := `
server:
  http_port: 8888
llm:
  model: "yaml-model"
  base_url: "http://yaml"
`
	require.NoError(t, os.WriteFile(configPath, []byte(yamlContent), 0644))

	t.Setenv("GROUNDWORK_SERVER_HTTP_PORT", "9999")
	t.Setenv("GROUNDWORK_LLM_MODEL", "env-model")

	cfg, err := NewLoader().
		WithConfigPath(configPath).
		Load()
	require.NoError(t, err)

	assert.Equal(t, 9999, cfg.Server.HTTPPort)
	assert.Equal(t, "env-model", cfg.LLM.Model)
	// YAML 值应该保留
	assert.Equal(t, "http://yaml", cfg.LLM.BaseURL)
}

func TestLoader_DotEnv(t *testing.T) {
	tmpDir := t.TempDir()
	envPath := filepath.Join(tmpDir, ".env")
	content := "DOTENVTEST_LLM_API_KEY=from-dotenv\nDOTENVTEST_SERVER_HTTP_PORT=7000\n"
	require.NoError(t, os.WriteFile(envPath, []byte(content), 0644))

	// 已存在的环境变量不被 .env 覆盖
	t.Setenv("DOTENVTEST_SERVER_HTTP_PORT", "7100")
	t.Cleanup(func() { os.Unsetenv("DOTENVTEST_LLM_API_KEY") })

	cfg, err := NewLoader().
		WithEnvPrefix("DOTENVTEST").
		WithDotEnv(envPath).
		Load()
	require.NoError(t, err)

	assert.Equal(t, "from-dotenv", cfg.LLM.APIKey)
	assert.Equal(t, 7100, cfg.Server.HTTPPort)
}

func TestLoader_DotEnvMissingFile(t *testing.T) {
	cfg, err := NewLoader().
		WithDotEnv(filepath.Join(t.TempDir(), "missing.env")).
		Load()
	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.Server.HTTPPort)
}

func TestLoader_CustomEnvPrefix(t *testing.T) {
	t.Setenv("MYAPP_SERVER_HTTP_PORT", "6666")
	t.Setenv("MYAPP_EMBEDDING_MODEL", "custom-embedder")

	cfg, err := NewLoader().
		WithEnvPrefix("MYAPP").
		Load()
	require.NoError(t, err)

	assert.Equal(t, 6666, cfg.Server.HTTPPort)
	assert.Equal(t, "custom-embedder", cfg.Embedding.Model)
}

func TestLoader_InvalidEnvValue(t *testing.T) {
	t.Setenv("GROUNDWORK_RETRIEVAL_TOP_N", "many")

	_, err := NewLoader().Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "GROUNDWORK_RETRIEVAL_TOP_N")
}

func TestLoader_WithValidator(t *testing.T) {
	validator := func(cfg *Config) error {
		if cfg.Server.HTTPPort < 1024 {
			return assert.AnError
		}
		return nil
	}

	t.Setenv("GROUNDWORK_SERVER_HTTP_PORT", "80")

	_, err := NewLoader().
		WithValidator(validator).
		Load()
	assert.ErrorIs(t, err, assert.AnError)
}

func TestLoader_NonExistentFile(t *testing.T) {
	cfg, err := NewLoader().
		WithConfigPath("/non/existent/path/config.yaml").
		Load()
	require.NoError(t, err)
	require.NotNil(t, cfg)

	assert.Equal(t, 8080, cfg.Server.HTTPPort)
}

func TestLoader_InvalidYAML(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "invalid.yaml")

	invalidYAML := `
server:
  http_port: [invalid
  this is not valid yaml
`
	require.NoError(t, os.WriteFile(configPath, []byte(invalidYAML), 0644))

	_, err := NewLoader().
		WithConfigPath(configPath).
		Load()
	assert.Error(t, err)
}

// --- Config 方法测试 ---

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr string
	}{
		{
			name:   "valid default config",
			modify: func(c *Config) {},
		},
		{
			name:    "invalid HTTP port (negative)",
			modify:  func(c *Config) { c.Server.HTTPPort = -1 },
			wantErr: "invalid HTTP port",
		},
		{
			name:    "invalid HTTP port (too large)",
			modify:  func(c *Config) { c.Server.HTTPPort = 70000 },
			wantErr: "invalid HTTP port",
		},
		{
			name:    "unsupported driver",
			modify:  func(c *Config) { c.Database.Driver = "oracle" },
			wantErr: "unsupported database driver",
		},
		{
			name:    "glossary min score out of range",
			modify:  func(c *Config) { c.Retrieval.GlossaryMinScore = 1.5 },
			wantErr: "glossary_min_score",
		},
		{
			name:    "negative boost",
			modify:  func(c *Config) { c.Retrieval.BoostIncrement = -0.1 },
			wantErr: "boost_increment",
		},
		{
			name:    "zero top_n",
			modify:  func(c *Config) { c.Retrieval.TopN = 0 },
			wantErr: "top_n",
		},
		{
			name:    "mongo sink without uri",
			modify:  func(c *Config) { c.Diagnostics.Sink = "mongo" },
			wantErr: "mongo.uri",
		},
		{
			name: "mongo sink with uri",
			modify: func(c *Config) {
				c.Diagnostics.Sink = "mongo"
				c.Mongo.URI = "mongodb://localhost:27017"
			},
		},
		{
			name:    "unknown sink",
			modify:  func(c *Config) { c.Diagnostics.Sink = "kafka" },
			wantErr: "unsupported diagnostics sink",
		},
		{
			name:    "invalid temperature (too high)",
			modify:  func(c *Config) { c.LLM.Temperature = 3.0 },
			wantErr: "temperature",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.modify(cfg)
			err := cfg.Validate()
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestDatabaseConfig_DSN(t *testing.T) {
	tests := []struct {
		name     string
		config   DatabaseConfig
		expected string
	}{
		{
			name: "postgres DSN",
			config: DatabaseConfig{
				Driver:   "postgres",
				Host:     "localhost",
				Port:     5432,
				User:     "user",
				Password: "pass",
				Name:     "dbname",
				SSLMode:  "disable",
			},
			expected: "host=localhost port=5432 user=user password=pass dbname=dbname sslmode=disable",
		},
		{
			name: "mysql DSN",
			config: DatabaseConfig{
				Driver:   "mysql",
				Host:     "localhost",
				Port:     3306,
				User:     "user",
				Password: "pass",
				Name:     "dbname",
			},
			expected: "user:pass@tcp(localhost:3306)/dbname?parseTime=true",
		},
		{
			name:     "sqlite DSN",
			config:   DatabaseConfig{Driver: "sqlite", Name: "/path/to/db.sqlite"},
			expected: "/path/to/db.sqlite",
		},
		{
			name:     "unknown driver",
			config:   DatabaseConfig{Driver: "unknown"},
			expected: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.config.DSN())
		})
	}
}

func TestJWTConfig_Enabled(t *testing.T) {
	assert.False(t, JWTConfig{}.Enabled())
	assert.True(t, JWTConfig{Secret: "s"}.Enabled())
}
