package embedding

import (
	"time"

	"github.com/BaSui01/groundwork/llm/retry"
)

// OpenAIConfig configures the OpenAI embedding provider.
type OpenAIConfig struct {
	APIKey     string        `json:"api_key" yaml:"api_key"`
	BaseURL    string        `json:"base_url" yaml:"base_url"`
	Model      string        `json:"model,omitempty" yaml:"model,omitempty"`           // text-embedding-3-small
	Dimensions int           `json:"dimensions,omitempty" yaml:"dimensions,omitempty"` // 256, 1024, 1536, 3072
	MaxBatch   int           `json:"max_batch,omitempty" yaml:"max_batch,omitempty"`
	Timeout    time.Duration `json:"timeout,omitempty" yaml:"timeout,omitempty"`
	Retry      *retry.Policy `json:"-" yaml:"-"`
}
