package tokenizer

import (
	"sync/atomic"

	"go.uber.org/zap"
)

// Tokenizer是统一的代号计数界面.
type Tokenizer interface {
	// CountTokens 返回给定文本的 token 数.
	CountTokens(text string) (int, error)

	// CountMessages 返回消息列表的总 token 数，包括每条消息的开销.
	CountMessages(messages []Message) (int, error)

	// Truncate 截断文本，使其不超过 maxTokens.
	Truncate(text string, maxTokens int) (string, error)

	// MaxTokens 返回模型的最大上下文长度.
	MaxTokens() int

	// Name 返回分词器的名称.
	Name() string
}

// Message 是一个轻量级消息结构, 由 tokenizer 包使用
// 以避免与 llm 包的循环依赖。
type Message struct {
	Role    string
	Content string
}

// ForModel 返回模型对应的 tiktoken 分词器；编码数据不可用时自动回退到估算器.
func ForModel(model string, logger *zap.Logger) Tokenizer {
	tk := NewTiktokenTokenizer(model)
	return WithFallback(tk, NewEstimatorTokenizer(model, tk.MaxTokens()), logger)
}

// fallbackTokenizer primary 出错后永久切换到 fallback
type fallbackTokenizer struct {
	primary  Tokenizer
	fallback Tokenizer
	logger   *zap.Logger
	failed   atomic.Bool
}

// WithFallback 组合两个分词器，primary 任一调用出错后改用 fallback.
func WithFallback(primary, fallback Tokenizer, logger *zap.Logger) Tokenizer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &fallbackTokenizer{primary: primary, fallback: fallback, logger: logger}
}

func (f *fallbackTokenizer) markFailed(err error) {
	if f.failed.CompareAndSwap(false, true) {
		f.logger.Warn("tokenizer unavailable, falling back to estimator",
			zap.String("tokenizer", f.primary.Name()), zap.Error(err))
	}
}

func (f *fallbackTokenizer) CountTokens(text string) (int, error) {
	if !f.failed.Load() {
		n, err := f.primary.CountTokens(text)
		if err == nil {
			return n, nil
		}
		f.markFailed(err)
	}
	return f.fallback.CountTokens(text)
}

func (f *fallbackTokenizer) CountMessages(messages []Message) (int, error) {
	if !f.failed.Load() {
		n, err := f.primary.CountMessages(messages)
		if err == nil {
			return n, nil
		}
		f.markFailed(err)
	}
	return f.fallback.CountMessages(messages)
}

func (f *fallbackTokenizer) Truncate(text string, maxTokens int) (string, error) {
	if !f.failed.Load() {
		s, err := f.primary.Truncate(text, maxTokens)
		if err == nil {
			return s, nil
		}
		f.markFailed(err)
	}
	return f.fallback.Truncate(text, maxTokens)
}

func (f *fallbackTokenizer) MaxTokens() int { return f.primary.MaxTokens() }

func (f *fallbackTokenizer) Name() string {
	if f.failed.Load() {
		return f.fallback.Name()
	}
	return f.primary.Name()
}
