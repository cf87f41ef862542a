package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/BaSui01/groundwork/config"
	"github.com/BaSui01/groundwork/llm"
	"github.com/BaSui01/groundwork/llm/tokenizer"
	"github.com/BaSui01/groundwork/rag"
	"github.com/BaSui01/groundwork/types"
)

// =============================================================================
// 💬 对话编排
// =============================================================================

// Retriever 检索接口，*rag.ChunkRetriever 实现
type Retriever interface {
	GetRelevantChunks(ctx context.Context, req rag.RetrievalRequest) (*rag.RetrievalResult, error)
}

// Input 一轮对话输入
type Input struct {
	AssistantID   string
	SessionID     string
	Message       string
	Debug         bool
	ForceFallback bool
}

// Output 一轮对话输出；Retrieval 与 Prompt 只在调试模式下返回
type Output struct {
	Reply          string               `json:"reply"`
	SessionID      string               `json:"session_id"`
	Model          string               `json:"model"`
	Retrieval      *rag.RetrievalResult `json:"retrieval,omitempty"`
	Prompt         *Prompt              `json:"prompt,omitempty"`
	GroundingLogID string               `json:"grounding_log_id,omitempty"`
	Usage          llm.ChatUsage        `json:"usage"`
}

// Dependencies 编排器依赖
type Dependencies struct {
	Retriever Retriever
	Provider  llm.Provider
	Tokenizer tokenizer.Tokenizer
	// Grounding 为空时调试模式不落库
	Grounding *rag.GroundingLogger
}

// Orchestrator 检索 → 组装 prompt → 调用模型 → 调试日志
type Orchestrator struct {
	deps    Dependencies
	chat    config.ChatConfig
	llm     config.LLMConfig
	builder *PromptBuilder
	logger  *zap.Logger
	now     func() time.Time
}

// NewOrchestrator 创建编排器
func NewOrchestrator(deps Dependencies, chatCfg config.ChatConfig, llmCfg config.LLMConfig, logger *zap.Logger) (*Orchestrator, error) {
	if deps.Retriever == nil {
		return nil, errors.New("chat: retriever is required")
	}
	if deps.Provider == nil {
		return nil, errors.New("chat: llm provider is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if deps.Tokenizer == nil {
		deps.Tokenizer = tokenizer.ForModel(llmCfg.Model, logger)
	}
	return &Orchestrator{
		deps:    deps,
		chat:    chatCfg,
		llm:     llmCfg,
		builder: NewPromptBuilder(deps.Tokenizer, chatCfg.ContextTokenBudget),
		logger:  logger.With(zap.String("component", "chat_orchestrator")),
		now:     time.Now,
	}, nil
}

// Reply 执行一轮对话
func (o *Orchestrator) Reply(ctx context.Context, in Input) (*Output, error) {
	message := strings.TrimSpace(in.Message)
	if message == "" {
		return nil, types.NewInvalidRequestError("message cannot be empty")
	}
	sessionID := in.SessionID
	if sessionID == "" {
		sessionID = uuid.NewString()
	}
	if o.chat.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.chat.Timeout)
		defer cancel()
	}

	result, err := o.deps.Retriever.GetRelevantChunks(ctx, rag.RetrievalRequest{
		AssistantID:   in.AssistantID,
		Query:         message,
		ForceFallback: in.ForceFallback,
	})
	if err != nil {
		return nil, err
	}

	// 系统提示词与锚点标签取自检索阶段已加载的数据
	prompt, err := o.builder.Build(o.systemPrompt(result), result.Used(), result.AnchorLabels())
	if err != nil {
		return nil, types.NewError(types.ErrTokenizerError, "failed to assemble prompt").
			WithCause(err).WithHTTPStatus(500)
	}
	if len(prompt.DroppedChunkIDs) > 0 {
		o.logger.Debug("context budget exceeded, chunks dropped",
			zap.String("assistant_id", in.AssistantID),
			zap.Strings("dropped", prompt.DroppedChunkIDs),
		)
	}

	traceID, _ := types.TraceID(ctx)
	if traceID == "" {
		traceID, _ = types.RequestID(ctx)
	}

	start := o.now()
	resp, err := o.deps.Provider.Completion(ctx, &llm.ChatRequest{
		TraceID: traceID,
		Model:   o.llm.Model,
		Messages: []llm.Message{
			{Role: llm.RoleSystem, Content: prompt.System},
			{Role: llm.RoleUser, Content: message},
		},
		MaxTokens:   o.llm.MaxTokens,
		Temperature: float32(o.llm.Temperature),
		Metadata:    map[string]string{"assistant_id": in.AssistantID, "session_id": sessionID},
	})
	latency := o.now().Sub(start)
	if err != nil {
		return nil, completionError(err)
	}
	choice, err := llm.FirstChoice(resp)
	if err != nil {
		return nil, completionError(err)
	}

	out := &Output{
		Reply:     choice.Message.Content,
		SessionID: sessionID,
		Model:     resp.Model,
		Usage:     resp.Usage,
	}
	if out.Model == "" {
		out.Model = o.llm.Model
	}

	if in.Debug {
		out.Retrieval = result
		out.Prompt = prompt
		out.GroundingLogID = o.recordDebug(ctx, in.AssistantID, sessionID, message, result, prompt, out, latency)
	}
	return out, nil
}

// recordDebug 写诊断与回放日志，失败不影响回复
func (o *Orchestrator) recordDebug(ctx context.Context, assistantID, sessionID, query string,
	result *rag.RetrievalResult, prompt *Prompt, out *Output, latency time.Duration) string {
	if o.deps.Grounding == nil {
		return ""
	}
	// 对话超时不应吞掉诊断写入
	ctx = context.WithoutCancel(ctx)

	entry := rag.NewGroundingEntry(assistantID, sessionID, query, result)
	entry.GlossaryInjected = prompt.GlossaryInjected()
	id, ok := o.deps.Grounding.Record(ctx, entry)
	if !ok {
		return ""
	}
	o.deps.Grounding.RecordPlayback(ctx, rag.PlaybackEntry{
		GroundingLogID: id,
		AssistantID:    assistantID,
		SessionID:      sessionID,
		Prompt:         prompt.System,
		Reply:          out.Reply,
		Model:          out.Model,
		LatencyMS:      latency.Milliseconds(),
	})
	return id
}

func (o *Orchestrator) systemPrompt(result *rag.RetrievalResult) string {
	if result.Assistant != nil && strings.TrimSpace(result.Assistant.SystemPrompt) != "" {
		return result.Assistant.SystemPrompt
	}
	return o.chat.DefaultSystemPrompt
}

func completionError(err error) error {
	retryable := llm.IsRetryable(err)
	status := 502
	var le *llm.Error
	if errors.As(err, &le) && le.Code == llm.ErrUpstreamTimeout {
		status = 504
	}
	return types.NewError(types.ErrCompletionFailed, fmt.Sprintf("completion failed: %v", err)).
		WithCause(err).WithHTTPStatus(status).WithRetryable(retryable)
}
