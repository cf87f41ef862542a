package openaicompat

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/groundwork/internal/tlsutil"
	"github.com/BaSui01/groundwork/llm"
	"github.com/BaSui01/groundwork/llm/providers"
	"github.com/BaSui01/groundwork/llm/retry"
)

// Config OpenAI 兼容 Provider 配置
type Config struct {
	ProviderName   string
	APIKey         string
	BaseURL        string
	DefaultModel   string
	FallbackModel  string
	Timeout        time.Duration // 默认 30s
	EndpointPath   string        // 默认 /v1/chat/completions
	ModelsEndpoint string        // 默认 /v1/models
	Retry          *retry.Policy // nil 使用 retry.DefaultPolicy()
}

// Provider OpenAI 兼容实现
type Provider struct {
	cfg     Config
	client  *http.Client
	retryer *retry.Retryer
	logger  *zap.Logger
}

var _ llm.Provider = (*Provider)(nil)

// New 创建 Provider
func New(cfg Config, logger *zap.Logger) *Provider {
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.EndpointPath == "" {
		cfg.EndpointPath = "/v1/chat/completions"
	}
	if cfg.ModelsEndpoint == "" {
		cfg.ModelsEndpoint = "/v1/models"
	}
	if cfg.ProviderName == "" {
		cfg.ProviderName = "openai"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	policy := retry.DefaultPolicy()
	if cfg.Retry != nil {
		policy = *cfg.Retry
	}
	policy.Retryable = llm.IsRetryable

	logger = logger.With(zap.String("provider", cfg.ProviderName))
	return &Provider{
		cfg:     cfg,
		client:  tlsutil.SecureHTTPClient(cfg.Timeout),
		retryer: retry.NewRetryer(policy, logger),
		logger:  logger,
	}
}

func (p *Provider) Name() string { return p.cfg.ProviderName }

func (p *Provider) endpoint(path string) string {
	return strings.TrimRight(p.cfg.BaseURL, "/") + path
}

func (p *Provider) setHeaders(req *http.Request) {
	if p.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.cfg.APIKey)
	}
	req.Header.Set("Content-Type", "application/json")
}

// HealthCheck 请求模型列表
func (p *Provider) HealthCheck(ctx context.Context) (*llm.HealthStatus, error) {
	start := time.Now()
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, p.endpoint(p.cfg.ModelsEndpoint), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	p.setHeaders(httpReq)

	resp, err := p.client.Do(httpReq)
	latency := time.Since(start)
	if err != nil {
		return &llm.HealthStatus{Healthy: false, Latency: latency}, providers.TransportError(err, p.Name())
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg := providers.ReadErrorMessage(resp.Body)
		return &llm.HealthStatus{Healthy: false, Latency: latency}, providers.MapHTTPError(resp.StatusCode, msg, p.Name())
	}
	return &llm.HealthStatus{Healthy: true, Latency: latency}, nil
}

// ====== wire 格式 ======

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []llm.Message `json:"messages"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Temperature float32       `json:"temperature,omitempty"`
}

type chatResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Created int64  `json:"created"`
	Choices []struct {
		Index        int    `json:"index"`
		FinishReason string `json:"finish_reason"`
		Message      struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage llm.ChatUsage `json:"usage"`
}

// Completion 同步补全，可重试错误按策略重试
func (p *Provider) Completion(ctx context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error) {
	if req == nil || len(req.Messages) == 0 {
		return nil, &llm.Error{Code: llm.ErrInvalidRequest, Message: "messages are required", HTTPStatus: http.StatusBadRequest, Provider: p.Name()}
	}
	if req.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, req.Timeout)
		defer cancel()
	}

	body := chatRequest{
		Model:       providers.ChooseModel(req.Model, p.cfg.DefaultModel, p.cfg.FallbackModel),
		Messages:    req.Messages,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	return retry.DoValue(ctx, p.retryer, func(ctx context.Context) (*llm.ChatResponse, error) {
		return p.send(ctx, payload, req.TraceID)
	})
}

func (p *Provider) send(ctx context.Context, payload []byte, traceID string) (*llm.ChatResponse, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint(p.cfg.EndpointPath), bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	p.setHeaders(httpReq)
	if traceID != "" {
		httpReq.Header.Set("X-Request-ID", traceID)
	}

	resp, err := p.client.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, &llm.Error{Code: llm.ErrUpstreamTimeout, Message: ctx.Err().Error(), HTTPStatus: http.StatusGatewayTimeout, Provider: p.Name()}
		}
		return nil, providers.TransportError(err, p.Name())
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		msg := providers.ReadErrorMessage(resp.Body)
		p.logger.Warn("completion rejected", zap.Int("status", resp.StatusCode), zap.String("message", msg))
		return nil, providers.MapHTTPError(resp.StatusCode, msg, p.Name())
	}

	var oaResp chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&oaResp); err != nil {
		return nil, providers.TransportError(fmt.Errorf("decode completion: %w", err), p.Name())
	}

	out := &llm.ChatResponse{
		ID:       oaResp.ID,
		Provider: p.Name(),
		Model:    oaResp.Model,
		Usage:    oaResp.Usage,
		Choices:  make([]llm.ChatChoice, 0, len(oaResp.Choices)),
	}
	for _, c := range oaResp.Choices {
		out.Choices = append(out.Choices, llm.ChatChoice{
			Index:        c.Index,
			FinishReason: c.FinishReason,
			Message:      llm.Message{Role: llm.Role(c.Message.Role), Content: c.Message.Content},
		})
	}
	if oaResp.Created != 0 {
		out.CreatedAt = time.Unix(oaResp.Created, 0)
	}
	return out, nil
}
