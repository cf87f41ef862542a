package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/groundwork/internal/tlsutil"
	"github.com/BaSui01/groundwork/llm"
	"github.com/BaSui01/groundwork/llm/providers"
	"github.com/BaSui01/groundwork/llm/retry"
)

// BaseProvider为嵌入提供者提供了共同的功能.
type BaseProvider struct {
	name       string
	client     *http.Client
	baseURL    string
	apiKey     string
	model      string
	dimensions int
	maxBatch   int
	retryer    *retry.Retryer
}

// BaseConfig持有基础提供者的共同配置.
type BaseConfig struct {
	Name       string
	BaseURL    string
	APIKey     string
	Model      string
	Dimensions int
	MaxBatch   int
	Timeout    time.Duration
	Retry      *retry.Policy
	Logger     *zap.Logger
}

// NewBaseProvider 创建基础提供者.
func NewBaseProvider(cfg BaseConfig) *BaseProvider {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	maxBatch := cfg.MaxBatch
	if maxBatch <= 0 {
		maxBatch = 100
	}
	policy := retry.DefaultPolicy()
	if cfg.Retry != nil {
		policy = *cfg.Retry
	}
	policy.Retryable = llm.IsRetryable
	return &BaseProvider{
		name:       cfg.Name,
		client:     tlsutil.SecureHTTPClient(timeout),
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:     cfg.APIKey,
		model:      cfg.Model,
		dimensions: cfg.Dimensions,
		maxBatch:   maxBatch,
		retryer:    retry.NewRetryer(policy, cfg.Logger),
	}
}

func (p *BaseProvider) Name() string      { return p.name }
func (p *BaseProvider) Dimensions() int   { return p.dimensions }
func (p *BaseProvider) MaxBatchSize() int { return p.maxBatch }

type embedFunc func(context.Context, *EmbeddingRequest) (*EmbeddingResponse, error)

// EmbedQuery 嵌入单个查询字符串.
func (p *BaseProvider) EmbedQuery(ctx context.Context, query string, embedFn embedFunc) ([]float64, error) {
	resp, err := embedFn(ctx, &EmbeddingRequest{
		Input:     []string{query},
		InputType: InputTypeQuery,
	})
	if err != nil {
		return nil, err
	}
	if len(resp.Embeddings) == 0 || len(resp.Embeddings[0].Embedding) == 0 {
		return nil, fmt.Errorf("no embeddings returned")
	}
	return resp.Embeddings[0].Embedding, nil
}

// EmbedDocuments 按 maxBatch 分批嵌入，结果顺序与输入一致.
func (p *BaseProvider) EmbedDocuments(ctx context.Context, documents []string, embedFn embedFunc) ([][]float64, error) {
	result := make([][]float64, len(documents))
	for start := 0; start < len(documents); start += p.maxBatch {
		end := min(start+p.maxBatch, len(documents))
		resp, err := embedFn(ctx, &EmbeddingRequest{
			Input:     documents[start:end],
			InputType: InputTypeDocument,
		})
		if err != nil {
			return nil, err
		}
		if len(resp.Embeddings) != end-start {
			return nil, fmt.Errorf("expected %d embeddings, got %d", end-start, len(resp.Embeddings))
		}
		for i, emb := range resp.Embeddings {
			idx := i
			// 优先使用响应中的 index，服务端可能乱序返回
			if emb.Index >= 0 && emb.Index < end-start {
				idx = emb.Index
			}
			result[start+idx] = emb.Embedding
		}
	}
	return result, nil
}

// DoRequest 执行 HTTP 请求，可重试错误按策略重试.
func (p *BaseProvider) DoRequest(ctx context.Context, method, endpoint string, body any, headers map[string]string) ([]byte, error) {
	var payload []byte
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request: %w", err)
		}
		payload = data
	}

	return retry.DoValue(ctx, p.retryer, func(ctx context.Context) ([]byte, error) {
		var reqBody io.Reader
		if payload != nil {
			reqBody = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, p.baseURL+endpoint, reqBody)
		if err != nil {
			return nil, fmt.Errorf("failed to create request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		for k, v := range headers {
			req.Header.Set(k, v)
		}

		resp, err := p.client.Do(req)
		if err != nil {
			return nil, providers.TransportError(err, p.name)
		}
		defer resp.Body.Close()

		if resp.StatusCode >= 400 {
			return nil, providers.MapHTTPError(resp.StatusCode, providers.ReadErrorMessage(resp.Body), p.name)
		}
		respBody, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("failed to read response: %w", err)
		}
		return respBody, nil
	})
}
