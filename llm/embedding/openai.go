package embedding

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/groundwork/llm/providers"
)

// OpenAIProvider implements embedding using OpenAI's API.
type OpenAIProvider struct {
	*BaseProvider
	cfg OpenAIConfig
}

var _ Provider = (*OpenAIProvider)(nil)

// NewOpenAIProvider creates a new OpenAI embedding provider.
func NewOpenAIProvider(cfg OpenAIConfig, logger *zap.Logger) *OpenAIProvider {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.openai.com"
	}
	if cfg.Model == "" {
		cfg.Model = "text-embedding-3-small"
	}
	if cfg.Dimensions == 0 {
		cfg.Dimensions = 1536
	}
	if cfg.MaxBatch == 0 {
		cfg.MaxBatch = 2048
	}

	return &OpenAIProvider{
		BaseProvider: NewBaseProvider(BaseConfig{
			Name:       "openai-embedding",
			BaseURL:    cfg.BaseURL,
			APIKey:     cfg.APIKey,
			Model:      cfg.Model,
			Dimensions: cfg.Dimensions,
			MaxBatch:   cfg.MaxBatch,
			Timeout:    cfg.Timeout,
			Retry:      cfg.Retry,
			Logger:     logger,
		}),
		cfg: cfg,
	}
}

type openAIEmbedRequest struct {
	Input      []string `json:"input"`
	Model      string   `json:"model"`
	Dimensions int      `json:"dimensions,omitempty"`
}

type openAIEmbedData struct {
	Index     int       `json:"index"`
	Embedding []float64 `json:"embedding"`
}

type openAIEmbedResponse struct {
	Data  []openAIEmbedData `json:"data"`
	Model string            `json:"model"`
	Usage EmbeddingUsage    `json:"usage"`
}

// Embed generates embeddings for the given inputs.
func (p *OpenAIProvider) Embed(ctx context.Context, req *EmbeddingRequest) (*EmbeddingResponse, error) {
	if len(req.Input) == 0 {
		return &EmbeddingResponse{Provider: p.Name(), Model: p.cfg.Model}, nil
	}
	dims := req.Dimensions
	if dims == 0 {
		dims = p.cfg.Dimensions
	}
	body := openAIEmbedRequest{
		Input:      req.Input,
		Model:      providers.ChooseModel(req.Model, p.cfg.Model, "text-embedding-3-small"),
		Dimensions: dims,
	}

	respBody, err := p.DoRequest(ctx, http.MethodPost, "/v1/embeddings", body, map[string]string{
		"Authorization": "Bearer " + p.cfg.APIKey,
	})
	if err != nil {
		return nil, err
	}

	var oaResp openAIEmbedResponse
	if err := json.Unmarshal(respBody, &oaResp); err != nil {
		return nil, fmt.Errorf("decode embedding response: %w", err)
	}

	embeddings := make([]EmbeddingData, len(oaResp.Data))
	for i, d := range oaResp.Data {
		embeddings[i] = EmbeddingData{Index: d.Index, Embedding: d.Embedding}
	}
	return &EmbeddingResponse{
		Provider:   p.Name(),
		Model:      oaResp.Model,
		Embeddings: embeddings,
		Usage:      oaResp.Usage,
		CreatedAt:  time.Now(),
	}, nil
}

// EmbedQuery embeds a single query.
func (p *OpenAIProvider) EmbedQuery(ctx context.Context, query string) ([]float64, error) {
	return p.BaseProvider.EmbedQuery(ctx, query, p.Embed)
}

// EmbedDocuments embeds multiple documents.
func (p *OpenAIProvider) EmbedDocuments(ctx context.Context, documents []string) ([][]float64, error) {
	return p.BaseProvider.EmbedDocuments(ctx, documents, p.Embed)
}
