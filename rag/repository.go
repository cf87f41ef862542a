package rag

import (
	"context"
	"time"
)

// AssistantRepository 助手与文档集查询
type AssistantRepository interface {
	// GetAssistant 不存在时返回包装了 ErrNotFound 的错误
	GetAssistant(ctx context.Context, id string) (*Assistant, error)
	// CountDocuments 助手文档数
	CountDocuments(ctx context.Context, assistantID string) (int64, error)
}

// ChunkRepository 分块查询
type ChunkRepository interface {
	// FetchEmbeddedChunks 只返回 embedding_status = embedded 的分块
	FetchEmbeddedChunks(ctx context.Context, assistantID string) ([]DocumentChunk, error)
}

// AnchorRepository 锚点注册表只读接口
type AnchorRepository interface {
	ListAnchors(ctx context.Context) ([]Anchor, error)
}

// Corpus 检索所需的全部只读仓储
type Corpus interface {
	AssistantRepository
	ChunkRepository
	AnchorRepository
}

// AnchorStore 锚点注册表读写
type AnchorStore interface {
	AnchorRepository
	GetAnchor(ctx context.Context, slug string) (*Anchor, error)
	// UpsertAnchor 新建或更新锚点，已有阶段不会被降低
	UpsertAnchor(ctx context.Context, anchor Anchor) error
	// AdvanceAnchorStage 单调推进阶段，后退返回 *StageRegressionError
	AdvanceAnchorStage(ctx context.Context, slug string, to AcquisitionStage) (*Anchor, error)
}

// GroundingLogFilter 诊断日志查询条件
type GroundingLogFilter struct {
	AssistantID string
	SessionID   string
	Since       time.Time
	Limit       int
}

// GroundingLogStore 追加式诊断日志存储
type GroundingLogStore interface {
	InsertGroundingLog(ctx context.Context, entry *GroundingEntry) error
	InsertPlaybackLog(ctx context.Context, entry *PlaybackEntry) error
	ListGroundingLogs(ctx context.Context, filter GroundingLogFilter) ([]GroundingEntry, error)
	// GetGroundingLog 返回日志及其关联的回放记录
	GetGroundingLog(ctx context.Context, id string) (*GroundingEntry, []PlaybackEntry, error)
}

// RepairStore 向量一致性修复所需的读写
type RepairStore interface {
	// ListChunksForRepair 返回所有状态的分块，assistantID 为空表示全部
	ListChunksForRepair(ctx context.Context, assistantID string) ([]DocumentChunk, error)
	UpdateChunkEmbedding(ctx context.Context, chunkID string, embedding []float64, status EmbeddingStatus) error
}

// DriftStore 漂移分析所需的读取
type DriftStore interface {
	AnchorRepository
	ListChunksByAnchor(ctx context.Context, slug string) ([]DocumentChunk, error)
}

// Embedder 查询向量化
type Embedder interface {
	EmbedQuery(ctx context.Context, query string) ([]float64, error)
	Dimensions() int
}

// DocumentEmbedder 批量文本向量化
type DocumentEmbedder interface {
	EmbedDocuments(ctx context.Context, texts []string) ([][]float64, error)
}

// Observer 检索指标回调
type Observer interface {
	ObserveRetrieval(reason FallbackReason, fallback bool, candidates int, duration time.Duration)
	ObserveEmbeddingFailure(operation string)
	ObserveGroundingWrite(kind string, err error)
}

type nopObserver struct{}

func (nopObserver) ObserveRetrieval(FallbackReason, bool, int, time.Duration) {}
func (nopObserver) ObserveEmbeddingFailure(string)                           {}
func (nopObserver) ObserveGroundingWrite(string, error)                      {}
