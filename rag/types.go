package rag

import (
	"errors"
	"fmt"
	"time"
)

// ErrNotFound 仓储层记录不存在
var ErrNotFound = errors.New("record not found")

// ====== 文档与分块 ======

// EmbeddingStatus 分块向量化状态
type EmbeddingStatus string

const (
	EmbeddingPending  EmbeddingStatus = "pending"
	EmbeddingEmbedded EmbeddingStatus = "embedded"
	EmbeddingFailed   EmbeddingStatus = "failed"
)

// Valid 是否为已知状态
func (s EmbeddingStatus) Valid() bool {
	switch s {
	case EmbeddingPending, EmbeddingEmbedded, EmbeddingFailed:
		return true
	}
	return false
}

// Assistant 检索作用域，检索过程只读
type Assistant struct {
	ID              string `json:"id"`
	Name            string `json:"name"`
	SystemPrompt    string `json:"system_prompt,omitempty"`
	MemoryContextID string `json:"memory_context_id,omitempty"`
}

// DocumentChunk 可检索的文本片段
type DocumentChunk struct {
	ID              string          `json:"id"`
	DocumentID      string          `json:"document_id"`
	DocumentTitle   string          `json:"document_title,omitempty"`
	AssistantID     string          `json:"assistant_id"`
	Text            string          `json:"text"`
	Embedding       []float64       `json:"embedding,omitempty"`
	EmbeddingStatus EmbeddingStatus `json:"embedding_status"`
	IsGlossary      bool            `json:"is_glossary"`
	GlossaryScore   float64         `json:"glossary_score"`
	AnchorSlugs     []string        `json:"anchor_slugs,omitempty"`
}

// Scorable 已向量化且带向量
func (c *DocumentChunk) Scorable() bool {
	return c.EmbeddingStatus == EmbeddingEmbedded && len(c.Embedding) > 0
}

// ====== 术语锚点 ======

// MutationStatus 锚点措辞变更状态
type MutationStatus string

const (
	MutationNone    MutationStatus = "none"
	MutationPending MutationStatus = "pending"
	MutationApplied MutationStatus = "applied"
)

// AcquisitionStage 用户对术语的掌握阶段，只能前进
type AcquisitionStage string

const (
	StageUnseen     AcquisitionStage = "unseen"
	StageExposed    AcquisitionStage = "exposed"
	StageAcquired   AcquisitionStage = "acquired"
	StageReinforced AcquisitionStage = "reinforced"
)

var stageRanks = map[AcquisitionStage]int{
	StageUnseen:     0,
	StageExposed:    1,
	StageAcquired:   2,
	StageReinforced: 3,
}

// Rank 返回阶段序号，未知阶段为 -1
func (s AcquisitionStage) Rank() int {
	if r, ok := stageRanks[s]; ok {
		return r
	}
	return -1
}

// Valid 是否为已知阶段
func (s AcquisitionStage) Valid() bool {
	return s.Rank() >= 0
}

// ParseStage 解析阶段名称
func ParseStage(s string) (AcquisitionStage, error) {
	stage := AcquisitionStage(s)
	if !stage.Valid() {
		return "", fmt.Errorf("unknown acquisition stage %q", s)
	}
	return stage, nil
}

// StageRegressionError 试图让阶段后退
type StageRegressionError struct {
	Slug string
	From AcquisitionStage
	To   AcquisitionStage
}

func (e *StageRegressionError) Error() string {
	return fmt.Sprintf("anchor %s: stage cannot regress from %s to %s", e.Slug, e.From, e.To)
}

// Anchor 术语锚点（SymbolicMemoryAnchor）
type Anchor struct {
	Slug           string           `json:"slug"`
	Label          string           `json:"label"`
	Aliases        []string         `json:"aliases,omitempty"`
	FallbackScore  float64          `json:"fallback_score"`
	MutationStatus MutationStatus   `json:"mutation_status"`
	Stage          AcquisitionStage `json:"stage"`
	UpdatedAt      time.Time        `json:"updated_at,omitempty"`
}

// Advance 将阶段推进到 to；相同阶段为无操作，后退返回 *StageRegressionError
func (a *Anchor) Advance(to AcquisitionStage) error {
	if !to.Valid() {
		return fmt.Errorf("unknown acquisition stage %q", to)
	}
	from := a.Stage
	if from == "" {
		from = StageUnseen
	}
	if to.Rank() < from.Rank() {
		return &StageRegressionError{Slug: a.Slug, From: from, To: to}
	}
	a.Stage = to
	return nil
}

// ====== 检索请求与结果 ======

// FallbackReason 回退原因
type FallbackReason string

const (
	ReasonNone         FallbackReason = ""
	ReasonNoDocuments  FallbackReason = "no_documents"
	ReasonNoCandidates FallbackReason = "no_candidates"
	ReasonWeakGlossary FallbackReason = "weak_glossary"
	ReasonForced       FallbackReason = "forced"
)

// RetrievalRequest 检索请求
type RetrievalRequest struct {
	AssistantID   string `json:"assistant_id"`
	Query         string `json:"query"`
	ForceFallback bool   `json:"force_fallback,omitempty"`
	// TopN 覆盖配置，0 表示使用配置值
	TopN int `json:"top_n,omitempty"`
}

// ScoredChunk 带打分注解的分块
type ScoredChunk struct {
	ChunkID       string   `json:"chunk_id"`
	DocumentID    string   `json:"document_id"`
	DocumentTitle string   `json:"document_title,omitempty"`
	Text          string   `json:"text"`
	IsGlossary    bool     `json:"is_glossary"`
	GlossaryScore float64  `json:"glossary_score"`
	RawScore      float64  `json:"raw_score"`
	Boost         float64  `json:"boost"`
	FinalScore    float64  `json:"final_score"`
	AnchorSlug    string   `json:"anchor_slug,omitempty"`
	AnchorSlugs   []string `json:"anchor_slugs,omitempty"`
}

// RetrievalMetadata 检索决策元数据
type RetrievalMetadata struct {
	FallbackTriggered    bool           `json:"fallback_triggered"`
	FallbackReason       FallbackReason `json:"fallback_reason,omitempty"`
	FallbackAnchor       string         `json:"fallback_anchor,omitempty"`
	RetrievalScore       float64        `json:"retrieval_score"`
	QueryAnchors         []string       `json:"query_anchors"`
	AnchorHits           []string       `json:"anchor_hits"`
	AnchorMisses         []string       `json:"anchor_misses"`
	Candidates           int            `json:"candidates"`
	WeakGlossaryExcluded int            `json:"weak_glossary_excluded"`
	SkippedChunks        int            `json:"skipped_chunks"`
	QueryEmbeddingFailed bool           `json:"query_embedding_failed,omitempty"`
	DurationMS           int64          `json:"duration_ms"`
}

// RetrievalResult 主结果、回退结果与元数据
type RetrievalResult struct {
	Primary  []ScoredChunk     `json:"primary"`
	Fallback []ScoredChunk     `json:"fallback"`
	Metadata RetrievalMetadata `json:"metadata"`

	// Assistant 检索时解析到的助手
	Assistant *Assistant `json:"-"`
	// Vocabulary 本次检索使用的锚点词表（注册表 + 分块上的 slug）
	Vocabulary []Anchor `json:"-"`
}

// AnchorLabels slug -> 标签
func (r *RetrievalResult) AnchorLabels() map[string]string {
	labels := make(map[string]string)
	if r == nil {
		return labels
	}
	for _, a := range r.Vocabulary {
		labels[a.Slug] = a.Label
	}
	return labels
}

// Used 返回用于上下文组装的分块：回退模式下为回退结果
func (r *RetrievalResult) Used() []ScoredChunk {
	if r == nil {
		return nil
	}
	if r.Metadata.FallbackTriggered {
		return r.Fallback
	}
	return r.Primary
}
