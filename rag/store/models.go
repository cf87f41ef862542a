package store

import (
	"encoding/json"
	"errors"
	"time"

	"gorm.io/gorm"
)

// ErrImmutableLog 诊断日志写入后不可修改
var ErrImmutableLog = errors.New("grounding logs are append-only")

// ============================================================
// 助手与文档
// ============================================================

// Assistant 助手
type Assistant struct {
	ID              string    `gorm:"primaryKey;size:64" json:"id"`
	Name            string    `gorm:"size:200;not null" json:"name"`
	SystemPrompt    string    `gorm:"type:text" json:"system_prompt"`
	MemoryContextID string    `gorm:"size:64" json:"memory_context_id"` // 记忆上下文
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

func (Assistant) TableName() string {
	return "gw_assistants"
}

// Document 助手文档
type Document struct {
	ID          string    `gorm:"primaryKey;size:64" json:"id"`
	AssistantID string    `gorm:"size:64;not null;index:idx_gw_documents_assistant" json:"assistant_id"`
	Title       string    `gorm:"size:300" json:"title"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func (Document) TableName() string {
	return "gw_documents"
}

// ============================================================
// 分块
// ============================================================

// DocumentChunk 分块，向量以 JSON 文本存储
type DocumentChunk struct {
	ID              string    `gorm:"primaryKey;size:64" json:"id"`
	DocumentID      string    `gorm:"size:64;not null;index:idx_gw_chunks_document" json:"document_id"`
	AssistantID     string    `gorm:"size:64;not null;index:idx_gw_chunks_assistant_status" json:"assistant_id"`           // 冗余存储，便于按助手过滤
	Text            string    `gorm:"type:text;not null" json:"text"`                                                        // 分块文本
	Embedding       string    `gorm:"type:text" json:"-"`                                                                    // JSON 数组
	EmbeddingStatus string    `gorm:"size:16;not null;default:pending;index:idx_gw_chunks_assistant_status" json:"embedding_status"` // pending / embedded / failed
	IsGlossary      bool      `gorm:"not null;default:false" json:"is_glossary"`
	GlossaryScore   float64   `gorm:"not null;default:0" json:"glossary_score"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`

	// 关联
	Document *Document    `gorm:"foreignKey:DocumentID" json:"document,omitempty"`
	Anchors  []ChunkAnchor `gorm:"foreignKey:ChunkID" json:"anchors,omitempty"`
}

func (DocumentChunk) TableName() string {
	return "gw_document_chunks"
}

// EmbeddingVector 解析向量，空字符串返回 nil
func (c *DocumentChunk) EmbeddingVector() ([]float64, error) {
	if c.Embedding == "" {
		return nil, nil
	}
	var vec []float64
	if err := json.Unmarshal([]byte(c.Embedding), &vec); err != nil {
		return nil, err
	}
	return vec, nil
}

// SetEmbedding 序列化向量，nil 或空向量存为空字符串
func (c *DocumentChunk) SetEmbedding(vec []float64) error {
	if len(vec) == 0 {
		c.Embedding = ""
		return nil
	}
	data, err := json.Marshal(vec)
	if err != nil {
		return err
	}
	c.Embedding = string(data)
	return nil
}

// ChunkAnchor 分块与锚点的关联
type ChunkAnchor struct {
	ChunkID    string `gorm:"primaryKey;size:64" json:"chunk_id"`
	AnchorSlug string `gorm:"primaryKey;size:128;index:idx_gw_chunk_anchors_slug" json:"anchor_slug"`
}

func (ChunkAnchor) TableName() string {
	return "gw_chunk_anchors"
}

// ============================================================
// 术语锚点
// ============================================================

// SymbolicMemoryAnchor 术语锚点
type SymbolicMemoryAnchor struct {
	ID             uint      `gorm:"primaryKey" json:"id"`
	Slug           string    `gorm:"size:128;not null;uniqueIndex:idx_gw_anchors_slug" json:"slug"`
	Label          string    `gorm:"size:200;not null" json:"label"`
	Aliases        string    `gorm:"type:text" json:"-"`                            // JSON 数组
	FallbackScore  float64   `gorm:"not null;default:0" json:"fallback_score"`      // 回退优先级
	MutationStatus string    `gorm:"size:16;not null;default:none" json:"mutation_status"`
	Stage          string    `gorm:"size:16;not null;default:unseen" json:"stage"`
	StageRank      int       `gorm:"not null;default:0" json:"-"` // 用于条件更新，保证阶段单调
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

func (SymbolicMemoryAnchor) TableName() string {
	return "gw_symbolic_memory_anchors"
}

// ============================================================
// 诊断日志（追加式）
// ============================================================

// RAGGroundingLog 检索审计记录
type RAGGroundingLog struct {
	ID                string    `gorm:"primaryKey;size:36" json:"id"`
	AssistantID       string    `gorm:"size:64;not null;index:idx_gw_grounding_assistant" json:"assistant_id"`
	SessionID         string    `gorm:"size:64;index:idx_gw_grounding_session" json:"session_id"`
	Query             string    `gorm:"type:text;not null" json:"query"`
	UsedChunkIDs      string    `gorm:"type:text" json:"-"` // JSON 数组
	Scores            string    `gorm:"type:text" json:"-"` // JSON 对象 chunk_id -> final_score
	FallbackTriggered bool      `gorm:"not null;default:false" json:"fallback_triggered"`
	FallbackReason    string    `gorm:"size:32" json:"fallback_reason"`
	FallbackAnchor    string    `gorm:"size:128" json:"fallback_anchor"`
	RetrievalScore    float64   `gorm:"not null;default:0" json:"retrieval_score"`
	AnchorHits        string    `gorm:"type:text" json:"-"`
	AnchorMisses      string    `gorm:"type:text" json:"-"`
	GlossaryInjected  bool      `gorm:"not null;default:false" json:"glossary_injected"`
	CreatedAt         time.Time `gorm:"index:idx_gw_grounding_created" json:"created_at"`
}

func (RAGGroundingLog) TableName() string {
	return "gw_rag_grounding_logs"
}

// BeforeUpdate 拒绝修改
func (l *RAGGroundingLog) BeforeUpdate(*gorm.DB) error {
	return ErrImmutableLog
}

// RAGPlaybackLog 调试对话回放
type RAGPlaybackLog struct {
	ID             string    `gorm:"primaryKey;size:36" json:"id"`
	GroundingLogID string    `gorm:"size:36;index:idx_gw_playback_grounding" json:"grounding_log_id"`
	AssistantID    string    `gorm:"size:64;not null" json:"assistant_id"`
	SessionID      string    `gorm:"size:64" json:"session_id"`
	Prompt         string    `gorm:"type:text;not null" json:"prompt"`
	Reply          string    `gorm:"type:text" json:"reply"`
	Model          string    `gorm:"size:100" json:"model"`
	LatencyMS      int64     `gorm:"not null;default:0" json:"latency_ms"`
	CreatedAt      time.Time `json:"created_at"`
}

func (RAGPlaybackLog) TableName() string {
	return "gw_rag_playback_logs"
}

// BeforeUpdate 拒绝修改
func (l *RAGPlaybackLog) BeforeUpdate(*gorm.DB) error {
	return ErrImmutableLog
}

// Models 返回全部模型，供 AutoMigrate 使用（测试与 sqlite 开发模式）
func Models() []any {
	return []any{
		&Assistant{},
		&Document{},
		&DocumentChunk{},
		&ChunkAnchor{},
		&SymbolicMemoryAnchor{},
		&RAGGroundingLog{},
		&RAGPlaybackLog{},
	}
}
