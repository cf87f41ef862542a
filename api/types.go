package api

import (
	"time"

	"github.com/BaSui01/groundwork/chat"
	"github.com/BaSui01/groundwork/llm"
	"github.com/BaSui01/groundwork/rag"
)

// =============================================================================
// 💬 Chat
// =============================================================================

// ChatRequest POST /api/v1/assistants/{id}/chat
type ChatRequest struct {
	Message       string `json:"message"`
	SessionID     string `json:"session_id,omitempty"`
	ForceFallback bool   `json:"force_fallback,omitempty"`
}

// ChatResponse 对话响应；Debug 仅在 ?debug=true 时返回
type ChatResponse struct {
	Reply     string        `json:"reply"`
	SessionID string        `json:"session_id"`
	Model     string        `json:"model"`
	Usage     llm.ChatUsage `json:"usage"`
	Debug     *ChatDebug    `json:"debug,omitempty"`
}

// ChatDebug 调试模式附加信息
type ChatDebug struct {
	GroundingLogID string               `json:"grounding_log_id,omitempty"`
	Retrieval      *rag.RetrievalResult `json:"retrieval"`
	Prompt         string               `json:"prompt"`
	ContextChunks  []string             `json:"context_chunks"`
	GlossaryChunks []string             `json:"glossary_chunks"`
	DroppedChunks  []string             `json:"dropped_chunks,omitempty"`
	ContextTokens  int                  `json:"context_tokens"`
	Truncated      bool                 `json:"truncated,omitempty"`
}

// NewChatResponse 由编排器输出构建响应
func NewChatResponse(out *chat.Output) ChatResponse {
	resp := ChatResponse{
		Reply:     out.Reply,
		SessionID: out.SessionID,
		Model:     out.Model,
		Usage:     out.Usage,
	}
	if out.Retrieval == nil && out.Prompt == nil {
		return resp
	}
	debug := &ChatDebug{
		GroundingLogID: out.GroundingLogID,
		Retrieval:      out.Retrieval,
	}
	if p := out.Prompt; p != nil {
		debug.Prompt = p.System
		debug.ContextChunks = nonNil(p.ContextChunkIDs)
		debug.GlossaryChunks = nonNil(p.GlossaryChunkIDs)
		debug.DroppedChunks = p.DroppedChunkIDs
		debug.ContextTokens = p.ContextTokens
		debug.Truncated = p.Truncated
	}
	resp.Debug = debug
	return resp
}

// =============================================================================
// 🔍 Retrieval
// =============================================================================

// RetrieveRequest POST /api/v1/assistants/{id}/retrieve
type RetrieveRequest struct {
	Query         string `json:"query"`
	ForceFallback bool   `json:"force_fallback,omitempty"`
	TopN          int    `json:"top_n,omitempty"`
}

// =============================================================================
// ⚓ Anchors
// =============================================================================

// UpsertAnchorRequest PUT /api/v1/anchors/{slug}
type UpsertAnchorRequest struct {
	Label          string             `json:"label"`
	Aliases        []string           `json:"aliases,omitempty"`
	FallbackScore  float64            `json:"fallback_score"`
	MutationStatus rag.MutationStatus `json:"mutation_status,omitempty"`
}

// AdvanceStageRequest POST /api/v1/anchors/{slug}/stage
type AdvanceStageRequest struct {
	Stage string `json:"stage"`
}

// =============================================================================
// 🩺 Diagnostics
// =============================================================================

// GroundingLogList GET /api/v1/diagnostics/grounding-logs
type GroundingLogList struct {
	Items []rag.GroundingEntry `json:"items"`
	Count int                  `json:"count"`
}

// GroundingLogDetail GET /api/v1/diagnostics/grounding-logs/{id}
type GroundingLogDetail struct {
	Entry    rag.GroundingEntry  `json:"entry"`
	Playback []rag.PlaybackEntry `json:"playback"`
}

// DriftResponse GET /api/v1/diagnostics/drift
type DriftResponse struct {
	Threshold float64           `json:"threshold"`
	Reports   []rag.DriftReport `json:"reports"`
}

// StreamEvent websocket 推送的诊断事件
type StreamEvent struct {
	Type  string              `json:"type"` // grounding / heartbeat
	Entry *rag.GroundingEntry `json:"entry,omitempty"`
	Time  time.Time           `json:"time"`
}

func nonNil(ss []string) []string {
	if ss == nil {
		return []string{}
	}
	return ss
}
