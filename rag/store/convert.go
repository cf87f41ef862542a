package store

import (
	"encoding/json"
	"fmt"

	"github.com/BaSui01/groundwork/rag"
)

// ====== JSON 列编解码 ======

func encodeJSON(v any) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func encodeStrings(ss []string) (string, error) {
	if len(ss) == 0 {
		return "[]", nil
	}
	return encodeJSON(ss)
}

// decodeStrings 空列返回非 nil 的空切片
func decodeStrings(s string) ([]string, error) {
	out := []string{}
	if s == "" {
		return out, nil
	}
	if err := json.Unmarshal([]byte(s), &out); err != nil {
		return nil, err
	}
	return out, nil
}

// ====== 模型 <-> 领域类型 ======

func toAssistant(m *Assistant) *rag.Assistant {
	return &rag.Assistant{
		ID:              m.ID,
		Name:            m.Name,
		SystemPrompt:    m.SystemPrompt,
		MemoryContextID: m.MemoryContextID,
	}
}

func toChunk(m *DocumentChunk) (rag.DocumentChunk, error) {
	vec, err := m.EmbeddingVector()
	if err != nil {
		return rag.DocumentChunk{}, fmt.Errorf("decode embedding of chunk %s: %w", m.ID, err)
	}
	c := rag.DocumentChunk{
		ID:              m.ID,
		DocumentID:      m.DocumentID,
		AssistantID:     m.AssistantID,
		Text:            m.Text,
		Embedding:       vec,
		EmbeddingStatus: rag.EmbeddingStatus(m.EmbeddingStatus),
		IsGlossary:      m.IsGlossary,
		GlossaryScore:   m.GlossaryScore,
	}
	if m.Document != nil {
		c.DocumentTitle = m.Document.Title
	}
	for _, a := range m.Anchors {
		c.AnchorSlugs = append(c.AnchorSlugs, a.AnchorSlug)
	}
	return c, nil
}

func fromChunk(c rag.DocumentChunk) (*DocumentChunk, error) {
	status := c.EmbeddingStatus
	if status == "" {
		status = rag.EmbeddingPending
	}
	m := &DocumentChunk{
		ID:              c.ID,
		DocumentID:      c.DocumentID,
		AssistantID:     c.AssistantID,
		Text:            c.Text,
		EmbeddingStatus: string(status),
		IsGlossary:      c.IsGlossary,
		GlossaryScore:   c.GlossaryScore,
	}
	if err := m.SetEmbedding(c.Embedding); err != nil {
		return nil, err
	}
	for _, slug := range c.AnchorSlugs {
		m.Anchors = append(m.Anchors, ChunkAnchor{ChunkID: c.ID, AnchorSlug: slug})
	}
	return m, nil
}

func toAnchor(m *SymbolicMemoryAnchor) (rag.Anchor, error) {
	aliases, err := decodeStrings(m.Aliases)
	if err != nil {
		return rag.Anchor{}, fmt.Errorf("decode aliases of anchor %s: %w", m.Slug, err)
	}
	return rag.Anchor{
		Slug:           m.Slug,
		Label:          m.Label,
		Aliases:        aliases,
		FallbackScore:  m.FallbackScore,
		MutationStatus: rag.MutationStatus(m.MutationStatus),
		Stage:          rag.AcquisitionStage(m.Stage),
		UpdatedAt:      m.UpdatedAt,
	}, nil
}

func fromGroundingEntry(e *rag.GroundingEntry) (*RAGGroundingLog, error) {
	used, err := encodeStrings(e.UsedChunkIDs)
	if err != nil {
		return nil, err
	}
	scores := "{}"
	if len(e.Scores) > 0 {
		if scores, err = encodeJSON(e.Scores); err != nil {
			return nil, err
		}
	}
	hits, err := encodeStrings(e.AnchorHits)
	if err != nil {
		return nil, err
	}
	misses, err := encodeStrings(e.AnchorMisses)
	if err != nil {
		return nil, err
	}
	return &RAGGroundingLog{
		ID:                e.ID,
		AssistantID:       e.AssistantID,
		SessionID:         e.SessionID,
		Query:             e.Query,
		UsedChunkIDs:      used,
		Scores:            scores,
		FallbackTriggered: e.FallbackTriggered,
		FallbackReason:    string(e.FallbackReason),
		FallbackAnchor:    e.FallbackAnchor,
		RetrievalScore:    e.RetrievalScore,
		AnchorHits:        hits,
		AnchorMisses:      misses,
		GlossaryInjected:  e.GlossaryInjected,
		CreatedAt:         e.CreatedAt,
	}, nil
}

func toGroundingEntry(m *RAGGroundingLog) (rag.GroundingEntry, error) {
	used, err := decodeStrings(m.UsedChunkIDs)
	if err != nil {
		return rag.GroundingEntry{}, err
	}
	scores := map[string]float64{}
	if m.Scores != "" {
		if err := json.Unmarshal([]byte(m.Scores), &scores); err != nil {
			return rag.GroundingEntry{}, err
		}
	}
	hits, err := decodeStrings(m.AnchorHits)
	if err != nil {
		return rag.GroundingEntry{}, err
	}
	misses, err := decodeStrings(m.AnchorMisses)
	if err != nil {
		return rag.GroundingEntry{}, err
	}
	return rag.GroundingEntry{
		ID:                m.ID,
		AssistantID:       m.AssistantID,
		SessionID:         m.SessionID,
		Query:             m.Query,
		UsedChunkIDs:      used,
		Scores:            scores,
		FallbackTriggered: m.FallbackTriggered,
		FallbackReason:    rag.FallbackReason(m.FallbackReason),
		FallbackAnchor:    m.FallbackAnchor,
		RetrievalScore:    m.RetrievalScore,
		AnchorHits:        hits,
		AnchorMisses:      misses,
		GlossaryInjected:  m.GlossaryInjected,
		CreatedAt:         m.CreatedAt.UTC(),
	}, nil
}

func fromPlaybackEntry(e *rag.PlaybackEntry) *RAGPlaybackLog {
	return &RAGPlaybackLog{
		ID:             e.ID,
		GroundingLogID: e.GroundingLogID,
		AssistantID:    e.AssistantID,
		SessionID:      e.SessionID,
		Prompt:         e.Prompt,
		Reply:          e.Reply,
		Model:          e.Model,
		LatencyMS:      e.LatencyMS,
		CreatedAt:      e.CreatedAt,
	}
}

func toPlaybackEntry(m *RAGPlaybackLog) rag.PlaybackEntry {
	return rag.PlaybackEntry{
		ID:             m.ID,
		GroundingLogID: m.GroundingLogID,
		AssistantID:    m.AssistantID,
		SessionID:      m.SessionID,
		Prompt:         m.Prompt,
		Reply:          m.Reply,
		Model:          m.Model,
		LatencyMS:      m.LatencyMS,
		CreatedAt:      m.CreatedAt.UTC(),
	}
}
