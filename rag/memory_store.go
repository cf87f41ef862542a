package rag

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// ====== 内存存储（用于测试和小规模部署）======

// MemoryStore 实现 Corpus、AnchorStore、GroundingLogStore、RepairStore、DriftStore
type MemoryStore struct {
	mu         sync.RWMutex
	assistants map[string]Assistant
	documents  map[string]map[string]struct{}
	chunks     map[string]DocumentChunk
	order      []string
	anchors    map[string]Anchor

	grounding []GroundingEntry
	playback  []PlaybackEntry
}

// NewMemoryStore 创建内存存储
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		assistants: make(map[string]Assistant),
		documents:  make(map[string]map[string]struct{}),
		chunks:     make(map[string]DocumentChunk),
		anchors:    make(map[string]Anchor),
	}
}

// PutAssistant 添加或替换助手
func (s *MemoryStore) PutAssistant(a Assistant) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.assistants[a.ID] = a
	if _, ok := s.documents[a.ID]; !ok {
		s.documents[a.ID] = make(map[string]struct{})
	}
}

// PutDocument 登记文档
func (s *MemoryStore) PutDocument(assistantID, documentID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.documents[assistantID]; !ok {
		s.documents[assistantID] = make(map[string]struct{})
	}
	s.documents[assistantID][documentID] = struct{}{}
}

// PutChunk 添加或替换分块，同时登记其文档
func (s *MemoryStore) PutChunk(c DocumentChunk) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.chunks[c.ID]; !ok {
		s.order = append(s.order, c.ID)
	}
	c.Embedding = append([]float64(nil), c.Embedding...)
	c.AnchorSlugs = append([]string(nil), c.AnchorSlugs...)
	s.chunks[c.ID] = c
	if _, ok := s.documents[c.AssistantID]; !ok {
		s.documents[c.AssistantID] = make(map[string]struct{})
	}
	s.documents[c.AssistantID][c.DocumentID] = struct{}{}
}

// Chunk 返回分块副本
func (s *MemoryStore) Chunk(id string) (DocumentChunk, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.chunks[id]
	return c, ok
}

// --- Corpus ---

func (s *MemoryStore) GetAssistant(_ context.Context, id string) (*Assistant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.assistants[id]
	if !ok {
		return nil, fmt.Errorf("assistant %s: %w", id, ErrNotFound)
	}
	return &a, nil
}

func (s *MemoryStore) CountDocuments(_ context.Context, assistantID string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return int64(len(s.documents[assistantID])), nil
}

func (s *MemoryStore) FetchEmbeddedChunks(_ context.Context, assistantID string) ([]DocumentChunk, error) {
	return s.filterChunks(func(c DocumentChunk) bool {
		return c.AssistantID == assistantID && c.EmbeddingStatus == EmbeddingEmbedded
	}), nil
}

func (s *MemoryStore) ListAnchors(_ context.Context) ([]Anchor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Anchor, 0, len(s.anchors))
	for _, a := range s.anchors {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Slug < out[j].Slug })
	return out, nil
}

// --- AnchorStore ---

func (s *MemoryStore) GetAnchor(_ context.Context, slug string) (*Anchor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.anchors[slug]
	if !ok {
		return nil, fmt.Errorf("anchor %s: %w", slug, ErrNotFound)
	}
	return &a, nil
}

func (s *MemoryStore) UpsertAnchor(_ context.Context, anchor Anchor) error {
	if anchor.Slug == "" {
		anchor.Slug = Slugify(anchor.Label)
	}
	if anchor.Slug == "" {
		return fmt.Errorf("anchor requires a slug or label")
	}
	if anchor.Stage == "" {
		anchor.Stage = StageUnseen
	}
	if anchor.MutationStatus == "" {
		anchor.MutationStatus = MutationNone
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.anchors[anchor.Slug]; ok && existing.Stage.Rank() > anchor.Stage.Rank() {
		anchor.Stage = existing.Stage
	}
	anchor.UpdatedAt = time.Now().UTC()
	s.anchors[anchor.Slug] = anchor
	return nil
}

func (s *MemoryStore) AdvanceAnchorStage(_ context.Context, slug string, to AcquisitionStage) (*Anchor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.anchors[slug]
	if !ok {
		return nil, fmt.Errorf("anchor %s: %w", slug, ErrNotFound)
	}
	if err := a.Advance(to); err != nil {
		return nil, err
	}
	a.UpdatedAt = time.Now().UTC()
	s.anchors[slug] = a
	return &a, nil
}

// --- GroundingLogStore ---

func (s *MemoryStore) InsertGroundingLog(_ context.Context, entry *GroundingEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.grounding {
		if e.ID == entry.ID {
			return fmt.Errorf("grounding log %s already exists", entry.ID)
		}
	}
	s.grounding = append(s.grounding, *entry)
	return nil
}

func (s *MemoryStore) InsertPlaybackLog(_ context.Context, entry *PlaybackEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.playback = append(s.playback, *entry)
	return nil
}

func (s *MemoryStore) ListGroundingLogs(_ context.Context, filter GroundingLogFilter) ([]GroundingEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]GroundingEntry, 0)
	for i := len(s.grounding) - 1; i >= 0; i-- {
		e := s.grounding[i]
		if filter.AssistantID != "" && e.AssistantID != filter.AssistantID {
			continue
		}
		if filter.SessionID != "" && e.SessionID != filter.SessionID {
			continue
		}
		if !filter.Since.IsZero() && e.CreatedAt.Before(filter.Since) {
			continue
		}
		out = append(out, e)
		if filter.Limit > 0 && len(out) >= filter.Limit {
			break
		}
	}
	return out, nil
}

func (s *MemoryStore) GetGroundingLog(_ context.Context, id string) (*GroundingEntry, []PlaybackEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, e := range s.grounding {
		if e.ID != id {
			continue
		}
		entry := e
		playback := make([]PlaybackEntry, 0)
		for _, p := range s.playback {
			if p.GroundingLogID == id {
				playback = append(playback, p)
			}
		}
		return &entry, playback, nil
	}
	return nil, nil, fmt.Errorf("grounding log %s: %w", id, ErrNotFound)
}

// --- RepairStore / DriftStore ---

func (s *MemoryStore) ListChunksForRepair(_ context.Context, assistantID string) ([]DocumentChunk, error) {
	return s.filterChunks(func(c DocumentChunk) bool {
		return assistantID == "" || c.AssistantID == assistantID
	}), nil
}

func (s *MemoryStore) UpdateChunkEmbedding(_ context.Context, chunkID string, embedding []float64, status EmbeddingStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.chunks[chunkID]
	if !ok {
		return fmt.Errorf("chunk %s: %w", chunkID, ErrNotFound)
	}
	c.Embedding = append([]float64(nil), embedding...)
	c.EmbeddingStatus = status
	s.chunks[chunkID] = c
	return nil
}

func (s *MemoryStore) ListChunksByAnchor(_ context.Context, slug string) ([]DocumentChunk, error) {
	return s.filterChunks(func(c DocumentChunk) bool {
		return containsString(c.AnchorSlugs, slug)
	}), nil
}

func (s *MemoryStore) filterChunks(keep func(DocumentChunk) bool) []DocumentChunk {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]DocumentChunk, 0)
	for _, id := range s.order {
		c := s.chunks[id]
		if keep(c) {
			c.Embedding = append([]float64(nil), c.Embedding...)
			c.AnchorSlugs = append([]string(nil), c.AnchorSlugs...)
			out = append(out, c)
		}
	}
	return out
}
