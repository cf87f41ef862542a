package rag

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/BaSui01/groundwork/config"
	"github.com/BaSui01/groundwork/types"
)

const tracerName = "groundwork/rag"

// ChunkRetriever 向量检索 + 术语加分 + 锚点回退
type ChunkRetriever struct {
	corpus   Corpus
	embedder Embedder
	cfg      atomic.Pointer[config.RetrievalConfig]
	observer Observer
	tracer   trace.Tracer
	logger   *zap.Logger
}

// RetrieverOption 检索器选项
type RetrieverOption func(*ChunkRetriever)

// WithObserver 设置指标回调
func WithObserver(o Observer) RetrieverOption {
	return func(r *ChunkRetriever) {
		if o != nil {
			r.observer = o
		}
	}
}

// NewChunkRetriever 创建检索器
func NewChunkRetriever(corpus Corpus, embedder Embedder, cfg config.RetrievalConfig, logger *zap.Logger, opts ...RetrieverOption) (*ChunkRetriever, error) {
	if corpus == nil {
		return nil, errors.New("corpus cannot be nil")
	}
	if embedder == nil {
		return nil, errors.New("embedder cannot be nil")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	r := &ChunkRetriever{
		corpus:   corpus,
		embedder: embedder,
		observer: nopObserver{},
		tracer:   otel.Tracer(tracerName),
		logger:   logger.With(zap.String("component", "chunk_retriever")),
	}
	r.cfg.Store(&cfg)
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Config 返回当前检索参数
func (r *ChunkRetriever) Config() config.RetrievalConfig {
	return *r.cfg.Load()
}

// UpdateConfig 热更新检索参数
func (r *ChunkRetriever) UpdateConfig(cfg config.RetrievalConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	r.cfg.Store(&cfg)
	r.logger.Info("retrieval config updated",
		zap.Float64("glossary_min_score", cfg.GlossaryMinScore),
		zap.Float64("boost_increment", cfg.BoostIncrement),
		zap.Int("top_n", cfg.TopN),
	)
	return nil
}

// ============================================================
// 🎯 核心方法
// ============================================================

// GetRelevantChunks 为查询检索分块。
// 助手不存在返回 ErrAssistantNotFound；向量化失败降级为零向量，不中断检索。
func (r *ChunkRetriever) GetRelevantChunks(ctx context.Context, req RetrievalRequest) (*RetrievalResult, error) {
	start := time.Now()
	cfg := r.Config()
	topN := cfg.TopN
	if req.TopN > 0 {
		topN = req.TopN
	}

	ctx, span := r.tracer.Start(ctx, "rag.GetRelevantChunks", trace.WithAttributes(
		attribute.String("rag.assistant_id", req.AssistantID),
		attribute.Bool("rag.force_fallback", req.ForceFallback),
		attribute.Int("rag.top_n", topN),
	))
	defer span.End()

	query := strings.TrimSpace(req.Query)
	if query == "" {
		err := types.NewInvalidRequestError("query cannot be empty")
		span.SetStatus(codes.Error, err.Message)
		return nil, err
	}

	assistant, err := r.corpus.GetAssistant(ctx, req.AssistantID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "assistant lookup failed")
		if errors.Is(err, ErrNotFound) {
			return nil, types.NewNotFoundError(types.ErrAssistantNotFound,
				fmt.Sprintf("assistant %s not found", req.AssistantID)).WithCause(err)
		}
		return nil, types.NewInternalError("failed to load assistant", err)
	}

	docCount, err := r.corpus.CountDocuments(ctx, req.AssistantID)
	if err != nil {
		span.RecordError(err)
		return nil, types.NewInternalError("failed to count documents", err)
	}
	if docCount == 0 {
		result := &RetrievalResult{
			Primary:  []ScoredChunk{},
			Fallback: []ScoredChunk{},
			Metadata: RetrievalMetadata{
				FallbackTriggered: true,
				FallbackReason:    ReasonNoDocuments,
				QueryAnchors:      []string{},
				AnchorHits:        []string{},
				AnchorMisses:      []string{},
			},
			Assistant:  assistant,
			Vocabulary: []Anchor{},
		}
		r.finish(span, result, start)
		return result, nil
	}

	chunks, err := r.corpus.FetchEmbeddedChunks(ctx, req.AssistantID)
	if err != nil {
		span.RecordError(err)
		return nil, types.NewInternalError("failed to fetch chunks", err)
	}

	registry, err := r.corpus.ListAnchors(ctx)
	if err != nil {
		// 锚点注册表不可用时只是失去加分与回退能力
		r.logger.Warn("anchor registry unavailable", zap.Error(err))
		registry = nil
	}

	queryVec, embedFailed := r.embedQuery(ctx, query, chunks)
	vocabulary := buildVocabulary(registry, chunks)
	queryAnchors := InferAnchors(query, vocabulary)

	result := r.rank(cfg, topN, req.ForceFallback, queryVec, queryAnchors, chunks)
	result.Metadata.QueryEmbeddingFailed = embedFailed
	result.Assistant = assistant
	result.Vocabulary = vocabulary

	r.finish(span, result, start)
	return result, nil
}

// embedQuery 向量化查询；失败时返回零向量
func (r *ChunkRetriever) embedQuery(ctx context.Context, query string, chunks []DocumentChunk) ([]float64, bool) {
	vec, err := r.embedder.EmbedQuery(ctx, query)
	if err == nil && len(vec) > 0 {
		return vec, false
	}

	dims := r.embedder.Dimensions()
	if dims <= 0 {
		for _, c := range chunks {
			if len(c.Embedding) > 0 {
				dims = len(c.Embedding)
				break
			}
		}
	}
	r.observer.ObserveEmbeddingFailure("query")
	r.logger.Warn("query embedding failed, falling back to zero vector",
		zap.Int("dimensions", dims),
		zap.Error(err),
	)
	return make([]float64, dims), true
}

// candidate 打分后的内部表示
type candidate struct {
	ScoredChunk
	weakGlossary bool
}

// rank 打分、过滤、排序并决定是否回退
func (r *ChunkRetriever) rank(cfg config.RetrievalConfig, topN int, force bool, queryVec []float64, queryAnchors []Anchor, chunks []DocumentChunk) *RetrievalResult {
	policy := BoostPolicy{Increment: cfg.BoostIncrement}
	querySet := anchorSet(queryAnchors)

	meta := RetrievalMetadata{QueryAnchors: slugs(queryAnchors)}
	scored := make([]candidate, 0, len(chunks))
	primary := make([]ScoredChunk, 0, len(chunks))

	for i := range chunks {
		c := &chunks[i]
		if !c.Scorable() {
			continue
		}
		meta.Candidates++

		raw, err := CosineSimilarity(queryVec, c.Embedding)
		if err != nil {
			meta.SkippedChunks++
			r.logger.Warn("skipping chunk with mismatched embedding",
				zap.String("chunk_id", c.ID),
				zap.Int("query_dims", len(queryVec)),
				zap.Int("chunk_dims", len(c.Embedding)),
			)
			continue
		}

		final, boost, matched := policy.Apply(raw, c.AnchorSlugs, querySet)
		cand := candidate{
			ScoredChunk: ScoredChunk{
				ChunkID:       c.ID,
				DocumentID:    c.DocumentID,
				DocumentTitle: c.DocumentTitle,
				Text:          c.Text,
				IsGlossary:    c.IsGlossary,
				GlossaryScore: c.GlossaryScore,
				RawScore:      raw,
				Boost:         boost,
				FinalScore:    final,
				AnchorSlug:    firstNonEmpty(matched, firstSlug(c.AnchorSlugs)),
				AnchorSlugs:   append([]string(nil), c.AnchorSlugs...),
			},
			weakGlossary: c.IsGlossary && c.GlossaryScore < cfg.GlossaryMinScore,
		}
		scored = append(scored, cand)

		if cand.weakGlossary {
			meta.WeakGlossaryExcluded++
			continue
		}
		if clamp01(raw) <= cfg.MinSimilarity {
			continue
		}
		primary = append(primary, cand.ScoredChunk)
	}

	sortScored(primary)
	primary = truncate(primary, topN)

	result := &RetrievalResult{Primary: primary, Fallback: []ScoredChunk{}}

	switch {
	case force:
		meta.FallbackTriggered = true
		meta.FallbackReason = ReasonForced
	case len(primary) == 0 && meta.WeakGlossaryExcluded > 0:
		meta.FallbackTriggered = true
		meta.FallbackReason = ReasonWeakGlossary
	case len(primary) == 0:
		meta.FallbackTriggered = true
		meta.FallbackReason = ReasonNoCandidates
	}

	if meta.FallbackTriggered {
		result.Fallback, meta.FallbackAnchor = anchorFallback(scored, queryAnchors, force, topN)
	}

	used := result.Primary
	if meta.FallbackTriggered {
		used = result.Fallback
	}
	if len(used) > 0 {
		meta.RetrievalScore = used[0].FinalScore
	}
	meta.AnchorHits, meta.AnchorMisses = anchorHitsAndMisses(queryAnchors, used)

	result.Metadata = meta
	return result
}

// anchorFallback 按锚点优先级取第一个有可用分块的锚点；弱术语块只在强制回退时可用
func anchorFallback(scored []candidate, queryAnchors []Anchor, force bool, topN int) ([]ScoredChunk, string) {
	for _, a := range queryAnchors {
		var picked []ScoredChunk
		for _, c := range scored {
			if c.weakGlossary && !force {
				continue
			}
			if !containsString(c.AnchorSlugs, a.Slug) {
				continue
			}
			sc := c.ScoredChunk
			sc.AnchorSlug = a.Slug
			picked = append(picked, sc)
		}
		if len(picked) > 0 {
			sortScored(picked)
			return truncate(picked, topN), a.Slug
		}
	}
	return []ScoredChunk{}, ""
}

func (r *ChunkRetriever) finish(span trace.Span, result *RetrievalResult, start time.Time) {
	elapsed := time.Since(start)
	result.Metadata.DurationMS = elapsed.Milliseconds()
	meta := result.Metadata

	r.observer.ObserveRetrieval(meta.FallbackReason, meta.FallbackTriggered, meta.Candidates, elapsed)
	span.SetAttributes(
		attribute.Bool("rag.fallback", meta.FallbackTriggered),
		attribute.String("rag.fallback_reason", string(meta.FallbackReason)),
		attribute.Int("rag.candidates", meta.Candidates),
		attribute.Int("rag.used", len(result.Used())),
		attribute.Float64("rag.retrieval_score", meta.RetrievalScore),
	)

	r.logger.Debug("retrieval completed",
		zap.Bool("fallback", meta.FallbackTriggered),
		zap.String("reason", string(meta.FallbackReason)),
		zap.Int("candidates", meta.Candidates),
		zap.Int("primary", len(result.Primary)),
		zap.Int("fallback_chunks", len(result.Fallback)),
		zap.Duration("duration", elapsed),
	)
}

// ============================================================
// 🔧 辅助函数
// ============================================================

// sortScored 最终分数降序，其次原始分数降序，最后 chunk id 升序
func sortScored(chunks []ScoredChunk) {
	sort.Slice(chunks, func(i, j int) bool {
		a, b := chunks[i], chunks[j]
		if a.FinalScore != b.FinalScore {
			return a.FinalScore > b.FinalScore
		}
		if a.RawScore != b.RawScore {
			return a.RawScore > b.RawScore
		}
		return a.ChunkID < b.ChunkID
	})
}

func truncate(chunks []ScoredChunk, n int) []ScoredChunk {
	if n > 0 && len(chunks) > n {
		return chunks[:n]
	}
	return chunks
}

func anchorHitsAndMisses(queryAnchors []Anchor, used []ScoredChunk) ([]string, []string) {
	hits := []string{}
	misses := []string{}
	for _, a := range queryAnchors {
		hit := false
		for _, c := range used {
			if containsString(c.AnchorSlugs, a.Slug) {
				hit = true
				break
			}
		}
		if hit {
			hits = append(hits, a.Slug)
		} else {
			misses = append(misses, a.Slug)
		}
	}
	sort.Strings(hits)
	sort.Strings(misses)
	return hits, misses
}

func slugs(anchors []Anchor) []string {
	out := make([]string, 0, len(anchors))
	for _, a := range anchors {
		out = append(out, a.Slug)
	}
	return out
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func firstSlug(list []string) string {
	if len(list) > 0 {
		return list[0]
	}
	return ""
}

func firstNonEmpty(a, b string) string {
	if a != "" {
		return a
	}
	return b
}
