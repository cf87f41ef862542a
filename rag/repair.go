package rag

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// RepairAction 修复动作
type RepairAction string

const (
	ActionMarkPending  RepairAction = "mark_pending"
	ActionMarkEmbedded RepairAction = "mark_embedded"
	ActionReembed      RepairAction = "reembed"
	ActionMarkFailed   RepairAction = "mark_failed"
)

// RepairOptions 修复参数
type RepairOptions struct {
	AssistantID string
	// Reembed 为 pending / failed 分块重新生成向量
	Reembed bool
	// DryRun 只报告计划动作
	DryRun bool
	// Dimensions 期望的向量维度，0 表示不校验
	Dimensions  int
	BatchSize   int
	Concurrency int
}

// RepairChange 单个分块的修复记录
type RepairChange struct {
	ChunkID string          `json:"chunk_id"`
	From    EmbeddingStatus `json:"from"`
	Action  RepairAction    `json:"action"`
}

// RepairReport 修复汇总
type RepairReport struct {
	Scanned        int            `json:"scanned"`
	MarkedPending  int            `json:"marked_pending"`
	MarkedEmbedded int            `json:"marked_embedded"`
	Reembedded     int            `json:"reembedded"`
	Failed         int            `json:"failed"`
	DryRun         bool           `json:"dry_run"`
	Changes        []RepairChange `json:"changes"`
}

// EmbeddingRepairer 修复 embedding_status 与向量不一致的分块
type EmbeddingRepairer struct {
	store    RepairStore
	embedder DocumentEmbedder
	logger   *zap.Logger
}

// NewEmbeddingRepairer 创建修复器，embedder 可为 nil（此时不支持 Reembed）
func NewEmbeddingRepairer(store RepairStore, embedder DocumentEmbedder, logger *zap.Logger) *EmbeddingRepairer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EmbeddingRepairer{
		store:    store,
		embedder: embedder,
		logger:   logger.With(zap.String("component", "embedding_repairer")),
	}
}

// Repair 扫描并修复分块状态
func (r *EmbeddingRepairer) Repair(ctx context.Context, opts RepairOptions) (*RepairReport, error) {
	if opts.Reembed && r.embedder == nil && !opts.DryRun {
		return nil, errors.New("reembed requires an embedder")
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 32
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 1
	}

	chunks, err := r.store.ListChunksForRepair(ctx, opts.AssistantID)
	if err != nil {
		return nil, fmt.Errorf("list chunks: %w", err)
	}

	report := &RepairReport{Scanned: len(chunks), DryRun: opts.DryRun, Changes: []RepairChange{}}
	var queue []DocumentChunk

	for _, c := range chunks {
		hasVector := len(c.Embedding) > 0 && (opts.Dimensions == 0 || len(c.Embedding) == opts.Dimensions)

		switch {
		case c.EmbeddingStatus == EmbeddingEmbedded && hasVector:
			continue

		case c.EmbeddingStatus == EmbeddingEmbedded:
			report.MarkedPending++
			report.Changes = append(report.Changes, RepairChange{ChunkID: c.ID, From: c.EmbeddingStatus, Action: ActionMarkPending})
			if !opts.DryRun {
				if err := r.store.UpdateChunkEmbedding(ctx, c.ID, nil, EmbeddingPending); err != nil {
					return report, fmt.Errorf("mark chunk %s pending: %w", c.ID, err)
				}
			}
			if opts.Reembed {
				queue = append(queue, c)
			}

		case hasVector:
			report.MarkedEmbedded++
			report.Changes = append(report.Changes, RepairChange{ChunkID: c.ID, From: c.EmbeddingStatus, Action: ActionMarkEmbedded})
			if !opts.DryRun {
				if err := r.store.UpdateChunkEmbedding(ctx, c.ID, c.Embedding, EmbeddingEmbedded); err != nil {
					return report, fmt.Errorf("mark chunk %s embedded: %w", c.ID, err)
				}
			}

		case opts.Reembed:
			queue = append(queue, c)
		}
	}

	if len(queue) == 0 {
		return report, nil
	}
	if opts.DryRun {
		for _, c := range queue {
			report.Changes = append(report.Changes, RepairChange{ChunkID: c.ID, From: c.EmbeddingStatus, Action: ActionReembed})
		}
		return report, nil
	}

	if err := r.reembed(ctx, queue, opts, report); err != nil {
		return report, err
	}

	r.logger.Info("embedding repair finished",
		zap.Int("scanned", report.Scanned),
		zap.Int("marked_pending", report.MarkedPending),
		zap.Int("marked_embedded", report.MarkedEmbedded),
		zap.Int("reembedded", report.Reembedded),
		zap.Int("failed", report.Failed),
	)
	return report, nil
}

// reembed 分批并发向量化；向量化失败标记 failed，存储失败中止
func (r *EmbeddingRepairer) reembed(ctx context.Context, queue []DocumentChunk, opts RepairOptions, report *RepairReport) error {
	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(opts.Concurrency)

	for start := 0; start < len(queue); start += opts.BatchSize {
		end := start + opts.BatchSize
		if end > len(queue) {
			end = len(queue)
		}
		batch := queue[start:end]

		g.Go(func() error {
			texts := make([]string, len(batch))
			for i, c := range batch {
				texts[i] = c.Text
			}

			vectors, err := r.embedder.EmbedDocuments(gctx, texts)
			if err == nil && len(vectors) != len(batch) {
				err = fmt.Errorf("embedder returned %d vectors for %d texts", len(vectors), len(batch))
			}

			for i, c := range batch {
				status := EmbeddingEmbedded
				var vec []float64
				action := ActionReembed
				if err != nil {
					status, action = EmbeddingFailed, ActionMarkFailed
				} else {
					vec = vectors[i]
					if len(vec) == 0 || (opts.Dimensions > 0 && len(vec) != opts.Dimensions) {
						status, action, vec = EmbeddingFailed, ActionMarkFailed, nil
					}
				}

				if uerr := r.store.UpdateChunkEmbedding(gctx, c.ID, vec, status); uerr != nil {
					return fmt.Errorf("update chunk %s: %w", c.ID, uerr)
				}

				mu.Lock()
				if status == EmbeddingEmbedded {
					report.Reembedded++
				} else {
					report.Failed++
				}
				report.Changes = append(report.Changes, RepairChange{ChunkID: c.ID, From: c.EmbeddingStatus, Action: action})
				mu.Unlock()
			}

			if err != nil {
				r.logger.Warn("batch embedding failed", zap.Int("batch_size", len(batch)), zap.Error(err))
			}
			return nil
		})
	}

	return g.Wait()
}
