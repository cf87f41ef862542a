package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/BaSui01/groundwork/rag"
)

// defaultLogLimit 未指定 limit 时的诊断日志条数
const defaultLogLimit = 50

// GormStore 基于 GORM 的检索仓储，支持 postgres / mysql / sqlite
type GormStore struct {
	db     *gorm.DB
	logger *zap.Logger
}

var (
	_ rag.Corpus            = (*GormStore)(nil)
	_ rag.AnchorStore       = (*GormStore)(nil)
	_ rag.GroundingLogStore = (*GormStore)(nil)
	_ rag.RepairStore       = (*GormStore)(nil)
	_ rag.DriftStore        = (*GormStore)(nil)
)

// NewGormStore 创建仓储
func NewGormStore(db *gorm.DB, logger *zap.Logger) *GormStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &GormStore{db: db, logger: logger.With(zap.String("component", "rag_store"))}
}

// DB 返回底层连接
func (s *GormStore) DB() *gorm.DB {
	return s.db
}

func notFound(err error, what, id string) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("%s %s: %w", what, id, rag.ErrNotFound)
	}
	return fmt.Errorf("load %s %s: %w", what, id, err)
}

// ============================================================
// 写入（初始化数据 / 测试）
// ============================================================

// CreateAssistant 新建助手
func (s *GormStore) CreateAssistant(ctx context.Context, a rag.Assistant) error {
	row := &Assistant{
		ID:              a.ID,
		Name:            a.Name,
		SystemPrompt:    a.SystemPrompt,
		MemoryContextID: a.MemoryContextID,
	}
	return s.db.WithContext(ctx).Create(row).Error
}

// CreateDocument 新建文档
func (s *GormStore) CreateDocument(ctx context.Context, assistantID, documentID, title string) error {
	return s.db.WithContext(ctx).Create(&Document{ID: documentID, AssistantID: assistantID, Title: title}).Error
}

// CreateChunk 新建分块及其锚点关联
func (s *GormStore) CreateChunk(ctx context.Context, c rag.DocumentChunk) error {
	row, err := fromChunk(c)
	if err != nil {
		return err
	}
	return s.db.WithContext(ctx).Create(row).Error
}

// ============================================================
// Corpus
// ============================================================

func (s *GormStore) GetAssistant(ctx context.Context, id string) (*rag.Assistant, error) {
	var row Assistant
	if err := s.db.WithContext(ctx).First(&row, "id = ?", id).Error; err != nil {
		return nil, notFound(err, "assistant", id)
	}
	return toAssistant(&row), nil
}

func (s *GormStore) CountDocuments(ctx context.Context, assistantID string) (int64, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&Document{}).Where("assistant_id = ?", assistantID).Count(&n).Error
	return n, err
}

func (s *GormStore) FetchEmbeddedChunks(ctx context.Context, assistantID string) ([]rag.DocumentChunk, error) {
	return s.findChunks(s.db.WithContext(ctx).
		Where("assistant_id = ? AND embedding_status = ?", assistantID, string(rag.EmbeddingEmbedded)))
}

func (s *GormStore) findChunks(q *gorm.DB) ([]rag.DocumentChunk, error) {
	var rows []DocumentChunk
	if err := q.Preload("Document").Preload("Anchors").Order("id").Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]rag.DocumentChunk, 0, len(rows))
	for i := range rows {
		c, err := toChunk(&rows[i])
		if err != nil {
			// 损坏的向量列不应让整次检索失败
			s.logger.Warn("skip undecodable chunk", zap.String("chunk_id", rows[i].ID), zap.Error(err))
			continue
		}
		out = append(out, c)
	}
	return out, nil
}

// ============================================================
// AnchorStore
// ============================================================

func (s *GormStore) ListAnchors(ctx context.Context) ([]rag.Anchor, error) {
	var rows []SymbolicMemoryAnchor
	if err := s.db.WithContext(ctx).Order("slug").Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]rag.Anchor, 0, len(rows))
	for i := range rows {
		a, err := toAnchor(&rows[i])
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, nil
}

func (s *GormStore) GetAnchor(ctx context.Context, slug string) (*rag.Anchor, error) {
	var row SymbolicMemoryAnchor
	if err := s.db.WithContext(ctx).First(&row, "slug = ?", slug).Error; err != nil {
		return nil, notFound(err, "anchor", slug)
	}
	a, err := toAnchor(&row)
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func (s *GormStore) UpsertAnchor(ctx context.Context, anchor rag.Anchor) error {
	if anchor.Slug == "" {
		anchor.Slug = rag.Slugify(anchor.Label)
	}
	if anchor.Slug == "" {
		return fmt.Errorf("anchor requires a slug or label")
	}
	if anchor.Stage == "" {
		anchor.Stage = rag.StageUnseen
	}
	if !anchor.Stage.Valid() {
		return fmt.Errorf("unknown acquisition stage %q", anchor.Stage)
	}
	if anchor.MutationStatus == "" {
		anchor.MutationStatus = rag.MutationNone
	}
	if anchor.Label == "" {
		anchor.Label = anchor.Slug
	}
	aliases, err := encodeStrings(anchor.Aliases)
	if err != nil {
		return err
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing SymbolicMemoryAnchor
		err := tx.First(&existing, "slug = ?", anchor.Slug).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			return tx.Create(&SymbolicMemoryAnchor{
				Slug:           anchor.Slug,
				Label:          anchor.Label,
				Aliases:        aliases,
				FallbackScore:  anchor.FallbackScore,
				MutationStatus: string(anchor.MutationStatus),
				Stage:          string(anchor.Stage),
				StageRank:      anchor.Stage.Rank(),
			}).Error
		case err != nil:
			return err
		}

		updates := map[string]any{
			"label":           anchor.Label,
			"aliases":         aliases,
			"fallback_score":  anchor.FallbackScore,
			"mutation_status": string(anchor.MutationStatus),
		}
		// 阶段只升不降
		if anchor.Stage.Rank() > existing.StageRank {
			updates["stage"] = string(anchor.Stage)
			updates["stage_rank"] = anchor.Stage.Rank()
		}
		return tx.Model(&existing).Updates(updates).Error
	})
}

// AdvanceAnchorStage 条件更新 stage_rank <= 目标值，并发后退会被拒绝
func (s *GormStore) AdvanceAnchorStage(ctx context.Context, slug string, to rag.AcquisitionStage) (*rag.Anchor, error) {
	var result rag.Anchor
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var row SymbolicMemoryAnchor
		if err := tx.First(&row, "slug = ?", slug).Error; err != nil {
			return notFound(err, "anchor", slug)
		}
		a, err := toAnchor(&row)
		if err != nil {
			return err
		}
		if err := a.Advance(to); err != nil {
			return err
		}
		now := time.Now().UTC()
		res := tx.Model(&SymbolicMemoryAnchor{}).
			Where("slug = ? AND stage_rank <= ?", slug, to.Rank()).
			Updates(map[string]any{
				"stage":      string(to),
				"stage_rank": to.Rank(),
				"updated_at": now,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			// 读取之后被其他事务推进到了更高阶段
			var current SymbolicMemoryAnchor
			if err := tx.First(&current, "slug = ?", slug).Error; err != nil {
				return notFound(err, "anchor", slug)
			}
			return &rag.StageRegressionError{Slug: slug, From: rag.AcquisitionStage(current.Stage), To: to}
		}
		a.UpdatedAt = now
		result = a
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &result, nil
}

// ============================================================
// GroundingLogStore
// ============================================================

func (s *GormStore) InsertGroundingLog(ctx context.Context, entry *rag.GroundingEntry) error {
	if entry.ID == "" {
		return fmt.Errorf("grounding log requires an id")
	}
	row, err := fromGroundingEntry(entry)
	if err != nil {
		return err
	}
	return s.db.WithContext(ctx).Create(row).Error
}

func (s *GormStore) InsertPlaybackLog(ctx context.Context, entry *rag.PlaybackEntry) error {
	if entry.ID == "" {
		return fmt.Errorf("playback log requires an id")
	}
	return s.db.WithContext(ctx).Create(fromPlaybackEntry(entry)).Error
}

func (s *GormStore) ListGroundingLogs(ctx context.Context, filter rag.GroundingLogFilter) ([]rag.GroundingEntry, error) {
	q := s.db.WithContext(ctx).Model(&RAGGroundingLog{})
	if filter.AssistantID != "" {
		q = q.Where("assistant_id = ?", filter.AssistantID)
	}
	if filter.SessionID != "" {
		q = q.Where("session_id = ?", filter.SessionID)
	}
	if !filter.Since.IsZero() {
		q = q.Where("created_at >= ?", filter.Since)
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = defaultLogLimit
	}

	var rows []RAGGroundingLog
	if err := q.Order("created_at DESC").Order("id DESC").Limit(limit).Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]rag.GroundingEntry, 0, len(rows))
	for i := range rows {
		e, err := toGroundingEntry(&rows[i])
		if err != nil {
			return nil, fmt.Errorf("decode grounding log %s: %w", rows[i].ID, err)
		}
		out = append(out, e)
	}
	return out, nil
}

func (s *GormStore) GetGroundingLog(ctx context.Context, id string) (*rag.GroundingEntry, []rag.PlaybackEntry, error) {
	db := s.db.WithContext(ctx)
	var row RAGGroundingLog
	if err := db.First(&row, "id = ?", id).Error; err != nil {
		return nil, nil, notFound(err, "grounding log", id)
	}
	entry, err := toGroundingEntry(&row)
	if err != nil {
		return nil, nil, err
	}

	var playbacks []RAGPlaybackLog
	if err := db.Where("grounding_log_id = ?", id).Order("created_at").Find(&playbacks).Error; err != nil {
		return nil, nil, err
	}
	out := make([]rag.PlaybackEntry, 0, len(playbacks))
	for i := range playbacks {
		out = append(out, toPlaybackEntry(&playbacks[i]))
	}
	return &entry, out, nil
}

// ============================================================
// RepairStore / DriftStore
// ============================================================

func (s *GormStore) ListChunksForRepair(ctx context.Context, assistantID string) ([]rag.DocumentChunk, error) {
	q := s.db.WithContext(ctx)
	if assistantID != "" {
		q = q.Where("assistant_id = ?", assistantID)
	}
	var rows []DocumentChunk
	if err := q.Preload("Anchors").Order("id").Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]rag.DocumentChunk, 0, len(rows))
	for i := range rows {
		c, err := toChunk(&rows[i])
		if err != nil {
			// 无法解析的向量按缺失处理，交给修复流程重新生成
			s.logger.Warn("chunk embedding unreadable", zap.String("chunk_id", rows[i].ID), zap.Error(err))
			rows[i].Embedding = ""
			c, _ = toChunk(&rows[i])
		}
		out = append(out, c)
	}
	return out, nil
}

func (s *GormStore) UpdateChunkEmbedding(ctx context.Context, chunkID string, embedding []float64, status rag.EmbeddingStatus) error {
	if !status.Valid() {
		return fmt.Errorf("unknown embedding status %q", status)
	}
	var tmp DocumentChunk
	if err := tmp.SetEmbedding(embedding); err != nil {
		return err
	}
	res := s.db.WithContext(ctx).Model(&DocumentChunk{}).Where("id = ?", chunkID).
		Updates(map[string]any{"embedding": tmp.Embedding, "embedding_status": string(status)})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("chunk %s: %w", chunkID, rag.ErrNotFound)
	}
	return nil
}

func (s *GormStore) ListChunksByAnchor(ctx context.Context, slug string) ([]rag.DocumentChunk, error) {
	sub := s.db.Model(&ChunkAnchor{}).Select("chunk_id").Where("anchor_slug = ?", slug)
	return s.findChunks(s.db.WithContext(ctx).Where("id IN (?)", sub))
}
