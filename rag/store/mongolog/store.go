// Package mongolog 将检索诊断日志写入 MongoDB，适用于日志量较大、
// 不希望占用关系库的部署。
package mongolog

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.uber.org/zap"

	"github.com/BaSui01/groundwork/config"
	"github.com/BaSui01/groundwork/rag"
)

const (
	groundingCollection = "rag_grounding_logs"
	playbackCollection  = "rag_playback_logs"
	defaultLimit        = 50
)

// ============================================================
// 文档结构
// ============================================================

type scoreDoc struct {
	ChunkID string  `bson:"chunk_id"`
	Score   float64 `bson:"score"`
}

// 分数以数组保存，chunk id 可能包含 '.'，不能作为 bson 键
type groundingDoc struct {
	ID                string     `bson:"_id"`
	AssistantID       string     `bson:"assistant_id"`
	SessionID         string     `bson:"session_id,omitempty"`
	Query             string     `bson:"query"`
	UsedChunkIDs      []string   `bson:"used_chunk_ids"`
	Scores            []scoreDoc `bson:"scores"`
	FallbackTriggered bool       `bson:"fallback_triggered"`
	FallbackReason    string     `bson:"fallback_reason,omitempty"`
	FallbackAnchor    string     `bson:"fallback_anchor,omitempty"`
	RetrievalScore    float64    `bson:"retrieval_score"`
	AnchorHits        []string   `bson:"anchor_hits"`
	AnchorMisses      []string   `bson:"anchor_misses"`
	GlossaryInjected  bool       `bson:"glossary_injected"`
	CreatedAt         time.Time  `bson:"created_at"`
}

type playbackDoc struct {
	ID             string    `bson:"_id"`
	GroundingLogID string    `bson:"grounding_log_id"`
	AssistantID    string    `bson:"assistant_id"`
	SessionID      string    `bson:"session_id,omitempty"`
	Prompt         string    `bson:"prompt"`
	Reply          string    `bson:"reply"`
	Model          string    `bson:"model,omitempty"`
	LatencyMS      int64     `bson:"latency_ms"`
	CreatedAt      time.Time `bson:"created_at"`
}

func nonNil(ss []string) []string {
	if ss == nil {
		return []string{}
	}
	return ss
}

func toGroundingDoc(e *rag.GroundingEntry) groundingDoc {
	scores := make([]scoreDoc, 0, len(e.Scores))
	for id, s := range e.Scores {
		scores = append(scores, scoreDoc{ChunkID: id, Score: s})
	}
	sort.Slice(scores, func(i, j int) bool { return scores[i].ChunkID < scores[j].ChunkID })
	return groundingDoc{
		ID:                e.ID,
		AssistantID:       e.AssistantID,
		SessionID:         e.SessionID,
		Query:             e.Query,
		UsedChunkIDs:      nonNil(e.UsedChunkIDs),
		Scores:            scores,
		FallbackTriggered: e.FallbackTriggered,
		FallbackReason:    string(e.FallbackReason),
		FallbackAnchor:    e.FallbackAnchor,
		RetrievalScore:    e.RetrievalScore,
		AnchorHits:        nonNil(e.AnchorHits),
		AnchorMisses:      nonNil(e.AnchorMisses),
		GlossaryInjected:  e.GlossaryInjected,
		CreatedAt:         e.CreatedAt.UTC(),
	}
}

func (d *groundingDoc) entry() rag.GroundingEntry {
	scores := make(map[string]float64, len(d.Scores))
	for _, s := range d.Scores {
		scores[s.ChunkID] = s.Score
	}
	return rag.GroundingEntry{
		ID:                d.ID,
		AssistantID:       d.AssistantID,
		SessionID:         d.SessionID,
		Query:             d.Query,
		UsedChunkIDs:      nonNil(d.UsedChunkIDs),
		Scores:            scores,
		FallbackTriggered: d.FallbackTriggered,
		FallbackReason:    rag.FallbackReason(d.FallbackReason),
		FallbackAnchor:    d.FallbackAnchor,
		RetrievalScore:    d.RetrievalScore,
		AnchorHits:        nonNil(d.AnchorHits),
		AnchorMisses:      nonNil(d.AnchorMisses),
		GlossaryInjected:  d.GlossaryInjected,
		CreatedAt:         d.CreatedAt.UTC(),
	}
}

func toPlaybackDoc(e *rag.PlaybackEntry) playbackDoc {
	return playbackDoc{
		ID:             e.ID,
		GroundingLogID: e.GroundingLogID,
		AssistantID:    e.AssistantID,
		SessionID:      e.SessionID,
		Prompt:         e.Prompt,
		Reply:          e.Reply,
		Model:          e.Model,
		LatencyMS:      e.LatencyMS,
		CreatedAt:      e.CreatedAt.UTC(),
	}
}

func (d *playbackDoc) entry() rag.PlaybackEntry {
	return rag.PlaybackEntry{
		ID:             d.ID,
		GroundingLogID: d.GroundingLogID,
		AssistantID:    d.AssistantID,
		SessionID:      d.SessionID,
		Prompt:         d.Prompt,
		Reply:          d.Reply,
		Model:          d.Model,
		LatencyMS:      d.LatencyMS,
		CreatedAt:      d.CreatedAt.UTC(),
	}
}

// buildFilter 将查询条件转换为 bson 过滤器
func buildFilter(f rag.GroundingLogFilter) bson.D {
	filter := bson.D{}
	if f.AssistantID != "" {
		filter = append(filter, bson.E{Key: "assistant_id", Value: f.AssistantID})
	}
	if f.SessionID != "" {
		filter = append(filter, bson.E{Key: "session_id", Value: f.SessionID})
	}
	if !f.Since.IsZero() {
		filter = append(filter, bson.E{Key: "created_at", Value: bson.D{{Key: "$gte", Value: f.Since.UTC()}}})
	}
	return filter
}

// ============================================================
// Store
// ============================================================

// Store MongoDB 诊断日志存储，只追加不修改
type Store struct {
	client    *mongo.Client
	grounding *mongo.Collection
	playback  *mongo.Collection
	logger    *zap.Logger
}

var _ rag.GroundingLogStore = (*Store)(nil)

// Open 连接 MongoDB 并确保索引存在
func Open(ctx context.Context, cfg config.MongoConfig, logger *zap.Logger) (*Store, error) {
	if cfg.URI == "" {
		return nil, errors.New("mongo uri is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	client, err := mongo.Connect(options.Client().ApplyURI(cfg.URI).SetTimeout(cfg.Timeout))
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	defer cancel()
	if err := client.Ping(pingCtx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("ping mongo: %w", err)
	}

	s := New(client.Database(cfg.Database), logger)
	s.client = client
	if err := s.EnsureIndexes(ctx); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, err
	}
	logger.Info("mongo grounding log sink ready", zap.String("database", cfg.Database))
	return s, nil
}

// New 基于已有数据库句柄创建存储，不负责关闭连接
func New(db *mongo.Database, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		grounding: db.Collection(groundingCollection),
		playback:  db.Collection(playbackCollection),
		logger:    logger.With(zap.String("component", "mongo_grounding_log")),
	}
}

// EnsureIndexes 创建查询所需索引
func (s *Store) EnsureIndexes(ctx context.Context) error {
	_, err := s.grounding.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "assistant_id", Value: 1}, {Key: "created_at", Value: -1}}},
		{Keys: bson.D{{Key: "session_id", Value: 1}}},
	})
	if err != nil {
		return fmt.Errorf("create grounding indexes: %w", err)
	}
	_, err = s.playback.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "grounding_log_id", Value: 1}},
	})
	if err != nil {
		return fmt.Errorf("create playback indexes: %w", err)
	}
	return nil
}

// Ping 健康检查
func (s *Store) Ping(ctx context.Context) error {
	if s.client == nil {
		return nil
	}
	return s.client.Ping(ctx, nil)
}

// Close 断开 Open 创建的连接
func (s *Store) Close(ctx context.Context) error {
	if s.client == nil {
		return nil
	}
	return s.client.Disconnect(ctx)
}

func (s *Store) InsertGroundingLog(ctx context.Context, entry *rag.GroundingEntry) error {
	if entry.ID == "" {
		return errors.New("grounding log requires an id")
	}
	if _, err := s.grounding.InsertOne(ctx, toGroundingDoc(entry)); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return fmt.Errorf("grounding log %s already exists: %w", entry.ID, err)
		}
		return fmt.Errorf("insert grounding log: %w", err)
	}
	return nil
}

func (s *Store) InsertPlaybackLog(ctx context.Context, entry *rag.PlaybackEntry) error {
	if entry.ID == "" {
		return errors.New("playback log requires an id")
	}
	if _, err := s.playback.InsertOne(ctx, toPlaybackDoc(entry)); err != nil {
		return fmt.Errorf("insert playback log: %w", err)
	}
	return nil
}

func (s *Store) ListGroundingLogs(ctx context.Context, filter rag.GroundingLogFilter) ([]rag.GroundingEntry, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = defaultLimit
	}
	opts := options.Find().
		SetSort(bson.D{{Key: "created_at", Value: -1}, {Key: "_id", Value: -1}}).
		SetLimit(int64(limit))

	cur, err := s.grounding.Find(ctx, buildFilter(filter), opts)
	if err != nil {
		return nil, fmt.Errorf("find grounding logs: %w", err)
	}
	var docs []groundingDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("decode grounding logs: %w", err)
	}
	out := make([]rag.GroundingEntry, 0, len(docs))
	for i := range docs {
		out = append(out, docs[i].entry())
	}
	return out, nil
}

func (s *Store) GetGroundingLog(ctx context.Context, id string) (*rag.GroundingEntry, []rag.PlaybackEntry, error) {
	var doc groundingDoc
	err := s.grounding.FindOne(ctx, bson.D{{Key: "_id", Value: id}}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil, fmt.Errorf("grounding log %s: %w", id, rag.ErrNotFound)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("load grounding log %s: %w", id, err)
	}

	cur, err := s.playback.Find(ctx, bson.D{{Key: "grounding_log_id", Value: id}},
		options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}}))
	if err != nil {
		return nil, nil, fmt.Errorf("find playback logs: %w", err)
	}
	var pbs []playbackDoc
	if err := cur.All(ctx, &pbs); err != nil {
		return nil, nil, fmt.Errorf("decode playback logs: %w", err)
	}

	entry := doc.entry()
	out := make([]rag.PlaybackEntry, 0, len(pbs))
	for i := range pbs {
		out = append(out, pbs[i].entry())
	}
	return &entry, out, nil
}
