package rag

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ====== 诊断日志条目 ======

// GroundingEntry 一次检索决策的审计记录，写入后不可修改
type GroundingEntry struct {
	ID                string             `json:"id"`
	AssistantID       string             `json:"assistant_id"`
	SessionID         string             `json:"session_id"`
	Query             string             `json:"query"`
	UsedChunkIDs      []string           `json:"used_chunk_ids"`
	Scores            map[string]float64 `json:"scores"`
	FallbackTriggered bool               `json:"fallback_triggered"`
	FallbackReason    FallbackReason     `json:"fallback_reason,omitempty"`
	FallbackAnchor    string             `json:"fallback_anchor,omitempty"`
	RetrievalScore    float64            `json:"retrieval_score"`
	AnchorHits        []string           `json:"anchor_hits"`
	AnchorMisses      []string           `json:"anchor_misses"`
	GlossaryInjected  bool               `json:"glossary_injected"`
	CreatedAt         time.Time          `json:"created_at"`
}

// PlaybackEntry 一次调试对话的 prompt 与回复
type PlaybackEntry struct {
	ID             string    `json:"id"`
	GroundingLogID string    `json:"grounding_log_id"`
	AssistantID    string    `json:"assistant_id"`
	SessionID      string    `json:"session_id"`
	Prompt         string    `json:"prompt"`
	Reply          string    `json:"reply"`
	Model          string    `json:"model,omitempty"`
	LatencyMS      int64     `json:"latency_ms"`
	CreatedAt      time.Time `json:"created_at"`
}

// NewGroundingEntry 从检索结果构建审计记录
func NewGroundingEntry(assistantID, sessionID, query string, result *RetrievalResult) GroundingEntry {
	entry := GroundingEntry{
		AssistantID:  assistantID,
		SessionID:    sessionID,
		Query:        query,
		UsedChunkIDs: []string{},
		Scores:       map[string]float64{},
		AnchorHits:   []string{},
		AnchorMisses: []string{},
	}
	if result == nil {
		return entry
	}

	for _, c := range result.Used() {
		entry.UsedChunkIDs = append(entry.UsedChunkIDs, c.ChunkID)
		entry.Scores[c.ChunkID] = c.FinalScore
	}
	meta := result.Metadata
	entry.FallbackTriggered = meta.FallbackTriggered
	entry.FallbackReason = meta.FallbackReason
	entry.FallbackAnchor = meta.FallbackAnchor
	entry.RetrievalScore = meta.RetrievalScore
	entry.AnchorHits = append(entry.AnchorHits, meta.AnchorHits...)
	entry.AnchorMisses = append(entry.AnchorMisses, meta.AnchorMisses...)
	return entry
}

// ====== 实时订阅 ======

// Feed 向订阅者广播新写入的诊断记录；订阅者缓冲区满时丢弃
type Feed struct {
	mu      sync.RWMutex
	subs    map[uint64]chan GroundingEntry
	nextID  uint64
	buffer  int
	dropped atomic.Int64
}

// NewFeed 创建广播器
func NewFeed(buffer int) *Feed {
	if buffer <= 0 {
		buffer = 16
	}
	return &Feed{
		subs:   make(map[uint64]chan GroundingEntry),
		buffer: buffer,
	}
}

// Subscribe 返回事件通道与取消函数，取消后通道关闭
func (f *Feed) Subscribe() (<-chan GroundingEntry, func()) {
	f.mu.Lock()
	defer f.mu.Unlock()

	id := f.nextID
	f.nextID++
	ch := make(chan GroundingEntry, f.buffer)
	f.subs[id] = ch

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			f.mu.Lock()
			delete(f.subs, id)
			f.mu.Unlock()
			close(ch)
		})
	}
	return ch, cancel
}

// Publish 非阻塞广播
func (f *Feed) Publish(entry GroundingEntry) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	for _, ch := range f.subs {
		select {
		case ch <- entry:
		default:
			f.dropped.Add(1)
		}
	}
}

// Subscribers 当前订阅数
func (f *Feed) Subscribers() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.subs)
}

// Dropped 因缓冲区满而丢弃的事件数
func (f *Feed) Dropped() int64 {
	return f.dropped.Load()
}

// ====== 诊断日志记录器 ======

// GroundingLogger 写入诊断日志；写入失败只记录日志，不向调用方返回错误
type GroundingLogger struct {
	store    GroundingLogStore
	feed     *Feed
	observer Observer
	logger   *zap.Logger
	now      func() time.Time
}

// GroundingLoggerOption 记录器选项
type GroundingLoggerOption func(*GroundingLogger)

// WithFeed 写入成功后广播
func WithFeed(feed *Feed) GroundingLoggerOption {
	return func(l *GroundingLogger) { l.feed = feed }
}

// WithLogObserver 设置写入指标回调
func WithLogObserver(o Observer) GroundingLoggerOption {
	return func(l *GroundingLogger) {
		if o != nil {
			l.observer = o
		}
	}
}

// NewGroundingLogger 创建诊断日志记录器
func NewGroundingLogger(store GroundingLogStore, logger *zap.Logger, opts ...GroundingLoggerOption) *GroundingLogger {
	if logger == nil {
		logger = zap.NewNop()
	}
	l := &GroundingLogger{
		store:    store,
		observer: nopObserver{},
		logger:   logger.With(zap.String("component", "grounding_logger")),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Record 写入检索审计记录，返回记录 ID；写入失败时 ok 为 false
func (l *GroundingLogger) Record(ctx context.Context, entry GroundingEntry) (id string, ok bool) {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = l.now().UTC()
	}

	if l.store == nil {
		return entry.ID, false
	}

	err := l.store.InsertGroundingLog(ctx, &entry)
	l.observer.ObserveGroundingWrite("grounding", err)
	if err != nil {
		l.logger.Error("failed to write grounding log",
			zap.String("assistant_id", entry.AssistantID),
			zap.String("session_id", entry.SessionID),
			zap.Error(err),
		)
		return entry.ID, false
	}

	if l.feed != nil {
		l.feed.Publish(entry)
	}
	return entry.ID, true
}

// RecordPlayback 写入回放记录，失败只记录日志
func (l *GroundingLogger) RecordPlayback(ctx context.Context, entry PlaybackEntry) bool {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = l.now().UTC()
	}
	if l.store == nil {
		return false
	}

	err := l.store.InsertPlaybackLog(ctx, &entry)
	l.observer.ObserveGroundingWrite("playback", err)
	if err != nil {
		l.logger.Error("failed to write playback log",
			zap.String("grounding_log_id", entry.GroundingLogID),
			zap.Error(err),
		)
		return false
	}
	return true
}
