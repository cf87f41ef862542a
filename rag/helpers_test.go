package rag

import (
	"context"
	"errors"
	"sync"
	"time"
)

// stubEmbedder 固定返回向量的测试向量化器
type stubEmbedder struct {
	mu      sync.Mutex
	vectors map[string][]float64
	def     []float64
	err     error
	dims    int
	calls   int
}

func (e *stubEmbedder) EmbedQuery(_ context.Context, query string) ([]float64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls++
	if e.err != nil {
		return nil, e.err
	}
	if v, ok := e.vectors[query]; ok {
		return v, nil
	}
	return e.def, nil
}

func (e *stubEmbedder) EmbedDocuments(_ context.Context, texts []string) ([][]float64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls++
	if e.err != nil {
		return nil, e.err
	}
	out := make([][]float64, len(texts))
	for i, t := range texts {
		if v, ok := e.vectors[t]; ok {
			out[i] = v
		} else {
			out[i] = e.def
		}
	}
	return out, nil
}

func (e *stubEmbedder) Dimensions() int { return e.dims }

func (e *stubEmbedder) Calls() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls
}

var errEmbedderDown = errors.New("embedder unavailable")

// recordingObserver 记录指标回调
type recordingObserver struct {
	mu             sync.Mutex
	reasons        []FallbackReason
	embedFailures  int
	writes         map[string]int
	writeFailures  map[string]int
	lastCandidates int
}

func newRecordingObserver() *recordingObserver {
	return &recordingObserver{writes: map[string]int{}, writeFailures: map[string]int{}}
}

func (o *recordingObserver) ObserveRetrieval(reason FallbackReason, _ bool, candidates int, _ time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.reasons = append(o.reasons, reason)
	o.lastCandidates = candidates
}

func (o *recordingObserver) ObserveEmbeddingFailure(string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.embedFailures++
}

func (o *recordingObserver) ObserveGroundingWrite(kind string, err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if err != nil {
		o.writeFailures[kind]++
		return
	}
	o.writes[kind]++
}

// failingLogStore 所有写入都失败
type failingLogStore struct{ err error }

func (s failingLogStore) InsertGroundingLog(context.Context, *GroundingEntry) error { return s.err }
func (s failingLogStore) InsertPlaybackLog(context.Context, *PlaybackEntry) error   { return s.err }
func (s failingLogStore) ListGroundingLogs(context.Context, GroundingLogFilter) ([]GroundingEntry, error) {
	return nil, s.err
}
func (s failingLogStore) GetGroundingLog(context.Context, string) (*GroundingEntry, []PlaybackEntry, error) {
	return nil, nil, s.err
}

const zkQuery = "explain zk rollup"

// zkStore 术语块场景：一个助手、一个文档、一个 ZK-Rollup 术语块
func zkStore(glossaryScore float64) *MemoryStore {
	s := NewMemoryStore()
	s.PutAssistant(Assistant{ID: "a1", Name: "Crypto tutor"})
	s.PutChunk(DocumentChunk{
		ID:              "zk-def",
		DocumentID:      "d1",
		DocumentTitle:   "Glossary",
		AssistantID:     "a1",
		Text:            "ZK-Rollup refers to a layer-2 scaling design that posts validity proofs.",
		Embedding:       []float64{0.9, 0.1, 0.0},
		EmbeddingStatus: EmbeddingEmbedded,
		IsGlossary:      true,
		GlossaryScore:   glossaryScore,
		AnchorSlugs:     []string{"zk-rollup"},
	})
	return s
}

func zkEmbedder() *stubEmbedder {
	return &stubEmbedder{
		vectors: map[string][]float64{zkQuery: {1, 0, 0}},
		def:     []float64{0, 0, 1},
		dims:    3,
	}
}
