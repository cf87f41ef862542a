package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/groundwork/api"
	"github.com/BaSui01/groundwork/rag"
	"github.com/BaSui01/groundwork/types"
)

type diagFixture struct {
	mux    *http.ServeMux
	store  *rag.MemoryStore
	logger *rag.GroundingLogger
	feed   *rag.Feed
}

func newDiagFixture(t *testing.T, opts ...DiagnosticsOption) *diagFixture {
	t.Helper()
	store := rag.NewMemoryStore()
	feed := rag.NewFeed(8)
	h := NewDiagnosticsHandler(store, zap.NewNop(),
		append([]DiagnosticsOption{WithFeed(feed, nil), WithDrift(rag.NewDriftAnalyzer(store, 0.5), 0.5)}, opts...)...)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v1/diagnostics/grounding-logs", h.HandleListLogs)
	mux.HandleFunc("GET /api/v1/diagnostics/stream", h.HandleStream)
	mux.HandleFunc("GET /api/v1/diagnostics/grounding-logs/{id}", h.HandleGetLog)
	mux.HandleFunc("GET /api/v1/diagnostics/drift", h.HandleDrift)
	return &diagFixture{
		mux:    mux,
		store:  store,
		logger: rag.NewGroundingLogger(store, zap.NewNop(), rag.WithFeed(feed)),
		feed:   feed,
	}
}

func (f *diagFixture) record(t *testing.T, assistantID, sessionID string) string {
	t.Helper()
	id, ok := f.logger.Record(context.Background(), rag.GroundingEntry{
		AssistantID:       assistantID,
		SessionID:         sessionID,
		Query:             "zk rollup",
		FallbackTriggered: true,
		FallbackReason:    rag.ReasonWeakGlossary,
		AnchorHits:        []string{"zk-rollup"},
	})
	require.True(t, ok)
	return id
}

func TestDiagnosticsHandler_ListLogs(t *testing.T) {
	f := newDiagFixture(t)
	f.record(t, "a1", "s1")
	f.record(t, "a1", "s2")
	f.record(t, "a2", "s3")

	tests := []struct {
		name      string
		query     string
		wantCode  int
		wantCount int
	}{
		{name: "all", query: "", wantCode: http.StatusOK, wantCount: 3},
		{name: "by assistant", query: "?assistant_id=a1", wantCode: http.StatusOK, wantCount: 2},
		{name: "by session", query: "?assistant_id=a1&session_id=s2", wantCode: http.StatusOK, wantCount: 1},
		{name: "limit", query: "?limit=1", wantCode: http.StatusOK, wantCount: 1},
		{name: "since future", query: "?since=" + time.Now().Add(time.Hour).UTC().Format(time.RFC3339), wantCode: http.StatusOK, wantCount: 0},
		{name: "bad limit", query: "?limit=zero", wantCode: http.StatusBadRequest},
		{name: "bad since", query: "?since=yesterday", wantCode: http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			f.mux.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/diagnostics/grounding-logs"+tt.query, nil))
			require.Equal(t, tt.wantCode, w.Code)
			if tt.wantCode != http.StatusOK {
				return
			}
			var list api.GroundingLogList
			require.NoError(t, json.Unmarshal(decodeEnvelope(t, w).Data, &list))
			assert.Equal(t, tt.wantCount, list.Count)
			assert.Len(t, list.Items, tt.wantCount)
		})
	}
}

func TestDiagnosticsHandler_GetLog(t *testing.T) {
	f := newDiagFixture(t)
	id := f.record(t, "a1", "s1")
	require.True(t, f.logger.RecordPlayback(context.Background(), rag.PlaybackEntry{
		GroundingLogID: id, AssistantID: "a1", SessionID: "s1", Prompt: "system", Reply: "reply",
	}))

	w := httptest.NewRecorder()
	f.mux.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/diagnostics/grounding-logs/"+id, nil))
	require.Equal(t, http.StatusOK, w.Code)

	var detail api.GroundingLogDetail
	require.NoError(t, json.Unmarshal(decodeEnvelope(t, w).Data, &detail))
	assert.Equal(t, id, detail.Entry.ID)
	assert.Equal(t, rag.ReasonWeakGlossary, detail.Entry.FallbackReason)
	require.Len(t, detail.Playback, 1)
	assert.Equal(t, "reply", detail.Playback[0].Reply)

	w = httptest.NewRecorder()
	f.mux.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/diagnostics/grounding-logs/nope", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestDiagnosticsHandler_Drift(t *testing.T) {
	f := newDiagFixture(t)
	ctx := context.Background()
	require.NoError(t, f.store.UpsertAnchor(ctx, rag.Anchor{Slug: "zk-rollup", Label: "ZK Rollup"}))
	f.store.PutChunk(rag.DocumentChunk{ID: "c1", DocumentID: "d1", AssistantID: "a1", Text: "Validity proofs settle batches.", AnchorSlugs: []string{"zk-rollup"}})

	w := httptest.NewRecorder()
	f.mux.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/diagnostics/drift", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var resp api.DriftResponse
	require.NoError(t, json.Unmarshal(decodeEnvelope(t, w).Data, &resp))
	assert.Equal(t, 0.5, resp.Threshold)
	require.Len(t, resp.Reports, 1)
	assert.Equal(t, "zk-rollup", resp.Reports[0].Slug)
	assert.Equal(t, 1, resp.Reports[0].TaggedChunks)
	assert.Equal(t, 0, resp.Reports[0].MentioningChunks)
}

func TestDiagnosticsHandler_NotConfigured(t *testing.T) {
	h := NewDiagnosticsHandler(rag.NewMemoryStore(), nil)

	w := httptest.NewRecorder()
	h.HandleDrift(w, httptest.NewRequest(http.MethodGet, "/api/v1/diagnostics/drift", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, string(types.ErrServiceUnavailable), decodeEnvelope(t, w).Error.Code)

	w = httptest.NewRecorder()
	h.HandleStream(w, httptest.NewRequest(http.MethodGet, "/api/v1/diagnostics/stream", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestDiagnosticsHandler_Stream(t *testing.T) {
	f := newDiagFixture(t)
	srv := httptest.NewServer(f.mux)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/v1/diagnostics/stream?assistant_id=a1"
	conn, _, err := websocket.Dial(ctx, url, nil)
	require.NoError(t, err)
	defer conn.CloseNow()

	require.Eventually(t, func() bool { return f.feed.Subscribers() == 1 }, 2*time.Second, 10*time.Millisecond)

	// 其他助手的记录被过滤
	f.record(t, "a2", "s-other")
	id := f.record(t, "a1", "s1")

	var ev api.StreamEvent
	require.NoError(t, wsjson.Read(ctx, conn, &ev))
	assert.Equal(t, "grounding", ev.Type)
	require.NotNil(t, ev.Entry)
	assert.Equal(t, id, ev.Entry.ID)
	assert.Equal(t, "a1", ev.Entry.AssistantID)

	require.NoError(t, conn.Close(websocket.StatusNormalClosure, "done"))
	assert.Eventually(t, func() bool { return f.feed.Subscribers() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestDiagnosticsHandler_StreamHeartbeat(t *testing.T) {
	f := newDiagFixture(t, func(h *DiagnosticsHandler) { h.heartbeat = 20 * time.Millisecond })
	srv := httptest.NewServer(f.mux)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http")+"/api/v1/diagnostics/stream", nil)
	require.NoError(t, err)
	defer conn.CloseNow()

	var ev api.StreamEvent
	require.NoError(t, wsjson.Read(ctx, conn, &ev))
	assert.Equal(t, "heartbeat", ev.Type)
	assert.Nil(t, ev.Entry)
}
