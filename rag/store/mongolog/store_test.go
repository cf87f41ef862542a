package mongolog

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/BaSui01/groundwork/rag"
)

func TestGroundingDoc_RoundTrip(t *testing.T) {
	created := time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)
	entry := rag.GroundingEntry{
		ID:                "log-1",
		AssistantID:       "a1",
		SessionID:         "s1",
		Query:             "explain zk rollup",
		UsedChunkIDs:      []string{"doc.1", "doc.2"},
		Scores:            map[string]float64{"doc.2": 0.4, "doc.1": 0.9},
		FallbackTriggered: true,
		FallbackReason:    "weak_glossary",
		FallbackAnchor:    "zk-rollup",
		RetrievalScore:    0.9,
		AnchorHits:        []string{"zk-rollup"},
		CreatedAt:         created,
	}

	doc := toGroundingDoc(&entry)
	assert.Equal(t, []scoreDoc{{"doc.1", 0.9}, {"doc.2", 0.4}}, doc.Scores)
	assert.NotNil(t, doc.AnchorMisses)

	raw, err := bson.Marshal(doc)
	require.NoError(t, err)
	var decoded groundingDoc
	require.NoError(t, bson.Unmarshal(raw, &decoded))

	got := decoded.entry()
	assert.Equal(t, entry.Scores, got.Scores)
	assert.Equal(t, entry.UsedChunkIDs, got.UsedChunkIDs)
	assert.Equal(t, rag.FallbackReason("weak_glossary"), got.FallbackReason)
	assert.Equal(t, []string{}, got.AnchorMisses)
	assert.True(t, created.Equal(got.CreatedAt))
}

func TestGroundingDoc_FieldNames(t *testing.T) {
	doc := toGroundingDoc(&rag.GroundingEntry{ID: "log-1", AssistantID: "a1", Query: "q"})
	raw, err := bson.Marshal(doc)
	require.NoError(t, err)

	var m bson.M
	require.NoError(t, bson.Unmarshal(raw, &m))
	assert.Equal(t, "log-1", m["_id"])
	assert.Equal(t, "a1", m["assistant_id"])
	assert.Contains(t, m, "fallback_triggered")
	// 空 session 不写入
	assert.NotContains(t, m, "session_id")
}

func TestPlaybackDoc_RoundTrip(t *testing.T) {
	entry := rag.PlaybackEntry{ID: "pb-1", GroundingLogID: "log-1", AssistantID: "a1", Prompt: "p", Reply: "r", LatencyMS: 42}
	doc := toPlaybackDoc(&entry)
	raw, err := bson.Marshal(doc)
	require.NoError(t, err)
	var decoded playbackDoc
	require.NoError(t, bson.Unmarshal(raw, &decoded))
	got := decoded.entry()
	assert.Equal(t, entry.Prompt, got.Prompt)
	assert.Equal(t, int64(42), got.LatencyMS)
}

func TestBuildFilter(t *testing.T) {
	assert.Empty(t, buildFilter(rag.GroundingLogFilter{}))

	since := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	f := buildFilter(rag.GroundingLogFilter{AssistantID: "a1", SessionID: "s1", Since: since})
	require.Len(t, f, 3)
	assert.Equal(t, "assistant_id", f[0].Key)
	assert.Equal(t, "session_id", f[1].Key)
	assert.Equal(t, "created_at", f[2].Key)
	assert.Equal(t, bson.D{{Key: "$gte", Value: since}}, f[2].Value)
}
