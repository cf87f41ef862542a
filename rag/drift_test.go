package rag

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDriftAnalyzer_Analyze(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	require.NoError(t, s.UpsertAnchor(ctx, Anchor{Slug: "zk-rollup", Label: "ZK-Rollup"}))
	require.NoError(t, s.UpsertAnchor(ctx, Anchor{Slug: "sequencer", Label: "Sequencer"}))
	require.NoError(t, s.UpsertAnchor(ctx, Anchor{Slug: "plasma", Label: "Plasma"}))

	s.PutChunk(DocumentChunk{ID: "1", AssistantID: "a1", DocumentID: "d", Text: "A ZK rollup posts proofs.", AnchorSlugs: []string{"zk-rollup"}})
	s.PutChunk(DocumentChunk{ID: "2", AssistantID: "a1", DocumentID: "d", Text: "Validity proofs compress state.", AnchorSlugs: []string{"zk-rollup"}})
	s.PutChunk(DocumentChunk{ID: "3", AssistantID: "a1", DocumentID: "d", Text: "Ordering happens off-chain.", AnchorSlugs: []string{"sequencer"}})

	reports, err := NewDriftAnalyzer(s, 0.4).Analyze(ctx)
	require.NoError(t, err)
	require.Len(t, reports, 3)

	bySlug := map[string]DriftReport{}
	for _, r := range reports {
		bySlug[r.Slug] = r
	}

	assert.Equal(t, DriftDrifting, bySlug["sequencer"].Status)
	assert.Equal(t, 1.0, bySlug["sequencer"].DriftScore)

	assert.Equal(t, DriftDrifting, bySlug["zk-rollup"].Status)
	assert.Equal(t, 2, bySlug["zk-rollup"].TaggedChunks)
	assert.Equal(t, 1, bySlug["zk-rollup"].MentioningChunks)
	assert.InDelta(t, 0.5, bySlug["zk-rollup"].DriftScore, 1e-9)

	assert.Equal(t, DriftOrphaned, bySlug["plasma"].Status)

	// 按漂移分数降序
	assert.Equal(t, "sequencer", reports[0].Slug)
}

func TestDriftAnalyzer_AlignedUnderThreshold(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	require.NoError(t, s.UpsertAnchor(ctx, Anchor{Slug: "zk-rollup", Label: "ZK-Rollup"}))
	s.PutChunk(DocumentChunk{ID: "1", AssistantID: "a1", DocumentID: "d", Text: "ZK-Rollup basics", AnchorSlugs: []string{"zk-rollup"}})

	reports, err := NewDriftAnalyzer(s, 0.5).Analyze(ctx)
	require.NoError(t, err)
	require.Len(t, reports, 1)
	assert.Equal(t, DriftAligned, reports[0].Status)
	assert.Equal(t, 0.0, reports[0].DriftScore)
}
