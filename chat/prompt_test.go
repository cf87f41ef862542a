package chat

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/groundwork/llm/tokenizer"
	"github.com/BaSui01/groundwork/rag"
)

// 80 个 ASCII 字符，估算为 20 token
func text80(c byte) string { return strings.Repeat(string(c), 80) }

func TestPromptBuilder_Budget(t *testing.T) {
	used := []rag.ScoredChunk{
		{ChunkID: "a", Text: text80('a')},
		{ChunkID: "b", Text: text80('b')},
		{ChunkID: "c", Text: text80('c')},
	}
	tk := tokenizer.NewEstimatorTokenizer("test", 0)

	tests := []struct {
		name      string
		budget    int
		context   []string
		dropped   []string
		truncated bool
	}{
		{name: "unlimited", budget: 0, context: []string{"a", "b", "c"}},
		{name: "exact fit", budget: 40, context: []string{"a", "b"}, dropped: []string{"c"}},
		{name: "truncates last", budget: 36, context: []string{"a", "b"}, dropped: []string{"c"}, truncated: true},
		{name: "remainder too small", budget: 30, context: []string{"a"}, dropped: []string{"b", "c"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := NewPromptBuilder(tk, tt.budget).Build("sys", used, nil)
			require.NoError(t, err)
			assert.Equal(t, tt.context, p.ContextChunkIDs)
			assert.Equal(t, tt.dropped, p.DroppedChunkIDs)
			assert.Equal(t, tt.truncated, p.Truncated)
			if tt.budget > 0 {
				assert.LessOrEqual(t, p.ContextTokens, tt.budget)
			}
			assert.False(t, p.GlossaryInjected())
		})
	}
}

func TestPromptBuilder_TruncatedChunkFitsBudget(t *testing.T) {
	tk := tokenizer.NewEstimatorTokenizer("test", 0)
	p, err := NewPromptBuilder(tk, 36).Build("sys", []rag.ScoredChunk{
		{ChunkID: "a", Text: text80('a')},
		{ChunkID: "b", Text: text80('b')},
	}, nil)
	require.NoError(t, err)

	idx := strings.Index(p.System, "bbb")
	require.Greater(t, idx, 0)
	bPart := p.System[idx:]
	n, _ := tk.CountTokens(bPart)
	assert.LessOrEqual(t, n, 16)
}

func TestPromptBuilder_Labels(t *testing.T) {
	tk := tokenizer.NewEstimatorTokenizer("test", 0)
	labels := map[string]string{"zk-rollup": "ZK Rollup", "bridge": "Bridge"}

	p, err := NewPromptBuilder(tk, 0).Build("sys", []rag.ScoredChunk{
		{ChunkID: "g1", Text: "proof based rollup", IsGlossary: true, AnchorSlugs: []string{"zk-rollup"}},
		{ChunkID: "g2", Text: "titled term", IsGlossary: true, DocumentTitle: "Glossary"},
		{ChunkID: "g3", Text: "bare term", IsGlossary: true},
		{ChunkID: "c1", Text: "bridges move assets"},
	}, labels)
	require.NoError(t, err)

	assert.True(t, p.GlossaryInjected())
	assert.Equal(t, []string{"g1", "g2", "g3"}, p.GlossaryChunkIDs)
	assert.Equal(t, []string{"c1"}, p.ContextChunkIDs)
	assert.Contains(t, p.System, "- ZK Rollup: proof based rollup")
	assert.Contains(t, p.System, "- Glossary: titled term")
	assert.Contains(t, p.System, "- g3: bare term")
	assert.NotContains(t, p.System, "Bridge")
	assert.Less(t, strings.Index(p.System, contextHeader), strings.Index(p.System, glossaryHeader))
}

func TestPromptBuilder_GlossaryOnlyFromDefinitions(t *testing.T) {
	tk := tokenizer.NewEstimatorTokenizer("test", 0)
	labels := map[string]string{"bridge": "Bridge"}

	p, err := NewPromptBuilder(tk, 0).Build("sys", []rag.ScoredChunk{
		{ChunkID: "c1", Text: "bridges move assets", AnchorSlug: "bridge", AnchorSlugs: []string{"bridge"}},
	}, labels)
	require.NoError(t, err)

	assert.False(t, p.GlossaryInjected())
	assert.Empty(t, p.GlossaryChunkIDs)
	assert.NotContains(t, p.System, glossaryHeader)
	assert.Contains(t, p.System, "bridges move assets")
}

func TestPromptBuilder_NoChunks(t *testing.T) {
	tk := tokenizer.NewEstimatorTokenizer("test", 0)
	p, err := NewPromptBuilder(tk, 100).Build("  system prompt  ", nil, nil)
	require.NoError(t, err)
	assert.Equal(t, "system prompt", p.System)
	assert.Empty(t, p.ContextChunkIDs)
	assert.False(t, p.GlossaryInjected())
}
