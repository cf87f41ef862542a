package rag

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"pgregory.net/rapid"
)

func TestSlugify(t *testing.T) {
	tests := map[string]string{
		"ZK Rollup":           "zk-rollup",
		"ZK-Rollup":           "zk-rollup",
		"  Proof  of Stake! ": "proof-of-stake",
		"EIP_4844":            "eip-4844",
		"":                    "",
	}
	for in, want := range tests {
		assert.Equal(t, want, Slugify(in), in)
	}
}

func TestInferAnchors(t *testing.T) {
	vocab := []Anchor{
		{Slug: "zk-rollup", Label: "ZK-Rollup", FallbackScore: 0.8},
		{Slug: "rollup", Label: "Rollup", FallbackScore: 0.8},
		{Slug: "proof-of-stake", Label: "Proof of Stake", Aliases: []string{"PoS"}, FallbackScore: 0.4},
		{Slug: "data-availability", Label: "Data Availability", FallbackScore: 0.9},
	}

	tests := []struct {
		name  string
		query string
		want  []string
	}{
		{"hyphenated slug", "explain zk-rollup", []string{"zk-rollup", "rollup"}},
		{"spaced words", "Explain ZK rollup please", []string{"zk-rollup", "rollup"}},
		{"compact form", "what is a zkrollup", []string{"zk-rollup"}},
		{"plural", "how do zk rollups work", []string{"zk-rollup", "rollup"}},
		{"alias", "is PoS secure?", []string{"proof-of-stake"}},
		{"priority by fallback score", "data availability for rollups", []string{"data-availability", "rollup"}},
		{"no match", "weather today", nil},
		{"empty query", "   ", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := InferAnchors(tt.query, vocab)
			var slugsGot []string
			for _, a := range got {
				slugsGot = append(slugsGot, a.Slug)
			}
			assert.Equal(t, tt.want, slugsGot)
		})
	}
}

func TestBuildVocabulary_AddsChunkSlugs(t *testing.T) {
	registry := []Anchor{{Slug: "zk-rollup", Label: "ZK-Rollup", FallbackScore: 0.5}}
	chunks := []DocumentChunk{
		{ID: "c1", AnchorSlugs: []string{"zk-rollup", "validium"}},
		{ID: "c2", AnchorSlugs: []string{"validium", ""}},
	}

	vocab := buildVocabulary(registry, chunks)
	assert.Len(t, vocab, 2)
	assert.Equal(t, "validium", vocab[1].Slug)
	assert.Equal(t, 0.5, vocab[0].FallbackScore)
}

func TestMentionsAnchor(t *testing.T) {
	a := Anchor{Slug: "zk-rollup", Label: "ZK-Rollup", Aliases: []string{"validity rollup"}}
	assert.True(t, MentionsAnchor("A ZK rollup batches transactions.", a))
	assert.True(t, MentionsAnchor("Validity rollups post proofs.", a))
	assert.False(t, MentionsAnchor("Optimistic designs use fraud proofs.", a))
}

func TestBoostPolicy_Apply(t *testing.T) {
	p := BoostPolicy{Increment: 0.2}
	query := map[string]struct{}{"zk-rollup": {}}

	final, boost, matched := p.Apply(0.5, []string{"zk-rollup"}, query)
	assert.InDelta(t, 0.7, final, 1e-9)
	assert.InDelta(t, 0.2, boost, 1e-9)
	assert.Equal(t, "zk-rollup", matched)

	// 封顶
	final, boost, _ = p.Apply(0.95, []string{"zk-rollup"}, query)
	assert.Equal(t, 1.0, final)
	assert.InDelta(t, 0.05, boost, 1e-9)

	// 未命中不扣分
	final, boost, matched = p.Apply(0.5, []string{"other"}, query)
	assert.Equal(t, 0.5, final)
	assert.Equal(t, 0.0, boost)
	assert.Empty(t, matched)

	// 负相似度截断为 0
	final, _, _ = p.Apply(-0.3, nil, query)
	assert.Equal(t, 0.0, final)
}

func TestBoostPolicy_Properties(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		raw := rapid.Float64Range(-1, 1).Draw(rt, "raw")
		inc := rapid.Float64Range(0, 1).Draw(rt, "increment")
		extra := rapid.IntRange(0, 5).Draw(rt, "extra_matches")
		p := BoostPolicy{Increment: inc}

		query := map[string]struct{}{"a": {}}
		chunkAnchors := []string{"a"}
		for i := 0; i < extra; i++ {
			slug := string(rune('b' + i))
			query[slug] = struct{}{}
			chunkAnchors = append(chunkAnchors, slug)
		}

		single, _, _ := p.Apply(raw, []string{"a"}, query)
		multi, _, _ := p.Apply(raw, chunkAnchors, query)

		if multi > 1.0 {
			rt.Fatalf("boost exceeded cap: %v", multi)
		}
		if multi < clamp01(raw) {
			rt.Fatalf("boost acted as penalty: %v < %v", multi, raw)
		}
		if single != multi {
			rt.Fatalf("boost depends on number of matching anchors: %v vs %v", single, multi)
		}
		if capped, _, _ := p.Apply(1.0, chunkAnchors, query); capped != 1.0 {
			rt.Fatalf("boosting a maximal score changed it: %v", capped)
		}
	})
}
