package rag

import (
	"sort"
	"strings"
	"unicode"
)

// ====== 术语归一化 ======

// Tokenize 小写并按非字母数字切分
func Tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// Slugify 生成锚点 slug："ZK Rollup" -> "zk-rollup"
func Slugify(label string) string {
	return strings.Join(Tokenize(label), "-")
}

// anchorTerms 返回锚点所有可匹配的词序列（slug / label / aliases）
func anchorTerms(a Anchor) [][]string {
	seen := make(map[string]struct{})
	var terms [][]string
	add := func(tokens []string) {
		if len(tokens) == 0 {
			return
		}
		key := strings.Join(tokens, " ")
		if _, ok := seen[key]; ok {
			return
		}
		seen[key] = struct{}{}
		terms = append(terms, tokens)
	}

	add(strings.FieldsFunc(a.Slug, func(r rune) bool { return r == '-' || r == '_' }))
	add(Tokenize(a.Label))
	for _, alias := range a.Aliases {
		add(Tokenize(alias))
	}
	return terms
}

func tokenEqual(queryToken, termToken string) bool {
	return queryToken == termToken || queryToken == termToken+"s"
}

// containsTerm 词序列连续出现，或紧凑形式（zkrollup）作为单个词出现
func containsTerm(tokens, term []string) bool {
	if len(term) == 0 {
		return false
	}
	compact := strings.Join(term, "")
	for i := range tokens {
		if len(term) > 1 && tokenEqual(tokens[i], compact) {
			return true
		}
		if i+len(term) > len(tokens) {
			continue
		}
		match := true
		for j, t := range term {
			if !tokenEqual(tokens[i+j], t) {
				match = false
				break
			}
		}
		if match {
			return true
		}
	}
	return false
}

// MentionsAnchor 文本是否提到锚点
func MentionsAnchor(text string, a Anchor) bool {
	tokens := Tokenize(text)
	for _, term := range anchorTerms(a) {
		if containsTerm(tokens, term) {
			return true
		}
	}
	return false
}

// InferAnchors 从查询中推断锚点，按回退优先级排序：
// fallback_score 降序、slug 长度降序、slug 升序
func InferAnchors(query string, vocabulary []Anchor) []Anchor {
	tokens := Tokenize(query)
	if len(tokens) == 0 {
		return nil
	}

	seen := make(map[string]struct{})
	var matched []Anchor
	for _, a := range vocabulary {
		if a.Slug == "" {
			continue
		}
		if _, ok := seen[a.Slug]; ok {
			continue
		}
		for _, term := range anchorTerms(a) {
			if containsTerm(tokens, term) {
				seen[a.Slug] = struct{}{}
				matched = append(matched, a)
				break
			}
		}
	}

	sortAnchors(matched)
	return matched
}

func sortAnchors(anchors []Anchor) {
	sort.SliceStable(anchors, func(i, j int) bool {
		a, b := anchors[i], anchors[j]
		if a.FallbackScore != b.FallbackScore {
			return a.FallbackScore > b.FallbackScore
		}
		if len(a.Slug) != len(b.Slug) {
			return len(a.Slug) > len(b.Slug)
		}
		return a.Slug < b.Slug
	})
}

// buildVocabulary 合并注册表锚点与分块上出现但未注册的 slug
func buildVocabulary(registry []Anchor, chunks []DocumentChunk) []Anchor {
	vocab := make([]Anchor, 0, len(registry))
	known := make(map[string]struct{}, len(registry))
	for _, a := range registry {
		if a.Slug == "" {
			continue
		}
		known[a.Slug] = struct{}{}
		vocab = append(vocab, a)
	}
	for _, c := range chunks {
		for _, slug := range c.AnchorSlugs {
			if _, ok := known[slug]; ok || slug == "" {
				continue
			}
			known[slug] = struct{}{}
			vocab = append(vocab, Anchor{Slug: slug, Label: strings.ReplaceAll(slug, "-", " ")})
		}
	}
	return vocab
}

// ====== 术语加分 ======

// BoostPolicy 锚点命中时加分，每个分块最多加一次，封顶 1.0
type BoostPolicy struct {
	Increment float64
}

// Apply 返回最终分数、实际加分和命中的锚点 slug。
// raw 先截断到 [0, 1]；未命中时不加分也不扣分。
func (p BoostPolicy) Apply(raw float64, chunkAnchors []string, queryAnchors map[string]struct{}) (final, boost float64, matched string) {
	base := clamp01(raw)
	for _, slug := range chunkAnchors {
		if _, ok := queryAnchors[slug]; ok {
			matched = slug
			break
		}
	}
	if matched == "" || p.Increment <= 0 {
		return base, 0, matched
	}
	final = clamp01(base + p.Increment)
	return final, final - base, matched
}

// anchorSet slug 集合
func anchorSet(anchors []Anchor) map[string]struct{} {
	set := make(map[string]struct{}, len(anchors))
	for _, a := range anchors {
		set[a.Slug] = struct{}{}
	}
	return set
}
