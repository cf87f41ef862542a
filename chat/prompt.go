package chat

import (
	"fmt"
	"strings"

	"github.com/BaSui01/groundwork/llm/tokenizer"
	"github.com/BaSui01/groundwork/rag"
)

const (
	contextHeader  = "# Retrieved Context:"
	glossaryHeader = "# Glossary Reference:"
	glossaryLead   = "Use this to inform your answer."

	// minChunkTokens 剩余预算低于此值时不再截断塞入
	minChunkTokens = 16
)

// Prompt 组装结果
type Prompt struct {
	System           string   `json:"system"`
	ContextChunkIDs  []string `json:"context_chunk_ids"`
	GlossaryChunkIDs []string `json:"glossary_chunk_ids"`
	DroppedChunkIDs  []string `json:"dropped_chunk_ids,omitempty"`
	ContextTokens    int      `json:"context_tokens"`
	Truncated        bool     `json:"truncated"`

	glossary bool
}

// GlossaryInjected 是否包含术语参考段
func (p *Prompt) GlossaryInjected() bool {
	return p.glossary
}

// PromptBuilder 按 token 预算组装系统提示词
type PromptBuilder struct {
	tokenizer tokenizer.Tokenizer
	budget    int
}

// NewPromptBuilder budget <= 0 表示不限制
func NewPromptBuilder(tk tokenizer.Tokenizer, budget int) *PromptBuilder {
	return &PromptBuilder{tokenizer: tk, budget: budget}
}

// glossaryLabel 锚点标签 > 文档标题 > 分块 ID
func glossaryLabel(c rag.ScoredChunk, labels map[string]string) string {
	for _, slug := range append([]string{c.AnchorSlug}, c.AnchorSlugs...) {
		if slug == "" {
			continue
		}
		if l, ok := labels[slug]; ok && l != "" {
			return l
		}
	}
	if c.DocumentTitle != "" {
		return c.DocumentTitle
	}
	if c.AnchorSlug != "" {
		return c.AnchorSlug
	}
	return c.ChunkID
}

func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// Build 按排名顺序放入分块：术语分块进入 Glossary Reference，其余进入 Retrieved Context。
// 超出预算时截断最后一个能放下的分块，之后的分块丢弃。
// Glossary Reference 只收录带释义的术语分块。
func (b *PromptBuilder) Build(systemPrompt string, used []rag.ScoredChunk, labels map[string]string) (*Prompt, error) {
	p := &Prompt{ContextChunkIDs: []string{}, GlossaryChunkIDs: []string{}}
	var contextLines, glossaryLines []string

	remaining := b.budget
	exhausted := false
	for _, c := range used {
		if exhausted {
			p.DroppedChunkIDs = append(p.DroppedChunkIDs, c.ChunkID)
			continue
		}

		var line string
		if c.IsGlossary {
			line = fmt.Sprintf("- %s: %s", glossaryLabel(c, labels), oneLine(c.Text))
		} else {
			line = strings.TrimSpace(c.Text)
		}
		if line == "" {
			continue
		}

		n, err := b.tokenizer.CountTokens(line)
		if err != nil {
			return nil, fmt.Errorf("count tokens: %w", err)
		}
		if b.budget > 0 && n > remaining {
			if remaining < minChunkTokens {
				exhausted = true
				p.DroppedChunkIDs = append(p.DroppedChunkIDs, c.ChunkID)
				continue
			}
			if line, err = b.tokenizer.Truncate(line, remaining); err != nil {
				return nil, fmt.Errorf("truncate chunk %s: %w", c.ChunkID, err)
			}
			n = remaining
			p.Truncated = true
			exhausted = true
		}
		remaining -= n
		p.ContextTokens += n

		if c.IsGlossary {
			glossaryLines = append(glossaryLines, line)
			p.GlossaryChunkIDs = append(p.GlossaryChunkIDs, c.ChunkID)
		} else {
			contextLines = append(contextLines, line)
			p.ContextChunkIDs = append(p.ContextChunkIDs, c.ChunkID)
		}
	}

	var sb strings.Builder
	sb.WriteString(strings.TrimSpace(systemPrompt))
	if len(contextLines) > 0 {
		sb.WriteString("\n\n")
		sb.WriteString(contextHeader)
		for _, l := range contextLines {
			sb.WriteString("\n\n")
			sb.WriteString(l)
		}
	}
	if len(glossaryLines) > 0 {
		p.glossary = true
		sb.WriteString("\n\n")
		sb.WriteString(glossaryHeader)
		sb.WriteString("\n")
		sb.WriteString(glossaryLead)
		for _, l := range glossaryLines {
			sb.WriteString("\n")
			sb.WriteString(l)
		}
	}
	p.System = sb.String()
	return p, nil
}
