package tokenizer

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"pgregory.net/rapid"
)

func TestEstimator_CountTokens(t *testing.T) {
	e := NewEstimatorTokenizer("any", 0)
	assert.Equal(t, 4096, e.MaxTokens())

	tests := []struct {
		name string
		text string
		want int
	}{
		{"empty", "", 0},
		{"single char", "a", 1},
		{"ascii", "abcdefghijklmnop", 4},
		{"cjk", "零知识证明", 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n, err := e.CountTokens(tt.text)
			require.NoError(t, err)
			assert.Equal(t, tt.want, n)
		})
	}
}

func TestEstimator_CountMessages(t *testing.T) {
	e := NewEstimatorTokenizer("any", 0)
	n, err := e.CountMessages([]Message{{Role: "system", Content: "abcdefgh"}, {Role: "user", Content: ""}})
	require.NoError(t, err)
	assert.Equal(t, 2+4+0+4+3, n)
}

func TestEstimator_Truncate(t *testing.T) {
	e := NewEstimatorTokenizer("any", 0)
	text := strings.Repeat("abcd", 100)

	out, err := e.Truncate(text, 10)
	require.NoError(t, err)
	assert.Equal(t, text[:43], out)

	out, err = e.Truncate("short", 10)
	require.NoError(t, err)
	assert.Equal(t, "short", out)

	out, err = e.Truncate(text, 0)
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestEstimator_TruncateProperty(t *testing.T) {
	e := NewEstimatorTokenizer("any", 0)
	rapid.Check(t, func(t *rapid.T) {
		text := rapid.String().Draw(t, "text")
		budget := rapid.IntRange(1, 50).Draw(t, "budget")

		out, err := e.Truncate(text, budget)
		require.NoError(t, err)
		n, _ := e.CountTokens(out)
		assert.LessOrEqual(t, n, budget)
		assert.True(t, strings.HasPrefix(text, out))
	})
}

func TestLookupEncoding(t *testing.T) {
	assert.Equal(t, "o200k_base", lookupEncoding("gpt-4o-mini").encoding)
	assert.Equal(t, "o200k_base", lookupEncoding("gpt-4o-2024-08-06").encoding)
	assert.Equal(t, "cl100k_base", lookupEncoding("gpt-4-0613").encoding)
	assert.Equal(t, 8192, lookupEncoding("gpt-4-0613").maxTokens)
	assert.Equal(t, "cl100k_base", lookupEncoding("llama-3").encoding)

	tk := NewTiktokenTokenizer("gpt-4o-mini")
	assert.Equal(t, "tiktoken[o200k_base]", tk.Name())
	assert.Equal(t, 128000, tk.MaxTokens())
}

type brokenTokenizer struct{ calls int }

var errNoData = errors.New("bpe data unavailable")

func (b *brokenTokenizer) CountTokens(string) (int, error) { b.calls++; return 0, errNoData }
func (b *brokenTokenizer) CountMessages([]Message) (int, error) {
	b.calls++
	return 0, errNoData
}
func (b *brokenTokenizer) Truncate(string, int) (string, error) { b.calls++; return "", errNoData }
func (b *brokenTokenizer) MaxTokens() int                       { return 1000 }
func (b *brokenTokenizer) Name() string                         { return "broken" }

func TestWithFallback(t *testing.T) {
	broken := &brokenTokenizer{}
	tk := WithFallback(broken, NewEstimatorTokenizer("m", 1000), zaptest.NewLogger(t))
	assert.Equal(t, "broken", tk.Name())

	n, err := tk.CountTokens("abcdefgh")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, "estimator", tk.Name())

	// 失败后不再调用 primary
	_, err = tk.Truncate("abcdefgh", 1)
	require.NoError(t, err)
	_, err = tk.CountMessages(nil)
	require.NoError(t, err)
	assert.Equal(t, 1, broken.calls)
	assert.Equal(t, 1000, tk.MaxTokens())
}
