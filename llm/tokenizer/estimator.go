package tokenizer

import (
	"sort"
	"unicode/utf8"
)

// EstimatorTokenizer is a character-count-based token estimator.
// It distinguishes CJK and ASCII characters for better accuracy
// compared to a naive len/4 approach.
type EstimatorTokenizer struct {
	model     string
	maxTokens int
}

// NewEstimatorTokenizer creates a generic estimator.
func NewEstimatorTokenizer(model string, maxTokens int) *EstimatorTokenizer {
	if maxTokens <= 0 {
		maxTokens = 4096
	}
	return &EstimatorTokenizer{model: model, maxTokens: maxTokens}
}

func estimate(text string) int {
	if text == "" {
		return 0
	}
	totalChars := utf8.RuneCountInString(text)
	cjkCount := 0
	for _, r := range text {
		if isCJK(r) {
			cjkCount++
		}
	}
	// CJK characters ~1.5 chars/token, ASCII ~4 chars/token.
	estimated := int(float64(cjkCount)/1.5 + float64(totalChars-cjkCount)/4.0)
	if estimated == 0 {
		estimated = 1
	}
	return estimated
}

func (e *EstimatorTokenizer) CountTokens(text string) (int, error) {
	return estimate(text), nil
}

func (e *EstimatorTokenizer) CountMessages(messages []Message) (int, error) {
	total := 0
	for _, msg := range messages {
		total += estimate(msg.Content) + 4
	}
	return total + 3, nil
}

// Truncate keeps the longest rune prefix whose estimate fits.
func (e *EstimatorTokenizer) Truncate(text string, maxTokens int) (string, error) {
	if maxTokens <= 0 {
		return "", nil
	}
	if estimate(text) <= maxTokens {
		return text, nil
	}
	runes := []rune(text)
	// estimate 对前缀长度单调不减
	n := sort.Search(len(runes)+1, func(i int) bool {
		return estimate(string(runes[:i])) > maxTokens
	})
	return string(runes[:n-1]), nil
}

func (e *EstimatorTokenizer) MaxTokens() int {
	return e.maxTokens
}

func (e *EstimatorTokenizer) Name() string {
	return "estimator"
}

// isCJK returns true if the rune is a CJK character.
func isCJK(r rune) bool {
	return (r >= 0x4E00 && r <= 0x9FFF) || // CJK Unified Ideographs
		(r >= 0x3400 && r <= 0x4DBF) || // CJK Extension A
		(r >= 0x20000 && r <= 0x2A6DF) || // CJK Extension B
		(r >= 0xF900 && r <= 0xFAFF) || // CJK Compatibility Ideographs
		(r >= 0x3000 && r <= 0x303F) || // CJK Symbols and Punctuation
		(r >= 0xFF00 && r <= 0xFFEF) // Halfwidth and Fullwidth Forms
}
