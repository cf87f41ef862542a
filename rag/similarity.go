package rag

import (
	"errors"
	"fmt"
	"math"
)

// ErrDimensionMismatch 两个向量长度不一致
var ErrDimensionMismatch = errors.New("vector dimension mismatch")

// DimensionMismatchError 携带两侧向量长度，errors.Is(err, ErrDimensionMismatch) 为真
type DimensionMismatchError struct {
	Left  int
	Right int
}

func (e *DimensionMismatchError) Error() string {
	return fmt.Sprintf("vector dimension mismatch: %d != %d", e.Left, e.Right)
}

// Is 匹配 ErrDimensionMismatch
func (e *DimensionMismatchError) Is(target error) bool {
	return target == ErrDimensionMismatch
}

// CosineSimilarity 计算余弦相似度，结果在 [-1, 1]。
// 长度不一致返回 *DimensionMismatchError；任一向量范数为 0（含空向量）返回 0。
func CosineSimilarity(a, b []float64) (float64, error) {
	if len(a) != len(b) {
		return 0, &DimensionMismatchError{Left: len(a), Right: len(b)}
	}

	var dot, normA, normB float64
	for i := range a {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}

	if normA == 0 || normB == 0 {
		return 0, nil
	}

	sim := dot / (math.Sqrt(normA) * math.Sqrt(normB))
	// 浮点误差可能略超出 [-1, 1]
	if sim > 1 {
		sim = 1
	} else if sim < -1 {
		sim = -1
	}
	return sim, nil
}

// clamp01 将分数截断到 [0, 1]
func clamp01(v float64) float64 {
	switch {
	case math.IsNaN(v) || v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
