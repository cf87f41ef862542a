package rag

import (
	"context"
	"fmt"
	"sort"
)

// DriftStatus 锚点措辞与分块内容的一致性
type DriftStatus string

const (
	DriftAligned  DriftStatus = "aligned"
	DriftDrifting DriftStatus = "drifting"
	// DriftOrphaned 没有任何分块引用该锚点
	DriftOrphaned DriftStatus = "orphaned"
)

// DriftReport 单个锚点的漂移报告
type DriftReport struct {
	Slug             string           `json:"slug"`
	Label            string           `json:"label"`
	Stage            AcquisitionStage `json:"stage"`
	TaggedChunks     int              `json:"tagged_chunks"`
	MentioningChunks int              `json:"mentioning_chunks"`
	DriftScore       float64          `json:"drift_score"`
	Status           DriftStatus      `json:"status"`
}

// DriftAnalyzer 统计锚点所标注分块中未提及锚点措辞的比例
type DriftAnalyzer struct {
	store     DriftStore
	threshold float64
}

// NewDriftAnalyzer 创建漂移分析器，drift_score 大于 threshold 视为 drifting
func NewDriftAnalyzer(store DriftStore, threshold float64) *DriftAnalyzer {
	return &DriftAnalyzer{store: store, threshold: threshold}
}

// Analyze 生成全部锚点的漂移报告，按 drift_score 降序
func (a *DriftAnalyzer) Analyze(ctx context.Context) ([]DriftReport, error) {
	anchors, err := a.store.ListAnchors(ctx)
	if err != nil {
		return nil, fmt.Errorf("list anchors: %w", err)
	}

	reports := make([]DriftReport, 0, len(anchors))
	for _, anchor := range anchors {
		chunks, err := a.store.ListChunksByAnchor(ctx, anchor.Slug)
		if err != nil {
			return nil, fmt.Errorf("list chunks for anchor %s: %w", anchor.Slug, err)
		}
		reports = append(reports, a.assess(anchor, chunks))
	}

	sort.SliceStable(reports, func(i, j int) bool {
		if reports[i].DriftScore != reports[j].DriftScore {
			return reports[i].DriftScore > reports[j].DriftScore
		}
		return reports[i].Slug < reports[j].Slug
	})
	return reports, nil
}

func (a *DriftAnalyzer) assess(anchor Anchor, chunks []DocumentChunk) DriftReport {
	report := DriftReport{
		Slug:         anchor.Slug,
		Label:        anchor.Label,
		Stage:        anchor.Stage,
		TaggedChunks: len(chunks),
	}
	if len(chunks) == 0 {
		report.Status = DriftOrphaned
		return report
	}

	for _, c := range chunks {
		if MentionsAnchor(c.Text, anchor) {
			report.MentioningChunks++
		}
	}
	report.DriftScore = 1 - float64(report.MentioningChunks)/float64(report.TaggedChunks)
	if report.DriftScore > a.threshold {
		report.Status = DriftDrifting
	} else {
		report.Status = DriftAligned
	}
	return report
}
