package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/BaSui01/groundwork/config"
	"github.com/BaSui01/groundwork/internal/database"
	"github.com/BaSui01/groundwork/internal/metrics"
	"github.com/BaSui01/groundwork/rag"
	"github.com/BaSui01/groundwork/rag/store"
)

// =============================================================================
// 🛠️ 维护命令
// =============================================================================

// openStore 维护命令共用的存储连接
func openStore(cfg *config.Config, logger *zap.Logger) (*store.GormStore, func(), error) {
	db, err := database.Open(cfg.Database, logger)
	if err != nil {
		return nil, nil, err
	}
	closeFn := func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	}
	return store.NewGormStore(db, logger), closeFn, nil
}

// commandEnv 解析通用 --config 参数并打开存储
func commandEnv(fs *flag.FlagSet, args []string) (*config.Config, *zap.Logger, *store.GormStore, func(), error) {
	configPath := fs.String("config", "", "Path to config file")
	if err := fs.Parse(args); err != nil {
		return nil, nil, nil, nil, errUsage
	}
	cfg, err := loadConfig(*configPath, "")
	if err != nil {
		return nil, nil, nil, nil, err
	}
	logger := initLogger(cfg.Log)
	s, closeFn, err := openStore(cfg, logger)
	if err != nil {
		return nil, nil, nil, nil, err
	}
	return cfg, logger, s, closeFn, nil
}

// =============================================================================
// 🔁 repair-embeddings
// =============================================================================

func runRepair(ctx context.Context, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("repair-embeddings", flag.ContinueOnError)
	assistant := fs.String("assistant", "", "Only repair chunks of this assistant")
	reembed := fs.Bool("reembed", false, "Embed pending/failed chunks")
	dryRun := fs.Bool("dry-run", false, "Report planned changes without writing")
	asJSON := fs.Bool("json", false, "Print the full report as JSON")
	pushURL := fs.String("pushgateway", "", "Push repair metrics to this Prometheus Pushgateway")

	cfg, logger, s, closeFn, err := commandEnv(fs, args)
	if err != nil {
		return err
	}
	defer closeFn()

	repairer := rag.NewEmbeddingRepairer(s, newEmbedder(cfg.Embedding, logger), logger)
	report, err := repairer.Repair(ctx, rag.RepairOptions{
		AssistantID: *assistant,
		Reembed:     *reembed,
		DryRun:      *dryRun,
		Dimensions:  cfg.Embedding.Dimensions,
		BatchSize:   cfg.Embedding.BatchSize,
		Concurrency: cfg.Embedding.RepairConcurrency,
	})
	if err != nil {
		return fmt.Errorf("repair embeddings: %w", err)
	}

	logger.Info("embedding repair finished",
		zap.Int("scanned", report.Scanned),
		zap.Int("reembedded", report.Reembedded),
		zap.Int("failed", report.Failed),
		zap.Bool("dry_run", report.DryRun),
	)
	if *pushURL != "" && !report.DryRun {
		if err := pushRepairMetrics(*pushURL, report, logger); err != nil {
			logger.Warn("failed to push repair metrics", zap.Error(err))
		}
	}

	if *asJSON {
		return writeJSON(out, report)
	}
	printRepairReport(out, report)
	return nil
}

// pushRepairMetrics 批处理任务没有 /metrics 端口，通过 Pushgateway 上报
func pushRepairMetrics(url string, r *rag.RepairReport, logger *zap.Logger) error {
	reg := prometheus.NewRegistry()
	collector := metrics.NewCollector("groundwork", reg, logger)
	collector.RecordRepair(r.Reembedded+r.MarkedEmbedded+r.MarkedPending, r.Failed)
	return push.New(url, "groundwork_repair_embeddings").Gatherer(reg).Push()
}

func printRepairReport(out io.Writer, r *rag.RepairReport) {
	mode := "applied"
	if r.DryRun {
		mode = "dry-run"
	}
	fmt.Fprintf(out, "Embedding repair (%s)\n", mode)
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "  scanned\t%d\n", r.Scanned)
	fmt.Fprintf(tw, "  marked pending\t%d\n", r.MarkedPending)
	fmt.Fprintf(tw, "  marked embedded\t%d\n", r.MarkedEmbedded)
	fmt.Fprintf(tw, "  re-embedded\t%d\n", r.Reembedded)
	fmt.Fprintf(tw, "  failed\t%d\n", r.Failed)
	_ = tw.Flush()
}

// =============================================================================
// 📉 glossary-drift
// =============================================================================

func runDrift(ctx context.Context, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("glossary-drift", flag.ContinueOnError)
	threshold := fs.Float64("threshold", -1, "Override diagnostics.drift_threshold")
	asJSON := fs.Bool("json", false, "Print reports as JSON")

	cfg, _, s, closeFn, err := commandEnv(fs, args)
	if err != nil {
		return err
	}
	defer closeFn()

	th := cfg.Diagnostics.DriftThreshold
	if *threshold >= 0 {
		th = *threshold
	}
	reports, err := rag.NewDriftAnalyzer(s, th).Analyze(ctx)
	if err != nil {
		return fmt.Errorf("analyze drift: %w", err)
	}
	if *asJSON {
		return writeJSON(out, reports)
	}
	printDriftReports(out, reports)
	return nil
}

func printDriftReports(out io.Writer, reports []rag.DriftReport) {
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "SLUG\tSTAGE\tTAGGED\tMENTIONING\tDRIFT\tSTATUS")
	for _, r := range reports {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%.2f\t%s\n",
			r.Slug, r.Stage, r.TaggedChunks, r.MentioningChunks, r.DriftScore, r.Status)
	}
	_ = tw.Flush()
}

// =============================================================================
// ⚓ anchors
// =============================================================================

// glossaryFile anchors seed 的 YAML 格式
type glossaryFile struct {
	Anchors []glossaryAnchor `yaml:"anchors"`
}

type glossaryAnchor struct {
	Slug           string   `yaml:"slug"`
	Label          string   `yaml:"label"`
	Aliases        []string `yaml:"aliases"`
	FallbackScore  float64  `yaml:"fallback_score"`
	MutationStatus string   `yaml:"mutation_status"`
	Stage          string   `yaml:"stage"`
}

// parseGlossary 解析并校验术语文件
func parseGlossary(r io.Reader) ([]rag.Anchor, error) {
	var f glossaryFile
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		return nil, fmt.Errorf("parse glossary: %w", err)
	}

	anchors := make([]rag.Anchor, 0, len(f.Anchors))
	seen := make(map[string]struct{}, len(f.Anchors))
	for i, ga := range f.Anchors {
		if ga.Label == "" {
			return nil, fmt.Errorf("anchor #%d: label is required", i+1)
		}
		if ga.FallbackScore < 0 || ga.FallbackScore > 1 {
			return nil, fmt.Errorf("anchor %q: fallback_score must be in [0,1]", ga.Label)
		}
		a := rag.Anchor{
			Slug:           ga.Slug,
			Label:          ga.Label,
			Aliases:        ga.Aliases,
			FallbackScore:  ga.FallbackScore,
			MutationStatus: rag.MutationStatus(ga.MutationStatus),
		}
		if a.Slug == "" {
			a.Slug = rag.Slugify(a.Label)
		}
		if ga.Stage != "" {
			stage, err := rag.ParseStage(ga.Stage)
			if err != nil {
				return nil, fmt.Errorf("anchor %q: %w", ga.Label, err)
			}
			a.Stage = stage
		}
		if _, dup := seen[a.Slug]; dup {
			return nil, fmt.Errorf("duplicate anchor slug %q", a.Slug)
		}
		seen[a.Slug] = struct{}{}
		anchors = append(anchors, a)
	}
	return anchors, nil
}

func runAnchors(ctx context.Context, args []string, out io.Writer) error {
	if len(args) < 1 {
		fmt.Fprintln(out, "Usage: groundwork anchors seed --file <glossary.yaml> | advance <slug> <stage>")
		return errUsage
	}
	switch args[0] {
	case "seed":
		return runAnchorsSeed(ctx, args[1:], out)
	case "advance":
		return runAnchorsAdvance(ctx, args[1:], out)
	default:
		fmt.Fprintf(out, "Unknown anchors subcommand: %s\n", args[0])
		return errUsage
	}
}

func runAnchorsSeed(ctx context.Context, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("anchors seed", flag.ContinueOnError)
	file := fs.String("file", "", "Glossary YAML file")

	_, logger, s, closeFn, err := commandEnv(fs, args)
	if err != nil {
		return err
	}
	defer closeFn()
	if *file == "" {
		return fmt.Errorf("--file is required")
	}

	f, err := os.Open(*file)
	if err != nil {
		return err
	}
	defer f.Close()
	anchors, err := parseGlossary(f)
	if err != nil {
		return err
	}
	return seedAnchors(ctx, s, anchors, logger, out)
}

func seedAnchors(ctx context.Context, s rag.AnchorStore, anchors []rag.Anchor, logger *zap.Logger, out io.Writer) error {
	for _, a := range anchors {
		if err := s.UpsertAnchor(ctx, a); err != nil {
			return fmt.Errorf("upsert anchor %s: %w", a.Slug, err)
		}
		logger.Debug("anchor upserted", zap.String("slug", a.Slug))
	}
	fmt.Fprintf(out, "Seeded %d anchors\n", len(anchors))
	return nil
}

func runAnchorsAdvance(ctx context.Context, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("anchors advance", flag.ContinueOnError)

	_, _, s, closeFn, err := commandEnv(fs, args)
	if err != nil {
		return err
	}
	defer closeFn()
	if fs.NArg() != 2 {
		return fmt.Errorf("advance requires <slug> <stage>")
	}

	stage, err := rag.ParseStage(fs.Arg(1))
	if err != nil {
		return err
	}
	anchor, err := s.AdvanceAnchorStage(ctx, fs.Arg(0), stage)
	if err != nil {
		var regress *rag.StageRegressionError
		if errors.As(err, &regress) {
			return fmt.Errorf("refused: %w", err)
		}
		return err
	}
	fmt.Fprintf(out, "%s is now %s\n", anchor.Slug, anchor.Stage)
	return nil
}

func writeJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
