package main

import (
	"encoding/json"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/cardmint/scan-cli/internal/model"
	"github.com/cardmint/scan-cli/internal/pipeline"
	"github.com/cardmint/scan-cli/internal/queue"
	"github.com/cardmint/scan-cli/internal/router"
)

var (
	scanDir      string
	scanManifest string
	scanTier     string
	scanPriority string
)

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Identify a batch of card images",
	Long:  "Queues every image in a directory (or the items of a JSON manifest) and drains the queue through the decision pipeline in bounded concurrent chunks.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		items, err := collectItems()
		if err != nil {
			return err
		}
		if len(items) == 0 {
			fmt.Fprintln(os.Stderr, "No items to process.")
			return nil
		}

		env, err := initPipeline(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		q := queue.New(cfg.Batch.QueueCapacity)
		for _, item := range items {
			if err := q.Enqueue(item); err != nil {
				return eris.Wrapf(err, "enqueue %s", item.SourcePath)
			}
		}

		shadow, err := initShadow(env)
		if err != nil {
			return err
		}

		orch := pipeline.NewOrchestrator(pipeline.OrchestratorConfig{
			ChunkSize:        cfg.Batch.ChunkSize,
			Concurrency:      cfg.Batch.Concurrency,
			MaxRetries:       cfg.Batch.MaxRetries,
			RetryBackoffBase: time.Duration(cfg.Batch.RetryBackoffSecs) * time.Second,
			ChunksPerSecond:  cfg.Batch.ChunksPerSecond,
		}, q, env.Pipeline, shadow)

		zap.L().Info("starting batch",
			zap.Int("items", len(items)),
			zap.Int("concurrency", cfg.Batch.Concurrency),
		)

		stats, err := orch.Run(ctx)
		if err != nil {
			return eris.Wrap(err, "batch run")
		}

		formatBatchStats(os.Stdout, stats)
		if shadow != nil {
			observed, diverged := shadow.Stats()
			fmt.Fprintf(os.Stdout, "Shadow policy: %d observed, %d diverged\n", observed, diverged)
		}
		return nil
	},
}

func init() {
	scanCmd.Flags().StringVar(&scanDir, "dir", "", "directory of card images to scan")
	scanCmd.Flags().StringVar(&scanManifest, "manifest", "", "JSON manifest of work items")
	scanCmd.Flags().StringVar(&scanTier, "tier", string(model.TierCommon), "value tier for directory scans")
	scanCmd.Flags().StringVar(&scanPriority, "priority", string(model.PriorityNormal), "queue priority for directory scans (normal, high, critical)")
	scanCmd.MarkFlagsOneRequired("dir", "manifest")
	scanCmd.MarkFlagsMutuallyExclusive("dir", "manifest")
	rootCmd.AddCommand(scanCmd)
}

// collectItems builds the work list from either --dir or --manifest.
func collectItems() ([]model.WorkItem, error) {
	if scanManifest != "" {
		f, err := os.Open(scanManifest)
		if err != nil {
			return nil, eris.Wrap(err, "open manifest")
		}
		defer f.Close() //nolint:errcheck
		return readManifest(f)
	}

	tier := model.Tier(scanTier)
	if !tier.Valid() {
		return nil, eris.Errorf("invalid tier %q", scanTier)
	}

	paths, err := collectImages(scanDir)
	if err != nil {
		return nil, err
	}

	items := make([]model.WorkItem, 0, len(paths))
	for _, p := range paths {
		items = append(items, model.WorkItem{
			ID:         uuid.NewString(),
			SourcePath: p,
			Priority:   model.Priority(scanPriority),
			Tier:       tier,
			CreatedAt:  time.Now().UTC(),
		})
	}
	return items, nil
}

// collectImages walks dir and returns every image file path, sorted by walk
// order.
func collectImages(dir string) ([]string, error) {
	var paths []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		switch strings.ToLower(filepath.Ext(path)) {
		case ".jpg", ".jpeg", ".png", ".webp":
			paths = append(paths, path)
		}
		return nil
	})
	if err != nil {
		return nil, eris.Wrapf(err, "walk %s", dir)
	}
	return paths, nil
}

// readManifest decodes a JSON array of work items, filling in IDs, tiers,
// and timestamps left blank by the caller.
func readManifest(r io.Reader) ([]model.WorkItem, error) {
	var items []model.WorkItem
	if err := json.NewDecoder(r).Decode(&items); err != nil {
		return nil, eris.Wrap(err, "decode manifest")
	}

	for i := range items {
		if items[i].SourcePath == "" {
			return nil, eris.Errorf("manifest item %d: source_path is required", i)
		}
		if items[i].ID == "" {
			items[i].ID = uuid.NewString()
		}
		if items[i].Tier == "" {
			items[i].Tier = model.TierCommon
		}
		if !items[i].Tier.Valid() {
			return nil, eris.Errorf("manifest item %d: invalid tier %q", i, items[i].Tier)
		}
		if items[i].Priority == "" {
			items[i].Priority = model.PriorityNormal
		}
		if items[i].CreatedAt.IsZero() {
			items[i].CreatedAt = time.Now().UTC()
		}
	}
	return items, nil
}

// initShadow builds the shadow policy runner when shadow mode is enabled.
func initShadow(env *pipelineEnv) (*pipeline.ShadowRunner, error) {
	if !cfg.Shadow.Enabled {
		return nil, nil
	}
	candidate, err := loadTiers(cfg.Shadow.TierFile)
	if err != nil {
		return nil, eris.Wrap(err, "load shadow tier policy")
	}
	rt := router.New(candidate, router.Options{
		AutoApproveEnabled: cfg.Router.AutoApproveEnabled,
		BypassEnabled:      cfg.Router.BypassEnabled,
		BypassMargin:       cfg.Router.BypassMargin,
		SampleRate:         cfg.Router.SampleRate,
	}, nil)
	zap.L().Info("shadow policy enabled", zap.String("tier_file", cfg.Shadow.TierFile))
	return pipeline.NewShadowRunner(rt, env.Store), nil
}

// formatBatchStats writes the batch summary to w.
func formatBatchStats(out io.Writer, s pipeline.BatchStats) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintf(w, "Processed:\t%d\n", s.Processed)
	_, _ = fmt.Fprintf(w, "Auto-approved:\t%d\n", s.Approved)
	_, _ = fmt.Fprintf(w, "Requires review:\t%d\n", s.Review)
	_, _ = fmt.Fprintf(w, "Requeued:\t%d\n", s.Requeued)
	_, _ = fmt.Fprintf(w, "Failed:\t%d\n", s.Failed)
	_ = w.Flush()
}
