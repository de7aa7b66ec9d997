package main

import (
	"encoding/json"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/cardmint/scan-cli/internal/model"
)

var (
	runImage       string
	runTier        string
	runID          string
	runSet         string
	runNumber      string
	runForceVerify bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Identify a single card image",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		tier := model.Tier(runTier)
		if !tier.Valid() {
			return eris.Errorf("invalid tier %q", runTier)
		}

		env, err := initPipeline(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		item := model.WorkItem{
			ID:         runID,
			SourcePath: runImage,
			Priority:   model.PriorityNormal,
			Tier:       tier,
			Hints: model.Hints{
				ExpectedSet:       runSet,
				ExpectedNumber:    runNumber,
				ForceVerification: runForceVerify,
			},
			CreatedAt: time.Now().UTC(),
		}
		if item.ID == "" {
			item.ID = uuid.NewString()
		}

		record, err := env.Pipeline.ProcessItem(ctx, item)
		if err != nil {
			return eris.Wrap(err, "process item")
		}

		zap.L().Info("identification complete",
			zap.String("item_id", record.ItemID),
			zap.String("approval", string(record.Approval.Status)),
			zap.Float64("confidence", record.FinalConfidence),
		)

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(record)
	},
}

func init() {
	runCmd.Flags().StringVar(&runImage, "image", "", "path to the card image (required)")
	runCmd.Flags().StringVar(&runTier, "tier", string(model.TierCommon), "value tier (common, rare, holo, vintage, high_value)")
	runCmd.Flags().StringVar(&runID, "id", "", "item ID (generated when empty)")
	runCmd.Flags().StringVar(&runSet, "set", "", "expected set code hint")
	runCmd.Flags().StringVar(&runNumber, "number", "", "expected card number hint")
	runCmd.Flags().BoolVar(&runForceVerify, "force-verify", false, "always run the verification pass")
	_ = runCmd.MarkFlagRequired("image")
	rootCmd.AddCommand(runCmd)
}
