package main

import (
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/cardmint/scan-cli/internal/corpus"
)

var corpusCmd = &cobra.Command{
	Use:   "corpus",
	Short: "Manage the local reference corpus",
}

var corpusLoadCmd = &cobra.Command{
	Use:   "load <dump.json>",
	Short: "Import reference cards from a JSON dump",
	Long:  "Reads a JSON array of reference cards and upserts them into the corpus database configured by corpus.path.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		if cfg.Corpus.Path == "" {
			return eris.New("corpus path is required (CARDMINT_CORPUS_PATH)")
		}

		checker, err := corpus.NewSQLite(cfg.Corpus.Path)
		if err != nil {
			return eris.Wrap(err, "open corpus")
		}
		defer checker.Close() //nolint:errcheck

		f, err := os.Open(args[0])
		if err != nil {
			return eris.Wrap(err, "open dump")
		}
		defer f.Close() //nolint:errcheck

		n, err := checker.Load(ctx, f)
		if err != nil {
			return eris.Wrap(err, "load corpus dump")
		}

		zap.L().Info("corpus load complete",
			zap.String("path", cfg.Corpus.Path),
			zap.Int("cards", n),
		)
		return nil
	},
}

func init() {
	corpusCmd.AddCommand(corpusLoadCmd)
	rootCmd.AddCommand(corpusCmd)
}
