package main

import (
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/leadtrace/internal/ingest"
)

var (
	uploadCSVPath string
	uploadOwnerID string
)

var uploadCmd = &cobra.Command{
	Use:   "upload",
	Short: "Ingest a CSV of leads from the command line",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx, "upload")
		if err != nil {
			return err
		}
		defer env.Close()

		f, err := os.Open(uploadCSVPath)
		if err != nil {
			return eris.Wrap(err, "open csv")
		}
		defer f.Close() //nolint:errcheck

		ing := ingest.New(env.Store, env.Bus, cfg.Ingest.BatchSize)
		result, err := ing.Ingest(ctx, uploadOwnerID, f)
		if err != nil {
			return eris.Wrap(err, "upload csv")
		}

		zap.L().Info("upload complete",
			zap.Int("created", result.Created),
			zap.Int("dropped", result.Dropped),
			zap.String("csv", uploadCSVPath),
		)
		return nil
	},
}

func init() {
	uploadCmd.Flags().StringVar(&uploadCSVPath, "csv", "", "path to CSV file (required)")
	uploadCmd.Flags().StringVar(&uploadOwnerID, "owner", "", "owner ID to attach leads to (required)")
	_ = uploadCmd.MarkFlagRequired("csv")
	_ = uploadCmd.MarkFlagRequired("owner")
	rootCmd.AddCommand(uploadCmd)
}
