package main

import (
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/leadtrace/internal/model"
)

var (
	reenrichOwnerID string
	reenrichLeadID  string
)

var reenrichCmd = &cobra.Command{
	Use:   "reenrich",
	Short: "Send a failed lead back through skiptrace",
	Long:  "Resets a lead in a terminal failure state to Processing, clears its enrichment output, and re-publishes it to the skiptrace queue.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx, "reenrich")
		if err != nil {
			return err
		}
		defer env.Close()

		mut, err := env.Store.ResetForEnrichment(ctx, reenrichOwnerID, reenrichLeadID)
		if err != nil {
			return eris.Wrap(err, "reset lead")
		}
		if !mut.Claimed {
			return eris.Errorf("lead %s is not in a failed state (or does not exist)", reenrichLeadID)
		}

		ev := model.LeadEvent{
			OwnerID:    mut.After.OwnerID,
			LeadID:     mut.After.ID,
			After:      mut.After,
			OccurredAt: time.Now().UTC(),
		}
		if err := env.Bus.LeadCreated(ctx, ev); err != nil {
			return eris.Wrap(err, "publish created event")
		}

		zap.L().Info("lead queued for re-enrichment",
			zap.String("ownerId", reenrichOwnerID),
			zap.String("leadId", reenrichLeadID),
		)
		return nil
	},
}

func init() {
	reenrichCmd.Flags().StringVar(&reenrichOwnerID, "owner", "", "owner ID (required)")
	reenrichCmd.Flags().StringVar(&reenrichLeadID, "lead", "", "lead ID (required)")
	_ = reenrichCmd.MarkFlagRequired("owner")
	_ = reenrichCmd.MarkFlagRequired("lead")
	rootCmd.AddCommand(reenrichCmd)
}
