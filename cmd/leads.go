package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/leadtrace/internal/model"
	"github.com/sells-group/leadtrace/internal/store"
)

var leadsCmd = &cobra.Command{
	Use:   "leads",
	Short: "Inspect leads in the pipeline",
	Long:  "Commands for listing, viewing, and summarizing leads.",
}

// -- leads list --

var leadsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List leads for an owner",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck
		if err := st.Migrate(ctx); err != nil {
			return err
		}

		owner, _ := cmd.Flags().GetString("owner")
		status, _ := cmd.Flags().GetString("status")
		limit, _ := cmd.Flags().GetInt("limit")

		leads, err := st.ListLeads(ctx, store.LeadFilter{
			OwnerID: owner,
			Status:  model.Status(status),
			Limit:   limit,
		})
		if err != nil {
			return eris.Wrap(err, "leads list")
		}

		if len(leads) == 0 {
			fmt.Fprintln(os.Stderr, "No leads found.")
			return nil
		}

		formatLeadsList(os.Stdout, leads)
		return nil
	},
}

// -- leads show --

var leadsShowCmd = &cobra.Command{
	Use:   "show <lead-id>",
	Short: "Show full details of a lead",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck
		if err := st.Migrate(ctx); err != nil {
			return err
		}

		owner, _ := cmd.Flags().GetString("owner")

		lead, err := st.GetLead(ctx, owner, args[0])
		if err != nil {
			return eris.Wrap(err, "leads show")
		}
		if lead == nil {
			return eris.Errorf("lead %s not found", args[0])
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(lead)
	},
}

// -- leads stats --

var leadsStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show per-status lead counts",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck
		if err := st.Migrate(ctx); err != nil {
			return err
		}

		since, _ := cmd.Flags().GetDuration("since")

		counts, err := st.CountByStatus(ctx, time.Now().UTC().Add(-since))
		if err != nil {
			return eris.Wrap(err, "leads stats")
		}

		formatLeadStats(os.Stdout, counts)
		return nil
	},
}

func init() {
	leadsListCmd.Flags().String("owner", "", "owner ID (required)")
	leadsListCmd.Flags().String("status", "", "filter by status (Processing, Completed, Analyzed, ...)")
	leadsListCmd.Flags().Int("limit", 50, "max number of leads to display")
	_ = leadsListCmd.MarkFlagRequired("owner")

	leadsShowCmd.Flags().String("owner", "", "owner ID (required)")
	_ = leadsShowCmd.MarkFlagRequired("owner")

	leadsStatsCmd.Flags().Duration("since", 24*time.Hour, "time window for stats (e.g. 24h, 72h, 168h)")

	leadsCmd.AddCommand(leadsListCmd)
	leadsCmd.AddCommand(leadsShowCmd)
	leadsCmd.AddCommand(leadsStatsCmd)
	rootCmd.AddCommand(leadsCmd)
}

// formatLeadsList writes a tabular list of leads to w.
func formatLeadsList(out io.Writer, leads []model.Lead) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tNAME\tPHONE\tSTATUS\tUPLOADED\tERROR")
	_, _ = fmt.Fprintln(w, "--\t----\t-----\t------\t--------\t-----")

	for i := range leads {
		l := &leads[i]

		name := l.FullName()
		if len(name) > 30 {
			name = name[:27] + "..."
		}
		errMsg := l.Error
		if len(errMsg) > 40 {
			errMsg = errMsg[:37] + "..."
		}

		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			truncateID(l.ID),
			name,
			l.Phone(),
			l.Status,
			l.UploadedAt.Format("2006-01-02 15:04"),
			errMsg,
		)
	}
	_ = w.Flush()
}

// formatLeadStats writes per-status counts to w.
func formatLeadStats(out io.Writer, counts store.StatusCounts) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "STATUS\tCOUNT")
	_, _ = fmt.Fprintln(w, "------\t-----")

	total := 0
	for _, status := range []model.Status{
		model.StatusProcessing,
		model.StatusCompleted,
		model.StatusAnalyzed,
		model.StatusSkiptraceFailed,
		model.StatusMalformedData,
	} {
		if n := counts[status]; n > 0 {
			_, _ = fmt.Fprintf(w, "%s\t%d\n", status, n)
			total += n
		}
	}
	_, _ = fmt.Fprintf(w, "TOTAL\t%d\n", total)
	_ = w.Flush()
}

// truncateID shortens a UUID for display.
func truncateID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
