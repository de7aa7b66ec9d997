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

	"github.com/cardmint/scan-cli/internal/model"
	"github.com/cardmint/scan-cli/internal/store"
)

var recordsCmd = &cobra.Command{
	Use:   "records",
	Short: "Inspect identification records",
	Long:  "Commands for listing, viewing, and summarizing persisted identification records and their audit trails.",
}

// -- records list --

var recordsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List identification records",
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

		status, _ := cmd.Flags().GetString("status")
		approvalStatus, _ := cmd.Flags().GetString("approval")
		tier, _ := cmd.Flags().GetString("tier")
		limit, _ := cmd.Flags().GetInt("limit")

		filter := store.RecordFilter{
			Status:   model.RecordStatus(status),
			Approval: model.ApprovalStatus(approvalStatus),
			Tier:     model.Tier(tier),
			Limit:    limit,
		}

		records, err := st.ListRecords(ctx, filter)
		if err != nil {
			return eris.Wrap(err, "records list")
		}

		if len(records) == 0 {
			fmt.Fprintln(os.Stderr, "No records found.")
			return nil
		}

		formatRecordsList(os.Stdout, records)
		return nil
	},
}

// -- records show --

var recordsShowCmd = &cobra.Command{
	Use:   "show <item-id>",
	Short: "Show full details of a record",
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

		record, err := st.GetRecord(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "records show")
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(record)
	},
}

// -- records audit --

var recordsAuditCmd = &cobra.Command{
	Use:   "audit <item-id>",
	Short: "Show the approval audit trail for an item",
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

		limit, _ := cmd.Flags().GetInt("limit")
		entries, err := st.ListAudit(ctx, args[0], limit)
		if err != nil {
			return eris.Wrap(err, "records audit")
		}

		if len(entries) == 0 {
			fmt.Fprintln(os.Stderr, "No audit entries found.")
			return nil
		}

		formatAuditTrail(os.Stdout, entries)
		return nil
	},
}

// -- records stats --

var recordsStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show aggregate record statistics",
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
		filter := store.RecordFilter{Limit: 10000}
		if since > 0 {
			filter.CreatedAfter = time.Now().Add(-since)
		}

		records, err := st.ListRecords(ctx, filter)
		if err != nil {
			return eris.Wrap(err, "records stats")
		}

		stats := computeRecordStats(records)
		formatRecordStats(os.Stdout, stats)
		return nil
	},
}

func init() {
	recordsListCmd.Flags().String("status", "", "filter by record status (complete, failed)")
	recordsListCmd.Flags().String("approval", "", "filter by approval status (auto_approved, requires_review, rejected)")
	recordsListCmd.Flags().String("tier", "", "filter by value tier")
	recordsListCmd.Flags().Int("limit", 50, "max number of records to display")

	recordsAuditCmd.Flags().Int("limit", 50, "max number of audit entries to display")

	recordsStatsCmd.Flags().Duration("since", 24*time.Hour, "time window for stats (e.g. 24h, 72h, 168h)")

	recordsCmd.AddCommand(recordsListCmd)
	recordsCmd.AddCommand(recordsShowCmd)
	recordsCmd.AddCommand(recordsAuditCmd)
	recordsCmd.AddCommand(recordsStatsCmd)
	rootCmd.AddCommand(recordsCmd)
}

// recordStats holds aggregate statistics computed from a set of records.
type recordStats struct {
	Total         int
	Complete      int
	Failed        int
	Approved      int
	Review        int
	Rejected      int
	Verified      int
	AvgConfidence float64
}

func computeRecordStats(records []model.FinalRecord) recordStats {
	var s recordStats
	s.Total = len(records)

	var totalConfidence float64
	for _, r := range records {
		switch r.Status {
		case model.RecordComplete:
			s.Complete++
		case model.RecordFailed:
			s.Failed++
		}
		switch r.Approval.Status {
		case model.ApprovalAutoApproved:
			s.Approved++
		case model.ApprovalRequiresReview:
			s.Review++
		case model.ApprovalRejected:
			s.Rejected++
		}
		if r.Verification != nil {
			s.Verified++
		}
		totalConfidence += r.FinalConfidence
	}

	if s.Total > 0 {
		s.AvgConfidence = totalConfidence / float64(s.Total)
	}
	return s
}

// formatRecordsList writes a tabular list of records to w.
func formatRecordsList(out io.Writer, records []model.FinalRecord) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ITEM\tTITLE\tTIER\tCONF\tAPPROVAL\tSTATUS\tUPDATED")
	_, _ = fmt.Fprintln(w, "----\t-----\t----\t----\t--------\t------\t-------")

	for _, r := range records {
		title := ""
		if r.Primary != nil {
			title = r.Primary.Title
		}
		if len(title) > 30 {
			title = title[:27] + "..."
		}

		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%.2f\t%s\t%s\t%s\n",
			truncateID(r.ItemID),
			title,
			r.Tier,
			r.FinalConfidence,
			r.Approval.Status,
			r.Status,
			r.UpdatedAt.Format("2006-01-02 15:04"),
		)
	}
	_ = w.Flush()
}

// formatAuditTrail writes the audit entries for an item to w.
func formatAuditTrail(out io.Writer, entries []model.AuditEntry) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "TIME\tSTATUS\tCONF\tTHRESHOLD\tREASON")
	_, _ = fmt.Fprintln(w, "----\t------\t----\t---------\t------")

	for _, e := range entries {
		reason := e.Reason
		if len(reason) > 60 {
			reason = reason[:57] + "..."
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%.2f\t%.2f\t%s\n",
			e.CreatedAt.Format("2006-01-02 15:04:05"),
			e.Status,
			e.Confidence,
			e.Threshold,
			reason,
		)
	}
	_ = w.Flush()
}

// formatRecordStats writes aggregate stats to w.
func formatRecordStats(out io.Writer, s recordStats) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintf(w, "Total records:\t%d\n", s.Total)
	_, _ = fmt.Fprintf(w, "Complete:\t%d\n", s.Complete)
	_, _ = fmt.Fprintf(w, "Failed:\t%d\n", s.Failed)
	_, _ = fmt.Fprintf(w, "Auto-approved:\t%d\n", s.Approved)
	_, _ = fmt.Fprintf(w, "Requires review:\t%d\n", s.Review)
	_, _ = fmt.Fprintf(w, "Rejected:\t%d\n", s.Rejected)
	_, _ = fmt.Fprintf(w, "Verified:\t%d\n", s.Verified)
	if s.AvgConfidence > 0 {
		_, _ = fmt.Fprintf(w, "Avg confidence:\t%.3f\n", s.AvgConfidence)
	}
	_ = w.Flush()
}

// truncateID returns the first 8 characters of a UUID for compact display.
func truncateID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
