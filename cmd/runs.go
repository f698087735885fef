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

	"github.com/sells-group/watchman/internal/model"
	"github.com/sells-group/watchman/internal/store"
)

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "Inspect poll run history",
	Long:  "Commands for listing and summarizing poll runs.",
}

// -- runs list --

var runsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recent poll runs",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		limit, _ := cmd.Flags().GetInt("limit")
		runs, err := st.ListPollRuns(ctx, store.PollRunFilter{Limit: limit})
		if err != nil {
			return eris.Wrap(err, "runs list")
		}

		if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(runs)
		}
		if len(runs) == 0 {
			fmt.Fprintln(os.Stderr, "No runs found.")
			return nil
		}

		formatRunsList(os.Stdout, runs)
		return nil
	},
}

// -- runs stats --

var runsStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show aggregate poll run statistics",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		since, _ := cmd.Flags().GetDuration("since")
		filter := store.PollRunFilter{Limit: 10000}
		if since > 0 {
			filter.Since = time.Now().Add(-since)
		}

		runs, err := st.ListPollRuns(ctx, filter)
		if err != nil {
			return eris.Wrap(err, "runs stats")
		}

		formatRunStats(os.Stdout, computeRunStats(runs))
		return nil
	},
}

func init() {
	runsListCmd.Flags().Int("limit", 20, "max number of runs to display")
	runsListCmd.Flags().Bool("json", false, "print as JSON")

	runsStatsCmd.Flags().Duration("since", 24*time.Hour, "time window for stats (e.g. 24h, 72h, 168h)")

	runsCmd.AddCommand(runsListCmd)
	runsCmd.AddCommand(runsStatsCmd)
	rootCmd.AddCommand(runsCmd)
}

// runStats holds aggregate statistics computed from a set of poll runs.
type runStats struct {
	Total         int
	OK            int
	Errored       int
	Running       int
	NewDetections int
	Quiet         int
	Notifications int
	AvgDurSecs    float64
}

// computeRunStats computes aggregate statistics from a list of poll runs.
func computeRunStats(runs []model.PollRun) runStats {
	var s runStats
	s.Total = len(runs)

	var totalDur time.Duration
	var durCount int

	for _, r := range runs {
		switch r.Status {
		case model.RunStatusOK:
			s.OK++
		case model.RunStatusError:
			s.Errored++
		default:
			s.Running++
		}
		if r.FinishedAt != nil {
			totalDur += r.FinishedAt.Sub(r.StartedAt)
			durCount++
		}
		s.NewDetections += r.NewDetections
		s.Quiet += r.SuppressedCount + r.QuarantinedCount
		if r.NotificationSent != "" {
			s.Notifications++
		}
	}

	if durCount > 0 {
		s.AvgDurSecs = totalDur.Seconds() / float64(durCount)
	}
	return s
}

// formatRunsList writes a tabular list of poll runs to w.
func formatRunsList(out io.Writer, runs []model.PollRun) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tSTATUS\tSTATE\tNEW\tQUIET\tNOTIFY\tERRORS\tSTARTED\tDURATION")
	_, _ = fmt.Fprintln(w, "--\t------\t-----\t---\t-----\t------\t------\t-------\t--------")

	for _, r := range runs {
		dur := "-"
		if r.FinishedAt != nil {
			dur = r.FinishedAt.Sub(r.StartedAt).Round(time.Second).String()
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%s\t%d\t%s\t%s\n",
			truncateID(r.ID),
			r.Status,
			orDash(string(r.ResultingState)),
			r.NewDetections,
			r.SuppressedCount+r.QuarantinedCount,
			orDash(r.NotificationSent),
			len(r.Errors),
			r.StartedAt.UTC().Format("2006-01-02 15:04"),
			dur,
		)
	}
	_ = w.Flush()
}

// formatRunStats writes aggregate statistics to w.
func formatRunStats(out io.Writer, s runStats) {
	_, _ = fmt.Fprintf(out, "Total runs:      %d\n", s.Total)
	_, _ = fmt.Fprintf(out, "  OK:            %d\n", s.OK)
	_, _ = fmt.Fprintf(out, "  Errored:       %d\n", s.Errored)
	_, _ = fmt.Fprintf(out, "  Running:       %d\n", s.Running)
	_, _ = fmt.Fprintf(out, "New detections:  %d\n", s.NewDetections)
	_, _ = fmt.Fprintf(out, "Quiet:           %d\n", s.Quiet)
	_, _ = fmt.Fprintf(out, "Notifications:   %d\n", s.Notifications)
	if s.AvgDurSecs > 0 {
		_, _ = fmt.Fprintf(out, "Avg duration:    %.1fs\n", s.AvgDurSecs)
	}
}

// truncateID shortens a UUID for display.
func truncateID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
