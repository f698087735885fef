package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/sells-group/watchman/internal/model"
)

var stateCmd = &cobra.Command{
	Use:   "state",
	Short: "Show the portfolio state and detections for a date",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		date, _ := cmd.Flags().GetString("date")
		if date == "" {
			date = time.Now().UTC().Format("2006-01-02")
		}

		ds, err := st.GetDailyState(ctx, date)
		if err != nil {
			return err
		}
		detections, err := st.ListDetectionsByDate(ctx, date)
		if err != nil {
			return err
		}

		if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(map[string]any{"state": ds, "detections": detections})
		}

		if ds == nil {
			fmt.Fprintf(os.Stdout, "%s: Contained (no polls run yet)\n", date)
			return nil
		}
		fmt.Fprintf(os.Stdout, "%s: %s\n%s\n\n", ds.Date, ds.State, ds.Summary)
		formatDetections(os.Stdout, detections)
		return nil
	},
}

func init() {
	stateCmd.Flags().String("date", "", "calendar date YYYY-MM-DD (default today, UTC)")
	stateCmd.Flags().Bool("json", false, "print as JSON")
	rootCmd.AddCommand(stateCmd)
}

// formatDetections writes a tabular list of detections to w.
func formatDetections(out io.Writer, ds []model.Detection) {
	if len(ds) == 0 {
		_, _ = fmt.Fprintln(out, "No detections.")
		return
	}
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "TICKER\tCHANGE\tTIER\tSCORE\tFLAG\tTITLE")
	for _, d := range ds {
		title := d.Title
		if len(title) > 50 {
			title = title[:47] + "..."
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\t%s\n",
			d.Ticker, d.ChangeType, d.SourceTier, d.ScoreFinal, detectionFlag(d), title)
	}
	_ = w.Flush()
}

func detectionFlag(d model.Detection) string {
	switch {
	case d.HardAlert:
		return "PAUSE"
	case d.Suppressed:
		return "suppressed"
	case d.Quarantined:
		return "quarantined"
	default:
		return ""
	}
}
