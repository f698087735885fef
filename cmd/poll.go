package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/watchman/internal/model"
)

var pollCmd = &cobra.Command{
	Use:   "poll",
	Short: "Run one poll cycle across the watchlist",
	Long: "Fetches new filings, feed items and trial record changes for every watched ticker, " +
		"scores and filters them, recomputes today's portfolio state and sends at most one notification.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if err := cfg.Validate("poll"); err != nil {
			return err
		}
		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		run, err := buildPoller(cfg, st).Run(ctx)
		if run != nil {
			asJSON, _ := cmd.Flags().GetBool("json")
			if asJSON {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				_ = enc.Encode(run)
			} else {
				formatPollRun(os.Stdout, run)
			}
		}
		if err != nil {
			zap.L().Error("poll failed", zap.Error(err))
			return err
		}
		return nil
	},
}

func init() {
	pollCmd.Flags().Bool("json", false, "print the poll run as JSON")
	rootCmd.AddCommand(pollCmd)
}

// formatPollRun writes a short human summary of run to w.
func formatPollRun(w io.Writer, run *model.PollRun) {
	_, _ = fmt.Fprintf(w, "Poll %s: %s\n", truncateID(run.ID), run.Status)
	_, _ = fmt.Fprintf(w, "  tickers=%d trials=%d new=%d suppressed=%d quarantined=%d\n",
		run.TickersPolled, run.TrialsPolled, run.NewDetections, run.SuppressedCount, run.QuarantinedCount)
	if run.ResultingState != "" {
		_, _ = fmt.Fprintf(w, "  state: %s\n", run.ResultingState)
	}
	if run.NotificationSent != "" {
		_, _ = fmt.Fprintf(w, "  notification: %s\n", run.NotificationSent)
	}
	if len(run.Errors) > 0 {
		_, _ = fmt.Fprintf(w, "  errors (%d):\n    %s\n", len(run.Errors), strings.Join(run.Errors, "\n    "))
	}
}
