package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/watchman/internal/edgar"
	"github.com/sells-group/watchman/internal/model"
	"github.com/sells-group/watchman/internal/state"
)

var watchlistCmd = &cobra.Command{
	Use:   "watchlist",
	Short: "Manage watched tickers",
}

var watchlistAddCmd = &cobra.Command{
	Use:   "add <ticker>",
	Short: "Add or update a watched ticker",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		item, err := watchlistItemFromFlags(cmd, args[0])
		if err != nil {
			return err
		}

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		if err := st.UpsertWatchlistItem(ctx, item); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Watching %s (dependency %.2f)\n", item.Ticker, item.Dependency)
		return nil
	},
}

var watchlistListCmd = &cobra.Command{
	Use:   "list",
	Short: "List watched tickers and their cursors",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		items, err := st.ListWatchlist(ctx)
		if err != nil {
			return err
		}
		if len(items) == 0 {
			fmt.Fprintln(os.Stderr, "Watchlist is empty.")
			return nil
		}
		formatWatchlist(os.Stdout, items)
		return nil
	},
}

func init() {
	f := watchlistAddCmd.Flags()
	f.String("cik", "", "SEC central index key")
	f.Float64("dependency", state.DefaultDependency, "portfolio dependency weight in [0,1]")
	f.String("feed", "", "press-release RSS/Atom feed URL")
	f.Int("interval", 24, "check-in interval in hours")

	watchlistCmd.AddCommand(watchlistAddCmd)
	watchlistCmd.AddCommand(watchlistListCmd)
	rootCmd.AddCommand(watchlistCmd)
}

func watchlistItemFromFlags(cmd *cobra.Command, ticker string) (model.WatchlistItem, error) {
	cik, _ := cmd.Flags().GetString("cik")
	dep, _ := cmd.Flags().GetFloat64("dependency")
	feed, _ := cmd.Flags().GetString("feed")
	interval, _ := cmd.Flags().GetInt("interval")

	item := model.WatchlistItem{
		Ticker:            strings.ToUpper(strings.TrimSpace(ticker)),
		Dependency:        dep,
		FeedURL:           strings.TrimSpace(feed),
		PollIntervalHours: interval,
	}
	if cik != "" {
		item.CIK = edgar.PadCIK(cik)
	}
	switch {
	case item.Ticker == "":
		return item, eris.New("ticker is required")
	case dep < 0 || dep > 1:
		return item, eris.Errorf("dependency must be in [0,1], got %v", dep)
	case interval <= 0:
		return item, eris.Errorf("interval must be positive, got %d", interval)
	}
	return item, nil
}

// formatWatchlist writes a tabular list of watchlist items to w.
func formatWatchlist(out io.Writer, items []model.WatchlistItem) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "TICKER\tCIK\tDEP\tLAST_FILING\tLAST_POLL")
	for _, it := range items {
		lastPoll := "-"
		if it.LastPollAt != nil {
			lastPoll = it.LastPollAt.UTC().Format("2006-01-02 15:04")
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%.2f\t%s\t%s\n",
			it.Ticker, orDash(it.CIK), it.Dependency, orDash(it.LastFilingAccession), lastPoll)
	}
	_ = w.Flush()
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
