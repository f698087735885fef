package main

import (
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/watchman/internal/config"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "watchman",
	Short: "Biotech portfolio watch pipeline",
	Long: "Polls SEC filings, ClinicalTrials.gov records and company press feeds for watched tickers, " +
		"scores and filters the changes, and rolls them into one daily portfolio state with notifications.",
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load()
		if err != nil {
			return eris.Wrap(err, "load config")
		}
		cfg = c

		if err := config.InitLogger(cfg.Log); err != nil {
			return eris.Wrap(err, "init logger")
		}

		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = zap.L().Sync()
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
