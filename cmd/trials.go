package main

import (
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/watchman/internal/model"
)

var trialsCmd = &cobra.Command{
	Use:   "trials",
	Short: "Manage ticker to trial mappings",
}

var trialsAddCmd = &cobra.Command{
	Use:   "add <ticker> <nct-id>",
	Short: "Track a ClinicalTrials.gov record for a ticker",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		m := model.TrialMapping{
			Ticker: strings.ToUpper(strings.TrimSpace(args[0])),
			NCTID:  strings.ToUpper(strings.TrimSpace(args[1])),
		}
		m.Label, _ = cmd.Flags().GetString("label")
		if !strings.HasPrefix(m.NCTID, "NCT") {
			return eris.Errorf("not an NCT id: %s", args[1])
		}

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		if err := st.UpsertTrialMapping(ctx, m); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Tracking %s for %s\n", m.NCTID, m.Ticker)
		return nil
	},
}

func init() {
	trialsAddCmd.Flags().String("label", "", "human label for the trial")
	trialsCmd.AddCommand(trialsAddCmd)
	rootCmd.AddCommand(trialsCmd)
}
