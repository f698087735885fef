package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/watchman/internal/model"
	"github.com/sells-group/watchman/internal/scoring"
	"github.com/sells-group/watchman/internal/state"
)

var scoreCmd = &cobra.Command{
	Use:   "score",
	Short: "Explain the score a change would receive",
	Long: `Score a hypothetical change without touching the store.

Examples:
  # A new 8-K for a core holding
  score --change-type filing_new --tier primary_filing --dependency 0.9

  # A trial termination on a day the stock gapped down 18%
  score --change-type trial_termination --tier primary_registry --move -0.18`,
	RunE: runScore,
}

func init() {
	f := scoreCmd.Flags()
	f.String("change-type", string(model.ChangeFilingNew), "change type (filing_new, trial_termination, ...)")
	f.String("tier", string(model.TierPrimaryFiling), "source tier (primary_filing, secondary_news, ...)")
	f.Float64("dependency", state.DefaultDependency, "portfolio dependency weight in [0,1]")
	f.Float64("move", 0, "same-day market move as a fraction (e.g. -0.18)")
	f.Bool("json", false, "print the full score breakdown as JSON")
	rootCmd.AddCommand(scoreCmd)
}

func runScore(cmd *cobra.Command, _ []string) error {
	ct, _ := cmd.Flags().GetString("change-type")
	tier, _ := cmd.Flags().GetString("tier")
	dep, _ := cmd.Flags().GetFloat64("dependency")
	asJSON, _ := cmd.Flags().GetBool("json")

	changeType := model.ChangeType(ct)
	if !changeType.Valid() {
		return eris.Errorf("unknown change type %q", ct)
	}
	sourceTier := model.SourceTier(tier)
	if !sourceTier.Valid() {
		return eris.Errorf("unknown source tier %q", tier)
	}
	if dep < 0 || dep > 1 {
		return eris.Errorf("dependency must be in [0,1], got %v", dep)
	}

	sctx := scoring.Context{Dependency: dep}
	if cmd.Flags().Changed("move") {
		move, _ := cmd.Flags().GetFloat64("move")
		sctx.MarketMove = &move
	}
	res := scoring.Score(changeType, sourceTier, sctx)

	if asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(res)
	}
	formatScore(os.Stdout, changeType, sourceTier, res)
	return nil
}

// formatScore writes a readable breakdown of res to w.
func formatScore(w io.Writer, ct model.ChangeType, tier model.SourceTier, res scoring.Result) {
	_, _ = fmt.Fprintf(w, "%s @ %s\n", ct, tier)
	_, _ = fmt.Fprintf(w, "  base          %g\n", res.Base)
	_, _ = fmt.Fprintf(w, "  market shock  %g\n", res.MarketShock)
	_, _ = fmt.Fprintf(w, "  dependency    %g\n", res.Dependency)
	_, _ = fmt.Fprintf(w, "  noise penalty %d\n", res.NoisePenalty)
	_, _ = fmt.Fprintf(w, "  final         %d\n", res.ScoreFinal)
	_, _ = fmt.Fprintf(w, "  %s\n", res.Explanation)
}
