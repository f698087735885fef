package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/watchman/internal/policy"
)

var policyCmd = &cobra.Command{
	Use:   "policy",
	Short: "Inspect and update the suppression / hard-alert policy",
}

var policyValidateCmd = &cobra.Command{
	Use:   "validate <file>",
	Short: "Check a policy document without storing it",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		p, _, err := policy.LoadFile(args[0])
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "OK: %d suppression rule(s), %d hard alert rule(s)\n",
			len(p.Suppression), len(p.HardAlerts))
		return nil
	},
}

var policySetCmd = &cobra.Command{
	Use:   "set <file>",
	Short: "Validate a policy document and make it the active policy",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		p, src, err := policy.LoadFile(args[0])
		if err != nil {
			return err
		}

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		if err := st.SetActivePolicy(ctx, src); err != nil {
			return err
		}
		zap.L().Info("policy updated",
			zap.String("file", args[0]),
			zap.Int("suppression_rules", len(p.Suppression)),
			zap.Int("hard_alert_rules", len(p.HardAlerts)),
		)
		fmt.Fprintln(cmd.OutOrStdout(), "Policy updated.")
		return nil
	},
}

var policyShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the active policy (or the default when none is stored)",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		doc, err := st.GetActivePolicy(ctx)
		if err != nil {
			return err
		}
		if len(doc) == 0 {
			settings, err := st.GetEngineSettings(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintln(os.Stderr, "# no active policy stored; showing the default")
			doc = policy.DefaultDocument(settings)
		}
		_, err = cmd.OutOrStdout().Write(doc)
		return err
	},
}

func init() {
	policyCmd.AddCommand(policyValidateCmd)
	policyCmd.AddCommand(policySetCmd)
	policyCmd.AddCommand(policyShowCmd)
	rootCmd.AddCommand(policyCmd)
}
