package main

import (
	"fmt"
	"strconv"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/watchman/internal/model"
	"github.com/sells-group/watchman/internal/policy"
	"github.com/sells-group/watchman/internal/store"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or update the database schema",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		if err := cfg.Validate("migrate"); err != nil {
			return err
		}
		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		seed, _ := cmd.Flags().GetBool("seed")
		if seed {
			if err := seedDefaults(cmd, st); err != nil {
				return err
			}
		}

		zap.L().Info("migrations applied", zap.String("driver", cfg.Store.Driver), zap.Bool("seeded", seed))
		fmt.Fprintln(cmd.OutOrStdout(), "Schema up to date.")
		return nil
	},
}

func init() {
	migrateCmd.Flags().Bool("seed", false, "write configured engine settings, the default policy and notification settings when absent")
	rootCmd.AddCommand(migrateCmd)
}

// seedDefaults stores the configured engine settings, then the default
// policy and a notification row when none exist.
func seedDefaults(cmd *cobra.Command, st store.Store) error {
	ctx := cmd.Context()
	e := cfg.Engine
	for key, value := range map[string]string{
		store.SettingAlertThreshold:        strconv.Itoa(e.AlertThreshold),
		store.SettingSuppressionStrictness: string(e.SuppressionStrictness),
		store.SettingPanicSensitivity:      strconv.Itoa(e.PanicSensitivity),
		store.SettingFeedbackLoop:          strconv.FormatBool(e.FeedbackLoop),
	} {
		if err := st.SetEngineSetting(ctx, key, value); err != nil {
			return eris.Wrapf(err, "seed setting %s", key)
		}
	}

	doc, err := st.GetActivePolicy(ctx)
	if err != nil {
		return err
	}
	if len(doc) == 0 {
		if err := st.SetActivePolicy(ctx, policy.DefaultDocument(e)); err != nil {
			return err
		}
	}

	ns, err := st.GetNotificationSettings(ctx, cfg.Notify.UserID)
	if err != nil {
		return err
	}
	if ns == nil {
		return st.UpsertNotificationSettings(ctx, model.NotificationSettings{
			UserID:           cfg.Notify.UserID,
			Channel:          model.ChannelNone,
			DailyPushEnabled: true,
			PausePushEnabled: true,
		})
	}
	return nil
}
