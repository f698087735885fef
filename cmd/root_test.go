package main

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/watchman/internal/model"
	"github.com/sells-group/watchman/internal/scoring"
)

func TestRootCommand_HasSubcommands(t *testing.T) {
	names := make(map[string]bool)
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}

	expected := []string{"poll", "serve", "migrate", "state", "policy", "watchlist", "trials", "score", "runs"}
	for _, name := range expected {
		assert.True(t, names[name], "expected subcommand %q not found", name)
	}
}

func TestRootCommand_Metadata(t *testing.T) {
	assert.Equal(t, "watchman", rootCmd.Use)
	assert.NotEmpty(t, rootCmd.Short)
	assert.NotEmpty(t, rootCmd.Long)
}

func TestPolicyCommand_HasSubcommands(t *testing.T) {
	names := make(map[string]bool)
	for _, c := range policyCmd.Commands() {
		names[c.Name()] = true
	}
	for _, name := range []string{"validate", "set", "show"} {
		assert.True(t, names[name], "policy should have subcommand %q", name)
	}
}

func TestServeCommand_Flags(t *testing.T) {
	flag := serveCmd.Flags().Lookup("port")
	require.NotNil(t, flag, "serve command should have --port flag")
	assert.Equal(t, "0", flag.DefValue)
}

func TestWatchlistAdd_Flags(t *testing.T) {
	flag := watchlistAddCmd.Flags().Lookup("dependency")
	require.NotNil(t, flag)
	assert.Equal(t, "0.6", flag.DefValue)
	require.NotNil(t, watchlistAddCmd.Flags().Lookup("cik"))
	require.NotNil(t, watchlistAddCmd.Flags().Lookup("feed"))
}

func newWatchlistFlagCmd(t *testing.T, args ...string) *cobra.Command {
	t.Helper()
	cmd := &cobra.Command{}
	f := cmd.Flags()
	f.String("cik", "", "")
	f.Float64("dependency", 0.6, "")
	f.String("feed", "", "")
	f.Int("interval", 24, "")
	require.NoError(t, f.Parse(args))
	return cmd
}

func TestWatchlistItemFromFlags(t *testing.T) {
	cmd := newWatchlistFlagCmd(t, "--cik", "1234567", "--dependency", "0.9")
	item, err := watchlistItemFromFlags(cmd, " abcd ")
	require.NoError(t, err)
	assert.Equal(t, "ABCD", item.Ticker)
	assert.Equal(t, "0001234567", item.CIK)
	assert.InDelta(t, 0.9, item.Dependency, 1e-9)
	assert.Equal(t, 24, item.PollIntervalHours)
}

func TestWatchlistItemFromFlags_Invalid(t *testing.T) {
	_, err := watchlistItemFromFlags(newWatchlistFlagCmd(t, "--dependency", "1.5"), "ABCD")
	assert.Error(t, err)

	_, err = watchlistItemFromFlags(newWatchlistFlagCmd(t), "  ")
	assert.Error(t, err)

	_, err = watchlistItemFromFlags(newWatchlistFlagCmd(t, "--interval", "0"), "ABCD")
	assert.Error(t, err)
}

func TestFormatScore(t *testing.T) {
	res := scoring.Score(model.ChangeFilingNew, model.TierPrimaryFiling, scoring.Context{Dependency: 0.6})
	var buf bytes.Buffer
	formatScore(&buf, model.ChangeFilingNew, model.TierPrimaryFiling, res)

	out := buf.String()
	assert.Contains(t, out, "filing_new @ primary_filing")
	assert.Contains(t, out, "final         24")
}

func TestFormatRunsList(t *testing.T) {
	start := time.Date(2026, 3, 2, 14, 0, 0, 0, time.UTC)
	end := start.Add(42 * time.Second)
	runs := []model.PollRun{{
		ID:               "0b6f7c1e-2d4b-4a9e-9a51-2f7f6d1c0e11",
		Status:           model.RunStatusError,
		StartedAt:        start,
		FinishedAt:       &end,
		NewDetections:    3,
		SuppressedCount:  1,
		QuarantinedCount: 1,
		ResultingState:   model.StateLook,
		NotificationSent: "escalation",
		Errors:           []string{"EDGAR 0001234567: timeout"},
	}}

	var buf bytes.Buffer
	formatRunsList(&buf, runs)
	out := buf.String()
	assert.Contains(t, out, "0b6f7c1e")
	assert.Contains(t, out, "Look")
	assert.Contains(t, out, "escalation")
	assert.Contains(t, out, "42s")
	assert.Contains(t, out, "2026-03-02 14:00")
}

func TestComputeRunStats(t *testing.T) {
	start := time.Date(2026, 3, 2, 14, 0, 0, 0, time.UTC)
	end := start.Add(10 * time.Second)
	runs := []model.PollRun{
		{Status: model.RunStatusOK, StartedAt: start, FinishedAt: &end, NewDetections: 2, NotificationSent: "quiet_log"},
		{Status: model.RunStatusError, StartedAt: start, FinishedAt: &end, SuppressedCount: 3},
		{Status: model.RunStatusRunning, StartedAt: start},
	}

	s := computeRunStats(runs)
	assert.Equal(t, 3, s.Total)
	assert.Equal(t, 1, s.OK)
	assert.Equal(t, 1, s.Errored)
	assert.Equal(t, 1, s.Running)
	assert.Equal(t, 2, s.NewDetections)
	assert.Equal(t, 3, s.Quiet)
	assert.Equal(t, 1, s.Notifications)
	assert.InDelta(t, 10.0, s.AvgDurSecs, 0.001)

	var buf bytes.Buffer
	formatRunStats(&buf, s)
	assert.Contains(t, buf.String(), "Total runs:      3")
}

func TestFormatPollRun(t *testing.T) {
	var buf bytes.Buffer
	formatPollRun(&buf, &model.PollRun{
		ID:             "abc",
		Status:         model.RunStatusError,
		TickersPolled:  2,
		ResultingState: model.StatePause,
		Errors:         []string{"CT.gov NCT01: 503", "feed ABCD: timeout"},
	})
	out := buf.String()
	assert.True(t, strings.HasPrefix(out, "Poll abc: error"))
	assert.Contains(t, out, "state: Pause")
	assert.Contains(t, out, "errors (2)")
}

func TestFormatDetections(t *testing.T) {
	var buf bytes.Buffer
	formatDetections(&buf, nil)
	assert.Equal(t, "No detections.\n", buf.String())

	buf.Reset()
	formatDetections(&buf, []model.Detection{
		{Ticker: "ABCD", ChangeType: model.ChangeHalt, SourceTier: model.TierPrimaryRegulator, ScoreFinal: 60, HardAlert: true, Title: "Trading halt"},
		{Ticker: "WXYZ", ChangeType: model.ChangeMisc, SourceTier: model.TierTertiarySocial, Suppressed: true, Title: "Rumor"},
	})
	out := buf.String()
	assert.Contains(t, out, "PAUSE")
	assert.Contains(t, out, "suppressed")
}
