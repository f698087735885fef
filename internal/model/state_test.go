package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDailyStateKind_Rank(t *testing.T) {
	t.Parallel()

	assert.Equal(t, 0, StateContained.Rank())
	assert.Equal(t, 1, StateWatch.Rank())
	assert.Equal(t, 2, StateLook.Rank())
	assert.Equal(t, 3, StatePause.Rank())
	assert.Equal(t, 0, DailyStateKind("").Rank())

	for i := 1; i < len(DailyStates); i++ {
		assert.Less(t, DailyStates[i-1].Rank(), DailyStates[i].Rank())
	}
}

func TestParseDailyStateKind(t *testing.T) {
	t.Parallel()

	k, err := ParseDailyStateKind("Look")
	require.NoError(t, err)
	assert.Equal(t, StateLook, k)

	_, err = ParseDailyStateKind("look")
	assert.Error(t, err)
}

func TestDefaultEngineSettings(t *testing.T) {
	t.Parallel()

	s := DefaultEngineSettings()
	assert.Equal(t, 60, s.AlertThreshold)
	assert.Equal(t, StrictnessHigh, s.SuppressionStrictness)
	assert.Equal(t, -20, s.PanicSensitivity)
	assert.InDelta(t, -0.20, s.PanicGap(), 1e-9)
	assert.True(t, s.FeedbackLoop)
}

func TestPollRun_Finish(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 10, 15, 12, 0, 0, 0, time.UTC)

	ok := PollRun{Status: RunStatusRunning}
	ok.Finish(now)
	assert.Equal(t, RunStatusOK, ok.Status)
	require.NotNil(t, ok.FinishedAt)
	assert.Equal(t, now, *ok.FinishedAt)

	failed := PollRun{Status: RunStatusRunning, Errors: []string{"EDGAR ABCD: boom"}}
	failed.Finish(now)
	assert.Equal(t, RunStatusError, failed.Status)
}
