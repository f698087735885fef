package state

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/watchman/internal/model"
)

func det(id, ticker string, score int) model.Detection {
	return model.Detection{ID: id, Ticker: ticker, ScoreFinal: score, Confidence: 1}
}

func TestSelectTop(t *testing.T) {
	t.Parallel()

	deps := map[string]float64{"AAA": 1.0, "BBB": 0.5}
	ds := []model.Detection{
		det("1", "AAA", 40), // 40
		det("2", "BBB", 90), // 45
		det("3", "CCC", 70), // 42 at default weight
	}

	top := SelectTop(ds, deps)
	require.NotNil(t, top)
	assert.Equal(t, "2", top.ID)
}

func TestSelectTop_TieKeepsFirst(t *testing.T) {
	t.Parallel()

	ds := []model.Detection{det("a", "AAA", 50), det("b", "AAA", 50)}
	top := SelectTop(ds, map[string]float64{"AAA": 1})
	require.NotNil(t, top)
	assert.Equal(t, "a", top.ID)
}

func TestSelectTop_SkipsQuiet(t *testing.T) {
	t.Parallel()

	suppressed := det("s", "AAA", 99)
	suppressed.Suppressed = true
	quarantined := det("q", "AAA", 98)
	quarantined.Quarantined = true

	assert.Nil(t, SelectTop([]model.Detection{suppressed, quarantined}, nil))
	assert.Nil(t, SelectTop(nil, nil))

	top := SelectTop([]model.Detection{suppressed, det("ok", "AAA", 0), quarantined}, nil)
	require.NotNil(t, top)
	assert.Equal(t, "ok", top.ID)
}

func TestEvaluate_States(t *testing.T) {
	t.Parallel()

	settings := model.DefaultEngineSettings()
	hard := det("h", "AAA", 0)
	hard.HardAlert = true
	hiddenHard := det("hh", "AAA", 5)
	hiddenHard.HardAlert = true
	hiddenHard.Suppressed = true
	loud := det("l", "AAA", 85)
	loud.Suppressed = true

	tests := []struct {
		name string
		in   []model.Detection
		want model.DailyStateKind
	}{
		{"empty", nil, model.StateContained},
		{"low scores", []model.Detection{det("1", "AAA", 39)}, model.StateContained},
		{"watch floor", []model.Detection{det("1", "AAA", 40)}, model.StateWatch},
		{"just under threshold", []model.Detection{det("1", "AAA", 59)}, model.StateWatch},
		{"at threshold", []model.Detection{det("1", "AAA", 39), det("2", "BBB", 60)}, model.StateLook},
		{"hard alert", []model.Detection{det("1", "AAA", 90), hard}, model.StatePause},
		{"hard alert even when suppressed", []model.Detection{hiddenHard}, model.StatePause},
		{"suppressed high score ignored", []model.Detection{loud}, model.StateContained},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			ev := Evaluate(tt.in, nil, settings, 7, "2026-10-15")
			assert.Equal(t, tt.want, ev.State.State)
			assert.Equal(t, "2026-10-15", ev.State.Date)
		})
	}
}

func TestEvaluate_CustomThreshold(t *testing.T) {
	t.Parallel()

	s := model.DefaultEngineSettings()
	s.AlertThreshold = 80
	ev := Evaluate([]model.Detection{det("1", "AAA", 70)}, nil, s, 3, "2026-10-15")
	assert.Equal(t, model.StateWatch, ev.State.State)
}

func TestEvaluate_QuietCountAndTop(t *testing.T) {
	t.Parallel()

	a := det("a", "AAA", 30)
	a.Suppressed = true
	b := det("b", "BBB", 10)
	b.Quarantined = true
	c := det("c", "CCC", 45)

	ev := Evaluate([]model.Detection{a, b, c}, map[string]float64{"CCC": 1}, model.DefaultEngineSettings(), 3, "2026-10-15")
	assert.Equal(t, 2, ev.State.QuietLogCount)
	require.NotNil(t, ev.Top)
	assert.Equal(t, "c", ev.Top.ID)
	require.NotNil(t, ev.State.TopDetectionID)
	assert.Equal(t, "c", *ev.State.TopDetectionID)
	assert.Equal(t, "Watch: one item worth monitoring across 3 holdings.", ev.State.Summary)
}

func TestComputeDailyState_NoTop(t *testing.T) {
	t.Parallel()

	ds := ComputeDailyState(nil, nil, model.DefaultEngineSettings(), 12, "2026-10-15")
	assert.Equal(t, model.StateContained, ds.State)
	assert.Nil(t, ds.TopDetectionID)
	assert.Equal(t, "Contained: no action needed for your 12 holdings.", ds.Summary)
}

func TestComputeDailyState_Deterministic(t *testing.T) {
	t.Parallel()

	dets := []model.Detection{det("a", "ABCD", 72), det("b", "EFGH", 45)}
	deps := map[string]float64{"ABCD": 0.8}
	a := ComputeDailyState(dets, deps, model.DefaultEngineSettings(), 3, "2026-10-16")
	b := ComputeDailyState(dets, deps, model.DefaultEngineSettings(), 3, "2026-10-16")
	assert.Equal(t, a, b)
	assert.True(t, a.UpdatedAt.IsZero())
}

func TestSummary_DistinctPerState(t *testing.T) {
	t.Parallel()

	seen := map[string]bool{}
	for _, k := range model.DailyStates {
		s := Summary(k, 4)
		assert.Contains(t, s, string(k))
		seen[s] = true
	}
	assert.Len(t, seen, 4)
}
