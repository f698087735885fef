package scoring

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/sells-group/watchman/internal/model"
)

func move(v float64) *float64 { return &v }

func TestScore_FilingNewFullDependency(t *testing.T) {
	t.Parallel()

	r := Score(model.ChangeFilingNew, model.TierPrimaryFiling, Context{Dependency: 1.0, TimeToCatalystDays: 999})
	assert.Equal(t, 40.0, r.Base)
	assert.Equal(t, 0, r.NoisePenalty)
	assert.Equal(t, 40, r.ScoreFinal)
	assert.Equal(t, "Raw 40 × 1 = 40 − 0 = 40", r.Explanation)
}

func TestScore_FilingNewLowDependency(t *testing.T) {
	t.Parallel()

	r := Score(model.ChangeFilingNew, model.TierPrimaryFiling, Context{Dependency: 0.3})
	assert.Equal(t, 12, r.ScoreFinal)
	assert.Contains(t, r.Explanation, "Raw 40")
	assert.Contains(t, r.Explanation, "× 0.3")
	assert.Contains(t, r.Explanation, "= 12")
}

func TestScore_NoiseAppliedAfterDependency(t *testing.T) {
	t.Parallel()

	r := Score(model.ChangeTrialStatus, model.TierSecondaryNews, Context{Dependency: 0.5})
	assert.Equal(t, 40.0, r.Importance)
	assert.Equal(t, 30, r.ScoreFinal)
}

func TestScore_SuppressedByScore(t *testing.T) {
	t.Parallel()

	r := Score(model.ChangeMisc, model.TierTertiarySocial, Context{Dependency: 1})
	assert.Equal(t, 0, r.ScoreFinal)
	assert.Equal(t, "Raw 10 × 1 = 10 − 20 = 0 (suppressed by score)", r.Explanation)
}

func TestScore_UnknownInputsFallBack(t *testing.T) {
	t.Parallel()

	r := Score(model.ChangeType("rumor"), model.SourceTier("forum"), Context{Dependency: 1})
	assert.Equal(t, float64(DefaultBase), r.Base)
	assert.Equal(t, 0, r.NoisePenalty)
	assert.Equal(t, 10, r.ScoreFinal)
}

func TestScore_MarketShock(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		move *float64
		want float64
	}{
		{"absent", nil, 0},
		{"small up", move(0.05), 5},
		{"small down", move(-0.12), 12},
		{"at cap", move(-0.20), 20},
		{"past cap", move(0.55), 20},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			r := Score(model.ChangePriceGap, model.TierPrimaryFiling, Context{Dependency: 1, MarketMove: tt.move})
			assert.InDelta(t, tt.want, r.MarketShock, 1e-9)
			assert.InDelta(t, 50+tt.want, r.ScoreRaw, 1e-9)
		})
	}
}

func TestScore_AlwaysBounded(t *testing.T) {
	t.Parallel()

	moves := []*float64{nil, move(0), move(-0.9), move(3)}
	deps := []float64{0, 0.1, 0.6, 1}
	for _, ct := range append(model.ChangeTypes, "unknown") {
		for _, tier := range append(model.SourceTiers, "unknown") {
			for _, d := range deps {
				for _, m := range moves {
					r := Score(ct, tier, Context{Dependency: d, MarketMove: m})
					assert.GreaterOrEqual(t, r.ScoreFinal, 0)
					assert.LessOrEqual(t, r.ScoreFinal, 100)
				}
			}
		}
	}
}

func TestScore_MonotonicInDependency(t *testing.T) {
	t.Parallel()

	for _, ct := range model.ChangeTypes {
		prev := 101
		for d := 1.0; d >= 0; d -= 0.05 {
			r := Score(ct, model.TierPrimaryCompany, Context{Dependency: d, MarketMove: move(-0.07)})
			assert.LessOrEqual(t, r.ScoreFinal, prev, "%s at %.2f", ct, d)
			prev = r.ScoreFinal
		}
	}
}

func TestScore_Idempotent(t *testing.T) {
	t.Parallel()

	ctx := Context{Dependency: 0.73, MarketMove: move(-0.0831), TimeToCatalystDays: 42}
	assert.Equal(t, Score(model.ChangeTrialDate, model.TierPrimaryRegistry, ctx),
		Score(model.ChangeTrialDate, model.TierPrimaryRegistry, ctx))
}
