// Package scoring turns a detected change into a bounded 0–100 score.
//
// A score starts from a base value for the change type, adds a market shock
// term for same-day price moves, is scaled by the ticker's portfolio
// dependency and finally loses a flat noise penalty for less credible source
// tiers. Score is pure: identical inputs always give identical results.
package scoring

import (
	"math"
	"strconv"

	"github.com/sells-group/watchman/internal/model"
)

// DefaultBase is the base score for change types missing from the table.
const DefaultBase = 10

// MaxMarketShock caps the market shock term.
const MaxMarketShock = 20

var baseScores = map[model.ChangeType]float64{
	model.ChangeHalt:             100,
	model.ChangeTrialTermination: 95,
	model.ChangePDUFAChanged:     90,
	model.ChangeTrialStatus:      80,
	model.ChangeTrialEndpoint:    70,
	model.ChangePriceGap:         50,
	model.ChangeTrialDate:        50,
	model.ChangeFilingNew:        40,
	model.ChangeEnrollment:       40,
	model.ChangeFilingAmended:    30,
	model.ChangeMisc:             10,
}

var noisePenalties = map[model.SourceTier]int{
	model.TierPrimaryFiling:    0,
	model.TierPrimaryRegulator: 0,
	model.TierPrimaryCompany:   2,
	model.TierPrimaryRegistry:  2,
	model.TierSecondaryNews:    10,
	model.TierTertiarySocial:   20,
}

// Base returns the base score for ct.
func Base(ct model.ChangeType) float64 {
	if b, ok := baseScores[ct]; ok {
		return b
	}
	return DefaultBase
}

// NoisePenalty returns the flat deduction for tier. Unknown tiers cost nothing.
func NoisePenalty(tier model.SourceTier) int {
	return noisePenalties[tier]
}

// Context carries the signals that modulate a score.
type Context struct {
	Dependency         float64
	MarketMove         *float64 // fractional same-day move; nil when unavailable
	TimeToCatalystDays int
}

// Result is the score together with every term that produced it.
type Result struct {
	Base         float64 `json:"base"`
	Proximity    float64 `json:"proximity"`
	Friction     float64 `json:"friction"`
	MarketShock  float64 `json:"market_shock"`
	Dependency   float64 `json:"dependency"`
	NoisePenalty int     `json:"noise_penalty"`
	Importance   float64 `json:"importance"`
	ScoreRaw     float64 `json:"score_raw"`
	ScoreFinal   int     `json:"score_final"`
	Explanation  string  `json:"explanation"`
}

// Score computes the score for a change of type ct seen at tier.
func Score(ct model.ChangeType, tier model.SourceTier, ctx Context) Result {
	r := Result{
		Base:         Base(ct),
		Dependency:   ctx.Dependency,
		NoisePenalty: NoisePenalty(tier),
	}
	// Proximity and Friction stay zero; the slots are kept so stored
	// breakdowns keep a stable shape when they gain logic.
	if ctx.MarketMove != nil {
		r.MarketShock = math.Min(math.Abs(*ctx.MarketMove)*100, MaxMarketShock)
	}

	r.ScoreRaw = r.Base + r.Proximity + r.Friction + r.MarketShock
	r.Importance = r.ScoreRaw * r.Dependency
	rounded := int(math.Round(r.Importance))
	r.ScoreFinal = clamp(rounded-r.NoisePenalty, 0, 100)
	r.Explanation = explain(r.ScoreRaw, r.Dependency, rounded, r.NoisePenalty, r.ScoreFinal)
	return r
}

func explain(raw, dep float64, importance, noise, final int) string {
	s := "Raw " + fmtNum(raw) + " × " + fmtNum(dep) + " = " + strconv.Itoa(importance) +
		" − " + strconv.Itoa(noise) + " = " + strconv.Itoa(final)
	if final == 0 {
		s += " (suppressed by score)"
	}
	return s
}

func fmtNum(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func clamp(v, lo, hi int) int {
	return max(lo, min(hi, v))
}
