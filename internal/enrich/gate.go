package enrich

import (
	"strings"

	"github.com/sells-group/watchman/internal/model"
)

// ScoreThreshold is the final score at or above which any registry change is
// interpreted.
const ScoreThreshold = 30

// fieldAllowlist names registry fields worth interpreting regardless of
// score. Matching ignores case and underscores.
var fieldAllowlist = []string{
	"overall_status",
	"why_stopped",
	"primary_completion_date",
	"completion_date",
	"enrollment_count",
	"has_results",
	"phase",
}

// Gate reasons.
const (
	ReasonNotRegistry        = "not_registry"
	ReasonNoNCTID            = "no_nct_id"
	ReasonAlreadyInterpreted = "already_interpreted"
	ReasonMaxPerRun          = "max_calls_per_run"
	ReasonMaxPerTicker       = "max_calls_per_ticker"
	ReasonAllowlistField     = "allowlist_field"
	ReasonHighScore          = "high_score"
	ReasonElevatedState      = "elevated_state"
	ReasonBelowThreshold     = "below_threshold"
)

// Budget caps interpretation calls.
type Budget struct {
	MaxPerRun          int
	MaxPerTickerPerDay int
}

// DefaultBudget returns 10 calls per run and 2 per ticker per day.
func DefaultBudget() Budget {
	return Budget{MaxPerRun: 10, MaxPerTickerPerDay: 2}
}

// Usage is the call count consumed so far.
type Usage struct {
	RunCalls    int
	TickerCalls map[string]int
}

// ShouldInterpret reports whether d is worth a model call and why.
// tickerState is the ticker's current daily state, if known.
func ShouldInterpret(d model.Detection, tickerState model.DailyStateKind, used Usage, b Budget) (bool, string) {
	if d.SourceTier != model.TierPrimaryRegistry {
		return false, ReasonNotRegistry
	}
	if d.NCTID == "" {
		return false, ReasonNoNCTID
	}
	if d.Annotated() {
		return false, ReasonAlreadyInterpreted
	}
	if used.RunCalls >= b.MaxPerRun {
		return false, ReasonMaxPerRun
	}
	if used.TickerCalls[d.Ticker] >= b.MaxPerTickerPerDay {
		return false, ReasonMaxPerTicker
	}
	if allowlisted(d.FieldPath) {
		return true, ReasonAllowlistField
	}
	if d.ScoreFinal >= ScoreThreshold {
		return true, ReasonHighScore
	}
	if tickerState == model.StateLook || tickerState == model.StatePause {
		return true, ReasonElevatedState
	}
	return false, ReasonBelowThreshold
}

// SelectCandidates walks detections in order and returns those that pass
// ShouldInterpret, charging each selection against the budget.
func SelectCandidates(ds []model.Detection, states map[string]model.DailyStateKind, tickerCallsToday map[string]int, b Budget) []model.Detection {
	used := Usage{TickerCalls: make(map[string]int, len(tickerCallsToday))}
	for k, v := range tickerCallsToday {
		used.TickerCalls[k] = v
	}
	var out []model.Detection
	for _, d := range ds {
		if used.RunCalls >= b.MaxPerRun {
			break
		}
		if ok, _ := ShouldInterpret(d, states[d.Ticker], used, b); ok {
			out = append(out, d)
			used.RunCalls++
			used.TickerCalls[d.Ticker]++
		}
	}
	return out
}

func allowlisted(fieldPath string) bool {
	norm := normalizeField(fieldPath)
	for _, f := range fieldAllowlist {
		if strings.Contains(norm, normalizeField(f)) {
			return true
		}
	}
	return false
}

func normalizeField(s string) string {
	return strings.ReplaceAll(strings.ToLower(s), "_", "")
}
