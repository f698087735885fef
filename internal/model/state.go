package model

import (
	"time"

	"github.com/rotisserie/eris"
)

// DailyStateKind is the portfolio-wide alert level for a calendar date.
type DailyStateKind string

const (
	StateContained DailyStateKind = "Contained"
	StateWatch     DailyStateKind = "Watch"
	StateLook      DailyStateKind = "Look"
	StatePause     DailyStateKind = "Pause"
)

// DailyStates lists the states in ascending severity.
var DailyStates = []DailyStateKind{StateContained, StateWatch, StateLook, StatePause}

// Rank returns the severity of the state: Contained=0 < Watch=1 < Look=2 < Pause=3.
// Unknown values rank as Contained.
func (k DailyStateKind) Rank() int {
	for i, s := range DailyStates {
		if s == k {
			return i
		}
	}
	return 0
}

// ParseDailyStateKind converts a stored string into a DailyStateKind.
func ParseDailyStateKind(s string) (DailyStateKind, error) {
	for _, k := range DailyStates {
		if string(k) == s {
			return k, nil
		}
	}
	return "", eris.Errorf("model: unknown daily state %q", s)
}

// DailyState is the aggregate state for one calendar date. It is upserted
// once per poll cycle, keyed by Date.
type DailyState struct {
	Date           string         `json:"date"`
	State          DailyStateKind `json:"state"`
	Summary        string         `json:"summary"`
	TopDetectionID *string        `json:"top_detection_id"`
	QuietLogCount  int            `json:"quiet_log_count"`
	UpdatedAt      time.Time      `json:"updated_at"`
}

// Strictness is the suppression strictness setting. It is carried through
// evaluation but does not currently alter rule matching.
type Strictness string

const (
	StrictnessLow  Strictness = "low"
	StrictnessMed  Strictness = "med"
	StrictnessHigh Strictness = "high"
)

// EngineSettings holds the admin-tunable knobs consumed by the policy engine
// and the state machine.
type EngineSettings struct {
	AlertThreshold        int        `json:"alert_threshold" yaml:"alert_threshold" mapstructure:"alert_threshold"`
	SuppressionStrictness Strictness `json:"suppression_strictness" yaml:"suppression_strictness" mapstructure:"suppression_strictness"`
	PanicSensitivity      int        `json:"panic_sensitivity" yaml:"panic_sensitivity" mapstructure:"panic_sensitivity"`
	FeedbackLoop          bool       `json:"feedback_loop" yaml:"feedback_loop" mapstructure:"feedback_loop"`
}

// DefaultEngineSettings returns the settings used when nothing is stored.
func DefaultEngineSettings() EngineSettings {
	return EngineSettings{
		AlertThreshold:        60,
		SuppressionStrictness: StrictnessHigh,
		PanicSensitivity:      -20,
		FeedbackLoop:          true,
	}
}

// PanicGap returns PanicSensitivity as a fractional market move (-20 → -0.20).
func (s EngineSettings) PanicGap() float64 {
	return float64(s.PanicSensitivity) / 100
}
