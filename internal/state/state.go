// Package state collapses a day's detections into one portfolio state.
package state

import (
	"fmt"

	"github.com/sells-group/watchman/internal/model"
)

const (
	// DefaultDependency weights tickers missing from the dependency map.
	DefaultDependency = 0.6
	// WatchFloor is the lowest active score that lifts the day to Watch.
	WatchFloor = 40
)

// SelectTop returns the active detection with the highest score weighted by
// its ticker's dependency. Ties go to the earliest detection. It returns nil
// when every detection is quiet.
func SelectTop(detections []model.Detection, deps map[string]float64) *model.Detection {
	var top *model.Detection
	best := -1.0
	for i := range detections {
		d := &detections[i]
		if d.Quiet() {
			continue
		}
		dep, ok := deps[d.Ticker]
		if !ok {
			dep = DefaultDependency
		}
		if w := float64(d.ScoreFinal) * dep; w > best {
			best = w
			top = d
		}
	}
	return top
}

// Evaluation is the computed state plus the detection it was headlined by.
type Evaluation struct {
	State model.DailyState
	Top   *model.Detection
}

// Evaluate computes the day's state. Hard alerts are read from every
// detection, including quiet ones; the Look and Watch checks only consider
// active detections. UpdatedAt is left zero for the caller to stamp.
func Evaluate(detections []model.Detection, deps map[string]float64, settings model.EngineSettings, tickerCount int, date string) Evaluation {
	var quiet int
	var hard, look, watch bool
	for i := range detections {
		d := &detections[i]
		if d.HardAlert {
			hard = true
		}
		if d.Quiet() {
			quiet++
			continue
		}
		switch {
		case d.ScoreFinal >= settings.AlertThreshold:
			look = true
		case d.ScoreFinal >= WatchFloor:
			watch = true
		}
	}

	kind := model.StateContained
	switch {
	case hard:
		kind = model.StatePause
	case look:
		kind = model.StateLook
	case watch:
		kind = model.StateWatch
	}

	top := SelectTop(detections, deps)
	ds := model.DailyState{
		Date:          date,
		State:         kind,
		Summary:       Summary(kind, tickerCount),
		QuietLogCount: quiet,
	}
	if top != nil {
		id := top.ID
		ds.TopDetectionID = &id
	}
	return Evaluation{State: ds, Top: top}
}

// ComputeDailyState is Evaluate without the selected detection.
func ComputeDailyState(detections []model.Detection, deps map[string]float64, settings model.EngineSettings, tickerCount int, date string) model.DailyState {
	return Evaluate(detections, deps, settings, tickerCount, date).State
}

// Summary returns the one-line headline for a state.
func Summary(kind model.DailyStateKind, tickerCount int) string {
	switch kind {
	case model.StatePause:
		return "Pause: something moved fast; open triage."
	case model.StateLook:
		return "Look: one item needs a 60-second review."
	case model.StateWatch:
		return fmt.Sprintf("Watch: one item worth monitoring across %d holdings.", tickerCount)
	default:
		return fmt.Sprintf("Contained: no action needed for your %d holdings.", tickerCount)
	}
}
