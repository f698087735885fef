package monitoring

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/watchman/internal/model"
	"github.com/sells-group/watchman/internal/store"
)

// recentRunScan bounds how far back the collector looks for the last
// successful run.
const recentRunScan = 200

// MetricsSnapshot holds a point-in-time view of poll health.
type MetricsSnapshot struct {
	// Poll runs started within the lookback window.
	RunsTotal   int     `json:"runs_total"`
	RunsOK      int     `json:"runs_ok"`
	RunsError   int     `json:"runs_error"`
	RunsRunning int     `json:"runs_running"`
	ErrorRate   float64 `json:"error_rate"`

	NewDetections    int `json:"new_detections"`
	SuppressedTotal  int `json:"suppressed_total"`
	QuarantinedTotal int `json:"quarantined_total"`
	Notifications    int `json:"notifications"`

	LastRunAt     *time.Time           `json:"last_run_at,omitempty"`
	LastOKAt      *time.Time           `json:"last_ok_at,omitempty"`
	LastState     model.DailyStateKind `json:"last_state,omitempty"`
	LastRunErrors []string             `json:"last_run_errors,omitempty"`

	// Metadata.
	LookbackHours int       `json:"lookback_hours"`
	CollectedAt   time.Time `json:"collected_at"`
}

// PollRunLister is the slice of the store the collector reads.
type PollRunLister interface {
	ListPollRuns(ctx context.Context, filter store.PollRunFilter) ([]model.PollRun, error)
}

// Collector gathers poll-run metrics from the store.
type Collector struct {
	store PollRunLister
	now   func() time.Time
}

// NewCollector creates a new metrics collector.
func NewCollector(st PollRunLister) *Collector {
	return &Collector{store: st, now: time.Now}
}

// Collect gathers a snapshot of poll metrics over the given lookback window.
func (c *Collector) Collect(ctx context.Context, lookbackHours int) (*MetricsSnapshot, error) {
	now := c.now().UTC()
	snap := &MetricsSnapshot{
		LookbackHours: lookbackHours,
		CollectedAt:   now,
	}

	cutoff := now.Add(-time.Duration(lookbackHours) * time.Hour)
	runs, err := c.store.ListPollRuns(ctx, store.PollRunFilter{Since: cutoff, Limit: 10000})
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: list poll runs")
	}

	snap.RunsTotal = len(runs)
	for _, r := range runs {
		switch r.Status {
		case model.RunStatusOK:
			snap.RunsOK++
		case model.RunStatusError:
			snap.RunsError++
		case model.RunStatusRunning:
			snap.RunsRunning++
		}
		snap.NewDetections += r.NewDetections
		snap.SuppressedTotal += r.SuppressedCount
		snap.QuarantinedTotal += r.QuarantinedCount
		if r.NotificationSent != "" {
			snap.Notifications++
		}
	}
	if finished := snap.RunsOK + snap.RunsError; finished > 0 {
		snap.ErrorRate = float64(snap.RunsError) / float64(finished)
	}

	// Staleness looks past the window: the last good run may be older.
	recent, err := c.store.ListPollRuns(ctx, store.PollRunFilter{Limit: recentRunScan})
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: list recent poll runs")
	}
	if len(recent) > 0 {
		last := recent[0]
		snap.LastRunAt = &last.StartedAt
		snap.LastState = last.ResultingState
		snap.LastRunErrors = last.Errors
	}
	for i := range recent {
		if recent[i].Status == model.RunStatusOK {
			snap.LastOKAt = &recent[i].StartedAt
			break
		}
	}

	return snap, nil
}
