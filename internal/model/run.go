package model

import "time"

// RunStatus represents the current state of a poll run.
type RunStatus string

const (
	RunStatusRunning RunStatus = "running"
	RunStatusOK      RunStatus = "ok"
	RunStatusError   RunStatus = "error"
)

// PollRun is the persisted outcome of one poll cycle. Source failures are
// recorded in Errors rather than aborting the cycle.
type PollRun struct {
	ID               string         `json:"id"`
	Status           RunStatus      `json:"status"`
	StartedAt        time.Time      `json:"started_at"`
	FinishedAt       *time.Time     `json:"finished_at,omitempty"`
	TickersPolled    int            `json:"tickers_polled"`
	TrialsPolled     int            `json:"trials_polled"`
	NewDetections    int            `json:"new_detections"`
	SuppressedCount  int            `json:"suppressed_count"`
	QuarantinedCount int            `json:"quarantined_count"`
	ResultingState   DailyStateKind `json:"resulting_state,omitempty"`
	NotificationSent string         `json:"notification_sent,omitempty"` // "", "escalation" or "quiet_log"
	Errors           []string       `json:"errors,omitempty"`
}

// Finish stamps the run with its final status derived from the error list.
func (r *PollRun) Finish(now time.Time) {
	r.FinishedAt = &now
	if len(r.Errors) > 0 {
		r.Status = RunStatusError
	} else {
		r.Status = RunStatusOK
	}
}
