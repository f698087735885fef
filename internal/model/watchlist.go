package model

import (
	"encoding/json"
	"time"
)

// WatchlistItem is one tracked ticker with its source cursors.
type WatchlistItem struct {
	ID                  string     `json:"id"`
	Ticker              string     `json:"ticker"`
	CIK                 string     `json:"cik,omitempty"`
	Dependency          float64    `json:"dependency"`
	LastFilingAccession string     `json:"last_filing_accession,omitempty"`
	FeedURL             string     `json:"feed_url,omitempty"`
	LastFeedGUID        string     `json:"last_feed_guid,omitempty"`
	PollIntervalHours   int        `json:"poll_interval_hours"`
	LastPollAt          *time.Time `json:"last_poll_at,omitempty"`
	NextCheckInAt       *time.Time `json:"next_check_in_at,omitempty"`
	CreatedAt           time.Time  `json:"created_at"`
	UpdatedAt           time.Time  `json:"updated_at"`
}

// WatchlistCursor carries the per-ticker cursor updates written at the end of
// a poll. Empty strings leave the stored value unchanged.
type WatchlistCursor struct {
	LastFilingAccession string
	LastFeedGUID        string
	PolledAt            time.Time
	NextCheckInAt       time.Time
}

// DependencyMap builds ticker → dependency weight from the watchlist.
func DependencyMap(items []WatchlistItem) map[string]float64 {
	deps := make(map[string]float64, len(items))
	for _, it := range items {
		deps[it.Ticker] = it.Dependency
	}
	return deps
}

// TrialMapping links a ticker to a registry trial and holds the last known
// snapshot. No history is retained.
type TrialMapping struct {
	ID            string          `json:"id"`
	Ticker        string          `json:"ticker"`
	NCTID         string          `json:"nct_id"`
	Label         string          `json:"label,omitempty"`
	LastHash      string          `json:"last_hash,omitempty"`
	LastSnapshot  json.RawMessage `json:"last_snapshot,omitempty"`
	LastFetchedAt *time.Time      `json:"last_fetched_at,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
}

// MissLog records a suppressed detection whose ticker still moved sharply,
// feeding back into policy review.
type MissLog struct {
	ID          string    `json:"id"`
	Ticker      string    `json:"ticker"`
	DetectionID string    `json:"detection_id"`
	Date        string    `json:"date"`
	Reason      string    `json:"reason"`
	Move1D      float64   `json:"move_1d"`
	CreatedAt   time.Time `json:"created_at"`
}
