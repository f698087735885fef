// Package store persists watchlists, registry snapshots, detections, daily
// states and poll runs.
package store

import (
	"context"
	"strconv"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/watchman/internal/model"
)

// PollRunFilter specifies criteria for listing poll runs.
type PollRunFilter struct {
	Since time.Time `json:"since,omitempty"`
	Limit int       `json:"limit,omitempty"`
}

// Store defines the persistence interface for the poll pipeline.
type Store interface {
	// Watchlist
	ListWatchlist(ctx context.Context) ([]model.WatchlistItem, error)
	UpsertWatchlistItem(ctx context.Context, item model.WatchlistItem) error
	UpdateWatchlistCursor(ctx context.Context, ticker string, cur model.WatchlistCursor) error

	// Registry trials
	ListTrialMappings(ctx context.Context) ([]model.TrialMapping, error)
	UpsertTrialMapping(ctx context.Context, m model.TrialMapping) error
	UpdateTrialSnapshot(ctx context.Context, id, hash string, snapshot []byte, fetchedAt time.Time) error

	// Detections
	InsertDetection(ctx context.Context, d *model.Detection) (bool, error)
	ListDetectionsByDate(ctx context.Context, date string) ([]model.Detection, error)
	UpdateDetectionAnnotation(ctx context.Context, id string, annotation []byte, modelName, inputHash string, at time.Time) error
	CountAnnotationsByTicker(ctx context.Context, date string) (map[string]int, error)

	// Daily state
	GetDailyState(ctx context.Context, date string) (*model.DailyState, error)
	GetPreviousDailyState(ctx context.Context, before string) (*model.DailyState, error)
	UpsertDailyState(ctx context.Context, ds model.DailyState) error

	// Notifications
	GetNotificationSettings(ctx context.Context, userID string) (*model.NotificationSettings, error)
	UpsertNotificationSettings(ctx context.Context, s model.NotificationSettings) error
	UpdateLastSent(ctx context.Context, userID string, at time.Time) error

	// Policy and engine settings
	GetActivePolicy(ctx context.Context) ([]byte, error)
	SetActivePolicy(ctx context.Context, doc []byte) error
	GetEngineSettings(ctx context.Context) (model.EngineSettings, error)
	SetEngineSetting(ctx context.Context, key, value string) error

	// Poll runs
	StartPollRun(ctx context.Context) (*model.PollRun, error)
	FinishPollRun(ctx context.Context, run *model.PollRun) error
	ListPollRuns(ctx context.Context, filter PollRunFilter) ([]model.PollRun, error)

	// Feedback loop
	InsertMissLog(ctx context.Context, m model.MissLog) (bool, error)

	// Lifecycle
	Ping(ctx context.Context) error
	Migrate(ctx context.Context) error
	Close() error
}

// Engine setting keys accepted by SetEngineSetting.
const (
	SettingAlertThreshold        = "alert_threshold"
	SettingSuppressionStrictness = "suppression_strictness"
	SettingPanicSensitivity      = "panic_sensitivity"
	SettingFeedbackLoop          = "feedback_loop"
)

// EngineSettingKeys lists the keys accepted by SetEngineSetting.
var EngineSettingKeys = []string{
	SettingAlertThreshold,
	SettingSuppressionStrictness,
	SettingPanicSensitivity,
	SettingFeedbackLoop,
}

// ApplySetting parses value for key and writes it into s.
func ApplySetting(s *model.EngineSettings, key, value string) error {
	switch key {
	case SettingAlertThreshold:
		n, err := strconv.Atoi(value)
		if err != nil || n < 0 || n > 100 {
			return eris.Errorf("store: %s must be an integer in [0,100], got %q", key, value)
		}
		s.AlertThreshold = n
	case SettingSuppressionStrictness:
		switch v := model.Strictness(value); v {
		case model.StrictnessLow, model.StrictnessMed, model.StrictnessHigh:
			s.SuppressionStrictness = v
		default:
			return eris.Errorf("store: %s must be low, med or high, got %q", key, value)
		}
	case SettingPanicSensitivity:
		n, err := strconv.Atoi(value)
		if err != nil || n > 0 || n < -100 {
			return eris.Errorf("store: %s must be an integer in [-100,0], got %q", key, value)
		}
		s.PanicSensitivity = n
	case SettingFeedbackLoop:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return eris.Errorf("store: %s must be a boolean, got %q", key, value)
		}
		s.FeedbackLoop = b
	default:
		return eris.Errorf("store: unknown engine setting %q", key)
	}
	return nil
}

// settingsFromRows overlays stored key/value pairs on the defaults. Unknown
// keys and unparseable values are ignored so a bad row cannot stop a poll.
func settingsFromRows(kv map[string]string) model.EngineSettings {
	s := model.DefaultEngineSettings()
	for k, v := range kv {
		_ = ApplySetting(&s, k, v)
	}
	return s
}

const defaultRunLimit = 50

func runLimit(f PollRunFilter) int {
	if f.Limit <= 0 {
		return defaultRunLimit
	}
	return f.Limit
}

const watchlistColumns = `id, ticker, cik, dependency, last_filing_accession, feed_url, last_feed_guid,
	poll_interval_hours, last_poll_at, next_check_in_at, created_at, updated_at`

const detectionColumns = `id, dedup_key, ticker, detected_at, detected_date, source_tier, change_type, title,
	url, accession, nct_id, field_path, old_value, new_value, raw_payload, confidence,
	suppressed, quarantined, hard_alert, score_raw, score_final, explanation,
	policy_match_id, policy_match_label`

const detectionSelectColumns = `id, ticker, detected_at, detected_date, source_tier, change_type, title,
	url, accession, nct_id, field_path, old_value, new_value, raw_payload, confidence,
	suppressed, quarantined, hard_alert, score_raw, score_final, explanation,
	policy_match_id, policy_match_label, annotation, annotation_model, annotation_input_hash, annotated_at`

// detectionArgs returns insert arguments in detectionColumns order. JSON
// payloads are returned as []byte.
func detectionArgs(d *model.Detection) []any {
	return []any{
		d.ID, d.DedupKey(), d.Ticker, d.DetectedAt.UTC(), d.DetectedDate, string(d.SourceTier),
		string(d.ChangeType), d.Title, d.URL, d.Accession, d.NCTID, d.FieldPath, d.OldValue,
		d.NewValue, []byte(d.RawPayload), d.Confidence, d.Suppressed, d.Quarantined, d.HardAlert,
		d.ScoreRaw, d.ScoreFinal, d.Explanation, d.PolicyMatchID, d.PolicyMatchLabel,
	}
}

var (
	_ Store = (*SQLiteStore)(nil)
	_ Store = (*PostgresStore)(nil)
)
