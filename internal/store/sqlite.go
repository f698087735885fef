package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/watchman/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS watchlist (
	id                    TEXT PRIMARY KEY,
	ticker                TEXT NOT NULL UNIQUE,
	cik                   TEXT NOT NULL DEFAULT '',
	dependency            REAL NOT NULL DEFAULT 0.6,
	last_filing_accession TEXT NOT NULL DEFAULT '',
	feed_url              TEXT NOT NULL DEFAULT '',
	last_feed_guid        TEXT NOT NULL DEFAULT '',
	poll_interval_hours   INTEGER NOT NULL DEFAULT 24,
	last_poll_at          DATETIME,
	next_check_in_at      DATETIME,
	created_at            DATETIME NOT NULL,
	updated_at            DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS trial_mappings (
	id              TEXT PRIMARY KEY,
	ticker          TEXT NOT NULL,
	nct_id          TEXT NOT NULL,
	label           TEXT NOT NULL DEFAULT '',
	last_hash       TEXT NOT NULL DEFAULT '',
	last_snapshot   TEXT,
	last_fetched_at DATETIME,
	created_at      DATETIME NOT NULL,
	UNIQUE (ticker, nct_id)
);

CREATE TABLE IF NOT EXISTS detections (
	id                    TEXT PRIMARY KEY,
	dedup_key             TEXT NOT NULL UNIQUE,
	ticker                TEXT NOT NULL,
	detected_at           DATETIME NOT NULL,
	detected_date         TEXT NOT NULL,
	source_tier           TEXT NOT NULL,
	change_type           TEXT NOT NULL,
	title                 TEXT NOT NULL,
	url                   TEXT NOT NULL DEFAULT '',
	accession             TEXT NOT NULL DEFAULT '',
	nct_id                TEXT NOT NULL DEFAULT '',
	field_path            TEXT NOT NULL DEFAULT '',
	old_value             TEXT NOT NULL DEFAULT '',
	new_value             TEXT NOT NULL DEFAULT '',
	raw_payload           TEXT,
	confidence            REAL NOT NULL DEFAULT 1.0,
	suppressed            INTEGER NOT NULL DEFAULT 0,
	quarantined           INTEGER NOT NULL DEFAULT 0,
	hard_alert            INTEGER NOT NULL DEFAULT 0,
	score_raw             REAL NOT NULL DEFAULT 0,
	score_final           INTEGER NOT NULL DEFAULT 0,
	explanation           TEXT NOT NULL DEFAULT '',
	policy_match_id       TEXT NOT NULL DEFAULT '',
	policy_match_label    TEXT NOT NULL DEFAULT '',
	annotation            TEXT,
	annotation_model      TEXT NOT NULL DEFAULT '',
	annotation_input_hash TEXT NOT NULL DEFAULT '',
	annotated_at          DATETIME
);

CREATE TABLE IF NOT EXISTS daily_states (
	date             TEXT PRIMARY KEY,
	state            TEXT NOT NULL,
	summary          TEXT NOT NULL,
	top_detection_id TEXT,
	quiet_log_count  INTEGER NOT NULL DEFAULT 0,
	updated_at       DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS notification_settings (
	user_id            TEXT PRIMARY KEY,
	channel            TEXT NOT NULL DEFAULT 'none',
	email              TEXT NOT NULL DEFAULT '',
	daily_push_enabled INTEGER NOT NULL DEFAULT 1,
	pause_push_enabled INTEGER NOT NULL DEFAULT 1,
	quiet_push_enabled INTEGER NOT NULL DEFAULT 0,
	last_sent_at       DATETIME
);

CREATE TABLE IF NOT EXISTS policy_versions (
	id         TEXT PRIMARY KEY,
	document   TEXT NOT NULL,
	created_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS engine_settings (
	key        TEXT PRIMARY KEY,
	value      TEXT NOT NULL,
	updated_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS poll_runs (
	id                TEXT PRIMARY KEY,
	status            TEXT NOT NULL,
	started_at        DATETIME NOT NULL,
	finished_at       DATETIME,
	tickers_polled    INTEGER NOT NULL DEFAULT 0,
	trials_polled     INTEGER NOT NULL DEFAULT 0,
	new_detections    INTEGER NOT NULL DEFAULT 0,
	suppressed_count  INTEGER NOT NULL DEFAULT 0,
	quarantined_count INTEGER NOT NULL DEFAULT 0,
	resulting_state   TEXT NOT NULL DEFAULT '',
	notification_sent TEXT NOT NULL DEFAULT '',
	errors            TEXT
);

CREATE TABLE IF NOT EXISTS miss_log (
	id           TEXT PRIMARY KEY,
	ticker       TEXT NOT NULL,
	detection_id TEXT NOT NULL,
	date         TEXT NOT NULL,
	reason       TEXT NOT NULL,
	move_1d      REAL NOT NULL,
	created_at   DATETIME NOT NULL,
	UNIQUE (ticker, date)
);

CREATE INDEX IF NOT EXISTS idx_detections_date ON detections(detected_date);
CREATE INDEX IF NOT EXISTS idx_detections_ticker ON detections(ticker);
CREATE INDEX IF NOT EXISTS idx_poll_runs_started ON poll_runs(started_at);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.db.PingContext(ctx), "sqlite: ping")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// --- Watchlist ---

func (s *SQLiteStore) ListWatchlist(ctx context.Context) ([]model.WatchlistItem, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+watchlistColumns+` FROM watchlist ORDER BY ticker`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list watchlist")
	}
	defer rows.Close()

	var items []model.WatchlistItem
	for rows.Next() {
		var it model.WatchlistItem
		var lastPoll, nextCheck sql.NullTime
		if err := rows.Scan(&it.ID, &it.Ticker, &it.CIK, &it.Dependency, &it.LastFilingAccession,
			&it.FeedURL, &it.LastFeedGUID, &it.PollIntervalHours, &lastPoll, &nextCheck,
			&it.CreatedAt, &it.UpdatedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan watchlist")
		}
		it.LastPollAt = nullTime(lastPoll)
		it.NextCheckInAt = nullTime(nextCheck)
		items = append(items, it)
	}
	return items, eris.Wrap(rows.Err(), "sqlite: list watchlist iterate")
}

func (s *SQLiteStore) UpsertWatchlistItem(ctx context.Context, item model.WatchlistItem) error {
	now := time.Now().UTC()
	if item.ID == "" {
		item.ID = uuid.New().String()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO watchlist (id, ticker, cik, dependency, feed_url, poll_interval_hours, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (ticker) DO UPDATE SET
		   cik = excluded.cik,
		   dependency = excluded.dependency,
		   feed_url = excluded.feed_url,
		   poll_interval_hours = excluded.poll_interval_hours,
		   updated_at = excluded.updated_at`,
		item.ID, item.Ticker, item.CIK, item.Dependency, item.FeedURL, item.PollIntervalHours, now, now,
	)
	return eris.Wrapf(err, "sqlite: upsert watchlist %s", item.Ticker)
}

func (s *SQLiteStore) UpdateWatchlistCursor(ctx context.Context, ticker string, cur model.WatchlistCursor) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE watchlist SET
		   last_filing_accession = CASE WHEN ? = '' THEN last_filing_accession ELSE ? END,
		   last_feed_guid = CASE WHEN ? = '' THEN last_feed_guid ELSE ? END,
		   last_poll_at = ?, next_check_in_at = ?, updated_at = ?
		 WHERE ticker = ?`,
		cur.LastFilingAccession, cur.LastFilingAccession,
		cur.LastFeedGUID, cur.LastFeedGUID,
		cur.PolledAt.UTC(), cur.NextCheckInAt.UTC(), time.Now().UTC(), ticker,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update cursor %s", ticker)
	}
	return checkRowsAffected(res, "watchlist item", ticker)
}

// --- Trials ---

func (s *SQLiteStore) ListTrialMappings(ctx context.Context) ([]model.TrialMapping, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, ticker, nct_id, label, last_hash, last_snapshot, last_fetched_at, created_at
		 FROM trial_mappings ORDER BY ticker, nct_id`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list trial mappings")
	}
	defer rows.Close()

	var out []model.TrialMapping
	for rows.Next() {
		var m model.TrialMapping
		var snap sql.NullString
		var fetched sql.NullTime
		if err := rows.Scan(&m.ID, &m.Ticker, &m.NCTID, &m.Label, &m.LastHash, &snap, &fetched, &m.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan trial mapping")
		}
		if snap.Valid {
			m.LastSnapshot = json.RawMessage(snap.String)
		}
		m.LastFetchedAt = nullTime(fetched)
		out = append(out, m)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list trial mappings iterate")
}

func (s *SQLiteStore) UpsertTrialMapping(ctx context.Context, m model.TrialMapping) error {
	if m.ID == "" {
		m.ID = uuid.New().String()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO trial_mappings (id, ticker, nct_id, label, created_at) VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT (ticker, nct_id) DO UPDATE SET label = excluded.label`,
		m.ID, m.Ticker, m.NCTID, m.Label, time.Now().UTC(),
	)
	return eris.Wrapf(err, "sqlite: upsert trial mapping %s/%s", m.Ticker, m.NCTID)
}

func (s *SQLiteStore) UpdateTrialSnapshot(ctx context.Context, id, hash string, snapshot []byte, fetchedAt time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE trial_mappings SET last_hash = ?, last_snapshot = ?, last_fetched_at = ? WHERE id = ?`,
		hash, string(snapshot), fetchedAt.UTC(), id,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update trial snapshot %s", id)
	}
	return checkRowsAffected(res, "trial mapping", id)
}

// --- Detections ---

func (s *SQLiteStore) InsertDetection(ctx context.Context, d *model.Detection) (bool, error) {
	if d.ID == "" {
		d.ID = uuid.New().String()
	}
	args := detectionArgs(d)
	for i, a := range args {
		if raw, ok := a.([]byte); ok {
			args[i] = nullableText(raw)
		}
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO detections (`+detectionColumns+`) VALUES (`+placeholders(len(args), false)+`)
		 ON CONFLICT (dedup_key) DO NOTHING`,
		args...,
	)
	if err != nil {
		return false, eris.Wrapf(err, "sqlite: insert detection %s", d.DedupKey())
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, eris.Wrap(err, "sqlite: insert detection rows affected")
	}
	return n > 0, nil
}

func (s *SQLiteStore) ListDetectionsByDate(ctx context.Context, date string) ([]model.Detection, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+detectionSelectColumns+` FROM detections WHERE detected_date = ? ORDER BY detected_at, rowid`,
		date,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: list detections %s", date)
	}
	defer rows.Close()

	var out []model.Detection
	for rows.Next() {
		var d model.Detection
		var raw, ann sql.NullString
		var annotatedAt sql.NullTime
		if err := rows.Scan(&d.ID, &d.Ticker, &d.DetectedAt, &d.DetectedDate, &d.SourceTier, &d.ChangeType,
			&d.Title, &d.URL, &d.Accession, &d.NCTID, &d.FieldPath, &d.OldValue, &d.NewValue, &raw,
			&d.Confidence, &d.Suppressed, &d.Quarantined, &d.HardAlert, &d.ScoreRaw, &d.ScoreFinal,
			&d.Explanation, &d.PolicyMatchID, &d.PolicyMatchLabel, &ann, &d.AnnotationModel,
			&d.AnnotationInputHash, &annotatedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan detection")
		}
		if raw.Valid {
			d.RawPayload = json.RawMessage(raw.String)
		}
		if ann.Valid {
			d.Annotation = json.RawMessage(ann.String)
		}
		d.AnnotatedAt = nullTime(annotatedAt)
		out = append(out, d)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list detections iterate")
}

func (s *SQLiteStore) UpdateDetectionAnnotation(ctx context.Context, id string, annotation []byte, modelName, inputHash string, at time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE detections SET annotation = ?, annotation_model = ?, annotation_input_hash = ?, annotated_at = ? WHERE id = ?`,
		string(annotation), modelName, inputHash, at.UTC(), id,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update annotation %s", id)
	}
	return checkRowsAffected(res, "detection", id)
}

func (s *SQLiteStore) CountAnnotationsByTicker(ctx context.Context, date string) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT ticker, COUNT(*) FROM detections
		 WHERE detected_date = ? AND annotation_input_hash <> '' GROUP BY ticker`,
		date,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: count annotations")
	}
	defer rows.Close()

	out := make(map[string]int)
	for rows.Next() {
		var ticker string
		var n int
		if err := rows.Scan(&ticker, &n); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan annotation count")
		}
		out[ticker] = n
	}
	return out, eris.Wrap(rows.Err(), "sqlite: count annotations iterate")
}

// --- Daily state ---

func (s *SQLiteStore) GetDailyState(ctx context.Context, date string) (*model.DailyState, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT date, state, summary, top_detection_id, quiet_log_count, updated_at FROM daily_states WHERE date = ?`,
		date,
	)
	return scanDailyState(row)
}

func (s *SQLiteStore) GetPreviousDailyState(ctx context.Context, before string) (*model.DailyState, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT date, state, summary, top_detection_id, quiet_log_count, updated_at
		 FROM daily_states WHERE date < ? ORDER BY date DESC LIMIT 1`,
		before,
	)
	return scanDailyState(row)
}

func scanDailyState(row scannable) (*model.DailyState, error) {
	var ds model.DailyState
	var state string
	var top sql.NullString
	err := row.Scan(&ds.Date, &state, &ds.Summary, &top, &ds.QuietLogCount, &ds.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan daily state")
	}
	if ds.State, err = model.ParseDailyStateKind(state); err != nil {
		return nil, err
	}
	if top.Valid {
		ds.TopDetectionID = &top.String
	}
	return &ds, nil
}

func (s *SQLiteStore) UpsertDailyState(ctx context.Context, ds model.DailyState) error {
	if ds.UpdatedAt.IsZero() {
		ds.UpdatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO daily_states (date, state, summary, top_detection_id, quiet_log_count, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT (date) DO UPDATE SET
		   state = excluded.state,
		   summary = excluded.summary,
		   top_detection_id = excluded.top_detection_id,
		   quiet_log_count = excluded.quiet_log_count,
		   updated_at = excluded.updated_at`,
		ds.Date, string(ds.State), ds.Summary, nullableID(ds.TopDetectionID), ds.QuietLogCount, ds.UpdatedAt.UTC(),
	)
	return eris.Wrapf(err, "sqlite: upsert daily state %s", ds.Date)
}

// --- Notifications ---

func (s *SQLiteStore) GetNotificationSettings(ctx context.Context, userID string) (*model.NotificationSettings, error) {
	var ns model.NotificationSettings
	var channel string
	var last sql.NullTime
	err := s.db.QueryRowContext(ctx,
		`SELECT user_id, channel, email, daily_push_enabled, pause_push_enabled, quiet_push_enabled, last_sent_at
		 FROM notification_settings WHERE user_id = ?`,
		userID,
	).Scan(&ns.UserID, &channel, &ns.Email, &ns.DailyPushEnabled, &ns.PausePushEnabled, &ns.QuietPushEnabled, &last)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get notification settings %s", userID)
	}
	ns.Channel = model.NotificationChannel(channel)
	ns.LastSentAt = nullTime(last)
	return &ns, nil
}

func (s *SQLiteStore) UpsertNotificationSettings(ctx context.Context, ns model.NotificationSettings) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO notification_settings (user_id, channel, email, daily_push_enabled, pause_push_enabled, quiet_push_enabled)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT (user_id) DO UPDATE SET
		   channel = excluded.channel,
		   email = excluded.email,
		   daily_push_enabled = excluded.daily_push_enabled,
		   pause_push_enabled = excluded.pause_push_enabled,
		   quiet_push_enabled = excluded.quiet_push_enabled`,
		ns.UserID, string(ns.Channel), ns.Email, ns.DailyPushEnabled, ns.PausePushEnabled, ns.QuietPushEnabled,
	)
	return eris.Wrapf(err, "sqlite: upsert notification settings %s", ns.UserID)
}

func (s *SQLiteStore) UpdateLastSent(ctx context.Context, userID string, at time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE notification_settings SET last_sent_at = ? WHERE user_id = ?`,
		at.UTC(), userID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update last sent %s", userID)
	}
	return checkRowsAffected(res, "notification settings", userID)
}

// --- Policy and settings ---

func (s *SQLiteStore) GetActivePolicy(ctx context.Context) ([]byte, error) {
	var doc string
	err := s.db.QueryRowContext(ctx,
		`SELECT document FROM policy_versions ORDER BY created_at DESC, rowid DESC LIMIT 1`,
	).Scan(&doc)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: get active policy")
	}
	return []byte(doc), nil
}

func (s *SQLiteStore) SetActivePolicy(ctx context.Context, doc []byte) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO policy_versions (id, document, created_at) VALUES (?, ?, ?)`,
		uuid.New().String(), string(doc), time.Now().UTC(),
	)
	return eris.Wrap(err, "sqlite: set active policy")
}

func (s *SQLiteStore) GetEngineSettings(ctx context.Context) (model.EngineSettings, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT key, value FROM engine_settings`)
	if err != nil {
		return model.EngineSettings{}, eris.Wrap(err, "sqlite: get engine settings")
	}
	defer rows.Close()

	kv := make(map[string]string)
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return model.EngineSettings{}, eris.Wrap(err, "sqlite: scan engine setting")
		}
		kv[k] = v
	}
	if err := rows.Err(); err != nil {
		return model.EngineSettings{}, eris.Wrap(err, "sqlite: engine settings iterate")
	}
	return settingsFromRows(kv), nil
}

func (s *SQLiteStore) SetEngineSetting(ctx context.Context, key, value string) error {
	var probe model.EngineSettings
	if err := ApplySetting(&probe, key, value); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO engine_settings (key, value, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT (key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, time.Now().UTC(),
	)
	return eris.Wrapf(err, "sqlite: set engine setting %s", key)
}

// --- Poll runs ---

func (s *SQLiteStore) StartPollRun(ctx context.Context) (*model.PollRun, error) {
	run := &model.PollRun{
		ID:        uuid.New().String(),
		Status:    model.RunStatusRunning,
		StartedAt: time.Now().UTC(),
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO poll_runs (id, status, started_at) VALUES (?, ?, ?)`,
		run.ID, string(run.Status), run.StartedAt,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: start poll run")
	}
	return run, nil
}

func (s *SQLiteStore) FinishPollRun(ctx context.Context, run *model.PollRun) error {
	errs, err := json.Marshal(run.Errors)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal run errors")
	}
	var finished any
	if run.FinishedAt != nil {
		finished = run.FinishedAt.UTC()
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE poll_runs SET status = ?, finished_at = ?, tickers_polled = ?, trials_polled = ?,
		   new_detections = ?, suppressed_count = ?, quarantined_count = ?, resulting_state = ?,
		   notification_sent = ?, errors = ?
		 WHERE id = ?`,
		string(run.Status), finished, run.TickersPolled, run.TrialsPolled, run.NewDetections,
		run.SuppressedCount, run.QuarantinedCount, string(run.ResultingState), run.NotificationSent,
		string(errs), run.ID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: finish poll run %s", run.ID)
	}
	return checkRowsAffected(res, "poll run", run.ID)
}

func (s *SQLiteStore) ListPollRuns(ctx context.Context, filter PollRunFilter) ([]model.PollRun, error) {
	query := `SELECT id, status, started_at, finished_at, tickers_polled, trials_polled, new_detections,
	   suppressed_count, quarantined_count, resulting_state, notification_sent, errors
	 FROM poll_runs WHERE 1=1`
	var args []any
	if !filter.Since.IsZero() {
		query += ` AND started_at >= ?`
		args = append(args, filter.Since.UTC())
	}
	query += ` ORDER BY started_at DESC LIMIT ?`
	args = append(args, runLimit(filter))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list poll runs")
	}
	defer rows.Close()

	var runs []model.PollRun
	for rows.Next() {
		var r model.PollRun
		var status, state string
		var finished sql.NullTime
		var errs sql.NullString
		if err := rows.Scan(&r.ID, &status, &r.StartedAt, &finished, &r.TickersPolled, &r.TrialsPolled,
			&r.NewDetections, &r.SuppressedCount, &r.QuarantinedCount, &state, &r.NotificationSent, &errs); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan poll run")
		}
		r.Status = model.RunStatus(status)
		r.ResultingState = model.DailyStateKind(state)
		r.FinishedAt = nullTime(finished)
		if errs.Valid && errs.String != "" {
			if err := json.Unmarshal([]byte(errs.String), &r.Errors); err != nil {
				return nil, eris.Wrap(err, "sqlite: unmarshal run errors")
			}
		}
		runs = append(runs, r)
	}
	return runs, eris.Wrap(rows.Err(), "sqlite: list poll runs iterate")
}

// --- Feedback loop ---

func (s *SQLiteStore) InsertMissLog(ctx context.Context, m model.MissLog) (bool, error) {
	if m.ID == "" {
		m.ID = uuid.New().String()
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO miss_log (id, ticker, detection_id, date, reason, move_1d, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (ticker, date) DO NOTHING`,
		m.ID, m.Ticker, m.DetectionID, m.Date, m.Reason, m.Move1D, time.Now().UTC(),
	)
	if err != nil {
		return false, eris.Wrapf(err, "sqlite: insert miss log %s", m.Ticker)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, eris.Wrap(err, "sqlite: insert miss log rows affected")
	}
	return n > 0, nil
}

// --- helpers ---

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Errorf("%s not found: %s", entity, id)
	}
	return nil
}

type scannable interface {
	Scan(dest ...any) error
}

func nullTime(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time.UTC()
	return &v
}

func nullableText(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return string(b)
}

func nullableID(p *string) any {
	if p == nil {
		return nil
	}
	return *p
}

func placeholders(n int, numbered bool) string {
	parts := make([]string, n)
	for i := range parts {
		if numbered {
			parts[i] = "$" + strconv.Itoa(i+1)
		} else {
			parts[i] = "?"
		}
	}
	return strings.Join(parts, ", ")
}
