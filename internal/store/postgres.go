package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/watchman/internal/db"
	"github.com/sells-group/watchman/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS watchlist (
	id                    TEXT PRIMARY KEY,
	ticker                TEXT NOT NULL UNIQUE,
	cik                   TEXT NOT NULL DEFAULT '',
	dependency            DOUBLE PRECISION NOT NULL DEFAULT 0.6,
	last_filing_accession TEXT NOT NULL DEFAULT '',
	feed_url              TEXT NOT NULL DEFAULT '',
	last_feed_guid        TEXT NOT NULL DEFAULT '',
	poll_interval_hours   INTEGER NOT NULL DEFAULT 24,
	last_poll_at          TIMESTAMPTZ,
	next_check_in_at      TIMESTAMPTZ,
	created_at            TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at            TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS trial_mappings (
	id              TEXT PRIMARY KEY,
	ticker          TEXT NOT NULL,
	nct_id          TEXT NOT NULL,
	label           TEXT NOT NULL DEFAULT '',
	last_hash       TEXT NOT NULL DEFAULT '',
	last_snapshot   JSONB,
	last_fetched_at TIMESTAMPTZ,
	created_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (ticker, nct_id)
);

CREATE TABLE IF NOT EXISTS detections (
	seq                   BIGSERIAL,
	id                    TEXT PRIMARY KEY,
	dedup_key             TEXT NOT NULL UNIQUE,
	ticker                TEXT NOT NULL,
	detected_at           TIMESTAMPTZ NOT NULL,
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
	raw_payload           JSONB,
	confidence            DOUBLE PRECISION NOT NULL DEFAULT 1.0,
	suppressed            BOOLEAN NOT NULL DEFAULT false,
	quarantined           BOOLEAN NOT NULL DEFAULT false,
	hard_alert            BOOLEAN NOT NULL DEFAULT false,
	score_raw             DOUBLE PRECISION NOT NULL DEFAULT 0,
	score_final           INTEGER NOT NULL DEFAULT 0,
	explanation           TEXT NOT NULL DEFAULT '',
	policy_match_id       TEXT NOT NULL DEFAULT '',
	policy_match_label    TEXT NOT NULL DEFAULT '',
	annotation            JSONB,
	annotation_model      TEXT NOT NULL DEFAULT '',
	annotation_input_hash TEXT NOT NULL DEFAULT '',
	annotated_at          TIMESTAMPTZ
);

CREATE TABLE IF NOT EXISTS daily_states (
	date             TEXT PRIMARY KEY,
	state            TEXT NOT NULL,
	summary          TEXT NOT NULL,
	top_detection_id TEXT,
	quiet_log_count  INTEGER NOT NULL DEFAULT 0,
	updated_at       TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS notification_settings (
	user_id            TEXT PRIMARY KEY,
	channel            TEXT NOT NULL DEFAULT 'none',
	email              TEXT NOT NULL DEFAULT '',
	daily_push_enabled BOOLEAN NOT NULL DEFAULT true,
	pause_push_enabled BOOLEAN NOT NULL DEFAULT true,
	quiet_push_enabled BOOLEAN NOT NULL DEFAULT false,
	last_sent_at       TIMESTAMPTZ
);

CREATE TABLE IF NOT EXISTS policy_versions (
	seq        BIGSERIAL,
	id         TEXT PRIMARY KEY,
	document   TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS engine_settings (
	key        TEXT PRIMARY KEY,
	value      TEXT NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS poll_runs (
	id                TEXT PRIMARY KEY,
	status            TEXT NOT NULL,
	started_at        TIMESTAMPTZ NOT NULL,
	finished_at       TIMESTAMPTZ,
	tickers_polled    INTEGER NOT NULL DEFAULT 0,
	trials_polled     INTEGER NOT NULL DEFAULT 0,
	new_detections    INTEGER NOT NULL DEFAULT 0,
	suppressed_count  INTEGER NOT NULL DEFAULT 0,
	quarantined_count INTEGER NOT NULL DEFAULT 0,
	resulting_state   TEXT NOT NULL DEFAULT '',
	notification_sent TEXT NOT NULL DEFAULT '',
	errors            JSONB
);

CREATE TABLE IF NOT EXISTS miss_log (
	id           TEXT PRIMARY KEY,
	ticker       TEXT NOT NULL,
	detection_id TEXT NOT NULL,
	date         TEXT NOT NULL,
	reason       TEXT NOT NULL,
	move_1d      DOUBLE PRECISION NOT NULL,
	created_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (ticker, date)
);

CREATE INDEX IF NOT EXISTS idx_detections_date ON detections(detected_date);
CREATE INDEX IF NOT EXISTS idx_detections_ticker ON detections(ticker);
CREATE INDEX IF NOT EXISTS idx_poll_runs_started ON poll_runs(started_at DESC);
`

func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

// --- Watchlist ---

func (s *PostgresStore) ListWatchlist(ctx context.Context) ([]model.WatchlistItem, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+watchlistColumns+` FROM watchlist ORDER BY ticker`)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list watchlist")
	}
	defer rows.Close()

	var items []model.WatchlistItem
	for rows.Next() {
		var it model.WatchlistItem
		if err := rows.Scan(&it.ID, &it.Ticker, &it.CIK, &it.Dependency, &it.LastFilingAccession,
			&it.FeedURL, &it.LastFeedGUID, &it.PollIntervalHours, &it.LastPollAt, &it.NextCheckInAt,
			&it.CreatedAt, &it.UpdatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan watchlist")
		}
		items = append(items, it)
	}
	return items, eris.Wrap(rows.Err(), "postgres: list watchlist iterate")
}

func (s *PostgresStore) UpsertWatchlistItem(ctx context.Context, item model.WatchlistItem) error {
	if item.ID == "" {
		item.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	_, err := s.pool.Exec(ctx,
		`INSERT INTO watchlist (id, ticker, cik, dependency, feed_url, poll_interval_hours, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 ON CONFLICT (ticker) DO UPDATE SET
		   cik = EXCLUDED.cik,
		   dependency = EXCLUDED.dependency,
		   feed_url = EXCLUDED.feed_url,
		   poll_interval_hours = EXCLUDED.poll_interval_hours,
		   updated_at = EXCLUDED.updated_at`,
		item.ID, item.Ticker, item.CIK, item.Dependency, item.FeedURL, item.PollIntervalHours, now, now,
	)
	return eris.Wrapf(err, "postgres: upsert watchlist %s", item.Ticker)
}

func (s *PostgresStore) UpdateWatchlistCursor(ctx context.Context, ticker string, cur model.WatchlistCursor) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE watchlist SET
		   last_filing_accession = COALESCE(NULLIF($1, ''), last_filing_accession),
		   last_feed_guid = COALESCE(NULLIF($2, ''), last_feed_guid),
		   last_poll_at = $3, next_check_in_at = $4, updated_at = now()
		 WHERE ticker = $5`,
		cur.LastFilingAccession, cur.LastFeedGUID, cur.PolledAt.UTC(), cur.NextCheckInAt.UTC(), ticker,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update cursor %s", ticker)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("watchlist item not found: %s", ticker)
	}
	return nil
}

// --- Trials ---

func (s *PostgresStore) ListTrialMappings(ctx context.Context) ([]model.TrialMapping, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, ticker, nct_id, label, last_hash, last_snapshot, last_fetched_at, created_at
		 FROM trial_mappings ORDER BY ticker, nct_id`)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list trial mappings")
	}
	defer rows.Close()

	var out []model.TrialMapping
	for rows.Next() {
		var m model.TrialMapping
		var snap []byte
		if err := rows.Scan(&m.ID, &m.Ticker, &m.NCTID, &m.Label, &m.LastHash, &snap, &m.LastFetchedAt, &m.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan trial mapping")
		}
		if len(snap) > 0 {
			m.LastSnapshot = json.RawMessage(snap)
		}
		out = append(out, m)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list trial mappings iterate")
}

func (s *PostgresStore) UpsertTrialMapping(ctx context.Context, m model.TrialMapping) error {
	if m.ID == "" {
		m.ID = uuid.New().String()
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO trial_mappings (id, ticker, nct_id, label) VALUES ($1, $2, $3, $4)
		 ON CONFLICT (ticker, nct_id) DO UPDATE SET label = EXCLUDED.label`,
		m.ID, m.Ticker, m.NCTID, m.Label,
	)
	return eris.Wrapf(err, "postgres: upsert trial mapping %s/%s", m.Ticker, m.NCTID)
}

func (s *PostgresStore) UpdateTrialSnapshot(ctx context.Context, id, hash string, snapshot []byte, fetchedAt time.Time) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE trial_mappings SET last_hash = $1, last_snapshot = $2, last_fetched_at = $3 WHERE id = $4`,
		hash, snapshot, fetchedAt.UTC(), id,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update trial snapshot %s", id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("trial mapping not found: %s", id)
	}
	return nil
}

// --- Detections ---

func (s *PostgresStore) InsertDetection(ctx context.Context, d *model.Detection) (bool, error) {
	if d.ID == "" {
		d.ID = uuid.New().String()
	}
	args := detectionArgs(d)
	for i, a := range args {
		if raw, ok := a.([]byte); ok && len(raw) == 0 {
			args[i] = nil
		}
	}
	tag, err := s.pool.Exec(ctx,
		`INSERT INTO detections (`+detectionColumns+`) VALUES (`+placeholders(len(args), true)+`)
		 ON CONFLICT (dedup_key) DO NOTHING`,
		args...,
	)
	if err != nil {
		return false, eris.Wrapf(err, "postgres: insert detection %s", d.DedupKey())
	}
	return tag.RowsAffected() > 0, nil
}

func (s *PostgresStore) ListDetectionsByDate(ctx context.Context, date string) ([]model.Detection, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+detectionSelectColumns+` FROM detections WHERE detected_date = $1 ORDER BY detected_at, seq`,
		date,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: list detections %s", date)
	}
	defer rows.Close()

	var out []model.Detection
	for rows.Next() {
		var d model.Detection
		var tier, ct string
		var raw, ann []byte
		if err := rows.Scan(&d.ID, &d.Ticker, &d.DetectedAt, &d.DetectedDate, &tier, &ct,
			&d.Title, &d.URL, &d.Accession, &d.NCTID, &d.FieldPath, &d.OldValue, &d.NewValue, &raw,
			&d.Confidence, &d.Suppressed, &d.Quarantined, &d.HardAlert, &d.ScoreRaw, &d.ScoreFinal,
			&d.Explanation, &d.PolicyMatchID, &d.PolicyMatchLabel, &ann, &d.AnnotationModel,
			&d.AnnotationInputHash, &d.AnnotatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan detection")
		}
		d.SourceTier = model.SourceTier(tier)
		d.ChangeType = model.ChangeType(ct)
		if len(raw) > 0 {
			d.RawPayload = json.RawMessage(raw)
		}
		if len(ann) > 0 {
			d.Annotation = json.RawMessage(ann)
		}
		out = append(out, d)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list detections iterate")
}

func (s *PostgresStore) UpdateDetectionAnnotation(ctx context.Context, id string, annotation []byte, modelName, inputHash string, at time.Time) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE detections SET annotation = $1, annotation_model = $2, annotation_input_hash = $3, annotated_at = $4 WHERE id = $5`,
		annotation, modelName, inputHash, at.UTC(), id,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update annotation %s", id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("detection not found: %s", id)
	}
	return nil
}

func (s *PostgresStore) CountAnnotationsByTicker(ctx context.Context, date string) (map[string]int, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT ticker, COUNT(*) FROM detections
		 WHERE detected_date = $1 AND annotation_input_hash <> '' GROUP BY ticker`,
		date,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: count annotations")
	}
	defer rows.Close()

	out := make(map[string]int)
	for rows.Next() {
		var ticker string
		var n int64
		if err := rows.Scan(&ticker, &n); err != nil {
			return nil, eris.Wrap(err, "postgres: scan annotation count")
		}
		out[ticker] = int(n)
	}
	return out, eris.Wrap(rows.Err(), "postgres: count annotations iterate")
}

// --- Daily state ---

func (s *PostgresStore) GetDailyState(ctx context.Context, date string) (*model.DailyState, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT date, state, summary, top_detection_id, quiet_log_count, updated_at FROM daily_states WHERE date = $1`,
		date,
	)
	return scanPgDailyState(row)
}

func (s *PostgresStore) GetPreviousDailyState(ctx context.Context, before string) (*model.DailyState, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT date, state, summary, top_detection_id, quiet_log_count, updated_at
		 FROM daily_states WHERE date < $1 ORDER BY date DESC LIMIT 1`,
		before,
	)
	return scanPgDailyState(row)
}

func scanPgDailyState(row pgx.Row) (*model.DailyState, error) {
	var ds model.DailyState
	var state string
	err := row.Scan(&ds.Date, &state, &ds.Summary, &ds.TopDetectionID, &ds.QuietLogCount, &ds.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: scan daily state")
	}
	if ds.State, err = model.ParseDailyStateKind(state); err != nil {
		return nil, err
	}
	return &ds, nil
}

func (s *PostgresStore) UpsertDailyState(ctx context.Context, ds model.DailyState) error {
	if ds.UpdatedAt.IsZero() {
		ds.UpdatedAt = time.Now().UTC()
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO daily_states (date, state, summary, top_detection_id, quiet_log_count, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (date) DO UPDATE SET
		   state = EXCLUDED.state,
		   summary = EXCLUDED.summary,
		   top_detection_id = EXCLUDED.top_detection_id,
		   quiet_log_count = EXCLUDED.quiet_log_count,
		   updated_at = EXCLUDED.updated_at`,
		ds.Date, string(ds.State), ds.Summary, ds.TopDetectionID, ds.QuietLogCount, ds.UpdatedAt.UTC(),
	)
	return eris.Wrapf(err, "postgres: upsert daily state %s", ds.Date)
}

// --- Notifications ---

func (s *PostgresStore) GetNotificationSettings(ctx context.Context, userID string) (*model.NotificationSettings, error) {
	var ns model.NotificationSettings
	var channel string
	err := s.pool.QueryRow(ctx,
		`SELECT user_id, channel, email, daily_push_enabled, pause_push_enabled, quiet_push_enabled, last_sent_at
		 FROM notification_settings WHERE user_id = $1`,
		userID,
	).Scan(&ns.UserID, &channel, &ns.Email, &ns.DailyPushEnabled, &ns.PausePushEnabled, &ns.QuietPushEnabled, &ns.LastSentAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get notification settings %s", userID)
	}
	ns.Channel = model.NotificationChannel(channel)
	return &ns, nil
}

func (s *PostgresStore) UpsertNotificationSettings(ctx context.Context, ns model.NotificationSettings) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO notification_settings (user_id, channel, email, daily_push_enabled, pause_push_enabled, quiet_push_enabled)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (user_id) DO UPDATE SET
		   channel = EXCLUDED.channel,
		   email = EXCLUDED.email,
		   daily_push_enabled = EXCLUDED.daily_push_enabled,
		   pause_push_enabled = EXCLUDED.pause_push_enabled,
		   quiet_push_enabled = EXCLUDED.quiet_push_enabled`,
		ns.UserID, string(ns.Channel), ns.Email, ns.DailyPushEnabled, ns.PausePushEnabled, ns.QuietPushEnabled,
	)
	return eris.Wrapf(err, "postgres: upsert notification settings %s", ns.UserID)
}

func (s *PostgresStore) UpdateLastSent(ctx context.Context, userID string, at time.Time) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE notification_settings SET last_sent_at = $1 WHERE user_id = $2`,
		at.UTC(), userID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update last sent %s", userID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("notification settings not found: %s", userID)
	}
	return nil
}

// --- Policy and settings ---

func (s *PostgresStore) GetActivePolicy(ctx context.Context) ([]byte, error) {
	var doc string
	err := s.pool.QueryRow(ctx,
		`SELECT document FROM policy_versions ORDER BY seq DESC LIMIT 1`,
	).Scan(&doc)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: get active policy")
	}
	return []byte(doc), nil
}

func (s *PostgresStore) SetActivePolicy(ctx context.Context, doc []byte) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO policy_versions (id, document, created_at) VALUES ($1, $2, $3)`,
		uuid.New().String(), string(doc), time.Now().UTC(),
	)
	return eris.Wrap(err, "postgres: set active policy")
}

func (s *PostgresStore) GetEngineSettings(ctx context.Context) (model.EngineSettings, error) {
	rows, err := s.pool.Query(ctx, `SELECT key, value FROM engine_settings`)
	if err != nil {
		return model.EngineSettings{}, eris.Wrap(err, "postgres: get engine settings")
	}
	defer rows.Close()

	kv := make(map[string]string)
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return model.EngineSettings{}, eris.Wrap(err, "postgres: scan engine setting")
		}
		kv[k] = v
	}
	if err := rows.Err(); err != nil {
		return model.EngineSettings{}, eris.Wrap(err, "postgres: engine settings iterate")
	}
	return settingsFromRows(kv), nil
}

func (s *PostgresStore) SetEngineSetting(ctx context.Context, key, value string) error {
	var probe model.EngineSettings
	if err := ApplySetting(&probe, key, value); err != nil {
		return err
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO engine_settings (key, value, updated_at) VALUES ($1, $2, now())
		 ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = now()`,
		key, value,
	)
	return eris.Wrapf(err, "postgres: set engine setting %s", key)
}

// --- Poll runs ---

func (s *PostgresStore) StartPollRun(ctx context.Context) (*model.PollRun, error) {
	run := &model.PollRun{
		ID:        uuid.New().String(),
		Status:    model.RunStatusRunning,
		StartedAt: time.Now().UTC(),
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO poll_runs (id, status, started_at) VALUES ($1, $2, $3)`,
		run.ID, string(run.Status), run.StartedAt,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: start poll run")
	}
	return run, nil
}

func (s *PostgresStore) FinishPollRun(ctx context.Context, run *model.PollRun) error {
	errs, err := json.Marshal(run.Errors)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal run errors")
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE poll_runs SET status = $1, finished_at = $2, tickers_polled = $3, trials_polled = $4,
		   new_detections = $5, suppressed_count = $6, quarantined_count = $7, resulting_state = $8,
		   notification_sent = $9, errors = $10
		 WHERE id = $11`,
		string(run.Status), run.FinishedAt, run.TickersPolled, run.TrialsPolled, run.NewDetections,
		run.SuppressedCount, run.QuarantinedCount, string(run.ResultingState), run.NotificationSent,
		errs, run.ID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: finish poll run %s", run.ID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("poll run not found: %s", run.ID)
	}
	return nil
}

func (s *PostgresStore) ListPollRuns(ctx context.Context, filter PollRunFilter) ([]model.PollRun, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, status, started_at, finished_at, tickers_polled, trials_polled, new_detections,
		   suppressed_count, quarantined_count, resulting_state, notification_sent, errors
		 FROM poll_runs WHERE started_at >= $1 ORDER BY started_at DESC LIMIT $2`,
		filter.Since.UTC(), runLimit(filter),
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list poll runs")
	}
	defer rows.Close()

	var runs []model.PollRun
	for rows.Next() {
		var r model.PollRun
		var status, state string
		var errs []byte
		if err := rows.Scan(&r.ID, &status, &r.StartedAt, &r.FinishedAt, &r.TickersPolled, &r.TrialsPolled,
			&r.NewDetections, &r.SuppressedCount, &r.QuarantinedCount, &state, &r.NotificationSent, &errs); err != nil {
			return nil, eris.Wrap(err, "postgres: scan poll run")
		}
		r.Status = model.RunStatus(status)
		r.ResultingState = model.DailyStateKind(state)
		if len(errs) > 0 {
			if err := json.Unmarshal(errs, &r.Errors); err != nil {
				return nil, eris.Wrap(err, "postgres: unmarshal run errors")
			}
		}
		runs = append(runs, r)
	}
	return runs, eris.Wrap(rows.Err(), "postgres: list poll runs iterate")
}

// --- Feedback loop ---

func (s *PostgresStore) InsertMissLog(ctx context.Context, m model.MissLog) (bool, error) {
	if m.ID == "" {
		m.ID = uuid.New().String()
	}
	tag, err := s.pool.Exec(ctx,
		`INSERT INTO miss_log (id, ticker, detection_id, date, reason, move_1d)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (ticker, date) DO NOTHING`,
		m.ID, m.Ticker, m.DetectionID, m.Date, m.Reason, m.Move1D,
	)
	if err != nil {
		return false, eris.Wrapf(err, "postgres: insert miss log %s", m.Ticker)
	}
	return tag.RowsAffected() > 0, nil
}
