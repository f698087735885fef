package store

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/watchman/internal/model"
)

// newMockPostgresStore creates a PostgresStore backed by pgxmock for unit testing.
func newMockPostgresStore(t *testing.T) (*PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { mock.Close() })

	s := &PostgresStore{pool: mock}
	return s, mock
}

func TestPostgresStore_Migrate(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS detections`).
		WillReturnResult(pgxmock.NewResult("CREATE", 0))

	require.NoError(t, s.Migrate(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_InsertDetection(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	d := filingDetection("ACME", "0001-26-000001")

	mock.ExpectExec(`(?s)INSERT INTO detections .* ON CONFLICT \(dedup_key\) DO NOTHING`).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec(`INSERT INTO detections`).
		WillReturnResult(pgxmock.NewResult("INSERT", 0))

	ok, err := s.InsertDetection(context.Background(), d)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.InsertDetection(context.Background(), filingDetection("ACME", "0001-26-000001"))
	require.NoError(t, err)
	assert.False(t, ok)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_InsertDetection_Error(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`INSERT INTO detections`).WillReturnError(assert.AnError)

	_, err := s.InsertDetection(context.Background(), filingDetection("ACME", "x"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "postgres: insert detection filing|ACME|x")
}

func TestPostgresStore_GetDailyState_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT date, state, summary, top_detection_id, quiet_log_count, updated_at FROM daily_states WHERE date = \$1`).
		WithArgs("2026-03-02").
		WillReturnError(pgx.ErrNoRows)

	ds, err := s.GetDailyState(context.Background(), "2026-03-02")
	require.NoError(t, err)
	assert.Nil(t, ds)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetPreviousDailyState(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	top := "det-9"
	now := time.Now().UTC()

	mock.ExpectQuery(`FROM daily_states WHERE date < \$1 ORDER BY date DESC LIMIT 1`).
		WithArgs("2026-03-02").
		WillReturnRows(pgxmock.NewRows([]string{"date", "state", "summary", "top_detection_id", "quiet_log_count", "updated_at"}).
			AddRow("2026-03-01", "Look", "look", &top, 1, now))

	ds, err := s.GetPreviousDailyState(context.Background(), "2026-03-02")
	require.NoError(t, err)
	require.NotNil(t, ds)
	assert.Equal(t, model.StateLook, ds.State)
	require.NotNil(t, ds.TopDetectionID)
	assert.Equal(t, "det-9", *ds.TopDetectionID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_UpsertDailyState(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`(?s)INSERT INTO daily_states .* ON CONFLICT \(date\) DO UPDATE`).
		WithArgs("2026-03-02", "Pause", "p", pgxmock.AnyArg(), 0, pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	err := s.UpsertDailyState(context.Background(), model.DailyState{Date: "2026-03-02", State: model.StatePause, Summary: "p"})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_UpdateLastSent_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`UPDATE notification_settings SET last_sent_at`).
		WithArgs(pgxmock.AnyArg(), "default").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := s.UpdateLastSent(context.Background(), "default", time.Now())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "notification settings not found")
}

func TestPostgresStore_GetActivePolicy(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT document FROM policy_versions ORDER BY seq DESC LIMIT 1`).
		WillReturnRows(pgxmock.NewRows([]string{"document"}).AddRow("suppression: []"))
	mock.ExpectQuery(`SELECT document FROM policy_versions`).
		WillReturnError(pgx.ErrNoRows)

	doc, err := s.GetActivePolicy(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "suppression: []", string(doc))

	doc, err = s.GetActivePolicy(context.Background())
	require.NoError(t, err)
	assert.Nil(t, doc)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_EngineSettings(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT key, value FROM engine_settings`).
		WillReturnRows(pgxmock.NewRows([]string{"key", "value"}).
			AddRow("alert_threshold", "75").
			AddRow("suppression_strictness", "med"))
	mock.ExpectExec(`INSERT INTO engine_settings`).
		WithArgs("panic_sensitivity", "-10").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	got, err := s.GetEngineSettings(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 75, got.AlertThreshold)
	assert.Equal(t, model.StrictnessMed, got.SuppressionStrictness)

	require.NoError(t, s.SetEngineSetting(context.Background(), "panic_sensitivity", "-10"))
	require.Error(t, s.SetEngineSetting(context.Background(), "panic_sensitivity", "10"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_CountAnnotationsByTicker(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT ticker, COUNT\(\*\) FROM detections`).
		WithArgs("2026-03-02").
		WillReturnRows(pgxmock.NewRows([]string{"ticker", "count"}).
			AddRow("ACME", int64(2)).
			AddRow("BETA", int64(1)))

	got, err := s.CountAnnotationsByTicker(context.Background(), "2026-03-02")
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"ACME": 2, "BETA": 1}, got)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_PollRunLifecycle(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`INSERT INTO poll_runs`).
		WithArgs(pgxmock.AnyArg(), "running", pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec(`UPDATE poll_runs SET status`).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	run, err := s.StartPollRun(context.Background())
	require.NoError(t, err)
	run.Finish(time.Now())
	require.NoError(t, s.FinishPollRun(context.Background(), run))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_InsertMissLog_Duplicate(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`(?s)INSERT INTO miss_log .* ON CONFLICT \(ticker, date\) DO NOTHING`).
		WillReturnResult(pgxmock.NewResult("INSERT", 0))

	ok, err := s.InsertMissLog(context.Background(), model.MissLog{Ticker: "ACME", Date: "2026-03-02"})
	require.NoError(t, err)
	assert.False(t, ok)
	assert.NoError(t, mock.ExpectationsWereMet())
}
