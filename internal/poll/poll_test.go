package poll

import (
	"context"
	"encoding/json"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/watchman/internal/ctgov"
	"github.com/sells-group/watchman/internal/edgar"
	"github.com/sells-group/watchman/internal/enrich"
	"github.com/sells-group/watchman/internal/feeds"
	"github.com/sells-group/watchman/internal/market"
	"github.com/sells-group/watchman/internal/model"
	"github.com/sells-group/watchman/internal/notify"
	"github.com/sells-group/watchman/internal/store"
)

var pollNow = time.Date(2026, 3, 2, 14, 0, 0, 0, time.UTC)

const pollDate = "2026-03-02"

type fakeFilings struct {
	filings map[string][]edgar.Filing
	err     error
}

func (f *fakeFilings) FetchFilings(_ context.Context, cik string) ([]edgar.Filing, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.filings[cik], nil
}

type fakeFeeds struct {
	items []feeds.Item
}

func (f *fakeFeeds) FetchNew(_ context.Context, _, lastGUID string) ([]feeds.Item, error) {
	return feeds.NewSince(f.items, lastGUID), nil
}

type fakeTrials struct {
	mu    sync.Mutex
	study map[string]string
}

func (f *fakeTrials) set(nct, body string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.study[nct] = body
}

func (f *fakeTrials) FetchStudy(_ context.Context, nct string) (ctgov.Snapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	body, ok := f.study[nct]
	if !ok {
		return nil, nil
	}
	return ctgov.ParseSnapshot([]byte(body))
}

type fakeInterpreter struct {
	calls []string
}

func (f *fakeInterpreter) Model() string { return "test-model" }

func (f *fakeInterpreter) Interpret(_ context.Context, d model.Detection, meta *ctgov.Meta) (*enrich.Annotation, error) {
	f.calls = append(f.calls, d.NCTID)
	title := ""
	if meta != nil {
		title = meta.Title
	}
	return &enrich.Annotation{WhyItMatters: []string{title}, NextChecks: []string{"x"}, NoiseFlag: enrich.NoiseLow, Confidence: 0.7}, nil
}

type mockSender struct{ mock.Mock }

func (m *mockSender) Send(ctx context.Context, s model.NotificationSettings, c notify.Content) error {
	return m.Called(ctx, s, c).Error(0)
}

// missRecorder captures miss log inserts on top of a real store.
type missRecorder struct {
	store.Store
	misses []model.MissLog
}

func (m *missRecorder) InsertMissLog(ctx context.Context, ml model.MissLog) (bool, error) {
	ok, err := m.Store.InsertMissLog(ctx, ml)
	if ok {
		m.misses = append(m.misses, ml)
	}
	return ok, err
}

func study(status string) string {
	return `{"protocolSection":{
		"identificationModule":{"nctId":"NCT01234567","officialTitle":"A Phase 2 Study of ACM-1"},
		"statusModule":{"overallStatus":"` + status + `","primaryCompletionDateStruct":{"date":"2026-04-01"}},
		"designModule":{"enrollmentInfo":{"count":120},"phases":["PHASE2"]}
	}}`
}

type fixture struct {
	store   *store.SQLiteStore
	filings *fakeFilings
	feeds   *fakeFeeds
	trials  *fakeTrials
	market  market.Static
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "poll.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	ctx := context.Background()
	require.NoError(t, st.Migrate(ctx))

	require.NoError(t, st.UpsertWatchlistItem(ctx, model.WatchlistItem{
		Ticker: "ACME", CIK: "320193", Dependency: 0.8, FeedURL: "https://acme.example/feed", PollIntervalHours: 6,
	}))
	require.NoError(t, st.UpsertTrialMapping(ctx, model.TrialMapping{Ticker: "ACME", NCTID: "NCT01234567"}))

	return &fixture{
		store: st,
		filings: &fakeFilings{filings: map[string][]edgar.Filing{
			"320193": {
				{Form: "10-K/A", FilingDate: "2026-03-01", AccessionNumber: "0000320193-26-000002", PrimaryDocument: "a.htm", IsAmendment: true},
				{Form: "8-K", FilingDate: "2026-02-27", AccessionNumber: "0000320193-26-000001", PrimaryDocument: "b.htm"},
			},
		}},
		feeds: &fakeFeeds{items: []feeds.Item{
			{GUID: "pr-1", Title: "ACME announces financing", Link: "https://acme.example/pr-1"},
		}},
		trials: &fakeTrials{study: map[string]string{"NCT01234567": study("RECRUITING")}},
		market: market.Static{},
	}
}

func (f *fixture) poller(st store.Store, interp enrich.Interpreter, gate *notify.Gate) *Poller {
	p := New(st, f.filings, f.feeds, f.trials, f.market, interp, gate, Options{Concurrency: 2})
	p.now = func() time.Time { return pollNow }
	return p
}

func TestRun_FirstPollRecordsFilingsAndFeeds(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	run, err := f.poller(f.store, nil, nil).Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusOK, run.Status)
	assert.Equal(t, 1, run.TickersPolled)
	assert.Equal(t, 1, run.TrialsPolled)
	assert.Equal(t, 3, run.NewDetections)
	assert.Equal(t, model.StateContained, run.ResultingState)

	ds, err := f.store.ListDetectionsByDate(ctx, pollDate)
	require.NoError(t, err)
	require.Len(t, ds, 3)
	// Oldest filing is recorded first.
	assert.Equal(t, model.ChangeFilingNew, ds[0].ChangeType)
	assert.Equal(t, "8-K filed 2026-02-27", ds[0].Title)
	assert.Equal(t, 32, ds[0].ScoreFinal)
	assert.Equal(t, model.ChangeFilingAmended, ds[1].ChangeType)
	assert.Equal(t, model.ChangeMisc, ds[2].ChangeType)
	assert.Equal(t, model.TierPrimaryCompany, ds[2].SourceTier)

	items, err := f.store.ListWatchlist(ctx)
	require.NoError(t, err)
	assert.Equal(t, "0000320193-26-000002", items[0].LastFilingAccession)
	assert.Equal(t, "pr-1", items[0].LastFeedGUID)
	require.NotNil(t, items[0].NextCheckInAt)
	assert.True(t, pollNow.Add(6*time.Hour).Equal(*items[0].NextCheckInAt))

	mappings, err := f.store.ListTrialMappings(ctx)
	require.NoError(t, err)
	assert.NotEmpty(t, mappings[0].LastHash)
	assert.NotEmpty(t, mappings[0].LastSnapshot)

	daily, err := f.store.GetDailyState(ctx, pollDate)
	require.NoError(t, err)
	require.NotNil(t, daily)
	assert.Equal(t, model.StateContained, daily.State)
	require.NotNil(t, daily.TopDetectionID)
	assert.Equal(t, ds[0].ID, *daily.TopDetectionID)

	runs, err := f.store.ListPollRuns(ctx, store.PollRunFilter{})
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, model.RunStatusOK, runs[0].Status)
}

func TestRun_SecondPollIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.poller(f.store, nil, nil)

	_, err := p.Run(ctx)
	require.NoError(t, err)
	run, err := p.Run(ctx)
	require.NoError(t, err)
	assert.Zero(t, run.NewDetections)

	ds, err := f.store.ListDetectionsByDate(ctx, pollDate)
	require.NoError(t, err)
	assert.Len(t, ds, 3)
}

func TestRun_TrialChangeEscalatesAndNotifies(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.store.UpsertNotificationSettings(ctx, model.NotificationSettings{
		UserID: model.DefaultUserID, Channel: model.ChannelEmail, Email: "pm@example.com",
		DailyPushEnabled: true, PausePushEnabled: true,
	}))

	sender := new(mockSender)
	sender.On("Send", mock.Anything, mock.Anything, mock.MatchedBy(func(c notify.Content) bool {
		return strings.Contains(c.Subject, "Look") && strings.Contains(c.Subject, "ACME")
	})).Return(nil).Once()
	gate := notify.NewGate(map[model.NotificationChannel]notify.Sender{model.ChannelEmail: sender}, f.store, 0)
	interp := &fakeInterpreter{}
	p := f.poller(f.store, interp, gate)

	_, err := p.Run(ctx)
	require.NoError(t, err)

	f.trials.set("NCT01234567", study("TERMINATED"))
	run, err := p.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, run.NewDetections)
	assert.Equal(t, model.StateLook, run.ResultingState)
	assert.Equal(t, notify.KindEscalation, run.NotificationSent)
	sender.AssertExpectations(t)

	ds, err := f.store.ListDetectionsByDate(ctx, pollDate)
	require.NoError(t, err)
	var trial *model.Detection
	for i := range ds {
		if ds[i].NCTID != "" {
			trial = &ds[i]
		}
	}
	require.NotNil(t, trial)
	assert.Equal(t, model.ChangeTrialStatus, trial.ChangeType)
	assert.Equal(t, "RECRUITING", trial.OldValue)
	assert.Equal(t, "TERMINATED", trial.NewValue)
	assert.Equal(t, 62, trial.ScoreFinal)
	assert.Equal(t, "CT.gov Overall Status changed: NCT01234567", trial.Title)

	require.True(t, trial.Annotated())
	assert.Equal(t, "test-model", trial.AnnotationModel)
	var ann enrich.Annotation
	require.NoError(t, json.Unmarshal(trial.Annotation, &ann))
	assert.Equal(t, []string{"A Phase 2 Study of ACM-1"}, ann.WhyItMatters)
	assert.Equal(t, []string{"NCT01234567"}, interp.calls)

	ns, err := f.store.GetNotificationSettings(ctx, model.DefaultUserID)
	require.NoError(t, err)
	require.NotNil(t, ns.LastSentAt)
}

func TestRun_SourceErrorsAreRecorded(t *testing.T) {
	f := newFixture(t)
	f.filings.err = assert.AnError
	ctx := context.Background()

	run, err := f.poller(f.store, nil, nil).Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusError, run.Status)
	require.NotEmpty(t, run.Errors)
	assert.Contains(t, run.Errors[0], "EDGAR ACME")
	// The feed still produced its detection.
	assert.Equal(t, 1, run.NewDetections)

	items, err := f.store.ListWatchlist(ctx)
	require.NoError(t, err)
	assert.Empty(t, items[0].LastFilingAccession)
}

func TestRun_PolicySuppressionAndFeedbackLoop(t *testing.T) {
	f := newFixture(t)
	f.market = market.Static{pollDate: {"ACME": -0.15}}
	ctx := context.Background()
	require.NoError(t, f.store.SetActivePolicy(ctx, []byte(`
suppression:
  - id: S9
    label: Filings are routine
    if:
      source_tier: primary_filing
    action: suppress
`)))
	rec := &missRecorder{Store: f.store}

	run, err := f.poller(rec, nil, nil).Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, run.NewDetections)
	assert.Equal(t, 2, run.SuppressedCount)

	require.Len(t, rec.misses, 1)
	assert.Equal(t, "ACME", rec.misses[0].Ticker)
	assert.Equal(t, MissReason, rec.misses[0].Reason)
	assert.InDelta(t, -0.15, rec.misses[0].Move1D, 1e-9)

	daily, err := f.store.GetDailyState(ctx, pollDate)
	require.NoError(t, err)
	assert.Equal(t, 2, daily.QuietLogCount)
}

func TestRun_BadPolicyFallsBackToEmpty(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.store.SetActivePolicy(ctx, []byte("suppression: [")))

	run, err := f.poller(f.store, nil, nil).Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusError, run.Status)
	assert.Equal(t, 3, run.NewDetections)
	assert.Zero(t, run.SuppressedCount)
}
