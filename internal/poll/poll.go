// Package poll runs one monitoring cycle: fetch every source, turn changes
// into scored and policy-filtered detections, recompute the day's state and
// decide whether to notify.
package poll

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/watchman/internal/ctgov"
	"github.com/sells-group/watchman/internal/edgar"
	"github.com/sells-group/watchman/internal/enrich"
	"github.com/sells-group/watchman/internal/feeds"
	"github.com/sells-group/watchman/internal/market"
	"github.com/sells-group/watchman/internal/model"
	"github.com/sells-group/watchman/internal/notify"
	"github.com/sells-group/watchman/internal/policy"
	"github.com/sells-group/watchman/internal/scoring"
	"github.com/sells-group/watchman/internal/state"
	"github.com/sells-group/watchman/internal/store"
)

// MissMoveThreshold is the absolute same-day move above which a suppressed
// detection is logged as a possible miss.
const MissMoveThreshold = 0.12

// MissReason is recorded on every miss log row.
const MissReason = "suppressed-but-moved"

const dateLayout = "2006-01-02"

// FilingSource lists a company's recent filings, newest first.
type FilingSource interface {
	FetchFilings(ctx context.Context, cik string) ([]edgar.Filing, error)
}

// FeedSource returns feed items newer than a cursor, newest first.
type FeedSource interface {
	FetchNew(ctx context.Context, feedURL, lastGUID string) ([]feeds.Item, error)
}

// TrialSource fetches a registry record. A nil snapshot means not found.
type TrialSource interface {
	FetchStudy(ctx context.Context, nctID string) (ctgov.Snapshot, error)
}

// Options tunes a Poller.
type Options struct {
	Concurrency    int
	UserID         string
	EnrichBudget   enrich.Budget
	QuietThreshold int
}

// Poller wires sources, engines and the store for a poll cycle.
type Poller struct {
	store       store.Store
	filings     FilingSource
	feeds       FeedSource
	trials      TrialSource
	market      market.Provider
	interpreter enrich.Interpreter
	gate        *notify.Gate
	opts        Options
	now         func() time.Time
}

// New creates a Poller. interpreter and gate may be nil to disable
// enrichment and notifications.
func New(st store.Store, filings FilingSource, feedSrc FeedSource, trials TrialSource, mkt market.Provider,
	interpreter enrich.Interpreter, gate *notify.Gate, opts Options) *Poller {
	if opts.Concurrency <= 0 {
		opts.Concurrency = 4
	}
	if opts.UserID == "" {
		opts.UserID = model.DefaultUserID
	}
	if opts.EnrichBudget == (enrich.Budget{}) {
		opts.EnrichBudget = enrich.DefaultBudget()
	}
	if mkt == nil {
		mkt = market.Static{}
	}
	return &Poller{
		store:       st,
		filings:     filings,
		feeds:       feedSrc,
		trials:      trials,
		market:      mkt,
		interpreter: interpreter,
		gate:        gate,
		opts:        opts,
		now:         time.Now,
	}
}

// cycle holds the state shared by the steps of one run.
type cycle struct {
	run      *model.PollRun
	now      time.Time
	today    string
	settings model.EngineSettings
	policy   *policy.Policy
	deps     map[string]float64
	moves    map[string]*float64
	log      *zap.Logger
}

func (c *cycle) errorf(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	c.run.Errors = append(c.run.Errors, msg)
	c.log.Warn("poll: source error", zap.String("error", msg))
}

// Run executes one poll cycle and persists its outcome. Source failures are
// recorded on the returned run; only store failures abort the cycle.
func (p *Poller) Run(ctx context.Context) (*model.PollRun, error) {
	run, err := p.store.StartPollRun(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "poll: start run")
	}
	now := p.now().UTC()
	c := &cycle{
		run:   run,
		now:   now,
		today: now.Format(dateLayout),
		moves: make(map[string]*float64),
		log:   zap.L().With(zap.String("poll_run", run.ID)),
	}
	c.log.Info("poll: run started", zap.String("date", c.today))

	cycleErr := p.runCycle(ctx, c)
	if cycleErr != nil {
		run.Errors = append(run.Errors, cycleErr.Error())
	}
	run.Finish(p.now().UTC())

	if err := p.store.FinishPollRun(context.WithoutCancel(ctx), run); err != nil {
		return run, eris.Wrap(err, "poll: finish run")
	}
	c.log.Info("poll: run finished",
		zap.String("status", string(run.Status)),
		zap.Int("tickers", run.TickersPolled),
		zap.Int("trials", run.TrialsPolled),
		zap.Int("new_detections", run.NewDetections),
		zap.String("state", string(run.ResultingState)),
		zap.Int("errors", len(run.Errors)),
	)
	return run, cycleErr
}

func (p *Poller) runCycle(ctx context.Context, c *cycle) error {
	items, err := p.store.ListWatchlist(ctx)
	if err != nil {
		return eris.Wrap(err, "poll: load watchlist")
	}
	c.settings, err = p.store.GetEngineSettings(ctx)
	if err != nil {
		return eris.Wrap(err, "poll: load settings")
	}
	c.policy = p.loadPolicy(ctx, c)
	mappings, err := p.store.ListTrialMappings(ctx)
	if err != nil {
		return eris.Wrap(err, "poll: load trial mappings")
	}
	c.deps = model.DependencyMap(items)

	tickers, trials := p.fetchAll(ctx, items, mappings)

	for i, item := range items {
		if err := p.processTicker(ctx, c, item, tickers[i]); err != nil {
			return err
		}
	}
	for i, m := range mappings {
		if err := p.processTrial(ctx, c, m, trials[i]); err != nil {
			return err
		}
	}

	today, err := p.store.ListDetectionsByDate(ctx, c.today)
	if err != nil {
		return eris.Wrap(err, "poll: load today's detections")
	}
	if err := p.enrich(ctx, c, today, mappings, trials); err != nil {
		return err
	}

	eval := state.Evaluate(today, c.deps, c.settings, len(items), c.today)
	eval.State.UpdatedAt = c.now
	if err := p.store.UpsertDailyState(ctx, eval.State); err != nil {
		return eris.Wrap(err, "poll: upsert daily state")
	}
	c.run.ResultingState = eval.State.State

	if c.settings.FeedbackLoop {
		if err := p.feedback(ctx, c, today); err != nil {
			return err
		}
	}
	return p.notify(ctx, c, eval)
}

func (p *Poller) loadPolicy(ctx context.Context, c *cycle) *policy.Policy {
	doc, err := p.store.GetActivePolicy(ctx)
	if err != nil {
		c.errorf("policy load: %v", err)
		return policy.Empty()
	}
	if len(doc) == 0 {
		return policy.Empty()
	}
	pol, err := policy.Parse(doc)
	if err != nil {
		c.errorf("policy parse: %v", err)
		return policy.Empty()
	}
	return pol
}

type tickerFetch struct {
	filings []edgar.Filing
	items   []feeds.Item
	errs    []string
}

type trialFetch struct {
	snapshot ctgov.Snapshot
	err      error
}

// fetchAll queries every source with bounded concurrency. Results land in
// per-slot buffers so processing keeps watchlist order.
func (p *Poller) fetchAll(ctx context.Context, items []model.WatchlistItem, mappings []model.TrialMapping) ([]tickerFetch, []trialFetch) {
	tickers := make([]tickerFetch, len(items))
	trials := make([]trialFetch, len(mappings))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.opts.Concurrency)

	for i, item := range items {
		g.Go(func() error {
			slot := &tickers[i]
			if item.CIK != "" && p.filings != nil {
				filings, err := p.filings.FetchFilings(gctx, item.CIK)
				if err != nil {
					slot.errs = append(slot.errs, fmt.Sprintf("EDGAR %s: %v", item.Ticker, err))
				} else {
					slot.filings = edgar.DetectNew(filings, item.LastFilingAccession)
				}
			}
			if item.FeedURL != "" && p.feeds != nil {
				feedItems, err := p.feeds.FetchNew(gctx, item.FeedURL, item.LastFeedGUID)
				if err != nil {
					slot.errs = append(slot.errs, fmt.Sprintf("feed %s: %v", item.Ticker, err))
				} else {
					slot.items = feedItems
				}
			}
			return nil
		})
	}
	for i, m := range mappings {
		g.Go(func() error {
			if p.trials == nil {
				return nil
			}
			snap, err := p.trials.FetchStudy(gctx, m.NCTID)
			trials[i] = trialFetch{snapshot: snap, err: err}
			return nil
		})
	}
	_ = g.Wait()

	return tickers, trials
}

func (p *Poller) marketMove(ctx context.Context, c *cycle, ticker string) *float64 {
	if mv, ok := c.moves[ticker]; ok {
		return mv
	}
	mv, err := p.market.DailyMove(ctx, ticker, c.today)
	if err != nil {
		c.errorf("market %s: %v", ticker, err)
		mv = nil
	}
	c.moves[ticker] = mv
	return mv
}

func (p *Poller) dependency(c *cycle, ticker string) float64 {
	if dep, ok := c.deps[ticker]; ok {
		return dep
	}
	return state.DefaultDependency
}

// change is a source-neutral description of one detected change.
type change struct {
	ticker     string
	tier       model.SourceTier
	changeType model.ChangeType
	title      string
	url        string
	accession  string
	nctID      string
	fieldPath  string
	oldValue   string
	newValue   string
	raw        any
	ttc        int
}

// record scores, evaluates and inserts one change. It reports whether a new
// row was written.
func (p *Poller) record(ctx context.Context, c *cycle, ch change) (bool, error) {
	move := p.marketMove(ctx, c, ch.ticker)

	d := model.Detection{
		Ticker:       ch.ticker,
		DetectedAt:   c.now,
		DetectedDate: c.today,
		SourceTier:   ch.tier,
		ChangeType:   ch.changeType,
		Title:        ch.title,
		URL:          ch.url,
		Accession:    ch.accession,
		NCTID:        ch.nctID,
		FieldPath:    ch.fieldPath,
		OldValue:     ch.oldValue,
		NewValue:     ch.newValue,
		Confidence:   1.0,
	}
	if ch.raw != nil {
		raw, err := json.Marshal(ch.raw)
		if err != nil {
			return false, eris.Wrap(err, "poll: marshal raw payload")
		}
		d.RawPayload = raw
	}

	dec := policy.Evaluate(
		policy.Attributes{SourceTier: d.SourceTier, ChangeType: d.ChangeType, Confidence: d.Confidence},
		c.policy,
		policy.Context{MarketGap: move, TimeToCatalystDays: ch.ttc, Settings: c.settings},
	)
	d.ApplyDecision(dec.Action, dec.RuleID, dec.RuleLabel)

	sc := scoring.Score(d.ChangeType, d.SourceTier, scoring.Context{
		Dependency:         p.dependency(c, d.Ticker),
		MarketMove:         move,
		TimeToCatalystDays: ch.ttc,
	})
	d.ScoreRaw = sc.ScoreRaw
	d.ScoreFinal = sc.ScoreFinal
	d.Explanation = sc.Explanation

	inserted, err := p.store.InsertDetection(ctx, &d)
	if err != nil {
		return false, eris.Wrap(err, "poll: insert detection")
	}
	if inserted {
		c.run.NewDetections++
		if d.Suppressed {
			c.run.SuppressedCount++
		}
		if d.Quarantined {
			c.run.QuarantinedCount++
		}
	}
	return inserted, nil
}

func (p *Poller) processTicker(ctx context.Context, c *cycle, item model.WatchlistItem, f tickerFetch) error {
	c.run.TickersPolled++
	for _, e := range f.errs {
		c.errorf("%s", e)
	}

	// Oldest first so insertion order follows publication order.
	for i := len(f.filings) - 1; i >= 0; i-- {
		fl := f.filings[i]
		ct := model.ChangeFilingNew
		if fl.IsAmendment {
			ct = model.ChangeFilingAmended
		}
		if _, err := p.record(ctx, c, change{
			ticker:     item.Ticker,
			tier:       model.TierPrimaryFiling,
			changeType: ct,
			title:      fmt.Sprintf("%s filed %s", fl.Form, fl.FilingDate),
			url:        edgar.FilingURL(item.CIK, fl.AccessionNumber, fl.PrimaryDocument),
			accession:  fl.AccessionNumber,
			raw:        fl,
			ttc:        ctgov.NoCatalyst,
		}); err != nil {
			return err
		}
	}
	for i := len(f.items) - 1; i >= 0; i-- {
		it := f.items[i]
		if _, err := p.record(ctx, c, change{
			ticker:     item.Ticker,
			tier:       model.TierPrimaryCompany,
			changeType: model.ChangeMisc,
			title:      it.Title,
			url:        it.Link,
			raw:        it,
			ttc:        ctgov.NoCatalyst,
		}); err != nil {
			return err
		}
	}

	cur := model.WatchlistCursor{
		PolledAt:      c.now,
		NextCheckInAt: c.now.Add(time.Duration(max(item.PollIntervalHours, 1)) * time.Hour),
	}
	if len(f.filings) > 0 {
		cur.LastFilingAccession = f.filings[0].AccessionNumber
	}
	if len(f.items) > 0 {
		cur.LastFeedGUID = f.items[0].GUID
	}
	return eris.Wrapf(p.store.UpdateWatchlistCursor(ctx, item.Ticker, cur), "poll: update cursor %s", item.Ticker)
}

func (p *Poller) processTrial(ctx context.Context, c *cycle, m model.TrialMapping, f trialFetch) error {
	c.run.TrialsPolled++
	if f.err != nil {
		c.errorf("CT.gov %s: %v", m.NCTID, f.err)
		return nil
	}
	if f.snapshot == nil {
		return nil
	}

	hash := ctgov.Hash(f.snapshot)
	if m.LastHash != "" && m.LastHash != hash && len(m.LastSnapshot) > 0 {
		old, err := ctgov.ParseSnapshot(m.LastSnapshot)
		if err != nil {
			c.errorf("CT.gov %s: stored snapshot: %v", m.NCTID, err)
		} else {
			ttc := ctgov.TimeToCatalyst(f.snapshot, c.now)
			for _, diff := range ctgov.Diff(old, f.snapshot) {
				if _, err := p.record(ctx, c, change{
					ticker:     m.Ticker,
					tier:       model.TierPrimaryRegistry,
					changeType: diff.ChangeType,
					title:      fmt.Sprintf("CT.gov %s: %s", diff.Description, m.NCTID),
					url:        "https://clinicaltrials.gov/study/" + m.NCTID,
					nctID:      m.NCTID,
					fieldPath:  diff.FieldPath,
					oldValue:   diff.OldValue,
					newValue:   diff.NewValue,
					raw:        diff,
					ttc:        ttc,
				}); err != nil {
					return err
				}
			}
		}
	}

	snap, err := json.Marshal(f.snapshot)
	if err != nil {
		return eris.Wrapf(err, "poll: marshal snapshot %s", m.NCTID)
	}
	return eris.Wrapf(p.store.UpdateTrialSnapshot(ctx, m.ID, hash, snap, c.now), "poll: update snapshot %s", m.NCTID)
}

// enrich annotates gated registry detections. Annotations are written to the
// store and onto today's slice; they never change scores or flags.
func (p *Poller) enrich(ctx context.Context, c *cycle, today []model.Detection, mappings []model.TrialMapping, trials []trialFetch) error {
	if p.interpreter == nil {
		return nil
	}
	used, err := p.store.CountAnnotationsByTicker(ctx, c.today)
	if err != nil {
		return eris.Wrap(err, "poll: count annotations")
	}

	metas := make(map[string]*ctgov.Meta)
	for i, m := range mappings {
		if trials[i].snapshot != nil {
			meta := ctgov.TrialMeta(trials[i].snapshot)
			metas[m.NCTID] = &meta
		}
	}

	states := tickerStates(today, c)
	candidates := enrich.SelectCandidates(today, states, used, p.opts.EnrichBudget)
	byID := make(map[string]*model.Detection, len(today))
	for i := range today {
		byID[today[i].ID] = &today[i]
	}

	for _, d := range candidates {
		ann, err := p.interpreter.Interpret(ctx, d, metas[d.NCTID])
		if err != nil {
			c.log.Warn("poll: interpretation failed, storing fallback",
				zap.String("detection_id", d.ID), zap.Error(err))
			ann = enrich.Fallback(d.FieldPath)
		}
		body, err := json.Marshal(ann)
		if err != nil {
			return eris.Wrap(err, "poll: marshal annotation")
		}
		hash := enrich.InputHash(enrich.BuildEvidencePack(d, metas[d.NCTID]), p.interpreter.Model())
		if err := p.store.UpdateDetectionAnnotation(ctx, d.ID, body, p.interpreter.Model(), hash, c.now); err != nil {
			return eris.Wrap(err, "poll: store annotation")
		}
		if td := byID[d.ID]; td != nil {
			td.Annotation = body
			td.AnnotationModel = p.interpreter.Model()
			td.AnnotationInputHash = hash
			at := c.now
			td.AnnotatedAt = &at
		}
	}
	return nil
}

// tickerStates computes the state each ticker would have on its own.
func tickerStates(today []model.Detection, c *cycle) map[string]model.DailyStateKind {
	byTicker := make(map[string][]model.Detection)
	for _, d := range today {
		byTicker[d.Ticker] = append(byTicker[d.Ticker], d)
	}
	out := make(map[string]model.DailyStateKind, len(byTicker))
	for t, ds := range byTicker {
		out[t] = state.Evaluate(ds, c.deps, c.settings, 1, c.today).State.State
	}
	return out
}

func (p *Poller) feedback(ctx context.Context, c *cycle, today []model.Detection) error {
	for _, d := range today {
		if !d.Suppressed {
			continue
		}
		move := p.marketMove(ctx, c, d.Ticker)
		if move == nil || abs(*move) <= MissMoveThreshold {
			continue
		}
		inserted, err := p.store.InsertMissLog(ctx, model.MissLog{
			Ticker:      d.Ticker,
			DetectionID: d.ID,
			Date:        c.today,
			Reason:      MissReason,
			Move1D:      *move,
		})
		if err != nil {
			return eris.Wrap(err, "poll: insert miss log")
		}
		if inserted {
			c.log.Info("poll: suppressed detection moved", zap.String("ticker", d.Ticker), zap.Float64("move", *move))
		}
	}
	return nil
}

func (p *Poller) notify(ctx context.Context, c *cycle, eval state.Evaluation) error {
	if p.gate == nil {
		return nil
	}
	ns, err := p.store.GetNotificationSettings(ctx, p.opts.UserID)
	if err != nil {
		return eris.Wrap(err, "poll: load notification settings")
	}
	if ns == nil {
		return nil
	}
	prev, err := p.store.GetPreviousDailyState(ctx, c.today)
	if err != nil {
		return eris.Wrap(err, "poll: load previous state")
	}
	var prevKind *model.DailyStateKind
	if prev != nil {
		prevKind = &prev.State
	}

	out, err := p.gate.Dispatch(ctx, notify.DispatchInput{
		Settings: *ns,
		Current:  eval.State,
		Previous: prevKind,
		Top:      eval.Top,
	})
	if err != nil {
		c.errorf("notify: %v", err)
		return nil
	}
	if out.Sent {
		c.run.NotificationSent = out.Kind
	}
	return nil
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
