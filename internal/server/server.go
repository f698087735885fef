// Package server exposes portfolio state, detections, poll runs and the
// admin surface over HTTP.
package server

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/watchman/internal/model"
	"github.com/sells-group/watchman/internal/policy"
	"github.com/sells-group/watchman/internal/state"
	"github.com/sells-group/watchman/internal/store"
)

// maxBodyBytes bounds request bodies on admin routes.
const maxBodyBytes = 1 << 20

var (
	// ErrPollInProgress is returned by RunPoll while another cycle runs.
	ErrPollInProgress = eris.New("server: a poll is already running")
	// ErrPollDisabled is returned by RunPoll when no poller is configured.
	ErrPollDisabled = eris.New("server: polling is not configured")
)

// Poller runs one poll cycle.
type Poller interface {
	Run(ctx context.Context) (*model.PollRun, error)
}

// Config configures the HTTP surface.
type Config struct {
	AdminToken     string
	CORSOrigins    []string
	LLMEnabled     bool
	MarketProvider string
	// NotifyUserID selects the notification settings row the admin routes
	// edit. It must match the id the poller reads. Empty means the default user.
	NotifyUserID string
}

// Server serves the HTTP API.
type Server struct {
	store  store.Store
	poller Poller
	cfg    Config
	pollMu sync.Mutex
	now    func() time.Time
}

// New creates a Server. poller may be nil, in which case POST /poll
// answers 503.
func New(st store.Store, poller Poller, cfg Config) *Server {
	if cfg.NotifyUserID == "" {
		cfg.NotifyUserID = model.DefaultUserID
	}
	return &Server{store: st, poller: poller, cfg: cfg, now: time.Now}
}

// Handler builds the router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger)

	origins := s.cfg.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", "X-Admin-Secret"},
		MaxAge:         300,
	}))

	r.Get("/health", s.handleHealth)
	r.Get("/state", s.handleState)
	r.Get("/detections", s.handleDetections)
	r.Get("/poll-runs", s.handlePollRuns)
	r.Get("/policy", s.handleGetPolicy)
	r.Get("/settings", s.handleGetSettings)
	r.Get("/watchlist", s.handleListWatchlist)

	r.Group(func(r chi.Router) {
		r.Use(s.requireAdmin)
		r.Post("/poll", s.handlePoll)
		r.Put("/policy", s.handlePutPolicy)
		r.Put("/settings", s.handlePutSettings)
		r.Post("/watchlist", s.handleUpsertWatchlist)
		r.Post("/trials", s.handleUpsertTrial)
		r.Get("/notifications", s.handleGetNotifications)
		r.Put("/notifications", s.handlePutNotifications)
	})
	return r
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		zap.L().Debug("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("elapsed", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}

// requireAdmin accepts the admin token in X-Admin-Secret or as a bearer
// token. With no token configured every admin call is refused.
func (s *Server) requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got := r.Header.Get("X-Admin-Secret")
		if got == "" {
			got = strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		}
		if s.cfg.AdminToken == "" || subtle.ConstantTimeCompare([]byte(got), []byte(s.cfg.AdminToken)) != 1 {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) today() string {
	return s.now().UTC().Format("2006-01-02")
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{
		"ok":              true,
		"db_connected":    false,
		"llm_enabled":     s.cfg.LLMEnabled,
		"market_provider": s.cfg.MarketProvider,
		"last_poll_run":   nil,
	}
	if err := s.store.Ping(r.Context()); err == nil {
		resp["db_connected"] = true
		runs, err := s.store.ListPollRuns(r.Context(), store.PollRunFilter{Limit: 1})
		if err == nil && len(runs) > 0 {
			resp["last_poll_run"] = runs[0]
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	date := r.URL.Query().Get("date")
	if date == "" {
		date = s.today()
	} else if !validDate(date) {
		writeError(w, http.StatusBadRequest, "date must be YYYY-MM-DD")
		return
	}
	ds, err := s.store.GetDailyState(r.Context(), date)
	if err != nil {
		s.internalError(w, err)
		return
	}
	if ds == nil {
		ds = &model.DailyState{
			Date:    date,
			State:   model.StateContained,
			Summary: "Contained: no polls run yet for this date.",
		}
	}
	writeJSON(w, http.StatusOK, ds)
}

func (s *Server) handleDetections(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	date := q.Get("date")
	if date == "" {
		date = s.today()
	} else if !validDate(date) {
		writeError(w, http.StatusBadRequest, "date must be YYYY-MM-DD")
		return
	}
	ds, err := s.store.ListDetectionsByDate(r.Context(), date)
	if err != nil {
		s.internalError(w, err)
		return
	}

	ticker := strings.ToUpper(q.Get("ticker"))
	quiet := q.Get("quiet")
	out := make([]model.Detection, 0, len(ds))
	for _, d := range ds {
		if ticker != "" && d.Ticker != ticker {
			continue
		}
		if quiet == "true" && !d.Quiet() || quiet == "false" && d.Quiet() {
			continue
		}
		out = append(out, d)
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handlePollRuns(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	runs, err := s.store.ListPollRuns(r.Context(), store.PollRunFilter{Limit: limit})
	if err != nil {
		s.internalError(w, err)
		return
	}
	if runs == nil {
		runs = []model.PollRun{}
	}
	writeJSON(w, http.StatusOK, runs)
}

// RunPoll runs one poll cycle unless another is already in flight. Both the
// HTTP trigger and the scheduler go through it.
func (s *Server) RunPoll(ctx context.Context) (*model.PollRun, error) {
	if s.poller == nil {
		return nil, ErrPollDisabled
	}
	if !s.pollMu.TryLock() {
		return nil, ErrPollInProgress
	}
	defer s.pollMu.Unlock()
	return s.poller.Run(ctx)
}

func (s *Server) handlePoll(w http.ResponseWriter, r *http.Request) {
	run, err := s.RunPoll(r.Context())
	switch {
	case errors.Is(err, ErrPollDisabled):
		writeError(w, http.StatusServiceUnavailable, "polling is not configured")
		return
	case errors.Is(err, ErrPollInProgress):
		writeError(w, http.StatusConflict, "a poll is already running")
		return
	}
	if err != nil {
		zap.L().Error("server: poll failed", zap.Error(err))
		if run == nil {
			s.internalError(w, err)
			return
		}
		writeJSON(w, http.StatusInternalServerError, run)
		return
	}
	writeJSON(w, http.StatusOK, run)
}

func (s *Server) handleGetPolicy(w http.ResponseWriter, r *http.Request) {
	doc, err := s.store.GetActivePolicy(r.Context())
	if err != nil {
		s.internalError(w, err)
		return
	}
	if len(doc) == 0 {
		settings, err := s.store.GetEngineSettings(r.Context())
		if err != nil {
			s.internalError(w, err)
			return
		}
		doc = policy.DefaultDocument(settings)
	}
	w.Header().Set("Content-Type", "application/yaml")
	w.WriteHeader(http.StatusOK)
	w.Write(doc) //nolint:errcheck
}

func (s *Server) handlePutPolicy(w http.ResponseWriter, r *http.Request) {
	doc, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "could not read body")
		return
	}
	p, err := policy.ParseStrict(doc)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.store.SetActivePolicy(r.Context(), doc); err != nil {
		s.internalError(w, err)
		return
	}
	zap.L().Info("server: policy updated",
		zap.Int("suppression_rules", len(p.Suppression)),
		zap.Int("hard_alert_rules", len(p.HardAlerts)),
	)
	writeJSON(w, http.StatusOK, map[string]any{
		"ok":          true,
		"suppression": len(p.Suppression),
		"hard_alerts": len(p.HardAlerts),
	})
}

func (s *Server) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	settings, err := s.store.GetEngineSettings(r.Context())
	if err != nil {
		s.internalError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, settings)
}

func (s *Server) handlePutSettings(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Key   string `json:"key"`
		Value any    `json:"value"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Key == "" || req.Value == nil {
		writeError(w, http.StatusBadRequest, "key and value required")
		return
	}
	value := strings.TrimSpace(strings.Trim(mustString(req.Value), `"`))
	if err := s.store.SetEngineSetting(r.Context(), req.Key, value); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) handleListWatchlist(w http.ResponseWriter, r *http.Request) {
	items, err := s.store.ListWatchlist(r.Context())
	if err != nil {
		s.internalError(w, err)
		return
	}
	if items == nil {
		items = []model.WatchlistItem{}
	}
	writeJSON(w, http.StatusOK, items)
}

func (s *Server) handleUpsertWatchlist(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Ticker            string   `json:"ticker"`
		CIK               string   `json:"cik"`
		Dependency        *float64 `json:"dependency"`
		FeedURL           string   `json:"feed_url"`
		PollIntervalHours int      `json:"poll_interval_hours"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	item := model.WatchlistItem{
		Ticker:            strings.ToUpper(strings.TrimSpace(req.Ticker)),
		CIK:               strings.TrimSpace(req.CIK),
		Dependency:        state.DefaultDependency,
		FeedURL:           req.FeedURL,
		PollIntervalHours: req.PollIntervalHours,
	}
	if req.Dependency != nil {
		item.Dependency = *req.Dependency
	}
	if item.PollIntervalHours <= 0 {
		item.PollIntervalHours = 24
	}
	if item.Ticker == "" {
		writeError(w, http.StatusBadRequest, "ticker required")
		return
	}
	if item.Dependency < 0 || item.Dependency > 1 {
		writeError(w, http.StatusBadRequest, "dependency must be in [0,1]")
		return
	}
	if err := s.store.UpsertWatchlistItem(r.Context(), item); err != nil {
		s.internalError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, item)
}

func (s *Server) handleUpsertTrial(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Ticker string `json:"ticker"`
		NCTID  string `json:"nct_id"`
		Label  string `json:"label"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	m := model.TrialMapping{
		Ticker: strings.ToUpper(strings.TrimSpace(req.Ticker)),
		NCTID:  strings.ToUpper(strings.TrimSpace(req.NCTID)),
		Label:  req.Label,
	}
	if m.Ticker == "" || !strings.HasPrefix(m.NCTID, "NCT") {
		writeError(w, http.StatusBadRequest, "ticker and an NCT id are required")
		return
	}
	if err := s.store.UpsertTrialMapping(r.Context(), m); err != nil {
		s.internalError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, m)
}

func (s *Server) handleGetNotifications(w http.ResponseWriter, r *http.Request) {
	ns, err := s.store.GetNotificationSettings(r.Context(), s.cfg.NotifyUserID)
	if err != nil {
		s.internalError(w, err)
		return
	}
	if ns == nil {
		writeError(w, http.StatusNotFound, "notification settings not configured")
		return
	}
	writeJSON(w, http.StatusOK, ns)
}

func (s *Server) handlePutNotifications(w http.ResponseWriter, r *http.Request) {
	var ns model.NotificationSettings
	if !decodeBody(w, r, &ns) {
		return
	}
	ns.UserID = s.cfg.NotifyUserID
	switch ns.Channel {
	case model.ChannelNone, model.ChannelEmail, model.ChannelPush:
	default:
		writeError(w, http.StatusBadRequest, "channel must be none, email or push")
		return
	}
	if ns.Channel == model.ChannelEmail && ns.Email == "" {
		writeError(w, http.StatusBadRequest, "email required for the email channel")
		return
	}
	if err := s.store.UpsertNotificationSettings(r.Context(), ns); err != nil {
		s.internalError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) internalError(w http.ResponseWriter, err error) {
	zap.L().Error("server: request failed", zap.Error(err))
	writeError(w, http.StatusInternalServerError, "internal error")
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v) //nolint:errcheck
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func validDate(s string) bool {
	_, err := time.Parse("2006-01-02", s)
	return err == nil
}

func mustString(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case bool:
		return strconv.FormatBool(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	default:
		b, _ := json.Marshal(t)
		return string(b)
	}
}

// Run implements Poller so the scheduler can share the in-flight guard.
func (s *Server) Run(ctx context.Context) (*model.PollRun, error) {
	return s.RunPoll(ctx)
}
