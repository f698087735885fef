package monitoring

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/watchman/internal/config"
)

// minFinishedRuns is the sample size below which the failure rate is noise.
const minFinishedRuns = 3

// AlertType identifies the kind of alert.
type AlertType string

const (
	AlertPollFailureRate AlertType = "poll_failure_rate"
	AlertPollStale       AlertType = "poll_stale"
)

// Alert represents a single alert to be sent.
type Alert struct {
	Type      AlertType      `json:"type"`
	Severity  string         `json:"severity"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Alerter evaluates a MetricsSnapshot against configured thresholds
// and sends alerts via webhook when thresholds are breached.
type Alerter struct {
	cfg    config.MonitoringConfig
	client *http.Client
}

// NewAlerter creates a new Alerter with the given monitoring config.
func NewAlerter(cfg config.MonitoringConfig) *Alerter {
	return &Alerter{
		cfg:    cfg,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

// Evaluate checks the snapshot against thresholds and returns any alerts.
func (a *Alerter) Evaluate(snap *MetricsSnapshot) []Alert {
	var alerts []Alert
	now := snap.CollectedAt
	if now.IsZero() {
		now = time.Now().UTC()
	}

	finished := snap.RunsOK + snap.RunsError
	if finished >= minFinishedRuns && snap.ErrorRate > a.cfg.FailureRateThreshold {
		alerts = append(alerts, Alert{
			Type:     AlertPollFailureRate,
			Severity: "high",
			Message: fmt.Sprintf(
				"Poll error rate %.1f%% exceeds threshold %.1f%% (%d errored / %d finished in last %dh)",
				snap.ErrorRate*100, a.cfg.FailureRateThreshold*100,
				snap.RunsError, finished, snap.LookbackHours,
			),
			Details: map[string]any{
				"error_rate":      snap.ErrorRate,
				"threshold":       a.cfg.FailureRateThreshold,
				"errored":         snap.RunsError,
				"finished":        finished,
				"last_run_errors": snap.LastRunErrors,
			},
			Timestamp: now,
		})
	}

	if a.cfg.StaleAfterHours > 0 && snap.LastRunAt != nil {
		staleAfter := time.Duration(a.cfg.StaleAfterHours) * time.Hour
		var msg string
		details := map[string]any{"stale_after_hours": a.cfg.StaleAfterHours}
		switch {
		case snap.LastOKAt == nil:
			msg = "No successful poll run on record"
		case now.Sub(*snap.LastOKAt) > staleAfter:
			age := now.Sub(*snap.LastOKAt)
			msg = fmt.Sprintf("Last successful poll run was %.1fh ago (threshold %dh)", age.Hours(), a.cfg.StaleAfterHours)
			details["last_ok_at"] = snap.LastOKAt
		}
		if msg != "" {
			alerts = append(alerts, Alert{
				Type:      AlertPollStale,
				Severity:  "high",
				Message:   msg,
				Details:   details,
				Timestamp: now,
			})
		}
	}

	return alerts
}

// SendAlerts delivers alerts to the configured webhook URL.
// Returns the number of alerts successfully sent.
func (a *Alerter) SendAlerts(ctx context.Context, alerts []Alert) int {
	if a.cfg.WebhookURL == "" || len(alerts) == 0 {
		return 0
	}

	sent := 0
	for _, alert := range alerts {
		if err := a.sendWebhook(ctx, alert); err != nil {
			zap.L().Error("monitoring: failed to send alert",
				zap.String("type", string(alert.Type)),
				zap.Error(err),
			)
			continue
		}
		zap.L().Info("monitoring: alert sent",
			zap.String("type", string(alert.Type)),
			zap.String("severity", alert.Severity),
		)
		sent++
	}
	return sent
}

// sendWebhook posts a single alert to the webhook URL.
func (a *Alerter) sendWebhook(ctx context.Context, alert Alert) error {
	payload, err := json.Marshal(alert)
	if err != nil {
		return eris.Wrap(err, "monitoring: marshal alert")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.WebhookURL, bytes.NewReader(payload))
	if err != nil {
		return eris.Wrap(err, "monitoring: create webhook request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return eris.Wrap(err, "monitoring: webhook request")
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode >= 400 {
		return eris.Errorf("monitoring: webhook returned status %d", resp.StatusCode)
	}
	return nil
}
