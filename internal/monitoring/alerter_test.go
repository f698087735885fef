package monitoring

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/watchman/internal/config"
)

func testMonitoringConfig() config.MonitoringConfig {
	return config.MonitoringConfig{
		FailureRateThreshold: 0.5,
		StaleAfterHours:      26,
	}
}

func timeAgo(h float64) *time.Time {
	t := collectNow.Add(-time.Duration(h * float64(time.Hour)))
	return &t
}

func TestAlerter_Evaluate_NoAlerts(t *testing.T) {
	a := NewAlerter(testMonitoringConfig())

	snap := &MetricsSnapshot{
		RunsTotal:     24,
		RunsOK:        22,
		RunsError:     2,
		ErrorRate:     2.0 / 24.0,
		LastRunAt:     timeAgo(1),
		LastOKAt:      timeAgo(1),
		LookbackHours: 24,
		CollectedAt:   collectNow,
	}

	assert.Empty(t, a.Evaluate(snap))
}

func TestAlerter_Evaluate_FailureRate(t *testing.T) {
	a := NewAlerter(testMonitoringConfig())

	snap := &MetricsSnapshot{
		RunsTotal:     10,
		RunsOK:        4,
		RunsError:     6,
		ErrorRate:     0.6,
		LastRunAt:     timeAgo(1),
		LastOKAt:      timeAgo(2),
		LastRunErrors: []string{"CT.gov NCT01234567: 503"},
		LookbackHours: 24,
		CollectedAt:   collectNow,
	}

	alerts := a.Evaluate(snap)
	require.Len(t, alerts, 1)
	assert.Equal(t, AlertPollFailureRate, alerts[0].Type)
	assert.Equal(t, "high", alerts[0].Severity)
	assert.Contains(t, alerts[0].Message, "60.0%")
	assert.Equal(t, collectNow, alerts[0].Timestamp)
}

func TestAlerter_Evaluate_MinimumRunsRequired(t *testing.T) {
	a := NewAlerter(testMonitoringConfig())

	snap := &MetricsSnapshot{
		RunsTotal:     2,
		RunsOK:        0,
		RunsError:     2,
		ErrorRate:     1,
		LookbackHours: 24,
		CollectedAt:   collectNow,
	}

	assert.Empty(t, a.Evaluate(snap))
}

func TestAlerter_Evaluate_Stale(t *testing.T) {
	a := NewAlerter(testMonitoringConfig())

	snap := &MetricsSnapshot{
		LastRunAt:     timeAgo(30),
		LastOKAt:      timeAgo(30),
		LookbackHours: 24,
		CollectedAt:   collectNow,
	}

	alerts := a.Evaluate(snap)
	require.Len(t, alerts, 1)
	assert.Equal(t, AlertPollStale, alerts[0].Type)
	assert.Contains(t, alerts[0].Message, "30.0h ago")
}

func TestAlerter_Evaluate_NeverSucceeded(t *testing.T) {
	a := NewAlerter(testMonitoringConfig())

	snap := &MetricsSnapshot{
		RunsTotal:   1,
		RunsError:   1,
		ErrorRate:   1,
		LastRunAt:   timeAgo(1),
		CollectedAt: collectNow,
	}

	alerts := a.Evaluate(snap)
	require.Len(t, alerts, 1)
	assert.Equal(t, AlertPollStale, alerts[0].Type)
	assert.Contains(t, alerts[0].Message, "No successful poll run")
}

func TestAlerter_Evaluate_NoRunsYet(t *testing.T) {
	a := NewAlerter(testMonitoringConfig())
	assert.Empty(t, a.Evaluate(&MetricsSnapshot{CollectedAt: collectNow}))
}

func TestAlerter_Evaluate_StaleDisabled(t *testing.T) {
	a := NewAlerter(config.MonitoringConfig{FailureRateThreshold: 0.5})
	snap := &MetricsSnapshot{LastRunAt: timeAgo(100), LastOKAt: timeAgo(100), CollectedAt: collectNow}
	assert.Empty(t, a.Evaluate(snap))
}

func TestAlerter_Evaluate_MultipleAlerts(t *testing.T) {
	a := NewAlerter(testMonitoringConfig())

	snap := &MetricsSnapshot{
		RunsTotal:     5,
		RunsError:     5,
		ErrorRate:     1,
		LastRunAt:     timeAgo(1),
		LastOKAt:      timeAgo(48),
		LookbackHours: 24,
		CollectedAt:   collectNow,
	}

	alerts := a.Evaluate(snap)
	require.Len(t, alerts, 2)

	types := make(map[AlertType]bool)
	for _, a := range alerts {
		types[a.Type] = true
	}
	assert.True(t, types[AlertPollFailureRate])
	assert.True(t, types[AlertPollStale])
}

func TestAlerter_SendAlerts_Webhook(t *testing.T) {
	var received atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		var alert Alert
		if assert.NoError(t, json.NewDecoder(r.Body).Decode(&alert)) {
			assert.NotEmpty(t, alert.Type)
		}
		received.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	a := NewAlerter(config.MonitoringConfig{
		WebhookURL: ts.URL,
	})

	alerts := []Alert{
		{Type: AlertPollFailureRate, Severity: "high", Message: "test alert 1"},
		{Type: AlertPollStale, Severity: "high", Message: "test alert 2"},
	}

	sent := a.SendAlerts(context.Background(), alerts)
	assert.Equal(t, 2, sent)
	assert.Equal(t, int32(2), received.Load())
}

func TestAlerter_SendAlerts_EmptyURL(t *testing.T) {
	a := NewAlerter(config.MonitoringConfig{
		WebhookURL: "",
	})

	sent := a.SendAlerts(context.Background(), []Alert{
		{Type: AlertPollFailureRate, Message: "test"},
	})
	assert.Equal(t, 0, sent)
}

func TestAlerter_SendAlerts_EmptyAlerts(t *testing.T) {
	a := NewAlerter(config.MonitoringConfig{
		WebhookURL: "http://example.com",
	})

	sent := a.SendAlerts(context.Background(), nil)
	assert.Equal(t, 0, sent)
}

func TestAlerter_SendAlerts_WebhookError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer ts.Close()

	a := NewAlerter(config.MonitoringConfig{
		WebhookURL: ts.URL,
	})

	sent := a.SendAlerts(context.Background(), []Alert{{Type: AlertPollStale, Message: "test"}})
	assert.Equal(t, 0, sent)
}
