package monitoring

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/leadtrace/internal/config"
)

func baseSnapshot() *MetricsSnapshot {
	return &MetricsSnapshot{
		Total:         20,
		Completed:     8,
		Analyzed:      8,
		Failed:        2,
		LookbackHours: 24,
		CollectedAt:   time.Now().UTC(),
	}
}

func TestAlerter_Evaluate_NoAlertsWhenHealthy(t *testing.T) {
	a := NewAlerter(config.MonitoringConfig{FailureRateThreshold: 0.5, StuckThresholdMins: 30})

	snap := baseSnapshot()
	snap.FailRate = 2.0 / 18.0
	alerts := a.Evaluate(snap)
	assert.Empty(t, alerts)
}

func TestAlerter_Evaluate_FailureRateBreach(t *testing.T) {
	a := NewAlerter(config.MonitoringConfig{FailureRateThreshold: 0.5, StuckThresholdMins: 30})

	snap := baseSnapshot()
	snap.Failed = 12
	snap.Completed = 3
	snap.Analyzed = 3
	snap.FailRate = 12.0 / 18.0

	alerts := a.Evaluate(snap)
	require.Len(t, alerts, 1)
	assert.Equal(t, AlertSkiptraceFailureRate, alerts[0].Type)
	assert.Equal(t, "high", alerts[0].Severity)
	assert.Contains(t, alerts[0].Message, "exceeds threshold")
}

func TestAlerter_Evaluate_SmallWindowsIgnored(t *testing.T) {
	a := NewAlerter(config.MonitoringConfig{FailureRateThreshold: 0.5})

	// 2 finished leads, both failed: rate is 100% but too few to alert on.
	snap := &MetricsSnapshot{Failed: 2, FailRate: 1.0, LookbackHours: 24}
	assert.Empty(t, a.Evaluate(snap))
}

func TestAlerter_Evaluate_StuckLeads(t *testing.T) {
	a := NewAlerter(config.MonitoringConfig{FailureRateThreshold: 0.5, StuckThresholdMins: 30})

	snap := baseSnapshot()
	snap.FailRate = 0.1
	snap.StuckProcessing = 4

	alerts := a.Evaluate(snap)
	require.Len(t, alerts, 1)
	assert.Equal(t, AlertStuckLeads, alerts[0].Type)
	assert.Contains(t, alerts[0].Message, "4 lead(s) stuck in Processing")
}

func TestAlerter_SendAlerts_PostsToWebhook(t *testing.T) {
	var got Alert
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	a := NewAlerter(config.MonitoringConfig{WebhookURL: srv.URL})
	sent := a.SendAlerts(context.Background(), []Alert{{
		Type:     AlertStuckLeads,
		Severity: "high",
		Message:  "2 lead(s) stuck in Processing for over 30m",
	}})

	assert.Equal(t, 1, sent)
	assert.Equal(t, AlertStuckLeads, got.Type)
}

func TestAlerter_SendAlerts_NoWebhookConfigured(t *testing.T) {
	a := NewAlerter(config.MonitoringConfig{})
	sent := a.SendAlerts(context.Background(), []Alert{{Type: AlertStuckLeads}})
	assert.Zero(t, sent)
}

func TestAlerter_SendAlerts_WebhookFailureCounted(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	a := NewAlerter(config.MonitoringConfig{WebhookURL: srv.URL})
	sent := a.SendAlerts(context.Background(), []Alert{{Type: AlertStuckLeads}})
	assert.Zero(t, sent)
}
