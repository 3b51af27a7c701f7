package monitoring

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/funnel-cli/internal/config"
)

func thresholds() config.MonitoringConfig {
	return config.MonitoringConfig{
		ErrorRateThreshold:   0.10,
		OrphanThreshold:      3,
		CAPIBacklogThreshold: 50,
	}
}

func TestAlerter_Evaluate_NoAlerts(t *testing.T) {
	a := NewAlerter(thresholds())

	snap := &MetricsSnapshot{
		WebhookTotal:     200,
		WebhookErrors:    4,
		WebhookErrorRate: 0.02,
		NewOrphans:       1,
		CAPIPending:      3,
		LookbackHours:    24,
	}

	assert.Empty(t, a.Evaluate(snap))
}

func TestAlerter_Evaluate_WebhookErrorRate(t *testing.T) {
	a := NewAlerter(thresholds())

	snap := &MetricsSnapshot{
		WebhookTotal:     40,
		WebhookErrors:    10,
		WebhookErrorRate: 0.25,
		LookbackHours:    24,
	}

	alerts := a.Evaluate(snap)
	require.Len(t, alerts, 1)
	assert.Equal(t, AlertWebhookErrorRate, alerts[0].Type)
	assert.Equal(t, "high", alerts[0].Severity)
	assert.Contains(t, alerts[0].Message, "25.0%")
}

func TestAlerter_Evaluate_MinimumCallsRequired(t *testing.T) {
	a := NewAlerter(thresholds())

	snap := &MetricsSnapshot{
		WebhookTotal:     2,
		WebhookErrors:    1,
		WebhookErrorRate: 0.5,
	}
	assert.Empty(t, a.Evaluate(snap))
}

func TestAlerter_Evaluate_Orphans(t *testing.T) {
	a := NewAlerter(thresholds())

	alerts := a.Evaluate(&MetricsSnapshot{NewOrphans: 3, TotalOrphans: 12, LookbackHours: 24})
	require.Len(t, alerts, 1)
	assert.Equal(t, AlertOrphans, alerts[0].Type)
	assert.Contains(t, alerts[0].Message, "12 unlinked overall")
}

func TestAlerter_Evaluate_MultipleAlerts(t *testing.T) {
	a := NewAlerter(thresholds())

	alerts := a.Evaluate(&MetricsSnapshot{
		WebhookTotal:     100,
		WebhookErrors:    30,
		WebhookErrorRate: 0.3,
		NewOrphans:       5,
		CAPIPending:      80,
		CAPIExhausted:    2,
	})
	require.Len(t, alerts, 3)

	types := map[AlertType]bool{}
	for _, al := range alerts {
		types[al.Type] = true
	}
	assert.True(t, types[AlertWebhookErrorRate])
	assert.True(t, types[AlertOrphans])
	assert.True(t, types[AlertCAPIBacklog])
}

func TestAlerter_Evaluate_ZeroThresholdsDisable(t *testing.T) {
	a := NewAlerter(config.MonitoringConfig{})

	alerts := a.Evaluate(&MetricsSnapshot{
		WebhookTotal:     100,
		WebhookErrorRate: 0.9,
		NewOrphans:       100,
		CAPIPending:      1000,
	})
	assert.Empty(t, alerts)
}

func TestAlerter_SendAlerts_Webhook(t *testing.T) {
	var received atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		var alert Alert
		err := json.NewDecoder(r.Body).Decode(&alert)
		require.NoError(t, err)
		assert.NotEmpty(t, alert.Type)
		received.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	a := NewAlerter(config.MonitoringConfig{WebhookURL: ts.URL})

	sent := a.SendAlerts(context.Background(), []Alert{
		{Type: AlertWebhookErrorRate, Severity: "high", Message: "test alert 1"},
		{Type: AlertOrphans, Severity: "medium", Message: "test alert 2"},
	})
	assert.Equal(t, 2, sent)
	assert.Equal(t, int32(2), received.Load())
}

func TestAlerter_SendAlerts_EmptyURL(t *testing.T) {
	a := NewAlerter(config.MonitoringConfig{})

	sent := a.SendAlerts(context.Background(), []Alert{{Type: AlertOrphans, Message: "test"}})
	assert.Equal(t, 0, sent)
}

func TestAlerter_SendAlerts_EmptyAlerts(t *testing.T) {
	a := NewAlerter(config.MonitoringConfig{WebhookURL: "http://example.com"})
	assert.Equal(t, 0, a.SendAlerts(context.Background(), nil))
}

func TestAlerter_SendAlerts_WebhookError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer ts.Close()

	a := NewAlerter(config.MonitoringConfig{WebhookURL: ts.URL})

	sent := a.SendAlerts(context.Background(), []Alert{{Type: AlertCAPIBacklog, Message: "test"}})
	assert.Equal(t, 0, sent)
}
