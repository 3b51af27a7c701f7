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

	"github.com/sells-group/funnel-cli/internal/config"
)

// AlertType identifies the kind of alert.
type AlertType string

const (
	AlertWebhookErrorRate AlertType = "webhook_error_rate"
	AlertOrphans          AlertType = "orphan_payments"
	AlertCAPIBacklog      AlertType = "capi_backlog"
)

// minWebhooksForRate keeps a single failed call on a quiet day from paging.
const minWebhooksForRate = 10

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
// A zero threshold disables its check.
func (a *Alerter) Evaluate(snap *MetricsSnapshot) []Alert {
	var alerts []Alert
	now := time.Now().UTC()

	if a.cfg.ErrorRateThreshold > 0 && snap.WebhookTotal >= minWebhooksForRate &&
		snap.WebhookErrorRate > a.cfg.ErrorRateThreshold {
		alerts = append(alerts, Alert{
			Type:     AlertWebhookErrorRate,
			Severity: "high",
			Message: fmt.Sprintf(
				"Webhook error rate %.1f%% exceeds threshold %.1f%% (%d errors / %d calls in last %dh)",
				snap.WebhookErrorRate*100, a.cfg.ErrorRateThreshold*100,
				snap.WebhookErrors, snap.WebhookTotal, snap.LookbackHours,
			),
			Details: map[string]any{
				"error_rate": snap.WebhookErrorRate,
				"threshold":  a.cfg.ErrorRateThreshold,
				"errors":     snap.WebhookErrors,
				"total":      snap.WebhookTotal,
			},
			Timestamp: now,
		})
	}

	if a.cfg.OrphanThreshold > 0 && snap.NewOrphans >= a.cfg.OrphanThreshold {
		alerts = append(alerts, Alert{
			Type:     AlertOrphans,
			Severity: "medium",
			Message: fmt.Sprintf(
				"%d payment(s) could not be linked to a contact in last %dh (%d unlinked overall)",
				snap.NewOrphans, snap.LookbackHours, snap.TotalOrphans,
			),
			Details: map[string]any{
				"new_orphans":   snap.NewOrphans,
				"total_orphans": snap.TotalOrphans,
				"threshold":     a.cfg.OrphanThreshold,
			},
			Timestamp: now,
		})
	}

	if a.cfg.CAPIBacklogThreshold > 0 && snap.CAPIPending >= a.cfg.CAPIBacklogThreshold {
		alerts = append(alerts, Alert{
			Type:     AlertCAPIBacklog,
			Severity: "medium",
			Message: fmt.Sprintf(
				"%d Conversions API event(s) waiting to send, %d gave up",
				snap.CAPIPending, snap.CAPIExhausted,
			),
			Details: map[string]any{
				"pending":   snap.CAPIPending,
				"exhausted": snap.CAPIExhausted,
				"threshold": a.cfg.CAPIBacklogThreshold,
			},
			Timestamp: now,
		})
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
