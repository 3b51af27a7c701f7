package monitoring

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/funnel-cli/internal/db"
)

// MetricsSnapshot holds a point-in-time view of pipeline health.
type MetricsSnapshot struct {
	// Webhook traffic within the lookback window.
	WebhookTotal     int     `json:"webhook_total"`
	WebhookErrors    int     `json:"webhook_errors"`
	WebhookErrorRate float64 `json:"webhook_error_rate"`

	// Orphans created within the window, and all still unlinked.
	NewOrphans   int `json:"new_orphans"`
	TotalOrphans int `json:"total_orphans"`

	// CAPI outbox.
	CAPIPending   int `json:"capi_pending"`
	CAPIExhausted int `json:"capi_exhausted"`

	LookbackHours int       `json:"lookback_hours"`
	CollectedAt   time.Time `json:"collected_at"`
}

// Collector gathers health counts from Postgres.
type Collector struct {
	q           db.Querier
	maxAttempts int
}

// NewCollector creates a new metrics collector. maxAttempts is the CAPI
// send limit; events at or past it count as exhausted.
func NewCollector(q db.Querier, maxAttempts int) *Collector {
	if maxAttempts <= 0 {
		maxAttempts = 5
	}
	return &Collector{q: q, maxAttempts: maxAttempts}
}

const snapshotSQL = `
	SELECT
		(SELECT count(*) FROM webhook_logs WHERE created_at >= $1),
		(SELECT count(*) FROM webhook_logs WHERE created_at >= $1 AND status = 'error'),
		(SELECT count(*) FROM payments WHERE contact_id IS NULL AND created_at >= $1),
		(SELECT count(*) FROM payments WHERE contact_id IS NULL),
		(SELECT count(*) FROM meta_capi_events WHERE NOT sent_to_meta AND send_attempts < $2),
		(SELECT count(*) FROM meta_capi_events WHERE NOT sent_to_meta AND send_attempts >= $2)`

// Collect gathers a snapshot over the given lookback window.
func (c *Collector) Collect(ctx context.Context, lookbackHours int) (*MetricsSnapshot, error) {
	now := time.Now().UTC()
	snap := &MetricsSnapshot{
		LookbackHours: lookbackHours,
		CollectedAt:   now,
	}
	cutoff := now.Add(-time.Duration(lookbackHours) * time.Hour)

	err := c.q.QueryRow(ctx, snapshotSQL, cutoff, c.maxAttempts).Scan(
		&snap.WebhookTotal, &snap.WebhookErrors,
		&snap.NewOrphans, &snap.TotalOrphans,
		&snap.CAPIPending, &snap.CAPIExhausted,
	)
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: collect snapshot")
	}
	if snap.WebhookTotal > 0 {
		snap.WebhookErrorRate = float64(snap.WebhookErrors) / float64(snap.WebhookTotal)
	}
	return snap, nil
}
