package webhook

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/sells-group/funnel-cli/internal/db"
	"github.com/sells-group/funnel-cli/internal/model"
)

// PostgresLogStore appends rows to webhook_logs.
type PostgresLogStore struct {
	q db.Querier
}

// NewLogStore creates a PostgresLogStore.
func NewLogStore(q db.Querier) *PostgresLogStore {
	return &PostgresLogStore{q: q}
}

// Append inserts l and sets its ID and CreatedAt.
func (s *PostgresLogStore) Append(ctx context.Context, l *model.WebhookLog) error {
	var payload any
	if len(l.Payload) > 0 {
		payload = l.Payload
	}
	err := s.q.QueryRow(ctx, `
		INSERT INTO webhook_logs
			(tenant_id, source, event_type, payload, mc_id, ghl_id, contact_id, payment_event_id, status, error_message)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id, created_at`,
		nullIfEmpty(l.TenantID), l.Source, nullIfEmpty(l.EventType), payload,
		nullIfEmpty(l.MCID), nullIfEmpty(l.GHLID), nullIfEmpty(l.ContactID), nullIfEmpty(l.PaymentEventID),
		string(l.Status), nullIfEmpty(l.ErrorMessage),
	).Scan(&l.ID, &l.CreatedAt)
	if err != nil {
		return eris.Wrapf(err, "webhook: append log %s/%s", l.Source, l.Status)
	}
	return nil
}

func nullIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
