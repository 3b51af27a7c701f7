package payment

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"

	"github.com/sells-group/funnel-cli/internal/contact"
	"github.com/sells-group/funnel-cli/internal/db"
	"github.com/sells-group/funnel-cli/internal/model"
)

// PostgresStore reads and repairs payment rows.
type PostgresStore struct {
	pool db.Querier
}

// NewPostgresStore creates a new PostgresStore.
func NewPostgresStore(pool db.Querier) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// OrphanFilter narrows the orphans query.
type OrphanFilter struct {
	TenantID string
	Since    time.Time
	Limit    int
}

const paymentColumns = `id, tenant_id, payment_event_id, contact_id,
	coalesce(customer_email, ''), coalesce(customer_name, ''), coalesce(customer_phone, ''),
	amount, currency, payment_date, status, payment_source, coalesce(payment_type, ''),
	payment_category, coalesce(match_method, ''), match_confidence,
	coalesce(stripe_session_id, ''), coalesce(stripe_customer_id, ''), coalesce(denefits_contract_code, ''),
	created_at`

func paymentDests(p *model.Payment) []any {
	return []any{
		&p.ID, &p.TenantID, &p.PaymentEventID, &p.ContactID,
		&p.CustomerEmail, &p.CustomerName, &p.CustomerPhone,
		&p.Amount, &p.Currency, &p.PaymentDate, &p.Status, &p.PaymentSource, &p.PaymentType,
		&p.Category, &p.MatchMethod, &p.MatchConfidence,
		&p.StripeSessionID, &p.StripeCustomerID, &p.DenefitsContractCode,
		&p.CreatedAt,
	}
}

// Get fetches a payment by its idempotency key. Returns nil, nil when absent.
func (s *PostgresStore) Get(ctx context.Context, tenantID, eventID string) (*model.Payment, error) {
	p := &model.Payment{}
	err := s.pool.QueryRow(ctx, `SELECT `+paymentColumns+` FROM payments WHERE tenant_id = $1 AND payment_event_id = $2`,
		tenantID, eventID).Scan(paymentDests(p)...)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "payment: get %s", eventID)
	}
	return p, nil
}

// ListOrphans returns payments with no linked contact, oldest first.
func (s *PostgresStore) ListOrphans(ctx context.Context, f OrphanFilter) ([]model.Payment, error) {
	where := []string{"contact_id IS NULL"}
	var args []any
	if f.TenantID != "" {
		args = append(args, f.TenantID)
		where = append(where, "tenant_id = $"+strconv.Itoa(len(args)))
	}
	if !f.Since.IsZero() {
		args = append(args, f.Since)
		where = append(where, "payment_date >= $"+strconv.Itoa(len(args)))
	}
	q := `SELECT ` + paymentColumns + ` FROM payments WHERE ` + strings.Join(where, " AND ") +
		` ORDER BY payment_date ASC, id ASC`
	if f.Limit > 0 {
		args = append(args, f.Limit)
		q += ` LIMIT $` + strconv.Itoa(len(args))
	}

	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, eris.Wrap(err, "payment: list orphans")
	}
	defer rows.Close()

	var out []model.Payment
	for rows.Next() {
		var p model.Payment
		if err := rows.Scan(paymentDests(&p)...); err != nil {
			return nil, eris.Wrap(err, "payment: scan orphan")
		}
		out = append(out, p)
	}
	return out, eris.Wrap(rows.Err(), "payment: iterate orphans")
}

// Link attaches an orphan to a contact. The contact_id IS NULL guard makes
// it a no-op for rows linked since they were read; it reports whether the
// row changed.
func (s *PostgresStore) Link(ctx context.Context, q db.Querier, paymentID, contactID, method string, confidence float64) (bool, error) {
	tag, err := q.Exec(ctx, `
		UPDATE payments SET contact_id = $2, match_method = $3, match_confidence = $4
		WHERE id = $1 AND contact_id IS NULL`,
		paymentID, contactID, method, confidence)
	if err != nil {
		return false, eris.Wrapf(err, "payment: link %s", paymentID)
	}
	return tag.RowsAffected() == 1, nil
}

// ContactsWithPayments lists contacts that have at least one counting
// payment. onlyMissing restricts to contacts with no purchase_date yet.
func (s *PostgresStore) ContactsWithPayments(ctx context.Context, tenantID string, onlyMissing bool) ([]string, error) {
	q := `
		SELECT DISTINCT c.id
		FROM contacts c
		JOIN payments p ON p.contact_id = c.id
		WHERE p.status IN ('paid', 'active', 'refunded')
			AND p.payment_category IN ('deposit', 'full_purchase', 'bnpl', 'refund')`
	var args []any
	if tenantID != "" {
		args = append(args, tenantID)
		q += ` AND c.tenant_id = $1`
	}
	if onlyMissing {
		q += ` AND c.purchase_date IS NULL`
	}
	q += ` ORDER BY c.id`

	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, eris.Wrap(err, "payment: contacts with payments")
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, eris.Wrap(err, "payment: scan contact id")
		}
		ids = append(ids, id)
	}
	return ids, eris.Wrap(rows.Err(), "payment: iterate contact ids")
}

// TwinWindow bounds how far a Stripe export row's date may sit from the
// webhook row for the same payment.
const TwinWindow = 48 * time.Hour

// StripeTwins returns the event ids of Stripe webhook payments from email
// for exactly amount, dated within TwinWindow of at, oldest first. Export
// rows carry charge ids (ch_, py_) while webhook rows carry event ids
// (evt_), so the id alone never matches them.
func (s *PostgresStore) StripeTwins(ctx context.Context, tenantID, email string, amount float64, at time.Time) ([]string, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT payment_event_id FROM payments
		WHERE tenant_id = $1 AND payment_source = 'stripe'
			AND lower(customer_email) = $2
			AND amount = round($3::numeric, 2)
			AND payment_date BETWEEN $4 AND $5
		ORDER BY payment_date ASC, id ASC`,
		tenantID, contact.NormalizeEmail(email), amount, at.Add(-TwinWindow), at.Add(TwinWindow))
	if err != nil {
		return nil, eris.Wrap(err, "payment: stripe twins")
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, eris.Wrap(err, "payment: scan stripe twin")
		}
		ids = append(ids, id)
	}
	return ids, eris.Wrap(rows.Err(), "payment: iterate stripe twins")
}
