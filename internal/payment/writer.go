// Package payment records inbound payments exactly once and links them to
// contacts.
package payment

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/funnel-cli/internal/contact"
	"github.com/sells-group/funnel-cli/internal/db"
	"github.com/sells-group/funnel-cli/internal/model"
	"github.com/sells-group/funnel-cli/internal/monitoring"
)

// ErrDuplicate reports a payment_event_id that was already recorded.
var ErrDuplicate = eris.New("payment: duplicate payment event")

// Input is one payment event from any source.
type Input struct {
	TenantID string
	EventID  string

	Email string
	Name  string
	Phone string

	Amount   float64
	Currency string
	PaidAt   time.Time
	Status   model.PaymentStatus
	Source   string
	Type     string
	Category model.PaymentCategory

	StripeSessionID      string
	StripeCustomerID     string
	DenefitsContractCode string
	Raw                  []byte
}

// Outcome describes what Record did.
type Outcome struct {
	PaymentID  string
	ContactID  string
	Orphan     bool
	Duplicate  bool
	Method     string
	Confidence float64
	// Aggregates is set when the contact's purchase fields were recomputed.
	Aggregates *contact.Aggregates
}

// Label is the metrics and log label for the outcome.
func (o Outcome) Label() string {
	switch {
	case o.Duplicate:
		return "duplicate"
	case o.Orphan:
		return "orphan"
	default:
		return "linked"
	}
}

// Resolver is the part of contact.Resolver the writer needs.
type Resolver interface {
	ResolveWithRetry(ctx context.Context, id contact.Identity) contact.Result
}

// PurchaseUpdater is the part of contact.Updater the writer needs.
type PurchaseUpdater interface {
	ApplyPurchase(ctx context.Context, q db.Querier, contactID string, up contact.PurchaseUpdate) (contact.Aggregates, error)
}

// Writer persists payments.
type Writer struct {
	pool     db.Pool
	resolver Resolver
	updater  PurchaseUpdater
}

// NewWriter creates a Writer.
func NewWriter(pool db.Pool, resolver Resolver, updater PurchaseUpdater) *Writer {
	return &Writer{pool: pool, resolver: resolver, updater: updater}
}

func (in *Input) validate() error {
	switch {
	case in.TenantID == "":
		return eris.New("payment: tenant id is required")
	case in.EventID == "":
		return eris.New("payment: payment event id is required")
	case in.Source == "":
		return eris.New("payment: source is required")
	case in.Category == "":
		return eris.New("payment: category is required")
	}
	if in.Status == "" {
		in.Status = model.PaymentStatusPaid
	}
	if in.Currency == "" {
		in.Currency = "usd"
	}
	if in.PaidAt.IsZero() {
		in.PaidAt = time.Now().UTC()
	}
	return nil
}

// Record resolves the payer, then inserts the payment and updates the
// contact in one transaction. A payment_event_id already on file yields a
// Duplicate outcome and changes nothing. A resolver failure writes nothing
// and returns an error so the provider can redeliver.
func (w *Writer) Record(ctx context.Context, in Input) (Outcome, error) {
	if err := in.validate(); err != nil {
		return Outcome{}, err
	}
	log := zap.L().With(
		zap.String("tenant", in.TenantID),
		zap.String("source", in.Source),
		zap.String("payment_event_id", in.EventID),
	)

	res := w.resolver.ResolveWithRetry(ctx, contact.Identity{
		TenantID: in.TenantID,
		Email:    in.Email,
		Phone:    in.Phone,
		Name:     in.Name,
	})
	if res.Status == contact.LookupFailed {
		monitoring.RecordPayment(in.Source, "error")
		log.Error("payment: contact lookup failed, nothing written", zap.Error(res.Err))
		return Outcome{}, eris.Wrapf(res.Err, "payment: resolve contact for %s", in.EventID)
	}

	out := Outcome{Method: res.Method, Confidence: res.Confidence}
	var contactID *string
	if res.Status == contact.Matched {
		out.ContactID = res.ContactID
		contactID = &res.ContactID
	} else {
		out.Orphan = true
	}

	err := db.WithTx(ctx, w.pool, func(tx pgx.Tx) error {
		err := tx.QueryRow(ctx, insertSQL,
			in.TenantID, in.EventID, contactID,
			nullIfEmpty(contact.NormalizeEmail(in.Email)), nullIfEmpty(in.Name), nullIfEmpty(in.Phone),
			in.Amount, in.Currency, in.PaidAt, string(in.Status),
			in.Source, nullIfEmpty(in.Type), string(in.Category),
			res.Method, res.Confidence,
			nullIfEmpty(in.StripeSessionID), nullIfEmpty(in.StripeCustomerID), nullIfEmpty(in.DenefitsContractCode),
			in.Raw,
		).Scan(&out.PaymentID)
		if errors.Is(err, pgx.ErrNoRows) {
			out.Duplicate = true
			return nil
		}
		if err != nil {
			return eris.Wrapf(err, "payment: insert %s", in.EventID)
		}

		if out.Orphan || !in.Category.Counts() || !in.Status.Counts() {
			return nil
		}
		agg, err := w.updater.ApplyPurchase(ctx, tx, out.ContactID, contact.PurchaseUpdate{
			Category:         in.Category,
			Email:            in.Email,
			StripeCustomerID: in.StripeCustomerID,
		})
		if err != nil {
			return err
		}
		out.Aggregates = &agg
		return nil
	})
	if err != nil {
		monitoring.RecordPayment(in.Source, "error")
		log.Error("payment: record failed", zap.Error(err))
		return Outcome{}, err
	}

	if out.Duplicate {
		// The stored row keeps its original link; report no new contact.
		out.ContactID, out.Orphan = "", false
	}
	monitoring.RecordPayment(in.Source, out.Label())
	log.Info("payment: recorded",
		zap.String("outcome", out.Label()),
		zap.String("contact_id", out.ContactID),
		zap.String("match_method", out.Method),
		zap.Float64("amount", in.Amount),
		zap.String("category", string(in.Category)),
	)
	return out, nil
}

const insertSQL = `
	INSERT INTO payments (
		tenant_id, payment_event_id, contact_id,
		customer_email, customer_name, customer_phone,
		amount, currency, payment_date, status,
		payment_source, payment_type, payment_category,
		match_method, match_confidence,
		stripe_session_id, stripe_customer_id, denefits_contract_code,
		raw_payload
	) VALUES (
		$1, $2, $3,
		$4, $5, $6,
		$7, $8, $9, $10,
		$11, $12, $13,
		$14, $15,
		$16, $17, $18,
		$19
	)
	ON CONFLICT (tenant_id, payment_event_id) DO NOTHING
	RETURNING id`

func nullIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
