package contact

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/funnel-cli/internal/db"
	"github.com/sells-group/funnel-cli/internal/model"
)

var (
	countingStatuses = []string{
		string(model.PaymentStatusPaid),
		string(model.PaymentStatusActive),
		string(model.PaymentStatusRefunded),
	}
	countingCategories = []string{
		string(model.CategoryDeposit),
		string(model.CategoryFullPurchase),
		string(model.CategoryBNPL),
		string(model.CategoryRefund),
	}
)

// Updater maintains stage, purchase aggregates and event timestamps.
type Updater struct {
	pool db.Pool
}

// NewUpdater creates an Updater.
func NewUpdater(pool db.Pool) *Updater {
	return &Updater{pool: pool}
}

// PurchaseUpdate describes the payment that triggered a recompute.
type PurchaseUpdate struct {
	// Category drives stage promotion. Empty recomputes aggregates only.
	Category         model.PaymentCategory
	Email            string
	StripeCustomerID string
}

// Aggregates are the contact's purchase fields after an update.
type Aggregates struct {
	PurchaseAmount float64
	PurchaseDate   *time.Time
	Stage          model.Stage
}

const purchaseSQL = `
	WITH agg AS (
		SELECT coalesce(sum(amount), 0) AS total,
			min(payment_date) FILTER (WHERE amount > 0) AS first_paid
		FROM payments
		WHERE contact_id = $1
			AND status = ANY($2)
			AND payment_category = ANY($3)
	)
	UPDATE contacts c SET
		purchase_amount = greatest(0, agg.total),
		purchase_date = least(c.purchase_date, agg.first_paid),
		stage = $4,
		email_payment = coalesce(nullif(c.email_payment, ''), $5),
		stripe_customer_id = coalesce($6, c.stripe_customer_id),
		updated_at = now()
	FROM agg
	WHERE c.id = $1
	RETURNING c.purchase_amount, c.purchase_date, c.stage`

// ApplyPurchase locks the contact row and recomputes its purchase
// aggregates from every counting payment linked to it. It must run inside
// the caller's transaction so the lock covers the payment insert.
//
// purchase_amount is the floored sum of counting payments, refunds included
// as negative rows. purchase_date keeps the earliest positive payment.
// The stage only moves forward.
func (u *Updater) ApplyPurchase(ctx context.Context, q db.Querier, contactID string, up PurchaseUpdate) (Aggregates, error) {
	current, err := lockStage(ctx, q, contactID)
	if err != nil {
		return Aggregates{}, err
	}
	next := current.Promote(up.Category.Stage())

	var agg Aggregates
	err = q.QueryRow(ctx, purchaseSQL,
		contactID, countingStatuses, countingCategories, next,
		nullIfEmpty(NormalizeEmail(up.Email)), nullIfEmpty(up.StripeCustomerID),
	).Scan(&agg.PurchaseAmount, &agg.PurchaseDate, &agg.Stage)
	if err != nil {
		return Aggregates{}, eris.Wrapf(err, "contact: apply purchase %s", contactID)
	}

	zap.L().Debug("contact: purchase aggregates updated",
		zap.String("contact_id", contactID),
		zap.Float64("purchase_amount", agg.PurchaseAmount),
		zap.String("stage", string(agg.Stage)),
	)
	return agg, nil
}

func lockStage(ctx context.Context, q db.Querier, contactID string) (model.Stage, error) {
	var stage model.Stage
	err := q.QueryRow(ctx, `SELECT stage FROM contacts WHERE id = $1 FOR UPDATE`, contactID).Scan(&stage)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", eris.Errorf("contact: %s not found", contactID)
	}
	if err != nil {
		return "", eris.Wrapf(err, "contact: lock %s", contactID)
	}
	return stage, nil
}

// ApplyEvent records a funnel event. The event's timestamp column is set
// only when still null, the stage is promoted and tags are merged. A
// repeated SourceEventID is a no-op and returns false.
func (u *Updater) ApplyEvent(ctx context.Context, contactID string, ev model.ContactEvent) (bool, error) {
	applied := false
	err := db.WithTx(ctx, u.pool, func(tx pgx.Tx) error {
		var eventID string
		err := tx.QueryRow(ctx, `
			INSERT INTO contact_events (contact_id, event_type, source, source_event_id, payload)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (source, source_event_id) WHERE source_event_id IS NOT NULL DO NOTHING
			RETURNING id`,
			contactID, string(ev.Type), ev.Source, nullIfEmpty(ev.SourceEventID), ev.Payload,
		).Scan(&eventID)
		if errors.Is(err, pgx.ErrNoRows) {
			zap.L().Debug("contact: duplicate event ignored",
				zap.String("contact_id", contactID),
				zap.String("source", ev.Source),
				zap.String("event_type", string(ev.Type)),
			)
			return nil
		}
		if err != nil {
			return eris.Wrap(err, "contact: insert event")
		}

		current, err := lockStage(ctx, tx, contactID)
		if err != nil {
			return err
		}

		tags := ev.Tags
		if tags == nil {
			tags = map[string]string{}
		}
		set := []string{"stage = $2", "tags = tags || $3::jsonb", "updated_at = now()"}
		args := []any{contactID, current.Promote(ev.Type.Stage()), tags}
		if col := ev.Type.DateColumn(); col != "" {
			at := ev.OccurredAt
			if at.IsZero() {
				at = time.Now().UTC()
			}
			set = append(set, fmt.Sprintf("%s = coalesce(%s, $4)", col, col))
			args = append(args, at)
		}

		if _, err := tx.Exec(ctx, `UPDATE contacts SET `+strings.Join(set, ", ")+` WHERE id = $1`, args...); err != nil {
			return eris.Wrapf(err, "contact: apply %s", ev.Type)
		}
		applied = true
		return nil
	})
	return applied, err
}
