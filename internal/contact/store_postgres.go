package contact

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"

	"github.com/sells-group/funnel-cli/internal/db"
	"github.com/sells-group/funnel-cli/internal/model"
)

// PostgresStore implements Store using pgx.
type PostgresStore struct {
	pool db.Querier
}

// NewPostgresStore creates a new PostgresStore.
func NewPostgresStore(pool db.Querier) *PostgresStore {
	return &PostgresStore{pool: pool}
}

const contactColumns = `id, tenant_id,
	coalesce(email_primary, ''), coalesce(email_booking, ''), coalesce(email_payment, ''),
	coalesce(phone, ''), coalesce(mc_id, ''), coalesce(ghl_id, ''), coalesce(ad_id, ''),
	coalesce(first_name, ''), coalesce(last_name, ''),
	coalesce(source, ''), coalesce(funnel_variant, ''), coalesce(chatbot_ab, ''),
	tags, coalesce(stripe_customer_id, ''),
	subscribe_date, dm_qualified_date, link_send_date, link_click_date, form_submit_date,
	appointment_date, appointment_held_date, package_sent_date, checkout_started_date,
	purchase_date, purchase_amount, stage, created_at, updated_at`

func contactDests(c *model.Contact) []any {
	return []any{
		&c.ID, &c.TenantID,
		&c.EmailPrimary, &c.EmailBooking, &c.EmailPayment,
		&c.Phone, &c.MCID, &c.GHLID, &c.AdID,
		&c.FirstName, &c.LastName,
		&c.Source, &c.FunnelVariant, &c.ChatbotAB,
		&c.Tags, &c.StripeCustomerID,
		&c.SubscribeDate, &c.DMQualifiedDate, &c.LinkSendDate, &c.LinkClickDate, &c.FormSubmitDate,
		&c.AppointmentDate, &c.AppointmentHeldDate, &c.PackageSentDate, &c.CheckoutStartedDate,
		&c.PurchaseDate, &c.PurchaseAmount, &c.Stage, &c.CreatedAt, &c.UpdatedAt,
	}
}

// Get fetches a contact by ID. Returns nil, nil when absent.
func (s *PostgresStore) Get(ctx context.Context, id string) (*model.Contact, error) {
	c := &model.Contact{}
	err := s.pool.QueryRow(ctx, `SELECT `+contactColumns+` FROM contacts WHERE id = $1`, id).
		Scan(contactDests(c)...)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "contact: get %s", id)
	}
	return c, nil
}

// Create inserts a contact and sets its ID and timestamps. Identifiers are
// stored normalized.
func (s *PostgresStore) Create(ctx context.Context, c *model.Contact) error {
	if c.Stage == "" {
		c.Stage = model.StageNew
	}
	if c.Tags == nil {
		c.Tags = map[string]string{}
	}
	err := s.pool.QueryRow(ctx, `
		INSERT INTO contacts (
			tenant_id, email_primary, email_booking, email_payment, phone,
			mc_id, ghl_id, ad_id, first_name, last_name,
			source, funnel_variant, chatbot_ab, tags, stripe_customer_id, stage
		) VALUES (
			$1, $2, $3, $4, $5,
			$6, $7, $8, $9, $10,
			$11, $12, $13, $14, $15, $16
		) RETURNING id, created_at, updated_at`,
		c.TenantID, nullIfEmpty(NormalizeEmail(c.EmailPrimary)), nullIfEmpty(NormalizeEmail(c.EmailBooking)),
		nullIfEmpty(NormalizeEmail(c.EmailPayment)), nullIfEmpty(NormalizePhone(c.Phone)),
		nullIfEmpty(c.MCID), nullIfEmpty(c.GHLID), nullIfEmpty(c.AdID), nullIfEmpty(c.FirstName), nullIfEmpty(c.LastName),
		nullIfEmpty(c.Source), nullIfEmpty(c.FunnelVariant), nullIfEmpty(c.ChatbotAB), c.Tags,
		nullIfEmpty(c.StripeCustomerID), c.Stage,
	).Scan(&c.ID, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		if db.IsUniqueViolation(err) {
			return ErrConflict
		}
		return eris.Wrap(err, "contact: create")
	}
	return nil
}

// FillMissing implements Store.
func (s *PostgresStore) FillMissing(ctx context.Context, id string, seed *model.Contact) error {
	tags := seed.Tags
	if tags == nil {
		tags = map[string]string{}
	}
	_, err := s.pool.Exec(ctx, `
		UPDATE contacts SET
			email_primary = coalesce(nullif(email_primary, ''), $2),
			email_booking = coalesce(nullif(email_booking, ''), $3),
			email_payment = coalesce(nullif(email_payment, ''), $4),
			phone = coalesce(nullif(phone, ''), $5),
			mc_id = coalesce(nullif(mc_id, ''), $6),
			ghl_id = coalesce(nullif(ghl_id, ''), $7),
			ad_id = coalesce(nullif(ad_id, ''), $8),
			first_name = coalesce(nullif(first_name, ''), $9),
			last_name = coalesce(nullif(last_name, ''), $10),
			source = coalesce(nullif(source, ''), $11),
			funnel_variant = coalesce(nullif(funnel_variant, ''), $12),
			chatbot_ab = coalesce(nullif(chatbot_ab, ''), $13),
			stripe_customer_id = coalesce(nullif(stripe_customer_id, ''), $14),
			tags = tags || $15::jsonb,
			updated_at = now()
		WHERE id = $1`,
		id, nullIfEmpty(NormalizeEmail(seed.EmailPrimary)), nullIfEmpty(NormalizeEmail(seed.EmailBooking)),
		nullIfEmpty(NormalizeEmail(seed.EmailPayment)), nullIfEmpty(NormalizePhone(seed.Phone)),
		nullIfEmpty(seed.MCID), nullIfEmpty(seed.GHLID), nullIfEmpty(seed.AdID),
		nullIfEmpty(seed.FirstName), nullIfEmpty(seed.LastName),
		nullIfEmpty(seed.Source), nullIfEmpty(seed.FunnelVariant), nullIfEmpty(seed.ChatbotAB),
		nullIfEmpty(seed.StripeCustomerID), tags,
	)
	if err != nil {
		if db.IsUniqueViolation(err) {
			return ErrConflict
		}
		return eris.Wrapf(err, "contact: fill missing %s", id)
	}
	return nil
}

func nullIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
