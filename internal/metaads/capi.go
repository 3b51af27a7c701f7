package metaads

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/funnel-cli/internal/db"
	"github.com/sells-group/funnel-cli/internal/model"
	"github.com/sells-group/funnel-cli/internal/monitoring"
	"github.com/sells-group/funnel-cli/pkg/meta"
)

// Publisher announces a new outbox row to the dispatch worker.
type Publisher interface {
	Publish(ctx context.Context, id string, body []byte) error
}

// Message is the queue body for one outbox row.
type Message struct {
	ID       string `json:"id"`
	TenantID string `json:"tenant_id"`
}

// CAPIQueue writes conversion events to the meta_capi_events outbox.
type CAPIQueue struct {
	q   db.Querier
	pub Publisher
	now func() time.Time
}

// NewCAPIQueue creates a queue. pub may be nil, leaving the outbox to the
// flush job.
func NewCAPIQueue(q db.Querier, pub Publisher) *CAPIQueue {
	return &CAPIQueue{q: q, pub: pub, now: time.Now}
}

const insertCAPISQL = `
	INSERT INTO meta_capi_events (
		tenant_id, contact_id, event_name, event_time, event_id, action_source, ad_id,
		user_email_hash, user_phone_hash, user_first_name_hash, user_last_name_hash,
		user_external_id, user_fbp, user_fbc, event_value, currency, content_name
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
	ON CONFLICT (event_id) DO NOTHING
	RETURNING id`

// Enqueue hashes the event's user data and inserts it into the outbox. An
// event_id already queued returns "" and no error. When a publisher is
// configured the new row id is published; a publish failure is logged and
// the flush job picks the row up instead.
func (c *CAPIQueue) Enqueue(ctx context.Context, ev *model.CAPIEvent) (string, error) {
	if ev.TenantID == "" {
		return "", eris.New("metaads: capi event tenant id is required")
	}
	if ev.EventName == "" {
		return "", eris.New("metaads: capi event name is required")
	}
	prepare(ev, c.now())

	var id string
	err := c.q.QueryRow(ctx, insertCAPISQL,
		ev.TenantID, nullIfEmpty(ev.ContactID), string(ev.EventName), ev.EventTime, ev.EventID,
		ev.ActionSource, nullIfEmpty(ev.AdID),
		nullIfEmpty(ev.EmailHash), nullIfEmpty(ev.PhoneHash), nullIfEmpty(ev.FirstHash), nullIfEmpty(ev.LastHash),
		nullIfEmpty(ev.ExternalID), nullIfEmpty(ev.FBP), nullIfEmpty(ev.FBC),
		ev.Value, ev.Currency, nullIfEmpty(ev.ContentName),
	).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		monitoring.RecordCAPI(string(ev.EventName), "duplicate")
		return "", nil
	}
	if err != nil {
		monitoring.RecordCAPI(string(ev.EventName), "error")
		return "", eris.Wrapf(err, "metaads: enqueue %s", ev.EventName)
	}
	ev.ID = id
	monitoring.RecordCAPI(string(ev.EventName), "queued")

	if c.pub != nil {
		body, _ := json.Marshal(Message{ID: id, TenantID: ev.TenantID})
		if err := c.pub.Publish(ctx, id, body); err != nil {
			zap.L().Warn("metaads: publish failed, left for flush",
				zap.String("tenant", ev.TenantID),
				zap.String("capi_event_id", id),
				zap.Error(err),
			)
		}
	}
	return id, nil
}

// prepare fills defaults and replaces plain-text user data with hashes.
func prepare(ev *model.CAPIEvent, now time.Time) {
	if ev.EventID == "" {
		ev.EventID = uuid.NewString()
	}
	if ev.EventTime.IsZero() {
		ev.EventTime = now.UTC()
	}
	if ev.ActionSource == "" {
		ev.ActionSource = "website"
	}
	if ev.Currency == "" {
		ev.Currency = "USD"
	}
	u := ev.UserData
	if u.Email != "" {
		ev.EmailHash = meta.HashEmail(u.Email)
	}
	if u.Phone != "" {
		ev.PhoneHash = meta.HashPhone(u.Phone)
	}
	if u.FirstName != "" {
		ev.FirstHash = meta.HashName(u.FirstName)
	}
	if u.LastName != "" {
		ev.LastHash = meta.HashName(u.LastName)
	}
	if u.ExternalID != "" {
		ev.ExternalID = u.ExternalID
	}
	if u.FBP != "" {
		ev.FBP = u.FBP
	}
	if u.FBC != "" {
		ev.FBC = u.FBC
	}
	ev.UserData = model.CAPIUserData{}
}

// LeadEvent is sent when a DM conversation qualifies a lead.
func LeadEvent(tenantID, contactID string, user model.CAPIUserData, adID string) *model.CAPIEvent {
	return &model.CAPIEvent{
		TenantID:     tenantID,
		ContactID:    contactID,
		EventName:    model.CAPILead,
		ActionSource: "chat",
		AdID:         adID,
		UserData:     user,
		ContentName:  "DM Qualification",
	}
}

// AddToCartEvent is sent when a consultation is booked.
func AddToCartEvent(tenantID, contactID string, user model.CAPIUserData, adID string) *model.CAPIEvent {
	return &model.CAPIEvent{
		TenantID:     tenantID,
		ContactID:    contactID,
		EventName:    model.CAPIAddToCart,
		ActionSource: "website",
		AdID:         adID,
		UserData:     user,
		ContentName:  "Consultation Booking",
	}
}

// InitiateCheckoutEvent is sent on a funnel form submission.
func InitiateCheckoutEvent(tenantID, contactID string, user model.CAPIUserData, adID string) *model.CAPIEvent {
	return &model.CAPIEvent{
		TenantID:     tenantID,
		ContactID:    contactID,
		EventName:    model.CAPIInitiateCheckout,
		ActionSource: "website",
		AdID:         adID,
		UserData:     user,
		ContentName:  "Form Submission",
	}
}

// PurchaseEvent is sent for a linked payment. The payment event id doubles
// as the CAPI event id so a redelivered payment is deduplicated.
func PurchaseEvent(tenantID, contactID string, user model.CAPIUserData, value float64, paymentEventID string) *model.CAPIEvent {
	return &model.CAPIEvent{
		TenantID:     tenantID,
		ContactID:    contactID,
		EventName:    model.CAPIPurchase,
		EventID:      "purchase_" + paymentEventID,
		ActionSource: "website",
		UserData:     user,
		Value:        value,
		Currency:     "USD",
		ContentName:  "Service Purchase",
	}
}

func nullIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
