package model

import "time"

// Webhook sources.
const (
	SourceStripe      = "stripe"
	SourceDenefits    = "denefits"
	SourceManyChat    = "manychat"
	SourceGHL         = "ghl"
	SourcePerspective = "perspective"
)

// WebhookStatus is the terminal outcome recorded for an inbound webhook.
type WebhookStatus string

const (
	WebhookProcessed       WebhookStatus = "processed"
	WebhookProcessedOrphan WebhookStatus = "processed_orphan"
	WebhookDuplicate       WebhookStatus = "duplicate"
	WebhookSkipped         WebhookStatus = "skipped"
	WebhookError           WebhookStatus = "error"
)

// WebhookLog is the append-only audit record of one inbound webhook call.
type WebhookLog struct {
	ID             string        `json:"id" db:"id"`
	TenantID       string        `json:"tenant_id,omitempty" db:"tenant_id"`
	Source         string        `json:"source" db:"source"`
	EventType      string        `json:"event_type,omitempty" db:"event_type"`
	Payload        []byte        `json:"-" db:"payload"`
	MCID           string        `json:"mc_id,omitempty" db:"mc_id"`
	GHLID          string        `json:"ghl_id,omitempty" db:"ghl_id"`
	ContactID      string        `json:"contact_id,omitempty" db:"contact_id"`
	PaymentEventID string        `json:"payment_event_id,omitempty" db:"payment_event_id"`
	Status         WebhookStatus `json:"status" db:"status"`
	ErrorMessage   string        `json:"error_message,omitempty" db:"error_message"`
	CreatedAt      time.Time     `json:"created_at" db:"created_at"`
}
