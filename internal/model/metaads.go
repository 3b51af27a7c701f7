package model

import "time"

// MetaAd is an ad known to the account.
type MetaAd struct {
	AdID       string `json:"ad_id" db:"ad_id"`
	TenantID   string `json:"tenant_id,omitempty" db:"tenant_id"`
	AdName     string `json:"ad_name" db:"ad_name"`
	AdsetID    string `json:"adset_id,omitempty" db:"adset_id"`
	CampaignID string `json:"campaign_id,omitempty" db:"campaign_id"`
	Status     string `json:"status,omitempty" db:"status"`
}

// MetaAdInsight is a daily snapshot of an ad's trailing performance.
type MetaAdInsight struct {
	AdID         string    `json:"ad_id" db:"ad_id"`
	TenantID     string    `json:"tenant_id,omitempty" db:"tenant_id"`
	SnapshotDate time.Time `json:"snapshot_date" db:"snapshot_date"`
	Spend        float64   `json:"spend" db:"spend"`
	Impressions  int64     `json:"impressions" db:"impressions"`
	Clicks       int64     `json:"clicks" db:"clicks"`
	Reach        int64     `json:"reach" db:"reach"`
	Leads        int64     `json:"leads" db:"leads"`
	CTR          float64   `json:"ctr" db:"ctr"`
	CPC          float64   `json:"cpc" db:"cpc"`
}

// CAPIEventName is a Meta Conversions API standard event.
type CAPIEventName string

const (
	CAPILead             CAPIEventName = "Lead"
	CAPIAddToCart        CAPIEventName = "AddToCart"
	CAPIInitiateCheckout CAPIEventName = "InitiateCheckout"
	CAPIPurchase         CAPIEventName = "Purchase"
)

// CAPIUserData carries identity fields. Values are plain text until hashed
// at enqueue time.
type CAPIUserData struct {
	Email      string `json:"email,omitempty"`
	Phone      string `json:"phone,omitempty"`
	FirstName  string `json:"first_name,omitempty"`
	LastName   string `json:"last_name,omitempty"`
	FBP        string `json:"fbp,omitempty"`
	FBC        string `json:"fbc,omitempty"`
	ExternalID string `json:"external_id,omitempty"`
}

// CAPIEvent is a conversion event waiting in the outbox.
type CAPIEvent struct {
	ID           string        `json:"id" db:"id"`
	TenantID     string        `json:"tenant_id" db:"tenant_id"`
	ContactID    string        `json:"contact_id,omitempty" db:"contact_id"`
	EventName    CAPIEventName `json:"event_name" db:"event_name"`
	EventTime    time.Time     `json:"event_time" db:"event_time"`
	EventID      string        `json:"event_id" db:"event_id"`
	ActionSource string        `json:"action_source" db:"action_source"`
	AdID         string        `json:"ad_id,omitempty" db:"ad_id"`
	UserData     CAPIUserData  `json:"-"`
	EmailHash    string        `json:"user_email_hash,omitempty" db:"user_email_hash"`
	PhoneHash    string        `json:"user_phone_hash,omitempty" db:"user_phone_hash"`
	FirstHash    string        `json:"user_first_name_hash,omitempty" db:"user_first_name_hash"`
	LastHash     string        `json:"user_last_name_hash,omitempty" db:"user_last_name_hash"`
	ExternalID   string        `json:"user_external_id,omitempty" db:"user_external_id"`
	FBP          string        `json:"user_fbp,omitempty" db:"user_fbp"`
	FBC          string        `json:"user_fbc,omitempty" db:"user_fbc"`
	Value        float64       `json:"event_value,omitempty" db:"event_value"`
	Currency     string        `json:"currency,omitempty" db:"currency"`
	ContentName  string        `json:"content_name,omitempty" db:"content_name"`
	SendAttempts int           `json:"send_attempts" db:"send_attempts"`
	SentToMeta   bool          `json:"sent_to_meta" db:"sent_to_meta"`
	LastError    string        `json:"last_error,omitempty" db:"last_error"`
}
