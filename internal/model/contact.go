package model

import "time"

// Stage is a contact's position in the sales funnel.
type Stage string

const (
	StageNew                  Stage = "new"
	StageContactSubscribed    Stage = "contact_subscribed"
	StageDMQualified          Stage = "dm_qualified"
	StageLinkSent             Stage = "link_sent"
	StageLinkClicked          Stage = "link_clicked"
	StageFormSubmitted        Stage = "form_submitted"
	StageAppointmentScheduled Stage = "appointment_scheduled"
	StageAppointmentHeld      Stage = "appointment_held"
	StagePackageSent          Stage = "package_sent"
	StageDepositPaid          Stage = "deposit_paid"
	StagePurchased            Stage = "purchased"
)

// stageRank orders stages from top of funnel to purchase. Unknown stages rank 0.
var stageRank = map[Stage]int{
	StageNew:                  1,
	StageContactSubscribed:    2,
	StageDMQualified:          3,
	StageLinkSent:             4,
	StageLinkClicked:          5,
	StageFormSubmitted:        6,
	StageAppointmentScheduled: 7,
	StageAppointmentHeld:      8,
	StagePackageSent:          9,
	StageDepositPaid:          10,
	StagePurchased:            11,
}

// Rank returns the funnel position of s.
func (s Stage) Rank() int {
	return stageRank[s]
}

// Promote returns whichever of s and next is further down the funnel.
// Stages never regress.
func (s Stage) Promote(next Stage) Stage {
	if next.Rank() > s.Rank() {
		return next
	}
	return s
}

// Contact sources with special reporting treatment.
const (
	SourceInstagramHistorical = "instagram_historical"
	SourceWebsite             = "website"
	SourceInstagram           = "instagram"
)

// Contact is a lead or customer.
type Contact struct {
	ID           string `json:"id" db:"id"`
	TenantID     string `json:"tenant_id" db:"tenant_id"`
	EmailPrimary string `json:"email_primary,omitempty" db:"email_primary"`
	EmailBooking string `json:"email_booking,omitempty" db:"email_booking"`
	EmailPayment string `json:"email_payment,omitempty" db:"email_payment"`
	Phone        string `json:"phone,omitempty" db:"phone"`
	MCID         string `json:"mc_id,omitempty" db:"mc_id"`
	GHLID        string `json:"ghl_id,omitempty" db:"ghl_id"`
	AdID         string `json:"ad_id,omitempty" db:"ad_id"`
	FirstName    string `json:"first_name,omitempty" db:"first_name"`
	LastName     string `json:"last_name,omitempty" db:"last_name"`

	Source           string            `json:"source,omitempty" db:"source"`
	FunnelVariant    string            `json:"funnel_variant,omitempty" db:"funnel_variant"`
	ChatbotAB        string            `json:"chatbot_ab,omitempty" db:"chatbot_ab"`
	Tags             map[string]string `json:"tags,omitempty" db:"tags"`
	StripeCustomerID string            `json:"stripe_customer_id,omitempty" db:"stripe_customer_id"`

	SubscribeDate       *time.Time `json:"subscribe_date,omitempty" db:"subscribe_date"`
	DMQualifiedDate     *time.Time `json:"dm_qualified_date,omitempty" db:"dm_qualified_date"`
	LinkSendDate        *time.Time `json:"link_send_date,omitempty" db:"link_send_date"`
	LinkClickDate       *time.Time `json:"link_click_date,omitempty" db:"link_click_date"`
	FormSubmitDate      *time.Time `json:"form_submit_date,omitempty" db:"form_submit_date"`
	AppointmentDate     *time.Time `json:"appointment_date,omitempty" db:"appointment_date"`
	AppointmentHeldDate *time.Time `json:"appointment_held_date,omitempty" db:"appointment_held_date"`
	PackageSentDate     *time.Time `json:"package_sent_date,omitempty" db:"package_sent_date"`
	CheckoutStartedDate *time.Time `json:"checkout_started_date,omitempty" db:"checkout_started_date"`

	PurchaseDate   *time.Time `json:"purchase_date,omitempty" db:"purchase_date"`
	PurchaseAmount float64    `json:"purchase_amount" db:"purchase_amount"`
	Stage          Stage      `json:"stage" db:"stage"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// FullName joins first and last name.
func (c *Contact) FullName() string {
	switch {
	case c.FirstName == "":
		return c.LastName
	case c.LastName == "":
		return c.FirstName
	default:
		return c.FirstName + " " + c.LastName
	}
}

// BestEmail returns the first non-empty email, preferring the primary address.
func (c *Contact) BestEmail() string {
	for _, e := range []string{c.EmailPrimary, c.EmailBooking, c.EmailPayment} {
		if e != "" {
			return e
		}
	}
	return ""
}
