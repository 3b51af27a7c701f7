package model

import "time"

// Payment sources.
const (
	PaymentSourceStripe   = "stripe"
	PaymentSourceDenefits = "denefits"
	PaymentSourceImport   = "import"
)

// PaymentStatus is the processor-reported state of a payment.
type PaymentStatus string

const (
	PaymentStatusPaid     PaymentStatus = "paid"
	PaymentStatusActive   PaymentStatus = "active"
	PaymentStatusRefunded PaymentStatus = "refunded"
	PaymentStatusPending  PaymentStatus = "pending"
	PaymentStatusFailed   PaymentStatus = "failed"
)

// Counts reports whether payments in this status contribute to purchase totals.
func (s PaymentStatus) Counts() bool {
	switch s {
	case PaymentStatusPaid, PaymentStatusActive, PaymentStatusRefunded:
		return true
	default:
		return false
	}
}

// PaymentCategory classifies a payment for funnel purposes.
type PaymentCategory string

const (
	CategoryDeposit       PaymentCategory = "deposit"
	CategoryFullPurchase  PaymentCategory = "full_purchase"
	CategoryBNPL          PaymentCategory = "bnpl"
	CategoryRefund        PaymentCategory = "refund"
	CategoryMiscellaneous PaymentCategory = "miscellaneous"
)

// DepositAmount is the exact checkout amount treated as a deposit.
const DepositAmount = 100.0

// CategorizeCheckout classifies a card checkout by amount: exactly the
// deposit amount is a deposit, anything above is a full purchase and
// anything below is miscellaneous.
func CategorizeCheckout(amount float64) PaymentCategory {
	switch {
	case amount == DepositAmount:
		return CategoryDeposit
	case amount > DepositAmount:
		return CategoryFullPurchase
	default:
		return CategoryMiscellaneous
	}
}

// Counts reports whether payments in this category contribute to purchase totals.
func (c PaymentCategory) Counts() bool {
	return c != CategoryMiscellaneous && c != ""
}

// Stage returns the stage a contact reaches with a payment of this category,
// or "" when the category does not move the contact.
func (c PaymentCategory) Stage() Stage {
	switch c {
	case CategoryDeposit:
		return StageDepositPaid
	case CategoryFullPurchase, CategoryBNPL:
		return StagePurchased
	default:
		return ""
	}
}

// Match methods recorded on payments.
const (
	MatchMethodEmail      = "email"
	MatchMethodPhone      = "phone"
	MatchMethodMCID       = "mc_id"
	MatchMethodGHLID      = "ghl_id"
	MatchMethodNameFuzzy  = "name_fuzzy"
	MatchMethodNotMatched = "not_matched"
)

// Payment is one payment event from a processor or an import.
type Payment struct {
	ID              string          `json:"id" db:"id"`
	TenantID        string          `json:"tenant_id" db:"tenant_id"`
	PaymentEventID  string          `json:"payment_event_id" db:"payment_event_id"`
	ContactID       *string         `json:"contact_id" db:"contact_id"`
	CustomerEmail   string          `json:"customer_email,omitempty" db:"customer_email"`
	CustomerName    string          `json:"customer_name,omitempty" db:"customer_name"`
	CustomerPhone   string          `json:"customer_phone,omitempty" db:"customer_phone"`
	Amount          float64         `json:"amount" db:"amount"`
	Currency        string          `json:"currency" db:"currency"`
	PaymentDate     time.Time       `json:"payment_date" db:"payment_date"`
	Status          PaymentStatus   `json:"status" db:"status"`
	PaymentSource   string          `json:"payment_source" db:"payment_source"`
	PaymentType     string          `json:"payment_type,omitempty" db:"payment_type"`
	Category        PaymentCategory `json:"payment_category" db:"payment_category"`
	MatchMethod     string          `json:"match_method,omitempty" db:"match_method"`
	MatchConfidence float64         `json:"match_confidence" db:"match_confidence"`

	StripeSessionID      string `json:"stripe_session_id,omitempty" db:"stripe_session_id"`
	StripeCustomerID     string `json:"stripe_customer_id,omitempty" db:"stripe_customer_id"`
	DenefitsContractCode string `json:"denefits_contract_code,omitempty" db:"denefits_contract_code"`

	RawPayload []byte    `json:"-" db:"raw_payload"`
	CreatedAt  time.Time `json:"created_at" db:"created_at"`
}

// IsOrphan reports whether the payment has no linked contact.
func (p *Payment) IsOrphan() bool {
	return p.ContactID == nil || *p.ContactID == ""
}
