package ingest

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"

	"github.com/sells-group/funnel-cli/internal/contact"
	"github.com/sells-group/funnel-cli/internal/model"
	"github.com/sells-group/funnel-cli/internal/payment"
)

// Export formats.
const (
	FormatStripe   = model.PaymentSourceStripe
	FormatDenefits = model.PaymentSourceDenefits
)

// MaxAmount is the largest amount accepted without review.
const MaxAmount = 50000.0

// importNamespace seeds event ids for rows that carry no processor id, so
// reimporting the same export yields the same ids.
var importNamespace = uuid.MustParse("6f1c2a8e-52a4-4c1e-9d83-0b5c7e4a9f21")

// Column aliases seen across processor exports, lowercased.
var (
	emailCols    = []string{"email (metadata)", "customer email", "customer_email", "email", "customer"}
	nameCols     = []string{"customer name", "customer_name", "name", "card name"}
	phoneCols    = []string{"customer phone", "customer_phone", "phone"}
	currencyCols = []string{"currency", "converted currency"}

	stripeAmountCols = []string{"amount", "amount (usd)", "gross", "total"}
	stripeDateCols   = []string{"created", "created (utc)", "created date (utc)", "date", "timestamp"}
	stripeIDCols     = []string{"id", "charge id", "charge_id", "transaction id", "payment intent id"}
	stripeCustCols   = []string{"customer id", "customer_id"}

	denefitsAmountCols = []string{"payment plan amount", "financed amount", "financed_amount", "amount financed", "loan amount", "total"}
	denefitsDateCols   = []string{"payment plan sign up date", "created", "contract date", "date_added", "date", "start date"}
	denefitsIDCols     = []string{"payment plan id", "contract code", "contract_code", "contract id", "contract_id", "id"}
	denefitsStatusCols = []string{"payment plan status", "contract status", "status"}
)

// Stripe export statuses that mean money moved. Failed, canceled,
// incomplete and refunded charges are skipped; refunds arrive as their own
// rows or through the charge.refunded webhook.
var stripeSettled = map[string]bool{
	"paid":      true,
	"succeeded": true,
	"available": true,
}

// Skip records a row that was not imported.
type Skip struct {
	Line   int
	Reason string
}

// Mapped is the result of mapping a table.
type Mapped struct {
	Format string
	Inputs []payment.Input
	Lines  []int
	Skips  []Skip
}

// Map converts each row of t into a payment input for tenantID. format is
// FormatStripe or FormatDenefits. Rows missing an email, amount or date,
// and rows that look wrong, are skipped with a reason. Line numbers are
// 1-based and count the header.
func Map(t *Table, format, tenantID string, now time.Time) (*Mapped, error) {
	var mapRow func(r row) (payment.Input, string)
	switch format {
	case FormatStripe:
		mapRow = mapStripe
	case FormatDenefits:
		mapRow = mapDenefits
	default:
		return nil, eris.Errorf("ingest: unknown format %q", format)
	}

	idx := t.index()
	out := &Mapped{Format: format}
	for i, rec := range t.Rows {
		line := i + 2
		if i < len(t.Lines) {
			line = t.Lines[i]
		}
		r := row{idx: idx, rec: rec}
		in, reason := mapRow(r)
		if reason == "" {
			reason = suspicious(in, now)
		}
		if reason != "" {
			out.Skips = append(out.Skips, Skip{Line: line, Reason: reason})
			continue
		}
		in.TenantID = tenantID
		in.Raw = r.json(t.Header)
		out.Inputs = append(out.Inputs, in)
		out.Lines = append(out.Lines, line)
	}
	return out, nil
}

func mapStripe(r row) (payment.Input, string) {
	// An export without a status column is a balance report: every row settled.
	if status := r.first("status"); status != "" && !stripeSettled[strings.ToLower(status)] {
		return payment.Input{}, "status " + strconv.Quote(status) + " is not paid"
	}
	in, reason := common(r, stripeAmountCols, stripeDateCols)
	if reason != "" {
		return in, reason
	}

	in.Source = model.PaymentSourceImport
	in.StripeCustomerID = r.first(stripeCustCols...)
	kind := strings.ToLower(r.first("type"))

	if strings.Contains(kind, "refund") {
		in.Amount = -math.Abs(in.Amount)
		in.Status = model.PaymentStatusRefunded
		in.Category = model.CategoryRefund
		in.Type = "refund"
	} else {
		if in.Amount < 0 {
			return in, "negative amount on a non-refund row"
		}
		in.Status = model.PaymentStatusPaid
		in.Category = model.CategorizeCheckout(in.Amount)
		in.Type = "buy_in_full"
	}

	in.EventID = r.first(stripeIDCols...)
	if in.EventID == "" {
		in.EventID = derivedID(FormatStripe, in)
	}
	return in, ""
}

func mapDenefits(r row) (payment.Input, string) {
	switch status := r.first(denefitsStatusCols...); strings.ToLower(status) {
	case "cancelled", "canceled":
		return payment.Input{}, "contract status " + strconv.Quote(status)
	}
	in, reason := common(r, denefitsAmountCols, denefitsDateCols)
	if reason != "" {
		return in, reason
	}
	if in.Amount < 0 {
		return in, "negative amount on a financing contract"
	}

	in.Source = model.PaymentSourceImport
	in.Status = model.PaymentStatusActive
	in.Category = model.CategoryBNPL
	in.Type = "buy_now_pay_later"
	in.DenefitsContractCode = r.first(denefitsIDCols...)

	// Webhook rows use the contract code as their event id, so an
	// imported contract that was already delivered is a duplicate.
	in.EventID = in.DenefitsContractCode
	if in.EventID == "" {
		in.EventID = derivedID(FormatDenefits, in)
	}
	return in, ""
}

func common(r row, amountCols, dateCols []string) (payment.Input, string) {
	var in payment.Input

	in.Email = r.email()
	if in.Email == "" {
		return in, "missing email"
	}

	amount, ok := ParseAmount(r.first(amountCols...))
	if !ok || amount == 0 {
		return in, "missing or zero amount"
	}
	in.Amount = amount

	paid, ok := ParseDate(r.first(dateCols...))
	if !ok {
		return in, "missing or unparseable date"
	}
	in.PaidAt = paid

	in.Name = r.first(nameCols...)
	in.Phone = r.first(phoneCols...)
	in.Currency = strings.ToLower(r.first(currencyCols...))
	return in, ""
}

func suspicious(in payment.Input, now time.Time) string {
	switch {
	case in.PaidAt.After(now):
		return "payment date in the future"
	case math.Abs(in.Amount) > MaxAmount:
		return "amount above review threshold"
	}
	return ""
}

func derivedID(format string, in payment.Input) string {
	key := strings.Join([]string{
		format,
		in.Email,
		in.PaidAt.UTC().Format(time.RFC3339),
		strconv.FormatFloat(in.Amount, 'f', 2, 64),
	}, "|")
	return "import_" + uuid.NewSHA1(importNamespace, []byte(key)).String()
}

// ParseAmount parses "1,234.56", "$1234" and similar. It reports false for
// empty or malformed input.
func ParseAmount(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}
	neg := false
	if strings.HasPrefix(s, "(") && strings.HasSuffix(s, ")") {
		neg = true
		s = s[1 : len(s)-1]
	}
	s = strings.Map(func(r rune) rune {
		switch r {
		case '$', ',', '€', '£', '¥', ' ':
			return -1
		}
		return r
	}, s)
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	if neg {
		v = -v
	}
	return v, true
}

var dateLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05 -0700",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	time.DateOnly,
	"1/2/2006 15:04:05",
	"1/2/2006 15:04",
	"1/2/2006 3:04 PM",
	"1/2/2006",
	"1/2/06",
}

// ParseDate tries the layouts found in processor exports. Zone-less values
// are read as UTC.
func ParseDate(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}

type row struct {
	idx map[string]int
	rec []string
}

// first returns the first non-empty value among cols.
func (r row) first(cols ...string) string {
	for _, c := range cols {
		i, ok := r.idx[c]
		if !ok || i >= len(r.rec) {
			continue
		}
		if v := r.rec[i]; v != "" {
			return v
		}
	}
	return ""
}

// email returns the first column value that looks like an address. Stripe's
// "Customer" column holds either an email or a customer id.
func (r row) email() string {
	for _, c := range emailCols {
		i, ok := r.idx[c]
		if !ok || i >= len(r.rec) {
			continue
		}
		v := contact.NormalizeEmail(r.rec[i])
		if strings.Contains(v, "@") && strings.Contains(v, ".") {
			return v
		}
	}
	return ""
}

func (r row) json(header []string) []byte {
	m := make(map[string]string, len(header))
	for i, h := range header {
		if i < len(r.rec) && h != "" {
			m[h] = r.rec[i]
		}
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil
	}
	return b
}
