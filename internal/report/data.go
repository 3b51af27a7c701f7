package report

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
)

// SourceTotal sums the counting payments from one payment source.
type SourceTotal struct {
	Count  int     `json:"count"`
	Amount float64 `json:"amount"`
}

// Rates are the conversion ratios between funnel steps, as fractions.
type Rates struct {
	QualifyRate         float64 `json:"qualify_rate"`
	ShowRate            float64 `json:"show_rate"`
	CloseRate           float64 `json:"close_rate"`
	AttributionCoverage float64 `json:"attribution_coverage"`
}

// Change is the percent change of a week against the one before it. A
// metric that was zero the week before reports 0.
type Change struct {
	Leads     float64 `json:"leads"`
	Purchased float64 `json:"purchased"`
	Revenue   float64 `json:"revenue"`
}

// WeeklyData is the machine-readable weekly report.
type WeeklyData struct {
	WeekEnding string                 `json:"week_ending"`
	Current    *Weekly                `json:"current"`
	Previous   *Weekly                `json:"previous"`
	Rates      Rates                  `json:"rates"`
	Change     Change                 `json:"change"`
	Payments   map[string]SourceTotal `json:"payments"`
}

// LastSunday returns the most recent Sunday on or before t.
func LastSunday(t time.Time) time.Time {
	return t.AddDate(0, 0, -int(t.Weekday()))
}

// RatesFor derives the conversion ratios of w.
func RatesFor(w *Weekly) Rates {
	a := w.Activity
	return Rates{
		QualifyRate:         ratio(float64(a.Qualified), float64(a.Leads)),
		ShowRate:            ratio(float64(a.MeetingHeld), float64(a.FormSubmitted)),
		CloseRate:           ratio(float64(a.Purchased), float64(a.MeetingHeld)),
		AttributionCoverage: ratio(float64(w.Traffic.LeadMagnet+w.Traffic.BOF), float64(w.Traffic.Total())),
	}
}

func pctChange(cur, prev float64) float64 {
	if prev == 0 {
		return 0
	}
	return (cur - prev) / prev * 100
}

// ChangeBetween compares cur against prev.
func ChangeBetween(cur, prev *Weekly) Change {
	return Change{
		Leads:     pctChange(float64(cur.Activity.Leads), float64(prev.Activity.Leads)),
		Purchased: pctChange(float64(cur.Activity.Purchased), float64(prev.Activity.Purchased)),
		Revenue:   pctChange(cur.Revenue, prev.Revenue),
	}
}

const paymentsBySourceSQL = `SELECT coalesce(payment_source, ''), count(*), coalesce(sum(amount), 0)::float8
FROM payments
WHERE tenant_id = $1 AND payment_date >= $2 AND payment_date < $3
	AND status IN ('paid', 'active', 'refunded')
GROUP BY 1
ORDER BY 1`

// PaymentsBySource splits the counting payments in [from, until) by source.
// Stripe and Denefits are always present.
func (b *Builder) PaymentsBySource(ctx context.Context, tenantID string, from, until time.Time) (map[string]SourceTotal, error) {
	out := map[string]SourceTotal{"stripe": {}, "denefits": {}}
	rows, err := b.q.Query(ctx, paymentsBySourceSQL, tenantID, from, until)
	if err != nil {
		return nil, eris.Wrapf(err, "report: payments by source for %s", tenantID)
	}
	defer rows.Close()
	for rows.Next() {
		var src string
		var st SourceTotal
		if err := rows.Scan(&src, &st.Count, &st.Amount); err != nil {
			return nil, eris.Wrap(err, "report: scan payment source")
		}
		out[src] = st
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "report: iterate payment sources")
	}
	return out, nil
}
