// Package report builds, renders and delivers the weekly and monthly funnel
// reports.
package report

import (
	"context"
	"fmt"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/funnel-cli/internal/db"
	"github.com/sells-group/funnel-cli/internal/model"
)

// Activity counts contacts that reached each funnel step inside the window.
type Activity struct {
	Leads         int `json:"leads"`
	Qualified     int `json:"qualified"`
	LinkClicked   int `json:"link_clicked"`
	FormSubmitted int `json:"form_submitted"`
	MeetingHeld   int `json:"meeting_held"`
	Purchased     int `json:"purchased"`
}

// TopAd is an ad ranked by leads in the window.
type TopAd struct {
	AdID  string `json:"ad_id"`
	Name  string `json:"name"`
	Leads int    `json:"leads"`
}

// Traffic splits the window's new contacts by where they came from.
type Traffic struct {
	Chatbot    int `json:"chatbot"`
	LeadMagnet int `json:"lead_magnet"`
	BOF        int `json:"bof"`
	Organic    int `json:"organic"`
}

// Total is the number of classified contacts.
func (t Traffic) Total() int {
	return t.Chatbot + t.LeadMagnet + t.BOF + t.Organic
}

// Weekly is one tenant's report for a seven day window.
type Weekly struct {
	TenantID  string    `json:"tenant_id"`
	Start     time.Time `json:"start"`
	End       time.Time `json:"end"`
	Label     string    `json:"label"`
	Activity  Activity  `json:"activity"`
	Revenue   float64   `json:"revenue"`
	AdSpend   float64   `json:"ad_spend"`
	CPL       float64   `json:"cpl"`
	CPA       float64   `json:"cpa"`
	ROAS      float64   `json:"roas"`
	TopAds    []TopAd   `json:"top_ads"`
	Traffic   Traffic   `json:"traffic"`
	Narrative string    `json:"narrative,omitempty"`
}

// Window returns the report window ending on end's calendar day: from
// midnight six days earlier up to, but excluding, the following midnight.
func Window(end time.Time) (from, until time.Time) {
	y, m, d := end.Date()
	day := time.Date(y, m, d, 0, 0, 0, 0, end.Location())
	return day.AddDate(0, 0, -6), day.AddDate(0, 0, 1)
}

// Label formats a window as "Jan 2-8" or "Jan 29-Feb 4".
func Label(from, until time.Time) string {
	last := until.AddDate(0, 0, -1)
	if from.Month() == last.Month() {
		return fmt.Sprintf("%s %d-%d", from.Format("Jan"), from.Day(), last.Day())
	}
	return fmt.Sprintf("%s %d-%s %d", from.Format("Jan"), from.Day(), last.Format("Jan"), last.Day())
}

func ratio(n, d float64) float64 {
	if d == 0 {
		return 0
	}
	return n / d
}

// Builder computes reports from the database.
type Builder struct {
	q db.Querier
}

// NewBuilder creates a Builder.
func NewBuilder(q db.Querier) *Builder {
	return &Builder{q: q}
}

const activitySQL = `SELECT
	count(*) FILTER (WHERE subscribe_date >= $2 AND subscribe_date < $3),
	count(*) FILTER (WHERE dm_qualified_date >= $2 AND dm_qualified_date < $3),
	count(*) FILTER (WHERE link_click_date >= $2 AND link_click_date < $3),
	count(*) FILTER (WHERE form_submit_date >= $2 AND form_submit_date < $3),
	count(*) FILTER (WHERE appointment_held_date >= $2 AND appointment_held_date < $3),
	count(*) FILTER (WHERE purchase_date >= $2 AND purchase_date < $3)
FROM contacts
WHERE tenant_id = $1 AND coalesce(source, '') <> $4`

const revenueSQL = `SELECT coalesce(sum(amount), 0)::float8 FROM payments
WHERE tenant_id = $1 AND payment_date >= $2 AND payment_date < $3
	AND status IN ('paid', 'active', 'refunded')`

const spendSQL = `SELECT coalesce(sum(spend), 0)::float8 FROM meta_ad_insights
WHERE tenant_id = $1
	AND snapshot_date = (SELECT max(snapshot_date) FROM meta_ad_insights WHERE tenant_id = $1)`

const topAdsSQL = `SELECT c.ad_id, coalesce(a.ad_name, ''), count(*)
FROM contacts c
LEFT JOIN meta_ads a ON a.ad_id = c.ad_id
WHERE c.tenant_id = $1 AND coalesce(c.source, '') <> $4
	AND c.ad_id IS NOT NULL AND c.ad_id <> ''
	AND c.subscribe_date >= $2 AND c.subscribe_date < $3
GROUP BY c.ad_id, a.ad_name
ORDER BY count(*) DESC, c.ad_id ASC
LIMIT 3`

const trafficSQL = `SELECT
	count(*) FILTER (WHERE mc_id IS NOT NULL),
	count(*) FILTER (WHERE mc_id IS NULL AND ad_id = ANY($5)),
	count(*) FILTER (WHERE mc_id IS NULL AND coalesce(ad_id, '') <> '' AND NOT ad_id = ANY($5)),
	count(*) FILTER (WHERE mc_id IS NULL AND coalesce(ad_id, '') = '')
FROM contacts
WHERE tenant_id = $1 AND coalesce(source, '') <> $4
	AND coalesce(subscribe_date, form_submit_date, created_at) >= $2
	AND coalesce(subscribe_date, form_submit_date, created_at) < $3`

// Weekly builds the report for the window ending on end's day. Historical
// Instagram imports are excluded from every contact count.
func (b *Builder) Weekly(ctx context.Context, tenantID string, leadMagnetAdIDs []string, end time.Time) (*Weekly, error) {
	from, until := Window(end)
	return b.Range(ctx, tenantID, leadMagnetAdIDs, from, until)
}

// Range builds the report for [from, until). Ad spend is always the latest
// snapshot, whatever the range.
func (b *Builder) Range(ctx context.Context, tenantID string, leadMagnetAdIDs []string, from, until time.Time) (*Weekly, error) {
	if tenantID == "" {
		return nil, eris.New("report: tenant id is required")
	}
	if !until.After(from) {
		return nil, eris.Errorf("report: empty range %s to %s", from.Format(time.DateOnly), until.Format(time.DateOnly))
	}
	w := &Weekly{
		TenantID: tenantID,
		Start:    from,
		End:      until.Add(-time.Second),
		Label:    Label(from, until),
		TopAds:   []TopAd{},
	}
	excluded := model.SourceInstagramHistorical

	var err error
	if w.Activity, err = b.activity(ctx, tenantID, from, until); err != nil {
		return nil, err
	}
	a := &w.Activity
	if w.Revenue, err = b.revenue(ctx, tenantID, from, until); err != nil {
		return nil, err
	}

	if err := b.q.QueryRow(ctx, spendSQL, tenantID).Scan(&w.AdSpend); err != nil {
		return nil, eris.Wrapf(err, "report: ad spend for %s", tenantID)
	}

	rows, err := b.q.Query(ctx, topAdsSQL, tenantID, from, until, excluded)
	if err != nil {
		return nil, eris.Wrapf(err, "report: top ads for %s", tenantID)
	}
	defer rows.Close()
	for rows.Next() {
		var ad TopAd
		if err := rows.Scan(&ad.AdID, &ad.Name, &ad.Leads); err != nil {
			return nil, eris.Wrap(err, "report: scan top ad")
		}
		if ad.Name == "" {
			ad.Name = "Ad " + ad.AdID
		}
		w.TopAds = append(w.TopAds, ad)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "report: iterate top ads")
	}

	if leadMagnetAdIDs == nil {
		leadMagnetAdIDs = []string{}
	}
	t := &w.Traffic
	if err := b.q.QueryRow(ctx, trafficSQL, tenantID, from, until, excluded, leadMagnetAdIDs).Scan(
		&t.Chatbot, &t.LeadMagnet, &t.BOF, &t.Organic,
	); err != nil {
		return nil, eris.Wrapf(err, "report: traffic for %s", tenantID)
	}

	w.CPL = ratio(w.AdSpend, float64(a.Leads))
	w.CPA = ratio(w.AdSpend, float64(a.Purchased))
	w.ROAS = ratio(w.Revenue, w.AdSpend)

	zap.L().Debug("report: weekly built",
		zap.String("tenant", tenantID),
		zap.String("week", w.Label),
		zap.Int("leads", a.Leads),
		zap.Float64("revenue", w.Revenue),
	)
	return w, nil
}

func (b *Builder) activity(ctx context.Context, tenantID string, from, until time.Time) (Activity, error) {
	var a Activity
	if err := b.q.QueryRow(ctx, activitySQL, tenantID, from, until, model.SourceInstagramHistorical).Scan(
		&a.Leads, &a.Qualified, &a.LinkClicked, &a.FormSubmitted, &a.MeetingHeld, &a.Purchased,
	); err != nil {
		return a, eris.Wrapf(err, "report: activity for %s", tenantID)
	}
	return a, nil
}

func (b *Builder) revenue(ctx context.Context, tenantID string, from, until time.Time) (float64, error) {
	var r float64
	if err := b.q.QueryRow(ctx, revenueSQL, tenantID, from, until).Scan(&r); err != nil {
		return 0, eris.Wrapf(err, "report: revenue for %s", tenantID)
	}
	return r, nil
}
